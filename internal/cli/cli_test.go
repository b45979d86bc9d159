package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/druarnfield/composer-trigger/internal/config"
	"github.com/druarnfield/composer-trigger/internal/trigger"
)

type countingTransport struct {
	calls  int
	status int
	auth   string
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.calls++
	c.auth = req.Header.Get("Authorization")
	return &http.Response{
		StatusCode: c.status,
		Body:       io.NopCloser(strings.NewReader(`{"message":"ok"}`)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// run executes the root command with a fixed environment and returns stdout.
func run(t *testing.T, env map[string]string, rt http.RoundTripper, args ...string) (string, error) {
	t.Helper()

	lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	transport = rt
	t.Cleanup(func() {
		lookupEnv = os.LookupEnv
		transport = nil
	})

	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	// Keep tests away from any composer_trigger.toml in the working directory
	root.SetArgs(append([]string{"--project-dir", t.TempDir()}, args...))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

var fullEnv = map[string]string{
	config.EnvWebserverID: "abc",
	config.EnvDAGName:     "my_dag",
	config.EnvClientID:    "123-abc.apps.googleusercontent.com",
}

func TestValidateCmd(t *testing.T) {
	out, err := run(t, fullEnv, nil, "validate")
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	if !strings.Contains(out, "https://abc.appspot.com/api/experimental/dags/my_dag/dag_runs") {
		t.Errorf("output = %q, want endpoint", out)
	}
}

func TestValidateCmd_Missing(t *testing.T) {
	_, err := run(t, map[string]string{config.EnvDAGName: "my_dag"}, nil, "validate")
	if !errors.Is(err, config.ErrMissing) {
		t.Fatalf("validate error = %v, want ErrMissing", err)
	}
	for _, key := range []string{config.EnvWebserverID, config.EnvClientID} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error = %q, want it to mention %s", err, key)
		}
	}
}

func TestValidateCmd_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.toml")
	content := "[composer]\nwebserver_id = \"fromfile\"\ndag_name = \"file_dag\"\nclient_id = \"id\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, nil, nil, "--config", path, "validate")
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	if !strings.Contains(out, "https://fromfile.appspot.com/api/experimental/dags/file_dag/dag_runs") {
		t.Errorf("output = %q, want endpoint from file", out)
	}
}

func TestFireCmd(t *testing.T) {
	rt := &countingTransport{status: http.StatusOK}
	out, err := run(t, fullEnv, rt, "fire", "--token", "tok", "landing", "in/data.csv")
	if err != nil {
		t.Fatalf("fire error: %v", err)
	}
	if rt.calls != 1 {
		t.Errorf("transport calls = %d, want 1", rt.calls)
	}
	if rt.auth != "Bearer tok" {
		t.Errorf("Authorization = %q, want %q", rt.auth, "Bearer tok")
	}

	var res trigger.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output %q is not a result: %v", out, err)
	}
	if !res.OK || res.Outcome != trigger.OutcomeTriggered {
		t.Errorf("result = %+v, want triggered", res)
	}
}

func TestFireCmd_RejectedExitsZero(t *testing.T) {
	rt := &countingTransport{status: http.StatusBadRequest}
	out, err := run(t, fullEnv, rt, "fire", "--token", "tok", "landing", "in/data.csv")
	if err != nil {
		t.Fatalf("fire error = %v, want nil for rejected request", err)
	}
	if !strings.Contains(out, string(trigger.OutcomeRejected)) {
		t.Errorf("output = %q, want rejected outcome", out)
	}
}

func TestFireCmd_MissingConfigMakesNoCalls(t *testing.T) {
	rt := &countingTransport{status: http.StatusOK}
	_, err := run(t, map[string]string{config.EnvWebserverID: "abc"}, rt, "fire", "--token", "tok", "b", "o")
	if !errors.Is(err, config.ErrMissing) {
		t.Fatalf("fire error = %v, want ErrMissing", err)
	}
	if rt.calls != 0 {
		t.Errorf("transport calls = %d, want 0", rt.calls)
	}
}

func TestFireCmd_Args(t *testing.T) {
	if _, err := run(t, fullEnv, nil, "fire", "only-bucket"); err == nil {
		t.Error("fire with one argument expected error, got nil")
	}
}

func TestServeCmd_MissingConfig(t *testing.T) {
	_, err := run(t, nil, nil, "serve", "--listen", "127.0.0.1:0")
	if !errors.Is(err, config.ErrMissing) {
		t.Errorf("serve error = %v, want ErrMissing", err)
	}
}
