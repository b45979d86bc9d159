package trigger

import (
	"context"
	"encoding/json"
	"errors"
)

// Error classes returned by DagTrigger.Handle. Transport failures and
// upstream rejections are never returned; they are reported in Result.
var (
	ErrConfig       = errors.New("configuration error")
	ErrCredential   = errors.New("credential error")
	ErrRequestBuild = errors.New("request build error")
)

// StorageEvent describes the object whose change fired the trigger.
// JSON tags follow the Cloud Storage object resource.
type StorageEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// Payload is the dag_runs request body. Field names are fixed by the
// Airflow experimental API and the DAGs that read them.
type Payload struct {
	Conf RunConf `json:"conf"`
}

// RunConf is passed to the DAG run as dag_run.conf.
type RunConf struct {
	BucketName string `json:"bucketName"`
	FilePath   string `json:"filePath"`
}

// NewPayload builds the request body for ev.
func NewPayload(ev StorageEvent) Payload {
	return Payload{Conf: RunConf{BucketName: ev.Bucket, FilePath: ev.Name}}
}

// Marshal encodes the payload as JSON.
func (p Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// TokenProvider produces a bearer token for the given audience.
type TokenProvider interface {
	Token(ctx context.Context, audience string) (string, error)
}

// Handler runs one trigger invocation per storage event.
type Handler interface {
	Handle(ctx context.Context, ev StorageEvent) (Result, error)
}

// Outcome labels a completed invocation.
type Outcome string

const (
	OutcomeTriggered Outcome = "triggered"
	OutcomeRejected  Outcome = "rejected"
	OutcomeTransport Outcome = "transport_error"
	OutcomeFailed    Outcome = "failed"
)

// Result is the observable outcome of an invocation. StatusCode and Body are
// zero when no response was received.
type Result struct {
	OK         bool    `json:"ok"`
	Outcome    Outcome `json:"outcome"`
	StatusCode int     `json:"statusCode,omitempty"`
	Body       string  `json:"body,omitempty"`
	Error      string  `json:"error,omitempty"`
}
