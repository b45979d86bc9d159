package secrets

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"github.com/BurntSushi/toml"
)

// CredentialsKey holds a service account key (JSON) used instead of the
// ambient identity.
const CredentialsKey = "credentials_json"

// Store holds secrets parsed from a TOML file, organised by section.
// Resolution checks the DAG-scoped section first, then falls back to [global].
type Store struct {
	data map[string]map[string]string
}

// Load parses a TOML secrets file and returns a Store.
// If path is empty, returns nil (secrets are optional).
// Files ending in .age are decrypted with the identities in identityPath.
func Load(path, identityPath string) (*Store, error) {
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading secrets file %q: %w", path, err)
	}

	if strings.HasSuffix(path, ".age") {
		raw, err = decrypt(raw, identityPath)
		if err != nil {
			return nil, fmt.Errorf("decrypting secrets file %q: %w", path, err)
		}
	}

	var data map[string]map[string]string
	if err := toml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parsing secrets file %q: %w", path, err)
	}

	return &Store{data: data}, nil
}

func decrypt(ciphertext []byte, identityPath string) ([]byte, error) {
	if identityPath == "" {
		return nil, fmt.Errorf("no age identity file configured")
	}
	f, err := os.Open(identityPath)
	if err != nil {
		return nil, fmt.Errorf("opening identity file: %w", err)
	}
	defer f.Close()

	identities, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parsing identity file %q: %w", identityPath, err)
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), identities...)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// Resolve looks up a secret by key, checking the DAG-scoped section first
// then falling back to the [global] section.
func (s *Store) Resolve(dag, key string) (string, error) {
	if section, ok := s.data[dag]; ok {
		if val, ok := section[key]; ok {
			return val, nil
		}
	}
	if section, ok := s.data["global"]; ok {
		if val, ok := section[key]; ok {
			return val, nil
		}
	}
	return "", fmt.Errorf("secret %q not found for DAG %q", key, dag)
}

// Credentials returns the service account key for dag, or nil if none is
// stored. A nil Store has no credentials.
func (s *Store) Credentials(dag string) []byte {
	if s == nil {
		return nil
	}
	val, err := s.Resolve(dag, CredentialsKey)
	if err != nil || val == "" {
		return nil
	}
	return []byte(val)
}
