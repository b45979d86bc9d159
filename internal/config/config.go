package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the optional config file looked up in the project directory.
const FileName = "composer_trigger.toml"

// Environment variable names.
const (
	EnvWebserverID = "WEBSERVER_ID"
	EnvDAGName     = "DAG_NAME"
	EnvClientID    = "CLIENT_ID"
	EnvTimeout     = "TRIGGER_TIMEOUT"
	EnvPort        = "PORT"
)

// Defaults applied when neither the file nor the environment set a value.
const (
	DefaultTimeout = 30 * time.Second
	DefaultListen  = ":8080"
)

// ErrMissing is returned when a required setting is empty.
var ErrMissing = errors.New("missing required configuration")

// Duration wraps time.Duration for TOML unmarshalling.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

// TriggerConfig identifies the DAG to trigger and the proxy audience.
// It is built once at startup and never mutated afterwards.
type TriggerConfig struct {
	WebserverID string `toml:"webserver_id"`
	DAGName     string `toml:"dag_name"`
	ClientID    string `toml:"client_id"`
}

// Validate reports every empty required field in one error wrapping ErrMissing.
func (c TriggerConfig) Validate() error {
	var missing []string
	if c.WebserverID == "" {
		missing = append(missing, EnvWebserverID)
	}
	if c.DAGName == "" {
		missing = append(missing, EnvDAGName)
	}
	if c.ClientID == "" {
		missing = append(missing, EnvClientID)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s not set", ErrMissing, strings.Join(missing, ", "))
	}
	return nil
}

// HTTPConfig holds outbound and listener settings.
type HTTPConfig struct {
	Timeout Duration `toml:"timeout"`
	Listen  string   `toml:"listen"`
}

// SecretsConfig points at an optional secrets file and its age identity.
type SecretsConfig struct {
	Path     string `toml:"path"`
	Identity string `toml:"identity"`
}

// Config is the top-level structure parsed from composer_trigger.toml.
type Config struct {
	Composer TriggerConfig `toml:"composer"`
	HTTP     HTTPConfig    `toml:"http"`
	Secrets  SecretsConfig `toml:"secrets"`
	path     string
}

// Path returns the filesystem path this config was loaded from, or "" when
// the config came from the environment alone.
func (c *Config) Path() string {
	return c.path
}

// Timeout returns the configured outbound timeout or DefaultTimeout.
func (c *Config) Timeout() time.Duration {
	if c.HTTP.Timeout.Duration > 0 {
		return c.HTTP.Timeout.Duration
	}
	return DefaultTimeout
}

// Listen returns the listener address or DefaultListen.
func (c *Config) Listen() string {
	if c.HTTP.Listen != "" {
		return c.HTTP.Listen
	}
	return DefaultListen
}

// Load parses a config file. Returns nil, nil if the file doesn't exist
// (the file is optional; the environment may carry everything).
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path %q: %w", path, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %q: %w", absPath, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %q: %w", absPath, err)
	}

	// Relative secrets paths are relative to the config file
	dir := filepath.Dir(absPath)
	if cfg.Secrets.Path != "" && !filepath.IsAbs(cfg.Secrets.Path) {
		cfg.Secrets.Path = filepath.Join(dir, cfg.Secrets.Path)
	}
	if cfg.Secrets.Identity != "" && !filepath.IsAbs(cfg.Secrets.Identity) {
		cfg.Secrets.Identity = filepath.Join(dir, cfg.Secrets.Identity)
	}

	cfg.path = absPath
	return &cfg, nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment values onto cfg. Set variables win over
// file values; unset or empty variables leave the file value in place.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&c.Composer.WebserverID, EnvWebserverID)
	set(&c.Composer.DAGName, EnvDAGName)
	set(&c.Composer.ClientID, EnvClientID)

	if v, ok := lookup(EnvTimeout); ok && v != "" {
		if err := c.HTTP.Timeout.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%s: %w", EnvTimeout, err)
		}
	}
	if v, ok := lookup(EnvPort); ok && v != "" {
		c.HTTP.Listen = ":" + v
	}
	return nil
}

// Resolve loads the optional file at path and overlays the environment.
// The returned config is never nil; it is not validated.
func Resolve(path string, lookup LookupFunc) (*Config, error) {
	var cfg *Config
	if path != "" {
		var err error
		cfg, err = Load(path)
		if err != nil {
			return nil, err
		}
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}
