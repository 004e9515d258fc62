package config

import (
	"fmt"
	"slices"
	"time"
)

// Config is a voxlink.yaml file. Every value is optional and acts as a
// default for command flags; flags always win.
type Config struct {
	Endpoint      string          `yaml:"endpoint"`
	Token         string          `yaml:"token"`
	Source        string          `yaml:"source"`
	MaxStreams    int             `yaml:"max_streams"`
	AutoReconnect *bool           `yaml:"auto_reconnect,omitempty"`
	LogLevel      string          `yaml:"log_level"`
	Timeouts      TimeoutsConfig  `yaml:"timeouts"`
	StreamLog     StreamLogConfig `yaml:"stream_log"`
	Storage       StorageConfig   `yaml:"storage"`
	Policy        PolicyConfig    `yaml:"policy"`
	Adapter       AdapterConfig   `yaml:"adapter"`
}

// TimeoutsConfig overrides the session timeouts.
type TimeoutsConfig struct {
	Connect        Duration `yaml:"connect"`
	StreamProgress Duration `yaml:"stream_progress"`
	PingInactivity Duration `yaml:"ping_inactivity"`
	PingResponse   Duration `yaml:"ping_response"`
}

// StreamLogConfig enables per-stream byte dumps.
type StreamLogConfig struct {
	Dir string `yaml:"dir"`
}

// StorageConfig selects the archive backend.
type StorageConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// PolicyConfig selects the forwarding policy.
type PolicyConfig struct {
	Name          string   `yaml:"name"`
	FlushCount    int      `yaml:"flush_count"`
	FlushInterval Duration `yaml:"flush_interval"`
}

// AdapterConfig configures directive fan-out.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML strings like "10s" or "5m30s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string. Empty leaves the zero value.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: negative", s)
	}
	d.Duration = parsed
	return nil
}

// Accepted enum values.
var (
	PolicyNames     = []string{"strict", "streaming", "noop"}
	StorageBackends = []string{"fs", "s3"}
	AdapterTypes    = []string{"webhook", "redis"}
)

// Validate checks enum values and required pairs. Empty values are left to
// flag defaults.
func (c *Config) Validate() error {
	if c.MaxStreams < 0 {
		return fmt.Errorf("max_streams must be >= 0, got %d", c.MaxStreams)
	}
	if c.Policy.Name != "" && !slices.Contains(PolicyNames, c.Policy.Name) {
		return fmt.Errorf("unknown policy %q (want one of %v)", c.Policy.Name, PolicyNames)
	}
	if c.Policy.FlushCount < 0 {
		return fmt.Errorf("policy.flush_count must be >= 0, got %d", c.Policy.FlushCount)
	}
	if c.Storage.Backend != "" && !slices.Contains(StorageBackends, c.Storage.Backend) {
		return fmt.Errorf("unknown storage backend %q (want one of %v)", c.Storage.Backend, StorageBackends)
	}
	if c.Adapter.Type != "" {
		if !slices.Contains(AdapterTypes, c.Adapter.Type) {
			return fmt.Errorf("unknown adapter type %q (want one of %v)", c.Adapter.Type, AdapterTypes)
		}
		if c.Adapter.URL == "" {
			return fmt.Errorf("adapter %s requires url", c.Adapter.Type)
		}
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		return fmt.Errorf("adapter.retries must be >= 0, got %d", *c.Adapter.Retries)
	}
	return nil
}
