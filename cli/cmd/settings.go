package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/voxlink/cli/config"
	"github.com/pithecene-io/voxlink/transport"
)

// settings are the effective values for one command: flags over
// voxlink.yaml over flag defaults.
type settings struct {
	endpoint      string
	token         string
	source        string
	maxStreams    int
	autoReconnect bool
	logLevel      string
	logFile       string
	streamLogDir  string
	timeouts      config.TimeoutsConfig
	storage       config.StorageConfig
	policy        config.PolicyConfig
	adapter       config.AdapterConfig
}

// loadSettings reads --config, if any, and applies the command's flags.
// Flags a command does not define are left at their config values.
func loadSettings(c *cli.Context) (*settings, error) {
	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	s := &settings{
		endpoint:     cfg.Endpoint,
		token:        cfg.Token,
		source:       cfg.Source,
		maxStreams:   cfg.MaxStreams,
		logLevel:     cfg.LogLevel,
		streamLogDir: cfg.StreamLog.Dir,
		timeouts:     cfg.Timeouts,
		storage:      cfg.Storage,
		policy:       cfg.Policy,
		adapter:      cfg.Adapter,
	}
	s.autoReconnect = cfg.AutoReconnect == nil || *cfg.AutoReconnect

	defined := map[string]bool{}
	if c.Command != nil {
		for _, f := range c.Command.Flags {
			for _, n := range f.Names() {
				defined[n] = true
			}
		}
	}
	has := func(name string) bool { return defined[name] }
	str := func(name string, dst *string) {
		if has(name) && (c.IsSet(name) || *dst == "") {
			*dst = c.String(name)
		}
	}
	num := func(name string, dst *int) {
		if has(name) && (c.IsSet(name) || *dst == 0) {
			*dst = c.Int(name)
		}
	}
	dur := func(name string, dst *config.Duration) {
		if has(name) && (c.IsSet(name) || dst.Duration == 0) {
			dst.Duration = c.Duration(name)
		}
	}

	str("endpoint", &s.endpoint)
	str("token", &s.token)
	str("source", &s.source)
	num("max-streams", &s.maxStreams)
	dur("connect-timeout", &s.timeouts.Connect)
	str("stream-log-dir", &s.streamLogDir)
	str("log-level", &s.logLevel)
	str("log-file", &s.logFile)
	if has("no-reconnect") && c.IsSet("no-reconnect") {
		s.autoReconnect = !c.Bool("no-reconnect")
	}

	str("storage-dataset", &s.storage.Dataset)
	str("storage-backend", &s.storage.Backend)
	str("storage-path", &s.storage.Path)
	str("storage-region", &s.storage.Region)
	str("storage-endpoint", &s.storage.Endpoint)
	if has("storage-s3-path-style") && c.IsSet("storage-s3-path-style") {
		s.storage.S3PathStyle = c.Bool("storage-s3-path-style")
	}

	str("policy", &s.policy.Name)
	num("flush-count", &s.policy.FlushCount)
	dur("flush-interval", &s.policy.FlushInterval)
	str("adapter", &s.adapter.Type)
	str("adapter-url", &s.adapter.URL)
	str("adapter-channel", &s.adapter.Channel)

	if s.maxStreams < 0 {
		return nil, fmt.Errorf("--max-streams must be >= 0, got %d", s.maxStreams)
	}
	return s, nil
}

// requireConnection checks the values every connecting command needs.
func (s *settings) requireConnection() error {
	var errs []error
	if s.endpoint == "" {
		errs = append(errs, errors.New("an endpoint is required (--endpoint, VOXLINK_ENDPOINT or endpoint:)"))
	}
	if s.token == "" {
		errs = append(errs, errors.New("a token is required (--token, VOXLINK_TOKEN or token:)"))
	}
	return errors.Join(errs...)
}

// sessionConfig maps settings onto the transport's session config. Zero
// durations select the transport defaults.
func (s *settings) sessionConfig() transport.Config {
	return transport.Config{
		Endpoint:              s.endpoint,
		ConnectTimeout:        s.timeouts.Connect.Duration,
		StreamProgressTimeout: s.timeouts.StreamProgress.Duration,
		PingInactivity:        s.timeouts.PingInactivity.Duration,
		PingTimeout:           s.timeouts.PingResponse.Duration,
		AutoReconnect:         s.autoReconnect,
	}
}

// storageLabel names the backend for metrics dimensions.
func (s *settings) storageLabel() string {
	if s.storage.Path == "" {
		return "none"
	}
	return s.storage.Backend
}

// policyLabel names the policy for metrics dimensions.
func (s *settings) policyLabel() string {
	if s.policy.Name == "" {
		return "strict"
	}
	return s.policy.Name
}

// connectWait bounds how long one-shot commands wait for the downchannel.
func (s *settings) connectWait() time.Duration {
	if d := s.timeouts.Connect.Duration; d > 0 {
		return d
	}
	return transport.DefaultConnectTimeout
}
