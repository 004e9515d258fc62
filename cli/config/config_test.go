package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_FullConfig(t *testing.T) {
	yaml := `endpoint: https://voice.example.com
token: tok-abc
source: kitchen
max_streams: 5
auto_reconnect: false
log_level: debug

timeouts:
  connect: 15s
  stream_progress: 1m
  ping_inactivity: 5m
  ping_response: 30s

stream_log:
  dir: /tmp/voxlink-streams

storage:
  dataset: voxlink
  backend: s3
  path: my-bucket/prefix
  region: us-east-1
  endpoint: https://s3.example.com
  s3_path_style: true

policy:
  name: streaming
  flush_count: 50
  flush_interval: 2s

adapter:
  type: webhook
  url: https://hooks.example.com/voxlink
  headers:
    Authorization: Bearer token123
  timeout: 10s
  retries: 3
`
	cfg, err := Load(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "endpoint", cfg.Endpoint, "https://voice.example.com")
	assertEqual(t, "token", cfg.Token, "tok-abc")
	assertEqual(t, "source", cfg.Source, "kitchen")
	assertEqual(t, "log_level", cfg.LogLevel, "debug")
	if cfg.MaxStreams != 5 {
		t.Errorf("max_streams = %d, want 5", cfg.MaxStreams)
	}
	if cfg.AutoReconnect == nil || *cfg.AutoReconnect {
		t.Errorf("auto_reconnect = %v, want explicit false", cfg.AutoReconnect)
	}

	durations := []struct {
		field string
		got   time.Duration
		want  time.Duration
	}{
		{"timeouts.connect", cfg.Timeouts.Connect.Duration, 15 * time.Second},
		{"timeouts.stream_progress", cfg.Timeouts.StreamProgress.Duration, time.Minute},
		{"timeouts.ping_inactivity", cfg.Timeouts.PingInactivity.Duration, 5 * time.Minute},
		{"timeouts.ping_response", cfg.Timeouts.PingResponse.Duration, 30 * time.Second},
		{"policy.flush_interval", cfg.Policy.FlushInterval.Duration, 2 * time.Second},
		{"adapter.timeout", cfg.Adapter.Timeout.Duration, 10 * time.Second},
	}
	for _, d := range durations {
		if d.got != d.want {
			t.Errorf("%s = %v, want %v", d.field, d.got, d.want)
		}
	}

	assertEqual(t, "stream_log.dir", cfg.StreamLog.Dir, "/tmp/voxlink-streams")

	assertEqual(t, "storage.dataset", cfg.Storage.Dataset, "voxlink")
	assertEqual(t, "storage.backend", cfg.Storage.Backend, "s3")
	assertEqual(t, "storage.path", cfg.Storage.Path, "my-bucket/prefix")
	assertEqual(t, "storage.region", cfg.Storage.Region, "us-east-1")
	assertEqual(t, "storage.endpoint", cfg.Storage.Endpoint, "https://s3.example.com")
	if !cfg.Storage.S3PathStyle {
		t.Error("storage.s3_path_style = false, want true")
	}

	assertEqual(t, "policy.name", cfg.Policy.Name, "streaming")
	if cfg.Policy.FlushCount != 50 {
		t.Errorf("policy.flush_count = %d, want 50", cfg.Policy.FlushCount)
	}

	assertEqual(t, "adapter.type", cfg.Adapter.Type, "webhook")
	assertEqual(t, "adapter.url", cfg.Adapter.URL, "https://hooks.example.com/voxlink")
	if cfg.Adapter.Retries == nil || *cfg.Adapter.Retries != 3 {
		t.Error("adapter.retries != 3")
	}
	assertEqual(t, "adapter.headers.Authorization", cfg.Adapter.Headers["Authorization"], "Bearer token123")
}

func TestLoad_EmptyConfigs(t *testing.T) {
	for name, content := range map[string]string{
		"empty":      "",
		"whitespace": "   \n\n  \n",
		"comments":   "# nothing here\n# endpoint: x\n",
	} {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(writeTemp(t, content))
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.Endpoint != "" || cfg.AutoReconnect != nil || cfg.Adapter.Retries != nil {
				t.Errorf("expected zero config, got %+v", cfg)
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/voxlink.yaml")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("Load error = %v, want not found", err)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("VOXLINK_TEST_TOKEN", "from-env")

	cfg, err := Load(writeTemp(t, "token: ${VOXLINK_TEST_TOKEN}\nendpoint: ${VOXLINK_UNSET_12345:-https://default.example.com}\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "token", cfg.Token, "from-env")
	assertEqual(t, "endpoint", cfg.Endpoint, "https://default.example.com")
}

func TestLoad_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"invalid yaml", "{{invalid yaml", "invalid YAML"},
		{"unknown key", "endpoint: x\nbogus: 1\n", "bogus"},
		{"unknown nested key", "policy:\n  name: strict\n  flush_mode: x\n", "flush_mode"},
		{"bad duration", "timeouts:\n  connect: soon\n", "invalid duration"},
		{"negative duration", "timeouts:\n  connect: -1s\n", "negative"},
		{"unknown policy", "policy:\n  name: buffered\n", "unknown policy"},
		{"negative flush count", "policy:\n  flush_count: -1\n", "flush_count"},
		{"unknown backend", "storage:\n  backend: gcs\n", "unknown storage backend"},
		{"unknown adapter", "adapter:\n  type: kafka\n  url: x\n", "unknown adapter type"},
		{"adapter without url", "adapter:\n  type: redis\n", "requires url"},
		{"negative retries", "adapter:\n  type: webhook\n  url: http://x\n  retries: -2\n", "retries"},
		{"negative max streams", "max_streams: -1\n", "max_streams"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTemp(t, tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_RetriesZeroDistinctFromNil(t *testing.T) {
	cfg, err := Load(writeTemp(t, "adapter:\n  type: redis\n  url: redis://localhost:6379\n  retries: 0\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Adapter.Retries == nil {
		t.Fatal("retries: 0 decoded as nil")
	}
	if *cfg.Adapter.Retries != 0 {
		t.Errorf("retries = %d, want 0", *cfg.Adapter.Retries)
	}
	assertEqual(t, "adapter.channel", cfg.Adapter.Channel, "")
}

func TestDuration_EmptyIsZero(t *testing.T) {
	cfg, err := Load(writeTemp(t, "policy:\n  flush_interval: \"\"\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Policy.FlushInterval.Duration != 0 {
		t.Errorf("flush_interval = %v, want 0", cfg.Policy.FlushInterval.Duration)
	}
}

// writeTemp writes content to a temp file and returns the path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxlink.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}
