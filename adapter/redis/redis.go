// Package redis publishes forwarded records as JSON on a Redis pub/sub
// channel.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/voxlink/adapter"
)

// DefaultChannel is the default pub/sub channel.
const DefaultChannel = "voxlink:directives"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retries.
const DefaultRetries = 3

// Config configures the adapter.
type Config struct {
	// URL is required: redis://[:password@]host:port[/db].
	URL string
	// Channel defaults to DefaultChannel.
	Channel string
	// Timeout bounds each PUBLISH.
	Timeout time.Duration
	// Retries is the number of retries after the first attempt.
	Retries int
}

// Adapter publishes events via PUBLISH.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New validates cfg and creates the client. No connection is made until
// the first publish.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	return &Adapter{config: cfg, client: goredis.NewClient(opts)}, nil
}

// Publish sends event as JSON, retrying with backoff.
func (a *Adapter) Publish(ctx context.Context, event *adapter.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	return adapter.Retry(ctx, "redis", a.config.Retries, func(ctx context.Context) error {
		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		return a.client.Publish(publishCtx, a.config.Channel, body).Err()
	}, nil)
}

// Close closes the client.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
