package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pithecene-io/voxlink/adapter"
	"github.com/pithecene-io/voxlink/adapter/redis"
	"github.com/pithecene-io/voxlink/adapter/webhook"
	"github.com/pithecene-io/voxlink/attachment"
	"github.com/pithecene-io/voxlink/lode"
	"github.com/pithecene-io/voxlink/log"
	"github.com/pithecene-io/voxlink/metrics"
	"github.com/pithecene-io/voxlink/mimeparse"
	"github.com/pithecene-io/voxlink/policy"
	"github.com/pithecene-io/voxlink/streamlog"
	"github.com/pithecene-io/voxlink/transport"
	"github.com/pithecene-io/voxlink/types"
)

// buildLogger returns the session logger. quiet discards output unless a
// log file was given.
func buildLogger(s *settings, meta *types.SessionMeta, quiet bool) (*log.Logger, io.Closer, error) {
	logger := log.NewLoggerAtLevel(meta, s.logLevel)
	if s.logFile != "" {
		f, err := os.OpenFile(s.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		return logger.WithOutput(f), f, nil
	}
	if quiet {
		return logger.WithOutput(io.Discard), nopCloser{}, nil
	}
	return logger, nopCloser{}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// buildArchive returns the lode client for s, or nil when no storage path
// is configured.
func buildArchive(ctx context.Context, s *settings, meta *types.SessionMeta, start time.Time) (lode.Client, error) {
	if s.storage.Path == "" {
		return nil, nil
	}
	cfg := lode.Config{
		Dataset:   s.storage.Dataset,
		Source:    s.source,
		Day:       lode.DeriveDay(start),
		SessionID: meta.SessionID,
	}
	switch s.storage.Backend {
	case "fs", "":
		return lode.NewLodeClient(cfg, s.storage.Path)
	case "s3":
		return lode.NewLodeS3Client(ctx, cfg, s.s3Config())
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (must be fs or s3)", s.storage.Backend)
	}
}

func (s *settings) s3Config() lode.S3Config {
	bucket, prefix := lode.ParseS3Path(s.storage.Path)
	return lode.S3Config{
		Bucket:       bucket,
		Prefix:       prefix,
		Region:       s.storage.Region,
		Endpoint:     s.storage.Endpoint,
		UsePathStyle: s.storage.S3PathStyle,
	}
}

// buildAdapter returns the configured publisher, or nil when none is set.
func buildAdapter(s *settings) (adapter.Adapter, error) {
	retries := -1
	if s.adapter.Retries != nil {
		retries = *s.adapter.Retries
	}
	switch s.adapter.Type {
	case "":
		return nil, nil
	case "webhook":
		cfg := webhook.Config{
			URL:     s.adapter.URL,
			Headers: s.adapter.Headers,
			Timeout: s.adapter.Timeout.Duration,
			Retries: webhook.DefaultRetries,
		}
		if retries >= 0 {
			cfg.Retries = retries
		}
		return webhook.New(cfg)
	case "redis":
		cfg := redis.Config{
			URL:     s.adapter.URL,
			Channel: s.adapter.Channel,
			Timeout: s.adapter.Timeout.Duration,
			Retries: redis.DefaultRetries,
		}
		if retries >= 0 {
			cfg.Retries = retries
		}
		return redis.New(cfg)
	default:
		return nil, fmt.Errorf("unknown adapter: %s (must be webhook or redis)", s.adapter.Type)
	}
}

// buildSinks assembles the sinks directives flow into: the archive, counted
// by collector, then the publisher.
func buildSinks(archive lode.Client, pub adapter.Adapter, sessionID string, collector *metrics.Collector) policy.Sink {
	var tee adapter.Tee
	if archive != nil {
		tee = append(tee, lode.NewInstrumentedSink(lode.NewSink(archive), collector))
	}
	if pub != nil {
		tee = append(tee, adapter.NewSink(pub, sessionID))
	}
	return tee
}

// buildPolicy creates the forwarding policy named in s.
func buildPolicy(s *settings, sink policy.Sink, logger *log.Logger) (policy.Policy, error) {
	switch s.policyLabel() {
	case "strict":
		return policy.NewStrictPolicy(sink), nil
	case "streaming":
		return policy.NewStreamingPolicy(sink, policy.StreamingConfig{
			FlushCount:    s.policy.FlushCount,
			FlushInterval: s.policy.FlushInterval.Duration,
			Logger:        logger,
		})
	case "noop":
		// Nothing is ever written; release the sinks now.
		_ = sink.Close()
		return policy.NewNoopPolicy(), nil
	default:
		return nil, fmt.Errorf("unknown policy: %s (must be strict, streaming or noop)", s.policy.Name)
	}
}

// connection is one wired session and the parts the commands shut down.
type connection struct {
	session *transport.Session
	engine  *transport.H2Engine
	pool    *transport.Pool
}

// connect wires engine, pool and session. Attachments are announced to
// observer; directives go to consumer.
func connect(s *settings, meta *types.SessionMeta, attachments *attachment.Manager, consumer mimeparse.MessageConsumer,
	observer mimeparse.AttachmentObserver, logger *log.Logger, collector *metrics.Collector) (*connection, error) {
	var recorder *streamlog.Recorder
	if s.streamLogDir != "" {
		r, err := streamlog.NewRecorder(s.streamLogDir, meta.SessionID, logger)
		if err != nil {
			return nil, err
		}
		recorder = r
	}

	engine := transport.NewH2Engine(transport.WithEngineLogger(logger))
	pool, err := transport.NewPool(s.maxStreams, engine, attachments,
		transport.WithPoolLogger(logger),
		transport.WithPoolMetrics(collector),
		transport.WithStreamRecorder(recorder),
		transport.WithAttachmentObserver(observer),
	)
	if err != nil {
		_ = engine.Close()
		return nil, err
	}
	session, err := transport.NewSession(s.sessionConfig(), pool, transport.StaticToken(s.token), consumer,
		transport.WithSessionLogger(logger),
		transport.WithSessionMetrics(collector),
	)
	if err != nil {
		_ = engine.Close()
		return nil, err
	}
	return &connection{session: session, engine: engine, pool: pool}, nil
}

// Close disconnects and releases the engine.
func (c *connection) Close() error {
	c.session.Disconnect()
	return c.engine.Close()
}
