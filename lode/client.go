package lode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/voxlink/metrics"
	"github.com/pithecene-io/voxlink/types"
)

// LodeClient is the Lode-backed Client.
type LodeClient struct {
	dataset      lode.Dataset
	config       Config
	storeFactory lode.StoreFactory

	storeOnce sync.Once
	store     lode.Store
	storeErr  error

	mu  sync.Mutex // serializes writes and guards seq
	seq int64
}

// NewLodeClient creates a client with filesystem storage under root.
func NewLodeClient(cfg Config, root string) (*LodeClient, error) {
	return NewLodeClientWithFactory(cfg, lode.NewFSFactory(root))
}

// NewLodeClientWithFactory creates a client over a custom store factory.
// Tests use lode.NewMemoryFactory().
func NewLodeClientWithFactory(cfg Config, factory lode.StoreFactory) (*LodeClient, error) {
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}
	ds, err := NewReadDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return &LodeClient{dataset: ds, config: cfg, storeFactory: factory}, nil
}

// WriteDirectives writes one JSONL segment. Records carry a session-wide
// sequence number that only advances when the write succeeds.
func (c *LodeClient) WriteDirectives(ctx context.Context, directives []*types.Directive) error {
	if len(directives) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	records := make([]any, 0, len(directives))
	for i, d := range directives {
		records = append(records, toDirectiveRecordMap(d, c.seq+int64(i)+1, c.config))
	}
	if _, err := c.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return WrapWriteError(err, c.partitionPath(RecordKindDirective))
	}
	c.seq += int64(len(directives))
	return nil
}

// WriteAttachments puts each attachment's bytes as a file, then writes the
// metadata records. A failed file put writes no metadata.
func (c *LodeClient) WriteAttachments(ctx context.Context, attachments []*types.AttachmentRecord) error {
	if len(attachments) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	records := make([]any, 0, len(attachments))
	for _, a := range attachments {
		name := AttachmentFilename(a.AttachmentID)
		if err := c.PutFile(ctx, name, "application/octet-stream", a.Data); err != nil {
			return err
		}
		records = append(records, toAttachmentRecordMap(a, c.buildFilePath(name), c.config))
	}
	if _, err := c.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return WrapWriteError(err, c.partitionPath(RecordKindAttachment))
	}
	return nil
}

// WriteMetrics writes the session's metrics record.
func (c *LodeClient) WriteMetrics(ctx context.Context, snap metrics.Snapshot, completedAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	record := toMetricsRecordMap(snap, completedAt, c.config)
	if _, err := c.dataset.Write(ctx, []any{record}, lode.Metadata{}); err != nil {
		return WrapWriteError(err, c.partitionPath(RecordKindMetrics))
	}
	return nil
}

// Close releases client resources. Lode datasets hold none.
func (c *LodeClient) Close() error {
	return nil
}

func (c *LodeClient) partitionPath(kind string) string {
	return fmt.Sprintf("%s/source=%s/day=%s/session_id=%s/record_kind=%s",
		c.config.Dataset, c.config.Source, c.config.Day, c.config.SessionID, kind)
}

var _ Client = (*LodeClient)(nil)
