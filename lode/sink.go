// Package lode archives forwarded directives, attachments, and session
// metrics in a Lode dataset.
//
// Records are JSONL under a Hive layout partitioned by
// source/day/session_id/record_kind. Attachment bytes bypass the dataset and
// land as plain files next to the partitions.
package lode

import (
	"context"
	"time"

	"github.com/pithecene-io/voxlink/metrics"
	"github.com/pithecene-io/voxlink/policy"
	"github.com/pithecene-io/voxlink/types"
)

// DefaultDataset is the dataset ID used when none is configured.
const DefaultDataset = "voxlink"

// DeriveDay computes the partition day (YYYY-MM-DD, UTC) from a session start.
func DeriveDay(startTime time.Time) string {
	return startTime.UTC().Format("2006-01-02")
}

// Config holds the partition values for one session.
type Config struct {
	// Dataset is the Lode dataset ID.
	Dataset string
	// Source names the endpoint or deployment the session talked to.
	Source string
	// Day is the session start day.
	Day string
	// SessionID identifies the session.
	SessionID string
}

// Client abstracts the archive.
type Client interface {
	// WriteDirectives writes a batch of directives in order.
	WriteDirectives(ctx context.Context, directives []*types.Directive) error

	// WriteAttachments stores attachment bytes and their metadata records.
	WriteAttachments(ctx context.Context, attachments []*types.AttachmentRecord) error

	// WriteMetrics writes one session metrics record.
	WriteMetrics(ctx context.Context, snap metrics.Snapshot, completedAt time.Time) error

	// Close releases client resources.
	Close() error
}

// Sink adapts a Client to policy.Sink.
type Sink struct {
	client Client
}

// NewSink creates a sink writing through client.
func NewSink(client Client) *Sink {
	return &Sink{client: client}
}

// WriteDirectives implements policy.Sink.
func (s *Sink) WriteDirectives(ctx context.Context, directives []*types.Directive) error {
	return s.client.WriteDirectives(ctx, directives)
}

// WriteAttachments implements policy.Sink.
func (s *Sink) WriteAttachments(ctx context.Context, attachments []*types.AttachmentRecord) error {
	return s.client.WriteAttachments(ctx, attachments)
}

// Close implements policy.Sink.
func (s *Sink) Close() error {
	return s.client.Close()
}

var _ policy.Sink = (*Sink)(nil)

// StubClient records writes without persisting.
type StubClient struct {
	Directives  [][]*types.Directive
	Attachments [][]*types.AttachmentRecord
	Metrics     []metrics.Snapshot
	Closed      bool
}

// NewStubClient creates a stub client.
func NewStubClient() *StubClient {
	return &StubClient{}
}

// WriteDirectives implements Client.
func (c *StubClient) WriteDirectives(_ context.Context, directives []*types.Directive) error {
	c.Directives = append(c.Directives, directives)
	return nil
}

// WriteAttachments implements Client.
func (c *StubClient) WriteAttachments(_ context.Context, attachments []*types.AttachmentRecord) error {
	c.Attachments = append(c.Attachments, attachments)
	return nil
}

// WriteMetrics implements Client.
func (c *StubClient) WriteMetrics(_ context.Context, snap metrics.Snapshot, _ time.Time) error {
	c.Metrics = append(c.Metrics, snap)
	return nil
}

// Close implements Client.
func (c *StubClient) Close() error {
	c.Closed = true
	return nil
}

var _ Client = (*StubClient)(nil)
