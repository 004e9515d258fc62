package policy

import (
	"context"
	"sync"

	"github.com/pithecene-io/voxlink/types"
)

// Sink abstracts persistence for policies. Methods are batch-oriented so
// strict (batch of 1) and streaming policies share one interface.
type Sink interface {
	// WriteDirectives persists directives in order.
	WriteDirectives(ctx context.Context, directives []*types.Directive) error

	// WriteAttachments persists attachments in order.
	WriteAttachments(ctx context.Context, attachments []*types.AttachmentRecord) error

	// Close releases any resources held by the sink.
	Close() error
}

// WriteOp is one recorded sink call, for ordering assertions.
type WriteOp struct {
	Type        string // "directives" or "attachments"
	Directives  []*types.Directive
	Attachments []*types.AttachmentRecord
}

// StubSink is a test sink that records writes without persisting.
type StubSink struct {
	mu sync.Mutex

	DirectivesWritten  int64
	AttachmentsWritten int64
	DirectiveBatches   int64
	AttachmentBatches  int64
	Closed             bool

	WrittenDirectives  []*types.Directive
	WrittenAttachments []*types.AttachmentRecord
	WriteOrder         []WriteOp

	// ErrorOnWrite, if non-nil, is returned by every write.
	ErrorOnWrite error
}

// NewStubSink creates a stub sink.
func NewStubSink() *StubSink {
	return &StubSink{}
}

// WriteDirectives records the batch.
func (s *StubSink) WriteDirectives(_ context.Context, directives []*types.Directive) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ErrorOnWrite != nil {
		return s.ErrorOnWrite
	}
	s.DirectiveBatches++
	s.DirectivesWritten += int64(len(directives))
	s.WrittenDirectives = append(s.WrittenDirectives, directives...)
	s.WriteOrder = append(s.WriteOrder, WriteOp{Type: "directives", Directives: directives})
	return nil
}

// WriteAttachments records the batch.
func (s *StubSink) WriteAttachments(_ context.Context, attachments []*types.AttachmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ErrorOnWrite != nil {
		return s.ErrorOnWrite
	}
	s.AttachmentBatches++
	s.AttachmentsWritten += int64(len(attachments))
	s.WrittenAttachments = append(s.WrittenAttachments, attachments...)
	s.WriteOrder = append(s.WriteOrder, WriteOp{Type: "attachments", Attachments: attachments})
	return nil
}

// SetError sets the error returned by subsequent writes.
func (s *StubSink) SetError(err error) {
	s.mu.Lock()
	s.ErrorOnWrite = err
	s.mu.Unlock()
}

// Close marks the sink closed.
func (s *StubSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// Stats returns a snapshot of sink counters.
func (s *StubSink) Stats() StubSinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StubSinkStats{
		DirectivesWritten:  s.DirectivesWritten,
		AttachmentsWritten: s.AttachmentsWritten,
		DirectiveBatches:   s.DirectiveBatches,
		AttachmentBatches:  s.AttachmentBatches,
		Closed:             s.Closed,
	}
}

// StubSinkStats is a snapshot of StubSink counters.
type StubSinkStats struct {
	DirectivesWritten  int64
	AttachmentsWritten int64
	DirectiveBatches   int64
	AttachmentBatches  int64
	Closed             bool
}
