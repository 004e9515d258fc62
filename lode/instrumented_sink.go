package lode

import (
	"context"

	"github.com/pithecene-io/voxlink/metrics"
	"github.com/pithecene-io/voxlink/policy"
	"github.com/pithecene-io/voxlink/types"
)

// InstrumentedSink counts every write call on the collector as a lode write
// success or failure.
type InstrumentedSink struct {
	inner     policy.Sink
	collector *metrics.Collector
}

// NewInstrumentedSink wraps inner.
func NewInstrumentedSink(inner policy.Sink, collector *metrics.Collector) *InstrumentedSink {
	return &InstrumentedSink{inner: inner, collector: collector}
}

// WriteDirectives implements policy.Sink.
func (s *InstrumentedSink) WriteDirectives(ctx context.Context, directives []*types.Directive) error {
	return s.record(s.inner.WriteDirectives(ctx, directives))
}

// WriteAttachments implements policy.Sink.
func (s *InstrumentedSink) WriteAttachments(ctx context.Context, attachments []*types.AttachmentRecord) error {
	return s.record(s.inner.WriteAttachments(ctx, attachments))
}

// Close implements policy.Sink.
func (s *InstrumentedSink) Close() error {
	return s.inner.Close()
}

func (s *InstrumentedSink) record(err error) error {
	if err != nil {
		s.collector.IncLodeWriteFailure()
	} else {
		s.collector.IncLodeWriteSuccess()
	}
	return err
}

var _ policy.Sink = (*InstrumentedSink)(nil)
