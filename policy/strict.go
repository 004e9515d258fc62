package policy

import (
	"context"

	"github.com/pithecene-io/voxlink/types"
)

// StrictPolicy writes every record to the sink as it arrives. Nothing is
// buffered or dropped, the caller blocks on sink latency, and sink errors
// are returned.
type StrictPolicy struct {
	sink  Sink
	stats lockedRecorder
}

// NewStrictPolicy creates a strict policy writing to sink.
func NewStrictPolicy(sink Sink) *StrictPolicy {
	return &StrictPolicy{
		sink:  sink,
		stats: lockedRecorder{rec: newStatsRecorder()},
	}
}

// IngestDirective writes d immediately.
func (p *StrictPolicy) IngestDirective(ctx context.Context, d *types.Directive) error {
	p.stats.do((*statsRecorder).incTotalDirectivesLocked)

	if err := p.sink.WriteDirectives(ctx, []*types.Directive{d}); err != nil {
		p.stats.do((*statsRecorder).incErrorsLocked)
		return err
	}
	p.stats.do(func(r *statsRecorder) { r.incDirectivesPersistedLocked(1) })
	return nil
}

// IngestAttachment writes a immediately.
func (p *StrictPolicy) IngestAttachment(ctx context.Context, a *types.AttachmentRecord) error {
	p.stats.do((*statsRecorder).incTotalAttachmentsLocked)

	if err := p.sink.WriteAttachments(ctx, []*types.AttachmentRecord{a}); err != nil {
		p.stats.do((*statsRecorder).incErrorsLocked)
		return err
	}
	p.stats.do(func(r *statsRecorder) { r.incAttachmentsPersistedLocked(1) })
	return nil
}

// Flush only counts; nothing is buffered.
func (p *StrictPolicy) Flush(_ context.Context) error {
	p.stats.do((*statsRecorder).incFlushLocked)
	return nil
}

// Close closes the sink.
func (p *StrictPolicy) Close() error {
	return p.sink.Close()
}

// Stats returns policy statistics.
func (p *StrictPolicy) Stats() Stats {
	return p.stats.snapshot()
}

var _ Policy = (*StrictPolicy)(nil)
