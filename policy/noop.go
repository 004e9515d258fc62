package policy

import (
	"context"

	"github.com/pithecene-io/voxlink/types"
)

// NoopPolicy counts records and discards them. Every directive is counted
// as dropped under its namespace.
type NoopPolicy struct {
	stats lockedRecorder
}

// NewNoopPolicy creates a no-op policy.
func NewNoopPolicy() *NoopPolicy {
	return &NoopPolicy{stats: lockedRecorder{rec: newStatsRecorder()}}
}

// IngestDirective counts d as dropped.
func (p *NoopPolicy) IngestDirective(_ context.Context, d *types.Directive) error {
	p.stats.do(func(r *statsRecorder) {
		r.incTotalDirectivesLocked()
		r.incDirectivesDroppedLocked(d.Namespace)
	})
	return nil
}

// IngestAttachment counts a.
func (p *NoopPolicy) IngestAttachment(_ context.Context, _ *types.AttachmentRecord) error {
	p.stats.do((*statsRecorder).incTotalAttachmentsLocked)
	return nil
}

// Flush is a no-op.
func (p *NoopPolicy) Flush(_ context.Context) error {
	p.stats.do((*statsRecorder).incFlushLocked)
	return nil
}

// Close is a no-op.
func (p *NoopPolicy) Close() error {
	return nil
}

// Stats returns the policy statistics.
func (p *NoopPolicy) Stats() Stats {
	return p.stats.snapshot()
}

var _ Policy = (*NoopPolicy)(nil)
