// Package policy decides how downstream directives and attachments reach a
// Sink: immediately, in batches, or not at all.
package policy

import (
	"context"
	"maps"
	"sync"

	"github.com/pithecene-io/voxlink/types"
)

// Policy controls buffering, dropping, and persistence of downstream records.
//
// Directives arrive in wire order per stream and a policy must not reorder
// them. A returned error is fatal to the forwarding loop.
type Policy interface {
	// IngestDirective handles one parsed directive.
	IngestDirective(ctx context.Context, d *types.Directive) error

	// IngestAttachment handles one completed attachment.
	IngestAttachment(ctx context.Context, a *types.AttachmentRecord) error

	// Flush writes any buffered records.
	Flush(ctx context.Context) error

	// Close releases policy resources and closes the sink.
	Close() error

	// Stats returns a consistent snapshot of policy counters.
	Stats() Stats
}

// Stats holds policy counters.
type Stats struct {
	// TotalDirectives is the number of directives received.
	TotalDirectives int64
	// DirectivesPersisted is the number of directives written to the sink.
	DirectivesPersisted int64
	// DirectivesDropped is the number of directives discarded.
	DirectivesDropped int64
	// DroppedByNamespace maps directive namespaces to drop counts.
	DroppedByNamespace map[string]int64
	// TotalAttachments is the number of attachments received.
	TotalAttachments int64
	// AttachmentsPersisted is the number of attachments written to the sink.
	AttachmentsPersisted int64
	// BufferSize is the buffered byte count, if the policy buffers.
	BufferSize int64
	// FlushCount is the number of flush operations.
	FlushCount int64
	// Errors is the number of sink failures.
	Errors int64
}

// statsRecorder holds Stats behind a caller-owned lock. Every method
// requires the owning policy's mutex.
type statsRecorder struct {
	stats Stats
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{
		stats: Stats{DroppedByNamespace: make(map[string]int64)},
	}
}

func (r *statsRecorder) incTotalDirectivesLocked() { r.stats.TotalDirectives++ }

func (r *statsRecorder) incDirectivesPersistedLocked(n int64) { r.stats.DirectivesPersisted += n }

func (r *statsRecorder) incDirectivesDroppedLocked(namespace string) {
	r.stats.DirectivesDropped++
	r.stats.DroppedByNamespace[namespace]++
}

func (r *statsRecorder) incTotalAttachmentsLocked() { r.stats.TotalAttachments++ }

func (r *statsRecorder) incAttachmentsPersistedLocked(n int64) { r.stats.AttachmentsPersisted += n }

func (r *statsRecorder) incErrorsLocked() { r.stats.Errors++ }

func (r *statsRecorder) incFlushLocked() { r.stats.FlushCount++ }

func (r *statsRecorder) setBufferSizeLocked(n int64) { r.stats.BufferSize = n }

// snapshotLocked returns a copy with its own map.
func (r *statsRecorder) snapshotLocked() Stats {
	s := r.stats
	s.DroppedByNamespace = maps.Clone(r.stats.DroppedByNamespace)
	return s
}

// lockedRecorder pairs a recorder with its mutex for the unbuffered policies.
type lockedRecorder struct {
	mu  sync.Mutex
	rec *statsRecorder
}

func (l *lockedRecorder) do(fn func(r *statsRecorder)) {
	l.mu.Lock()
	fn(l.rec)
	l.mu.Unlock()
}

func (l *lockedRecorder) snapshot() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rec.snapshotLocked()
}
