package policy

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pithecene-io/voxlink/log"
	"github.com/pithecene-io/voxlink/types"
)

// StreamingConfig configures a StreamingPolicy.
type StreamingConfig struct {
	// FlushCount triggers a flush after N directives accumulate.
	// Zero disables the count trigger.
	FlushCount int

	// FlushInterval triggers a flush every interval.
	// Zero disables the interval trigger.
	FlushInterval time.Duration

	// Logger is optional.
	Logger *log.Logger
}

// FlushTrigger identifies which trigger caused a flush.
type FlushTrigger string

const (
	// FlushTriggerCount is a count-threshold flush.
	FlushTriggerCount FlushTrigger = "count"
	// FlushTriggerInterval is an interval flush.
	FlushTriggerInterval FlushTrigger = "interval"
	// FlushTriggerTermination is the flush at session end.
	FlushTriggerTermination FlushTrigger = "termination"
)

// ErrStreamingInvalidConfig is returned when StreamingConfig has no trigger.
var ErrStreamingInvalidConfig = errors.New("invalid streaming config: at least one of FlushCount or FlushInterval must be set")

// directiveOverhead approximates the per-record cost beyond the raw message.
const directiveOverhead = 200

// StreamingPolicy batches records in memory and writes them when a trigger
// fires. Nothing is dropped. Attachments are written before directives in
// each flush. On a failed write the batch is put back in front of newer
// records and retried on the next trigger.
//
// mu guards buffers and stats; flushMu serializes writes so the interval
// goroutine and the count trigger never write concurrently.
type StreamingPolicy struct {
	sink   Sink
	config StreamingConfig
	logger *log.Logger

	mu                 sync.Mutex
	directiveBuffer    []*types.Directive
	attachmentBuffer   []*types.AttachmentRecord
	bufferBytes        int64
	stats              *statsRecorder
	flushByCount       int64
	flushByInterval    int64
	flushByTermination int64
	stopped            bool

	flushMu sync.Mutex
	stopCh  chan struct{}
}

// NewStreamingPolicy creates a streaming policy.
func NewStreamingPolicy(sink Sink, config StreamingConfig) (*StreamingPolicy, error) {
	if config.FlushCount <= 0 && config.FlushInterval <= 0 {
		return nil, ErrStreamingInvalidConfig
	}

	p := &StreamingPolicy{
		sink:            sink,
		config:          config,
		logger:          config.Logger,
		directiveBuffer: make([]*types.Directive, 0, 128),
		stats:           newStatsRecorder(),
		stopCh:          make(chan struct{}),
	}
	if config.FlushInterval > 0 {
		go p.intervalLoop()
	}
	return p, nil
}

// IngestDirective buffers d and flushes when the count threshold is reached.
func (p *StreamingPolicy) IngestDirective(ctx context.Context, d *types.Directive) error {
	p.mu.Lock()
	p.stats.incTotalDirectivesLocked()
	p.directiveBuffer = append(p.directiveBuffer, d)
	p.bufferBytes += directiveSize(d)
	p.stats.setBufferSizeLocked(p.bufferBytes)
	shouldFlush := p.config.FlushCount > 0 && len(p.directiveBuffer) >= p.config.FlushCount
	p.mu.Unlock()

	if shouldFlush {
		return p.triggerFlush(ctx, FlushTriggerCount)
	}
	return nil
}

// IngestAttachment buffers a. Attachments do not trigger a flush.
func (p *StreamingPolicy) IngestAttachment(_ context.Context, a *types.AttachmentRecord) error {
	p.mu.Lock()
	p.stats.incTotalAttachmentsLocked()
	p.attachmentBuffer = append(p.attachmentBuffer, a)
	p.bufferBytes += int64(len(a.Data))
	p.stats.setBufferSizeLocked(p.bufferBytes)
	p.mu.Unlock()
	return nil
}

// Flush writes everything buffered.
func (p *StreamingPolicy) Flush(ctx context.Context) error {
	return p.triggerFlush(ctx, FlushTriggerTermination)
}

// triggerFlush swaps the buffers under mu, writes outside it and restores
// the batch on failure.
func (p *StreamingPolicy) triggerFlush(ctx context.Context, trigger FlushTrigger) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	switch trigger {
	case FlushTriggerCount:
		p.flushByCount++
	case FlushTriggerInterval:
		p.flushByInterval++
	case FlushTriggerTermination:
		p.flushByTermination++
	}
	p.stats.incFlushLocked()

	directives := p.directiveBuffer
	attachments := p.attachmentBuffer
	if len(directives) == 0 && len(attachments) == 0 {
		p.mu.Unlock()
		return nil
	}
	p.directiveBuffer = make([]*types.Directive, 0, 128)
	p.attachmentBuffer = nil
	p.recalculateBufferBytes()
	p.mu.Unlock()

	if len(attachments) > 0 {
		if err := p.sink.WriteAttachments(ctx, attachments); err != nil {
			p.mu.Lock()
			p.stats.incErrorsLocked()
			p.directiveBuffer = append(directives, p.directiveBuffer...)
			p.attachmentBuffer = append(attachments, p.attachmentBuffer...)
			p.recalculateBufferBytes()
			p.mu.Unlock()
			p.logFlushFailure("attachments", trigger, err)
			return err
		}
		p.mu.Lock()
		p.stats.incAttachmentsPersistedLocked(int64(len(attachments)))
		p.mu.Unlock()
	}

	if len(directives) > 0 {
		if err := p.sink.WriteDirectives(ctx, directives); err != nil {
			// Attachments are written; restore only directives.
			p.mu.Lock()
			p.stats.incErrorsLocked()
			p.directiveBuffer = append(directives, p.directiveBuffer...)
			p.recalculateBufferBytes()
			p.mu.Unlock()
			p.logFlushFailure("directives", trigger, err)
			return err
		}
		p.mu.Lock()
		p.stats.incDirectivesPersistedLocked(int64(len(directives)))
		p.mu.Unlock()
	}

	p.logger.Info("streaming flush", map[string]any{
		"trigger":     string(trigger),
		"directives":  len(directives),
		"attachments": len(attachments),
		"policy":      "streaming",
	})
	return nil
}

// Close stops the interval goroutine, flushes and closes the sink.
func (p *StreamingPolicy) Close() error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.stopCh)
	}
	p.mu.Unlock()

	_ = p.Flush(context.Background())
	return p.sink.Close()
}

// Stats returns a snapshot consistent with the buffer state.
func (p *StreamingPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.snapshotLocked()
}

// FlushTriggerStats returns per-trigger flush counts.
func (p *StreamingPolicy) FlushTriggerStats() map[FlushTrigger]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return map[FlushTrigger]int64{
		FlushTriggerCount:       p.flushByCount,
		FlushTriggerInterval:    p.flushByInterval,
		FlushTriggerTermination: p.flushByTermination,
	}
}

func (p *StreamingPolicy) intervalLoop() {
	ticker := time.NewTicker(p.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			hasData := len(p.directiveBuffer) > 0 || len(p.attachmentBuffer) > 0
			p.mu.Unlock()
			if hasData {
				// Interval flush failures are logged and retried on the next tick.
				_ = p.triggerFlush(context.Background(), FlushTriggerInterval)
			}
		case <-p.stopCh:
			return
		}
	}
}

func directiveSize(d *types.Directive) int64 {
	return directiveOverhead + int64(len(d.Message))
}

// recalculateBufferBytes recomputes bufferBytes. Caller must hold mu.
func (p *StreamingPolicy) recalculateBufferBytes() {
	var total int64
	for _, d := range p.directiveBuffer {
		total += directiveSize(d)
	}
	for _, a := range p.attachmentBuffer {
		total += int64(len(a.Data))
	}
	p.bufferBytes = total
	p.stats.setBufferSizeLocked(total)
}

func (p *StreamingPolicy) logFlushFailure(bufferType string, trigger FlushTrigger, err error) {
	p.logger.Error("streaming flush failed", map[string]any{
		"buffer_type": bufferType,
		"trigger":     string(trigger),
		"error":       err.Error(),
		"policy":      "streaming",
	})
}

var _ Policy = (*StreamingPolicy)(nil)
