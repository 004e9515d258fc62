// Package ingest forwards what the downstream parser produces into a
// forwarding policy.
//
// The parser runs on the transport's network goroutine and must never block
// on storage, so the Router only queues records there. Attachment bytes are
// drained by one goroutine per attachment, which keeps the attachment buffer
// moving and lets the transport unpause the stream. An attachment takes its
// place in the queue when its part starts, so Run delivers records to the
// policy in wire order and waits at an attachment still being drained.
package ingest

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/pithecene-io/voxlink/attachment"
	"github.com/pithecene-io/voxlink/log"
	"github.com/pithecene-io/voxlink/mimeparse"
	"github.com/pithecene-io/voxlink/policy"
	"github.com/pithecene-io/voxlink/types"
)

// readChunk is the drain read size.
const readChunk = 32 * 1024

// DefaultMaxAttachmentBytes bounds the bytes held for one attachment.
const DefaultMaxAttachmentBytes = attachment.MaxAttachmentSize

// record is one queue slot. An attachment slot is pending until its drain
// ends; a slot whose attachment was not kept is skipped.
type record struct {
	directive  *types.Directive
	attachment *types.AttachmentRecord
	pending    bool
	skip       bool
}

// Router adapts parser callbacks to a Policy.
type Router struct {
	policy      policy.Policy
	attachments *attachment.Manager
	logger      *log.Logger
	now         func() time.Time
	maxBytes    int64

	mu       sync.Mutex
	queue    []*record
	stopping bool
	closed   bool
	notify   chan struct{}
	drains   sync.WaitGroup
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router's logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithClock overrides the receive timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// WithMaxAttachmentBytes caps the bytes kept for one attachment. A larger
// attachment is still drained to its end but is not forwarded.
func WithMaxAttachmentBytes(n int64) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxBytes = n
		}
	}
}

// NewRouter creates a router forwarding into pol. Attachment readers are
// created on attachments.
func NewRouter(pol policy.Policy, attachments *attachment.Manager, opts ...Option) *Router {
	r := &Router{
		policy:      pol,
		attachments: attachments,
		now:         time.Now,
		maxBytes:    DefaultMaxAttachmentBytes,
		notify:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ConsumeMessage queues a directive. Bodies that are not JSON objects are
// still forwarded with only the raw message set.
func (r *Router) ConsumeMessage(contextID, message string) {
	d, err := types.ParseDirective(contextID, message, r.now())
	if err != nil {
		r.logger.Warn("directive header not decoded", map[string]any{
			"context_id": contextID,
			"error":      err.Error(),
		})
	}
	r.push(&record{directive: d})
}

// OnAttachmentStart claims the attachment's reader, reserves its queue slot
// and drains it.
func (r *Router) OnAttachmentStart(contextID, attachmentID, contentID string) {
	rd, err := r.attachments.CreateReader(attachmentID, attachment.Blocking)
	if err != nil {
		r.logger.Warn("attachment reader unavailable", map[string]any{
			"attachment_id": attachmentID,
			"error":         err.Error(),
		})
		return
	}
	slot := &record{pending: true}
	r.push(slot)
	r.drains.Go(func() {
		r.fill(slot, r.drain(rd, contextID, attachmentID, contentID))
	})
}

// OnAttachment is called once the part's writer is closed.
func (r *Router) OnAttachment(contextID, attachmentID, contentID string, size int64) {
	r.logger.Debug("attachment complete", map[string]any{
		"context_id":    contextID,
		"attachment_id": attachmentID,
		"content_id":    contentID,
		"size":          size,
	})
}

// drain reads the attachment to its end. It returns nil when the
// attachment is not kept.
func (r *Router) drain(rd attachment.Reader, contextID, attachmentID, contentID string) *types.AttachmentRecord {
	defer rd.Close()

	var data bytes.Buffer
	var size int64
	buf := make([]byte, readChunk)
	for {
		n, status := rd.Read(buf)
		size += int64(n)
		if size <= r.maxBytes {
			data.Write(buf[:n])
		}
		switch status {
		case attachment.ReadOK, attachment.ReadOKTimedOut, attachment.ReadOKWouldBlock:
			if r.isStopping() && status != attachment.ReadOK {
				r.logger.Warn("attachment abandoned", map[string]any{
					"attachment_id": attachmentID,
					"bytes":         size,
				})
				return nil
			}
		case attachment.ReadClosed:
			if size > r.maxBytes {
				r.logger.Warn("attachment over limit dropped", map[string]any{
					"attachment_id": attachmentID,
					"bytes":         size,
					"limit":         r.maxBytes,
				})
				return nil
			}
			return &types.AttachmentRecord{
				AttachmentID: attachmentID,
				ContextID:    contextID,
				ContentID:    contentID,
				Size:         size,
				Data:         data.Bytes(),
				ReceivedAt:   r.now(),
			}
		default:
			r.logger.Warn("attachment dropped", map[string]any{
				"attachment_id": attachmentID,
				"status":        status.String(),
			})
			return nil
		}
	}
}

// fill completes a reserved slot.
func (r *Router) fill(slot *record, a *types.AttachmentRecord) {
	r.mu.Lock()
	slot.attachment = a
	slot.skip = a == nil
	slot.pending = false
	r.mu.Unlock()
	r.signal()
}

func (r *Router) push(rec *record) {
	r.mu.Lock()
	r.queue = append(r.queue, rec)
	r.mu.Unlock()
	r.signal()
}

func (r *Router) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *Router) isStopping() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopping
}

// take removes the completed records at the head of the queue. It also
// reports whether the router is closed with nothing left behind them.
func (r *Router) take() ([]*record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for n < len(r.queue) && !r.queue[n].pending {
		n++
	}
	batch := r.queue[:n:n]
	r.queue = r.queue[n:]
	if len(r.queue) == 0 {
		r.queue = nil
	}
	return batch, r.closed && len(r.queue) == 0
}

// Run forwards queued records until Close is called and the queue is
// empty, or until ctx ends. It returns nil after a clean close, or an
// *Error of kind ErrorPolicy or ErrorCanceled.
func (r *Router) Run(ctx context.Context) error {
	for {
		batch, finished := r.take()
		for _, rec := range batch {
			if rec.skip {
				continue
			}
			if err := r.forward(ctx, rec); err != nil {
				return &Error{Kind: ErrorPolicy, Err: err}
			}
		}
		if finished {
			return nil
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return &Error{Kind: ErrorCanceled, Err: ctx.Err()}
		case <-r.notify:
		}
	}
}

func (r *Router) forward(ctx context.Context, rec *record) error {
	if rec.directive != nil {
		return r.policy.IngestDirective(ctx, rec.directive)
	}
	return r.policy.IngestAttachment(ctx, rec.attachment)
}

// Close waits for in-flight attachment drains and lets Run return once the
// remaining records are forwarded. Drains still waiting for bytes give up at
// their next read timeout.
func (r *Router) Close() {
	r.mu.Lock()
	r.stopping = true
	r.mu.Unlock()
	r.drains.Wait()

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.signal()
}

// Pending returns the number of records not yet forwarded.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

var (
	_ mimeparse.MessageConsumer         = (*Router)(nil)
	_ mimeparse.AttachmentObserver      = (*Router)(nil)
	_ mimeparse.AttachmentStartObserver = (*Router)(nil)
)
