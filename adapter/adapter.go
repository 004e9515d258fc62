// Package adapter fans forwarded directives out to downstream systems.
//
// Each directive and each completed attachment becomes one Event. Adapters
// own their connections; the listener owns adapter lifecycle.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/pithecene-io/voxlink/types"
)

// Event types.
const (
	EventTypeDirective  = "directive"
	EventTypeAttachment = "attachment"
)

// Event is the JSON payload published for each forwarded record.
type Event struct {
	EventType  string `json:"event_type"`
	SessionID  string `json:"session_id"`
	ContextID  string `json:"context_id"`
	ReceivedAt string `json:"received_at"` // RFC 3339

	// Directive fields.
	Namespace       string `json:"namespace,omitempty"`
	Name            string `json:"name,omitempty"`
	MessageID       string `json:"message_id,omitempty"`
	DialogRequestID string `json:"dialog_request_id,omitempty"`
	Message         string `json:"message,omitempty"`

	// Attachment fields. Bytes are never published.
	AttachmentID string `json:"attachment_id,omitempty"`
	ContentID    string `json:"content_id,omitempty"`
	SizeBytes    int64  `json:"size_bytes,omitempty"`
}

// DirectiveEvent builds the event for d.
func DirectiveEvent(sessionID string, d *types.Directive) *Event {
	return &Event{
		EventType:       EventTypeDirective,
		SessionID:       sessionID,
		ContextID:       d.ContextID,
		ReceivedAt:      d.ReceivedAt.UTC().Format(time.RFC3339Nano),
		Namespace:       d.Namespace,
		Name:            d.Name,
		MessageID:       d.MessageID,
		DialogRequestID: d.DialogRequestID,
		Message:         d.Message,
	}
}

// AttachmentEvent builds the event for a.
func AttachmentEvent(sessionID string, a *types.AttachmentRecord) *Event {
	return &Event{
		EventType:    EventTypeAttachment,
		SessionID:    sessionID,
		ContextID:    a.ContextID,
		ReceivedAt:   a.ReceivedAt.UTC().Format(time.RFC3339Nano),
		AttachmentID: a.AttachmentID,
		ContentID:    a.ContentID,
		SizeBytes:    a.Size,
	}
}

// Adapter publishes events to a downstream system.
type Adapter interface {
	// Publish sends one event. Must respect ctx cancellation and deadlines.
	Publish(ctx context.Context, event *Event) error

	// Close releases adapter resources.
	Close() error
}

// Backoff returns the wait before retry attempt i (i >= 1):
// 500ms, 1s, 2s, ...
func Backoff(i int) time.Duration {
	return time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
}

// Retry calls fn up to 1+retries times with Backoff between attempts. It
// stops early when ctx ends or permanent reports the error as final.
func Retry(ctx context.Context, name string, retries int, fn func(ctx context.Context) error, permanent func(error) bool) error {
	attempts := 1 + retries
	var lastErr error
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-time.After(Backoff(i)):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}
	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
