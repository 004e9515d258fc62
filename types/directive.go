package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Directive is one JSON message delivered on a downstream stream.
// Header fields are extracted best-effort; Message is always the raw JSON.
type Directive struct {
	ContextID       string    `json:"context_id"`
	Namespace       string    `json:"namespace,omitempty"`
	Name            string    `json:"name,omitempty"`
	MessageID       string    `json:"message_id,omitempty"`
	DialogRequestID string    `json:"dialog_request_id,omitempty"`
	Message         string    `json:"message"`
	ReceivedAt      time.Time `json:"received_at"`
}

type directiveHeader struct {
	Namespace       string `json:"namespace"`
	Name            string `json:"name"`
	MessageID       string `json:"messageId"`
	DialogRequestID string `json:"dialogRequestId"`
}

type directiveEnvelope struct {
	Directive *struct {
		Header directiveHeader `json:"header"`
	} `json:"directive"`
	Header *directiveHeader `json:"header"`
}

// ParseDirective builds a Directive from a message body.
// A body that is not a JSON object still yields a Directive with only
// Message set, along with the decode error.
func ParseDirective(contextID, message string, receivedAt time.Time) (*Directive, error) {
	d := &Directive{
		ContextID:  contextID,
		Message:    message,
		ReceivedAt: receivedAt,
	}
	var env directiveEnvelope
	if err := json.Unmarshal([]byte(message), &env); err != nil {
		return d, fmt.Errorf("decode directive: %w", err)
	}
	var h *directiveHeader
	switch {
	case env.Directive != nil:
		h = &env.Directive.Header
	case env.Header != nil:
		h = env.Header
	default:
		return d, nil
	}
	d.Namespace = h.Namespace
	d.Name = h.Name
	d.MessageID = h.MessageID
	d.DialogRequestID = h.DialogRequestID
	return d, nil
}

// QualifiedName returns "Namespace.Name", or "" when the header is missing.
func (d *Directive) QualifiedName() string {
	if d.Namespace == "" && d.Name == "" {
		return ""
	}
	return d.Namespace + "." + d.Name
}

// AttachmentRecord describes one downstream attachment after its part ended.
type AttachmentRecord struct {
	AttachmentID string    `json:"attachment_id"`
	ContextID    string    `json:"context_id"`
	ContentID    string    `json:"content_id"`
	Size         int64     `json:"size"`
	Data         []byte    `json:"-"`
	ReceivedAt   time.Time `json:"received_at"`
}
