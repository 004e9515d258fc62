package adapter

import (
	"context"

	"github.com/pithecene-io/voxlink/policy"
	"github.com/pithecene-io/voxlink/types"
)

// Sink publishes every record written to it. It implements policy.Sink so
// any policy can drive an adapter.
type Sink struct {
	adapter   Adapter
	sessionID string
}

// NewSink creates a sink publishing through a.
func NewSink(a Adapter, sessionID string) *Sink {
	return &Sink{adapter: a, sessionID: sessionID}
}

// WriteDirectives publishes directives in order and stops at the first
// failure.
func (s *Sink) WriteDirectives(ctx context.Context, directives []*types.Directive) error {
	for _, d := range directives {
		if err := s.adapter.Publish(ctx, DirectiveEvent(s.sessionID, d)); err != nil {
			return err
		}
	}
	return nil
}

// WriteAttachments publishes attachment metadata in order.
func (s *Sink) WriteAttachments(ctx context.Context, attachments []*types.AttachmentRecord) error {
	for _, a := range attachments {
		if err := s.adapter.Publish(ctx, AttachmentEvent(s.sessionID, a)); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the adapter.
func (s *Sink) Close() error {
	return s.adapter.Close()
}

var _ policy.Sink = (*Sink)(nil)

// Tee writes to every sink in order. Writes stop at the first failing sink;
// Close closes all of them and returns the first error.
type Tee []policy.Sink

// WriteDirectives implements policy.Sink.
func (t Tee) WriteDirectives(ctx context.Context, directives []*types.Directive) error {
	for _, s := range t {
		if err := s.WriteDirectives(ctx, directives); err != nil {
			return err
		}
	}
	return nil
}

// WriteAttachments implements policy.Sink.
func (t Tee) WriteAttachments(ctx context.Context, attachments []*types.AttachmentRecord) error {
	for _, s := range t {
		if err := s.WriteAttachments(ctx, attachments); err != nil {
			return err
		}
	}
	return nil
}

// Close implements policy.Sink.
func (t Tee) Close() error {
	var first error
	for _, s := range t {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var _ policy.Sink = Tee(nil)
