package types

import (
	"sync"

	"github.com/google/uuid"

	"github.com/pithecene-io/voxlink/attachment"
)

// NamedReader is an outgoing attachment: a multipart part name and its byte source.
type NamedReader struct {
	Name   string
	Reader attachment.Reader
}

// MessageRequestObserver receives the terminal outcome of a MessageRequest.
type MessageRequestObserver interface {
	// OnSendCompleted is called when the request finished with an HTTP or transport status.
	OnSendCompleted(status SendStatus)
	// OnExceptionReceived is called with the raw error body the service returned.
	OnExceptionReceived(message string)
}

// MessageRequest is one upstream event: a JSON body, an optional URI path
// extension and zero or more attachment readers.
//
// Completion is exactly-once: the first of SendCompleted or ExceptionReceived
// notifies observers and every later call is ignored.
type MessageRequest struct {
	id               string
	jsonContent      string
	uriPathExtension string
	attachments      []NamedReader

	mu        sync.Mutex
	observers []MessageRequestObserver
	done      bool
	status    SendStatus
	exception string
}

// NewMessageRequest creates a request for a serialized JSON event.
func NewMessageRequest(jsonContent, uriPathExtension string) *MessageRequest {
	return &MessageRequest{
		id:               uuid.NewString(),
		jsonContent:      jsonContent,
		uriPathExtension: uriPathExtension,
		status:           SendStatusPending,
	}
}

// ID returns the request's client-side identifier.
func (r *MessageRequest) ID() string { return r.id }

// JSONContent returns the serialized event.
func (r *MessageRequest) JSONContent() string { return r.jsonContent }

// URIPathExtension returns the path appended to the endpoint, or "".
func (r *MessageRequest) URIPathExtension() string { return r.uriPathExtension }

// AddAttachment appends an attachment reader. Not safe after Send.
func (r *MessageRequest) AddAttachment(name string, reader attachment.Reader) {
	r.attachments = append(r.attachments, NamedReader{Name: name, Reader: reader})
}

// Attachments returns the attachment readers in insertion order.
func (r *MessageRequest) Attachments() []NamedReader { return r.attachments }

// AddObserver registers an observer.
func (r *MessageRequest) AddObserver(o MessageRequestObserver) {
	if o == nil {
		return
	}
	r.mu.Lock()
	r.observers = append(r.observers, o)
	r.mu.Unlock()
}

// SendCompleted records the terminal status and notifies observers.
// Reports whether this call was the one that completed the request.
func (r *MessageRequest) SendCompleted(status SendStatus) bool {
	observers, ok := r.complete(func() { r.status = status })
	if !ok {
		return false
	}
	for _, o := range observers {
		o.OnSendCompleted(status)
	}
	return true
}

// ExceptionReceived records a service exception body and notifies observers.
// Reports whether this call was the one that completed the request.
func (r *MessageRequest) ExceptionReceived(message string) bool {
	observers, ok := r.complete(func() {
		r.status = SendStatusServerOtherError
		r.exception = message
	})
	if !ok {
		return false
	}
	for _, o := range observers {
		o.OnExceptionReceived(message)
	}
	return true
}

func (r *MessageRequest) complete(apply func()) ([]MessageRequestObserver, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return nil, false
	}
	r.done = true
	apply()
	return append([]MessageRequestObserver(nil), r.observers...), true
}

// Result returns the terminal status and exception body, if any.
// The status is SendStatusPending until the request completes.
func (r *MessageRequest) Result() (SendStatus, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.exception
}

// Done reports whether the request has completed.
func (r *MessageRequest) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// ObserverFunc adapts a pair of functions to MessageRequestObserver.
type ObserverFunc struct {
	Completed func(SendStatus)
	Exception func(string)
}

// OnSendCompleted implements MessageRequestObserver.
func (f ObserverFunc) OnSendCompleted(status SendStatus) {
	if f.Completed != nil {
		f.Completed(status)
	}
}

// OnExceptionReceived implements MessageRequestObserver.
func (f ObserverFunc) OnExceptionReceived(message string) {
	if f.Exception != nil {
		f.Exception(message)
	}
}
