package transport

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/voxlink/attachment"
	"github.com/pithecene-io/voxlink/types"
)

const (
	testURL     = "https://service.test/v20160207/events"
	testToken   = "token-123"
	testBound   = "84109348-943b-4446-85e6-e73eda9fac43"
	crlf        = "\r\n"
	testMessage = `{"directive":{"header":{"namespace":"SpeechSynthesizer","name":"Speak",` +
		`"messageId":"4e5612af-e05c-4611-8910-1e23f47ffb41"},"payload":{}}}`
)

// collectingConsumer records every directive. Safe for concurrent use.
type collectingConsumer struct {
	mu       sync.Mutex
	messages []string
	contexts []string
	notify   chan struct{}
}

func newCollectingConsumer() *collectingConsumer {
	return &collectingConsumer{notify: make(chan struct{}, 64)}
}

func (c *collectingConsumer) ConsumeMessage(contextID, message string) {
	c.mu.Lock()
	c.messages = append(c.messages, message)
	c.contexts = append(c.contexts, contextID)
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *collectingConsumer) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}

// completionRecorder counts request completions.
type completionRecorder struct {
	mu         sync.Mutex
	statuses   []types.SendStatus
	exceptions []string
	done       chan struct{}
}

func newCompletionRecorder() *completionRecorder {
	return &completionRecorder{done: make(chan struct{}, 8)}
}

func (r *completionRecorder) OnSendCompleted(status types.SendStatus) {
	r.mu.Lock()
	r.statuses = append(r.statuses, status)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *completionRecorder) OnExceptionReceived(message string) {
	r.mu.Lock()
	r.exceptions = append(r.exceptions, message)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *completionRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.statuses), len(r.exceptions)
}

// mimeBody builds a multipart body with an opening boundary line, the given
// parts and the closing delimiter.
func mimeBody(parts ...string) string {
	var b strings.Builder
	b.WriteString("--" + testBound + crlf)
	for i, p := range parts {
		if i > 0 {
			b.WriteString(crlf)
		}
		b.WriteString(p)
		b.WriteString(crlf + "--" + testBound)
	}
	b.WriteString("--" + crlf)
	return b.String()
}

func directivePart(msg string) string {
	return "Content-Type: application/json; charset=UTF-8" + crlf + crlf + msg
}

func attachmentPart(contentID, data string) string {
	return "Content-Type: application/octet-stream" + crlf +
		"Content-ID: <" + contentID + ">" + crlf + crlf + data
}

// splitN splits s into n pieces of near-equal size.
func splitN(s string, n int) []string {
	out := make([]string, 0, n)
	size := (len(s) + n - 1) / n
	for len(s) > 0 {
		k := min(size, len(s))
		out = append(out, s[:k])
		s = s[k:]
	}
	return out
}

// newEventRequest builds a request with one in-memory attachment.
func newEventRequest(event, name, data string) *types.MessageRequest {
	req := types.NewMessageRequest(event, "")
	req.AddAttachment(name, attachment.NewStreamReader(strings.NewReader(data)))
	return req
}

// fakeEngine records registrations. Tests drive stream callbacks directly.
type fakeEngine struct {
	addErr  error
	added   []*Stream
	removed []*Stream
}

func (f *fakeEngine) Add(s *Stream) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, s)
	return nil
}

func (f *fakeEngine) Remove(s *Stream) { f.removed = append(f.removed, s) }

func (f *fakeEngine) Unpause(*Stream) {}

func (f *fakeEngine) Wait(context.Context, time.Duration) error { return nil }

func (f *fakeEngine) Perform() []Completion { return nil }

func (f *fakeEngine) Wakeup() {}

func (f *fakeEngine) Close() error { return nil }

// newTestPool builds a pool on engine, or on a fakeEngine when engine is nil.
func newTestPool(t *testing.T, maxStreams int, engine Engine, attachments *attachment.Manager, opts ...PoolOption) *Pool {
	t.Helper()
	if engine == nil {
		engine = &fakeEngine{}
	}
	p, err := NewPool(maxStreams, engine, attachments, opts...)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	return p
}
