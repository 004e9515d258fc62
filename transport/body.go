package transport

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/pithecene-io/voxlink/attachment"
	"github.com/pithecene-io/voxlink/types"
)

// Form field name of the JSON event part.
const metadataFieldName = "metadata"

// requestBody produces a multipart/form-data event body: the JSON event
// as the metadata part, then one part per attachment reader.
type requestBody struct {
	boundary string
	// pending holds framing bytes not yet handed out.
	pending     []byte
	attachments []types.NamedReader
	current     attachment.Reader
	next        int
	done        bool
	// wake is registered with each attachment reader that announces data.
	wake      func()
	notifying bool
}

func newRequestBody(req *types.MessageRequest) *requestBody {
	b := &requestBody{
		boundary:    "voxlink-" + uuid.NewString(),
		attachments: req.Attachments(),
	}
	b.pending = fmt.Appendf(nil,
		"--%s\r\nContent-Disposition: form-data; name=\"%s\"\r\nContent-Type: application/json; charset=UTF-8\r\n\r\n%s",
		b.boundary, metadataFieldName, req.JSONContent())
	return b
}

// ContentType returns the request Content-Type header value.
func (b *requestBody) ContentType() string {
	return "multipart/form-data; boundary=" + b.boundary
}

// Read copies body bytes into buf.
func (b *requestBody) Read(buf []byte) Result {
	for {
		if len(b.pending) > 0 {
			n := copy(buf, b.pending)
			b.pending = b.pending[n:]
			return Consumed(n)
		}
		if b.current != nil {
			n, status := b.current.Read(buf)
			switch status {
			case attachment.ReadOK:
				if n > 0 {
					return Consumed(n)
				}
				continue
			case attachment.ReadOKWouldBlock, attachment.ReadOKTimedOut:
				if n > 0 {
					return Consumed(n)
				}
				return PauseAfter(0)
			case attachment.ReadClosed:
				_ = b.current.Close()
				b.current = nil
				if n > 0 {
					return Consumed(n)
				}
			default:
				return Abort()
			}
		}
		if b.done {
			return Consumed(0)
		}
		b.advance()
	}
}

// advance queues the framing for the next attachment or the closing boundary.
func (b *requestBody) advance() {
	if b.next < len(b.attachments) {
		a := b.attachments[b.next]
		b.next++
		b.pending = fmt.Appendf(nil,
			"\r\n--%s\r\nContent-Disposition: form-data; name=\"%s\"\r\nContent-Type: application/octet-stream\r\n\r\n",
			b.boundary, a.Name)
		b.current = a.Reader
		b.notifying = false
		if n, ok := a.Reader.(attachment.ReadyNotifier); ok && b.wake != nil {
			n.OnReady(b.wake)
			b.notifying = true
		}
		return
	}
	b.pending = fmt.Appendf(nil, "\r\n--%s--\r\n", b.boundary)
	b.done = true
}

// announcesReady reports whether the reader being drained wakes the engine
// when it has data.
func (b *requestBody) announcesReady() bool {
	return b.current != nil && b.notifying
}

// Close closes any attachment readers not yet drained.
func (b *requestBody) Close() {
	if b.current != nil {
		_ = b.current.Close()
		b.current = nil
	}
	for ; b.next < len(b.attachments); b.next++ {
		if r := b.attachments[b.next].Reader; r != nil {
			_ = r.Close()
		}
	}
}
