package transport

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/voxlink/log"
	"github.com/pithecene-io/voxlink/metrics"
	"github.com/pithecene-io/voxlink/mimeparse"
	"github.com/pithecene-io/voxlink/streamlog"
	"github.com/pithecene-io/voxlink/types"
)

// AttachmentContextPrefix prefixes the stream ID to form a stream's
// attachment context ID.
const AttachmentContextPrefix = "ACL_LOGICAL_HTTP2_STREAM_ID_"

// Stream is one request/response exchange on the multiplexed connection.
// A Stream is created and retired by a Pool; its callbacks are invoked by
// an Engine on the session's network goroutine.
type Stream struct {
	id   uint32
	pool *Pool

	method   string
	url      string
	token    string
	consumer mimeparse.MessageConsumer
	request  *types.MessageRequest
	parser   *mimeparse.Parser
	body     *requestBody

	status    int
	exception bytes.Buffer
	paused    bool
	// ready is set when the body's attachment reader has new data.
	ready    atomic.Bool
	progress time.Time
	err      error
	notified bool

	slog    *streamlog.StreamLog
	logger  *log.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// ID returns the stream ID. It is only meaningful until release.
func (s *Stream) ID() uint32 { return s.id }

// Method returns the HTTP method.
func (s *Stream) Method() string { return s.method }

// URL returns the request URL.
func (s *Stream) URL() string { return s.url }

// Request returns the bound message request, or nil for GET streams.
func (s *Stream) Request() *types.MessageRequest { return s.request }

// Status returns the HTTP status, or 0 before the response headers arrive.
func (s *Stream) Status() int { return s.status }

// Paused reports whether the last callback paused the stream.
func (s *Stream) Paused() bool { return s.paused }

// WakesOnData reports whether the stream is paused on a request body
// reader that announces new data, so it needs no polling.
func (s *Stream) WakesOnData() bool {
	return s.paused && s.body != nil && s.body.announcesReady()
}

// TakeReady reports and clears the body's data notification.
func (s *Stream) TakeReady() bool { return s.ready.Swap(false) }

// LastProgress returns the time of the last byte or header exchanged.
func (s *Stream) LastProgress() time.Time { return s.progress }

// Err returns the terminal transfer error, if any.
func (s *Stream) Err() error { return s.err }

// AttachmentContextID returns the context ID attached to this stream's parts.
func (s *Stream) AttachmentContextID() string {
	return AttachmentContextPrefix + strconv.FormatUint(uint64(s.id), 10)
}

// InitGet binds a downstream (GET) exchange.
func (s *Stream) InitGet(url, token string, consumer mimeparse.MessageConsumer) bool {
	if cause := validate(url, token, consumer); cause != "" {
		s.logger.Error("stream init failed", map[string]any{"stream_id": s.id, "reason": cause})
		return false
	}
	s.bind(http.MethodGet, url, token, consumer)
	return true
}

// InitPost binds an upstream (POST) exchange for req.
func (s *Stream) InitPost(url, token string, req *types.MessageRequest, consumer mimeparse.MessageConsumer) bool {
	cause := validate(url, token, consumer)
	if cause == "" && req == nil {
		cause = RejectNullMessageRequest
	}
	if cause != "" {
		s.logger.Error("stream init failed", map[string]any{"stream_id": s.id, "reason": cause})
		return false
	}
	s.bind(http.MethodPost, url, token, consumer)
	s.request = req
	s.body = newRequestBody(req)
	return true
}

func validate(url, token string, consumer mimeparse.MessageConsumer) string {
	switch {
	case url == "":
		return RejectEmptyURL
	case token == "":
		return RejectEmptyAuthToken
	case consumer == nil:
		return RejectNullConsumer
	}
	return ""
}

func (s *Stream) bind(method, url, token string, consumer mimeparse.MessageConsumer) {
	s.method = method
	s.url = url
	s.token = token
	s.consumer = consumer
	s.status = 0
	s.exception.Reset()
	s.paused = false
	s.err = nil
	s.notified = false
	s.progress = s.now()
	s.parser.Reset()
	s.parser.SetAttachmentContextID(s.AttachmentContextID())
}

// RequestHeader returns the headers the engine sends with the request.
func (s *Stream) RequestHeader() http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+s.token)
	if s.body != nil {
		h.Set("Content-Type", s.body.ContentType())
	}
	return h
}

// HasBody reports whether the request carries a body.
func (s *Stream) HasBody() bool { return s.body != nil }

// ConsumeMessage forwards a parsed JSON part to the stream's consumer.
func (s *Stream) ConsumeMessage(contextID, message string) {
	s.metrics.IncDirective()
	s.consumer.ConsumeMessage(contextID, message)
}

// OnHeader handles one response header line. The status line sets the
// status; a 200 response's Content-Type sets the multipart boundary.
func (s *Stream) OnHeader(line string) {
	s.touch()
	s.slog.Header(line)

	if strings.HasPrefix(line, "HTTP/") {
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			if code, err := strconv.Atoi(fields[1]); err == nil {
				s.status = code
			}
		}
		return
	}

	name, value, ok := strings.Cut(line, ":")
	if !ok || !strings.EqualFold(strings.TrimSpace(name), "Content-Type") {
		return
	}
	if s.status != http.StatusOK {
		return
	}
	if b := boundaryParam(value); b != "" {
		s.parser.SetBoundary(b)
	}
}

// boundaryParam extracts the boundary parameter of a Content-Type value.
func boundaryParam(value string) string {
	i := strings.Index(strings.ToLower(value), "boundary=")
	if i < 0 {
		return ""
	}
	b := value[i+len("boundary="):]
	if j := strings.IndexByte(b, ';'); j >= 0 {
		b = b[:j]
	}
	return strings.Trim(strings.TrimSpace(b), `"`)
}

// OnBytesReceived handles response body bytes. A 200 body feeds the MIME
// parser; any other body is kept verbatim as the exception message.
func (s *Stream) OnBytesReceived(data []byte) Result {
	s.touch()
	r := s.receive(data)
	// A paused remainder is offered again; record each byte once.
	if r.IsAbort() {
		s.slog.In(data)
	} else if r.N() > 0 {
		s.slog.In(data[:r.N()])
	}
	return r
}

func (s *Stream) receive(data []byte) Result {
	if s.status != http.StatusOK {
		s.exception.Write(data)
		return Consumed(len(data))
	}
	if s.parser.Boundary() == "" {
		s.logger.Debug("body without multipart boundary discarded", map[string]any{
			"stream_id": s.id,
			"bytes":     len(data),
		})
		return Consumed(len(data))
	}

	n, err := s.parser.Feed(data)
	if err != nil {
		s.metrics.IncParseError()
		s.logger.Error("stream aborted on parse error", map[string]any{
			"stream_id": s.id,
			"error":     err.Error(),
		})
		return Abort()
	}
	if n < len(data) {
		s.paused = true
		s.metrics.IncPause()
		return PauseAfter(n)
	}
	s.paused = false
	return Consumed(n)
}

// Produce fills buf with request body bytes.
func (s *Stream) Produce(buf []byte) Result {
	if s.body == nil {
		return Consumed(0)
	}
	s.ready.Store(false)
	r := s.body.Read(buf)
	switch {
	case r.IsAbort():
		s.logger.Error("request body read failed", map[string]any{"stream_id": s.id})
	case r.IsPause():
		s.paused = true
	default:
		s.paused = false
		if r.N() > 0 {
			s.touch()
			s.slog.Out(buf[:r.N()])
		}
	}
	return r
}

// SetTerminalError records why the transfer failed below HTTP.
func (s *Stream) SetTerminalError(err error) {
	if err != nil && s.err == nil {
		s.err = err
	}
}

// NotifyRequestObserver reports the exchange outcome to the bound request.
// Exactly one of ExceptionReceived or SendCompleted fires, once.
func (s *Stream) NotifyRequestObserver() {
	if s.request == nil || s.notified {
		return
	}
	switch {
	case s.err != nil:
		status := types.SendStatusInternalError
		if IsTimeout(s.err) {
			status = types.SendStatusTimedout
		}
		s.NotifyRequestObserverWith(status)
	case s.exception.Len() > 0:
		s.notified = true
		raw := s.exception.String()
		s.logException(raw)
		s.metrics.IncException()
		s.request.ExceptionReceived(raw)
	default:
		s.NotifyRequestObserverWith(types.SendStatusFromHTTP(s.status))
	}
}

// NotifyRequestObserverWith completes the bound request with status.
func (s *Stream) NotifyRequestObserverWith(status types.SendStatus) {
	if s.request == nil || s.notified {
		return
	}
	s.notified = true
	if status.IsSuccess() {
		s.metrics.IncRequestSucceeded()
	} else {
		s.metrics.IncRequestFailed()
	}
	s.request.SendCompleted(status)
}

func (s *Stream) logException(raw string) {
	exc, err := types.ParseException(raw)
	if err != nil {
		s.logger.Warn("malformed exception body", map[string]any{
			"stream_id": s.id,
			"status":    s.status,
			"error":     err.Error(),
		})
		return
	}
	s.logger.Error("exception received", map[string]any{
		"stream_id":   s.id,
		"status":      s.status,
		"code":        exc.Code,
		"description": exc.Description,
	})
}

func (s *Stream) touch() {
	s.progress = s.now()
}

// release closes per-exchange resources. Called by the Pool.
func (s *Stream) release() {
	s.parser.Close()
	if s.body != nil {
		s.body.Close()
	}
	if err := s.slog.Close(s.status); err != nil {
		s.logger.Warn("stream log close failed", map[string]any{"stream_id": s.id, "error": err.Error()})
	}
	s.slog = nil
	s.body = nil
	s.request = nil
	s.consumer = nil
}
