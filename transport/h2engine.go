package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/pithecene-io/voxlink/log"
)

const (
	// Size of one response body read.
	readChunkSize = 32 * 1024
	// Depth of the worker-to-loop event queue.
	eventQueueDepth = 64
)

type eventKind int

const (
	evHeaders eventKind = iota
	evData
	evBodyRead
	evDone
)

// event is posted by a transfer goroutine to the network goroutine.
type event struct {
	kind  eventKind
	t     *transfer
	lines []string
	data  []byte
	err   error
	buf   []byte
	reply chan bodyReply
}

type bodyReply struct {
	n   int
	err error
}

// transfer is the engine-side state of one registered stream. Fields other
// than ctx, cancel and ack are owned by the network goroutine.
type transfer struct {
	s      *Stream
	ctx    context.Context
	cancel context.CancelFunc
	// ack releases the worker after a data chunk is fully consumed.
	ack chan struct{}

	pending []byte
	read    *event
	resumed bool
}

// H2Engine runs every stream as a request on a shared HTTP/2 connection.
// Each transfer's blocking I/O happens on its own goroutine; callbacks are
// delivered through Perform on the caller's goroutine.
type H2Engine struct {
	rt     http.RoundTripper
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	events chan event
	wake   chan struct{}

	transfers map[*Stream]*transfer
	ready     []event
	resumed   []*transfer
}

// EngineOption configures an H2Engine.
type EngineOption func(*H2Engine)

// WithRoundTripper replaces the default HTTP/2 transport.
func WithRoundTripper(rt http.RoundTripper) EngineOption {
	return func(e *H2Engine) { e.rt = rt }
}

// WithTLSConfig sets the TLS configuration of the default HTTP/2 transport.
func WithTLSConfig(cfg *tls.Config) EngineOption {
	return func(e *H2Engine) { e.rt = &http2.Transport{TLSClientConfig: cfg} }
}

// WithEngineLogger sets the engine's logger.
func WithEngineLogger(l *log.Logger) EngineOption {
	return func(e *H2Engine) { e.logger = l }
}

// NewH2Engine creates an engine. Without options it dials TLS with the
// system roots and negotiates h2 via ALPN.
func NewH2Engine(opts ...EngineOption) *H2Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &H2Engine{
		rt:        &http2.Transport{},
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan event, eventQueueDepth),
		wake:      make(chan struct{}, 1),
		transfers: make(map[*Stream]*transfer),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Add registers s and starts its request.
func (e *H2Engine) Add(s *Stream) error {
	if s == nil {
		return &EngineError{Op: "add", Err: errors.New("nil stream")}
	}
	if e.ctx.Err() != nil {
		return &EngineError{Op: "add", Err: e.ctx.Err()}
	}
	if _, ok := e.transfers[s]; ok {
		return &EngineError{Op: "add", Err: fmt.Errorf("stream %d already registered", s.ID())}
	}

	ctx, cancel := context.WithCancel(e.ctx)
	t := &transfer{s: s, ctx: ctx, cancel: cancel, ack: make(chan struct{}, 1)}

	var body io.Reader
	if s.HasBody() {
		body = &bodyReader{e: e, t: t}
	}
	req, err := http.NewRequestWithContext(ctx, s.Method(), s.URL(), body)
	if err != nil {
		cancel()
		return &EngineError{Op: "add", Err: err}
	}
	for k, vs := range s.RequestHeader() {
		req.Header[k] = vs
	}

	e.transfers[s] = t
	e.wg.Add(1)
	go e.run(t, req)
	return nil
}

// Remove cancels s's transfer. Pending events for it are dropped.
func (e *H2Engine) Remove(s *Stream) {
	t, ok := e.transfers[s]
	if !ok {
		return
	}
	delete(e.transfers, s)
	t.cancel()
}

// Unpause schedules held response data and a pending body read to be
// re-offered to s on the next Perform.
func (e *H2Engine) Unpause(s *Stream) {
	t, ok := e.transfers[s]
	if !ok || t.resumed {
		return
	}
	if t.pending == nil && t.read == nil {
		return
	}
	t.resumed = true
	e.resumed = append(e.resumed, t)
}

// Wait blocks until an event is available, Wakeup is called, timeout
// elapses or ctx is done.
func (e *H2Engine) Wait(ctx context.Context, timeout time.Duration) error {
	if len(e.ready) > 0 || len(e.resumed) > 0 {
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-e.events:
		e.ready = append(e.ready, ev)
	case <-e.wake:
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Perform dispatches every available event and returns finished transfers.
func (e *H2Engine) Perform() []Completion {
drain:
	for {
		select {
		case ev := <-e.events:
			e.ready = append(e.ready, ev)
		default:
			break drain
		}
	}

	var done []Completion

	resumed := e.resumed
	e.resumed = nil
	for _, t := range resumed {
		t.resumed = false
		if !e.live(t) {
			continue
		}
		if t.pending != nil {
			done = e.deliver(t, done)
		}
		if t.read != nil && e.live(t) {
			done = e.produce(t, done)
		}
	}

	ready := e.ready
	e.ready = nil
	for _, ev := range ready {
		done = e.dispatch(ev, done)
	}
	return done
}

// Wakeup interrupts a blocked Wait. Safe from any goroutine.
func (e *H2Engine) Wakeup() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Close cancels every transfer and waits for their goroutines.
func (e *H2Engine) Close() error {
	e.cancel()
	clear(e.transfers)
	e.ready = nil
	e.resumed = nil
	e.wg.Wait()
	if c, ok := e.rt.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
	return nil
}

func (e *H2Engine) live(t *transfer) bool {
	return e.transfers[t.s] == t
}

func (e *H2Engine) dispatch(ev event, done []Completion) []Completion {
	t := ev.t
	if !e.live(t) {
		return done
	}
	switch ev.kind {
	case evHeaders:
		for _, line := range ev.lines {
			t.s.OnHeader(line)
		}
	case evData:
		t.pending = ev.data
		done = e.deliver(t, done)
	case evBodyRead:
		t.read = &ev
		done = e.produce(t, done)
	case evDone:
		delete(e.transfers, t.s)
		t.cancel()
		done = append(done, Completion{Stream: t.s, Err: ev.err})
	}
	return done
}

// deliver offers held response bytes to the stream. The worker is released
// once every byte is taken.
func (e *H2Engine) deliver(t *transfer, done []Completion) []Completion {
	r := t.s.OnBytesReceived(t.pending)
	switch {
	case r.IsAbort():
		return e.fail(t, done)
	case r.IsPause() && r.N() < len(t.pending):
		t.pending = t.pending[r.N():]
		return done
	}
	t.pending = nil
	t.ack <- struct{}{}
	return done
}

// produce answers a pending request body read.
func (e *H2Engine) produce(t *transfer, done []Completion) []Completion {
	rd := t.read
	r := t.s.Produce(rd.buf)
	switch {
	case r.IsAbort():
		t.read = nil
		rd.reply <- bodyReply{err: ErrAborted}
		return e.fail(t, done)
	case r.IsPause() && r.N() == 0:
		return done
	case r.N() == 0:
		t.read = nil
		rd.reply <- bodyReply{err: io.EOF}
	default:
		t.read = nil
		rd.reply <- bodyReply{n: r.N()}
	}
	return done
}

func (e *H2Engine) fail(t *transfer, done []Completion) []Completion {
	delete(e.transfers, t.s)
	t.cancel()
	t.pending = nil
	t.read = nil
	return append(done, Completion{Stream: t.s, Err: &EngineError{Op: "callback", Err: ErrAborted}})
}

// post hands ev to the network goroutine unless the transfer is cancelled.
func (e *H2Engine) post(t *transfer, ev event) bool {
	ev.t = t
	select {
	case e.events <- ev:
		return true
	case <-t.ctx.Done():
		return false
	}
}

// run performs one request on its own goroutine.
func (e *H2Engine) run(t *transfer, req *http.Request) {
	defer e.wg.Done()

	resp, err := e.rt.RoundTrip(req)
	if err != nil {
		e.post(t, event{kind: evDone, err: &EngineError{Op: "round trip", Err: err}})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if !e.post(t, event{kind: evHeaders, lines: headerLines(resp)}) {
		return
	}

	buf := make([]byte, readChunkSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			chunk := slices.Clone(buf[:n])
			if !e.post(t, event{kind: evData, data: chunk}) {
				return
			}
			select {
			case <-t.ack:
			case <-t.ctx.Done():
				return
			}
		}
		if rerr == io.EOF {
			e.post(t, event{kind: evDone})
			return
		}
		if rerr != nil {
			e.post(t, event{kind: evDone, err: &EngineError{Op: "read", Err: rerr}})
			return
		}
	}
}

// headerLines renders the response head as the status line followed by one
// "Name: value" line per header value, in name order.
func headerLines(resp *http.Response) []string {
	lines := []string{fmt.Sprintf("HTTP/2 %d", resp.StatusCode)}
	names := make([]string, 0, len(resp.Header))
	for name := range resp.Header {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		for _, v := range resp.Header[name] {
			lines = append(lines, name+": "+v)
		}
	}
	return lines
}

// bodyReader is the request body handed to the HTTP/2 transport. Each Read
// is answered by the stream's Produce callback on the network goroutine.
type bodyReader struct {
	e *H2Engine
	t *transfer
}

func (b *bodyReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	reply := make(chan bodyReply, 1)
	if !b.e.post(b.t, event{kind: evBodyRead, buf: p, reply: reply}) {
		return 0, b.t.ctx.Err()
	}
	select {
	case r := <-reply:
		return r.n, r.err
	case <-b.t.ctx.Done():
		return 0, b.t.ctx.Err()
	}
}
