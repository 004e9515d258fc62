package transport

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pithecene-io/voxlink/attachment"
	"github.com/pithecene-io/voxlink/metrics"
	"github.com/pithecene-io/voxlink/types"
)

const waitTimeout = 5 * time.Second

// fakeService is an HTTP/2 TLS server with the service's three paths.
type fakeService struct {
	srv *httptest.Server

	// downStatus is the downchannel status per attempt; the last repeats.
	downStatus []int
	// downStalls is the number of leading attempts that never answer.
	downStalls int
	downParts  []string
	// closeDown ends the downchannel after its parts instead of holding it.
	closeDown  bool
	onEvent    http.HandlerFunc
	pingStatus int

	downAttempts atomic.Int32
	events       atomic.Int32
	pings        atomic.Int32
}

func (f *fakeService) start(t *testing.T) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(DirectivesPath, f.directives)
	mux.HandleFunc(EventsPath, f.event)
	mux.HandleFunc(PingPath, func(w http.ResponseWriter, _ *http.Request) {
		f.pings.Add(1)
		status := f.pingStatus
		if status == 0 {
			status = http.StatusNoContent
		}
		w.WriteHeader(status)
	})

	f.srv = httptest.NewUnstartedServer(mux)
	f.srv.EnableHTTP2 = true
	f.srv.StartTLS()
	t.Cleanup(f.srv.Close)
}

func (f *fakeService) directives(w http.ResponseWriter, r *http.Request) {
	attempt := int(f.downAttempts.Add(1)) - 1
	if attempt < f.downStalls {
		<-r.Context().Done()
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+testToken {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	status := http.StatusOK
	if len(f.downStatus) > 0 {
		status = f.downStatus[min(attempt, len(f.downStatus)-1)]
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "multipart/related; boundary="+testBound+"; type=\"application/json\"")
	w.WriteHeader(http.StatusOK)
	flusher := w.(http.Flusher)
	flusher.Flush()

	if len(f.downParts) > 0 {
		_, _ = io.WriteString(w, mimeBody(f.downParts...))
		flusher.Flush()
	}
	if f.closeDown {
		return
	}
	<-r.Context().Done()
}

func (f *fakeService) event(w http.ResponseWriter, r *http.Request) {
	f.events.Add(1)
	if f.onEvent != nil {
		f.onEvent(w, r)
		return
	}
	_, _ = io.Copy(io.Discard, r.Body)
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeService) tlsTransport(t *testing.T) EngineOption {
	t.Helper()
	tr, ok := f.srv.Client().Transport.(*http.Transport)
	if !ok {
		t.Fatal("test server client has no *http.Transport")
	}
	return WithTLSConfig(tr.TLSClientConfig)
}

// connRecorder is a ConnectionObserver backed by channels.
type connRecorder struct {
	connected    chan struct{}
	disconnected chan types.ChangedReason
	serverSide   atomic.Int32
}

func newConnRecorder() *connRecorder {
	return &connRecorder{
		connected:    make(chan struct{}, 8),
		disconnected: make(chan types.ChangedReason, 8),
	}
}

func (c *connRecorder) OnConnected() { c.connected <- struct{}{} }

func (c *connRecorder) OnDisconnected(reason types.ChangedReason) { c.disconnected <- reason }

func (c *connRecorder) OnServerSideDisconnect() { c.serverSide.Add(1) }

func (c *connRecorder) waitConnected(t *testing.T) {
	t.Helper()
	select {
	case <-c.connected:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for OnConnected")
	}
}

func (c *connRecorder) waitDisconnected(t *testing.T) types.ChangedReason {
	t.Helper()
	select {
	case reason := <-c.disconnected:
		return reason
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for OnDisconnected")
		return ""
	}
}

type sessionHarness struct {
	session  *Session
	consumer *collectingConsumer
	conn     *connRecorder
	metrics  *metrics.Collector
}

func newHarness(t *testing.T, svc *fakeService, cfg Config) *sessionHarness {
	t.Helper()
	svc.start(t)

	cfg.Endpoint = svc.srv.URL
	if cfg.ActivityWait == 0 {
		cfg.ActivityWait = 10 * time.Millisecond
	}
	if cfg.RetryTable == nil {
		cfg.RetryTable = []time.Duration{10 * time.Millisecond}
	}

	c := metrics.NewCollector("noop", "", "", svc.srv.URL)
	engine := NewH2Engine(svc.tlsTransport(t))
	pool := newTestPool(t, DefaultMaxStreams, engine, nil, WithPoolMetrics(c))
	consumer := newCollectingConsumer()

	s, err := NewSession(cfg, pool, StaticToken(testToken), consumer, WithSessionMetrics(c))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	conn := newConnRecorder()
	s.AddObserver(conn)

	t.Cleanup(func() { _ = engine.Close() })
	t.Cleanup(s.Disconnect)
	return &sessionHarness{session: s, consumer: consumer, conn: conn, metrics: c}
}

func waitCompleted(t *testing.T, rec *completionRecorder) {
	t.Helper()
	select {
	case <-rec.done:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for request completion")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewSession_RequiresArguments(t *testing.T) {
	pool := newTestPool(t, 1, nil, nil)

	if _, err := NewSession(Config{}, pool, StaticToken(testToken), newCollectingConsumer()); err == nil {
		t.Error("NewSession without endpoint succeeded")
	}
	if _, err := NewSession(Config{Endpoint: "https://x"}, pool, StaticToken(testToken), nil); err == nil {
		t.Error("NewSession without consumer succeeded")
	}
	if _, err := NewSession(Config{Endpoint: "https://x"}, nil, StaticToken(testToken), newCollectingConsumer()); err == nil {
		t.Error("NewSession without pool succeeded")
	}
	if _, err := NewPool(1, nil, nil); err == nil {
		t.Error("NewPool without engine succeeded")
	}
}

func TestConfig_Backoff(t *testing.T) {
	cfg := Config{Endpoint: "https://x/"}
	cfg.applyDefaults()
	if cfg.Endpoint != "https://x" {
		t.Errorf("Endpoint = %q, want trailing slash trimmed", cfg.Endpoint)
	}
	if got := cfg.backoff(0); got != DefaultRetryTable[0] {
		t.Errorf("backoff(0) = %v, want %v", got, DefaultRetryTable[0])
	}
	last := DefaultRetryTable[len(DefaultRetryTable)-1]
	if got := cfg.backoff(100); got != last {
		t.Errorf("backoff(100) = %v, want %v", got, last)
	}
}

func TestSession_DownchannelDirectives(t *testing.T) {
	svc := &fakeService{downParts: []string{directivePart(testMessage)}}
	h := newHarness(t, svc, Config{})

	if err := h.session.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.conn.waitConnected(t)
	if !h.session.IsConnected() {
		t.Error("IsConnected = false after OnConnected")
	}

	waitFor(t, "directive", func() bool { return len(h.consumer.snapshot()) == 1 })
	if got := h.consumer.snapshot()[0]; got != testMessage {
		t.Errorf("directive = %q, want %q", got, testMessage)
	}
	h.consumer.mu.Lock()
	ctxID := h.consumer.contexts[0]
	h.consumer.mu.Unlock()
	if ctxID != AttachmentContextPrefix+"1" {
		t.Errorf("context ID = %q, want %s1", ctxID, AttachmentContextPrefix)
	}

	h.session.Disconnect()
	if reason := h.conn.waitDisconnected(t); reason != types.ReasonACLClientRequest {
		t.Errorf("reason = %s, want %s", reason, types.ReasonACLClientRequest)
	}
	if h.session.IsConnected() {
		t.Error("IsConnected = true after Disconnect")
	}
}

func TestSession_SendEventOutcomes(t *testing.T) {
	exception := `{"header":{"namespace":"System","name":"Exception"},"payload":{"code":"INVALID_REQUEST_EXCEPTION","description":"bad event"}}`

	tests := []struct {
		name          string
		handler       http.HandlerFunc
		wantStatus    types.SendStatus
		wantException string
		wantMessages  int
	}{
		{
			name: "no content",
			handler: func(w http.ResponseWriter, r *http.Request) {
				mr, err := r.MultipartReader()
				if err != nil {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				part, err := mr.NextPart()
				if err != nil || part.FormName() != metadataFieldName {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				_, _ = io.Copy(io.Discard, r.Body)
				w.WriteHeader(http.StatusNoContent)
			},
			wantStatus: types.SendStatusSuccessNoContent,
		},
		{
			name: "exception body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.Copy(io.Discard, r.Body)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, exception)
			},
			wantStatus:    types.SendStatusServerOtherError,
			wantException: exception,
		},
		{
			name: "directive response",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.Copy(io.Discard, r.Body)
				w.Header().Set("Content-Type", "multipart/related; boundary="+testBound)
				w.WriteHeader(http.StatusOK)
				_, _ = io.WriteString(w, mimeBody(directivePart(testMessage)))
			},
			wantStatus:   types.SendStatusSuccess,
			wantMessages: 1,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.Copy(io.Discard, r.Body)
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantStatus: types.SendStatusServerInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{onEvent: tt.handler}
			h := newHarness(t, svc, Config{})
			_ = h.session.Connect()
			h.conn.waitConnected(t)

			rec := newCompletionRecorder()
			req := types.NewMessageRequest(`{"event":{"header":{"namespace":"System","name":"UserInactivityReport"},"payload":{}}}`, "")
			req.AddObserver(rec)
			h.session.Send(req)
			waitCompleted(t, rec)

			status, exc := req.Result()
			if status != tt.wantStatus {
				t.Errorf("status = %s, want %s", status, tt.wantStatus)
			}
			if exc != tt.wantException {
				t.Errorf("exception = %q, want %q", exc, tt.wantException)
			}
			if got := len(h.consumer.snapshot()); got != tt.wantMessages {
				t.Errorf("messages = %d, want %d", got, tt.wantMessages)
			}
			statuses, exceptions := rec.counts()
			if statuses+exceptions != 1 {
				t.Errorf("completions = %d, want 1", statuses+exceptions)
			}
		})
	}
}

func TestSession_SendWhileDisconnected(t *testing.T) {
	svc := &fakeService{}
	h := newHarness(t, svc, Config{})

	req := types.NewMessageRequest(`{}`, "")
	h.session.Send(req)
	if status, _ := req.Result(); status != types.SendStatusNotConnected {
		t.Errorf("status = %s, want %s", status, types.SendStatusNotConnected)
	}
}

func TestSession_GatingAndTeardown(t *testing.T) {
	svc := &fakeService{
		// Never answer, so the first event stays awaiting its status.
		onEvent: func(_ http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		},
	}
	h := newHarness(t, svc, Config{})
	_ = h.session.Connect()
	h.conn.waitConnected(t)

	var reqs []*types.MessageRequest
	for range 3 {
		req := types.NewMessageRequest(`{}`, "")
		h.session.Send(req)
		reqs = append(reqs, req)
	}

	waitFor(t, "first event", func() bool { return svc.events.Load() == 1 })
	time.Sleep(100 * time.Millisecond)
	if n := svc.events.Load(); n != 1 {
		t.Errorf("events started = %d, want 1 while the first awaits its status", n)
	}

	h.session.Disconnect()
	for i, req := range reqs {
		if status, _ := req.Result(); status != types.SendStatusNotConnected {
			t.Errorf("request %d status = %s, want %s", i, status, types.SendStatusNotConnected)
		}
	}
}

func TestSession_StalledEventTimesOut(t *testing.T) {
	svc := &fakeService{
		onEvent: func(_ http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		},
	}
	h := newHarness(t, svc, Config{StreamProgressTimeout: 100 * time.Millisecond})
	_ = h.session.Connect()
	h.conn.waitConnected(t)

	rec := newCompletionRecorder()
	req := types.NewMessageRequest(`{}`, "")
	req.AddObserver(rec)
	h.session.Send(req)
	waitCompleted(t, rec)

	if status, _ := req.Result(); status != types.SendStatusTimedout {
		t.Errorf("status = %s, want %s", status, types.SendStatusTimedout)
	}
	if got := h.metrics.Snapshot().Timeouts; got != 1 {
		t.Errorf("Timeouts = %d, want 1", got)
	}
	if !h.session.IsConnected() {
		t.Error("stalled event disconnected the session")
	}
}

func TestSession_ServerSideDisconnect(t *testing.T) {
	svc := &fakeService{closeDown: true}
	h := newHarness(t, svc, Config{})
	_ = h.session.Connect()
	h.conn.waitConnected(t)

	if reason := h.conn.waitDisconnected(t); reason != types.ReasonServerSideDisconnect {
		t.Errorf("reason = %s, want %s", reason, types.ReasonServerSideDisconnect)
	}
	if got := h.conn.serverSide.Load(); got != 1 {
		t.Errorf("OnServerSideDisconnect calls = %d, want 1", got)
	}
}

func TestSession_AutoReconnect(t *testing.T) {
	svc := &fakeService{closeDown: true}
	h := newHarness(t, svc, Config{AutoReconnect: true})
	_ = h.session.Connect()

	h.conn.waitConnected(t)
	h.conn.waitConnected(t)
	if got := svc.downAttempts.Load(); got < 2 {
		t.Errorf("downchannel attempts = %d, want at least 2", got)
	}
}

func TestSession_InvalidAuthStopsRetrying(t *testing.T) {
	svc := &fakeService{downStatus: []int{http.StatusForbidden}}
	h := newHarness(t, svc, Config{})
	_ = h.session.Connect()

	if reason := h.conn.waitDisconnected(t); reason != types.ReasonInvalidAuth {
		t.Errorf("reason = %s, want %s", reason, types.ReasonInvalidAuth)
	}
	if got := svc.downAttempts.Load(); got != 1 {
		t.Errorf("downchannel attempts = %d, want 1", got)
	}
}

func TestSession_ConnectRetriesWithBackoff(t *testing.T) {
	svc := &fakeService{downStatus: []int{http.StatusServiceUnavailable, http.StatusInternalServerError, http.StatusOK}}
	h := newHarness(t, svc, Config{})
	_ = h.session.Connect()
	h.conn.waitConnected(t)

	if got := svc.downAttempts.Load(); got != 3 {
		t.Errorf("downchannel attempts = %d, want 3", got)
	}
	snap := h.metrics.Snapshot()
	if snap.ConnectFailures != 2 || snap.Connects != 1 {
		t.Errorf("connect failures/connects = %d/%d, want 2/1", snap.ConnectFailures, snap.Connects)
	}
}

func TestSession_ConnectTimeoutRetries(t *testing.T) {
	svc := &fakeService{downStalls: 1}
	h := newHarness(t, svc, Config{ConnectTimeout: 100 * time.Millisecond})
	_ = h.session.Connect()
	h.conn.waitConnected(t)

	if got := svc.downAttempts.Load(); got != 2 {
		t.Errorf("downchannel attempts = %d, want 2", got)
	}
	snap := h.metrics.Snapshot()
	if snap.ConnectFailures != 1 || snap.Connects != 1 {
		t.Errorf("connect failures/connects = %d/%d, want 1/1", snap.ConnectFailures, snap.Connects)
	}
}

func TestSession_PausedBodyResumesOnData(t *testing.T) {
	bodies := make(chan []byte, 1)
	svc := &fakeService{onEvent: func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		bodies <- data
		w.WriteHeader(http.StatusNoContent)
	}}
	// Long waits: the body can only resume through the reader's notification.
	h := newHarness(t, svc, Config{ActivityWait: time.Hour, PausedWait: time.Hour})
	_ = h.session.Connect()
	h.conn.waitConnected(t)

	mgr := attachment.NewManager()
	w, err := mgr.CreateWriter("mic", attachment.NonBlocking)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	rd, err := mgr.CreateReader("mic", attachment.NonBlocking)
	if err != nil {
		t.Fatalf("CreateReader: %v", err)
	}
	rec := newCompletionRecorder()
	req := types.NewMessageRequest(`{"event":{}}`, "")
	req.AddAttachment("audio", rd)
	req.AddObserver(rec)
	h.session.Send(req)

	waitFor(t, "event stream", func() bool { return svc.events.Load() == 1 })
	for _, chunk := range []string{"frame-one|", "frame-two"} {
		time.Sleep(20 * time.Millisecond)
		if _, status := w.Write([]byte(chunk)); status != attachment.WriteOK {
			t.Fatalf("Write status = %s", status)
		}
	}
	_ = w.Close()
	waitCompleted(t, rec)

	if status, _ := req.Result(); status != types.SendStatusSuccessNoContent {
		t.Errorf("status = %s, want %s", status, types.SendStatusSuccessNoContent)
	}
	if got := <-bodies; !bytes.Contains(got, []byte("frame-one|frame-two")) {
		t.Errorf("server body = %q, want the written frames", got)
	}
}

func TestSession_PingOnInactivity(t *testing.T) {
	svc := &fakeService{}
	h := newHarness(t, svc, Config{PingInactivity: 50 * time.Millisecond})
	_ = h.session.Connect()
	h.conn.waitConnected(t)

	waitFor(t, "ping", func() bool { return svc.pings.Load() >= 2 })
	if !h.session.IsConnected() {
		t.Error("IsConnected = false after successful pings")
	}
	if h.metrics.Snapshot().PingFailures != 0 {
		t.Error("ping failures recorded for 204 answers")
	}
}

func TestSession_FailedPingDisconnects(t *testing.T) {
	svc := &fakeService{pingStatus: http.StatusOK}
	h := newHarness(t, svc, Config{PingInactivity: 30 * time.Millisecond})
	_ = h.session.Connect()
	h.conn.waitConnected(t)

	if reason := h.conn.waitDisconnected(t); reason != types.ReasonServerSideDisconnect {
		t.Errorf("reason = %s, want %s", reason, types.ReasonServerSideDisconnect)
	}
	if h.metrics.Snapshot().PingFailures != 1 {
		t.Errorf("PingFailures = %d, want 1", h.metrics.Snapshot().PingFailures)
	}
}
