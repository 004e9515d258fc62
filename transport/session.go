// Package transport holds one HTTP/2 connection to the voice service and
// multiplexes the downchannel, ping and event streams over it.
package transport

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pithecene-io/voxlink/log"
	"github.com/pithecene-io/voxlink/metrics"
	"github.com/pithecene-io/voxlink/mimeparse"
	"github.com/pithecene-io/voxlink/types"
)

// Service paths, relative to the endpoint.
const (
	DirectivesPath = "/" + types.APIVersion + "/directives"
	EventsPath     = "/" + types.APIVersion + "/events"
	PingPath       = "/ping"
)

// Default session timings.
const (
	DefaultConnectTimeout        = 60 * time.Second
	DefaultStreamProgressTimeout = 30 * time.Second
	DefaultPingInactivity        = 5 * time.Minute
	DefaultPingTimeout           = 30 * time.Second
	DefaultActivityWait          = 100 * time.Millisecond
	DefaultPausedWait            = 10 * time.Millisecond
)

// DefaultRetryTable is the connect backoff schedule. The last entry repeats.
var DefaultRetryTable = []time.Duration{
	250 * time.Millisecond,
	1 * time.Second,
	3 * time.Second,
	5 * time.Second,
	10 * time.Second,
	20 * time.Second,
}

// Config configures a Session.
type Config struct {
	// Endpoint is the service base URL, e.g. https://host (required).
	Endpoint string
	// ConnectTimeout bounds how long the downchannel may take to answer.
	ConnectTimeout time.Duration
	// StreamProgressTimeout fails event streams that exchange no bytes.
	StreamProgressTimeout time.Duration
	// PingInactivity is the idle time after which a ping is sent.
	PingInactivity time.Duration
	// PingTimeout bounds how long a ping may take to answer.
	PingTimeout time.Duration
	// ActivityWait is the network loop's idle poll interval.
	ActivityWait time.Duration
	// PausedWait is the retry interval of paused streams whose data source
	// does not announce new data.
	PausedWait time.Duration
	// RetryTable is the connect backoff schedule.
	RetryTable []time.Duration
	// AutoReconnect re-establishes the downchannel after a server-side
	// disconnect instead of ending the session.
	AutoReconnect bool
}

func (c *Config) applyDefaults() {
	c.Endpoint = strings.TrimRight(c.Endpoint, "/")
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.StreamProgressTimeout <= 0 {
		c.StreamProgressTimeout = DefaultStreamProgressTimeout
	}
	if c.PingInactivity <= 0 {
		c.PingInactivity = DefaultPingInactivity
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = DefaultPingTimeout
	}
	if c.ActivityWait <= 0 {
		c.ActivityWait = DefaultActivityWait
	}
	if c.PausedWait <= 0 {
		c.PausedWait = DefaultPausedWait
	}
	if len(c.RetryTable) == 0 {
		c.RetryTable = DefaultRetryTable
	}
}

// backoff returns the delay before connect attempt n (0-based retry count).
func (c *Config) backoff(n int) time.Duration {
	if n >= len(c.RetryTable) {
		n = len(c.RetryTable) - 1
	}
	return c.RetryTable[n]
}

// errUnrecoverable ends connection establishment without retry.
type errUnrecoverable struct {
	reason types.ChangedReason
}

func (e *errUnrecoverable) Error() string { return "connect: " + string(e.reason) }

// Session owns the persistent connection: the downchannel, the ping stream
// and every event stream. All stream work happens on one network goroutine.
type Session struct {
	cfg      Config
	engine   Engine
	pool     *Pool
	auth     AuthDelegate
	consumer mimeparse.MessageConsumer
	logger   *log.Logger
	metrics  *metrics.Collector
	now      func() time.Time

	queue requestQueue

	mu        sync.Mutex
	status    types.ConnectionStatus
	observers []ConnectionObserver
	cancel    context.CancelFunc
	done      chan struct{}

	// Owned by the network goroutine.
	down         *Stream
	ping         *Stream
	pingSentAt   time.Time
	events       map[*Stream]struct{}
	lastActivity time.Time
	lastPoll     time.Time
	// carry holds completions seen while connecting.
	carry []Completion
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the session's logger.
func WithSessionLogger(l *log.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// WithSessionMetrics sets the collector for connection counters.
func WithSessionMetrics(c *metrics.Collector) SessionOption {
	return func(s *Session) { s.metrics = c }
}

// NewSession creates a disconnected session that drives pool's engine.
// Directives from every GET stream are delivered to consumer.
func NewSession(cfg Config, pool *Pool, auth AuthDelegate, consumer mimeparse.MessageConsumer, opts ...SessionOption) (*Session, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("session requires an endpoint")
	}
	if pool == nil || auth == nil || consumer == nil {
		return nil, errors.New("session requires a pool, auth delegate and consumer")
	}
	cfg.applyDefaults()

	s := &Session{
		cfg:      cfg,
		engine:   pool.Engine(),
		pool:     pool,
		auth:     auth,
		consumer: consumer,
		now:      time.Now,
		status:   types.ConnectionDisconnected,
		events:   make(map[*Stream]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AddObserver registers a connection observer.
func (s *Session) AddObserver(o ConnectionObserver) {
	if o == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

// Status returns the connection status.
func (s *Session) Status() types.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsConnected reports whether the downchannel is established.
func (s *Session) IsConnected() bool {
	return s.Status() == types.ConnectionConnected
}

// Connect starts the network goroutine. It returns immediately; observers
// are told when the downchannel is established. Connecting a session that
// is not disconnected is a no-op.
func (s *Session) Connect() error {
	s.mu.Lock()
	if s.status != types.ConnectionDisconnected {
		s.mu.Unlock()
		return nil
	}
	prev := s.done
	s.mu.Unlock()

	// A loop that ended on its own has already reported; join it.
	if prev != nil {
		<-prev
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != types.ConnectionDisconnected {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.status = types.ConnectionPending
	s.cancel = cancel
	s.done = make(chan struct{})

	s.logger.Info("connecting", map[string]any{"endpoint": s.cfg.Endpoint})
	go s.networkLoop(ctx, s.done)
	return nil
}

// Disconnect stops the network goroutine and waits for it. Active and
// queued requests complete with NotConnected.
func (s *Session) Disconnect() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.engine.Wakeup()
	<-done
}

// Send queues req for delivery. A disconnected session completes it with
// NotConnected immediately; a connecting session holds it until connected.
func (s *Session) Send(req *types.MessageRequest) {
	if req == nil {
		return
	}
	s.mu.Lock()
	if s.status == types.ConnectionDisconnected {
		s.mu.Unlock()
		s.logger.Warn("send while disconnected", map[string]any{"request_id": req.ID()})
		req.SendCompleted(types.SendStatusNotConnected)
		return
	}
	s.queue.push(req)
	s.mu.Unlock()
	s.engine.Wakeup()
}

func (s *Session) setStatus(status types.ConnectionStatus, reason types.ChangedReason) {
	s.mu.Lock()
	if s.status == status {
		s.mu.Unlock()
		return
	}
	s.status = status
	observers := append([]ConnectionObserver(nil), s.observers...)
	s.mu.Unlock()

	s.logger.Info("connection status changed", map[string]any{
		"status": string(status),
		"reason": string(reason),
	})
	if status != types.ConnectionConnected {
		return
	}
	for _, o := range observers {
		o.OnConnected()
	}
}

func (s *Session) notifyServerSideDisconnect() {
	s.mu.Lock()
	observers := append([]ConnectionObserver(nil), s.observers...)
	s.mu.Unlock()
	for _, o := range observers {
		o.OnServerSideDisconnect()
	}
}

// networkLoop is the session's only stream-driving goroutine.
func (s *Session) networkLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	reason := s.run(ctx)
	s.dropStreams()

	// Status and queue change together so Send never strands a request.
	s.mu.Lock()
	s.status = types.ConnectionDisconnected
	s.cancel = nil
	queued := s.queue.drain()
	observers := append([]ConnectionObserver(nil), s.observers...)
	s.mu.Unlock()

	for _, req := range queued {
		req.SendCompleted(types.SendStatusNotConnected)
	}
	s.metrics.IncDisconnect()
	s.logger.Info("disconnected", map[string]any{"reason": string(reason), "failed_queued": len(queued)})
	for _, o := range observers {
		o.OnDisconnected(reason)
	}
}

func (s *Session) run(ctx context.Context) types.ChangedReason {
	for {
		if err := s.establish(ctx); err != nil {
			var unrecoverable *errUnrecoverable
			if errors.As(err, &unrecoverable) {
				return unrecoverable.reason
			}
			return types.ReasonACLClientRequest
		}
		s.metrics.IncConnect()
		s.setStatus(types.ConnectionConnected, types.ReasonSuccess)

		reason := s.serve(ctx)
		if reason != types.ReasonServerSideDisconnect {
			return reason
		}
		s.metrics.IncServerSideDisconnect()
		s.notifyServerSideDisconnect()
		if !s.cfg.AutoReconnect || ctx.Err() != nil {
			return reason
		}

		// Keep the queue; streams of the dropped connection are failed.
		s.dropStreams()
		s.setStatus(types.ConnectionPending, reason)
	}
}

// establish opens the downchannel, retrying per the backoff table until it
// answers 200, ctx is cancelled or the failure is unrecoverable.
func (s *Session) establish(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := s.cfg.backoff(attempt - 1)
			s.logger.Debug("connect retry scheduled", map[string]any{"attempt": attempt, "delay_ms": delay.Milliseconds()})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		token := s.auth.AuthToken()
		if token == "" {
			s.logger.Warn("no auth token available", nil)
			s.metrics.IncConnectFailure()
			continue
		}

		down := s.pool.CreateGetStream(s.cfg.Endpoint+DirectivesPath, token, s.consumer)
		if down == nil {
			return &errUnrecoverable{reason: types.ReasonInternalError}
		}

		status, finished, err := s.awaitStatus(ctx, down)
		if err != nil {
			s.pool.Release(down)
			return err
		}
		if status == http.StatusOK {
			s.down = down
			s.lastActivity = s.now()
			if finished != nil {
				s.carry = append(s.carry, *finished)
			}
			return nil
		}

		s.pool.Release(down)
		s.metrics.IncConnectFailure()
		if status != 0 {
			s.logger.Warn("downchannel rejected", map[string]any{"status": status, "attempt": attempt})
		}
		if status == http.StatusForbidden {
			return &errUnrecoverable{reason: types.ReasonInvalidAuth}
		}
	}
}

// awaitStatus drives the engine until the downchannel has a response status.
// The status is 0 when the transfer ended without one or timed out. When
// the transfer already finished, its completion is returned too.
func (s *Session) awaitStatus(ctx context.Context, down *Stream) (int, *Completion, error) {
	deadline := s.now().Add(s.cfg.ConnectTimeout)
	for {
		if err := s.engine.Wait(ctx, s.cfg.ActivityWait); err != nil {
			return 0, nil, err
		}
		for _, c := range s.engine.Perform() {
			if c.Stream != down {
				continue
			}
			if c.Err != nil {
				s.logger.Warn("downchannel failed", map[string]any{"error": c.Err.Error()})
			}
			return down.Status(), &c, nil
		}
		if down.Status() != 0 {
			return down.Status(), nil, nil
		}
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		if s.now().After(deadline) {
			s.logger.Warn("downchannel connect timed out", map[string]any{"timeout_ms": s.cfg.ConnectTimeout.Milliseconds()})
			return 0, nil, nil
		}
	}
}

// serve runs the connected loop until disconnect.
func (s *Session) serve(ctx context.Context) types.ChangedReason {
	for {
		if ctx.Err() != nil {
			return types.ReasonACLClientRequest
		}

		carry := s.carry
		s.carry = nil
		for _, c := range carry {
			if reason, stop := s.complete(c); stop {
				return reason
			}
		}

		wait := s.cfg.ActivityWait
		if s.needsPolling() {
			wait = s.cfg.PausedWait
		}
		if err := s.engine.Wait(ctx, wait); err != nil {
			return types.ReasonACLClientRequest
		}

		for _, c := range s.engine.Perform() {
			if reason, stop := s.complete(c); stop {
				return reason
			}
		}
		s.cleanupStalled()
		if reason, stop := s.checkPing(); stop {
			return reason
		}
		s.processQueue()
		s.unpause()
	}
}

// complete handles one finished transfer.
func (s *Session) complete(c Completion) (types.ChangedReason, bool) {
	st := c.Stream
	switch {
	case st == s.down:
		fields := map[string]any{"status": st.Status()}
		if c.Err != nil {
			fields["error"] = c.Err.Error()
		}
		s.logger.Warn("downchannel closed by server", fields)
		s.pool.Release(st)
		s.down = nil
		return types.ReasonServerSideDisconnect, true

	case st == s.ping:
		status := st.Status()
		s.pool.Release(st)
		s.ping = nil
		if c.Err != nil || status != http.StatusNoContent {
			s.metrics.IncPingFailure()
			s.logger.Warn("ping failed", map[string]any{"status": status})
			return types.ReasonServerSideDisconnect, true
		}
		return types.ReasonNone, false
	}

	if _, ok := s.events[st]; !ok {
		return types.ReasonNone, false
	}
	delete(s.events, st)
	st.SetTerminalError(c.Err)
	if IsTimeout(c.Err) {
		s.metrics.IncTimeout()
	}
	st.NotifyRequestObserver()
	s.pool.Release(st)
	return types.ReasonNone, false
}

// cleanupStalled fails event streams that made no progress in time.
func (s *Session) cleanupStalled() {
	now := s.now()
	for st := range s.events {
		if now.Sub(st.LastProgress()) <= s.cfg.StreamProgressTimeout {
			continue
		}
		s.logger.Warn("event stream stalled", map[string]any{
			"stream_id":  st.ID(),
			"timeout_ms": s.cfg.StreamProgressTimeout.Milliseconds(),
		})
		delete(s.events, st)
		s.metrics.IncTimeout()
		st.NotifyRequestObserverWith(types.SendStatusTimedout)
		s.pool.Release(st)
	}
}

// checkPing sends a ping after inactivity and enforces its deadline.
func (s *Session) checkPing() (types.ChangedReason, bool) {
	now := s.now()
	if s.ping != nil {
		if now.Sub(s.pingSentAt) > s.cfg.PingTimeout {
			s.metrics.IncPingFailure()
			s.logger.Warn("ping timed out", nil)
			s.pool.Release(s.ping)
			s.ping = nil
			return types.ReasonServerSideDisconnect, true
		}
		return types.ReasonNone, false
	}
	if now.Sub(s.lastActivity) < s.cfg.PingInactivity {
		return types.ReasonNone, false
	}

	ping := s.pool.CreateGetStream(s.cfg.Endpoint+PingPath, s.auth.AuthToken(), s.consumer)
	if ping == nil {
		return types.ReasonNone, false
	}
	s.ping = ping
	s.pingSentAt = now
	s.lastActivity = now
	s.metrics.IncPingSent()
	s.logger.Debug("ping sent", nil)
	return types.ReasonNone, false
}

// awaitingResponse reports whether an event stream has no status yet.
func (s *Session) awaitingResponse() bool {
	for st := range s.events {
		if st.Status() == 0 {
			return true
		}
	}
	return false
}

// processQueue starts queued requests, one at a time per response.
func (s *Session) processQueue() {
	for !s.awaitingResponse() {
		req := s.queue.peek()
		if req == nil {
			return
		}
		if req.Done() {
			s.queue.pop()
			continue
		}

		path := req.URIPathExtension()
		if path == "" {
			path = EventsPath
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}

		token := s.auth.AuthToken()
		st := s.pool.CreatePostStream(s.cfg.Endpoint+path, token, req, s.consumer)
		if st == nil {
			if token != "" && s.pool.Len() >= s.pool.MaxStreams() {
				// Retry once a stream is released.
				return
			}
			s.queue.pop()
			req.SendCompleted(types.SendStatusInternalError)
			continue
		}
		s.queue.pop()
		s.events[st] = struct{}{}
		s.lastActivity = s.now()
		s.metrics.IncRequestSent()
	}
}

// needsPolling reports whether a paused stream can only be resumed by
// retrying it.
func (s *Session) needsPolling() bool {
	if s.down != nil && s.down.Paused() {
		return true
	}
	for st := range s.events {
		if st.Paused() && !st.WakesOnData() {
			return true
		}
	}
	return false
}

// unpause re-offers paused streams. A body waiting on an announcing reader
// resumes once it has data; other streams are retried every PausedWait.
func (s *Session) unpause() {
	now := s.now()
	poll := now.Sub(s.lastPoll) >= s.cfg.PausedWait
	if poll {
		s.lastPoll = now
	}
	if s.down != nil && s.down.Paused() && poll {
		s.engine.Unpause(s.down)
	}
	for st := range s.events {
		if !st.Paused() {
			continue
		}
		if st.WakesOnData() {
			if st.TakeReady() {
				s.engine.Unpause(st)
			}
			continue
		}
		if poll {
			s.engine.Unpause(st)
		}
	}
}

// dropStreams cancels every stream and fails active events with
// NotConnected. Queued requests are kept.
func (s *Session) dropStreams() {
	for st := range s.events {
		st.NotifyRequestObserverWith(types.SendStatusNotConnected)
		s.pool.Release(st)
	}
	clear(s.events)
	s.carry = nil
	if s.ping != nil {
		s.pool.Release(s.ping)
		s.ping = nil
	}
	if s.down != nil {
		s.pool.Release(s.down)
		s.down = nil
	}
}
