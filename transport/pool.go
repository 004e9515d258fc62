package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/pithecene-io/voxlink/attachment"
	"github.com/pithecene-io/voxlink/log"
	"github.com/pithecene-io/voxlink/metrics"
	"github.com/pithecene-io/voxlink/mimeparse"
	"github.com/pithecene-io/voxlink/streamlog"
	"github.com/pithecene-io/voxlink/types"
)

// DefaultMaxStreams is the default bound on concurrently open streams.
const DefaultMaxStreams = 10

// Pool admission rejection reasons.
const (
	RejectEmptyURL           = "emptyURL"
	RejectEmptyAuthToken     = "emptyAuthToken"
	RejectNullConsumer       = "nullConsumer"
	RejectNullMessageRequest = "nullMessageRequest"
	RejectMaxStreamsReached  = "maxStreamsReached"
	RejectEngineAdd          = "engineAddFailed"
)

// Pool bounds the number of open streams and is the only place streams are
// created and retired. A created stream is registered with the engine and
// Release cancels its transfer, so create and Release run on the goroutine
// that drives the engine.
type Pool struct {
	maxStreams  int
	engine      Engine
	attachments *attachment.Manager
	observer    mimeparse.AttachmentObserver
	recorder    *streamlog.Recorder
	logger      *log.Logger
	metrics     *metrics.Collector
	now         func() time.Time

	mu        sync.Mutex
	allocated map[*Stream]struct{}
	freeIDs   []uint32
	nextID    uint32
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolLogger sets the pool's logger.
func WithPoolLogger(l *log.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// WithPoolMetrics sets the collector for stream counters.
func WithPoolMetrics(c *metrics.Collector) PoolOption {
	return func(p *Pool) { p.metrics = c }
}

// WithStreamRecorder enables per-stream byte logs.
func WithStreamRecorder(r *streamlog.Recorder) PoolOption {
	return func(p *Pool) { p.recorder = r }
}

// WithAttachmentObserver is told about every completed downstream attachment.
func WithAttachmentObserver(o mimeparse.AttachmentObserver) PoolOption {
	return func(p *Pool) { p.observer = o }
}

// NewPool creates a pool admitting at most maxStreams open streams on
// engine. A non-positive maxStreams selects DefaultMaxStreams.
func NewPool(maxStreams int, engine Engine, attachments *attachment.Manager, opts ...PoolOption) (*Pool, error) {
	if engine == nil {
		return nil, errors.New("pool requires an engine")
	}
	if maxStreams <= 0 {
		maxStreams = DefaultMaxStreams
	}
	if attachments == nil {
		attachments = attachment.NewManager()
	}
	p := &Pool{
		maxStreams:  maxStreams,
		engine:      engine,
		attachments: attachments,
		allocated:   make(map[*Stream]struct{}),
		nextID:      1,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Engine returns the engine the pool registers streams with.
func (p *Pool) Engine() Engine { return p.engine }

// MaxStreams returns the admission bound.
func (p *Pool) MaxStreams() int { return p.maxStreams }

// Attachments returns the attachment manager shared by the pool's parsers.
func (p *Pool) Attachments() *attachment.Manager { return p.attachments }

// Len returns the number of open streams.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.allocated)
}

// CreateGetStream admits a downstream stream. Returns nil when an argument
// is empty or the pool is full.
func (p *Pool) CreateGetStream(url, token string, consumer mimeparse.MessageConsumer) *Stream {
	if cause := validate(url, token, consumer); cause != "" {
		p.reject("create get stream failed", cause, url)
		return nil
	}
	s := p.allocate()
	if s == nil {
		p.reject("create get stream failed", RejectMaxStreamsReached, url)
		return nil
	}
	if !s.InitGet(url, token, consumer) {
		p.Release(s)
		return nil
	}
	s.slog = p.recorder.Open(s.id, s.method, url)
	return p.register(s, "create get stream failed")
}

// CreatePostStream admits an upstream stream for req. Returns nil when an
// argument is empty or nil, or the pool is full.
func (p *Pool) CreatePostStream(url, token string, req *types.MessageRequest, consumer mimeparse.MessageConsumer) *Stream {
	cause := validate(url, token, consumer)
	if cause == "" && req == nil {
		cause = RejectNullMessageRequest
	}
	if cause != "" {
		p.reject("create post stream failed", cause, url)
		return nil
	}
	s := p.allocate()
	if s == nil {
		p.reject("create post stream failed", RejectMaxStreamsReached, url)
		return nil
	}
	if !s.InitPost(url, token, req, consumer) {
		p.Release(s)
		return nil
	}
	s.body.wake = func() {
		s.ready.Store(true)
		p.engine.Wakeup()
	}
	s.slog = p.recorder.Open(s.id, s.method, url)
	return p.register(s, "create post stream failed")
}

// register starts s's transfer. A stream the engine refuses is retired.
func (p *Pool) register(s *Stream, msg string) *Stream {
	if err := p.engine.Add(s); err != nil {
		url := s.URL()
		p.Release(s)
		p.metrics.IncStreamRejected(RejectEngineAdd)
		p.logger.Warn(msg, map[string]any{"reason": RejectEngineAdd, "error": err.Error(), "url": url})
		return nil
	}
	return s
}

// Release cancels a stream's transfer and retires it. No stream callback
// fires afterwards. Releasing nil or a stream this pool does not hold is a
// no-op, as is the engine removal of a transfer that already finished.
func (p *Pool) Release(s *Stream) {
	if s == nil {
		return
	}
	p.mu.Lock()
	if _, ok := p.allocated[s]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.allocated, s)
	p.freeIDs = append(p.freeIDs, s.id)
	p.mu.Unlock()

	p.engine.Remove(s)
	s.release()
	p.metrics.IncStreamReleased()
	p.logger.Debug("stream released", map[string]any{"stream_id": s.id})
}

func (p *Pool) allocate() *Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.allocated) >= p.maxStreams {
		return nil
	}

	var id uint32
	if n := len(p.freeIDs); n > 0 {
		id = p.freeIDs[n-1]
		p.freeIDs = p.freeIDs[:n-1]
	} else {
		// Client-initiated HTTP/2 streams are odd.
		id = p.nextID
		p.nextID += 2
	}

	s := &Stream{
		id:      id,
		pool:    p,
		logger:  p.logger,
		metrics: p.metrics,
		now:     p.now,
	}
	opts := []mimeparse.Option{mimeparse.WithLogger(p.logger)}
	opts = append(opts, mimeparse.WithAttachmentObserver(attachmentCounter{p}))
	s.parser = mimeparse.NewParser(s, p.attachments, opts...)

	p.allocated[s] = struct{}{}
	p.metrics.IncStreamCreated()
	return s
}

func (p *Pool) reject(msg, cause, url string) {
	p.metrics.IncStreamRejected(cause)
	p.logger.Warn(msg, map[string]any{"reason": cause, "url": url})
}

// attachmentCounter records attachment metrics before forwarding to the
// pool's observer.
type attachmentCounter struct {
	p *Pool
}

func (a attachmentCounter) OnAttachmentStart(contextID, attachmentID, contentID string) {
	if so, ok := a.p.observer.(mimeparse.AttachmentStartObserver); ok {
		so.OnAttachmentStart(contextID, attachmentID, contentID)
	}
}

func (a attachmentCounter) OnAttachment(contextID, attachmentID, contentID string, size int64) {
	a.p.metrics.AddAttachment(size)
	if a.p.observer != nil {
		a.p.observer.OnAttachment(contextID, attachmentID, contentID, size)
	}
}
