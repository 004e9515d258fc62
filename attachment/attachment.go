// Package attachment implements in-process attachment buffers.
//
// An attachment is a bounded byte buffer with one writer and one reader,
// keyed by an attachment ID. The MIME parser writes downstream attachment
// bytes into it while a consumer reads them out at its own pace. A full
// buffer is reported to the writer as WriteOKBufferFull so the transport can
// pause the stream instead of growing memory.
package attachment

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// Buffer limits.
const (
	// DefaultBufferSize is the per-attachment buffer capacity (256 KiB).
	DefaultBufferSize = 256 * 1024
	// MaxAttachmentSize is the maximum number of bytes one attachment may carry (64 MiB).
	MaxAttachmentSize = 64 * 1024 * 1024
	// DefaultReadTimeout bounds a blocking read with no data available.
	DefaultReadTimeout = 100 * time.Millisecond
)

// WriteStatus is the outcome of a Writer.Write call.
type WriteStatus int

const (
	// WriteOK means all bytes were accepted.
	WriteOK WriteStatus = iota
	// WriteOKBufferFull means only the returned count was accepted; retry later.
	WriteOKBufferFull
	// WriteClosed means the reader side is gone.
	WriteClosed
	// WriteError means the attachment can no longer accept data.
	WriteError
)

func (s WriteStatus) String() string {
	switch s {
	case WriteOK:
		return "ok"
	case WriteOKBufferFull:
		return "ok_buffer_full"
	case WriteClosed:
		return "closed"
	case WriteError:
		return "error"
	default:
		return fmt.Sprintf("write_status(%d)", int(s))
	}
}

// ReadStatus is the outcome of a Reader.Read call.
type ReadStatus int

const (
	// ReadOK means the returned count of bytes was read.
	ReadOK ReadStatus = iota
	// ReadOKWouldBlock means no data is available yet (non-blocking reader).
	ReadOKWouldBlock
	// ReadOKTimedOut means no data arrived within the read timeout (blocking reader).
	ReadOKTimedOut
	// ReadClosed means the writer closed and every byte has been read.
	ReadClosed
	// ReadError means the attachment source failed.
	ReadError
)

func (s ReadStatus) String() string {
	switch s {
	case ReadOK:
		return "ok"
	case ReadOKWouldBlock:
		return "ok_would_block"
	case ReadOKTimedOut:
		return "ok_timed_out"
	case ReadClosed:
		return "closed"
	case ReadError:
		return "error"
	default:
		return fmt.Sprintf("read_status(%d)", int(s))
	}
}

// Policy selects blocking or non-blocking behavior for a reader or writer.
type Policy int

const (
	// NonBlocking returns immediately when the buffer is full or empty.
	NonBlocking Policy = iota
	// Blocking waits for space (writer) or data (reader, bounded by the read timeout).
	Blocking
)

// Writer accepts attachment bytes.
type Writer interface {
	Write(p []byte) (int, WriteStatus)
	Close() error
}

// Reader yields attachment bytes.
type Reader interface {
	Read(p []byte) (int, ReadStatus)
	Close() error
}

// ReadyNotifier is implemented by readers that announce new data.
type ReadyNotifier interface {
	// OnReady registers fn to run after each write to the attachment and
	// when its writer closes. fn runs with the attachment locked and must
	// not block.
	OnReady(fn func())
}

// ErrDuplicateWriter is returned when a second writer is requested for an attachment.
var ErrDuplicateWriter = errors.New("attachment already has a writer")

// ErrDuplicateReader is returned when a second reader is requested for an attachment.
var ErrDuplicateReader = errors.New("attachment already has a reader")

// Manager owns the attachment buffers of one session.
// Thread-safe for concurrent access.
type Manager struct {
	mu          sync.Mutex
	entries     map[string]*entry
	bufferSize  int
	readTimeout time.Duration

	created   int64
	completed int64
	bytes     int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithBufferSize sets the per-attachment buffer capacity.
func WithBufferSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.bufferSize = n
		}
	}
}

// WithReadTimeout sets how long a blocking reader waits for data.
func WithReadTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.readTimeout = d
		}
	}
}

// NewManager creates an attachment manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		entries:     make(map[string]*entry),
		bufferSize:  DefaultBufferSize,
		readTimeout: DefaultReadTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GenerateAttachmentID derives the attachment ID for a part's Content-ID
// within a stream context. Both sides of an attachment use it to meet.
func (m *Manager) GenerateAttachmentID(contextID, contentID string) string {
	if contextID == "" {
		return contentID
	}
	if contentID == "" {
		return contextID
	}
	return contextID + ":" + contentID
}

// CreateWriter returns the writer for an attachment, creating the buffer if needed.
func (m *Manager) CreateWriter(id string, policy Policy) (Writer, error) {
	if id == "" {
		return nil, errors.New("empty attachment id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.lookupLocked(id)
	if e.hasWriter {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateWriter, id)
	}
	e.hasWriter = true
	return &writer{m: m, e: e, policy: policy}, nil
}

// CreateReader returns the reader for an attachment, creating the buffer if needed.
// A reader may be created before the writer.
func (m *Manager) CreateReader(id string, policy Policy) (Reader, error) {
	if id == "" {
		return nil, errors.New("empty attachment id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.lookupLocked(id)
	if e.hasReader {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateReader, id)
	}
	e.hasReader = true
	return &reader{m: m, e: e, policy: policy, timeout: m.readTimeout}, nil
}

// Remove drops an attachment and wakes any waiters. Subsequent writes report
// WriteClosed and subsequent reads report ReadClosed.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok {
		delete(m.entries, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.writerClosed = true
	e.readerClosed = true
	e.buf = nil
	e.broadcastLocked()
	e.mu.Unlock()
}

// Len returns the number of live attachments.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Stats returns attachment statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Created:   m.created,
		Completed: m.completed,
		Live:      int64(len(m.entries)),
		Bytes:     m.bytes,
	}
}

// Stats holds attachment statistics.
type Stats struct {
	Created   int64
	Completed int64
	Live      int64
	Bytes     int64
}

func (m *Manager) lookupLocked(id string) *entry {
	e, ok := m.entries[id]
	if !ok {
		e = &entry{
			id:       id,
			capacity: m.bufferSize,
			signal:   make(chan struct{}),
		}
		m.entries[id] = e
		m.created++
	}
	return e
}

// finish is called once both ends have closed.
func (m *Manager) finish(e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[e.id]; ok && cur == e {
		delete(m.entries, e.id)
		m.completed++
	}
}

func (m *Manager) addBytes(n int) {
	m.mu.Lock()
	m.bytes += int64(n)
	m.mu.Unlock()
}

type entry struct {
	id       string
	capacity int

	mu           sync.Mutex
	buf          []byte
	written      int64
	hasWriter    bool
	hasReader    bool
	writerClosed bool
	readerClosed bool
	// signal is closed and replaced on every state change.
	signal chan struct{}
	// onReady is the reader's data notification.
	onReady func()
}

func (e *entry) broadcastLocked() {
	close(e.signal)
	e.signal = make(chan struct{})
}

func (e *entry) readyLocked() {
	if e.onReady != nil {
		e.onReady()
	}
}

func (e *entry) doneLocked() bool {
	return e.writerClosed && e.readerClosed
}

type writer struct {
	m      *Manager
	e      *entry
	policy Policy
	closed bool
}

func (w *writer) Write(p []byte) (int, WriteStatus) {
	e := w.e
	e.mu.Lock()
	defer e.mu.Unlock()

	total := 0
	for {
		if w.closed {
			return total, WriteError
		}
		if e.readerClosed {
			return total, WriteClosed
		}
		if e.written+int64(len(p)) > MaxAttachmentSize {
			return total, WriteError
		}
		space := e.capacity - len(e.buf)
		n := min(space, len(p))
		if n > 0 {
			e.buf = append(e.buf, p[:n]...)
			e.written += int64(n)
			total += n
			p = p[n:]
			e.broadcastLocked()
			e.readyLocked()
			w.m.addBytes(n)
		}
		if len(p) == 0 {
			return total, WriteOK
		}
		if w.policy == NonBlocking {
			return total, WriteOKBufferFull
		}
		wait := e.signal
		e.mu.Unlock()
		<-wait
		e.mu.Lock()
	}
}

func (w *writer) Close() error {
	e := w.e
	e.mu.Lock()
	if w.closed {
		e.mu.Unlock()
		return nil
	}
	w.closed = true
	e.writerClosed = true
	e.broadcastLocked()
	e.readyLocked()
	done := e.doneLocked()
	e.mu.Unlock()
	if done {
		w.m.finish(e)
	}
	return nil
}

type reader struct {
	m       *Manager
	e       *entry
	policy  Policy
	timeout time.Duration
	closed  bool
}

func (r *reader) Read(p []byte) (int, ReadStatus) {
	e := r.e
	e.mu.Lock()
	defer e.mu.Unlock()

	var deadline <-chan time.Time
	for {
		if r.closed {
			return 0, ReadError
		}
		if len(e.buf) > 0 {
			n := copy(p, e.buf)
			e.buf = e.buf[n:]
			if len(e.buf) == 0 {
				e.buf = nil
			}
			e.broadcastLocked()
			return n, ReadOK
		}
		if e.writerClosed {
			return 0, ReadClosed
		}
		if r.policy == NonBlocking {
			return 0, ReadOKWouldBlock
		}
		if deadline == nil {
			deadline = time.After(r.timeout)
		}
		wait := e.signal
		e.mu.Unlock()
		select {
		case <-wait:
			e.mu.Lock()
		case <-deadline:
			e.mu.Lock()
			if len(e.buf) == 0 && !e.writerClosed {
				return 0, ReadOKTimedOut
			}
		}
	}
}

func (r *reader) Close() error {
	e := r.e
	e.mu.Lock()
	if r.closed {
		e.mu.Unlock()
		return nil
	}
	r.closed = true
	e.readerClosed = true
	e.buf = nil
	e.onReady = nil
	e.broadcastLocked()
	done := e.doneLocked()
	e.mu.Unlock()
	if done {
		r.m.finish(e)
	}
	return nil
}

// OnReady implements ReadyNotifier.
func (r *reader) OnReady(fn func()) {
	r.e.mu.Lock()
	defer r.e.mu.Unlock()
	if !r.closed {
		r.e.onReady = fn
	}
}

var _ ReadyNotifier = (*reader)(nil)

// streamReader adapts an io.Reader to the Reader interface.
type streamReader struct {
	src io.Reader
	err error
}

// NewStreamReader wraps a plain io.Reader (for example a file) as an
// attachment Reader. EOF maps to ReadClosed; other errors to ReadError.
func NewStreamReader(r io.Reader) Reader {
	return &streamReader{src: r}
}

func (s *streamReader) Read(p []byte) (int, ReadStatus) {
	if s.err != nil {
		if errors.Is(s.err, io.EOF) {
			return 0, ReadClosed
		}
		return 0, ReadError
	}
	n, err := s.src.Read(p)
	if err != nil {
		s.err = err
		if n > 0 {
			return n, ReadOK
		}
		return s.Read(p)
	}
	if n == 0 {
		return 0, ReadOKWouldBlock
	}
	return n, ReadOK
}

func (s *streamReader) Close() error {
	if c, ok := s.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
