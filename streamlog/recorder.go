package streamlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/voxlink/log"
)

// Recorder creates one log file per stream under a directory.
// A nil *Recorder records nothing.
type Recorder struct {
	dir       string
	sessionID string
	logger    *log.Logger
	seq       atomic.Uint64
	now       func() time.Time
}

// NewRecorder creates a recorder writing into dir.
func NewRecorder(dir, sessionID string, logger *log.Logger) (*Recorder, error) {
	if dir == "" {
		return nil, errors.New("stream log directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create stream log directory: %w", err)
	}
	return &Recorder{
		dir:       dir,
		sessionID: sessionID,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Dir returns the output directory.
func (r *Recorder) Dir() string {
	if r == nil {
		return ""
	}
	return r.dir
}

// Open starts the log for one stream. Stream IDs are reused after release,
// so every file name carries a per-recorder sequence number.
// Returns nil when r is nil or the file cannot be created.
func (r *Recorder) Open(streamID uint32, method, url string) *StreamLog {
	if r == nil {
		return nil
	}
	seq := r.seq.Add(1)
	name := fmt.Sprintf("stream-%s-%d-%04d.bin", r.sessionID, streamID, seq)
	path := filepath.Join(r.dir, name)

	f, err := os.Create(path)
	if err != nil {
		r.logger.Warn("stream log create failed", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
		return nil
	}
	bw := bufio.NewWriter(f)
	sl := &StreamLog{
		path:     path,
		streamID: streamID,
		f:        f,
		bw:       bw,
		enc:      NewEncoder(bw),
		now:      r.now,
		logger:   r.logger,
	}
	sl.write(&Record{Type: RecordOpen, Method: method, URL: url})
	return sl
}

// StreamLog is the log of a single stream. Methods are nil-receiver safe.
type StreamLog struct {
	path     string
	streamID uint32
	now      func() time.Time
	logger   *log.Logger

	mu     sync.Mutex
	f      *os.File
	bw     *bufio.Writer
	enc    *Encoder
	failed bool
}

// Path returns the file path.
func (s *StreamLog) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Header records a response header line.
func (s *StreamLog) Header(line string) {
	if s == nil {
		return
	}
	s.write(&Record{Type: RecordHeader, Line: line})
}

// In records response body bytes.
func (s *StreamLog) In(data []byte) {
	if s == nil || len(data) == 0 {
		return
	}
	s.write(&Record{Type: RecordIn, Data: data})
}

// Out records request body bytes.
func (s *StreamLog) Out(data []byte) {
	if s == nil || len(data) == 0 {
		return
	}
	s.write(&Record{Type: RecordOut, Data: data})
}

// Close writes the close record with the final status and closes the file.
func (s *StreamLog) Close(status int) error {
	if s == nil {
		return nil
	}
	s.write(&Record{Type: RecordClose, Status: status})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	flushErr := s.bw.Flush()
	closeErr := s.f.Close()
	s.f = nil
	return errors.Join(flushErr, closeErr)
}

func (s *StreamLog) write(rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil || s.failed {
		return
	}
	rec.StreamID = s.streamID
	rec.At = s.now().UnixNano()
	if err := s.enc.Encode(rec); err != nil {
		s.failed = true
		s.logger.Warn("stream log write failed", map[string]any{
			"path":  s.path,
			"error": err.Error(),
		})
	}
}

// ReadFile reads every record of a stream log. A truncated final frame ends
// the log without error; other decode failures are returned.
func ReadFile(path string) ([]*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("stream log not found: %s", path)
	}
	defer func() { _ = f.Close() }()
	return ReadAll(f)
}

// ReadAll reads records until EOF.
func ReadAll(r io.Reader) ([]*Record, error) {
	dec := NewDecoder(bufio.NewReader(r))
	var records []*Record
	for {
		rec, err := dec.Decode()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			if IsFatalFrameError(err) {
				return records, err
			}
			return records, nil
		}
		records = append(records, rec)
	}
}
