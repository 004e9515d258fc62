package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

type resultKind int

const (
	resultConsumed resultKind = iota
	resultPause
	resultAbort
)

// Result is the outcome of a stream byte callback.
//
// Consumed(n) means n bytes were taken. For a request body, Consumed(0)
// means the body is complete. Pause means the stream cannot make progress
// now; N reports how many bytes were taken before pausing and the engine
// re-offers the rest after Unpause. Abort fails the transfer.
type Result struct {
	kind resultKind
	n    int
}

// Consumed returns a result that took n bytes.
func Consumed(n int) Result { return Result{kind: resultConsumed, n: n} }

// PauseAfter returns a pause result that took n bytes first.
func PauseAfter(n int) Result { return Result{kind: resultPause, n: n} }

// Abort returns a result that fails the transfer.
func Abort() Result { return Result{kind: resultAbort} }

// N returns the number of bytes taken.
func (r Result) N() int { return r.n }

// IsPause reports whether the stream asked to pause.
func (r Result) IsPause() bool { return r.kind == resultPause }

// IsAbort reports whether the stream asked to abort.
func (r Result) IsAbort() bool { return r.kind == resultAbort }

func (r Result) String() string {
	switch r.kind {
	case resultPause:
		return fmt.Sprintf("pause(%d)", r.n)
	case resultAbort:
		return "abort"
	default:
		return fmt.Sprintf("consumed(%d)", r.n)
	}
}

// Completion reports a finished transfer. Err is nil when the response
// body ended normally.
type Completion struct {
	Stream *Stream
	Err    error
}

// Engine drives the transfers of registered streams.
//
// Add, Remove, Unpause and Perform are called from the session's network
// goroutine only; Wakeup may be called from any goroutine. Every Stream
// callback runs inside Perform.
type Engine interface {
	// Add registers a stream and starts its transfer.
	Add(s *Stream) error
	// Remove cancels a stream's transfer. No callbacks fire afterwards.
	Remove(s *Stream)
	// Unpause re-offers paused data and pending body reads to s.
	Unpause(s *Stream)
	// Wait blocks until there is work for Perform, Wakeup is called,
	// timeout elapses or ctx is done.
	Wait(ctx context.Context, timeout time.Duration) error
	// Perform runs pending callbacks and returns finished transfers.
	Perform() []Completion
	// Wakeup interrupts Wait.
	Wakeup()
	// Close cancels every transfer and releases connections.
	Close() error
}

// EngineError is a transfer failure below HTTP.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("transfer %s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// ErrAborted is the cause recorded when a stream callback returned Abort.
var ErrAborted = errors.New("aborted by stream callback")

// IsTimeout reports whether err is a timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
