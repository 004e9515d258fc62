package mimeparse

import (
	"errors"
	"fmt"
)

// ErrorKind classifies parse failures. Every kind is fatal for the stream.
type ErrorKind int

const (
	// ErrNoBoundary means Feed was called before a boundary was set.
	ErrNoBoundary ErrorKind = iota
	// ErrWriterCreate means the attachment writer could not be created.
	ErrWriterCreate
	// ErrWriterClosed means the attachment reader went away mid-part.
	ErrWriterClosed
	// ErrWriterFailed means the attachment writer reported an error.
	ErrWriterFailed
	// ErrWriteTruncated means the writer accepted fewer bytes without signalling a full buffer.
	ErrWriteTruncated
	// ErrDirectiveTooLarge means a JSON part exceeded MaxDirectiveSize.
	ErrDirectiveTooLarge
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNoBoundary:
		return "no_boundary"
	case ErrWriterCreate:
		return "writer_create"
	case ErrWriterClosed:
		return "writer_closed"
	case ErrWriterFailed:
		return "writer_failed"
	case ErrWriteTruncated:
		return "write_truncated"
	case ErrDirectiveTooLarge:
		return "directive_too_large"
	default:
		return fmt.Sprintf("error_kind(%d)", int(k))
	}
}

// ParseError is returned by Feed when the stream cannot be parsed further.
type ParseError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mime %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("mime %s: %s", e.Kind, e.Msg)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a ParseError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}
