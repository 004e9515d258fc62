package ingest

import "errors"

// ErrorKind classifies forwarding failures.
type ErrorKind int

const (
	// ErrorPolicy means the policy or its sink rejected a record.
	ErrorPolicy ErrorKind = iota
	// ErrorCanceled means the forwarding context ended.
	ErrorCanceled
)

// Error is returned by Router.Run.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsPolicyError reports whether err is a policy failure.
func IsPolicyError(err error) bool {
	var ingErr *Error
	if errors.As(err, &ingErr) {
		return ingErr.Kind == ErrorPolicy
	}
	return false
}

// IsCanceledError reports whether err is due to context cancellation.
func IsCanceledError(err error) bool {
	var ingErr *Error
	if errors.As(err, &ingErr) {
		return ingErr.Kind == ErrorCanceled
	}
	return false
}
