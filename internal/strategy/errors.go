package strategy

import "errors"

var (
	// ErrUnavailable means the backend cannot currently be reached.
	// Callers must not read it as "the collection is empty".
	ErrUnavailable = errors.New("strategy unavailable")

	// ErrNotFound means the id is unknown to the backend.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput means a required argument was empty or malformed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotSupported means the strategy lacks an optional capability.
	ErrNotSupported = errors.New("operation not supported")

	// ErrClosed means the strategy was used after Close.
	ErrClosed = errors.New("strategy closed")
)

// IsUnavailable reports whether err means the backend could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
