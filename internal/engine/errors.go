package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/flocksync/internal/strategy"
)

// SyncError is returned by the mutation pipeline.
//
// Validation errors are raised before any state or persistence change.
// Persistence errors wrap the strategy's error in Err; the optimistic
// in-memory change, if any, is not rolled back.
type SyncError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Op is the mutation that failed (add, update, delete, reset).
	Op string

	// Category is the canonical category, when known.
	Category string

	// RecordID identifies the affected record, when known.
	RecordID string

	// Err is the underlying strategy error.
	Err error
}

// ErrorCode categorizes sync errors.
type ErrorCode string

const (
	// ErrCodeValidation indicates a missing or empty category or id.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeNotFound indicates the record is absent from memory or the backend.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeUnavailable indicates the strategy could not be reached.
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE"

	// ErrCodePersistence indicates the strategy rejected the write.
	ErrCodePersistence ErrorCode = "PERSISTENCE"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Category != "" && e.RecordID != "" {
		msg = fmt.Sprintf("%s (category=%s, id=%s)", msg, e.Category, e.RecordID)
	} else if e.Category != "" {
		msg = fmt.Sprintf("%s (category=%s)", msg, e.Category)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the strategy error so errors.Is(err, strategy.ErrUnavailable) works.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsValidationError returns true if err is a validation error.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error) bool {
	return hasCode(err, ErrCodeValidation)
}

// IsNotFoundError returns true if err reports a missing record.
func IsNotFoundError(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsUnavailableError returns true if the strategy could not be reached.
func IsUnavailableError(err error) bool {
	return hasCode(err, ErrCodeUnavailable) || strategy.IsUnavailable(err)
}

func hasCode(err error, code ErrorCode) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

func validationError(op, message string) *SyncError {
	return &SyncError{Code: ErrCodeValidation, Op: op, Message: message}
}

func notFoundError(op, category, id string, err error) *SyncError {
	return &SyncError{
		Code:     ErrCodeNotFound,
		Op:       op,
		Message:  "record not found",
		Category: category,
		RecordID: id,
		Err:      err,
	}
}

// persistenceError classifies a strategy error from a mutation.
func persistenceError(op, category, id string, err error) *SyncError {
	switch {
	case errors.Is(err, strategy.ErrNotFound):
		return notFoundError(op, category, id, err)
	case errors.Is(err, strategy.ErrUnavailable):
		return &SyncError{Code: ErrCodeUnavailable, Op: op, Message: "strategy unavailable", Category: category, RecordID: id, Err: err}
	default:
		return &SyncError{Code: ErrCodePersistence, Op: op, Message: op + " failed", Category: category, RecordID: id, Err: err}
	}
}
