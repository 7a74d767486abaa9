package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/flocksync/internal/engine"
	"github.com/roach88/flocksync/internal/record"
	"github.com/roach88/flocksync/internal/strategy"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation failed (backend error, unknown record)
	ExitCommandError = 2 // Command error (bad config, invalid arguments)
)

// Error codes reported in JSON output.
const (
	CodeConfig      = "E_CONFIG"
	CodeValidation  = "E_VALIDATION"
	CodeNotFound    = "E_NOT_FOUND"
	CodeUnavailable = "E_UNAVAILABLE"
	CodePersistence = "E_PERSISTENCE"
	CodeInternal    = "E_INTERNAL"
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// mutationExit maps an engine error to an exit code.
// Validation failures are the caller's fault; everything else is an
// operation failure.
func mutationExit(op string, err error) *ExitError {
	if engine.IsValidationError(err) || errors.Is(err, strategy.ErrInvalidInput) {
		return WrapExitError(ExitCommandError, op+" rejected", err)
	}
	return WrapExitError(ExitFailure, op+" failed", err)
}

// ErrorCode classifies err for JSON output.
func ErrorCode(err error) string {
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Err == nil {
		return CodeInternal
	}
	switch {
	case engine.IsValidationError(err), errors.Is(err, strategy.ErrInvalidInput):
		return CodeValidation
	case engine.IsNotFoundError(err):
		return CodeNotFound
	case engine.IsUnavailableError(err), strategy.IsUnavailable(err):
		return CodeUnavailable
	}
	var syncErr *engine.SyncError
	if errors.As(err, &syncErr) {
		return CodePersistence
	}
	if errors.As(err, &exitErr) && exitErr.Code == ExitCommandError {
		return CodeConfig
	}
	return CodeInternal
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status  string    `json:"status"`            // "ok" or "error"
	Data    any       `json:"data,omitempty"`    // success payload
	Error   *CLIError `json:"error,omitempty"`   // error details
	Version int64     `json:"version,omitempty"` // engine update counter after the command
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E_VALIDATION", "E_NOT_FOUND", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
// Text output uses data's fmt representation.
func (f *OutputFormatter) Success(data any) error {
	return f.SuccessVersion(data, 0)
}

// SuccessVersion is Success with the engine version attached to JSON output.
func (f *OutputFormatter) SuccessVersion(data any, version int64) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status:  "ok",
			Data:    data,
			Version: version,
		})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err in the configured format and returns it unchanged, so
// RunE can end with `return f.Fail(err)`.
func (f *OutputFormatter) Fail(err error) error {
	if err == nil {
		return nil
	}
	var details any
	var syncErr *engine.SyncError
	if errors.As(err, &syncErr) {
		details = map[string]string{
			"op":        syncErr.Op,
			"category":  syncErr.Category,
			"record_id": syncErr.RecordID,
		}
	}
	_ = f.Error(ErrorCode(err), err.Error(), details)
	return err
}

// VerboseLog outputs a message only if verbose mode is enabled.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// stateView renders a collection state for text output.
type stateView struct {
	state    record.State
	customs  map[string]bool
	category string
}

func (v stateView) String() string {
	var b strings.Builder
	categories := v.state.Categories()
	shown := 0
	for _, category := range categories {
		if v.category != "" && category != v.category {
			continue
		}
		shown++
		marker := ""
		if !v.customs[category] {
			marker = " (defaults)"
		}
		fmt.Fprintf(&b, "%s%s\n", category, marker)
		for _, rec := range v.state[category] {
			fmt.Fprintf(&b, "  %s", rec.ID)
			if name := rec.Field("name"); name != "" {
				fmt.Fprintf(&b, "  %s", name)
			}
			for _, field := range rec.FieldNames() {
				if field == "name" {
					continue
				}
				fmt.Fprintf(&b, "  %s=%s", field, rec.Field(field))
			}
			b.WriteString("\n")
		}
	}
	if shown == 0 {
		return "no records"
	}
	return strings.TrimRight(b.String(), "\n")
}

// data is the JSON payload for list output.
func (v stateView) data() map[string]any {
	state := v.state
	if v.category != "" {
		state = record.State{v.category: v.state[v.category]}
	}
	return map[string]any{
		"records":    state,
		"customized": v.customs,
	}
}
