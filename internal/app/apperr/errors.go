// Package apperr provides a unified error taxonomy for the verification
// pipeline, matching the error kinds and propagation policy of the
// pipeline's contract: configuration, transport, oracle invocation,
// scorer, storage, and sample-count failures.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies a class of pipeline failure.
type Code string

const (
	// CodeConfiguration covers invalid repo URLs, missing module/callable
	// pairs, and zero composite weights — all raised at construction time.
	CodeConfiguration Code = "CONFIGURATION"
	// CodeTransport covers ingester paging/diff-fetch HTTP failures.
	CodeTransport Code = "TRANSPORT"
	// CodeOracleInvocation covers any failure while invoking the oracle
	// under test. It never propagates — it is captured in an OracleOutput
	// error envelope instead — but the code still identifies it in logs.
	CodeOracleInvocation Code = "ORACLE_INVOCATION"
	// CodeScorerAPI covers scoring-model transport/API failures.
	CodeScorerAPI Code = "SCORER_API"
	// CodeScorerParse covers scoring-model responses that failed to parse
	// as JSON after the structured retry.
	CodeScorerParse Code = "SCORER_PARSE"
	// CodeStorage covers disk-level failures (permissions, full disk).
	CodeStorage Code = "STORAGE"
	// CodeInsufficientSamples means zero replays succeeded.
	CodeInsufficientSamples Code = "INSUFFICIENT_SAMPLES"
	// CodeBelowMinimum is a soft condition: a certificate was still
	// generated despite not reaching the configured minimum. It is not
	// raised as an error by the pipeline but is available for callers
	// (e.g. the HTTP façade) that want to surface it distinctly.
	CodeBelowMinimum Code = "BELOW_MINIMUM"
)

// Error is a structured pipeline error carrying a stable Code alongside
// the human-readable message and, where applicable, a wrapped cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a Code and message.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Configuration is a convenience constructor for configuration errors.
func Configuration(format string, args ...any) *Error {
	return Newf(CodeConfiguration, format, args...)
}

// Storage is a convenience constructor for storage errors.
func Storage(message string, err error) *Error {
	return Wrap(CodeStorage, message, err)
}

// Is reports whether err carries the given Code anywhere in its chain.
func Is(err error, code Code) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// CodeOf extracts the Code from err, or "" if err is not an *Error.
func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
