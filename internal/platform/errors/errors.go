package errors

import "errors"

// Error is the domain error type with structured metadata.
type Error struct {
	Code    Code   // Machine-readable error code
	Phase   Phase  // Pipeline stage the error surfaced in
	Message string // Internal message (for logs/telemetry)
	Cause   error  // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// InPhase returns a copy of the error tagged with the given phase. The
// original phase wins if already set, so components closest to the
// failure decide attribution.
func (e *Error) InPhase(phase Phase) *Error {
	if e.Phase != PhaseNone {
		return e
	}
	return &Error{Code: e.Code, Phase: phase, Message: e.Message, Cause: e.Cause}
}

// TagPhase attributes err to a pipeline phase. Domain errors that
// already carry a phase are returned unchanged; anything else is
// wrapped, preserving its code for chain traversal.
func TagPhase(phase Phase, err error) error {
	if err == nil {
		return nil
	}
	if PhaseOf(err) != PhaseNone {
		return err
	}
	return &Error{Code: CodeOf(err), Phase: phase, Message: err.Error(), Cause: err}
}

// CodeOf extracts the machine code from any error. Non-domain errors
// report CodeUnknown.
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeUnknown
}

// PhaseOf extracts the pipeline phase from any error.
func PhaseOf(err error) Phase {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Phase
	}
	return PhaseNone
}

// HTTPStatus maps any error to an HTTP status code.
func HTTPStatus(err error) int {
	return CodeOf(err).HTTPStatus()
}
