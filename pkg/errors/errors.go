package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeStateConflict      Code = "STATE_CONFLICT"
	CodeAllocationConflict Code = "ALLOCATION_CONFLICT"
	CodeRenderingFailure   Code = "RENDERING_FAILURE"
	CodeUploadFailure      Code = "UPLOAD_FAILURE"
	CodeAlreadyRevoked     Code = "ALREADY_REVOKED"
	CodeMismatch           Code = "MISMATCH"
	CodeInternal           Code = "INTERNAL_ERROR"
	CodeDependency         Code = "DEPENDENCY_ERROR"
	CodeRateLimit          Code = "RATE_LIMITED"
)

// Metadata describes how a code is surfaced over HTTP. Retryable marks
// failures a caller may resubmit unchanged.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	// caller errors
	CodeValidation:    {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", DetailsAllowed: true},
	CodeNotFound:      {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found"},
	CodeConflict:      {HTTPStatus: http.StatusConflict, PublicMessage: "conflict detected"},
	CodeStateConflict: {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "state transition disallowed", DetailsAllowed: true},
	CodeRateLimit:     {HTTPStatus: http.StatusTooManyRequests, Retryable: true, PublicMessage: "too many requests"},

	// certificate lifecycle
	CodeAllocationConflict: {HTTPStatus: http.StatusConflict, Retryable: true, PublicMessage: "certificate identifier already allocated", DetailsAllowed: true},
	CodeRenderingFailure:   {HTTPStatus: http.StatusBadGateway, PublicMessage: "certificate document could not be rendered", DetailsAllowed: true},
	CodeUploadFailure:      {HTTPStatus: http.StatusBadGateway, Retryable: true, PublicMessage: "certificate document could not be stored", DetailsAllowed: true},
	CodeAlreadyRevoked:     {HTTPStatus: http.StatusConflict, PublicMessage: "certificate already revoked", DetailsAllowed: true},
	CodeMismatch:           {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "payload does not match certificate records", DetailsAllowed: true},

	// infrastructure
	CodeInternal:   {HTTPStatus: http.StatusInternalServerError, Retryable: true, PublicMessage: "internal server error"},
	CodeDependency: {HTTPStatus: http.StatusServiceUnavailable, Retryable: true, PublicMessage: "dependency unavailable", DetailsAllowed: true},
}

// MetadataFor falls back to CodeInternal for unregistered codes.
func MetadataFor(code Code) Metadata {
	meta, ok := metadataByCode[code]
	if !ok {
		meta = metadataByCode[CodeInternal]
	}
	return meta
}

// Error is a coded failure. Message is internal; clients see the code's
// PublicMessage plus Details when the code allows them.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches code and message to err; a nil err yields a plain New.
func Wrap(code Code, err error, message string) *Error {
	e := New(code, message)
	e.cause = err
	return e
}

func (e *Error) Code() Code {
	if e != nil {
		return e.code
	}
	return CodeInternal
}

func (e *Error) Message() string {
	if e != nil {
		return e.message
	}
	return ""
}

func (e *Error) Details() any {
	if e != nil {
		return e.details
	}
	return nil
}

// WithDetails sets details in place and returns e for chaining.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e != nil {
		return e.cause
	}
	return nil
}

// Is matches another *Error by code, so a bare New(code, "") works as a
// sentinel with errors.Is.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && e != nil && other != nil && e.code == other.code
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// HasCode reports whether err carries the given typed code anywhere in its chain.
func HasCode(err error, code Code) bool {
	for err != nil {
		typed := As(err)
		if typed == nil {
			return false
		}
		if typed.code == code {
			return true
		}
		err = typed.cause
	}
	return false
}

// IsRetryable reports whether the outermost coded error is marked retryable.
// Uncoded errors are treated as internal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return MetadataFor(As(err).Code()).Retryable
}
