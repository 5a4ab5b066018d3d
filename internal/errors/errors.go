// Package errors defines the job-level error taxonomy shared by the CLI, HTTP and gRPC
// surfaces.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

// Kind categorises a job-level failure.
type Kind string

const (
	KindInsufficientInput Kind = "insufficient_input"
	KindRenderFailure     Kind = "render_failure"
	KindDecoderFailure    Kind = "decoder_failure"
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindInternal          Kind = "internal"
)

// AppError represents a structured, fatal job error.
type AppError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// StatusCode maps the kind onto an HTTP status.
func (e *AppError) StatusCode() int {
	switch e.Kind {
	case KindInsufficientInput, KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindDecoderFailure, KindRenderFailure:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// GRPCCode maps the kind onto a gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	switch e.Kind {
	case KindInsufficientInput, KindValidation:
		return codes.InvalidArgument
	case KindNotFound:
		return codes.NotFound
	case KindDecoderFailure:
		return codes.FailedPrecondition
	case KindRenderFailure, KindInternal:
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// NewInsufficientInput reports that fewer than two usable images were available.
func NewInsufficientInput(message string, cause error) *AppError {
	return &AppError{Kind: KindInsufficientInput, Message: message, Cause: cause}
}

// NewRenderFailure reports that the canvas could not be materialised.
func NewRenderFailure(message string, cause error) *AppError {
	return &AppError{Kind: KindRenderFailure, Message: message, Cause: cause}
}

// NewDecoderFailure reports that the video track could not be read.
func NewDecoderFailure(message string, cause error) *AppError {
	return &AppError{Kind: KindDecoderFailure, Message: message, Cause: cause}
}

// NewValidationError creates a new validation error
func NewValidationError(message string, cause error) *AppError {
	return &AppError{Kind: KindValidation, Message: message, Cause: cause}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, cause error) *AppError {
	return &AppError{Kind: KindNotFound, Message: message, Cause: cause}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *AppError {
	return &AppError{Kind: KindInternal, Message: message, Cause: cause}
}

// IsKind reports whether err (or anything it wraps) is an AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// StatusCode extracts the HTTP status code from an error
func StatusCode(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.StatusCode()
	}
	return http.StatusInternalServerError
}

// GRPCCode extracts the gRPC code from an error.
func GRPCCode(err error) codes.Code {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.GRPCCode()
	}
	return codes.Internal
}

// KindOf returns the kind of the first AppError in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}
