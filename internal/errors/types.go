package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// Kind classifies an error for dispatch, audit, and HTTP mapping.
//
// The names are part of the wire contract: error responses carry them in the
// "kind" field and audit entries derive their status from them.
type Kind string

const (
	KindValidation           Kind = "ValidationError"
	KindUnknownTool          Kind = "UnknownTool"
	KindDuplicateTool        Kind = "DuplicateTool"
	KindPermissionDenied     Kind = "PermissionDenied"
	KindConfirmationRejected Kind = "ConfirmationRejected"
	KindConfirmationTimeout  Kind = "ConfirmationTimeout"
	KindHandlerError         Kind = "HandlerError"
	KindRemoteUnavailable    Kind = "RemoteUnavailable"
	KindTimeout              Kind = "Timeout"
	KindCancelled            Kind = "Cancelled"
	KindInternal             Kind = "Internal"
)

// Error is a classified error value. Message is user-visible; Err keeps the
// underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a user-visible message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Wrapf attaches a kind and a formatted message to an underlying cause.
func Wrapf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from an error chain. Context errors map to
// Timeout/Cancelled; everything unclassified is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a kind to the status code the facade returns.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnknownTool:
		return http.StatusNotFound
	case KindDuplicateTool:
		return http.StatusConflict
	case KindPermissionDenied, KindConfirmationRejected:
		return http.StatusForbidden
	case KindConfirmationTimeout, KindTimeout:
		return http.StatusRequestTimeout
	case KindRemoteUnavailable:
		return http.StatusBadGateway
	case KindCancelled:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// IsTransient reports whether an error is worth one more transport attempt.
// Classified kinds other than RemoteUnavailable are never transient; raw
// network and syscall failures are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind == KindRemoteUnavailable
	}

	if isNetworkError(err) || isSyscallError(err) {
		return true
	}

	return false
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}
	return false
}

func isSyscallError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}
