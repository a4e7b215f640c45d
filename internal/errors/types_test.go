package errors

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"
)

func TestKindOfClassifiedError(t *testing.T) {
	err := New(KindPermissionDenied, "Command 'rm' not permitted")
	if got := KindOf(err); got != KindPermissionDenied {
		t.Fatalf("KindOf = %v, want %v", got, KindPermissionDenied)
	}
}

func TestKindOfWrappedChain(t *testing.T) {
	inner := Wrap(KindRemoteUnavailable, "executor unreachable", syscall.ECONNREFUSED)
	outer := fmt.Errorf("call failed: %w", inner)
	if got := KindOf(outer); got != KindRemoteUnavailable {
		t.Fatalf("KindOf wrapped = %v, want %v", got, KindRemoteUnavailable)
	}
}

func TestKindOfContextErrors(t *testing.T) {
	if got := KindOf(context.DeadlineExceeded); got != KindTimeout {
		t.Fatalf("deadline: got %v", got)
	}
	if got := KindOf(context.Canceled); got != KindCancelled {
		t.Fatalf("canceled: got %v", got)
	}
	if got := KindOf(fmt.Errorf("boom")); got != KindInternal {
		t.Fatalf("unclassified: got %v", got)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:           http.StatusBadRequest,
		KindUnknownTool:          http.StatusNotFound,
		KindPermissionDenied:     http.StatusForbidden,
		KindConfirmationRejected: http.StatusForbidden,
		KindConfirmationTimeout:  http.StatusRequestTimeout,
		KindTimeout:              http.StatusRequestTimeout,
		KindRemoteUnavailable:    http.StatusBadGateway,
		KindInternal:             http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := HTTPStatus(kind); got != want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", kind, got, want)
		}
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(syscall.ECONNREFUSED) {
		t.Error("ECONNREFUSED should be transient")
	}
	if !IsTransient(&net.OpError{Op: "dial", Err: fmt.Errorf("refused")}) {
		t.Error("net.OpError should be transient")
	}
	if !IsTransient(New(KindRemoteUnavailable, "worker down")) {
		t.Error("RemoteUnavailable should be transient")
	}
	if IsTransient(New(KindPermissionDenied, "nope")) {
		t.Error("PermissionDenied must never be retried")
	}
	if IsTransient(New(KindHandlerError, "upstream 500")) {
		t.Error("HTTP-level failures must never be retried")
	}
	if IsTransient(nil) {
		t.Error("nil is not transient")
	}
}

func TestErrorMessagePreference(t *testing.T) {
	e := Wrap(KindHandlerError, "handler failed", fmt.Errorf("raw detail"))
	if e.Error() != "handler failed" {
		t.Fatalf("want message, got %q", e.Error())
	}
	bare := &Error{Kind: KindTimeout}
	if bare.Error() != string(KindTimeout) {
		t.Fatalf("bare error: got %q", bare.Error())
	}
}
