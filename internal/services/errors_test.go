package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"ifgsweep/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("connection refused")
	err := services.Wrap(services.ErrQueryFailure, "fetch", "grq_*_ifg", "page 2", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrQueryFailure) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"fetch", "grq_*_ifg", "page 2"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "sweep failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestFailureKindMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{services.Wrap(services.ErrContextLoad, "context", "load", "missing", nil), "context_load"},
		{services.Wrap(services.ErrQueryFailure, "fetch", "", "", errors.New("503")), "query_failure"},
		{fmt.Errorf("index: %w", services.Wrap(services.ErrMalformedRecord, "", "", "", nil)), "malformed_record"},
		{services.Wrap(services.ErrConfiguration, "config", "", "", nil), "configuration"},
		{services.Wrap(services.ErrValidation, "index", "", "", nil), "validation"},
		{services.Wrap(services.ErrTimeout, "", "", "", nil), "timeout"},
		{context.Canceled, "failed"},
	}
	for _, tc := range cases {
		if got := services.FailureKind(tc.err); got != tc.want {
			t.Fatalf("FailureKind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
