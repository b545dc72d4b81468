package bridge

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "categorized", err: NewError(KindBusy, "chat busy"), want: KindBusy},
		{name: "wrapped categorized", err: fmt.Errorf("tool: %w", NewError(KindTimeout, "late")), want: KindTimeout},
		{name: "context canceled", err: context.Canceled, want: KindCancelled},
		{name: "deadline exceeded", err: fmt.Errorf("wait: %w", context.DeadlineExceeded), want: KindTimeout},
		{name: "plain", err: errors.New("boom"), want: KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Fatalf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("bad gateway")
	err := WrapError(KindDeliveryFailed, "send to chat 1", cause)

	if got := err.Error(); got != "DeliveryFailed: send to chat 1: bad gateway" {
		t.Fatalf("Error() = %q", got)
	}
	if got := MessageOf(err); got != "send to chat 1: bad gateway" {
		t.Fatalf("MessageOf = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to stay reachable")
	}
	if got := (&Error{Kind: KindBusy}).Error(); got != "Busy" {
		t.Fatalf("bare Error() = %q, want %q", got, "Busy")
	}
	if got := MessageOf(errors.New("plain")); got != "plain" {
		t.Fatalf("MessageOf plain = %q", got)
	}
}

func TestSentinelsMatchByKind(t *testing.T) {
	err := Errorf(KindTimeout, "no reply within %s", "5m0s")

	if !errors.Is(err, ErrTimeout) {
		t.Fatal("expected timeout error to match ErrTimeout")
	}
	if errors.Is(err, ErrBusy) {
		t.Fatal("timeout error must not match ErrBusy")
	}
	if errors.Is(ErrTimeout, err) {
		t.Fatal("sentinel must not match a detailed error")
	}
}
