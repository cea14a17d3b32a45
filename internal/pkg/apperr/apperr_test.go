package apperr

import (
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
		{name: "validation", err: Validation("bad input", nil), want: KindValidation},
		{name: "not found", err: NotFound("settlement", "ord-1"), want: KindNotFound},
		{name: "conflict", err: Conflict("ord-1", "COMPLETED", "cancel"), want: KindStatusConflict},
		{name: "provider", err: Provider("PAYOUT_REJECTED", "nope"), want: KindProvider},
		{name: "insufficient balance", err: InsufficientBalance("100", "50"), want: KindInsufficientBalance},
		{name: "processing", err: Processing("db", true, errors.New("boom")), want: KindProcessing},
		{name: "foreign error", err: errors.New("plain"), want: KindUnhandled},
		{name: "wrapped", err: fmt.Errorf("outer: %w", NotFound("store", "7")), want: KindNotFound},
	}

	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Fatalf("%s: KindOf() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestIsKind(t *testing.T) {
	err := Conflict("ord-1", "COMPLETED", "cancel")
	if !IsKind(err, KindStatusConflict) {
		t.Fatalf("expected conflict kind")
	}
	if IsKind(err, KindValidation) {
		t.Fatalf("conflict must not match validation")
	}
}

func TestConflictCarriesState(t *testing.T) {
	err := Conflict("ord-9", "CANCELLED", "complete")
	if err.EntityID != "ord-9" || err.CurrentStatus != "CANCELLED" || err.RequestedAction != "complete" {
		t.Fatalf("conflict lost its context: %+v", err)
	}
}

func TestProcessingUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Processing("provider request", true, cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable via errors.Is")
	}
	if !err.Retryable {
		t.Fatalf("expected retryable flag to survive")
	}
}

func TestFromWrapsForeignErrors(t *testing.T) {
	cause := errors.New("surprise")
	e := From(cause)
	if e.Kind != KindUnhandled {
		t.Fatalf("From(foreign) kind = %q, want %q", e.Kind, KindUnhandled)
	}
	if !errors.Is(e, cause) {
		t.Fatalf("expected original error preserved as cause")
	}

	orig := NotFound("seller onboarding", "3")
	if From(fmt.Errorf("ctx: %w", orig)) != orig {
		t.Fatalf("From must return the embedded *Error unchanged")
	}
}
