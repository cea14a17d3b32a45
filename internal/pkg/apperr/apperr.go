package apperr

import (
	"errors"
	"fmt"
)

// Kind discriminates the closed set of failure categories the service can
// produce. Every internal failure is classified into exactly one kind before
// it crosses an HTTP boundary.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindNotFound            Kind = "not_found"
	KindStatusConflict      Kind = "status_conflict"
	KindProvider            Kind = "provider"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindProcessing          Kind = "processing"
	KindUnhandled           Kind = "unhandled"
)

// Error is the tagged-variant error carried through the service. Only the
// fields relevant to its Kind are populated.
type Error struct {
	Kind    Kind
	Message string

	// KindValidation
	Fields map[string]string

	// KindNotFound / KindStatusConflict
	EntityID string

	// KindStatusConflict
	CurrentStatus   string
	RequestedAction string

	// KindProvider
	ProviderCode string

	// KindInsufficientBalance
	RequestedAmount string
	AvailableAmount string

	// KindProcessing
	Stage     string
	Retryable bool

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Validation builds a 400-class error with optional per-field messages.
func Validation(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

// NotFound builds a 404-class error for a missing entity.
func NotFound(entity, id string) *Error {
	return &Error{
		Kind:     KindNotFound,
		Message:  fmt.Sprintf("%s not found", entity),
		EntityID: id,
	}
}

// Conflict builds a 409-class error carrying the state that rejected the action.
func Conflict(entityID, currentStatus, requestedAction string) *Error {
	return &Error{
		Kind:            KindStatusConflict,
		Message:         fmt.Sprintf("cannot %s while %s", requestedAction, currentStatus),
		EntityID:        entityID,
		CurrentStatus:   currentStatus,
		RequestedAction: requestedAction,
	}
}

// Provider builds a 422-class error from a provider-reported failure code.
func Provider(code, message string) *Error {
	return &Error{Kind: KindProvider, Message: message, ProviderCode: code}
}

// InsufficientBalance builds the non-retryable provider balance error.
func InsufficientBalance(requested, available string) *Error {
	return &Error{
		Kind:            KindInsufficientBalance,
		Message:         "insufficient balance for payout",
		RequestedAmount: requested,
		AvailableAmount: available,
	}
}

// Processing builds an internal pipeline failure; retryable decides whether
// the boundary reports 503 (caller may redeliver) or 500.
func Processing(stage string, retryable bool, cause error) *Error {
	msg := "processing failed"
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: KindProcessing, Message: msg, Stage: stage, Retryable: retryable, cause: cause}
}

// Unhandled wraps anything that escaped classification.
func Unhandled(cause error) *Error {
	return &Error{Kind: KindUnhandled, Message: "internal error", cause: cause}
}

// KindOf extracts the kind of err, defaulting to KindUnhandled for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnhandled
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// From returns the *Error inside err, wrapping foreign errors as Unhandled.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Unhandled(err)
}
