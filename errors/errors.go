// Package errors defines the error taxonomy of the messaging core and the
// mapping from internal errors to wire-visible codes.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Wire-visible error codes. Clients branch on these, never on messages.
const (
	CodeValidationFailed  = "VALIDATION_FAILED"
	CodeNotAuthorized     = "NOT_AUTHORIZED"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodePersistenceFailed = "PERSISTENCE_FAILED"
	CodeUnknownEvent      = "UNKNOWN_EVENT"
	CodeInternal          = "INTERNAL"
)

var (
	ErrWorkerPanic   = fmt.Errorf("worker panic")
	ErrMatchNotFound = fmt.Errorf("match not found")
	ErrMissingToken  = fmt.Errorf("missing identity token")
	ErrInvalidToken  = fmt.Errorf("invalid identity token")
	ErrUnknownEvent  = fmt.Errorf("unknown event")
)

// ValidationError reports a malformed event payload. A client bug, logged
// at low severity.
type ValidationError struct {
	Event  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload: %s", e.Event, e.Reason)
}

// AuthorizationError reports an action against a conversation the identity
// may not act in. Always logged, never silently tolerated.
type AuthorizationError struct {
	Identity       string
	ConversationID string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("identity %s is not authorized for conversation %s",
		e.Identity, e.ConversationID)
}

// RateLimitError reports an exhausted budget. Carries the advisory cooldown
// so the client can back off deterministically.
type RateLimitError struct {
	Class      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s",
		e.Class, e.RetryAfter)
}

// PersistenceError wraps a failed or timed-out store call. High severity;
// surfaced to the initiating client only, never broadcast.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// DegradedError marks the shared rate-limit store as unreachable. It
// triggers fail-open: the caller logs it and allows the action.
type DegradedError struct {
	Store string
	Err   error
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("%s store degraded: %v", e.Store, e.Err)
}

func (e *DegradedError) Unwrap() error { return e.Err }

// CodeOf maps an internal error to its wire code.
func CodeOf(err error) string {
	var (
		validation *ValidationError
		authz      *AuthorizationError
		rate       *RateLimitError
		persist    *PersistenceError
	)
	switch {
	case errors.Is(err, ErrUnknownEvent):
		return CodeUnknownEvent
	case errors.As(err, &validation):
		return CodeValidationFailed
	case errors.As(err, &authz):
		return CodeNotAuthorized
	case errors.As(err, &rate):
		return CodeRateLimitExceeded
	case errors.As(err, &persist):
		return CodePersistenceFailed
	default:
		return CodeInternal
	}
}
