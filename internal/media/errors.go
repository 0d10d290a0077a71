package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error that crosses the orchestrator boundary is reduced to
// one of the first five before a retry decision is made.
var (
	// ErrTransientStore marks a network or timeout failure on any store. Retried with backoff.
	ErrTransientStore = errors.New("transient store error")

	// ErrNonRetryableMedia marks corrupt or unsupported content. The record goes straight to DEAD.
	ErrNonRetryableMedia = errors.New("non-retryable media error")

	// ErrCapacity marks an overloaded extractor. Retried on the capacity backoff curve.
	ErrCapacity = errors.New("extractor capacity exhausted")

	// ErrConsistencyViolation is raised by the reconciliation sweep. It is logged and healed, never returned to callers.
	ErrConsistencyViolation = errors.New("consistency violation")

	// ErrNotFound is returned for unknown media or jobs.
	ErrNotFound = errors.New("not found")
)

var (
	// ErrInvalidTransition is returned when a caller asks for an edge the state machine does not have.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrStateConflict is returned when a conditional update matched no row because another worker got there first.
	ErrStateConflict = errors.New("state changed concurrently")

	// ErrMalformedPayload is returned by DecodePayload. Such deliveries are quarantined.
	ErrMalformedPayload = errors.New("malformed job payload")
)

// Error carries an operation name and a kind next to the underlying cause.
// errors.Is matches both the kind and anything in the cause chain.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// E wraps err with kind and op. A nil err still produces an error of that kind.
func E(op string, kind error, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Classify reduces err to one of the taxonomy kinds. Unknown errors,
// cancellations and deadlines are treated as transient.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNonRetryableMedia):
		return ErrNonRetryableMedia
	case errors.Is(err, ErrCapacity):
		return ErrCapacity
	case errors.Is(err, ErrConsistencyViolation):
		return ErrConsistencyViolation
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrTransientStore
	default:
		return ErrTransientStore
	}
}

// IsRetryable reports whether the orchestrator should schedule another attempt for err.
func IsRetryable(err error) bool {
	kind := Classify(err)
	return kind == ErrTransientStore || kind == ErrCapacity
}

// KindName is the short label used in metrics and events.
func KindName(kind error) string {
	switch kind {
	case ErrTransientStore:
		return "transient"
	case ErrNonRetryableMedia:
		return "non_retryable"
	case ErrCapacity:
		return "capacity"
	case ErrConsistencyViolation:
		return "consistency"
	case ErrNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

const unsupportedPrefix = "unsupported format: "

// ReasonAllowsRetry reports whether a record that stopped with reason may
// still be given another attempt.
func ReasonAllowsRetry(reason string) bool {
	return !strings.HasPrefix(reason, unsupportedPrefix)
}

// FailureReason renders the human readable reason stored on a record when it
// stops making progress.
func FailureReason(kind error, attempts int, cause error) string {
	detail := "unknown error"
	if cause != nil {
		detail = cause.Error()
	}
	if kind == ErrNonRetryableMedia {
		return unsupportedPrefix + detail
	}
	return fmt.Sprintf("processing error, retried %d times: %s", attempts, detail)
}
