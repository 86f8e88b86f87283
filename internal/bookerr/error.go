// Package bookerr defines the tagged failure taxonomy used across the
// ingestion and book-assembly pipeline. Every fallible operation returns
// a *Error carrying one of a fixed set of kinds rather than a free-form
// string code, so callers can branch on failure class without parsing
// messages.
package bookerr

import (
	"errors"
	"fmt"
)

// Kind identifies the class of failure.
type Kind int

const (
	// Unknown is the zero value; never constructed deliberately.
	Unknown Kind = iota
	// CancelledByCaller means a context was cancelled or its deadline
	// exceeded while an operation was suspended.
	CancelledByCaller
	// NetworkTransient covers WS/REST I/O failures expected to clear on
	// retry (connection reset, timeout, 5xx).
	NetworkTransient
	// ProtocolInvalid means a message failed to parse or violated the
	// venue wire format.
	ProtocolInvalid
	// SequenceGap means an incremental batch failed the continuity check
	// against the book's current last_update_id.
	SequenceGap
	// BufferOverflow means a bounded queue was full and the oldest entry
	// was dropped, or a publish was refused.
	BufferOverflow
	// AlreadySubscribed means a second depth subscription was attempted
	// against a transport that permits exactly one.
	AlreadySubscribed
	// NotInitialized means an operation was attempted on a component
	// that has not completed its required setup (e.g. a book queried
	// before get_or_create has run).
	NotInitialized
)

func (k Kind) String() string {
	switch k {
	case CancelledByCaller:
		return "cancelled_by_caller"
	case NetworkTransient:
		return "network_transient"
	case ProtocolInvalid:
		return "protocol_invalid"
	case SequenceGap:
		return "sequence_gap"
	case BufferOverflow:
		return "buffer_overflow"
	case AlreadySubscribed:
		return "already_subscribed"
	case NotInitialized:
		return "not_initialized"
	default:
		return "unknown"
	}
}

// Error is the module's error type. It is comparable by Kind via Is, so
// callers can write `errors.Is(err, bookerr.KindError(bookerr.SequenceGap))`
// — see Is below, which treats any *Error passed to errors.Is as a
// kind-match target.
type Error struct {
	Kind    Kind
	Context string
	cause   error
}

// Option mutates an Error during construction.
type Option func(*Error)

// WithContext attaches a human-readable description of what was being
// attempted.
func WithContext(ctx string) Option {
	return func(e *Error) { e.Context = ctx }
}

// WithCause attaches the underlying error, if any.
func WithCause(cause error) Option {
	return func(e *Error) { e.cause = cause }
}

// New builds an *Error of the given kind.
func New(kind Kind, opts ...Option) *Error {
	e := &Error{Kind: kind}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Wrap builds an error of the given kind around cause unless cause is
// already a *Error, in which case it is returned unchanged.
func Wrap(kind Kind, cause error, context string) *Error {
	var existing *Error
	if errors.As(cause, &existing) {
		return existing
	}
	return New(kind, WithCause(cause), WithContext(context))
}

func (e *Error) Error() string {
	if e.Context != "" && e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.cause)
	}
	if e.Context != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Context)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is implements kind-based matching: errors.Is(err, bookerr.New(SequenceGap))
// and the shorthand errors.Is(err, bookerr.KindError(SequenceGap)) both
// compare by Kind rather than identity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindError returns a bare sentinel of the given kind, suitable for use
// with errors.Is as a match target.
func KindError(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Of reports the Kind carried by err, or Unknown if err is not an *Error.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
