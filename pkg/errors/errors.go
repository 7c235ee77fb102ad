// Package errors provides the typed errors used across the inspector.
package errors

import (
	"errors"
	"fmt"
)

// =============================================================================
// Base Error Type
// =============================================================================

// Error is the base error type for all inspector errors. Every fatal error
// names the failing operation and carries the underlying OS status in Err.
type Error struct {
	// Kind indicates the category of error
	Kind Kind

	// Op is the operation being performed (e.g., "process.Open")
	Op string

	// Message is a human-readable description
	Message string

	// Err is the underlying error (typically the OS status)
	Err error
}

// Kind represents the kind/category of error.
type Kind uint8

const (
	KindUnknown Kind = iota

	// KindOpenFailed - the target process could not be opened.
	KindOpenFailed

	// KindArchMismatch - a 32-bit inspector cannot inspect a native target.
	KindArchMismatch

	// KindThreadQuery - a thread of the target could not be queried.
	KindThreadQuery

	// KindMalformedImage - a backing file is readable but not a valid PE.
	KindMalformedImage

	// KindUnreadableIdentity - image name or path of the target is unknown.
	KindUnreadableIdentity

	// KindNotCommitted - a dump was requested for non-committed memory.
	KindNotCommitted

	// KindUnsupported - the operation is not available on this platform.
	KindUnsupported

	// KindInvalidInput - bad caller-supplied configuration or selection.
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindOpenFailed:
		return "open_failed"
	case KindArchMismatch:
		return "architecture_mismatch"
	case KindThreadQuery:
		return "thread_query_failed"
	case KindMalformedImage:
		return "malformed_image"
	case KindUnreadableIdentity:
		return "unreadable_identity"
	case KindNotCommitted:
		return "not_committed"
	case KindUnsupported:
		return "unsupported"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// =============================================================================
// Constructors
// =============================================================================

// E constructs an Error from the given arguments.
// Arguments can be: Kind, string (Op then Message), error.
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Kind:
			e.Kind = a
		case string:
			if e.Op == "" {
				e.Op = a
			} else {
				e.Message = a
			}
		case error:
			e.Err = a
		}
	}
	return e
}

// New creates a new simple error.
func New(message string) error {
	return &Error{Message: message}
}

// Wrap wraps an error with the failing operation.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// =============================================================================
// Error Checkers
// =============================================================================

// GetKind returns the Kind of the error, or KindUnknown.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsOpenFailed reports whether the target process could not be opened.
func IsOpenFailed(err error) bool {
	return GetKind(err) == KindOpenFailed
}

// IsArchMismatch reports whether the scan was rejected for a 32-bit
// inspector facing a native target.
func IsArchMismatch(err error) bool {
	return GetKind(err) == KindArchMismatch
}

// IsThreadQueryFailed reports whether thread enumeration aborted the scan.
func IsThreadQueryFailed(err error) bool {
	return GetKind(err) == KindThreadQuery
}

// IsMalformedImage reports whether a backing file failed PE validation.
func IsMalformedImage(err error) bool {
	return GetKind(err) == KindMalformedImage
}

// IsFatal reports whether the error aborts the current snapshot, as opposed
// to a degraded state the scan continues through.
func IsFatal(err error) bool {
	switch GetKind(err) {
	case KindOpenFailed, KindArchMismatch, KindThreadQuery, KindMalformedImage:
		return true
	}
	return false
}
