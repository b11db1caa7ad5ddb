// Package kerrors defines the kernel's error taxonomy. Every error the
// kernel returns across a package boundary is one of these kinds, so callers
// can branch on Is(err, KindX) instead of parsing messages.
package kerrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error per the propagation policy of spec.md §7.
type Kind int

const (
	// KindValidation covers malformed input, illegal state transitions, and
	// missing required fields. Never recovered; surfaced to the caller.
	KindValidation Kind = iota
	// KindNotFound covers an absent entity.
	KindNotFound
	// KindPermission covers a caller invoking a privileged operation it is
	// not authorized for (e.g. give_review from a non-validator agent).
	KindPermission
	// KindTransient covers lock-wait timeouts and serialization conflicts.
	// Returned without retrying; no call site in the module retries it.
	KindTransient
	// KindExternalTimeout covers LLM, sandbox, and embedding call timeouts.
	// Each component degrades per its own fallback policy.
	KindExternalTimeout
	// KindInvariant covers an in-memory cache observed inconsistent with
	// storage. The operation fails; the cache is rebuilt from storage at the
	// next tick.
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindPermission:
		return "permission"
	case KindTransient:
		return "transient"
	case KindExternalTimeout:
		return "external_timeout"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Error is a kernel error carrying a Kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "queue.next_ready"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a kernel error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validationf builds a KindValidation error with a formatted message.
func Validationf(op, format string, args ...any) error {
	return New(KindValidation, op, fmt.Errorf(format, args...))
}

// NotFoundf builds a KindNotFound error with a formatted message.
func NotFoundf(op, format string, args ...any) error {
	return New(KindNotFound, op, fmt.Errorf(format, args...))
}

// Permissionf builds a KindPermission error with a formatted message.
func Permissionf(op, format string, args ...any) error {
	return New(KindPermission, op, fmt.Errorf(format, args...))
}

// Transient wraps err as a KindTransient error.
func Transient(op string, err error) error {
	return New(KindTransient, op, err)
}

// ExternalTimeout wraps err as a KindExternalTimeout error.
func ExternalTimeout(op string, err error) error {
	return New(KindExternalTimeout, op, err)
}

// Invariant wraps err as a KindInvariant error.
func Invariant(op string, err error) error {
	return New(KindInvariant, op, err)
}

// Is reports whether err (or any error it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind == kind
	}
	return false
}
