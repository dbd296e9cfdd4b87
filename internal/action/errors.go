// Package action — errors.go
//
// Typed error kinds for the action layer, matching the propagation
// policy: ESRCH means the process is gone (skip, non-fatal), EPERM and
// EACCES mean permission denied (skip with remediation), EINVAL means
// the call itself was malformed (failed), anything else is fatal and
// abandons the plan. Identity mismatches are terminal-skips, never
// retried.

package action

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Kind classifies an action failure.
type Kind uint8

const (
	KindFailed Kind = iota
	KindPermissionDenied
	KindProcessGone
	KindIdentityMismatch
	KindTimeout
	KindFatal
)

// String returns the kind label used in execution log entries.
func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindProcessGone:
		return "process_gone"
	case KindIdentityMismatch:
		return "identity_mismatch"
	case KindTimeout:
		return "timeout"
	case KindFatal:
		return "fatal"
	default:
		return "failed"
	}
}

// Error is the action layer's error type.
type Error struct {
	Kind Kind
	Op   string
	PID  uint32
	Err  error
}

// Error renders the diagnostic with the kind, operation, and target.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("action %s pid %d: %s: %v", e.Op, e.PID, e.Kind, e.Err)
	}
	return fmt.Sprintf("action %s pid %d: %s", e.Op, e.PID, e.Kind)
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the kind from any error, defaulting to Failed.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindFailed
}

// classifyErrno maps a syscall error per the §7 policy.
func classifyErrno(op string, pid uint32, err error) *Error {
	switch {
	case errors.Is(err, unix.ESRCH):
		return &Error{Kind: KindProcessGone, Op: op, PID: pid, Err: err}
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return &Error{Kind: KindPermissionDenied, Op: op, PID: pid, Err: err}
	case errors.Is(err, unix.EINVAL):
		return &Error{Kind: KindFailed, Op: op, PID: pid, Err: err}
	default:
		return &Error{Kind: KindFatal, Op: op, PID: pid, Err: err}
	}
}
