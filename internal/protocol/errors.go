package protocol

import (
	"errors"
	"fmt"
)

// ErrorKind partitions failures by how a caller should react: validation and
// policy failures will never succeed as submitted, stale data and slippage
// are retryable, expiry is terminal, and conflicts mean re-read and
// recompute.
type ErrorKind uint8

const (
	KindValidation ErrorKind = iota
	KindPolicy
	KindStaleData
	KindSlippage
	KindExpired
	KindConflict
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPolicy:
		return "policy"
	case KindStaleData:
		return "stale_data"
	case KindSlippage:
		return "slippage"
	case KindExpired:
		return "expired"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a domain failure with a stable kind. errors.Is matches both the
// kind sentinel and any wrapped cause.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrPolicyViolation) match on the kind sentinel.
func (e *Error) Is(target error) bool {
	if sentinel, ok := target.(*Error); ok {
		return sentinel.Msg == "" && sentinel.Kind == e.Kind
	}
	return false
}

// Kind sentinels for errors.Is.
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrPolicyViolation     = &Error{Kind: KindPolicy}
	ErrStaleData           = &Error{Kind: KindStaleData}
	ErrSlippageExceeded    = &Error{Kind: KindSlippage}
	ErrExpired             = &Error{Kind: KindExpired}
	ErrConcurrencyConflict = &Error{Kind: KindConflict}
	ErrNotFound            = &Error{Kind: KindNotFound}
)

// Validationf builds a validation error.
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Policyf builds a policy violation.
func Policyf(format string, args ...any) error {
	return &Error{Kind: KindPolicy, Msg: fmt.Sprintf(format, args...)}
}

// Stalef builds a retryable stale-data error.
func Stalef(format string, args ...any) error {
	return &Error{Kind: KindStaleData, Msg: fmt.Sprintf(format, args...)}
}

// Slippagef builds a retryable slippage-floor error.
func Slippagef(format string, args ...any) error {
	return &Error{Kind: KindSlippage, Msg: fmt.Sprintf(format, args...)}
}

// Expiredf builds a terminal expiry error.
func Expiredf(format string, args ...any) error {
	return &Error{Kind: KindExpired, Msg: fmt.Sprintf(format, args...)}
}

// Conflictf builds a concurrency conflict.
func Conflictf(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a missing-record error.
func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Retryable reports whether the error should be retried after the underlying
// condition clears (fresh price, conflict re-read).
func Retryable(err error) bool {
	return errors.Is(err, ErrStaleData) || errors.Is(err, ErrConcurrencyConflict)
}
