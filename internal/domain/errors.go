/**
 * @description
 * Structured error type returned by every engine operation. Each error carries a
 * stable Kind drawn from a closed set so that callers (HTTP handlers, consumers,
 * the CLI) can branch on the category without parsing messages.
 */

package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the category of a failure.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindInvalidInput       Kind = "invalid_input"
	KindInvalidAmount      Kind = "invalid_amount"
	KindInsufficientFunds  Kind = "insufficient_funds"
	KindInvalidState       Kind = "invalid_state"
	KindDuplicateApproval  Kind = "duplicate_approval"
	KindConflict           Kind = "conflict"
	KindAccountLoadError   Kind = "account_load_error"
	KindUnsupportedAsset   Kind = "unsupported_asset"
	KindInvalidCredential  Kind = "invalid_credential"
	KindRejected           Kind = "rejected"
	KindRetryable          Kind = "retryable"
	KindTimeout            Kind = "timeout"
	KindInvariantViolation Kind = "invariant_violation"
	KindInternal           Kind = "internal"
)

// Sentinels for errors.Is checks. They match any *Error of the same kind.
var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
	ErrInvalidAmount      = &Error{Kind: KindInvalidAmount}
	ErrInsufficientFunds  = &Error{Kind: KindInsufficientFunds}
	ErrInvalidState       = &Error{Kind: KindInvalidState}
	ErrDuplicateApproval  = &Error{Kind: KindDuplicateApproval}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrAccountLoad        = &Error{Kind: KindAccountLoadError}
	ErrUnsupportedAsset   = &Error{Kind: KindUnsupportedAsset}
	ErrInvalidCredential  = &Error{Kind: KindInvalidCredential}
	ErrRejected           = &Error{Kind: KindRejected}
	ErrRetryable          = &Error{Kind: KindRetryable}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrInvariantViolation = &Error{Kind: KindInvariantViolation}
)

// Error is the structured error value. Code carries the ledger reason code for
// rejections (e.g. "tx_bad_auth"); Fields carries extra context for logs and clients.
type Error struct {
	Kind    Kind
	Message string
	Code    string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Code != "" {
		b.WriteString(" (code=")
		b.WriteString(e.Code)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality against the bare sentinels above.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Code == "" && t.Err == nil && t.Kind == e.Kind
}

// With attaches a context field and returns the same error for chaining.
func (e *Error) With(key, value string) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[key] = value
	return e
}

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Rejection builds a non-retryable ledger rejection carrying the ledger's reason code.
func Rejection(code string, format string, args ...any) *Error {
	return &Error{Kind: KindRejected, Code: code, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind of err, defaulting to KindInternal for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// AsError returns the first *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsRetryable reports whether err represents a transient failure the caller may retry.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindRetryable, KindTimeout:
		return true
	default:
		return false
	}
}
