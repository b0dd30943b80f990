// Package failure defines the error taxonomy shared by the provisioning and
// supervision components.
//
// Components return *Error at their boundaries so that callers (and the UI
// layer behind an events.Sink) can branch on the Kind without parsing
// messages, while errors.Is/errors.As still reach the underlying cause.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindIO             Kind = "io"
	KindNetwork        Kind = "network"
	KindHTTP           Kind = "http"
	KindExtract        Kind = "extract"
	KindLayout         Kind = "layout"
	KindDigestMismatch Kind = "digest_mismatch"
	KindSignature      Kind = "signature"
	KindSpawn          Kind = "spawn"
	KindProcessCrash   Kind = "process_crash"
	KindConfig         Kind = "config"
	KindTimeout        Kind = "timeout"
	KindBusy           Kind = "busy"
	KindUnknown        Kind = "unknown"
)

// String returns the string representation of the kind
func (k Kind) String() string {
	return string(k)
}

// Error is a classified failure. Status is only set for KindHTTP.
type Error struct {
	Kind   Kind
	Status int
	Op     string
	Err    error
}

// Error returns "op: cause" with the HTTP status folded in when present.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Kind == KindHTTP && e.Status != 0 {
		msg = fmt.Sprintf("http status %d", e.Status)
	}
	if e.Err != nil {
		msg = e.Err.Error()
		if e.Kind == KindHTTP && e.Status != 0 {
			msg = fmt.Sprintf("http status %d: %s", e.Status, e.Err)
		}
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

// Unwrap returns the wrapped error, preserving the error chain.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind (and status when the target sets one),
// so errors.Is(err, &failure.Error{Kind: failure.KindLayout}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Status == 0 || t.Status == e.Status
}

// New creates a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf creates a classified error from a format string.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// HTTP creates a KindHTTP error for a non-2xx response.
func HTTP(op string, status int) *Error {
	return &Error{Kind: KindHTTP, Status: status, Op: op}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Status
	}
	return 0
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
