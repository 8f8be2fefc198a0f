// Package gerrors defines the typed error kinds surfaced by the gaffer
// process-supervision core.
package gerrors

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories the core promises to
// synchronous API callers.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindAlreadyExists       Kind = "already_exists"
	KindInvalidSpec         Kind = "invalid_spec"
	KindInvalidState        Kind = "invalid_state"
	KindSpawnError          Kind = "spawn_error"
	KindTerminateTimeout    Kind = "terminate_timeout"
	KindFlapping            Kind = "flapping"
	KindBackpressureDropped Kind = "backpressure_dropped"
)

// Error is the concrete error type returned by core APIs. Callers match on
// Kind via errors.As, not on message text.
type Error struct {
	Kind   Kind
	Msg    string
	Field  string // set for InvalidSpec
	Errno  error  // set for SpawnError
	Cause  error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Kind, e.Msg, e.Field)
	}
	if e.Errno != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Errno)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, gerrors.NotFound) work against the Kind, ignoring
// message/field/cause differences.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Kind == te.Kind
	}
	return false
}

func new_(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

// Sentinel values for errors.Is comparisons; only Kind is compared.
var (
	NotFound            = new_(KindNotFound, "not found")
	AlreadyExists       = new_(KindAlreadyExists, "already exists")
	InvalidState        = new_(KindInvalidState, "invalid state")
	Flapping            = new_(KindFlapping, "flapping")
	BackpressureDropped = new_(KindBackpressureDropped, "backpressure dropped")
)

func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func AlreadyExistsf(format string, args ...any) error {
	return &Error{Kind: KindAlreadyExists, Msg: fmt.Sprintf(format, args...)}
}

func InvalidSpec(field, format string, args ...any) error {
	return &Error{Kind: KindInvalidSpec, Field: field, Msg: fmt.Sprintf(format, args...)}
}

func InvalidStatef(format string, args ...any) error {
	return &Error{Kind: KindInvalidState, Msg: fmt.Sprintf(format, args...)}
}

func SpawnError(errno error, format string, args ...any) error {
	return &Error{Kind: KindSpawnError, Errno: errno, Msg: fmt.Sprintf(format, args...)}
}

func TerminateTimeout(format string, args ...any) error {
	return &Error{Kind: KindTerminateTimeout, Msg: fmt.Sprintf(format, args...)}
}

func Flappingf(format string, args ...any) error {
	return &Error{Kind: KindFlapping, Msg: fmt.Sprintf(format, args...)}
}

func BackpressureDroppedf(format string, args ...any) error {
	return &Error{Kind: KindBackpressureDropped, Msg: fmt.Sprintf(format, args...)}
}
