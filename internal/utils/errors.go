package utils

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is; an AppError reports its Kind as part of its chain.
var (
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrNotFound     = errors.New("not found")
	ErrFetch        = errors.New("content fetch failed")
	ErrWrite        = errors.New("content write failed")
	ErrTimeout      = errors.New("timeout")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrRateLimited  = errors.New("rate limited")
	ErrAudit        = errors.New("audit write failed")
)

// AppError wraps an operation, human-facing message, error kind and underlying error.
type AppError struct {
	Op   string
	Msg  string
	Kind error
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the kind of this error.
func (e *AppError) Is(target error) bool {
	return e.Kind != nil && e.Kind == target
}

// NewAppError constructs an AppError without a kind.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// Validation reports bad input.
func Validation(op, msg string) error {
	return &AppError{Op: op, Msg: msg, Kind: ErrValidation}
}

// Conflict reports a state conflict such as an overlapping run or a double finish.
func Conflict(op, msg string) error {
	return &AppError{Op: op, Msg: msg, Kind: ErrConflict}
}

// InvalidState reports a transition the state machine does not allow.
func InvalidState(op, msg string) error {
	return &AppError{Op: op, Msg: msg, Kind: ErrInvalidState}
}

// NotFound reports an unknown identifier.
func NotFound(op, msg string) error {
	return &AppError{Op: op, Msg: msg, Kind: ErrNotFound}
}

// Wrap attaches a kind to an underlying error. Context deadline errors are
// additionally tagged as timeouts so both kinds match.
func Wrap(op, msg string, kind, err error) error {
	if err != nil && kind != ErrTimeout && errors.Is(err, context.DeadlineExceeded) {
		err = &AppError{Op: op, Msg: "deadline exceeded", Kind: ErrTimeout, Err: err}
	}
	return &AppError{Op: op, Msg: msg, Kind: kind, Err: err}
}

// KindOf returns the first known kind found in err's chain, or nil.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrValidation, ErrUnauthorized, ErrForbidden, ErrNotFound, ErrConflict, ErrInvalidState,
		ErrRateLimited, ErrTimeout, ErrFetch, ErrWrite, ErrAudit,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
