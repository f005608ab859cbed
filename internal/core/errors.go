package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can decide whether to retry,
// re-authorize, or surface the problem.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation_error"
	KindTransient     ErrorKind = "transient_error"
	KindAuthorization ErrorKind = "auth_error"
	KindConflict      ErrorKind = "conflict_error"
	KindNotFound      ErrorKind = "not_found_error"
	KindInternal      ErrorKind = "internal_error"
)

// Error carries a kind and the operation that failed.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op string, err error) error {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func ValidationError(op string, err error) error    { return newError(KindValidation, op, err) }
func TransientError(op string, err error) error     { return newError(KindTransient, op, err) }
func AuthorizationError(op string, err error) error { return newError(KindAuthorization, op, err) }
func ConflictError(op string, err error) error      { return newError(KindConflict, op, err) }
func NotFoundError(op string, err error) error      { return newError(KindNotFound, op, err) }

// KindOf returns the kind of the outermost classified error in err's chain,
// or KindInternal when none is present.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsTransient(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

func IsAuthorization(err error) bool {
	return err != nil && KindOf(err) == KindAuthorization
}

func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}
