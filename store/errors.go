package store

import (
	"errors"
	"fmt"
)

// Kind classifies a store error.
type Kind int

const (
	// KindOther covers I/O, codec and locking failures.
	KindOther Kind = iota
	// KindNotFound is returned for lookups and deletes of absent ids.
	KindNotFound
	// KindInvalidData is returned when content that must be a JSON object
	// is not one, or when a value cannot be serialized.
	KindInvalidData
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindInvalidData:
		return "invalid data"
	default:
		return "other"
	}
}

// Sentinel errors matched by *Error through errors.Is.
var (
	ErrNotFound    = errors.New("no such object")
	ErrInvalidData = errors.New("invalid file content")
)

// Error is the error type returned by every store operation.
type Error struct {
	Kind Kind
	Op   string
	ID   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.ID != "" {
		return fmt.Sprintf("%s %q: %s", e.Op, e.ID, msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrInvalidData:
		return e.Kind == KindInvalidData
	}
	return false
}

// KindOf reports the Kind of err. Errors not produced by the store are
// KindOther.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidData checks if an error is an invalid data error.
func IsInvalidData(err error) bool {
	return errors.Is(err, ErrInvalidData)
}

func notFound(op, id string) error {
	return &Error{Kind: KindNotFound, Op: op, ID: id, Err: ErrNotFound}
}

func invalidData(op, id string, err error) error {
	if err == nil {
		err = ErrInvalidData
	}
	return &Error{Kind: KindInvalidData, Op: op, ID: id, Err: err}
}

func other(op, id string, err error) error {
	return &Error{Kind: KindOther, Op: op, ID: id, Err: err}
}
