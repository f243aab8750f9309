// Package apperr defines the error taxonomy shared by every docchat
// component. Each failure carries a Kind whose sentinel it matches under
// [errors.Is], so callers branch on category without string matching:
//
//	if errors.Is(err, apperr.ErrNotFound) { ... }
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// KindUnknown is an unclassified failure.
	KindUnknown Kind = iota
	// KindPrecondition means a component was used before its inputs were ready.
	KindPrecondition
	// KindNotFound means a requested collection, table or record is absent.
	KindNotFound
	// KindProvider means an embedding or chat model call failed.
	KindProvider
	// KindUnsupportedType means the document type is not recognised.
	KindUnsupportedType
	// KindStorage means a filesystem or database operation failed.
	KindStorage
)

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrPrecondition    = errors.New("precondition failed")
	ErrNotFound        = errors.New("not found")
	ErrProvider        = errors.New("provider error")
	ErrUnsupportedType = errors.New("unsupported type")
	ErrStorage         = errors.New("storage error")
)

// String returns the lower-case kind name used in logs and API responses.
func (k Kind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition"
	case KindNotFound:
		return "not_found"
	case KindProvider:
		return "provider"
	case KindUnsupportedType:
		return "unsupported_type"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindPrecondition:
		return ErrPrecondition
	case KindNotFound:
		return ErrNotFound
	case KindProvider:
		return ErrProvider
	case KindUnsupportedType:
		return ErrUnsupportedType
	case KindStorage:
		return ErrStorage
	default:
		return nil
	}
}

// Error is a classified failure.
type Error struct {
	// Kind is the failure category.
	Kind Kind
	// Op names the operation that failed, e.g. "rag.Load".
	Op string
	// Msg is a human-readable description, may be empty when Err says it all.
	Msg string
	// Err is the underlying cause, may be nil.
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind.sentinel())
	}
}

// Unwrap exposes the cause to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// Precondition reports a component used before it was ready.
func Precondition(op, format string, args ...any) error {
	return &Error{Kind: KindPrecondition, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing collection, table or record.
func NotFound(op, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Unsupported reports an unrecognised document type.
func Unsupported(op, format string, args ...any) error {
	return &Error{Kind: KindUnsupportedType, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Provider wraps a failed embedding or model call.
func Provider(op string, err error) error {
	return &Error{Kind: KindProvider, Op: op, Err: err}
}

// Storage wraps a failed filesystem or database operation.
func Storage(op string, err error) error {
	return &Error{Kind: KindStorage, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
