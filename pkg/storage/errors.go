package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies every error surfaced by an Operator.
//
// Host bindings translate kinds to their native error types, so the set is
// closed and the numeric values are part of the public contract. New kinds
// are only ever appended.
type ErrorKind int

const (
	// KindUnexpected is the catch-all for errors the engine cannot classify.
	KindUnexpected ErrorKind = iota

	// KindUnsupported means the operation or one of its variants is not
	// supported by the backend's full capability.
	KindUnsupported

	// KindConfigInvalid means the operator could not be built from the
	// given configuration.
	KindConfigInvalid

	KindNotFound
	KindPermissionDenied
	KindIsADirectory
	KindNotADirectory
	KindAlreadyExists

	// KindRateLimited means the backend (or a throttle layer) refused the
	// request because of a rate limit. Usually temporary.
	KindRateLimited

	// KindIsSameFile is returned by copy/rename when source and destination
	// resolve to the same path.
	KindIsSameFile

	// KindConditionNotMatch is returned when an if-match / if-none-match
	// precondition fails.
	KindConditionNotMatch

	// KindInvalidInput means the caller passed a malformed argument
	// (bad path, misaligned multipart chunk, negative expiry...).
	KindInvalidInput
)

var kindNames = [...]string{
	KindUnexpected:        "Unexpected",
	KindUnsupported:       "Unsupported",
	KindConfigInvalid:     "ConfigInvalid",
	KindNotFound:          "NotFound",
	KindPermissionDenied:  "PermissionDenied",
	KindIsADirectory:      "IsADirectory",
	KindNotADirectory:     "NotADirectory",
	KindAlreadyExists:     "AlreadyExists",
	KindRateLimited:       "RateLimited",
	KindIsSameFile:        "IsSameFile",
	KindConditionNotMatch: "ConditionNotMatch",
	KindInvalidInput:      "InvalidInput",
}

// AllKinds lists every defined ErrorKind in declaration order.
func AllKinds() []ErrorKind {
	kinds := make([]ErrorKind, len(kindNames))
	for i := range kindNames {
		kinds[i] = ErrorKind(i)
	}
	return kinds
}

func (k ErrorKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
	return kindNames[k]
}

// Error makes an ErrorKind usable as a sentinel with errors.Is.
func (k ErrorKind) Error() string {
	return k.String()
}

// Kind sentinels. Match with errors.Is:
//
//	if errors.Is(err, storage.ErrNotFound) { ... }
var (
	ErrUnexpected        error = KindUnexpected
	ErrUnsupported       error = KindUnsupported
	ErrConfigInvalid     error = KindConfigInvalid
	ErrNotFound          error = KindNotFound
	ErrPermissionDenied  error = KindPermissionDenied
	ErrIsADirectory      error = KindIsADirectory
	ErrNotADirectory     error = KindNotADirectory
	ErrAlreadyExists     error = KindAlreadyExists
	ErrRateLimited       error = KindRateLimited
	ErrIsSameFile        error = KindIsSameFile
	ErrConditionNotMatch error = KindConditionNotMatch
	ErrInvalidInput      error = KindInvalidInput
)

// Error is the structured error type returned by the engine.
//
// Kind is preserved across every layer. Operation and Path are filled in by
// the Operator when the error crosses the façade, Context carries extra
// key/value pairs (emulation step, attempt count, backend status code).
// Temporary marks errors the retry layer may retry.
type Error struct {
	Kind      ErrorKind
	Message   string
	Operation Operation
	Path      string
	Context   []ContextValue
	Temporary bool
	Attempts  int
	Err       error
}

// ContextValue is one key/value pair attached to an Error.
type ContextValue struct {
	Key   string
	Value string
}

// NewError creates an Error of the given kind.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Unsupported is shorthand for the error every capability check returns.
func Unsupported(op Operation, what string) *Error {
	return &Error{
		Kind:      KindUnsupported,
		Message:   what + " is not supported",
		Operation: op,
	}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Temporary {
		b.WriteString(" (temporary)")
	}
	if e.Operation != "" {
		b.WriteString(" at ")
		b.WriteString(string(e.Operation))
	}
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if len(e.Context) > 0 {
		b.WriteString(" {")
		for i, c := range e.Context {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c.Key)
			b.WriteString(": ")
			b.WriteString(c.Value)
		}
		b.WriteString("}")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && k == e.Kind
}

// WithCause sets the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// WithOperation sets the operation.
func (e *Error) WithOperation(op Operation) *Error {
	e.Operation = op
	return e
}

// WithPath sets the path.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithContext appends a key/value pair.
func (e *Error) WithContext(key, value string) *Error {
	e.Context = append(e.Context, ContextValue{Key: key, Value: value})
	return e
}

// SetTemporary marks the error as retryable.
func (e *Error) SetTemporary() *Error {
	e.Temporary = true
	return e
}

// clone returns a shallow copy with its own Context slice, so decorating a
// shared error never mutates the original.
func (e *Error) clone() *Error {
	c := *e
	c.Context = append([]ContextValue(nil), e.Context...)
	return &c
}

// KindOf returns the ErrorKind carried by err, or KindUnexpected when err
// is not (and does not wrap) an *Error.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnexpected
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	var k ErrorKind
	if errors.As(err, &k) {
		return k
	}
	return KindUnexpected
}

// IsTemporary reports whether err is marked retryable.
func IsTemporary(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Temporary
	}
	return false
}

// Attempts returns how many attempts the retry layer spent before giving
// up, or 0 when err never went through a retry layer.
func Attempts(err error) int {
	var se *Error
	if errors.As(err, &se) {
		return se.Attempts
	}
	return 0
}

// WithAttempts returns a copy of err recording the attempt count. The copy
// is no longer temporary: the retry budget is spent.
func WithAttempts(err error, attempts int) error {
	var se *Error
	if !errors.As(err, &se) {
		return &Error{Kind: KindUnexpected, Attempts: attempts, Err: err}
	}
	c := se.clone()
	c.Attempts = attempts
	c.Temporary = false
	return c
}

// wrapError attaches operation and path context to err, preserving its
// kind. Context cancellation is kept reachable through Unwrap.
func wrapError(err error, op Operation, path string) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		c := se.clone()
		if c.Operation == "" {
			c.Operation = op
		}
		if c.Path == "" {
			c.Path = path
		}
		return c
	}
	e := &Error{Kind: KindUnexpected, Operation: op, Path: path, Err: err}
	if errors.Is(err, context.DeadlineExceeded) {
		e.Temporary = true
	}
	return e
}
