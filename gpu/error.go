package gpu

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies the errors returned by the package. All errors are terminal for the operation that
// returned them: nothing is retried internally.
type ErrorKind int

const (
	// UnknownError is the kind of errors that didn't originate in this package (or in a backend using NewError).
	UnknownError ErrorKind = iota

	// InvalidParams is returned for malformed requests: zero sizes, empty usages, bad texture descriptors, etc.
	InvalidParams

	// UnsupportedCapability is returned when the request needs a handle kind, usage or format that the
	// context's Capabilities doesn't include. No backend allocation is attempted in that case.
	UnsupportedCapability

	// OutOfMemory is returned when the backend allocation fails.
	OutOfMemory

	// NotExportable is returned when exporting a resource that was not created with a handle kind.
	NotExportable

	// InvalidHandle is returned for malformed, closed or already consumed handles, and for operations on
	// resources that have already been destroyed.
	InvalidHandle

	// InitializationFailure is returned when a context can't be created: backend not registered, no compatible
	// device, or failing device introspection.
	//
	// By convention this means "feature unavailable": callers should skip the dependent functionality
	// rather than abort. See IsUnavailable.
	InitializationFailure
)

// Error is the concrete error type of the package. Use KindOf, IsKind or errors.Is with one of the
// sentinel values (ErrInvalidParams, ...) to check for a kind.
type Error struct {
	Kind ErrorKind
	Op   string // Operation that failed, e.g. "CreateResource".
	Msg  string
	Err  error // Underlying cause, if any.
}

// Sentinel values to use with errors.Is: they match any *Error of the same kind.
var (
	ErrInvalidParams         = &Error{Kind: InvalidParams}
	ErrUnsupportedCapability = &Error{Kind: UnsupportedCapability}
	ErrOutOfMemory           = &Error{Kind: OutOfMemory}
	ErrNotExportable         = &Error{Kind: NotExportable}
	ErrInvalidHandle         = &Error{Kind: InvalidHandle}
	ErrInitializationFailure = &Error{Kind: InitializationFailure}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel (an *Error with only the Kind set) of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// NewError creates a new error of the given kind, with a stack trace (see github.com/pkg/errors package).
//
// Backends should use it to report errors whose kind is known: e.g. an allocation failure due to memory limits
// should be reported as OutOfMemory.
func NewError(kind ErrorKind, format string, args ...any) error {
	return errors.WithStack(&Error{Kind: kind, Msg: fmt.Sprintf(format, args...)})
}

// opErrorf creates an error for the given operation.
func opErrorf(op string, kind ErrorKind, format string, args ...any) error {
	return errors.WithStack(&Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)})
}

// wrapError annotates an error (usually returned by a backend driver) with the operation.
// If the error is not classified (see NewError), it is classified with the fallback kind.
func wrapError(op string, fallback ErrorKind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	kind := KindOf(err)
	if kind == UnknownError {
		kind = fallback
	}
	return errors.WithStack(&Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: err})
}

// KindOf returns the kind of the error, or UnknownError if err is not (and doesn't wrap) an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return UnknownError
}

// IsKind returns whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsUnavailable returns whether the error reports that a backend or device is not available on this machine.
// Callers should skip the dependent functionality (as opposed to failing).
func IsUnavailable(err error) bool {
	return IsKind(err, InitializationFailure)
}
