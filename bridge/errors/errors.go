// Package errors classifies the failures the bridge can produce.
//
// Every error raised by the data-exchange engine belongs to one of four classes:
// configuration errors (detected while building the session), codec errors
// (raised while a payload is serialized or parsed), native-call errors (non-success
// status codes reported by the FMU or the bus) and ordering errors (a message
// that would break step-aligned delivery). Callers test for a class with
// IsClass or for a concrete condition with errors.Is against the sentinels below.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Class is the handling category of an error.
type Class int

const (
	// ClassConfiguration marks errors detected while loading or assembling configuration.
	ClassConfiguration Class = iota + 1
	// ClassCodec marks errors raised while encoding or decoding a wire payload.
	ClassCodec
	// ClassNative marks non-success status codes from the FMU or bus collaborators.
	ClassNative
	// ClassOrdering marks violations of step-aligned delivery.
	ClassOrdering
)

// String returns the string representation of Class
func (c Class) String() string {
	switch c {
	case ClassConfiguration:
		return "configuration"
	case ClassCodec:
		return "codec"
	case ClassNative:
		return "native"
	case ClassOrdering:
		return "ordering"
	default:
		return "unknown"
	}
}

// Standard error conditions.
var (
	// Configuration
	ErrUnresolvedType   = stderrors.New("unresolved type name")
	ErrUnknownType      = stderrors.New("unknown type token")
	ErrMalformedName    = stderrors.New("malformed structured name")
	ErrIncompleteStruct = stderrors.New("incomplete structure")
	ErrDuplicateName    = stderrors.New("duplicate name")
	ErrUnexpectedMember = stderrors.New("unexpected structure member")
	ErrCyclicType       = stderrors.New("cyclic type definition")
	ErrInvalidConfig    = stderrors.New("invalid configuration")

	// Codec
	ErrTruncated        = stderrors.New("truncated buffer")
	ErrShape            = stderrors.New("shape mismatch")
	ErrSubByteAlignment = stderrors.New("sub-byte width is not supported")
	ErrEnumRange        = stderrors.New("value too large for target enum width")
	ErrValueType        = stderrors.New("value does not match descriptor")
	ErrValueRange       = stderrors.New("value out of range for target type")

	// Native
	ErrNativeCall = stderrors.New("native call failed")

	// Ordering and lifecycle
	ErrFutureMessage = stderrors.New("message further in the future than next step")
	ErrTerminated    = stderrors.New("session terminated")
)

// Error is a classified bridge error. Op names the failing operation and
// Subject the offending identifier (variable, member, topic or declaration).
type Error struct {
	Class   Class
	Op      string
	Subject string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Subject != "":
		return fmt.Sprintf("%s error in %s (%s): %v", e.Class, e.Op, e.Subject, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s error in %s: %v", e.Class, e.Op, e.Err)
	case e.Subject != "":
		return fmt.Sprintf("%s error (%s): %v", e.Class, e.Subject, e.Err)
	default:
		return fmt.Sprintf("%s error: %v", e.Class, e.Err)
	}
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Configuration wraps err as a configuration error about subject.
func Configuration(subject string, err error) error {
	return &Error{Class: ClassConfiguration, Subject: subject, Err: err}
}

// Configurationf builds a configuration error wrapping sentinel with a formatted detail.
func Configurationf(subject string, sentinel error, format string, args ...any) error {
	return &Error{Class: ClassConfiguration, Subject: subject, Err: fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))}
}

// Codec wraps err as a codec error raised by op.
func Codec(op string, err error) error {
	return &Error{Class: ClassCodec, Op: op, Err: err}
}

// Codecf builds a codec error wrapping sentinel with a formatted detail.
func Codecf(op string, sentinel error, format string, args ...any) error {
	return &Error{Class: ClassCodec, Op: op, Err: fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))}
}

// Native builds a native-call error for op that reported status.
func Native(op string, status fmt.Stringer) error {
	return &Error{Class: ClassNative, Op: op, Err: fmt.Errorf("%w with status %s", ErrNativeCall, status)}
}

// Ordering builds an ordering error about subject.
func Ordering(subject string, err error) error {
	return &Error{Class: ClassOrdering, Subject: subject, Err: err}
}

// ClassOf returns the class of err, or 0 when err is not classified.
func ClassOf(err error) Class {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Class
	}
	return 0
}

// IsClass reports whether err carries class c.
func IsClass(err error, c Class) bool {
	return err != nil && ClassOf(err) == c
}

// IsFatal reports whether err must terminate the session. Every classified
// error is fatal, as is ErrTerminated.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return ClassOf(err) != 0 || stderrors.Is(err, ErrTerminated)
}

// Is forwards to errors.Is.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As forwards to errors.As.
func As(err error, target any) bool { return stderrors.As(err, target) }

// New forwards to errors.New.
func New(text string) error { return stderrors.New(text) }
