// Package bridgeerr names the §7 error taxonomy as wrapped sentinel
// values, following the teacher's (github.com/go-interpreter/wagon)
// habit of exported sentinel errors (ErrMultipleLinearMemories,
// ErrOutOfBoundsMemoryAccess) plus github.com/pkg/errors for
// annotation, so every fallible path in this module can Wrap a sentinel
// with call-site context and the exports boundary can recover the kind
// with errors.Cause.
package bridgeerr

import "github.com/pkg/errors"

// Kind classifies a failure the way spec.md §7's table does. The
// dispatcher and exports boundary switch on Kind to decide how (and
// whether) to encode an error frame.
type Kind int

const (
	KindNone Kind = iota
	KindCompile
	KindRuntime
	KindBufferTooSmall
	KindUnsupported
	KindMalformed
	KindHostAbsent
	KindHostFailure
	KindOOM
	KindInvalidLength
)

func (k Kind) String() string {
	switch k {
	case KindCompile:
		return "compile"
	case KindRuntime:
		return "runtime"
	case KindBufferTooSmall:
		return "serialize.buffer_too_small"
	case KindUnsupported:
		return "serialize.unsupported"
	case KindMalformed:
		return "serialize.malformed"
	case KindHostAbsent:
		return "host.absent"
	case KindHostFailure:
		return "host.failure"
	case KindOOM:
		return "oom"
	case KindInvalidLength:
		return "invalid_length"
	default:
		return "none"
	}
}

// Tag is the short wire prefix §6 "Error encoding on compute failure"
// requires for Compile/Runtime/internal errors (e.g. "compile:").
func (k Kind) Tag() string {
	switch k {
	case KindCompile:
		return "compile:"
	case KindRuntime:
		return "runtime:"
	default:
		return "internal:"
	}
}

// kindError pairs a Kind with the wrapped cause so errors.Cause(...)
// recovers an *kindError and callers can branch on Kind() without
// string-matching messages.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Cause() error  { return e.err }
func (e *kindError) Unwrap() error { return e.err }

// Wrap annotates err with a Kind and call-site message, the way
// errors.Wrap annotates with just a message.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: errors.Wrap(err, msg)}
}

// New creates a fresh error carrying Kind, with no wrapped cause.
func New(kind Kind, msg string) error {
	return &kindError{kind: kind, err: errors.New(msg)}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &kindError{kind: kind, err: errors.Errorf(format, args...)}
}

// KindOf walks err's cause chain looking for a Kind; KindNone if none is
// found (a plain, un-annotated error).
func KindOf(err error) Kind {
	for err != nil {
		if ke, ok := err.(*kindError); ok {
			return ke.kind
		}
		cause, ok := err.(interface{ Cause() error })
		if !ok {
			break
		}
		err = cause.Cause()
	}
	return KindNone
}
