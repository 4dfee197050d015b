package h264bridge

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure a boundary operation can report.
type ErrorKind uint8

const (
	KindUnknown           ErrorKind = iota
	KindInvalidArgument             // caller value outside its domain, detected before any engine is touched
	KindInvalidParameters           // configuration rejected by the engine itself
	KindRuntime                     // buffer conversion or missing native support
	KindEncoder                     // engine failure during an actual encode
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindInvalidParameters:
		return "InvalidParameters"
	case KindRuntime:
		return "RuntimeError"
	case KindEncoder:
		return "EncoderError"
	default:
		return "Unknown"
	}
}

// Sentinels for errors.Is. Every *Error matches exactly one of them.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrRuntime           = errors.New("runtime error")
	ErrEncoder           = errors.New("encoder error")

	// ErrEngineUnavailable is reported (as a RuntimeError) when the native
	// OpenH264 shim cannot be loaded on this system.
	ErrEngineUnavailable = errors.New("openh264 engine not available")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindInvalidArgument:
		return ErrInvalidArgument
	case KindInvalidParameters:
		return ErrInvalidParameters
	case KindRuntime:
		return ErrRuntime
	case KindEncoder:
		return ErrEncoder
	default:
		return nil
	}
}

// Error is the typed error returned by every boundary operation.
type Error struct {
	Kind ErrorKind
	Op   string // boundary operation, e.g. "create_encoder"
	Msg  string
	Err  error // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Op == "" {
		return fmt.Sprintf("h264bridge: %s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("h264bridge: %s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind ErrorKind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// wrapError attaches kind and op to cause. A cause that is already an *Error
// is returned as is (with op filled in), so a missing library is never
// reported as a configuration problem.
func wrapError(kind ErrorKind, op string, cause error, format string, args ...any) *Error {
	var e *Error
	if errors.As(cause, &e) {
		if e.Op == "" {
			e.Op = op
		}
		return e
	}
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: cause}
}

func invalidArgument(op, format string, args ...any) *Error {
	return newError(KindInvalidArgument, op, format, args...)
}

func runtimeError(op, format string, args ...any) *Error {
	return newError(KindRuntime, op, format, args...)
}
