package core

import "errors"

// Kind classifies a failure for callers. It is comparable and implements
// error, so errors.Is(err, ErrBusy) works on any wrapped *Error.
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	ErrPower  Kind = "power"
	ErrBus    Kind = "bus"
	ErrConfig Kind = "config"
	ErrFormat Kind = "format"
	ErrBusy   Kind = "busy"

	ErrUnknown Kind = "error"
)

// Error keeps the operation and cause alongside the kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + string(e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf extracts the Kind of err. nil maps to "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return ErrUnknown
}

func wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

var (
	errClosed   = errors.New("core closed")
	errAsleep   = errors.New("chip asleep")
	errCanceled = errors.New("enable canceled by disable")
)
