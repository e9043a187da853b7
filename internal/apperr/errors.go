// Package apperr implements the error taxonomy shared by every engine and
// adapter: a tagged Kind plus a wrapped cause, mapped to HTTP status and
// MQTT error payloads at the edges.
package apperr

import "fmt"

// Kind tags the category of failure, matching spec.md §7.
type Kind int

const (
	KindConfig Kind = iota
	KindTransport
	KindTimeout
	KindProtocol
	KindDpt
	KindNotFound
	KindInvalidState
	KindCancelled
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindProtocol:
		return "protocol"
	case KindDpt:
		return "dpt"
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindCancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// Error is the concrete type returned by engines and ports for expected
// failure modes. It is never used for programmer errors, which panic.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with the given kind and operation label.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NotSeekable is the specific InvalidState used for seek attempts on a
// stream that cannot be seeked (continuous HTTP radio).
func NotSeekable(op string) *Error {
	return New(KindInvalidState, op, fmt.Errorf("stream is not seekable"))
}

// StartupTimeout is the specific Timeout used when a decoder does not
// leave Opening/Buffering within the startup window.
func StartupTimeout(op string) *Error {
	return New(KindTimeout, op, fmt.Errorf("decoder startup timed out"))
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, defaulting to KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if asError(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
