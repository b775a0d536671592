// Package sendingparams implements the sending-params store (§4.L): the
// own-params table a sender keeps per correspondent, the params other
// correspondents have left for us, and the anonymous-invite labels
// own-params defaults are sourced from.
package sendingparams

import "fmt"

// Kind enumerates the tagged errors this package raises.
type Kind string

const (
	KindNotFound Kind = "notFound"
	KindStale    Kind = "stale"
)

// Error is the tagged error raised by sending-params operations.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("sendingparams: %s", e.Kind)
	}
	return fmt.Sprintf("sendingparams: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Kind == e.Kind
}

func errf(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}
