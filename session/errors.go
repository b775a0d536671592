// Package session implements the reusable "talk to a service while
// logged in via MailerId" wrapper (§4.B): session start/authorize,
// transparent one-shot re-login on authFailed, and at-most-one-
// redirect-on-login-start.
package session

import "fmt"

// Kind enumerates the tagged errors this package raises.
type Kind string

const (
	KindAuthFailed      Kind = "authFailed"
	KindTooManyRedirects Kind = "tooManyRedirects"
)

// Error is the tagged error raised by session operations.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("session: %s", e.Kind)
	}
	return fmt.Sprintf("session: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Kind == e.Kind
}

func errf(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}
