// Package asmailconfig implements the ASMail config client (§4.K): a
// MailerId-authenticated REST client over /param/<name> for a sender's
// own published parameters, plus an unauthenticated fetcher for reading
// a correspondent's published introductory key.
package asmailconfig

import "fmt"

// Kind enumerates the tagged errors this package raises.
type Kind string

const (
	KindUnknownParam Kind = "unknownParam"
	KindBadResponse  Kind = "badResponse"
	KindNotFound     Kind = "notFound"
	KindIdentityFail Kind = "identityFail"
)

// Error is the tagged error raised by asmailconfig operations.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("asmailconfig: %s", e.Kind)
	}
	return fmt.Sprintf("asmailconfig: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Kind == e.Kind
}

func errf(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}
