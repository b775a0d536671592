// Package inbox implements the receiving side of ASMail (§4.J): a
// persistent event subscription with reconnect/back-off, the index
// mapping msgId to its cached decrypt info, a short-lived reader cache
// of opened messages, and the receive-path orchestration that ties
// objcache, keyring, and message together.
package inbox

import "fmt"

// Kind enumerates the tagged errors this package raises.
type Kind string

const (
	KindNotFound     Kind = "notFound"
	KindKeyMismatch  Kind = "keyMismatch"
	KindIdentityFail Kind = "identityFail"
	KindMalformed    Kind = "malformed"
)

// Error is the tagged error raised by inbox operations.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("inbox: %s", e.Kind)
	}
	return fmt.Sprintf("inbox: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Kind == e.Kind
}

func errf(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}
