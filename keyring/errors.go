// Package keyring implements per-correspondent key state: reception
// and sending pairs, published introductory keys, and the ratchet
// coherence checks that run on every receive (§4.G).
package keyring

import "fmt"

// Kind enumerates the tagged errors this package raises.
type Kind string

const (
	KindUnknownPid       Kind = "unknownPid"
	KindUnknownIntroKey  Kind = "unknownIntroKey"
	KindCoherenceFailed  Kind = "coherenceFailed"
	KindReplay           Kind = "replay"
	KindNoSendingMeans   Kind = "noSendingMeans"
)

// Error is the tagged error raised by keyring operations.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("keyring: %s", e.Kind)
	}
	return fmt.Sprintf("keyring: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Kind == e.Kind
}

func errf(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}
