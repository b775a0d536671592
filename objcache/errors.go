// Package objcache implements the content-addressed on-disk cache of
// inbound message objects (§4.F): per-message folders holding a
// partially- or fully-downloaded copy of each server object, a
// key-status state machine, and a short TTL cache of live message
// handles.
package objcache

import "fmt"

// Kind enumerates the tagged errors this package raises.
type Kind string

const (
	KindNotFound        Kind = "notFound"
	KindKeyStatusLocked Kind = "keyStatusLocked"
	KindBadRange        Kind = "badRange"
)

// Error is the tagged error raised by cache operations.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("objcache: %s", e.Kind)
	}
	return fmt.Sprintf("objcache: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Kind == e.Kind
}

func errf(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}
