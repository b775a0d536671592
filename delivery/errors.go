// Package delivery implements the outgoing-message sending engine of
// §4.I: per-recipient work-in-progress tracking, immediate vs.
// sequential scheduling, restart recovery, and cancellation.
package delivery

import "fmt"

// Kind enumerates the tagged errors this package raises.
type Kind string

const (
	KindNotFound  Kind = "notFound"
	KindNotDone   Kind = "notDone"
	KindCancelled Kind = "cancelled"
	KindDuplicate Kind = "duplicateId"
)

// Error is the tagged error raised by engine operations.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("delivery: %s", e.Kind)
	}
	return fmt.Sprintf("delivery: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Kind == e.Kind
}

func errf(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}
