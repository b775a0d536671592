// Package message implements the logical-message packer/opener of
// §4.H: a root XSP file carrying header sections, a body, and an
// attachments subtree represented as a sibling folder node.
package message

import "fmt"

// Kind enumerates the tagged errors this package raises.
type Kind string

const (
	KindMalformed Kind = "malformed"
)

// Error is the tagged error raised by pack/open operations.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("message: %s", e.Kind)
	}
	return fmt.Sprintf("message: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Kind == e.Kind
}

func errf(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}
