// Package xspfs implements the XSP filesystem (§4.E): a tree of
// file/folder/link nodes, each owning an XSP object (package xsp) plus
// a secret file key held only in its parent folder's table.
package xspfs

import "fmt"

// Kind enumerates the §7 "file" error taxonomy this package raises.
type Kind string

const (
	KindNotFound         Kind = "notFound"
	KindAlreadyExists    Kind = "alreadyExists"
	KindConcurrentUpdate Kind = "concurrentUpdate"
	KindVersionMismatch  Kind = "versionMismatch"
	KindIsEndless        Kind = "isEndless"
	KindReadOnly         Kind = "readOnly"
)

// Error is the tagged error raised by node operations.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("file: %s", e.Kind)
	}
	return fmt.Sprintf("file: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Kind == e.Kind
}

func errf(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}
