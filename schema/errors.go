package schema

import (
	"errors"
	"fmt"
)

// ErrSchema is wrapped by every descriptor error.
var ErrSchema = errors.New("schema error")

// Error is a descriptor problem with the path of the offending field.
type Error struct {
	Path string
	Msg  string
}

func (e *Error) Error() string {
	if e.Path == "" {
		return "schema: " + e.Msg
	}
	return fmt.Sprintf("schema: %s: %s", e.Path, e.Msg)
}

func (e *Error) Unwrap() error { return ErrSchema }

func errorf(path, format string, args ...any) *Error {
	return &Error{Path: path, Msg: fmt.Sprintf(format, args...)}
}
