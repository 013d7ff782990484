package command

import (
	"fmt"
	"strings"
)

const (
	MsgNotInteger = "ERR value is not an integer or out of range"
	MsgSyntax     = "ERR syntax error"
	MsgOverflow   = "ERR increment or decrement would overflow"
)

// Error is a command-level failure. Its message is sent to the client verbatim
type Error struct {
	Msg string
}

func (e *Error) Error() string {
	return e.Msg
}

func errorf(format string, args ...any) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}

// ErrWrongArity reports a wrong number of arguments for name
func ErrWrongArity(name string) *Error {
	return errorf("ERR wrong number of arguments for '%s' command", strings.ToLower(name))
}

// ErrUnknown reports a command name that is not registered
func ErrUnknown(name string, args []string) *Error {
	var b strings.Builder
	for _, arg := range args {
		fmt.Fprintf(&b, "'%s' ", arg)
	}
	return errorf("ERR unknown command '%s', with args beginning with: %s", name, b.String())
}

var (
	errNotInteger = &Error{Msg: MsgNotInteger}
	errSyntax     = &Error{Msg: MsgSyntax}
)
