package capi

import (
	stderrors "errors"

	"github.com/wippyai/wasm-capi/vec"
)

// Trap is a failure raised by a function call. It implements error.
type Trap struct {
	cause   error
	message ByteVec
}

// NewTrap creates a trap carrying message.
func NewTrap(message string) *Trap {
	return &Trap{message: vec.PlainOf([]byte(message)...)}
}

// NewTrapBytes creates a trap taking ownership of message.
func NewTrapBytes(message ByteVec) *Trap {
	return &Trap{message: message}
}

func wrapTrap(message string, cause error) *Trap {
	t := NewTrap(message)
	t.cause = cause
	return t
}

// asTrap returns err itself when it is (or wraps) a Trap, otherwise a trap
// carrying err's message.
func asTrap(err error) *Trap {
	var t *Trap
	if stderrors.As(err, &t) {
		return t
	}
	return wrapTrap(err.Error(), err)
}

// Message returns a copy of the trap message.
func (t *Trap) Message() ByteVec {
	return t.message.Copy()
}

func (t *Trap) Error() string {
	return string(t.message.Slice())
}

func (t *Trap) Unwrap() error {
	return t.cause
}

func (t *Trap) Copy() (*Trap, error) {
	return &Trap{message: t.message.Copy(), cause: t.cause}, nil
}

func (t *Trap) Delete() {
	t.message.Delete()
	t.cause = nil
}
