package wire

import (
	"fmt"
)

// UnknownOpError is reported by a backend that is given a request
// with an opcode it does not implement.
type UnknownOpError struct {
	Op Op
}

func (err UnknownOpError) Error() string {
	return fmt.Sprintf("unknown opcode: %v", uint16(err.Op))
}

// ArgError is reported when a request's arguments do not match its
// opcode.
type ArgError struct {
	Op    Op
	Index int
	Want  string
	Got   any
}

func (err ArgError) Error() string {
	return fmt.Sprintf("%v: argument %v: want %v, got %T", err.Op, err.Index, err.Want, err.Got)
}
