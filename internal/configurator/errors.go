package configurator

import (
	"errors"
	"fmt"
)

var ErrStaticAddress = errors.New("static mode requires address and netmask")

// InterfaceError is a fatal failure while configuring or tearing down one
// interface.
type InterfaceError struct {
	Interface string
	Op        string
	Err       error
}

func (e *InterfaceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Interface, e.Op, e.Err)
}

func (e *InterfaceError) Unwrap() error {
	return e.Err
}

func fail(name, op string, err error) error {
	return &InterfaceError{Interface: name, Op: op, Err: err}
}
