package listener

import (
	"errors"
	"fmt"
	"os"
)

var ErrInvalidBacklog = errors.New("listener: backlog must be positive")

// BindError reports that the address could not be bound: already in use,
// not resolvable or otherwise invalid.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// ListenError reports that the bound socket could not be put into the
// listening state.
type ListenError struct {
	Addr string
	Err  error
}

func (e *ListenError) Error() string {
	return fmt.Sprintf("listen %s: %v", e.Addr, e.Err)
}

func (e *ListenError) Unwrap() error {
	return e.Err
}

func classify(addr string, err error) error {
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) && sysErr.Syscall == "listen" {
		return &ListenError{Addr: addr, Err: err}
	}
	return &BindError{Addr: addr, Err: err}
}
