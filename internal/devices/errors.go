package devices

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when the link is used before Open succeeded.
var ErrNotConnected = errors.New("serial link is not open")

var ErrPollerRunning = errors.New("a poller is already running for this reader")

// ConnectError reports a failed Open. The link stays Disconnected.
type ConnectError struct {
	Port string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("no se pudo abrir %s: %v", e.Port, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// IOError reports a read or write failure on an open link.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("error de %s en puerto serie: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
