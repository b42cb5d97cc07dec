package devices

import (
	"sync"
	"time"

	"go.bug.st/serial"
)

// Port is the subset of serial.Port the link drives.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
	ResetInputBuffer() error
	ResetOutputBuffer() error
	Close() error
}

// Opener opens a named port with the given mode.
type Opener func(name string, mode *serial.Mode) (Port, error)

func openSerialPort(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

// maxReadBlock bounds a single OS read so that ReadByte returns promptly
// when nothing is pending.
const maxReadBlock = 5 * time.Millisecond

// Link owns one serial port handle. Expected failures never panic or
// escape as fatal errors: Open records the error and leaves the link
// Disconnected.
type Link struct {
	open Opener

	mu      sync.Mutex
	port    Port
	cfg     ScaleConfig
	state   LinkState
	lastErr string
	pending []byte
}

func NewLink(open Opener) *Link {
	if open == nil {
		open = openSerialPort
	}
	return &Link{open: open}
}

// Open closes any existing handle and opens cfg.Port with 8N1, no flow
// control, DTR/RTS driven to the configured values and both buffers
// flushed. The returned error is informational; State reflects it.
func (l *Link) Open(cfg ScaleConfig) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closeLocked()
	l.cfg = cfg

	if err := cfg.Validate(); err != nil {
		return l.failLocked(&ConnectError{Port: cfg.Port, Err: err})
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
		InitialStatusBits: &serial.ModemOutputBits{
			DTR: cfg.DTR,
			RTS: cfg.RTS,
		},
	}

	port, err := l.open(cfg.Port, mode)
	if err != nil {
		return l.failLocked(&ConnectError{Port: cfg.Port, Err: err})
	}

	setup := []func() error{
		func() error { return port.SetReadTimeout(readBlock(cfg.Timeout)) },
		func() error { return port.SetDTR(cfg.DTR) },
		func() error { return port.SetRTS(cfg.RTS) },
		port.ResetInputBuffer,
		port.ResetOutputBuffer,
	}
	for _, step := range setup {
		if err = step(); err != nil {
			_ = port.Close()
			return l.failLocked(&ConnectError{Port: cfg.Port, Err: err})
		}
	}

	l.port = port
	l.state = Connected
	l.lastErr = ""
	return nil
}

func readBlock(timeout time.Duration) time.Duration {
	if timeout > 0 && timeout < maxReadBlock {
		return timeout
	}
	return maxReadBlock
}

func (l *Link) failLocked(err error) error {
	l.state = Disconnected
	l.lastErr = err.Error()
	return err
}

// Close releases the handle. Safe to call any number of times.
func (l *Link) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeLocked()
}

func (l *Link) closeLocked() {
	if l.port != nil {
		_ = l.port.Close()
		l.port = nil
	}
	l.pending = l.pending[:0]
	l.state = Disconnected
}

func (l *Link) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port != nil
}

func (l *Link) State() ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ConnectionState{State: l.state, LastError: l.lastErr}
}

func (l *Link) Config() ScaleConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// RecordError stores a transient error string without changing state.
func (l *Link) RecordError(err error) {
	if err == nil {
		return
	}
	l.mu.Lock()
	l.lastErr = err.Error()
	l.mu.Unlock()
}

// ReadByte returns one byte if available. When nothing is buffered it
// performs a single bounded OS read, so it never blocks longer than the
// configured timeout.
func (l *Link) ReadByte() (byte, bool, error) {
	if err := l.fill(); err != nil {
		return 0, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		return 0, false, nil
	}
	b := l.pending[0]
	l.pending = l.pending[1:]
	return b, true, nil
}

// BytesAvailable reports how many bytes can be taken without waiting.
func (l *Link) BytesAvailable() int {
	_ = l.fill()
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// fill reads from the port only when the local buffer is empty. The port
// is read outside the lock so that Close can interrupt a pending read.
func (l *Link) fill() error {
	l.mu.Lock()
	port := l.port
	if port == nil {
		l.mu.Unlock()
		return ErrNotConnected
	}
	if len(l.pending) > 0 {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	var chunk [256]byte
	n, err := port.Read(chunk[:])

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port != port {
		// closed or reopened while reading
		return nil
	}
	if n > 0 {
		l.pending = append(l.pending, chunk[:n]...)
	}
	if err != nil {
		return &IOError{Op: "lectura", Err: err}
	}
	return nil
}

func (l *Link) Write(p []byte) error {
	l.mu.Lock()
	port := l.port
	l.mu.Unlock()

	if port == nil {
		return ErrNotConnected
	}
	if _, err := port.Write(p); err != nil {
		return &IOError{Op: "escritura", Err: err}
	}
	return nil
}

// DiscardInput drops both the OS input buffer and bytes already pulled
// into the link.
func (l *Link) DiscardInput() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return ErrNotConnected
	}
	l.pending = l.pending[:0]
	if err := l.port.ResetInputBuffer(); err != nil {
		return &IOError{Op: "vaciado", Err: err}
	}
	return nil
}
