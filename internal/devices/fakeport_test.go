package devices

import (
	"errors"
	"sync"
	"time"

	"go.bug.st/serial"
)

// fakePort serves scripted bytes and records what the link drove.
type fakePort struct {
	mu      sync.Mutex
	rx      []byte
	written []byte
	dtr     *bool
	rts     *bool
	closed  int
	readErr error

	// onWrite lets a test answer polled commands.
	onWrite func(p []byte) []byte
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	if f.readErr != nil {
		err := f.readErr
		f.mu.Unlock()
		return 0, err
	}
	if len(f.rx) == 0 {
		f.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	n := copy(p, f.rx)
	f.rx = f.rx[n:]
	f.mu.Unlock()
	return n, nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, p...)
	if f.onWrite != nil {
		f.rx = append(f.rx, f.onWrite(p)...)
	}
	return len(p), nil
}

func (f *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (f *fakePort) SetDTR(v bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dtr = &v
	return nil
}

func (f *fakePort) SetRTS(v bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rts = &v
	return nil
}

func (f *fakePort) ResetInputBuffer() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rx = f.rx[:0]
	return nil
}

func (f *fakePort) ResetOutputBuffer() error { return nil }

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakePort) feed(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rx = append(f.rx, s...)
}

func (f *fakePort) writtenBytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.written...)
}

func (f *fakePort) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var errNoSuchPort = errors.New("no such file or directory")

// fakeOpener hands out ports by name; unknown names fail like a missing
// device would.
type fakeOpener struct {
	mu    sync.Mutex
	ports map[string]*fakePort
	modes []*serial.Mode
}

func newFakeOpener(ports map[string]*fakePort) *fakeOpener {
	return &fakeOpener{ports: ports}
}

func (o *fakeOpener) Open(name string, mode *serial.Mode) (Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.modes = append(o.modes, mode)
	p, ok := o.ports[name]
	if !ok {
		return nil, errNoSuchPort
	}
	return p, nil
}

func testConfig(port string) ScaleConfig {
	cfg := DefaultScaleConfig()
	cfg.Port = port
	return cfg
}

func testReaderOptions() ReaderOptions {
	opts := DefaultReaderOptions()
	opts.CycleTimeout = 200 * time.Millisecond
	opts.IdleInterval = time.Millisecond
	return opts
}
