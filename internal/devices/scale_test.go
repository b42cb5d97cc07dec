package devices

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu    sync.Mutex
	saved []ScaleConfig
	err   error
}

func (m *memoryStore) SaveScaleConfig(cfg ScaleConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, cfg)
	return m.err
}

type recordingObserver struct {
	mu      sync.Mutex
	lines   []string
	weights []WeightReading
	errs    []error
}

func (r *recordingObserver) observer() Observer {
	return ObserverFuncs{
		OnLine: func(line string, _ time.Time) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.lines = append(r.lines, line)
		},
		OnWeight: func(_ string, w WeightReading) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.weights = append(r.weights, w)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func newTestReader(t *testing.T, ports map[string]*fakePort, opts ReaderOptions) *Reader {
	t.Helper()
	r := NewReader(newFakeOpener(ports).Open, opts)
	t.Cleanup(r.Close)
	return r
}

func TestReaderUnreachablePort(t *testing.T) {
	r := newTestReader(t, nil, testReaderOptions())

	assert.False(t, r.Connect(testConfig("/dev/ttyUSB9")))
	assert.False(t, r.State().Connected())

	status := r.Status()
	assert.False(t, status.Connected)
	require.NotNil(t, status.LastError)
	assert.Contains(t, *status.LastError, "/dev/ttyUSB9")

	assert.Equal(t, 0.0, r.GetWeight())
}

func TestReaderFrameLine(t *testing.T) {
	port := &fakePort{}
	r := newTestReader(t, map[string]*fakePort{"COM3": port}, testReaderOptions())
	require.True(t, r.Connect(testConfig("COM3")))

	port.feed("ST,GS,+001234\r\n")
	reading := r.ReadWeight(context.Background())

	assert.Equal(t, 12.34, reading.Weight)
	assert.False(t, reading.Stale)
	require.NotNil(t, reading.Parsed)
	assert.Equal(t, Valid, reading.Parsed.Class)
	assert.Equal(t, "ST,GS,+001234", reading.Raw)
}

func TestReaderZeroThenWeight(t *testing.T) {
	port := &fakePort{}
	r := newTestReader(t, map[string]*fakePort{"COM3": port}, testReaderOptions())
	require.True(t, r.Connect(testConfig("COM3")))

	port.feed("000000\r\n")
	first := r.ReadWeight(context.Background())
	assert.Equal(t, 0.0, first.Weight)
	require.NotNil(t, first.Parsed)
	assert.Equal(t, ZeroLoad, first.Parsed.Class)
	assert.Equal(t, 0.0, r.LastWeight())

	port.feed("025.60\r\n")
	second := r.ReadWeight(context.Background())
	assert.Equal(t, 25.6, second.Weight)
	assert.Equal(t, Valid, second.Parsed.Class)
	assert.Equal(t, 25.6, r.LastWeight())

	entries := r.Log()
	require.Len(t, entries, 2)
	assert.Equal(t, "000000", entries[0].Line)
	assert.Equal(t, "025.60", entries[1].Line)

	r.ClearLog()
	assert.Empty(t, r.Log())
}

func TestReaderUnparseableKeepsLastWeight(t *testing.T) {
	port := &fakePort{}
	obs := &recordingObserver{}
	opts := testReaderOptions()
	opts.Observer = obs.observer()
	r := newTestReader(t, map[string]*fakePort{"COM3": port}, opts)
	require.True(t, r.Connect(testConfig("COM3")))

	port.feed("12.5\r\nOVERLOAD\r\n")
	assert.Equal(t, 12.5, r.GetWeight())

	reading := r.ReadWeight(context.Background())
	assert.True(t, reading.Stale)
	assert.Equal(t, 12.5, reading.Weight)
	assert.Equal(t, Unparseable, reading.Parsed.Class)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []string{"12.5", "OVERLOAD"}, obs.lines)
	require.Len(t, obs.weights, 2)
	assert.Equal(t, Unparseable, obs.weights[1].Class)
}

func TestReaderTimeoutPolicy(t *testing.T) {
	for _, tt := range []struct {
		policy TimeoutPolicy
		want   float64
	}{
		{policy: ReturnLastKnown, want: 7.5},
		{policy: ReturnZero, want: 0},
	} {
		t.Run(tt.policy.String(), func(t *testing.T) {
			port := &fakePort{}
			opts := testReaderOptions()
			opts.CycleTimeout = 30 * time.Millisecond
			opts.TimeoutPolicy = tt.policy
			r := newTestReader(t, map[string]*fakePort{"COM3": port}, opts)
			require.True(t, r.Connect(testConfig("COM3")))

			port.feed("7.5\r\n")
			require.Equal(t, 7.5, r.GetWeight())

			reading := r.ReadWeight(context.Background())
			assert.True(t, reading.Stale)
			assert.Empty(t, reading.Raw)
			assert.Equal(t, tt.want, reading.Weight)
			assert.Equal(t, 7.5, r.LastWeight())
		})
	}
}

func TestReaderRoundsToPrecision(t *testing.T) {
	port := &fakePort{}
	opts := testReaderOptions()
	opts.Precision = 1
	r := newTestReader(t, map[string]*fakePort{"COM3": port}, opts)
	require.True(t, r.Connect(testConfig("COM3")))

	port.feed("12.345\r\n")
	assert.Equal(t, 12.3, r.GetWeight())
}

func TestReaderPolledProtocolWritesCommand(t *testing.T) {
	port := &fakePort{
		onWrite: func(p []byte) []byte {
			if string(p) == "W\r\n" {
				return []byte("  18.20 kg\r\n")
			}
			return nil
		},
	}
	r := newTestReader(t, map[string]*fakePort{"COM3": port}, testReaderOptions())

	cfg := testConfig("COM3")
	cfg.Protocol = ProtocolByName("TOLEDO")
	require.True(t, r.Connect(cfg))

	// stale bytes from before the command are discarded
	port.feed("99.9\r\n")
	assert.Equal(t, 18.2, r.GetWeight())
	assert.Equal(t, []byte("W\r\n"), port.writtenBytes())
}

func TestReaderChangeConfig(t *testing.T) {
	first := &fakePort{}
	second := &fakePort{}
	store := &memoryStore{}
	opts := testReaderOptions()
	opts.Store = store
	r := newTestReader(t, map[string]*fakePort{"COM3": first, "COM4": second}, opts)
	require.True(t, r.Connect(testConfig("COM3")))

	next := testConfig("COM4")
	next.BaudRate = 19200
	next.Protocol = ProtocolByName("TOLEDO")
	next.DTR = false
	next.RTS = false
	assert.True(t, r.ChangeConfig(next))

	assert.Equal(t, 1, first.closeCount())
	require.Len(t, store.saved, 1)
	assert.Equal(t, next, store.saved[0])

	status := r.Status()
	assert.True(t, status.Connected)
	assert.Equal(t, "COM4", status.Port)
	assert.Equal(t, 19200, status.BaudRate)
	assert.Equal(t, "TOLEDO", status.Protocol)
	assert.False(t, status.DTR)
	assert.False(t, status.RTS)
	assert.Nil(t, status.LastError)

	second.onWrite = func([]byte) []byte { return []byte("3.5\r\n") }
	assert.Equal(t, 3.5, r.GetWeight())
}

func TestReaderReconnectClearsLog(t *testing.T) {
	first := &fakePort{}
	second := &fakePort{}
	r := newTestReader(t, map[string]*fakePort{"COM3": first, "COM4": second}, testReaderOptions())
	require.True(t, r.Connect(testConfig("COM3")))

	first.feed("12.5\r\n")
	require.Equal(t, 12.5, r.GetWeight())
	first.feed("13.0\r\n")
	require.Equal(t, 13.0, r.GetWeight())
	require.Len(t, r.Log(), 2)

	require.True(t, r.Connect(testConfig("COM3")))
	assert.Empty(t, r.Log())

	first.feed("14.0\r\n")
	require.Equal(t, 14.0, r.GetWeight())
	require.Len(t, r.Log(), 1)

	assert.True(t, r.ChangeConfig(testConfig("COM4")))
	assert.Empty(t, r.Log())
}

func TestReaderChangeConfigSaveFailure(t *testing.T) {
	port := &fakePort{}
	store := &memoryStore{err: errors.New("disk full")}
	obs := &recordingObserver{}
	opts := testReaderOptions()
	opts.Store = store
	opts.Observer = obs.observer()
	r := newTestReader(t, map[string]*fakePort{"COM3": port}, opts)

	assert.True(t, r.ChangeConfig(testConfig("COM3")))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.errs, 1)
	assert.Contains(t, obs.errs[0].Error(), "disk full")
}

func TestReaderChangeConfigToMissingPort(t *testing.T) {
	port := &fakePort{}
	store := &memoryStore{}
	opts := testReaderOptions()
	opts.Store = store
	r := newTestReader(t, map[string]*fakePort{"COM3": port}, opts)
	require.True(t, r.Connect(testConfig("COM3")))

	assert.False(t, r.ChangeConfig(testConfig("COM9")))
	assert.False(t, r.State().Connected())
	assert.Len(t, store.saved, 1)
}

func TestReaderCloseInterruptsRead(t *testing.T) {
	port := &fakePort{}
	opts := testReaderOptions()
	opts.CycleTimeout = 5 * time.Second
	r := newTestReader(t, map[string]*fakePort{"COM3": port}, opts)
	require.True(t, r.Connect(testConfig("COM3")))

	done := make(chan Reading, 1)
	go func() {
		done <- r.ReadWeight(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	r.Close()

	select {
	case reading := <-done:
		assert.True(t, reading.Stale)
		assert.Empty(t, reading.Error)
	case <-time.After(time.Second):
		t.Fatal("read did not return after Close")
	}
	assert.False(t, r.State().Connected())
}

func TestReaderContextCancelsRead(t *testing.T) {
	port := &fakePort{}
	opts := testReaderOptions()
	opts.CycleTimeout = 5 * time.Second
	r := newTestReader(t, map[string]*fakePort{"COM3": port}, opts)
	require.True(t, r.Connect(testConfig("COM3")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	reading := r.ReadWeight(ctx)
	assert.True(t, reading.Stale)
	assert.Less(t, time.Since(start), time.Second)
}

func TestReaderIOErrorIsRecorded(t *testing.T) {
	port := &fakePort{readErr: errors.New("device unplugged")}
	obs := &recordingObserver{}
	opts := testReaderOptions()
	opts.Observer = obs.observer()
	r := newTestReader(t, map[string]*fakePort{"COM3": port}, opts)
	require.True(t, r.Connect(testConfig("COM3")))

	reading := r.ReadWeight(context.Background())
	assert.Contains(t, reading.Error, "device unplugged")
	assert.True(t, reading.Stale)

	status := r.Status()
	require.NotNil(t, status.LastError)
	assert.Contains(t, *status.LastError, "device unplugged")

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.errs, 1)
	var ioErr *IOError
	assert.ErrorAs(t, obs.errs[0], &ioErr)
}

func TestReaderTestConnection(t *testing.T) {
	t.Run("disconnected", func(t *testing.T) {
		r := newTestReader(t, nil, testReaderOptions())
		r.Connect(testConfig("COM7"))

		res := r.TestConnection(context.Background())
		assert.False(t, res.Success)
		assert.Equal(t, "Balanza desconectada - Puerto: COM7", res.Message)
	})

	t.Run("no data", func(t *testing.T) {
		opts := testReaderOptions()
		opts.CycleTimeout = 20 * time.Millisecond
		r := newTestReader(t, map[string]*fakePort{"COM3": {}}, opts)
		require.True(t, r.Connect(testConfig("COM3")))

		res := r.TestConnection(context.Background())
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "Sin datos")
	})

	t.Run("weight", func(t *testing.T) {
		port := &fakePort{}
		r := newTestReader(t, map[string]*fakePort{"COM3": port}, testReaderOptions())
		require.True(t, r.Connect(testConfig("COM3")))

		port.feed("ST,GS,+004550\r\n")
		res := r.TestConnection(context.Background())
		assert.True(t, res.Success)
		assert.Equal(t, 45.5, res.Weight)
		assert.Equal(t, "Conexión OK - Peso: 45.50 kg", res.Message)
	})
}
