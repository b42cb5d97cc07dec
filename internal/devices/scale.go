package devices

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultCycleTimeout = 1500 * time.Millisecond
	DefaultIdleInterval = 10 * time.Millisecond
	DefaultPrecision    = 2
)

// ConfigStore persists a scale configuration on ChangeConfig.
type ConfigStore interface {
	SaveScaleConfig(cfg ScaleConfig) error
}

type ReaderOptions struct {
	// CycleTimeout bounds one read cycle.
	CycleTimeout time.Duration
	// IdleInterval is the pause between polls of an empty input buffer.
	IdleInterval time.Duration
	// Precision is the number of decimals kept; 0 rounds to whole
	// kilograms and a negative value disables rounding.
	Precision     int
	TimeoutPolicy TimeoutPolicy
	Parser        Parser
	Observer      Observer
	Store         ConfigStore
	LogSize       int
}

func DefaultReaderOptions() ReaderOptions {
	return ReaderOptions{
		CycleTimeout:  DefaultCycleTimeout,
		IdleInterval:  DefaultIdleInterval,
		Precision:     DefaultPrecision,
		TimeoutPolicy: ReturnLastKnown,
		Parser:        Parser{FrameDivisor: DefaultFrameDivisor},
		LogSize:       DiagnosticLogSize,
	}
}

// Reader turns the byte stream of one scale into weights. It owns its
// Link, the line buffer, the last known weight and the diagnostic log.
// Read cycles are serialized; state accessors may be called from any
// goroutine and return copies.
type Reader struct {
	link *Link
	opts ReaderOptions

	// readMu serializes read cycles and reconnects.
	readMu sync.Mutex
	acc    LineAccumulator

	mu          sync.Mutex
	last        float64
	lastReading Reading
	log         *DiagnosticLog

	polling atomic.Bool
}

// NewReader builds a disconnected reader. A nil opener uses the OS
// serial layer.
func NewReader(open Opener, opts ReaderOptions) *Reader {
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = DefaultCycleTimeout
	}
	if opts.IdleInterval <= 0 {
		opts.IdleInterval = DefaultIdleInterval
	}
	if opts.Parser.FrameDivisor <= 0 {
		opts.Parser.FrameDivisor = DefaultFrameDivisor
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	return &Reader{
		link: NewLink(open),
		opts: opts,
		log:  NewDiagnosticLog(opts.LogSize),
	}
}

// Connect opens cfg without persisting it. It reports whether the scale
// is now connected; failures are recorded in Status.
func (r *Reader) Connect(cfg ScaleConfig) bool {
	r.link.Close()

	r.readMu.Lock()
	defer r.readMu.Unlock()
	return r.openLocked(cfg)
}

// ChangeConfig closes the link, persists cfg through the store and
// reopens. The close completes before the reopen is attempted.
func (r *Reader) ChangeConfig(cfg ScaleConfig) bool {
	r.link.Close()

	r.readMu.Lock()
	defer r.readMu.Unlock()

	if r.opts.Store != nil && cfg.Validate() == nil {
		if err := r.opts.Store.SaveScaleConfig(cfg); err != nil {
			r.opts.Observer.Error(fmt.Errorf("no se pudo guardar la configuración: %w", err))
		}
	}

	return r.openLocked(cfg)
}

func (r *Reader) openLocked(cfg ScaleConfig) bool {
	r.acc.Reset()
	r.mu.Lock()
	r.log.Clear()
	r.mu.Unlock()

	if err := r.link.Open(cfg); err != nil {
		r.opts.Observer.Error(err)
		return false
	}
	return true
}

// Close releases the port. An in-flight read cycle returns promptly with
// the last known weight.
func (r *Reader) Close() {
	r.link.Close()
}

// GetWeight runs one read cycle and returns kilograms.
func (r *Reader) GetWeight() float64 {
	return r.ReadWeight(context.Background()).Weight
}

// ReadWeight runs one read cycle: wait for a complete line (bounded by
// CycleTimeout or ctx), parse it and update the last known weight.
func (r *Reader) ReadWeight(ctx context.Context) Reading {
	r.readMu.Lock()
	defer r.readMu.Unlock()

	if !r.link.IsOpen() {
		return r.fallback(true)
	}

	cfg := r.link.Config()
	if cfg.Protocol.Mode == Polled {
		r.acc.Reset()
		if err := r.link.DiscardInput(); err != nil {
			return r.fail(err)
		}
		if err := r.link.Write(cfg.Protocol.Command()); err != nil {
			return r.fail(err)
		}
	}

	deadline := time.Now().Add(r.opts.CycleTimeout)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return r.fallback(false)
		}

		b, ok, err := r.link.ReadByte()
		if err != nil {
			if errors.Is(err, ErrNotConnected) {
				return r.fallback(false)
			}
			return r.fail(err)
		}
		if !ok {
			if !sleepWithContext(ctx, r.opts.IdleInterval) {
				return r.fallback(false)
			}
			continue
		}

		if line, done := r.acc.Feed(b); done {
			return r.handleLine(line)
		}
	}

	return r.fallback(true)
}

func (r *Reader) handleLine(line string) Reading {
	now := time.Now()
	parsed := r.opts.Parser.Extract(line)

	r.mu.Lock()
	r.log.Append(now, line)
	reading := Reading{Raw: line, Parsed: &parsed, At: now}
	if parsed.Class == Unparseable {
		reading.Weight = r.last
		reading.Stale = true
	} else {
		r.last = round(parsed.Value, r.opts.Precision)
		reading.Weight = r.last
	}
	r.lastReading = reading
	r.mu.Unlock()

	r.opts.Observer.LineReceived(line, now)
	r.opts.Observer.WeightParsed(line, parsed)
	return reading
}

// fallback builds the reading returned when no line arrived. The timeout
// policy applies to timeouts and disconnected links; a cycle interrupted
// by Close or ctx always returns the last known weight.
func (r *Reader) fallback(applyPolicy bool) Reading {
	r.mu.Lock()
	defer r.mu.Unlock()

	weight := r.last
	if applyPolicy && r.opts.TimeoutPolicy == ReturnZero {
		weight = 0
	}
	return Reading{Weight: weight, Stale: true, At: time.Now()}
}

func (r *Reader) fail(err error) Reading {
	r.link.RecordError(err)
	r.opts.Observer.Error(err)

	reading := r.fallback(false)
	reading.Error = err.Error()
	return reading
}

// TestConnection performs one read cycle and describes the outcome for
// diagnostics screens.
func (r *Reader) TestConnection(ctx context.Context) ProbeResult {
	cfg := r.link.Config()
	if !r.link.IsOpen() {
		return ProbeResult{
			Success: false,
			Message: fmt.Sprintf("Balanza desconectada - Puerto: %s", cfg.Port),
		}
	}

	reading := r.ReadWeight(ctx)
	switch {
	case reading.Error != "":
		return ProbeResult{Success: false, Message: "Error: " + reading.Error, Weight: reading.Weight}
	case reading.Raw == "":
		return ProbeResult{
			Success: false,
			Message: fmt.Sprintf("Sin datos de la balanza en %s", cfg.Port),
			Weight:  reading.Weight,
		}
	case reading.Parsed != nil && reading.Parsed.Class == Unparseable:
		return ProbeResult{
			Success: true,
			Message: fmt.Sprintf("Conexión OK - trama no reconocida: %q", reading.Raw),
			Weight:  reading.Weight,
		}
	default:
		return ProbeResult{
			Success: true,
			Message: fmt.Sprintf("Conexión OK - Peso: %.2f kg", reading.Weight),
			Weight:  reading.Weight,
		}
	}
}

func (r *Reader) State() ConnectionState {
	return r.link.State()
}

func (r *Reader) Config() ScaleConfig {
	return r.link.Config()
}

func (r *Reader) Status() Status {
	cfg := r.link.Config()
	state := r.link.State()

	r.mu.Lock()
	weight := r.last
	r.mu.Unlock()

	status := Status{
		Connected:     state.Connected(),
		Port:          cfg.Port,
		BaudRate:      cfg.BaudRate,
		Protocol:      cfg.Protocol.String(),
		CurrentWeight: weight,
		DTR:           cfg.DTR,
		RTS:           cfg.RTS,
	}
	if state.LastError != "" {
		msg := state.LastError
		status.LastError = &msg
	}
	return status
}

// LastWeight returns the last known weight without touching the port.
func (r *Reader) LastWeight() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// LastReading returns the reading produced by the most recent complete line.
func (r *Reader) LastReading() Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastReading
}

func (r *Reader) Log() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.Entries()
}

func (r *Reader) ClearLog() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log.Clear()
}

func round(v float64, decimals int) float64 {
	if decimals < 0 {
		return v
	}
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
