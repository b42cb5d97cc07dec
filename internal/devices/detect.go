package devices

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"
)

type ControlLines struct {
	DTR bool
	RTS bool
}

var allControlLines = []ControlLines{
	{DTR: true, RTS: true},
	{DTR: true, RTS: false},
	{DTR: false, RTS: true},
	{DTR: false, RTS: false},
}

type DetectOptions struct {
	Ports        []string
	BaudRates    []int
	Protocols    []string
	ControlLines []ControlLines
	// Window is how long one combination is listened to.
	Window time.Duration
	// Samples stops listening early once this many lines arrived.
	Samples int
	// Settle is the pause after opening before listening.
	Settle   time.Duration
	Opener   Opener
	Progress func(done, total int, cfg ScaleConfig)
}

// Candidate is a configuration that produced parseable weights.
type Candidate struct {
	Config  ScaleConfig `json:"-"`
	Weight  float64     `json:"weight"`
	Lines   []string    `json:"lines"`
	Quality int         `json:"quality"`
	At      time.Time   `json:"at"`
}

func (o DetectOptions) withDefaults() DetectOptions {
	if len(o.Ports) == 0 {
		for _, p := range ListPorts() {
			o.Ports = append(o.Ports, p.Device)
		}
	}
	if len(o.BaudRates) == 0 {
		o.BaudRates = BaudRates
	}
	if len(o.Protocols) == 0 {
		o.Protocols = ProtocolNames()
	}
	if len(o.ControlLines) == 0 {
		o.ControlLines = allControlLines
	}
	if o.Window <= 0 {
		o.Window = 4 * time.Second
	}
	if o.Samples <= 0 {
		o.Samples = 3
	}
	if o.Settle < 0 {
		o.Settle = 0
	}
	return o
}

// Detect tries every combination of port, baud rate, protocol and control
// lines and returns the ones that produced weights, best first. It stops
// early when ctx is cancelled and returns what was found so far.
func Detect(ctx context.Context, opts DetectOptions) []Candidate {
	opts = opts.withDefaults()

	total := len(opts.Ports) * len(opts.BaudRates) * len(opts.Protocols) * len(opts.ControlLines)
	done := 0
	var found []Candidate

	for _, port := range opts.Ports {
		for _, baud := range opts.BaudRates {
			for _, proto := range opts.Protocols {
				for _, lines := range opts.ControlLines {
					if ctx.Err() != nil {
						sortCandidates(found)
						return found
					}

					cfg := ScaleConfig{
						Port:     port,
						BaudRate: baud,
						Timeout:  time.Second,
						Protocol: ProtocolByName(proto),
						DTR:      lines.DTR,
						RTS:      lines.RTS,
					}

					if c, ok := probeConfig(ctx, cfg, opts); ok {
						found = append(found, c)
					}

					done++
					if opts.Progress != nil {
						opts.Progress(done, total, cfg)
					}
				}
			}
		}
	}

	sortCandidates(found)
	return found
}

func probeConfig(ctx context.Context, cfg ScaleConfig, opts DetectOptions) (Candidate, bool) {
	reader := NewReader(opts.Opener, ReaderOptions{
		CycleTimeout: opts.Window,
		Precision:    -1,
	})
	if !reader.Connect(cfg) {
		return Candidate{}, false
	}
	defer reader.Close()

	if !sleepWithContext(ctx, opts.Settle) {
		return Candidate{}, false
	}

	var (
		raw     []string
		weights []float64
	)
	deadline := time.Now().Add(opts.Window)
	for len(raw) < opts.Samples && time.Now().Before(deadline) && ctx.Err() == nil {
		reading := reader.ReadWeight(ctx)
		if reading.Error != "" {
			break
		}
		if reading.Raw == "" {
			continue
		}
		raw = append(raw, reading.Raw)

		if reading.Parsed == nil || reading.Parsed.Class == Unparseable {
			continue
		}
		// polled scales answer 0 to almost any command, so only a real
		// weight counts for them
		if reading.Weight > 0 || (cfg.Protocol.Mode == Continuous && reading.Weight == 0) {
			weights = append(weights, reading.Weight)
		}
	}

	if len(weights) == 0 {
		return Candidate{}, false
	}

	sum := 0.0
	for _, w := range weights {
		sum += w
	}

	return Candidate{
		Config:  cfg,
		Weight:  sum / float64(len(weights)),
		Lines:   raw,
		Quality: Quality(weights, raw),
		At:      time.Now(),
	}, true
}

// Quality scores a sample from 0 to 100: consistency 35%, line rate 25%,
// format 25% and non-zero share 15%.
func Quality(weights []float64, lines []string) int {
	if len(weights) == 0 {
		return 0
	}

	consistency := 60.0
	if len(weights) > 1 {
		lo, hi := weights[0], weights[0]
		for _, w := range weights[1:] {
			lo = math.Min(lo, w)
			hi = math.Max(hi, w)
		}
		switch spread := hi - lo; {
		case spread == 0:
			consistency = 100
		case spread < 0.1:
			consistency = 95
		case spread < 0.5:
			consistency = 85
		case spread < 1.0:
			consistency = 70
		case spread < 5.0:
			consistency = 50
		default:
			consistency = 20
		}
	}

	speed := math.Min(100, float64(len(lines))*15)

	format := 0.0
	numeric := 0
	for _, line := range lines {
		if strings.ContainsAny(line, "0123456789") {
			numeric++
		}
		if strings.Contains(line, ".") {
			format += 10
		}
		if len(line) > 5 {
			format += 5
		}
	}
	if numeric > 0 {
		format += float64(numeric) / float64(len(lines)) * 50
	}
	format = math.Min(100, format)

	stability := 30.0
	nonZero := 0
	for _, w := range weights {
		if w > 0 {
			nonZero++
		}
	}
	if nonZero > 0 {
		stability = math.Min(100, float64(nonZero)/float64(len(weights))*100)
	}

	return int(math.Round(consistency*0.35 + speed*0.25 + format*0.25 + stability*0.15))
}

func sortCandidates(c []Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		return c[i].Quality > c[j].Quality
	})
}
