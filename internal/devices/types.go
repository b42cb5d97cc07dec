package devices

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// BaudRates lists the speeds a ScaleConfig accepts.
var BaudRates = []int{1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200}

var ErrInvalidConfig = errors.New("invalid scale config")

type ProtocolMode int

const (
	// Continuous scales stream lines unprompted.
	Continuous ProtocolMode = iota
	// Polled scales answer a command written before every read cycle.
	Polled
)

func (m ProtocolMode) String() string {
	if m == Polled {
		return "polled"
	}
	return "continuous"
}

// Protocol is either Continuous or Polled with the command to send.
type Protocol struct {
	Name    string
	Mode    ProtocolMode
	command string
}

const ContinuousProtocolName = "CONTINUO"

const defaultPolledCommand = "P\r\n"

var polledCommands = map[string]string{
	"ESTANDAR": "P\r\n",
	"TOLEDO":   "W\r\n",
	"AND":      "Q\r\n",
	"OHAUS":    "IP\r\n",
	"METTLER":  "S\r\n",
	"CAS":      "R\r\n",
	"DIBAL":    "P\r",
	"DIGI":     "W",
	"GAMA":     "\r\n",
}

func ContinuousProtocol() Protocol {
	return Protocol{Name: ContinuousProtocolName, Mode: Continuous}
}

func PolledProtocol(name string, command []byte) Protocol {
	return Protocol{Name: strings.ToUpper(strings.TrimSpace(name)), Mode: Polled, command: string(command)}
}

// ProtocolByName resolves a configured protocol name. Unknown names are
// treated as polled scales answering the generic "P" command.
func ProtocolByName(name string) Protocol {
	key := strings.ToUpper(strings.TrimSpace(name))
	if key == "" || key == ContinuousProtocolName || key == "CONTINUOUS" {
		return ContinuousProtocol()
	}

	if cmd, ok := polledCommands[key]; ok {
		return Protocol{Name: key, Mode: Polled, command: cmd}
	}

	return Protocol{Name: key, Mode: Polled, command: defaultPolledCommand}
}

// ProtocolNames returns the catalogue of known protocol names, continuous first.
func ProtocolNames() []string {
	names := make([]string, 0, len(polledCommands)+1)
	for name := range polledCommands {
		names = append(names, name)
	}
	slices.Sort(names)
	return append([]string{ContinuousProtocolName}, names...)
}

// Command returns a copy of the bytes written before each polled read.
func (p Protocol) Command() []byte {
	if p.Mode != Polled {
		return nil
	}
	return []byte(p.command)
}

func (p Protocol) String() string {
	if p.Name == "" {
		return ContinuousProtocolName
	}
	return p.Name
}

// ScaleConfig is an immutable description of one scale connection.
// Replacing it means closing and reopening the link.
type ScaleConfig struct {
	Port     string
	BaudRate int
	Timeout  time.Duration
	Protocol Protocol
	DTR      bool
	RTS      bool
}

func DefaultScaleConfig() ScaleConfig {
	return ScaleConfig{
		Port:     "COM1",
		BaudRate: 9600,
		Timeout:  time.Second,
		Protocol: ContinuousProtocol(),
		DTR:      true,
		RTS:      true,
	}
}

func (c ScaleConfig) Validate() error {
	if strings.TrimSpace(c.Port) == "" {
		return fmt.Errorf("%w: empty port", ErrInvalidConfig)
	}
	if !slices.Contains(BaudRates, c.BaudRate) {
		return fmt.Errorf("%w: unsupported baud rate %d", ErrInvalidConfig, c.BaudRate)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	return nil
}

type LinkState int

const (
	Disconnected LinkState = iota
	Connected
)

func (s LinkState) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// ConnectionState is Disconnected (with an optional last error) or Connected.
type ConnectionState struct {
	State     LinkState
	LastError string
}

func (s ConnectionState) Connected() bool {
	return s.State == Connected
}

type Classification int

const (
	Unparseable Classification = iota
	Valid
	ZeroLoad
)

func (c Classification) String() string {
	switch c {
	case Valid:
		return "valid"
	case ZeroLoad:
		return "zero_load"
	default:
		return "unparseable"
	}
}

func (c Classification) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Classification) UnmarshalText(text []byte) error {
	switch string(text) {
	case "valid":
		*c = Valid
	case "zero_load":
		*c = ZeroLoad
	case "unparseable":
		*c = Unparseable
	default:
		return fmt.Errorf("unknown classification %q", text)
	}
	return nil
}

// WeightReading is the parse result of one line. Rule names the pattern
// that produced it.
type WeightReading struct {
	Value float64        `json:"value"`
	Class Classification `json:"class"`
	Rule  string         `json:"rule,omitempty"`
}

// Reading is the outcome of one read cycle. Stale is set when the cycle
// produced no new value and Weight is the fallback dictated by the
// timeout policy.
type Reading struct {
	Weight float64        `json:"weight"`
	Stale  bool           `json:"stale"`
	Raw    string         `json:"raw,omitempty"`
	Parsed *WeightReading `json:"parsed,omitempty"`
	Error  string         `json:"error,omitempty"`
	At     time.Time      `json:"at"`
}

type TimeoutPolicy int

const (
	ReturnLastKnown TimeoutPolicy = iota
	ReturnZero
)

// ParseTimeoutPolicy accepts the config spellings ("ultimo_valor", "cero")
// as well as the English ones.
func ParseTimeoutPolicy(s string) TimeoutPolicy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cero", "zero", "return_zero":
		return ReturnZero
	default:
		return ReturnLastKnown
	}
}

func (p TimeoutPolicy) String() string {
	if p == ReturnZero {
		return "cero"
	}
	return "ultimo_valor"
}

type PortInfo struct {
	Device       string `json:"device"`
	Description  string `json:"description"`
	Manufacturer string `json:"manufacturer"`
}

// Status is the snapshot handed to UI layers.
type Status struct {
	Connected     bool    `json:"connected"`
	Port          string  `json:"port"`
	BaudRate      int     `json:"baud_rate"`
	Protocol      string  `json:"protocol"`
	CurrentWeight float64 `json:"current_weight"`
	LastError     *string `json:"last_error"`
	DTR           bool    `json:"dtr"`
	RTS           bool    `json:"rts"`
}

type ProbeResult struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Weight  float64 `json:"weight"`
}
