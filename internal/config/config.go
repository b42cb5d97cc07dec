package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NowakAdmin/BalanzaAgent/internal/devices"
)

type UpdateConfig struct {
	GitHubRepo         string `json:"github_repo"`
	CheckIntervalHours int    `json:"check_interval_hours"`
}

type HTTPConfig struct {
	Listen string `json:"listen"`
}

type LogConfig struct {
	Level      string `json:"level"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// ScaleSection is the "balanza" block. The first six keys are shared with
// the POS; the rest are optional tuning knobs.
type ScaleSection struct {
	Port      string  `json:"puerto_serie"`
	BaudRate  int     `json:"baudrate"`
	Timeout   float64 `json:"timeout"`
	Protocol  string  `json:"protocolo"`
	EnableDTR bool    `json:"activar_dtr"`
	EnableRTS bool    `json:"activar_rts"`

	CycleTimeoutMs int     `json:"ciclo_lectura_ms,omitempty"`
	Precision      *int    `json:"precision_decimal,omitempty"`
	FrameDivisor   float64 `json:"divisor_trama,omitempty"`
	TimeoutPolicy  string  `json:"politica_timeout,omitempty"`
	PollIntervalMs int     `json:"intervalo_sondeo_ms,omitempty"`
}

const scaleKey = "balanza"

type Config struct {
	ServerURL        string       `json:"server_url"`
	WebSocketURL     string       `json:"websocket_url"`
	AgentID          string       `json:"agent_id"`
	AgentToken       string       `json:"agent_token"`
	TenantID         string       `json:"tenant_id,omitempty"`
	DeviceName       string       `json:"device_name"`
	HeartbeatSeconds int          `json:"heartbeat_seconds"`
	Scale            ScaleSection `json:"balanza"`
	HTTP             HTTPConfig   `json:"http"`
	Log              LogConfig    `json:"log"`
	Update           UpdateConfig `json:"update"`
}

func Default() *Config {
	hostname, _ := os.Hostname()

	return &Config{
		ServerURL:        "",
		WebSocketURL:     "",
		AgentID:          uuid.NewString(),
		AgentToken:       "",
		TenantID:         "",
		DeviceName:       hostname,
		HeartbeatSeconds: 30,
		Scale:            ScaleSectionFrom(devices.DefaultScaleConfig()),
		HTTP: HTTPConfig{
			Listen: "127.0.0.1:8765",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  5,
			MaxBackups: 3,
			MaxAgeDays: 30,
		},
		Update: UpdateConfig{
			GitHubRepo:         "NowakAdmin/BalanzaAgent",
			CheckIntervalHours: 6,
		},
	}
}

// ScaleSectionFrom converts a scale configuration into its file form.
// Tuning keys are left unset.
func ScaleSectionFrom(cfg devices.ScaleConfig) ScaleSection {
	return ScaleSection{
		Port:      cfg.Port,
		BaudRate:  cfg.BaudRate,
		Timeout:   cfg.Timeout.Seconds(),
		Protocol:  cfg.Protocol.String(),
		EnableDTR: cfg.DTR,
		EnableRTS: cfg.RTS,
	}
}

func (s ScaleSection) ScaleConfig() devices.ScaleConfig {
	return devices.ScaleConfig{
		Port:     strings.TrimSpace(s.Port),
		BaudRate: s.BaudRate,
		Timeout:  time.Duration(s.Timeout * float64(time.Second)),
		Protocol: devices.ProtocolByName(s.Protocol),
		DTR:      s.EnableDTR,
		RTS:      s.EnableRTS,
	}
}

// ReaderOptions applies the tuning keys over the reader defaults.
func (s ScaleSection) ReaderOptions() devices.ReaderOptions {
	opts := devices.DefaultReaderOptions()
	if s.CycleTimeoutMs > 0 {
		opts.CycleTimeout = time.Duration(s.CycleTimeoutMs) * time.Millisecond
	}
	if s.Precision != nil {
		opts.Precision = *s.Precision
	}
	if s.FrameDivisor > 0 {
		opts.Parser.FrameDivisor = s.FrameDivisor
	}
	opts.TimeoutPolicy = devices.ParseTimeoutPolicy(s.TimeoutPolicy)
	return opts
}

func (s ScaleSection) PollInterval() time.Duration {
	if s.PollIntervalMs > 0 {
		return time.Duration(s.PollIntervalMs) * time.Millisecond
	}
	return devices.DefaultPollInterval
}

// withScale replaces the connection keys and keeps the tuning keys.
func (s ScaleSection) withScale(cfg devices.ScaleConfig) ScaleSection {
	next := ScaleSectionFrom(cfg)
	next.CycleTimeoutMs = s.CycleTimeoutMs
	next.Precision = s.Precision
	next.FrameDivisor = s.FrameDivisor
	next.TimeoutPolicy = s.TimeoutPolicy
	next.PollIntervalMs = s.PollIntervalMs
	return next
}

func LoadOrCreateDefault() (*Config, error) {
	return LoadOrCreateFrom(Path())
}

func LoadOrCreateFrom(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		if errSave := SaveTo(path, cfg); errSave != nil {
			return nil, errSave
		}
		return cfg, nil
	}

	return LoadFrom(path)
}

func Load() (*Config, error) {
	return LoadFrom(Path())
}

func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	cfg.AgentID = ""
	if err = json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.AgentID) == "" {
		cfg.AgentID = uuid.NewString()
	}

	if cfg.HeartbeatSeconds <= 0 {
		cfg.HeartbeatSeconds = 30
	}

	if cfg.Update.CheckIntervalHours <= 0 {
		cfg.Update.CheckIntervalHours = 6
	}

	if cfg.Scale.BaudRate == 0 {
		cfg.Scale.BaudRate = devices.DefaultScaleConfig().BaudRate
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(Path(), cfg)
}

func SaveTo(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return writeFile(path, cfg)
}

func writeFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	// the POS reads this file concurrently
	tmp := path + ".tmp"
	if err = os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Store is the configuration store handed to the scale reader. Every call
// goes to disk so edits made by the POS are picked up.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	if path == "" {
		path = Path()
	}
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Load() (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return LoadOrCreateFrom(s.path)
}

func (s *Store) ScaleConfig() (devices.ScaleConfig, error) {
	cfg, err := s.Load()
	if err != nil {
		return devices.DefaultScaleConfig(), err
	}
	return cfg.Scale.ScaleConfig(), nil
}

// SaveScaleConfig rewrites only the "balanza" section. Keys this agent
// does not know about, including whole sections owned by the POS, are
// written back untouched.
func (s *Store) SaveScaleConfig(scale devices.ScaleConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := LoadOrCreateFrom(s.path)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	doc := map[string]json.RawMessage{}
	if err = json.Unmarshal(data, &doc); err != nil {
		return err
	}

	section, err := json.Marshal(cfg.Scale.withScale(scale))
	if err != nil {
		return err
	}
	doc[scaleKey] = section

	return writeFile(s.path, doc)
}

func Dir() string {
	programData := os.Getenv("ProgramData")
	if runtime.GOOS == "windows" {
		if programData == "" {
			programData = "C:\\ProgramData"
		}
		return filepath.Join(programData, "BalanzaAgent")
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}

	return filepath.Join(configDir, "balanza-agent")
}

func LogDir() string {
	return filepath.Join(Dir(), "logs")
}

func Path() string {
	return filepath.Join(Dir(), "config.json")
}
