package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/NowakAdmin/BalanzaAgent/internal/config"
	"github.com/NowakAdmin/BalanzaAgent/internal/devices"
)

// Scale is the part of devices.Reader the agent drives.
type Scale interface {
	ReadWeight(ctx context.Context) devices.Reading
	Status() devices.Status
	ChangeConfig(cfg devices.ScaleConfig) bool
	TestConnection(ctx context.Context) devices.ProbeResult
	Log() []devices.LogEntry
	ClearLog()
}

type IncomingMessage struct {
	Type    string          `json:"type"`
	JobID   string          `json:"job_id,omitempty"`
	Command string          `json:"command,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type OutgoingMessage struct {
	Type      string         `json:"type"`
	AgentID   string         `json:"agent_id,omitempty"`
	JobID     string         `json:"job_id,omitempty"`
	Status    string         `json:"status,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Agent bridges the scale to the POS backend: a WebSocket session when
// websocket_url is set, HTTP command polling otherwise or as fallback.
type Agent struct {
	cfg    *config.Config
	scale  Scale
	logger logrus.FieldLogger
	client *http.Client

	// ListPorts backs the list_ports command.
	ListPorts func() []devices.PortInfo
	// Readings, when set, are pushed to the server as "weight" messages
	// while a WebSocket session is up.
	Readings <-chan devices.Reading

	pollEvery time.Duration

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfg *config.Config, scale Scale, logger logrus.FieldLogger) *Agent {
	return &Agent{
		cfg:       cfg,
		scale:     scale,
		logger:    logger.WithField("module", "agent"),
		client:    &http.Client{Timeout: 15 * time.Second},
		ListPorts: devices.ListPorts,
		pollEvery: 2 * time.Second,
	}
}

func (a *Agent) Start(parent context.Context) error {
	if a.running.Swap(true) {
		return nil
	}

	ctx, cancel := context.WithCancel(parent)
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.loop(ctx)
	}()

	return nil
}

func (a *Agent) Stop() {
	if !a.running.Load() {
		return
	}

	if a.cancel != nil {
		a.cancel()
	}

	a.wg.Wait()
	a.running.Store(false)
}

func (a *Agent) IsRunning() bool {
	return a.running.Load()
}

func (a *Agent) loop(ctx context.Context) {
	serverURL := strings.TrimSpace(a.cfg.ServerURL)
	wsURL := strings.TrimSpace(a.cfg.WebSocketURL)

	switch {
	case strings.TrimSpace(a.cfg.AgentToken) == "":
		a.logger.Warn("sin token de agente; use: balanza-agent configure --token=...")
		<-ctx.Done()
		return
	case serverURL == "" && wsURL == "":
		a.logger.Warn("sin server_url ni websocket_url; use: balanza-agent configure --server=...")
		<-ctx.Done()
		return
	}

	backoff := minBackoff

	for ctx.Err() == nil {
		var (
			err       error
			connected bool
		)
		if wsURL != "" {
			connected, err = a.runSession(ctx, wsURL)
			if err != nil && ctx.Err() == nil {
				a.logger.WithError(err).Warn("sesión WebSocket terminada")
			}
			if serverURL != "" && ctx.Err() == nil {
				a.logger.Info("cambiando a sondeo HTTP")
				var polled bool
				polled, err = a.runHTTPPolling(ctx, 45*time.Second)
				connected = connected || polled
			}
		} else {
			connected, err = a.runHTTPPolling(ctx, 0)
		}

		backoff = nextBackoff(backoff, connected)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.WithError(err).WithField("retry_in", backoff.String()).Warn("conexión con el servidor perdida")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

const (
	minBackoff = time.Second
	maxBackoff = 20 * time.Second
)

// nextBackoff returns the wait before the next attempt. A pass that
// reached the server starts over from minBackoff; a failed one doubles
// the previous wait up to maxBackoff.
func nextBackoff(current time.Duration, connected bool) time.Duration {
	if connected || current <= 0 {
		return minBackoff
	}
	return min(current*2, maxBackoff)
}

func (a *Agent) heartbeatInterval() time.Duration {
	if a.cfg.HeartbeatSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(a.cfg.HeartbeatSeconds) * time.Second
}

func (a *Agent) setAuthHeaders(headers http.Header) {
	headers.Set("Authorization", "Bearer "+a.cfg.AgentToken)
	headers.Set("X-Agent-ID", a.cfg.AgentID)
	headers.Set("X-Agent-Name", a.cfg.DeviceName)
	if tenant := strings.TrimSpace(a.cfg.TenantID); tenant != "" {
		headers.Set("X-Tenant-ID", tenant)
	}
}

func (a *Agent) logJob(jobID string, err error) {
	entry := a.logger.WithField("job_id", jobID)
	if err != nil {
		entry.WithError(err).Warn("trabajo fallido")
		return
	}
	entry.Info("trabajo completado")
}

// readPump decodes messages until the connection fails. The error channel
// receives exactly one value.
func readPump(ctx context.Context, conn *websocket.Conn) (<-chan IncomingMessage, <-chan error) {
	messages := make(chan IncomingMessage, 8)
	errs := make(chan error, 1)

	go func() {
		for {
			var message IncomingMessage
			if err := conn.ReadJSON(&message); err != nil {
				errs <- err
				return
			}
			select {
			case messages <- message:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()

	return messages, errs
}

// runSession reports whether the dial succeeded along with the error that
// ended the session.
func (a *Agent) runSession(ctx context.Context, wsURL string) (bool, error) {
	headers := http.Header{}
	a.setAuthHeaders(headers)

	conn, response, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if response != nil {
			return false, fmt.Errorf("websocket dial (http %d): %w", response.StatusCode, err)
		}
		return false, err
	}
	defer func() {
		_ = conn.Close()
	}()

	a.logger.WithField("url", wsURL).Info("conectado al WebSocket")

	if err := conn.WriteJSON(a.message("auth", map[string]any{
		"device_name": a.cfg.DeviceName,
		"scale":       a.scale.Status(),
	})); err != nil {
		return true, err
	}

	heartbeat := time.NewTicker(a.heartbeatInterval())
	defer heartbeat.Stop()

	messages, readErrs := readPump(ctx, conn)
	readings := a.Readings

	for {
		select {
		case <-ctx.Done():
			offline := a.message("status", nil)
			offline.Status = "offline"
			_ = conn.WriteJSON(offline)
			return true, context.Canceled

		case err := <-readErrs:
			return true, err

		case message := <-messages:
			if err := a.handleIncoming(ctx, conn, message); err != nil {
				return true, err
			}

		case reading, ok := <-readings:
			if !ok {
				readings = nil
				continue
			}
			if err := conn.WriteJSON(weightMessage(a.cfg.AgentID, reading)); err != nil {
				return true, err
			}

		case <-heartbeat.C:
			if err := conn.WriteJSON(a.message("heartbeat", nil)); err != nil {
				return true, err
			}
		}
	}
}

// message stamps an outgoing message with the agent id, time and an
// online status.
func (a *Agent) message(kind string, data map[string]any) OutgoingMessage {
	return OutgoingMessage{
		Type:      kind,
		AgentID:   a.cfg.AgentID,
		Status:    "online",
		Timestamp: now(),
		Data:      data,
	}
}

func weightMessage(agentID string, reading devices.Reading) OutgoingMessage {
	data := map[string]any{
		"weight": reading.Weight,
		"stale":  reading.Stale,
	}
	if reading.Raw != "" {
		data["raw"] = reading.Raw
	}
	if reading.Error != "" {
		data["error"] = reading.Error
	}
	return OutgoingMessage{
		Type:      "weight",
		AgentID:   agentID,
		Timestamp: reading.At.UTC().Format(time.RFC3339Nano),
		Data:      data,
	}
}

func (a *Agent) handleIncoming(ctx context.Context, conn *websocket.Conn, message IncomingMessage) error {
	kind := strings.ToLower(strings.TrimSpace(message.Type))
	command := strings.ToLower(strings.TrimSpace(message.Command))

	if kind == "ping" || command == "ping" {
		pong := a.message("pong", nil)
		pong.Status = ""
		pong.JobID = message.JobID
		return conn.WriteJSON(pong)
	}
	if kind != "command" {
		a.logger.WithField("type", message.Type).Debug("mensaje ignorado")
		return nil
	}

	result, execErr := a.executeCommand(ctx, command, message.Payload)
	a.logJob(message.JobID, execErr)

	job := newJobResult(result, execErr)
	return conn.WriteJSON(OutgoingMessage{
		Type:      "command_result",
		AgentID:   a.cfg.AgentID,
		JobID:     message.JobID,
		Status:    job.Status,
		Timestamp: now(),
		Data:      job.Result,
		Error:     job.Error,
	})
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
