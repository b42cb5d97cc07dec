package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const apiBase = "/api/balanza/agent"

type pullCommandsResponse struct {
	Success bool              `json:"success"`
	Data    []IncomingMessage `json:"data"`
}

// jobResult is the body posted back for one command, over HTTP or as the
// data of a command_result message.
type jobResult struct {
	Status string         `json:"status"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func newJobResult(result map[string]any, err error) jobResult {
	if err != nil {
		return jobResult{Status: "failed", Error: err.Error()}
	}
	return jobResult{Status: "completed", Result: result}
}

// runHTTPPolling serves commands over plain HTTP until ctx ends, a pull
// fails, or maxDuration (when positive) elapses. It reports whether at
// least one pull succeeded.
func (a *Agent) runHTTPPolling(ctx context.Context, maxDuration time.Duration) (bool, error) {
	if strings.TrimSpace(a.cfg.ServerURL) == "" {
		return false, errors.New("sin server_url para el sondeo HTTP")
	}

	pollTicker := time.NewTicker(a.pollEvery)
	defer pollTicker.Stop()
	heartbeatTicker := time.NewTicker(a.heartbeatInterval())
	defer heartbeatTicker.Stop()

	var deadline <-chan time.Time
	if maxDuration > 0 {
		timer := time.NewTimer(maxDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	a.sendHeartbeat(ctx)
	pulledOnce := false

	for {
		select {
		case <-ctx.Done():
			return pulledOnce, context.Canceled
		case <-deadline:
			return pulledOnce, nil
		case <-heartbeatTicker.C:
			a.sendHeartbeat(ctx)
		case <-pollTicker.C:
			var pulled pullCommandsResponse
			if err := a.callAPI(ctx, http.MethodGet, "/commands/next?limit=5", nil, &pulled); err != nil {
				return pulledOnce, fmt.Errorf("pull commands: %w", err)
			}
			if !pulled.Success {
				return pulledOnce, errors.New("pull commands: success=false")
			}
			pulledOnce = true

			for _, message := range pulled.Data {
				a.runJob(ctx, message)
			}
		}
	}
}

func (a *Agent) runJob(ctx context.Context, message IncomingMessage) {
	command := strings.ToLower(strings.TrimSpace(message.Command))
	result, execErr := a.executeCommand(ctx, command, message.Payload)
	a.logJob(message.JobID, execErr)

	if strings.TrimSpace(message.JobID) == "" {
		a.logger.WithField("command", command).Warn("comando sin job_id; resultado descartado")
		return
	}

	path := "/commands/" + url.PathEscape(message.JobID) + "/result"
	if err := a.callAPI(ctx, http.MethodPost, path, newJobResult(result, execErr), nil); err != nil {
		a.logger.WithError(err).WithField("job_id", message.JobID).Warn("no se pudo informar el resultado")
	}
}

func (a *Agent) sendHeartbeat(ctx context.Context) {
	body := map[string]any{"scale": a.scale.Status()}
	if err := a.callAPI(ctx, http.MethodPost, "/heartbeat", body, nil); err != nil {
		a.logger.WithError(err).Warn("error de heartbeat HTTP")
	}
}

// callAPI sends in as JSON (when non-nil) to the agent API and decodes
// the response into out (when non-nil).
func (a *Agent) callAPI(ctx context.Context, method, path string, in, out any) error {
	base := strings.TrimRight(strings.TrimSpace(a.cfg.ServerURL), "/")
	if base == "" {
		return errors.New("server_url vacío")
	}

	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, base+apiBase+path, body)
	if err != nil {
		return err
	}
	a.setAuthHeaders(request.Header)
	if in != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := a.client.Do(request)
	if err != nil {
		return err
	}
	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, response.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(response.Body).Decode(out)
}
