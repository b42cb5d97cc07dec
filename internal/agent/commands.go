package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/NowakAdmin/BalanzaAgent/internal/config"
	"github.com/NowakAdmin/BalanzaAgent/internal/devices"
)

func (a *Agent) executeCommand(ctx context.Context, command string, rawPayload json.RawMessage) (map[string]any, error) {
	switch command {
	case "read_weight":
		reading := a.scale.ReadWeight(ctx)
		result := map[string]any{
			"weight": reading.Weight,
			"stale":  reading.Stale,
			"raw":    reading.Raw,
		}
		if reading.Parsed != nil {
			result["class"] = reading.Parsed.Class.String()
		}
		if reading.Error != "" {
			result["error"] = reading.Error
		}
		return result, nil

	case "get_state":
		return map[string]any{"scale": a.scale.Status()}, nil

	case "change_config":
		if len(rawPayload) == 0 {
			return nil, fmt.Errorf("change_config requiere la sección balanza")
		}
		var section config.ScaleSection
		if err := json.Unmarshal(rawPayload, &section); err != nil {
			return nil, err
		}

		cfg := section.ScaleConfig()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}

		connected := a.scale.ChangeConfig(cfg)
		return map[string]any{
			"connected": connected,
			"scale":     a.scale.Status(),
		}, nil

	case "list_ports":
		ports := a.ListPorts()
		if ports == nil {
			ports = []devices.PortInfo{}
		}
		return map[string]any{"ports": ports}, nil

	case "test_connection":
		res := a.scale.TestConnection(ctx)
		return map[string]any{
			"success": res.Success,
			"message": res.Message,
			"weight":  res.Weight,
		}, nil

	case "get_log":
		entries := a.scale.Log()
		lines := make([]string, 0, len(entries))
		for _, entry := range entries {
			lines = append(lines, entry.String())
		}
		return map[string]any{"entries": entries, "lines": lines}, nil

	case "clear_log":
		a.scale.ClearLog()
		return map[string]any{"cleared": true}, nil

	default:
		return nil, fmt.Errorf("comando no soportado: %s", command)
	}
}
