package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

func (r *Registry) registerDeviceTools() {
	r.Register(&Tool{
		Name:        "device_discover",
		Description: "Scan for devices and return everything found, including devices not yet registered.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleDiscover,
	})

	r.Register(&Tool{
		Name:        "list_devices",
		Description: "List known devices with their type, room, and online status. Use this to find a device ID before controlling it.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"room": map[string]any{
					"type":        "string",
					"description": "Optional room filter (e.g., kitchen, living_room)",
				},
			},
		},
		Handler: r.handleListDevices,
	})

	r.Register(&Tool{
		Name:        "get_device_state",
		Description: "Get the current state of a device (on/off, brightness, temperature, etc).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"device_id": map[string]any{
					"type":        "string",
					"description": "The device ID",
				},
			},
			"required": []string{"device_id"},
		},
		Handler: r.handleGetDeviceState,
	})

	r.Register(&Tool{
		Name:        "set_device_state",
		Description: "Set state values on a device, e.g. power, brightness, target temperature.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"device_id": map[string]any{
					"type":        "string",
					"description": "The device ID",
				},
				"state": map[string]any{
					"type":        "object",
					"description": "State keys to set (e.g., {\"power\": \"on\", \"brightness\": 80})",
				},
			},
			"required": []string{"device_id", "state"},
		},
		Handler: r.handleSetDeviceState,
	})

	r.Register(&Tool{
		Name:        "toggle_device",
		Description: "Toggle a device's power state.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"device_id": map[string]any{
					"type":        "string",
					"description": "The device ID",
				},
			},
			"required": []string{"device_id"},
		},
		Handler: r.handleToggleDevice,
	})

	r.Register(&Tool{
		Name:        "send_command",
		Description: "Send a raw command with parameters to a device. Use for device-specific commands not covered by set_device_state.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"device_id": map[string]any{
					"type":        "string",
					"description": "The device ID",
				},
				"command": map[string]any{
					"type":        "string",
					"description": "The command name",
				},
				"params": map[string]any{
					"type":        "object",
					"description": "Optional command parameters",
				},
			},
			"required": []string{"device_id", "command"},
		},
		Handler: r.handleSendCommand,
	})

	r.Register(&Tool{
		Name:        "get_device_metrics",
		Description: "Get recent samples of a device metric (temperature, humidity, power draw, etc).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"device_id": map[string]any{
					"type":        "string",
					"description": "The device ID",
				},
				"metric": map[string]any{
					"type":        "string",
					"description": "The metric name (e.g., temperature)",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of samples (default 20)",
				},
			},
			"required": []string{"device_id", "metric"},
		},
		Handler: r.handleDeviceMetrics,
	})
}

func (r *Registry) handleDiscover(ctx context.Context, args map[string]any) (string, error) {
	if r.backend == nil {
		return "", fmt.Errorf("device backend not configured")
	}
	devices, err := r.backend.Discover(ctx)
	if err != nil {
		return "", err
	}
	return marshalResult(map[string]any{"devices": devices, "count": len(devices)})
}

func (r *Registry) handleListDevices(ctx context.Context, args map[string]any) (string, error) {
	if r.backend == nil {
		return "", fmt.Errorf("device backend not configured")
	}
	devices, err := r.backend.Devices(ctx)
	if err != nil {
		return "", err
	}
	if room := optString(args, "room"); room != "" {
		filtered := devices[:0]
		for _, d := range devices {
			if d.Room == room {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}
	return marshalResult(map[string]any{"devices": devices, "count": len(devices)})
}

func (r *Registry) handleGetDeviceState(ctx context.Context, args map[string]any) (string, error) {
	if r.backend == nil {
		return "", fmt.Errorf("device backend not configured")
	}
	deviceID, err := stringArg(args, "device_id")
	if err != nil {
		return "", err
	}
	device, err := r.backend.DeviceState(ctx, deviceID)
	if err != nil {
		return "", err
	}
	return marshalResult(device)
}

func (r *Registry) handleSetDeviceState(ctx context.Context, args map[string]any) (string, error) {
	if r.backend == nil {
		return "", fmt.Errorf("device backend not configured")
	}
	deviceID, err := stringArg(args, "device_id")
	if err != nil {
		return "", err
	}
	state, ok := args["state"].(map[string]any)
	if !ok || len(state) == 0 {
		return "", fmt.Errorf("state is required")
	}
	if err := r.backend.SetState(ctx, deviceID, state); err != nil {
		return "", err
	}
	return "Command sent successfully", nil
}

func (r *Registry) handleToggleDevice(ctx context.Context, args map[string]any) (string, error) {
	if r.backend == nil {
		return "", fmt.Errorf("device backend not configured")
	}
	deviceID, err := stringArg(args, "device_id")
	if err != nil {
		return "", err
	}
	if err := r.backend.SendCommand(ctx, deviceID, "toggle", nil); err != nil {
		return "", err
	}
	return "Command sent successfully", nil
}

func (r *Registry) handleSendCommand(ctx context.Context, args map[string]any) (string, error) {
	if r.backend == nil {
		return "", fmt.Errorf("device backend not configured")
	}
	deviceID, err := stringArg(args, "device_id")
	if err != nil {
		return "", err
	}
	command, err := stringArg(args, "command")
	if err != nil {
		return "", err
	}
	params, _ := args["params"].(map[string]any)
	if err := r.backend.SendCommand(ctx, deviceID, command, params); err != nil {
		return "", err
	}
	return "Command sent successfully", nil
}

func (r *Registry) handleDeviceMetrics(ctx context.Context, args map[string]any) (string, error) {
	if r.backend == nil {
		return "", fmt.Errorf("device backend not configured")
	}
	deviceID, err := stringArg(args, "device_id")
	if err != nil {
		return "", err
	}
	metric, err := stringArg(args, "metric")
	if err != nil {
		return "", err
	}
	limit := optInt(args, "limit", 20)
	points, err := r.backend.Metrics(ctx, deviceID, metric, limit)
	if err != nil {
		return "", err
	}
	return marshalResult(map[string]any{
		"device_id": deviceID,
		"metric":    metric,
		"points":    points,
		"count":     len(points),
	})
}

// marshalResult renders a tool result as JSON so downstream formatting
// can re-parse it.
func marshalResult(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(b), nil
}
