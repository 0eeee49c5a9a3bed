package devices

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mingmingshen/neomind/internal/events"
	"github.com/mingmingshen/neomind/internal/tools"
)

// metricWindow bounds the samples kept per device metric. At one
// sample every 5 minutes this covers a full day.
const metricWindow = 288

// statePayload is the JSON a device publishes (retained) to its state
// topic.
type statePayload struct {
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Room   string         `json:"room,omitempty"`
	Online *bool          `json:"online,omitempty"`
	State  map[string]any `json:"state,omitempty"`
}

// metricPayload is one sample on a metric topic. Devices may also
// publish a bare number.
type metricPayload struct {
	TS    string  `json:"ts,omitempty"`
	Value float64 `json:"value"`
}

// ackPayload is the device's reply to a command.
type ackPayload struct {
	RequestID string `json:"request_id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// handleMessage routes one inbound broker message into the shadow.
// Topics under the configured prefix:
//
//	{prefix}/device/{id}/state
//	{prefix}/device/{id}/metric/{name}
//	{prefix}/device/{id}/ack
//
// Anything else is ignored.
func (b *Backend) handleMessage(topic string, payload []byte) {
	rest, ok := strings.CutPrefix(topic, b.cfg.TopicPrefix+"/device/")
	if !ok {
		return
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" {
		return
	}
	deviceID := parts[0]

	switch parts[1] {
	case "state":
		b.applyState(deviceID, payload)
	case "metric":
		if len(parts) == 3 && parts[2] != "" {
			b.applyMetric(deviceID, parts[2], payload)
		}
	case "ack":
		b.applyAck(payload)
	}
}

func (b *Backend) applyState(deviceID string, payload []byte) {
	var sp statePayload
	if err := json.Unmarshal(payload, &sp); err != nil {
		b.logger.Debug("device state payload not JSON",
			"device_id", deviceID, "error", err)
		return
	}

	online := true
	if sp.Online != nil {
		online = *sp.Online
	}

	b.mu.Lock()
	d := b.shadow[deviceID]
	if d == nil {
		d = &tools.Device{ID: deviceID}
		b.shadow[deviceID] = d
	}
	if sp.Name != "" {
		d.Name = sp.Name
	}
	if sp.Type != "" {
		d.Type = sp.Type
	}
	if sp.Room != "" {
		d.Room = sp.Room
	}
	d.Online = online
	if sp.State != nil {
		d.State = sp.State
	}
	d.LastSeen = b.now()
	b.mu.Unlock()

	b.bus.Emit(events.SourceDevices, events.KindDeviceState,
		map[string]any{"device_id": deviceID})
}

func (b *Backend) applyMetric(deviceID, metric string, payload []byte) {
	var mp metricPayload
	if err := json.Unmarshal(payload, &mp); err != nil {
		// Bare numeric payload.
		v, perr := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
		if perr != nil {
			return
		}
		mp = metricPayload{Value: v}
	}

	ts := b.now()
	if mp.TS != "" {
		if parsed, err := time.Parse(time.RFC3339, mp.TS); err == nil {
			ts = parsed
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	series := b.metrics[deviceID]
	if series == nil {
		series = make(map[string][]tools.MetricPoint)
		b.metrics[deviceID] = series
	}
	points := append(series[metric], tools.MetricPoint{Timestamp: ts, Value: mp.Value})
	if len(points) > metricWindow {
		points = points[len(points)-metricWindow:]
	}
	series[metric] = points
}

func (b *Backend) applyAck(payload []byte) {
	var ap ackPayload
	if err := json.Unmarshal(payload, &ap); err != nil || ap.RequestID == "" {
		return
	}

	b.pendingMu.Lock()
	ch, ok := b.pending[ap.RequestID]
	if ok {
		delete(b.pending, ap.RequestID)
	}
	b.pendingMu.Unlock()
	if !ok {
		// Ack for a request that already timed out or was never ours.
		return
	}

	if ap.OK {
		ch <- nil
	} else {
		msg := ap.Error
		if msg == "" {
			msg = "device rejected command"
		}
		ch <- &commandError{msg}
	}
}

type commandError struct{ msg string }

func (e *commandError) Error() string { return e.msg }

// snapshot returns a sorted copy of the known devices.
func (b *Backend) snapshot() []tools.Device {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]tools.Device, 0, len(b.shadow))
	for _, d := range b.shadow {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
