package devices

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/mingmingshen/neomind/internal/events"
	"github.com/mingmingshen/neomind/internal/tools"
)

// discoverSettle is how long Discover waits after publishing the probe
// for devices to republish their retained state.
const discoverSettle = 500 * time.Millisecond

// Config holds the broker connection settings.
type Config struct {
	Broker         string // e.g. tcp://localhost:1883
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	CommandTimeout time.Duration
}

// publisher is the slice of the autopaho connection the backend needs.
// Tests substitute a fake.
type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Backend implements tools.Backend over MQTT.
type Backend struct {
	cfg    Config
	logger *slog.Logger
	bus    *events.Bus
	now    func() time.Time

	cm   *autopaho.ConnectionManager
	conn publisher

	mu      sync.RWMutex
	shadow  map[string]*tools.Device
	metrics map[string]map[string][]tools.MetricPoint

	pendingMu sync.Mutex
	pending   map[string]chan error
}

// New creates a Backend but does not connect. Call [Backend.Start] to
// begin the connection. bus may be nil.
func New(cfg Config, bus *events.Bus, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "neomind"
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Second
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "neomind-" + uuid.NewString()[:8]
	}
	return &Backend{
		cfg:     cfg,
		logger:  logger,
		bus:     bus,
		now:     time.Now,
		shadow:  make(map[string]*tools.Device),
		metrics: make(map[string]map[string][]tools.MetricPoint),
		pending: make(map[string]chan error),
	}
}

// Start connects to the broker and subscribes to the device topics.
// It returns once the connection manager is running; autopaho retries
// in the background if the broker is unreachable.
func (b *Backend) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(b.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	statusTopic := b.cfg.TopicPrefix + "/status"

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: b.cfg.Username,
		ConnectPassword: []byte(b.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   statusTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			b.logger.Info("mqtt connected to broker", "broker", b.cfg.Broker)
			if _, err := cm.Subscribe(ctx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{
					{Topic: b.cfg.TopicPrefix + "/device/#", QoS: 1},
				},
			}); err != nil {
				b.logger.Warn("mqtt subscribe failed", "error", err)
			}
			if _, err := cm.Publish(ctx, &paho.Publish{
				Topic:   statusTopic,
				Payload: []byte("online"),
				QoS:     1,
				Retain:  true,
			}); err != nil {
				b.logger.Warn("mqtt status publish failed", "error", err)
			}
		},
		OnConnectError: func(err error) {
			b.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: b.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					b.handleMessage(pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	b.cm = cm
	b.conn = cm

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		b.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	return nil
}

// Stop publishes an "offline" status and disconnects.
func (b *Backend) Stop(ctx context.Context) error {
	if b.cm == nil {
		return nil
	}
	if _, err := b.cm.Publish(ctx, &paho.Publish{
		Topic:   b.cfg.TopicPrefix + "/status",
		Payload: []byte("offline"),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		b.logger.Warn("mqtt offline publish failed", "error", err)
	}
	return b.cm.Disconnect(ctx)
}

// DeviceSummary returns a one-device-per-line inventory for the system
// prompt.
func (b *Backend) DeviceSummary() string {
	devs := b.snapshot()
	out := ""
	for _, d := range devs {
		out += d.ID + " | " + d.Name + " | " + d.Type + " | " + d.Room + "\n"
	}
	return out
}

// --- tools.Backend ---

// Discover publishes a probe and returns the shadow after giving
// devices a moment to republish their retained state.
func (b *Backend) Discover(ctx context.Context) ([]tools.Device, error) {
	if b.conn == nil {
		return nil, fmt.Errorf("mqtt backend not started")
	}
	if _, err := b.conn.Publish(ctx, &paho.Publish{
		Topic:   b.cfg.TopicPrefix + "/discover",
		Payload: []byte("probe"),
		QoS:     1,
	}); err != nil {
		return nil, fmt.Errorf("publish discover probe: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(discoverSettle):
	}
	return b.snapshot(), nil
}

// Devices returns the currently known devices from the shadow.
func (b *Backend) Devices(ctx context.Context) ([]tools.Device, error) {
	return b.snapshot(), nil
}

// DeviceState returns one device with its current state.
func (b *Backend) DeviceState(ctx context.Context, deviceID string) (*tools.Device, error) {
	b.mu.RLock()
	d, ok := b.shadow[deviceID]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown device: %s", deviceID)
	}
	copied := *d
	return &copied, nil
}

// SetState writes state keys to a device as a set_state command.
func (b *Backend) SetState(ctx context.Context, deviceID string, state map[string]any) error {
	return b.SendCommand(ctx, deviceID, "set_state", state)
}

// commandEnvelope is the JSON published to a device's cmd topic.
type commandEnvelope struct {
	RequestID string         `json:"request_id"`
	Command   string         `json:"command"`
	Params    map[string]any `json:"params,omitempty"`
}

// SendCommand publishes a command with QoS 1 and waits for the
// device's ack, up to the configured command timeout.
func (b *Backend) SendCommand(ctx context.Context, deviceID, command string, params map[string]any) error {
	if b.conn == nil {
		return fmt.Errorf("mqtt backend not started")
	}

	requestID := uuid.NewString()
	payload, err := json.Marshal(commandEnvelope{
		RequestID: requestID,
		Command:   command,
		Params:    params,
	})
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	ack := make(chan error, 1)
	b.pendingMu.Lock()
	b.pending[requestID] = ack
	b.pendingMu.Unlock()
	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, requestID)
		b.pendingMu.Unlock()
	}()

	topic := b.cfg.TopicPrefix + "/device/" + deviceID + "/cmd"
	if _, err := b.conn.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
	}); err != nil {
		return fmt.Errorf("publish command to %s: %w", deviceID, err)
	}

	b.bus.Emit(events.SourceDevices, events.KindDeviceCommand, map[string]any{
		"device_id": deviceID,
		"command":   command,
		"qos":       1,
	})
	b.logger.Debug("device command published",
		"device_id", deviceID, "command", command, "request_id", requestID)

	select {
	case err := <-ack:
		if err != nil {
			return fmt.Errorf("device %s: %w", deviceID, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(b.cfg.CommandTimeout):
		return fmt.Errorf("device %s did not ack %s within %s", deviceID, command, b.cfg.CommandTimeout)
	}
}

// Metrics returns up to limit recent samples of a device metric,
// newest last.
func (b *Backend) Metrics(ctx context.Context, deviceID, metric string, limit int) ([]tools.MetricPoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	series, ok := b.metrics[deviceID]
	if !ok {
		return nil, fmt.Errorf("no metrics for device: %s", deviceID)
	}
	points := series[metric]
	if len(points) == 0 {
		return nil, fmt.Errorf("no samples for metric %s on device %s", metric, deviceID)
	}
	if limit > 0 && len(points) > limit {
		points = points[len(points)-limit:]
	}
	out := make([]tools.MetricPoint, len(points))
	copy(out, points)
	return out, nil
}
