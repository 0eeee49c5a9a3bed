package devices

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/mingmingshen/neomind/internal/events"
)

// fakeConn records publishes and optionally reacts to them, standing
// in for the autopaho connection.
type fakeConn struct {
	mu        sync.Mutex
	published []*paho.Publish
	onPublish func(p *paho.Publish)
	err       error
}

func (f *fakeConn) Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.published = append(f.published, p)
	f.mu.Unlock()
	if f.onPublish != nil {
		f.onPublish(p)
	}
	return &paho.PublishResponse{}, nil
}

func (f *fakeConn) last() *paho.Publish {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.published) == 0 {
		return nil
	}
	return f.published[len(f.published)-1]
}

func testBackend(t *testing.T) (*Backend, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	b := New(Config{
		Broker:         "tcp://localhost:1883",
		TopicPrefix:    "neomind",
		CommandTimeout: 100 * time.Millisecond,
	}, nil, nil)
	b.conn = conn
	return b, conn
}

func TestStateMessageUpdatesShadow(t *testing.T) {
	b, _ := testBackend(t)

	b.handleMessage("neomind/device/lamp-1/state",
		[]byte(`{"name":"Floor Lamp","type":"light","room":"living room","state":{"power":"on"}}`))

	d, err := b.DeviceState(context.Background(), "lamp-1")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if d.Name != "Floor Lamp" || d.Type != "light" || !d.Online {
		t.Errorf("device = %+v", d)
	}
	if d.State["power"] != "on" {
		t.Errorf("state = %v", d.State)
	}
	if d.LastSeen.IsZero() {
		t.Error("last seen not set")
	}
}

func TestStateMessageMergesPartialUpdate(t *testing.T) {
	b, _ := testBackend(t)

	b.handleMessage("neomind/device/lamp-1/state",
		[]byte(`{"name":"Floor Lamp","type":"light","room":"den"}`))
	b.handleMessage("neomind/device/lamp-1/state",
		[]byte(`{"online":false,"state":{"power":"off"}}`))

	d, _ := b.DeviceState(context.Background(), "lamp-1")
	if d.Name != "Floor Lamp" || d.Room != "den" {
		t.Errorf("identity fields lost: %+v", d)
	}
	if d.Online {
		t.Error("online flag not applied")
	}
}

func TestStateMessageEmitsBusEvent(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe(4)
	b := New(Config{TopicPrefix: "neomind"}, bus, nil)

	b.handleMessage("neomind/device/lamp-1/state", []byte(`{"name":"Lamp"}`))

	select {
	case ev := <-ch:
		if ev.Source != events.SourceDevices || ev.Kind != events.KindDeviceState {
			t.Errorf("event = %+v", ev)
		}
		if ev.Data["device_id"] != "lamp-1" {
			t.Errorf("data = %v", ev.Data)
		}
	default:
		t.Fatal("no bus event")
	}
}

func TestDevicesSorted(t *testing.T) {
	b, _ := testBackend(t)
	b.handleMessage("neomind/device/thermo-1/state", []byte(`{"name":"Thermostat"}`))
	b.handleMessage("neomind/device/lamp-1/state", []byte(`{"name":"Lamp"}`))

	devs, err := b.Devices(context.Background())
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	if len(devs) != 2 || devs[0].ID != "lamp-1" || devs[1].ID != "thermo-1" {
		t.Errorf("devices = %+v", devs)
	}
}

func TestDeviceStateUnknown(t *testing.T) {
	b, _ := testBackend(t)
	if _, err := b.DeviceState(context.Background(), "ghost"); err == nil {
		t.Error("expected error for unknown device")
	}
}

func TestMetricMessages(t *testing.T) {
	b, _ := testBackend(t)

	b.handleMessage("neomind/device/thermo-1/metric/temperature",
		[]byte(`{"ts":"2026-08-30T10:00:00Z","value":21.5}`))
	b.handleMessage("neomind/device/thermo-1/metric/temperature", []byte(`22.0`))

	points, err := b.Metrics(context.Background(), "thermo-1", "temperature", 0)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("points = %d", len(points))
	}
	if points[0].Value != 21.5 || points[1].Value != 22.0 {
		t.Errorf("values = %+v", points)
	}
	want := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	if !points[0].Timestamp.Equal(want) {
		t.Errorf("ts = %v", points[0].Timestamp)
	}
}

func TestMetricRingBounded(t *testing.T) {
	b, _ := testBackend(t)
	for i := 0; i < metricWindow+10; i++ {
		b.applyMetric("d", "temp", []byte(`1.0`))
	}
	points, _ := b.Metrics(context.Background(), "d", "temp", 0)
	if len(points) != metricWindow {
		t.Errorf("ring len = %d, want %d", len(points), metricWindow)
	}
}

func TestMetricsLimit(t *testing.T) {
	b, _ := testBackend(t)
	for i := 0; i < 10; i++ {
		b.applyMetric("d", "temp", []byte(`5`))
	}
	points, _ := b.Metrics(context.Background(), "d", "temp", 3)
	if len(points) != 3 {
		t.Errorf("points = %d", len(points))
	}
}

func TestMetricsUnknown(t *testing.T) {
	b, _ := testBackend(t)
	if _, err := b.Metrics(context.Background(), "ghost", "temp", 0); err == nil {
		t.Error("expected error for unknown device")
	}
	b.applyMetric("d", "temp", []byte(`5`))
	if _, err := b.Metrics(context.Background(), "d", "humidity", 0); err == nil {
		t.Error("expected error for unknown metric")
	}
}

func TestSendCommandAcked(t *testing.T) {
	b, conn := testBackend(t)
	conn.onPublish = func(p *paho.Publish) {
		var env commandEnvelope
		if err := json.Unmarshal(p.Payload, &env); err != nil {
			t.Fatalf("bad command payload: %v", err)
		}
		ack, _ := json.Marshal(ackPayload{RequestID: env.RequestID, OK: true})
		b.handleMessage("neomind/device/lamp-1/ack", ack)
	}

	err := b.SendCommand(context.Background(), "lamp-1", "turn_on", map[string]any{"brightness": 80})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	p := conn.last()
	if p.Topic != "neomind/device/lamp-1/cmd" || p.QoS != 1 {
		t.Errorf("publish = topic %q qos %d", p.Topic, p.QoS)
	}
}

func TestSendCommandRejected(t *testing.T) {
	b, conn := testBackend(t)
	conn.onPublish = func(p *paho.Publish) {
		var env commandEnvelope
		json.Unmarshal(p.Payload, &env)
		ack, _ := json.Marshal(ackPayload{RequestID: env.RequestID, OK: false, Error: "bulb offline"})
		b.handleMessage("neomind/device/lamp-1/ack", ack)
	}

	err := b.SendCommand(context.Background(), "lamp-1", "turn_on", nil)
	if err == nil || !strings.Contains(err.Error(), "bulb offline") {
		t.Errorf("err = %v", err)
	}
}

func TestSendCommandTimeout(t *testing.T) {
	b, _ := testBackend(t)

	err := b.SendCommand(context.Background(), "lamp-1", "turn_on", nil)
	if err == nil || !strings.Contains(err.Error(), "did not ack") {
		t.Errorf("err = %v", err)
	}
}

func TestSendCommandEmitsBusEvent(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe(4)
	conn := &fakeConn{}
	b := New(Config{TopicPrefix: "neomind", CommandTimeout: 20 * time.Millisecond}, bus, nil)
	b.conn = conn

	b.SendCommand(context.Background(), "lamp-1", "turn_on", nil)

	select {
	case ev := <-ch:
		if ev.Kind != events.KindDeviceCommand || ev.Data["command"] != "turn_on" {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Fatal("no bus event")
	}
}

func TestSetStatePublishesSetStateCommand(t *testing.T) {
	b, conn := testBackend(t)
	conn.onPublish = func(p *paho.Publish) {
		var env commandEnvelope
		json.Unmarshal(p.Payload, &env)
		if env.Command != "set_state" || env.Params["power"] != "off" {
			t.Errorf("envelope = %+v", env)
		}
		ack, _ := json.Marshal(ackPayload{RequestID: env.RequestID, OK: true})
		b.handleMessage("neomind/device/lamp-1/ack", ack)
	}

	if err := b.SetState(context.Background(), "lamp-1", map[string]any{"power": "off"}); err != nil {
		t.Fatalf("set state: %v", err)
	}
}

func TestDiscoverPublishesProbe(t *testing.T) {
	b, conn := testBackend(t)
	b.handleMessage("neomind/device/lamp-1/state", []byte(`{"name":"Lamp"}`))

	devs, err := b.Discover(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(devs) != 1 {
		t.Errorf("devices = %+v", devs)
	}
	p := conn.last()
	if p == nil || p.Topic != "neomind/discover" {
		t.Errorf("probe = %+v", p)
	}
}

func TestHandleMessageIgnoresForeignTopics(t *testing.T) {
	b, _ := testBackend(t)
	b.handleMessage("other/device/lamp-1/state", []byte(`{"name":"Lamp"}`))
	b.handleMessage("neomind/status", []byte("online"))
	b.handleMessage("neomind/device//state", []byte(`{}`))

	devs, _ := b.Devices(context.Background())
	if len(devs) != 0 {
		t.Errorf("devices = %+v", devs)
	}
}

func TestDeviceSummary(t *testing.T) {
	b, _ := testBackend(t)
	b.handleMessage("neomind/device/lamp-1/state",
		[]byte(`{"name":"Floor Lamp","type":"light","room":"living room"}`))

	got := b.DeviceSummary()
	if !strings.Contains(got, "lamp-1 | Floor Lamp | light | living room") {
		t.Errorf("summary = %q", got)
	}
}
