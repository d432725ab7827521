package forward

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"riverpulse/shared/events"
	"riverpulse/shared/logx"
	"riverpulse/shared/mqttx"
)

type fakeBus struct {
	events  chan mqttx.Event
	mu      sync.Mutex
	filters []string
}

func newFakeBus() *fakeBus {
	return &fakeBus{events: make(chan mqttx.Event, 16)}
}

func (b *fakeBus) Events() <-chan mqttx.Event { return b.events }

func (b *fakeBus) Connect(time.Duration) error {
	b.events <- mqttx.Event{Kind: mqttx.EventConnected}
	return nil
}

func (b *fakeBus) Subscribe(filter string, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filters = append(b.filters, filter)
	return nil
}

func (b *fakeBus) Disconnect() {}

func (b *fakeBus) subscribed() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.filters...)
}

type capturedPublish struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
}

type fakePublisher struct {
	mu        sync.Mutex
	published []capturedPublish
	failNext  int
}

func (p *fakePublisher) Publish(_ context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext > 0 {
		p.failNext--
		return errors.New("publish timed out")
	}
	p.published = append(p.published, capturedPublish{topic: topic, key: key, value: value, headers: headers})
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func (p *fakePublisher) last() capturedPublish {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published[len(p.published)-1]
}

func testForwarder(bus *fakeBus, pub *fakePublisher) *Forwarder {
	return New(bus, pub, Config{
		Namespace:      "riverpulse",
		Topic:          "sensor-events",
		PublishTimeout: 100 * time.Millisecond,
		BackoffMin:     time.Millisecond,
		BackoffMax:     4 * time.Millisecond,
	}, logx.New("forward-test", "test", "", "error"))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func TestParseAddress(t *testing.T) {
	cases := []struct {
		topic       string
		messageType string
		deviceID    string
	}{
		{"riverpulse/telemetry/gauge-001", "telemetry", "gauge-001"},
		{"riverpulse/heartbeat/gauge-002", "heartbeat", "gauge-002"},
		{"riverpulse/telemetry", "unknown", "unknown"},
		{"loose-topic", "unknown", "unknown"},
		{"", "unknown", "unknown"},
	}
	for _, tc := range cases {
		mt, id := ParseAddress(tc.topic)
		if mt != tc.messageType || id != tc.deviceID {
			t.Fatalf("ParseAddress(%q) = %s/%s, want %s/%s", tc.topic, mt, id, tc.messageType, tc.deviceID)
		}
	}
}

func TestStatsCarriesStartTime(t *testing.T) {
	fw := testForwarder(newFakeBus(), &fakePublisher{})
	stats := fw.Stats()
	if stats.StartedAt.IsZero() {
		t.Fatalf("expected start time set at construction")
	}
	if since := time.Since(stats.StartedAt); since < 0 || since > time.Minute {
		t.Fatalf("unexpected start time %v", stats.StartedAt)
	}
}

func TestForwardStampsBusAddress(t *testing.T) {
	bus := newFakeBus()
	pub := &fakePublisher{}
	fw := testForwarder(bus, pub)
	fw.now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = fw.Run(ctx)
	}()

	waitFor(t, func() bool { return len(bus.subscribed()) == 1 })
	if bus.subscribed()[0] != "riverpulse/#" {
		t.Fatalf("expected namespace-wide subscription, got %q", bus.subscribed()[0])
	}

	bus.events <- mqttx.Event{
		Kind:    mqttx.EventMessage,
		Topic:   "riverpulse/telemetry/gauge-001",
		Payload: []byte(`{"gaugeId":"gauge-001","cfs":950.2}`),
		QoS:     1,
	}
	waitFor(t, func() bool { return pub.count() == 1 })

	got := pub.last()
	if got.topic != "sensor-events" {
		t.Fatalf("expected sensor-events topic, got %q", got.topic)
	}
	if string(got.key) != "gauge-001" {
		t.Fatalf("expected device ID key, got %q", got.key)
	}
	want := map[string]string{
		events.AttrBusTopic:        "riverpulse/telemetry/gauge-001",
		events.AttrMessageType:     "telemetry",
		events.AttrDeviceID:        "gauge-001",
		events.AttrBridgeTimestamp: "2026-03-14T12:00:00Z",
		events.AttrBusQoS:          "1",
	}
	for k, v := range want {
		if got.headers[k] != v {
			t.Fatalf("header %s = %q, want %q", k, got.headers[k], v)
		}
	}
	if s := fw.Stats(); s.Forwarded != 1 || s.Errors != 0 {
		t.Fatalf("unexpected stats: %+v", s)
	}

	cancel()
	<-done
}

func TestPublishFailuresCountedWithoutStoppingFlow(t *testing.T) {
	bus := newFakeBus()
	pub := &fakePublisher{failNext: 3}
	fw := testForwarder(bus, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = fw.Run(ctx) }()
	waitFor(t, func() bool { return len(bus.subscribed()) == 1 })

	for i := 0; i < 3; i++ {
		bus.events <- mqttx.Event{
			Kind:    mqttx.EventMessage,
			Topic:   "riverpulse/telemetry/gauge-002",
			Payload: []byte(`{"cfs":100}`),
		}
	}
	waitFor(t, func() bool { return fw.Stats().Errors == 3 })
	if s := fw.Stats(); s.Forwarded != 0 {
		t.Fatalf("expected forwarded unchanged, got %d", s.Forwarded)
	}

	bus.events <- mqttx.Event{
		Kind:    mqttx.EventMessage,
		Topic:   "riverpulse/telemetry/gauge-002",
		Payload: []byte(`{"cfs":100}`),
	}
	waitFor(t, func() bool { return fw.Stats().Forwarded == 1 })
}

func TestDisconnectTriggersReconnectAndResubscribe(t *testing.T) {
	bus := newFakeBus()
	pub := &fakePublisher{}
	fw := testForwarder(bus, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = fw.Run(ctx) }()
	waitFor(t, func() bool { return len(bus.subscribed()) == 1 })

	bus.events <- mqttx.Event{Kind: mqttx.EventDisconnected, Err: errors.New("broker went away")}
	waitFor(t, func() bool { return len(bus.subscribed()) == 2 })
	if fw.Stats().Reconnects == 0 {
		t.Fatalf("expected reconnect counted")
	}
}
