package forward

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"riverpulse/shared/events"
	"riverpulse/shared/logx"
	"riverpulse/shared/metricsx"
	"riverpulse/shared/mqttx"
)

// Bus is the local-bus surface the forwarder drives. All activity
// arrives on the Events channel so the forwarder's single loop owns all
// connection state.
type Bus interface {
	Events() <-chan mqttx.Event
	Connect(timeout time.Duration) error
	Subscribe(filter string, timeout time.Duration) error
	Disconnect()
}

// Publisher writes one record to the event backbone.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

type Config struct {
	Namespace      string
	Topic          string
	PublishTimeout time.Duration
	BackoffMin     time.Duration
	BackoffMax     time.Duration
}

type Stats struct {
	Forwarded  uint64
	Errors     uint64
	Reconnects uint64
	StartedAt  time.Time
}

// Forwarder relays every message on the local bus onto the backbone,
// stamping each with its bus address and a forward timestamp. Failures
// are counted and logged, never fatal: the bus keeps flowing.
type Forwarder struct {
	bus Bus
	pub Publisher
	cfg     Config
	log     logx.Logger
	now     func() time.Time
	started time.Time

	forwarded  atomic.Uint64
	errors     atomic.Uint64
	reconnects atomic.Uint64
}

func New(bus Bus, pub Publisher, cfg Config, log logx.Logger) *Forwarder {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = time.Second
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = cfg.BackoffMin
	}
	f := &Forwarder{bus: bus, pub: pub, cfg: cfg, log: log, now: func() time.Time { return time.Now().UTC() }}
	f.started = f.now()
	return f
}

func (f *Forwarder) Stats() Stats {
	return Stats{
		Forwarded:  f.forwarded.Load(),
		Errors:     f.errors.Load(),
		Reconnects: f.reconnects.Load(),
		StartedAt:  f.started,
	}
}

// Run connects, subscribes, and relays until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) error {
	if err := f.connect(ctx, false); err != nil {
		return err
	}
	defer f.bus.Disconnect()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-f.bus.Events():
			switch ev.Kind {
			case mqttx.EventConnected:
				if err := f.bus.Subscribe(SubscribeFilter(f.cfg.Namespace), f.cfg.PublishTimeout); err != nil {
					f.log.Error(ctx, "bus_subscribe_failed", "failed to subscribe after connect",
						slog.String("error", err.Error()))
				}
			case mqttx.EventMessage:
				f.handle(ctx, ev)
			case mqttx.EventDisconnected:
				f.log.Warn(ctx, "bus_disconnected", "lost local bus connection",
					slog.String("error", errString(ev.Err)))
				if err := f.connect(ctx, true); err != nil {
					return err
				}
			}
		}
	}
}

func (f *Forwarder) handle(ctx context.Context, ev mqttx.Event) {
	messageType, deviceID := ParseAddress(ev.Topic)
	headers := map[string]string{
		events.AttrBusTopic:        ev.Topic,
		events.AttrMessageType:     messageType,
		events.AttrDeviceID:        deviceID,
		events.AttrBridgeTimestamp: f.now().Format(time.RFC3339Nano),
		events.AttrBusQoS:          strconv.Itoa(int(ev.QoS)),
	}

	pubCtx, cancel := context.WithTimeout(ctx, f.cfg.PublishTimeout)
	defer cancel()

	if err := f.pub.Publish(pubCtx, f.cfg.Topic, []byte(deviceID), ev.Payload, headers); err != nil {
		f.errors.Add(1)
		metricsx.IncBridgeError()
		f.log.Error(ctx, "bridge_forward_failed", "failed to forward bus message",
			slog.String("bus_topic", ev.Topic),
			slog.String("device_id", deviceID),
			slog.String("error", err.Error()))
		return
	}
	f.forwarded.Add(1)
	metricsx.IncBridgeForwarded()
	f.log.Debug(ctx, "bridge_forwarded", "forwarded bus message",
		slog.String("bus_topic", ev.Topic),
		slog.String("message_type", messageType),
		slog.String("device_id", deviceID))
}

// connect retries with exponential backoff until the bus accepts the
// connection or ctx is cancelled.
func (f *Forwarder) connect(ctx context.Context, isReconnect bool) error {
	backoff := f.cfg.BackoffMin
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if isReconnect {
			f.reconnects.Add(1)
			metricsx.IncBridgeReconnect()
		}
		err := f.bus.Connect(f.cfg.PublishTimeout)
		if err == nil {
			return nil
		}
		f.log.Warn(ctx, "bus_connect_failed", "local bus connect failed, backing off",
			slog.String("error", err.Error()),
			slog.Int64("backoff_ms", backoff.Milliseconds()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > f.cfg.BackoffMax {
			backoff = f.cfg.BackoffMax
		}
		isReconnect = true
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
