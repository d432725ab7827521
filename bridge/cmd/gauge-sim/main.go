package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"riverpulse/shared/config"
	"riverpulse/shared/logx"
	"riverpulse/shared/mqttx"
)

// gauge-sim stands in for a remote monitoring gauge on the local bus:
// it publishes telemetry, heartbeats, and occasional condition events,
// and echoes any command addressed to it.
func main() {
	deviceID := flag.String("device", "gauge-001", "device id to simulate")
	interval := flag.Duration("interval", 5*time.Second, "telemetry publish interval")
	heartbeatEvery := flag.Int("heartbeat-every", 2, "publish a heartbeat every N cycles")
	eventChance := flag.Float64("event-chance", 0.3, "probability of a condition event per cycle")
	flag.Parse()

	cfg, _ := config.Load("gauge-sim", 8092)
	cfg.MQTTClientID = *deviceID
	logger := logx.New(cfg.ServiceName, cfg.Env, "", cfg.LogLevel)

	bus := mqttx.NewClient(cfg)
	if err := bus.Connect(10 * time.Second); err != nil {
		logger.Error(context.Background(), "bus_connect_failed", "failed to connect to local bus",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer bus.Disconnect()

	commandFilter := fmt.Sprintf("%s/commands/%s/#", cfg.MQTTNamespace, *deviceID)
	if err := bus.Subscribe(commandFilter, 5*time.Second); err != nil {
		logger.Error(context.Background(), "bus_subscribe_failed", "failed to subscribe to commands",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	logger.Info(ctx, "sim_start", "gauge simulator started",
		slog.String("device_id", *deviceID),
		slog.String("broker", cfg.MQTTBrokerURL),
		slog.Duration("interval", *interval),
	)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	cycle := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info(context.Background(), "sim_stop", "gauge simulator stopped")
			return
		case ev := <-bus.Events():
			if ev.Kind == mqttx.EventMessage {
				logger.Info(ctx, "command_received", "command received from cloud",
					slog.String("bus_topic", ev.Topic),
					slog.String("payload", string(ev.Payload)),
				)
			}
		case <-ticker.C:
			cycle++
			publish(ctx, logger, bus, topicFor(cfg.MQTTNamespace, "telemetry", *deviceID), telemetry(*deviceID))
			if *heartbeatEvery > 0 && cycle%*heartbeatEvery == 0 {
				publish(ctx, logger, bus, topicFor(cfg.MQTTNamespace, "heartbeat", *deviceID), heartbeat(*deviceID))
			}
			if rand.Float64() < *eventChance {
				publish(ctx, logger, bus, topicFor(cfg.MQTTNamespace, "events", *deviceID), conditionEvent(*deviceID))
			}
		}
	}
}

func topicFor(namespace string, messageType string, deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", namespace, messageType, deviceID)
}

func publish(ctx context.Context, logger logx.Logger, bus *mqttx.Client, topic string, payload map[string]any) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := bus.Publish(topic, b, 5*time.Second); err != nil {
		logger.Warn(ctx, "sim_publish_failed", "failed to publish",
			slog.String("bus_topic", topic),
			slog.String("error", err.Error()),
		)
	}
}

func telemetry(deviceID string) map[string]any {
	return map[string]any{
		"deviceId":    deviceID,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"type":        "telemetry",
		"cfs":         round1(randRange(200, 3600)),
		"temperature": round1(randRange(-10, 35)),
		"humidity":    round1(randRange(20, 90)),
		"pressure":    round1(randRange(800, 1013)),
		"airQuality":  rand.Intn(301),
		"lightLevel":  rand.Intn(1001),
		"gasLevel":    round1(randRange(0, 5)),
	}
}

func heartbeat(deviceID string) map[string]any {
	return map[string]any{
		"deviceId":       deviceID,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"type":           "heartbeat",
		"battery":        round1(randRange(60, 100)),
		"storageUsedPct": round1(randRange(10, 80)),
		"cpuTemp":        round1(randRange(30, 55)),
		"firmware":       "2.1.0",
		"uptime":         3600 + rand.Intn(604800-3600),
		"signalStrength": -90 + rand.Intn(61),
		"connectivity":   pick("halow", "satellite", "wifi"),
	}
}

func conditionEvent(deviceID string) map[string]any {
	now := time.Now()
	payload := map[string]any{
		"gaugeId":   deviceID,
		"timestamp": now.UTC().Format(time.RFC3339),
		"eventId":   fmt.Sprintf("evt-%d", now.Unix()),
		"location": map[string]any{
			"lat": 38.7816 + randRange(-0.01, 0.01),
			"lon": -106.1978 + randRange(-0.01, 0.01),
		},
	}
	switch rand.Intn(5) {
	case 0:
		payload["type"] = "flow_reading"
		payload["condition"] = "optimal"
		payload["confidence"] = 0.94
	case 1:
		payload["type"] = "flow_reading"
		payload["condition"] = "high"
		payload["confidence"] = 0.88
	case 2:
		payload["type"] = "flow_reading"
		payload["condition"] = "flood_risk"
		payload["confidence"] = 0.97
	case 3:
		payload["type"] = "gauge_malfunction"
		payload["confidence"] = 0.82
	default:
		payload["type"] = "water_temperature_alert"
		payload["confidence"] = 0.91
	}
	return payload
}

func randRange(min float64, max float64) float64 {
	return min + rand.Float64()*(max-min)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func pick(options ...string) string {
	return options[rand.Intn(len(options))]
}
