package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"riverpulse/api/internal/ingest"
	"riverpulse/api/internal/registry"
	"riverpulse/api/internal/repos"
	"riverpulse/shared/cachex"
	"riverpulse/shared/config"
	"riverpulse/shared/dbx"
	"riverpulse/shared/events"
	"riverpulse/shared/influxx"
	"riverpulse/shared/logx"
	"riverpulse/shared/metricsx"
	"riverpulse/shared/mqx"
	"riverpulse/shared/observability"
)

func main() {
	cfg, problems := config.Load("sensor-events-consumer", 8082)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	if cfg.KafkaGroupID == "" {
		problems = append(problems, config.Problem{Field: "KAFKA_CONSUMER_GROUP", Message: "KAFKA_CONSUMER_GROUP is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	if cfg.OtelEnabled {
		if shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfig{
			ServiceName: cfg.ServiceName,
			Env:         cfg.Env,
			Endpoint:    cfg.OtelEndpoint,
			Insecure:    cfg.OtelInsecure,
			SampleRatio: cfg.OtelSampleRatio,
		}); err == nil {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	dbPool, err := dbx.NewPool(cfg)
	if err != nil {
		logger.Error(context.Background(), "db_init_failed", "db init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer dbPool.Close()

	cache, err := cachex.New(cfg)
	if err != nil {
		logger.Warn(context.Background(), "cache_init_failed", "continuing without device cache",
			slog.String("error", err.Error()),
		)
		cache = nil
	} else {
		defer cache.Close()
	}

	var warehouse *influxx.Client
	if cfg.InfluxEnabled {
		warehouse, err = influxx.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "influx_init_failed", "continuing without warehouse sink",
				slog.String("error", err.Error()),
			)
			warehouse = nil
		} else {
			defer warehouse.Close()
		}
	}

	reader, err := mqx.NewConsumer(cfg, cfg.SensorEventsTopic, cfg.KafkaGroupID)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka reader init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer reader.Close()

	eventsRepo := repos.NewEventsRepo(dbPool)
	devicesRepo := repos.NewDevicesRepo(dbPool)
	reg := registry.New(devicesRepo, cache, logger, cfg.RegistryAutoRegister)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	logger.Info(ctx, "consumer_start", "sensor events consumer started",
		slog.String("topic", cfg.SensorEventsTopic),
		slog.String("group", cfg.KafkaGroupID),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			logger.Error(ctx, "kafka_fetch_failed", "failed to fetch message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		spanCtx, span := otel.Tracer("mqx").Start(ctx, "kafka.consume")
		span.SetAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", cfg.SensorEventsTopic),
		)
		if err := handleSensorEvent(spanCtx, logger, eventsRepo, reg, warehouse, msg.Value, mqx.HeadersToMap(msg.Headers)); err != nil {
			span.End()
			logger.Error(ctx, "event_handle_failed", "failed to handle sensor event",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			continue
		}
		span.End()
		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Error(ctx, "kafka_commit_failed", "failed to commit message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
		}
		stats := reader.Stats()
		metricsx.SetKafkaLag(stats.Topic, cfg.KafkaGroupID, stats.Lag)
	}

	logger.Info(context.Background(), "consumer_stop", "sensor events consumer stopped")
}

func handleSensorEvent(ctx context.Context, logger logx.Logger, eventsRepo *repos.EventsRepo, reg *registry.Registry, warehouse *influxx.Client, value []byte, attrs map[string]string) error {
	rec := ingest.FromBus(value, attrs, time.Now().UTC())

	payload, err := rec.PayloadJSON()
	if err != nil {
		return err
	}
	if _, err := eventsRepo.Insert(ctx, rec.DeviceID, rec.EventType, rec.Source, rec.Timestamp, rec.ReceivedAt, payload); err != nil {
		return err
	}
	metricsx.IncReadingIngested(rec.Source)

	// Heartbeats also feed the registry so devices come online without a
	// separate API call.
	if rec.EventType == events.TypeHeartbeat {
		if _, err := reg.Heartbeat(ctx, rec.DeviceID, rec.Timestamp, rec.Payload); err != nil {
			logger.Warn(ctx, "heartbeat_apply_failed", "heartbeat not applied to registry",
				slog.String("device_id", rec.DeviceID),
				slog.String("error", err.Error()),
			)
		}
	}

	if warehouse != nil {
		writeWarehousePoint(ctx, logger, warehouse, rec)
	}
	return nil
}

// writeWarehousePoint mirrors telemetry and heartbeat fields into the
// analytics warehouse. Failures are counted, never fatal.
func writeWarehousePoint(ctx context.Context, logger logx.Logger, warehouse *influxx.Client, rec ingest.Record) {
	fields := make(map[string]any)
	measurement := ""
	switch rec.EventType {
	case events.TypeTelemetry:
		measurement = influxx.MeasurementGaugeFlow
		for _, key := range []string{"cfs", "temperature", "humidity", "pressure", "gasLevel"} {
			if v, ok := rec.Payload[key].(float64); ok {
				fields[key] = v
			}
		}
	case events.TypeHeartbeat:
		measurement = influxx.MeasurementDeviceHealth
		for _, key := range []string{"battery", "cpuTemp", "storageUsedPct", "signalStrength", "uptime"} {
			if v, ok := rec.Payload[key].(float64); ok {
				fields[key] = v
			}
		}
	}
	if measurement == "" || len(fields) == 0 {
		return
	}
	tags := map[string]string{"device_id": rec.DeviceID}
	if err := warehouse.WritePoint(ctx, measurement, tags, fields, rec.Timestamp); err != nil {
		metricsx.IncInfluxWriteFailure()
		logger.Warn(ctx, "warehouse_write_failed", "failed to write warehouse point",
			slog.String("device_id", rec.DeviceID),
			slog.String("error", err.Error()),
		)
	}
}
