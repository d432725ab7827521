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

	"riverpulse/evaluator/internal/flood"
	"riverpulse/shared/config"
	"riverpulse/shared/dbx"
	"riverpulse/shared/events"
	"riverpulse/shared/logx"
	"riverpulse/shared/metricsx"
	"riverpulse/shared/mqx"
	"riverpulse/shared/observability"
)

func main() {
	cfg, problems := config.Load("flood-evaluator", 8083)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}

	table, err := flood.LoadTable(cfg.ThresholdsPath)
	if err != nil {
		problems = append(problems, config.Problem{Field: "THRESHOLDS_PATH", Message: err.Error()})
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

	producer, err := mqx.NewProducer(cfg)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka producer init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer producer.Close()

	// The evaluator reads the same topic as the ingestion consumer under
	// its own group, so both see every reading.
	group := cfg.KafkaGroupID
	if group == "" {
		group = "flood-evaluator"
	}
	reader, err := mqx.NewConsumer(cfg, cfg.SensorEventsTopic, group)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka reader init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer reader.Close()

	publisher := flood.NewPublisher(producer, flood.NewPGStore(dbPool), cfg.AlertsTopic, logger)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	logger.Info(ctx, "evaluator_start", "flood evaluator started",
		slog.String("topic", cfg.SensorEventsTopic),
		slog.String("group", group),
		slog.String("alerts_topic", cfg.AlertsTopic),
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
		evaluate(spanCtx, logger, table, publisher, msg.Value, mqx.HeadersToMap(msg.Headers))
		span.End()

		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Error(ctx, "kafka_commit_failed", "failed to commit message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
		}
		stats := reader.Stats()
		metricsx.SetKafkaLag(stats.Topic, group, stats.Lag)
	}

	logger.Info(context.Background(), "evaluator_stop", "flood evaluator stopped")
}

// evaluate classifies one reading and publishes an alert when it
// breaches. Malformed readings are logged and skipped; they must not
// stall the stream.
func evaluate(ctx context.Context, logger logx.Logger, table flood.Table, publisher *flood.Publisher, value []byte, attrs map[string]string) {
	if mt, ok := attrs[events.AttrMessageType]; ok && mt != events.TypeTelemetry {
		return
	}
	reading, err := flood.ParseReading(value)
	if err != nil {
		logger.Warn(ctx, "reading_parse_failed", "skipping malformed reading",
			slog.String("error", err.Error()),
		)
		return
	}

	alert, breached := table.Evaluate(reading, time.Now().UTC())
	if !breached {
		metricsx.IncAlertEvaluated("normal")
		return
	}
	metricsx.IncAlertEvaluated(strings.ToLower(alert.Severity))
	logger.Info(ctx, "alert_raised", "flow threshold breached",
		slog.String("device_id", alert.GaugeID),
		slog.String("severity", alert.Severity),
		slog.Float64("cfs", alert.CFS),
		slog.Float64("threshold", alert.Threshold),
	)
	publisher.Publish(ctx, alert)
}
