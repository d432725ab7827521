package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"riverpulse/bridge/internal/forward"
	"riverpulse/shared/config"
	"riverpulse/shared/events"
	"riverpulse/shared/httpx"
	"riverpulse/shared/logx"
	"riverpulse/shared/metricsx"
	"riverpulse/shared/mqttx"
	"riverpulse/shared/mqx"
	"riverpulse/shared/observability"
)

type statusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Version string `json:"version,omitempty"`
}

func main() {
	cfg, readyProblems := config.Load("bridge", 8091)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)
	metricsx.Register()

	var shutdownTracer func(context.Context) error
	if cfg.OtelEnabled {
		var err error
		shutdownTracer, err = observability.InitTracer(context.Background(), observability.TracerConfig{
			ServiceName: cfg.ServiceName,
			Env:         cfg.Env,
			Endpoint:    cfg.OtelEndpoint,
			Insecure:    cfg.OtelInsecure,
			SampleRatio: cfg.OtelSampleRatio,
		})
		if err != nil {
			logger.Error(context.Background(), "otel_init_failed", "otel init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
		}
	}

	if strings.TrimSpace(cfg.MQTTBrokerURL) == "" {
		readyProblems = append(readyProblems, config.Problem{Field: "MQTT_BROKER_URL", Message: "MQTT_BROKER_URL is required"})
	}
	if len(cfg.KafkaBrokers) == 0 {
		readyProblems = append(readyProblems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	if len(readyProblems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", readyProblems),
		)
		os.Exit(1)
	}

	producer, err := mqx.NewProducer(cfg)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka producer init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	bus := mqttx.NewClient(cfg)
	forwarder := forward.New(bus, producer, forward.Config{
		Namespace:      cfg.MQTTNamespace,
		Topic:          cfg.SensorEventsTopic,
		PublishTimeout: time.Duration(cfg.BridgePublishTimeoutMS) * time.Millisecond,
		BackoffMin:     time.Duration(cfg.BridgeBackoffMinMS) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.BridgeBackoffMaxMS) * time.Millisecond,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := forwarder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error(ctx, "forwarder_failed", "forwarder stopped",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runCommandFanout(ctx, logger, cfg, bus)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ok",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if !bus.IsConnected() {
			httpx.WriteError(
				w,
				r,
				http.StatusServiceUnavailable,
				"FAILED_PRECONDITION",
				"service not ready: local bus disconnected",
				map[string]any{"problem": "bus_disconnected"},
			)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ready",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.HandleFunc("GET /statz", func(w http.ResponseWriter, r *http.Request) {
		stats := forwarder.Stats()
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"forwarded":  stats.Forwarded,
			"errors":     stats.Errors,
			"reconnects": stats.Reconnects,
			"started":    stats.StartedAt.Format(time.RFC3339),
		})
	})
	mux.Handle("GET /metrics", metricsx.Handler())

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})
	handler := httpx.WrapServeMux(mux, notFound)
	handler = httpx.WithTimeout(cfg.RequestTimeout, handler)
	handler = httpx.WithRequestID(handler)
	handler = httpx.WithRecover(logger, handler)
	handler = metricsx.Instrument(handler)
	handler = httpx.WithRequestLog(logger, httpx.RequestLogOptions{SkipPaths: map[string]bool{"/healthz": true, "/metrics": true}}, handler)
	handler = otelhttp.NewHandler(handler, "http")

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "service_start", "starting service",
			slog.String("addr", server.Addr),
			slog.Int("http_port", cfg.HTTPPort),
			slog.String("bus_broker", cfg.MQTTBrokerURL),
			slog.String("namespace", cfg.MQTTNamespace),
			slog.String("topic", cfg.SensorEventsTopic),
		)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "server_failed", "server failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	cancel()
	wg.Wait()
	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error(context.Background(), "shutdown_failed", "shutdown failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
	if err := producer.Close(); err != nil {
		logger.Error(context.Background(), "producer_close_failed", "kafka producer close failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
	if shutdownTracer != nil {
		_ = shutdownTracer(context.Background())
	}
	logger.Info(context.Background(), "service_stop", "service stopped")
}

// runCommandFanout consumes queued device commands off the backbone and
// republishes each on the device's command topic on the local bus.
func runCommandFanout(ctx context.Context, logger logx.Logger, cfg config.Config, bus *mqttx.Client) {
	group := cfg.KafkaGroupID
	if group == "" {
		group = "bridge-commands"
	}
	reader, err := mqx.NewConsumer(cfg, cfg.CommandsTopic, group)
	if err != nil {
		logger.Error(ctx, "kafka_init_failed", "command reader init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		return
	}
	defer reader.Close()

	publishTimeout := time.Duration(cfg.BridgePublishTimeoutMS) * time.Millisecond
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error(ctx, "kafka_fetch_failed", "failed to fetch command",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		deviceID := string(msg.Key)
		if deviceID == "" {
			deviceID = mqx.HeadersToMap(msg.Headers)[events.AttrDeviceID]
		}
		if deviceID == "" {
			logger.Warn(ctx, "command_unaddressed", "dropping command without device id")
			if err := reader.CommitMessages(ctx, msg); err != nil {
				logger.Error(ctx, "kafka_commit_failed", "failed to commit command",
					slog.String("error_code", "INTERNAL_ERROR"),
					slog.String("error", err.Error()),
				)
			}
			continue
		}

		topic := forward.CommandTopic(cfg.MQTTNamespace, deviceID)
		if err := bus.Publish(topic, msg.Value, publishTimeout); err != nil {
			logger.Error(ctx, "command_publish_failed", "failed to publish command to bus",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("device_id", deviceID),
				slog.String("error", err.Error()),
			)
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Error(ctx, "kafka_commit_failed", "failed to commit command",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
		}
	}
}
