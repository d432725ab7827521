package metricsx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	bridgeForwarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_forwarded_total",
			Help: "Total messages forwarded from the local bus to the backbone.",
		},
	)
	bridgeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_errors_total",
			Help: "Total messages dropped due to backbone publish failure or timeout.",
		},
	)
	bridgeReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_reconnects_total",
			Help: "Total local-bus reconnect attempts.",
		},
	)
	kafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag by topic.",
		},
		[]string{"topic", "group"},
	)
	readingsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readings_ingested_total",
			Help: "Total normalized readings/events committed to storage.",
		},
		[]string{"source"},
	)
	alertsEvaluated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_evaluated_total",
			Help: "Total threshold evaluations by outcome.",
		},
		[]string{"outcome"},
	)
	alertSinkFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_publish_failures_total",
			Help: "Total alert sink write failures by sink.",
		},
		[]string{"sink"},
	)
	influxWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "influx_write_failures_total",
			Help: "Total InfluxDB write failures.",
		},
	)
	devicesMarkedOffline = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "devices_marked_offline_total",
			Help: "Total devices transitioned to offline by the liveness sweeper.",
		},
	)
	asynqQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asynq_queue_depth",
			Help: "Asynq queue depth by queue.",
		},
		[]string{"queue"},
	)
)

func Register() {
	prometheus.MustRegister(
		httpRequests,
		httpLatency,
		bridgeForwarded,
		bridgeErrors,
		bridgeReconnects,
		kafkaConsumerLag,
		readingsIngested,
		alertsEvaluated,
		alertSinkFailures,
		influxWriteFailures,
		devicesMarkedOffline,
		asynqQueueDepth,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		status := strconv.Itoa(lrw.statusCode)
		httpRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpLatency.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

func IncBridgeForwarded() {
	bridgeForwarded.Inc()
}

func IncBridgeError() {
	bridgeErrors.Inc()
}

func IncBridgeReconnect() {
	bridgeReconnects.Inc()
}

func SetKafkaLag(topic string, group string, lag int64) {
	kafkaConsumerLag.WithLabelValues(topic, group).Set(float64(lag))
}

func IncReadingIngested(source string) {
	readingsIngested.WithLabelValues(source).Inc()
}

func IncAlertEvaluated(outcome string) {
	alertsEvaluated.WithLabelValues(outcome).Inc()
}

func IncAlertSinkFailure(sink string) {
	alertSinkFailures.WithLabelValues(sink).Inc()
}

func IncInfluxWriteFailure() {
	influxWriteFailures.Inc()
}

func IncDeviceMarkedOffline() {
	devicesMarkedOffline.Inc()
}

func SetAsynqQueueDepth(queue string, depth int) {
	asynqQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
