package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Config struct {
	Env              string
	ServiceName      string
	HTTPPort         int
	LogLevel         string
	ConfigPath       string
	RequestTimeoutMS int
	RequestTimeout   time.Duration

	DatabaseURL      string
	DBMaxConns       int
	DBMinConns       int
	DBConnMaxIdleSec int
	DBConnMaxLifeSec int

	KafkaBrokers  []string
	KafkaClientID string
	KafkaGroupID  string
	KafkaRetryMax int
	KafkaWriteMS  int

	SensorEventsTopic string
	AlertsTopic       string
	CommandsTopic     string

	MQTTBrokerURL string
	MQTTClientID  string
	MQTTUsername  string
	MQTTPassword  string
	MQTTNamespace string
	MQTTQoS       int

	BridgePublishTimeoutMS int
	BridgeBackoffMinMS     int
	BridgeBackoffMaxMS     int

	ThresholdsPath string

	RegistryAutoRegister bool
	OfflineAfterSec      int
	SweepIntervalSec     int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AsynqRedisAddr   string
	AsynqRedisPass   string
	AsynqRedisDB     int
	AsynqQueue       string
	AsynqConcurrency int

	InfluxURL       string
	InfluxToken     string
	InfluxOrg       string
	InfluxBucket    string
	InfluxTimeoutMS int
	InfluxEnabled   bool

	OtelEnabled     bool
	OtelEndpoint    string
	OtelInsecure    bool
	OtelSampleRatio float64
}

func Load(serviceNameDefault string, httpPortDefault int) (Config, []Problem) {
	envRaw := strings.TrimSpace(os.Getenv("ENV"))
	cfg := Config{
		Env:                    envRaw,
		ServiceName:            serviceNameDefault,
		HTTPPort:               httpPortDefault,
		LogLevel:               "info",
		ConfigPath:             strings.TrimSpace(os.Getenv("CONFIG_PATH")),
		RequestTimeoutMS:       30000,
		DatabaseURL:            strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:             10,
		DBMinConns:             1,
		DBConnMaxIdleSec:       300,
		DBConnMaxLifeSec:       1800,
		KafkaRetryMax:          5,
		KafkaWriteMS:           5000,
		SensorEventsTopic:      "sensor-events",
		AlertsTopic:            "riverpulse-alerts",
		CommandsTopic:          "device-commands",
		MQTTBrokerURL:          "tcp://localhost:1883",
		MQTTClientID:           serviceNameDefault,
		MQTTNamespace:          "riverpulse",
		MQTTQoS:                1,
		BridgePublishTimeoutMS: 5000,
		BridgeBackoffMinMS:     1000,
		BridgeBackoffMaxMS:     30000,
		ThresholdsPath:         strings.TrimSpace(os.Getenv("THRESHOLDS_PATH")),
		RegistryAutoRegister:   true,
		OfflineAfterSec:        180,
		SweepIntervalSec:       60,
		AsynqQueue:             "default",
		AsynqConcurrency:       10,
		InfluxTimeoutMS:        5000,
		OtelInsecure:           true,
		OtelSampleRatio:        1.0,
	}

	problems := make([]Problem, 0, 4)
	envProvided := envRaw != ""

	if repoRoot, ok := findRepoRoot(); ok {
		if cfg.Env != "" && cfg.ConfigPath == "" {
			cfg.ConfigPath = filepath.Join(repoRoot, "configs", cfg.Env+".json")
		}
		if cfg.ThresholdsPath == "" {
			cfg.ThresholdsPath = filepath.Join(repoRoot, "configs", "thresholds.json")
		}
	}

	if fileData, fileProblems, ok := loadConfigFile(cfg.ConfigPath, strings.TrimSpace(os.Getenv("CONFIG_PATH")) != ""); ok {
		problems = append(problems, fileProblems...)
		if fileEnv, ok := readStringKey(fileData, "ENV"); ok && strings.TrimSpace(fileEnv) != "" {
			envProvided = true
		}
		applyConfigMap(&cfg, fileData, &problems)
	} else {
		problems = append(problems, fileProblems...)
	}

	applyEnv(&cfg, &problems)

	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if !envProvided {
		problems = append(problems, Problem{Field: "ENV", Message: "ENV is required"})
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		problems = append(problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		cfg.HTTPPort = httpPortDefault
	}
	if cfg.RequestTimeoutMS <= 0 {
		problems = append(problems, Problem{Field: "REQUEST_TIMEOUT_MS", Message: "REQUEST_TIMEOUT_MS must be > 0"})
		cfg.RequestTimeoutMS = 30000
	}
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	if cfg.DBMaxConns <= 0 {
		problems = append(problems, Problem{Field: "DB_MAX_CONNS", Message: "DB_MAX_CONNS must be > 0"})
		cfg.DBMaxConns = 10
	}
	if cfg.DBMinConns < 0 {
		problems = append(problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be >= 0"})
		cfg.DBMinConns = 1
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		problems = append(problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be <= DB_MAX_CONNS"})
		cfg.DBMinConns = cfg.DBMaxConns
	}
	if cfg.DBConnMaxIdleSec <= 0 {
		problems = append(problems, Problem{Field: "DB_CONN_MAX_IDLE_SECONDS", Message: "DB_CONN_MAX_IDLE_SECONDS must be > 0"})
		cfg.DBConnMaxIdleSec = 300
	}
	if cfg.DBConnMaxLifeSec <= 0 {
		problems = append(problems, Problem{Field: "DB_CONN_MAX_LIFETIME_SECONDS", Message: "DB_CONN_MAX_LIFETIME_SECONDS must be > 0"})
		cfg.DBConnMaxLifeSec = 1800
	}
	if cfg.KafkaRetryMax < 0 {
		problems = append(problems, Problem{Field: "KAFKA_RETRY_MAX", Message: "KAFKA_RETRY_MAX must be >= 0"})
		cfg.KafkaRetryMax = 5
	}
	if cfg.KafkaWriteMS <= 0 {
		problems = append(problems, Problem{Field: "KAFKA_WRITE_TIMEOUT_MS", Message: "KAFKA_WRITE_TIMEOUT_MS must be > 0"})
		cfg.KafkaWriteMS = 5000
	}
	if strings.TrimSpace(cfg.SensorEventsTopic) == "" {
		problems = append(problems, Problem{Field: "SENSOR_EVENTS_TOPIC", Message: "SENSOR_EVENTS_TOPIC must not be empty"})
		cfg.SensorEventsTopic = "sensor-events"
	}
	if strings.TrimSpace(cfg.AlertsTopic) == "" {
		problems = append(problems, Problem{Field: "ALERTS_TOPIC", Message: "ALERTS_TOPIC must not be empty"})
		cfg.AlertsTopic = "riverpulse-alerts"
	}
	if strings.TrimSpace(cfg.CommandsTopic) == "" {
		problems = append(problems, Problem{Field: "COMMANDS_TOPIC", Message: "COMMANDS_TOPIC must not be empty"})
		cfg.CommandsTopic = "device-commands"
	}
	if strings.TrimSpace(cfg.MQTTNamespace) == "" {
		problems = append(problems, Problem{Field: "MQTT_NAMESPACE", Message: "MQTT_NAMESPACE must not be empty"})
		cfg.MQTTNamespace = "riverpulse"
	}
	if cfg.MQTTQoS < 0 || cfg.MQTTQoS > 2 {
		problems = append(problems, Problem{Field: "MQTT_QOS", Message: "MQTT_QOS must be 0-2"})
		cfg.MQTTQoS = 1
	}
	if cfg.BridgePublishTimeoutMS <= 0 {
		problems = append(problems, Problem{Field: "BRIDGE_PUBLISH_TIMEOUT_MS", Message: "BRIDGE_PUBLISH_TIMEOUT_MS must be > 0"})
		cfg.BridgePublishTimeoutMS = 5000
	}
	if cfg.BridgeBackoffMinMS <= 0 {
		problems = append(problems, Problem{Field: "BRIDGE_BACKOFF_MIN_MS", Message: "BRIDGE_BACKOFF_MIN_MS must be > 0"})
		cfg.BridgeBackoffMinMS = 1000
	}
	if cfg.BridgeBackoffMaxMS < cfg.BridgeBackoffMinMS {
		problems = append(problems, Problem{Field: "BRIDGE_BACKOFF_MAX_MS", Message: "BRIDGE_BACKOFF_MAX_MS must be >= BRIDGE_BACKOFF_MIN_MS"})
		cfg.BridgeBackoffMaxMS = cfg.BridgeBackoffMinMS
	}
	if cfg.OfflineAfterSec <= 0 {
		problems = append(problems, Problem{Field: "OFFLINE_AFTER_SECONDS", Message: "OFFLINE_AFTER_SECONDS must be > 0"})
		cfg.OfflineAfterSec = 180
	}
	if cfg.SweepIntervalSec <= 0 {
		problems = append(problems, Problem{Field: "SWEEP_INTERVAL_SECONDS", Message: "SWEEP_INTERVAL_SECONDS must be > 0"})
		cfg.SweepIntervalSec = 60
	}
	if cfg.RedisDB < 0 {
		problems = append(problems, Problem{Field: "REDIS_DB", Message: "REDIS_DB must be >= 0"})
		cfg.RedisDB = 0
	}
	if cfg.AsynqRedisDB < 0 {
		problems = append(problems, Problem{Field: "ASYNQ_REDIS_DB", Message: "ASYNQ_REDIS_DB must be >= 0"})
		cfg.AsynqRedisDB = 0
	}
	if cfg.AsynqConcurrency <= 0 {
		problems = append(problems, Problem{Field: "ASYNQ_CONCURRENCY", Message: "ASYNQ_CONCURRENCY must be > 0"})
		cfg.AsynqConcurrency = 10
	}
	if cfg.InfluxTimeoutMS <= 0 {
		problems = append(problems, Problem{Field: "INFLUX_TIMEOUT_MS", Message: "INFLUX_TIMEOUT_MS must be > 0"})
		cfg.InfluxTimeoutMS = 5000
	}
	if cfg.OtelSampleRatio < 0 || cfg.OtelSampleRatio > 1 {
		problems = append(problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be 0-1"})
		cfg.OtelSampleRatio = 1.0
	}

	return cfg, problems
}

func findRepoRoot() (string, bool) {
	start, err := os.Getwd()
	if err != nil {
		return "", false
	}
	dir := start
	for i := 0; i < 8; i++ {
		candidate := filepath.Join(dir, "configs")
		if fi, err := os.Stat(candidate); err == nil && fi.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func loadConfigFile(path string, explicit bool) (map[string]any, []Problem, bool) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, false
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if explicit && !errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("failed to read config file: %v", err)}}, false
		}
		if explicit && errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: "config file not found"}}, false
		}
		return nil, nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("invalid json: %v", err)}}, false
	}
	return raw, nil, true
}

func applyEnv(cfg *Config, problems *[]Problem) {
	if v := strings.TrimSpace(os.Getenv("SERVICE_NAME")); v != "" {
		cfg.ServiceName = v
	}

	portRaw := strings.TrimSpace(os.Getenv("HTTP_PORT"))
	if portRaw == "" {
		portRaw = strings.TrimSpace(os.Getenv("PORT"))
	}
	if portRaw != "" {
		if p, err := strconv.Atoi(portRaw); err != nil || p <= 0 || p > 65535 {
			*problems = append(*problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		} else {
			cfg.HTTPPort = p
		}
	}

	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	setIntEnv("REQUEST_TIMEOUT_MS", &cfg.RequestTimeoutMS, problems)

	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	setIntEnv("DB_MAX_CONNS", &cfg.DBMaxConns, problems)
	setIntEnv("DB_MIN_CONNS", &cfg.DBMinConns, problems)
	setIntEnv("DB_CONN_MAX_IDLE_SECONDS", &cfg.DBConnMaxIdleSec, problems)
	setIntEnv("DB_CONN_MAX_LIFETIME_SECONDS", &cfg.DBConnMaxLifeSec, problems)

	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.KafkaBrokers = parseCSV(v)
	}
	if v := strings.TrimSpace(os.Getenv("KAFKA_CLIENT_ID")); v != "" {
		cfg.KafkaClientID = v
	}
	if v := strings.TrimSpace(os.Getenv("KAFKA_CONSUMER_GROUP")); v != "" {
		cfg.KafkaGroupID = v
	}
	setIntEnv("KAFKA_RETRY_MAX", &cfg.KafkaRetryMax, problems)
	setIntEnv("KAFKA_WRITE_TIMEOUT_MS", &cfg.KafkaWriteMS, problems)

	if v := strings.TrimSpace(os.Getenv("SENSOR_EVENTS_TOPIC")); v != "" {
		cfg.SensorEventsTopic = v
	}
	if v := strings.TrimSpace(os.Getenv("ALERTS_TOPIC")); v != "" {
		cfg.AlertsTopic = v
	}
	if v := strings.TrimSpace(os.Getenv("COMMANDS_TOPIC")); v != "" {
		cfg.CommandsTopic = v
	}

	if v := strings.TrimSpace(os.Getenv("MQTT_BROKER_URL")); v != "" {
		cfg.MQTTBrokerURL = v
	}
	if v := strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID")); v != "" {
		cfg.MQTTClientID = v
	}
	if v := strings.TrimSpace(os.Getenv("MQTT_USERNAME")); v != "" {
		cfg.MQTTUsername = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		cfg.MQTTPassword = v
	}
	if v := strings.TrimSpace(os.Getenv("MQTT_NAMESPACE")); v != "" {
		cfg.MQTTNamespace = v
	}
	setIntEnv("MQTT_QOS", &cfg.MQTTQoS, problems)

	setIntEnv("BRIDGE_PUBLISH_TIMEOUT_MS", &cfg.BridgePublishTimeoutMS, problems)
	setIntEnv("BRIDGE_BACKOFF_MIN_MS", &cfg.BridgeBackoffMinMS, problems)
	setIntEnv("BRIDGE_BACKOFF_MAX_MS", &cfg.BridgeBackoffMaxMS, problems)

	if v := strings.TrimSpace(os.Getenv("THRESHOLDS_PATH")); v != "" {
		cfg.ThresholdsPath = v
	}

	setBoolEnv("REGISTRY_AUTO_REGISTER", &cfg.RegistryAutoRegister, problems)
	setIntEnv("OFFLINE_AFTER_SECONDS", &cfg.OfflineAfterSec, problems)
	setIntEnv("SWEEP_INTERVAL_SECONDS", &cfg.SweepIntervalSec, problems)

	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		cfg.RedisAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_PASSWORD")); v != "" {
		cfg.RedisPassword = v
	}
	setIntEnv("REDIS_DB", &cfg.RedisDB, problems)

	if v := strings.TrimSpace(os.Getenv("ASYNQ_REDIS_ADDR")); v != "" {
		cfg.AsynqRedisAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("ASYNQ_REDIS_PASSWORD")); v != "" {
		cfg.AsynqRedisPass = v
	}
	setIntEnv("ASYNQ_REDIS_DB", &cfg.AsynqRedisDB, problems)
	if v := strings.TrimSpace(os.Getenv("ASYNQ_QUEUE")); v != "" {
		cfg.AsynqQueue = v
	}
	setIntEnv("ASYNQ_CONCURRENCY", &cfg.AsynqConcurrency, problems)

	if v := strings.TrimSpace(os.Getenv("INFLUX_URL")); v != "" {
		cfg.InfluxURL = v
	}
	if v := strings.TrimSpace(os.Getenv("INFLUX_TOKEN")); v != "" {
		cfg.InfluxToken = v
	}
	if v := strings.TrimSpace(os.Getenv("INFLUX_ORG")); v != "" {
		cfg.InfluxOrg = v
	}
	if v := strings.TrimSpace(os.Getenv("INFLUX_BUCKET")); v != "" {
		cfg.InfluxBucket = v
	}
	setIntEnv("INFLUX_TIMEOUT_MS", &cfg.InfluxTimeoutMS, problems)
	setBoolEnv("INFLUX_ENABLED", &cfg.InfluxEnabled, problems)

	setBoolEnv("OTEL_ENABLED", &cfg.OtelEnabled, problems)
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
		cfg.OtelEndpoint = v
	}
	setBoolEnv("OTEL_EXPORTER_OTLP_INSECURE", &cfg.OtelInsecure, problems)
	if v := strings.TrimSpace(os.Getenv("OTEL_SAMPLE_RATIO")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err != nil {
			*problems = append(*problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be a number"})
		} else {
			cfg.OtelSampleRatio = f
		}
	}
}

func applyConfigMap(cfg *Config, raw map[string]any, problems *[]Problem) {
	for k, v := range raw {
		key := strings.ToUpper(strings.TrimSpace(k))
		switch key {
		case "ENV":
			if s, ok := v.(string); ok {
				cfg.Env = strings.TrimSpace(s)
			}
		case "SERVICE_NAME":
			setStringKey(&cfg.ServiceName, v)
		case "HTTP_PORT":
			p, ok := asInt(v)
			if !ok || p <= 0 || p > 65535 {
				*problems = append(*problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
			} else {
				cfg.HTTPPort = p
			}
		case "LOG_LEVEL":
			setStringKey(&cfg.LogLevel, v)
		case "REQUEST_TIMEOUT_MS":
			setIntKey(key, &cfg.RequestTimeoutMS, v, problems)
		case "DATABASE_URL":
			setStringKey(&cfg.DatabaseURL, v)
		case "DB_MAX_CONNS":
			setIntKey(key, &cfg.DBMaxConns, v, problems)
		case "DB_MIN_CONNS":
			setIntKey(key, &cfg.DBMinConns, v, problems)
		case "DB_CONN_MAX_IDLE_SECONDS":
			setIntKey(key, &cfg.DBConnMaxIdleSec, v, problems)
		case "DB_CONN_MAX_LIFETIME_SECONDS":
			setIntKey(key, &cfg.DBConnMaxLifeSec, v, problems)
		case "KAFKA_BROKERS":
			if s, ok := v.(string); ok {
				cfg.KafkaBrokers = parseCSV(s)
			} else if arr, ok := v.([]any); ok {
				cfg.KafkaBrokers = parseAnyCSV(arr)
			}
		case "KAFKA_CLIENT_ID":
			setStringKey(&cfg.KafkaClientID, v)
		case "KAFKA_CONSUMER_GROUP":
			setStringKey(&cfg.KafkaGroupID, v)
		case "KAFKA_RETRY_MAX":
			setIntKey(key, &cfg.KafkaRetryMax, v, problems)
		case "KAFKA_WRITE_TIMEOUT_MS":
			setIntKey(key, &cfg.KafkaWriteMS, v, problems)
		case "SENSOR_EVENTS_TOPIC":
			setStringKey(&cfg.SensorEventsTopic, v)
		case "ALERTS_TOPIC":
			setStringKey(&cfg.AlertsTopic, v)
		case "COMMANDS_TOPIC":
			setStringKey(&cfg.CommandsTopic, v)
		case "MQTT_BROKER_URL":
			setStringKey(&cfg.MQTTBrokerURL, v)
		case "MQTT_CLIENT_ID":
			setStringKey(&cfg.MQTTClientID, v)
		case "MQTT_USERNAME":
			setStringKey(&cfg.MQTTUsername, v)
		case "MQTT_PASSWORD":
			if s, ok := v.(string); ok {
				cfg.MQTTPassword = s
			}
		case "MQTT_NAMESPACE":
			setStringKey(&cfg.MQTTNamespace, v)
		case "MQTT_QOS":
			setIntKey(key, &cfg.MQTTQoS, v, problems)
		case "BRIDGE_PUBLISH_TIMEOUT_MS":
			setIntKey(key, &cfg.BridgePublishTimeoutMS, v, problems)
		case "BRIDGE_BACKOFF_MIN_MS":
			setIntKey(key, &cfg.BridgeBackoffMinMS, v, problems)
		case "BRIDGE_BACKOFF_MAX_MS":
			setIntKey(key, &cfg.BridgeBackoffMaxMS, v, problems)
		case "THRESHOLDS_PATH":
			setStringKey(&cfg.ThresholdsPath, v)
		case "REGISTRY_AUTO_REGISTER":
			setBoolKey(key, &cfg.RegistryAutoRegister, v, problems)
		case "OFFLINE_AFTER_SECONDS":
			setIntKey(key, &cfg.OfflineAfterSec, v, problems)
		case "SWEEP_INTERVAL_SECONDS":
			setIntKey(key, &cfg.SweepIntervalSec, v, problems)
		case "REDIS_ADDR":
			setStringKey(&cfg.RedisAddr, v)
		case "REDIS_PASSWORD":
			if s, ok := v.(string); ok {
				cfg.RedisPassword = s
			}
		case "REDIS_DB":
			setIntKey(key, &cfg.RedisDB, v, problems)
		case "ASYNQ_REDIS_ADDR":
			setStringKey(&cfg.AsynqRedisAddr, v)
		case "ASYNQ_REDIS_PASSWORD":
			if s, ok := v.(string); ok {
				cfg.AsynqRedisPass = s
			}
		case "ASYNQ_REDIS_DB":
			setIntKey(key, &cfg.AsynqRedisDB, v, problems)
		case "ASYNQ_QUEUE":
			setStringKey(&cfg.AsynqQueue, v)
		case "ASYNQ_CONCURRENCY":
			setIntKey(key, &cfg.AsynqConcurrency, v, problems)
		case "INFLUX_URL":
			setStringKey(&cfg.InfluxURL, v)
		case "INFLUX_TOKEN":
			if s, ok := v.(string); ok {
				cfg.InfluxToken = s
			}
		case "INFLUX_ORG":
			setStringKey(&cfg.InfluxOrg, v)
		case "INFLUX_BUCKET":
			setStringKey(&cfg.InfluxBucket, v)
		case "INFLUX_TIMEOUT_MS":
			setIntKey(key, &cfg.InfluxTimeoutMS, v, problems)
		case "INFLUX_ENABLED":
			setBoolKey(key, &cfg.InfluxEnabled, v, problems)
		case "OTEL_ENABLED":
			setBoolKey(key, &cfg.OtelEnabled, v, problems)
		case "OTEL_EXPORTER_OTLP_ENDPOINT":
			setStringKey(&cfg.OtelEndpoint, v)
		case "OTEL_EXPORTER_OTLP_INSECURE":
			setBoolKey(key, &cfg.OtelInsecure, v, problems)
		case "OTEL_SAMPLE_RATIO":
			if f, ok := asFloat(v); ok {
				cfg.OtelSampleRatio = f
			} else {
				*problems = append(*problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be a number"})
			}
		}
	}
}

func setIntEnv(name string, dst *int, problems *[]Problem) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*problems = append(*problems, Problem{Field: name, Message: name + " must be an integer"})
		return
	}
	*dst = n
}

func setBoolEnv(name string, dst *bool, problems *[]Problem) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return
	}
	b, ok := asBool(v)
	if !ok {
		*problems = append(*problems, Problem{Field: name, Message: name + " must be a boolean"})
		return
	}
	*dst = b
}

func setStringKey(dst *string, v any) {
	if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
		*dst = strings.TrimSpace(s)
	}
}

func setIntKey(field string, dst *int, v any, problems *[]Problem) {
	n, ok := asInt(v)
	if !ok {
		*problems = append(*problems, Problem{Field: field, Message: field + " must be an integer"})
		return
	}
	*dst = n
}

func setBoolKey(field string, dst *bool, v any, problems *[]Problem) {
	if s, ok := v.(string); ok {
		if b, ok := asBool(s); ok {
			*dst = b
			return
		}
		*problems = append(*problems, Problem{Field: field, Message: field + " must be a boolean"})
		return
	}
	if b, ok := v.(bool); ok {
		*dst = b
		return
	}
	*problems = append(*problems, Problem{Field: field, Message: field + " must be a boolean"})
}

func readStringKey(raw map[string]any, key string) (string, bool) {
	for k, v := range raw {
		if strings.EqualFold(strings.TrimSpace(k), key) {
			s, ok := v.(string)
			return s, ok
		}
	}
	return "", false
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case json.Number:
		i, err := t.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		return i, err == nil
	default:
		return 0, false
	}
}

func asBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y":
		return true, true
	case "false", "0", "no", "n":
		return false, true
	default:
		return false, false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseAnyCSV(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
