package events

import (
	"encoding/json"
	"time"
)

// Attribute keys attached to every message the bridge forwards off the
// local bus onto the event backbone.
const (
	AttrBusTopic        = "bus_topic"
	AttrMessageType     = "message_type"
	AttrDeviceID        = "device_id"
	AttrBridgeTimestamp = "bridge_timestamp"
	AttrBusQoS          = "bus_qos"
)

// Ingestion sources. Every stored event carries exactly one of these.
const (
	SourcePubSub    = "pubsub"
	SourceDirect    = "direct"
	SourceSimulated = "simulated"
)

// Message types carried in the second topic segment.
const (
	TypeTelemetry = "telemetry"
	TypeHeartbeat = "heartbeat"
	TypeEvents    = "events"
	TypeCommands  = "commands"
	TypeUnknown   = "unknown"
)

// PushEnvelope is the wrapper delivered to the push ingestion endpoint:
// a single message with base64 data plus delivery metadata. Message is
// a pointer so a missing container is distinguishable from an empty
// payload.
type PushEnvelope struct {
	Message      *PushMessage `json:"message"`
	Subscription string       `json:"subscription,omitempty"`
}

type PushMessage struct {
	Data        string            `json:"data"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	MessageID   string            `json:"messageId,omitempty"`
	PublishTime string            `json:"publishTime,omitempty"`
}

// Alert is the payload published to the alerts topic and persisted by
// the evaluator when a reading breaches its thresholds.
type Alert struct {
	Type             string  `json:"type"`
	Severity         string  `json:"severity"`
	GaugeID          string  `json:"gaugeId"`
	CFS              float64 `json:"cfs"`
	Threshold        float64 `json:"threshold"`
	Exceedance       float64 `json:"exceedance"`
	ReadingTimestamp string  `json:"reading_timestamp"`
	EvaluatedAt      string  `json:"evaluated_at"`
	Message          string  `json:"message"`
}

// Command is a device instruction queued through the backbone for the
// bridge to fan out onto the local bus.
type Command struct {
	CommandID string          `json:"command_id"`
	DeviceID  string          `json:"device_id"`
	Name      string          `json:"command"`
	Params    json.RawMessage `json:"params,omitempty"`
	IssuedAt  time.Time       `json:"issued_at"`
}
