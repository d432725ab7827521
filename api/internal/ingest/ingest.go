package ingest

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"riverpulse/shared/events"
)

var ErrInvalidEnvelope = errors.New("invalid push envelope")

// Record is a normalized event ready for persistence: identity resolved,
// source stamped, timestamp backfilled.
type Record struct {
	DeviceID   string
	EventType  string
	Source     string
	Timestamp  time.Time
	ReceivedAt time.Time
	Payload    map[string]any
}

func (r Record) PayloadJSON() ([]byte, error) {
	return json.Marshal(r.Payload)
}

// ValidSource reports whether s is one of the closed set of ingestion
// sources.
func ValidSource(s string) bool {
	switch s {
	case events.SourcePubSub, events.SourceDirect, events.SourceSimulated:
		return true
	}
	return false
}

// FromPush normalizes a push-delivered envelope. The data field is
// base64; payloads that do not parse as a JSON object are preserved
// under a rawData key instead of being rejected. Only a missing message
// container is an error: a present-but-empty message normalizes to an
// empty record.
func FromPush(env events.PushEnvelope, now time.Time) (Record, error) {
	if env.Message == nil {
		return Record{}, ErrInvalidEnvelope
	}
	decoded, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		return Record{}, ErrInvalidEnvelope
	}

	payload := parsePayload(decoded)
	if env.Message.MessageID != "" {
		payload["messageId"] = env.Message.MessageID
	}
	if env.Message.PublishTime != "" {
		payload["publishTime"] = env.Message.PublishTime
	}
	if len(env.Message.Attributes) != 0 {
		payload["attributes"] = env.Message.Attributes
	}

	return build(payload, env.Message.Attributes, events.SourcePubSub, now), nil
}

// FromBus normalizes a record consumed off the event backbone, where the
// bridge has already attached routing attributes as headers and the
// value is the raw bus payload.
func FromBus(value []byte, attrs map[string]string, now time.Time) Record {
	payload := parsePayload(value)
	if len(attrs) != 0 {
		payload["attributes"] = attrs
	}
	return build(payload, attrs, events.SourcePubSub, now)
}

// FromDirect normalizes a payload submitted straight to the API.
func FromDirect(deviceID string, eventType string, payload map[string]any, source string, now time.Time) Record {
	if payload == nil {
		payload = make(map[string]any)
	}
	if !ValidSource(source) {
		source = events.SourceDirect
	}
	rec := build(payload, map[string]string{
		events.AttrDeviceID:    deviceID,
		events.AttrMessageType: eventType,
	}, source, now)
	return rec
}

func build(payload map[string]any, attrs map[string]string, source string, now time.Time) Record {
	now = now.UTC()
	payload["receivedAt"] = now.Format(time.RFC3339Nano)
	payload["source"] = source

	// A record without its own timestamp gets the ingestion clock, not
	// the publish or bridge time.
	ts := now
	if raw, ok := payload["timestamp"].(string); ok && raw != "" {
		if parsed, err := parseTime(raw); err == nil {
			ts = parsed
		}
	} else {
		payload["timestamp"] = now.Format(time.RFC3339Nano)
	}

	deviceID := attrs[events.AttrDeviceID]
	if deviceID == "" {
		if v, ok := payload["deviceId"].(string); ok {
			deviceID = v
		} else if v, ok := payload["gaugeId"].(string); ok {
			deviceID = v
		}
	}
	if deviceID == "" {
		deviceID = events.TypeUnknown
	}

	eventType := attrs[events.AttrMessageType]
	if eventType == "" {
		eventType = events.TypeUnknown
	}

	return Record{
		DeviceID:   deviceID,
		EventType:  eventType,
		Source:     source,
		Timestamp:  ts,
		ReceivedAt: now,
		Payload:    payload,
	}
}

func parsePayload(raw []byte) map[string]any {
	payload := make(map[string]any)
	if len(raw) == 0 {
		return payload
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload == nil {
		payload = map[string]any{"rawData": string(raw)}
	}
	return payload
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
