package ingest

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"riverpulse/shared/events"
)

func TestFromPushDecodesAndStamps(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	env := events.PushEnvelope{
		Message: &events.PushMessage{
			Data:        base64.StdEncoding.EncodeToString([]byte(`{"gaugeId":"gauge-002","cfs":812.4,"timestamp":"2026-03-14T09:29:55Z"}`)),
			MessageID:   "msg-41",
			PublishTime: "2026-03-14T09:29:56Z",
			Attributes: map[string]string{
				events.AttrDeviceID:    "gauge-002",
				events.AttrMessageType: events.TypeTelemetry,
			},
		},
	}

	rec, err := FromPush(env, now)
	if err != nil {
		t.Fatalf("FromPush failed: %v", err)
	}
	if rec.DeviceID != "gauge-002" || rec.EventType != events.TypeTelemetry {
		t.Fatalf("unexpected identity: %s/%s", rec.DeviceID, rec.EventType)
	}
	if rec.Source != events.SourcePubSub {
		t.Fatalf("expected pubsub source, got %q", rec.Source)
	}
	if rec.Payload["messageId"] != "msg-41" {
		t.Fatalf("expected messageId injected, got %v", rec.Payload["messageId"])
	}
	if rec.Payload["receivedAt"] != now.Format(time.RFC3339Nano) {
		t.Fatalf("expected receivedAt %s, got %v", now.Format(time.RFC3339Nano), rec.Payload["receivedAt"])
	}
	want := time.Date(2026, 3, 14, 9, 29, 55, 0, time.UTC)
	if !rec.Timestamp.Equal(want) {
		t.Fatalf("expected reading timestamp kept, got %v", rec.Timestamp)
	}
}

func TestFromPushBackfillsTimestampFromReceivedAt(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	env := events.PushEnvelope{
		Message: &events.PushMessage{
			Data:        base64.StdEncoding.EncodeToString([]byte(`{"gaugeId":"gauge-002","cfs":812.4}`)),
			PublishTime: "2026-03-14T09:29:56Z",
		},
	}

	rec, err := FromPush(env, now)
	if err != nil {
		t.Fatalf("FromPush failed: %v", err)
	}
	if !rec.Timestamp.Equal(now) {
		t.Fatalf("expected timestamp backfilled from receivedAt %v, got %v", now, rec.Timestamp)
	}
	if rec.Payload["timestamp"] != now.Format(time.RFC3339Nano) {
		t.Fatalf("expected timestamp written into payload, got %v", rec.Payload["timestamp"])
	}
	if rec.Payload["publishTime"] != "2026-03-14T09:29:56Z" {
		t.Fatalf("expected publishTime still copied, got %v", rec.Payload["publishTime"])
	}
}

func TestFromPushNonJSONFallsBackToRawData(t *testing.T) {
	env := events.PushEnvelope{
		Message: &events.PushMessage{
			Data: base64.StdEncoding.EncodeToString([]byte("not json at all")),
		},
	}
	rec, err := FromPush(env, time.Now())
	if err != nil {
		t.Fatalf("FromPush failed: %v", err)
	}
	if rec.Payload["rawData"] != "not json at all" {
		t.Fatalf("expected rawData fallback, got %v", rec.Payload)
	}
}

func TestFromPushRejectsBadEncoding(t *testing.T) {
	env := events.PushEnvelope{
		Message: &events.PushMessage{Data: "%%%not-base64%%%"},
	}
	if _, err := FromPush(env, time.Now()); !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
	}
}

func TestFromPushRejectsMissingMessage(t *testing.T) {
	if _, err := FromPush(events.PushEnvelope{}, time.Now()); !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
	}
}

func TestFromPushAcceptsEmptyMessage(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	rec, err := FromPush(events.PushEnvelope{Message: &events.PushMessage{MessageID: "msg-77"}}, now)
	if err != nil {
		t.Fatalf("expected empty message accepted, got %v", err)
	}
	if rec.DeviceID != events.TypeUnknown {
		t.Fatalf("expected unknown device id, got %q", rec.DeviceID)
	}
	if rec.Payload["messageId"] != "msg-77" {
		t.Fatalf("expected messageId kept, got %v", rec.Payload["messageId"])
	}
	if !rec.Timestamp.Equal(now) {
		t.Fatalf("expected timestamp backfilled from receivedAt, got %v", rec.Timestamp)
	}
}

func TestFromBusBackfillsTimestampFromReceivedAt(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	attrs := map[string]string{
		events.AttrDeviceID:        "gauge-003",
		events.AttrMessageType:     events.TypeHeartbeat,
		events.AttrBridgeTimestamp: "2026-03-14T09:59:58Z",
		events.AttrBusTopic:        "riverpulse/heartbeat/gauge-003",
	}
	rec := FromBus([]byte(`{"battery":71}`), attrs, now)
	if rec.DeviceID != "gauge-003" || rec.EventType != events.TypeHeartbeat {
		t.Fatalf("unexpected identity: %s/%s", rec.DeviceID, rec.EventType)
	}
	if !rec.Timestamp.Equal(now) {
		t.Fatalf("expected timestamp backfilled from receivedAt %v, got %v", now, rec.Timestamp)
	}
	if rec.Payload["timestamp"] != now.Format(time.RFC3339Nano) {
		t.Fatalf("expected timestamp written into payload, got %v", rec.Payload["timestamp"])
	}
}

func TestFromDirectCoercesUnknownSource(t *testing.T) {
	rec := FromDirect("gauge-001", events.TypeTelemetry, map[string]any{"cfs": 410.0}, "webhook", time.Now())
	if rec.Source != events.SourceDirect {
		t.Fatalf("expected unrecognized source coerced to direct, got %q", rec.Source)
	}
	rec = FromDirect("gauge-001", events.TypeTelemetry, nil, events.SourceSimulated, time.Now())
	if rec.Source != events.SourceSimulated {
		t.Fatalf("expected simulated source kept, got %q", rec.Source)
	}
}
