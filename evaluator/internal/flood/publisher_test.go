package flood

import (
	"context"
	"errors"
	"testing"

	"riverpulse/shared/events"
	"riverpulse/shared/logx"
)

type fakeBackbone struct {
	published int
	headers   map[string]string
	fail      bool
}

func (f *fakeBackbone) Publish(_ context.Context, _ string, _ []byte, _ []byte, headers map[string]string) error {
	if f.fail {
		return errors.New("backbone unavailable")
	}
	f.published++
	f.headers = headers
	return nil
}

type fakeAlertStore struct {
	inserted int
	fail     bool
}

func (f *fakeAlertStore) Insert(_ context.Context, _ events.Alert) error {
	if f.fail {
		return errors.New("storage unavailable")
	}
	f.inserted++
	return nil
}

func sampleAlert() events.Alert {
	return events.Alert{
		Type:             "flow_alert",
		Severity:         SeverityFlood,
		GaugeID:          "gauge-002",
		CFS:              1200,
		Threshold:        1000,
		Exceedance:       200,
		ReadingTimestamp: "2026-04-02T07:59:50Z",
		EvaluatedAt:      "2026-04-02T08:00:00Z",
		Message:          "FLOOD flow alert: gauge-002 at 1200 cfs (threshold: 1000 cfs)",
	}
}

func TestPublishWritesBothSinks(t *testing.T) {
	backbone := &fakeBackbone{}
	store := &fakeAlertStore{}
	p := NewPublisher(backbone, store, "riverpulse-alerts", logx.New("flood-test", "test", "", "error"))

	p.Publish(context.Background(), sampleAlert())
	if backbone.published != 1 || store.inserted != 1 {
		t.Fatalf("expected both sinks written, got backbone=%d store=%d", backbone.published, store.inserted)
	}
	if backbone.headers["severity"] != SeverityFlood || backbone.headers[events.AttrDeviceID] != "gauge-002" {
		t.Fatalf("unexpected backbone attributes: %v", backbone.headers)
	}
}

func TestBackboneFailureDoesNotBlockStorage(t *testing.T) {
	backbone := &fakeBackbone{fail: true}
	store := &fakeAlertStore{}
	p := NewPublisher(backbone, store, "riverpulse-alerts", logx.New("flood-test", "test", "", "error"))

	p.Publish(context.Background(), sampleAlert())
	if store.inserted != 1 {
		t.Fatalf("expected alert persisted despite backbone failure, got %d", store.inserted)
	}
}

func TestStorageFailureDoesNotBlockBackbone(t *testing.T) {
	backbone := &fakeBackbone{}
	store := &fakeAlertStore{fail: true}
	p := NewPublisher(backbone, store, "riverpulse-alerts", logx.New("flood-test", "test", "", "error"))

	p.Publish(context.Background(), sampleAlert())
	if backbone.published != 1 {
		t.Fatalf("expected alert published despite storage failure, got %d", backbone.published)
	}
}
