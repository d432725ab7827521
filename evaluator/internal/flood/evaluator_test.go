package flood

import (
	"testing"
	"time"
)

func defaultTable(t *testing.T) Table {
	t.Helper()
	table, err := ParseTable([]byte(`{
		"default": {"high": 2000, "flood": 3000},
		"gauge-001": {"high": 1500, "flood": 2200},
		"gauge-002": {"high": 700, "flood": 1000},
		"gauge-003": {"high": 2500, "flood": 3500}
	}`))
	if err != nil {
		t.Fatalf("ParseTable failed: %v", err)
	}
	return table
}

func fl(v float64) *float64 { return &v }

func TestEvaluateFloodWithGaugeThresholds(t *testing.T) {
	table := defaultTable(t)
	now := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

	alert, ok := table.Evaluate(Reading{GaugeID: "gauge-002", CFS: fl(1200), Timestamp: "2026-04-02T07:59:50Z"}, now)
	if !ok {
		t.Fatalf("expected alert for 1200 cfs on gauge-002")
	}
	if alert.Severity != SeverityFlood {
		t.Fatalf("expected FLOOD, got %q", alert.Severity)
	}
	if alert.Threshold != 1000 {
		t.Fatalf("expected threshold 1000, got %v", alert.Threshold)
	}
	if alert.Exceedance != 200.0 {
		t.Fatalf("expected exceedance 200.0, got %v", alert.Exceedance)
	}
	if alert.Type != "flow_alert" || alert.GaugeID != "gauge-002" {
		t.Fatalf("unexpected alert identity: %+v", alert)
	}
	if alert.ReadingTimestamp != "2026-04-02T07:59:50Z" {
		t.Fatalf("expected reading timestamp carried, got %q", alert.ReadingTimestamp)
	}
}

func TestEvaluateUnlistedGaugeUsesDefault(t *testing.T) {
	table := defaultTable(t)

	// 1800 cfs would flood gauge-002, but an unlisted gauge gets the
	// default thresholds and stays in the normal range.
	if _, ok := table.Evaluate(Reading{GaugeID: "gauge-099", CFS: fl(1800)}, time.Now()); ok {
		t.Fatalf("expected no alert for 1800 cfs against default thresholds")
	}
	alert, ok := table.Evaluate(Reading{GaugeID: "gauge-099", CFS: fl(2100)}, time.Now())
	if !ok || alert.Severity != SeverityHigh {
		t.Fatalf("expected HIGH against default thresholds, got %+v ok=%v", alert, ok)
	}
}

func TestEvaluateClassificationIsMonotonic(t *testing.T) {
	table := defaultTable(t)
	cases := []struct {
		cfs      float64
		severity string
	}{
		{699.9, ""},
		{700, SeverityHigh},
		{999.9, SeverityHigh},
		{1000, SeverityFlood},
		{4200, SeverityFlood},
	}
	for _, tc := range cases {
		alert, ok := table.Evaluate(Reading{GaugeID: "gauge-002", CFS: fl(tc.cfs)}, time.Now())
		if tc.severity == "" {
			if ok {
				t.Fatalf("expected no alert at %v cfs, got %+v", tc.cfs, alert)
			}
			continue
		}
		if !ok || alert.Severity != tc.severity {
			t.Fatalf("at %v cfs expected %q, got %+v ok=%v", tc.cfs, tc.severity, alert, ok)
		}
		if alert.Exceedance < 0 {
			t.Fatalf("exceedance must be non-negative, got %v", alert.Exceedance)
		}
	}
}

func TestEvaluateSkipsReadingWithoutFlow(t *testing.T) {
	table := defaultTable(t)
	if _, ok := table.Evaluate(Reading{GaugeID: "gauge-001"}, time.Now()); ok {
		t.Fatalf("expected no alert for reading without cfs")
	}
}

func TestParseTableRequiresDefault(t *testing.T) {
	if _, err := ParseTable([]byte(`{"gauge-001": {"high": 1500, "flood": 2200}}`)); err == nil {
		t.Fatalf("expected error for table without default entry")
	}
	if _, err := ParseTable([]byte(`{"default": {"high": 3000, "flood": 2000}}`)); err == nil {
		t.Fatalf("expected error for inverted thresholds")
	}
}
