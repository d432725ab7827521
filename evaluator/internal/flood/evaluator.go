package flood

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"riverpulse/shared/events"
)

const (
	SeverityHigh  = "HIGH"
	SeverityFlood = "FLOOD"
)

// Reading is one gauge flow report.
type Reading struct {
	GaugeID   string   `json:"gaugeId"`
	CFS       *float64 `json:"cfs"`
	Timestamp string   `json:"timestamp"`
}

// ParseReading decodes a reading off the backbone. Readings without a
// gauge ID are still evaluated against the default thresholds.
func ParseReading(raw []byte) (Reading, error) {
	var r Reading
	if err := json.Unmarshal(raw, &r); err != nil {
		return Reading{}, fmt.Errorf("parse reading: %w", err)
	}
	if r.GaugeID == "" {
		r.GaugeID = events.TypeUnknown
	}
	return r, nil
}

// Evaluate classifies a reading against its gauge's thresholds. The
// second return is false when the flow is in the normal range or the
// reading carries no flow value.
func (t Table) Evaluate(r Reading, now time.Time) (events.Alert, bool) {
	if r.CFS == nil {
		return events.Alert{}, false
	}
	cfs := *r.CFS
	th := t.Lookup(r.GaugeID)

	var severity string
	var threshold float64
	switch {
	case cfs >= th.Flood:
		severity = SeverityFlood
		threshold = th.Flood
	case cfs >= th.High:
		severity = SeverityHigh
		threshold = th.High
	default:
		return events.Alert{}, false
	}

	return events.Alert{
		Type:             "flow_alert",
		Severity:         severity,
		GaugeID:          r.GaugeID,
		CFS:              cfs,
		Threshold:        threshold,
		Exceedance:       round1(cfs - threshold),
		ReadingTimestamp: r.Timestamp,
		EvaluatedAt:      now.UTC().Format(time.RFC3339Nano),
		Message:          fmt.Sprintf("%s flow alert: %s at %g cfs (threshold: %g cfs)", severity, r.GaugeID, cfs, threshold),
	}, true
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
