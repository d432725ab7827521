package flood

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

const defaultKey = "default"

// Thresholds are the flow levels, in cubic feet per second, at which a
// gauge's reading becomes a high-water or flood condition.
type Thresholds struct {
	High  float64 `json:"high"`
	Flood float64 `json:"flood"`
}

// Table maps gauge IDs to their thresholds. Every table carries a
// default entry used for gauges without a dedicated row.
type Table struct {
	entries map[string]Thresholds
}

func LoadTable(path string) (Table, error) {
	if strings.TrimSpace(path) == "" {
		return Table{}, errors.New("thresholds path is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read thresholds: %w", err)
	}
	return ParseTable(b)
}

func ParseTable(b []byte) (Table, error) {
	var entries map[string]Thresholds
	if err := json.Unmarshal(b, &entries); err != nil {
		return Table{}, fmt.Errorf("parse thresholds: %w", err)
	}
	if _, ok := entries[defaultKey]; !ok {
		return Table{}, errors.New("thresholds must define a default entry")
	}
	for gauge, th := range entries {
		if th.High <= 0 || th.Flood <= 0 {
			return Table{}, fmt.Errorf("thresholds for %q must be positive", gauge)
		}
		if th.Flood < th.High {
			return Table{}, fmt.Errorf("flood threshold for %q must be >= high threshold", gauge)
		}
	}
	return Table{entries: entries}, nil
}

// Lookup returns the thresholds for a gauge, falling back to the
// default entry.
func (t Table) Lookup(gaugeID string) Thresholds {
	if th, ok := t.entries[gaugeID]; ok {
		return th
	}
	return t.entries[defaultKey]
}
