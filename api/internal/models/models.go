package models

import (
	"time"

	"github.com/google/uuid"
)

type Device struct {
	DeviceID       string
	Name           string
	Location       string
	Status         string
	Battery        *float64
	Firmware       *string
	CPUTemp        *float64
	StorageUsedPct *float64
	SignalStrength *float64
	Connectivity   *string
	UptimeSec      *int64
	Config         []byte
	LastHeartbeat  *time.Time
	RegisteredAt   time.Time
	UpdatedAt      time.Time
}

type Event struct {
	EventID    uuid.UUID
	DeviceID   string
	EventType  string
	Source     string
	Timestamp  time.Time
	ReceivedAt time.Time
	Payload    []byte
}

type Alert struct {
	AlertID          uuid.UUID
	GaugeID          string
	Severity         string
	CFS              float64
	Threshold        float64
	Exceedance       float64
	Message          string
	ReadingTimestamp time.Time
	EvaluatedAt      time.Time
	CreatedAt        time.Time
}

type Command struct {
	CommandID uuid.UUID
	DeviceID  string
	Name      string
	Params    []byte
	Status    string
	IssuedAt  time.Time
}

type FleetSummary struct {
	Total       int
	Online      int
	Offline     int
	Registered  int
	AvgBattery  *float64
	LastUpdated time.Time
}
