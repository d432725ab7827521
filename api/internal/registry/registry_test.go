package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"riverpulse/api/internal/models"
	"riverpulse/api/internal/repos"
	"riverpulse/shared/logx"
	"riverpulse/shared/workflow"
)

type fakeStore struct {
	devices map[string]models.Device
	upserts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{devices: make(map[string]models.Device)}
}

func (f *fakeStore) Insert(_ context.Context, deviceID string, name string, location string, config []byte) (models.Device, error) {
	if _, ok := f.devices[deviceID]; ok {
		return models.Device{}, repos.ErrDeviceExists
	}
	d := models.Device{
		DeviceID:     deviceID,
		Name:         name,
		Location:     location,
		Status:       workflow.DeviceStatusRegistered,
		Config:       config,
		RegisteredAt: time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	f.devices[deviceID] = d
	return d, nil
}

func (f *fakeStore) Get(_ context.Context, deviceID string) (models.Device, error) {
	d, ok := f.devices[deviceID]
	if !ok {
		return models.Device{}, repos.ErrDeviceNotFound
	}
	return d, nil
}

func (f *fakeStore) ApplyHeartbeat(_ context.Context, deviceID string, at time.Time, upd repos.HeartbeatUpdate) (models.Device, error) {
	d, ok := f.devices[deviceID]
	if !ok {
		return models.Device{}, repos.ErrDeviceNotFound
	}
	d = mergeHeartbeat(d, at, upd)
	f.devices[deviceID] = d
	return d, nil
}

func (f *fakeStore) UpsertOnHeartbeat(_ context.Context, deviceID string, at time.Time, upd repos.HeartbeatUpdate) (models.Device, error) {
	f.upserts++
	d, ok := f.devices[deviceID]
	if !ok {
		d = models.Device{DeviceID: deviceID, RegisteredAt: at}
	}
	d = mergeHeartbeat(d, at, upd)
	f.devices[deviceID] = d
	return d, nil
}

func mergeHeartbeat(d models.Device, at time.Time, upd repos.HeartbeatUpdate) models.Device {
	d.Status = workflow.DeviceStatusOnline
	d.LastHeartbeat = &at
	d.UpdatedAt = at
	if upd.Battery != nil {
		d.Battery = upd.Battery
	}
	if upd.Firmware != nil {
		d.Firmware = upd.Firmware
	}
	if upd.Connectivity != nil {
		d.Connectivity = upd.Connectivity
	}
	return d
}

func testLogger() logx.Logger {
	return logx.New("registry-test", "test", "", "error")
}

func TestRegisterConflict(t *testing.T) {
	store := newFakeStore()
	reg := New(store, nil, testLogger(), true)
	ctx := context.Background()

	if _, err := reg.Register(ctx, "gauge-001", "Upper Fork", "river-mile-12", nil); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	_, err := reg.Register(ctx, "gauge-001", "Upper Fork", "river-mile-12", nil)
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestHeartbeatUnknownDeviceWithoutAutoRegister(t *testing.T) {
	store := newFakeStore()
	reg := New(store, nil, testLogger(), false)

	_, err := reg.Heartbeat(context.Background(), "gauge-404", time.Now(), map[string]any{"battery": 80.0})
	if !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("expected ErrUnknownDevice, got %v", err)
	}
	if store.upserts != 0 {
		t.Fatalf("expected no auto-register upsert, got %d", store.upserts)
	}
}

func TestHeartbeatAutoRegistersOnline(t *testing.T) {
	store := newFakeStore()
	reg := New(store, nil, testLogger(), true)

	d, err := reg.Heartbeat(context.Background(), "gauge-007", time.Now(), map[string]any{"battery": 63.5})
	if err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}
	if store.upserts != 1 {
		t.Fatalf("expected one auto-register upsert, got %d", store.upserts)
	}
	if d.Status != workflow.DeviceStatusOnline {
		t.Fatalf("expected status online, got %q", d.Status)
	}
	if d.Battery == nil || *d.Battery != 63.5 {
		t.Fatalf("expected battery 63.5, got %v", d.Battery)
	}
}

func TestHeartbeatIgnoresFieldsOutsideAllowList(t *testing.T) {
	upd := heartbeatUpdate(map[string]any{
		"battery":      91.0,
		"firmware":     "2.4.1",
		"connectivity": "lte",
		"status":       "offline",
		"role":         "admin",
		"location":     "tampered",
	})
	if upd.Battery == nil || *upd.Battery != 91.0 {
		t.Fatalf("expected battery 91.0, got %v", upd.Battery)
	}
	if upd.Firmware == nil || *upd.Firmware != "2.4.1" {
		t.Fatalf("expected firmware 2.4.1, got %v", upd.Firmware)
	}
	if upd.Connectivity == nil || *upd.Connectivity != "lte" {
		t.Fatalf("expected connectivity lte, got %v", upd.Connectivity)
	}
}
