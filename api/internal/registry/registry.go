package registry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"riverpulse/api/internal/models"
	"riverpulse/api/internal/repos"
	"riverpulse/shared/cachex"
	"riverpulse/shared/logx"
)

var (
	ErrAlreadyRegistered = errors.New("device already registered")
	ErrUnknownDevice     = errors.New("unknown device")
)

// Store is the persistence surface the registry needs from the devices
// repo.
type Store interface {
	Insert(ctx context.Context, deviceID string, name string, location string, config []byte) (models.Device, error)
	Get(ctx context.Context, deviceID string) (models.Device, error)
	ApplyHeartbeat(ctx context.Context, deviceID string, at time.Time, upd repos.HeartbeatUpdate) (models.Device, error)
	UpsertOnHeartbeat(ctx context.Context, deviceID string, at time.Time, upd repos.HeartbeatUpdate) (models.Device, error)
}

type Registry struct {
	store        Store
	cache        *cachex.Client
	log          logx.Logger
	autoRegister bool
	cacheTTL     time.Duration
}

func New(store Store, cache *cachex.Client, log logx.Logger, autoRegister bool) *Registry {
	return &Registry{
		store:        store,
		cache:        cache,
		log:          log,
		autoRegister: autoRegister,
		cacheTTL:     10 * time.Minute,
	}
}

func (r *Registry) Register(ctx context.Context, deviceID string, name string, location string, config []byte) (models.Device, error) {
	d, err := r.store.Insert(ctx, deviceID, name, location, config)
	if err != nil {
		if errors.Is(err, repos.ErrDeviceExists) {
			return models.Device{}, ErrAlreadyRegistered
		}
		return models.Device{}, err
	}
	r.cacheDevice(ctx, d)
	return d, nil
}

func (r *Registry) Get(ctx context.Context, deviceID string) (models.Device, error) {
	d, err := r.store.Get(ctx, deviceID)
	if errors.Is(err, repos.ErrDeviceNotFound) {
		return models.Device{}, ErrUnknownDevice
	}
	return d, err
}

// Heartbeat applies a health report and moves the device online. Fields
// outside the allow-list are ignored rather than rejected. When the
// device is unknown, the auto-register policy decides between creating
// it and returning ErrUnknownDevice.
func (r *Registry) Heartbeat(ctx context.Context, deviceID string, at time.Time, payload map[string]any) (models.Device, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	upd := heartbeatUpdate(payload)

	d, err := r.store.ApplyHeartbeat(ctx, deviceID, at, upd)
	if errors.Is(err, repos.ErrDeviceNotFound) {
		if !r.autoRegister {
			return models.Device{}, ErrUnknownDevice
		}
		r.log.Info(ctx, "device_auto_registered", "auto-registering device on first heartbeat",
			slog.String("device_id", deviceID))
		d, err = r.store.UpsertOnHeartbeat(ctx, deviceID, at, upd)
	}
	if err != nil {
		return models.Device{}, err
	}
	r.cacheDevice(ctx, d)
	return d, nil
}

// heartbeatUpdate extracts the allow-listed health fields from a raw
// heartbeat payload.
func heartbeatUpdate(payload map[string]any) repos.HeartbeatUpdate {
	var upd repos.HeartbeatUpdate
	if v, ok := asFloat(payload["battery"]); ok {
		upd.Battery = &v
	}
	if v, ok := payload["firmware"].(string); ok && v != "" {
		upd.Firmware = &v
	}
	if v, ok := asFloat(payload["cpuTemp"]); ok {
		upd.CPUTemp = &v
	}
	if v, ok := asFloat(payload["storageUsedPct"]); ok {
		upd.StorageUsedPct = &v
	}
	if v, ok := asFloat(payload["signalStrength"]); ok {
		upd.SignalStrength = &v
	}
	if v, ok := payload["connectivity"].(string); ok && v != "" {
		upd.Connectivity = &v
	}
	if v, ok := asFloat(payload["uptime"]); ok {
		sec := int64(v)
		upd.UptimeSec = &sec
	}
	return upd
}

func (r *Registry) cacheDevice(ctx context.Context, d models.Device) {
	if r.cache == nil {
		return
	}
	if err := r.cache.SetJSON(ctx, cachex.DeviceKey(d.DeviceID), d, r.cacheTTL); err != nil {
		r.log.Warn(ctx, "device_cache_write_failed", "failed to cache device snapshot",
			slog.String("device_id", d.DeviceID), slog.String("error", err.Error()))
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
