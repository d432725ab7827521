package repos

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"riverpulse/api/internal/models"
	"riverpulse/shared/workflow"
)

var (
	ErrDeviceExists   = errors.New("device already registered")
	ErrDeviceNotFound = errors.New("device not found")
)

const deviceColumns = `device_id, name, location, status, battery, firmware, cpu_temp, storage_used_pct, signal_strength, connectivity, uptime_sec, config, last_heartbeat, registered_at, updated_at`

type DevicesRepo struct {
	db DBTX
}

func NewDevicesRepo(db DBTX) *DevicesRepo {
	return &DevicesRepo{db: db}
}

// Insert registers a brand-new device. Registering an existing device ID
// is a conflict, not an upsert.
func (r *DevicesRepo) Insert(ctx context.Context, deviceID string, name string, location string, config []byte) (models.Device, error) {
	var d models.Device
	now := time.Now().UTC()
	err := r.db.QueryRow(ctx, `
		INSERT INTO devices (device_id, name, location, status, config, registered_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING `+deviceColumns+`
	`, deviceID, name, location, workflow.DeviceStatusRegistered, config, now).
		Scan(deviceDest(&d)...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.Device{}, ErrDeviceExists
		}
		return models.Device{}, err
	}
	return d, nil
}

func (r *DevicesRepo) Get(ctx context.Context, deviceID string) (models.Device, error) {
	var d models.Device
	err := r.db.QueryRow(ctx, `
		SELECT `+deviceColumns+`
		FROM devices
		WHERE device_id = $1
	`, deviceID).Scan(deviceDest(&d)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Device{}, ErrDeviceNotFound
	}
	return d, err
}

func (r *DevicesRepo) List(ctx context.Context, status string, limit int, offset int) ([]models.Device, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+deviceColumns+`
		FROM devices
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`, nullIfEmpty(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		var d models.Device
		if err := rows.Scan(deviceDest(&d)...); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// HeartbeatUpdate carries only the health fields a heartbeat may touch.
// Nil fields leave the stored value unchanged.
type HeartbeatUpdate struct {
	Battery        *float64
	Firmware       *string
	CPUTemp        *float64
	StorageUsedPct *float64
	SignalStrength *float64
	Connectivity   *string
	UptimeSec      *int64
}

// ApplyHeartbeat merges a heartbeat into a known device and moves it
// online; the transition table decides which stored statuses a
// heartbeat may move from. Returns ErrDeviceNotFound when the device
// does not exist so the caller can decide whether to auto-register.
func (r *DevicesRepo) ApplyHeartbeat(ctx context.Context, deviceID string, at time.Time, upd HeartbeatUpdate) (models.Device, error) {
	eligible := append(workflow.TransitionsInto(workflow.DeviceStatusOnline), workflow.DeviceStatusOnline)
	var d models.Device
	err := r.db.QueryRow(ctx, `
		UPDATE devices SET
			status = $2,
			last_heartbeat = $3,
			updated_at = $3,
			battery = COALESCE($4, battery),
			firmware = COALESCE($5, firmware),
			cpu_temp = COALESCE($6, cpu_temp),
			storage_used_pct = COALESCE($7, storage_used_pct),
			signal_strength = COALESCE($8, signal_strength),
			connectivity = COALESCE($9, connectivity),
			uptime_sec = COALESCE($10, uptime_sec)
		WHERE device_id = $1 AND status = ANY($11)
		RETURNING `+deviceColumns+`
	`, deviceID, workflow.DeviceStatusOnline, at.UTC(),
		upd.Battery, upd.Firmware, upd.CPUTemp, upd.StorageUsedPct, upd.SignalStrength, upd.Connectivity, upd.UptimeSec,
		eligible).
		Scan(deviceDest(&d)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Device{}, ErrDeviceNotFound
	}
	return d, err
}

// UpsertOnHeartbeat is the auto-register path: first heartbeat from an
// unknown device creates it already online.
func (r *DevicesRepo) UpsertOnHeartbeat(ctx context.Context, deviceID string, at time.Time, upd HeartbeatUpdate) (models.Device, error) {
	var d models.Device
	err := r.db.QueryRow(ctx, `
		INSERT INTO devices (device_id, status, last_heartbeat, registered_at, updated_at,
			battery, firmware, cpu_temp, storage_used_pct, signal_strength, connectivity, uptime_sec)
		VALUES ($1, $2, $3, $3, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (device_id) DO UPDATE SET
			status = EXCLUDED.status,
			last_heartbeat = EXCLUDED.last_heartbeat,
			updated_at = EXCLUDED.updated_at,
			battery = COALESCE(EXCLUDED.battery, devices.battery),
			firmware = COALESCE(EXCLUDED.firmware, devices.firmware),
			cpu_temp = COALESCE(EXCLUDED.cpu_temp, devices.cpu_temp),
			storage_used_pct = COALESCE(EXCLUDED.storage_used_pct, devices.storage_used_pct),
			signal_strength = COALESCE(EXCLUDED.signal_strength, devices.signal_strength),
			connectivity = COALESCE(EXCLUDED.connectivity, devices.connectivity),
			uptime_sec = COALESCE(EXCLUDED.uptime_sec, devices.uptime_sec)
		RETURNING `+deviceColumns+`
	`, deviceID, workflow.DeviceStatusOnline, at.UTC(),
		upd.Battery, upd.Firmware, upd.CPUTemp, upd.StorageUsedPct, upd.SignalStrength, upd.Connectivity, upd.UptimeSec).
		Scan(deviceDest(&d)...)
	return d, err
}

// MarkOfflineStale flips devices whose last heartbeat is older than the
// cutoff and returns how many were flipped. Only statuses with a
// transition into offline are eligible, so registered-but-silent
// devices stay registered.
func (r *DevicesRepo) MarkOfflineStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE devices SET
			status = $1,
			updated_at = now()
		WHERE status = ANY($2) AND (last_heartbeat IS NULL OR last_heartbeat < $3)
	`, workflow.DeviceStatusOffline, workflow.TransitionsInto(workflow.DeviceStatusOffline), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *DevicesRepo) FleetSummary(ctx context.Context) (models.FleetSummary, error) {
	var s models.FleetSummary
	err := r.db.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE status = $1),
			count(*) FILTER (WHERE status = $2),
			count(*) FILTER (WHERE status = $3),
			avg(battery),
			coalesce(max(updated_at), now())
		FROM devices
	`, workflow.DeviceStatusOnline, workflow.DeviceStatusOffline, workflow.DeviceStatusRegistered).
		Scan(&s.Total, &s.Online, &s.Offline, &s.Registered, &s.AvgBattery, &s.LastUpdated)
	return s, err
}

func deviceDest(d *models.Device) []any {
	return []any{
		&d.DeviceID, &d.Name, &d.Location, &d.Status,
		&d.Battery, &d.Firmware, &d.CPUTemp, &d.StorageUsedPct,
		&d.SignalStrength, &d.Connectivity, &d.UptimeSec,
		&d.Config, &d.LastHeartbeat, &d.RegisteredAt, &d.UpdatedAt,
	}
}
