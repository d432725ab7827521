package repos

import (
	"context"
	"time"

	"github.com/google/uuid"

	"riverpulse/api/internal/models"
)

type AlertsRepo struct {
	db DBTX
}

func NewAlertsRepo(db DBTX) *AlertsRepo {
	return &AlertsRepo{db: db}
}

func (r *AlertsRepo) Insert(ctx context.Context, a models.Alert) (models.Alert, error) {
	if a.AlertID == uuid.Nil {
		a.AlertID = uuid.New()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO alerts (alert_id, gauge_id, severity, cfs, threshold, exceedance, message, reading_ts, evaluated_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		RETURNING created_at
	`, a.AlertID, a.GaugeID, a.Severity, a.CFS, a.Threshold, a.Exceedance, a.Message, a.ReadingTimestamp.UTC(), a.EvaluatedAt.UTC()).
		Scan(&a.CreatedAt)
	return a, err
}

func (r *AlertsRepo) List(ctx context.Context, gaugeID string, severity string, since time.Time, limit int, offset int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT alert_id, gauge_id, severity, cfs, threshold, exceedance, message, reading_ts, evaluated_at, created_at
		FROM alerts
		WHERE ($1::text IS NULL OR gauge_id = $1)
		  AND ($2::text IS NULL OR severity = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`, nullIfEmpty(gaugeID), nullIfEmpty(severity), nullIfZeroTime(since), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		if err := rows.Scan(&a.AlertID, &a.GaugeID, &a.Severity, &a.CFS, &a.Threshold, &a.Exceedance, &a.Message, &a.ReadingTimestamp, &a.EvaluatedAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func nullIfZeroTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
