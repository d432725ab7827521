package flood

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"riverpulse/shared/events"
)

// PGStore writes alerts to the same table the API serves them from.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Insert(ctx context.Context, alert events.Alert) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alerts (alert_id, gauge_id, severity, cfs, threshold, exceedance, message, reading_ts, evaluated_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
	`, uuid.New(), alert.GaugeID, alert.Severity, alert.CFS, alert.Threshold, alert.Exceedance, alert.Message,
		parseOrNow(alert.ReadingTimestamp), parseOrNow(alert.EvaluatedAt))
	return err
}

func parseOrNow(raw string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}
