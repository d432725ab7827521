package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"riverpulse/api/internal/models"
)

var ErrEventNotFound = errors.New("event not found")

type EventsRepo struct {
	db DBTX
}

func NewEventsRepo(db DBTX) *EventsRepo {
	return &EventsRepo{db: db}
}

func (r *EventsRepo) Insert(ctx context.Context, deviceID string, eventType string, source string, ts time.Time, receivedAt time.Time, payload []byte) (models.Event, error) {
	var e models.Event
	err := r.db.QueryRow(ctx, `
		INSERT INTO events (event_id, device_id, event_type, source, ts, received_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING event_id, device_id, event_type, source, ts, received_at, payload
	`, uuid.New(), deviceID, eventType, source, ts.UTC(), receivedAt.UTC(), payload).
		Scan(&e.EventID, &e.DeviceID, &e.EventType, &e.Source, &e.Timestamp, &e.ReceivedAt, &e.Payload)
	return e, err
}

func (r *EventsRepo) Get(ctx context.Context, eventID uuid.UUID) (models.Event, error) {
	var e models.Event
	err := r.db.QueryRow(ctx, `
		SELECT event_id, device_id, event_type, source, ts, received_at, payload
		FROM events
		WHERE event_id = $1
	`, eventID).
		Scan(&e.EventID, &e.DeviceID, &e.EventType, &e.Source, &e.Timestamp, &e.ReceivedAt, &e.Payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Event{}, ErrEventNotFound
	}
	return e, err
}

func (r *EventsRepo) List(ctx context.Context, deviceID string, eventType string, limit int, offset int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT event_id, device_id, event_type, source, ts, received_at, payload
		FROM events
		WHERE ($1::text IS NULL OR device_id = $1)
		  AND ($2::text IS NULL OR event_type = $2)
		ORDER BY received_at DESC
		LIMIT $3 OFFSET $4
	`, nullIfEmpty(deviceID), nullIfEmpty(eventType), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.EventID, &e.DeviceID, &e.EventType, &e.Source, &e.Timestamp, &e.ReceivedAt, &e.Payload); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *EventsRepo) CountByType(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT event_type, count(*)
		FROM events
		GROUP BY event_type
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var eventType string
		var n int64
		if err := rows.Scan(&eventType, &n); err != nil {
			return nil, err
		}
		counts[eventType] = n
	}
	return counts, rows.Err()
}
