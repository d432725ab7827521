package repos

import (
	"context"
	"time"

	"github.com/google/uuid"

	"riverpulse/api/internal/models"
)

type CommandsRepo struct {
	db DBTX
}

func NewCommandsRepo(db DBTX) *CommandsRepo {
	return &CommandsRepo{db: db}
}

func (r *CommandsRepo) Insert(ctx context.Context, deviceID string, name string, params []byte) (models.Command, error) {
	var c models.Command
	err := r.db.QueryRow(ctx, `
		INSERT INTO commands (command_id, device_id, command, params, status, issued_at)
		VALUES ($1, $2, $3, $4, 'queued', $5)
		RETURNING command_id, device_id, command, params, status, issued_at
	`, uuid.New(), deviceID, name, params, time.Now().UTC()).
		Scan(&c.CommandID, &c.DeviceID, &c.Name, &c.Params, &c.Status, &c.IssuedAt)
	return c, err
}

func (r *CommandsRepo) ListForDevice(ctx context.Context, deviceID string, limit int) ([]models.Command, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT command_id, device_id, command, params, status, issued_at
		FROM commands
		WHERE device_id = $1
		ORDER BY issued_at DESC
		LIMIT $2
	`, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commands []models.Command
	for rows.Next() {
		var c models.Command
		if err := rows.Scan(&c.CommandID, &c.DeviceID, &c.Name, &c.Params, &c.Status, &c.IssuedAt); err != nil {
			return nil, err
		}
		commands = append(commands, c)
	}
	return commands, rows.Err()
}
