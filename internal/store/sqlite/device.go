package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/relayforge/devgate/internal/store"
)

func (d *DB) CreateDevice(ctx context.Context, dev *store.Device) error {
	now := time.Now().UTC()
	if dev.CreatedAt.IsZero() {
		dev.CreatedAt = now
	}
	dev.UpdatedAt = now

	_, err := d.q.ExecContext(ctx, `
		INSERT INTO devices (id, user_id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		dev.ID, dev.UserID, dev.Name,
		formatTime(dev.CreatedAt), formatTime(dev.UpdatedAt),
	)
	return mapConstraintError(err)
}

func (d *DB) GetDeviceForUser(ctx context.Context, deviceID, userID string) (*store.Device, error) {
	var dev store.Device
	var createdAt, updatedAt string
	err := d.q.QueryRowContext(ctx, `
		SELECT id, user_id, name, created_at, updated_at
		FROM devices WHERE id = ? AND user_id = ?`, deviceID, userID,
	).Scan(&dev.ID, &dev.UserID, &dev.Name, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	dev.CreatedAt = parseTime(createdAt)
	dev.UpdatedAt = parseTime(updatedAt)
	return &dev, nil
}

func (d *DB) ListDevicesForUser(ctx context.Context, userID string) ([]store.Device, error) {
	rows, err := d.q.QueryContext(ctx, `
		SELECT id, user_id, name, created_at, updated_at
		FROM devices
		WHERE user_id = ?
		ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Device
	for rows.Next() {
		var dev store.Device
		var createdAt, updatedAt string
		if err := rows.Scan(&dev.ID, &dev.UserID, &dev.Name, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		dev.CreatedAt = parseTime(createdAt)
		dev.UpdatedAt = parseTime(updatedAt)
		out = append(out, dev)
	}
	return out, rows.Err()
}

func (d *DB) DeleteDevice(ctx context.Context, deviceID, userID string) error {
	res, err := d.q.ExecContext(ctx,
		`DELETE FROM devices WHERE id = ? AND user_id = ?`, deviceID, userID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (d *DB) TouchDevice(ctx context.Context, deviceID string) error {
	res, err := d.q.ExecContext(ctx,
		`UPDATE devices SET updated_at = ? WHERE id = ?`,
		formatTime(time.Now().UTC()), deviceID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}
