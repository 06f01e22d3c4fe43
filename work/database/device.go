package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const deviceIDKey = "device_id"

// DeviceID returns the stored device identifier, or "" when none was saved yet.
func (db *DB) DeviceID(ctx context.Context) (string, error) {
	var id string
	err := db.QueryRowContext(ctx, "SELECT value FROM device WHERE key = ?", deviceIDKey).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}
	return id, nil
}

// SaveDeviceID stores or replaces the device identifier.
func (db *DB) SaveDeviceID(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO device (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, deviceIDKey, id)
	if err != nil {
		return fmt.Errorf("failed to save device id: %w", err)
	}
	return nil
}
