package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"kptv-player/work/types"
)

const ingestedAtKey = "ingested_at"

// SaveCatalog replaces the stored snapshot with entries in a single transaction.
// Readers see either the previous snapshot or the new one, never a mix.
func (db *DB) SaveCatalog(ctx context.Context, entries []*types.ContentEntry, ingestedAt time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM catalog_entries"); err != nil {
		return fmt.Errorf("failed to clear catalog: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO catalog_entries (
			position, id, display_name, logo_url, group_label, content_type,
			raw_attributes, locator, resolved_play_url, playable, duration, channel_number
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		attrs, err := json.Marshal(e.RawAttributes)
		if err != nil {
			return fmt.Errorf("failed to marshal attributes of %s: %w", e.ID, err)
		}
		_, err = stmt.ExecContext(ctx,
			i, e.ID, e.DisplayName, e.LogoURL, e.GroupLabel, e.Type.String(),
			string(attrs), e.Locator, e.ResolvedPlayURL, e.Playable, e.Duration, e.ChannelNumber,
		)
		if err != nil {
			return fmt.Errorf("failed to insert entry %s: %w", e.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO catalog_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, ingestedAtKey, ingestedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to record ingestion time: %w", err)
	}

	return tx.Commit()
}

// LoadCatalog returns the stored snapshot in its original order together with the time
// it was ingested. An empty database yields no entries and a zero time.
func (db *DB) LoadCatalog(ctx context.Context) ([]*types.ContentEntry, time.Time, error) {
	var ingestedAt time.Time
	var raw string
	err := db.QueryRowContext(ctx, "SELECT value FROM catalog_meta WHERE key = ?", ingestedAtKey).Scan(&raw)
	if err == nil {
		ingestedAt, _ = time.Parse(time.RFC3339Nano, raw)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, display_name, logo_url, group_label, content_type, raw_attributes,
		       locator, resolved_play_url, playable, duration, channel_number
		FROM catalog_entries ORDER BY position
	`)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer rows.Close()

	var entries []*types.ContentEntry
	for rows.Next() {
		var (
			e       types.ContentEntry
			typ     string
			attrsJS string
		)
		if err := rows.Scan(&e.ID, &e.DisplayName, &e.LogoURL, &e.GroupLabel, &typ, &attrsJS,
			&e.Locator, &e.ResolvedPlayURL, &e.Playable, &e.Duration, &e.ChannelNumber); err != nil {
			return nil, time.Time{}, fmt.Errorf("failed to scan catalog entry: %w", err)
		}
		e.Type, _ = types.ParseContentType(typ)
		if err := json.Unmarshal([]byte(attrsJS), &e.RawAttributes); err != nil {
			return nil, time.Time{}, fmt.Errorf("failed to unmarshal attributes of %s: %w", e.ID, err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to read catalog: %w", err)
	}

	return entries, ingestedAt, nil
}
