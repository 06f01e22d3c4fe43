package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kptv-player/work/types"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "player.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDeviceIDRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.DeviceID(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, db.SaveDeviceID(ctx, "dev-1"))
	require.NoError(t, db.SaveDeviceID(ctx, "dev-2"))

	id, err = db.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dev-2", id)
}

func TestCatalogSnapshotReplacedWholesale(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first := []*types.ContentEntry{
		{ID: "a", DisplayName: "A", Type: types.ContentLiveChannel, RawAttributes: map[string]string{"tvg-id": "a"}, ResolvedPlayURL: "http://a", Playable: true, Duration: -1},
		{ID: "b", DisplayName: "B", Type: types.ContentSeriesContainer, RawAttributes: map[string]string{}, Duration: -1},
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.SaveCatalog(ctx, first, now))

	loaded, at, err := db.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.True(t, now.Equal(at))
	assert.Equal(t, first, loaded)

	second := []*types.ContentEntry{
		{ID: "c", DisplayName: "C", Type: types.ContentMovie, RawAttributes: map[string]string{"url": "http://c"}, ResolvedPlayURL: "http://c", Playable: true, Duration: 90},
	}
	require.NoError(t, db.SaveCatalog(ctx, second, now.Add(time.Hour)))

	loaded, _, err = db.LoadCatalog(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "c", loaded[0].ID)
	assert.Equal(t, types.ContentMovie, loaded[0].Type)
}

func TestLoadCatalogEmpty(t *testing.T) {
	db := openTestDB(t)

	entries, at, err := db.LoadCatalog(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.True(t, at.IsZero())
}

func TestMigrationsAreIdempotent(t *testing.T) {
	p := filepath.Join(t.TempDir(), "player.db")
	db, err := Open(p)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(p)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n))
	assert.Equal(t, 1, n)
}
