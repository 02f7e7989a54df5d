package target

import (
	"context"
	"path/filepath"
	"testing"

	"spotalert_backend/internal/geo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "targets.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Record{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestGORMSource_UpsertAndFetch(t *testing.T) {
	db := newTestDB(t)
	src := NewGORMSource(db)
	ctx := context.Background()

	require.NoError(t, src.Upsert(ctx, seattleTargets()))

	got, err := src.FetchActiveTargets(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "needle", got[0].ID, "ordered by id")
	assert.Equal(t, "pike", got[1].ID)
	assert.InDelta(t, 47.6097, got[1].Coordinate.Lat, 1e-6)

	renamed := []Target{{ID: "pike", Name: "Pike Place", Coordinate: geo.Coordinate{Lat: 47.6097, Lon: -122.3422}, Category: strPtr("market")}}
	require.NoError(t, src.Upsert(ctx, renamed))
	got, err = src.FetchActiveTargets(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Pike Place", got[1].Name)
	assert.Equal(t, "market", got[1].CategoryOrEmpty())
}

func TestGORMSource_DeactivateHidesTarget(t *testing.T) {
	db := newTestDB(t)
	src := NewGORMSource(db)
	ctx := context.Background()
	require.NoError(t, src.Upsert(ctx, seattleTargets()))

	require.NoError(t, src.Deactivate(ctx, "needle"))

	got, err := src.FetchActiveTargets(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pike", got[0].ID)
}
