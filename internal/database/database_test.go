package database

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"dealbot/internal/lifecycle"
	"dealbot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "data", "dealbot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testMatch(id string, price float64) models.Match {
	return models.Match{
		Listing: models.Listing{
			Marketplace: "reverb",
			ID:          id,
			Title:       "Roland JX-8P " + id,
			URL:         "https://reverb.com/item/" + id,
			Price:       models.Money{Amount: price, Currency: models.CurrencyUSD},
		},
		ProductID:      "jx8p",
		EffectivePrice: price,
	}
}

func TestLoadState_Empty(t *testing.T) {
	db := newTestDB(t)

	state, err := db.LoadState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lifecycle.SchemaVersion, state.Version)
	assert.Empty(t, state.Marketplaces)
}

func TestSaveState_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	state := lifecycle.NewState()
	state.Observe(testMatch("1", 900), now)
	state.Observe(testMatch("2", 1100), now)
	require.NoError(t, db.SaveState(ctx, state, now))

	// A second save replaces the document.
	later := now.Add(time.Hour)
	state.Observe(testMatch("1", 850), later)
	require.NoError(t, db.SaveState(ctx, state, later))

	loaded, err := db.LoadState(ctx)
	require.NoError(t, err)
	assert.True(t, loaded.UpdatedAt.Equal(later))

	entry := loaded.Entry("reverb", "jx8p", "1")
	require.NotNil(t, entry)
	assert.InDelta(t, 850, entry.LastEffectivePrice, 0.001)
	assert.True(t, entry.FirstSeenAt.Equal(now))
	assert.True(t, entry.LastSeenAt.Equal(later))
	assert.NotNil(t, loaded.Entry("reverb", "jx8p", "2"))
}

func TestLoadState_RejectsNewerVersion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.conn.Exec(`INSERT INTO state_document (id, version, data, updated_at) VALUES (1, 9, '{"version": 9}', '')`)
	require.NoError(t, err)

	_, err = db.LoadState(ctx)
	assert.ErrorIs(t, err, models.ErrUnknownStateVersion)
}

func TestRunHistory(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := db.LatestRun(ctx)
	assert.ErrorIs(t, err, models.ErrNoRuns)

	for i := 0; i < 5; i++ {
		require.NoError(t, db.AppendRun(ctx, models.RunSummary{
			ID:        fmt.Sprintf("run-%d", i),
			Timestamp: start.Add(time.Duration(i) * 30 * time.Minute),
			Scanned:   10 + i,
			Matched:   i,
			Errors:    []models.RunError{{Marketplace: "craigslist", ProductID: "jx8p", Message: "timeout"}},
		}))
	}

	n, err := db.CountRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	runs, err := db.RecentRuns(ctx, 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-4", runs[0].ID)
	assert.Equal(t, "run-3", runs[1].ID)
	assert.Equal(t, "run-2", runs[2].ID)
	assert.Equal(t, 14, runs[0].Scanned)
	require.Len(t, runs[0].Errors, 1)
	assert.Equal(t, "timeout", runs[0].Errors[0].Message)

	latest, err := db.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-4", latest.ID)

	none, err := db.RecentRuns(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAppendRun_IDsAreUnique(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.AppendRun(ctx, models.RunSummary{ID: "same"}))
	assert.Error(t, db.AppendRun(ctx, models.RunSummary{ID: "same"}))

	n, err := db.CountRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSaveRun_IsAtomic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, db.AppendRun(ctx, models.RunSummary{ID: "dup", Timestamp: now}))

	state := lifecycle.NewState()
	state.Observe(testMatch("1", 900), now)
	err := db.SaveRun(ctx, state, models.RunSummary{ID: "dup", Timestamp: now})
	require.Error(t, err)

	loaded, err := db.LoadState(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded.Entry("reverb", "jx8p", "1"), "state write rolled back with the history insert")

	require.NoError(t, db.SaveRun(ctx, state, models.RunSummary{ID: "ok", Timestamp: now}))
	loaded, err = db.LoadState(ctx)
	require.NoError(t, err)
	assert.NotNil(t, loaded.Entry("reverb", "jx8p", "1"))
}
