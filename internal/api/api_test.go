package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dealbot/internal/lifecycle"
	"dealbot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	runs      []models.RunSummary
	state     *lifecycle.State
	err       error
	lastLimit int
}

func (f *fakeReader) RecentRuns(_ context.Context, limit int) ([]models.RunSummary, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit > len(f.runs) {
		limit = len(f.runs)
	}
	return f.runs[:limit], nil
}

func (f *fakeReader) LatestRun(ctx context.Context) (*models.RunSummary, error) {
	runs, err := f.RecentRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, models.ErrNoRuns
	}
	return &runs[0], nil
}

func (f *fakeReader) LoadState(context.Context) (*lifecycle.State, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.state, nil
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestRuns(t *testing.T) {
	reader := &fakeReader{runs: []models.RunSummary{{ID: "c"}, {ID: "b"}, {ID: "a"}}}
	h := New(reader, nil).Router()

	rec := get(t, h, "/runs?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var runs []models.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)

	get(t, h, "/runs")
	assert.Equal(t, defaultLimit, reader.lastLimit)

	get(t, h, "/runs?limit=100000")
	assert.Equal(t, maxLimit, reader.lastLimit)

	rec = get(t, h, "/runs?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRuns_Empty(t *testing.T) {
	h := New(&fakeReader{}, nil).Router()

	rec := get(t, h, "/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = get(t, h, "/runs/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLatestRun(t *testing.T) {
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	h := New(&fakeReader{runs: []models.RunSummary{{ID: "latest", Timestamp: ts, Scanned: 12}}}, nil).Router()

	rec := get(t, h, "/runs/latest")
	require.Equal(t, http.StatusOK, rec.Code)

	var run models.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "latest", run.ID)
	assert.Equal(t, 12, run.Scanned)
	assert.True(t, run.Timestamp.Equal(ts))
}

func TestState(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	state := lifecycle.NewState()
	state.Observe(models.Match{
		Listing:        models.Listing{Marketplace: "reverb", ID: "1", Title: "JX-8P", URL: "https://reverb.com/item/1"},
		ProductID:      "jx8p",
		EffectivePrice: 900,
	}, now)

	h := New(&fakeReader{state: state}, nil).Router()
	rec := get(t, h, "/state")
	require.Equal(t, http.StatusOK, rec.Code)

	decoded, err := lifecycle.Decode(rec.Body.Bytes())
	require.NoError(t, err)
	entry := decoded.Entry("reverb", "jx8p", "1")
	require.NotNil(t, entry)
	assert.InDelta(t, 900, entry.LastEffectivePrice, 0.001)
}

func TestReadErrors(t *testing.T) {
	h := New(&fakeReader{err: errors.New("database is locked")}, nil).Router()

	for _, target := range []string{"/runs", "/runs/latest", "/state"} {
		rec := get(t, h, target)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, target)
		assert.NotContains(t, rec.Body.String(), "database is locked", target)
	}
}

func TestReadOnly(t *testing.T) {
	h := New(&fakeReader{}, nil).Router()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	assert.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)
}
