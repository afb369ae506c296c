package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"can-bus-simulator/internal/database/clickhouse"
	"can-bus-simulator/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArchive struct {
	params  models.QueryParams
	frames  []models.ArchivedFrame
	count   uint64
	stats   []models.ArchivedIDStats
	err     error
	exports []clickhouse.ExportOptions
	body    string
}

func (f *fakeArchive) QueryFrames(ctx context.Context, params models.QueryParams) ([]models.ArchivedFrame, error) {
	f.params = params
	return f.frames, f.err
}

func (f *fakeArchive) CountFrames(ctx context.Context, params models.QueryParams) (uint64, error) {
	f.params = params
	return f.count, f.err
}

func (f *fakeArchive) IDStats(ctx context.Context, params models.QueryParams) ([]models.ArchivedIDStats, error) {
	f.params = params
	return f.stats, f.err
}

func (f *fakeArchive) ExportToWriter(ctx context.Context, w io.Writer, opts clickhouse.ExportOptions) error {
	f.exports = append(f.exports, opts)
	if f.err != nil {
		return f.err
	}
	_, err := io.WriteString(w, f.body)
	return err
}

func newArchiveEnv(t *testing.T, archive *fakeArchive) *testEnv {
	return newTestEnv(t, func(d *Deps) {
		d.Archive = archive
		d.Exporter = archive
	})
}

func TestArchiveUnavailable(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/archive/frames", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/archive/export", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestArchiveFrames(t *testing.T) {
	archive := &fakeArchive{
		frames: []models.ArchivedFrame{{ID: "0x1A2", Payload: "AAFFBBCC00000000", Event: "Horn"}},
	}
	env := newArchiveEnv(t, archive)

	rec := env.do(t, http.MethodGet, "/api/archive/frames?start_time=2024-01-01T00:00:00Z&can_id=1a2&event=Horn&limit=5&offset=10", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	frames := decodeBody[[]models.ArchivedFrame](t, rec)
	require.Len(t, frames, 1)

	assert.Equal(t, "0x1A2", archive.params.FrameID)
	assert.Equal(t, "Horn", archive.params.Event)
	assert.Equal(t, 5, archive.params.Limit)
	assert.Equal(t, 10, archive.params.Offset)
	require.NotNil(t, archive.params.StartTime)
	assert.Nil(t, archive.params.EndTime)
}

func TestArchiveBadParams(t *testing.T) {
	env := newArchiveEnv(t, &fakeArchive{})

	for _, query := range []string{"start_time=yesterday", "end_time=2024", "can_id=zz", "limit=-1", "offset=x"} {
		rec := env.do(t, http.MethodGet, "/api/archive/frames?"+query, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestArchiveCountAndIDs(t *testing.T) {
	archive := &fakeArchive{
		count: 42,
		stats: []models.ArchivedIDStats{{ID: "0x100", Count: 40}, {ID: "0x1A2", Count: 2}},
	}
	env := newArchiveEnv(t, archive)

	rec := env.do(t, http.MethodGet, "/api/archive/count", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":42}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/archive/ids", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]models.ArchivedIDStats](t, rec), 2)

	archive.err = errors.New("connection refused")
	rec = env.do(t, http.MethodGet, "/api/archive/count", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestArchiveExport(t *testing.T) {
	archive := &fakeArchive{body: "timestamp,id,data\n"}
	env := newArchiveEnv(t, archive)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := env.do(t, http.MethodPost, "/api/archive/export", map[string]any{
		"start_time": start,
		"end_time":   start.Add(time.Hour),
		"format":     "csv",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "can_frames_20240101_000000.csv")
	assert.Equal(t, "timestamp,id,data\n", rec.Body.String())
	require.Len(t, archive.exports, 1)
	assert.Equal(t, clickhouse.FormatCSV, archive.exports[0].Format)

	rec = env.do(t, http.MethodPost, "/api/archive/export", map[string]any{
		"start_time": start,
		"end_time":   start,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	archive.err = errors.New("timeout")
	rec = env.do(t, http.MethodPost, "/api/archive/export", map[string]any{
		"start_time": start,
		"end_time":   start.Add(time.Hour),
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, clickhouse.FormatParquet, archive.exports[len(archive.exports)-1].Format)
}
