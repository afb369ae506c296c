package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"can-bus-simulator/internal/database/clickhouse"
	"can-bus-simulator/internal/logging"
)

// Exporter streams archived frames in a file format
type Exporter interface {
	ExportToWriter(ctx context.Context, w io.Writer, opts clickhouse.ExportOptions) error
}

// withArchive answers 503 when no archive is configured
func (s *Server) withArchive(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Archive == nil {
			respondWithError(w, http.StatusServiceUnavailable, "frame archive is not configured")
			return
		}
		next(w, r)
	}
}

// handleArchiveFrames retrieves archived frames with optional filters
// GET /api/archive/frames?start_time=2024-01-01T00:00:00Z&end_time=2024-01-02T00:00:00Z&can_id=0x1A2&event=Horn&limit=100&offset=0
func (s *Server) handleArchiveFrames(w http.ResponseWriter, r *http.Request) {
	params, err := parseQueryParams(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	frames, err := s.deps.Archive.QueryFrames(r.Context(), params)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Query failed: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, frames)
}

// handleArchiveCount returns the number of archived frames
// GET /api/archive/count?start_time=2024-01-01T00:00:00Z&can_id=0x1A2
func (s *Server) handleArchiveCount(w http.ResponseWriter, r *http.Request) {
	params, err := parseQueryParams(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	count, err := s.deps.Archive.CountFrames(r.Context(), params)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Query failed: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]uint64{"count": count})
}

// handleArchiveIDs returns archived traffic grouped by id
// GET /api/archive/ids?start_time=2024-01-01T00:00:00Z
func (s *Server) handleArchiveIDs(w http.ResponseWriter, r *http.Request) {
	params, err := parseQueryParams(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := s.deps.Archive.IDStats(r.Context(), params)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Query failed: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

type exportRequest struct {
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Format      string    `json:"format"`
	Filename    string    `json:"filename"`
	Compression string    `json:"compression"`
}

// handleArchiveExport downloads archived frames as Parquet or CSV
// POST /api/archive/export
func (s *Server) handleArchiveExport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Exporter == nil {
		respondWithError(w, http.StatusServiceUnavailable, "frame archive is not configured")
		return
	}

	var req exportRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.StartTime.IsZero() || req.EndTime.IsZero() || !req.EndTime.After(req.StartTime) {
		respondWithError(w, http.StatusBadRequest, "start_time and end_time must form a valid range")
		return
	}

	opts := clickhouse.ExportOptions{
		Format:      clickhouse.FormatParquet,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Compression: req.Compression,
	}
	contentType, ext := "application/octet-stream", "parquet"
	if req.Format == "csv" {
		opts.Format = clickhouse.FormatCSV
		contentType, ext = "text/csv", "csv"
	}

	filename := req.Filename
	if filename == "" {
		filename = fmt.Sprintf("can_frames_%s.%s", req.StartTime.UTC().Format("20060102_150405"), ext)
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	cw := &countingWriter{w: w}
	if err := s.deps.Exporter.ExportToWriter(r.Context(), cw, opts); err != nil {
		s.logger.Error("archive export failed", logging.Error(err))
		if cw.n == 0 {
			w.Header().Del("Content-Disposition")
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Export failed: %v", err))
		}
	}
}

// countingWriter tracks whether any of the response body was sent
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
