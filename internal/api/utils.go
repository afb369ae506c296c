package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"can-bus-simulator/internal/calibration"
	"can-bus-simulator/internal/labels"
	"can-bus-simulator/internal/models"
	"can-bus-simulator/internal/playback"
	"can-bus-simulator/internal/simulator"
	"can-bus-simulator/internal/sniffer"
)

const maxBodyBytes = 1 << 20

// parseQueryParams parses archive query parameters from HTTP request
func parseQueryParams(r *http.Request) (models.QueryParams, error) {
	params := models.QueryParams{
		Limit: 100, // default limit
	}

	if startTimeStr := r.URL.Query().Get("start_time"); startTimeStr != "" {
		t, err := time.Parse(time.RFC3339, startTimeStr)
		if err != nil {
			return params, fmt.Errorf("invalid start_time format: %v", err)
		}
		params.StartTime = &t
	}

	if endTimeStr := r.URL.Query().Get("end_time"); endTimeStr != "" {
		t, err := time.Parse(time.RFC3339, endTimeStr)
		if err != nil {
			return params, fmt.Errorf("invalid end_time format: %v", err)
		}
		params.EndTime = &t
	}

	if canID := r.URL.Query().Get("can_id"); canID != "" {
		id, err := models.ParseID(canID)
		if err != nil {
			return params, fmt.Errorf("invalid can_id format: %v", err)
		}
		params.FrameID = models.FormatID(id)
	}

	params.Event = r.URL.Query().Get("event")

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			return params, fmt.Errorf("invalid limit format: %q", limitStr)
		}
		params.Limit = limit
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return params, fmt.Errorf("invalid offset format: %q", offsetStr)
		}
		params.Offset = offset
	}

	return params, nil
}

// parseWindow reads a window in seconds from the query string
func parseWindow(r *http.Request, def time.Duration) (time.Duration, error) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return def, nil
	}

	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds <= 0 {
		return 0, fmt.Errorf("invalid window: %q", raw)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// decodeJSON reads a JSON request body into out
func decodeJSON(r *http.Request, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// validateFrame checks a user-supplied id and payload
func validateFrame(id, payload string) error {
	if _, err := models.ParseID(id); err != nil {
		return err
	}
	if payload == "" {
		return fmt.Errorf("data is required")
	}
	if _, err := models.DecodePayload(payload); err != nil {
		return err
	}
	return nil
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, simulator.ErrUnknownEvent),
		errors.Is(err, playback.ErrSequenceNotFound),
		errors.Is(err, labels.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sniffer.ErrInvalidPattern),
		errors.Is(err, playback.ErrInvalidSequence),
		errors.Is(err, labels.ErrInvalid),
		errors.Is(err, calibration.ErrEmptyName):
		return http.StatusBadRequest
	case errors.Is(err, simulator.ErrEventNotActive),
		errors.Is(err, playback.ErrNotPlaying),
		errors.Is(err, calibration.ErrNotActive),
		errors.Is(err, calibration.ErrNoEvent),
		errors.Is(err, calibration.ErrBusy),
		errors.Is(err, calibration.ErrCancelled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondWithDomainError sends err with the status its kind maps to
func respondWithDomainError(w http.ResponseWriter, err error) {
	respondWithError(w, statusFor(err), err.Error())
}

// respondWithError sends an error response
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Failed to marshal response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
