package api

import (
	"net/http"
	"time"

	"can-bus-simulator/internal/logging"
	"can-bus-simulator/internal/models"
)

type calibrationStartRequest struct {
	EventName string `json:"event_name"`
}

// handleCalibrationStatus returns the session snapshot
// GET /api/calibration
func (s *Server) handleCalibrationStatus(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, s.deps.Calibration.Session())
}

// handleCalibrationStart collects the baseline and opens the observation
// window. The request returns once the baseline is complete.
// POST /api/calibration/start
func (s *Server) handleCalibrationStart(w http.ResponseWriter, r *http.Request) {
	var req calibrationStartRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.deps.Calibration.Start(r.Context(), req.EventName); err != nil {
		s.logger.Warn("calibration start failed", logging.Event(req.EventName), logging.Error(err))
		respondWithDomainError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, s.deps.Calibration.Session())
}

// handleCalibrationStop closes the session and returns ranked candidates
// POST /api/calibration/stop
func (s *Server) handleCalibrationStop(w http.ResponseWriter, r *http.Request) {
	candidates, err := s.deps.Calibration.Stop()
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	if candidates == nil {
		candidates = []models.Candidate{}
	}

	respondWithJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
}

// handleCalibrationRecord captures a frame supplied by the caller
// POST /api/calibration/record
func (s *Server) handleCalibrationRecord(w http.ResponseWriter, r *http.Request) {
	var req frameRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateFrame(req.ID, req.Payload); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	recorded := s.deps.Calibration.Record(models.Frame{
		ID:        req.ID,
		Payload:   req.Payload,
		Timestamp: models.Timestamp(time.Now()),
	})
	respondWithJSON(w, http.StatusOK, map[string]bool{"recorded": recorded})
}

// handleCalibrationConfirm maps the calibrated event to the chosen frame
// POST /api/calibration/confirm
func (s *Server) handleCalibrationConfirm(w http.ResponseWriter, r *http.Request) {
	var req frameRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateFrame(req.ID, req.Payload); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	def, err := s.deps.Calibration.Confirm(req.ID, req.Payload)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, def)
}
