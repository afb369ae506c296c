package api

import (
	"net/http"
	"time"

	"can-bus-simulator/internal/models"
	"can-bus-simulator/internal/sniffer"
)

type addFilterRequest struct {
	Kind    sniffer.RuleKind `json:"kind"`
	Subject string           `json:"subject"`
	Include *bool            `json:"include"`
}

type modeRequest struct {
	IncludeMode *bool `json:"include_mode"`
}

// handleListFilters returns the filter mode and rules
// GET /api/filters
func (s *Server) handleListFilters(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]any{
		"include_mode": s.deps.Filter.IncludeMode(),
		"rules":        s.deps.Filter.Rules(),
	})
}

// handleAddFilter adds an id or payload rule
// POST /api/filters
func (s *Server) handleAddFilter(w http.ResponseWriter, r *http.Request) {
	var req addFilterRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Subject == "" {
		respondWithError(w, http.StatusBadRequest, "subject is required")
		return
	}
	include := true
	if req.Include != nil {
		include = *req.Include
	}

	switch req.Kind {
	case sniffer.RuleID:
		s.deps.Filter.AddIDRule(req.Subject, include)
	case sniffer.RulePayload:
		if err := s.deps.Filter.AddPayloadRule(req.Subject, include); err != nil {
			respondWithDomainError(w, err)
			return
		}
	default:
		respondWithError(w, http.StatusBadRequest, "kind must be \"id\" or \"payload\"")
		return
	}

	respondWithJSON(w, http.StatusCreated, sniffer.Rule{Kind: req.Kind, Subject: req.Subject, Include: include})
}

// handleClearFilters removes every rule
// DELETE /api/filters
func (s *Server) handleClearFilters(w http.ResponseWriter, r *http.Request) {
	s.deps.Filter.ClearRules()
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleSetMode switches between include and exclude mode
// PUT /api/filters/mode
func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.IncludeMode == nil {
		respondWithError(w, http.StatusBadRequest, "include_mode is required")
		return
	}

	s.deps.Filter.SetMode(*req.IncludeMode)
	respondWithJSON(w, http.StatusOK, map[string]bool{"include_mode": *req.IncludeMode})
}

// handleRecentFrames returns the global history, oldest first
// GET /api/frames/recent
func (s *Server) handleRecentFrames(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, s.deps.Filter.Recent())
}

// handleFrameHistory returns the history of one id
// GET /api/frames/{id}
func (s *Server) handleFrameHistory(w http.ResponseWriter, r *http.Request) {
	history := s.deps.Filter.History(r.PathValue("id"))
	if history == nil {
		history = []models.Frame{}
	}
	respondWithJSON(w, http.StatusOK, history)
}

// handleFrequency measures the rate of one id, or of all ids
// GET /api/analysis/frequency?id=0x1A2&window=10
func (s *Server) handleFrequency(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r, 10*time.Second)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, s.deps.Filter.AnalyzeFrequency(r.URL.Query().Get("id"), window))
}

// handleCorrelated lists ids that tend to appear near the target id
// GET /api/analysis/correlated?id=0x1A2&window=0.5
func (s *Server) handleCorrelated(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "id is required")
		return
	}
	window, err := parseWindow(r, 500*time.Millisecond)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"id":         id,
		"window":     window.Seconds(),
		"correlated": s.deps.Filter.FindCorrelated(id, window),
	})
}

// handleStats returns a live statistics snapshot
// GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stats == nil {
		respondWithJSON(w, http.StatusOK, s.deps.Filter.Stats())
		return
	}
	respondWithJSON(w, http.StatusOK, s.deps.Stats.Collect())
}
