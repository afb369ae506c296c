package api

import (
	"net/http"

	"can-bus-simulator/internal/models"
)

type eventView struct {
	models.EventDefinition
	Active bool `json:"active"`
}

type addEventRequest struct {
	Name       string `json:"name"`
	ID         string `json:"id"`
	OnPayload  string `json:"on_data"`
	OffPayload string `json:"off_data"`
}

type frameRequest struct {
	ID      string `json:"id"`
	Payload string `json:"data"`
}

// handleListEvents lists registered events with their active flag
// GET /api/events
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	defs := s.deps.Generator.Registry().All()
	events := make([]eventView, 0, len(defs))
	for _, def := range defs {
		events = append(events, eventView{EventDefinition: def, Active: s.deps.Generator.IsActive(def.Name)})
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"active": s.deps.Generator.ActiveEvents(),
	})
}

// handleAddEvent upserts an event definition
// POST /api/events
func (s *Server) handleAddEvent(w http.ResponseWriter, r *http.Request) {
	var req addEventRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		respondWithError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := validateFrame(req.ID, req.OnPayload); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	def := s.deps.Generator.AddEvent(req.Name, req.ID, req.OnPayload, req.OffPayload)
	respondWithJSON(w, http.StatusCreated, def)
}

// handleActivate turns an event on
// POST /api/events/{name}/activate
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.deps.Generator.Activate(name); err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "activated", "event": name})
}

// handleDeactivate turns an event off
// POST /api/events/{name}/deactivate
func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.deps.Generator.Deactivate(name); err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "deactivated", "event": name})
}

// handleInject queues a single frame ahead of everything else
// POST /api/inject
func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	var req frameRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateFrame(req.ID, req.Payload); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.deps.Generator.Inject(req.ID, req.Payload)
	respondWithJSON(w, http.StatusAccepted, map[string]any{
		"status":      "queued",
		"queue_depth": s.deps.Generator.QueueDepth(),
	})
}
