package api

import (
	"net/http"
	"strconv"

	"can-bus-simulator/internal/labels"
	"can-bus-simulator/internal/models"
)

// withLabels answers 503 when no label store is configured
func (s *Server) withLabels(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Labels == nil {
			respondWithError(w, http.StatusServiceUnavailable, "label store is not configured")
			return
		}
		next(w, r)
	}
}

// handleListLabels lists labels, filtered by vehicle or search terms
// GET /api/labels?search=horn&make=Toyota&model=&year=&region=&vehicle_id=
func (s *Server) handleListLabels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if vehicleID := q.Get("vehicle_id"); vehicleID != "" {
		result, err := s.deps.Labels.LabelsByVehicle(r.Context(), vehicleID)
		if err != nil {
			respondWithDomainError(w, err)
			return
		}
		respondWithJSON(w, http.StatusOK, result)
		return
	}

	search := models.LabelSearch{
		Term:   q.Get("search"),
		Make:   q.Get("make"),
		Model:  q.Get("model"),
		Year:   q.Get("year"),
		Region: q.Get("region"),
	}
	result, err := s.deps.Labels.Search(r.Context(), search)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// handleCreateLabel stores a label and mirrors it into the event registry
// POST /api/labels
func (s *Server) handleCreateLabel(w http.ResponseWriter, r *http.Request) {
	var label models.Label
	if err := decodeJSON(r, &label); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := s.deps.Labels.CreateLabel(r.Context(), label)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, created)
}

// handleGetLabel returns one label
// GET /api/labels/{id}
func (s *Server) handleGetLabel(w http.ResponseWriter, r *http.Request) {
	label, err := s.deps.Labels.GetLabel(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, label)
}

// handleUpdateLabel merges the non-empty fields of the body into a label
// PUT /api/labels/{id}
func (s *Server) handleUpdateLabel(w http.ResponseWriter, r *http.Request) {
	var update models.Label
	if err := decodeJSON(r, &update); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	label, err := s.deps.Labels.UpdateLabel(r.Context(), r.PathValue("id"), update)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, label)
}

// handleDeleteLabel removes a label
// DELETE /api/labels/{id}
func (s *Server) handleDeleteLabel(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Labels.DeleteLabel(r.Context(), r.PathValue("id")); err != nil {
		respondWithDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExportLabels downloads labels, optionally for one vehicle
// GET /api/labels/export?vehicle_id=
func (s *Server) handleExportLabels(w http.ResponseWriter, r *http.Request) {
	doc, err := s.deps.Labels.Export(r.Context(), r.URL.Query().Get("vehicle_id"))
	if err != nil {
		respondWithDomainError(w, err)
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="labels.json"`)
	respondWithJSON(w, http.StatusOK, doc)
}

// handleImportLabels loads an exported label document
// POST /api/labels/import?overwrite=true
func (s *Server) handleImportLabels(w http.ResponseWriter, r *http.Request) {
	overwrite := false
	if raw := r.URL.Query().Get("overwrite"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid overwrite flag")
			return
		}
		overwrite = v
	}

	var doc labels.ExportDocument
	if err := decodeJSON(r, &doc); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := s.deps.Labels.Import(r.Context(), doc, overwrite)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

// handleListVehicles lists vehicles
// GET /api/vehicles
func (s *Server) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := s.deps.Labels.Vehicles(r.Context())
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, vehicles)
}

// handleCreateVehicle stores a vehicle
// POST /api/vehicles
func (s *Server) handleCreateVehicle(w http.ResponseWriter, r *http.Request) {
	var v models.Vehicle
	if err := decodeJSON(r, &v); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := s.deps.Labels.CreateVehicle(r.Context(), v)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, created)
}
