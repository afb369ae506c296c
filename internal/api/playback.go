package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"can-bus-simulator/internal/models"
)

type playRequest struct {
	Name string `json:"name"`
	Loop bool   `json:"loop"`
}

// handleListSequences lists stored sequences
// GET /api/playback/sequences
func (s *Server) handleListSequences(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, s.deps.Playback.List())
}

// handleCreateSequence stores a sequence, replacing one of the same name.
// Steps without a delay get the default delay.
// POST /api/playback/sequences
func (s *Server) handleCreateSequence(w http.ResponseWriter, r *http.Request) {
	s.handleImportSequence(w, r)
}

// handleSequenceInfo summarizes one sequence
// GET /api/playback/sequences/{name}
func (s *Server) handleSequenceInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.deps.Playback.Info(r.PathValue("name"))
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, info)
}

// handleDeleteSequence removes a sequence
// DELETE /api/playback/sequences/{name}
func (s *Server) handleDeleteSequence(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Playback.Delete(r.PathValue("name")); err != nil {
		respondWithDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExportSequence downloads a sequence document
// GET /api/playback/sequences/{name}/export
func (s *Server) handleExportSequence(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	data, err := s.deps.Playback.Export(name)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}

	filename := strings.ReplaceAll(name, " ", "_") + ".json"
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleImportSequence stores a sequence document (JSON, or YAML when the
// content type says so)
// POST /api/playback/import
func (s *Server) handleImportSequence(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	var seq models.Sequence
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		seq, err = s.deps.Playback.ImportYAML(body)
	} else {
		seq, err = s.deps.Playback.Import(body)
	}
	if err != nil {
		respondWithDomainError(w, err)
		return
	}

	info, err := s.deps.Playback.Info(seq.Name)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, info)
}

// handlePlaybackStatus reports the running sequence
// GET /api/playback
func (s *Server) handlePlaybackStatus(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]any{
		"is_playing": s.deps.Playback.IsPlaying(),
		"current":    s.deps.Playback.Current(),
	})
}

// handlePlaybackStart plays a sequence, stopping any running one
// POST /api/playback/start
func (s *Server) handlePlaybackStart(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.deps.Playback.Play(req.Name, req.Loop); err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"status": "playing", "name": req.Name, "loop": req.Loop})
}

// handlePlaybackStop stops the running sequence
// POST /api/playback/stop
func (s *Server) handlePlaybackStop(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Playback.Stop(); err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// handlePlaybackSend injects one message through the playback engine
// POST /api/playback/send
func (s *Server) handlePlaybackSend(w http.ResponseWriter, r *http.Request) {
	var req frameRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateFrame(req.ID, req.Payload); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.deps.Playback.Send(req.ID, req.Payload); err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}
