package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"can-bus-simulator/internal/calibration"
	"can-bus-simulator/internal/database"
	"can-bus-simulator/internal/labels"
	"can-bus-simulator/internal/logging"
	"can-bus-simulator/internal/metrics"
	"can-bus-simulator/internal/models"
	"can-bus-simulator/internal/playback"
	"can-bus-simulator/internal/simulator"
	"can-bus-simulator/internal/sniffer"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// StatsSource produces a live statistics snapshot
type StatsSource interface {
	Collect() models.BusStats
}

// Deps are the components the API exposes. Optional ones may be nil and
// their endpoints answer 503.
type Deps struct {
	Generator   *simulator.Generator
	Filter      *sniffer.Filter
	Calibration *calibration.Engine
	Playback    *playback.Engine

	Labels   *labels.Manager
	Archive  database.Archive
	Exporter Exporter
	Stream   FrameSource
	Stats    StatsSource
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics
}

// Server represents the HTTP API server
type Server struct {
	server  *http.Server
	deps    Deps
	hub     *StreamHub
	logger  *slog.Logger
	handler http.Handler
}

// ServerConfig holds API server configuration
type ServerConfig struct {
	Port int
}

// NewServer creates a new API server instance
func NewServer(config ServerConfig, deps Deps, logger *slog.Logger) *Server {
	logger = logging.OrDefault(logger).With(logging.Component("api"))

	server := &Server{
		deps:   deps,
		logger: logger,
	}
	if deps.Stream != nil {
		server.hub = NewStreamHub(deps.Stream, logger, deps.Metrics)
	}

	mux := http.NewServeMux()
	server.setupRoutes(mux)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	server.handler = loggingMiddleware(logger, c.Handler(mux))

	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      server.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)

	gatherer := s.deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if s.hub != nil {
		mux.Handle("GET /ws/frames", s.hub)
	}

	// Generator
	mux.HandleFunc("GET /api/events", s.handleListEvents)
	mux.HandleFunc("POST /api/events", s.handleAddEvent)
	mux.HandleFunc("POST /api/events/{name}/activate", s.handleActivate)
	mux.HandleFunc("POST /api/events/{name}/deactivate", s.handleDeactivate)
	mux.HandleFunc("POST /api/inject", s.handleInject)

	// Filter and analysis
	mux.HandleFunc("GET /api/filters", s.handleListFilters)
	mux.HandleFunc("POST /api/filters", s.handleAddFilter)
	mux.HandleFunc("DELETE /api/filters", s.handleClearFilters)
	mux.HandleFunc("PUT /api/filters/mode", s.handleSetMode)
	mux.HandleFunc("GET /api/frames/recent", s.handleRecentFrames)
	mux.HandleFunc("GET /api/frames/{id}", s.handleFrameHistory)
	mux.HandleFunc("GET /api/analysis/frequency", s.handleFrequency)
	mux.HandleFunc("GET /api/analysis/correlated", s.handleCorrelated)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	// Calibration
	mux.HandleFunc("GET /api/calibration", s.handleCalibrationStatus)
	mux.HandleFunc("POST /api/calibration/start", s.handleCalibrationStart)
	mux.HandleFunc("POST /api/calibration/stop", s.handleCalibrationStop)
	mux.HandleFunc("POST /api/calibration/record", s.handleCalibrationRecord)
	mux.HandleFunc("POST /api/calibration/confirm", s.handleCalibrationConfirm)

	// Playback
	mux.HandleFunc("GET /api/playback/sequences", s.handleListSequences)
	mux.HandleFunc("POST /api/playback/sequences", s.handleCreateSequence)
	mux.HandleFunc("GET /api/playback/sequences/{name}", s.handleSequenceInfo)
	mux.HandleFunc("DELETE /api/playback/sequences/{name}", s.handleDeleteSequence)
	mux.HandleFunc("GET /api/playback/sequences/{name}/export", s.handleExportSequence)
	mux.HandleFunc("POST /api/playback/import", s.handleImportSequence)
	mux.HandleFunc("GET /api/playback", s.handlePlaybackStatus)
	mux.HandleFunc("POST /api/playback/start", s.handlePlaybackStart)
	mux.HandleFunc("POST /api/playback/stop", s.handlePlaybackStop)
	mux.HandleFunc("POST /api/playback/send", s.handlePlaybackSend)

	// Labels and vehicles
	mux.HandleFunc("GET /api/labels", s.withLabels(s.handleListLabels))
	mux.HandleFunc("POST /api/labels", s.withLabels(s.handleCreateLabel))
	mux.HandleFunc("GET /api/labels/export", s.withLabels(s.handleExportLabels))
	mux.HandleFunc("POST /api/labels/import", s.withLabels(s.handleImportLabels))
	mux.HandleFunc("GET /api/labels/{id}", s.withLabels(s.handleGetLabel))
	mux.HandleFunc("PUT /api/labels/{id}", s.withLabels(s.handleUpdateLabel))
	mux.HandleFunc("DELETE /api/labels/{id}", s.withLabels(s.handleDeleteLabel))
	mux.HandleFunc("GET /api/vehicles", s.withLabels(s.handleListVehicles))
	mux.HandleFunc("POST /api/vehicles", s.withLabels(s.handleCreateVehicle))

	// Archive
	mux.HandleFunc("GET /api/archive/frames", s.withArchive(s.handleArchiveFrames))
	mux.HandleFunc("GET /api/archive/count", s.withArchive(s.handleArchiveCount))
	mux.HandleFunc("GET /api/archive/ids", s.withArchive(s.handleArchiveIDs))
	mux.HandleFunc("POST /api/archive/export", s.handleArchiveExport)
}

// handleRoot returns API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":    "CAN Bus Simulator API",
		"version": "1.0.0",
		"endpoints": map[string]any{
			"health":  "/health",
			"metrics": "/metrics",
			"stream":  "/ws/frames",
			"events": map[string]string{
				"list":       "GET /api/events",
				"add":        "POST /api/events (body: {name, id, on_data, off_data?})",
				"activate":   "POST /api/events/{name}/activate",
				"deactivate": "POST /api/events/{name}/deactivate",
				"inject":     "POST /api/inject (body: {id, data})",
			},
			"filters": map[string]string{
				"list":  "GET /api/filters",
				"add":   "POST /api/filters (body: {kind: id|payload, subject, include})",
				"clear": "DELETE /api/filters",
				"mode":  "PUT /api/filters/mode (body: {include_mode})",
			},
			"analysis": map[string]string{
				"frequency":  "/api/analysis/frequency?id=0x1A2&window=10",
				"correlated": "/api/analysis/correlated?id=0x1A2&window=0.5",
				"stats":      "/api/stats",
			},
			"calibration": map[string]string{
				"status":  "GET /api/calibration",
				"start":   "POST /api/calibration/start (body: {event_name})",
				"stop":    "POST /api/calibration/stop",
				"confirm": "POST /api/calibration/confirm (body: {id, data})",
			},
			"playback": map[string]string{
				"sequences": "GET|POST /api/playback/sequences",
				"info":      "GET /api/playback/sequences/{name}",
				"export":    "GET /api/playback/sequences/{name}/export",
				"import":    "POST /api/playback/import",
				"start":     "POST /api/playback/start (body: {name, loop})",
				"stop":      "POST /api/playback/stop",
				"send":      "POST /api/playback/send (body: {id, data})",
			},
			"labels": map[string]string{
				"list":     "GET /api/labels?search=&make=&model=&year=&region=&vehicle_id=",
				"create":   "POST /api/labels",
				"export":   "GET /api/labels/export?vehicle_id=",
				"import":   "POST /api/labels/import?overwrite=true",
				"vehicles": "GET|POST /api/vehicles",
			},
			"archive": map[string]string{
				"frames": "/api/archive/frames?start_time=2024-01-01T00:00:00Z&end_time=2024-01-02T00:00:00Z&can_id=0x1A2&event=Horn&limit=100&offset=0",
				"count":  "/api/archive/count?start_time=2024-01-01T00:00:00Z",
				"ids":    "/api/archive/ids",
				"export": "POST /api/archive/export (body: {start_time, end_time, format?, compression?})",
			},
		},
	}

	respondWithJSON(w, http.StatusOK, info)
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	services := map[string]string{
		"api":       "up",
		"generator": "running",
		"labels":    "disabled",
		"archive":   "disabled",
	}
	if s.deps.Labels != nil {
		services["labels"] = "connected"
	}
	if s.deps.Archive != nil {
		services["archive"] = "connected"
	}

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now(),
		"services":  services,
	}

	respondWithJSON(w, http.StatusOK, health)
}

// Start starts the API server
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", slog.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the API server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	if s.hub != nil {
		s.hub.Close()
	}
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		logger.Debug("request completed",
			logging.Method(r.Method),
			logging.Path(r.URL.Path),
			logging.Duration(time.Since(start).Milliseconds()))
	})
}
