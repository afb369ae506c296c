// Package calibration discovers which frame corresponds to a physical vehicle
// action: it records a baseline of normal traffic, observes a short window
// while the action happens and ranks the frames that changed.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"can-bus-simulator/internal/logging"
	"can-bus-simulator/internal/metrics"
	"can-bus-simulator/internal/models"
)

var (
	// ErrNoEvent is returned by Confirm when no session names an event
	ErrNoEvent = errors.New("no calibration event to confirm")
	// ErrNotActive is returned by Stop when no session is running
	ErrNotActive = errors.New("calibration not active")
	// ErrBusy is returned by Start while another baseline is being collected
	ErrBusy = errors.New("calibration baseline already in progress")
	// ErrCancelled is returned by Start when the baseline is interrupted
	ErrCancelled = errors.New("calibration cancelled")
	// ErrEmptyName is returned by Start for a blank event name
	ErrEmptyName = errors.New("event name is required")
)

// Sampler pulls one frame through the generator and the stream filter
type Sampler interface {
	Sample() (models.AnnotatedFrame, bool)
}

// EventSink receives confirmed event mappings
type EventSink interface {
	AddEvent(name, id, onPayload, offPayload string) models.EventDefinition
}

// State of the calibration session
type State string

const (
	StateIdle     State = "idle"
	StateBaseline State = "baseline"
	StateActive   State = "active"
)

// Options configures the session timing
type Options struct {
	BaselineDuration time.Duration
	PollInterval     time.Duration
	Window           time.Duration
	MaxCandidates    int
	Now              func() time.Time
	Logger           *slog.Logger
	Metrics          *metrics.Metrics
}

// DefaultOptions returns the standard calibration timing
func DefaultOptions() Options {
	return Options{
		BaselineDuration: 2 * time.Second,
		PollInterval:     10 * time.Millisecond,
		Window:           5 * time.Second,
		MaxCandidates:    10,
	}
}

// Session is a point-in-time view of the engine
type Session struct {
	ID            string             `json:"id,omitempty"`
	State         State              `json:"state"`
	Active        bool               `json:"active"`
	EventName     string             `json:"event_name,omitempty"`
	LastEvent     string             `json:"last_event,omitempty"`
	WindowStart   float64            `json:"window_start,omitempty"`
	WindowSeconds float64            `json:"window_seconds"`
	BaselineIDs   int                `json:"baseline_ids"`
	Captured      int                `json:"captured"`
	Results       []models.Candidate `json:"results,omitempty"`
}

// Engine runs one calibration session at a time. Safe for concurrent use.
type Engine struct {
	sampler Sampler
	sink    EventSink
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu          sync.Mutex
	state       State
	sessionID   string
	eventName   string
	lastEvent   string
	windowStart time.Time
	baseline    Baseline
	captured    []models.Frame
	results     []models.Candidate
	cancel      context.CancelFunc
}

// NewEngine creates a new calibration engine
func NewEngine(sampler Sampler, sink EventSink, opts Options) *Engine {
	defaults := DefaultOptions()
	if opts.BaselineDuration <= 0 {
		opts.BaselineDuration = defaults.BaselineDuration
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.Window <= 0 {
		opts.Window = defaults.Window
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = defaults.MaxCandidates
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Engine{
		sampler:  sampler,
		sink:     sink,
		opts:     opts,
		logger:   logging.OrDefault(opts.Logger).With(logging.Component("calibration")),
		metrics:  opts.Metrics,
		state:    StateIdle,
		baseline: make(Baseline),
	}
}

// Start opens a session for eventName and blocks while the baseline is
// collected. The observation window is timed from the moment Start is called.
// A running session is discarded.
func (e *Engine) Start(ctx context.Context, eventName string) error {
	if eventName == "" {
		return ErrEmptyName
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	if e.state == StateBaseline {
		e.mu.Unlock()
		return ErrBusy
	}
	if e.state == StateActive {
		e.logger.Warn("Discarding running calibration", logging.Event(e.eventName))
	}
	id := uuid.NewString()
	e.state = StateBaseline
	e.sessionID = id
	e.eventName = eventName
	e.lastEvent = ""
	e.windowStart = e.opts.Now()
	e.baseline = make(Baseline)
	e.captured = nil
	e.results = nil
	e.cancel = cancel
	e.mu.Unlock()

	e.metrics.CalibrationStarted()
	e.logger.Info("Started calibration", logging.Event(eventName), slog.String("session", id))

	baseline, err := e.collectBaseline(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sessionID != id || e.state != StateBaseline {
		return ErrCancelled
	}
	e.cancel = nil
	if err != nil {
		e.state = StateIdle
		e.lastEvent = e.eventName
		e.eventName = ""
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	e.baseline = baseline
	e.state = StateActive

	e.logger.Info("Collected baseline data", logging.Event(eventName), logging.Count(len(baseline)))
	return nil
}

func (e *Engine) collectBaseline(ctx context.Context) (Baseline, error) {
	baseline := make(Baseline)
	deadline := e.opts.Now().Add(e.opts.BaselineDuration)

	for e.opts.Now().Before(deadline) {
		if frame, ok := e.sampler.Sample(); ok {
			baseline.Add(frame.ID, frame.Payload)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.opts.PollInterval):
		}
	}

	return baseline, nil
}

// Record captures frame if a session is observing. Once the window has
// elapsed the session stops itself and the frame is dropped.
func (e *Engine) Record(frame models.Frame) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateActive {
		return false
	}

	if e.opts.Now().Sub(e.windowStart) > e.opts.Window {
		e.stopLocked("window elapsed")
		return false
	}

	e.captured = append(e.captured, frame.Clone())
	return true
}

// Stop ends the session and returns the ranked candidates
func (e *Engine) Stop() ([]models.Candidate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateIdle:
		e.logger.Warn("Calibration not active")
		return nil, ErrNotActive
	case StateBaseline:
		if e.cancel != nil {
			e.cancel()
			e.cancel = nil
		}
		e.state = StateIdle
		e.lastEvent = e.eventName
		e.eventName = ""
		e.results = []models.Candidate{}
		e.logger.Info("Calibration cancelled during baseline", logging.Event(e.lastEvent))
		return e.results, nil
	}

	return e.stopLocked("stopped"), nil
}

func (e *Engine) stopLocked(reason string) []models.Candidate {
	e.state = StateIdle
	e.results = Analyze(
		e.baseline,
		e.captured,
		models.Timestamp(e.windowStart),
		e.opts.Window.Seconds(),
		e.opts.MaxCandidates,
	)
	e.lastEvent = e.eventName
	e.eventName = ""
	e.captured = nil

	e.metrics.CalibrationFinished(len(e.results))
	e.logger.Info("Calibration stopped",
		logging.Event(e.lastEvent),
		slog.String("reason", reason),
		logging.Count(len(e.results)))

	return e.results
}

// Confirm maps the event of the current or last session to id and payload
func (e *Engine) Confirm(id, payload string) (models.EventDefinition, error) {
	e.mu.Lock()
	name := e.eventName
	if name == "" {
		name = e.lastEvent
	}
	e.mu.Unlock()

	if name == "" {
		e.logger.Warn("No calibration to confirm")
		return models.EventDefinition{}, ErrNoEvent
	}

	def := e.sink.AddEvent(name, id, payload, "")
	e.logger.Info("Confirmed calibration",
		logging.Event(name),
		logging.FrameID(id),
		logging.Payload(payload))

	return def, nil
}

// IsActive reports whether a session is observing frames
func (e *Engine) IsActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateActive
}

// Results returns the candidates of the last finished session
func (e *Engine) Results() []models.Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.Candidate, len(e.results))
	copy(out, e.results)
	return out
}

// Session returns a snapshot of the engine state
func (e *Engine) Session() Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Session{
		ID:            e.sessionID,
		State:         e.state,
		Active:        e.state == StateActive,
		EventName:     e.eventName,
		LastEvent:     e.lastEvent,
		WindowSeconds: e.opts.Window.Seconds(),
		BaselineIDs:   len(e.baseline),
		Captured:      len(e.captured),
		Results:       append([]models.Candidate(nil), e.results...),
	}
	if !e.windowStart.IsZero() {
		s.WindowStart = models.Timestamp(e.windowStart)
	}
	return s
}

// Baseline returns the payloads recorded for every baseline id, sorted
func (e *Engine) Baseline() map[string][]string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string][]string, len(e.baseline))
	for id := range e.baseline {
		out[id] = e.baseline.Payloads(id)
	}
	return out
}
