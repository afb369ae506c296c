// Package playback replays named frame sequences into the generator's
// injection queue, one sequence at a time.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"can-bus-simulator/internal/logging"
	"can-bus-simulator/internal/metrics"
	"can-bus-simulator/internal/models"
)

var (
	// ErrSequenceNotFound is returned for an unknown sequence name
	ErrSequenceNotFound = errors.New("sequence not found")
	// ErrNotPlaying is returned by Stop when nothing is playing
	ErrNotPlaying = errors.New("no active playback")
	// ErrInvalidSequence is returned for a sequence without name or steps
	ErrInvalidSequence = errors.New("invalid sequence")
)

// DefaultDelay is used for steps that do not declare a delay, in seconds
const DefaultDelay = 0.1

// MaxDelay is the longest step delay in seconds a time.Duration can hold
const MaxDelay = float64(math.MaxInt64) / float64(time.Second)

// loopPause separates passes of a looped sequence whose steps have no delay
const loopPause = time.Duration(DefaultDelay * float64(time.Second))

// Injector queues a frame for emission
type Injector interface {
	Inject(id, payload string)
}

// Options configures an Engine
type Options struct {
	StopTimeout time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Engine stores sequences and plays at most one of them. Safe for concurrent use.
type Engine struct {
	injector Injector
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu        sync.Mutex
	sequences map[string]models.Sequence
	current   string
	stop      chan struct{}
	done      chan struct{}
}

// NewEngine creates a new playback engine injecting into injector
func NewEngine(injector Injector, opts Options) *Engine {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Engine{
		injector:  injector,
		opts:      opts,
		logger:    logging.OrDefault(opts.Logger).With(logging.Component("playback")),
		metrics:   opts.Metrics,
		sequences: make(map[string]models.Sequence),
	}
}

// Send injects a single frame
func (e *Engine) Send(id, payload string) error {
	if id == "" || payload == "" {
		return fmt.Errorf("%w: id and payload are required", ErrInvalidSequence)
	}
	e.injector.Inject(id, payload)
	e.logger.Info("Sent message", logging.FrameID(id), logging.Payload(payload))
	return nil
}

// CreateSequence stores steps under name, replacing any sequence of that name
func (e *Engine) CreateSequence(name string, steps []models.Step) error {
	if name == "" || len(steps) == 0 {
		e.logger.Warn("Invalid sequence parameters", logging.Sequence(name))
		return fmt.Errorf("%w: name and steps are required", ErrInvalidSequence)
	}
	for i, s := range steps {
		if s.ID == "" || s.Payload == "" {
			return fmt.Errorf("%w: step %d needs id and payload", ErrInvalidSequence, i)
		}
		if !validDelay(s.Delay) {
			return fmt.Errorf("%w: step %d has delay %v outside [0, %.0f) seconds", ErrInvalidSequence, i, s.Delay, MaxDelay)
		}
	}

	stored := models.Sequence{Name: name, Steps: make([]models.Step, len(steps))}
	copy(stored.Steps, steps)

	e.mu.Lock()
	e.sequences[name] = stored
	e.mu.Unlock()

	e.logger.Info("Created sequence", logging.Sequence(name), logging.Count(len(steps)))
	return nil
}

func validDelay(d float64) bool {
	return !math.IsNaN(d) && d >= 0 && d < MaxDelay
}

// Delete removes a sequence, stopping it first if it is playing
func (e *Engine) Delete(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.sequences[name]; !ok {
		return ErrSequenceNotFound
	}
	if e.playingLocked() && e.current == name {
		e.stopLocked()
	}
	delete(e.sequences, name)

	e.logger.Info("Deleted sequence", logging.Sequence(name))
	return nil
}

// Get returns a copy of the named sequence
func (e *Engine) Get(name string) (models.Sequence, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	seq, ok := e.sequences[name]
	if !ok {
		return models.Sequence{}, ErrSequenceNotFound
	}
	return copySequence(seq), nil
}

// Play starts replaying the named sequence, stopping any other playback first
func (e *Engine) Play(name string, loop bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	seq, ok := e.sequences[name]
	if !ok {
		e.logger.Warn("Sequence not found", logging.Sequence(name))
		return ErrSequenceNotFound
	}

	if e.playingLocked() {
		e.stopLocked()
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	e.current = name
	e.stop = stop
	e.done = done

	go e.run(copySequence(seq), loop, stop, done)

	e.logger.Info("Started playback", logging.Sequence(name), slog.Bool("loop", loop))
	return nil
}

// run injects every step and sleeps its delay until the pass ends or stop closes
func (e *Engine) run(seq models.Sequence, loop bool, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	var passDelay float64
	for _, step := range seq.Steps {
		passDelay += step.Delay
	}

	for {
		for _, step := range seq.Steps {
			select {
			case <-stop:
				e.metrics.PlaybackRun("stopped")
				return
			default:
			}

			e.injector.Inject(step.ID, step.Payload)
			e.metrics.PlaybackStep()

			if !sleep(stop, time.Duration(step.Delay*float64(time.Second))) {
				e.metrics.PlaybackRun("stopped")
				return
			}
		}

		if !loop {
			e.metrics.PlaybackRun("completed")
			e.logger.Info("Playback finished", logging.Sequence(seq.Name))
			return
		}
		if passDelay == 0 && !sleep(stop, loopPause) {
			e.metrics.PlaybackRun("stopped")
			return
		}
	}
}

// sleep waits d and reports false when stop closes first
func sleep(stop <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}

// Stop halts the current playback and waits briefly for it to exit
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.playingLocked() {
		e.logger.Info("No active playback to stop")
		return ErrNotPlaying
	}
	e.stopLocked()
	return nil
}

func (e *Engine) stopLocked() {
	close(e.stop)
	select {
	case <-e.done:
	case <-time.After(e.opts.StopTimeout):
		e.logger.Warn("Playback did not stop in time", logging.Sequence(e.current))
	}

	e.logger.Info("Stopped playback", logging.Sequence(e.current))
	e.current = ""
	e.stop = nil
	e.done = nil
}

func (e *Engine) playingLocked() bool {
	if e.done == nil {
		return false
	}
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// IsPlaying reports whether a sequence is being replayed
func (e *Engine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playingLocked()
}

// Current returns the name of the playing sequence, or ""
func (e *Engine) Current() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.playingLocked() {
		return ""
	}
	return e.current
}

// Info summarizes the named sequence
func (e *Engine) Info(name string) (models.SequenceInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	seq, ok := e.sequences[name]
	if !ok {
		return models.SequenceInfo{}, ErrSequenceNotFound
	}
	return e.infoLocked(seq), nil
}

func (e *Engine) infoLocked(seq models.Sequence) models.SequenceInfo {
	total := 0.0
	for _, s := range seq.Steps {
		total += s.Delay
	}
	return models.SequenceInfo{
		Name:          seq.Name,
		MessageCount:  len(seq.Steps),
		TotalDuration: total,
		IsPlaying:     e.playingLocked() && e.current == seq.Name,
	}
}

// List summarizes every stored sequence, sorted by name
func (e *Engine) List() []models.SequenceInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, 0, len(e.sequences))
	for name := range e.sequences {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]models.SequenceInfo, 0, len(names))
	for _, name := range names {
		out = append(out, e.infoLocked(e.sequences[name]))
	}
	return out
}

func copySequence(seq models.Sequence) models.Sequence {
	steps := make([]models.Step, len(seq.Steps))
	copy(steps, seq.Steps)
	return models.Sequence{Name: seq.Name, Steps: steps}
}
