// Package simulator produces the synthetic CAN traffic: a frame generator that
// mixes injected frames, active vehicle events and background catalog noise.
package simulator

import (
	"errors"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"can-bus-simulator/internal/logging"
	"can-bus-simulator/internal/metrics"
	"can-bus-simulator/internal/models"
)

var (
	// ErrUnknownEvent is returned when activating an event the registry does not know
	ErrUnknownEvent = errors.New("unknown event")
	// ErrEventNotActive is returned when deactivating an event that is not on
	ErrEventNotActive = errors.New("event not active")
)

// Dummy frame emitted when every source fails
const (
	DummyID      = "0x000"
	DummyPayload = "0000000000000000"
)

const hexDigits = "0123456789ABCDEF"

// Options configures a Generator. Start from DefaultOptions; zero probabilities disable a source.
type Options struct {
	ActiveEventProbability float64 // chance to repeat an active event frame
	RandomEventProbability float64 // chance to toggle a random registry event
	JitterProbability      float64 // chance to flip one hex digit of a catalog frame
	DedupWindow            int     // number of recent frames checked for repeats
	MaxRetries             int     // duplicate retries before emitting anyway

	Rand    *rand.Rand
	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// DefaultOptions returns the standard generator tuning
func DefaultOptions() Options {
	return Options{
		ActiveEventProbability: 0.3,
		RandomEventProbability: 0.05,
		JitterProbability:      0.3,
		DedupWindow:            10,
		MaxRetries:             5,
	}
}

// Generator emits one frame per Generate call. Safe for concurrent use.
type Generator struct {
	registry *Registry
	catalog  Catalog
	opts     Options
	rng      *rand.Rand
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	queue  []models.Frame
	active map[string]struct{}
	recent []models.FrameKey
}

// NewGenerator creates a new generator over registry and catalog
func NewGenerator(registry *Registry, catalog Catalog, opts Options) *Generator {
	if registry == nil {
		registry = NewRegistry(DefaultEvents()...)
	}
	if catalog == nil {
		catalog = NewStaticCatalog()
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 10
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	g := &Generator{
		registry: registry,
		catalog:  catalog,
		opts:     opts,
		rng:      rng,
		now:      now,
		logger:   logging.OrDefault(opts.Logger).With(logging.Component("generator")),
		metrics:  opts.Metrics,
		active:   make(map[string]struct{}),
		recent:   make([]models.FrameKey, 0, opts.DedupWindow),
	}

	g.logger.Info("Generator initialized",
		slog.Int("events", registry.Len()),
		slog.Float64("p_active", opts.ActiveEventProbability),
		slog.Float64("p_random", opts.RandomEventProbability),
		slog.Float64("p_jitter", opts.JitterProbability))

	return g
}

// Registry returns the event registry the generator reads
func (g *Generator) Registry() *Registry {
	return g.registry
}

// Generate returns the next frame. It never fails: when every source is
// exhausted a dummy frame is emitted.
func (g *Generator) Generate() models.Frame {
	g.mu.Lock()
	defer g.mu.Unlock()

	for attempt := 0; ; attempt++ {
		frame, source := g.next()

		if source == metrics.SourceCatalog && attempt < g.opts.MaxRetries && g.isRecent(frame.Key()) {
			g.metrics.DuplicateRetry()
			continue
		}

		frame.Timestamp = models.Timestamp(g.now())
		g.remember(frame.Key())

		g.metrics.FrameGenerated(source)
		g.metrics.SetQueueDepth(len(g.queue))
		g.logger.Debug("Frame generated",
			logging.FrameID(frame.ID),
			logging.Payload(frame.Payload),
			slog.String("source", source))

		return frame
	}
}

// next evaluates the sources in priority order. Callers hold g.mu.
func (g *Generator) next() (models.Frame, string) {
	if len(g.queue) > 0 {
		frame := g.queue[0]
		g.queue[0] = models.Frame{}
		g.queue = g.queue[1:]
		return frame, metrics.SourceInjected
	}

	if len(g.active) > 0 && g.rng.Float64() < g.opts.ActiveEventProbability {
		names := g.activeNamesLocked()
		name := names[g.rng.Intn(len(names))]
		if def, ok := g.registry.Get(name); ok {
			return models.Frame{ID: def.ID, Payload: def.OnPayload, Event: name}, metrics.SourceActive
		}
	}

	if g.rng.Float64() < g.opts.RandomEventProbability {
		if frame, ok := g.randomEventLocked(); ok {
			return frame, metrics.SourceRandom
		}
	}

	frame, err := g.catalog.Next(g.rng)
	if err != nil {
		g.logger.Debug("Catalog frame skipped", logging.Error(err))
		return models.Frame{ID: DummyID, Payload: DummyPayload}, metrics.SourceDummy
	}
	if g.rng.Float64() < g.opts.JitterProbability {
		frame.Payload = jitter(g.rng, frame.Payload)
	}
	return frame, metrics.SourceCatalog
}

// randomEventLocked picks any registry event, emits its on or off frame and
// makes the active set agree with the emitted state.
func (g *Generator) randomEventLocked() (models.Frame, bool) {
	names := g.registry.Names()
	if len(names) == 0 {
		return models.Frame{}, false
	}
	name := names[g.rng.Intn(len(names))]
	def, ok := g.registry.Get(name)
	if !ok {
		return models.Frame{}, false
	}

	frame := models.Frame{ID: def.ID, Event: name}
	if g.rng.Float64() < 0.5 {
		frame.Payload = def.OnPayload
		g.active[name] = struct{}{}
	} else {
		frame.Payload = def.OffPayload
		delete(g.active, name)
	}
	g.metrics.SetActiveEvents(len(g.active))

	return frame, true
}

func (g *Generator) isRecent(key models.FrameKey) bool {
	for _, k := range g.recent {
		if k == key {
			return true
		}
	}
	return false
}

func (g *Generator) remember(key models.FrameKey) {
	if len(g.recent) >= g.opts.DedupWindow {
		copy(g.recent, g.recent[1:])
		g.recent = g.recent[:len(g.recent)-1]
	}
	g.recent = append(g.recent, key)
}

// jitter replaces one random hex digit of payload with a different digit
func jitter(rng *rand.Rand, payload string) string {
	if payload == "" {
		return payload
	}
	buf := []byte(payload)
	pos := rng.Intn(len(buf))
	for {
		c := hexDigits[rng.Intn(len(hexDigits))]
		if c != buf[pos] {
			buf[pos] = c
			break
		}
	}
	return string(buf)
}

// Inject queues a frame for emission ahead of every other source
func (g *Generator) Inject(id, payload string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.enqueueLocked(models.Frame{ID: id, Payload: payload})
	g.logger.Debug("Frame injected", logging.FrameID(id), logging.Payload(payload))
}

func (g *Generator) enqueueLocked(frame models.Frame) {
	frame.Injected = true
	frame.Timestamp = models.Timestamp(g.now())
	g.queue = append(g.queue, frame)
	g.metrics.SetQueueDepth(len(g.queue))
}

// Activate switches an event on and queues its on-frame
func (g *Generator) Activate(name string) error {
	def, ok := g.registry.Get(name)
	if !ok {
		g.logger.Warn("Unknown event", logging.Event(name))
		return ErrUnknownEvent
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.active[name] = struct{}{}
	g.enqueueLocked(models.Frame{ID: def.ID, Payload: def.OnPayload, Event: name})
	g.metrics.SetActiveEvents(len(g.active))

	g.logger.Info("Event activated", logging.Event(name), logging.FrameID(def.ID))
	return nil
}

// Deactivate switches an active event off and queues its off-frame
func (g *Generator) Deactivate(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.active[name]; !ok {
		g.logger.Warn("Event not active or unknown", logging.Event(name))
		return ErrEventNotActive
	}
	delete(g.active, name)
	g.metrics.SetActiveEvents(len(g.active))

	if def, ok := g.registry.Get(name); ok {
		g.enqueueLocked(models.Frame{ID: def.ID, Payload: def.OffPayload, Event: name})
	}

	g.logger.Info("Event deactivated", logging.Event(name))
	return nil
}

// AddEvent upserts an event definition. An empty offPayload is derived from onPayload.
func (g *Generator) AddEvent(name, id, onPayload, offPayload string) models.EventDefinition {
	def := g.registry.Upsert(name, id, onPayload, offPayload)
	g.logger.Info("Event added", logging.Event(name), logging.FrameID(id))
	return def
}

// IsActive reports whether the named event is on
func (g *Generator) IsActive(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.active[name]
	return ok
}

// ActiveEvents returns the active event names in sorted order
func (g *Generator) ActiveEvents() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeNamesLocked()
}

func (g *Generator) activeNamesLocked() []string {
	names := make([]string, 0, len(g.active))
	for name := range g.active {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// QueueDepth returns the number of frames waiting in the injection queue
func (g *Generator) QueueDepth() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}
