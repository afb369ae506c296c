// Package bus drives the simulated CAN bus: it pulls frames from the
// generator, passes them through the sniffer filter and fans accepted
// frames out to sinks and live subscribers.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"can-bus-simulator/internal/database"
	"can-bus-simulator/internal/logging"
	"can-bus-simulator/internal/metrics"
	"can-bus-simulator/internal/models"
	"can-bus-simulator/internal/sniffer"

	"golang.org/x/time/rate"
)

// Source produces the next frame on the bus
type Source interface {
	Generate() models.Frame
}

// Labeler resolves a user label for an id+payload
type Labeler interface {
	Lookup(id, payload string) string
}

// Recorder receives accepted frames while a calibration window is open
type Recorder interface {
	IsActive() bool
	Record(frame models.Frame) bool
}

// Options configures a Bus
type Options struct {
	Rate             float64       // Frames per second
	SubscriberBuffer int           // Per-subscriber channel capacity
	ErrorBackoff     time.Duration // Pause after a failed tick
	Logger           *slog.Logger
	Metrics          *metrics.Metrics
}

// DefaultOptions returns the standard bus settings
func DefaultOptions() Options {
	return Options{
		Rate:             10,
		SubscriberBuffer: 64,
		ErrorBackoff:     time.Second,
	}
}

// Bus is the generation loop
type Bus struct {
	source   Source
	filter   *sniffer.Filter
	labeler  Labeler
	recorder Recorder
	sinks    []database.Writer
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu          sync.RWMutex
	subscribers map[int]chan models.AnnotatedFrame
	nextSubID   int
}

// New creates a new bus over source and filter
func New(source Source, filter *sniffer.Filter, opts Options) *Bus {
	def := DefaultOptions()
	if opts.Rate <= 0 {
		opts.Rate = def.Rate
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = def.SubscriberBuffer
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = def.ErrorBackoff
	}
	if filter == nil {
		filter = sniffer.NewFilter(sniffer.DefaultOptions())
	}

	return &Bus{
		source:      source,
		filter:      filter,
		opts:        opts,
		logger:      logging.OrDefault(opts.Logger).With(logging.Component("bus")),
		metrics:     opts.Metrics,
		subscribers: make(map[int]chan models.AnnotatedFrame),
	}
}

// SetLabeler attaches the label lookup used to annotate accepted frames
func (b *Bus) SetLabeler(l Labeler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.labeler = l
}

// SetRecorder attaches the calibration recorder
func (b *Bus) SetRecorder(r Recorder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recorder = r
}

// AddSink registers a sink for accepted frames and starts it
func (b *Bus) AddSink(w database.Writer) {
	w.Start()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, w)
}

// Filter returns the filter the bus feeds
func (b *Bus) Filter() *sniffer.Filter {
	return b.filter
}

// Sample generates one frame and runs it through the filter without
// dispatching it. It satisfies calibration.Sampler.
func (b *Bus) Sample() (models.AnnotatedFrame, bool) {
	return b.filter.Process(b.source.Generate())
}

// Tick generates one frame and, when the filter accepts it, annotates and
// dispatches it. A panic inside a component is reported as an error.
func (b *Bus) Tick() (frame models.AnnotatedFrame, accepted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bus tick failed: %v", r)
		}
	}()

	start := time.Now()
	defer func() {
		b.metrics.ObserveTick(time.Since(start).Seconds())
	}()

	frame, accepted = b.Sample()
	if !accepted {
		return frame, false, nil
	}

	b.mu.RLock()
	labeler, recorder := b.labeler, b.recorder
	sinks := b.sinks
	b.mu.RUnlock()

	if labeler != nil {
		frame.Label = labeler.Lookup(frame.ID, frame.Payload)
	}
	if recorder != nil && recorder.IsActive() {
		recorder.Record(frame.Frame)
	}

	for _, sink := range sinks {
		sink.Write(frame)
	}
	b.publish(frame)

	return frame, true, nil
}

// Run ticks at the configured rate until ctx is done
func (b *Bus) Run(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Limit(b.opts.Rate), 1)
	b.logger.Info("bus started", slog.Float64("rate", b.opts.Rate))

	for {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				b.logger.Info("bus stopped")
				return nil
			}
			return fmt.Errorf("rate limiter failed: %w", err)
		}

		frame, accepted, err := b.Tick()
		if err != nil {
			b.logger.Error("tick failed", logging.Error(err))
			select {
			case <-ctx.Done():
				b.logger.Info("bus stopped")
				return nil
			case <-time.After(b.opts.ErrorBackoff):
			}
			continue
		}

		if accepted {
			b.logger.Debug("frame",
				logging.FrameID(frame.ID),
				logging.Payload(frame.Payload),
				logging.Event(frame.Event))
		}
	}
}

// Subscribe returns a channel of accepted frames and a function that
// cancels the subscription. Frames are dropped for a subscriber whose
// buffer is full.
func (b *Bus) Subscribe() (<-chan models.AnnotatedFrame, func()) {
	ch := make(chan models.AnnotatedFrame, b.opts.SubscriberBuffer)

	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(ch)
			}
		})
	}
}

func (b *Bus) publish(frame models.AnnotatedFrame) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- frame:
		default:
			b.metrics.SubscriberDrop()
		}
	}
}

// Close closes every sink and subscriber
func (b *Bus) Close() error {
	b.mu.Lock()
	sinks := b.sinks
	b.sinks = nil
	subs := b.subscribers
	b.subscribers = make(map[int]chan models.AnnotatedFrame)
	b.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}

	var errs []error
	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
