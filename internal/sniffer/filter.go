// Package sniffer filters the simulated frame stream and keeps the bounded
// history used for change detection, frequency and correlation analysis.
package sniffer

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"can-bus-simulator/internal/logging"
	"can-bus-simulator/internal/metrics"
	"can-bus-simulator/internal/models"
)

// ErrInvalidPattern is returned when a payload rule does not compile
var ErrInvalidPattern = errors.New("invalid payload pattern")

// MaxCorrelated caps the result of FindCorrelated
const MaxCorrelated = 10

// RuleKind says which frame field a rule matches
type RuleKind string

const (
	RuleID      RuleKind = "id"
	RulePayload RuleKind = "payload"
)

// Rule is one include or exclude filter
type Rule struct {
	Kind    RuleKind `json:"kind"`
	Subject string   `json:"subject"`
	Include bool     `json:"include"`
}

type payloadRule struct {
	pattern *regexp.Regexp
	include bool
}

// Frequency is the result of AnalyzeFrequency
type Frequency struct {
	ID          string  `json:"id"`
	Count       int     `json:"count"`
	FrequencyHz float64 `json:"frequency"`
	Window      float64 `json:"window"`
}

// Stats summarizes filter activity
type Stats struct {
	Processed   uint64 `json:"processed"`
	Accepted    uint64 `json:"accepted"`
	DistinctIDs int    `json:"distinct_ids"`
}

// Options configures history sizes and collaborators
type Options struct {
	PerIDCapacity  int
	GlobalCapacity int
	Now            func() time.Time
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// DefaultOptions returns the standard history sizes
func DefaultOptions() Options {
	return Options{PerIDCapacity: 100, GlobalCapacity: 200}
}

// Filter applies id and payload rules and records accepted frames. Safe for concurrent use.
type Filter struct {
	perIDCapacity int
	now           func() time.Time
	logger        *slog.Logger
	metrics       *metrics.Metrics

	mu           sync.RWMutex
	includeMode  bool
	idRules      []Rule
	payloadRules []payloadRule
	rules        []Rule
	history      map[string]*ring[models.Frame]
	recent       *ring[models.Frame]
	processed    uint64
	accepted     uint64
}

// NewFilter creates a new filter in include mode with no rules
func NewFilter(opts Options) *Filter {
	if opts.PerIDCapacity <= 0 {
		opts.PerIDCapacity = 100
	}
	if opts.GlobalCapacity <= 0 {
		opts.GlobalCapacity = 200
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Filter{
		perIDCapacity: opts.PerIDCapacity,
		now:           opts.Now,
		logger:        logging.OrDefault(opts.Logger).With(logging.Component("sniffer")),
		metrics:       opts.Metrics,
		includeMode:   true,
		history:       make(map[string]*ring[models.Frame]),
		recent:        newRing[models.Frame](opts.GlobalCapacity),
	}
}

// AddIDRule adds an include or exclude rule for a frame id
func (f *Filter) AddIDRule(id string, include bool) {
	rule := Rule{Kind: RuleID, Subject: id, Include: include}

	f.mu.Lock()
	f.idRules = append(f.idRules, rule)
	f.rules = append(f.rules, rule)
	f.mu.Unlock()

	f.logger.Info("Added ID filter", logging.FrameID(id), slog.Bool("include", include))
}

// AddPayloadRule adds a regular-expression rule matched anywhere in the payload.
// An invalid pattern is rejected and leaves the rule set unchanged.
func (f *Filter) AddPayloadRule(pattern string, include bool) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		f.logger.Warn("Invalid payload pattern", logging.Pattern(pattern), logging.Error(err))
		return fmt.Errorf("%w %q: %v", ErrInvalidPattern, pattern, err)
	}

	f.mu.Lock()
	f.payloadRules = append(f.payloadRules, payloadRule{pattern: re, include: include})
	f.rules = append(f.rules, Rule{Kind: RulePayload, Subject: pattern, Include: include})
	f.mu.Unlock()

	f.logger.Info("Added payload filter", logging.Pattern(pattern), slog.Bool("include", include))
	return nil
}

// SetMode switches between include (whitelist) and exclude (blacklist) mode
func (f *Filter) SetMode(includeMode bool) {
	f.mu.Lock()
	f.includeMode = includeMode
	f.mu.Unlock()

	f.logger.Info("Filter mode set", slog.Bool("include_mode", includeMode))
}

// IncludeMode reports the current mode
func (f *Filter) IncludeMode() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.includeMode
}

// ClearRules removes every rule
func (f *Filter) ClearRules() {
	f.mu.Lock()
	f.idRules = nil
	f.payloadRules = nil
	f.rules = nil
	f.mu.Unlock()

	f.logger.Info("All filters cleared")
}

// Rules returns the configured rules in insertion order
func (f *Filter) Rules() []Rule {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Rule, len(f.rules))
	copy(out, f.rules)
	return out
}

// Process runs frame through the rules. Accepted frames are recorded in history
// and returned as an annotated copy; rejected frames return false.
func (f *Filter) Process(frame models.Frame) (models.AnnotatedFrame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.processed++

	if !f.acceptsLocked(frame) {
		f.metrics.FrameFiltered(false)
		return models.AnnotatedFrame{}, false
	}

	stored := frame.Clone()

	h, ok := f.history[frame.ID]
	if !ok {
		h = newRing[models.Frame](f.perIDCapacity)
		f.history[frame.ID] = h
	}

	changed := false
	if prev, ok := h.last(); ok && prev.Payload != frame.Payload {
		changed = true
		f.logger.Debug("Change detected",
			logging.FrameID(frame.ID),
			slog.String("previous", prev.Payload),
			logging.Payload(frame.Payload))
	}

	h.push(stored)
	f.recent.push(stored)
	f.accepted++
	f.metrics.FrameFiltered(true)

	return models.AnnotatedFrame{Frame: frame.Clone(), ChangeDetected: changed}, true
}

func (f *Filter) acceptsLocked(frame models.Frame) bool {
	if len(f.idRules) > 0 {
		includeHit, excludeHit := false, false
		for _, r := range f.idRules {
			if r.Subject != frame.ID {
				continue
			}
			if r.Include {
				includeHit = true
			} else {
				excludeHit = true
			}
		}
		if (f.includeMode && !includeHit) || (!f.includeMode && excludeHit) {
			return false
		}
	}

	if len(f.payloadRules) > 0 {
		includeHit, excludeHit := false, false
		for _, r := range f.payloadRules {
			if !r.pattern.MatchString(frame.Payload) {
				continue
			}
			if r.include {
				includeHit = true
			} else {
				excludeHit = true
			}
		}
		if (f.includeMode && !includeHit) || (!f.includeMode && excludeHit) {
			return false
		}
	}

	return true
}

// AnalyzeFrequency measures the message rate of id (or of all ids when id is
// empty) over the trailing window.
func (f *Filter) AnalyzeFrequency(id string, window time.Duration) Frequency {
	result := Frequency{ID: id, Window: window.Seconds()}
	if id == "" {
		result.ID = "all"
	}

	minTS := models.Timestamp(f.now()) - window.Seconds()

	f.mu.RLock()
	var source *ring[models.Frame]
	if id == "" {
		source = f.recent
	} else {
		source = f.history[id]
	}
	var timestamps []float64
	if source != nil {
		source.each(func(fr models.Frame) {
			if fr.Timestamp >= minTS {
				timestamps = append(timestamps, fr.Timestamp)
			}
		})
	}
	f.mu.RUnlock()

	result.Count = len(timestamps)
	if len(timestamps) < 2 {
		return result
	}

	lo, hi := timestamps[0], timestamps[0]
	for _, ts := range timestamps[1:] {
		lo = min(lo, ts)
		hi = max(hi, ts)
	}
	if hi == lo {
		return result
	}

	result.FrequencyHz = float64(len(timestamps)-1) / (hi - lo)
	return result
}

// FindCorrelated ranks the ids seen within window of any target frame,
// best first, up to MaxCorrelated.
func (f *Filter) FindCorrelated(targetID string, window time.Duration) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	h, ok := f.history[targetID]
	if !ok {
		return []string{}
	}

	targets := make([]float64, 0, h.len())
	h.each(func(fr models.Frame) { targets = append(targets, fr.Timestamp) })

	limit := window.Seconds()
	counts := make(map[string]int)
	f.recent.each(func(fr models.Frame) {
		if fr.ID == targetID {
			return
		}
		for _, ts := range targets {
			d := ts - fr.Timestamp
			if d < 0 {
				d = -d
			}
			if d <= limit {
				counts[fr.ID]++
				return
			}
		}
	})

	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if counts[ids[i]] != counts[ids[j]] {
			return counts[ids[i]] > counts[ids[j]]
		}
		return ids[i] < ids[j]
	})

	if len(ids) > MaxCorrelated {
		ids = ids[:MaxCorrelated]
	}
	return ids
}

// History returns the stored frames for id, oldest first
func (f *Filter) History(id string) []models.Frame {
	f.mu.RLock()
	defer f.mu.RUnlock()

	h, ok := f.history[id]
	if !ok {
		return nil
	}
	return h.slice()
}

// Recent returns the global history, oldest first
func (f *Filter) Recent() []models.Frame {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.recent.slice()
}

// IDs returns every id with recorded history, sorted
func (f *Filter) IDs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ids := make([]string, 0, len(f.history))
	for id := range f.history {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns processing counters
func (f *Filter) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Stats{Processed: f.processed, Accepted: f.accepted, DistinctIDs: len(f.history)}
}
