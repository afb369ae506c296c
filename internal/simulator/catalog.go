package simulator

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"can-bus-simulator/internal/definition"
	"can-bus-simulator/internal/models"
)

// Catalog supplies background frames when no injected or event frame is due
type Catalog interface {
	Next(rng *rand.Rand) (models.Frame, error)
}

// DefaultNoisePatterns returns the static background traffic table
func DefaultNoisePatterns() []models.FrameKey {
	return []models.FrameKey{
		{ID: "0x100", Payload: "0000000000000000"},
		{ID: "0x200", Payload: "FFFFFFFFFFFFFFFF"},
		{ID: "0x300", Payload: "A5A5A5A5A5A5A5A5"},
		{ID: "0x400", Payload: "1234567890ABCDEF"},
		{ID: "0x500", Payload: "FEDCBA0987654321"},
	}
}

// StaticCatalog picks uniformly from a fixed pattern table
type StaticCatalog struct {
	patterns []models.FrameKey
}

// NewStaticCatalog creates a catalog over patterns, or the default table if none given
func NewStaticCatalog(patterns ...models.FrameKey) *StaticCatalog {
	if len(patterns) == 0 {
		patterns = DefaultNoisePatterns()
	}
	return &StaticCatalog{patterns: patterns}
}

// Next returns a random pattern
func (c *StaticCatalog) Next(rng *rand.Rand) (models.Frame, error) {
	p := c.patterns[rng.Intn(len(c.patterns))]
	return models.Frame{ID: p.ID, Payload: p.Payload}, nil
}

// SignalCatalog synthesizes frames from message definitions
type SignalCatalog struct {
	defs []definition.MessageDefinition
}

// NewSignalCatalog creates a catalog over defs
func NewSignalCatalog(defs []definition.MessageDefinition) (*SignalCatalog, error) {
	if len(defs) == 0 {
		return nil, errors.New("signal catalog needs at least one message definition")
	}
	for i := range defs {
		if err := defs[i].Validate(); err != nil {
			return nil, err
		}
	}
	return &SignalCatalog{defs: defs}, nil
}

// Next picks a random message and draws every signal uniformly from its range
func (c *SignalCatalog) Next(rng *rand.Rand) (models.Frame, error) {
	msg := &c.defs[rng.Intn(len(c.defs))]

	values := make(map[string]float64, len(msg.Signals))
	for _, s := range msg.Signals {
		v := s.Min + rng.Float64()*(s.Max-s.Min)
		values[s.Name] = math.Round(v*100) / 100
	}

	data, err := msg.Encode(values)
	if err != nil {
		return models.Frame{}, fmt.Errorf("failed to synthesize %s: %w", msg.Name, err)
	}

	return models.Frame{
		ID:      msg.FrameID(),
		Payload: models.FormatPayload(data),
		Signals: values,
	}, nil
}
