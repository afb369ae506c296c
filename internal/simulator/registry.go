package simulator

import (
	"sort"
	"sync"

	"can-bus-simulator/internal/models"
)

// DefaultEvents returns the built-in vehicle event catalog
func DefaultEvents() []models.EventDefinition {
	return []models.EventDefinition{
		{Name: "Horn", ID: "0x1A2", OnPayload: "AAFFBBCC00000000", OffPayload: "00FFBBCC00000000"},
		{Name: "AC", ID: "0x1F3", OnPayload: "00AAFF1100000000", OffPayload: "0000FF1100000000"},
		{Name: "Headlights", ID: "0x2B4", OnPayload: "FF00000000000000", OffPayload: "0000000000000000"},
		{Name: "Turn Signal Left", ID: "0x3C5", OnPayload: "AA00000000000000", OffPayload: "0000000000000000"},
		{Name: "Turn Signal Right", ID: "0x3C6", OnPayload: "BB00000000000000", OffPayload: "0000000000000000"},
		{Name: "Brake", ID: "0x4D7", OnPayload: "FFAA000000000000", OffPayload: "00AA000000000000"},
		{Name: "Door Lock", ID: "0x5E8", OnPayload: "11223344AABBCCDD", OffPayload: "11223344AABB0000"},
		{Name: "Window Down", ID: "0x6F9", OnPayload: "ABCDEF0000000000", OffPayload: "ABCDEF0000000000"},
	}
}

// Registry maps event names to their on/off frames. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	events map[string]models.EventDefinition
}

// NewRegistry creates a registry seeded with defs
func NewRegistry(defs ...models.EventDefinition) *Registry {
	r := &Registry{events: make(map[string]models.EventDefinition, len(defs))}
	for _, def := range defs {
		r.Upsert(def.Name, def.ID, def.OnPayload, def.OffPayload)
	}
	return r
}

// Upsert adds or replaces an event. An empty offPayload is derived from onPayload.
func (r *Registry) Upsert(name, id, onPayload, offPayload string) models.EventDefinition {
	if offPayload == "" {
		offPayload = models.DeriveOffPayload(onPayload)
	}
	def := models.EventDefinition{Name: name, ID: id, OnPayload: onPayload, OffPayload: offPayload}

	r.mu.Lock()
	r.events[name] = def
	r.mu.Unlock()

	return def
}

// Get returns the event named name
func (r *Registry) Get(name string) (models.EventDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.events[name]
	return def, ok
}

// Names returns all event names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.events))
	for name := range r.events {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every event sorted by name
func (r *Registry) All() []models.EventDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]models.EventDefinition, 0, len(r.events))
	for _, def := range r.events {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Len returns the number of registered events
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}
