package models

import "time"

// BusStats is a periodic snapshot of simulated bus activity
type BusStats struct {
	Timestamp time.Time `json:"timestamp"`

	TotalFrames  uint64  `json:"total_frames"`  // Frames accepted by the filter since start
	DistinctIDs  int     `json:"distinct_ids"`  // IDs with recorded history
	FrequencyHz  float64 `json:"frequency_hz"`  // Global accepted-frame rate over the stats window
	QueueDepth   int     `json:"queue_depth"`   // Pending injected frames
	ActiveEvents int     `json:"active_events"` // Events currently on

	PerID []IDStats `json:"per_id,omitempty"`
}

// IDStats is the frequency of a single CAN id
type IDStats struct {
	ID          string  `json:"id"`
	Count       int     `json:"count"`
	FrequencyHz float64 `json:"frequency_hz"`
}
