package models

// Candidate is a scored guess that an id+payload represents a calibrated event
type Candidate struct {
	ID        string  `json:"id"`
	Payload   string  `json:"data"`
	Count     int     `json:"count"`
	Score     float64 `json:"score"`
	FirstSeen float64 `json:"first_seen"`
}
