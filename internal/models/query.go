package models

import "time"

// QueryParams represents archive query parameters
type QueryParams struct {
	StartTime *time.Time
	EndTime   *time.Time
	FrameID   string
	Event     string
	Limit     int
	Offset    int
}

// ArchivedFrame is a frame row read back from the archive
type ArchivedFrame struct {
	Timestamp      time.Time `json:"timestamp"`
	ID             string    `json:"id"`
	Payload        string    `json:"data"`
	Event          string    `json:"event,omitempty"`
	Label          string    `json:"label,omitempty"`
	Injected       bool      `json:"injected"`
	ChangeDetected bool      `json:"change_detected"`
}

// ArchivedIDStats summarizes archived traffic for one id
type ArchivedIDStats struct {
	ID        string    `json:"id"`
	Count     uint64    `json:"message_count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}
