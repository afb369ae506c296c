package models

// Step is one timed message of a playback sequence
type Step struct {
	ID      string  `json:"id" yaml:"id"`
	Payload string  `json:"payload" yaml:"payload"`
	Delay   float64 `json:"delay" yaml:"delay"`
}

// Sequence is an ordered, timed list of frames for scripted replay
type Sequence struct {
	Name  string `json:"name" yaml:"name"`
	Steps []Step `json:"steps" yaml:"steps"`
}

// SequenceInfo summarizes a stored sequence
type SequenceInfo struct {
	Name          string  `json:"name"`
	MessageCount  int     `json:"message_count"`
	TotalDuration float64 `json:"total_duration"`
	IsPlaying     bool    `json:"is_playing"`
}
