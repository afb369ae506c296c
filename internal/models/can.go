package models

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Frame represents one simulated CAN bus message
type Frame struct {
	ID        string             `json:"id"`
	Payload   string             `json:"data"`
	Timestamp float64            `json:"timestamp"`
	Event     string             `json:"event,omitempty"`
	Injected  bool               `json:"injected,omitempty"`
	Signals   map[string]float64 `json:"signals,omitempty"`
}

// Key returns the (id, payload) pair used for de-duplication and baselines
func (f Frame) Key() FrameKey {
	return FrameKey{ID: f.ID, Payload: f.Payload}
}

// Time converts the frame timestamp back to a time.Time
func (f Frame) Time() time.Time {
	return FromTimestamp(f.Timestamp)
}

// Clone returns a copy that shares no mutable state with f
func (f Frame) Clone() Frame {
	if f.Signals != nil {
		signals := make(map[string]float64, len(f.Signals))
		for k, v := range f.Signals {
			signals[k] = v
		}
		f.Signals = signals
	}
	return f
}

// FrameKey identifies a frame by id and payload
type FrameKey struct {
	ID      string
	Payload string
}

// AnnotatedFrame is a frame copy carrying consumer-side annotations
type AnnotatedFrame struct {
	Frame
	ChangeDetected bool   `json:"change_detected"`
	Label          string `json:"label,omitempty"`
}

// EventDefinition maps a named vehicle action to its on/off frames
type EventDefinition struct {
	Name       string `json:"name"`
	ID         string `json:"id"`
	OnPayload  string `json:"on_data"`
	OffPayload string `json:"off_data"`
}

// Timestamp converts t to float seconds since the Unix epoch
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// FromTimestamp converts float seconds since the Unix epoch to a time.Time
func FromTimestamp(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// FormatID formats a numeric CAN identifier the way frames carry it (e.g. "0x1A2")
func FormatID(id uint32) string {
	return fmt.Sprintf("0x%X", id)
}

// ParseID parses a hex identifier with or without the 0x prefix
func ParseID(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty CAN ID")
	}

	var (
		v   uint64
		err error
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err = strconv.ParseUint(s[2:], 16, 32)
	} else {
		v, err = strconv.ParseUint(s, 16, 32)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid CAN ID %q: %w", s, err)
	}
	return uint32(v), nil
}

// FormatPayload hex-encodes data in upper case
func FormatPayload(data []byte) string {
	return strings.ToUpper(hex.EncodeToString(data))
}

// DecodePayload decodes a hex payload string
func DecodePayload(payload string) ([]byte, error) {
	data, err := hex.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid payload %q: %w", payload, err)
	}
	return data, nil
}

// DeriveOffPayload zeroes the leading byte of an on-payload
func DeriveOffPayload(onPayload string) string {
	if len(onPayload) < 2 {
		return strings.Repeat("0", len(onPayload))
	}
	return "00" + onPayload[2:]
}
