// Package definition describes CAN messages as named numeric signals packed
// into a fixed-width payload. It stands in for a DBC database: each
// MessageDefinition knows its frame id, its signal ranges and how to encode
// physical values into bytes.
package definition

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"can-bus-simulator/internal/models"
)

// ErrOutOfRange is returned when a value cannot be represented by its signal type.
var ErrOutOfRange = errors.New("signal value out of range")

// SignalType represents the wire type of a signal
type SignalType string

const (
	TypeInt8   SignalType = "int8"
	TypeUint8  SignalType = "uint8"
	TypeInt16  SignalType = "int16"
	TypeUint16 SignalType = "uint16"
	TypeInt32  SignalType = "int32"
	TypeUint32 SignalType = "uint32"
)

// Size returns the number of bytes a signal type occupies, or 0 if unknown
func (t SignalType) Size() int {
	switch t {
	case TypeInt8, TypeUint8:
		return 1
	case TypeInt16, TypeUint16:
		return 2
	case TypeInt32, TypeUint32:
		return 4
	}
	return 0
}

func (t SignalType) bounds() (float64, float64) {
	switch t {
	case TypeInt8:
		return math.MinInt8, math.MaxInt8
	case TypeUint8:
		return 0, math.MaxUint8
	case TypeInt16:
		return math.MinInt16, math.MaxInt16
	case TypeUint16:
		return 0, math.MaxUint16
	case TypeInt32:
		return math.MinInt32, math.MaxInt32
	case TypeUint32:
		return 0, math.MaxUint32
	}
	return 0, 0
}

// Signal defines a single field in a message payload
type Signal struct {
	Name       string     `json:"name" yaml:"name"`
	Type       SignalType `json:"type" yaml:"type"`
	ByteOffset int        `json:"byte_offset" yaml:"byte_offset"` // Starting byte position
	Scale      float64    `json:"scale" yaml:"scale"`             // Physical = raw*Scale + Offset
	Offset     float64    `json:"offset" yaml:"offset"`
	Min        float64    `json:"min" yaml:"min"` // Physical range used for random draws
	Max        float64    `json:"max" yaml:"max"`
	Unit       string     `json:"unit,omitempty" yaml:"unit,omitempty"`
}

func (s Signal) scale() float64 {
	if s.Scale == 0 {
		return 1
	}
	return s.Scale
}

// MessageDefinition defines the complete layout of one CAN message
type MessageDefinition struct {
	Name    string   `json:"name" yaml:"name"`
	ID      uint32   `json:"id" yaml:"id"`
	Length  int      `json:"length" yaml:"length"` // Payload length in bytes (default 8)
	Signals []Signal `json:"signals" yaml:"signals"`
}

// FrameID returns the formatted CAN id of the message
func (m *MessageDefinition) FrameID() string {
	return models.FormatID(m.ID)
}

func (m *MessageDefinition) length() int {
	if m.Length <= 0 {
		return 8
	}
	return m.Length
}

// Validate checks that every signal fits inside the payload
func (m *MessageDefinition) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("message 0x%X has no name", m.ID)
	}
	for _, s := range m.Signals {
		size := s.Type.Size()
		if size == 0 {
			return fmt.Errorf("message %s: signal %s has unknown type %q", m.Name, s.Name, s.Type)
		}
		if s.ByteOffset < 0 || s.ByteOffset+size > m.length() {
			return fmt.Errorf("message %s: signal %s does not fit in %d bytes", m.Name, s.Name, m.length())
		}
		if s.Min > s.Max {
			return fmt.Errorf("message %s: signal %s has min > max", m.Name, s.Name)
		}
	}
	return nil
}

// Encode packs physical signal values into a payload. Missing signals encode as zero raw.
func (m *MessageDefinition) Encode(values map[string]float64) ([]byte, error) {
	data := make([]byte, m.length())

	for _, s := range m.Signals {
		size := s.Type.Size()
		if size == 0 || s.ByteOffset < 0 || s.ByteOffset+size > len(data) {
			return nil, fmt.Errorf("failed to encode %s: malformed signal %s", m.Name, s.Name)
		}

		value, ok := values[s.Name]
		if !ok {
			continue
		}

		raw := math.Round((value - s.Offset) / s.scale())
		lo, hi := s.Type.bounds()
		if raw < lo || raw > hi {
			return nil, fmt.Errorf("failed to encode %s.%s=%v: %w", m.Name, s.Name, value, ErrOutOfRange)
		}

		field := data[s.ByteOffset : s.ByteOffset+size]
		switch s.Type {
		case TypeInt8:
			field[0] = byte(int8(raw))
		case TypeUint8:
			field[0] = uint8(raw)
		case TypeInt16:
			binary.LittleEndian.PutUint16(field, uint16(int16(raw)))
		case TypeUint16:
			binary.LittleEndian.PutUint16(field, uint16(raw))
		case TypeInt32:
			binary.LittleEndian.PutUint32(field, uint32(int32(raw)))
		case TypeUint32:
			binary.LittleEndian.PutUint32(field, uint32(raw))
		}
	}

	return data, nil
}

// Decode parses raw payload bytes back into physical signal values
func (m *MessageDefinition) Decode(data []byte) map[string]float64 {
	result := make(map[string]float64, len(m.Signals))

	for _, s := range m.Signals {
		size := s.Type.Size()
		if size == 0 || s.ByteOffset < 0 || s.ByteOffset+size > len(data) {
			continue
		}

		field := data[s.ByteOffset : s.ByteOffset+size]

		var raw float64
		switch s.Type {
		case TypeInt8:
			raw = float64(int8(field[0]))
		case TypeUint8:
			raw = float64(field[0])
		case TypeInt16:
			raw = float64(int16(binary.LittleEndian.Uint16(field)))
		case TypeUint16:
			raw = float64(binary.LittleEndian.Uint16(field))
		case TypeInt32:
			raw = float64(int32(binary.LittleEndian.Uint32(field)))
		case TypeUint32:
			raw = float64(binary.LittleEndian.Uint32(field))
		}

		result[s.Name] = raw*s.scale() + s.Offset
	}

	return result
}
