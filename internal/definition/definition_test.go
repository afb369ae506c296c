package definition

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func engineMessage() MessageDefinition {
	return MessageDefinition{
		Name:   "EngineData",
		ID:     0x0C0,
		Length: 8,
		Signals: []Signal{
			{Name: "rpm", Type: TypeUint16, ByteOffset: 0, Scale: 0.25, Min: 0, Max: 8000},
			{Name: "coolant", Type: TypeInt8, ByteOffset: 2, Scale: 1, Offset: -40, Min: -40, Max: 150},
			{Name: "torque", Type: TypeInt16, ByteOffset: 3, Scale: 0.5, Min: -500, Max: 500},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := engineMessage()
	require.NoError(t, msg.Validate())

	values := map[string]float64{"rpm": 2500.25, "coolant": 85, "torque": -120.5}
	data, err := msg.Encode(values)
	require.NoError(t, err)
	assert.Len(t, data, 8)

	decoded := msg.Decode(data)
	assert.InDelta(t, 2500.25, decoded["rpm"], 1e-9)
	assert.InDelta(t, 85, decoded["coolant"], 1e-9)
	assert.InDelta(t, -120.5, decoded["torque"], 1e-9)
}

func TestEncodeOutOfRange(t *testing.T) {
	msg := engineMessage()

	_, err := msg.Encode(map[string]float64{"coolant": 200})
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = msg.Encode(map[string]float64{"rpm": -1})
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestEncodeMalformedSignal(t *testing.T) {
	msg := MessageDefinition{
		Name:    "Broken",
		ID:      0x10,
		Length:  2,
		Signals: []Signal{{Name: "wide", Type: TypeUint32, ByteOffset: 0}},
	}

	_, err := msg.Encode(map[string]float64{"wide": 1})
	assert.Error(t, err)
	assert.Error(t, msg.Validate())
}

func TestNegativeByteOffset(t *testing.T) {
	msg := MessageDefinition{
		Name:    "Shifted",
		ID:      0x10,
		Signals: []Signal{{Name: "v", Type: TypeUint8, ByteOffset: -1, Max: 10}},
	}

	assert.NotPanics(t, func() {
		_, err := msg.Encode(map[string]float64{"v": 1})
		assert.Error(t, err)
	})
	assert.NotPanics(t, func() {
		assert.Empty(t, msg.Decode(make([]byte, 8)))
	})
	assert.Error(t, msg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     MessageDefinition
		wantErr bool
	}{
		{"valid", engineMessage(), false},
		{"no name", MessageDefinition{ID: 1}, true},
		{"unknown type", MessageDefinition{Name: "x", Signals: []Signal{{Name: "a", Type: "float"}}}, true},
		{"min above max", MessageDefinition{Name: "x", Signals: []Signal{{Name: "a", Type: TypeUint8, Min: 5, Max: 1}}}, true},
		{"negative offset", MessageDefinition{Name: "x", Signals: []Signal{{Name: "a", Type: TypeUint8, ByteOffset: -1}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFrameID(t *testing.T) {
	msg := engineMessage()
	assert.Equal(t, "0xC0", msg.FrameID())
}

func TestLoadFile(t *testing.T) {
	content := `
messages:
  - name: VehicleSpeed
    id: 0x1F0
    length: 8
    signals:
      - name: speed
        type: uint16
        byte_offset: 0
        scale: 0.01
        min: 0
        max: 250
        unit: km/h
  - name: Steering
    id: 0x25
    signals:
      - name: angle
        type: int16
        byte_offset: 0
        scale: 0.1
        min: -780
        max: 780
`
	path := filepath.Join(t.TempDir(), "defs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	defs, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "VehicleSpeed", defs[0].Name)
	assert.Equal(t, uint32(0x1F0), defs[0].ID)
	assert.Equal(t, "km/h", defs[0].Signals[0].Unit)
	assert.Equal(t, TypeInt16, defs[1].Signals[0].Type)
}

func TestParseRejectsDuplicates(t *testing.T) {
	content := `
messages:
  - name: A
    id: 0x10
  - name: B
    id: 0x10
`
	_, err := Parse([]byte(content))
	assert.Error(t, err)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
