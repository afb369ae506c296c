package logging

import "log/slog"

// Common field names for consistent logging across components.
const (
	FieldComponent = "component"
	FieldFrameID   = "frame_id"
	FieldPayload   = "payload"
	FieldEvent     = "event"
	FieldSequence  = "sequence"
	FieldPattern   = "pattern"
	FieldCount     = "count"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
)

// Component returns a slog attribute for the component name.
func Component(name string) slog.Attr {
	return slog.String(FieldComponent, name)
}

// FrameID returns a slog attribute for a CAN identifier.
func FrameID(id string) slog.Attr {
	return slog.String(FieldFrameID, id)
}

// Payload returns a slog attribute for a hex payload.
func Payload(data string) slog.Attr {
	return slog.String(FieldPayload, data)
}

// Event returns a slog attribute for an event name.
func Event(name string) slog.Attr {
	return slog.String(FieldEvent, name)
}

// Sequence returns a slog attribute for a playback sequence name.
func Sequence(name string) slog.Attr {
	return slog.String(FieldSequence, name)
}

// Pattern returns a slog attribute for a filter pattern.
func Pattern(p string) slog.Attr {
	return slog.String(FieldPattern, p)
}

// Count returns a slog attribute for a count.
func Count(n int) slog.Attr {
	return slog.Int(FieldCount, n)
}

// Method returns a slog attribute for the HTTP method.
func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

// Path returns a slog attribute for the HTTP path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
