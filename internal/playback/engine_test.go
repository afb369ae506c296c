package playback

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"can-bus-simulator/internal/models"
)

type injection struct {
	id, payload string
	at          time.Time
}

type recordingInjector struct {
	mu    sync.Mutex
	calls []injection
}

func (r *recordingInjector) Inject(id, payload string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, injection{id: id, payload: payload, at: time.Now()})
}

func (r *recordingInjector) snapshot() []injection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]injection(nil), r.calls...)
}

func threeSteps(delay float64) []models.Step {
	return []models.Step{
		{ID: "0x1A2", Payload: "AAFFBBCC00000000", Delay: delay},
		{ID: "0x1F3", Payload: "00AAFF1100000000", Delay: delay},
		{ID: "0x2B4", Payload: "FF00000000000000", Delay: delay},
	}
}

func TestPlayInjectsEveryStepWithDelays(t *testing.T) {
	inj := &recordingInjector{}
	e := NewEngine(inj, Options{})
	require.NoError(t, e.CreateSequence("S", threeSteps(0.05)))

	require.NoError(t, e.Play("S", false))
	assert.True(t, e.IsPlaying())
	assert.Equal(t, "S", e.Current())

	require.Eventually(t, func() bool { return !e.IsPlaying() }, 2*time.Second, 5*time.Millisecond)

	calls := inj.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, "0x1A2", calls[0].id)
	assert.Equal(t, "0x2B4", calls[2].id)
	for i := 1; i < len(calls); i++ {
		assert.GreaterOrEqual(t, calls[i].at.Sub(calls[i-1].at), 45*time.Millisecond)
	}
	assert.Empty(t, e.Current())
}

func TestStopHaltsPlayback(t *testing.T) {
	inj := &recordingInjector{}
	e := NewEngine(inj, Options{})
	require.NoError(t, e.CreateSequence("Loop", threeSteps(0.2)))

	require.NoError(t, e.Play("Loop", true))
	require.Eventually(t, func() bool { return len(inj.snapshot()) >= 1 }, time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, e.Stop())
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, e.IsPlaying())

	count := len(inj.snapshot())
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, count, len(inj.snapshot()))
}

func TestLoopRepeats(t *testing.T) {
	inj := &recordingInjector{}
	e := NewEngine(inj, Options{})
	require.NoError(t, e.CreateSequence("Loop", threeSteps(0.005)))

	require.NoError(t, e.Play("Loop", true))
	require.Eventually(t, func() bool { return len(inj.snapshot()) > 6 }, 2*time.Second, time.Millisecond)
	assert.True(t, e.IsPlaying())
	require.NoError(t, e.Stop())
}

func TestImportRejectsOversizedDelay(t *testing.T) {
	inj := &recordingInjector{}
	e := NewEngine(inj, Options{})

	_, err := e.Import([]byte(`{"name": "S", "steps": [{"id": "0x1", "data": "00", "delay": 1e300}]}`))
	require.ErrorIs(t, err, ErrInvalidSequence)

	_, err = e.ImportYAML([]byte("name: S\nsteps:\n  - id: \"0x1\"\n    payload: \"00\"\n    delay: .nan\n"))
	require.ErrorIs(t, err, ErrInvalidSequence)

	assert.ErrorIs(t, e.Play("S", true), ErrSequenceNotFound)
	assert.Empty(t, inj.snapshot())
}

func TestLongDelaySuspendsPlayback(t *testing.T) {
	inj := &recordingInjector{}
	e := NewEngine(inj, Options{})
	require.NoError(t, e.CreateSequence("Long", []models.Step{{ID: "0x1", Payload: "00", Delay: MaxDelay / 2}}))

	require.NoError(t, e.Play("Long", true))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, e.Stop())

	assert.Len(t, inj.snapshot(), 1)
}

func TestZeroDelayLoopIsPaced(t *testing.T) {
	inj := &recordingInjector{}
	e := NewEngine(inj, Options{})
	require.NoError(t, e.CreateSequence("Burst", threeSteps(0)))

	require.NoError(t, e.Play("Burst", true))
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, e.Stop())

	// one pass per loop pause: two or three passes of three steps
	got := len(inj.snapshot())
	assert.GreaterOrEqual(t, got, 3)
	assert.LessOrEqual(t, got, 9)
}

func TestStopWhenIdle(t *testing.T) {
	e := NewEngine(&recordingInjector{}, Options{})
	assert.ErrorIs(t, e.Stop(), ErrNotPlaying)
}

func TestPlayUnknownSequence(t *testing.T) {
	e := NewEngine(&recordingInjector{}, Options{})
	assert.ErrorIs(t, e.Play("missing", false), ErrSequenceNotFound)
	assert.False(t, e.IsPlaying())
}

func TestPlayReplacesCurrentPlayback(t *testing.T) {
	inj := &recordingInjector{}
	e := NewEngine(inj, Options{})
	require.NoError(t, e.CreateSequence("A", threeSteps(1)))
	require.NoError(t, e.CreateSequence("B", threeSteps(1)))

	require.NoError(t, e.Play("A", true))
	require.NoError(t, e.Play("B", true))
	assert.Equal(t, "B", e.Current())

	infoA, err := e.Info("A")
	require.NoError(t, err)
	assert.False(t, infoA.IsPlaying)

	infoB, err := e.Info("B")
	require.NoError(t, err)
	assert.True(t, infoB.IsPlaying)

	require.NoError(t, e.Stop())
}

func TestCreateSequenceValidation(t *testing.T) {
	e := NewEngine(&recordingInjector{}, Options{})

	tests := []struct {
		name  string
		seq   string
		steps []models.Step
	}{
		{"empty name", "", threeSteps(0.1)},
		{"no steps", "S", nil},
		{"missing payload", "S", []models.Step{{ID: "0x1"}}},
		{"negative delay", "S", []models.Step{{ID: "0x1", Payload: "00", Delay: -1}}},
		{"delay beyond duration range", "S", []models.Step{{ID: "0x1", Payload: "00", Delay: 1e300}}},
		{"delay at duration limit", "S", []models.Step{{ID: "0x1", Payload: "00", Delay: MaxDelay}}},
		{"nan delay", "S", []models.Step{{ID: "0x1", Payload: "00", Delay: math.NaN()}}},
		{"infinite delay", "S", []models.Step{{ID: "0x1", Payload: "00", Delay: math.Inf(1)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, e.CreateSequence(tt.seq, tt.steps), ErrInvalidSequence)
		})
	}
	assert.Empty(t, e.List())
}

func TestCreateSequenceReplacesByName(t *testing.T) {
	e := NewEngine(&recordingInjector{}, Options{})
	require.NoError(t, e.CreateSequence("S", threeSteps(0.1)))
	require.NoError(t, e.CreateSequence("S", threeSteps(0.1)[:1]))

	info, err := e.Info("S")
	require.NoError(t, err)
	assert.Equal(t, 1, info.MessageCount)
	assert.Len(t, e.List(), 1)
}

func TestInfoAndList(t *testing.T) {
	e := NewEngine(&recordingInjector{}, Options{})
	require.NoError(t, e.CreateSequence("b", threeSteps(0.5)))
	require.NoError(t, e.CreateSequence("a", threeSteps(0.25)))

	info, err := e.Info("b")
	require.NoError(t, err)
	assert.Equal(t, models.SequenceInfo{Name: "b", MessageCount: 3, TotalDuration: 1.5}, info)

	_, err = e.Info("zzz")
	assert.ErrorIs(t, err, ErrSequenceNotFound)

	list := e.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)
	assert.Equal(t, 0.75, list[0].TotalDuration)
}

func TestDelete(t *testing.T) {
	e := NewEngine(&recordingInjector{}, Options{})
	require.NoError(t, e.CreateSequence("S", threeSteps(1)))
	require.NoError(t, e.Play("S", true))

	require.NoError(t, e.Delete("S"))
	assert.False(t, e.IsPlaying())
	assert.ErrorIs(t, e.Delete("S"), ErrSequenceNotFound)
}

func TestSend(t *testing.T) {
	inj := &recordingInjector{}
	e := NewEngine(inj, Options{})

	require.NoError(t, e.Send("0x7DF", "0201"))
	assert.ErrorIs(t, e.Send("", "00"), ErrInvalidSequence)

	calls := inj.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "0x7DF", calls[0].id)
}

func TestExportImportRoundTrip(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	src := NewEngine(&recordingInjector{}, Options{Now: func() time.Time { return fixed }})

	steps := threeSteps(0.2)
	steps[1].Delay = 0
	require.NoError(t, src.CreateSequence("Turn Signals Test", steps))

	out, err := src.Export("Turn Signals Test")
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(out, &raw))
	assert.Equal(t, "2026-03-01 12:30:00", raw["export_date"])
	assert.Contains(t, raw, "steps")

	dst := NewEngine(&recordingInjector{}, Options{})
	imported, err := dst.Import(out)
	require.NoError(t, err)

	want, err := src.Get("Turn Signals Test")
	require.NoError(t, err)
	assert.Equal(t, want, imported)

	stored, err := dst.Get("Turn Signals Test")
	require.NoError(t, err)
	assert.Equal(t, want, stored)
}

func TestExportUnknown(t *testing.T) {
	e := NewEngine(&recordingInjector{}, Options{})
	_, err := e.Export("nope")
	assert.ErrorIs(t, err, ErrSequenceNotFound)
}

func TestImportLegacyMessages(t *testing.T) {
	e := NewEngine(&recordingInjector{}, Options{})
	seq, err := e.Import([]byte(`{
		"name": "Horn Test",
		"messages": [
			{"id": "0x1A2", "data": "AAFFBBCC00000000", "delay": 0.5},
			{"id": "0x1A2", "data": "00FFBBCC00000000"}
		]
	}`))
	require.NoError(t, err)

	assert.Equal(t, []models.Step{
		{ID: "0x1A2", Payload: "AAFFBBCC00000000", Delay: 0.5},
		{ID: "0x1A2", Payload: "00FFBBCC00000000", Delay: DefaultDelay},
	}, seq.Steps)
}

func TestImportInvalid(t *testing.T) {
	e := NewEngine(&recordingInjector{}, Options{})

	for _, doc := range []string{`not json`, `{"name": "x"}`, `{"steps": [{"id": "0x1", "payload": "00"}]}`} {
		_, err := e.Import([]byte(doc))
		assert.ErrorIs(t, err, ErrInvalidSequence, doc)
	}
	assert.Empty(t, e.List())
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"horn.json": `{"name": "Horn", "steps": [{"id": "0x1A2", "payload": "AA", "delay": 0.1}]}`,
		"turn.yaml": "name: Turn\nsteps:\n  - id: \"0x3C5\"\n    payload: AA00\n    delay: 0.5\n  - id: \"0x3C5\"\n    payload: \"0000\"\n",
		"bad.json":  `{"name": ""}`,
		"notes.txt": `ignored`,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	e := NewEngine(&recordingInjector{}, Options{})
	n, err := e.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	turn, err := e.Get("Turn")
	require.NoError(t, err)
	require.Len(t, turn.Steps, 2)
	assert.Equal(t, "0000", turn.Steps[1].Payload)
	assert.Equal(t, DefaultDelay, turn.Steps[1].Delay)

	_, err = e.LoadDir(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestExportFile(t *testing.T) {
	e := NewEngine(&recordingInjector{}, Options{})
	require.NoError(t, e.CreateSequence("S", threeSteps(0.1)))

	path := filepath.Join(t.TempDir(), "exports", "s.json")
	require.NoError(t, e.ExportFile("S", path))

	other := NewEngine(&recordingInjector{}, Options{})
	seq, err := other.ImportFile(path)
	require.NoError(t, err)
	assert.Equal(t, "S", seq.Name)
}
