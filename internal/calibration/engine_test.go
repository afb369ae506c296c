package calibration

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"can-bus-simulator/internal/models"
)

const (
	zeroPayload = "0000000000000000"
	fullPayload = "FFFFFFFFFFFFFFFF"
)

// fakeSampler returns its frames round-robin
type fakeSampler struct {
	mu     sync.Mutex
	frames []models.Frame
	calls  int
}

func (s *fakeSampler) Sample() (models.AnnotatedFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return models.AnnotatedFrame{}, false
	}
	f := s.frames[s.calls%len(s.frames)]
	s.calls++
	return models.AnnotatedFrame{Frame: f}, true
}

type fakeSink struct {
	mu     sync.Mutex
	events []models.EventDefinition
}

func (s *fakeSink) AddEvent(name, id, on, off string) models.EventDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	if off == "" {
		off = models.DeriveOffPayload(on)
	}
	def := models.EventDefinition{Name: name, ID: id, OnPayload: on, OffPayload: off}
	s.events = append(s.events, def)
	return def
}

// skewClock is the wall clock shifted by an adjustable offset
type skewClock struct {
	offset atomic.Int64
}

func (c *skewClock) Now() time.Time {
	return time.Now().Add(time.Duration(c.offset.Load()))
}

func (c *skewClock) Advance(d time.Duration) {
	c.offset.Add(int64(d))
}

func testEngine(t *testing.T, sampler Sampler) (*Engine, *fakeSink, *skewClock) {
	t.Helper()
	clock := &skewClock{}
	sink := &fakeSink{}
	opts := DefaultOptions()
	opts.BaselineDuration = 30 * time.Millisecond
	opts.PollInterval = time.Millisecond
	opts.Now = clock.Now
	return NewEngine(sampler, sink, opts), sink, clock
}

func TestAnalyzeScoresChangedPayload(t *testing.T) {
	baseline := Baseline{}
	baseline.Add("0x1A2", zeroPayload)

	start := 1000.0
	captured := []models.Frame{
		{ID: "0x1A2", Payload: fullPayload, Timestamp: start},
		{ID: "0x1A2", Payload: fullPayload, Timestamp: start},
		{ID: "0x1A2", Payload: fullPayload, Timestamp: start},
		{ID: "0x1A2", Payload: zeroPayload, Timestamp: start + 1},
	}

	got := Analyze(baseline, captured, start, 5, 10)
	require.Len(t, got, 1)
	assert.Equal(t, "0x1A2", got[0].ID)
	assert.Equal(t, fullPayload, got[0].Payload)
	assert.Equal(t, 3, got[0].Count)
	// 0.4*0.5 + 0.4*1.0 + 0.2*1.0
	assert.InDelta(t, 0.8, got[0].Score, 1e-9)
	assert.Equal(t, start, got[0].FirstSeen)
}

func TestAnalyzeFrameBeforeWindowStart(t *testing.T) {
	baseline := Baseline{}
	baseline.Add("0x1A2", zeroPayload)

	start := 1000.0
	captured := []models.Frame{
		{ID: "0x1A2", Payload: fullPayload, Timestamp: start - 10},
		{ID: "0x1A2", Payload: fullPayload, Timestamp: start - 10},
		{ID: "0x1A2", Payload: fullPayload, Timestamp: start - 10},
	}

	got := Analyze(baseline, captured, start, 5, 10)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.8, got[0].Score, 1e-9)
	assert.LessOrEqual(t, got[0].Score, 1.0)
}

func TestAnalyzeFactors(t *testing.T) {
	baseline := Baseline{}
	baseline.Add("0x100", "00")
	baseline.Add("0x100", "01")
	baseline.Add("0x100", "02")
	baseline.Add("0x200", "00")

	start := 0.0
	captured := []models.Frame{
		{ID: "0x100", Payload: "AA", Timestamp: 2.5},
		{ID: "0x200", Payload: "BB", Timestamp: 6},
		{ID: "0x200", Payload: "BB", Timestamp: 7},
	}

	got := Analyze(baseline, captured, start, 5, 10)
	require.Len(t, got, 2)

	byID := map[string]models.Candidate{}
	for _, c := range got {
		byID[c.ID] = c
	}

	// stability 1/4, occurrence 1/3, time 0.5
	assert.InDelta(t, 0.4*0.25+0.4/3+0.2*0.5, byID["0x100"].Score, 1e-9)
	// stability 1/2, occurrence 2/3, time clamped to 0
	assert.InDelta(t, 0.4*0.5+0.4*2/3, byID["0x200"].Score, 1e-9)
	assert.Equal(t, "0x200", got[0].ID)
}

func TestAnalyzeUnknownIDs(t *testing.T) {
	captured := []models.Frame{
		{ID: "0x7AA", Payload: "01", Timestamp: 1},
		{ID: "0x7AA", Payload: "02", Timestamp: 2},
		{ID: "0x7AA", Payload: "03", Timestamp: 3},
		{ID: "0x7BB", Payload: "01", Timestamp: 1},
		{ID: "0x7BB", Payload: "01", Timestamp: 2},
	}

	got := Analyze(Baseline{}, captured, 0, 5, 10)
	require.Len(t, got, 1)
	assert.Equal(t, "0x7AA", got[0].ID)
	assert.Equal(t, "01", got[0].Payload)
	assert.Equal(t, 3, got[0].Count)
	assert.Equal(t, UnknownIDScore, got[0].Score)
	assert.Equal(t, 1.0, got[0].FirstSeen)
}

func TestAnalyzeIgnoresBaselinePayloads(t *testing.T) {
	baseline := Baseline{}
	baseline.Add("0x1", "00")

	captured := []models.Frame{
		{ID: "0x1", Payload: "00", Timestamp: 1},
		{ID: "0x1", Payload: "00", Timestamp: 2},
	}
	assert.Empty(t, Analyze(baseline, captured, 0, 5, 10))
	assert.NotNil(t, Analyze(baseline, nil, 0, 5, 10))
}

func TestAnalyzeLimit(t *testing.T) {
	baseline := Baseline{}
	baseline.Add("0x1", "00")

	var captured []models.Frame
	for i := 0; i < 15; i++ {
		captured = append(captured, models.Frame{
			ID:        "0x1",
			Payload:   models.FormatPayload([]byte{byte(i + 1)}),
			Timestamp: float64(i) * 0.1,
		})
	}

	got := Analyze(baseline, captured, 0, 5, 10)
	require.Len(t, got, 10)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}
	// Earliest payload wins the time factor
	assert.Equal(t, "01", got[0].Payload)
}

func TestEngineSessionLifecycle(t *testing.T) {
	sampler := &fakeSampler{frames: []models.Frame{
		{ID: "0x1A2", Payload: zeroPayload},
		{ID: "0x100", Payload: zeroPayload},
	}}
	engine, sink, _ := testEngine(t, sampler)

	assert.False(t, engine.IsActive())
	assert.Equal(t, StateIdle, engine.Session().State)

	require.NoError(t, engine.Start(context.Background(), "Horn"))
	assert.True(t, engine.IsActive())

	baseline := engine.Baseline()
	assert.Equal(t, []string{zeroPayload}, baseline["0x1A2"])
	assert.Contains(t, baseline, "0x100")

	for i := 0; i < 3; i++ {
		assert.True(t, engine.Record(models.Frame{
			ID: "0x1A2", Payload: fullPayload, Timestamp: models.Timestamp(time.Now()),
		}))
	}
	engine.Record(models.Frame{ID: "0x100", Payload: zeroPayload, Timestamp: models.Timestamp(time.Now())})

	session := engine.Session()
	assert.Equal(t, "Horn", session.EventName)
	assert.Equal(t, 4, session.Captured)
	assert.NotEmpty(t, session.ID)

	candidates, err := engine.Stop()
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "0x1A2", candidates[0].ID)
	assert.InDelta(t, 0.8, candidates[0].Score, 0.01)
	assert.False(t, engine.IsActive())
	assert.Equal(t, candidates, engine.Results())

	// The stopped session's event can still be confirmed
	def, err := engine.Confirm("0x1A2", fullPayload)
	require.NoError(t, err)
	assert.Equal(t, "Horn", def.Name)
	assert.Equal(t, "00FFFFFFFFFFFFFF", def.OffPayload)
	require.Len(t, sink.events, 1)
}

func TestEngineRecordIgnoredWhenIdle(t *testing.T) {
	engine, _, _ := testEngine(t, &fakeSampler{})
	assert.False(t, engine.Record(models.Frame{ID: "0x1", Payload: "00"}))
	assert.Equal(t, 0, engine.Session().Captured)
}

func TestEngineAutoStopsAfterWindow(t *testing.T) {
	sampler := &fakeSampler{frames: []models.Frame{{ID: "0x1A2", Payload: zeroPayload}}}
	engine, _, clock := testEngine(t, sampler)

	require.NoError(t, engine.Start(context.Background(), "Brake"))
	for i := 0; i < 3; i++ {
		require.True(t, engine.Record(models.Frame{ID: "0x1A2", Payload: fullPayload, Timestamp: models.Timestamp(clock.Now())}))
	}

	clock.Advance(6 * time.Second)
	assert.False(t, engine.Record(models.Frame{ID: "0x1A2", Payload: fullPayload}))
	assert.False(t, engine.IsActive())

	results := engine.Results()
	require.Len(t, results, 1)
	assert.Equal(t, 3, results[0].Count)

	_, err := engine.Stop()
	assert.ErrorIs(t, err, ErrNotActive)

	session := engine.Session()
	assert.Equal(t, "Brake", session.LastEvent)
	assert.Empty(t, session.EventName)
}

func TestEngineStopWhenIdle(t *testing.T) {
	engine, _, _ := testEngine(t, &fakeSampler{})
	candidates, err := engine.Stop()
	assert.ErrorIs(t, err, ErrNotActive)
	assert.Nil(t, candidates)
}

func TestEngineConfirmWithoutEvent(t *testing.T) {
	engine, sink, _ := testEngine(t, &fakeSampler{})
	_, err := engine.Confirm("0x1A2", fullPayload)
	assert.ErrorIs(t, err, ErrNoEvent)
	assert.Empty(t, sink.events)
}

func TestEngineStartValidation(t *testing.T) {
	engine, _, _ := testEngine(t, &fakeSampler{})
	assert.ErrorIs(t, engine.Start(context.Background(), ""), ErrEmptyName)
}

func TestEngineStartCancelledByContext(t *testing.T) {
	engine := NewEngine(&fakeSampler{}, &fakeSink{}, Options{
		BaselineDuration: time.Minute,
		PollInterval:     time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := engine.Start(ctx, "Horn")
	assert.ErrorIs(t, err, ErrCancelled)
	assert.False(t, engine.IsActive())
	assert.Equal(t, StateIdle, engine.Session().State)
}

func TestEngineStopDuringBaseline(t *testing.T) {
	engine := NewEngine(&fakeSampler{}, &fakeSink{}, Options{
		BaselineDuration: time.Minute,
		PollInterval:     time.Millisecond,
	})

	done := make(chan error, 1)
	go func() { done <- engine.Start(context.Background(), "Horn") }()

	require.Eventually(t, func() bool {
		return engine.Session().State == StateBaseline
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, engine.Start(context.Background(), "Other"), ErrBusy)

	candidates, err := engine.Stop()
	require.NoError(t, err)
	assert.Empty(t, candidates)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
	assert.Equal(t, "Horn", engine.Session().LastEvent)
}

func TestEngineRestartClearsSession(t *testing.T) {
	sampler := &fakeSampler{frames: []models.Frame{{ID: "0x1", Payload: "00"}}}
	engine, _, _ := testEngine(t, sampler)

	require.NoError(t, engine.Start(context.Background(), "First"))
	engine.Record(models.Frame{ID: "0x1", Payload: "01"})

	require.NoError(t, engine.Start(context.Background(), "Second"))
	session := engine.Session()
	assert.Equal(t, "Second", session.EventName)
	assert.Equal(t, 0, session.Captured)
}
