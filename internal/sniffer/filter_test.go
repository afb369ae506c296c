package sniffer

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"can-bus-simulator/internal/models"
)

var base = time.Unix(1_700_000_000, 0)

func fixedFilter(now time.Time) *Filter {
	opts := DefaultOptions()
	opts.Now = func() time.Time { return now }
	return NewFilter(opts)
}

func frameAt(id, payload string, offset time.Duration) models.Frame {
	return models.Frame{ID: id, Payload: payload, Timestamp: models.Timestamp(base.Add(offset))}
}

func TestProcessWithoutRulesPassesEverything(t *testing.T) {
	f := NewFilter(DefaultOptions())
	f.SetMode(false)

	in := models.Frame{ID: "0x100", Payload: "0000", Timestamp: 1, Event: "Horn", Signals: map[string]float64{"a": 1}}
	out, ok := f.Process(in)
	require.True(t, ok)
	assert.Equal(t, in, out.Frame)
	assert.False(t, out.ChangeDetected)

	// The annotated copy does not alias the caller's map
	out.Signals["a"] = 2
	assert.Equal(t, 1.0, in.Signals["a"])
}

func TestIDRules(t *testing.T) {
	tests := []struct {
		name        string
		includeMode bool
		rules       []Rule
		id          string
		want        bool
	}{
		{"include mode hit", true, []Rule{{Kind: RuleID, Subject: "0x1A2", Include: true}}, "0x1A2", true},
		{"include mode miss", true, []Rule{{Kind: RuleID, Subject: "0x1A2", Include: true}}, "0x100", false},
		{"include mode only exclude rules", true, []Rule{{Kind: RuleID, Subject: "0x1A2"}}, "0x100", false},
		{"exclude mode blocked", false, []Rule{{Kind: RuleID, Subject: "0x1A2"}}, "0x1A2", false},
		{"exclude mode other id", false, []Rule{{Kind: RuleID, Subject: "0x1A2"}}, "0x100", true},
		{"exclude mode ignores include rules", false, []Rule{{Kind: RuleID, Subject: "0x1A2", Include: true}}, "0x100", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFilter(DefaultOptions())
			f.SetMode(tt.includeMode)
			for _, r := range tt.rules {
				f.AddIDRule(r.Subject, r.Include)
			}

			_, ok := f.Process(models.Frame{ID: tt.id, Payload: "00"})
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestPayloadRules(t *testing.T) {
	tests := []struct {
		name        string
		includeMode bool
		pattern     string
		include     bool
		payload     string
		want        bool
	}{
		{"include search anywhere", true, "FF", true, "00FF00", true},
		{"include no match", true, "^FF", true, "00FF00", false},
		{"exclude match", false, "A5", false, "A5A5", false},
		{"exclude no match", false, "A5", false, "0000", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFilter(DefaultOptions())
			f.SetMode(tt.includeMode)
			require.NoError(t, f.AddPayloadRule(tt.pattern, tt.include))

			_, ok := f.Process(models.Frame{ID: "0x1", Payload: tt.payload})
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestBothRuleKindsMustPass(t *testing.T) {
	f := NewFilter(DefaultOptions())
	f.AddIDRule("0x1A2", true)
	require.NoError(t, f.AddPayloadRule("^AA", true))

	_, ok := f.Process(models.Frame{ID: "0x1A2", Payload: "AAFF"})
	assert.True(t, ok)
	_, ok = f.Process(models.Frame{ID: "0x1A2", Payload: "00FF"})
	assert.False(t, ok)
	_, ok = f.Process(models.Frame{ID: "0x100", Payload: "AAFF"})
	assert.False(t, ok)
}

func TestInvalidPatternRejected(t *testing.T) {
	f := NewFilter(DefaultOptions())
	require.NoError(t, f.AddPayloadRule("^00", true))

	err := f.AddPayloadRule("([A-F", true)
	assert.ErrorIs(t, err, ErrInvalidPattern)
	assert.Len(t, f.Rules(), 1)

	// The existing rule still applies
	_, ok := f.Process(models.Frame{ID: "0x1", Payload: "00AA"})
	assert.True(t, ok)
	_, ok = f.Process(models.Frame{ID: "0x1", Payload: "AA00"})
	assert.False(t, ok)
}

func TestRejectedFramesAreNotRecorded(t *testing.T) {
	f := NewFilter(DefaultOptions())
	f.AddIDRule("0x1", true)

	f.Process(models.Frame{ID: "0x2", Payload: "00"})
	assert.Nil(t, f.History("0x2"))
	assert.Empty(t, f.Recent())

	stats := f.Stats()
	assert.Equal(t, uint64(1), stats.Processed)
	assert.Equal(t, uint64(0), stats.Accepted)
}

func TestClearRulesAndMode(t *testing.T) {
	f := NewFilter(DefaultOptions())
	assert.True(t, f.IncludeMode())

	f.AddIDRule("0x1", true)
	require.NoError(t, f.AddPayloadRule("FF", false))
	assert.Equal(t, []Rule{
		{Kind: RuleID, Subject: "0x1", Include: true},
		{Kind: RulePayload, Subject: "FF", Include: false},
	}, f.Rules())

	f.ClearRules()
	assert.Empty(t, f.Rules())

	_, ok := f.Process(models.Frame{ID: "0x9", Payload: "FF"})
	assert.True(t, ok)
}

func TestChangeDetection(t *testing.T) {
	f := NewFilter(DefaultOptions())

	steps := []struct {
		id      string
		payload string
		want    bool
	}{
		{"0x1A2", "00", false},
		{"0x1A2", "00", false},
		{"0x300", "FF", false},
		{"0x1A2", "AA", true},
		{"0x1A2", "AA", false},
		{"0x300", "FE", true},
		{"0x1A2", "00", true},
	}

	for i, s := range steps {
		out, ok := f.Process(models.Frame{ID: s.id, Payload: s.payload})
		require.True(t, ok)
		assert.Equal(t, s.want, out.ChangeDetected, "step %d", i)
	}
}

func TestChangeDetectionIgnoresRejectedFrames(t *testing.T) {
	f := NewFilter(DefaultOptions())
	require.NoError(t, f.AddPayloadRule("^FF", false))
	f.SetMode(false)

	f.Process(models.Frame{ID: "0x1", Payload: "00"})
	_, ok := f.Process(models.Frame{ID: "0x1", Payload: "FF"})
	assert.False(t, ok)

	out, ok := f.Process(models.Frame{ID: "0x1", Payload: "00"})
	require.True(t, ok)
	assert.False(t, out.ChangeDetected)
}

func TestHistoryIsBounded(t *testing.T) {
	opts := DefaultOptions()
	opts.PerIDCapacity = 3
	opts.GlobalCapacity = 4
	f := NewFilter(opts)

	for i := 0; i < 5; i++ {
		f.Process(models.Frame{ID: "0x1", Payload: fmt.Sprintf("%02X", i)})
	}
	f.Process(models.Frame{ID: "0x2", Payload: "00"})

	h := f.History("0x1")
	require.Len(t, h, 3)
	assert.Equal(t, "02", h[0].Payload)
	assert.Equal(t, "04", h[2].Payload)

	recent := f.Recent()
	require.Len(t, recent, 4)
	assert.Equal(t, "0x2", recent[3].ID)

	assert.Equal(t, []string{"0x1", "0x2"}, f.IDs())
	assert.Equal(t, 2, f.Stats().DistinctIDs)
}

func TestAnalyzeFrequencyEvenSpacing(t *testing.T) {
	f := fixedFilter(base.Add(5 * time.Second))
	for i := 0; i < 5; i++ {
		f.Process(frameAt("0x1A2", "00", time.Duration(i)*time.Second))
	}

	got := f.AnalyzeFrequency("0x1A2", 10*time.Second)
	assert.Equal(t, "0x1A2", got.ID)
	assert.Equal(t, 5, got.Count)
	assert.InDelta(t, 1.0, got.FrequencyHz, 1e-6)
	assert.Equal(t, 10.0, got.Window)

	all := f.AnalyzeFrequency("", 10*time.Second)
	assert.Equal(t, "all", all.ID)
	assert.InDelta(t, 1.0, all.FrequencyHz, 1e-6)
}

func TestAnalyzeFrequencyEdgeCases(t *testing.T) {
	f := fixedFilter(base.Add(30 * time.Second))

	unknown := f.AnalyzeFrequency("0x999", 10*time.Second)
	assert.Zero(t, unknown.Count)
	assert.Zero(t, unknown.FrequencyHz)

	// Same timestamp twice
	f.Process(frameAt("0x1", "00", 25*time.Second))
	f.Process(frameAt("0x1", "01", 25*time.Second))
	same := f.AnalyzeFrequency("0x1", 10*time.Second)
	assert.Equal(t, 2, same.Count)
	assert.Zero(t, same.FrequencyHz)

	// Outside the trailing window
	f.Process(frameAt("0x2", "00", 0))
	f.Process(frameAt("0x2", "00", time.Second))
	stale := f.AnalyzeFrequency("0x2", 10*time.Second)
	assert.Zero(t, stale.Count)
}

func TestFindCorrelated(t *testing.T) {
	f := fixedFilter(base.Add(10 * time.Second))

	f.Process(frameAt("0x1A2", "AA", 1*time.Second))
	f.Process(frameAt("0x1A2", "AA", 5*time.Second))

	// 0x300 follows each target closely, 0x400 once, 0x500 never
	f.Process(frameAt("0x300", "00", 1100*time.Millisecond))
	f.Process(frameAt("0x300", "00", 5200*time.Millisecond))
	f.Process(frameAt("0x400", "00", 4700*time.Millisecond))
	f.Process(frameAt("0x500", "00", 3*time.Second))

	got := f.FindCorrelated("0x1A2", 500*time.Millisecond)
	assert.Equal(t, []string{"0x300", "0x400"}, got)

	assert.Empty(t, f.FindCorrelated("0x777", time.Second))
}

func TestFindCorrelatedTopTen(t *testing.T) {
	f := fixedFilter(base)

	f.Process(frameAt("0x1", "00", 0))
	for i := 0; i < 15; i++ {
		f.Process(frameAt(fmt.Sprintf("0x%X", 0x100+i), "00", 10*time.Millisecond))
	}

	got := f.FindCorrelated("0x1", time.Second)
	assert.Len(t, got, MaxCorrelated)
	assert.Equal(t, "0x100", got[0])
}
