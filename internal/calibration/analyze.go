package calibration

import (
	"math"
	"sort"

	"can-bus-simulator/internal/models"
)

// Baseline maps a frame id to the set of payloads seen before the action
type Baseline map[string]map[string]struct{}

// Add records one baseline observation
func (b Baseline) Add(id, payload string) {
	set, ok := b[id]
	if !ok {
		set = make(map[string]struct{})
		b[id] = set
	}
	set[payload] = struct{}{}
}

// Payloads returns the baseline payloads for id, sorted
func (b Baseline) Payloads(id string) []string {
	out := make([]string, 0, len(b[id]))
	for p := range b[id] {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// UnknownIDScore is the fixed score of an id that never appeared in the baseline
const UnknownIDScore = 0.5

type observation struct {
	count     int
	firstSeen float64
}

type idCapture struct {
	total    int
	first    models.Frame
	order    []string
	payloads map[string]*observation
}

// Analyze ranks the captured frames that look like the calibrated action.
// Ids absent from the baseline count only when they recur more than twice;
// for known ids every payload missing from the baseline is scored on
// baseline stability, repetition and how early it appeared.
func Analyze(baseline Baseline, captured []models.Frame, windowStart, windowSeconds float64, limit int) []models.Candidate {
	byID := make(map[string]*idCapture)
	var ids []string

	for _, f := range captured {
		c, ok := byID[f.ID]
		if !ok {
			c = &idCapture{first: f, payloads: make(map[string]*observation)}
			byID[f.ID] = c
			ids = append(ids, f.ID)
		}
		c.total++

		obs, ok := c.payloads[f.Payload]
		if !ok {
			obs = &observation{firstSeen: f.Timestamp}
			c.payloads[f.Payload] = obs
			c.order = append(c.order, f.Payload)
		}
		obs.count++
		obs.firstSeen = math.Min(obs.firstSeen, f.Timestamp)
	}

	candidates := make([]models.Candidate, 0)
	for _, id := range ids {
		c := byID[id]

		known, ok := baseline[id]
		if !ok {
			if c.total > 2 {
				candidates = append(candidates, models.Candidate{
					ID:        id,
					Payload:   c.first.Payload,
					Count:     c.total,
					Score:     UnknownIDScore,
					FirstSeen: c.first.Timestamp,
				})
			}
			continue
		}

		stability := 1.0 / float64(len(known)+1)
		for _, payload := range c.order {
			if _, seen := known[payload]; seen {
				continue
			}
			obs := c.payloads[payload]

			occurrence := math.Min(float64(obs.count)/3, 1.0)
			timeFactor := 1.0
			if windowSeconds > 0 {
				timeFactor = 1.0 - math.Min(math.Max((obs.firstSeen-windowStart)/windowSeconds, 0), 1.0)
			}

			candidates = append(candidates, models.Candidate{
				ID:        id,
				Payload:   payload,
				Count:     obs.count,
				Score:     0.4*stability + 0.4*occurrence + 0.2*timeFactor,
				FirstSeen: obs.firstSeen,
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}
