// Package recall implements RecallScorer (C9): the multi-signal scoring
// formula that blends vector/lexical fusion rank with recency, frequency,
// graph distance and importance (spec §4.7), plus the Reciprocal Rank
// Fusion primitive hybrid recall uses to merge the dense and lexical
// candidate lists before scoring (spec §4.5.2 step 3). RRF is grounded on
// sqvect's pkg/memory/recall.go rrfFuse (k=60, 1-based rank contribution
// 1/(k+rank)); the scoring formula itself has no teacher/pack analog and
// is written directly off spec §4.7's prose.
package recall

import (
	"math"
	"sort"
	"time"

	"github.com/shannon-memory/core/internal/memcore"
)

// RRFK is the standard Reciprocal Rank Fusion constant (spec §4.5.2 step 3,
// sqvect's rrfK).
const RRFK = 60

// Ranked is one item in a single channel's ranked list, 1-based rank.
type Ranked struct {
	ID   string
	Rank int
}

// Fused is one RRF-fused candidate plus provenance.
type Fused struct {
	ID          string
	RRF         float64
	FromVector  bool
	FromLexical bool
}

// RRFFuse merges the vector and lexical channels' ranked candidate lists
// via RRF(d) = Σ 1/(k_rrf + rank_s(d)) over the sources d appears in (spec
// §4.5.2 step 3, P5). Ties after fusion are broken by a stable sort on ID
// so P5's "stable sort breaks ties deterministically" holds regardless of
// map iteration order.
func RRFFuse(vector, lexical []Ranked, candidatesK int) []Fused {
	type acc struct {
		score       float64
		fromVector  bool
		fromLexical bool
	}
	byID := make(map[string]*acc)
	order := make([]string, 0, len(vector)+len(lexical))

	add := func(items []Ranked, markVector bool) {
		for _, it := range items {
			a, ok := byID[it.ID]
			if !ok {
				a = &acc{}
				byID[it.ID] = a
				order = append(order, it.ID)
			}
			a.score += 1.0 / float64(RRFK+it.Rank)
			if markVector {
				a.fromVector = true
			} else {
				a.fromLexical = true
			}
		}
	}
	add(vector, true)
	add(lexical, false)

	out := make([]Fused, 0, len(order))
	for _, id := range order {
		a := byID[id]
		out = append(out, Fused{ID: id, RRF: a.score, FromVector: a.fromVector, FromLexical: a.fromLexical})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RRF != out[j].RRF {
			return out[i].RRF > out[j].RRF
		}
		return out[i].ID < out[j].ID
	})
	if candidatesK > 0 && len(out) > candidatesK {
		out = out[:candidatesK]
	}
	return out
}

// Defaults for the scoring formula (spec §4.7).
const (
	defaultTau     = 30.0  // days
	defaultFreqSat = 100.0
	maxGraphDistance = 6
)

// Signals carries the per-memory inputs to Score, decoupling the formula
// from how each signal was computed (sim from VectorIndex/candidate
// overlap, graphDistance from GraphStore.ShortestPathLen, etc).
type Signals struct {
	Semantic      float64   // sim(q, m) in [0, 1]; 0 if m wasn't a vector-channel hit
	AccessCount   int64
	Importance    float64   // in [0, 1]
	LastAccessed  time.Time
	GraphDistance int       // shortest path length to nearest seed; -1 if disconnected
}

// Score computes spec §4.7's blended relevance score at instant now.
func Score(s Signals, w memcore.ScorerWeights, now time.Time) float64 {
	recency := math.Exp(-daysSince(s.LastAccessed, now) / defaultTau)
	frequency := math.Log(1+float64(s.AccessCount)) / math.Log(1+defaultFreqSat)

	graphDist := s.GraphDistance
	var graphTerm float64
	if graphDist < 0 {
		graphTerm = 0 // disconnected: term is 0 per spec
	} else {
		if graphDist > maxGraphDistance {
			graphDist = maxGraphDistance
		}
		graphTerm = 1.0 / float64(1+graphDist)
	}

	return w.Semantic*s.Semantic +
		w.Recency*recency +
		w.Frequency*frequency +
		w.Graph*graphTerm +
		w.Importance*s.Importance
}

func daysSince(t, now time.Time) float64 {
	if t.IsZero() {
		return defaultTau * 1000 // effectively zero recency contribution
	}
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	return d.Hours() / 24.0
}

// AdjustImportance applies a feedback label's cumulative adjustment to
// importance, clamped to [0, 1] (spec §4.7: "useful: +0.1·|weight|,
// irrelevant: −0.1·|weight|, outdated: −0.2·|weight|"). weight is the
// feedback event's own weight (default 1.0 for an unweighted client call).
func AdjustImportance(current float64, label memcore.FeedbackLabel, weight float64) float64 {
	if weight == 0 {
		weight = 1.0
	}
	w := math.Abs(weight)
	var delta float64
	switch label {
	case memcore.FeedbackUseful:
		delta = 0.1 * w
	case memcore.FeedbackIrrelevant:
		delta = -0.1 * w
	case memcore.FeedbackOutdated:
		delta = -0.2 * w
	}
	adjusted := current + delta
	if adjusted < 0 {
		return 0
	}
	if adjusted > 1 {
		return 1
	}
	return adjusted
}
