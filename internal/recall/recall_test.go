package recall

import (
	"math"
	"testing"
	"time"

	"github.com/shannon-memory/core/internal/memcore"
)

func TestRRFFuseMatchesFormula(t *testing.T) {
	vector := []Ranked{{ID: "a", Rank: 1}, {ID: "b", Rank: 2}}
	lexical := []Ranked{{ID: "b", Rank: 1}, {ID: "c", Rank: 2}}
	out := RRFFuse(vector, lexical, 0)
	if len(out) != 3 {
		t.Fatalf("expected 3 fused candidates, got %d", len(out))
	}
	wantB := 1.0/float64(RRFK+2) + 1.0/float64(RRFK+1)
	var gotB float64
	for _, f := range out {
		if f.ID == "b" {
			gotB = f.RRF
			if !f.FromVector || !f.FromLexical {
				t.Fatalf("expected b to be marked from both channels, got %+v", f)
			}
		}
	}
	if math.Abs(gotB-wantB) > 1e-9 {
		t.Fatalf("expected RRF(b) = %v, got %v", wantB, gotB)
	}
	if out[0].ID != "b" {
		t.Fatalf("expected b (present in both channels) to rank first, got order %+v", out)
	}
}

func TestRRFFuseStableTieBreak(t *testing.T) {
	vector := []Ranked{{ID: "z", Rank: 1}, {ID: "a", Rank: 1}}
	out := RRFFuse(vector, nil, 0)
	if out[0].ID != "a" || out[1].ID != "z" {
		t.Fatalf("expected tie broken by ID ascending, got %+v", out)
	}
}

func TestRRFFuseTruncatesToCandidatesK(t *testing.T) {
	vector := []Ranked{{ID: "a", Rank: 1}, {ID: "b", Rank: 2}, {ID: "c", Rank: 3}}
	out := RRFFuse(vector, nil, 2)
	if len(out) != 2 {
		t.Fatalf("expected truncation to 2, got %d", len(out))
	}
}

func TestScoreWeightsSumToOneFormula(t *testing.T) {
	w := memcore.DefaultScorerWeights()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	s := Signals{
		Semantic:      1.0,
		AccessCount:   99,
		Importance:    1.0,
		LastAccessed:  now,
		GraphDistance: 0,
	}
	got := Score(s, w, now)
	// every term maxed: semantic=1, recency=exp(0)=1, frequency=log(100)/log(101),
	// graph=1/(1+0)=1, importance=1 -> score = sum of weights * respective max term
	if got <= 0.9 || got > 1.0001 {
		t.Fatalf("expected near-maximal score close to 1, got %v", got)
	}
}

func TestScoreDisconnectedGraphTermIsZero(t *testing.T) {
	w := memcore.ScorerWeights{Graph: 1.0}
	now := time.Now()
	got := Score(Signals{GraphDistance: -1, LastAccessed: now}, w, now)
	if got != 0 {
		t.Fatalf("expected disconnected graph term to contribute 0, got %v", got)
	}
}

func TestScoreGraphDistanceCappedAtSix(t *testing.T) {
	w := memcore.ScorerWeights{Graph: 1.0}
	now := time.Now()
	far := Score(Signals{GraphDistance: 50, LastAccessed: now}, w, now)
	capped := Score(Signals{GraphDistance: maxGraphDistance, LastAccessed: now}, w, now)
	if far != capped {
		t.Fatalf("expected distance beyond cap to equal capped score, got %v vs %v", far, capped)
	}
}

func TestAdjustImportanceClampsAndDirections(t *testing.T) {
	if got := AdjustImportance(0.95, memcore.FeedbackUseful, 1.0); got != 1.0 {
		t.Fatalf("expected useful feedback clamped to 1.0, got %v", got)
	}
	if got := AdjustImportance(0.05, memcore.FeedbackOutdated, 1.0); got != 0.0 {
		t.Fatalf("expected outdated feedback clamped to 0.0, got %v", got)
	}
	if got := AdjustImportance(0.5, memcore.FeedbackIrrelevant, 1.0); got != 0.4 {
		t.Fatalf("expected 0.5 - 0.1 = 0.4, got %v", got)
	}
}
