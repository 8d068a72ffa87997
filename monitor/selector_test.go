package monitor

import (
	"testing"

	"github.com/streamrec/core/model"
)

func TestRankExactQualityMatchWins(t *testing.T) {
	candidates := []Candidate{
		{Quality: "480p", Priority: 10},
		{Quality: "1080p", Priority: 0},
		{Quality: "720p", Priority: 5},
	}
	out := rank(candidates, model.StreamSelectionCriteria{PreferredQuality: "1080p"})
	if out[0].Quality != "1080p" {
		t.Fatalf("expected the exact quality match first, got %q", out[0].Quality)
	}
}

func TestRankCodecPreferenceOrderBreaksTies(t *testing.T) {
	candidates := []Candidate{
		{Codec: "avc", Priority: 0},
		{Codec: "hevc", Priority: 0},
	}
	out := rank(candidates, model.StreamSelectionCriteria{PreferredCodecs: []string{"hevc", "avc"}})
	if out[0].Codec != "hevc" {
		t.Fatalf("expected hevc to rank first per the codec preference list, got %q", out[0].Codec)
	}
}

func TestRankFallsBackToPriorityWithNoCriteria(t *testing.T) {
	candidates := []Candidate{
		{Quality: "480p", Priority: 1},
		{Quality: "1080p", Priority: 3},
		{Quality: "720p", Priority: 2},
	}
	out := rank(candidates, model.StreamSelectionCriteria{})
	if out[0].Priority != 3 || out[1].Priority != 2 || out[2].Priority != 1 {
		t.Fatalf("expected descending priority order with no criteria set, got %+v", out)
	}
}

func TestRankDoesNotMutateInput(t *testing.T) {
	candidates := []Candidate{
		{Quality: "480p", Priority: 1},
		{Quality: "1080p", Priority: 3},
	}
	_ = rank(candidates, model.StreamSelectionCriteria{})
	if candidates[0].Quality != "480p" || candidates[1].Quality != "1080p" {
		t.Fatal("expected rank to leave the input slice order untouched")
	}
}
