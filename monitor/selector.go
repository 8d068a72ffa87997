package monitor

import "github.com/streamrec/core/model"

// Candidate is one pre-resolution stream option an extractor offers.
// ResolveURL turns it into a concrete, ready-to-download model.StreamInfo.
type Candidate struct {
	URL      string
	Quality  string
	Codec    string
	Format   string
	Priority int
	Headers  map[string]string
}

// rank stable-sorts candidates best-first per criteria: an exact
// quality match outranks everything else, then earlier entries in
// PreferredCodecs/PreferredFormats outrank later ones, then the
// extractor's own Priority breaks any remaining tie. An empty
// criteria field contributes nothing, so an unconfigured
// StreamSelectionCriteria leaves the extractor's original Priority
// ordering untouched.
func rank(candidates []Candidate, criteria model.StreamSelectionCriteria) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	scores := make([]int, len(out))
	for i, c := range out {
		scores[i] = candidateScore(c, criteria)
	}
	// insertion sort: candidate lists are small (a handful of
	// qualities per stream) and this keeps equal scores in their
	// original, already-priority-ordered relative position.
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && scores[j] > scores[j-1] {
			out[j], out[j-1] = out[j-1], out[j]
			scores[j], scores[j-1] = scores[j-1], scores[j]
			j--
		}
	}
	return out
}

func candidateScore(c Candidate, criteria model.StreamSelectionCriteria) int {
	score := c.Priority
	if criteria.PreferredQuality != "" && c.Quality == criteria.PreferredQuality {
		score += 1_000_000
	}
	if i := indexOf(criteria.PreferredCodecs, c.Codec); i >= 0 {
		score += 10_000 - i*100
	}
	if i := indexOf(criteria.PreferredFormats, c.Format); i >= 0 {
		score += 1_000 - i*10
	}
	return score
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}
