package recommend

import (
	"sort"
	"time"

	"github.com/aveslab/curio/pkg/models"
)

// Request describes one recommendation query. The engine never mutates it.
type Request struct {
	// ExerciseType selects the relevance rules.
	ExerciseType models.ExerciseType `json:"exercise_type"`

	// Objectives are the learning objectives for the exercise being built.
	// They participate in cache-key normalization.
	Objectives []string `json:"objectives,omitempty"`

	// VocabularyGaps are terms the caller wants covered; candidates whose
	// vocabulary intersects this set get the gap boost.
	VocabularyGaps []string `json:"vocabulary_gaps,omitempty"`

	// SpeciesFilter restricts candidates to these species when non-empty.
	SpeciesFilter []string `json:"species_filter,omitempty"`

	// TopN is how many recommendations to return; 0 means the configured
	// default.
	TopN int `json:"top_n,omitempty"`
}

// normalized returns a copy with list fields sorted and de-duplicated, so
// field order in the incoming request never affects scoring or cache keys.
func (r Request) normalized() Request {
	n := Request{
		ExerciseType:   r.ExerciseType,
		TopN:           r.TopN,
		Objectives:     normalizeList(r.Objectives),
		VocabularyGaps: normalizeList(r.VocabularyGaps),
		SpeciesFilter:  normalizeList(r.SpeciesFilter),
	}
	return n
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// CandidateScore is the scored view of one candidate, recomputed per request
// unless served from cache. Component scores are normalized to [0,1].
type CandidateScore struct {
	ImageID   string `json:"image_id"`
	SpeciesID string `json:"species_id"`

	Quality      float64 `json:"quality"`
	QualityKnown bool    `json:"quality_known"`
	Relevance    float64 `json:"relevance"`
	Historical   float64 `json:"historical"`
	Pattern      float64 `json:"pattern"`
	PatternKnown bool    `json:"pattern_known"`

	Final float64 `json:"final"`

	// Reasons explains the score in human-readable terms.
	Reasons []string `json:"reasons,omitempty"`

	annotations int
	createdAt   time.Time
}

// Response is a ranked recommendation result.
type Response struct {
	Recommended []CandidateScore `json:"recommended"`
	Alternates  []CandidateScore `json:"alternates,omitempty"`
	Reasoning   []string         `json:"reasoning,omitempty"`
	ComputedAt  time.Time        `json:"computed_at"`
	FromCache   bool             `json:"from_cache"`
}

// clone deep-copies the response so a cached entry never aliases slices
// handed to a caller.
func (r *Response) clone() *Response {
	cp := *r
	cp.Recommended = cloneScores(r.Recommended)
	cp.Alternates = cloneScores(r.Alternates)
	cp.Reasoning = append([]string(nil), r.Reasoning...)
	return &cp
}

func cloneScores(in []CandidateScore) []CandidateScore {
	if in == nil {
		return nil
	}
	out := append([]CandidateScore(nil), in...)
	for i := range out {
		out[i].Reasons = append([]string(nil), out[i].Reasons...)
	}
	return out
}
