package recommend

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aveslab/curio/pkg/models"
)

// PatternSource supplies learned adjustments. Implemented by the pattern
// learner; kept as an interface so the engine tests run without storage.
type PatternSource interface {
	// CandidateAdjustment returns the averaged learned adjustment in [0,1]
	// for a species' annotated features. ok is false when no feature has an
	// authoritative pattern.
	CandidateAdjustment(ctx context.Context, speciesID string, featureNames []string) (adj float64, ok bool, err error)
}

// Engine computes ranked recommendations. Given identical candidates,
// request, and learned/quality state, results are fully deterministic: no
// randomness anywhere, ties broken by annotation count then creation time.
type Engine struct {
	config   *Config
	patterns PatternSource
	cache    Cache
	log      zerolog.Logger
	now      func() time.Time
}

// New creates an engine. If config is nil, uses the default configuration;
// if cache is nil, an in-memory LRU cache is created from the config.
func New(patterns PatternSource, config *Config, cache Cache, log zerolog.Logger) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cache == nil {
		cache = NewLRUCache(config.CacheCapacity, config.CacheTTL)
	}
	return &Engine{
		config:   config,
		patterns: patterns,
		cache:    cache,
		log:      log.With().Str("component", "recommend").Logger(),
		now:      time.Now,
	}, nil
}

// SetClock replaces the engine's clock. Test helper.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Cache exposes the engine's cache for stats reporting.
func (e *Engine) Cache() Cache { return e.cache }

// Recommend ranks candidates for the request. Repeated requests with the
// same normalized context are served from cache until the TTL lapses; a
// cache hit returns exactly what a fresh computation produced at caching
// time.
func (e *Engine) Recommend(ctx context.Context, candidates []*models.Candidate, req Request) (*Response, error) {
	if !models.ValidExerciseType(req.ExerciseType) {
		return nil, &models.ValidationError{Field: "exercise_type", Reason: fmt.Sprintf("unknown type %q", req.ExerciseType)}
	}

	key := CacheKey(req)
	if cached, ok := e.cache.Get(key); ok {
		hit := cached.clone()
		hit.FromCache = true
		return hit, nil
	}

	resp, err := e.compute(ctx, candidates, req.normalized())
	if err != nil {
		return nil, err
	}

	// Cache a private copy: the entry must stay intact however callers
	// mutate the response they were handed.
	e.cache.Put(key, resp.clone())
	return resp, nil
}

// compute runs the full scoring pipeline on a normalized request.
func (e *Engine) compute(ctx context.Context, candidates []*models.Candidate, req Request) (*Response, error) {
	topN := req.TopN
	if topN <= 0 {
		topN = e.config.DefaultTopN
	}

	gaps := make(map[string]bool, len(req.VocabularyGaps))
	for _, g := range req.VocabularyGaps {
		gaps[g] = true
	}
	speciesFilter := make(map[string]bool, len(req.SpeciesFilter))
	for _, s := range req.SpeciesFilter {
		speciesFilter[s] = true
	}

	scored := make([]CandidateScore, 0, len(candidates))
	for _, c := range candidates {
		if len(speciesFilter) > 0 && !speciesFilter[c.SpeciesID] {
			continue
		}
		cs, err := e.score(ctx, c, req, gaps)
		if err != nil {
			return nil, err
		}
		scored = append(scored, cs)
	}

	// Deterministic order: final desc, then annotation count desc, then
	// creation time asc, then image ID for a total order.
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Final != scored[j].Final {
			return scored[i].Final > scored[j].Final
		}
		if scored[i].annotations != scored[j].annotations {
			return scored[i].annotations > scored[j].annotations
		}
		if !scored[i].createdAt.Equal(scored[j].createdAt) {
			return scored[i].createdAt.Before(scored[j].createdAt)
		}
		return scored[i].ImageID < scored[j].ImageID
	})

	recommended, alternates, reasoning := e.diversify(scored, topN)

	return &Response{
		Recommended: recommended,
		Alternates:  alternates,
		Reasoning:   reasoning,
		ComputedAt:  e.now(),
	}, nil
}

// score computes the four component scores and the weighted final for one
// candidate.
func (e *Engine) score(ctx context.Context, c *models.Candidate, req Request, gaps map[string]bool) (CandidateScore, error) {
	cs := CandidateScore{
		ImageID:     c.ImageID,
		SpeciesID:   c.SpeciesID,
		annotations: len(c.Annotations),
		createdAt:   c.CreatedAt,
	}

	// Quality: normalized overall, or unknown when never assessed.
	if c.Quality != nil {
		cs.Quality = c.Quality.Overall / 100
		cs.QualityKnown = true
	}

	relevance, notes := e.relevanceFor(c, req.ExerciseType, cs.Quality, cs.QualityKnown)
	cs.Reasons = append(cs.Reasons, notes...)

	cs.Historical = c.HistoricalSuccess()

	features := make([]string, 0, len(c.Annotations))
	seen := make(map[string]bool, len(c.Annotations))
	for _, a := range c.Annotations {
		if !seen[a.FeatureName] {
			seen[a.FeatureName] = true
			features = append(features, a.FeatureName)
		}
	}
	adj, known, err := e.patterns.CandidateAdjustment(ctx, c.SpeciesID, features)
	if err != nil {
		return cs, fmt.Errorf("pattern adjustment for %s: %w", c.ImageID, err)
	}
	cs.Pattern = adj
	cs.PatternKnown = known
	if !known {
		cs.Reasons = append(cs.Reasons, "no learned pattern yet: neutral adjustment")
	}

	// Multiplicative boosts apply to relevance before the final weighting.
	for _, term := range c.Vocabulary() {
		if gaps[term] {
			relevance *= e.config.GapBoost
			cs.Reasons = append(cs.Reasons, fmt.Sprintf("boosted: fills vocabulary gap %q", term))
			break
		}
	}
	if cs.Historical > e.config.HighSuccessThreshold {
		relevance *= e.config.SuccessBoost
		cs.Reasons = append(cs.Reasons, fmt.Sprintf("boosted: strong exercise history (%.0f%% success)", cs.Historical*100))
	}
	if relevance > 1 {
		relevance = 1
	}
	cs.Relevance = relevance

	// Weighted combination. An unassessed candidate is excluded from the
	// quality component rather than scored zero: the remaining weights are
	// renormalized so quality-unknown images aren't unfairly buried.
	cfg := e.config
	if cs.QualityKnown {
		cs.Final = cfg.QualityWeight*cs.Quality +
			cfg.RelevanceWeight*cs.Relevance +
			cfg.HistoryWeight*cs.Historical +
			cfg.PatternWeight*cs.Pattern
	} else {
		rest := cfg.RelevanceWeight + cfg.HistoryWeight + cfg.PatternWeight
		cs.Final = (cfg.RelevanceWeight*cs.Relevance +
			cfg.HistoryWeight*cs.Historical +
			cfg.PatternWeight*cs.Pattern) / rest
		cs.Reasons = append(cs.Reasons, "quality unknown: ranked without quality component")
	}

	cs.Reasons = append(cs.Reasons, fmt.Sprintf(
		"score %.3f (quality %.2f, relevance %.2f, history %.2f, pattern %.2f)",
		cs.Final, cs.Quality, cs.Relevance, cs.Historical, cs.Pattern))
	return cs, nil
}

// diversify fills the top-N window while capping same-species repeats;
// candidates skipped for diversity lead the alternates.
func (e *Engine) diversify(scored []CandidateScore, topN int) (recommended, alternates []CandidateScore, reasoning []string) {
	perSpecies := make(map[string]int)

	for _, cs := range scored {
		if len(recommended) < topN && perSpecies[cs.SpeciesID] < e.config.MaxPerSpecies {
			perSpecies[cs.SpeciesID]++
			recommended = append(recommended, cs)
			continue
		}
		if len(recommended) < topN {
			cs.Reasons = append(cs.Reasons, fmt.Sprintf("moved to alternates: species %s already represented %d times", cs.SpeciesID, e.config.MaxPerSpecies))
		}
		alternates = append(alternates, cs)
	}

	for _, cs := range recommended {
		reasoning = append(reasoning, fmt.Sprintf("%s: %s", cs.ImageID, lastReason(cs)))
	}
	return recommended, alternates, reasoning
}

func lastReason(cs CandidateScore) string {
	if len(cs.Reasons) == 0 {
		return ""
	}
	return cs.Reasons[len(cs.Reasons)-1]
}
