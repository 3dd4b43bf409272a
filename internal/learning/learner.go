// Package learning implements the pattern learner: per (feature, species)
// statistics driven by reviewer feedback, with idle decay and a
// minimum-sample gate on reads.
package learning

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aveslab/curio/internal/store"
	"github.com/aveslab/curio/pkg/models"
)

// lockStripes is the number of mutexes keys are hashed across. Updates to
// one (feature, species) pattern are serialized; unrelated keys rarely
// contend.
const lockStripes = 64

// Learner owns the learned-pattern state. All statistical computation is
// in-memory; the injected store is the only I/O boundary.
type Learner struct {
	config *models.LearningConfig
	store  store.Store
	log    zerolog.Logger

	stripes [lockStripes]sync.Mutex

	// recent holds the last emitted feature recommendation list per species.
	// When a recomputed ranking has the same membership, the previous order
	// is reused so small stat changes don't make the list oscillate.
	recent   map[string][]string
	recentMu sync.Mutex

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// New creates a learner over the given store.
// If config is nil, uses the default configuration.
func New(st store.Store, config *models.LearningConfig, log zerolog.Logger) *Learner {
	if config == nil {
		config = models.DefaultLearningConfig()
	}
	return &Learner{
		config: config,
		store:  st,
		log:    log.With().Str("component", "learner").Logger(),
		recent: make(map[string][]string),
		now:    time.Now,
	}
}

// SetClock replaces the learner's clock. Test helper.
func (l *Learner) SetClock(now func() time.Time) { l.now = now }

// Config returns the learner's configuration.
func (l *Learner) Config() *models.LearningConfig { return l.config }

// patternKey builds the store key for a (feature, species) pair. Species
// first, so per-species listing is a prefix scan.
func patternKey(speciesID, featureName string) string {
	return speciesID + "/" + featureName
}

func (l *Learner) lockFor(key string) *sync.Mutex {
	return &l.stripes[xxhash.Sum64String(key)%lockStripes]
}

func validateKey(featureName, speciesID string) error {
	if featureName == "" {
		return &models.ValidationError{Field: "feature_name", Reason: "must not be empty"}
	}
	if speciesID == "" {
		return &models.ValidationError{Field: "species_id", Reason: "must not be empty"}
	}
	return nil
}

// RecordApproval registers a reviewer approval for (featureName, speciesID).
// Confidence gets a small positive boost.
func (l *Learner) RecordApproval(ctx context.Context, featureName, speciesID string) error {
	if err := validateKey(featureName, speciesID); err != nil {
		return err
	}
	return l.update(ctx, featureName, speciesID, func(p *models.LearnedPattern) {
		p.Confidence = clamp01(p.Confidence + l.config.ApprovalBoost)
		p.Approvals++
	}, true)
}

// RecordRejection registers a rejection with its category. Confidence takes
// a penalty larger than the approval boost, and the (category, feature,
// species) rejection counter is incremented.
func (l *Learner) RecordRejection(ctx context.Context, featureName, speciesID string, category models.RejectionCategory) error {
	if err := validateKey(featureName, speciesID); err != nil {
		return err
	}
	if category == "" {
		return &models.ValidationError{Field: "category", Reason: "must not be empty"}
	}

	if err := l.update(ctx, featureName, speciesID, func(p *models.LearnedPattern) {
		p.Confidence = clamp01(p.Confidence - l.config.RejectionPenalty)
		p.Rejections++
	}, false); err != nil {
		return err
	}

	return l.incrementRejection(ctx, featureName, speciesID, category)
}

// RecordCorrection registers a manual bounding-box edit. Corrections are
// weighted more heavily than approvals and feed the positional statistics.
// The immutable correction record is appended to the correction ledger.
func (l *Learner) RecordCorrection(ctx context.Context, featureName, speciesID string, original, corrected models.Position, reviewerID string) (*models.PositionCorrection, error) {
	if err := validateKey(featureName, speciesID); err != nil {
		return nil, err
	}

	correction := &models.PositionCorrection{
		ID:          uuid.NewString(),
		FeatureName: featureName,
		SpeciesID:   speciesID,
		Original:    original,
		Corrected:   corrected,
		ReviewerID:  reviewerID,
		Weight:      l.config.CorrectionWeight,
		RecordedAt:  l.now(),
	}

	err := l.update(ctx, featureName, speciesID, func(p *models.LearnedPattern) {
		p.Confidence = clamp01(p.Confidence + l.config.ApprovalBoost*l.config.CorrectionWeight)
		p.Corrections++
		p.ObservePosition(corrected)
	}, true)
	if err != nil {
		return nil, err
	}

	blob, err := json.Marshal(correction)
	if err != nil {
		return nil, fmt.Errorf("marshal correction: %w", err)
	}
	key := patternKey(speciesID, featureName) + "/" + correction.ID
	if err := l.store.Put(ctx, store.NamespaceCorrections, key, blob); err != nil {
		return nil, models.NewPersistenceError(store.NamespaceCorrections, key, err)
	}

	return correction, nil
}

// update applies one feedback action to a pattern under its key lock:
// load (or create), decay if idle, mutate, persist. The store write either
// succeeds or the whole update fails with a PersistenceError; the pattern
// is re-read on the next attempt, so a failed write loses nothing silently.
func (l *Learner) update(ctx context.Context, featureName, speciesID string, mutate func(*models.LearnedPattern), approved bool) error {
	key := patternKey(speciesID, featureName)
	mu := l.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	now := l.now()

	pattern, err := l.load(ctx, featureName, speciesID)
	if err != nil {
		return err
	}
	if pattern == nil {
		pattern = models.NewLearnedPattern(featureName, speciesID, l.config.NeutralBaseline, now)
	}

	l.applyDecay(pattern, now)
	mutate(pattern)
	pattern.SampleCount++
	pattern.LastUpdatedAt = now

	blob, err := json.Marshal(pattern)
	if err != nil {
		return fmt.Errorf("marshal pattern: %w", err)
	}
	if err := l.store.Put(ctx, store.NamespacePatterns, key, blob); err != nil {
		return models.NewPersistenceError(store.NamespacePatterns, key, err)
	}

	if err := l.updateStats(ctx, featureName, speciesID, approved, now); err != nil {
		return err
	}

	l.log.Debug().
		Str("species", speciesID).
		Str("feature", featureName).
		Float64("confidence", pattern.Confidence).
		Int("samples", pattern.SampleCount).
		Msg("pattern updated")
	return nil
}

// applyDecay pulls an idle pattern back toward the neutral baseline. Decay
// is time-based: one multiplicative cycle per whole idle interval elapsed
// since the last update, applied lazily before the next mutation or read.
func (l *Learner) applyDecay(p *models.LearnedPattern, now time.Time) {
	if l.config.IdleCycle <= 0 {
		return
	}
	cycles := int(now.Sub(p.LastUpdatedAt) / l.config.IdleCycle)
	if cycles <= 0 {
		return
	}
	base := l.config.NeutralBaseline
	for i := 0; i < cycles; i++ {
		p.Confidence = base + (p.Confidence-base)*l.config.DecayFactor
	}
}

// load reads a pattern from the store. Returns nil when none exists.
func (l *Learner) load(ctx context.Context, featureName, speciesID string) (*models.LearnedPattern, error) {
	key := patternKey(speciesID, featureName)
	blob, ok, err := l.store.Get(ctx, store.NamespacePatterns, key)
	if err != nil {
		return nil, models.NewPersistenceError(store.NamespacePatterns, key, err)
	}
	if !ok {
		return nil, nil
	}
	var pattern models.LearnedPattern
	if err := json.Unmarshal(blob, &pattern); err != nil {
		return nil, fmt.Errorf("unmarshal pattern %s: %w", key, err)
	}
	return &pattern, nil
}

// GetPattern returns the pattern for (featureName, speciesID) with decay
// applied as of now. Patterns below the minimum sample threshold return
// models.ErrInsufficientData: the caller must fall back to neutral
// behavior, never treat a thin pattern as authoritative.
func (l *Learner) GetPattern(ctx context.Context, featureName, speciesID string) (*models.LearnedPattern, error) {
	if err := validateKey(featureName, speciesID); err != nil {
		return nil, err
	}

	pattern, err := l.load(ctx, featureName, speciesID)
	if err != nil {
		return nil, err
	}
	if pattern == nil || pattern.SampleCount < l.config.MinSamples {
		return nil, models.ErrInsufficientData
	}

	// Reads see the decayed view without a write; the decayed value is
	// persisted on the next update.
	l.applyDecay(pattern, l.now())
	return pattern, nil
}

// Adjustment returns the learned adjustment for (featureName, speciesID),
// normalized to [0,1]: the decayed pattern confidence. Returns
// ErrInsufficientData below the sample threshold.
func (l *Learner) Adjustment(ctx context.Context, featureName, speciesID string) (float64, error) {
	pattern, err := l.GetPattern(ctx, featureName, speciesID)
	if err != nil {
		return 0, err
	}
	return pattern.Confidence, nil
}

// CandidateAdjustment averages the learned adjustments across a candidate's
// annotated features for its species. ok is false when no feature has an
// authoritative pattern; the engine then scores the component as 0.
func (l *Learner) CandidateAdjustment(ctx context.Context, speciesID string, featureNames []string) (float64, bool, error) {
	var sum float64
	var n int
	for _, f := range featureNames {
		adj, err := l.Adjustment(ctx, f, speciesID)
		if err == models.ErrInsufficientData {
			continue
		}
		if err != nil {
			if models.IsValidation(err) {
				continue
			}
			return 0, false, err
		}
		sum += adj
		n++
	}
	if n == 0 {
		return 0, false, nil
	}
	return sum / float64(n), true, nil
}

// incrementRejection bumps the (category, feature, species) rejection
// counter under the pattern's key lock.
func (l *Learner) incrementRejection(ctx context.Context, featureName, speciesID string, category models.RejectionCategory) error {
	key := patternKey(speciesID, featureName) + "/" + string(category)
	mu := l.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	rp := &models.RejectionPattern{
		Category:    category,
		FeatureName: featureName,
		SpeciesID:   speciesID,
	}
	blob, ok, err := l.store.Get(ctx, store.NamespaceRejections, key)
	if err != nil {
		return models.NewPersistenceError(store.NamespaceRejections, key, err)
	}
	if ok {
		if err := json.Unmarshal(blob, rp); err != nil {
			return fmt.Errorf("unmarshal rejection %s: %w", key, err)
		}
	}

	rp.Count++
	rp.LastSeenAt = l.now()

	out, err := json.Marshal(rp)
	if err != nil {
		return fmt.Errorf("marshal rejection: %w", err)
	}
	if err := l.store.Put(ctx, store.NamespaceRejections, key, out); err != nil {
		return models.NewPersistenceError(store.NamespaceRejections, key, err)
	}
	return nil
}

// RejectionCount returns the total rejection count across categories for a
// (feature, species) pair.
func (l *Learner) RejectionCount(ctx context.Context, featureName, speciesID string) (int, error) {
	prefix := patternKey(speciesID, featureName) + "/"
	keys, err := l.store.List(ctx, store.NamespaceRejections, prefix)
	if err != nil {
		return 0, models.NewPersistenceError(store.NamespaceRejections, prefix, err)
	}

	total := 0
	for _, key := range keys {
		blob, ok, err := l.store.Get(ctx, store.NamespaceRejections, key)
		if err != nil {
			return 0, models.NewPersistenceError(store.NamespaceRejections, key, err)
		}
		if !ok {
			continue
		}
		var rp models.RejectionPattern
		if err := json.Unmarshal(blob, &rp); err != nil {
			return 0, fmt.Errorf("unmarshal rejection %s: %w", key, err)
		}
		total += rp.Count
	}
	return total, nil
}

// updateStats maintains the per (species, feature) coverage counters used
// for feature recommendations and vocabulary-gap detection.
func (l *Learner) updateStats(ctx context.Context, featureName, speciesID string, approved bool, now time.Time) error {
	key := patternKey(speciesID, featureName)

	stats := &models.SpeciesFeatureStats{
		SpeciesID:   speciesID,
		FeatureName: featureName,
	}
	blob, ok, err := l.store.Get(ctx, store.NamespaceStats, key)
	if err != nil {
		return models.NewPersistenceError(store.NamespaceStats, key, err)
	}
	if ok {
		if err := json.Unmarshal(blob, stats); err != nil {
			return fmt.Errorf("unmarshal stats %s: %w", key, err)
		}
	}

	stats.Occurrences++
	if approved {
		stats.Approved++
	}
	stats.UpdatedAt = now

	out, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	if err := l.store.Put(ctx, store.NamespaceStats, key, out); err != nil {
		return models.NewPersistenceError(store.NamespaceStats, key, err)
	}
	return nil
}

// speciesStats loads all coverage stats for one species.
func (l *Learner) speciesStats(ctx context.Context, speciesID string) ([]*models.SpeciesFeatureStats, error) {
	prefix := speciesID + "/"
	keys, err := l.store.List(ctx, store.NamespaceStats, prefix)
	if err != nil {
		return nil, models.NewPersistenceError(store.NamespaceStats, prefix, err)
	}

	stats := make([]*models.SpeciesFeatureStats, 0, len(keys))
	for _, key := range keys {
		blob, ok, err := l.store.Get(ctx, store.NamespaceStats, key)
		if err != nil {
			return nil, models.NewPersistenceError(store.NamespaceStats, key, err)
		}
		if !ok {
			continue
		}
		var s models.SpeciesFeatureStats
		if err := json.Unmarshal(blob, &s); err != nil {
			return nil, fmt.Errorf("unmarshal stats %s: %w", key, err)
		}
		stats = append(stats, &s)
	}
	return stats, nil
}

// GetRecommendedFeatures ranks features for a species by how much they need
// attention: rarely annotated first, then historically troublesome (low
// approval rate), then name for determinism. Target-vocabulary features
// with no annotations at all rank before anything observed. Output is
// bounded by MaxRecommendations.
func (l *Learner) GetRecommendedFeatures(ctx context.Context, speciesID string) ([]string, error) {
	if speciesID == "" {
		return nil, &models.ValidationError{Field: "species_id", Reason: "must not be empty"}
	}

	stats, err := l.speciesStats(ctx, speciesID)
	if err != nil {
		return nil, err
	}

	byFeature := make(map[string]*models.SpeciesFeatureStats, len(stats))
	for _, s := range stats {
		byFeature[s.FeatureName] = s
	}

	// Unobserved target-vocabulary features participate with zero counts.
	for _, f := range l.config.TargetVocabulary {
		if _, ok := byFeature[f]; !ok {
			byFeature[f] = &models.SpeciesFeatureStats{SpeciesID: speciesID, FeatureName: f}
		}
	}

	ranked := make([]*models.SpeciesFeatureStats, 0, len(byFeature))
	for _, s := range byFeature {
		ranked = append(ranked, s)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Occurrences != ranked[j].Occurrences {
			return ranked[i].Occurrences < ranked[j].Occurrences
		}
		ri, rj := ranked[i].ApprovalRate(), ranked[j].ApprovalRate()
		if ri != rj {
			return ri < rj
		}
		return ranked[i].FeatureName < ranked[j].FeatureName
	})

	limit := l.config.MaxRecommendations
	if limit <= 0 || limit > len(ranked) {
		limit = len(ranked)
	}
	features := make([]string, 0, limit)
	for _, s := range ranked[:limit] {
		features = append(features, s.FeatureName)
	}

	return l.stabilize(speciesID, features), nil
}

// stabilize reuses the previously emitted order when the recomputed list has
// the same membership, so marginal stat changes don't reshuffle the
// recommendations a curator is already working through.
func (l *Learner) stabilize(speciesID string, features []string) []string {
	l.recentMu.Lock()
	defer l.recentMu.Unlock()

	prev, ok := l.recent[speciesID]
	if ok && sameMembers(prev, features) {
		return append([]string(nil), prev...)
	}

	l.recent[speciesID] = append([]string(nil), features...)
	return features
}

func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	for _, s := range b {
		if !set[s] {
			return false
		}
	}
	return true
}

// GapsForSpecies derives prioritized vocabulary gaps for one species:
// target features whose coverage is below the goal, most underserved first.
func (l *Learner) GapsForSpecies(ctx context.Context, speciesID string) ([]models.VocabularyGap, error) {
	if speciesID == "" {
		return nil, &models.ValidationError{Field: "species_id", Reason: "must not be empty"}
	}

	stats, err := l.speciesStats(ctx, speciesID)
	if err != nil {
		return nil, err
	}
	byFeature := make(map[string]*models.SpeciesFeatureStats, len(stats))
	for _, s := range stats {
		byFeature[s.FeatureName] = s
	}

	goal := l.config.CoverageGoal
	if goal <= 0 {
		goal = 1
	}

	var gaps []models.VocabularyGap
	for _, f := range l.config.TargetVocabulary {
		coverage := 0
		approvalRate := 0.0
		if s, ok := byFeature[f]; ok {
			coverage = s.Occurrences
			approvalRate = s.ApprovalRate()
		}
		if coverage >= goal {
			continue
		}
		shortfall := float64(goal-coverage) / float64(goal)
		gaps = append(gaps, models.VocabularyGap{
			SpeciesID:   speciesID,
			FeatureName: f,
			Coverage:    coverage,
			Target:      goal,
			Priority:    shortfall + 0.5*(1-approvalRate),
		})
	}

	sort.Slice(gaps, func(i, j int) bool {
		if gaps[i].Priority != gaps[j].Priority {
			return gaps[i].Priority > gaps[j].Priority
		}
		return gaps[i].FeatureName < gaps[j].FeatureName
	})
	return gaps, nil
}

// Gaps derives vocabulary gaps for every species with recorded stats.
func (l *Learner) Gaps(ctx context.Context) ([]models.VocabularyGap, error) {
	keys, err := l.store.List(ctx, store.NamespaceStats, "")
	if err != nil {
		return nil, models.NewPersistenceError(store.NamespaceStats, "", err)
	}

	seen := make(map[string]bool)
	var species []string
	for _, key := range keys {
		for i := 0; i < len(key); i++ {
			if key[i] == '/' {
				id := key[:i]
				if !seen[id] {
					seen[id] = true
					species = append(species, id)
				}
				break
			}
		}
	}
	sort.Strings(species)

	var all []models.VocabularyGap
	for _, id := range species {
		gaps, err := l.GapsForSpecies(ctx, id)
		if err != nil {
			return nil, err
		}
		all = append(all, gaps...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Priority > all[j].Priority
	})
	return all, nil
}

// LearnFromDelta consumes a quality-override correction delta. A positive
// delta (reviewer scored higher than the machine) nudges every authoritative
// pattern for the image's features upward; a negative delta nudges downward.
// The magnitude is the delta scaled into the approval-boost range.
func (l *Learner) LearnFromDelta(ctx context.Context, speciesID string, featureNames []string, delta *models.CorrectionDelta) error {
	if delta == nil {
		return &models.ValidationError{Field: "delta", Reason: "must not be nil"}
	}

	// Scale -100..100 into a confidence step comparable to one approval.
	step := delta.Delta / 100 * l.config.ApprovalBoost * l.config.CorrectionWeight
	for _, f := range featureNames {
		if err := validateKey(f, speciesID); err != nil {
			return err
		}
		if err := l.update(ctx, f, speciesID, func(p *models.LearnedPattern) {
			p.Confidence = clamp01(p.Confidence + step)
			if step >= 0 {
				p.Corrections++
			} else {
				p.Rejections++
			}
		}, step >= 0); err != nil {
			return err
		}
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
