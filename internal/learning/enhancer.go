package learning

import (
	"context"
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	"github.com/aveslab/curio/internal/store"
	"github.com/aveslab/curio/pkg/models"
)

// EnhancerConfig contains parameters for prompt enhancement.
type EnhancerConfig struct {
	// EmphasizeThreshold is the minimum decayed confidence for a feature to
	// be emphasized in generation prompts (default 0.6).
	EmphasizeThreshold float64 `json:"emphasize_threshold" yaml:"emphasize_threshold"`
	// SuppressRejections is the rejection count per (feature, species) at
	// which generation should stop proposing the combination (default 3).
	SuppressRejections int `json:"suppress_rejections" yaml:"suppress_rejections"`
	// MaxEmphasized bounds the emphasized feature list (default 8).
	MaxEmphasized int `json:"max_emphasized" yaml:"max_emphasized"`
}

// DefaultEnhancerConfig returns the default enhancer configuration.
func DefaultEnhancerConfig() *EnhancerConfig {
	return &EnhancerConfig{
		EmphasizeThreshold: 0.6,
		SuppressRejections: 3,
		MaxEmphasized:      8,
	}
}

// FeatureEmphasis is one feature the generator should prioritize, with the
// learned confidence and the mean reviewed position to anchor placement.
type FeatureEmphasis struct {
	FeatureName  string           `json:"feature_name"`
	Confidence   float64          `json:"confidence"`
	MeanPosition *models.Position `json:"mean_position,omitempty"`
}

// Enhancement is the per-species guidance handed to the generation pipeline:
// what to emphasize, what to avoid, and ready-made prompt hint lines.
type Enhancement struct {
	SpeciesID string            `json:"species_id"`
	Emphasize []FeatureEmphasis `json:"emphasize"`
	Suppress  []string          `json:"suppress"`
	Promote   []string          `json:"promote"` // under-annotated features worth attempting
	Hints     []string          `json:"hints"`
}

// Enhancer turns current learned patterns into generation guidance.
type Enhancer struct {
	config  *EnhancerConfig
	learner *Learner
	store   store.Store
}

// NewEnhancer creates an enhancer over the learner and its store.
// If config is nil, uses the default configuration.
func NewEnhancer(learner *Learner, st store.Store, config *EnhancerConfig) *Enhancer {
	if config == nil {
		config = DefaultEnhancerConfig()
	}
	return &Enhancer{config: config, learner: learner, store: st}
}

// EnhanceForSpecies builds generation guidance for one species from the
// current pattern state. Patterns below the sample threshold contribute
// nothing; thin data must not steer generation.
func (e *Enhancer) EnhanceForSpecies(ctx context.Context, speciesID string) (*Enhancement, error) {
	if speciesID == "" {
		return nil, &models.ValidationError{Field: "species_id", Reason: "must not be empty"}
	}

	prefix := speciesID + "/"
	keys, err := e.store.List(ctx, store.NamespacePatterns, prefix)
	if err != nil {
		return nil, models.NewPersistenceError(store.NamespacePatterns, prefix, err)
	}

	enh := &Enhancement{SpeciesID: speciesID}
	now := e.learner.now()

	for _, key := range keys {
		blob, ok, err := e.store.Get(ctx, store.NamespacePatterns, key)
		if err != nil {
			return nil, models.NewPersistenceError(store.NamespacePatterns, key, err)
		}
		if !ok {
			continue
		}
		var pattern models.LearnedPattern
		if err := json.Unmarshal(blob, &pattern); err != nil {
			return nil, fmt.Errorf("unmarshal pattern %s: %w", key, err)
		}
		if pattern.SampleCount < e.learner.config.MinSamples {
			continue
		}
		e.learner.applyDecay(&pattern, now)

		rejections, err := e.learner.RejectionCount(ctx, pattern.FeatureName, speciesID)
		if err != nil {
			return nil, err
		}
		if rejections >= e.config.SuppressRejections {
			enh.Suppress = append(enh.Suppress, pattern.FeatureName)
			continue
		}

		if pattern.Confidence >= e.config.EmphasizeThreshold {
			emph := FeatureEmphasis{
				FeatureName: pattern.FeatureName,
				Confidence:  pattern.Confidence,
			}
			if pattern.PosCount > 0 {
				emph.MeanPosition = &models.Position{
					X: pattern.PosMeanX,
					Y: pattern.PosMeanY,
				}
			}
			enh.Emphasize = append(enh.Emphasize, emph)
		}
	}

	sort.Slice(enh.Emphasize, func(i, j int) bool {
		if enh.Emphasize[i].Confidence != enh.Emphasize[j].Confidence {
			return enh.Emphasize[i].Confidence > enh.Emphasize[j].Confidence
		}
		return enh.Emphasize[i].FeatureName < enh.Emphasize[j].FeatureName
	})
	if len(enh.Emphasize) > e.config.MaxEmphasized {
		enh.Emphasize = enh.Emphasize[:e.config.MaxEmphasized]
	}
	sort.Strings(enh.Suppress)

	gaps, err := e.learner.GapsForSpecies(ctx, speciesID)
	if err != nil {
		return nil, err
	}
	for _, g := range gaps {
		enh.Promote = append(enh.Promote, g.FeatureName)
	}

	enh.Hints = buildHints(enh)
	return enh, nil
}

// buildHints renders guidance as prompt-ready lines.
func buildHints(enh *Enhancement) []string {
	var hints []string
	for _, em := range enh.Emphasize {
		hints = append(hints, fmt.Sprintf("emphasize %q (reviewer confidence %.2f)", em.FeatureName, em.Confidence))
	}
	for _, f := range enh.Suppress {
		hints = append(hints, fmt.Sprintf("avoid annotating %q: repeatedly rejected in review", f))
	}
	for _, f := range enh.Promote {
		hints = append(hints, fmt.Sprintf("add coverage for %q: under-annotated for this species", f))
	}
	return hints
}
