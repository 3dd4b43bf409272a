// Package recommend ranks candidate images for reuse in generated
// exercises, combining quality, exercise-type relevance, historical success,
// and learned pattern adjustments into one weighted score.
package recommend

import (
	"fmt"
	"math"
	"time"
)

// Config contains the recommendation engine's tuning knobs. The weights and
// boosts are product tuning values; adjust via configuration, not call sites.
type Config struct {
	// Component weights. Must sum to 1.
	QualityWeight   float64 `json:"quality_weight" yaml:"quality_weight"`
	RelevanceWeight float64 `json:"relevance_weight" yaml:"relevance_weight"`
	HistoryWeight   float64 `json:"history_weight" yaml:"history_weight"`
	PatternWeight   float64 `json:"pattern_weight" yaml:"pattern_weight"`

	// GapBoost multiplies relevance when a candidate's vocabulary
	// intersects the requested vocabulary gaps.
	GapBoost float64 `json:"gap_boost" yaml:"gap_boost"`
	// SuccessBoost multiplies relevance when historical success exceeds
	// HighSuccessThreshold.
	SuccessBoost         float64 `json:"success_boost" yaml:"success_boost"`
	HighSuccessThreshold float64 `json:"high_success_threshold" yaml:"high_success_threshold"`

	// DefaultTopN is used when a request does not specify how many
	// recommendations it wants.
	DefaultTopN int `json:"default_top_n" yaml:"default_top_n"`
	// MaxPerSpecies caps same-species repeats within the top-N window.
	MaxPerSpecies int `json:"max_per_species" yaml:"max_per_species"`

	// CacheTTL and CacheCapacity configure the recommendation cache. The
	// TTL is short relative to review cadence: learned state changes
	// invalidate freshness.
	CacheTTL      time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
	CacheCapacity int           `json:"cache_capacity" yaml:"cache_capacity"`

	Relevance RelevanceConfig `json:"relevance" yaml:"relevance"`
}

// RelevanceConfig contains the exercise-type-specific relevance rules.
type RelevanceConfig struct {
	// Discrimination exercises need richly annotated, certified-quality
	// images: at least MinFeatures distinct features and quality above
	// QualityFloor for a positive base score.
	DiscriminationMinFeatures  int     `json:"discrimination_min_features" yaml:"discrimination_min_features"`
	DiscriminationQualityFloor float64 `json:"discrimination_quality_floor" yaml:"discrimination_quality_floor"`
	DiscriminationBase         float64 `json:"discrimination_base" yaml:"discrimination_base"`

	// Identification needs only one clear feature and tolerates lower quality.
	IdentificationQualityFloor float64 `json:"identification_quality_floor" yaml:"identification_quality_floor"`
	IdentificationBase         float64 `json:"identification_base" yaml:"identification_base"`

	// Labeling and comparison need a couple of features each.
	LabelingMinFeatures   int     `json:"labeling_min_features" yaml:"labeling_min_features"`
	LabelingBase          float64 `json:"labeling_base" yaml:"labeling_base"`
	ComparisonMinFeatures int     `json:"comparison_min_features" yaml:"comparison_min_features"`
	ComparisonBase        float64 `json:"comparison_base" yaml:"comparison_base"`

	// SideViewBonus rewards a clear side view (most diagnostic pose);
	// FrontalBonus rewards frontal poses for identification.
	SideViewBonus float64 `json:"side_view_bonus" yaml:"side_view_bonus"`
	FrontalBonus  float64 `json:"frontal_bonus" yaml:"frontal_bonus"`

	// AnnotationBonus is added per annotation up to AnnotationBonusCap.
	AnnotationBonus    float64 `json:"annotation_bonus" yaml:"annotation_bonus"`
	AnnotationBonusCap float64 `json:"annotation_bonus_cap" yaml:"annotation_bonus_cap"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		QualityWeight:        0.3,
		RelevanceWeight:      0.4,
		HistoryWeight:        0.2,
		PatternWeight:        0.1,
		GapBoost:             1.3,
		SuccessBoost:         1.2,
		HighSuccessThreshold: 0.8,
		DefaultTopN:          5,
		MaxPerSpecies:        2,
		CacheTTL:             30 * time.Minute,
		CacheCapacity:        256,
		Relevance: RelevanceConfig{
			DiscriminationMinFeatures:  3,
			DiscriminationQualityFloor: 0.75,
			DiscriminationBase:         0.7,
			IdentificationQualityFloor: 0.5,
			IdentificationBase:         0.6,
			LabelingMinFeatures:        2,
			LabelingBase:               0.6,
			ComparisonMinFeatures:      2,
			ComparisonBase:             0.5,
			SideViewBonus:              0.15,
			FrontalBonus:               0.1,
			AnnotationBonus:            0.02,
			AnnotationBonusCap:         0.1,
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	sum := c.QualityWeight + c.RelevanceWeight + c.HistoryWeight + c.PatternWeight
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("component weights sum to %v, want 1.0", sum)
	}
	if c.GapBoost < 1 || c.SuccessBoost < 1 {
		return fmt.Errorf("boosts must be >= 1 (gap=%v success=%v)", c.GapBoost, c.SuccessBoost)
	}
	if c.DefaultTopN <= 0 {
		return fmt.Errorf("default_top_n must be positive, got %d", c.DefaultTopN)
	}
	if c.MaxPerSpecies <= 0 {
		return fmt.Errorf("max_per_species must be positive, got %d", c.MaxPerSpecies)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive, got %v", c.CacheTTL)
	}
	return nil
}
