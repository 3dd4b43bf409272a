// Package config provides configuration management for curio.
// Settings come from a YAML file in the data directory, overridden by
// environment variables; every engine tuning knob has a default so an empty
// file is a valid configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/aveslab/curio/internal/learning"
	"github.com/aveslab/curio/internal/recommend"
	"github.com/aveslab/curio/internal/vision"
	"github.com/aveslab/curio/pkg/models"
)

// DefaultWorkerPort is the default HTTP port for the worker service.
const DefaultWorkerPort = 37800

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds the assembled application configuration.
type Config struct {
	WorkerPort int
	LogLevel   string

	StorageBackend string
	PostgresDSN    string
	SQLitePath     string
	MaxConns       int

	RedisEnabled bool
	RedisAddr    string

	VisionProvider string // "anthropic" or "stub"
	VisionAPIKey   string
	VisionModel    string

	Learning  *models.LearningConfig
	Quality   *models.QualityConfig
	Enhancer  *learning.EnhancerConfig
	Recommend *recommend.Config
	Batch     *vision.BatchConfig
}

// fileSettings is the YAML schema of the settings file. Durations are plain
// integers with explicit units in the field name, so the file stays easy to
// hand-edit.
type fileSettings struct {
	WorkerPort int    `yaml:"worker_port"`
	LogLevel   string `yaml:"log_level"`

	Storage struct {
		Backend    string `yaml:"backend"`
		DSN        string `yaml:"dsn"`
		SQLitePath string `yaml:"sqlite_path"`
		MaxConns   int    `yaml:"max_conns"`
	} `yaml:"storage"`

	Redis struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"redis"`

	Vision struct {
		Provider string `yaml:"provider"`
		Model    string `yaml:"model"`
	} `yaml:"vision"`

	Learning struct {
		ApprovalBoost      *float64 `yaml:"approval_boost"`
		RejectionPenalty   *float64 `yaml:"rejection_penalty"`
		CorrectionWeight   *float64 `yaml:"correction_weight"`
		NeutralBaseline    *float64 `yaml:"neutral_baseline"`
		DecayFactor        *float64 `yaml:"decay_factor"`
		IdleCycleHours     *int     `yaml:"idle_cycle_hours"`
		MinSamples         *int     `yaml:"min_samples"`
		MaxRecommendations *int     `yaml:"max_recommendations"`
		TargetVocabulary   []string `yaml:"target_vocabulary"`
		CoverageGoal       *int     `yaml:"coverage_goal"`
	} `yaml:"learning"`

	Quality struct {
		SuitabilityThreshold *float64 `yaml:"suitability_threshold"`
	} `yaml:"quality"`

	Recommend struct {
		GapBoost        *float64 `yaml:"gap_boost"`
		SuccessBoost    *float64 `yaml:"success_boost"`
		DefaultTopN     *int     `yaml:"default_top_n"`
		MaxPerSpecies   *int     `yaml:"max_per_species"`
		CacheTTLMinutes *int     `yaml:"cache_ttl_minutes"`
		CacheCapacity   *int     `yaml:"cache_capacity"`
	} `yaml:"recommend"`

	Batch struct {
		Concurrency *int     `yaml:"concurrency"`
		RatePerSec  *float64 `yaml:"rate_per_sec"`
		MaxAttempts *int     `yaml:"max_attempts"`
	} `yaml:"batch"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
)

// DataDir returns the data directory path (~/.curio).
func DataDir() string {
	if dir := os.Getenv("CURIO_DATA_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".curio")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.yaml")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// Get returns the global configuration, loading it on first use.
func Get() *Config {
	configOnce.Do(func() {
		cfg, err := Load(SettingsPath())
		if err != nil {
			// A broken settings file falls back to defaults; the service
			// logs the problem at startup rather than refusing to run.
			log.Warn().Err(err).Str("path", SettingsPath()).Msg("Settings file unusable, using defaults")
			cfg = Default()
		}
		globalConfig = cfg
	})
	return globalConfig
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		WorkerPort:     DefaultWorkerPort,
		LogLevel:       "info",
		StorageBackend: BackendSQLite,
		SQLitePath:     filepath.Join(DataDir(), "curio.db"),
		MaxConns:       4,
		RedisAddr:      "localhost:6379",
		VisionProvider: "anthropic",
		VisionModel:    vision.DefaultAnthropicModel,
		Learning:       models.DefaultLearningConfig(),
		Quality:        models.DefaultQualityConfig(),
		Enhancer:       learning.DefaultEnhancerConfig(),
		Recommend:      recommend.DefaultConfig(),
		Batch:          vision.DefaultBatchConfig(),
	}
}

// Load reads the settings file at path, applies it over the defaults, then
// applies environment overrides. A missing file yields defaults plus env.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		var fs fileSettings
		if err := yaml.Unmarshal(data, &fs); err != nil {
			return nil, fmt.Errorf("parse settings %s: %w", path, err)
		}
		applyFile(cfg, &fs)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyFile(cfg *Config, fs *fileSettings) {
	if fs.WorkerPort > 0 {
		cfg.WorkerPort = fs.WorkerPort
	}
	if fs.LogLevel != "" {
		cfg.LogLevel = fs.LogLevel
	}
	if fs.Storage.Backend != "" {
		cfg.StorageBackend = fs.Storage.Backend
	}
	if fs.Storage.DSN != "" {
		cfg.PostgresDSN = fs.Storage.DSN
	}
	if fs.Storage.SQLitePath != "" {
		cfg.SQLitePath = fs.Storage.SQLitePath
	}
	if fs.Storage.MaxConns > 0 {
		cfg.MaxConns = fs.Storage.MaxConns
	}
	cfg.RedisEnabled = fs.Redis.Enabled
	if fs.Redis.Addr != "" {
		cfg.RedisAddr = fs.Redis.Addr
	}
	if fs.Vision.Provider != "" {
		cfg.VisionProvider = fs.Vision.Provider
	}
	if fs.Vision.Model != "" {
		cfg.VisionModel = fs.Vision.Model
	}

	l := cfg.Learning
	setFloat(&l.ApprovalBoost, fs.Learning.ApprovalBoost)
	setFloat(&l.RejectionPenalty, fs.Learning.RejectionPenalty)
	setFloat(&l.CorrectionWeight, fs.Learning.CorrectionWeight)
	setFloat(&l.NeutralBaseline, fs.Learning.NeutralBaseline)
	setFloat(&l.DecayFactor, fs.Learning.DecayFactor)
	if fs.Learning.IdleCycleHours != nil && *fs.Learning.IdleCycleHours > 0 {
		l.IdleCycle = time.Duration(*fs.Learning.IdleCycleHours) * time.Hour
	}
	setInt(&l.MinSamples, fs.Learning.MinSamples)
	setInt(&l.MaxRecommendations, fs.Learning.MaxRecommendations)
	if len(fs.Learning.TargetVocabulary) > 0 {
		l.TargetVocabulary = fs.Learning.TargetVocabulary
	}
	setInt(&l.CoverageGoal, fs.Learning.CoverageGoal)

	setFloat(&cfg.Quality.SuitabilityThreshold, fs.Quality.SuitabilityThreshold)

	r := cfg.Recommend
	setFloat(&r.GapBoost, fs.Recommend.GapBoost)
	setFloat(&r.SuccessBoost, fs.Recommend.SuccessBoost)
	setInt(&r.DefaultTopN, fs.Recommend.DefaultTopN)
	setInt(&r.MaxPerSpecies, fs.Recommend.MaxPerSpecies)
	if fs.Recommend.CacheTTLMinutes != nil && *fs.Recommend.CacheTTLMinutes > 0 {
		r.CacheTTL = time.Duration(*fs.Recommend.CacheTTLMinutes) * time.Minute
	}
	setInt(&r.CacheCapacity, fs.Recommend.CacheCapacity)

	b := cfg.Batch
	setInt(&b.Concurrency, fs.Batch.Concurrency)
	setFloat(&b.RatePerSec, fs.Batch.RatePerSec)
	setInt(&b.MaxAttempts, fs.Batch.MaxAttempts)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CURIO_WORKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.WorkerPort = port
		}
	}
	if v := os.Getenv("CURIO_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CURIO_STORAGE_BACKEND"); v != "" {
		cfg.StorageBackend = v
	}
	if v := os.Getenv("CURIO_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("CURIO_SQLITE_PATH"); v != "" {
		cfg.SQLitePath = v
	}
	if v := os.Getenv("CURIO_REDIS_ADDR"); v != "" {
		cfg.RedisEnabled = true
		cfg.RedisAddr = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.VisionAPIKey = v
	}
	if v := os.Getenv("CURIO_VISION_PROVIDER"); v != "" {
		cfg.VisionProvider = v
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil && *src > 0 {
		*dst = *src
	}
}
