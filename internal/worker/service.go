// Package worker provides the HTTP worker service for curio.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/aveslab/curio/internal/config"
	"github.com/aveslab/curio/internal/learning"
	"github.com/aveslab/curio/internal/quality"
	"github.com/aveslab/curio/internal/recommend"
	"github.com/aveslab/curio/internal/recommend/rediscache"
	"github.com/aveslab/curio/internal/review"
	"github.com/aveslab/curio/internal/store"
	gormstore "github.com/aveslab/curio/internal/store/gorm"
	memorystore "github.com/aveslab/curio/internal/store/memory"
	sqlitestore "github.com/aveslab/curio/internal/store/sqlite"
	"github.com/aveslab/curio/internal/vision"
)

// Service configuration constants
const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// ReadyPollInterval is how often WaitReady checks initialization status.
	ReadyPollInterval = 50 * time.Millisecond
)

// Service is the main worker service orchestrator.
type Service struct {
	// Version of the worker binary
	version string

	// Configuration
	config *config.Config

	// Persistence
	store       store.Store
	storeCloser func() error

	// Domain services
	learner  *learning.Learner
	enhancer *learning.Enhancer
	scorer   *quality.Scorer
	assessor vision.Assessor
	runner   *vision.Runner
	engine   *recommend.Engine
	workflow *review.Workflow

	// HTTP server
	router    *chi.Mux
	server    *http.Server
	startTime time.Time

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Initialization state (for deferred init)
	ready     atomic.Bool
	initError error
	initMu    sync.RWMutex
}

// NewService creates a new worker service with deferred initialization.
// The HTTP server and health endpoint are available immediately; storage
// and the vision client initialize in the background.
func NewService(version string, cfg *config.Config) (*Service, error) {
	ctx, cancel := context.WithCancel(context.Background())

	svc := &Service{
		version:   version,
		config:    cfg,
		router:    chi.NewRouter(),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}

	svc.setupMiddleware()
	svc.setupRoutes()

	go svc.initializeAsync()

	return svc, nil
}

// initializeAsync performs heavy initialization in the background.
func (s *Service) initializeAsync() {
	log.Info().Msg("Starting async initialization...")

	if err := config.EnsureDataDir(); err != nil {
		s.setInitError(fmt.Errorf("ensure data dir: %w", err))
		return
	}

	st, closer, err := s.openStore()
	if err != nil {
		s.setInitError(fmt.Errorf("init storage: %w", err))
		return
	}

	learner := learning.New(st, s.config.Learning, log.Logger)
	enhancer := learning.NewEnhancer(learner, st, s.config.Enhancer)
	scorer := quality.NewScorer(st, s.config.Quality, log.Logger)
	workflow := review.NewWorkflow(learner, st, log.Logger)

	assessor := s.buildAssessor()
	runner := vision.NewRunner(assessor, scorer, s.config.Batch, log.Logger)

	cache := s.buildCache()
	engine, err := recommend.New(learner, s.config.Recommend, cache, log.Logger)
	if err != nil {
		s.setInitError(fmt.Errorf("init recommendation engine: %w", err))
		return
	}

	s.initMu.Lock()
	s.store = st
	s.storeCloser = closer
	s.learner = learner
	s.enhancer = enhancer
	s.scorer = scorer
	s.assessor = assessor
	s.runner = runner
	s.engine = engine
	s.workflow = workflow
	s.initMu.Unlock()

	s.ready.Store(true)
	log.Info().
		Str("backend", s.config.StorageBackend).
		Str("vision", s.config.VisionProvider).
		Msg("Async initialization complete - service ready")
}

// openStore opens the configured storage backend.
func (s *Service) openStore() (store.Store, func() error, error) {
	switch s.config.StorageBackend {
	case config.BackendPostgres:
		st, err := gormstore.New(gormstore.Config{
			DSN:      s.config.PostgresDSN,
			MaxConns: s.config.MaxConns,
		})
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil

	case config.BackendSQLite:
		st, err := sqlitestore.New(sqlitestore.Config{
			Path:     s.config.SQLitePath,
			MaxConns: s.config.MaxConns,
		})
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil

	case config.BackendMemory:
		return memorystore.New(), func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", s.config.StorageBackend)
	}
}

// buildAssessor selects the vision provider. Missing credentials degrade to
// the stub assessor instead of failing startup.
func (s *Service) buildAssessor() vision.Assessor {
	if s.config.VisionProvider == "anthropic" {
		if s.config.VisionAPIKey == "" {
			log.Warn().Msg("ANTHROPIC_API_KEY not set - falling back to stub assessor")
			return vision.NewStubAssessor()
		}
		return vision.NewAnthropicAssessor(vision.AnthropicConfig{
			APIKey: s.config.VisionAPIKey,
			Model:  s.config.VisionModel,
		}, log.Logger)
	}
	return vision.NewStubAssessor()
}

// buildCache returns the recommendation cache: Redis when configured,
// otherwise the in-process LRU (which recommend.New builds from config).
func (s *Service) buildCache() recommend.Cache {
	if !s.config.RedisEnabled {
		return nil
	}
	log.Info().Str("addr", s.config.RedisAddr).Msg("Using Redis recommendation cache")
	return rediscache.New(s.config.RedisAddr, s.config.Recommend.CacheTTL, log.Logger)
}

// setInitError records an initialization error.
func (s *Service) setInitError(err error) {
	s.initMu.Lock()
	s.initError = err
	s.initMu.Unlock()
	log.Error().Err(err).Msg("Async initialization failed")
}

// GetInitError returns any initialization error.
func (s *Service) GetInitError() error {
	s.initMu.RLock()
	defer s.initMu.RUnlock()
	return s.initError
}

// WaitReady blocks until initialization finishes or the timeout elapses.
func (s *Service) WaitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.ready.Load() {
			return nil
		}
		if err := s.GetInitError(); err != nil {
			return err
		}
		time.Sleep(ReadyPollInterval)
	}
	return fmt.Errorf("service not ready after %s", timeout)
}

// setupMiddleware configures HTTP middleware.
func (s *Service) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(DefaultHTTPTimeout))
	s.router.Use(middleware.RealIP)
	s.router.Use(SecurityHeaders)
	s.router.Use(MaxBodySize(DefaultMaxBodySize))
	s.router.Use(RequireJSONContentType)
	s.router.Use(RateLimitMiddleware(NewRateLimiter(DefaultRateLimit, DefaultRateBurst)))
}

// setupRoutes configures HTTP routes.
func (s *Service) setupRoutes() {
	// Health and readiness work immediately so callers can probe during init.
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/ready", s.handleReady)

	// Routes that require storage to be ready
	s.router.Group(func(r chi.Router) {
		r.Use(s.requireReady)

		// Recommendation
		r.Post("/api/recommend", s.handleRecommend)
		r.Get("/api/cache/stats", s.handleCacheStats)

		// Quality assessment
		r.Post("/api/assess", s.handleAssess)
		r.Post("/api/assess/batch", s.handleBatchStart)
		r.Get("/api/assess/batch/{id}", s.handleBatchStatus)
		r.Post("/api/assess/batch/{id}/cancel", s.handleBatchCancel)
		r.Get("/api/assess/{imageID}", s.handleAssessmentGet)
		r.Post("/api/assess/{imageID}/override", s.handleAssessmentOverride)

		// Review workflow
		r.Post("/api/reviews", s.handleReviewBegin)
		r.Get("/api/reviews/{annotationID}", s.handleReviewGet)
		r.Post("/api/reviews/{annotationID}/approve", s.handleReviewApprove)
		r.Post("/api/reviews/{annotationID}/reject", s.handleReviewReject)
		r.Post("/api/reviews/{annotationID}/correct", s.handleReviewCorrect)
		r.Post("/api/reviews/{annotationID}/reopen", s.handleReviewReopen)
		r.Post("/api/reviews/{annotationID}/feedback", s.handleReviewFeedback)

		// Learned patterns
		r.Get("/api/patterns/{speciesID}/{featureName}", s.handlePatternGet)
		r.Get("/api/features/recommended", s.handleRecommendedFeatures)
		r.Get("/api/vocabulary/gaps", s.handleVocabularyGaps)
		r.Get("/api/enhancements/{speciesID}", s.handleEnhancement)
	})
}

// Start starts the worker service. The HTTP server starts immediately;
// storage initialization happens async.
func (s *Service) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.WorkerPort),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	log.Info().
		Int("port", s.config.WorkerPort).
		Str("version", s.version).
		Msg("Worker HTTP server started (initialization in progress)")

	return nil
}

// Shutdown gracefully shuts down the service.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}

	s.initMu.RLock()
	runner := s.runner
	closer := s.storeCloser
	s.initMu.RUnlock()

	if runner != nil {
		runner.Close()
	}
	if closer != nil {
		if err := closer(); err != nil {
			log.Error().Err(err).Msg("Storage close error")
		}
	}

	s.wg.Wait()

	log.Info().Msg("Worker service shutdown complete")
	return nil
}
