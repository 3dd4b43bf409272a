package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aveslab/curio/internal/config"
	"github.com/aveslab/curio/internal/learning"
	"github.com/aveslab/curio/internal/quality"
	"github.com/aveslab/curio/internal/recommend"
	"github.com/aveslab/curio/internal/review"
	"github.com/aveslab/curio/internal/store/memory"
	"github.com/aveslab/curio/internal/vision"
)

// testService builds a ready Service over the in-memory store, bypassing
// the async initialization path so handler tests are deterministic.
func testService(t *testing.T) (*Service, func()) {
	t.Helper()

	st := memory.New()
	cfg := config.Default()
	cfg.StorageBackend = config.BackendMemory
	cfg.VisionProvider = "stub"

	learner := learning.New(st, cfg.Learning, zerolog.Nop())
	enhancer := learning.NewEnhancer(learner, st, cfg.Enhancer)
	scorer := quality.NewScorer(st, cfg.Quality, zerolog.Nop())
	workflow := review.NewWorkflow(learner, st, zerolog.Nop())
	assessor := vision.NewStubAssessor()
	runner := vision.NewRunner(assessor, scorer, cfg.Batch, zerolog.Nop())

	engine, err := recommend.New(learner, cfg.Recommend, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("create recommendation engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		version:     "test-version",
		config:      cfg,
		store:       st,
		storeCloser: func() error { return nil },
		learner:     learner,
		enhancer:    enhancer,
		scorer:      scorer,
		assessor:    assessor,
		runner:      runner,
		engine:      engine,
		workflow:    workflow,
		router:      chi.NewRouter(),
		ctx:         ctx,
		cancel:      cancel,
		startTime:   time.Now(),
	}

	svc.setupMiddleware()
	svc.setupRoutes()
	svc.ready.Store(true)

	cleanup := func() {
		runner.Close()
		cancel()
	}
	return svc, cleanup
}

// notReadyService builds a Service whose initialization never completes.
func notReadyService(t *testing.T) *Service {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	svc := &Service{
		version:   "test-version",
		config:    config.Default(),
		router:    chi.NewRouter(),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
	svc.setupMiddleware()
	svc.setupRoutes()
	return svc
}

// doJSON performs a request against the service router with a JSON body.
func doJSON(t *testing.T, svc *Service, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	svc.router.ServeHTTP(rr, req)
	return rr
}

// doRaw performs a request with a raw string body and content type.
func doRaw(t *testing.T, svc *Service, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	svc.router.ServeHTTP(rr, req)
	return rr
}

// decodeBody unmarshals a recorded JSON response.
func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}
