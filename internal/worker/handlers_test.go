package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aveslab/curio/internal/recommend"
	"github.com/aveslab/curio/internal/vision"
	"github.com/aveslab/curio/pkg/models"
)

// ============================================================================
// Error mapping
// ============================================================================

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"insufficient data", models.ErrInsufficientData, http.StatusNotFound},
		{"wrapped insufficient data", fmt.Errorf("load pattern: %w", models.ErrInsufficientData), http.StatusNotFound},
		{"validation", &models.ValidationError{Field: "species_id", Reason: "required"}, http.StatusBadRequest},
		{"transient", &models.TransientError{Op: "assess", Err: errors.New("timeout")}, http.StatusBadGateway},
		{"persistence", models.NewPersistenceError("patterns", "k", errors.New("disk full")), http.StatusInternalServerError},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeError(rr, tt.err)

			assert.Equal(t, tt.want, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			var body map[string]string
			decodeBody(t, rr, &body)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestTransientAssessorFailureMapsToBadGateway(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	svc.assessor = vision.AssessorFunc(func(context.Context, vision.ImageRef) (*vision.Result, error) {
		return nil, &models.TransientError{Op: "assess", Err: errors.New("upstream unavailable")}
	})

	rr := doJSON(t, svc, "POST", "/api/assess", map[string]string{
		"image_id":   "img-1",
		"media_type": "image/jpeg",
		"data":       base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8}),
	})
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

// ============================================================================
// Health and readiness
// ============================================================================

func TestHealth_ReportsInitializationState(t *testing.T) {
	svc := notReadyService(t)
	rr := doJSON(t, svc, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code, "health must answer during init")

	var body map[string]any
	decodeBody(t, rr, &body)
	assert.Equal(t, "initializing", body["status"])

	ready, cleanup := testService(t)
	defer cleanup()
	rr = doJSON(t, ready, "GET", "/api/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeBody(t, rr, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test-version", body["version"])
}

func TestReady_LifecycleStates(t *testing.T) {
	svc := notReadyService(t)

	rr := doJSON(t, svc, "GET", "/api/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var body map[string]string
	decodeBody(t, rr, &body)
	assert.Equal(t, "initializing", body["status"])

	svc.setInitError(errors.New("storage unreachable"))
	rr = doJSON(t, svc, "GET", "/api/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	decodeBody(t, rr, &body)
	assert.Equal(t, "failed", body["status"])
	assert.Contains(t, body["error"], "storage unreachable")

	ready, cleanup := testService(t)
	defer cleanup()
	rr = doJSON(t, ready, "GET", "/api/ready", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireReady_BlocksAPIDuringInit(t *testing.T) {
	svc := notReadyService(t)

	for _, path := range []string{"/api/recommend", "/api/reviews"} {
		rr := doJSON(t, svc, "POST", path, map[string]any{})
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code, "%s must be gated", path)

		var body map[string]string
		decodeBody(t, rr, &body)
		assert.Equal(t, "service initializing", body["error"])
	}
}

// ============================================================================
// Recommendation endpoints
// ============================================================================

func TestRecommend_RanksSubmittedCandidates(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	rr := doJSON(t, svc, "POST", "/api/recommend", map[string]any{
		"exercise_type": "labeling",
		"candidates": []map[string]any{
			{
				"image_id":   "img-1",
				"species_id": "parus-major",
				"annotations": []map[string]any{
					{"feature_name": "wing", "term": "wing"},
					{"feature_name": "beak", "term": "beak"},
				},
			},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp recommend.Response
	decodeBody(t, rr, &resp)
	require.Len(t, resp.Recommended, 1)
	assert.Equal(t, "img-1", resp.Recommended[0].ImageID)
	assert.False(t, resp.FromCache)
}

func TestRecommend_RejectsBadRequests(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	// Malformed JSON
	rr := doRaw(t, svc, "POST", "/api/recommend", "application/json", "{not json")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// No candidates
	rr = doJSON(t, svc, "POST", "/api/recommend", map[string]any{"exercise_type": "labeling"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// Unknown exercise type
	rr = doJSON(t, svc, "POST", "/api/recommend", map[string]any{
		"exercise_type": "quiz",
		"candidates":    []map[string]any{{"image_id": "img-1", "species_id": "parus-major"}},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCacheStats_Endpoint(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	rr := doJSON(t, svc, "GET", "/api/cache/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var stats recommend.CacheStats
	decodeBody(t, rr, &stats)
	assert.Zero(t, stats.Hits)
}

// ============================================================================
// Assessment endpoints
// ============================================================================

func assessBody(imageID string) map[string]string {
	return map[string]string{
		"image_id":   imageID,
		"species_id": "parus-major",
		"media_type": "image/jpeg",
		"data":       base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8}),
	}
}

func TestAssess_SingleImage(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	rr := doJSON(t, svc, "POST", "/api/assess", assessBody("img-1"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var a models.QualityAssessment
	decodeBody(t, rr, &a)
	assert.Equal(t, "img-1", a.ImageID)
	assert.InDelta(t, 70.0, a.Overall, 1e-9, "stub sub-scores sum to 70")

	// The assessment was recorded and is retrievable.
	rr = doJSON(t, svc, "GET", "/api/assess/img-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	// Unassessed images are 404, not zero-scored.
	rr = doJSON(t, svc, "GET", "/api/assess/img-unknown", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAssess_ValidationFailures(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	body := assessBody("img-1")
	body["image_id"] = ""
	rr := doJSON(t, svc, "POST", "/api/assess", body)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	body = assessBody("img-1")
	body["data"] = "not-base64!!"
	rr = doJSON(t, svc, "POST", "/api/assess", body)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAssess_BatchLifecycle(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	rr := doJSON(t, svc, "POST", "/api/assess/batch", map[string]any{
		"images": []map[string]string{assessBody("img-1"), assessBody("img-2")},
	})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var started map[string]any
	decodeBody(t, rr, &started)
	jobID, _ := started["job_id"].(string)
	require.NotEmpty(t, jobID)
	assert.EqualValues(t, 2, started["total"])

	require.Eventually(t, func() bool {
		rr := doJSON(t, svc, "GET", "/api/assess/batch/"+jobID, nil)
		if rr.Code != http.StatusOK {
			return false
		}
		var snap vision.JobSnapshot
		decodeBody(t, rr, &snap)
		return snap.Status == vision.JobCompleted && len(snap.Assessed) == 2
	}, 5*time.Second, 10*time.Millisecond, "batch should complete")

	rr = doJSON(t, svc, "GET", "/api/assess/batch/no-such-job", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doJSON(t, svc, "POST", "/api/assess/batch/no-such-job/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAssess_Override(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	rr := doJSON(t, svc, "POST", "/api/assess", assessBody("img-1"))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, svc, "POST", "/api/assess/img-1/override", map[string]any{
		"scores":  map[string]float64{"visibility": 38, "clarity": 28, "technical": 18, "educational": 9},
		"reasons": []string{"sharper than auto-scored"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body struct {
		Assessment models.QualityAssessment `json:"assessment"`
		Delta      models.CorrectionDelta   `json:"delta"`
	}
	decodeBody(t, rr, &body)
	assert.True(t, body.Assessment.Manual)
	assert.InDelta(t, 93.0, body.Assessment.Overall, 1e-9)

	// No prior assessment to override.
	rr = doJSON(t, svc, "POST", "/api/assess/img-none/override", map[string]any{
		"scores": map[string]float64{"visibility": 30},
	})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// ============================================================================
// Review and pattern endpoints
// ============================================================================

func beginReview(t *testing.T, svc *Service, id string) {
	t.Helper()
	rr := doJSON(t, svc, "POST", "/api/reviews", map[string]string{
		"annotation_id": id,
		"feature_name":  "wing",
		"species_id":    "parus-major",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
}

func TestReview_LifecycleEndpoints(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	beginReview(t, svc, "ann-1")

	// Duplicate registration is rejected.
	rr := doJSON(t, svc, "POST", "/api/reviews", map[string]string{
		"annotation_id": "ann-1", "feature_name": "wing", "species_id": "parus-major",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, svc, "POST", "/api/reviews/ann-1/approve", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var rev map[string]any
	decodeBody(t, rr, &rev)
	assert.Equal(t, "approved", rev["state"])

	// Terminal states only move via reopen.
	rr = doJSON(t, svc, "POST", "/api/reviews/ann-1/reject", map[string]string{"category": "not_visible"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, svc, "POST", "/api/reviews/ann-1/reopen", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeBody(t, rr, &rev)
	assert.Equal(t, "under_review", rev["state"])

	rr = doJSON(t, svc, "POST", "/api/reviews/ann-1/reject", map[string]string{"category": "not_visible"})
	require.Equal(t, http.StatusOK, rr.Code)
	decodeBody(t, rr, &rev)
	assert.Equal(t, "rejected", rev["state"])
	assert.Equal(t, "not_visible", rev["category"])

	rr = doJSON(t, svc, "GET", "/api/reviews/ann-none", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestReview_FeedbackDispatch(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	beginReview(t, svc, "ann-1")

	rr := doJSON(t, svc, "POST", "/api/reviews/ann-1/feedback", map[string]any{"action": "approve"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var rev map[string]any
	decodeBody(t, rr, &rev)
	assert.Equal(t, "approved", rev["state"])

	beginReview(t, svc, "ann-2")
	rr = doJSON(t, svc, "POST", "/api/reviews/ann-2/feedback", map[string]any{"action": "archive"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPatternGet_InsufficientSamplesIs404(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	rr := doJSON(t, svc, "GET", "/api/patterns/parus-major/wing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code, "patterns below the sample minimum are not authoritative")

	// Three approvals cross the minimum.
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("ann-%d", i)
		beginReview(t, svc, id)
		rr := doJSON(t, svc, "POST", "/api/reviews/"+id+"/approve", nil)
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr = doJSON(t, svc, "GET", "/api/patterns/parus-major/wing", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var p models.LearnedPattern
	decodeBody(t, rr, &p)
	assert.Equal(t, 3, p.SampleCount)
	assert.InDelta(t, 0.65, p.Confidence, 1e-9)
}

func TestFeaturesAndGaps_Endpoints(t *testing.T) {
	svc, cleanup := testService(t)
	defer cleanup()

	rr := doJSON(t, svc, "GET", "/api/features/recommended", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "species query parameter is required")

	rr = doJSON(t, svc, "GET", "/api/features/recommended?species=parus-major", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var features struct {
		SpeciesID string   `json:"species_id"`
		Features  []string `json:"features"`
	}
	decodeBody(t, rr, &features)
	assert.Equal(t, "parus-major", features.SpeciesID)
	assert.NotEmpty(t, features.Features)

	rr = doJSON(t, svc, "GET", "/api/vocabulary/gaps?species=parus-major", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, svc, "GET", "/api/enhancements/parus-major", nil)
	require.Equal(t, http.StatusOK, rr.Code)
}
