package reports

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"servicesift-backend/internal/analyses"
	"servicesift-backend/internal/shared/storage/object"
	"servicesift-backend/internal/shared/storage/object/local"
)

type fakeSigner struct {
	lastKey string
	lastTTL time.Duration
}

func (f *fakeSigner) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	f.lastKey = key
	f.lastTTL = ttl
	return "https://bucket.example.com/" + key + "?sig=abc", nil
}

type unsupportedSigner struct{}

func (unsupportedSigner) PresignGet(context.Context, string, time.Duration) (string, error) {
	return "", object.ErrSigningUnsupported
}

func seedAnalysis(t *testing.T, repo *analyses.MemoryRepo, a analyses.Analysis) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), a))
}

func newService(t *testing.T) (*Service, *analyses.MemoryRepo) {
	t.Helper()
	ar := analyses.NewMemoryRepo()
	return &Service{
		Repo:     NewMemoryRepo(),
		Analyses: ar,
		Store:    local.New(t.TempDir()),
		URLTTL:   5 * time.Minute,
	}, ar
}

func TestStatusForDerivesQueued(t *testing.T) {
	svc, ar := newService(t)
	seedAnalysis(t, ar, analyses.Analysis{ID: "a1", UserID: "user-1", Status: analyses.StatusPending, PaymentStatus: analyses.PaymentPaid})

	view, err := svc.StatusFor(context.Background(), "user-1", "a1")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, view.ReportStatus)

	_, err = svc.MarkQueued(context.Background(), analyses.Analysis{ID: "a1", UserID: "user-1"})
	require.NoError(t, err)
	view, err = svc.StatusFor(context.Background(), "user-1", "a1")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, view.ReportStatus)

	_, err = svc.StatusFor(context.Background(), "user-2", "a1")
	assert.ErrorIs(t, err, ErrNotOwner)
	_, err = svc.StatusFor(context.Background(), "user-1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteReportArtifactAndMintURL(t *testing.T) {
	svc, ar := newService(t)
	dir := t.TempDir()
	svc.Store = local.New(dir)
	signer := &fakeSigner{}
	svc.Signer = signer
	a := analyses.Analysis{ID: "a1", UserID: "user-1", Status: analyses.StatusCompleted, PaymentStatus: analyses.PaymentPaid, ReviewCount: 3}
	seedAnalysis(t, ar, a)

	artifact, err := svc.WriteReportArtifact(context.Background(), a, analyses.Results{
		RootCauses: []analyses.RootCause{{Rank: 1, Title: "Long waits"}},
	})
	require.NoError(t, err)
	assert.Equal(t, KindReportJSON, artifact.Kind)
	assert.Greater(t, artifact.SizeBytes, int64(0))

	body, err := os.ReadFile(filepath.Join(dir, artifact.StorageKey))
	require.NoError(t, err)
	assert.Contains(t, string(body), "Long waits")

	url, ttl, err := svc.MintArtifactURL(context.Background(), "user-1", ArtifactQuery{AnalysisID: "a1", Kind: KindReportJSON})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "https://"))
	assert.Equal(t, 5*time.Minute, ttl)
	assert.Equal(t, artifact.StorageKey, signer.lastKey)

	_, _, err = svc.MintArtifactURL(context.Background(), "user-2", ArtifactQuery{ArtifactID: artifact.ID})
	assert.ErrorIs(t, err, ErrNotOwner)

	svc.Signer = unsupportedSigner{}
	_, _, err = svc.MintArtifactURL(context.Background(), "user-1", ArtifactQuery{ArtifactID: artifact.ID})
	assert.ErrorIs(t, err, ErrNoSigner)
}

func TestRecordDeltaAgainstBaseline(t *testing.T) {
	svc, ar := newService(t)
	ctx := context.Background()
	base := analyses.Analysis{ID: "base", UserID: "user-1", BusinessID: "biz", IsBaseline: true, Status: analyses.StatusCompleted, ReviewCount: 10, AverageRating: 3}
	seedAnalysis(t, ar, base)
	require.NoError(t, ar.SaveResults(ctx, "base", analyses.Results{RootCauses: []analyses.RootCause{{Rank: 1, Title: "Slow service"}}}))

	next := analyses.Analysis{ID: "next", UserID: "user-1", BusinessID: "biz", Status: analyses.StatusCompleted, ReviewCount: 12, AverageRating: 3.5, CreatedAt: time.Now().Add(time.Minute)}
	seedAnalysis(t, ar, next)

	recorded, err := svc.RecordDelta(ctx, next, analyses.Results{RootCauses: []analyses.RootCause{{Rank: 1, Title: "Dirty rooms"}}})
	require.NoError(t, err)
	assert.True(t, recorded)

	d, err := svc.Repo.GetDelta(ctx, "next")
	require.NoError(t, err)
	assert.Equal(t, 2, d.ReviewCountDelta)
	assert.Equal(t, []string{"Slow service"}, d.ResolvedCauses)
	assert.Equal(t, []string{"Dirty rooms"}, d.NewCauses)

	recorded, err = svc.RecordDelta(ctx, base, analyses.Results{})
	require.NoError(t, err)
	assert.False(t, recorded)
}

func newReportsRouter(svc *Service, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("userId", userID); c.Next() })
	NewHandler(svc).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func TestReportStatusHandler(t *testing.T) {
	svc, ar := newService(t)
	seedAnalysis(t, ar, analyses.Analysis{ID: "a1", UserID: "user-1", Status: analyses.StatusFailed, PaymentStatus: analyses.PaymentPaid, ErrorCode: "EXTRACTION_FAILED", ErrorMessage: "Review extraction failed: boom"})

	resp := httptest.NewRecorder()
	newReportsRouter(svc, "user-1").ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/report-status?analysisId=a1", nil))
	require.Equal(t, http.StatusOK, resp.Code)

	var view map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &view))
	assert.Equal(t, "failed", view["status"])
	assert.Equal(t, "FAILED", view["reportStatus"])
	assert.Equal(t, "EXTRACTION_FAILED", view["errorCode"])

	resp = httptest.NewRecorder()
	newReportsRouter(svc, "user-1").ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/report-status", nil))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = httptest.NewRecorder()
	newReportsRouter(svc, "user-2").ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/report-status?analysisId=a1", nil))
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestMintArtifactURLHandlerWithoutSigner(t *testing.T) {
	svc, ar := newService(t)
	a := analyses.Analysis{ID: "a1", UserID: "user-1", Status: analyses.StatusCompleted, PaymentStatus: analyses.PaymentPaid}
	seedAnalysis(t, ar, a)
	artifact, err := svc.WriteReportArtifact(context.Background(), a, analyses.Results{})
	require.NoError(t, err)

	resp := httptest.NewRecorder()
	newReportsRouter(svc, "user-1").ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/mint-report-artifact-url?artifactId="+artifact.ID, nil))
	require.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Contains(t, resp.Body.String(), "CONFIG_ERROR")

	svc.Signer = &fakeSigner{}
	resp = httptest.NewRecorder()
	newReportsRouter(svc, "user-1").ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/mint-report-artifact-url?artifactId="+artifact.ID, nil))
	require.Equal(t, http.StatusOK, resp.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.EqualValues(t, 300, body["expiresInSeconds"])

	resp = httptest.NewRecorder()
	newReportsRouter(svc, "user-1").ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/mint-report-artifact-url?artifactId=missing", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestArtifactKeyHidesUserID(t *testing.T) {
	key := ArtifactKey("user-123", "a1", KindReportJSON)
	assert.Equal(t, key, ArtifactKey("user-123", "a1", KindReportJSON))
	assert.NotContains(t, key, "user-123")
	assert.True(t, strings.HasPrefix(key, "reports/"))
	assert.True(t, strings.HasSuffix(key, "/a1/"+KindReportJSON+".json"))
	assert.NotEqual(t, key, ArtifactKey("user-456", "a1", KindReportJSON))
}

func TestStatusForMarksRetryableFailures(t *testing.T) {
	svc, ar := newService(t)
	svc.Retryable = func(code string) bool { return code == "EXTRACTION_FAILED" }
	ctx := context.Background()
	seedAnalysis(t, ar, analyses.Analysis{ID: "a1", UserID: "user-1", Status: analyses.StatusFailed, PaymentStatus: analyses.PaymentPaid, ErrorCode: "EXTRACTION_FAILED"})
	seedAnalysis(t, ar, analyses.Analysis{ID: "a2", UserID: "user-1", Status: analyses.StatusFailed, PaymentStatus: analyses.PaymentPaid, ErrorCode: "CONFIG_ERROR"})
	seedAnalysis(t, ar, analyses.Analysis{ID: "a3", UserID: "user-1", Status: analyses.StatusPending, PaymentStatus: analyses.PaymentPaid, ErrorCode: "EXTRACTION_FAILED"})

	view, err := svc.StatusFor(ctx, "user-1", "a1")
	require.NoError(t, err)
	assert.True(t, view.Retryable)

	view, err = svc.StatusFor(ctx, "user-1", "a2")
	require.NoError(t, err)
	assert.False(t, view.Retryable)

	view, err = svc.StatusFor(ctx, "user-1", "a3")
	require.NoError(t, err)
	assert.False(t, view.Retryable)

	svc.Retryable = nil
	view, err = svc.StatusFor(ctx, "user-1", "a1")
	require.NoError(t, err)
	assert.False(t, view.Retryable)
}
