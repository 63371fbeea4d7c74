package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"servicesift-backend/internal/analyses"
	"servicesift-backend/internal/reports"
	"servicesift-backend/internal/shared/auth"
	"servicesift-backend/internal/shared/config"
)

const testSecret = "router-test-secret"

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	repo := analyses.NewMemoryRepo()
	return NewRouter(RouterDeps{
		Config:   config.Config{Env: "test"},
		Verifier: auth.NewVerifier(testSecret),
		Reports:  reports.NewHandler(&reports.Service{Repo: reports.NewMemoryRepo(), Analyses: repo}),
		Analyses: analyses.NewHandler(&analyses.Service{Repo: repo}),
	})
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	r := newTestRouter()

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.NotEmpty(t, resp.Header().Get("X-Request-Id"))

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, strings.Contains(resp.Body.String(), "pipeline_started_total"))
}

func TestAuthedRoutesRequireToken(t *testing.T) {
	r := newTestRouter()

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/report-status?analysisId=a1", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	token, err := auth.Sign(testSecret, "user-1", "owner@example.com", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/report-status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAddr(t *testing.T) {
	assert.Equal(t, ":8080", Addr(""))
	assert.Equal(t, ":9000", Addr("9000"))
	assert.Equal(t, ":9000", Addr(":9000"))
}
