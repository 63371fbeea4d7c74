package pipeline

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"servicesift-backend/internal/analyses"
	"servicesift-backend/internal/shared/server/middleware"
	"servicesift-backend/internal/shared/server/respond"
)

// InternalSecretHeader authenticates service-to-service pipeline calls.
const InternalSecretHeader = "X-Internal-Secret"

// Handler exposes the synchronous internal run endpoint.
type Handler struct {
	Runner *Runner
	Secret string
}

// NewHandler constructs a Handler.
func NewHandler(runner *Runner, secret string) *Handler {
	return &Handler{Runner: runner, Secret: secret}
}

// RegisterRoutes attaches the internal routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/internal/run-analysis", h.run)
}

type runRequest struct {
	AnalysisID   string `json:"analysisId"`
	RunID        string `json:"runId"`
	URL          string `json:"url"`
	BusinessName string `json:"businessName"`
}

func (h *Handler) run(c *gin.Context) {
	if h.Secret == "" {
		respond.Error(c, http.StatusInternalServerError, respond.CodeConfig, "internal api secret is not configured", nil)
		return
	}
	provided := c.GetHeader(InternalSecretHeader)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(h.Secret)) != 1 {
		respond.Error(c, http.StatusUnauthorized, respond.CodeAuth, "invalid internal secret", nil)
		return
	}

	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.AnalysisID) == "" {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "analysisId is required", nil)
		return
	}
	c.Set(middleware.AnalysisIDKey, req.AnalysisID)

	outcome, err := h.Runner.Run(c.Request.Context(), Job{
		AnalysisID:   req.AnalysisID,
		RunID:        req.RunID,
		URL:          req.URL,
		BusinessName: req.BusinessName,
		RequestID:    middleware.RequestIDFromContext(c),
	})
	if err != nil {
		if pe, ok := AsError(err); ok {
			respond.Error(c, http.StatusInternalServerError, pe.Code, pe.Message, nil)
			return
		}
		switch {
		case errors.Is(err, analyses.ErrNotFound):
			respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "analysis not found", nil)
		case errors.Is(err, ErrRunNotAccepted), errors.Is(err, ErrRunSuperseded):
			respond.Error(c, http.StatusConflict, respond.CodeValidation, err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "pipeline run failed", nil)
		}
		return
	}
	c.Set(middleware.StatusTransitionKey, analyses.StatusTransition(analyses.StatusSaving, analyses.StatusCompleted))
	respond.OK(c, gin.H{"status": outcome.Status, "analysisId": outcome.AnalysisID})
}
