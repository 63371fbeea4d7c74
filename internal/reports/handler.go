package reports

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"servicesift-backend/internal/shared/server/middleware"
	"servicesift-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the reports service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches report routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/report-status", h.status)
	rg.GET("/mint-report-artifact-url", h.mintArtifactURL)
}

func (h *Handler) status(c *gin.Context) {
	analysisID := strings.TrimSpace(c.Query("analysisId"))
	if analysisID == "" {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "analysisId is required", nil)
		return
	}
	c.Set(middleware.AnalysisIDKey, analysisID)

	view, err := h.Svc.StatusFor(c.Request.Context(), middleware.UserIDFromContext(c), analysisID)
	if err != nil {
		writeError(c, err, "failed to fetch report status")
		return
	}
	respond.OK(c, view)
}

func (h *Handler) mintArtifactURL(c *gin.Context) {
	q := ArtifactQuery{
		ArtifactID: strings.TrimSpace(c.Query("artifactId")),
		AnalysisID: strings.TrimSpace(c.Query("analysisId")),
		Kind:       strings.TrimSpace(c.Query("kind")),
	}
	if q.AnalysisID != "" {
		c.Set(middleware.AnalysisIDKey, q.AnalysisID)
	}

	url, ttl, err := h.Svc.MintArtifactURL(c.Request.Context(), middleware.UserIDFromContext(c), q)
	if err != nil {
		writeError(c, err, "failed to mint artifact url")
		return
	}
	respond.OK(c, gin.H{
		"url":              url,
		"expiresInSeconds": int(ttl.Seconds()),
	})
}

func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrInvalidQuery):
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "report not found", nil)
	case errors.Is(err, ErrNotOwner):
		respond.Error(c, http.StatusForbidden, respond.CodeOwnership, "You do not have access to this report", nil)
	case errors.Is(err, ErrNoSigner):
		respond.Error(c, http.StatusInternalServerError, respond.CodeConfig, "artifact storage is not configured", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, fallback, nil)
	}
}
