package analyses

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"servicesift-backend/internal/businesses"
	"servicesift-backend/internal/shared/server/middleware"
	"servicesift-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the analyses service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches analysis routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/analyses", h.createDraft)
	rg.GET("/analyses", h.listAnalyses)
	rg.GET("/analyses/:id", h.getAnalysis)
}

type createDraftRequest struct {
	URL          string `json:"url"`
	BusinessName string `json:"businessName"`
}

func (h *Handler) createDraft(c *gin.Context) {
	var req createDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "invalid request body", nil)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "url is required", nil)
		return
	}

	a, err := h.Svc.CreateDraft(c.Request.Context(), Draft{
		UserID:       middleware.UserIDFromContext(c),
		URL:          req.URL,
		BusinessName: req.BusinessName,
	})
	if err != nil {
		switch {
		case errors.Is(err, businesses.ErrInvalidURL):
			respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "url must be an http(s) listing url", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to create analysis", nil)
		}
		return
	}
	c.Set(middleware.AnalysisIDKey, a.ID)

	respond.Created(c, gin.H{
		"analysisId":    a.ID,
		"businessId":    a.BusinessID,
		"isBaseline":    a.IsBaseline,
		"paymentStatus": a.PaymentStatus,
	})
}

func (h *Handler) listAnalyses(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	list, err := h.Svc.List(c.Request.Context(), middleware.UserIDFromContext(c), limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to list analyses", nil)
		return
	}

	items := make([]gin.H, 0, len(list))
	for _, a := range list {
		item := gin.H{
			"analysisId":    a.ID,
			"businessId":    a.BusinessID,
			"businessName":  a.BusinessName,
			"status":        a.Status,
			"paymentStatus": a.PaymentStatus,
			"isBaseline":    a.IsBaseline,
			"createdAt":     a.CreatedAt,
		}
		if a.Status == StatusCompleted {
			item["reviewCount"] = a.ReviewCount
			item["averageRating"] = a.AverageRating
		}
		items = append(items, item)
	}
	respond.OK(c, gin.H{"analyses": items})
}

func (h *Handler) getAnalysis(c *gin.Context) {
	analysisID := c.Param("id")
	c.Set(middleware.AnalysisIDKey, analysisID)

	a, results, err := h.Svc.Detail(c.Request.Context(), middleware.UserIDFromContext(c), analysisID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "analysis not found", nil)
		case errors.Is(err, ErrNotOwner):
			respond.Error(c, http.StatusForbidden, respond.CodeOwnership, "You do not have access to this analysis", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to fetch analysis", nil)
		}
		return
	}

	resp := gin.H{"analysis": a}
	if a.Status == StatusCompleted {
		resp["results"] = results
	}
	respond.OK(c, resp)
}
