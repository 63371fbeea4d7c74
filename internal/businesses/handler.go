package businesses

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"servicesift-backend/internal/shared/server/middleware"
	"servicesift-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the businesses service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches business routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/businesses", h.list)
	rg.DELETE("/businesses/:id", h.delete)
}

func (h *Handler) list(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	items, err := h.Svc.List(c.Request.Context(), userID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to list businesses", nil)
		return
	}
	respond.OK(c, gin.H{"businesses": items})
}

func (h *Handler) delete(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	businessID := c.Param("id")
	if err := h.Svc.Delete(c.Request.Context(), userID, businessID); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "business not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to delete business", nil)
		}
		return
	}
	c.Status(http.StatusNoContent)
}
