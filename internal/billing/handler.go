package billing

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"servicesift-backend/internal/analyses"
	"servicesift-backend/internal/shared/server/middleware"
	"servicesift-backend/internal/shared/server/respond"
	"servicesift-backend/internal/shared/telemetry"
)

// MaxWebhookBodyBytes bounds the webhook request body.
const MaxWebhookBodyBytes = 1 << 20

// Handler exposes checkout, confirmation, trigger and webhook endpoints.
type Handler struct {
	Checkout   *Checkout
	Reconciler *Reconciler
	Limiter    *middleware.RateLimiter
	Rule       middleware.RateLimitRule
}

// NewHandler constructs a Handler.
func NewHandler(checkout *Checkout, reconciler *Reconciler, limiter *middleware.RateLimiter, rule middleware.RateLimitRule) *Handler {
	return &Handler{Checkout: checkout, Reconciler: reconciler, Limiter: limiter, Rule: rule}
}

// RegisterRoutes attaches the authenticated billing routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/create-checkout", middleware.RateLimit(h.Limiter, "checkout", h.Rule), h.createCheckout)
	rg.POST("/confirm-payment", middleware.RateLimit(h.Limiter, "confirm", h.Rule), h.confirmPayment)
	rg.POST("/trigger-analysis", middleware.RateLimit(h.Limiter, "trigger", h.Rule), h.triggerAnalysis)
	rg.GET("/trigger-analysis", h.triggerInfo)
}

// RegisterWebhook attaches the unauthenticated processor webhook.
func (h *Handler) RegisterWebhook(rg *gin.RouterGroup) {
	rg.POST("/stripe-webhook", h.webhook)
}

func (h *Handler) createCheckout(c *gin.Context) {
	var in CheckoutInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "invalid request body", nil)
		return
	}
	c.Set(middleware.AnalysisIDKey, in.AnalysisID)

	resp, err := h.Checkout.Create(c.Request.Context(), middleware.UserIDFromContext(c), in)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, resp)
}

type confirmRequest struct {
	SessionID string `json:"session_id"`
}

func (h *Handler) confirmPayment(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "invalid request body", nil)
		return
	}
	res, err := h.Reconciler.Confirm(c.Request.Context(), middleware.UserIDFromContext(c), req.SessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set(middleware.AnalysisIDKey, res.AnalysisID)
	respond.OK(c, res)
}

type triggerRequest struct {
	AnalysisID   string `json:"analysisId"`
	URL          string `json:"url"`
	BusinessName string `json:"businessName"`
}

func (h *Handler) triggerAnalysis(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "invalid request body", nil)
		return
	}
	c.Set(middleware.AnalysisIDKey, req.AnalysisID)

	res, err := h.Reconciler.Trigger(c.Request.Context(), middleware.UserIDFromContext(c), TriggerRequest(req))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, res)
}

func (h *Handler) triggerInfo(c *gin.Context) {
	respond.OK(c, gin.H{
		"message": "POST {analysisId} to start the analysis pipeline for a paid analysis",
	})
}

func (h *Handler) webhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxWebhookBodyBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "unable to read request body", nil)
		return
	}

	err = h.Reconciler.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	switch {
	case err == nil:
		respond.OK(c, gin.H{"received": true})
	case errors.Is(err, ErrWebhookNotConfigured):
		respond.Error(c, http.StatusBadRequest, respond.CodeConfig, "webhook secret is not configured", nil)
	case errors.Is(err, ErrInvalidSignature):
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "invalid signature", nil)
	default:
		telemetry.Error("billing.webhook_error", map[string]any{"error": err.Error()})
		respond.OK(c, gin.H{"received": true})
	}
}

func writeError(c *gin.Context, err error) {
	var ve ValidationError
	switch {
	case errors.As(err, &ve):
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, ve.Message, nil)
	case errors.Is(err, ErrPaymentNotCompleted):
		respond.Error(c, http.StatusBadRequest, respond.CodePaymentNotMet, ErrPaymentNotCompleted.Error(), nil)
	case errors.Is(err, ErrNotPaid):
		respond.Error(c, http.StatusBadRequest, respond.CodeNotPaid, ErrNotPaid.Error(), nil)
	case errors.Is(err, ErrMissingAnalysisRef):
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "analysis id missing from checkout session", nil)
	case errors.Is(err, analyses.ErrNotFound):
		respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "analysis not found", nil)
	case errors.Is(err, analyses.ErrNotOwner):
		respond.Error(c, http.StatusForbidden, respond.CodeOwnership, "analysis belongs to another user", nil)
	case errors.Is(err, ErrGatewayNotConfigured):
		respond.Error(c, http.StatusInternalServerError, respond.CodeConfig, "payment gateway is not configured", nil)
	default:
		telemetry.Error("billing.request_failed", map[string]any{"path": c.Request.URL.Path, "error": err.Error()})
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "payment request failed", nil)
	}
}
