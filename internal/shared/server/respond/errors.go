package respond

import (
	"github.com/gin-gonic/gin"

	"servicesift-backend/internal/shared/telemetry"
)

// Error codes shared across handlers.
const (
	CodeAuth          = "AUTH_ERROR"
	CodeValidation    = "VALIDATION_ERROR"
	CodeOwnership     = "OWNERSHIP_ERROR"
	CodeNotFound      = "NOT_FOUND"
	CodeConfig        = "CONFIG_ERROR"
	CodeInternal      = "INTERNAL_ERROR"
	CodeRateLimited   = "RATE_LIMITED"
	CodePaymentNotMet = "PAYMENT_NOT_COMPLETED"
	CodeNotPaid       = "NOT_PAID"
)

// ErrorResponse is the error envelope returned to clients.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

// Error sends a standardized error response.
func Error(c *gin.Context, status int, code, message string, details interface{}) {
	fields := map[string]any{
		"status":     status,
		"code":       code,
		"message":    message,
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
		"request_id": c.GetString("requestId"),
	}
	if userID := c.GetString("userId"); userID != "" {
		fields["user_id"] = userID
	}
	if status >= 500 {
		telemetry.Error("http.error", fields)
	} else {
		telemetry.Warn("http.error", fields)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}
