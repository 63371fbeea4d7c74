package billing

import (
	"context"
	"errors"
	"math"
	"net/url"
	"strings"

	"servicesift-backend/internal/analyses"
	"servicesift-backend/internal/shared/telemetry"
)

// CheckoutInput is the create-checkout request body.
type CheckoutInput struct {
	AnalysisID   string  `json:"analysisId"`
	BusinessName string  `json:"businessName"`
	URL          string  `json:"url"`
	Amount       float64 `json:"amount"`
	IsReanalysis bool    `json:"isReanalysis"`
}

// CheckoutResponse is returned to the browser, which redirects to URL.
type CheckoutResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

// Checkout creates hosted payment sessions for draft analyses.
type Checkout struct {
	Analyses   analyses.Repo
	Gateway    Gateway
	AppBaseURL string
	Currency   string
}

// Create validates the draft and opens a checkout session for it.
func (c *Checkout) Create(ctx context.Context, userID string, in CheckoutInput) (CheckoutResponse, error) {
	analysisID := strings.TrimSpace(in.AnalysisID)
	if analysisID == "" {
		return CheckoutResponse{}, invalid("analysisId is required")
	}
	if strings.TrimSpace(in.BusinessName) == "" {
		return CheckoutResponse{}, invalid("businessName is required")
	}
	if strings.TrimSpace(in.URL) == "" {
		return CheckoutResponse{}, invalid("url is required")
	}
	if in.Amount <= 0 || math.IsNaN(in.Amount) || math.IsInf(in.Amount, 0) {
		return CheckoutResponse{}, invalid("amount must be greater than zero")
	}

	a, err := c.Analyses.GetByID(ctx, analysisID)
	if errors.Is(err, analyses.ErrNotFound) {
		return CheckoutResponse{}, invalid("analysis not found")
	}
	if err != nil {
		return CheckoutResponse{}, err
	}
	if a.UserID != userID {
		return CheckoutResponse{}, invalid("analysis not found")
	}
	if c.Gateway == nil {
		return CheckoutResponse{}, ErrGatewayNotConfigured
	}

	base := strings.TrimRight(c.AppBaseURL, "/")
	currency := c.Currency
	if currency == "" {
		currency = "usd"
	}
	sess, err := c.Gateway.CreateCheckoutSession(ctx, CheckoutRequest{
		AnalysisID:   a.ID,
		UserID:       userID,
		BusinessName: strings.TrimSpace(in.BusinessName),
		BusinessURL:  strings.TrimSpace(in.URL),
		AmountCents:  int64(math.Round(in.Amount * 100)),
		Currency:     currency,
		IsReanalysis: in.IsReanalysis,
		SuccessURL:   base + "/payment-success?session_id={CHECKOUT_SESSION_ID}&analysis_id=" + url.QueryEscape(a.ID),
		CancelURL:    base + "/payment-cancelled?analysis_id=" + url.QueryEscape(a.ID),
	})
	if err != nil {
		return CheckoutResponse{}, err
	}
	if err := c.Analyses.AttachSession(ctx, a.ID, sess.ID); err != nil {
		return CheckoutResponse{}, err
	}
	telemetry.Info("billing.checkout_created", map[string]any{
		"analysis_id":   a.ID,
		"user_id":       userID,
		"session_id":    sess.ID,
		"is_reanalysis": in.IsReanalysis,
	})
	return CheckoutResponse{URL: sess.URL, SessionID: sess.ID}, nil
}
