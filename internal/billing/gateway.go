package billing

import (
	"context"
	"errors"
)

// Stripe checkout event types handled by the webhook.
const (
	EventCheckoutCompleted          = "checkout.session.completed"
	EventCheckoutAsyncPaymentOK     = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncPaymentFailed = "checkout.session.async_payment_failed"
)

// SessionPaid is the processor-side payment_status of a settled session.
const SessionPaid = "paid"

var (
	ErrGatewayNotConfigured = errors.New("payment gateway is not configured")
	ErrWebhookNotConfigured = errors.New("webhook secret is not configured")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
)

// CheckoutRequest describes a one-off payment for an analysis.
type CheckoutRequest struct {
	AnalysisID   string
	UserID       string
	BusinessName string
	BusinessURL  string
	AmountCents  int64
	Currency     string
	IsReanalysis bool
	SuccessURL   string
	CancelURL    string
}

// CheckoutSession is the subset of a processor session the reconciler needs.
type CheckoutSession struct {
	ID                string
	URL               string
	PaymentStatus     string
	ClientReferenceID string
	Metadata          map[string]string
}

// AnalysisRef returns the analysis id carried by the session.
func (s CheckoutSession) AnalysisRef() string {
	if id := s.Metadata["analysisId"]; id != "" {
		return id
	}
	return s.ClientReferenceID
}

// Event is a verified webhook event.
type Event struct {
	ID      string
	Type    string
	Session CheckoutSession
}

// Gateway is the payment processor.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error)
	ParseWebhook(payload []byte, signature string) (Event, error)
}
