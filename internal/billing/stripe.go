package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeGateway implements Gateway with Stripe Checkout.
type StripeGateway struct {
	sessions      *session.Client
	webhookSecret string
}

// NewStripeGateway returns nil when no secret key is configured.
func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		return nil
	}
	return &StripeGateway{
		sessions:      &session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey},
		webhookSecret: strings.TrimSpace(webhookSecret),
	}
}

// NewStripeWebhookVerifier verifies webhooks without API access.
func NewStripeWebhookVerifier(webhookSecret string) *StripeGateway {
	return &StripeGateway{webhookSecret: strings.TrimSpace(webhookSecret)}
}

// CreateCheckoutSession creates a payment-mode session with a single line item.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	if g == nil || g.sessions == nil {
		return CheckoutSession{}, ErrGatewayNotConfigured
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	name := "ServiceSift review analysis: " + req.BusinessName
	if req.IsReanalysis {
		name = "ServiceSift re-analysis: " + req.BusinessName
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.AnalysisID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(req.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(name),
					},
				},
			},
		},
	}
	params.Context = ctx
	params.AddMetadata("analysisId", req.AnalysisID)
	params.AddMetadata("userId", req.UserID)
	params.AddMetadata("isReanalysis", strconv.FormatBool(req.IsReanalysis))
	params.AddMetadata("businessUrl", req.BusinessURL)

	sess, err := g.sessions.New(params)
	if err != nil {
		return CheckoutSession{}, eris.Wrap(err, "stripe: create checkout session")
	}
	return fromStripeSession(sess), nil
}

// GetCheckoutSession retrieves a session by id.
func (g *StripeGateway) GetCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error) {
	if g == nil || g.sessions == nil {
		return CheckoutSession{}, ErrGatewayNotConfigured
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := g.sessions.Get(sessionID, params)
	if err != nil {
		return CheckoutSession{}, eris.Wrap(err, "stripe: retrieve checkout session")
	}
	return fromStripeSession(sess), nil
}

type webhookSession struct {
	ID                string            `json:"id"`
	URL               string            `json:"url"`
	PaymentStatus     string            `json:"payment_status"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// ParseWebhook verifies the signature and decodes checkout session events.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (Event, error) {
	if g == nil || g.webhookSecret == "" {
		return Event{}, ErrWebhookNotConfigured
	}
	if strings.TrimSpace(signature) == "" {
		return Event{}, ErrInvalidSignature
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := Event{ID: event.ID, Type: string(event.Type)}
	if strings.HasPrefix(out.Type, "checkout.session.") && event.Data != nil {
		var s webhookSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return Event{}, eris.Wrap(err, "decode checkout session")
		}
		out.Session = CheckoutSession(s)
	}
	return out, nil
}

func fromStripeSession(s *stripe.CheckoutSession) CheckoutSession {
	if s == nil {
		return CheckoutSession{}
	}
	return CheckoutSession{
		ID:                s.ID,
		URL:               s.URL,
		PaymentStatus:     string(s.PaymentStatus),
		ClientReferenceID: s.ClientReferenceID,
		Metadata:          s.Metadata,
	}
}

var _ Gateway = (*StripeGateway)(nil)
