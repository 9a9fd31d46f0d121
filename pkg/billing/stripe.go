package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeConfig holds configuration for the Stripe billing provider.
type StripeConfig struct {
	APIKey string `env:"STRIPE_API_KEY"`
}

// StripeProvider implements Provider for Stripe using hosted Checkout and
// the Billing Portal. Each instance carries its own API client instead of
// the SDK's global key, so credentials are injected like every other
// dependency.
type StripeProvider struct {
	client *client.API
}

// NewStripeProvider creates a new Stripe billing provider.
func NewStripeProvider(config StripeConfig) (*StripeProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("stripe API key is required")
	}

	api := &client.API{}
	api.Init(config.APIKey, nil)

	return &StripeProvider{client: api}, nil
}

// CreateCustomer creates a Stripe customer carrying the internal user id as
// metadata so webhook events remain attributable.
func (p *StripeProvider) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if req.Email != "" {
		params.Email = stripe.String(req.Email)
	}
	params.AddMetadata("user_id", req.UserID.String())

	cus, err := p.client.Customers.New(params)
	if err != nil {
		return "", stripeError(err)
	}

	return cus.ID, nil
}

// CreateCheckoutSession creates a subscription-mode Checkout session. The
// user and plan ids are embedded on both the session and the resulting
// subscription so the reconciler never depends on the customer id alone.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.PriceID == "" {
		return nil, errors.New("price ID is required")
	}

	metadata := map[string]string{
		"user_id": req.UserID.String(),
		"plan_id": req.PlanID,
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(req.UserID.String()),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	if req.SuccessURL != "" {
		params.SuccessURL = stripe.String(req.SuccessURL)
	}
	if req.CancelURL != "" {
		params.CancelURL = stripe.String(req.CancelURL)
	}

	// Reuse the known customer; otherwise Stripe creates one during checkout
	// and reports it back on the webhook channel.
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}

	sess, err := p.client.CheckoutSessions.New(params)
	if err != nil {
		return nil, stripeError(err)
	}
	if sess.URL == "" {
		return nil, errors.New("no checkout URL returned from stripe")
	}

	return &CheckoutSession{
		URL:       sess.URL,
		SessionID: sess.ID,
		ExpiresAt: time.Unix(sess.ExpiresAt, 0),
	}, nil
}

// CreatePortalSession creates a Billing Portal session for an existing
// customer.
func (p *StripeProvider) CreatePortalSession(ctx context.Context, req PortalRequest) (*PortalSession, error) {
	if req.CustomerID == "" {
		return nil, ErrNoBillingCustomer
	}

	params := &stripe.BillingPortalSessionParams{
		Customer: stripe.String(req.CustomerID),
	}
	params.Context = ctx
	if req.ReturnURL != "" {
		params.ReturnURL = stripe.String(req.ReturnURL)
	}

	sess, err := p.client.BillingPortalSessions.New(params)
	if err != nil {
		return nil, stripeError(err)
	}
	if sess.URL == "" {
		return nil, errors.New("no portal URL returned from stripe")
	}

	// Stripe portal links are single-use and short-lived.
	return &PortalSession{
		URL:       sess.URL,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

// stripeError classifies SDK failures: API-side and transport failures are
// retryable, everything else (invalid request, card errors) is terminal.
func stripeError(err error) error {
	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		if sErr.Type == stripe.ErrorTypeAPI {
			return errors.Join(ErrProviderUnavailable, err)
		}
		return fmt.Errorf("stripe: %w", err)
	}
	return errors.Join(ErrProviderUnavailable, err)
}
