package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Provider defines the minimal interface for payment provider integrations.
// This abstraction allows support for different providers (Stripe, Paddle)
// while avoiding vendor lock-in. The provider handles all payment complexity
// through hosted checkouts and customer portals.
//
// Implementations wrap transport-level failures with ErrProviderUnavailable
// so the service layer can retry them with bounded backoff.
type Provider interface {
	// CreateCustomer creates a customer record on the provider side and
	// returns its id. Called at most once per user by the customer resolver.
	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)

	// CreateCheckoutSession creates a hosted checkout session for a price.
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)

	// CreatePortalSession returns a temporary link to the provider-hosted
	// portal where users update payment methods, cancel, or change plans.
	CreatePortalSession(ctx context.Context, req PortalRequest) (*PortalSession, error)
}

// CustomerRequest contains data needed to create a provider customer.
type CustomerRequest struct {
	UserID uuid.UUID
	Email  string // optional billing email
}

// CheckoutRequest contains data needed to create a checkout session.
// UserID and PlanID are embedded as opaque metadata on the session so the
// reconciler can attribute the resulting events.
type CheckoutRequest struct {
	PriceID    string // provider's price identifier
	CustomerID string // existing provider customer, empty to let the provider create one
	UserID     uuid.UUID
	PlanID     string
	Email      string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession represents a hosted checkout session.
type CheckoutSession struct {
	URL       string    // hosted checkout URL to redirect the user to
	SessionID string    // provider's session identifier
	ExpiresAt time.Time // link expiration
}

// PortalRequest contains data needed to create a self-service portal session.
type PortalRequest struct {
	CustomerID     string // required, the provider customer id on file
	SubscriptionID string // optional, scopes the portal to one subscription
	ReturnURL      string
}

// PortalSession represents a customer portal session.
type PortalSession struct {
	URL       string
	ExpiresAt time.Time
}
