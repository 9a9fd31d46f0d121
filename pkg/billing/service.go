package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"
)

// EmailResolver supplies a billing email for a user when one is known.
// The default resolver returns an empty email.
type EmailResolver func(ctx context.Context, userID uuid.UUID) (string, error)

// Service issues checkout and portal sessions and resolves provider
// customers. It never mutates the subscription record: local state is
// updated only by the Reconciler, so a record can never show "active"
// before the provider confirms payment.
type Service struct {
	catalog  *Catalog
	provider Provider
	store    Store
	email    EmailResolver
	log      *slog.Logger

	flight        singleflight.Group
	retryAttempts uint64
	retryInterval time.Duration
}

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// WithLogger sets the logger used for operational events.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithEmailResolver sets a resolver that supplies billing emails to the
// provider when creating customers and checkout sessions.
func WithEmailResolver(resolver EmailResolver) ServiceOption {
	return func(s *Service) {
		if resolver != nil {
			s.email = resolver
		}
	}
}

// WithRetry overrides the bounded backoff used for outbound provider calls.
func WithRetry(attempts uint64, interval time.Duration) ServiceOption {
	return func(s *Service) {
		if attempts > 0 {
			s.retryAttempts = attempts
		}
		if interval > 0 {
			s.retryInterval = interval
		}
	}
}

// NewService creates a new Service with the given dependencies.
// Panics if required parameters are nil to fail fast during initialization.
func NewService(catalog *Catalog, provider Provider, store Store, opts ...ServiceOption) *Service {
	if catalog == nil {
		panic("billing: Catalog is required")
	}
	if provider == nil {
		panic("billing: Provider is required")
	}
	if store == nil {
		panic("billing: Store is required")
	}

	s := &Service{
		catalog:  catalog,
		provider: provider,
		store:    store,
		email: func(ctx context.Context, _ uuid.UUID) (string, error) {
			return "", nil
		},
		log:           slog.Default(),
		retryAttempts: 3,
		retryInterval: time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ResolveCustomer maps a user to a provider customer id, creating one lazily
// and exactly once. Concurrent calls for the same user are collapsed onto a
// single in-flight creation; the storage layer's insert-if-absent guarantee
// covers racing processes. Nothing is persisted when provider creation fails.
func (s *Service) ResolveCustomer(ctx context.Context, userID uuid.UUID) (string, error) {
	if sub, err := s.store.Get(ctx, userID); err == nil {
		if sub.ProviderCustomerID != "" {
			return sub.ProviderCustomerID, nil
		}
	} else if !errors.Is(err, ErrSubscriptionNotFound) {
		return "", err
	}

	id, err, _ := s.flight.Do(userID.String(), func() (any, error) {
		// Re-check under the flight lock: an earlier caller may have
		// persisted the id between our read and this closure running.
		if sub, err := s.store.Get(ctx, userID); err == nil && sub.ProviderCustomerID != "" {
			return sub.ProviderCustomerID, nil
		} else if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
			return "", err
		}

		email, err := s.email(ctx, userID)
		if err != nil {
			return "", fmt.Errorf("failed to resolve billing email: %w", err)
		}

		var customerID string
		err = s.callProvider(ctx, func(ctx context.Context) error {
			var err error
			customerID, err = s.provider.CreateCustomer(ctx, CustomerRequest{
				UserID: userID,
				Email:  email,
			})
			return err
		})
		if err != nil {
			return "", err
		}

		// The store resolves cross-process races: whichever id was persisted
		// first wins, and every caller observes that one.
		stored, err := s.store.SetCustomerID(ctx, userID, customerID)
		if err != nil {
			return "", fmt.Errorf("failed to persist provider customer id: %w", err)
		}
		if stored != customerID {
			s.log.WarnContext(ctx, "lost customer creation race, reusing persisted id",
				slog.String("user_id", userID.String()),
				slog.String("orphaned_customer_id", customerID))
		}
		return stored, nil
	})
	if err != nil {
		return "", err
	}

	return id.(string), nil
}

// CreateCheckout builds a one-time checkout session for a (user, plan, cycle)
// tuple. An existing provider customer is reused; otherwise the provider
// creates one during checkout and reports it back via webhook, so both paths
// converge to a single customer id by the first successful event. Local state
// is never touched here.
func (s *Service) CreateCheckout(ctx context.Context, userID uuid.UUID, planID string, cycle BillingCycle, opts CheckoutOptions) (*CheckoutSession, error) {
	plan, exists := s.catalog.Plan(planID)
	if !exists {
		return nil, ErrPlanNotFound
	}

	if !cycle.Valid() {
		return nil, errors.Join(ErrInvalidPlanConfiguration,
			fmt.Errorf("unknown billing cycle %q", cycle))
	}

	priceID, ok := plan.PriceID(cycle)
	if !ok {
		return nil, errors.Join(ErrInvalidPlanConfiguration,
			fmt.Errorf("plan %s has no provider price id for cycle %s", planID, cycle))
	}

	// Reuse a persisted customer id, but never create one here: first-time
	// checkouts let the provider mint the customer and the reconciler
	// persists it from the resulting event.
	var customerID string
	if sub, err := s.store.Get(ctx, userID); err == nil {
		customerID = sub.ProviderCustomerID
	} else if !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, err
	}

	var session *CheckoutSession
	err := s.callProvider(ctx, func(ctx context.Context) error {
		var err error
		session, err = s.provider.CreateCheckoutSession(ctx, CheckoutRequest{
			PriceID:    priceID,
			CustomerID: customerID,
			UserID:     userID,
			PlanID:     planID,
			Email:      opts.Email,
			SuccessURL: opts.SuccessURL,
			CancelURL:  opts.CancelURL,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return session, nil
}

// CreatePortal builds a self-service management session for an existing
// customer. Plan changes and cancellations made in the portal are reported
// back only through the webhook channel.
func (s *Service) CreatePortal(ctx context.Context, userID uuid.UUID, returnURL string) (*PortalSession, error) {
	sub, err := s.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil, ErrNoBillingCustomer
		}
		return nil, err
	}
	if sub.ProviderCustomerID == "" {
		return nil, ErrNoBillingCustomer
	}

	var session *PortalSession
	err = s.callProvider(ctx, func(ctx context.Context) error {
		var err error
		session, err = s.provider.CreatePortalSession(ctx, PortalRequest{
			CustomerID:     sub.ProviderCustomerID,
			SubscriptionID: sub.ProviderSubscriptionID,
			ReturnURL:      returnURL,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return session, nil
}

// Subscription returns the user's current record.
func (s *Service) Subscription(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	return s.store.Get(ctx, userID)
}

// callProvider runs an outbound provider call under bounded exponential
// backoff. Only failures marked ErrProviderUnavailable are retried; anything
// else is a terminal provider response and surfaces immediately.
func (s *Service) callProvider(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(s.retryAttempts, retry.NewExponential(s.retryInterval))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			if errors.Is(err, ErrProviderUnavailable) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
}
