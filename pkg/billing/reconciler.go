package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Reconciler consumes provider lifecycle events and folds them into the
// canonical subscription record. It is the sole mutation path for local
// state and tolerates duplicated, out-of-order and concurrent delivery:
// replayed event ids and stale ordering markers are no-ops, and events for
// the same subscription id are strictly serialized.
type Reconciler struct {
	catalog *Catalog
	store   Store
	log     *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// ReconcilerOption configures a Reconciler instance.
type ReconcilerOption func(*Reconciler)

// WithReconcilerLogger sets the logger for reconciliation events.
func WithReconcilerLogger(log *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if log != nil {
			r.log = log
		}
	}
}

// WithReconcilerClock overrides the time source, useful in tests.
func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// NewReconciler creates a Reconciler. Panics on nil dependencies to fail
// fast during initialization.
func NewReconciler(catalog *Catalog, store Store, opts ...ReconcilerOption) *Reconciler {
	if catalog == nil {
		panic("billing: Catalog is required")
	}
	if store == nil {
		panic("billing: Store is required")
	}

	r := &Reconciler{
		catalog: catalog,
		store:   store,
		log:     slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
		locks:   make(map[string]*sync.Mutex),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Apply folds a single event into the subscription record, all-or-nothing.
// The returned bool reports whether stored state changed. Errors are meant
// for the transport layer: reporting the delivery as failed makes the
// provider redeliver; they are never shown to end users.
func (r *Reconciler) Apply(ctx context.Context, event Event) (bool, error) {
	switch event.Type {
	case EventCheckoutCompleted, EventSubscriptionCreated,
		EventSubscriptionUpdated, EventSubscriptionDeleted, EventPaymentFailed:
	default:
		// Unknown types are accepted and ignored to stay forward-compatible
		// with provider schema evolution.
		r.log.InfoContext(ctx, "ignoring unhandled billing event",
			slog.String("event_type", string(event.Type)),
			slog.String("event_id", event.ID))
		return false, nil
	}

	if event.ID == "" {
		return false, fmt.Errorf("billing event without id")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now()
	}

	unlock := r.lock(lockKey(event))
	defer unlock()

	sub, err := r.find(ctx, event)
	if err != nil {
		return false, err
	}

	if sub != nil {
		if sub.LastEventID == event.ID {
			return false, nil
		}

		sameSub := sub.ProviderSubscriptionID != "" && sub.ProviderSubscriptionID == event.SubscriptionID
		if sameSub && !event.OccurredAt.After(sub.LastEventAt) {
			r.log.DebugContext(ctx, "ignoring stale billing event",
				slog.String("event_id", event.ID),
				slog.Time("occurred_at", event.OccurredAt),
				slog.Time("last_event_at", sub.LastEventAt))
			return false, nil
		}

		if sub.ProviderCustomerID != "" && event.CustomerID != "" && sub.ProviderCustomerID != event.CustomerID {
			return false, errors.Join(ErrCustomerIdentityMismatch,
				fmt.Errorf("user %s has customer %s, event %s reports %s",
					sub.UserID, sub.ProviderCustomerID, event.ID, event.CustomerID))
		}

		// A different subscription id means a brand-new provider lifecycle.
		// Only creation-style events may replace the current one; everything
		// else for an unknown lifecycle is dropped.
		if sub.ProviderSubscriptionID != "" && event.SubscriptionID != "" && !sameSub {
			switch event.Type {
			case EventCheckoutCompleted, EventSubscriptionCreated:
			default:
				r.log.WarnContext(ctx, "ignoring event for unknown subscription lifecycle",
					slog.String("event_id", event.ID),
					slog.String("subscription_id", event.SubscriptionID),
					slog.String("known_subscription_id", sub.ProviderSubscriptionID))
				return false, nil
			}
		}
	}

	planID, err := r.resolvePlan(event)
	if err != nil {
		return false, err
	}

	now := r.now()
	if sub == nil {
		switch event.Type {
		case EventSubscriptionDeleted, EventPaymentFailed:
			// Nothing on file to cancel or age; acknowledge as a no-op.
			return false, nil
		}
		userID, parseErr := uuid.Parse(event.Metadata.UserID)
		if parseErr != nil {
			return false, errors.Join(ErrEventUnattributable,
				fmt.Errorf("event %s carries no usable user id in metadata", event.ID))
		}
		sub = &Subscription{
			UserID:    userID,
			Status:    StatusNone,
			CreatedAt: now,
		}
	}

	next, apply := nextStatus(sub.Status, event)
	if !apply {
		return false, nil
	}

	updated := clone(sub)
	if updated.ProviderCustomerID == "" {
		updated.ProviderCustomerID = event.CustomerID
	}
	if event.SubscriptionID != "" {
		updated.ProviderSubscriptionID = event.SubscriptionID
	}
	if planID != "" {
		updated.PlanID = planID
	}
	if !event.PeriodStart.IsZero() {
		updated.PeriodStart = event.PeriodStart
	}
	if !event.PeriodEnd.IsZero() {
		updated.PeriodEnd = event.PeriodEnd
	}
	if next != updated.Status {
		updated.Status = next
		updated.StatusChangedAt = event.OccurredAt
	}
	updated.LastEventID = event.ID
	updated.LastEventAt = event.OccurredAt
	updated.UpdatedAt = now

	if err := r.store.Save(ctx, updated); err != nil {
		return false, fmt.Errorf("failed to save subscription: %w", err)
	}

	r.log.InfoContext(ctx, "applied billing event",
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.Type)),
		slog.String("user_id", updated.UserID.String()),
		slog.String("status", string(updated.Status)))

	return true, nil
}

// resolvePlan maps the event's price reference back to an internal plan id.
// The session metadata plan id serves as fallback attribution when the
// provider omits the price. An unmappable price fails the event so state is
// never guessed.
func (r *Reconciler) resolvePlan(event Event) (string, error) {
	if event.PriceID != "" {
		ref, ok := r.catalog.ByPrice(event.PriceID)
		if !ok {
			return "", errors.Join(ErrUnknownPriceReference,
				fmt.Errorf("event %s references price id %s", event.ID, event.PriceID))
		}
		return ref.PlanID, nil
	}
	if event.Metadata.PlanID != "" {
		if _, ok := r.catalog.Plan(event.Metadata.PlanID); !ok {
			return "", errors.Join(ErrPlanNotFound,
				fmt.Errorf("event %s metadata references plan %s", event.ID, event.Metadata.PlanID))
		}
		return event.Metadata.PlanID, nil
	}
	return "", nil
}

// nextStatus is the per-subscription state machine. The second return value
// reports whether the event should mutate the record at all.
func nextStatus(current Status, event Event) (Status, bool) {
	switch event.Type {
	case EventCheckoutCompleted, EventSubscriptionCreated:
		status := event.Status
		if status == "" || status == StatusNone {
			status = StatusActive
		}
		return status, true
	case EventSubscriptionUpdated:
		if event.Status == "" {
			// Plan or period change without a status transition.
			return current, true
		}
		return event.Status, true
	case EventSubscriptionDeleted:
		if current == StatusCanceled {
			// Terminal already; replayed cancellation is a silent no-op.
			return current, false
		}
		return StatusCanceled, true
	case EventPaymentFailed:
		if current == StatusCanceled || current == StatusNone {
			return current, false
		}
		return StatusPastDue, true
	}
	return current, false
}

func (r *Reconciler) find(ctx context.Context, event Event) (*Subscription, error) {
	if event.SubscriptionID != "" {
		sub, err := r.store.GetBySubscriptionID(ctx, event.SubscriptionID)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, ErrSubscriptionNotFound) {
			return nil, err
		}
	}
	if event.Metadata.UserID != "" {
		if userID, err := uuid.Parse(event.Metadata.UserID); err == nil {
			sub, err := r.store.Get(ctx, userID)
			if err == nil {
				return sub, nil
			}
			if !errors.Is(err, ErrSubscriptionNotFound) {
				return nil, err
			}
		}
	}
	return nil, nil
}

// lock serializes event processing per subscription id. The lock set grows
// with distinct keys but is bounded by the number of subscriptions a single
// process ever sees between restarts.
func (r *Reconciler) lock(key string) func() {
	r.mu.Lock()
	m, ok := r.locks[key]
	if !ok {
		m = &sync.Mutex{}
		r.locks[key] = m
	}
	r.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func lockKey(event Event) string {
	if event.SubscriptionID != "" {
		return "sub:" + event.SubscriptionID
	}
	if event.Metadata.UserID != "" {
		return "user:" + event.Metadata.UserID
	}
	return "customer:" + event.CustomerID
}
