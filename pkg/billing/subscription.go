package billing

import (
	"time"

	"github.com/google/uuid"
)

// Subscription is the canonical local record of a user's subscription.
// It is a materialized view of the provider's billing facts: only the
// Reconciler mutates it, and it must converge to provider state rather
// than act as an independent ledger. Each user has at most one
// authoritative record.
type Subscription struct {
	UserID                 uuid.UUID // primary key - one record per user
	PlanID                 string
	Status                 Status
	ProviderCustomerID     string // immutable once set
	ProviderSubscriptionID string // empty until first activation
	PeriodStart            time.Time
	PeriodEnd              time.Time
	StatusChangedAt        time.Time // anchors the past_due grace window
	LastEventID            string    // replay guard
	LastEventAt            time.Time // ordering marker of the last applied event
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

func (s *Subscription) IsTrialing() bool {
	return s.Status == StatusTrialing
}

func (s *Subscription) IsCanceled() bool {
	return s.Status == StatusCanceled
}

// Entitled reports whether the record grants plan features at the given
// time, counting a past_due record still inside its grace window.
func (s *Subscription) Entitled(now time.Time, grace time.Duration) bool {
	switch s.Status {
	case StatusActive, StatusTrialing:
		return true
	case StatusPastDue:
		return now.Before(s.StatusChangedAt.Add(grace))
	default:
		return false
	}
}

func clone(s *Subscription) *Subscription {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
