package billing

import "time"

// EventType represents the normalized billing lifecycle event type.
// Provider adapters map their specific event names to these values.
type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout_completed"
	EventSubscriptionCreated EventType = "subscription_created"
	EventSubscriptionUpdated EventType = "subscription_updated"
	EventSubscriptionDeleted EventType = "subscription_deleted"
	EventPaymentFailed       EventType = "payment_failed"
)

// EventMetadata carries the opaque attribution values embedded on the
// checkout session, so events can be tied to a user without relying
// solely on the provider customer id.
type EventMetadata struct {
	UserID string
	PlanID string
}

// Event is a verified, transport-deduplicated lifecycle notification from
// the billing provider. OccurredAt is the ordering marker: an event that is
// not newer than the last applied one for the same subscription is ignored.
type Event struct {
	ID             string
	Type           EventType
	OccurredAt     time.Time
	CustomerID     string
	SubscriptionID string
	Status         Status
	PriceID        string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	Metadata       EventMetadata
}
