package billing

import (
	"context"

	"github.com/google/uuid"
)

// Store defines the interface for subscription persistence.
// Each user has exactly one record, so UserID serves as the primary key.
type Store interface {
	// Get retrieves a subscription record by user id.
	// Returns ErrSubscriptionNotFound if no record exists.
	Get(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// GetBySubscriptionID retrieves a record by the provider subscription id.
	// Returns ErrSubscriptionNotFound if no record exists.
	GetBySubscriptionID(ctx context.Context, providerSubID string) (*Subscription, error)

	// Save creates or updates a record keyed by UserID.
	Save(ctx context.Context, sub *Subscription) error

	// SetCustomerID persists the provider customer id for a user if none is
	// set, creating a bare record when the user has none, and returns the
	// stored value. When another writer won the race, the already-persisted
	// id is returned and customerID is discarded. This is the storage-level
	// insert-if-absent guarantee the customer resolver relies on under
	// multi-process deployment.
	SetCustomerID(ctx context.Context, userID uuid.UUID, customerID string) (string, error)
}
