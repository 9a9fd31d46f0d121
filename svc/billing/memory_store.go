package billing

import (
	"context"
	"sync"

	"github.com/google/uuid"

	core "github.com/dmitrymomot/billingkit/pkg/billing"
)

type memoryStore struct {
	mu     sync.RWMutex
	byUser map[uuid.UUID]core.Subscription
	bySub  map[string]uuid.UUID
}

// NewMemoryStore returns an in-memory Store for tests and local development.
// It provides the same insert-if-absent customer id guarantee as the
// Postgres implementation, scoped to a single process.
func NewMemoryStore() core.Store {
	return &memoryStore{
		byUser: make(map[uuid.UUID]core.Subscription),
		bySub:  make(map[string]uuid.UUID),
	}
}

func (s *memoryStore) Get(ctx context.Context, userID uuid.UUID) (*core.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.byUser[userID]
	if !ok {
		return nil, core.ErrSubscriptionNotFound
	}
	cp := sub
	return &cp, nil
}

func (s *memoryStore) GetBySubscriptionID(ctx context.Context, providerSubID string) (*core.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.bySub[providerSubID]
	if !ok {
		return nil, core.ErrSubscriptionNotFound
	}
	sub := s.byUser[userID]
	cp := sub
	return &cp, nil
}

func (s *memoryStore) Save(ctx context.Context, sub *core.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byUser[sub.UserID] = *sub
	if sub.ProviderSubscriptionID != "" {
		s.bySub[sub.ProviderSubscriptionID] = sub.UserID
	}
	return nil
}

func (s *memoryStore) SetCustomerID(ctx context.Context, userID uuid.UUID, customerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.byUser[userID]; ok {
		if sub.ProviderCustomerID != "" {
			// First writer wins; the caller reuses the persisted id.
			return sub.ProviderCustomerID, nil
		}
		sub.ProviderCustomerID = customerID
		s.byUser[userID] = sub
		return customerID, nil
	}

	s.byUser[userID] = core.Subscription{
		UserID:             userID,
		Status:             core.StatusNone,
		ProviderCustomerID: customerID,
	}
	return customerID, nil
}
