package billing_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateCustomer(ctx context.Context, req billing.CustomerRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.CheckoutSession), args.Error(1)
}

func (m *mockProvider) CreatePortalSession(ctx context.Context, req billing.PortalRequest) (*billing.PortalSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.PortalSession), args.Error(1)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Get(ctx context.Context, userID uuid.UUID) (*billing.Subscription, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Subscription), args.Error(1)
}

func (m *mockStore) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*billing.Subscription, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Subscription), args.Error(1)
}

func (m *mockStore) Save(ctx context.Context, sub *billing.Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *mockStore) SetCustomerID(ctx context.Context, userID uuid.UUID, customerID string) (string, error) {
	args := m.Called(ctx, userID, customerID)
	return args.String(0), args.Error(1)
}

func newTestService(t *testing.T, provider billing.Provider, store billing.Store, opts ...billing.ServiceOption) *billing.Service {
	t.Helper()
	return billing.NewService(testCatalog(t), provider, store, opts...)
}

func TestServiceResolveCustomer(t *testing.T) {
	t.Parallel()

	userID := uuid.New()

	t.Run("returns persisted customer id without provider call", func(t *testing.T) {
		t.Parallel()

		provider := new(mockProvider)
		store := new(mockStore)
		store.On("Get", mock.Anything, userID).Return(&billing.Subscription{
			UserID:             userID,
			ProviderCustomerID: "cus_123",
		}, nil)

		svc := newTestService(t, provider, store)

		id, err := svc.ResolveCustomer(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, "cus_123", id)
		provider.AssertNotCalled(t, "CreateCustomer", mock.Anything, mock.Anything)
	})

	t.Run("creates customer lazily on first access", func(t *testing.T) {
		t.Parallel()

		provider := new(mockProvider)
		store := new(mockStore)
		store.On("Get", mock.Anything, userID).Return(nil, billing.ErrSubscriptionNotFound)
		provider.On("CreateCustomer", mock.Anything, mock.MatchedBy(func(req billing.CustomerRequest) bool {
			return req.UserID == userID
		})).Return("cus_new", nil).Once()
		store.On("SetCustomerID", mock.Anything, userID, "cus_new").Return("cus_new", nil).Once()

		svc := newTestService(t, provider, store)

		id, err := svc.ResolveCustomer(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, "cus_new", id)
		provider.AssertExpectations(t)
		store.AssertExpectations(t)
	})

	t.Run("concurrent resolution creates exactly one customer", func(t *testing.T) {
		t.Parallel()

		var created atomic.Int64
		provider := new(mockProvider)
		store := new(mockStore)
		store.On("Get", mock.Anything, userID).Return(nil, billing.ErrSubscriptionNotFound)
		provider.On("CreateCustomer", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				created.Add(1)
				time.Sleep(50 * time.Millisecond)
			}).
			Return("cus_once", nil)
		store.On("SetCustomerID", mock.Anything, userID, "cus_once").Return("cus_once", nil)

		svc := newTestService(t, provider, store)

		const goroutines = 20
		start := make(chan struct{})
		var wg sync.WaitGroup
		results := make([]string, goroutines)
		errs := make([]error, goroutines)
		for i := range goroutines {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				results[i], errs[i] = svc.ResolveCustomer(context.Background(), userID)
			}()
		}
		close(start)
		wg.Wait()

		for i := range goroutines {
			require.NoError(t, errs[i])
			assert.Equal(t, "cus_once", results[i])
		}
		assert.Equal(t, int64(1), created.Load())
	})

	t.Run("adopts the id that won the cross-process race", func(t *testing.T) {
		t.Parallel()

		provider := new(mockProvider)
		store := new(mockStore)
		store.On("Get", mock.Anything, userID).Return(nil, billing.ErrSubscriptionNotFound)
		provider.On("CreateCustomer", mock.Anything, mock.Anything).Return("cus_mine", nil)
		store.On("SetCustomerID", mock.Anything, userID, "cus_mine").Return("cus_theirs", nil)

		svc := newTestService(t, provider, store)

		id, err := svc.ResolveCustomer(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, "cus_theirs", id)
	})

	t.Run("persists nothing when provider creation fails", func(t *testing.T) {
		t.Parallel()

		provider := new(mockProvider)
		store := new(mockStore)
		store.On("Get", mock.Anything, userID).Return(nil, billing.ErrSubscriptionNotFound)
		provider.On("CreateCustomer", mock.Anything, mock.Anything).Return("", errors.New("declined"))

		svc := newTestService(t, provider, store)

		_, err := svc.ResolveCustomer(context.Background(), userID)
		require.Error(t, err)
		store.AssertNotCalled(t, "SetCustomerID", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("retries transient provider failures", func(t *testing.T) {
		t.Parallel()

		provider := new(mockProvider)
		store := new(mockStore)
		store.On("Get", mock.Anything, userID).Return(nil, billing.ErrSubscriptionNotFound)
		provider.On("CreateCustomer", mock.Anything, mock.Anything).
			Return("", billing.ErrProviderUnavailable).Twice()
		provider.On("CreateCustomer", mock.Anything, mock.Anything).
			Return("cus_recovered", nil).Once()
		store.On("SetCustomerID", mock.Anything, userID, "cus_recovered").Return("cus_recovered", nil)

		svc := newTestService(t, provider, store, billing.WithRetry(3, time.Millisecond))

		id, err := svc.ResolveCustomer(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, "cus_recovered", id)
		provider.AssertExpectations(t)
	})
}

func TestServiceCreateCheckout(t *testing.T) {
	t.Parallel()

	userID := uuid.New()

	t.Run("creates session for known plan and cycle", func(t *testing.T) {
		t.Parallel()

		provider := new(mockProvider)
		store := new(mockStore)
		store.On("Get", mock.Anything, userID).Return(nil, billing.ErrSubscriptionNotFound)
		provider.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(req billing.CheckoutRequest) bool {
			return req.PriceID == "price_pro_monthly" &&
				req.PlanID == "pro" &&
				req.UserID == userID &&
				req.CustomerID == ""
		})).Return(&billing.CheckoutSession{URL: "https://pay.example.com/cs_1"}, nil)

		svc := newTestService(t, provider, store)

		session, err := svc.CreateCheckout(context.Background(), userID, "pro", billing.CycleMonthly, billing.CheckoutOptions{})
		require.NoError(t, err)
		assert.Equal(t, "https://pay.example.com/cs_1", session.URL)
	})

	t.Run("reuses persisted provider customer", func(t *testing.T) {
		t.Parallel()

		provider := new(mockProvider)
		store := new(mockStore)
		store.On("Get", mock.Anything, userID).Return(&billing.Subscription{
			UserID:             userID,
			ProviderCustomerID: "cus_42",
		}, nil)
		provider.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(req billing.CheckoutRequest) bool {
			return req.CustomerID == "cus_42"
		})).Return(&billing.CheckoutSession{URL: "https://pay.example.com/cs_2"}, nil)

		svc := newTestService(t, provider, store)

		_, err := svc.CreateCheckout(context.Background(), userID, "pro", billing.CycleMonthly, billing.CheckoutOptions{})
		require.NoError(t, err)
		provider.AssertExpectations(t)
	})

	t.Run("unknown plan", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(t, new(mockProvider), new(mockStore))

		_, err := svc.CreateCheckout(context.Background(), userID, "enterprise", billing.CycleMonthly, billing.CheckoutOptions{})
		assert.ErrorIs(t, err, billing.ErrPlanNotFound)
	})

	t.Run("unknown billing cycle", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(t, new(mockProvider), new(mockStore))

		_, err := svc.CreateCheckout(context.Background(), userID, "pro", "weekly", billing.CheckoutOptions{})
		assert.ErrorIs(t, err, billing.ErrInvalidPlanConfiguration)
	})

	t.Run("never mutates local state", func(t *testing.T) {
		t.Parallel()

		provider := new(mockProvider)
		store := new(mockStore)
		store.On("Get", mock.Anything, userID).Return(nil, billing.ErrSubscriptionNotFound)
		provider.On("CreateCheckoutSession", mock.Anything, mock.Anything).
			Return(&billing.CheckoutSession{URL: "https://pay.example.com/cs_3"}, nil)

		svc := newTestService(t, provider, store)

		_, err := svc.CreateCheckout(context.Background(), userID, "pro", billing.CycleMonthly, billing.CheckoutOptions{})
		require.NoError(t, err)
		store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
		store.AssertNotCalled(t, "SetCustomerID", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestServiceCreatePortal(t *testing.T) {
	t.Parallel()

	userID := uuid.New()

	t.Run("creates portal session for existing customer", func(t *testing.T) {
		t.Parallel()

		provider := new(mockProvider)
		store := new(mockStore)
		store.On("Get", mock.Anything, userID).Return(&billing.Subscription{
			UserID:                 userID,
			ProviderCustomerID:     "cus_7",
			ProviderSubscriptionID: "sub_7",
		}, nil)
		provider.On("CreatePortalSession", mock.Anything, billing.PortalRequest{
			CustomerID:     "cus_7",
			SubscriptionID: "sub_7",
			ReturnURL:      "https://app.example.com/settings",
		}).Return(&billing.PortalSession{URL: "https://portal.example.com/ps_1"}, nil)

		svc := newTestService(t, provider, store)

		session, err := svc.CreatePortal(context.Background(), userID, "https://app.example.com/settings")
		require.NoError(t, err)
		assert.Equal(t, "https://portal.example.com/ps_1", session.URL)
	})

	t.Run("no record", func(t *testing.T) {
		t.Parallel()

		store := new(mockStore)
		store.On("Get", mock.Anything, userID).Return(nil, billing.ErrSubscriptionNotFound)

		svc := newTestService(t, new(mockProvider), store)

		_, err := svc.CreatePortal(context.Background(), userID, "")
		assert.ErrorIs(t, err, billing.ErrNoBillingCustomer)
	})

	t.Run("record without customer id", func(t *testing.T) {
		t.Parallel()

		store := new(mockStore)
		store.On("Get", mock.Anything, userID).Return(&billing.Subscription{UserID: userID}, nil)

		svc := newTestService(t, new(mockProvider), store)

		_, err := svc.CreatePortal(context.Background(), userID, "")
		assert.ErrorIs(t, err, billing.ErrNoBillingCustomer)
	})
}
