package billing_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/modules/billing"
	core "github.com/dmitrymomot/billingkit/pkg/billing"
	svc "github.com/dmitrymomot/billingkit/svc/billing"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateCustomer(ctx context.Context, req core.CustomerRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, req core.CheckoutRequest) (*core.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core.CheckoutSession), args.Error(1)
}

func (m *mockProvider) CreatePortalSession(ctx context.Context, req core.PortalRequest) (*core.PortalSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core.PortalSession), args.Error(1)
}

type testEnv struct {
	server   *httptest.Server
	provider *mockProvider
	store    core.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	catalog, err := core.NewCatalog(context.Background(), core.NewInMemSource(core.Plan{
		ID:       "pro",
		Name:     "Pro",
		Features: []core.Feature{core.FeatureLeads, core.FeatureCalls},
		Prices: map[core.BillingCycle]string{
			core.CycleMonthly: "price_pro_monthly",
		},
	}))
	require.NoError(t, err)

	provider := new(mockProvider)
	store := svc.NewMemoryStore()

	service := core.NewService(catalog, provider, store, core.WithRetry(1, time.Millisecond))
	reconciler := core.NewReconciler(catalog, store)
	resolver := core.NewResolver(catalog, store, nil, core.EntitlementPolicy{
		GracePeriod:     72 * time.Hour,
		DefaultFeatures: []core.Feature{core.FeatureLeads},
	})

	server := httptest.NewServer(billing.Router(service, reconciler, resolver))
	t.Cleanup(server.Close)

	return &testEnv{server: server, provider: provider, store: store}
}

func (e *testEnv) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.server.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCheckoutEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("returns redirect url", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		userID := uuid.New()
		env.provider.On("CreateCheckoutSession", mock.Anything, mock.Anything).
			Return(&core.CheckoutSession{URL: "https://pay.example.com/cs_1"}, nil)

		resp := env.post(t, "/checkout", fmt.Sprintf(
			`{"user_id":%q,"plan_id":"pro","billing_cycle":"monthly"}`, userID))
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody[map[string]string](t, resp)
		assert.Equal(t, "https://pay.example.com/cs_1", body["redirect_url"])
	})

	t.Run("unknown plan is 404", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		resp := env.post(t, "/checkout", fmt.Sprintf(
			`{"user_id":%q,"plan_id":"enterprise","billing_cycle":"monthly"}`, uuid.New()))
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("invalid user id is 400", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		resp := env.post(t, "/checkout", `{"user_id":"nope","plan_id":"pro","billing_cycle":"monthly"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("provider outage is 502", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		env.provider.On("CreateCheckoutSession", mock.Anything, mock.Anything).
			Return(nil, core.ErrProviderUnavailable)

		resp := env.post(t, "/checkout", fmt.Sprintf(
			`{"user_id":%q,"plan_id":"pro","billing_cycle":"monthly"}`, uuid.New()))
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})
}

func TestPortalEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("no billing customer is 409", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		resp := env.post(t, "/portal", fmt.Sprintf(`{"user_id":%q}`, uuid.New()))
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("returns portal url for existing customer", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		userID := uuid.New()
		require.NoError(t, env.store.Save(context.Background(), &core.Subscription{
			UserID:             userID,
			ProviderCustomerID: "cus_1",
		}))
		env.provider.On("CreatePortalSession", mock.Anything, mock.Anything).
			Return(&core.PortalSession{URL: "https://portal.example.com/ps_1"}, nil)

		resp := env.post(t, "/portal", fmt.Sprintf(`{"user_id":%q}`, userID))
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody[map[string]string](t, resp)
		assert.Equal(t, "https://portal.example.com/ps_1", body["redirect_url"])
	})
}

func TestEntitlementEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("defaults for unknown user", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		resp, err := http.Get(env.server.URL + "/entitlement?user_id=" + uuid.NewString())
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		ent := decodeBody[core.Entitlement](t, resp)
		assert.False(t, ent.IsAdmin)
		assert.Equal(t, []core.Feature{core.FeatureLeads}, ent.Features)
	})

	t.Run("missing user id is 400", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		resp, err := http.Get(env.server.URL + "/entitlement")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestEventsEndpoint(t *testing.T) {
	t.Parallel()

	eventBody := func(eventID string, userID uuid.UUID, occurredAt time.Time) string {
		return fmt.Sprintf(`{
			"eventId": %q,
			"type": "checkout_completed",
			"occurredAt": %q,
			"customerId": "cus_1",
			"subscriptionId": "sub_1",
			"status": "active",
			"priceId": "price_pro_monthly",
			"metadata": {"userId": %q, "planId": "pro"}
		}`, eventID, occurredAt.Format(time.RFC3339), userID)
	}

	t.Run("event updates entitlement end to end", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		userID := uuid.New()

		resp := env.post(t, "/events", eventBody("evt_1", userID, time.Now().UTC()))
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		entResp, err := http.Get(env.server.URL + "/entitlement?user_id=" + userID.String())
		require.NoError(t, err)
		defer entResp.Body.Close()

		ent := decodeBody[core.Entitlement](t, entResp)
		assert.Equal(t, []core.Feature{core.FeatureCalls, core.FeatureLeads}, ent.Features)
	})

	t.Run("replayed event is acknowledged", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		userID := uuid.New()
		occurredAt := time.Now().UTC()

		resp := env.post(t, "/events", eventBody("evt_1", userID, occurredAt))
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = env.post(t, "/events", eventBody("evt_1", userID, occurredAt))
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("unmappable price fails the delivery", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		body := fmt.Sprintf(`{
			"eventId": "evt_bad",
			"type": "checkout_completed",
			"priceId": "price_unknown",
			"metadata": {"userId": %q}
		}`, uuid.New())

		resp := env.post(t, "/events", body)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		resp := env.post(t, "/events", `{"eventId":`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
