package billing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	core "github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// EntitlementSource resolves entitlements for route guards and UI flags.
type EntitlementSource interface {
	Resolve(ctx context.Context, userID uuid.UUID) (core.Entitlement, error)
}

// Invalidator drops cached entitlements after reconciliation so guards see
// fresh state without waiting out the cache TTL.
type Invalidator interface {
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

type module struct {
	svc          *core.Service
	reconciler   *core.Reconciler
	entitlements EntitlementSource
	invalidator  Invalidator
	log          *slog.Logger
}

// Option configures the billing module router.
type Option func(*module)

// WithLogger sets the logger for request-level failures.
func WithLogger(log *slog.Logger) Option {
	return func(m *module) {
		if log != nil {
			m.log = log
		}
	}
}

// WithInvalidator registers an entitlement cache invalidator that runs
// after every event that changed stored state.
func WithInvalidator(inv Invalidator) Option {
	return func(m *module) {
		if inv != nil {
			m.invalidator = inv
		}
	}
}

// Router mounts the billing subsystem's HTTP surface:
//
//	POST /checkout    - create a hosted checkout session
//	POST /portal      - create a self-service portal session
//	GET  /entitlement - resolve the caller's feature set
//	POST /events      - ingest a verified, deduplicated provider event
//
// The events route sits behind the webhook transport collaborator that has
// already verified signatures and deduplicated deliveries; a non-2xx
// response makes the provider redeliver.
func Router(svc *core.Service, reconciler *core.Reconciler, entitlements EntitlementSource, opts ...Option) chi.Router {
	if svc == nil {
		panic("billing: Service is required")
	}
	if reconciler == nil {
		panic("billing: Reconciler is required")
	}
	if entitlements == nil {
		panic("billing: EntitlementSource is required")
	}

	m := &module{
		svc:          svc,
		reconciler:   reconciler,
		entitlements: entitlements,
		log:          slog.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	r := chi.NewRouter()
	r.Post("/checkout", m.createCheckout)
	r.Post("/portal", m.createPortal)
	r.Get("/entitlement", m.entitlement)
	r.Post("/events", m.ingestEvent)

	return r
}

func (m *module) createCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "user_id must be a UUID")
		return
	}

	session, err := m.svc.CreateCheckout(r.Context(), userID, req.PlanID, core.BillingCycle(req.BillingCycle), core.CheckoutOptions{
		Email:      req.Email,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		m.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, redirectResponse{RedirectURL: session.URL})
}

func (m *module) createPortal(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "user_id must be a UUID")
		return
	}

	session, err := m.svc.CreatePortal(r.Context(), userID, req.ReturnURL)
	if err != nil {
		m.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, redirectResponse{RedirectURL: session.URL})
}

func (m *module) entitlement(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "user_id must be a UUID")
		return
	}

	ent, err := m.entitlements.Resolve(r.Context(), userID)
	if err != nil {
		m.log.ErrorContext(r.Context(), "failed to resolve entitlement",
			logger.UserID(userID), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to resolve entitlement")
		return
	}

	respondJSON(w, http.StatusOK, ent)
}

// ingestEvent feeds a lifecycle event to the reconciler. Errors are never
// user-facing here: they are logged for operator visibility and reported
// as a failed delivery so the provider's retry mechanism resends the event.
func (m *module) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	event := req.toEvent()
	updated, err := m.reconciler.Apply(r.Context(), event)
	if err != nil {
		m.log.ErrorContext(r.Context(), "failed to reconcile billing event",
			logger.EventID(event.ID),
			slog.String("event_type", string(event.Type)),
			logger.Error(err))
		respondError(w, http.StatusInternalServerError, "reconciliation_failed", "event delivery failed")
		return
	}

	if updated && m.invalidator != nil && event.Metadata.UserID != "" {
		if userID, err := uuid.Parse(event.Metadata.UserID); err == nil {
			if err := m.invalidator.Invalidate(r.Context(), userID); err != nil {
				m.log.WarnContext(r.Context(), "failed to invalidate entitlement cache",
					logger.UserID(userID), logger.Error(err))
			}
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// respondServiceError maps the billing error taxonomy onto HTTP statuses:
// user action errors are 4xx, configuration and integrity faults are 5xx,
// transient provider failures are 502 so callers can retry.
func (m *module) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrPlanNotFound):
		respondError(w, http.StatusNotFound, "plan_not_found", "unknown plan")
	case errors.Is(err, core.ErrNoBillingCustomer):
		respondError(w, http.StatusConflict, "no_billing_customer", "user has no billing customer yet")
	case errors.Is(err, core.ErrInvalidPlanConfiguration):
		m.log.ErrorContext(r.Context(), "billing plan misconfiguration", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "plan_misconfigured", "billing is misconfigured")
	case errors.Is(err, core.ErrProviderUnavailable):
		m.log.WarnContext(r.Context(), "billing provider unavailable", logger.Error(err))
		respondError(w, http.StatusBadGateway, "provider_unavailable", "billing provider unavailable, try again")
	default:
		m.log.ErrorContext(r.Context(), "billing request failed", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "billing request failed")
	}
}
