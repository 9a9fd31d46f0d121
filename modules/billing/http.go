package billing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	core "github.com/dmitrymomot/billingkit/pkg/billing"
)

type checkoutRequest struct {
	UserID       string `json:"user_id"`
	PlanID       string `json:"plan_id"`
	BillingCycle string `json:"billing_cycle"`
	Email        string `json:"email,omitempty"`
	SuccessURL   string `json:"success_url,omitempty"`
	CancelURL    string `json:"cancel_url,omitempty"`
}

type portalRequest struct {
	UserID    string `json:"user_id"`
	ReturnURL string `json:"return_url,omitempty"`
}

type redirectResponse struct {
	RedirectURL string `json:"redirect_url"`
}

// eventRequest is the wire shape delivered by the webhook transport after
// signature verification. Field names follow the normalized event envelope
// the transport emits, not any single provider's payload.
type eventRequest struct {
	EventID        string        `json:"eventId"`
	Type           string        `json:"type"`
	OccurredAt     time.Time     `json:"occurredAt"`
	CustomerID     string        `json:"customerId,omitempty"`
	SubscriptionID string        `json:"subscriptionId,omitempty"`
	Status         string        `json:"status,omitempty"`
	PriceID        string        `json:"priceId,omitempty"`
	PeriodStart    time.Time     `json:"periodStart,omitempty"`
	PeriodEnd      time.Time     `json:"periodEnd,omitempty"`
	Metadata       eventMetadata `json:"metadata,omitempty"`
}

type eventMetadata struct {
	UserID string `json:"userId,omitempty"`
	PlanID string `json:"planId,omitempty"`
}

func (r eventRequest) toEvent() core.Event {
	return core.Event{
		ID:             r.EventID,
		Type:           core.EventType(r.Type),
		OccurredAt:     r.OccurredAt,
		CustomerID:     r.CustomerID,
		SubscriptionID: r.SubscriptionID,
		Status:         core.Status(r.Status),
		PriceID:        r.PriceID,
		PeriodStart:    r.PeriodStart,
		PeriodEnd:      r.PeriodEnd,
		Metadata: core.EventMetadata{
			UserID: r.Metadata.UserID,
			PlanID: r.Metadata.PlanID,
		},
	}
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

func decodeJSON(r *http.Request, v any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType := ct
		if idx := strings.Index(ct, ";"); idx != -1 {
			mediaType = strings.TrimSpace(ct[:idx])
		}
		if mediaType != "application/json" {
			return fmt.Errorf("unsupported content type %s, expected application/json", mediaType)
		}
	}

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: errorDetail{Code: code, Message: message}})
}
