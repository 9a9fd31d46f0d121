package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	core "github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/pg"
)

// PGStore is the Postgres-backed Store. The unique constraint on user_id
// together with the conditional upsert in SetCustomerID gives the
// insert-if-absent customer id guarantee across processes, which is
// preferable to in-process locking under multi-process deployment.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a Store backed by the given connection pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	if pool == nil {
		panic("billing: pgx pool is required")
	}
	return &PGStore{pool: pool}
}

const subscriptionColumns = `user_id, plan_id, status, provider_customer_id, provider_subscription_id,
	period_start, period_end, status_changed_at, last_event_id, last_event_at, created_at, updated_at`

func (s *PGStore) Get(ctx context.Context, userID uuid.UUID) (*core.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID)
	return scanSubscription(row)
}

func (s *PGStore) GetBySubscriptionID(ctx context.Context, providerSubID string) (*core.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE provider_subscription_id = $1`, providerSubID)
	return scanSubscription(row)
}

func (s *PGStore) Save(ctx context.Context, sub *core.Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id) DO UPDATE SET
			plan_id = EXCLUDED.plan_id,
			status = EXCLUDED.status,
			provider_customer_id = EXCLUDED.provider_customer_id,
			provider_subscription_id = EXCLUDED.provider_subscription_id,
			period_start = EXCLUDED.period_start,
			period_end = EXCLUDED.period_end,
			status_changed_at = EXCLUDED.status_changed_at,
			last_event_id = EXCLUDED.last_event_id,
			last_event_at = EXCLUDED.last_event_at,
			updated_at = EXCLUDED.updated_at`,
		sub.UserID, sub.PlanID, sub.Status, sub.ProviderCustomerID, sub.ProviderSubscriptionID,
		sub.PeriodStart, sub.PeriodEnd, sub.StatusChangedAt, sub.LastEventID, sub.LastEventAt,
		sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

func (s *PGStore) SetCustomerID(ctx context.Context, userID uuid.UUID, customerID string) (string, error) {
	// The COALESCE/NULLIF pair keeps an already-set customer id immutable:
	// whichever writer persisted first wins and every caller reads that value.
	var stored string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (user_id, status, provider_customer_id)
		VALUES ($1, 'none', $2)
		ON CONFLICT (user_id) DO UPDATE SET
			provider_customer_id = COALESCE(NULLIF(subscriptions.provider_customer_id, ''), EXCLUDED.provider_customer_id),
			updated_at = now()
		RETURNING provider_customer_id`,
		userID, customerID).Scan(&stored)
	if err != nil {
		return "", fmt.Errorf("failed to persist customer id: %w", err)
	}
	return stored, nil
}

type pgRow interface {
	Scan(dest ...any) error
}

func scanSubscription(row pgRow) (*core.Subscription, error) {
	var sub core.Subscription
	err := row.Scan(
		&sub.UserID, &sub.PlanID, &sub.Status, &sub.ProviderCustomerID, &sub.ProviderSubscriptionID,
		&sub.PeriodStart, &sub.PeriodEnd, &sub.StatusChangedAt, &sub.LastEventID, &sub.LastEventAt,
		&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, core.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	return &sub, nil
}
