package billing

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	core "github.com/dmitrymomot/billingkit/pkg/billing"
)

// EntitlementSource resolves entitlements for a user. Both the plain
// resolver and the cached wrapper satisfy it.
type EntitlementSource interface {
	Resolve(ctx context.Context, userID uuid.UUID) (core.Entitlement, error)
}

// CachedResolver wraps an entitlement resolver with a short-TTL Redis
// cache. Entitlements are recomputed after at most TTL, bounding how long
// an authorization decision may lag behind billing reality. Cache failures
// degrade to recomputation, never to denial.
type CachedResolver struct {
	source EntitlementSource
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// NewCachedResolver creates a caching wrapper around the given resolver.
func NewCachedResolver(source EntitlementSource, client *redis.Client, ttl time.Duration, log *slog.Logger) *CachedResolver {
	if source == nil {
		panic("billing: entitlement source is required")
	}
	if client == nil {
		panic("billing: redis client is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedResolver{source: source, client: client, ttl: ttl, log: log}
}

func cacheKey(userID uuid.UUID) string {
	return "billing:entitlement:" + userID.String()
}

// Resolve returns the cached entitlement when fresh, recomputing otherwise.
func (r *CachedResolver) Resolve(ctx context.Context, userID uuid.UUID) (core.Entitlement, error) {
	if raw, err := r.client.Get(ctx, cacheKey(userID)).Bytes(); err == nil {
		var ent core.Entitlement
		if err := json.Unmarshal(raw, &ent); err == nil {
			return ent, nil
		}
		// Corrupted entry: drop it and fall through to recomputation.
		_ = r.client.Del(ctx, cacheKey(userID)).Err()
	}

	ent, err := r.source.Resolve(ctx, userID)
	if err != nil {
		return core.Entitlement{}, err
	}

	if raw, err := json.Marshal(ent); err == nil {
		if err := r.client.Set(ctx, cacheKey(userID), raw, r.ttl).Err(); err != nil {
			r.log.WarnContext(ctx, "failed to cache entitlement",
				slog.String("user_id", userID.String()),
				slog.Any("error", err))
		}
	}

	return ent, nil
}

// Invalidate drops the cached entitlement, typically right after the
// reconciler applies an event for the user so route guards see the new
// state without waiting out the TTL.
func (r *CachedResolver) Invalidate(ctx context.Context, userID uuid.UUID) error {
	return r.client.Del(ctx, cacheKey(userID)).Err()
}
