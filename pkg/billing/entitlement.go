package billing

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Entitlement is the resolved set of features a user currently has.
// It is derived, never persisted, and recomputed on every access-control
// check so authorization cannot drift far from billing reality.
type Entitlement struct {
	IsAdmin  bool      `json:"isAdmin"`
	Features []Feature `json:"features"`
}

// Has reports whether the entitlement includes the given feature.
func (e Entitlement) Has(f Feature) bool {
	return slices.Contains(e.Features, f)
}

// EntitlementPolicy is externally supplied configuration: the past_due
// grace window, the fallback feature set, and the admin superset.
type EntitlementPolicy struct {
	GracePeriod     time.Duration
	DefaultFeatures []Feature
	AdminFeatures   []Feature
}

// ComputeEntitlement derives the feature set from a subscription record and
// an admin flag. It is a pure function of its inputs: identical inputs
// always yield identical entitlements.
//
// Policy: active and trialing grant the plan's features; past_due grants
// them until the grace window measured from the status change elapses;
// canceled, incomplete and none fall back to the default set. The admin
// superset is orthogonal to billing and unioned on top.
func ComputeEntitlement(sub *Subscription, isAdmin bool, now time.Time, policy EntitlementPolicy, catalog *Catalog) Entitlement {
	features := policy.DefaultFeatures

	if sub != nil && sub.Entitled(now, policy.GracePeriod) {
		if plan, ok := catalog.Plan(sub.PlanID); ok {
			features = plan.Features
		}
	}

	if isAdmin {
		features = unionFeatures(features, policy.AdminFeatures)
	} else {
		features = unionFeatures(features, nil)
	}

	return Entitlement{
		IsAdmin:  isAdmin,
		Features: features,
	}
}

// AdminSource resolves the admin flag for a user. Admin status lives with
// the auth collaborator, not with billing.
type AdminSource func(ctx context.Context, userID uuid.UUID) (bool, error)

// Resolver wires the store, the admin source and the policy into a single
// authorization decision point consumed by route guards and UI flags.
type Resolver struct {
	catalog *Catalog
	store   Store
	admin   AdminSource
	policy  EntitlementPolicy
	now     func() time.Time
}

// ResolverOption configures a Resolver instance.
type ResolverOption func(*Resolver)

// WithResolverClock overrides the time source, useful in tests.
func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver creates an entitlement resolver. Panics on nil dependencies
// to fail fast during initialization.
func NewResolver(catalog *Catalog, store Store, admin AdminSource, policy EntitlementPolicy, opts ...ResolverOption) *Resolver {
	if catalog == nil {
		panic("billing: Catalog is required")
	}
	if store == nil {
		panic("billing: Store is required")
	}
	if admin == nil {
		admin = func(ctx context.Context, _ uuid.UUID) (bool, error) { return false, nil }
	}

	r := &Resolver{
		catalog: catalog,
		store:   store,
		admin:   admin,
		policy:  policy,
		now:     func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve returns the user's current entitlement. A missing subscription
// record is not an error: it resolves to the default feature set.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID) (Entitlement, error) {
	sub, err := r.store.Get(ctx, userID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return Entitlement{}, err
	}

	isAdmin, err := r.admin(ctx, userID)
	if err != nil {
		return Entitlement{}, err
	}

	return ComputeEntitlement(sub, isAdmin, r.now(), r.policy, r.catalog), nil
}

// unionFeatures merges feature sets into a sorted, deduplicated slice so
// entitlements compare deterministically.
func unionFeatures(sets ...[]Feature) []Feature {
	seen := make(map[Feature]struct{})
	for _, set := range sets {
		for _, f := range set {
			seen[f] = struct{}{}
		}
	}

	out := make([]Feature, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}
