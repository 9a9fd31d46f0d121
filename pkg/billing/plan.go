package billing

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Plan describes a subscription plan and the features it unlocks.
// Prices maps each enabled billing cycle to the payment provider's price id;
// a cycle without a price id is a configuration error, not a runtime fault.
type Plan struct {
	ID          string
	Name        string
	Description string
	Features    []Feature
	Prices      map[BillingCycle]string
	TrialDays   int
}

// PriceID returns the provider price id configured for the given cycle.
func (p Plan) PriceID(cycle BillingCycle) (string, bool) {
	id, ok := p.Prices[cycle]
	return id, ok && id != ""
}

// CatalogSource defines how plans are loaded into the catalog.
type CatalogSource interface {
	Load(ctx context.Context) (map[string]Plan, error)
}

// PriceRef is the reverse mapping from a provider price id to a plan.
type PriceRef struct {
	PlanID string
	Cycle  BillingCycle
}

// Catalog is the validated, read-only plan configuration shared by the
// checkout factory, the reconciler and the entitlement resolver.
type Catalog struct {
	plans  map[string]Plan
	prices map[string]PriceRef
}

// NewCatalog loads and validates plans from the given source.
// Validation fails fast on missing price mappings and duplicate price ids
// so misconfiguration surfaces at startup instead of mid-checkout.
func NewCatalog(ctx context.Context, src CatalogSource) (*Catalog, error) {
	if src == nil {
		panic("billing: CatalogSource is required")
	}

	plans, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	prices := make(map[string]PriceRef)
	for planID, plan := range plans {
		if plan.ID != planID {
			return nil, errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan ID mismatch: map key %s != plan.ID %s", planID, plan.ID))
		}
		if plan.TrialDays < 0 {
			return nil, errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has negative trial days: %d", planID, plan.TrialDays))
		}
		for cycle, priceID := range plan.Prices {
			if !cycle.Valid() {
				return nil, errors.Join(ErrInvalidPlanConfiguration,
					fmt.Errorf("plan %s has unknown billing cycle %q", planID, cycle))
			}
			if priceID == "" {
				return nil, errors.Join(ErrInvalidPlanConfiguration,
					fmt.Errorf("plan %s has no provider price id for cycle %s", planID, cycle))
			}
			if prev, exists := prices[priceID]; exists {
				return nil, errors.Join(ErrInvalidPlanConfiguration,
					fmt.Errorf("price id %s mapped to both %s and %s", priceID, prev.PlanID, planID))
			}
			prices[priceID] = PriceRef{PlanID: planID, Cycle: cycle}
		}
	}

	return &Catalog{plans: plans, prices: prices}, nil
}

// Plan returns the plan with the given id.
func (c *Catalog) Plan(id string) (Plan, bool) {
	plan, ok := c.plans[id]
	return plan, ok
}

// ByPrice maps a provider price id back to the internal plan it belongs to.
func (c *Catalog) ByPrice(priceID string) (PriceRef, bool) {
	ref, ok := c.prices[priceID]
	return ref, ok
}

// Plans returns all plan ids sorted for deterministic iteration.
func (c *Catalog) Plans() []string {
	return slices.Sorted(maps.Keys(c.plans))
}

type inMemSource struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

// NewInMemSource returns an in-memory CatalogSource with a deep copy of the
// given plans. Panics if no plans are provided so the catalog always has at
// least one valid plan.
func NewInMemSource(plans ...Plan) CatalogSource {
	if len(plans) < 1 {
		panic("billing: at least one plan is required")
	}
	plansCopy := make(map[string]Plan, len(plans))
	for _, plan := range plans {
		plansCopy[plan.ID] = clonePlan(plan)
	}
	return &inMemSource{plans: plansCopy}
}

// Load returns a copy of all plans, protecting the source's internal state
// from caller mutation.
func (s *inMemSource) Load(ctx context.Context) (map[string]Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plansCopy := make(map[string]Plan, len(s.plans))
	for id, plan := range s.plans {
		plansCopy[id] = clonePlan(plan)
	}
	return plansCopy, nil
}

func clonePlan(plan Plan) Plan {
	return Plan{
		ID:          plan.ID,
		Name:        plan.Name,
		Description: plan.Description,
		Features:    slices.Clone(plan.Features),
		Prices:      maps.Clone(plan.Prices),
		TrialDays:   plan.TrialDays,
	}
}
