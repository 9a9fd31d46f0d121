// Package billing provides subscription and entitlement reconciliation for
// SaaS applications backed by a hosted payment provider.
//
// The package owns the canonical local subscription record and keeps it
// converging to the provider's billing facts: it creates and reuses one
// provider customer per user, issues hosted checkout and self-service portal
// sessions without mutating local state, folds asynchronous lifecycle
// webhooks into the record under idempotency and ordering guarantees, and
// derives the feature set that gates the rest of the product.
//
// # Architecture
//
//   - Catalog: validated, read-only plan configuration with a reverse
//     price-id index
//   - Provider: abstracts payment provider interactions (Stripe, Paddle)
//   - Store: persists the subscription record, one row per user
//   - Service: customer resolution plus checkout/portal session factories
//   - Reconciler: the sole mutation path, a per-subscription state machine
//   - Resolver/ComputeEntitlement: pure derivation of feature sets
//
// The local record is a materialized view of provider state, not an
// independent ledger. Checkout never flips a record to active; only a
// provider-confirmed event applied by the Reconciler does.
//
// # Reconciliation guarantees
//
// Events may arrive duplicated, out of order, and concurrently. The
// Reconciler serializes processing per subscription id, drops replayed
// event ids and events whose ordering marker is not newer than the last
// applied one, rejects events that contradict the customer id on file, and
// never guesses a plan for an unmapped price id. Every application is
// all-or-nothing: a failed event leaves the record untouched so the
// provider's redelivery can retry it.
//
// # Quick Start
//
//	catalog, err := billing.NewCatalog(ctx, billing.NewInMemSource(
//		billing.Plan{
//			ID:       "pro",
//			Name:     "Pro",
//			Features: []billing.Feature{billing.FeatureLeads, billing.FeatureCalls},
//			Prices: map[billing.BillingCycle]string{
//				billing.CycleMonthly: "price_pro_monthly",
//				billing.CycleYearly:  "price_pro_yearly",
//			},
//		},
//	))
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	provider, err := billing.NewStripeProvider(billing.StripeConfig{APIKey: key})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	svc := billing.NewService(catalog, provider, store)
//	session, err := svc.CreateCheckout(ctx, userID, "pro", billing.CycleMonthly, billing.CheckoutOptions{
//		SuccessURL: "https://app.example.com/billing/success",
//	})
//
// Webhook events verified and deduplicated by the transport layer are fed
// to the Reconciler; non-nil errors tell the transport to report the
// delivery as failed so the provider resends it:
//
//	reconciler := billing.NewReconciler(catalog, store)
//	if _, err := reconciler.Apply(ctx, event); err != nil {
//		// respond non-2xx, provider will redeliver
//	}
//
// Entitlements are recomputed on every access-control check:
//
//	resolver := billing.NewResolver(catalog, store, adminSource, billing.EntitlementPolicy{
//		GracePeriod:     72 * time.Hour,
//		DefaultFeatures: []billing.Feature{billing.FeatureLeads},
//		AdminFeatures:   []billing.Feature{billing.FeatureAdminPanel},
//	})
//	ent, err := resolver.Resolve(ctx, userID)
package billing
