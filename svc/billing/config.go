package billing

import (
	"time"

	core "github.com/dmitrymomot/billingkit/pkg/billing"
)

// Config carries the externally supplied billing policy. The grace window
// and the feature fallbacks are deliberately configuration, not code: the
// product decides how forgiving a failed payment is.
type Config struct {
	CatalogPath     string        `env:"BILLING_PLANS_PATH" envDefault:"config/plans.yml"` // CatalogPath points at the YAML plan catalog with the plan-to-price mapping.
	GracePeriod     time.Duration `env:"BILLING_GRACE_PERIOD" envDefault:"72h"`            // GracePeriod keeps plan features after a payment failure.
	DefaultFeatures []string      `env:"BILLING_DEFAULT_FEATURES" envSeparator:","`        // DefaultFeatures is the free fallback feature set.
	AdminFeatures   []string      `env:"BILLING_ADMIN_FEATURES" envSeparator:","`          // AdminFeatures is the superset granted to admins regardless of billing.
	EntitlementTTL  time.Duration `env:"BILLING_ENTITLEMENT_TTL" envDefault:"30s"`         // EntitlementTTL bounds entitlement cache staleness.

	RetryAttempts uint64        `env:"BILLING_PROVIDER_RETRY_ATTEMPTS" envDefault:"3"` // RetryAttempts bounds outbound provider call retries.
	RetryInterval time.Duration `env:"BILLING_PROVIDER_RETRY_INTERVAL" envDefault:"1s"`
}

// Policy converts the configured feature lists into an entitlement policy.
func (c Config) Policy() core.EntitlementPolicy {
	return core.EntitlementPolicy{
		GracePeriod:     c.GracePeriod,
		DefaultFeatures: toFeatures(c.DefaultFeatures),
		AdminFeatures:   toFeatures(c.AdminFeatures),
	}
}

func toFeatures(names []string) []core.Feature {
	features := make([]core.Feature, 0, len(names))
	for _, name := range names {
		if name != "" {
			features = append(features, core.Feature(name))
		}
	}
	return features
}
