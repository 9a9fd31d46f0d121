package billing

// BillingCycle represents the billing frequency requested at checkout.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// Valid reports whether the cycle is one of the supported values.
func (c BillingCycle) Valid() bool {
	return c == CycleMonthly || c == CycleYearly
}

// Status represents the current state of a subscription record.
// Values mirror the provider's lifecycle vocabulary so webhook payloads
// map onto them without translation tables.
type Status string

const (
	StatusNone       Status = "none"
	StatusTrialing   Status = "trialing"
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
	StatusIncomplete Status = "incomplete"
)

// Feature represents a plan-specific capability that gates product surface.
type Feature string

const (
	FeatureAdminPanel      Feature = "admin_panel"
	FeatureLeads           Feature = "leads"
	FeatureCalls           Feature = "calls"
	FeatureSMS             Feature = "sms"
	FeatureSupportChat     Feature = "support_chat"
	FeatureAPI             Feature = "api"
	FeatureAnalytics       Feature = "analytics"
	FeaturePrioritySupport Feature = "priority_support"
	FeatureExport          Feature = "export"
)

// CheckoutOptions contains optional parameters for creating a checkout session.
type CheckoutOptions struct {
	Email      string // Pre-fill billing email if known
	SuccessURL string // Redirect after successful payment
	CancelURL  string // Redirect if customer abandons checkout
}
