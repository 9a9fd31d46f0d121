package billing

import "errors"

var (
	ErrPlanNotFound             = errors.New("billing plan not found")
	ErrInvalidPlanConfiguration = errors.New("invalid billing plan configuration")
	ErrFailedToLoadPlans        = errors.New("failed to load billing plan catalog")

	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrNoBillingCustomer    = errors.New("no billing customer exists for user")

	// ErrCustomerIdentityMismatch signals a data-integrity fault: an incoming
	// event reported a different provider customer than the one on file. The
	// event is rejected and local state is left untouched.
	ErrCustomerIdentityMismatch = errors.New("provider customer does not match the one on file")

	// ErrUnknownPriceReference signals a forward-compatibility gap: the event
	// carries a price id the catalog cannot map to a plan. Never guess a plan.
	ErrUnknownPriceReference = errors.New("provider price id is not mapped to any plan")

	// ErrProviderUnavailable marks transient provider failures. Callers retry
	// with bounded backoff before surfacing it.
	ErrProviderUnavailable = errors.New("billing provider unavailable")

	ErrEventUnattributable = errors.New("billing event cannot be attributed to a user")
)
