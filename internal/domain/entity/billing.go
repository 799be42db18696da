package entity

type BillingEventType string

const (
	SubscriptionCompleted BillingEventType = "subscription_completed"
	SubscriptionCanceled  BillingEventType = "subscription_canceled"
	// BillingEventIgnored covers provider events with no ledger effect.
	BillingEventIgnored BillingEventType = "ignored"
)

// BillingEvent is a verified provider event reduced to what the ledger needs.
type BillingEvent struct {
	ID          string
	Type        BillingEventType
	ProviderRaw string
	UserKey     string
	CustomerRef string
}

type CheckoutSession struct {
	ID      string  `json:"checkout_session_id"`
	URL     string  `json:"url"`
	Account Account `json:"user"`
}
