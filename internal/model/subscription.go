package model

import "time"

// Plan details shown on the account dashboard. There is a single plan.
const (
	PlanName     = "Pro Plan"
	PlanAmount   = 499 // cents
	PlanInterval = "month"
)

// SubscriptionDetails is the answer to a get_subscription_status request.
//
// It starts from the local record and is enriched with the payment provider's
// view when a customer is linked and reachable.
type SubscriptionDetails struct {
	Status            Status     `json:"status"`
	Plan              string     `json:"plan"`
	Amount            int        `json:"amount"`
	Interval          string     `json:"interval"`
	TrialEnd          *time.Time `json:"trial_end"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
}

// NewSubscriptionDetails returns the local-only view for a status.
func NewSubscriptionDetails(status Status) SubscriptionDetails {
	return SubscriptionDetails{
		Status:   status,
		Plan:     PlanName,
		Amount:   PlanAmount,
		Interval: PlanInterval,
	}
}
