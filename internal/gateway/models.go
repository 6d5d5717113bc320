package gateway

import (
	"time"

	"github.com/helioscale/helioscale/internal/types"
)

// Subscription is the gateway-neutral view of a billing subscription.
// The payment gateway is the system of record; this engine never stores
// subscriptions itself. All money amounts are integer minor currency
// units (cents).
type Subscription struct {
	ID                     string                   `json:"id"`
	CustomerID             string                   `json:"customer_id"`
	PriceID                string                   `json:"price_id"`
	Status                 types.SubscriptionStatus `json:"status"`
	CurrentPeriodStart     time.Time                `json:"current_period_start"`
	CurrentPeriodEnd       time.Time                `json:"current_period_end"`
	TrialEnd               *time.Time               `json:"trial_end,omitempty"`
	CancelAtPeriodEnd      bool                     `json:"cancel_at_period_end"`
	DefaultPaymentMethodID string                   `json:"default_payment_method_id,omitempty"`
	Metadata               types.Metadata           `json:"metadata,omitempty"`
	RetryState             RetryState               `json:"retry_state"`
	// TrialRemindersSent records which reminder thresholds (in days)
	// have already fired for this subscription.
	TrialRemindersSent map[int]bool `json:"trial_reminders_sent,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
}

// RetryState is the dunning bookkeeping carried on a subscription. It
// is structured here and round-tripped through gateway metadata by the
// adapter.
type RetryState struct {
	RetryCount            int        `json:"retry_count"`
	NextRetryDate         *time.Time `json:"next_retry_date,omitempty"`
	GracePeriod           bool       `json:"grace_period"`
	ServiceSuspended      bool       `json:"service_suspended"`
	LastFailedInvoiceID   string     `json:"last_failed_invoice_id,omitempty"`
	LastSuccessfulPayment *time.Time `json:"last_successful_payment,omitempty"`
}

// IsZero reports whether no retry is in flight.
func (r RetryState) IsZero() bool {
	return r.RetryCount == 0 && r.NextRetryDate == nil && !r.GracePeriod &&
		!r.ServiceSuspended && r.LastFailedInvoiceID == ""
}

// TrialDaysRemaining returns the whole days until trial end, rounded
// up, or 0 when the subscription is not in a trial.
func (s *Subscription) TrialDaysRemaining(now time.Time) int {
	if s.TrialEnd == nil || s.Status != types.SubscriptionStatusTrialing {
		return 0
	}
	remaining := s.TrialEnd.Sub(now)
	if remaining <= 0 {
		return 0
	}
	days := int(remaining / (24 * time.Hour))
	if remaining%(24*time.Hour) > 0 {
		days++
	}
	return days
}

// Invoice is a billing attempt for one period of a subscription.
type Invoice struct {
	ID             string              `json:"id"`
	SubscriptionID string              `json:"subscription_id"`
	CustomerID     string              `json:"customer_id"`
	AmountDue      int64               `json:"amount_due"`
	Currency       string              `json:"currency"`
	Status         types.InvoiceStatus `json:"status"`
	AttemptCount   int                 `json:"attempt_count"`
	CreatedAt      time.Time           `json:"created_at"`
}

// Customer is the gateway-neutral view of a paying customer.
type Customer struct {
	ID                     string    `json:"id"`
	Email                  string    `json:"email"`
	Name                   string    `json:"name"`
	DefaultPaymentMethodID string    `json:"default_payment_method_id,omitempty"`
	Delinquent             bool      `json:"delinquent"`
	CreatedAt              time.Time `json:"created_at"`
}

// Price is a recurring price (plan) at the gateway.
type Price struct {
	ID         string `json:"id"`
	ProductID  string `json:"product_id"`
	Nickname   string `json:"nickname"`
	UnitAmount int64  `json:"unit_amount"`
	Currency   string `json:"currency"`
	Interval   string `json:"interval"`
}

// ChargeStatus is the status of a charge at the gateway.
type ChargeStatus string

const (
	ChargeStatusSucceeded ChargeStatus = "succeeded"
	ChargeStatusFailed    ChargeStatus = "failed"
	ChargeStatusPending   ChargeStatus = "pending"
)

// Charge is a single payment attempt, used by churn scoring to count
// failures and disputes.
type Charge struct {
	ID         string       `json:"id"`
	CustomerID string       `json:"customer_id"`
	Amount     int64        `json:"amount"`
	Currency   string       `json:"currency"`
	Status     ChargeStatus `json:"status"`
	Disputed   bool         `json:"disputed"`
	CreatedAt  time.Time    `json:"created_at"`
}
