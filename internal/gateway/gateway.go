package gateway

import (
	"context"
	"time"

	"github.com/helioscale/helioscale/internal/types"
)

// SubscriptionAPI covers subscription reads and mutations at the
// payment gateway.
type SubscriptionAPI interface {
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]*Subscription, error)
	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error)
	UpdateSubscription(ctx context.Context, id string, params UpdateSubscriptionParams) (*Subscription, error)
	CancelSubscription(ctx context.Context, id string, params CancelSubscriptionParams) (*Subscription, error)
}

// InvoiceAPI covers invoice reads and payment attempts.
type InvoiceAPI interface {
	GetInvoice(ctx context.Context, id string) (*Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]*Invoice, error)
	PayInvoice(ctx context.Context, id string) (*Invoice, error)
}

// CustomerAPI covers customer reads and the charge history churn
// scoring needs.
type CustomerAPI interface {
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	ListCharges(ctx context.Context, customerID string) ([]*Charge, error)
}

// PriceAPI covers the recurring price catalog.
type PriceAPI interface {
	GetPrice(ctx context.Context, id string) (*Price, error)
	ListPrices(ctx context.Context) ([]*Price, error)
}

// PaymentMethodAPI covers the self-service dunning resolution path.
type PaymentMethodAPI interface {
	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
}

// Client is the full payment gateway surface the billing engine
// depends on. The gateway is the single system of record for
// subscriptions, invoices and customers.
type Client interface {
	SubscriptionAPI
	InvoiceAPI
	CustomerAPI
	PriceAPI
	PaymentMethodAPI
}

// SubscriptionFilter narrows ListSubscriptions.
type SubscriptionFilter struct {
	CustomerID string
	Status     types.SubscriptionStatus
}

// InvoiceFilter narrows ListInvoices.
type InvoiceFilter struct {
	CustomerID     string
	SubscriptionID string
	Status         types.InvoiceStatus
}

// TrialEndBehavior controls what the gateway does when a trial ends
// without a payment method on file.
type TrialEndBehavior string

const (
	// TrialEndBehaviorCancel auto-cancels the subscription. Enforcement
	// is delegated to the gateway, not polled by this engine.
	TrialEndBehaviorCancel          TrialEndBehavior = "cancel"
	TrialEndBehaviorCreateInvoice   TrialEndBehavior = "create_invoice"
	TrialEndBehaviorPauseCollection TrialEndBehavior = "pause"
)

// CreateSubscriptionParams creates a subscription, optionally trialing.
type CreateSubscriptionParams struct {
	CustomerID       string
	PriceID          string
	TrialDays        int
	TrialEndBehavior TrialEndBehavior
	Metadata         types.Metadata
}

// UpdateSubscriptionParams mutates a subscription in place. Nil fields
// are left untouched.
type UpdateSubscriptionParams struct {
	PriceID           *string
	ProrationBehavior types.ProrationBehavior
	ProrationDate     *time.Time
	CancelAtPeriodEnd *bool
	// Paused pauses or resumes collection.
	Paused *bool
	// ResumeAt is advisory metadata only; the scheduler polls for it.
	ResumeAt *time.Time
	// TrialEnd moves the trial end. TrialEndNow ends the trial
	// immediately and takes precedence.
	TrialEnd    *time.Time
	TrialEndNow bool
	// RetryState replaces the dunning bookkeeping when non-nil.
	RetryState             *RetryState
	TrialRemindersSent     map[int]bool
	DefaultPaymentMethodID *string
	Metadata               types.Metadata
}

// CancelSubscriptionParams cancels a subscription.
type CancelSubscriptionParams struct {
	// Immediate cancels now and prorates the refundable remainder;
	// otherwise cancellation takes effect at period end.
	Immediate bool
	Prorate   bool
	Reason    string
	Feedback  string
}
