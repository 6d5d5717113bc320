package types

import (
	ierr "github.com/helioscale/helioscale/internal/errors"
	"github.com/samber/lo"
)

// SubscriptionStatus is the status of a subscription.
// Statuses mirror Stripe's subscription statuses
// https://stripe.com/docs/api/subscriptions/object#subscription_object-status
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusUnpaid   SubscriptionStatus = "unpaid"
	SubscriptionStatusPaused   SubscriptionStatus = "paused"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	// SubscriptionStatusIncomplete is the entry state while the first
	// payment is pending.
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
)

func (s SubscriptionStatus) String() string {
	return string(s)
}

func (s SubscriptionStatus) Validate() error {
	allowed := []SubscriptionStatus{
		SubscriptionStatusTrialing,
		SubscriptionStatusActive,
		SubscriptionStatusPastDue,
		SubscriptionStatusUnpaid,
		SubscriptionStatusPaused,
		SubscriptionStatusCanceled,
		SubscriptionStatusIncomplete,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid subscription status").
			WithHint("Invalid subscription status").
			WithReportableDetails(map[string]any{
				"status":         s,
				"allowed_status": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// transitions encodes the lifecycle state machine. Cancellation is
// terminal and reachable from any non-terminal state; everything else
// must follow an edge listed here. cancel_at_period_end is an orthogonal
// flag on the subscription, not a state.
var transitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusIncomplete: {SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusCanceled},
	SubscriptionStatusTrialing:   {SubscriptionStatusActive, SubscriptionStatusCanceled},
	SubscriptionStatusActive:     {SubscriptionStatusPastDue, SubscriptionStatusPaused, SubscriptionStatusCanceled},
	SubscriptionStatusPastDue:    {SubscriptionStatusActive, SubscriptionStatusUnpaid, SubscriptionStatusCanceled},
	SubscriptionStatusUnpaid:     {SubscriptionStatusActive, SubscriptionStatusCanceled},
	SubscriptionStatusPaused:     {SubscriptionStatusActive, SubscriptionStatusCanceled},
	SubscriptionStatusCanceled:   {},
}

// CanTransitionTo reports whether the state machine allows moving from
// s to target. Self transitions are allowed and treated as no-ops by
// callers.
func (s SubscriptionStatus) CanTransitionTo(target SubscriptionStatus) bool {
	if s == target {
		return true
	}
	return lo.Contains(transitions[s], target)
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s SubscriptionStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// ProrationBehavior controls how a plan change is invoiced.
type ProrationBehavior string

const (
	// ProrationBehaviorAlwaysInvoice charges the prorated difference
	// immediately. Used for upgrades.
	ProrationBehaviorAlwaysInvoice ProrationBehavior = "always_invoice"
	// ProrationBehaviorCreateProrations defers proration items to the
	// next invoice. Used for downgrades to avoid an immediate charge.
	ProrationBehaviorCreateProrations ProrationBehavior = "create_prorations"
	ProrationBehaviorNone             ProrationBehavior = "none"
)

func (p ProrationBehavior) String() string {
	return string(p)
}

func (p ProrationBehavior) Validate() error {
	allowed := []ProrationBehavior{
		ProrationBehaviorAlwaysInvoice,
		ProrationBehaviorCreateProrations,
		ProrationBehaviorNone,
	}
	if !lo.Contains(allowed, p) {
		return ierr.NewError("invalid proration behavior").
			WithHint("Invalid proration behavior").
			WithReportableDetails(map[string]any{
				"proration_behavior": p,
				"allowed_values":     allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
