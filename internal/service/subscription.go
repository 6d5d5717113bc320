package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/helioscale/helioscale/internal/audit"
	ierr "github.com/helioscale/helioscale/internal/errors"
	"github.com/helioscale/helioscale/internal/gateway"
	"github.com/helioscale/helioscale/internal/proration"
	"github.com/helioscale/helioscale/internal/types"
)

const metaLastPlanChange = "last_plan_change"

// CancelParams controls a cancellation.
type CancelParams struct {
	// Immediate cancels now with a prorated remainder; otherwise the
	// subscription runs to period end.
	Immediate bool
	Reason    string
	Feedback  string
	// Severity overrides the audit severity; defaults to medium.
	Severity types.AuditSeverity
}

// SubscriptionService orchestrates the subscription lifecycle against
// the payment gateway, which stays the single system of record.
type SubscriptionService interface {
	GetSubscription(ctx context.Context, id string) (*gateway.Subscription, error)
	ListSubscriptions(ctx context.Context, filter gateway.SubscriptionFilter) ([]*gateway.Subscription, error)
	ListPlans(ctx context.Context) ([]*gateway.Price, error)
	PreviewChange(ctx context.Context, id, newPriceID string) (*proration.Result, error)
	Upgrade(ctx context.Context, id, newPriceID string) (*gateway.Subscription, *proration.Result, error)
	Downgrade(ctx context.Context, id, newPriceID string) (*gateway.Subscription, *proration.Result, error)
	Cancel(ctx context.Context, id string, params CancelParams) (*gateway.Subscription, error)
	Reactivate(ctx context.Context, id string) (*gateway.Subscription, error)
	Pause(ctx context.Context, id string, resumeAt *time.Time) (*gateway.Subscription, error)
	Resume(ctx context.Context, id string) (*gateway.Subscription, error)
	ProcessScheduledResumes(ctx context.Context) (int, error)
	UpcomingRenewals(ctx context.Context, window time.Duration) ([]*gateway.Subscription, error)
}

type subscriptionService struct {
	ServiceParams
}

func NewSubscriptionService(params ServiceParams) SubscriptionService {
	return &subscriptionService{ServiceParams: params}
}

func (s *subscriptionService) GetSubscription(ctx context.Context, id string) (*gateway.Subscription, error) {
	return s.Gateway.GetSubscription(ctx, id)
}

func (s *subscriptionService) ListSubscriptions(ctx context.Context, filter gateway.SubscriptionFilter) ([]*gateway.Subscription, error) {
	if filter.Status != "" {
		if err := filter.Status.Validate(); err != nil {
			return nil, err
		}
	}
	return s.Gateway.ListSubscriptions(ctx, filter)
}

// ListPlans returns the recurring price catalog sorted by amount, the
// order an upgrade/downgrade picker wants.
func (s *subscriptionService) ListPlans(ctx context.Context) ([]*gateway.Price, error) {
	prices, err := s.Gateway.ListPrices(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(prices, func(i, j int) bool {
		return prices[i].UnitAmount < prices[j].UnitAmount
	})
	return prices, nil
}

func (s *subscriptionService) PreviewChange(ctx context.Context, id, newPriceID string) (*proration.Result, error) {
	return s.Proration.CalculateForSubscription(ctx, id, newPriceID, time.Now().UTC())
}

func (s *subscriptionService) Upgrade(ctx context.Context, id, newPriceID string) (*gateway.Subscription, *proration.Result, error) {
	return s.changePlan(ctx, id, newPriceID, true)
}

func (s *subscriptionService) Downgrade(ctx context.Context, id, newPriceID string) (*gateway.Subscription, *proration.Result, error) {
	return s.changePlan(ctx, id, newPriceID, false)
}

// changePlan applies a plan change: compute proration, apply at the
// gateway, then audit. Upgrades invoice the difference immediately,
// downgrades defer the credit to the next invoice.
func (s *subscriptionService) changePlan(ctx context.Context, id, newPriceID string, upgrade bool) (*gateway.Subscription, *proration.Result, error) {
	s.Locks.Lock(id)
	defer s.Locks.Unlock(id)

	sub, err := s.Gateway.GetSubscription(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if sub.Status.IsTerminal() {
		return nil, nil, ierr.NewError("subscription is canceled").
			WithHint("A canceled subscription cannot change plans").
			WithReportableDetails(map[string]any{"subscription_id": id}).
			Mark(ierr.ErrInvalidOperation)
	}

	// Re-applying the current plan is a no-op success, with no new
	// audit record.
	if sub.PriceID == newPriceID {
		result, err := s.Proration.Calculate(ctx, sub, newPriceID, time.Now().UTC())
		if err != nil {
			return nil, nil, err
		}
		return sub, result, nil
	}

	prorationDate := time.Now().UTC()
	result, err := s.Proration.Calculate(ctx, sub, newPriceID, prorationDate)
	if err != nil {
		return nil, nil, err
	}

	// Price ordering is a consistency check, not a hard error: callers
	// may not know the ordering in advance.
	if upgrade && result.IsDowngrade {
		s.Logger.Warnw("upgrade requested to a cheaper plan, proceeding",
			"subscription_id", id,
			"current_price_id", sub.PriceID,
			"new_price_id", newPriceID,
		)
	}
	if !upgrade && result.IsUpgrade {
		s.Logger.Warnw("downgrade requested to a pricier plan, proceeding",
			"subscription_id", id,
			"current_price_id", sub.PriceID,
			"new_price_id", newPriceID,
		)
	}

	behavior := types.ProrationBehaviorCreateProrations
	action := types.AuditActionSubscriptionDowngraded
	changeKind := "downgrade"
	if upgrade {
		behavior = types.ProrationBehaviorAlwaysInvoice
		action = types.AuditActionSubscriptionUpgraded
		changeKind = "upgrade"
	}

	updated, err := s.Gateway.UpdateSubscription(ctx, id, gateway.UpdateSubscriptionParams{
		PriceID:           lo.ToPtr(newPriceID),
		ProrationBehavior: behavior,
		ProrationDate:     lo.ToPtr(prorationDate),
		Metadata:          types.Metadata{metaLastPlanChange: changeKind},
	})
	if err != nil {
		return nil, nil, err
	}

	audit.Log(ctx, s.Sink, s.Logger, audit.Entry{
		Action:       action,
		ResourceType: "subscription",
		ResourceID:   id,
		Severity:     types.AuditSeverityLow,
		Metadata: types.Metadata{
			"old_price_id":     sub.PriceID,
			"new_price_id":     newPriceID,
			"difference":       fmt.Sprintf("%d", result.Difference),
			"immediate_charge": fmt.Sprintf("%d", result.ImmediateCharge),
			"credit_applied":   fmt.Sprintf("%d", result.CreditApplied),
		},
	})

	return updated, result, nil
}

func (s *subscriptionService) Cancel(ctx context.Context, id string, params CancelParams) (*gateway.Subscription, error) {
	s.Locks.Lock(id)
	defer s.Locks.Unlock(id)

	sub, err := s.Gateway.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}

	// Idempotent: the target state already holds, succeed without a
	// duplicate audit record.
	if sub.Status == types.SubscriptionStatusCanceled {
		return sub, nil
	}
	if !params.Immediate && sub.CancelAtPeriodEnd {
		return sub, nil
	}

	updated, err := s.Gateway.CancelSubscription(ctx, id, gateway.CancelSubscriptionParams{
		Immediate: params.Immediate,
		Prorate:   params.Immediate,
		Reason:    params.Reason,
		Feedback:  params.Feedback,
	})
	if err != nil {
		return nil, err
	}

	severity := params.Severity
	if severity == "" {
		severity = types.AuditSeverityMedium
	}
	mode := "at_period_end"
	if params.Immediate {
		mode = "immediate"
	}
	audit.Log(ctx, s.Sink, s.Logger, audit.Entry{
		Action:       types.AuditActionSubscriptionCanceled,
		ResourceType: "subscription",
		ResourceID:   id,
		Severity:     severity,
		Metadata: types.Metadata{
			"mode":   mode,
			"reason": params.Reason,
		},
	})

	return updated, nil
}

func (s *subscriptionService) Reactivate(ctx context.Context, id string) (*gateway.Subscription, error) {
	s.Locks.Lock(id)
	defer s.Locks.Unlock(id)

	sub, err := s.Gateway.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == types.SubscriptionStatusCanceled {
		return nil, ierr.NewError("subscription already canceled").
			WithHint("A canceled subscription cannot be reactivated").
			WithReportableDetails(map[string]any{"subscription_id": id}).
			Mark(ierr.ErrInvalidOperation)
	}
	if !sub.CancelAtPeriodEnd {
		return nil, ierr.NewError("no pending cancellation").
			WithHint("The subscription is not scheduled for cancellation").
			WithReportableDetails(map[string]any{"subscription_id": id}).
			Mark(ierr.ErrInvalidOperation)
	}

	updated, err := s.Gateway.UpdateSubscription(ctx, id, gateway.UpdateSubscriptionParams{
		CancelAtPeriodEnd: lo.ToPtr(false),
	})
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, s.Sink, s.Logger, audit.Entry{
		Action:       types.AuditActionSubscriptionReactivated,
		ResourceType: "subscription",
		ResourceID:   id,
		Severity:     types.AuditSeverityLow,
	})

	return updated, nil
}

func (s *subscriptionService) Pause(ctx context.Context, id string, resumeAt *time.Time) (*gateway.Subscription, error) {
	s.Locks.Lock(id)
	defer s.Locks.Unlock(id)

	sub, err := s.Gateway.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == types.SubscriptionStatusPaused {
		return sub, nil
	}
	if !sub.Status.CanTransitionTo(types.SubscriptionStatusPaused) {
		return nil, ierr.NewError("cannot pause subscription").
			WithHintf("A %s subscription cannot be paused", sub.Status).
			WithReportableDetails(map[string]any{
				"subscription_id": id,
				"status":          sub.Status,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	updated, err := s.Gateway.UpdateSubscription(ctx, id, gateway.UpdateSubscriptionParams{
		Paused:   lo.ToPtr(true),
		ResumeAt: resumeAt,
	})
	if err != nil {
		return nil, err
	}

	meta := types.Metadata{}
	if resumeAt != nil {
		meta["resume_at"] = resumeAt.UTC().Format(time.RFC3339)
	}
	audit.Log(ctx, s.Sink, s.Logger, audit.Entry{
		Action:       types.AuditActionSubscriptionPaused,
		ResourceType: "subscription",
		ResourceID:   id,
		Severity:     types.AuditSeverityLow,
		Metadata:     meta,
	})

	return updated, nil
}

func (s *subscriptionService) Resume(ctx context.Context, id string) (*gateway.Subscription, error) {
	s.Locks.Lock(id)
	defer s.Locks.Unlock(id)

	sub, err := s.Gateway.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == types.SubscriptionStatusActive {
		return sub, nil
	}
	if sub.Status != types.SubscriptionStatusPaused {
		return nil, ierr.NewError("subscription is not paused").
			WithHintf("A %s subscription cannot be resumed", sub.Status).
			WithReportableDetails(map[string]any{
				"subscription_id": id,
				"status":          sub.Status,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	updated, err := s.Gateway.UpdateSubscription(ctx, id, gateway.UpdateSubscriptionParams{
		Paused: lo.ToPtr(false),
	})
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, s.Sink, s.Logger, audit.Entry{
		Action:       types.AuditActionSubscriptionResumed,
		ResourceType: "subscription",
		ResourceID:   id,
		Severity:     types.AuditSeverityLow,
	})

	return updated, nil
}

// ProcessScheduledResumes resumes every paused subscription whose
// advisory resume_at time has passed. A resume time is not
// self-enforcing; this sweep is what makes it effective.
func (s *subscriptionService) ProcessScheduledResumes(ctx context.Context) (int, error) {
	paused, err := s.Gateway.ListSubscriptions(ctx, gateway.SubscriptionFilter{
		Status: types.SubscriptionStatusPaused,
	})
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	resumed := 0
	for _, sub := range paused {
		raw, ok := sub.Metadata["resume_at"]
		if !ok {
			continue
		}
		resumeAt, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.Logger.Warnw("unparseable resume_at, skipping",
				"subscription_id", sub.ID,
				"resume_at", raw,
			)
			continue
		}
		if resumeAt.After(now) {
			continue
		}
		if _, err := s.Resume(ctx, sub.ID); err != nil {
			s.Logger.Errorw("scheduled resume failed",
				"subscription_id", sub.ID,
				"error", err,
			)
			continue
		}
		resumed++
	}
	return resumed, nil
}

// UpcomingRenewals lists active subscriptions renewing inside the
// window, excluding those already flagged to cancel at period end.
func (s *subscriptionService) UpcomingRenewals(ctx context.Context, window time.Duration) ([]*gateway.Subscription, error) {
	active, err := s.Gateway.ListSubscriptions(ctx, gateway.SubscriptionFilter{
		Status: types.SubscriptionStatusActive,
	})
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(window)
	renewals := lo.Filter(active, func(sub *gateway.Subscription, _ int) bool {
		return !sub.CancelAtPeriodEnd && !sub.CurrentPeriodEnd.After(cutoff)
	})
	sort.Slice(renewals, func(i, j int) bool {
		return renewals[i].CurrentPeriodEnd.Before(renewals[j].CurrentPeriodEnd)
	})
	return renewals, nil
}
