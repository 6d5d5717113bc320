package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/helioscale/helioscale/internal/audit"
	ierr "github.com/helioscale/helioscale/internal/errors"
	"github.com/helioscale/helioscale/internal/gateway"
	"github.com/helioscale/helioscale/internal/types"
)

// TrialExpirationReport classifies trials past their end. The gateway
// enforces the outcome itself; this engine only observes and records.
type TrialExpirationReport struct {
	AutoConverting []string `json:"auto_converting"`
	AutoCanceling  []string `json:"auto_canceling"`
}

// TrialConversionMetrics summarizes trial outcomes.
type TrialConversionMetrics struct {
	ActiveTrials     int     `json:"active_trials"`
	Converted        int     `json:"converted"`
	Canceled         int     `json:"canceled"`
	ConversionRate   float64 `json:"conversion_rate"`
	AverageTrialDays float64 `json:"average_trial_days"`
}

// TrialService manages trial subscriptions.
type TrialService interface {
	CreateTrialSubscription(ctx context.Context, customerID, priceID string, trialDays int) (*gateway.Subscription, error)
	GetActiveTrials(ctx context.Context) ([]*gateway.Subscription, error)
	GetExpiringTrials(ctx context.Context, daysThreshold int) ([]*gateway.Subscription, error)
	ExtendTrial(ctx context.Context, subscriptionID string, additionalDays int) (*gateway.Subscription, error)
	ConvertTrialToPaid(ctx context.Context, subscriptionID string) (*gateway.Subscription, error)
	CancelTrial(ctx context.Context, subscriptionID, reason string) (*gateway.Subscription, error)
	SendTrialReminders(ctx context.Context) (int, error)
	ProcessTrialExpirations(ctx context.Context) (*TrialExpirationReport, error)
	GetConversionMetrics(ctx context.Context) (*TrialConversionMetrics, error)
}

type trialService struct {
	ServiceParams
}

func NewTrialService(params ServiceParams) TrialService {
	return &trialService{ServiceParams: params}
}

// CreateTrialSubscription starts a trialing subscription. The gateway
// is instructed to auto-cancel at trial end when no payment method is
// on file; this engine does not poll for that.
func (s *trialService) CreateTrialSubscription(ctx context.Context, customerID, priceID string, trialDays int) (*gateway.Subscription, error) {
	if trialDays <= 0 {
		return nil, ierr.NewError("invalid trial length").
			WithHint("Trial length must be at least one day").
			WithReportableDetails(map[string]any{"trial_days": trialDays}).
			Mark(ierr.ErrValidation)
	}

	sub, err := s.Gateway.CreateSubscription(ctx, gateway.CreateSubscriptionParams{
		CustomerID:       customerID,
		PriceID:          priceID,
		TrialDays:        trialDays,
		TrialEndBehavior: gateway.TrialEndBehaviorCancel,
	})
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, s.Sink, s.Logger, audit.Entry{
		Action:       types.AuditActionTrialCreated,
		ResourceType: "subscription",
		ResourceID:   sub.ID,
		Severity:     types.AuditSeverityLow,
		Metadata: types.Metadata{
			"customer_id": customerID,
			"price_id":    priceID,
			"trial_days":  fmt.Sprintf("%d", trialDays),
		},
	})
	return sub, nil
}

func (s *trialService) GetActiveTrials(ctx context.Context) ([]*gateway.Subscription, error) {
	return s.Gateway.ListSubscriptions(ctx, gateway.SubscriptionFilter{
		Status: types.SubscriptionStatusTrialing,
	})
}

// GetExpiringTrials returns trialing subscriptions with
// 0 < daysRemaining <= daysThreshold, soonest first.
func (s *trialService) GetExpiringTrials(ctx context.Context, daysThreshold int) ([]*gateway.Subscription, error) {
	if daysThreshold <= 0 {
		return nil, ierr.NewError("invalid days threshold").
			WithHint("Days threshold must be positive").
			WithReportableDetails(map[string]any{"days_threshold": daysThreshold}).
			Mark(ierr.ErrValidation)
	}

	trials, err := s.GetActiveTrials(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	expiring := lo.Filter(trials, func(sub *gateway.Subscription, _ int) bool {
		days := sub.TrialDaysRemaining(now)
		return days > 0 && days <= daysThreshold
	})
	sort.Slice(expiring, func(i, j int) bool {
		return expiring[i].TrialEnd.Before(*expiring[j].TrialEnd)
	})
	return expiring, nil
}

// ExtendTrial pushes the trial end out by additionalDays. Only a
// trialing subscription can be extended.
func (s *trialService) ExtendTrial(ctx context.Context, subscriptionID string, additionalDays int) (*gateway.Subscription, error) {
	if additionalDays <= 0 {
		return nil, ierr.NewError("invalid extension length").
			WithHint("Extension must be at least one day").
			WithReportableDetails(map[string]any{"additional_days": additionalDays}).
			Mark(ierr.ErrValidation)
	}

	s.Locks.Lock(subscriptionID)
	defer s.Locks.Unlock(subscriptionID)

	sub, err := s.Gateway.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != types.SubscriptionStatusTrialing || sub.TrialEnd == nil {
		return nil, ierr.NewError("subscription is not trialing").
			WithHintf("A %s subscription's trial cannot be extended", sub.Status).
			WithReportableDetails(map[string]any{
				"subscription_id": subscriptionID,
				"status":          sub.Status,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	newEnd := sub.TrialEnd.Add(time.Duration(additionalDays) * 24 * time.Hour)
	updated, err := s.Gateway.UpdateSubscription(ctx, subscriptionID, gateway.UpdateSubscriptionParams{
		TrialEnd: &newEnd,
	})
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, s.Sink, s.Logger, audit.Entry{
		Action:       types.AuditActionTrialExtended,
		ResourceType: "subscription",
		ResourceID:   subscriptionID,
		Severity:     types.AuditSeverityLow,
		Metadata: types.Metadata{
			"additional_days": fmt.Sprintf("%d", additionalDays),
			"new_trial_end":   newEnd.Format(time.RFC3339),
		},
	})
	return updated, nil
}

// ConvertTrialToPaid ends the trial immediately. No proration applies;
// regular billing starts from the conversion.
func (s *trialService) ConvertTrialToPaid(ctx context.Context, subscriptionID string) (*gateway.Subscription, error) {
	s.Locks.Lock(subscriptionID)
	defer s.Locks.Unlock(subscriptionID)

	sub, err := s.Gateway.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != types.SubscriptionStatusTrialing {
		return nil, ierr.NewError("subscription is not trialing").
			WithHintf("A %s subscription cannot be converted from trial", sub.Status).
			WithReportableDetails(map[string]any{
				"subscription_id": subscriptionID,
				"status":          sub.Status,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	updated, err := s.Gateway.UpdateSubscription(ctx, subscriptionID, gateway.UpdateSubscriptionParams{
		TrialEndNow: true,
	})
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, s.Sink, s.Logger, audit.Entry{
		Action:       types.AuditActionTrialConverted,
		ResourceType: "subscription",
		ResourceID:   subscriptionID,
		Severity:     types.AuditSeverityLow,
		Metadata:     types.Metadata{"customer_id": sub.CustomerID},
	})
	return updated, nil
}

// CancelTrial cancels a trialing subscription immediately.
func (s *trialService) CancelTrial(ctx context.Context, subscriptionID, reason string) (*gateway.Subscription, error) {
	s.Locks.Lock(subscriptionID)
	defer s.Locks.Unlock(subscriptionID)

	sub, err := s.Gateway.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status == types.SubscriptionStatusCanceled {
		return sub, nil
	}
	if sub.Status != types.SubscriptionStatusTrialing {
		return nil, ierr.NewError("subscription is not trialing").
			WithHintf("A %s subscription is not a trial", sub.Status).
			WithReportableDetails(map[string]any{
				"subscription_id": subscriptionID,
				"status":          sub.Status,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	updated, err := s.Gateway.CancelSubscription(ctx, subscriptionID, gateway.CancelSubscriptionParams{
		Immediate: true,
		Reason:    reason,
	})
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, s.Sink, s.Logger, audit.Entry{
		Action:       types.AuditActionTrialCanceled,
		ResourceType: "subscription",
		ResourceID:   subscriptionID,
		Severity:     types.AuditSeverityLow,
		Metadata:     types.Metadata{"reason": reason},
	})
	return updated, nil
}

// SendTrialReminders sends at most one reminder per configured
// threshold per trial. Thresholds are level-triggered: a trial checked
// late still gets its reminder once daysRemaining falls at or below
// the threshold, and the per-threshold sent flag keeps any polling
// cadence from sending twice.
func (s *trialService) SendTrialReminders(ctx context.Context) (int, error) {
	thresholds := s.Config.Trial.ReminderThresholds

	maxThreshold := 0
	for _, t := range thresholds {
		if t > maxThreshold {
			maxThreshold = t
		}
	}
	expiring, err := s.GetExpiringTrials(ctx, maxThreshold)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	sent := 0
	for _, sub := range expiring {
		days := sub.TrialDaysRemaining(now)

		// Collect every satisfied, unsent threshold; one reminder
		// covers all of them so a late sweep cannot burst.
		var due []int
		for _, t := range thresholds {
			if days <= t && !sub.TrialRemindersSent[t] {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			continue
		}

		marked := make(map[int]bool, len(due))
		for _, t := range due {
			marked[t] = true
		}
		if _, err := s.Gateway.UpdateSubscription(ctx, sub.ID, gateway.UpdateSubscriptionParams{
			TrialRemindersSent: marked,
		}); err != nil {
			s.Logger.Errorw("failed to mark trial reminder sent",
				"subscription_id", sub.ID,
				"error", err,
			)
			continue
		}

		audit.Log(ctx, s.Sink, s.Logger, audit.Entry{
			Action:       types.AuditActionTrialReminderSent,
			ResourceType: "subscription",
			ResourceID:   sub.ID,
			Severity:     types.AuditSeverityLow,
			Metadata: types.Metadata{
				"customer_id":    sub.CustomerID,
				"days_remaining": fmt.Sprintf("%d", days),
			},
		})
		sent++
	}
	return sent, nil
}

// ProcessTrialExpirations classifies every trial at or past its end as
// auto-converting (payment method on file) or auto-canceling. The
// gateway enforces the transition itself.
func (s *trialService) ProcessTrialExpirations(ctx context.Context) (*TrialExpirationReport, error) {
	trials, err := s.GetActiveTrials(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	report := &TrialExpirationReport{}
	for _, sub := range trials {
		if sub.TrialEnd == nil || sub.TrialEnd.After(now) {
			continue
		}
		if sub.DefaultPaymentMethodID != "" {
			report.AutoConverting = append(report.AutoConverting, sub.ID)
		} else {
			report.AutoCanceling = append(report.AutoCanceling, sub.ID)
		}
	}

	if len(report.AutoConverting) > 0 || len(report.AutoCanceling) > 0 {
		s.Logger.Infow("processed trial expirations",
			"auto_converting", len(report.AutoConverting),
			"auto_canceling", len(report.AutoCanceling),
		)
	}
	return report, nil
}

// GetConversionMetrics summarizes how trials have fared: conversions,
// cancellations, and the average trial length.
func (s *trialService) GetConversionMetrics(ctx context.Context) (*TrialConversionMetrics, error) {
	subs, err := s.Gateway.ListSubscriptions(ctx, gateway.SubscriptionFilter{})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	metrics := &TrialConversionMetrics{}
	totalTrialDays := decimal.Zero
	trialCount := 0

	for _, sub := range subs {
		if sub.TrialEnd == nil {
			continue
		}
		trialCount++
		totalTrialDays = totalTrialDays.Add(
			decimal.NewFromFloat(sub.TrialEnd.Sub(sub.CreatedAt).Hours() / 24),
		)

		switch {
		case sub.Status == types.SubscriptionStatusTrialing:
			metrics.ActiveTrials++
		case sub.Status == types.SubscriptionStatusCanceled:
			metrics.Canceled++
		case sub.TrialEnd.Before(now):
			metrics.Converted++
		}
	}

	if decided := metrics.Converted + metrics.Canceled; decided > 0 {
		rate := decimal.NewFromInt(int64(metrics.Converted)).
			Div(decimal.NewFromInt(int64(decided))).
			Mul(decimal.NewFromInt(100))
		metrics.ConversionRate, _ = rate.Round(2).Float64()
	}
	if trialCount > 0 {
		avg := totalTrialDays.Div(decimal.NewFromInt(int64(trialCount)))
		metrics.AverageTrialDays, _ = avg.Round(1).Float64()
	}
	return metrics, nil
}
