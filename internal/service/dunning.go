package service

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/helioscale/helioscale/internal/audit"
	ierr "github.com/helioscale/helioscale/internal/errors"
	"github.com/helioscale/helioscale/internal/gateway"
	"github.com/helioscale/helioscale/internal/types"
)

// RetryScheduleEntry is one row of the static retry schedule.
type RetryScheduleEntry struct {
	DaysUntilRetry int
	GracePeriod    bool
}

// retrySchedule holds the dunning cadence: two grace retries, then two
// suspended retries, then cancellation.
var retrySchedule = []RetryScheduleEntry{
	{DaysUntilRetry: 3, GracePeriod: true},
	{DaysUntilRetry: 5, GracePeriod: true},
	{DaysUntilRetry: 7, GracePeriod: false},
	{DaysUntilRetry: 14, GracePeriod: false},
}

// dunningMessages escalate with each failed attempt.
var dunningMessages = []string{
	"Payment failed - retry in 3 days",
	"Second payment attempt failed - retry in 5 days",
	"Service suspended - retry in 7 days",
	"Final payment attempt - subscription will cancel in 14 days",
}

const dunningCancellationMessage = "Subscription canceled after exhausting payment retries"

// RetryDecisionType is the outcome of the dunning decision function.
type RetryDecisionType string

const (
	RetryDecisionRetry  RetryDecisionType = "retry"
	RetryDecisionCancel RetryDecisionType = "cancel_subscription"
)

// RetryDecision is the pure dunning decision for one failed attempt.
type RetryDecision struct {
	Type           RetryDecisionType   `json:"type"`
	AttemptIndex   int                 `json:"attempt_index"`
	NextRetryDate  time.Time           `json:"next_retry_date"`
	GracePeriod    bool                `json:"grace_period"`
	SuspendService bool                `json:"suspend_service"`
	Severity       types.AuditSeverity `json:"severity"`
	Message        string              `json:"message"`
}

// RetryPaymentResult is returned instead of an error so bulk callers
// can keep processing remaining invoices.
type RetryPaymentResult struct {
	InvoiceID string `json:"invoice_id"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Err       error  `json:"-"`
}

// RetryStatus is the read view over a subscription's retry state.
type RetryStatus struct {
	SubscriptionID        string                   `json:"subscription_id"`
	Status                types.SubscriptionStatus `json:"status"`
	RetryCount            int                      `json:"retry_count"`
	MaxAttempts           int                      `json:"max_attempts"`
	NextRetryDate         *time.Time               `json:"next_retry_date,omitempty"`
	GracePeriod           bool                     `json:"grace_period"`
	ServiceSuspended      bool                     `json:"service_suspended"`
	LastFailedInvoiceID   string                   `json:"last_failed_invoice_id,omitempty"`
	LastSuccessfulPayment *time.Time               `json:"last_successful_payment,omitempty"`
}

// PaymentMethodUpdateResult reports the self-service dunning
// resolution path: the attach plus each open invoice's retry outcome.
type PaymentMethodUpdateResult struct {
	CustomerID      string               `json:"customer_id"`
	PaymentMethodID string               `json:"payment_method_id"`
	Results         []RetryPaymentResult `json:"results"`
}

// DunningService drives payment retries for failed invoices.
type DunningService interface {
	ScheduleForAttempt(attemptCount int, now time.Time) RetryDecision
	SchedulePaymentRetry(ctx context.Context, invoiceID string) (*RetryDecision, error)
	RetryInvoicePayment(ctx context.Context, invoiceID string) *RetryPaymentResult
	ProcessDueRetries(ctx context.Context) (int, error)
	ResetRetryCounter(ctx context.Context, subscriptionID string) error
	GetRetryStatus(ctx context.Context, subscriptionID string) (*RetryStatus, error)
	UpdatePaymentMethodAndRetry(ctx context.Context, customerID, paymentMethodID string) (*PaymentMethodUpdateResult, error)
}

type dunningService struct {
	ServiceParams
	subscriptions SubscriptionService
}

func NewDunningService(params ServiceParams, subscriptions SubscriptionService) DunningService {
	return &dunningService{
		ServiceParams: params,
		subscriptions: subscriptions,
	}
}

// maxAttempts is bounded by the schedule length: an attempt past the
// last schedule entry has no retry step left to arm.
func (s *dunningService) maxAttempts() int {
	if m := s.Config.Dunning.MaxAttempts; m > 0 && m < len(retrySchedule) {
		return m
	}
	return len(retrySchedule)
}

// ScheduleForAttempt is the pure decision function: given how many
// attempts have already failed, decide retry vs cancel. Severity
// escalates with the attempt count.
func (s *dunningService) ScheduleForAttempt(attemptCount int, now time.Time) RetryDecision {
	if attemptCount >= s.maxAttempts() {
		return RetryDecision{
			Type:         RetryDecisionCancel,
			AttemptIndex: attemptCount,
			Severity:     types.AuditSeverityCritical,
			Message:      dunningCancellationMessage,
		}
	}

	entry := retrySchedule[attemptCount]
	severity := types.AuditSeverityMedium
	if attemptCount >= 2 {
		severity = types.AuditSeverityHigh
	}
	return RetryDecision{
		Type:           RetryDecisionRetry,
		AttemptIndex:   attemptCount,
		NextRetryDate:  now.AddDate(0, 0, entry.DaysUntilRetry),
		GracePeriod:    entry.GracePeriod,
		SuspendService: !entry.GracePeriod,
		Severity:       severity,
		Message:        dunningMessages[attemptCount],
	}
}

// SchedulePaymentRetry reacts to a failed invoice: either arms the
// next retry on the subscription's retry state, or cancels the
// subscription once the schedule is exhausted.
func (s *dunningService) SchedulePaymentRetry(ctx context.Context, invoiceID string) (*RetryDecision, error) {
	inv, err := s.Gateway.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.SubscriptionID == "" {
		return nil, ierr.NewError("invoice has no subscription").
			WithHint("Only subscription invoices are dunned").
			WithReportableDetails(map[string]any{"invoice_id": invoiceID}).
			Mark(ierr.ErrInvalidOperation)
	}
	if inv.Status == types.InvoiceStatusPaid {
		return nil, ierr.NewError("invoice already paid").
			WithHint("A paid invoice cannot be scheduled for retry").
			WithReportableDetails(map[string]any{"invoice_id": invoiceID}).
			Mark(ierr.ErrInvalidOperation)
	}

	now := time.Now().UTC()
	decision := s.ScheduleForAttempt(inv.AttemptCount, now)

	if decision.Type == RetryDecisionCancel {
		if _, err := s.subscriptions.Cancel(ctx, inv.SubscriptionID, CancelParams{
			Immediate: true,
			Reason:    "payment_retries_exhausted",
			Severity:  types.AuditSeverityCritical,
		}); err != nil {
			return nil, err
		}
		s.sendDunningNotification(ctx, inv, decision)
		return &decision, nil
	}

	s.Locks.Lock(inv.SubscriptionID)
	defer s.Locks.Unlock(inv.SubscriptionID)

	state := gateway.RetryState{
		RetryCount:          inv.AttemptCount + 1,
		NextRetryDate:       lo.ToPtr(decision.NextRetryDate),
		GracePeriod:         decision.GracePeriod,
		ServiceSuspended:    decision.SuspendService,
		LastFailedInvoiceID: inv.ID,
	}
	if _, err := s.Gateway.UpdateSubscription(ctx, inv.SubscriptionID, gateway.UpdateSubscriptionParams{
		RetryState: &state,
	}); err != nil {
		return nil, err
	}

	audit.Log(ctx, s.Sink, s.Logger, audit.Entry{
		Action:       types.AuditActionPaymentRetryScheduled,
		ResourceType: "subscription",
		ResourceID:   inv.SubscriptionID,
		Severity:     decision.Severity,
		Metadata: types.Metadata{
			"invoice_id":      inv.ID,
			"attempt":         fmt.Sprintf("%d", inv.AttemptCount+1),
			"max_attempts":    fmt.Sprintf("%d", s.maxAttempts()),
			"next_retry_date": decision.NextRetryDate.Format(time.RFC3339),
			"grace_period":    fmt.Sprintf("%t", decision.GracePeriod),
		},
	})

	if decision.SuspendService {
		audit.Log(ctx, s.Sink, s.Logger, audit.Entry{
			Action:       types.AuditActionServiceSuspended,
			ResourceType: "subscription",
			ResourceID:   inv.SubscriptionID,
			Severity:     types.AuditSeverityHigh,
			Metadata:     types.Metadata{"invoice_id": inv.ID},
		})
	}

	s.sendDunningNotification(ctx, inv, decision)
	return &decision, nil
}

// sendDunningNotification records the escalating dunning message. The
// actual email automation is an external collaborator; the audit trail
// is the hand-off point.
func (s *dunningService) sendDunningNotification(ctx context.Context, inv *gateway.Invoice, decision RetryDecision) {
	audit.Log(ctx, s.Sink, s.Logger, audit.Entry{
		Action:       types.AuditActionDunningNotification,
		ResourceType: "invoice",
		ResourceID:   inv.ID,
		Severity:     decision.Severity,
		Metadata: types.Metadata{
			"customer_id": inv.CustomerID,
			"message":     decision.Message,
			"attempt":     fmt.Sprintf("%d", decision.AttemptIndex+1),
		},
	})
}

// RetryInvoicePayment attempts payment on an invoice. It never returns
// an error: failures come back as a structured result so bulk callers
// keep going. An ambiguous gateway timeout re-checks the invoice
// before deciding, and advances nothing when the outcome stays
// unknown.
func (s *dunningService) RetryInvoicePayment(ctx context.Context, invoiceID string) *RetryPaymentResult {
	inv, err := s.Gateway.GetInvoice(ctx, invoiceID)
	if err != nil {
		return &RetryPaymentResult{InvoiceID: invoiceID, Message: "failed to fetch invoice", Err: err}
	}

	if inv.Status == types.InvoiceStatusPaid {
		return &RetryPaymentResult{InvoiceID: invoiceID, Success: true, Message: "Invoice already paid"}
	}

	paid, err := s.Gateway.PayInvoice(ctx, invoiceID)
	if err != nil {
		if ierr.IsGatewayTimeout(err) {
			// The charge may have gone through. Re-check before
			// treating this as a failure.
			recheck, recheckErr := s.Gateway.GetInvoice(ctx, invoiceID)
			if recheckErr == nil && recheck.Status == types.InvoiceStatusPaid {
				s.recordRetryOutcome(ctx, recheck, true, "Payment succeeded after gateway timeout")
				return &RetryPaymentResult{InvoiceID: invoiceID, Success: true, Message: "Payment succeeded after gateway timeout"}
			}
			return &RetryPaymentResult{
				InvoiceID: invoiceID,
				Message:   "Gateway timed out, payment outcome unknown",
				Err:       err,
			}
		}

		result := &RetryPaymentResult{InvoiceID: invoiceID, Message: "Payment failed", Err: err}
		s.recordRetryOutcome(ctx, inv, false, result.Message)
		return result
	}

	s.recordRetryOutcome(ctx, paid, true, "Payment succeeded")
	if paid.SubscriptionID != "" {
		if err := s.ResetRetryCounter(ctx, paid.SubscriptionID); err != nil {
			s.Logger.Errorw("failed to reset retry counter after successful payment",
				"subscription_id", paid.SubscriptionID,
				"error", err,
			)
		}
	}
	return &RetryPaymentResult{InvoiceID: invoiceID, Success: true, Message: "Payment succeeded"}
}

func (s *dunningService) recordRetryOutcome(ctx context.Context, inv *gateway.Invoice, success bool, message string) {
	action := types.AuditActionPaymentRetryFailed
	severity := types.AuditSeverityHigh
	if success {
		action = types.AuditActionPaymentRetrySucceeded
		severity = types.AuditSeverityLow
	}
	audit.Log(ctx, s.Sink, s.Logger, audit.Entry{
		Action:       action,
		ResourceType: "invoice",
		ResourceID:   inv.ID,
		Severity:     severity,
		Metadata: types.Metadata{
			"subscription_id": inv.SubscriptionID,
			"customer_id":     inv.CustomerID,
			"attempt_count":   fmt.Sprintf("%d", inv.AttemptCount),
			"message":         message,
		},
	})
}

// ProcessDueRetries sweeps subscriptions with an armed retry whose
// time has come, attempting payment on the last failed invoice and
// scheduling the next step on failure. One bad subscription never
// stops the sweep.
func (s *dunningService) ProcessDueRetries(ctx context.Context) (int, error) {
	processed := 0
	now := time.Now().UTC()

	for _, status := range []types.SubscriptionStatus{
		types.SubscriptionStatusPastDue,
		types.SubscriptionStatusUnpaid,
	} {
		subs, err := s.Gateway.ListSubscriptions(ctx, gateway.SubscriptionFilter{Status: status})
		if err != nil {
			return processed, err
		}
		for _, sub := range subs {
			state := sub.RetryState
			if state.NextRetryDate == nil || state.NextRetryDate.After(now) || state.LastFailedInvoiceID == "" {
				continue
			}

			result := s.RetryInvoicePayment(ctx, state.LastFailedInvoiceID)
			processed++
			if result.Success {
				continue
			}
			if result.Err != nil && ierr.IsGatewayTimeout(result.Err) {
				// Unknown outcome: leave the retry armed for the next
				// sweep rather than burning an attempt.
				continue
			}
			if _, err := s.SchedulePaymentRetry(ctx, state.LastFailedInvoiceID); err != nil {
				s.Logger.Errorw("failed to schedule next retry",
					"subscription_id", sub.ID,
					"invoice_id", state.LastFailedInvoiceID,
					"error", err,
				)
			}
		}
	}
	return processed, nil
}

// ResetRetryCounter clears all retry state and stamps the successful
// payment, re-arming the schedule from the top for future failures.
func (s *dunningService) ResetRetryCounter(ctx context.Context, subscriptionID string) error {
	s.Locks.Lock(subscriptionID)
	defer s.Locks.Unlock(subscriptionID)

	sub, err := s.Gateway.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if sub.RetryState.IsZero() && sub.RetryState.LastSuccessfulPayment != nil {
		return nil
	}

	now := time.Now().UTC()
	if _, err := s.Gateway.UpdateSubscription(ctx, subscriptionID, gateway.UpdateSubscriptionParams{
		RetryState: &gateway.RetryState{
			LastSuccessfulPayment: &now,
		},
	}); err != nil {
		return err
	}

	audit.Log(ctx, s.Sink, s.Logger, audit.Entry{
		Action:       types.AuditActionRetryCounterReset,
		ResourceType: "subscription",
		ResourceID:   subscriptionID,
		Severity:     types.AuditSeverityLow,
	})
	return nil
}

// GetRetryStatus is the read API over a subscription's retry state.
func (s *dunningService) GetRetryStatus(ctx context.Context, subscriptionID string) (*RetryStatus, error) {
	sub, err := s.Gateway.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	state := sub.RetryState
	return &RetryStatus{
		SubscriptionID:        sub.ID,
		Status:                sub.Status,
		RetryCount:            state.RetryCount,
		MaxAttempts:           s.maxAttempts(),
		NextRetryDate:         state.NextRetryDate,
		GracePeriod:           state.GracePeriod,
		ServiceSuspended:      state.ServiceSuspended,
		LastFailedInvoiceID:   state.LastFailedInvoiceID,
		LastSuccessfulPayment: state.LastSuccessfulPayment,
	}, nil
}

// UpdatePaymentMethodAndRetry is the self-service dunning resolution
// path: attach a new default payment method, then retry every open
// invoice for the customer sequentially.
func (s *dunningService) UpdatePaymentMethodAndRetry(ctx context.Context, customerID, paymentMethodID string) (*PaymentMethodUpdateResult, error) {
	if err := s.Gateway.AttachPaymentMethod(ctx, customerID, paymentMethodID); err != nil {
		return nil, err
	}
	if err := s.Gateway.SetDefaultPaymentMethod(ctx, customerID, paymentMethodID); err != nil {
		return nil, err
	}

	audit.Log(ctx, s.Sink, s.Logger, audit.Entry{
		Action:       types.AuditActionPaymentMethodUpdated,
		ResourceType: "customer",
		ResourceID:   customerID,
		Severity:     types.AuditSeverityLow,
		Metadata:     types.Metadata{"payment_method_id": paymentMethodID},
	})

	open, err := s.Gateway.ListInvoices(ctx, gateway.InvoiceFilter{
		CustomerID: customerID,
		Status:     types.InvoiceStatusOpen,
	})
	if err != nil {
		return nil, err
	}

	result := &PaymentMethodUpdateResult{
		CustomerID:      customerID,
		PaymentMethodID: paymentMethodID,
	}
	for _, inv := range open {
		result.Results = append(result.Results, *s.RetryInvoicePayment(ctx, inv.ID))
	}
	return result, nil
}
