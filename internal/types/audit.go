package types

import (
	ierr "github.com/helioscale/helioscale/internal/errors"
	"github.com/samber/lo"
)

// AuditSeverity classifies audit records for downstream alerting.
type AuditSeverity string

const (
	AuditSeverityLow      AuditSeverity = "low"
	AuditSeverityMedium   AuditSeverity = "medium"
	AuditSeverityHigh     AuditSeverity = "high"
	AuditSeverityCritical AuditSeverity = "critical"
)

func (s AuditSeverity) String() string {
	return string(s)
}

func (s AuditSeverity) Validate() error {
	allowed := []AuditSeverity{
		AuditSeverityLow,
		AuditSeverityMedium,
		AuditSeverityHigh,
		AuditSeverityCritical,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid audit severity").
			WithHint("Invalid audit severity").
			WithReportableDetails(map[string]any{
				"severity":       s,
				"allowed_values": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Audit actions recorded by the billing engine.
const (
	AuditActionSubscriptionUpgraded    = "subscription_upgraded"
	AuditActionSubscriptionDowngraded  = "subscription_downgraded"
	AuditActionSubscriptionCanceled    = "subscription_canceled"
	AuditActionSubscriptionReactivated = "subscription_reactivated"
	AuditActionSubscriptionPaused      = "subscription_paused"
	AuditActionSubscriptionResumed     = "subscription_resumed"
	AuditActionPaymentRetryScheduled   = "payment_retry_scheduled"
	AuditActionPaymentRetrySucceeded   = "payment_retry_succeeded"
	AuditActionPaymentRetryFailed      = "payment_retry_failed"
	AuditActionRetryCounterReset       = "retry_counter_reset"
	AuditActionServiceSuspended        = "service_suspended"
	AuditActionDunningNotification     = "dunning_notification_sent"
	AuditActionPaymentMethodUpdated    = "payment_method_updated"
	AuditActionTrialCreated            = "trial_created"
	AuditActionTrialExtended           = "trial_extended"
	AuditActionTrialConverted          = "trial_converted"
	AuditActionTrialCanceled           = "trial_canceled"
	AuditActionTrialReminderSent       = "trial_reminder_sent"
	AuditActionRetentionActionExecuted = "retention_action_executed"
)
