package stripe

import (
	"fmt"
	"strconv"
	"time"

	"github.com/helioscale/helioscale/internal/gateway"
)

// Metadata keys used to round-trip structured engine state through
// Stripe subscription metadata. These are the only stringly values in
// the system; everything above the adapter works with typed state.
const (
	metaRetryCount            = "retry_count"
	metaNextRetryDate         = "next_retry_date"
	metaGracePeriod           = "grace_period"
	metaServiceSuspended      = "service_suspended"
	metaLastFailedInvoice     = "last_failed_invoice"
	metaLastSuccessfulPayment = "last_successful_payment"
	metaResumeAt              = "resume_at"
	metaCancellationReason    = "cancellation_reason"
	metaCancellationFeedback  = "cancellation_feedback"
	metaReminderSentPrefix    = "trial_reminder_sent_"
)

// encodeRetryState flattens a RetryState into metadata writes. Zero
// state clears every key so a reset fully re-arms the policy.
func encodeRetryState(state gateway.RetryState) map[string]string {
	meta := map[string]string{
		metaRetryCount:            "",
		metaNextRetryDate:         "",
		metaGracePeriod:           "",
		metaServiceSuspended:      "",
		metaLastFailedInvoice:     "",
		metaLastSuccessfulPayment: "",
	}
	if state.RetryCount > 0 {
		meta[metaRetryCount] = strconv.Itoa(state.RetryCount)
	}
	if state.NextRetryDate != nil {
		meta[metaNextRetryDate] = strconv.FormatInt(state.NextRetryDate.Unix(), 10)
	}
	if state.GracePeriod {
		meta[metaGracePeriod] = "true"
	}
	if state.ServiceSuspended {
		meta[metaServiceSuspended] = "true"
	}
	if state.LastFailedInvoiceID != "" {
		meta[metaLastFailedInvoice] = state.LastFailedInvoiceID
	}
	if state.LastSuccessfulPayment != nil {
		meta[metaLastSuccessfulPayment] = strconv.FormatInt(state.LastSuccessfulPayment.Unix(), 10)
	}
	return meta
}

// decodeRetryState reads RetryState back out of subscription metadata.
// Unparseable values are treated as absent.
func decodeRetryState(meta map[string]string) gateway.RetryState {
	var state gateway.RetryState
	if v, ok := meta[metaRetryCount]; ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			state.RetryCount = n
		}
	}
	if v, ok := meta[metaNextRetryDate]; ok && v != "" {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			t := time.Unix(ts, 0).UTC()
			state.NextRetryDate = &t
		}
	}
	state.GracePeriod = meta[metaGracePeriod] == "true"
	state.ServiceSuspended = meta[metaServiceSuspended] == "true"
	state.LastFailedInvoiceID = meta[metaLastFailedInvoice]
	if v, ok := meta[metaLastSuccessfulPayment]; ok && v != "" {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			t := time.Unix(ts, 0).UTC()
			state.LastSuccessfulPayment = &t
		}
	}
	return state
}

// encodeReminders writes per-threshold sent flags.
func encodeReminders(sent map[int]bool) map[string]string {
	meta := make(map[string]string, len(sent))
	for threshold, ok := range sent {
		if ok {
			meta[fmt.Sprintf("%s%d", metaReminderSentPrefix, threshold)] = "true"
		}
	}
	return meta
}

// decodeReminders reads per-threshold sent flags.
func decodeReminders(meta map[string]string) map[int]bool {
	sent := make(map[int]bool)
	for key, value := range meta {
		if len(key) <= len(metaReminderSentPrefix) || key[:len(metaReminderSentPrefix)] != metaReminderSentPrefix {
			continue
		}
		if value != "true" {
			continue
		}
		if threshold, err := strconv.Atoi(key[len(metaReminderSentPrefix):]); err == nil {
			sent[threshold] = true
		}
	}
	return sent
}

// engineMetadataKeys lists every key the adapter owns; they are
// stripped from the metadata surfaced on the domain model.
func isEngineMetadataKey(key string) bool {
	switch key {
	case metaRetryCount, metaNextRetryDate, metaGracePeriod, metaServiceSuspended,
		metaLastFailedInvoice, metaLastSuccessfulPayment:
		return true
	}
	return len(key) > len(metaReminderSentPrefix) && key[:len(metaReminderSentPrefix)] == metaReminderSentPrefix
}
