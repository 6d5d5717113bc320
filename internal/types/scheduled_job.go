package types

import (
	ierr "github.com/helioscale/helioscale/internal/errors"
	"github.com/samber/lo"
)

// ScheduledJobStatus is the execution status of a scheduled job.
type ScheduledJobStatus string

const (
	ScheduledJobStatusScheduled ScheduledJobStatus = "scheduled"
	ScheduledJobStatusRunning   ScheduledJobStatus = "running"
	ScheduledJobStatusCompleted ScheduledJobStatus = "completed"
	ScheduledJobStatusFailed    ScheduledJobStatus = "failed"
)

func (s ScheduledJobStatus) String() string {
	return string(s)
}

func (s ScheduledJobStatus) Validate() error {
	allowed := []ScheduledJobStatus{
		ScheduledJobStatusScheduled,
		ScheduledJobStatusRunning,
		ScheduledJobStatusCompleted,
		ScheduledJobStatusFailed,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid scheduled job status").
			WithHint("Invalid scheduled job status").
			WithReportableDetails(map[string]any{
				"status":         s,
				"allowed_status": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
