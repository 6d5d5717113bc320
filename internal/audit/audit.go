package audit

import (
	"context"
	"time"

	"github.com/helioscale/helioscale/internal/logger"
	"github.com/helioscale/helioscale/internal/types"
)

// Entry is an immutable append-only audit fact.
type Entry struct {
	IdempotencyKey string              `json:"idempotency_key"`
	Action         string              `json:"action"`
	ResourceType   string              `json:"resource_type"`
	ResourceID     string              `json:"resource_id"`
	TenantID       string              `json:"tenant_id"`
	Severity       types.AuditSeverity `json:"severity"`
	Metadata       types.Metadata      `json:"metadata,omitempty"`
	Timestamp      time.Time           `json:"timestamp"`
}

// Stats summarizes sink activity for the ops surface.
type Stats struct {
	Recorded int `json:"recorded"`
	Failed   int `json:"failed"`
	Dropped  int `json:"dropped"`
	Buffered int `json:"buffered"`
}

// Sink records audit entries. Record reports whether the entry was
// accepted; it returns false, never an error, so a missing or failing
// sink can never block a billing operation.
type Sink interface {
	Record(ctx context.Context, entry Entry) bool
	Flush(ctx context.Context) (int, error)
	Stats() Stats
}

// NoopSink is used when no audit backend is configured.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (s *NoopSink) Record(_ context.Context, _ Entry) bool {
	return false
}

func (s *NoopSink) Flush(_ context.Context) (int, error) {
	return 0, nil
}

func (s *NoopSink) Stats() Stats {
	return Stats{}
}

// Log records an entry through the sink, filling in the idempotency
// key, tenant and timestamp, and falls back to local logging when the
// sink refuses it. Audit is fire-and-forget: this never fails.
func Log(ctx context.Context, sink Sink, log *logger.Logger, entry Entry) {
	if entry.IdempotencyKey == "" {
		entry.IdempotencyKey = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_AUDIT_ENTRY)
	}
	if entry.TenantID == "" {
		entry.TenantID = types.GetTenantID(ctx)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Severity == "" {
		entry.Severity = types.AuditSeverityLow
	}

	if sink != nil && sink.Record(ctx, entry) {
		return
	}

	log.Warnw("audit entry not recorded, logging locally",
		"idempotency_key", entry.IdempotencyKey,
		"action", entry.Action,
		"resource_type", entry.ResourceType,
		"resource_id", entry.ResourceID,
		"severity", entry.Severity,
	)
}
