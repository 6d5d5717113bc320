package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/helioscale/helioscale/internal/config"
	ierr "github.com/helioscale/helioscale/internal/errors"
	"github.com/helioscale/helioscale/internal/logger"
)

const recordsPath = "/api/collections/audit_logs/records"

// HTTPSink posts audit entries to an external record store. Entries
// that fail to post are kept in a bounded ring buffer so a later Flush
// can drain them; when the buffer is full the oldest entry is dropped.
type HTTPSink struct {
	url    string
	token  string
	client *http.Client
	logger *logger.Logger

	mu       sync.Mutex
	buffer   []Entry
	capacity int
	stats    Stats
}

var _ Sink = (*HTTPSink)(nil)

// NewHTTPSink creates a sink for the configured record store.
func NewHTTPSink(cfg config.AuditConfig, log *logger.Logger) *HTTPSink {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil

	return &HTTPSink{
		url:      cfg.URL,
		token:    cfg.Token,
		client:   rc.StandardClient(),
		logger:   log,
		capacity: cfg.BufferSize,
	}
}

// Record posts the entry. On failure it is buffered and Record still
// returns true so the caller does not double-log: the entry will be
// retried by Flush. False means the sink is not configured.
func (s *HTTPSink) Record(ctx context.Context, entry Entry) bool {
	if s.url == "" {
		return false
	}

	if err := s.post(ctx, entry); err != nil {
		s.logger.Warnw("audit record post failed, buffering",
			"error", err,
			"idempotency_key", entry.IdempotencyKey,
			"action", entry.Action,
		)
		s.bufferEntry(entry)
		return true
	}

	s.mu.Lock()
	s.stats.Recorded++
	s.mu.Unlock()
	return true
}

// Flush re-posts buffered entries in order, stopping at the first
// failure. It returns how many entries were drained.
func (s *HTTPSink) Flush(ctx context.Context) (int, error) {
	s.mu.Lock()
	pending := make([]Entry, len(s.buffer))
	copy(pending, s.buffer)
	s.mu.Unlock()

	drained := 0
	for _, entry := range pending {
		if err := s.post(ctx, entry); err != nil {
			s.dropDrained(drained)
			return drained, ierr.WithError(err).
				WithHint("Audit record store is unreachable").
				Mark(ierr.ErrAuditSink)
		}
		drained++
	}
	s.dropDrained(drained)
	return drained, nil
}

// Stats returns a snapshot of sink counters.
func (s *HTTPSink) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.stats
	stats.Buffered = len(s.buffer)
	return stats
}

func (s *HTTPSink) post(ctx context.Context, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+recordsPath, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("record store returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *HTTPSink) bufferEntry(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Failed++
	if s.capacity > 0 && len(s.buffer) >= s.capacity {
		s.buffer = s.buffer[1:]
		s.stats.Dropped++
	}
	s.buffer = append(s.buffer, entry)
}

func (s *HTTPSink) dropDrained(n int) {
	if n == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.buffer) {
		n = len(s.buffer)
	}
	s.buffer = s.buffer[n:]
	s.stats.Recorded += n
}
