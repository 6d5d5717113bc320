package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/helioscale/helioscale/internal/config"
	ierr "github.com/helioscale/helioscale/internal/errors"
	"github.com/helioscale/helioscale/internal/logger"
	"github.com/helioscale/helioscale/internal/types"
)

type recordStore struct {
	mu       sync.Mutex
	failing  bool
	received []Entry
	auths    []string
	paths    []string
}

func (rs *recordStore) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		defer rs.mu.Unlock()

		if rs.failing {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var entry Entry
		if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		rs.received = append(rs.received, entry)
		rs.auths = append(rs.auths, r.Header.Get("Authorization"))
		rs.paths = append(rs.paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}
}

func (rs *recordStore) setFailing(failing bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.failing = failing
}

func (rs *recordStore) entries() []Entry {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	entries := make([]Entry, len(rs.received))
	copy(entries, rs.received)
	return entries
}

type HTTPSinkTestSuite struct {
	suite.Suite
	store  *recordStore
	server *httptest.Server
	logger *logger.Logger
}

func TestHTTPSink(t *testing.T) {
	suite.Run(t, new(HTTPSinkTestSuite))
}

func (s *HTTPSinkTestSuite) SetupSuite() {
	var err error
	s.logger, err = logger.NewLogger("info")
	s.Require().NoError(err)
}

func (s *HTTPSinkTestSuite) SetupTest() {
	s.store = &recordStore{}
	s.server = httptest.NewServer(s.store.handler())
}

func (s *HTTPSinkTestSuite) TearDownTest() {
	s.server.Close()
}

func (s *HTTPSinkTestSuite) newSink(bufferSize int) *HTTPSink {
	sink := NewHTTPSink(config.AuditConfig{
		URL:        s.server.URL,
		Token:      "test-token",
		BufferSize: bufferSize,
	}, s.logger)
	return sink
}

func (s *HTTPSinkTestSuite) entry(action string) Entry {
	return Entry{
		IdempotencyKey: types.GenerateUUIDWithPrefix(types.UUID_PREFIX_AUDIT_ENTRY),
		Action:         action,
		ResourceType:   "subscription",
		ResourceID:     "sub_1",
		TenantID:       types.DefaultTenantID,
		Severity:       types.AuditSeverityLow,
		Timestamp:      time.Now().UTC(),
	}
}

func (s *HTTPSinkTestSuite) TestUnconfiguredSinkRefusesEntries() {
	sink := NewHTTPSink(config.AuditConfig{}, s.logger)
	s.False(sink.Record(context.Background(), s.entry("subscription_canceled")))
	s.Equal(Stats{}, sink.Stats())
}

func (s *HTTPSinkTestSuite) TestRecordPostsEntry() {
	sink := s.newSink(10)

	ok := sink.Record(context.Background(), s.entry("subscription_canceled"))
	s.True(ok)

	received := s.store.entries()
	s.Require().Len(received, 1)
	s.Equal("subscription_canceled", received[0].Action)
	s.Equal("sub_1", received[0].ResourceID)
	s.Equal("Bearer test-token", s.store.auths[0])
	s.Equal("/api/collections/audit_logs/records", s.store.paths[0])

	stats := sink.Stats()
	s.Equal(1, stats.Recorded)
	s.Equal(0, stats.Buffered)
}

func (s *HTTPSinkTestSuite) TestFailedPostBuffersThenFlushDrains() {
	sink := s.newSink(10)
	s.store.setFailing(true)

	s.True(sink.Record(context.Background(), s.entry("first")),
		"a buffered entry counts as accepted so callers do not double-log")
	s.True(sink.Record(context.Background(), s.entry("second")))

	stats := sink.Stats()
	s.Equal(2, stats.Failed)
	s.Equal(2, stats.Buffered)
	s.Empty(s.store.entries())

	s.store.setFailing(false)
	drained, err := sink.Flush(context.Background())
	s.Require().NoError(err)
	s.Equal(2, drained)

	received := s.store.entries()
	s.Require().Len(received, 2)
	s.Equal("first", received[0].Action)
	s.Equal("second", received[1].Action)
	s.Equal(0, sink.Stats().Buffered)
}

func (s *HTTPSinkTestSuite) TestFlushStopsAtFirstFailure() {
	sink := s.newSink(10)
	s.store.setFailing(true)
	s.True(sink.Record(context.Background(), s.entry("stuck")))

	drained, err := sink.Flush(context.Background())
	s.Equal(0, drained)
	s.Require().Error(err)
	s.True(ierr.IsAuditSink(err))
	s.Equal(1, sink.Stats().Buffered)
}

func (s *HTTPSinkTestSuite) TestFullBufferDropsOldest() {
	sink := s.newSink(2)
	s.store.setFailing(true)

	s.True(sink.Record(context.Background(), s.entry("oldest")))
	s.True(sink.Record(context.Background(), s.entry("middle")))
	s.True(sink.Record(context.Background(), s.entry("newest")))

	stats := sink.Stats()
	s.Equal(1, stats.Dropped)
	s.Equal(2, stats.Buffered)

	s.store.setFailing(false)
	drained, err := sink.Flush(context.Background())
	s.Require().NoError(err)
	s.Equal(2, drained)

	received := s.store.entries()
	s.Require().Len(received, 2)
	s.Equal("middle", received[0].Action)
	s.Equal("newest", received[1].Action)
}
