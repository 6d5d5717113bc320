package testutil

import (
	"context"
	"sync"

	"github.com/helioscale/helioscale/internal/audit"
)

// InMemorySink implements audit.Sink for tests, keeping every recorded
// entry in order.
type InMemorySink struct {
	mu       sync.Mutex
	entries  []audit.Entry
	disabled bool
}

var _ audit.Sink = (*InMemorySink)(nil)

func NewInMemorySink() *InMemorySink {
	return &InMemorySink{}
}

// Disable makes Record return false, mimicking an unconfigured sink.
func (s *InMemorySink) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled = true
}

func (s *InMemorySink) Record(_ context.Context, entry audit.Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled {
		return false
	}
	s.entries = append(s.entries, entry)
	return true
}

func (s *InMemorySink) Flush(_ context.Context) (int, error) {
	return 0, nil
}

func (s *InMemorySink) Stats() audit.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return audit.Stats{Recorded: len(s.entries)}
}

// Entries returns a snapshot of recorded entries.
func (s *InMemorySink) Entries() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]audit.Entry, len(s.entries))
	copy(entries, s.entries)
	return entries
}

// EntriesByAction filters recorded entries by action.
func (s *InMemorySink) EntriesByAction(action string) []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []audit.Entry
	for _, entry := range s.entries {
		if entry.Action == action {
			result = append(result, entry)
		}
	}
	return result
}

// Clear drops all recorded entries.
func (s *InMemorySink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}
