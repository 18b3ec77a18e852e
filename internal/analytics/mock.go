package analytics

import (
	"context"
	"sync"
)

// MockAnalytics collects events in memory for tests and for deployments
// without a ClickHouse backend.
type MockAnalytics struct {
	mu     sync.Mutex
	Events []EventRecord
}

// NewMockAnalytics returns an empty collector.
func NewMockAnalytics() *MockAnalytics {
	return &MockAnalytics{}
}

// RecordEvent appends the event.
func (m *MockAnalytics) RecordEvent(_ context.Context, e EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, e)
	return nil
}

// EventsOfType returns recorded events matching the type.
func (m *MockAnalytics) EventsOfType(eventType string) []EventRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EventRecord
	for _, e := range m.Events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
