package testutil

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/refilltrack/refilltrack/internal/models"
)

// MemoryNotifier is an in-memory notifier with per-key failure injection.
type MemoryNotifier struct {
	mu      sync.Mutex
	pending map[string]models.Notification

	// Call log, in order
	Calls []string

	failSchedule map[string]error
	failCancel   map[string]error
	failList     error
}

// NewMemoryNotifier creates an empty notifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{
		pending:      make(map[string]models.Notification),
		failSchedule: make(map[string]error),
		failCancel:   make(map[string]error),
	}
}

// FailSchedule makes Schedule fail for key.
func (m *MemoryNotifier) FailSchedule(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSchedule[key] = err
}

// FailCancel makes Cancel fail whenever keys include key.
func (m *MemoryNotifier) FailCancel(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCancel[key] = err
}

// FailList makes ListPending fail.
func (m *MemoryNotifier) FailList(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failList = err
}

// Schedule replaces any pending notification with the same key.
func (m *MemoryNotifier) Schedule(_ context.Context, n models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, "schedule "+n.Key)
	if err := m.failSchedule[n.Key]; err != nil {
		return err
	}
	m.pending[n.Key] = n
	return nil
}

// Cancel removes keys.
func (m *MemoryNotifier) Cancel(_ context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		m.Calls = append(m.Calls, "cancel "+key)
		if err := m.failCancel[key]; err != nil {
			return fmt.Errorf("cancel %s: %w", key, err)
		}
	}
	for _, key := range keys {
		delete(m.pending, key)
	}
	return nil
}

// ListPending returns the pending keys, sorted.
func (m *MemoryNotifier) ListPending(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failList != nil {
		return nil, m.failList
	}
	keys := make([]string, 0, len(m.pending))
	for k := range m.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Get returns the pending notification for key.
func (m *MemoryNotifier) Get(key string) (models.Notification, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.pending[key]
	return n, ok
}

// Has reports whether key is pending.
func (m *MemoryNotifier) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Called reports whether call (e.g. "cancel time-reminder") was made.
func (m *MemoryNotifier) Called(call string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Contains(m.Calls, call)
}

// ResetCalls clears the call log.
func (m *MemoryNotifier) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}
