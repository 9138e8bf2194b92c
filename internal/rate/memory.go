package rate

import (
	"context"
	"sync"
	"time"
)

// MemoryCounter is an in-process Counter for single-node deployments and
// tests. All state lives behind one mutex; callers needing horizontal scale
// use RedisCounter instead.
type MemoryCounter struct {
	mu       sync.Mutex
	events   map[string][]time.Time
	failures map[string][]time.Time
	clock    func() time.Time
}

// NewMemoryCounter creates a memory-backed Counter. A nil clock defaults to
// time.Now.
func NewMemoryCounter(clock func() time.Time) *MemoryCounter {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryCounter{
		events:   make(map[string][]time.Time),
		failures: make(map[string][]time.Time),
		clock:    clock,
	}
}

// Check is a method on MemoryCounter implementing part of the Counter port.
func (m *MemoryCounter) Check(ctx context.Context, scope, identifier string, quotas ...Quota) (Result, error) {
	now := m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Evaluate every quota before recording anything, so a blocked check
	// leaves no trace in any window.
	for _, q := range quotas {
		key := eventKey(scope, identifier, q.Window)
		kept := trimOld(m.events[key], now.Add(-q.Window))
		m.events[key] = kept

		if len(kept) >= q.Limit {
			retry := kept[0].Add(q.Window).Sub(now)
			if retry < 0 {
				retry = 0
			}
			return Result{Allowed: false, RetryAfter: retry}, nil
		}
	}

	for _, q := range quotas {
		key := eventKey(scope, identifier, q.Window)
		m.events[key] = append(m.events[key], now)
	}

	return Result{Allowed: true}, nil
}

// CheckProgressive is a method on MemoryCounter implementing part of the Counter port.
func (m *MemoryCounter) CheckProgressive(ctx context.Context, scope, identifier string, base, max time.Duration) (Result, error) {
	now := m.clock()
	key := failureKey(scope, identifier)

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := trimOld(m.failures[key], now.Add(-failureRetention))
	m.failures[key] = kept

	if len(kept) == 0 {
		return Result{Allowed: true}, nil
	}

	delay := progressiveDelay(len(kept), base, max)
	nextAllowed := kept[len(kept)-1].Add(delay)
	if now.Before(nextAllowed) {
		return Result{Allowed: false, RetryAfter: nextAllowed.Sub(now)}, nil
	}

	return Result{Allowed: true}, nil
}

// RecordFailure is a method on MemoryCounter implementing part of the Counter port.
func (m *MemoryCounter) RecordFailure(ctx context.Context, scope, identifier string) error {
	now := m.clock()
	key := failureKey(scope, identifier)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures[key] = append(trimOld(m.failures[key], now.Add(-failureRetention)), now)
	return nil
}

// Reset is a method on MemoryCounter implementing part of the Counter port.
func (m *MemoryCounter) Reset(ctx context.Context, scope, identifier string, quotas ...Quota) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.failures, failureKey(scope, identifier))
	for _, q := range quotas {
		delete(m.events, eventKey(scope, identifier, q.Window))
	}
	return nil
}

// Prune is a method on MemoryCounter implementing part of the Counter port.
func (m *MemoryCounter) Prune(ctx context.Context, olderThan time.Duration) error {
	cutoff := m.clock().Add(-olderThan)

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, ts := range m.events {
		kept := trimOld(ts, cutoff)
		if len(kept) == 0 {
			delete(m.events, key)
			continue
		}
		m.events[key] = kept
	}
	for key, ts := range m.failures {
		kept := trimOld(ts, cutoff)
		if len(kept) == 0 {
			delete(m.failures, key)
			continue
		}
		m.failures[key] = kept
	}
	return nil
}

// trimOld drops timestamps at or before cutoff. Slices are append-ordered,
// so the survivors are a suffix.
func trimOld(ts []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(ts) && !ts[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return ts
	}
	return append([]time.Time(nil), ts[idx:]...)
}
