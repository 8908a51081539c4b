// Package notify holds the process-wide notification state: per-conversation
// unread counters, the server-pushed aggregate total and the pending
// connection-request count. The store is an injectable container; all
// mutation funnels through its operations, never direct field access.
package notify

import "sync"

// Store aggregates notification counters. All methods are thread-safe and
// pure state transitions - no I/O ever happens here.
type Store struct {
	mu        sync.RWMutex
	counters  map[string]int
	total     int
	pending   int
	listeners []func()
}

// NewStore creates an empty notification store.
func NewStore() *Store {
	return &Store{
		counters: make(map[string]int),
	}
}

// Subscribe registers a callback fired after every mutating operation.
// Used by projections (the conversation list) to re-render. Callbacks run
// synchronously on the mutating goroutine and must not call back into the
// store's mutating operations.
func (s *Store) Subscribe(fn func()) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) notify() {
	s.mu.RLock()
	listeners := make([]func(), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

// SetAllCounters replaces every per-conversation counter with the given
// server-authoritative values. Called once on session start and after
// reconnects; counters are reconciled, not incrementally trusted.
func (s *Store) SetAllCounters(counts map[string]int) {
	s.mu.Lock()
	s.counters = make(map[string]int, len(counts))
	for id, n := range counts {
		if n < 0 {
			n = 0
		}
		s.counters[id] = n
	}
	s.mu.Unlock()
	s.notify()
}

// SetCounter sets one conversation's unread count. Negative values clamp
// to zero.
func (s *Store) SetCounter(conversationID string, count int) {
	if count < 0 {
		count = 0
	}
	s.mu.Lock()
	s.counters[conversationID] = count
	s.mu.Unlock()
	s.notify()
}

// ClearCounter resets one conversation's unread count to zero. Used when
// the viewer opens that conversation.
func (s *Store) ClearCounter(conversationID string) {
	s.mu.Lock()
	s.counters[conversationID] = 0
	s.mu.Unlock()
	s.notify()
}

// SetAggregateTotal sets the server-pushed total unread count. The store
// never recomputes this from the per-conversation map, and vice versa:
// the two representations have different sources of truth and are allowed
// to disagree between reconciliations.
func (s *Store) SetAggregateTotal(count int) {
	if count < 0 {
		count = 0
	}
	s.mu.Lock()
	s.total = count
	s.mu.Unlock()
	s.notify()
}

// IncrementPending bumps the pending connection-request count.
func (s *Store) IncrementPending() {
	s.mu.Lock()
	s.pending++
	s.mu.Unlock()
	s.notify()
}

// DecrementPending lowers the pending connection-request count, never
// below zero.
func (s *Store) DecrementPending() {
	s.mu.Lock()
	if s.pending > 0 {
		s.pending--
	}
	s.mu.Unlock()
	s.notify()
}

// SetPending sets the pending connection-request count to an absolute
// value pushed by the server.
func (s *Store) SetPending(count int) {
	if count < 0 {
		count = 0
	}
	s.mu.Lock()
	s.pending = count
	s.mu.Unlock()
	s.notify()
}

// Counter returns one conversation's unread count (zero if unknown).
func (s *Store) Counter(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[conversationID]
}

// Counters returns a copy of the per-conversation counter map.
func (s *Store) Counters() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.counters))
	for id, n := range s.counters {
		out[id] = n
	}
	return out
}

// TotalUnread returns the server-pushed aggregate total.
func (s *Store) TotalUnread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// SumCounters recomputes the aggregate locally from the per-conversation
// map, for callers that prefer not to trust the pushed total.
func (s *Store) SumCounters() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := 0
	for _, n := range s.counters {
		sum += n
	}
	return sum
}

// PendingRequests returns the pending connection-request count.
func (s *Store) PendingRequests() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending
}
