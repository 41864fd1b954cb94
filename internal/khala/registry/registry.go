// Package registry implements the Khala Consumer Registry: a bounded map
// of Consumer Key to Consumer State, evicting by least-recent
// last_poll_at on insert pressure.
//
// Grounded on the teacher's ClientRegistry (_teacherref/client_registry.go):
// same "single mutex guarding a map, touch-then-evict" shape. Unlike the
// teacher, eviction order here is driven by the consumer state's
// last_poll_at field rather than an access-order slice, because entries
// with no last_poll_at (never successfully polled) must sort before any
// timestamped entry regardless of insertion order — a plain LRU queue
// can't express that tie-break, so eviction scans for the minimum
// instead. The registry is small and capacity-bounded, so this is O(n)
// per eviction, not a concern at the scale this module targets.
package registry

import (
	"sync"
	"time"
)

// State is the mutable per-subscription state the Poll Controller owns.
type State struct {
	LastPollAt          *time.Time
	LastCursor          uint64
	SlowConsumerStrikes uint
}

// Registry is the bounded, capacity-enforced map of Consumer Key to
// State.
type Registry struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*State
}

// New creates an empty Registry bounded to capacity entries.
func New(capacity int) *Registry {
	if capacity < 1 {
		capacity = 1
	}
	return &Registry{
		capacity: capacity,
		entries:  make(map[string]*State),
	}
}

// TouchOrInsert returns the State for key, creating a fresh zero-valued
// entry (evicting the least-recently-polled entry first, if at capacity)
// when key is not already present.
func (r *Registry) TouchOrInsert(key string) *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.touchOrInsertLocked(key)
}

// touchOrInsertLocked is the insert-or-fetch-with-eviction step shared by
// TouchOrInsert and Throttle. Must be called with r.mu held.
func (r *Registry) touchOrInsertLocked(key string) *State {
	if s, ok := r.entries[key]; ok {
		return s
	}

	if len(r.entries) >= r.capacity {
		r.evictOldestLocked()
	}

	s := &State{}
	r.entries[key] = s
	return s
}

// Decision is the outcome of a Throttle call.
type Decision int

const (
	DecisionAccepted Decision = iota
	DecisionThrottled
	DecisionEvicted
)

// ThrottleResult is what the Poll Controller needs back from the
// combined throttle/strike critical section.
type ThrottleResult struct {
	Decision     Decision
	RetryAfterMs int64 // only meaningful when Decision == DecisionThrottled
	Strikes      uint
	MaxStrikes   uint
}

// Throttle runs one poll's entire registry-side admission decision
// (insert-or-fetch, poll-interval check, lag strike accounting, and
// eviction) as a single critical section, matching the "throttle/strike
// decision" critical section the concurrency model requires.
// jitterMs is folded into a throttled call's RetryAfterMs exactly as the
// poll controller's own reconnect backoff used the same jitter value.
func (r *Registry) Throttle(key string, now time.Time, minIntervalMs, jitterMs int64, lag uint64, hasLag bool, lagThreshold uint64, maxStrikes uint) ThrottleResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.touchOrInsertLocked(key)

	if s.LastPollAt != nil {
		elapsed := now.Sub(*s.LastPollAt)
		minInterval := time.Duration(minIntervalMs) * time.Millisecond
		if elapsed < minInterval {
			touched := now
			s.LastPollAt = &touched
			remaining := minInterval - elapsed
			return ThrottleResult{
				Decision:     DecisionThrottled,
				RetryAfterMs: remaining.Milliseconds() + jitterMs,
				Strikes:      s.SlowConsumerStrikes,
				MaxStrikes:   maxStrikes,
			}
		}
	}

	if hasLag && lag > lagThreshold {
		s.SlowConsumerStrikes++
	} else {
		s.SlowConsumerStrikes = 0
	}

	if s.SlowConsumerStrikes >= maxStrikes {
		strikes := s.SlowConsumerStrikes
		delete(r.entries, key)
		return ThrottleResult{Decision: DecisionEvicted, Strikes: strikes, MaxStrikes: maxStrikes}
	}

	touched := now
	s.LastPollAt = &touched
	return ThrottleResult{Decision: DecisionAccepted, Strikes: s.SlowConsumerStrikes, MaxStrikes: maxStrikes}
}

// Advance writes back the cursor after a successful fetch. If key was
// evicted concurrently (by LRU pressure) between the throttle decision
// and this call, the write-back is silently skipped: the poll response
// already computed is still correct, and the next poll from the same
// key simply re-inserts a fresh entry.
func (r *Registry) Advance(key string, nextCursor uint64, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.entries[key]
	if !ok {
		return
	}
	s.LastCursor = nextCursor
	touched := now
	s.LastPollAt = &touched
}

// Remove deletes key from the registry, if present.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
}

// Len returns the current number of registered entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// evictOldestLocked removes the entry whose LastPollAt is smallest,
// with a nil LastPollAt sorting before any timestamp. Must be called
// with r.mu held.
func (r *Registry) evictOldestLocked() {
	var victim string
	var victimAt *time.Time
	first := true

	for key, s := range r.entries {
		if first {
			victim, victimAt, first = key, s.LastPollAt, false
			continue
		}
		if less(s.LastPollAt, victimAt) {
			victim, victimAt = key, s.LastPollAt
		}
	}
	if !first {
		delete(r.entries, victim)
	}
}

// less reports whether a sorts before b under the registry's eviction
// order: nil (never polled) before any timestamp, otherwise earlier
// timestamp before later.
func less(a, b *time.Time) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return a.Before(*b)
}
