package registry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dev-console/khala/internal/khala/registry"
)

func TestTouchOrInsertCreatesZeroValuedState(t *testing.T) {
	r := registry.New(4)
	s := r.TouchOrInsert("k1")
	require.Nil(t, s.LastPollAt)
	require.Equal(t, uint64(0), s.LastCursor)
	require.Equal(t, uint(0), s.SlowConsumerStrikes)
}

func TestTouchOrInsertReturnsSameStateForSameKey(t *testing.T) {
	r := registry.New(4)
	s1 := r.TouchOrInsert("k1")
	s1.LastCursor = 7
	s2 := r.TouchOrInsert("k1")
	require.Same(t, s1, s2)
	require.Equal(t, uint64(7), s2.LastCursor)
}

func TestCapacityNeverExceeded(t *testing.T) {
	r := registry.New(2)
	r.TouchOrInsert("a")
	r.TouchOrInsert("b")
	r.TouchOrInsert("c")
	require.LessOrEqual(t, r.Len(), 2)
}

func TestEvictionPrefersNeverPolledEntry(t *testing.T) {
	r := registry.New(2)
	sa := r.TouchOrInsert("a")
	now := time.Unix(100, 0)
	sa.LastPollAt = &now // "a" has been polled; "b" has not

	r.TouchOrInsert("b")
	require.Equal(t, 2, r.Len())

	// "c" should evict "b" (never polled) rather than "a" (polled at t=100).
	r.TouchOrInsert("c")
	require.Equal(t, 2, r.Len())

	sameA := r.TouchOrInsert("a")
	require.Same(t, sa, sameA)
}

func TestEvictionPrefersOldestTimestamp(t *testing.T) {
	r := registry.New(2)
	sa := r.TouchOrInsert("a")
	old := time.Unix(1, 0)
	sa.LastPollAt = &old

	sb := r.TouchOrInsert("b")
	newer := time.Unix(100, 0)
	sb.LastPollAt = &newer

	r.TouchOrInsert("c") // should evict "a" (oldest timestamp)
	require.Equal(t, 2, r.Len())

	sameB := r.TouchOrInsert("b")
	require.Same(t, sb, sameB)
}

func TestRemove(t *testing.T) {
	r := registry.New(4)
	r.TouchOrInsert("a")
	r.Remove("a")
	require.Equal(t, 0, r.Len())
}

func TestThrottleAcceptsFirstPoll(t *testing.T) {
	r := registry.New(4)
	res := r.Throttle("k", time.Unix(0, 0), 250, 0, 0, false, 1000, 5)
	require.Equal(t, registry.DecisionAccepted, res.Decision)
	require.Equal(t, uint(0), res.Strikes)
}

func TestThrottleRejectsWithinMinInterval(t *testing.T) {
	r := registry.New(4)
	r.Throttle("k", time.Unix(0, 0), 250, 0, 0, false, 1000, 5)

	res := r.Throttle("k", time.Unix(0, 0).Add(100*time.Millisecond), 250, 0, 0, false, 1000, 5)
	require.Equal(t, registry.DecisionThrottled, res.Decision)
	require.GreaterOrEqual(t, res.RetryAfterMs, int64(150))
}

func TestThrottleAccumulatesStrikesAndEvicts(t *testing.T) {
	r := registry.New(4)
	now := time.Unix(0, 0)

	res := r.Throttle("k", now, 1, 0, 7, true, 2, 2)
	require.Equal(t, registry.DecisionAccepted, res.Decision)
	require.Equal(t, uint(1), res.Strikes)

	now = now.Add(time.Millisecond)
	res = r.Throttle("k", now, 1, 0, 7, true, 2, 2)
	require.Equal(t, registry.DecisionEvicted, res.Decision)
	require.Equal(t, uint(2), res.Strikes)
	require.Equal(t, 0, r.Len())
}

func TestThrottleResetsStrikesWhenLagBelowThreshold(t *testing.T) {
	r := registry.New(4)
	now := time.Unix(0, 0)

	r.Throttle("k", now, 1, 0, 7, true, 2, 5)
	now = now.Add(time.Millisecond)
	res := r.Throttle("k", now, 1, 0, 1, true, 2, 5)
	require.Equal(t, registry.DecisionAccepted, res.Decision)
	require.Equal(t, uint(0), res.Strikes)
}

func TestAdvanceSilentlySkipsEvictedEntry(t *testing.T) {
	r := registry.New(4)
	r.Remove("gone") // never existed
	require.NotPanics(t, func() {
		r.Advance("gone", 42, time.Unix(0, 0))
	})
}

func TestAdvanceWritesBackCursor(t *testing.T) {
	r := registry.New(4)
	r.TouchOrInsert("k")
	r.Advance("k", 99, time.Unix(5, 0))
	s := r.TouchOrInsert("k")
	require.Equal(t, uint64(99), s.LastCursor)
	require.NotNil(t, s.LastPollAt)
}
