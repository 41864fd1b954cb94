package ring_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dev-console/khala/internal/khala/khalaerr"
	"github.com/dev-console/khala/internal/khala/ring"
)

func TestPublishAssignsGapFreeSequence(t *testing.T) {
	r := ring.New("run:R1:events", 8)
	now := time.Unix(0, 0)

	m1 := r.Publish("run.started", "p1", now)
	m2 := r.Publish("run.step", "p2", now.Add(time.Millisecond))
	require.Equal(t, uint64(1), m1.Sequence)
	require.Equal(t, uint64(2), m2.Sequence)
}

func TestPollReturnsMessagesAfterCursor(t *testing.T) {
	r := ring.New("run:R1:events", 8)
	now := time.Unix(0, 0)
	for i := 0; i < 5; i++ {
		r.Publish("k", i, now)
	}

	got, err := r.Poll(2, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, uint64(3), got[0].Sequence)
	require.Equal(t, uint64(5), got[2].Sequence)
}

func TestPollRespectsLimit(t *testing.T) {
	r := ring.New("t", 8)
	now := time.Unix(0, 0)
	for i := 0; i < 5; i++ {
		r.Publish("k", i, now)
	}

	got, err := r.Poll(0, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, uint64(1), got[0].Sequence)
	require.Equal(t, uint64(2), got[1].Sequence)
}

func TestPollAheadOfHeadIsEmptyNotError(t *testing.T) {
	r := ring.New("t", 8)
	r.Publish("k", 1, time.Unix(0, 0))

	got, err := r.Poll(99, 10)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestEvictionDropsOldestAndIncrementsCounter(t *testing.T) {
	r := ring.New("t", 3)
	now := time.Unix(0, 0)
	for i := 0; i < 5; i++ { // capacity 3: seq 1,2 evicted
		r.Publish("k", i, now)
	}

	w := r.Window()
	require.Equal(t, uint64(5), w.HeadSequence)
	require.Equal(t, uint64(3), w.OldestSequence)
	require.Equal(t, 3, w.QueueDepth)
	require.Equal(t, uint64(2), w.DroppedMessages)
}

func TestPollStaleCursorBelowWindowFloor(t *testing.T) {
	r := ring.New("t", 3)
	now := time.Unix(0, 0)
	for i := 0; i < 5; i++ {
		r.Publish("k", i, now)
	}

	_, err := r.Poll(0, 10)
	require.Error(t, err)
	var sc *khalaerr.StaleCursor
	require.ErrorAs(t, err, &sc)
	require.Equal(t, uint64(0), sc.RequestedCursor)
	require.Equal(t, uint64(2), sc.OldestAvailableCursor)
	require.Equal(t, uint64(5), sc.HeadCursor)
}

func TestPollAtExactFloorIsNotStale(t *testing.T) {
	r := ring.New("t", 3)
	now := time.Unix(0, 0)
	for i := 0; i < 5; i++ {
		r.Publish("k", i, now)
	}

	got, err := r.Poll(2, 10) // oldest available is seq 3, so after_seq=2 is exactly the floor
	require.NoError(t, err)
	require.Len(t, got, 3)
}

func TestWindowOnEmptyTopic(t *testing.T) {
	r := ring.New("t", 3)
	w := r.Window()
	require.Equal(t, uint64(0), w.HeadSequence)
	require.Equal(t, uint64(1), w.OldestSequence)
	require.Equal(t, 0, w.QueueDepth)
}

func TestRegistryCreatesRingsLazily(t *testing.T) {
	reg := ring.NewRegistry(4)
	r1 := reg.Get("a")
	r2 := reg.Get("a")
	require.Same(t, r1, r2)

	r1.Publish("k", 1, time.Unix(0, 0))
	w := reg.Get("a").Window()
	require.Equal(t, uint64(1), w.HeadSequence)
}

func TestRegistryWindowsAcrossTopics(t *testing.T) {
	reg := ring.NewRegistry(4)
	reg.Get("a").Publish("k", 1, time.Unix(0, 0))
	reg.Get("b").Publish("k", 1, time.Unix(0, 0))

	ws := reg.Windows(0)
	require.Len(t, ws, 2)
}

func TestRegistryWindowsOrderedByPublicationRecency(t *testing.T) {
	reg := ring.NewRegistry(4)
	base := time.Unix(0, 0)
	reg.Get("oldest").Publish("k", 1, base)
	reg.Get("middle").Publish("k", 1, base.Add(time.Minute))
	reg.Get("newest").Publish("k", 1, base.Add(2*time.Minute))

	ws := reg.Windows(0)
	require.Len(t, ws, 3)
	require.Equal(t, "newest", ws[0].Topic)
	require.Equal(t, "middle", ws[1].Topic)
	require.Equal(t, "oldest", ws[2].Topic)
}

func TestRegistryWindowsTruncatesToMostRecentlyPublished(t *testing.T) {
	reg := ring.NewRegistry(4)
	base := time.Unix(0, 0)
	reg.Get("oldest").Publish("k", 1, base)
	reg.Get("newest").Publish("k", 1, base.Add(time.Minute))

	// A later republish on "oldest" must re-sort it ahead of "newest".
	reg.Get("oldest").Publish("k", 2, base.Add(2*time.Minute))

	ws := reg.Windows(1)
	require.Len(t, ws, 1)
	require.Equal(t, "oldest", ws[0].Topic)
}
