// Package ring implements the Khala Topic Ring: a per-topic bounded FIFO
// of sequenced messages, tracking head, oldest retained sequence, queue
// depth, and a cumulative drop counter.
//
// Grounded on the teacher's internal/buffers.RingBuffer[T] (see
// _teacherref/ring_buffer.go and DESIGN.md): same head/oldest bookkeeping
// under one RWMutex, specialized to Message instead of kept generic (this
// module never rings anything but Message).
package ring

import (
	"sync"
	"time"

	"github.com/dev-console/khala/internal/khala/khalaerr"
)

// Message is a single published event: a topic-scoped, strictly
// monotonic, gap-free sequence number plus an opaque payload.
type Message struct {
	Topic       string
	Sequence    uint64
	Kind        string
	Payload     any
	PublishedAt time.Time
}

// Window is a point-in-time snapshot of a topic's retention state.
type Window struct {
	Topic           string
	HeadSequence    uint64 // 0 if the topic has never had a message
	OldestSequence  uint64 // head+1 if empty
	QueueDepth      int
	DroppedMessages uint64
}

// Ring is a fixed-capacity circular buffer of Messages for one topic.
// Publishers never block: at capacity, the oldest retained message is
// evicted and dropped_messages is incremented.
type Ring struct {
	mu sync.RWMutex

	topic    string
	capacity int

	entries []Message // logical slots, unordered ring storage
	head    int        // index where the next write goes

	headSequence    uint64
	oldestSequence  uint64 // only meaningful once headSequence > 0
	droppedMessages uint64
	lastPublishedAt time.Time // zero if the topic has never had a message
}

// New creates an empty Ring for topic with the given retention capacity.
// capacity must be >= 1.
func New(topic string, capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		topic:    topic,
		capacity: capacity,
		entries:  make([]Message, 0, capacity),
	}
}

// Publish appends a message at headSequence+1, evicting the oldest
// retained message if the ring is at capacity. Sequence numbers are never
// reused, even across drops.
func (r *Ring) Publish(kind string, payload any, publishedAt time.Time) Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.headSequence++
	r.lastPublishedAt = publishedAt
	msg := Message{
		Topic:       r.topic,
		Sequence:    r.headSequence,
		Kind:        kind,
		Payload:     payload,
		PublishedAt: publishedAt,
	}

	if len(r.entries) < r.capacity {
		r.entries = append(r.entries, msg)
		if len(r.entries) == 1 {
			r.oldestSequence = msg.Sequence
		}
	} else {
		r.entries[r.head] = msg
		r.droppedMessages++
		r.oldestSequence++
	}
	r.head = (r.head + 1) % r.capacity

	return msg
}

// Poll returns messages with sequence strictly greater than afterSeq, in
// ascending order, at most limit of them. Returns *khalaerr.StaleCursor if
// afterSeq has fallen below the retained window floor on a non-empty
// topic. afterSeq >= head yields an empty (non-error) result.
func (r *Ring) Poll(afterSeq uint64, limit int) ([]Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 1
	}

	if len(r.entries) == 0 {
		return nil, nil
	}

	// Stale iff afterSeq+1 < oldestSequence, i.e. the caller's next wanted
	// sequence has already fallen out of the retained window.
	if afterSeq+1 < r.oldestSequence {
		return nil, &khalaerr.StaleCursor{
			Topic:                 r.topic,
			RequestedCursor:       afterSeq,
			OldestAvailableCursor: r.oldestSequence - 1,
			HeadCursor:            r.headSequence,
		}
	}

	if afterSeq >= r.headSequence {
		return nil, nil
	}

	// The logical start position (sequence number) to resume from.
	startSeq := afterSeq + 1
	if startSeq < r.oldestSequence {
		startSeq = r.oldestSequence
	}

	available := int(r.headSequence - startSeq + 1)
	if available > limit {
		available = limit
	}

	startIdx := r.indexForSequence(startSeq)
	out := make([]Message, 0, available)
	for i := 0; i < available; i++ {
		idx := (startIdx + i) % len(r.entries)
		out = append(out, r.entries[idx])
	}
	return out, nil
}

// LastPublishedAt returns the timestamp of the most recent Publish call,
// or the zero Time if the topic has never had a message. Used by
// Registry.Windows to order topics by publication recency.
func (r *Ring) LastPublishedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastPublishedAt
}

// Window returns a snapshot of the ring's retention state.
func (r *Ring) Window() Window {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.windowLocked()
}

func (r *Ring) windowLocked() Window {
	w := Window{
		Topic:           r.topic,
		HeadSequence:    r.headSequence,
		DroppedMessages: r.droppedMessages,
	}
	if len(r.entries) == 0 {
		w.OldestSequence = r.headSequence + 1
		w.QueueDepth = 0
	} else {
		w.OldestSequence = r.oldestSequence
		w.QueueDepth = len(r.entries)
	}
	return w
}

// indexForSequence converts a retained sequence number to its slot index.
// Must be called with at least a read lock held.
func (r *Ring) indexForSequence(seq uint64) int {
	if len(r.entries) < r.capacity {
		// Not yet wrapped: entries[0] holds oldestSequence.
		return int(seq - r.oldestSequence)
	}
	offset := int(seq - r.oldestSequence)
	return (r.head + offset) % r.capacity
}
