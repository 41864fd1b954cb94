// Package metrics implements the Khala Metrics & Introspection Surface:
// lock-free counters plus a bounded FIFO of recent disconnect causes,
// additionally mirrored into Prometheus collectors for scrape-based
// observability.
//
// The bounded disconnect-cause FIFO follows the oldest-drops-first
// discipline of the teacher's RingBuffer[T] (_teacherref/ring_buffer.go),
// but is a plain string slice trimmed to its newest 32 entries, not a
// RingBuffer instance. The atomic counters plus optional prometheus.Registerer
// pairing is grounded on the retrieval pack's prometheus/client_golang
// usage: the core answers its own Snapshot() from plain atomics so it
// never depends on Prometheus to satisfy its contract, while a caller
// that does want scrape support gets it by passing a non-nil Registerer.
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const disconnectCauseCapacity = 32

// Snapshot is a coherent point-in-time read of the broker's counters.
type Snapshot struct {
	TotalPolls             uint64
	ThrottledPolls          uint64
	LimitedPolls            uint64
	SlowConsumerEvictions   uint64
	ServedMessages          uint64
	ActiveConsumers         int
	RecentDisconnectCauses  []string
}

// Metrics holds the broker's aggregate counters and the disconnect-cause
// FIFO, plus (optionally) the Prometheus collectors mirroring them.
type Metrics struct {
	totalPolls           atomic.Uint64
	throttledPolls       atomic.Uint64
	limitedPolls         atomic.Uint64
	slowConsumerEvictions atomic.Uint64
	servedMessages       atomic.Uint64

	activeConsumers func() int

	causesMu sync.Mutex
	causes   []string

	promTotalPolls     prometheus.Counter
	promThrottled      prometheus.Counter
	promLimited        prometheus.Counter
	promSlowEvictions  prometheus.Counter
	promServedMessages prometheus.Counter
	promActiveConsumers prometheus.GaugeFunc
}

// New builds Metrics. activeConsumers is polled for the current
// Consumer Registry size; reg may be nil, in which case no Prometheus
// collectors are registered.
func New(activeConsumers func() int, reg prometheus.Registerer) *Metrics {
	m := &Metrics{activeConsumers: activeConsumers}

	m.promTotalPolls = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "khala_total_polls", Help: "Total number of poll calls served successfully.",
	})
	m.promThrottled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "khala_throttled_polls", Help: "Polls rejected by the poll-interval guard.",
	})
	m.promLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "khala_limited_polls", Help: "Polls whose requested limit was capped to poll_max_limit.",
	})
	m.promSlowEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "khala_slow_consumer_evictions", Help: "Consumers evicted for exceeding the lag strike threshold.",
	})
	m.promServedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "khala_served_messages", Help: "Total messages returned across all polls.",
	})
	m.promActiveConsumers = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "khala_active_consumers", Help: "Current number of tracked consumer subscriptions.",
	}, func() float64 { return float64(m.activeConsumers()) })

	if reg != nil {
		reg.MustRegister(
			m.promTotalPolls,
			m.promThrottled,
			m.promLimited,
			m.promSlowEvictions,
			m.promServedMessages,
			m.promActiveConsumers,
		)
	}

	return m
}

func (m *Metrics) RecordTotalPoll() {
	m.totalPolls.Add(1)
	m.promTotalPolls.Inc()
}

func (m *Metrics) RecordThrottled() {
	m.throttledPolls.Add(1)
	m.promThrottled.Inc()
}

func (m *Metrics) RecordLimited() {
	m.limitedPolls.Add(1)
	m.promLimited.Inc()
}

func (m *Metrics) RecordSlowConsumerEviction() {
	m.slowConsumerEvictions.Add(1)
	m.promSlowEvictions.Inc()
}

func (m *Metrics) RecordServedMessages(n uint64) {
	if n == 0 {
		return
	}
	m.servedMessages.Add(n)
	m.promServedMessages.Add(float64(n))
}

// RecordDisconnectCause pushes a diagnostic label onto the bounded FIFO,
// dropping the oldest entry if at capacity.
func (m *Metrics) RecordDisconnectCause(cause string) {
	m.causesMu.Lock()
	defer m.causesMu.Unlock()
	m.causes = append(m.causes, cause)
	if len(m.causes) > disconnectCauseCapacity {
		m.causes = m.causes[len(m.causes)-disconnectCauseCapacity:]
	}
}

// Snapshot returns a coherent read of all counters and a copy of the
// disconnect-cause FIFO.
func (m *Metrics) Snapshot() Snapshot {
	m.causesMu.Lock()
	causes := make([]string, len(m.causes))
	copy(causes, m.causes)
	m.causesMu.Unlock()

	return Snapshot{
		TotalPolls:             m.totalPolls.Load(),
		ThrottledPolls:         m.throttledPolls.Load(),
		LimitedPolls:           m.limitedPolls.Load(),
		SlowConsumerEvictions:  m.slowConsumerEvictions.Load(),
		ServedMessages:         m.servedMessages.Load(),
		ActiveConsumers:        m.activeConsumers(),
		RecentDisconnectCauses: causes,
	}
}
