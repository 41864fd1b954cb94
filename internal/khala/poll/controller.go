// Package poll implements the Khala Poll Controller: the per-call state
// machine combining authorization, throttling, lag-based strike
// accumulation, fetch, cursor advancement, and response assembly.
//
// This is the module's most invariant-dense component; the step
// ordering below is contractual and must not be reordered.
package poll

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/dev-console/khala/internal/khala/khalaerr"
	"github.com/dev-console/khala/internal/khala/metrics"
	"github.com/dev-console/khala/internal/khala/registry"
	"github.com/dev-console/khala/internal/khala/ring"
	"github.com/dev-console/khala/internal/khala/topicclass"
	"github.com/dev-console/khala/internal/khalaconfig"
	"github.com/dev-console/khala/internal/khalalog"
)

// Authorizer delegates topic-access authorization to an external
// collaborator (token validation, scope checks).
type Authorizer interface {
	AuthorizeTopic(ctx context.Context, p Principal, topic string) error
}

// WorkerOwnershipStore answers whether a principal owns a referenced
// worker, consulted only for worker-lifecycle topics.
type WorkerOwnershipStore interface {
	OwnsWorker(ctx context.Context, p Principal, workerID string) (bool, error)
}

// PollEnvelope is the response assembled on a successful poll. Pointer
// fields are nil iff the topic has never had any messages.
type PollEnvelope struct {
	Topic  string
	Driver string

	Messages []ring.Message

	OldestAvailableCursor *uint64
	HeadCursor            *uint64
	QueueDepth            *int
	DroppedMessages       *uint64

	NextCursor     uint64
	ReplayComplete bool

	LimitApplied int
	LimitCapped  bool

	ConsumerLag *uint64

	SlowConsumerStrikes    uint
	SlowConsumerMaxStrikes uint

	RecommendedReconnectBackoffMs int64
}

// Controller runs the poll state machine against the shared Topic Ring
// registry, Consumer Registry, and Metrics surface.
type Controller struct {
	rings     *ring.Registry
	consumers *registry.Registry
	metrics   *metrics.Metrics
	cfg       khalaconfig.Config
	authz     Authorizer
	owners    WorkerOwnershipStore
	logger    khalalog.Logger
}

// New builds a Controller wired to its collaborators.
func New(rings *ring.Registry, consumers *registry.Registry, m *metrics.Metrics, cfg khalaconfig.Config, authz Authorizer, owners WorkerOwnershipStore, logger khalalog.Logger) *Controller {
	if logger == nil {
		logger = khalalog.Nop()
	}
	return &Controller{
		rings:     rings,
		consumers: consumers,
		metrics:   m,
		cfg:       cfg,
		authz:     authz,
		owners:    owners,
		logger:    logger,
	}
}

// Poll runs the full poll lifecycle: validate, authorize, normalize
// limit, snapshot window, compute lag, compute jitter, throttle/strike,
// fetch, advance cursor, compute replay_complete, record metrics,
// assemble the envelope.
func (c *Controller) Poll(ctx context.Context, p Principal, topic string, afterSeq uint64, requestedLimit int, now time.Time) (PollEnvelope, error) {
	// 1. Validation.
	if topic == "" {
		return PollEnvelope{}, &khalaerr.InvalidRequest{Reason: "topic must not be empty"}
	}

	// 2. Authorization.
	if err := c.authz.AuthorizeTopic(ctx, p, topic); err != nil {
		return PollEnvelope{}, err
	}
	if topicclass.Classify(topic) == topicclass.ClassWorkerLifecycle {
		workerID := workerIDFromTopic(topic)
		owns, err := c.owners.OwnsWorker(ctx, p, workerID)
		if err != nil {
			return PollEnvelope{}, err
		}
		if !owns {
			return PollEnvelope{}, &khalaerr.ForbiddenTopic{Topic: topic, ReasonCodeValue: "owner_mismatch"}
		}
	}
	if err := ctx.Err(); err != nil {
		return PollEnvelope{}, err
	}

	// 3. Limit normalization.
	limitApplied := requestedLimit
	if limitApplied < 1 {
		limitApplied = 1
	}
	limitCapped := false
	if requestedLimit > c.cfg.PollMaxLimit {
		limitCapped = true
		c.metrics.RecordLimited()
	}
	if limitApplied > c.cfg.PollMaxLimit {
		limitApplied = c.cfg.PollMaxLimit
	}

	// 4. Snapshot topic window.
	r := c.rings.Get(topic)
	window := r.Window()
	hasHistory := window.HeadSequence > 0

	var oldestAvailable, headCursor *uint64
	var queueDepth *int
	var dropped *uint64
	if hasHistory {
		oa := window.OldestSequence - 1
		oldestAvailable = &oa
		hc := window.HeadSequence
		headCursor = &hc
		qd := window.QueueDepth
		queueDepth = &qd
		dm := window.DroppedMessages
		dropped = &dm
	}

	// 5. Compute consumer lag (for strike logic; reported externally as
	// nil when the topic has no history).
	var lagForStrike uint64
	if hasHistory && window.HeadSequence > afterSeq {
		lagForStrike = window.HeadSequence - afterSeq
	}

	// 6. Compute deterministic reconnect jitter.
	consumerKey := p.ConsumerKey(topic)
	jitterInput := consumerKey + "|" + strconv.FormatUint(afterSeq, 10)
	jitter := int64(xxhash.Sum64String(jitterInput) % uint64(c.cfg.ReconnectJitterMs+1))
	backoffMs := c.cfg.ReconnectBaseBackoffMs + jitter

	// 7. Registry throttle/strike, under one critical section.
	result := c.consumers.Throttle(
		consumerKey, now,
		c.cfg.PollMinIntervalMs, jitter,
		lagForStrike, hasHistory,
		c.cfg.SlowConsumerLagThreshold, c.cfg.SlowConsumerMaxStrikes,
	)
	switch result.Decision {
	case registry.DecisionThrottled:
		c.metrics.RecordThrottled()
		c.metrics.RecordDisconnectCause("rate_limited")
		return PollEnvelope{}, &khalaerr.PollRateLimited{RetryAfterMs: result.RetryAfterMs}
	case registry.DecisionEvicted:
		c.metrics.RecordSlowConsumerEviction()
		c.metrics.RecordDisconnectCause("slow_consumer_evicted")
		return PollEnvelope{}, &khalaerr.SlowConsumerEvicted{
			Topic:             topic,
			Lag:               lagForStrike,
			LagThreshold:      c.cfg.SlowConsumerLagThreshold,
			Strikes:           result.Strikes,
			MaxStrikes:        result.MaxStrikes,
			SuggestedAfterSeq: oldestAvailable,
		}
	}

	// 8. Fetch.
	messages, err := r.Poll(afterSeq, limitApplied)
	if err != nil {
		return PollEnvelope{}, err
	}

	// 9. Advance cursor.
	nextCursor := afterSeq
	if len(messages) > 0 {
		nextCursor = messages[len(messages)-1].Sequence
	}
	c.consumers.Advance(consumerKey, nextCursor, now)

	// 10. Compute replay_complete.
	replayComplete := !hasHistory || nextCursor >= window.HeadSequence

	// 11. Metrics.
	c.metrics.RecordTotalPoll()
	c.metrics.RecordServedMessages(uint64(len(messages)))

	// 12. Assemble and return.
	envelope := PollEnvelope{
		Topic:                         topic,
		Driver:                        "khala-ring",
		Messages:                      messages,
		OldestAvailableCursor:         oldestAvailable,
		HeadCursor:                    headCursor,
		QueueDepth:                    queueDepth,
		DroppedMessages:               dropped,
		NextCursor:                    nextCursor,
		ReplayComplete:                replayComplete,
		LimitApplied:                  limitApplied,
		LimitCapped:                   limitCapped,
		SlowConsumerStrikes:           result.Strikes,
		SlowConsumerMaxStrikes:        result.MaxStrikes,
		RecommendedReconnectBackoffMs: backoffMs,
	}
	if hasHistory {
		lag := lagForStrike
		envelope.ConsumerLag = &lag
	}
	return envelope, nil
}

// workerIDFromTopic extracts <id> from a "worker:<id>:lifecycle" topic.
func workerIDFromTopic(topic string) string {
	parts := strings.SplitN(topic, ":", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
