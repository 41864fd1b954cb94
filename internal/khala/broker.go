// Package khala is the Khala broker: the runtime event-fanout and
// replay substrate gluing the Topic Ring, Publish Guard, Consumer
// Registry, Poll Controller, and Metrics surface into one external API.
package khala

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dev-console/khala/internal/khala/guard"
	"github.com/dev-console/khala/internal/khala/khalaerr"
	"github.com/dev-console/khala/internal/khala/metrics"
	"github.com/dev-console/khala/internal/khala/poll"
	"github.com/dev-console/khala/internal/khala/registry"
	"github.com/dev-console/khala/internal/khala/ring"
	"github.com/dev-console/khala/internal/khala/topicclass"
	"github.com/dev-console/khala/internal/khalaconfig"
	"github.com/dev-console/khala/internal/khalalog"
)

// Principal identifies the caller behind a poll; re-exported so callers
// never import internal/khala/poll directly.
type Principal = poll.Principal

// Authorizer and WorkerOwnershipStore are the external capability
// objects the core is generic over (§6).
type Authorizer = poll.Authorizer
type WorkerOwnershipStore = poll.WorkerOwnershipStore

// PollEnvelope is the response assembled on a successful poll.
type PollEnvelope = poll.PollEnvelope

// Hook is an opaque passthrough value a transport layer registers and
// later reads back; the core stores the list but never interprets it.
type Hook struct {
	ID      uuid.UUID
	Name    string
	Payload any
}

// IntrospectionSnapshot bundles the three read-only views a transport
// layer typically wants in one call: hooks, metrics, and topic windows.
type IntrospectionSnapshot struct {
	Hooks        []Hook
	Metrics      metrics.Snapshot
	TopicWindows []ring.Window
}

// Broker is the single exported entry point. It owns every Topic Ring,
// the Consumer Registry, and the Metrics Snapshot; external
// collaborators only ever hold references via these methods.
type Broker struct {
	cfg khalaconfig.Config

	rings     *ring.Registry
	consumers *registry.Registry
	guard     *guard.Guard
	metrics   *metrics.Metrics
	poller    *poll.Controller
	logger    khalalog.Logger

	hooksMu sync.Mutex
	hooks   []Hook
}

// New wires every component together from cfg and the injected external
// collaborators.
func New(cfg khalaconfig.Config, authz Authorizer, owners WorkerOwnershipStore, logger khalalog.Logger, reg prometheus.Registerer) *Broker {
	if logger == nil {
		logger = khalalog.Nop()
	}

	rings := ring.NewRegistry(cfg.FanoutQueueCapacity)
	consumers := registry.New(cfg.ConsumerRegistryCapacity)

	classLimits := make(map[topicclass.Class]guard.ClassLimits, len(cfg.ClassLimits))
	for class, lim := range cfg.ClassLimits {
		classLimits[class] = guard.ClassLimits{
			PublishRatePerSecond: lim.PublishRatePerSecond,
			MaxPayloadBytes:      lim.MaxPayloadBytes,
		}
	}
	g := guard.New(classLimits)

	m := metrics.New(consumers.Len, reg)
	poller := poll.New(rings, consumers, m, cfg, authz, owners, logger)

	return &Broker{
		cfg:       cfg,
		rings:     rings,
		consumers: consumers,
		guard:     g,
		metrics:   m,
		poller:    poller,
		logger:    logger,
	}
}

// Publish admits a message through the Publish Guard and, on
// acceptance, forwards it to the Topic Ring.
func (b *Broker) Publish(ctx context.Context, topic, kind string, payload any) error {
	now := time.Now()
	class, err := b.guard.Admit(topic, payload, now)
	if err != nil {
		b.logger.Warn(ctx, "publish rejected", "topic", topic, "class", class, "error", err)
		return err
	}
	b.rings.Get(topic).Publish(kind, payload, now)
	return nil
}

// Poll runs the full poll state machine for one caller.
func (b *Broker) Poll(ctx context.Context, p Principal, topic string, afterSeq uint64, limit int, now time.Time) (PollEnvelope, error) {
	env, err := b.poller.Poll(ctx, p, topic, afterSeq, limit, now)
	if err != nil {
		var recoverable khalaerr.Recoverable
		if errors.As(err, &recoverable) {
			b.logger.Debug(ctx, "poll rejected", "topic", topic, "reason_code", recoverable.ReasonCode())
		}
		return PollEnvelope{}, err
	}
	return env, nil
}

// MetricsSnapshot returns a coherent read of the broker's counters.
func (b *Broker) MetricsSnapshot() metrics.Snapshot {
	return b.metrics.Snapshot()
}

// TopicWindows returns up to limit topic window snapshots (0 for no
// limit).
func (b *Broker) TopicWindows(limit int) []ring.Window {
	return b.rings.Windows(limit)
}

// RegisterHook appends an opaque hook the transport layer can later
// read back via ExternalHooks or Introspect.
func (b *Broker) RegisterHook(h Hook) {
	b.hooksMu.Lock()
	defer b.hooksMu.Unlock()
	b.hooks = append(b.hooks, h)
}

// ExternalHooks returns a copy of the registered hooks.
func (b *Broker) ExternalHooks() []Hook {
	b.hooksMu.Lock()
	defer b.hooksMu.Unlock()
	out := make([]Hook, len(b.hooks))
	copy(out, b.hooks)
	return out
}

// Introspect bundles hooks, metrics, and topic windows in one call.
func (b *Broker) Introspect() IntrospectionSnapshot {
	return IntrospectionSnapshot{
		Hooks:        b.ExternalHooks(),
		Metrics:      b.MetricsSnapshot(),
		TopicWindows: b.TopicWindows(0),
	}
}
