// Package khalaerr defines the Khala broker's closed error taxonomy.
//
// Every externally-recoverable failure the broker can surface is its own
// exported type implementing error, ReasonCode, and RecoveryHint, so a
// transport layer can dispatch on type (errors.As) instead of string
// matching a generic error's message. Each type's fields are the
// "structured details object" the spec requires alongside the reason code.
package khalaerr

import "fmt"

// Recoverable is implemented by every variant in this package. A transport
// layer uses it to render a uniform response without a type switch over
// every concrete variant.
type Recoverable interface {
	error
	ReasonCode() string
	RecoveryHint() string
}

// InvalidRequest is returned when the caller's request is malformed before
// any topic or consumer state is touched (an empty poll topic, or a
// publish payload that cannot be serialized).
type InvalidRequest struct {
	Reason string
}

func (e *InvalidRequest) Error() string        { return "invalid request: " + e.Reason }
func (e *InvalidRequest) ReasonCode() string   { return "invalid_request" }
func (e *InvalidRequest) RecoveryHint() string { return "" }

// Unauthorized is returned when the Authorizer rejects the caller's
// credentials outright (no topic-scoped decision was reached).
type Unauthorized struct {
	ReasonCodeValue string // one of: missing_authorization, token_expired, token_revoked, invalid_token
}

func (e *Unauthorized) Error() string {
	return fmt.Sprintf("unauthorized: %s", e.ReasonCodeValue)
}
func (e *Unauthorized) ReasonCode() string   { return e.ReasonCodeValue }
func (e *Unauthorized) RecoveryHint() string { return "" }

// ForbiddenTopic is returned when the caller is authenticated but not
// entitled to the requested topic, or fails the worker-ownership check.
type ForbiddenTopic struct {
	Topic           string
	ReasonCodeValue string // one of: missing_scope, owner_mismatch
}

func (e *ForbiddenTopic) Error() string {
	return fmt.Sprintf("forbidden topic %q: %s", e.Topic, e.ReasonCodeValue)
}
func (e *ForbiddenTopic) ReasonCode() string   { return e.ReasonCodeValue }
func (e *ForbiddenTopic) RecoveryHint() string { return "" }

// PollRateLimited is returned when a caller polls the same Consumer Key
// faster than poll_min_interval_ms allows.
type PollRateLimited struct {
	RetryAfterMs int64
}

func (e *PollRateLimited) Error() string {
	return fmt.Sprintf("poll rate limited, retry after %dms", e.RetryAfterMs)
}
func (e *PollRateLimited) ReasonCode() string   { return "poll_interval_guard" }
func (e *PollRateLimited) RecoveryHint() string { return "wait_retry_after_ms" }

// PublishRateLimited is returned when the publish token bucket for a
// topic's class has no tokens available.
type PublishRateLimited struct {
	Topic               string
	TopicClass          string
	MaxPublishPerSecond float64
	RetryAfterMs        int64
}

func (e *PublishRateLimited) Error() string {
	return fmt.Sprintf("publish rate limited on topic %q (class %s), retry after %dms",
		e.Topic, e.TopicClass, e.RetryAfterMs)
}
func (e *PublishRateLimited) ReasonCode() string   { return "khala_publish_rate_limited" }
func (e *PublishRateLimited) RecoveryHint() string { return "wait_retry_after_ms" }

// FramePayloadTooLarge is returned when a publish payload exceeds the
// class's configured byte ceiling.
type FramePayloadTooLarge struct {
	Topic          string
	TopicClass     string
	PayloadBytes   int
	MaxPayloadByte int
}

func (e *FramePayloadTooLarge) Error() string {
	return fmt.Sprintf("payload too large on topic %q (class %s): %d > %d bytes",
		e.Topic, e.TopicClass, e.PayloadBytes, e.MaxPayloadByte)
}
func (e *FramePayloadTooLarge) ReasonCode() string   { return "khala_frame_payload_too_large" }
func (e *FramePayloadTooLarge) RecoveryHint() string { return "shrink_payload" }

// SlowConsumerEvicted is returned when a consumer accumulates enough
// consecutive lag-threshold violations to be evicted from the registry.
type SlowConsumerEvicted struct {
	Topic             string
	Lag               uint64
	LagThreshold      uint64
	Strikes           uint
	MaxStrikes        uint
	SuggestedAfterSeq *uint64
}

func (e *SlowConsumerEvicted) Error() string {
	return fmt.Sprintf("slow consumer evicted on topic %q: lag=%d threshold=%d strikes=%d/%d",
		e.Topic, e.Lag, e.LagThreshold, e.Strikes, e.MaxStrikes)
}
func (e *SlowConsumerEvicted) ReasonCode() string { return "slow_consumer_evicted" }
func (e *SlowConsumerEvicted) RecoveryHint() string {
	return "advance_cursor_or_rebootstrap"
}

// StaleCursor is returned when a poll's after_seq has fallen below the
// retained window floor on a non-empty topic.
type StaleCursor struct {
	Topic                string
	RequestedCursor      uint64
	OldestAvailableCursor uint64
	HeadCursor           uint64
}

func (e *StaleCursor) Error() string {
	return fmt.Sprintf("stale cursor on topic %q: requested=%d oldest_available=%d head=%d",
		e.Topic, e.RequestedCursor, e.OldestAvailableCursor, e.HeadCursor)
}
func (e *StaleCursor) ReasonCode() string { return "stale_cursor" }
func (e *StaleCursor) RecoveryHint() string {
	return "reset_local_watermark_and_replay_bootstrap"
}

var (
	_ Recoverable = (*InvalidRequest)(nil)
	_ Recoverable = (*Unauthorized)(nil)
	_ Recoverable = (*ForbiddenTopic)(nil)
	_ Recoverable = (*PollRateLimited)(nil)
	_ Recoverable = (*PublishRateLimited)(nil)
	_ Recoverable = (*FramePayloadTooLarge)(nil)
	_ Recoverable = (*SlowConsumerEvicted)(nil)
	_ Recoverable = (*StaleCursor)(nil)
)
