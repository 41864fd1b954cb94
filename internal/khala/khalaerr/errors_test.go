package khalaerr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dev-console/khala/internal/khala/khalaerr"
)

func TestVariantsImplementRecoverable(t *testing.T) {
	cases := []khalaerr.Recoverable{
		&khalaerr.InvalidRequest{Reason: "empty topic"},
		&khalaerr.Unauthorized{ReasonCodeValue: "missing_authorization"},
		&khalaerr.ForbiddenTopic{Topic: "t", ReasonCodeValue: "owner_mismatch"},
		&khalaerr.PollRateLimited{RetryAfterMs: 150},
		&khalaerr.PublishRateLimited{Topic: "t", TopicClass: "run_events", MaxPublishPerSecond: 1, RetryAfterMs: 900},
		&khalaerr.FramePayloadTooLarge{Topic: "t", TopicClass: "run_events", PayloadBytes: 140, MaxPayloadByte: 80},
		&khalaerr.SlowConsumerEvicted{Topic: "t", Lag: 7, LagThreshold: 2, Strikes: 2, MaxStrikes: 2},
		&khalaerr.StaleCursor{Topic: "t", RequestedCursor: 0, OldestAvailableCursor: 16, HeadCursor: 80},
	}

	for _, c := range cases {
		require.NotEmpty(t, c.ReasonCode())
		require.NotEmpty(t, c.Error())
	}
}

func TestErrorsAsDispatch(t *testing.T) {
	var err error = &khalaerr.StaleCursor{
		Topic:                 "run:R:events",
		RequestedCursor:       0,
		OldestAvailableCursor: 16,
		HeadCursor:            80,
	}

	var sc *khalaerr.StaleCursor
	require.True(t, errors.As(err, &sc))
	require.Equal(t, uint64(16), sc.OldestAvailableCursor)
	require.Equal(t, "reset_local_watermark_and_replay_bootstrap", sc.RecoveryHint())
}

func TestSlowConsumerSuggestedAfterSeq(t *testing.T) {
	zero := uint64(0)
	err := &khalaerr.SlowConsumerEvicted{
		Topic:             "run:R:events",
		Lag:               7,
		LagThreshold:      2,
		Strikes:           2,
		MaxStrikes:        2,
		SuggestedAfterSeq: &zero,
	}
	require.Equal(t, "advance_cursor_or_rebootstrap", err.RecoveryHint())
	require.NotNil(t, err.SuggestedAfterSeq)
	require.Equal(t, uint64(0), *err.SuggestedAfterSeq)
}
