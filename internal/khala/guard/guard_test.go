package guard_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dev-console/khala/internal/khala/guard"
	"github.com/dev-console/khala/internal/khala/khalaerr"
	"github.com/dev-console/khala/internal/khala/topicclass"
)

func limitsFixture() map[topicclass.Class]guard.ClassLimits {
	return map[topicclass.Class]guard.ClassLimits{
		topicclass.ClassRunEvents:         {PublishRatePerSecond: 1, MaxPayloadBytes: 80},
		topicclass.ClassWorkerLifecycle:   {PublishRatePerSecond: 10, MaxPayloadBytes: 1024},
		topicclass.ClassCodexWorkerEvents: {PublishRatePerSecond: 10, MaxPayloadBytes: 1024},
		topicclass.ClassFallback:          {PublishRatePerSecond: 5, MaxPayloadBytes: 1024},
	}
}

func TestAdmitAcceptsWithinLimits(t *testing.T) {
	g := guard.New(limitsFixture())
	class, err := g.Admit("run:R:events", map[string]int{"step": 1}, time.Unix(0, 0))
	require.NoError(t, err)
	require.Equal(t, topicclass.ClassRunEvents, class)
}

func TestAdmitRejectsSecondPublishOverRateLimit(t *testing.T) {
	g := guard.New(limitsFixture())
	now := time.Unix(0, 0)

	_, err := g.Admit("run:R:events", map[string]int{"step": 1}, now)
	require.NoError(t, err)

	_, err = g.Admit("run:R:events", map[string]int{"step": 2}, now)
	require.Error(t, err)
	var rl *khalaerr.PublishRateLimited
	require.ErrorAs(t, err, &rl)
	require.Equal(t, "run_events", rl.TopicClass)
	require.Equal(t, float64(1), rl.MaxPublishPerSecond)
	require.Greater(t, rl.RetryAfterMs, int64(0))
}

func TestAdmitRejectsOversizedPayloadBeforeConsumingToken(t *testing.T) {
	g := guard.New(limitsFixture())
	now := time.Unix(0, 0)

	big := strings.Repeat("a", 138) // + 2 quote bytes == 140 serialized bytes
	_, err := g.Admit("run:R:events", big, now)
	require.Error(t, err)
	var tooLarge *khalaerr.FramePayloadTooLarge
	require.ErrorAs(t, err, &tooLarge)
	require.Equal(t, 80, tooLarge.MaxPayloadByte)

	// Oversized attempt must not have consumed the rate token.
	_, err = g.Admit("run:R:events", map[string]int{"step": 1}, now)
	require.NoError(t, err)
}

func TestAdmitExactlyAtCeilingSucceeds(t *testing.T) {
	g := guard.New(limitsFixture())
	now := time.Unix(0, 0)

	// quoted JSON string adds 2 bytes; build an exact 80-byte payload.
	payload := strings.Repeat("a", 78)
	_, err := g.Admit("run:R:events", payload, now)
	require.NoError(t, err)
}
