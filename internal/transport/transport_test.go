// ABOUTME: Tests for the in-memory log, error wrapping, and Redis stream entry decoding
// ABOUTME: Redis round-trips run only when REDIS_ADDR points at a live server

package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/topicmesh/internal/clock"
)

func TestMemoryLog_PublishAssignsDenseSequence(t *testing.T) {
	log := NewMemoryLog(nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		seq, err := log.Publish(ctx, "prices", "p")
		require.NoError(t, err)
		assert.Equal(t, int64(i), seq)
	}

	seq, err := log.Publish(ctx, "alerts", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq, "sequences are per topic")
}

func TestMemoryLog_ReadSince(t *testing.T) {
	clk := clock.NewFake(time.Unix(100, 0))
	log := NewMemoryLog(clk)
	ctx := context.Background()

	for _, p := range []string{"a", "b", "c", "d"} {
		_, err := log.Publish(ctx, "t", p)
		require.NoError(t, err)
	}

	msgs, err := log.ReadSince(ctx, "t", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(3), msgs[0].Sequence)
	assert.Equal(t, "c", msgs[0].Contents)
	assert.Equal(t, int64(4), msgs[1].Sequence)
	assert.Equal(t, time.Unix(100, 0), msgs[1].Timestamp)

	msgs, err = log.ReadSince(ctx, "t", 4)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = log.ReadSince(ctx, "missing", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMemoryLog_MaxBatch(t *testing.T) {
	log := NewMemoryLog(nil)
	log.MaxBatch = 2
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := log.Publish(ctx, "t", "x")
		require.NoError(t, err)
	}

	msgs, err := log.ReadSince(ctx, "t", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(2), msgs[1].Sequence)
}

func TestMemoryLog_FaultInjection(t *testing.T) {
	log := NewMemoryLog(nil)
	ctx := context.Background()
	boom := errors.New("boom")

	log.FailPublishes(boom)
	_, err := log.Publish(ctx, "t", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, boom)

	log.FailPublishes(nil)
	log.FailReads(boom)
	_, err = log.ReadSince(ctx, "t", 0)
	assert.ErrorIs(t, err, ErrTransport)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "read", terr.Op)
	assert.Equal(t, "t", terr.Topic)
}

func TestWrap_Nil(t *testing.T) {
	assert.NoError(t, Wrap("read", "t", nil))
}

func TestParseStreamID(t *testing.T) {
	seq, err := parseStreamID("0-42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), seq)

	_, err = parseStreamID("1700000000000-0")
	assert.Error(t, err)

	_, err = parseStreamID("garbage")
	assert.Error(t, err)
}

func TestDecodeStreamEntry(t *testing.T) {
	msg, err := decodeStreamEntry(redis.XMessage{
		ID:     "0-7",
		Values: map[string]interface{}{"contents": `{"type":"x"}`, "ts": "1700000000000"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), msg.Sequence)
	assert.Equal(t, `{"type":"x"}`, msg.Contents)
	assert.Equal(t, time.UnixMilli(1700000000000), msg.Timestamp)

	_, err = decodeStreamEntry(redis.XMessage{ID: "0-8", Values: map[string]interface{}{}})
	assert.Error(t, err)
}

func TestRedisLog_RoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	l := NewRedisLog(RedisOptions{
		Addr:      addr,
		KeyPrefix: fmt.Sprintf("topicmesh-test-%d", time.Now().UnixNano()),
	})
	defer l.Close()
	ctx := context.Background()

	for i, payload := range []string{"a", "b", "c"} {
		seq, err := l.Publish(ctx, "prices", payload)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), seq)
	}

	msgs, err := l.ReadSince(ctx, "prices", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(2), msgs[0].Sequence)
	assert.Equal(t, "c", msgs[1].Contents)

	msgs, err = l.ReadSince(ctx, "empty", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
