// ABOUTME: Redis Streams topic log implementing Transport
// ABOUTME: Stores entry N of a topic under stream ID 0-N so XRANGE reads by sequence

package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisPublishScript assigns the next sequence number and appends the entry
// in one atomic step.
// KEYS[1] = stream key
// KEYS[2] = sequence counter key
// ARGV[1] = payload
// ARGV[2] = unix milliseconds
var redisPublishScript = redis.NewScript(`
local seq = redis.call("INCR", KEYS[2])
redis.call("XADD", KEYS[1], "0-" .. seq, "contents", ARGV[1], "ts", ARGV[2])
return seq
`)

// RedisOptions configures a RedisLog.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // defaults to "topicmesh"
	// ReadCount caps entries returned per ReadSince (0 = 500).
	ReadCount int64
}

// RedisLog is a Transport backed by Redis Streams.
type RedisLog struct {
	client    redis.UniversalClient
	prefix    string
	readCount int64
	now       func() time.Time
}

// NewRedisLog connects to Redis with the given options.
func NewRedisLog(opts RedisOptions) *RedisLog {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisLogWithClient(rdb, opts)
}

// NewRedisLogWithClient wraps an existing client.
func NewRedisLogWithClient(client redis.UniversalClient, opts RedisOptions) *RedisLog {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "topicmesh"
	}
	count := opts.ReadCount
	if count <= 0 {
		count = 500
	}
	return &RedisLog{
		client:    client,
		prefix:    prefix,
		readCount: count,
		now:       time.Now,
	}
}

func (l *RedisLog) streamKey(topic string) string {
	return l.prefix + ":topic:" + topic
}

func (l *RedisLog) seqKey(topic string) string {
	return l.prefix + ":seq:" + topic
}

// Publish appends payload to the topic stream.
func (l *RedisLog) Publish(ctx context.Context, topic, payload string) (int64, error) {
	seq, err := redisPublishScript.Run(ctx, l.client,
		[]string{l.streamKey(topic), l.seqKey(topic)},
		payload, l.now().UnixMilli(),
	).Int64()
	if err != nil {
		return 0, Wrap("publish", topic, err)
	}
	return seq, nil
}

// ReadSince returns entries after cursor using an exclusive XRANGE start.
func (l *RedisLog) ReadSince(ctx context.Context, topic string, cursor int64) ([]Message, error) {
	if cursor < 0 {
		cursor = 0
	}
	start := "(" + streamID(cursor)
	entries, err := l.client.XRangeN(ctx, l.streamKey(topic), start, "+", l.readCount).Result()
	if err != nil {
		return nil, Wrap("read", topic, err)
	}

	msgs := make([]Message, 0, len(entries))
	for _, entry := range entries {
		msg, err := decodeStreamEntry(entry)
		if err != nil {
			return nil, Wrap("read", topic, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Close releases the underlying client.
func (l *RedisLog) Close() error {
	return l.client.Close()
}

func streamID(seq int64) string {
	return "0-" + strconv.FormatInt(seq, 10)
}

// parseStreamID extracts the sequence number from a 0-N stream ID.
func parseStreamID(id string) (int64, error) {
	ms, seq, ok := strings.Cut(id, "-")
	if !ok || ms != "0" {
		return 0, fmt.Errorf("unexpected stream id %q", id)
	}
	n, err := strconv.ParseInt(seq, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing stream id %q: %w", id, err)
	}
	return n, nil
}

func decodeStreamEntry(entry redis.XMessage) (Message, error) {
	seq, err := parseStreamID(entry.ID)
	if err != nil {
		return Message{}, err
	}

	contents, ok := entry.Values["contents"].(string)
	if !ok {
		return Message{}, errors.New("stream entry missing contents")
	}

	msg := Message{Sequence: seq, Contents: contents}
	if raw, ok := entry.Values["ts"].(string); ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			msg.Timestamp = time.UnixMilli(ms)
		}
	}
	return msg, nil
}
