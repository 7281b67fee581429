// ABOUTME: Durable topic log on SQLite implementing transport.Transport
// ABOUTME: Dense per-topic sequences assigned atomically at insert time

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/2389/topicmesh/internal/transport"
)

// TopicInfo summarises one topic in the log.
type TopicInfo struct {
	Name          string
	Messages      int64
	LastSequence  int64
	LastPublished time.Time
}

// Publish appends payload to topic and returns its sequence number.
func (s *SQLiteStore) Publish(ctx context.Context, topic, payload string) (int64, error) {
	query := `
		INSERT INTO topic_messages (topic, sequence, contents, published_at)
		SELECT ?, COALESCE(MAX(sequence), 0) + 1, ?, ?
		FROM topic_messages
		WHERE topic = ?
		RETURNING sequence
	`
	var seq int64
	err := s.db.QueryRowContext(ctx, query, topic, payload, formatTime(time.Now()), topic).Scan(&seq)
	if err != nil {
		return 0, transport.Wrap("publish", topic, err)
	}
	s.logger.Debug("published to topic", "topic", topic, "sequence", seq)
	return seq, nil
}

// ReadSince returns messages on topic with sequence greater than cursor, in
// ascending order, at most ReadLimit of them.
func (s *SQLiteStore) ReadSince(ctx context.Context, topic string, cursor int64) ([]transport.Message, error) {
	limit := s.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}

	query := `
		SELECT sequence, contents, published_at
		FROM topic_messages
		WHERE topic = ? AND sequence > ?
		ORDER BY sequence ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, topic, cursor, limit)
	if err != nil {
		return nil, transport.Wrap("read", topic, err)
	}
	defer rows.Close()

	var msgs []transport.Message
	for rows.Next() {
		var msg transport.Message
		var published string
		if err := rows.Scan(&msg.Sequence, &msg.Contents, &published); err != nil {
			return nil, transport.Wrap("read", topic, fmt.Errorf("scanning message: %w", err))
		}
		if msg.Timestamp, err = parseTime("published_at", published); err != nil {
			return nil, transport.Wrap("read", topic, err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, transport.Wrap("read", topic, err)
	}
	return msgs, nil
}

// ListTopics returns every topic with at least one message, by name.
func (s *SQLiteStore) ListTopics(ctx context.Context) ([]TopicInfo, error) {
	query := `
		SELECT topic, COUNT(*), MAX(sequence), MAX(published_at)
		FROM topic_messages
		GROUP BY topic
		ORDER BY topic
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing topics: %w", err)
	}
	defer rows.Close()

	var topics []TopicInfo
	for rows.Next() {
		var info TopicInfo
		var last string
		if err := rows.Scan(&info.Name, &info.Messages, &info.LastSequence, &last); err != nil {
			return nil, fmt.Errorf("scanning topic: %w", err)
		}
		if info.LastPublished, err = parseTime("published_at", last); err != nil {
			return nil, err
		}
		topics = append(topics, info)
	}
	return topics, rows.Err()
}

// LastSequence returns the newest sequence on topic, or 0 if it is empty.
func (s *SQLiteStore) LastSequence(ctx context.Context, topic string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM topic_messages WHERE topic = ?`, topic).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("querying last sequence of %s: %w", topic, err)
	}
	return seq.Int64, nil
}
