// ABOUTME: Ledger of every domain event an agent published
// ABOUTME: Implements runtime.Sink; records are queryable by topic and type

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/topicmesh/internal/event"
)

// EmittedEvent is one ledger row.
type EmittedEvent struct {
	ID         string
	Topic      string
	Sequence   int64
	Type       event.Type
	Sender     string
	Timestamp  time.Time
	Payload    string
	RecordedAt time.Time
}

// Event decodes the stored payload.
func (e EmittedEvent) Event() (event.DomainEvent, error) {
	return event.DecodeString(e.Payload)
}

// EventFilter narrows ListEvents. Zero values match everything.
type EventFilter struct {
	Topic string
	Type  event.Type
	Limit int // defaults to 100
}

// Emit records ev. Failures are logged because a sink cannot fail a publish.
func (s *SQLiteStore) Emit(ctx context.Context, topic string, sequence int64, ev event.DomainEvent) {
	if _, err := s.RecordEvent(ctx, topic, sequence, ev); err != nil {
		s.logger.Warn("recording emitted event failed",
			"topic", topic,
			"sequence", sequence,
			"type", ev.Type(),
			"error", err,
		)
	}
}

// RecordEvent stores ev as published at topic/sequence and returns its ID.
func (s *SQLiteStore) RecordEvent(ctx context.Context, topic string, sequence int64, ev event.DomainEvent) (string, error) {
	payload, err := event.Encode(ev)
	if err != nil {
		return "", fmt.Errorf("encoding event: %w", err)
	}

	id := uuid.NewString()
	meta := ev.Meta()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO emitted_events (event_id, topic, sequence, type, sender, timestamp, payload, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		topic,
		sequence,
		string(ev.Type()),
		meta.Sender,
		meta.Timestamp,
		string(payload),
		formatTime(time.Now()),
	)
	if err != nil {
		return "", fmt.Errorf("inserting emitted event: %w", err)
	}
	return id, nil
}

// ListEvents returns ledger rows matching f, newest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, f EventFilter) ([]EmittedEvent, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	var where []string
	var args []any
	if f.Topic != "" {
		where = append(where, "topic = ?")
		args = append(args, f.Topic)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}

	query := `SELECT event_id, topic, sequence, type, sender, timestamp, payload, recorded_at FROM emitted_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY recorded_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var out []EmittedEvent
	for rows.Next() {
		var e EmittedEvent
		var typ, recorded string
		var ts int64
		if err := rows.Scan(&e.ID, &e.Topic, &e.Sequence, &typ, &e.Sender, &ts, &e.Payload, &recorded); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Type = event.Type(typ)
		e.Timestamp = time.UnixMilli(ts).UTC()
		if e.RecordedAt, err = parseTime("recorded_at", recorded); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountEvents returns how many ledger rows have the given type.
func (s *SQLiteStore) CountEvents(ctx context.Context, typ event.Type) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM emitted_events WHERE type = ?`, string(typ)).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s events: %w", typ, err)
	}
	return n, nil
}
