// ABOUTME: Cursor checkpoints keyed by consumer and topic
// ABOUTME: Implements runtime.CheckpointStore so restarts resume where they stopped

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Checkpoint is one stored cursor.
type Checkpoint struct {
	Consumer  string
	Topic     string
	Cursor    int64
	UpdatedAt time.Time
}

// LoadCursor returns the saved cursor; ok is false when none was saved.
func (s *SQLiteStore) LoadCursor(ctx context.Context, consumer, topic string) (int64, bool, error) {
	var cursor int64
	err := s.db.QueryRowContext(ctx,
		`SELECT cursor FROM cursors WHERE consumer = ? AND topic = ?`,
		consumer, topic,
	).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("loading cursor for %s/%s: %w", consumer, topic, err)
	}
	return cursor, true, nil
}

// SaveCursor stores cursor for consumer and topic, replacing any previous one.
func (s *SQLiteStore) SaveCursor(ctx context.Context, consumer, topic string, cursor int64) error {
	query := `
		INSERT INTO cursors (consumer, topic, cursor, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (consumer, topic) DO UPDATE SET
			cursor = excluded.cursor,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, consumer, topic, cursor, formatTime(time.Now())); err != nil {
		return fmt.Errorf("saving cursor for %s/%s: %w", consumer, topic, err)
	}
	return nil
}

// ListCheckpoints returns every stored cursor ordered by consumer and topic.
func (s *SQLiteStore) ListCheckpoints(ctx context.Context) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT consumer, topic, cursor, updated_at FROM cursors ORDER BY consumer, topic`)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		var updated string
		if err := rows.Scan(&cp.Consumer, &cp.Topic, &cp.Cursor, &updated); err != nil {
			return nil, fmt.Errorf("scanning checkpoint: %w", err)
		}
		if cp.UpdatedAt, err = parseTime("updated_at", updated); err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}
