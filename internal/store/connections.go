// ABOUTME: Connection table persistence with a per-record status history
// ABOUTME: Implements connection.Store; every status change appends an audit row

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/2389/topicmesh/internal/connection"
)

// StatusChange is one row of a connection's audit history.
type StatusChange struct {
	RequestKey string
	Status     connection.Status
	RecordedAt time.Time
}

// ConnectionFilter narrows ListConnections. Zero values match everything.
type ConnectionFilter struct {
	Status    connection.Status
	AccountID string
	Limit     int
}

const connectionColumns = `
	request_key, connection_topic_id, target_account_id, status, direction,
	request_id, memo, inbound_topic_id, close_reason, created_at, last_activity
`

// SaveConnection upserts c and records a history row when its status changed.
func (s *SQLiteStore) SaveConnection(ctx context.Context, c connection.Connection) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var previous string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM connections WHERE request_key = ?`, c.UniqueRequestKey,
	).Scan(&previous)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("reading previous status: %w", err)
	}

	upsert := `
		INSERT INTO connections (` + connectionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (request_key) DO UPDATE SET
			connection_topic_id = excluded.connection_topic_id,
			status = excluded.status,
			memo = excluded.memo,
			inbound_topic_id = excluded.inbound_topic_id,
			close_reason = excluded.close_reason,
			last_activity = excluded.last_activity
	`
	_, err = tx.ExecContext(ctx, upsert,
		c.UniqueRequestKey,
		nullString(c.ConnectionTopicID),
		c.TargetAccountID,
		string(c.Status),
		string(c.Direction),
		c.ConnectionRequestID,
		nullString(c.Memo),
		nullString(c.InboundTopicID),
		nullString(c.CloseReason),
		formatTime(c.Created),
		formatTime(c.LastActivity),
	)
	if err != nil {
		return fmt.Errorf("upserting connection %s: %w", c.UniqueRequestKey, err)
	}

	if previous != string(c.Status) {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO connection_history (request_key, status, recorded_at) VALUES (?, ?, ?)`,
			c.UniqueRequestKey, string(c.Status), formatTime(c.LastActivity),
		)
		if err != nil {
			return fmt.Errorf("recording status change: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing connection %s: %w", c.UniqueRequestKey, err)
	}
	s.logger.Debug("saved connection", "request_key", c.UniqueRequestKey, "status", c.Status)
	return nil
}

// LoadConnections returns every stored connection in creation order.
func (s *SQLiteStore) LoadConnections(ctx context.Context) ([]connection.Connection, error) {
	return s.ListConnections(ctx, ConnectionFilter{})
}

// ListConnections returns connections matching f in creation order.
func (s *SQLiteStore) ListConnections(ctx context.Context, f ConnectionFilter) ([]connection.Connection, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.AccountID != "" {
		where = append(where, "target_account_id = ?")
		args = append(args, f.AccountID)
	}

	query := `SELECT ` + connectionColumns + ` FROM connections`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, request_id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing connections: %w", err)
	}
	defer rows.Close()

	var out []connection.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetConnection returns the connection with the given unique request key.
func (s *SQLiteStore) GetConnection(ctx context.Context, requestKey string) (connection.Connection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE request_key = ?`, requestKey)
	c, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return connection.Connection{}, ErrNotFound
	}
	return c, err
}

// ConnectionHistory returns the status changes of one connection, oldest first.
func (s *SQLiteStore) ConnectionHistory(ctx context.Context, requestKey string) ([]StatusChange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT request_key, status, recorded_at FROM connection_history WHERE request_key = ? ORDER BY id`,
		requestKey)
	if err != nil {
		return nil, fmt.Errorf("querying connection history: %w", err)
	}
	defer rows.Close()

	var out []StatusChange
	for rows.Next() {
		var sc StatusChange
		var status, recorded string
		if err := rows.Scan(&sc.RequestKey, &status, &recorded); err != nil {
			return nil, fmt.Errorf("scanning status change: %w", err)
		}
		sc.Status = connection.Status(status)
		if sc.RecordedAt, err = parseTime("recorded_at", recorded); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConnection(row scanner) (connection.Connection, error) {
	var c connection.Connection
	var topicID, memo, inbound, reason sql.NullString
	var status, direction, created, last string

	err := row.Scan(
		&c.UniqueRequestKey,
		&topicID,
		&c.TargetAccountID,
		&status,
		&direction,
		&c.ConnectionRequestID,
		&memo,
		&inbound,
		&reason,
		&created,
		&last,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("scanning connection: %w", err)
	}

	c.ConnectionTopicID = topicID.String
	c.Status = connection.Status(status)
	c.Direction = connection.Direction(direction)
	c.Memo = memo.String
	c.InboundTopicID = inbound.String
	c.CloseReason = reason.String
	if c.Created, err = parseTime("created_at", created); err != nil {
		return c, err
	}
	if c.LastActivity, err = parseTime("last_activity", last); err != nil {
		return c, err
	}
	return c, nil
}
