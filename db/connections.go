// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Connection types
const ConnectionTypeShelly = "SHELLY"

// Connection statuses
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusError        = "error"
	StatusReconnecting = "reconnecting"
	StatusConnecting   = "connecting"
)

var ErrConnectionNotFound = errors.New("websocket connection not found")

// ValidConnectionStatus reports whether s is a known status.
func ValidConnectionStatus(s string) bool {
	switch s {
	case StatusConnected, StatusDisconnected, StatusError, StatusReconnecting, StatusConnecting:
		return true
	}
	return false
}

// Connection is a row of websocket_connection.
type Connection struct {
	ID            string     `json:"id"`
	SystemID      string     `json:"system_id"`
	Type          string     `json:"type"`
	ReferenceID   string     `json:"reference_id"`
	Status        string     `json:"status"`
	AutoReconnect bool       `json:"auto_reconnect"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	LastPingAt    *time.Time `json:"last_ping_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ConnectionLog is a row of websocket_log.
type ConnectionLog struct {
	ID             string    `json:"id"`
	ConnectionID   string    `json:"connection_id"`
	EventType      string    `json:"event_type"`
	Message        string    `json:"message"`
	ErrorDetails   string    `json:"error_details,omitempty"`
	ResponseTimeMs *int64    `json:"response_time_ms,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

const connectionColumns = `id, system_id, type, reference_id, status, auto_reconnect,
	error_message, last_ping_at, created_at, updated_at`

func scanConnection(row interface{ Scan(...any) error }) (Connection, error) {
	var c Connection
	var lastPing sql.NullTime
	err := row.Scan(&c.ID, &c.SystemID, &c.Type, &c.ReferenceID, &c.Status, &c.AutoReconnect,
		&c.ErrorMessage, &lastPing, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	if lastPing.Valid {
		t := lastPing.Time
		c.LastPingAt = &t
	}
	return c, nil
}

// FindOrCreateConnection returns the connection for (type, referenceID,
// systemID), creating it when missing. New rows get autoReconnect from
// whether the system's SHELLY module is active.
func FindOrCreateConnection(ctx context.Context, q Querier, connType, referenceID, systemID string) (Connection, bool, error) {
	c, err := GetConnectionByReference(ctx, q, connType, referenceID, systemID)
	if err == nil {
		return c, false, nil
	}
	if !errors.Is(err, ErrConnectionNotFound) {
		return Connection{}, false, err
	}

	autoReconnect := true
	if connType == ConnectionTypeShelly {
		autoReconnect, err = IsModuleActive(ctx, q, systemID, "SHELLY")
		if err != nil {
			return Connection{}, false, err
		}
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	_, err = q.ExecContext(ctx, `
		INSERT INTO websocket_connection (id, system_id, type, reference_id, status, auto_reconnect, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (type, reference_id, system_id) DO NOTHING
	`, id, systemID, connType, referenceID, StatusDisconnected, autoReconnect, now)
	if err != nil {
		return Connection{}, false, fmt.Errorf("failed to create connection: %w", err)
	}

	// A concurrent caller may have won the insert
	c, err = GetConnectionByReference(ctx, q, connType, referenceID, systemID)
	if err != nil {
		return Connection{}, false, err
	}
	return c, c.ID == id, nil
}

func GetConnectionByReference(ctx context.Context, q Querier, connType, referenceID, systemID string) (Connection, error) {
	c, err := scanConnection(q.QueryRowContext(ctx,
		"SELECT "+connectionColumns+" FROM websocket_connection WHERE type = $1 AND reference_id = $2 AND system_id = $3",
		connType, referenceID, systemID))
	if errors.Is(err, sql.ErrNoRows) {
		return Connection{}, ErrConnectionNotFound
	}
	if err != nil {
		return Connection{}, fmt.Errorf("failed to load connection: %w", err)
	}
	return c, nil
}

// GetConnection loads a connection of systemID by ID.
func GetConnection(ctx context.Context, q Querier, systemID, id string) (Connection, error) {
	c, err := scanConnection(q.QueryRowContext(ctx,
		"SELECT "+connectionColumns+" FROM websocket_connection WHERE id = $1 AND system_id = $2",
		id, systemID))
	if errors.Is(err, sql.ErrNoRows) {
		return Connection{}, ErrConnectionNotFound
	}
	if err != nil {
		return Connection{}, fmt.Errorf("failed to load connection: %w", err)
	}
	return c, nil
}

// ListConnections returns the system's connections, most recently updated first.
func ListConnections(ctx context.Context, q Querier, systemID string) ([]Connection, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+connectionColumns+" FROM websocket_connection WHERE system_id = $1 ORDER BY updated_at DESC",
		systemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	conns := []Connection{}
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// ListConnectionsByStatus returns connections of connType in status
// across all systems.
func ListConnectionsByStatus(ctx context.Context, q Querier, connType, status string) ([]Connection, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+connectionColumns+" FROM websocket_connection WHERE type = $1 AND status = $2",
		connType, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var conns []Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// UpdateConnectionStatus sets the status. connected stamps last_ping_at;
// error records errMsg, any other status clears it.
func UpdateConnectionStatus(ctx context.Context, q Querier, id, status, errMsg string) error {
	if !ValidConnectionStatus(status) {
		return fmt.Errorf("invalid connection status %q", status)
	}
	if status != StatusError {
		errMsg = ""
	}
	now := time.Now().UTC()

	var err error
	if status == StatusConnected {
		_, err = q.ExecContext(ctx, `
			UPDATE websocket_connection SET status = $1, error_message = $2, last_ping_at = $3, updated_at = $3
			WHERE id = $4
		`, status, errMsg, now, id)
	} else {
		_, err = q.ExecContext(ctx, `
			UPDATE websocket_connection SET status = $1, error_message = $2, updated_at = $3
			WHERE id = $4
		`, status, errMsg, now, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update connection status: %w", err)
	}
	return nil
}

// SetAutoReconnect toggles the reconnect flag of a connection.
func SetAutoReconnect(ctx context.Context, q Querier, id string, enabled bool) error {
	_, err := q.ExecContext(ctx,
		"UPDATE websocket_connection SET auto_reconnect = $1, updated_at = $2 WHERE id = $3",
		enabled, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update auto reconnect: %w", err)
	}
	return nil
}

// SetSystemAutoReconnect applies enabled to every connection of connType in
// the system. Toggling the SHELLY module uses it.
func SetSystemAutoReconnect(ctx context.Context, q Querier, systemID, connType string, enabled bool) error {
	_, err := q.ExecContext(ctx,
		"UPDATE websocket_connection SET auto_reconnect = $1, updated_at = $2 WHERE system_id = $3 AND type = $4",
		enabled, time.Now().UTC(), systemID, connType)
	if err != nil {
		return fmt.Errorf("failed to update auto reconnect: %w", err)
	}
	return nil
}

// LogConnectionEvent appends to websocket_log. responseTimeMs < 0 means unknown.
func LogConnectionEvent(ctx context.Context, q Querier, connectionID, eventType, message, errorDetails string, responseTimeMs int64) error {
	var rt *int64
	if responseTimeMs >= 0 {
		rt = &responseTimeMs
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO websocket_log (id, connection_id, event_type, message, error_details, response_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.NewString(), connectionID, eventType, message, errorDetails, rt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to log connection event: %w", err)
	}
	return nil
}

// ConnectionLogs returns the newest limit log entries of a connection.
func ConnectionLogs(ctx context.Context, q Querier, connectionID string, limit int) ([]ConnectionLog, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, connection_id, event_type, message, error_details, response_time_ms, created_at
		FROM websocket_log WHERE connection_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query connection logs: %w", err)
	}
	defer rows.Close()

	logs := []ConnectionLog{}
	for rows.Next() {
		var l ConnectionLog
		var rt sql.NullInt64
		if err := rows.Scan(&l.ID, &l.ConnectionID, &l.EventType, &l.Message, &l.ErrorDetails, &rt, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan connection log: %w", err)
		}
		if rt.Valid {
			l.ResponseTimeMs = &rt.Int64
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ConnectionStatusCounts returns the number of the system's connections
// per status.
func ConnectionStatusCounts(ctx context.Context, q Querier, systemID string) (map[string]int, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM websocket_connection WHERE system_id = $1 GROUP BY status",
		systemID)
	if err != nil {
		return nil, fmt.Errorf("failed to count connections: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan connection count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// CleanupOldConnections deletes disconnected and errored connections not
// updated within retention, along with their logs.
func CleanupOldConnections(ctx context.Context, conn *sql.DB, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin cleanup: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM websocket_log WHERE connection_id IN (
			SELECT id FROM websocket_connection
			WHERE status IN ('disconnected', 'error') AND updated_at < $1
		)
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old connection logs: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		"DELETE FROM websocket_connection WHERE status IN ('disconnected', 'error') AND updated_at < $1",
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old connections: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cleanup: %w", err)
	}
	return n, nil
}
