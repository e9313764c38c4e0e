// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open connects to the configured database and verifies the connection.
// dbType is "postgres" or "sqlite".
func Open(dbType, url string) (*sql.DB, error) {
	driver := "postgres"
	if dbType == "sqlite" {
		driver = "sqlite"
		url = sqliteDSN(url)
	}

	conn, err := sql.Open(driver, url)
	if err != nil {
		return nil, fmt.Errorf("database open failed: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return conn, nil
}

// sqliteDSN turns a path or file: URL into a DSN with the pragmas the
// schema depends on.
func sqliteDSN(url string) string {
	if !strings.HasPrefix(url, "file:") {
		url = "file:" + url
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate&_time_format=sqlite"
}

// IsUniqueViolation reports whether err is a unique constraint failure on
// either driver.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// NextSequence atomically increments the counter for scope and year and
// returns the new value, starting at 1.
func NextSequence(ctx context.Context, q Querier, scope string, year int) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		INSERT INTO document_sequence (scope, year, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (scope, year) DO UPDATE SET last_number = document_sequence.last_number + 1
		RETURNING last_number
	`, scope, year).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence %s/%d: %w", scope, year, err)
	}
	return n, nil
}

// IsModuleActive reports whether the system has the named module enabled.
func IsModuleActive(ctx context.Context, q Querier, systemID, code string) (bool, error) {
	var active bool
	err := q.QueryRowContext(ctx,
		"SELECT active FROM system_module WHERE system_id = $1 AND code = $2",
		systemID, code).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query module %s: %w", code, err)
	}
	return active, nil
}
