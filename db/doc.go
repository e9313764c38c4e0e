// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package db opens the database, creates the schema and holds the queries
shared across packages.

	conn, err := db.Open(cfg.DatabaseType, cfg.DatabaseURL)
	if err := db.CreateSchema(conn); err != nil {
		log.Fatal(err)
	}

Both SQLite (modernc.org/sqlite) and PostgreSQL (lib/pq) are supported.
Queries use $n placeholders, which both drivers accept. CreateSchema is
safe to call repeatedly.

# Connection Registry

websocket_connection records every long-lived socket the server keeps,
keyed by (type, reference, system). FindOrCreateConnection,
UpdateConnectionStatus and LogConnectionEvent maintain it;
CleanupOldConnections prunes rows that stayed disconnected or errored
past the retention window.

# Helpers

  - NextSequence: per scope and year document counters
  - IsModuleActive: module toggles, false when never set
  - IsUniqueViolation: unique constraint failures on either driver
*/
package db
