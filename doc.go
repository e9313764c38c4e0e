// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package main provides the entry point for the weekly-calendar API server.

weekly-calendar runs the back office of aesthetic clinics: a weekly
appointment calendar whose treatments drive Shelly smart plugs, equipment
timers, tickets and invoices posted to a double-entry journal, CRM leads
and energy anomaly analysis.

# Commands

	weekly-calendar serve      Run the HTTP server and the Shelly manager
	weekly-calendar migrate    Create or update the database schema
	weekly-calendar template   Print the chart of accounts for a country

# Configuration

Configuration is layered: defaults, a --config YAML file, .env, the
environment, then flags. Environment variables use the WEEKCAL_ prefix;
PORT, DATABASE_URL and DATABASE_TYPE are also read unprefixed.

Required settings:

  - WEEKCAL_DATABASE_URL (-d): SQLite path or PostgreSQL URL
  - WEEKCAL_TOKEN_SECRET: bearer token HMAC secret
  - WEEKCAL_WEBHOOK_SECRET: webhook path token secret
  - WEEKCAL_ENCRYPTION_KEY: 32-byte hex key for stored Shelly tokens

Optional settings:

  - WEEKCAL_PORT (-p): server port (default: 3318)
  - WEEKCAL_DATABASE_TYPE (-t): sqlite or postgres (default: sqlite)
  - WEEKCAL_NATS_URL: external NATS server for event fan-out
  - WEEKCAL_MAINTENANCE_SCHEDULE: cron spec (default: @every 1h)
  - WEEKCAL_LOG_LEVEL, WEEKCAL_LOG_FORMAT: zap level and json or console

# Architecture

  - handlers: HTTP request handlers
  - router: route table and auth wrapping
  - middleware: logging, CORS, bearer auth, JSON helpers
  - shelly: cloud client, WebSocket manager and command queue
  - timer, equipment, energy: usage timers, availability, anomaly analysis
  - billing, accounting: ticket totals and journal posting
  - realtime: browser event hub and NATS bridge
  - maintenance: cron housekeeping
  - db, models, auth, cliparse, logging, metrics: shared plumbing

See package documentation for each component.
*/
package main
