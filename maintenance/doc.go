// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package maintenance schedules the housekeeping jobs of the server:
// pruning old connection rows, resetting connection rows whose socket
// died with a previous process, and the daily energy profile rebuild.
package maintenance
