// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import (
	"github.com/casblasvic/weekly-calendar-sub018/db"
	"github.com/casblasvic/weekly-calendar-sub018/shelly"
)

// Connection actions
const (
	ActionConnect              = "connect"
	ActionDisconnect           = "disconnect"
	ActionReconnect            = "reconnect"
	ActionEnableAutoReconnect  = "enable-auto-reconnect"
	ActionDisableAutoReconnect = "disable-auto-reconnect"
)

// ConnectionView is a registry row with the live socket state, when the
// process holds one.
type ConnectionView struct {
	db.Connection
	Live *shelly.ConnStatus `json:"live,omitempty"`
}

type ConnectionStats struct {
	ByStatus          map[string]int `json:"by_status"`
	Total             int            `json:"total"`
	Active            int            `json:"active"`
	LiveSockets       int            `json:"live_sockets"`
	MessagesIn        int64          `json:"messages_in"`
	MessagesOut       int64          `json:"messages_out"`
	MessagesInHuman   string         `json:"messages_in_human"`
	MessagesOutHuman  string         `json:"messages_out_human"`
	OldestConnection  string         `json:"oldest_connection,omitempty"`
	LastActivity      string         `json:"last_activity,omitempty"`
	QueuedCommands    int            `json:"queued_commands"`
	RealtimeListeners int            `json:"realtime_listeners"`
}

type ConnectionActionResponse struct {
	Action     string         `json:"action"`
	Connection ConnectionView `json:"connection"`
}

type CleanupResponse struct {
	RemovedConnections int64 `json:"removed_connections"`
	ZombiesReset       int   `json:"zombies_reset"`
}
