// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/casblasvic/weekly-calendar-sub018/cliparse"
	"github.com/casblasvic/weekly-calendar-sub018/db"
	"github.com/casblasvic/weekly-calendar-sub018/logging"
	"github.com/casblasvic/weekly-calendar-sub018/middleware"
	"github.com/casblasvic/weekly-calendar-sub018/models"
	"github.com/casblasvic/weekly-calendar-sub018/shelly"
)

const (
	defaultLogLimit  = 50
	maxLogLimit      = 500
	defaultRetention = 7 * 24 * time.Hour
)

// ConnectionController owns the live sockets behind registry rows.
// *shelly.Manager implements it.
type ConnectionController interface {
	Connect(ctx context.Context, credentialID string) error
	Disconnect(ctx context.Context, credentialID string) error
	ForceReconnect(ctx context.Context, credentialID string) error
	Status(credentialID string) shelly.ConnStatus
	CleanupZombieConnections(ctx context.Context) (int, error)
}

// ListenerCounter reports how many browsers follow the realtime feed.
type ListenerCounter interface {
	ClientCount() int
}

type WebsocketHandler struct {
	db        *sql.DB
	cfg       cliparse.Config
	conns     ConnectionController
	listeners ListenerCounter
}

func NewWebsocketHandler(db *sql.DB, cfg cliparse.Config, conns ConnectionController, listeners ListenerCounter) *WebsocketHandler {
	return &WebsocketHandler{db: db, cfg: cfg, conns: conns, listeners: listeners}
}

func (h *WebsocketHandler) view(c db.Connection) models.ConnectionView {
	v := models.ConnectionView{Connection: c}
	if c.Type == db.ConnectionTypeShelly && h.conns != nil {
		st := h.conns.Status(c.ReferenceID)
		v.Live = &st
	}
	return v
}

// ListConnections handles GET /api/websocket/connections
func (h *WebsocketHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	conns, err := db.ListConnections(r.Context(), h.db, p.SystemID)
	if err != nil {
		dbError(w, r, "failed to list connections", err)
		return
	}
	out := make([]models.ConnectionView, 0, len(conns))
	for _, c := range conns {
		out = append(out, h.view(c))
	}
	middleware.JSONResponse(w, http.StatusOK, out)
}

// Stats handles GET /api/websocket/stats
func (h *WebsocketHandler) Stats(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	counts, err := db.ConnectionStatusCounts(ctx, h.db, p.SystemID)
	if err != nil {
		dbError(w, r, "failed to count connections", err)
		return
	}
	conns, err := db.ListConnections(ctx, h.db, p.SystemID)
	if err != nil {
		dbError(w, r, "failed to list connections", err)
		return
	}

	stats := models.ConnectionStats{ByStatus: counts}
	for _, n := range counts {
		stats.Total += n
	}
	stats.Active = counts[db.StatusConnected]

	var oldest, latest time.Time
	for _, c := range conns {
		if c.UpdatedAt.After(latest) {
			latest = c.UpdatedAt
		}
		if c.LastPingAt != nil && c.LastPingAt.After(latest) {
			latest = *c.LastPingAt
		}
		if c.Type != db.ConnectionTypeShelly || h.conns == nil {
			continue
		}
		st := h.conns.Status(c.ReferenceID)
		stats.MessagesIn += st.MessagesIn
		stats.MessagesOut += st.MessagesOut
		stats.QueuedCommands += st.Queued
		if st.Live {
			stats.LiveSockets++
		}
		if st.ConnectedAt != nil && (oldest.IsZero() || st.ConnectedAt.Before(oldest)) {
			oldest = *st.ConnectedAt
		}
	}
	stats.MessagesInHuman = humanize.Comma(stats.MessagesIn)
	stats.MessagesOutHuman = humanize.Comma(stats.MessagesOut)
	if !oldest.IsZero() {
		stats.OldestConnection = humanize.Time(oldest)
	}
	if !latest.IsZero() {
		stats.LastActivity = humanize.Time(latest)
	}
	if h.listeners != nil {
		stats.RealtimeListeners = h.listeners.ClientCount()
	}
	middleware.JSONResponse(w, http.StatusOK, stats)
}

// ConnectionLogs handles GET /api/websocket/connections/{id}/logs?limit=
func (h *WebsocketHandler) ConnectionLogs(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			middleware.ErrorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLogLimit)
	}

	c, ok := h.loadConnection(w, r, p.SystemID)
	if !ok {
		return
	}
	logs, err := db.ConnectionLogs(r.Context(), h.db, c.ID, limit)
	if err != nil {
		dbError(w, r, "failed to load connection logs", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, logs)
}

func (h *WebsocketHandler) loadConnection(w http.ResponseWriter, r *http.Request, systemID string) (db.Connection, bool) {
	c, err := db.GetConnection(r.Context(), h.db, systemID, r.PathValue("id"))
	if errors.Is(err, db.ErrConnectionNotFound) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Connection not found")
		return db.Connection{}, false
	}
	if err != nil {
		dbError(w, r, "failed to load connection", err)
		return db.Connection{}, false
	}
	return c, true
}

// ConnectionAction handles POST /api/websocket/connections/{id}/{action} (admin only)
func (h *WebsocketHandler) ConnectionAction(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	action := r.PathValue("action")

	c, ok := h.loadConnection(w, r, p.SystemID)
	if !ok {
		return
	}

	switch action {
	case models.ActionConnect, models.ActionDisconnect, models.ActionReconnect:
		if c.Type != db.ConnectionTypeShelly || h.conns == nil {
			middleware.ErrorResponse(w, http.StatusBadRequest, "Connection type "+c.Type+" cannot be controlled")
			return
		}
		var err error
		switch action {
		case models.ActionConnect:
			err = h.conns.Connect(ctx, c.ReferenceID)
		case models.ActionDisconnect:
			err = h.conns.Disconnect(ctx, c.ReferenceID)
		default:
			err = h.conns.ForceReconnect(ctx, c.ReferenceID)
		}
		if err != nil {
			connectionError(w, r, err)
			return
		}
	case models.ActionEnableAutoReconnect, models.ActionDisableAutoReconnect:
		if err := db.SetAutoReconnect(ctx, h.db, c.ID, action == models.ActionEnableAutoReconnect); err != nil {
			dbError(w, r, "failed to update auto reconnect", err)
			return
		}
	default:
		middleware.ErrorResponse(w, http.StatusBadRequest, "Unknown action "+action)
		return
	}

	logging.FromContext(ctx).Info(ctx, "connection action",
		zap.String("connection.id", c.ID), zap.String("action", action))

	c, ok = h.loadConnection(w, r, p.SystemID)
	if !ok {
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.ConnectionActionResponse{Action: action, Connection: h.view(c)})
}

func connectionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, shelly.ErrModuleInactive):
		middleware.ErrorResponse(w, http.StatusForbidden, "Shelly module is not active")
	case errors.Is(err, shelly.ErrCredentialNotFound):
		middleware.ErrorResponse(w, http.StatusNotFound, "Credential not found")
	case errors.Is(err, shelly.ErrClosed):
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Server is shutting down")
	default:
		logging.FromContext(r.Context()).Error(r.Context(), "connection action failed", zap.Error(err))
		middleware.ErrorResponse(w, http.StatusBadGateway, "Connection action failed")
	}
}

// Cleanup handles POST /api/websocket/cleanup (admin only)
// Removes old disconnected rows and resets rows with no live socket.
func (h *WebsocketHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	if _, ok := principal(w, r); !ok {
		return
	}
	ctx := r.Context()

	retention := h.cfg.ConnectionRetention
	if retention <= 0 {
		retention = defaultRetention
	}
	removed, err := db.CleanupOldConnections(ctx, h.db, retention)
	if err != nil {
		dbError(w, r, "failed to clean up connections", err)
		return
	}

	var zombies int
	if h.conns != nil {
		if zombies, err = h.conns.CleanupZombieConnections(ctx); err != nil {
			dbError(w, r, "failed to reset zombie connections", err)
			return
		}
	}
	middleware.JSONResponse(w, http.StatusOK, models.CleanupResponse{RemovedConnections: removed, ZombiesReset: zombies})
}
