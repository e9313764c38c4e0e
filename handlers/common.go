// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/casblasvic/weekly-calendar-sub018/db"
	"github.com/casblasvic/weekly-calendar-sub018/logging"
	"github.com/casblasvic/weekly-calendar-sub018/middleware"
	"github.com/casblasvic/weekly-calendar-sub018/realtime"
	"github.com/casblasvic/weekly-calendar-sub018/shelly"
)

// PlugController drives smart plugs through the Shelly cloud.
// *shelly.Manager implements it.
type PlugController interface {
	Control(ctx context.Context, d shelly.Device, on bool) (shelly.SendResult, error)
	Rename(ctx context.Context, d shelly.Device, name string) (shelly.SendResult, error)
	RefreshDevice(ctx context.Context, cred shelly.Credential, d shelly.Device) (shelly.Status, error)
}

// principal returns the caller or writes 401.
func principal(w http.ResponseWriter, r *http.Request) (middleware.Principal, bool) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Not authenticated")
	}
	return p, ok
}

// dbError logs err and writes a 500 with a generic message.
func dbError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	logging.FromContext(r.Context()).Error(r.Context(), msg, zap.Error(err))
	middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
}

// exists reports whether a row of table with id belongs to systemID.
// table is never user input.
func exists(ctx context.Context, q db.Querier, table, id, systemID string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = $1 AND system_id = $2", id, systemID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	return &nt.Time
}

func nullFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	return &nf.Float64
}

// broadcast publishes an event and logs failures. Publishing never fails
// the request that triggered it.
func broadcast(ctx context.Context, pub realtime.Publisher, eventType, systemID string, payload any) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, realtime.NewEvent(eventType, systemID, payload)); err != nil {
		logging.FromContext(ctx).Warn(ctx, "failed to publish event", zap.String("event", eventType), zap.Error(err))
	}
}
