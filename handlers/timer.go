// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/casblasvic/weekly-calendar-sub018/logging"
	"github.com/casblasvic/weekly-calendar-sub018/middleware"
	"github.com/casblasvic/weekly-calendar-sub018/models"
	"github.com/casblasvic/weekly-calendar-sub018/timer"
)

// clock is swapped in tests.
var clock = func() time.Time { return time.Now().UTC() }

// transition loads the open usage of the appointment in the path, applies
// step and saves it. It writes the error response itself and returns false
// on failure.
func (h *AppointmentHandler) transition(w http.ResponseWriter, r *http.Request, step func(*usageRow) error) (usageRow, bool) {
	p, ok := principal(w, r)
	if !ok {
		return usageRow{}, false
	}
	ctx := r.Context()
	a, err := loadApptRow(ctx, h.db, p.SystemID, r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Appointment not found")
		return usageRow{}, false
	}
	if err != nil {
		dbError(w, r, "failed to load appointment", err)
		return usageRow{}, false
	}

	u, err := openUsage(ctx, h.db, a.ID)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "No active timer")
		return usageRow{}, false
	}
	if err != nil {
		dbError(w, r, "failed to load usage", err)
		return usageRow{}, false
	}

	from := u.Status
	if err := step(&u); err != nil {
		middleware.ErrorResponse(w, http.StatusConflict, err.Error())
		return usageRow{}, false
	}
	saved, err := saveUsage(ctx, h.db, u, from)
	if err != nil {
		dbError(w, r, "failed to save usage", err)
		return usageRow{}, false
	}
	if !saved {
		middleware.ErrorResponse(w, http.StatusConflict, "Timer changed concurrently")
		return usageRow{}, false
	}
	return u, true
}

// PauseTimer handles POST /api/appointments/{id}/timer/pause
func (h *AppointmentHandler) PauseTimer(w http.ResponseWriter, r *http.Request) {
	t := clock()
	u, ok := h.transition(w, r, func(u *usageRow) error { return u.Pause(t) })
	if !ok {
		return
	}
	h.deps.timerUpdated(r.Context(), "paused", u)
	middleware.JSONResponse(w, http.StatusOK, timerResponse(u, t))
}

// ResumeTimer handles POST /api/appointments/{id}/timer/resume
func (h *AppointmentHandler) ResumeTimer(w http.ResponseWriter, r *http.Request) {
	t := clock()
	u, ok := h.transition(w, r, func(u *usageRow) error { return u.Resume(t) })
	if !ok {
		return
	}
	h.deps.timerUpdated(r.Context(), "resumed", u)
	middleware.JSONResponse(w, http.StatusOK, timerResponse(u, t))
}

// FinishTimer handles POST /api/appointments/{id}/timer/finish
// Closes the usage and the appointment together. The plug is switched off
// and the energy analysis runs once both are committed.
func (h *AppointmentHandler) FinishTimer(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.FinishTimerRequest
	if r.ContentLength != 0 {
		if err := middleware.ParseJSONBody(r, &req); err != nil {
			middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "manual"
	}
	ctx := r.Context()

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		dbError(w, r, "failed to begin transaction", err)
		return
	}
	defer tx.Rollback()

	a, err := loadApptRow(ctx, tx, p.SystemID, r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Appointment not found")
		return
	}
	if err != nil {
		dbError(w, r, "failed to load appointment", err)
		return
	}
	u, err := openUsage(ctx, tx, a.ID)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "No active timer")
		return
	}
	if err != nil {
		dbError(w, r, "failed to load usage", err)
		return
	}

	t := clock()
	from := u.Status
	if err := u.Finish(t, timer.StatusCompleted, reason); err != nil {
		middleware.ErrorResponse(w, http.StatusConflict, err.Error())
		return
	}
	saved, err := saveUsage(ctx, tx, u, from)
	if err != nil {
		dbError(w, r, "failed to save usage", err)
		return
	}
	if !saved {
		middleware.ErrorResponse(w, http.StatusConflict, "Timer changed concurrently")
		return
	}
	if err := completeAppointment(ctx, tx, a.ID); err != nil {
		dbError(w, r, "failed to complete appointment", err)
		return
	}
	if err := tx.Commit(); err != nil {
		dbError(w, r, "failed to commit finish", err)
		return
	}

	logging.FromContext(ctx).Info(ctx, "timer finished",
		zap.String("appointment_id", a.ID),
		zap.String("usage_id", u.ID),
		zap.Float64p("actual_minutes", u.ActualMinutes))
	h.deps.afterFinish(ctx, u, true)
	middleware.JSONResponse(w, http.StatusOK, timerResponse(u, t))
}

// GetTimer handles GET /api/appointments/{id}/timer
// Returns the open usage, or the most recent one once finished.
func (h *AppointmentHandler) GetTimer(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	a, err := loadApptRow(ctx, h.db, p.SystemID, r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Appointment not found")
		return
	}
	if err != nil {
		dbError(w, r, "failed to load appointment", err)
		return
	}
	u, err := latestUsage(ctx, h.db, a.ID)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "No timer for this appointment")
		return
	}
	if err != nil {
		dbError(w, r, "failed to load usage", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, timerResponse(u, clock()))
}
