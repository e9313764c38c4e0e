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

	"github.com/casblasvic/weekly-calendar-sub018/auth"
	"github.com/casblasvic/weekly-calendar-sub018/cliparse"
	"github.com/casblasvic/weekly-calendar-sub018/db"
	"github.com/casblasvic/weekly-calendar-sub018/logging"
	"github.com/casblasvic/weekly-calendar-sub018/middleware"
	"github.com/casblasvic/weekly-calendar-sub018/models"
	"github.com/casblasvic/weekly-calendar-sub018/realtime"
	"github.com/casblasvic/weekly-calendar-sub018/timer"
)

// WebhookHandler receives power events posted by smart plugs, or by a
// bridge relaying them. Requests carry no session; the path token proves
// the sender knows the system's webhook secret.
type WebhookHandler struct {
	db   *sql.DB
	cfg  cliparse.Config
	deps DeviceDeps
}

func NewWebhookHandler(db *sql.DB, cfg cliparse.Config, deps DeviceDeps) *WebhookHandler {
	return &WebhookHandler{db: db, cfg: cfg, deps: deps}
}

type webhookDevice struct {
	ID           string
	AssignmentID sql.NullString
	EquipmentID  sql.NullString
}

// findWebhookDevice matches id against the plug's device ID, cloud ID or
// row ID within the system.
func findWebhookDevice(ctx context.Context, q db.Querier, systemID, id string) (webhookDevice, error) {
	var d webhookDevice
	err := q.QueryRowContext(ctx, `
		SELECT p.id, p.equipment_clinic_assignment_id, a.equipment_id
		FROM smart_plug_device p
		LEFT JOIN equipment_clinic_assignment a ON a.id = p.equipment_clinic_assignment_id
		WHERE p.system_id = $1 AND (p.device_id = $2 OR p.cloud_id = $2 OR p.id = $2)
		LIMIT 1
	`, systemID, id).Scan(&d.ID, &d.AssignmentID, &d.EquipmentID)
	return d, err
}

// Receive handles POST /api/webhooks/{systemId}/{token}
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	systemID := r.PathValue("systemId")
	if err := auth.ValidateWebhookToken(systemID, r.PathValue("token"), h.cfg.WebhookSecret); err != nil {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid webhook token")
		return
	}

	var req models.WebhookRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.DeviceID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "device_id is required")
		return
	}
	switch req.Event {
	case models.WebhookPowerOn, models.WebhookPowerOff, models.WebhookEnergyReport:
	default:
		middleware.ErrorResponse(w, http.StatusBadRequest, "Unknown event "+req.Event)
		return
	}

	ctx := logging.WithSystemID(r.Context(), systemID)
	dev, err := findWebhookDevice(ctx, h.db, systemID, req.DeviceID)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Device not found")
		return
	}
	if err != nil {
		dbError(w, r, "failed to load device", err)
		return
	}

	at := clock()
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		at = req.Timestamp.UTC()
	}

	var resp models.WebhookResponse
	switch req.Event {
	case models.WebhookPowerOn:
		resp, err = h.powerOn(ctx, systemID, dev, req, at)
	case models.WebhookPowerOff:
		resp, err = h.powerOff(ctx, systemID, dev, req, at)
	case models.WebhookEnergyReport:
		resp, err = h.energyReport(ctx, dev, req, at)
	}
	if err != nil {
		dbError(w, r, "failed to process webhook", err)
		return
	}

	logging.FromContext(ctx).Debug(ctx, "webhook processed",
		zap.String("event", req.Event),
		zap.String("device_id", dev.ID),
		zap.String("action", resp.Action))
	broadcast(ctx, h.deps.Pub, realtime.EventDeviceUpdate, systemID, map[string]any{
		"device_id": dev.ID,
		"event":     req.Event,
		"power":     req.Power,
	})
	middleware.JSONResponse(w, http.StatusOK, resp)
}

// powerOn resumes a paused usage of the plug, or opens one when the event
// names an appointment and the plug is idle.
func (h *WebhookHandler) powerOn(ctx context.Context, systemID string, dev webhookDevice, req models.WebhookRequest, at time.Time) (models.WebhookResponse, error) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return models.WebhookResponse{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"UPDATE smart_plug_device SET relay_on = $1, online = $1, current_power = COALESCE($2, current_power), last_seen_at = $3, updated_at = $3 WHERE id = $4",
		true, req.Power, at, dev.ID); err != nil {
		return models.WebhookResponse{}, err
	}

	resp := models.WebhookResponse{Action: "device_updated"}
	var changed *usageRow
	u, err := openUsageForDevice(ctx, tx, dev.ID)
	switch {
	case err == nil:
		resp.UsageID = u.ID
		if u.Status == timer.StatusActive {
			resp.Action = "already_active"
			break
		}
		if err := u.Resume(at); err != nil {
			return resp, err
		}
		saved, err := saveUsage(ctx, tx, u, timer.StatusPaused)
		if err != nil {
			return resp, err
		}
		if saved {
			resp.Action = "resumed"
			changed = &u
		}
	case errors.Is(err, sql.ErrNoRows):
		if req.AppointmentID == "" {
			break
		}
		nu, ok, err := h.startFromWebhook(ctx, tx, systemID, dev, req.AppointmentID, at)
		if err != nil {
			return resp, err
		}
		if ok {
			resp.Action = "started"
			resp.UsageID = nu.ID
			changed = &nu
		}
	default:
		return resp, err
	}

	if err := tx.Commit(); err != nil {
		return resp, err
	}
	if changed != nil {
		h.deps.timerUpdated(ctx, resp.Action, *changed)
	}
	return resp, nil
}

// startFromWebhook opens an ACTIVE usage for an appointment that has none.
// Unknown, closed or already running appointments are ignored.
func (h *WebhookHandler) startFromWebhook(ctx context.Context, tx *sql.Tx, systemID string, dev webhookDevice, appointmentID string, at time.Time) (usageRow, bool, error) {
	a, err := loadApptRow(ctx, tx, systemID, appointmentID)
	if errors.Is(err, sql.ErrNoRows) {
		return usageRow{}, false, nil
	}
	if err != nil {
		return usageRow{}, false, err
	}
	if a.Status == models.AppointmentCancelled || a.Status == models.AppointmentCompleted {
		return usageRow{}, false, nil
	}
	if _, err := openUsage(ctx, tx, a.ID); err == nil {
		return usageRow{}, false, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return usageRow{}, false, err
	}

	services, err := loadApptServices(ctx, tx, a.ID)
	if err != nil {
		return usageRow{}, false, err
	}
	u := usageRow{
		SystemID:      systemID,
		AppointmentID: a.ID,
		EquipmentID:   dev.EquipmentID,
		AssignmentID:  dev.AssignmentID,
		DeviceID:      sql.NullString{String: dev.ID, Valid: true},
		ServiceIDs:    make([]string, 0, len(services)),
	}
	u.StartedAt = at
	u.EstimatedMinutes = timer.EstimateMinutes(durations(services))
	for _, s := range services {
		u.ServiceIDs = append(u.ServiceIDs, s.ServiceID)
	}
	if err := insertUsage(ctx, tx, &u, "", nil); err != nil {
		return usageRow{}, false, err
	}
	if err := markStarted(ctx, tx, a.ID, nil); err != nil {
		return usageRow{}, false, err
	}
	return u, true, nil
}

// powerOff closes the plug's usage as AUTO_SHUTDOWN. The appointment stays
// open so staff can still finish it by hand.
func (h *WebhookHandler) powerOff(ctx context.Context, systemID string, dev webhookDevice, req models.WebhookRequest, at time.Time) (models.WebhookResponse, error) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return models.WebhookResponse{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"UPDATE smart_plug_device SET relay_on = $1, current_power = 0, total_energy = COALESCE($2, total_energy), last_seen_at = $3, updated_at = $3 WHERE id = $4",
		false, req.Energy, at, dev.ID); err != nil {
		return models.WebhookResponse{}, err
	}

	resp := models.WebhookResponse{Action: "no_active_usage"}
	u, err := openUsageForDevice(ctx, tx, dev.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return resp, tx.Commit()
	}
	if err != nil {
		return resp, err
	}

	from := u.Status
	if err := u.Finish(at, timer.StatusAutoShutdown, "power_off"); err != nil {
		return resp, err
	}
	if req.Energy != nil {
		u.Energy = sql.NullFloat64{Float64: *req.Energy, Valid: true}
	}
	saved, err := saveUsage(ctx, tx, u, from)
	if err != nil {
		return resp, err
	}
	if err := tx.Commit(); err != nil {
		return resp, err
	}
	if !saved {
		return resp, nil
	}

	resp.Action = "stopped"
	resp.UsageID = u.ID
	resp.ActualMinutes = u.ActualMinutes
	h.deps.afterFinish(ctx, u, false)
	return resp, nil
}

// energyReport stores the plug's readings and the open usage's
// consumption so far.
func (h *WebhookHandler) energyReport(ctx context.Context, dev webhookDevice, req models.WebhookRequest, at time.Time) (models.WebhookResponse, error) {
	resp := models.WebhookResponse{Action: "energy_updated"}
	res, err := h.db.ExecContext(ctx, `
		UPDATE smart_plug_device SET
			current_power = COALESCE($1, current_power),
			total_energy = COALESCE($2, total_energy),
			voltage = COALESCE($3, voltage),
			temperature = COALESCE($4, temperature),
			online = $5,
			last_seen_at = $6,
			updated_at = $6
		WHERE id = $7
	`, req.Power, req.Energy, req.Voltage, req.Temperature, true, at, dev.ID)
	if err != nil {
		return resp, err
	}
	n, _ := res.RowsAffected()
	resp.Updated = int(n)

	if req.Energy == nil {
		return resp, nil
	}
	res, err = h.db.ExecContext(ctx, `
		UPDATE appointment_device_usage SET energy_consumption = $1, updated_at = $2
		WHERE device_id = $3 AND current_status IN ($4, $5)
	`, *req.Energy, at, dev.ID, timer.StatusActive, timer.StatusPaused)
	if err != nil {
		return resp, err
	}
	n, _ = res.RowsAffected()
	resp.Updated += int(n)
	return resp, nil
}
