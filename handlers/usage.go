// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/casblasvic/weekly-calendar-sub018/auth"
	"github.com/casblasvic/weekly-calendar-sub018/db"
	"github.com/casblasvic/weekly-calendar-sub018/energy"
	"github.com/casblasvic/weekly-calendar-sub018/logging"
	"github.com/casblasvic/weekly-calendar-sub018/metrics"
	"github.com/casblasvic/weekly-calendar-sub018/models"
	"github.com/casblasvic/weekly-calendar-sub018/realtime"
	"github.com/casblasvic/weekly-calendar-sub018/shelly"
	"github.com/casblasvic/weekly-calendar-sub018/timer"
)

// DeviceDeps are the collaborators of timer transitions: plugs to switch,
// the energy analysis and the realtime feed. Any of them may be nil.
type DeviceDeps struct {
	Store  *shelly.SQLStore
	Plugs  PlugController
	Energy *energy.Service
	Pub    realtime.Publisher
}

const usageColumns = `id, system_id, appointment_id, equipment_id, equipment_clinic_assignment_id, device_id,
	started_at, ended_at, paused_at, pause_intervals, estimated_minutes, actual_minutes, energy_consumption,
	current_status, end_reason, service_ids`

// usageRow is an appointment_device_usage row with its timer state.
type usageRow struct {
	ID            string
	SystemID      string
	AppointmentID string
	EquipmentID   sql.NullString
	AssignmentID  sql.NullString
	DeviceID      sql.NullString
	Energy        sql.NullFloat64
	ServiceIDs    []string
	timer.Usage
}

func scanUsage(s interface{ Scan(...any) error }) (usageRow, error) {
	var u usageRow
	var ended, paused sql.NullTime
	var actual sql.NullFloat64
	var intervals, serviceIDs, status string
	err := s.Scan(&u.ID, &u.SystemID, &u.AppointmentID, &u.EquipmentID, &u.AssignmentID, &u.DeviceID,
		&u.StartedAt, &ended, &paused, &intervals, &u.EstimatedMinutes, &actual, &u.Energy,
		&status, &u.EndReason, &serviceIDs)
	if err != nil {
		return u, err
	}
	u.StartedAt = u.StartedAt.UTC()
	u.EndedAt, u.PausedAt, u.ActualMinutes = utcTime(ended), utcTime(paused), nullFloat(actual)
	u.Status = timer.Status(status)
	if err := json.Unmarshal([]byte(intervals), &u.PauseIntervals); err != nil {
		return u, fmt.Errorf("usage %s has malformed pause intervals: %w", u.ID, err)
	}
	if err := json.Unmarshal([]byte(serviceIDs), &u.ServiceIDs); err != nil {
		return u, fmt.Errorf("usage %s has malformed service ids: %w", u.ID, err)
	}
	return u, nil
}

func utcTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// openUsage returns the ACTIVE or PAUSED usage of an appointment, or
// sql.ErrNoRows.
func openUsage(ctx context.Context, q db.Querier, appointmentID string) (usageRow, error) {
	return scanUsage(q.QueryRowContext(ctx, `
		SELECT `+usageColumns+` FROM appointment_device_usage
		WHERE appointment_id = $1 AND current_status IN ($2, $3)
		ORDER BY started_at DESC LIMIT 1
	`, appointmentID, timer.StatusActive, timer.StatusPaused))
}

// openUsageForDevice returns the usage currently holding a plug.
func openUsageForDevice(ctx context.Context, q db.Querier, deviceRowID string) (usageRow, error) {
	return scanUsage(q.QueryRowContext(ctx, `
		SELECT `+usageColumns+` FROM appointment_device_usage
		WHERE device_id = $1 AND current_status IN ($2, $3)
		ORDER BY started_at DESC LIMIT 1
	`, deviceRowID, timer.StatusActive, timer.StatusPaused))
}

// latestUsage prefers the open usage and falls back to the last one.
func latestUsage(ctx context.Context, q db.Querier, appointmentID string) (usageRow, error) {
	return scanUsage(q.QueryRowContext(ctx, `
		SELECT `+usageColumns+` FROM appointment_device_usage
		WHERE appointment_id = $1
		ORDER BY CASE WHEN current_status IN ($2, $3) THEN 0 ELSE 1 END, started_at DESC
		LIMIT 1
	`, appointmentID, timer.StatusActive, timer.StatusPaused))
}

// insertUsage stores a new ACTIVE usage.
func insertUsage(ctx context.Context, q db.Querier, u *usageRow, startedBy string, deviceData json.RawMessage) error {
	if u.ID == "" {
		u.ID = auth.NewID()
	}
	if u.ServiceIDs == nil {
		u.ServiceIDs = []string{}
	}
	if len(deviceData) == 0 {
		deviceData = json.RawMessage("{}")
	}
	u.Status = timer.StatusActive
	services, err := json.Marshal(u.ServiceIDs)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = q.ExecContext(ctx, `
		INSERT INTO appointment_device_usage (id, system_id, appointment_id, equipment_id, equipment_clinic_assignment_id,
			device_id, started_by_user_id, started_at, pause_intervals, estimated_minutes, current_status, service_ids,
			device_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '[]', $9, $10, $11, $12, $13, $13)
	`, u.ID, u.SystemID, u.AppointmentID, u.EquipmentID, u.AssignmentID, u.DeviceID, nullable(startedBy),
		u.StartedAt.UTC(), u.EstimatedMinutes, string(u.Status), string(services), string(deviceData), now)
	if err != nil {
		return fmt.Errorf("failed to insert usage: %w", err)
	}
	return nil
}

// saveUsage writes the timer state back only if the row is still in
// status from. A false return means another request won the race.
func saveUsage(ctx context.Context, q db.Querier, u usageRow, from timer.Status) (bool, error) {
	intervals := u.PauseIntervals
	if intervals == nil {
		intervals = []timer.PauseInterval{}
	}
	raw, err := json.Marshal(intervals)
	if err != nil {
		return false, err
	}
	res, err := q.ExecContext(ctx, `
		UPDATE appointment_device_usage
		SET ended_at = $1, paused_at = $2, pause_intervals = $3, actual_minutes = $4, energy_consumption = $5,
			current_status = $6, end_reason = $7, updated_at = $8
		WHERE id = $9 AND current_status = $10
	`, timePtr(u.EndedAt), timePtr(u.PausedAt), string(raw), floatPtr(u.ActualMinutes), u.Energy,
		string(u.Status), u.EndReason, time.Now().UTC(), u.ID, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to update usage: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func timePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func floatPtr(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func (u usageRow) view() models.DeviceUsage {
	v := models.DeviceUsage{
		ID:                          u.ID,
		AppointmentID:               u.AppointmentID,
		EquipmentID:                 nullString(u.EquipmentID),
		EquipmentClinicAssignmentID: nullString(u.AssignmentID),
		DeviceID:                    nullString(u.DeviceID),
		StartedAt:                   u.StartedAt,
		EndedAt:                     u.EndedAt,
		PausedAt:                    u.PausedAt,
		PauseIntervals:              u.PauseIntervals,
		EstimatedMinutes:            u.EstimatedMinutes,
		ActualMinutes:               u.ActualMinutes,
		EnergyConsumption:           nullFloat(u.Energy),
		CurrentStatus:               string(u.Status),
		EndReason:                   u.EndReason,
		ServiceIDs:                  u.ServiceIDs,
	}
	if v.PauseIntervals == nil {
		v.PauseIntervals = []timer.PauseInterval{}
	}
	if v.ServiceIDs == nil {
		v.ServiceIDs = []string{}
	}
	return v
}

func timerResponse(u usageRow, now time.Time) models.TimerResponse {
	end := now
	if u.EndedAt != nil {
		end = *u.EndedAt
	}
	return models.TimerResponse{
		Usage:            u.view(),
		ElapsedSeconds:   int64(u.Elapsed(now) / time.Second),
		RemainingSeconds: int64(u.Remaining(now) / time.Second),
		PausedSeconds:    int64(u.PausedDuration(end) / time.Second),
		Progress:         u.Progress(now),
		Overtime:         u.Overtime(now),
	}
}

// completeAppointment marks the appointment and its open services done.
func completeAppointment(ctx context.Context, q db.Querier, appointmentID string) error {
	if _, err := q.ExecContext(ctx,
		"UPDATE appointment_service SET status = $1 WHERE appointment_id = $2 AND status IN ($3, $4)",
		models.ServiceCompleted, appointmentID, models.ServiceScheduled, models.ServiceInProgress); err != nil {
		return fmt.Errorf("failed to complete services: %w", err)
	}
	if _, err := q.ExecContext(ctx,
		"UPDATE appointment SET status = $1 WHERE id = $2 AND status <> $3",
		models.AppointmentCompleted, appointmentID, models.AppointmentCancelled); err != nil {
		return fmt.Errorf("failed to complete appointment: %w", err)
	}
	return nil
}

// timerUpdated broadcasts a transition and counts it.
func (d DeviceDeps) timerUpdated(ctx context.Context, action string, u usageRow) {
	metrics.TimerTransitions.WithLabelValues(action).Inc()
	broadcast(ctx, d.Pub, realtime.EventTimerUpdate, u.SystemID, models.TimerUpdate{
		Action:        action,
		AppointmentID: u.AppointmentID,
		Usage:         u.view(),
	})
}

// switchPlug sends a relay command to the usage's plug and reports the
// outcome on the realtime feed.
func (d DeviceDeps) switchPlug(ctx context.Context, u usageRow, on bool) error {
	if d.Plugs == nil || d.Store == nil || !u.DeviceID.Valid {
		return nil
	}
	update := models.DeviceControlUpdate{
		AppointmentID:               u.AppointmentID,
		DeviceID:                    u.DeviceID.String,
		EquipmentClinicAssignmentID: u.AssignmentID.String,
	}

	dev, err := d.Store.DeviceByID(ctx, u.SystemID, u.DeviceID.String)
	var res shelly.SendResult
	if err == nil {
		res, err = d.Plugs.Control(ctx, dev, on)
	}
	if err != nil {
		update.Error = err.Error()
		broadcast(ctx, d.Pub, realtime.EventDeviceControlFailed, u.SystemID, update)
		return err
	}
	_, update.Status = sendStatus(res)
	update.DeviceTurnedOn = on
	broadcast(ctx, d.Pub, realtime.EventDeviceControlCompleted, u.SystemID, update)
	return nil
}

// afterFinish runs once a finished usage is committed: the plug is
// switched off, the energy analysis is fed and browsers are told.
// Failures are logged; the usage stays finished.
func (d DeviceDeps) afterFinish(ctx context.Context, u usageRow, turnOff bool) {
	log := logging.FromContext(ctx)
	if turnOff {
		if err := d.switchPlug(ctx, u, false); err != nil {
			log.Warn(ctx, "failed to switch off plug after finish",
				zap.String("usage_id", u.ID),
				zap.Error(err))
		}
	}
	if d.Energy != nil {
		if _, err := d.Energy.ProcessFinishedUsage(ctx, u.ID); err != nil {
			log.Warn(ctx, "energy analysis failed", zap.String("usage_id", u.ID), zap.Error(err))
		}
	}
	d.timerUpdated(ctx, "finished", u)
}

// placeholders renders "$start, $start+1, ..." for n arguments.
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "$" + strconv.Itoa(start+i)
	}
	return strings.Join(parts, ", ")
}
