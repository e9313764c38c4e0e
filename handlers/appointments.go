// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/casblasvic/weekly-calendar-sub018/auth"
	"github.com/casblasvic/weekly-calendar-sub018/cliparse"
	"github.com/casblasvic/weekly-calendar-sub018/db"
	"github.com/casblasvic/weekly-calendar-sub018/equipment"
	"github.com/casblasvic/weekly-calendar-sub018/logging"
	"github.com/casblasvic/weekly-calendar-sub018/middleware"
	"github.com/casblasvic/weekly-calendar-sub018/models"
	"github.com/casblasvic/weekly-calendar-sub018/timer"
)

const dateLayout = "2006-01-02"

// deviceControlTimeout bounds the asynchronous "on" command sent after a
// device is assigned.
const deviceControlTimeout = 10 * time.Second

type AppointmentHandler struct {
	db   *sql.DB
	cfg  cliparse.Config
	deps DeviceDeps
	wg   sync.WaitGroup
}

func NewAppointmentHandler(db *sql.DB, cfg cliparse.Config, deps DeviceDeps) *AppointmentHandler {
	return &AppointmentHandler{db: db, cfg: cfg, deps: deps}
}

// Wait blocks until background device commands have finished.
func (h *AppointmentHandler) Wait() {
	h.wg.Wait()
}

// apptRow is the part of an appointment the timer endpoints need.
type apptRow struct {
	ID             string
	ClinicID       string
	Status         string
	ProfessionalID sql.NullString
}

func loadApptRow(ctx context.Context, q db.Querier, systemID, id string) (apptRow, error) {
	var a apptRow
	err := q.QueryRowContext(ctx,
		"SELECT id, clinic_id, status, professional_user_id FROM appointment WHERE id = $1 AND system_id = $2",
		id, systemID).Scan(&a.ID, &a.ClinicID, &a.Status, &a.ProfessionalID)
	return a, err
}

// apptService is an appointment service with the durations and equipment
// of its catalog service.
type apptService struct {
	models.AppointmentService
	Equipment []string
}

func loadApptServices(ctx context.Context, q db.Querier, appointmentID string) ([]apptService, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT aps.id, aps.service_id, s.name, s.duration_minutes, s.treatment_duration_minutes, aps.status
		FROM appointment_service aps JOIN service s ON s.id = aps.service_id
		WHERE aps.appointment_id = $1
		ORDER BY aps.created_at, aps.id
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	var out []apptService
	for rows.Next() {
		var s apptService
		if err := rows.Scan(&s.ID, &s.ServiceID, &s.Name, &s.DurationMinutes, &s.TreatmentDurationMinutes, &s.Status); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		out[i].Equipment, err = queryIDs(ctx, q,
			"SELECT equipment_id FROM service_equipment_requirement WHERE service_id = $1 ORDER BY equipment_id",
			out[i].ServiceID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func durations(services []apptService) []timer.ServiceDuration {
	out := make([]timer.ServiceDuration, len(services))
	for i, s := range services {
		out[i] = timer.ServiceDuration{DurationMinutes: s.DurationMinutes, TreatmentDurationMinutes: s.TreatmentDurationMinutes}
	}
	return out
}

// loadAssignments lists the clinic's active units of the given equipment
// with their plugs. InUse is set when another appointment holds an open
// usage on the unit or its plug.
func loadAssignments(ctx context.Context, q db.Querier, clinicID, appointmentID string, equipmentIDs []string) ([]equipment.Assignment, error) {
	if len(equipmentIDs) == 0 {
		return nil, nil
	}
	args := []any{clinicID, appointmentID, true, timer.StatusActive, timer.StatusPaused}
	for _, id := range equipmentIDs {
		args = append(args, id)
	}
	rows, err := q.QueryContext(ctx, `
		SELECT a.id, a.equipment_id, e.name, a.serial_number, a.device_name, a.cabin_id, COALESCE(c.name, ''),
			p.id, p.device_id, p.name, p.online, p.relay_on, p.current_power,
			EXISTS (
				SELECT 1 FROM appointment_device_usage u
				WHERE u.current_status IN ($4, $5) AND u.appointment_id <> $2
				AND (u.equipment_clinic_assignment_id = a.id OR (p.id IS NOT NULL AND u.device_id = p.id))
			)
		FROM equipment_clinic_assignment a
		JOIN equipment e ON e.id = a.equipment_id
		LEFT JOIN cabin c ON c.id = a.cabin_id
		LEFT JOIN smart_plug_device p ON p.equipment_clinic_assignment_id = a.id
		WHERE a.clinic_id = $1 AND a.is_active = $3 AND a.equipment_id IN (`+placeholders(6, len(equipmentIDs))+`)
		ORDER BY e.name, a.serial_number
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []equipment.Assignment
	for rows.Next() {
		var a equipment.Assignment
		var cabin, plugID, plugDevice, plugName sql.NullString
		var online, relay sql.NullBool
		var power sql.NullFloat64
		if err := rows.Scan(&a.ID, &a.EquipmentID, &a.EquipmentName, &a.SerialNumber, &a.DeviceName, &cabin, &a.CabinName,
			&plugID, &plugDevice, &plugName, &online, &relay, &power, &a.InUse); err != nil {
			return nil, err
		}
		a.CabinID = nullString(cabin)
		if plugID.Valid {
			a.Plug = &equipment.PlugState{
				ID:           plugID.String,
				DeviceID:     plugDevice.String,
				Name:         plugName.String,
				Online:       online.Bool,
				RelayOn:      relay.Bool,
				CurrentPower: nullFloat(power),
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateAppointment handles POST /api/appointments
func (h *AppointmentHandler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.CreateAppointmentRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.ClinicID == "" || req.PersonID == "" || req.StartTime.IsZero() || len(req.ServiceIDs) == 0 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "clinic_id, person_id, start_time and service_ids are required")
		return
	}
	if !checkRef(w, r, h.db, "clinic", req.ClinicID, p.SystemID, "Clinic") ||
		!checkRef(w, r, h.db, "person", req.PersonID, p.SystemID, "Person") ||
		!checkRef(w, r, h.db, "app_user", req.ProfessionalUserID, p.SystemID, "Professional") {
		return
	}
	ctx := r.Context()
	if req.CabinID != "" {
		var cabinClinic string
		err := h.db.QueryRowContext(ctx, "SELECT clinic_id FROM cabin WHERE id = $1 AND system_id = $2",
			req.CabinID, p.SystemID).Scan(&cabinClinic)
		if errors.Is(err, sql.ErrNoRows) || cabinClinic != req.ClinicID {
			middleware.ErrorResponse(w, http.StatusBadRequest, "Cabin not found in this clinic")
			return
		}
		if err != nil {
			dbError(w, r, "failed to check cabin", err)
			return
		}
	}

	total := 0
	for _, id := range req.ServiceIDs {
		s, err := loadService(ctx, h.db, p.SystemID, id)
		if errors.Is(err, sql.ErrNoRows) {
			middleware.ErrorResponse(w, http.StatusBadRequest, "Service "+id+" not found")
			return
		}
		if err != nil {
			dbError(w, r, "failed to load service", err)
			return
		}
		total += s.DurationMinutes
	}

	start := req.StartTime.UTC()
	a := models.Appointment{
		ID:                       auth.NewID(),
		ClinicID:                 req.ClinicID,
		PersonID:                 req.PersonID,
		StartTime:                start,
		EndTime:                  start.Add(time.Duration(total) * time.Minute),
		StartDate:                start.Format(dateLayout),
		EstimatedDurationMinutes: total,
		Status:                   models.AppointmentScheduled,
		CreatedAt:                time.Now().UTC(),
	}
	if req.ProfessionalUserID != "" {
		a.ProfessionalUserID = &req.ProfessionalUserID
	}
	if req.CabinID != "" {
		a.CabinID = &req.CabinID
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		dbError(w, r, "failed to begin transaction", err)
		return
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO appointment (id, system_id, clinic_id, person_id, professional_user_id, cabin_id, start_time, end_time,
			start_date, estimated_duration_minutes, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, a.ID, p.SystemID, a.ClinicID, a.PersonID, nullable(req.ProfessionalUserID), nullable(req.CabinID),
		a.StartTime, a.EndTime, a.StartDate, a.EstimatedDurationMinutes, a.Status, a.CreatedAt)
	if err != nil {
		dbError(w, r, "failed to insert appointment", err)
		return
	}
	for i, id := range req.ServiceIDs {
		// Offset creation times so service order survives the round trip.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO appointment_service (id, appointment_id, service_id, status, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, auth.NewID(), a.ID, id, models.ServiceScheduled, a.CreatedAt.Add(time.Duration(i)*time.Millisecond)); err != nil {
			dbError(w, r, "failed to insert appointment service", err)
			return
		}
	}

	full, err := h.loadAppointment(ctx, tx, p.SystemID, a.ID)
	if err != nil {
		dbError(w, r, "failed to load appointment", err)
		return
	}
	if err := tx.Commit(); err != nil {
		dbError(w, r, "failed to commit appointment", err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, full)
}

// loadAppointment reads an appointment with its services and open usage.
func (h *AppointmentHandler) loadAppointment(ctx context.Context, q db.Querier, systemID, id string) (models.Appointment, error) {
	var a models.Appointment
	var prof, cabin sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT id, clinic_id, person_id, professional_user_id, cabin_id, start_time, end_time, start_date,
			estimated_duration_minutes, status, created_at
		FROM appointment WHERE id = $1 AND system_id = $2
	`, id, systemID).Scan(&a.ID, &a.ClinicID, &a.PersonID, &prof, &cabin, &a.StartTime, &a.EndTime, &a.StartDate,
		&a.EstimatedDurationMinutes, &a.Status, &a.CreatedAt)
	if err != nil {
		return a, err
	}
	a.ProfessionalUserID, a.CabinID = nullString(prof), nullString(cabin)
	a.StartTime, a.EndTime = a.StartTime.UTC(), a.EndTime.UTC()

	services, err := loadApptServices(ctx, q, a.ID)
	if err != nil {
		return a, err
	}
	a.Services = make([]models.AppointmentService, len(services))
	for i, s := range services {
		a.Services[i] = s.AppointmentService
	}

	u, err := openUsage(ctx, q, a.ID)
	if err == nil {
		v := u.view()
		a.ActiveUsage = &v
	} else if !errors.Is(err, sql.ErrNoRows) {
		return a, err
	}
	return a, nil
}

// ListAppointments handles GET /api/appointments?clinic_id=&from=&to=
// Dates are inclusive YYYY-MM-DD in UTC. Without a range the current week,
// Monday to Sunday, is returned.
func (h *AppointmentHandler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	from, to, err := weekRange(q.Get("from"), q.Get("to"), time.Now().UTC())
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "from and to must be YYYY-MM-DD with from <= to")
		return
	}

	query := "SELECT id FROM appointment WHERE system_id = $1 AND start_date >= $2 AND start_date <= $3"
	args := []any{p.SystemID, from, to}
	if clinic := q.Get("clinic_id"); clinic != "" {
		query += " AND clinic_id = $4"
		args = append(args, clinic)
	}
	query += " ORDER BY start_time, id"

	ctx := r.Context()
	ids, err := queryIDs(ctx, h.db, query, args...)
	if err != nil {
		dbError(w, r, "failed to list appointments", err)
		return
	}
	out := make([]models.Appointment, 0, len(ids))
	for _, id := range ids {
		a, err := h.loadAppointment(ctx, h.db, p.SystemID, id)
		if err != nil {
			dbError(w, r, "failed to load appointment", err)
			return
		}
		out = append(out, a)
	}
	middleware.JSONResponse(w, http.StatusOK, out)
}

// weekRange resolves an inclusive date range, defaulting to the ISO week
// of now.
func weekRange(fromStr, toStr string, now time.Time) (string, string, error) {
	var from, to time.Time
	var err error
	if fromStr == "" {
		offset := (int(now.Weekday()) + 6) % 7
		from = time.Date(now.Year(), now.Month(), now.Day()-offset, 0, 0, 0, 0, time.UTC)
	} else if from, err = time.Parse(dateLayout, fromStr); err != nil {
		return "", "", err
	}
	if toStr == "" {
		to = from.AddDate(0, 0, 6)
	} else if to, err = time.Parse(dateLayout, toStr); err != nil {
		return "", "", err
	}
	if to.Before(from) {
		return "", "", errors.New("range ends before it starts")
	}
	return from.Format(dateLayout), to.Format(dateLayout), nil
}

// GetAppointment handles GET /api/appointments/{id}
func (h *AppointmentHandler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	a, err := h.loadAppointment(r.Context(), h.db, p.SystemID, r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Appointment not found")
		return
	}
	if err != nil {
		dbError(w, r, "failed to load appointment", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, a)
}

// CancelAppointment handles DELETE /api/appointments/{id}
func (h *AppointmentHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	id := r.PathValue("id")

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		dbError(w, r, "failed to begin transaction", err)
		return
	}
	defer tx.Rollback()

	a, err := loadApptRow(ctx, tx, p.SystemID, id)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Appointment not found")
		return
	}
	if err != nil {
		dbError(w, r, "failed to load appointment", err)
		return
	}
	if _, err := openUsage(ctx, tx, a.ID); err == nil {
		middleware.ErrorResponse(w, http.StatusConflict, "Appointment has a running timer")
		return
	} else if !errors.Is(err, sql.ErrNoRows) {
		dbError(w, r, "failed to check usage", err)
		return
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE appointment SET status = $1 WHERE id = $2 AND status IN ($3, $4)",
		models.AppointmentCancelled, a.ID, models.AppointmentScheduled, models.AppointmentInProgress)
	if err != nil {
		dbError(w, r, "failed to cancel appointment", err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "Appointment is already "+a.Status)
		return
	}
	if err := tx.Commit(); err != nil {
		dbError(w, r, "failed to commit cancellation", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Message: "Appointment cancelled"})
}

// StartAppointment handles POST /api/appointments/{id}/start
// Picks the equipment unit for the appointment and opens its usage timer.
// When several units are free the caller must choose one.
func (h *AppointmentHandler) StartAppointment(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.StartAppointmentRequest
	if r.ContentLength != 0 {
		if err := middleware.ParseJSONBody(r, &req); err != nil {
			middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
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
	if a.Status == models.AppointmentCancelled || a.Status == models.AppointmentCompleted {
		middleware.ErrorResponse(w, http.StatusConflict, "Appointment is "+a.Status)
		return
	}
	if _, err := openUsage(ctx, h.db, a.ID); err == nil {
		middleware.ErrorResponse(w, http.StatusConflict, "Appointment already has a running timer")
		return
	} else if !errors.Is(err, sql.ErrNoRows) {
		dbError(w, r, "failed to check usage", err)
		return
	}

	services, err := loadApptServices(ctx, h.db, a.ID)
	if err != nil {
		dbError(w, r, "failed to load services", err)
		return
	}
	requirements := 0
	seen := map[string]bool{}
	var equipmentIDs []string
	for _, s := range services {
		if len(s.Equipment) > 0 {
			requirements++
		}
		for _, id := range s.Equipment {
			if !seen[id] {
				seen[id] = true
				equipmentIDs = append(equipmentIDs, id)
			}
		}
	}

	var selected *equipment.Assignment
	if !req.WithoutEquipment && requirements > 0 {
		assignments, err := loadAssignments(ctx, h.db, a.ClinicID, a.ID, equipmentIDs)
		if err != nil {
			dbError(w, r, "failed to load equipment", err)
			return
		}

		if req.EquipmentClinicAssignmentID != "" || req.EquipmentID != "" {
			asg, found := equipment.Find(assignments, req.EquipmentClinicAssignmentID, req.EquipmentID)
			if !found {
				middleware.ErrorResponse(w, http.StatusBadRequest, "Equipment is not available for this appointment's clinic")
				return
			}
			if !asg.IsAvailable() {
				middleware.JSONResponse(w, http.StatusConflict, models.StartAppointmentResponse{
					Error:              "Selected equipment is " + string(asg.Status()),
					AvailableEquipment: equipment.Options(assignments),
				})
				return
			}
			selected = &asg
		} else {
			d := equipment.Decide(assignments, requirements)
			switch d.Kind {
			case equipment.AllOccupied:
				middleware.JSONResponse(w, http.StatusConflict, models.StartAppointmentResponse{
					Error:              "All equipment for this appointment is in use",
					AvailableEquipment: d.Options,
				})
				return
			case equipment.RequiresSelection:
				middleware.JSONResponse(w, http.StatusOK, models.StartAppointmentResponse{
					RequiresEquipmentSelection: true,
					AvailableEquipment:         d.Options,
				})
				return
			case equipment.AutoSelect:
				selected = d.Selected
			}
		}
	}

	u := usageRow{
		SystemID:      p.SystemID,
		AppointmentID: a.ID,
		ServiceIDs:    make([]string, 0, len(services)),
	}
	u.StartedAt = clock()
	u.EstimatedMinutes = timer.EstimateMinutes(durations(services))
	for _, s := range services {
		u.ServiceIDs = append(u.ServiceIDs, s.ServiceID)
	}
	if selected != nil {
		u.EquipmentID = sql.NullString{String: selected.EquipmentID, Valid: true}
		u.AssignmentID = sql.NullString{String: selected.ID, Valid: true}
		if selected.Plug != nil {
			u.DeviceID = sql.NullString{String: selected.Plug.ID, Valid: true}
		}
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		dbError(w, r, "failed to begin transaction", err)
		return
	}
	defer tx.Rollback()

	// Re-check inside the write transaction so concurrent starts lose.
	if _, err := openUsage(ctx, tx, a.ID); err == nil {
		middleware.ErrorResponse(w, http.StatusConflict, "Appointment already has a running timer")
		return
	} else if !errors.Is(err, sql.ErrNoRows) {
		dbError(w, r, "failed to check usage", err)
		return
	}
	if err := insertUsage(ctx, tx, &u, p.UserID, nil); err != nil {
		dbError(w, r, "failed to start usage", err)
		return
	}
	if err := markStarted(ctx, tx, a.ID, nil); err != nil {
		dbError(w, r, "failed to update appointment", err)
		return
	}
	if err := tx.Commit(); err != nil {
		dbError(w, r, "failed to commit start", err)
		return
	}

	logging.FromContext(ctx).Info(ctx, "appointment started",
		zap.String("appointment_id", a.ID),
		zap.String("usage_id", u.ID),
		zap.Bool("with_equipment", selected != nil))
	h.deps.timerUpdated(ctx, "started", u)

	resp := models.StartAppointmentResponse{Started: true}
	view := u.view()
	resp.Usage = &view
	if selected != nil {
		resp.SelectedAssignmentID = &selected.ID
	}
	middleware.JSONResponse(w, http.StatusOK, resp)
}

// markStarted moves the appointment and its scheduled services, or only
// the listed ones, to IN_PROGRESS.
func markStarted(ctx context.Context, q db.Querier, appointmentID string, serviceIDs []string) error {
	if _, err := q.ExecContext(ctx,
		"UPDATE appointment SET status = $1 WHERE id = $2 AND status = $3",
		models.AppointmentInProgress, appointmentID, models.AppointmentScheduled); err != nil {
		return err
	}
	query := "UPDATE appointment_service SET status = $1 WHERE appointment_id = $2 AND status = $3"
	args := []any{models.ServiceInProgress, appointmentID, models.ServiceScheduled}
	if len(serviceIDs) > 0 {
		query += " AND service_id IN (" + placeholders(4, len(serviceIDs)) + ")"
		for _, id := range serviceIDs {
			args = append(args, id)
		}
	}
	_, err := q.ExecContext(ctx, query, args...)
	return err
}

// AssignDevice handles POST /api/appointments/{id}/assign-device
// Attaches a plug-equipped unit to the appointment and opens a usage for
// the services that need that equipment. Open usages of the appointment
// without a plug, or on the same plug, are finished first.
func (h *AppointmentHandler) AssignDevice(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.AssignDeviceRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.EquipmentClinicAssignmentID == "" || req.DeviceID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "equipment_clinic_assignment_id and device_id are required")
		return
	}
	if len(req.DeviceData) > 0 && !json.Valid(req.DeviceData) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "device_data must be JSON")
		return
	}
	turnOn := req.TurnOnDevice == nil || *req.TurnOnDevice
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
	if a.Status == models.AppointmentCancelled || a.Status == models.AppointmentCompleted {
		middleware.ErrorResponse(w, http.StatusConflict, "Appointment is "+a.Status)
		return
	}

	var equipmentID string
	err = h.db.QueryRowContext(ctx, `
		SELECT equipment_id FROM equipment_clinic_assignment
		WHERE id = $1 AND system_id = $2 AND clinic_id = $3 AND is_active = $4
	`, req.EquipmentClinicAssignmentID, p.SystemID, a.ClinicID, true).Scan(&equipmentID)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Equipment assignment not found in this clinic")
		return
	}
	if err != nil {
		dbError(w, r, "failed to load assignment", err)
		return
	}
	var plugAssignment sql.NullString
	err = h.db.QueryRowContext(ctx,
		"SELECT equipment_clinic_assignment_id FROM smart_plug_device WHERE id = $1 AND system_id = $2",
		req.DeviceID, p.SystemID).Scan(&plugAssignment)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Device not found")
		return
	}
	if err != nil {
		dbError(w, r, "failed to load device", err)
		return
	}
	if plugAssignment.Valid && plugAssignment.String != req.EquipmentClinicAssignmentID {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Device is wired to another equipment assignment")
		return
	}

	services, err := loadApptServices(ctx, h.db, a.ID)
	if err != nil {
		dbError(w, r, "failed to load services", err)
		return
	}
	var using []apptService
	for _, s := range services {
		for _, eq := range s.Equipment {
			if eq == equipmentID {
				using = append(using, s)
				break
			}
		}
	}
	if len(using) == 0 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "No service of this appointment requires this equipment")
		return
	}
	estimate := timer.EstimateMinutes(durations(using))
	if estimate <= 0 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Services using this equipment have no duration")
		return
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		dbError(w, r, "failed to begin transaction", err)
		return
	}
	defer tx.Rollback()

	var busy int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM appointment_device_usage
		WHERE current_status IN ($1, $2) AND appointment_id <> $3
		AND (device_id = $4 OR equipment_clinic_assignment_id = $5)
	`, timer.StatusActive, timer.StatusPaused, a.ID, req.DeviceID, req.EquipmentClinicAssignmentID).Scan(&busy)
	if err != nil {
		dbError(w, r, "failed to check device usage", err)
		return
	}
	if busy > 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "Device is in use by another appointment")
		return
	}

	now := clock()
	var finished []usageRow
	for {
		prev, err := openUsage(ctx, tx, a.ID)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			dbError(w, r, "failed to check usage", err)
			return
		}
		if prev.DeviceID.Valid && prev.DeviceID.String != req.DeviceID {
			middleware.ErrorResponse(w, http.StatusConflict, "Appointment already has an active usage on another device")
			return
		}
		from := prev.Status
		if err := prev.Finish(now, timer.StatusCompleted, "reassigned"); err != nil {
			dbError(w, r, "failed to finish usage", err)
			return
		}
		if ok, err := saveUsage(ctx, tx, prev, from); err != nil || !ok {
			if err == nil {
				middleware.ErrorResponse(w, http.StatusConflict, "Timer changed concurrently")
				return
			}
			dbError(w, r, "failed to finish usage", err)
			return
		}
		finished = append(finished, prev)
	}

	u := usageRow{
		SystemID:      p.SystemID,
		AppointmentID: a.ID,
		EquipmentID:   sql.NullString{String: equipmentID, Valid: true},
		AssignmentID:  sql.NullString{String: req.EquipmentClinicAssignmentID, Valid: true},
		DeviceID:      sql.NullString{String: req.DeviceID, Valid: true},
	}
	u.StartedAt = now
	u.EstimatedMinutes = estimate
	for _, s := range using {
		u.ServiceIDs = append(u.ServiceIDs, s.ServiceID)
	}
	if err := insertUsage(ctx, tx, &u, p.UserID, req.DeviceData); err != nil {
		dbError(w, r, "failed to start usage", err)
		return
	}
	if err := markStarted(ctx, tx, a.ID, u.ServiceIDs); err != nil {
		dbError(w, r, "failed to update appointment", err)
		return
	}
	if err := tx.Commit(); err != nil {
		dbError(w, r, "failed to commit assignment", err)
		return
	}

	resp := models.AssignDeviceResponse{Usage: u.view(), FinishedUsages: []string{}}
	for _, prev := range finished {
		resp.FinishedUsages = append(resp.FinishedUsages, prev.ID)
		h.deps.afterFinish(ctx, prev, false)
	}
	h.deps.timerUpdated(ctx, "device_assigned", u)

	if turnOn && h.deps.Plugs != nil {
		resp.DeviceControlPending = true
		bg := context.WithoutCancel(ctx)
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			cctx, cancel := context.WithTimeout(bg, deviceControlTimeout)
			defer cancel()
			if err := h.deps.switchPlug(cctx, u, true); err != nil {
				logging.FromContext(cctx).Warn(cctx, "failed to switch on assigned device",
					zap.String("usage_id", u.ID),
					zap.Error(err))
			}
		}()
	}

	middleware.JSONResponse(w, http.StatusCreated, resp)
}
