// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/casblasvic/weekly-calendar-sub018/auth"
	"github.com/casblasvic/weekly-calendar-sub018/cliparse"
	"github.com/casblasvic/weekly-calendar-sub018/db"
	"github.com/casblasvic/weekly-calendar-sub018/middleware"
	"github.com/casblasvic/weekly-calendar-sub018/models"
)

// defaultPowerThreshold is the watt level above which a plug counts as
// drawing power for a treatment.
const defaultPowerThreshold = 10.0

type EquipmentHandler struct {
	db  *sql.DB
	cfg cliparse.Config
}

func NewEquipmentHandler(db *sql.DB, cfg cliparse.Config) *EquipmentHandler {
	return &EquipmentHandler{db: db, cfg: cfg}
}

// CreateEquipment handles POST /api/equipment (admin only)
func (h *EquipmentHandler) CreateEquipment(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.CreateEquipmentRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "name is required")
		return
	}
	threshold := defaultPowerThreshold
	if req.PowerThreshold != nil {
		if *req.PowerThreshold < 0 {
			middleware.ErrorResponse(w, http.StatusBadRequest, "power_threshold cannot be negative")
			return
		}
		threshold = *req.PowerThreshold
	}

	e := models.Equipment{ID: auth.NewID(), Name: req.Name, PowerThreshold: threshold, CreatedAt: time.Now().UTC()}
	if _, err := h.db.ExecContext(r.Context(),
		"INSERT INTO equipment (id, system_id, name, power_threshold, created_at) VALUES ($1, $2, $3, $4, $5)",
		e.ID, p.SystemID, e.Name, e.PowerThreshold, e.CreatedAt); err != nil {
		dbError(w, r, "failed to insert equipment", err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, e)
}

// ListEquipment handles GET /api/equipment
func (h *EquipmentHandler) ListEquipment(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	rows, err := h.db.QueryContext(r.Context(),
		"SELECT id, name, power_threshold, created_at FROM equipment WHERE system_id = $1 ORDER BY name", p.SystemID)
	if err != nil {
		dbError(w, r, "failed to list equipment", err)
		return
	}
	defer rows.Close()

	out := []models.Equipment{}
	for rows.Next() {
		var e models.Equipment
		if err := rows.Scan(&e.ID, &e.Name, &e.PowerThreshold, &e.CreatedAt); err != nil {
			dbError(w, r, "failed to scan equipment", err)
			return
		}
		out = append(out, e)
	}
	middleware.JSONResponse(w, http.StatusOK, out)
}

// GetEquipment handles GET /api/equipment/{id}
// The response lists every clinic assignment of the equipment.
func (h *EquipmentHandler) GetEquipment(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var e models.Equipment
	err := h.db.QueryRowContext(ctx,
		"SELECT id, name, power_threshold, created_at FROM equipment WHERE id = $1 AND system_id = $2",
		r.PathValue("id"), p.SystemID).Scan(&e.ID, &e.Name, &e.PowerThreshold, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Equipment not found")
		return
	}
	if err != nil {
		dbError(w, r, "failed to load equipment", err)
		return
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT id, equipment_id, clinic_id, cabin_id, serial_number, device_name, is_active, created_at
		FROM equipment_clinic_assignment WHERE equipment_id = $1 ORDER BY created_at
	`, e.ID)
	if err != nil {
		dbError(w, r, "failed to list assignments", err)
		return
	}
	defer rows.Close()

	e.Assignments = []models.EquipmentAssignment{}
	for rows.Next() {
		var a models.EquipmentAssignment
		var cabin sql.NullString
		if err := rows.Scan(&a.ID, &a.EquipmentID, &a.ClinicID, &cabin, &a.SerialNumber, &a.DeviceName, &a.IsActive, &a.CreatedAt); err != nil {
			dbError(w, r, "failed to scan assignment", err)
			return
		}
		a.CabinID = nullString(cabin)
		e.Assignments = append(e.Assignments, a)
	}
	middleware.JSONResponse(w, http.StatusOK, e)
}

// CreateAssignment handles POST /api/equipment/{id}/assignments (admin only)
// Installs one physical unit of the equipment in a clinic. Serial numbers
// are unique per equipment.
func (h *EquipmentHandler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	equipmentID := r.PathValue("id")

	var req models.CreateAssignmentRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	req.SerialNumber = strings.TrimSpace(req.SerialNumber)
	if req.ClinicID == "" || req.SerialNumber == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "clinic_id and serial_number are required")
		return
	}

	ctx := r.Context()
	ok, err := exists(ctx, h.db, "equipment", equipmentID, p.SystemID)
	if err != nil {
		dbError(w, r, "failed to check equipment", err)
		return
	}
	if !ok {
		middleware.ErrorResponse(w, http.StatusNotFound, "Equipment not found")
		return
	}
	if !checkRef(w, r, h.db, "clinic", req.ClinicID, p.SystemID, "Clinic") {
		return
	}
	if req.CabinID != "" {
		var cabinClinic string
		err := h.db.QueryRowContext(ctx,
			"SELECT clinic_id FROM cabin WHERE id = $1 AND system_id = $2", req.CabinID, p.SystemID).Scan(&cabinClinic)
		if errors.Is(err, sql.ErrNoRows) || cabinClinic != req.ClinicID {
			middleware.ErrorResponse(w, http.StatusBadRequest, "Cabin not found in this clinic")
			return
		}
		if err != nil {
			dbError(w, r, "failed to check cabin", err)
			return
		}
	}

	a := models.EquipmentAssignment{
		ID:           auth.NewID(),
		EquipmentID:  equipmentID,
		ClinicID:     req.ClinicID,
		SerialNumber: req.SerialNumber,
		DeviceName:   req.DeviceName,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	if req.CabinID != "" {
		a.CabinID = &req.CabinID
	}
	_, err = h.db.ExecContext(ctx, `
		INSERT INTO equipment_clinic_assignment (id, system_id, equipment_id, clinic_id, cabin_id, serial_number, device_name, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, p.SystemID, a.EquipmentID, a.ClinicID, nullable(req.CabinID), a.SerialNumber, a.DeviceName, a.IsActive, a.CreatedAt)
	if db.IsUniqueViolation(err) {
		middleware.ErrorResponse(w, http.StatusConflict, "Serial number already assigned for this equipment")
		return
	}
	if err != nil {
		dbError(w, r, "failed to insert assignment", err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, a)
}

// AddRequirement handles POST /api/services/{id}/equipment (admin only)
// Adding the same requirement twice is a no-op.
func (h *EquipmentHandler) AddRequirement(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	serviceID := r.PathValue("id")

	var req models.AddRequirementRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil || req.EquipmentID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "equipment_id is required")
		return
	}

	ctx := r.Context()
	ok, err := exists(ctx, h.db, "service", serviceID, p.SystemID)
	if err != nil {
		dbError(w, r, "failed to check service", err)
		return
	}
	if !ok {
		middleware.ErrorResponse(w, http.StatusNotFound, "Service not found")
		return
	}
	if !checkRef(w, r, h.db, "equipment", req.EquipmentID, p.SystemID, "Equipment") {
		return
	}

	if _, err := h.db.ExecContext(ctx, `
		INSERT INTO service_equipment_requirement (service_id, equipment_id) VALUES ($1, $2)
		ON CONFLICT (service_id, equipment_id) DO NOTHING
	`, serviceID, req.EquipmentID); err != nil {
		dbError(w, r, "failed to insert requirement", err)
		return
	}

	s, err := loadService(ctx, h.db, p.SystemID, serviceID)
	if err != nil {
		dbError(w, r, "failed to load service", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, s)
}
