// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/casblasvic/weekly-calendar-sub018/cliparse"
	"github.com/casblasvic/weekly-calendar-sub018/energy"
	"github.com/casblasvic/weekly-calendar-sub018/middleware"
	"github.com/casblasvic/weekly-calendar-sub018/models"
)

type EnergyHandler struct {
	db  *sql.DB
	cfg cliparse.Config
	svc *energy.Service
}

func NewEnergyHandler(db *sql.DB, cfg cliparse.Config, svc *energy.Service) *EnergyHandler {
	return &EnergyHandler{db: db, cfg: cfg, svc: svc}
}

// ListInsights handles GET /api/energy/insights?resolved=&clinic_id=
func (h *EnergyHandler) ListInsights(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if !requireModule(w, r, h.db, p.SystemID) {
		return
	}
	query := `
		SELECT id, clinic_id, appointment_id, device_usage_id, client_id, insight_type, actual_value, expected_value,
			deviation_pct, detail, resolved, resolved_at, created_at
		FROM device_usage_insight WHERE system_id = $1`
	args := []any{p.SystemID}
	if v := r.URL.Query().Get("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			middleware.ErrorResponse(w, http.StatusBadRequest, "resolved must be true or false")
			return
		}
		args = append(args, resolved)
		query += " AND resolved = $" + strconv.Itoa(len(args))
	}
	if v := r.URL.Query().Get("clinic_id"); v != "" {
		args = append(args, v)
		query += " AND clinic_id = $" + strconv.Itoa(len(args))
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := h.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		dbError(w, r, "failed to list insights", err)
		return
	}
	defer rows.Close()

	out := []models.EnergyInsight{}
	for rows.Next() {
		var in models.EnergyInsight
		var client sql.NullString
		var resolvedAt sql.NullTime
		var detail string
		if err := rows.Scan(&in.ID, &in.ClinicID, &in.AppointmentID, &in.DeviceUsageID, &client, &in.InsightType,
			&in.ActualValue, &in.ExpectedValue, &in.DeviationPct, &detail, &in.Resolved, &resolvedAt, &in.CreatedAt); err != nil {
			dbError(w, r, "failed to scan insight", err)
			return
		}
		in.ClientID, in.ResolvedAt = nullString(client), utcTime(resolvedAt)
		in.Detail = json.RawMessage(detail)
		if !json.Valid(in.Detail) {
			in.Detail = json.RawMessage("{}")
		}
		out = append(out, in)
	}
	middleware.JSONResponse(w, http.StatusOK, out)
}

// ResolveInsight handles POST /api/energy/insights/{id}/resolve
func (h *EnergyHandler) ResolveInsight(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if !requireModule(w, r, h.db, p.SystemID) {
		return
	}
	res, err := h.db.ExecContext(r.Context(),
		"UPDATE device_usage_insight SET resolved = $1, resolved_at = $2 WHERE id = $3 AND system_id = $4 AND resolved = $5",
		true, time.Now().UTC(), r.PathValue("id"), p.SystemID, false)
	if err != nil {
		dbError(w, r, "failed to resolve insight", err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		found, err := exists(r.Context(), h.db, "device_usage_insight", r.PathValue("id"), p.SystemID)
		if err != nil {
			dbError(w, r, "failed to check insight", err)
			return
		}
		if !found {
			middleware.ErrorResponse(w, http.StatusNotFound, "Insight not found")
			return
		}
	}
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Message: "Insight resolved"})
}

// ListProfiles handles GET /api/energy/profiles?equipment_id=
func (h *EnergyHandler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if !requireModule(w, r, h.db, p.SystemID) {
		return
	}
	query := `
		SELECT equipment_id, service_id, sample_count, avg_kwh_per_min, std_dev_kwh_per_min, avg_minutes, std_dev_minutes
		FROM service_energy_profile WHERE system_id = $1`
	args := []any{p.SystemID}
	if v := r.URL.Query().Get("equipment_id"); v != "" {
		query += " AND equipment_id = $2"
		args = append(args, v)
	}
	query += " ORDER BY equipment_id, service_id"

	rows, err := h.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		dbError(w, r, "failed to list profiles", err)
		return
	}
	defer rows.Close()

	out := []energy.Profile{}
	for rows.Next() {
		var pr energy.Profile
		if err := rows.Scan(&pr.EquipmentID, &pr.ServiceID, &pr.SampleCount, &pr.AvgKwhPerMin, &pr.StdDevKwhPerMin,
			&pr.AvgMinutes, &pr.StdDevMinutes); err != nil {
			dbError(w, r, "failed to scan profile", err)
			return
		}
		out = append(out, pr)
	}
	middleware.JSONResponse(w, http.StatusOK, out)
}

// ListAnomalyScores handles GET /api/energy/anomaly-scores?kind=client|employee
// Highest risk first.
func (h *EnergyHandler) ListAnomalyScores(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if !requireModule(w, r, h.db, p.SystemID) {
		return
	}
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = energy.KindClient
	}
	if kind != energy.KindClient && kind != energy.KindEmployee {
		middleware.ErrorResponse(w, http.StatusBadRequest, "kind must be client or employee")
		return
	}
	ctx := r.Context()

	subjects, err := queryIDs(ctx, h.db,
		"SELECT subject_id FROM anomaly_score WHERE system_id = $1 AND kind = $2 ORDER BY risk_score DESC, subject_id",
		p.SystemID, kind)
	if err != nil {
		dbError(w, r, "failed to list scores", err)
		return
	}
	out := make([]*energy.Score, 0, len(subjects))
	for _, id := range subjects {
		sc, err := energy.LoadScore(ctx, h.db, p.SystemID, kind, id)
		if err != nil {
			dbError(w, r, "failed to load score", err)
			return
		}
		if sc != nil {
			out = append(out, sc)
		}
	}
	middleware.JSONResponse(w, http.StatusOK, out)
}

// Recalculate handles POST /api/energy/recalculate (admin only)
func (h *EnergyHandler) Recalculate(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if !requireModule(w, r, h.db, p.SystemID) {
		return
	}
	n, err := h.svc.Recalculate(r.Context(), p.SystemID)
	if err != nil {
		dbError(w, r, "failed to recalculate profiles", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.RecalculateResponse{Profiles: n})
}
