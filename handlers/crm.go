// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
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

type CRMHandler struct {
	db  *sql.DB
	cfg cliparse.Config
}

func NewCRMHandler(db *sql.DB, cfg cliparse.Config) *CRMHandler {
	return &CRMHandler{db: db, cfg: cfg}
}

const leadColumns = "id, first_name, last_name, email, phone, source, status, person_id, created_at, updated_at"

func scanLead(s interface{ Scan(...any) error }) (models.Lead, error) {
	var l models.Lead
	var person sql.NullString
	err := s.Scan(&l.ID, &l.FirstName, &l.LastName, &l.Email, &l.Phone, &l.Source, &l.Status, &person, &l.CreatedAt, &l.UpdatedAt)
	l.PersonID = nullString(person)
	return l, err
}

const opportunityColumns = "id, lead_id, person_id, clinic_id, name, stage, estimated_value, closed_at, created_at, updated_at"

func scanOpportunity(s interface{ Scan(...any) error }) (models.Opportunity, error) {
	var o models.Opportunity
	var lead, clinic sql.NullString
	var closed sql.NullTime
	err := s.Scan(&o.ID, &lead, &o.PersonID, &clinic, &o.Name, &o.Stage, &o.EstimatedValue, &closed, &o.CreatedAt, &o.UpdatedAt)
	o.LeadID, o.ClinicID, o.ClosedAt = nullString(lead), nullString(clinic), utcTime(closed)
	o.EstimatedValue = o.EstimatedValue.Round(2)
	return o, err
}

// CreateLead handles POST /api/leads
func (h *CRMHandler) CreateLead(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.CreateLeadRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if strings.TrimSpace(req.FirstName) == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "first_name is required")
		return
	}
	if req.Email == "" && req.Phone == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "email or phone is required")
		return
	}

	now := time.Now().UTC()
	l := models.Lead{
		ID:        auth.NewID(),
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:     strings.TrimSpace(req.Phone),
		Source:    req.Source,
		Status:    models.LeadNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := h.db.ExecContext(r.Context(), `
		INSERT INTO lead (id, system_id, first_name, last_name, email, phone, source, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, l.ID, p.SystemID, l.FirstName, l.LastName, l.Email, l.Phone, l.Source, l.Status, now); err != nil {
		dbError(w, r, "failed to insert lead", err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, l)
}

// ListLeads handles GET /api/leads?status=
func (h *CRMHandler) ListLeads(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	query := "SELECT " + leadColumns + " FROM lead WHERE system_id = $1"
	args := []any{p.SystemID}
	if s := r.URL.Query().Get("status"); s != "" {
		query += " AND status = $2"
		args = append(args, strings.ToUpper(s))
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := h.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		dbError(w, r, "failed to list leads", err)
		return
	}
	defer rows.Close()

	out := []models.Lead{}
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			dbError(w, r, "failed to scan lead", err)
			return
		}
		out = append(out, l)
	}
	middleware.JSONResponse(w, http.StatusOK, out)
}

func validLeadStatus(s string) bool {
	switch s {
	case models.LeadNew, models.LeadContacted, models.LeadQualified, models.LeadLost:
		return true
	}
	return false
}

// UpdateLeadStatus handles PUT /api/leads/{id}/status
// CONVERTED is reached only through conversion and cannot be left.
func (h *CRMHandler) UpdateLeadStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.UpdateStatusRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	status := strings.ToUpper(req.Status)
	if !validLeadStatus(status) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "status must be NEW, CONTACTED, QUALIFIED or LOST")
		return
	}
	ctx := r.Context()

	l, err := scanLead(h.db.QueryRowContext(ctx,
		"SELECT "+leadColumns+" FROM lead WHERE id = $1 AND system_id = $2", r.PathValue("id"), p.SystemID))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Lead not found")
		return
	}
	if err != nil {
		dbError(w, r, "failed to load lead", err)
		return
	}

	now := time.Now().UTC()
	res, err := h.db.ExecContext(ctx,
		"UPDATE lead SET status = $1, updated_at = $2 WHERE id = $3 AND status <> $4",
		status, now, l.ID, models.LeadConverted)
	if err != nil {
		dbError(w, r, "failed to update lead", err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "Lead is already converted")
		return
	}
	l.Status, l.UpdatedAt = status, now
	middleware.JSONResponse(w, http.StatusOK, l)
}

// findPersonByEmail returns the oldest person with the email, or
// sql.ErrNoRows.
func findPersonByEmail(ctx context.Context, q db.Querier, systemID, email string) (models.Person, error) {
	var person models.Person
	err := q.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, email, phone, created_at FROM person
		WHERE system_id = $1 AND email = $2 ORDER BY created_at LIMIT 1
	`, systemID, email).Scan(&person.ID, &person.FirstName, &person.LastName, &person.Email, &person.Phone, &person.CreatedAt)
	return person, err
}

// ConvertLead handles POST /api/leads/{id}/convert
// Turns the lead into a person, reusing one with the same email, and opens
// an opportunity for them.
func (h *CRMHandler) ConvertLead(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.ConvertLeadRequest
	if r.ContentLength != 0 {
		if err := middleware.ParseJSONBody(r, &req); err != nil {
			middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
	}
	if req.EstimatedValue.IsNegative() {
		middleware.ErrorResponse(w, http.StatusBadRequest, "estimated_value cannot be negative")
		return
	}
	if !checkRef(w, r, h.db, "clinic", req.ClinicID, p.SystemID, "Clinic") {
		return
	}
	ctx := r.Context()

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		dbError(w, r, "failed to begin transaction", err)
		return
	}
	defer tx.Rollback()

	l, err := scanLead(tx.QueryRowContext(ctx,
		"SELECT "+leadColumns+" FROM lead WHERE id = $1 AND system_id = $2", r.PathValue("id"), p.SystemID))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Lead not found")
		return
	}
	if err != nil {
		dbError(w, r, "failed to load lead", err)
		return
	}
	if l.Status == models.LeadConverted {
		middleware.ErrorResponse(w, http.StatusConflict, "Lead is already converted")
		return
	}

	resp := models.ConvertLeadResponse{}
	if l.Email != "" {
		resp.Person, err = findPersonByEmail(ctx, tx, p.SystemID, l.Email)
		if err == nil {
			resp.PersonReused = true
		} else if !errors.Is(err, sql.ErrNoRows) {
			dbError(w, r, "failed to look up person", err)
			return
		}
	}
	if !resp.PersonReused {
		resp.Person, err = insertPerson(ctx, tx, p.SystemID, models.CreatePersonRequest{
			FirstName: l.FirstName,
			LastName:  l.LastName,
			Email:     l.Email,
			Phone:     l.Phone,
		})
		if err != nil {
			dbError(w, r, "failed to create person", err)
			return
		}
	}

	now := time.Now().UTC()
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = strings.TrimSpace(l.FirstName + " " + l.LastName)
	}
	o := models.Opportunity{
		ID:             auth.NewID(),
		LeadID:         &l.ID,
		PersonID:       resp.Person.ID,
		Name:           name,
		Stage:          models.StageProspecting,
		EstimatedValue: req.EstimatedValue.Round(2),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.ClinicID != "" {
		o.ClinicID = &req.ClinicID
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO opportunity (id, system_id, lead_id, person_id, clinic_id, name, stage, estimated_value, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, o.ID, p.SystemID, l.ID, o.PersonID, nullable(req.ClinicID), o.Name, o.Stage, o.EstimatedValue.StringFixed(2), now); err != nil {
		dbError(w, r, "failed to insert opportunity", err)
		return
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE lead SET status = $1, person_id = $2, updated_at = $3 WHERE id = $4 AND status <> $1",
		models.LeadConverted, resp.Person.ID, now, l.ID)
	if err != nil {
		dbError(w, r, "failed to update lead", err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "Lead is already converted")
		return
	}
	if err := tx.Commit(); err != nil {
		dbError(w, r, "failed to commit conversion", err)
		return
	}

	l.Status, l.PersonID, l.UpdatedAt = models.LeadConverted, &resp.Person.ID, now
	resp.Lead, resp.Opportunity = l, o
	middleware.JSONResponse(w, http.StatusCreated, resp)
}

// ListOpportunities handles GET /api/opportunities?stage=
func (h *CRMHandler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	query := "SELECT " + opportunityColumns + " FROM opportunity WHERE system_id = $1"
	args := []any{p.SystemID}
	if s := r.URL.Query().Get("stage"); s != "" {
		query += " AND stage = $2"
		args = append(args, strings.ToUpper(s))
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := h.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		dbError(w, r, "failed to list opportunities", err)
		return
	}
	defer rows.Close()

	out := []models.Opportunity{}
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			dbError(w, r, "failed to scan opportunity", err)
			return
		}
		out = append(out, o)
	}
	middleware.JSONResponse(w, http.StatusOK, out)
}

func validStage(s string) bool {
	switch s {
	case models.StageProspecting, models.StageProposal, models.StageNegotiation, models.StageWon, models.StageLost:
		return true
	}
	return false
}

// UpdateOpportunityStage handles PUT /api/opportunities/{id}/stage
// WON and LOST stamp the closing time; moving back to an open stage
// clears it.
func (h *CRMHandler) UpdateOpportunityStage(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.UpdateStageRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	stage := strings.ToUpper(req.Stage)
	if !validStage(stage) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "stage must be PROSPECTING, PROPOSAL, NEGOTIATION, WON or LOST")
		return
	}
	ctx := r.Context()

	o, err := scanOpportunity(h.db.QueryRowContext(ctx,
		"SELECT "+opportunityColumns+" FROM opportunity WHERE id = $1 AND system_id = $2", r.PathValue("id"), p.SystemID))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Opportunity not found")
		return
	}
	if err != nil {
		dbError(w, r, "failed to load opportunity", err)
		return
	}

	now := time.Now().UTC()
	o.Stage, o.UpdatedAt, o.ClosedAt = stage, now, nil
	if stage == models.StageWon || stage == models.StageLost {
		o.ClosedAt = &now
	}
	if _, err := h.db.ExecContext(ctx,
		"UPDATE opportunity SET stage = $1, closed_at = $2, updated_at = $3 WHERE id = $4",
		o.Stage, timePtr(o.ClosedAt), now, o.ID); err != nil {
		dbError(w, r, "failed to update opportunity", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, o)
}
