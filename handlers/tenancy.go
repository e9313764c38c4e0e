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

	"github.com/casblasvic/weekly-calendar-sub018/auth"
	"github.com/casblasvic/weekly-calendar-sub018/cliparse"
	"github.com/casblasvic/weekly-calendar-sub018/db"
	"github.com/casblasvic/weekly-calendar-sub018/logging"
	"github.com/casblasvic/weekly-calendar-sub018/middleware"
	"github.com/casblasvic/weekly-calendar-sub018/models"
)

// knownModules are created for every new system, all inactive.
var knownModules = []string{models.ModuleShelly}

type TenancyHandler struct {
	db  *sql.DB
	cfg cliparse.Config
}

func NewTenancyHandler(db *sql.DB, cfg cliparse.Config) *TenancyHandler {
	return &TenancyHandler{db: db, cfg: cfg}
}

// CreateSystem handles POST /api/systems
// Bootstraps a tenant with its admin user and default legal entity.
func (h *TenancyHandler) CreateSystem(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSystemRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Name == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.AdminEmail == "" || req.AdminName == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "admin_email and admin_name are required")
		return
	}
	country := strings.ToUpper(strings.TrimSpace(req.CountryCode))
	if country == "" {
		country = "ES"
	}

	ctx := r.Context()
	now := time.Now().UTC()
	resp := models.CreateSystemResponse{
		SystemID:      auth.NewID(),
		UserID:        auth.NewID(),
		LegalEntityID: auth.NewID(),
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		dbError(w, r, "failed to begin transaction", err)
		return
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO system (id, name, country_code, created_at) VALUES ($1, $2, $3, $4)",
		resp.SystemID, req.Name, country, now); err != nil {
		dbError(w, r, "failed to insert system", err)
		return
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO app_user (id, system_id, email, name, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, resp.UserID, resp.SystemID, req.AdminEmail, req.AdminName, middleware.RoleAdmin, now); err != nil {
		dbError(w, r, "failed to insert admin user", err)
		return
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO legal_entity (id, system_id, name, country_code, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, resp.LegalEntityID, resp.SystemID, req.Name, country, now); err != nil {
		dbError(w, r, "failed to insert legal entity", err)
		return
	}
	for _, code := range knownModules {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO system_module (system_id, code, active, updated_at) VALUES ($1, $2, $3, $4)",
			resp.SystemID, code, false, now); err != nil {
			dbError(w, r, "failed to insert module", err)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		dbError(w, r, "failed to commit system", err)
		return
	}

	resp.Token = auth.GenerateToken(resp.UserID, h.cfg.TokenSecret)
	resp.WebhookToken = auth.WebhookToken(resp.SystemID, h.cfg.WebhookSecret)

	logging.FromContext(ctx).Info(ctx, "system created",
		zap.String("system_id", resp.SystemID),
		zap.String("country", country))

	middleware.JSONResponse(w, http.StatusCreated, resp)
}

// CreateUser handles POST /api/users (admin only)
func (h *TenancyHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req models.CreateUserRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Email == "" || req.Name == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "email and name are required")
		return
	}
	if req.Role == "" {
		req.Role = middleware.RoleStaff
	}
	if req.Role != middleware.RoleAdmin && req.Role != middleware.RoleStaff {
		middleware.ErrorResponse(w, http.StatusBadRequest, "role must be admin or staff")
		return
	}

	userID := auth.NewID()
	_, err := h.db.ExecContext(r.Context(), `
		INSERT INTO app_user (id, system_id, email, name, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, userID, p.SystemID, req.Email, req.Name, req.Role, time.Now().UTC())
	if db.IsUniqueViolation(err) {
		middleware.ErrorResponse(w, http.StatusConflict, "A user with this email already exists")
		return
	}
	if err != nil {
		dbError(w, r, "failed to insert user", err)
		return
	}

	middleware.JSONResponse(w, http.StatusCreated, models.CreateUserResponse{
		UserID: userID,
		Token:  auth.GenerateToken(userID, h.cfg.TokenSecret),
	})
}

// Me handles GET /api/me
func (h *TenancyHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var resp models.MeResponse
	err := h.db.QueryRowContext(ctx,
		"SELECT id, system_id, email, name, role, created_at FROM app_user WHERE id = $1", p.UserID,
	).Scan(&resp.User.ID, &resp.User.SystemID, &resp.User.Email, &resp.User.Name, &resp.User.Role, &resp.User.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		dbError(w, r, "failed to load user", err)
		return
	}

	rows, err := h.db.QueryContext(ctx,
		"SELECT code, active FROM system_module WHERE system_id = $1 ORDER BY code", p.SystemID)
	if err != nil {
		dbError(w, r, "failed to load modules", err)
		return
	}
	defer rows.Close()
	resp.Modules = []models.Module{}
	for rows.Next() {
		var m models.Module
		if err := rows.Scan(&m.Code, &m.Active); err != nil {
			dbError(w, r, "failed to scan module", err)
			return
		}
		resp.Modules = append(resp.Modules, m)
	}

	middleware.JSONResponse(w, http.StatusOK, resp)
}

// SetModule handles PUT /api/modules/{code} (admin only)
// Turning SHELLY on or off also flips autoReconnect on the system's
// Shelly connections.
func (h *TenancyHandler) SetModule(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	code := strings.ToUpper(r.PathValue("code"))
	if code == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "code is required")
		return
	}

	var req models.SetModuleRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil || req.Active == nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "active is required")
		return
	}

	ctx := r.Context()
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		dbError(w, r, "failed to begin transaction", err)
		return
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO system_module (system_id, code, active, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (system_id, code) DO UPDATE SET active = excluded.active, updated_at = excluded.updated_at
	`, p.SystemID, code, *req.Active, time.Now().UTC())
	if err != nil {
		dbError(w, r, "failed to update module", err)
		return
	}
	if code == models.ModuleShelly {
		if err := db.SetSystemAutoReconnect(ctx, tx, p.SystemID, db.ConnectionTypeShelly, *req.Active); err != nil {
			dbError(w, r, "failed to update auto reconnect", err)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		dbError(w, r, "failed to commit module", err)
		return
	}

	logging.FromContext(ctx).Info(ctx, "module toggled", zap.String("module", code), zap.Bool("active", *req.Active))
	middleware.JSONResponse(w, http.StatusOK, models.Module{Code: code, Active: *req.Active})
}
