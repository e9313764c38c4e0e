// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/casblasvic/weekly-calendar-sub018/auth"
	"github.com/casblasvic/weekly-calendar-sub018/cliparse"
	"github.com/casblasvic/weekly-calendar-sub018/db"
	"github.com/casblasvic/weekly-calendar-sub018/logging"
	"github.com/casblasvic/weekly-calendar-sub018/middleware"
	"github.com/casblasvic/weekly-calendar-sub018/models"
	"github.com/casblasvic/weekly-calendar-sub018/shelly"
)

// syncParallelism bounds concurrent cloud status calls per sync.
const syncParallelism = 4

type ShellyHandler struct {
	db    *sql.DB
	cfg   cliparse.Config
	store *shelly.SQLStore
	plugs PlugController
}

func NewShellyHandler(db *sql.DB, cfg cliparse.Config, store *shelly.SQLStore, plugs PlugController) *ShellyHandler {
	return &ShellyHandler{db: db, cfg: cfg, store: store, plugs: plugs}
}

// requireModule writes 403 unless the system has the Shelly module on.
func requireModule(w http.ResponseWriter, r *http.Request, q db.Querier, systemID string) bool {
	active, err := db.IsModuleActive(r.Context(), q, systemID, models.ModuleShelly)
	if err != nil {
		dbError(w, r, "failed to check module", err)
		return false
	}
	if !active {
		middleware.ErrorResponse(w, http.StatusForbidden, "Shelly module is not active")
		return false
	}
	return true
}

// commandError maps manager failures to HTTP statuses.
func commandError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, shelly.ErrRateLimited):
		middleware.ErrorResponse(w, http.StatusTooManyRequests, "Too many commands, try again shortly")
	case errors.Is(err, shelly.ErrQueueFull):
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Command queue is full")
	case errors.Is(err, shelly.ErrNoCloudID):
		middleware.ErrorResponse(w, http.StatusConflict, "Device has not reported its cloud id yet")
	case errors.Is(err, shelly.ErrModuleInactive):
		middleware.ErrorResponse(w, http.StatusForbidden, "Shelly module is not active")
	case errors.Is(err, shelly.ErrCredentialNotFound):
		middleware.ErrorResponse(w, http.StatusConflict, "Device has no Shelly credential")
	default:
		logging.FromContext(r.Context()).Error(r.Context(), "shelly command failed", zap.Error(err))
		middleware.ErrorResponse(w, http.StatusBadGateway, "Shelly command failed")
	}
}

func sendStatus(res shelly.SendResult) (int, string) {
	if res == shelly.Queued {
		return http.StatusAccepted, "queued"
	}
	return http.StatusOK, "sent"
}

// CreateCredential handles POST /api/shelly/credentials (admin only)
// Tokens are sealed at rest. A websocket connection row is created with
// the credential.
func (h *ShellyHandler) CreateCredential(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.CreateCredentialRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	req.APIHost = strings.TrimRight(strings.TrimSpace(req.APIHost), "/")
	if req.Name == "" || req.APIHost == "" || req.AccessToken == "" || req.RefreshToken == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "name, api_host, access_token and refresh_token are required")
		return
	}
	if _, err := url.Parse(req.APIHost); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "api_host is not a valid URL")
		return
	}

	ctx := r.Context()
	cred, conn, err := h.store.CreateCredential(ctx, shelly.Credential{
		SystemID:     p.SystemID,
		Name:         req.Name,
		Email:        req.Email,
		APIHost:      req.APIHost,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
	})
	if err != nil {
		dbError(w, r, "failed to create credential", err)
		return
	}

	logging.FromContext(ctx).Info(ctx, "shelly credential created",
		zap.String("credential_id", cred.ID),
		zap.String("api_host", cred.APIHost))

	middleware.JSONResponse(w, http.StatusCreated, models.ShellyCredential{
		ID:               cred.ID,
		Name:             cred.Name,
		Email:            cred.Email,
		APIHost:          cred.APIHost,
		Status:           "connected",
		ConnectionID:     conn.ID,
		ConnectionStatus: conn.Status,
		CreatedAt:        time.Now().UTC(),
	})
}

// ListCredentials handles GET /api/shelly/credentials
// Tokens never leave the server.
func (h *ShellyHandler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	rows, err := h.db.QueryContext(r.Context(), `
		SELECT c.id, c.name, c.email, c.api_host, c.status, c.created_at,
			COALESCE(wc.id, ''), COALESCE(wc.status, '')
		FROM shelly_credential c
		LEFT JOIN websocket_connection wc
			ON wc.reference_id = c.id AND wc.type = $1 AND wc.system_id = c.system_id
		WHERE c.system_id = $2
		ORDER BY c.created_at
	`, db.ConnectionTypeShelly, p.SystemID)
	if err != nil {
		dbError(w, r, "failed to list credentials", err)
		return
	}
	defer rows.Close()

	out := []models.ShellyCredential{}
	for rows.Next() {
		var c models.ShellyCredential
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.APIHost, &c.Status, &c.CreatedAt,
			&c.ConnectionID, &c.ConnectionStatus); err != nil {
			dbError(w, r, "failed to scan credential", err)
			return
		}
		out = append(out, c)
	}
	middleware.JSONResponse(w, http.StatusOK, out)
}

// SyncCredential handles POST /api/shelly/credentials/{id}/sync
// Pulls the status of every plug of the credential over HTTP in parallel.
// A failing plug is reported, not fatal.
func (h *ShellyHandler) SyncCredential(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if !requireModule(w, r, h.db, p.SystemID) {
		return
	}
	ctx := r.Context()

	cred, err := h.store.Credential(ctx, r.PathValue("id"))
	if errors.Is(err, shelly.ErrCredentialNotFound) || (err == nil && cred.SystemID != p.SystemID) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Credential not found")
		return
	}
	if err != nil {
		dbError(w, r, "failed to load credential", err)
		return
	}
	devices, err := h.store.CredentialDevices(ctx, cred.ID)
	if err != nil {
		dbError(w, r, "failed to list devices", err)
		return
	}

	results := make([]models.DeviceSyncResult, len(devices))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(syncParallelism)
	for i, d := range devices {
		g.Go(func() error {
			st, err := h.plugs.RefreshDevice(gctx, cred, d)
			res := models.DeviceSyncResult{
				ID:           d.ID,
				DeviceID:     d.DeviceID,
				Online:       st.Online,
				RelayOn:      st.RelayOn,
				CurrentPower: st.Power,
			}
			if err != nil {
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	resp := models.SyncResponse{CredentialID: cred.ID, Devices: results}
	for _, res := range results {
		if res.Error != "" {
			resp.Failed++
		} else {
			resp.Synced++
		}
	}

	logging.FromContext(ctx).Info(ctx, "shelly devices synced",
		zap.String("credential_id", cred.ID),
		zap.Int("synced", resp.Synced),
		zap.Int("failed", resp.Failed))

	middleware.JSONResponse(w, http.StatusOK, resp)
}

// RegisterDevice handles POST /api/shelly/devices (admin only)
func (h *ShellyHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.RegisterDeviceRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if req.CredentialID == "" || req.DeviceID == "" || req.Name == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "credential_id, device_id and name are required")
		return
	}
	if !checkRef(w, r, h.db, "shelly_credential", req.CredentialID, p.SystemID, "Credential") ||
		!checkRef(w, r, h.db, "equipment_clinic_assignment", req.EquipmentClinicAssignmentID, p.SystemID, "Equipment assignment") {
		return
	}
	if req.CloudID == "" && shelly.IsCloudID(req.DeviceID) {
		req.CloudID = req.DeviceID
	}

	now := time.Now().UTC()
	d := models.SmartPlug{
		ID:        auth.NewID(),
		DeviceID:  req.DeviceID,
		CloudID:   req.CloudID,
		Name:      req.Name,
		CreatedAt: now,
	}
	d.CredentialID = &req.CredentialID
	if req.EquipmentClinicAssignmentID != "" {
		d.EquipmentClinicAssignmentID = &req.EquipmentClinicAssignmentID
	}
	_, err := h.db.ExecContext(r.Context(), `
		INSERT INTO smart_plug_device (id, system_id, credential_id, equipment_clinic_assignment_id, device_id, cloud_id,
			name, online, relay_on, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, d.ID, p.SystemID, req.CredentialID, nullable(req.EquipmentClinicAssignmentID), d.DeviceID, d.CloudID,
		d.Name, false, false, now)
	if db.IsUniqueViolation(err) {
		middleware.ErrorResponse(w, http.StatusConflict, "Device is already registered")
		return
	}
	if err != nil {
		dbError(w, r, "failed to insert device", err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, d)
}

// ListDevices handles GET /api/shelly/devices?credential_id=
func (h *ShellyHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	query := `
		SELECT id, credential_id, equipment_clinic_assignment_id, device_id, cloud_id, name, online, relay_on,
			current_power, voltage, temperature, total_energy, last_seen_at, created_at
		FROM smart_plug_device WHERE system_id = $1`
	args := []any{p.SystemID}
	if cred := r.URL.Query().Get("credential_id"); cred != "" {
		query += " AND credential_id = $2"
		args = append(args, cred)
	}
	query += " ORDER BY name"

	rows, err := h.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		dbError(w, r, "failed to list devices", err)
		return
	}
	defer rows.Close()

	out := []models.SmartPlug{}
	for rows.Next() {
		var d models.SmartPlug
		var cred, asg sql.NullString
		var power, voltage, temp, energy sql.NullFloat64
		var lastSeen sql.NullTime
		if err := rows.Scan(&d.ID, &cred, &asg, &d.DeviceID, &d.CloudID, &d.Name, &d.Online, &d.RelayOn,
			&power, &voltage, &temp, &energy, &lastSeen, &d.CreatedAt); err != nil {
			dbError(w, r, "failed to scan device", err)
			return
		}
		d.CredentialID, d.EquipmentClinicAssignmentID = nullString(cred), nullString(asg)
		d.CurrentPower, d.Voltage, d.Temperature, d.TotalEnergy = nullFloat(power), nullFloat(voltage), nullFloat(temp), nullFloat(energy)
		d.LastSeenAt = nullTime(lastSeen)
		out = append(out, d)
	}
	middleware.JSONResponse(w, http.StatusOK, out)
}

// loadDevice writes 404 when the plug is not in the caller's system.
func (h *ShellyHandler) loadDevice(w http.ResponseWriter, r *http.Request, systemID string) (shelly.Device, bool) {
	d, err := h.store.DeviceByID(r.Context(), systemID, r.PathValue("id"))
	if errors.Is(err, shelly.ErrDeviceNotFound) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Device not found")
		return d, false
	}
	if err != nil {
		dbError(w, r, "failed to load device", err)
		return d, false
	}
	return d, true
}

// ControlDevice handles POST /api/shelly/devices/{id}/control
// Returns 202 when the command waits for the socket to reconnect.
func (h *ShellyHandler) ControlDevice(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.ControlDeviceRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	action := strings.ToLower(req.Action)
	if action != "on" && action != "off" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "action must be on or off")
		return
	}
	if !requireModule(w, r, h.db, p.SystemID) {
		return
	}
	d, ok := h.loadDevice(w, r, p.SystemID)
	if !ok {
		return
	}
	if !d.Online {
		middleware.ErrorResponse(w, http.StatusConflict, "Device is offline")
		return
	}

	res, err := h.plugs.Control(r.Context(), d, action == "on")
	if err != nil {
		commandError(w, r, err)
		return
	}
	status, label := sendStatus(res)
	middleware.JSONResponse(w, status, models.ControlDeviceResponse{DeviceID: d.ID, Action: action, Status: label})
}

// RenameDevice handles PUT /api/shelly/devices/{id}/name
// The local name is updated once the cloud accepted or queued the command.
func (h *ShellyHandler) RenameDevice(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.RenameDeviceRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "name is required")
		return
	}
	if !requireModule(w, r, h.db, p.SystemID) {
		return
	}
	d, ok := h.loadDevice(w, r, p.SystemID)
	if !ok {
		return
	}

	ctx := r.Context()
	res, err := h.plugs.Rename(ctx, d, req.Name)
	if err != nil {
		commandError(w, r, err)
		return
	}
	if _, err := h.db.ExecContext(ctx,
		"UPDATE smart_plug_device SET name = $1, updated_at = $2 WHERE id = $3",
		req.Name, time.Now().UTC(), d.ID); err != nil {
		dbError(w, r, "failed to rename device", err)
		return
	}
	status, label := sendStatus(res)
	middleware.JSONResponse(w, status, models.ControlDeviceResponse{DeviceID: d.ID, Action: "rename", Status: label})
}
