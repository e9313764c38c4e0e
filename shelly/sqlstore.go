// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package shelly

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/casblasvic/weekly-calendar-sub018/auth"
	"github.com/casblasvic/weekly-calendar-sub018/db"
)

// SQLStore implements Store on the application database. Tokens are
// sealed at rest.
type SQLStore struct {
	db     *sql.DB
	sealer *auth.Sealer
}

func NewSQLStore(conn *sql.DB, sealer *auth.Sealer) *SQLStore {
	return &SQLStore{db: conn, sealer: sealer}
}

// CreateCredential stores a new credential and its connection row.
func (s *SQLStore) CreateCredential(ctx context.Context, c Credential) (Credential, db.Connection, error) {
	access, err := s.sealer.Seal(c.AccessToken)
	if err != nil {
		return Credential{}, db.Connection{}, err
	}
	refresh, err := s.sealer.Seal(c.RefreshToken)
	if err != nil {
		return Credential{}, db.Connection{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Credential{}, db.Connection{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	c.ID = uuid.NewString()
	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO shelly_credential (id, system_id, name, email, api_host, access_token, refresh_token, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'connected', $8, $8)
	`, c.ID, c.SystemID, c.Name, c.Email, c.APIHost, access, refresh, now)
	if err != nil {
		return Credential{}, db.Connection{}, fmt.Errorf("failed to create credential: %w", err)
	}

	wsConn, _, err := db.FindOrCreateConnection(ctx, tx, db.ConnectionTypeShelly, c.ID, c.SystemID)
	if err != nil {
		return Credential{}, db.Connection{}, err
	}
	if err := tx.Commit(); err != nil {
		return Credential{}, db.Connection{}, fmt.Errorf("failed to commit credential: %w", err)
	}
	return c, wsConn, nil
}

func (s *SQLStore) Credential(ctx context.Context, id string) (Credential, error) {
	var c Credential
	var access, refresh string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, system_id, name, email, api_host, access_token, refresh_token
		FROM shelly_credential WHERE id = $1
	`, id).Scan(&c.ID, &c.SystemID, &c.Name, &c.Email, &c.APIHost, &access, &refresh)
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, ErrCredentialNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("failed to load credential: %w", err)
	}

	if c.AccessToken, err = s.sealer.Open(access); err != nil {
		return Credential{}, err
	}
	if c.RefreshToken, err = s.sealer.Open(refresh); err != nil {
		return Credential{}, err
	}
	return c, nil
}

func (s *SQLStore) SaveTokens(ctx context.Context, credentialID string, t Tokens) error {
	access, err := s.sealer.Seal(t.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := s.sealer.Seal(t.RefreshToken)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE shelly_credential SET access_token = $1, refresh_token = $2, status = 'connected', updated_at = $3
		WHERE id = $4
	`, access, refresh, time.Now().UTC(), credentialID)
	if err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	return nil
}

func (s *SQLStore) SetCredentialStatus(ctx context.Context, credentialID, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE shelly_credential SET status = $1, updated_at = $2 WHERE id = $3",
		status, time.Now().UTC(), credentialID)
	if err != nil {
		return fmt.Errorf("failed to update credential status: %w", err)
	}
	return nil
}

func (s *SQLStore) ModuleActive(ctx context.Context, systemID string) (bool, error) {
	return db.IsModuleActive(ctx, s.db, systemID, "SHELLY")
}

const deviceColumns = "id, system_id, COALESCE(credential_id, ''), device_id, cloud_id, name, online, relay_on"

func scanDevice(row interface{ Scan(...any) error }) (Device, error) {
	var d Device
	err := row.Scan(&d.ID, &d.SystemID, &d.CredentialID, &d.DeviceID, &d.CloudID, &d.Name, &d.Online, &d.RelayOn)
	return d, err
}

func (s *SQLStore) FindDevice(ctx context.Context, credentialID, id string) (Device, error) {
	d, err := scanDevice(s.db.QueryRowContext(ctx,
		"SELECT "+deviceColumns+" FROM smart_plug_device WHERE credential_id = $1 AND (device_id = $2 OR cloud_id = $2)",
		credentialID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, ErrDeviceNotFound
	}
	if err != nil {
		return Device{}, fmt.Errorf("failed to load device: %w", err)
	}
	return d, nil
}

// DeviceByID loads a plug by row ID within a system.
func (s *SQLStore) DeviceByID(ctx context.Context, systemID, id string) (Device, error) {
	d, err := scanDevice(s.db.QueryRowContext(ctx,
		"SELECT "+deviceColumns+" FROM smart_plug_device WHERE id = $1 AND system_id = $2",
		id, systemID))
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, ErrDeviceNotFound
	}
	if err != nil {
		return Device{}, fmt.Errorf("failed to load device: %w", err)
	}
	return d, nil
}

func (s *SQLStore) CredentialDevices(ctx context.Context, credentialID string) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+deviceColumns+" FROM smart_plug_device WHERE credential_id = $1 ORDER BY name",
		credentialID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (s *SQLStore) SetCloudID(ctx context.Context, deviceRowID, cloudID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE smart_plug_device SET cloud_id = $1, updated_at = $2 WHERE id = $3",
		cloudID, time.Now().UTC(), deviceRowID)
	if err != nil {
		return fmt.Errorf("failed to set cloud id: %w", err)
	}
	return nil
}

// ApplyStatus writes a full status. Metrics the status lacks keep their
// stored values.
func (s *SQLStore) ApplyStatus(ctx context.Context, deviceRowID string, st Status, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE smart_plug_device SET
			online = $1,
			relay_on = $2,
			current_power = COALESCE($3, current_power),
			voltage = COALESCE($4, voltage),
			total_energy = COALESCE($5, total_energy),
			temperature = COALESCE($6, temperature),
			last_seen_at = $7,
			updated_at = $7
		WHERE id = $8
	`, st.Online, st.RelayOn, st.Power, st.Voltage, st.TotalEnergy, st.Temperature, at.UTC(), deviceRowID)
	if err != nil {
		return fmt.Errorf("failed to apply device status: %w", err)
	}
	return nil
}

func (s *SQLStore) SetOnline(ctx context.Context, deviceRowID string, online bool, at time.Time) error {
	var err error
	if online {
		_, err = s.db.ExecContext(ctx,
			"UPDATE smart_plug_device SET online = $1, last_seen_at = $2, updated_at = $2 WHERE id = $3",
			true, at.UTC(), deviceRowID)
	} else {
		_, err = s.db.ExecContext(ctx,
			"UPDATE smart_plug_device SET online = $1, relay_on = $2, current_power = 0, updated_at = $3 WHERE id = $4",
			false, false, at.UTC(), deviceRowID)
	}
	if err != nil {
		return fmt.Errorf("failed to set device online state: %w", err)
	}
	return nil
}

func (s *SQLStore) Connection(ctx context.Context, credentialID, systemID string) (db.Connection, error) {
	c, _, err := db.FindOrCreateConnection(ctx, s.db, db.ConnectionTypeShelly, credentialID, systemID)
	return c, err
}

func (s *SQLStore) UpdateConnectionStatus(ctx context.Context, connectionID, status, errMsg string) error {
	return db.UpdateConnectionStatus(ctx, s.db, connectionID, status, errMsg)
}

func (s *SQLStore) LogEvent(ctx context.Context, connectionID, eventType, message, details string) error {
	return db.LogConnectionEvent(ctx, s.db, connectionID, eventType, message, details, -1)
}

func (s *SQLStore) AutoStartCredentials(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id FROM shelly_credential c
		JOIN websocket_connection w ON w.type = $1 AND w.reference_id = c.id AND w.system_id = c.system_id
		JOIN system_module m ON m.system_id = c.system_id AND m.code = 'SHELLY'
		WHERE w.auto_reconnect = $2 AND m.active = $2
		ORDER BY c.created_at
	`, db.ConnectionTypeShelly, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list auto-start credentials: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLStore) ConnectedConnections(ctx context.Context) ([]db.Connection, error) {
	return db.ListConnectionsByStatus(ctx, s.db, db.ConnectionTypeShelly, db.StatusConnected)
}
