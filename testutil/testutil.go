// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package testutil

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/casblasvic/weekly-calendar-sub018/auth"
	"github.com/casblasvic/weekly-calendar-sub018/cliparse"
	"github.com/casblasvic/weekly-calendar-sub018/db"
	"github.com/casblasvic/weekly-calendar-sub018/middleware"
)

// TestEncryptionKey is a valid 32-byte hex key for tests
const TestEncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// SetupTestDB creates a fresh SQLite database in a temp dir with the full schema
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := db.CreateSchema(conn); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	return conn
}

// GetTestConfig returns a standard test configuration
func GetTestConfig() cliparse.Config {
	return cliparse.Config{
		Port:                 3318,
		DatabaseType:         "sqlite",
		DatabaseURL:          ":memory:",
		TokenSecret:          "test-token-secret",
		WebhookSecret:        "test-webhook-secret",
		EncryptionKey:        TestEncryptionKey,
		ShellyReconnectDelay: 10 * time.Millisecond,
		ShellyRateLimit:      60,
		ShellyQueueSize:      100,
		MaintenanceSchedule:  "@every 1h",
		ConnectionRetention:  7 * 24 * time.Hour,
		LogLevel:             "debug",
		LogFormat:            "console",
	}
}

// TestSealer returns the sealer matching GetTestConfig's key
func TestSealer(t *testing.T) *auth.Sealer {
	t.Helper()
	key, err := GetTestConfig().EncryptionKeyBytes()
	if err != nil {
		t.Fatalf("Invalid test key: %v", err)
	}
	return auth.NewSealer(key)
}

func mustExec(t *testing.T, conn *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := conn.Exec(query, args...); err != nil {
		t.Fatalf("Fixture insert failed: %v\n%s", err, query)
	}
}

// Fixture is a tenant with an admin user, a legal entity and one clinic.
type Fixture struct {
	SystemID      string
	UserID        string
	Token         string
	LegalEntityID string
	ClinicID      string
}

// Principal is the fixture's admin as seen by handlers
func (f Fixture) Principal() middleware.Principal {
	return middleware.Principal{UserID: f.UserID, SystemID: f.SystemID, Role: middleware.RoleAdmin}
}

// CreateTestSystem creates a system with an admin, a Spanish legal entity
// and a clinic. shellyActive toggles the SHELLY module.
func CreateTestSystem(t *testing.T, conn *sql.DB, cfg cliparse.Config, shellyActive bool) Fixture {
	t.Helper()

	now := time.Now().UTC()
	f := Fixture{
		SystemID:      auth.NewID(),
		UserID:        auth.NewID(),
		LegalEntityID: auth.NewID(),
		ClinicID:      auth.NewID(),
	}
	f.Token = auth.GenerateToken(f.UserID, cfg.TokenSecret)

	mustExec(t, conn, "INSERT INTO system (id, name, country_code, created_at) VALUES ($1, 'Test Spa', 'ES', $2)", f.SystemID, now)
	mustExec(t, conn, `INSERT INTO app_user (id, system_id, email, name, role, created_at)
		VALUES ($1, $2, 'admin@example.com', 'Admin', 'admin', $3)`, f.UserID, f.SystemID, now)
	mustExec(t, conn, "INSERT INTO system_module (system_id, code, active, updated_at) VALUES ($1, 'SHELLY', $2, $3)", f.SystemID, shellyActive, now)
	mustExec(t, conn, `INSERT INTO legal_entity (id, system_id, name, country_code, created_at)
		VALUES ($1, $2, 'Test Spa SL', 'ES', $3)`, f.LegalEntityID, f.SystemID, now)
	mustExec(t, conn, `INSERT INTO clinic (id, system_id, legal_entity_id, name, prefix, created_at)
		VALUES ($1, $2, $3, 'Centro Madrid', 'MAD', $4)`, f.ClinicID, f.SystemID, f.LegalEntityID, now)
	return f
}

// CreateTestUser adds a user with the given role and returns its ID and token
func CreateTestUser(t *testing.T, conn *sql.DB, cfg cliparse.Config, systemID, role string) (string, string) {
	t.Helper()
	id := auth.NewID()
	mustExec(t, conn, `INSERT INTO app_user (id, system_id, email, name, role, created_at)
		VALUES ($1, $2, $3, 'Staff', $4, $5)`, id, systemID, id+"@example.com", role, time.Now().UTC())
	return id, auth.GenerateToken(id, cfg.TokenSecret)
}

// CreateTestClinic adds another clinic to the fixture's legal entity
func CreateTestClinic(t *testing.T, conn *sql.DB, f Fixture, name, prefix string) string {
	t.Helper()
	id := auth.NewID()
	mustExec(t, conn, `INSERT INTO clinic (id, system_id, legal_entity_id, name, prefix, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, id, f.SystemID, f.LegalEntityID, name, prefix, time.Now().UTC())
	return id
}

// CreateTestPerson adds a client
func CreateTestPerson(t *testing.T, conn *sql.DB, systemID, firstName string) string {
	t.Helper()
	id := auth.NewID()
	mustExec(t, conn, `INSERT INTO person (id, system_id, first_name, last_name, email, created_at)
		VALUES ($1, $2, $3, 'Test', $4, $5)`, id, systemID, firstName, firstName+"@example.com", time.Now().UTC())
	return id
}

// CreateTestCategory adds a catalog category
func CreateTestCategory(t *testing.T, conn *sql.DB, systemID, name string) string {
	t.Helper()
	id := auth.NewID()
	mustExec(t, conn, "INSERT INTO category (id, system_id, name) VALUES ($1, $2, $3)", id, systemID, name)
	return id
}

// CreateTestService adds a service priced at price with 21% VAT
func CreateTestService(t *testing.T, conn *sql.DB, systemID, categoryID, name string, duration, treatment int, price string) string {
	t.Helper()
	id := auth.NewID()
	var cat any
	if categoryID != "" {
		cat = categoryID
	}
	mustExec(t, conn, `INSERT INTO service (id, system_id, category_id, name, duration_minutes, treatment_duration_minutes, price, vat_rate, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 21, $8)`, id, systemID, cat, name, duration, treatment, price, time.Now().UTC())
	return id
}

// CreateTestProduct adds a product priced at price with 21% VAT
func CreateTestProduct(t *testing.T, conn *sql.DB, systemID, categoryID, name, price string) string {
	t.Helper()
	id := auth.NewID()
	var cat any
	if categoryID != "" {
		cat = categoryID
	}
	mustExec(t, conn, `INSERT INTO product (id, system_id, category_id, name, price, vat_rate, created_at)
		VALUES ($1, $2, $3, $4, $5, 21, $6)`, id, systemID, cat, name, price, time.Now().UTC())
	return id
}

// CreateTestEquipment adds equipment and makes serviceIDs require it
func CreateTestEquipment(t *testing.T, conn *sql.DB, systemID, name string, serviceIDs ...string) string {
	t.Helper()
	id := auth.NewID()
	mustExec(t, conn, "INSERT INTO equipment (id, system_id, name, power_threshold, created_at) VALUES ($1, $2, $3, 10, $4)",
		id, systemID, name, time.Now().UTC())
	for _, s := range serviceIDs {
		mustExec(t, conn, "INSERT INTO service_equipment_requirement (service_id, equipment_id) VALUES ($1, $2)", s, id)
	}
	return id
}

// CreateTestAssignment installs equipment in a clinic
func CreateTestAssignment(t *testing.T, conn *sql.DB, systemID, equipmentID, clinicID, serial string) string {
	t.Helper()
	id := auth.NewID()
	mustExec(t, conn, `INSERT INTO equipment_clinic_assignment (id, system_id, equipment_id, clinic_id, serial_number, device_name, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $5, $6, $7)`, id, systemID, equipmentID, clinicID, serial, true, time.Now().UTC())
	return id
}

// CreateTestCredential stores a Shelly credential with sealed tokens
func CreateTestCredential(t *testing.T, conn *sql.DB, systemID, apiHost string) string {
	t.Helper()
	sealer := TestSealer(t)
	access, _ := sealer.Seal("access-token")
	refresh, _ := sealer.Seal("refresh-token")
	id := auth.NewID()
	now := time.Now().UTC()
	mustExec(t, conn, `INSERT INTO shelly_credential (id, system_id, name, email, api_host, access_token, refresh_token, status, created_at, updated_at)
		VALUES ($1, $2, 'Main account', 'owner@example.com', $3, $4, $5, 'connected', $6, $6)`,
		id, systemID, apiHost, access, refresh, now)
	return id
}

// CreateTestPlug registers a smart plug, optionally wired to an assignment
func CreateTestPlug(t *testing.T, conn *sql.DB, systemID, credentialID, assignmentID, deviceID string, online, relayOn bool) string {
	t.Helper()
	id := auth.NewID()
	var cred, asg any
	if credentialID != "" {
		cred = credentialID
	}
	if assignmentID != "" {
		asg = assignmentID
	}
	now := time.Now().UTC()
	mustExec(t, conn, `INSERT INTO smart_plug_device (id, system_id, credential_id, equipment_clinic_assignment_id, device_id, cloud_id, name, online, relay_on, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		id, systemID, cred, asg, deviceID, "1942"+deviceID, "Plug "+deviceID, online, relayOn, now)
	return id
}

// CreateTestAppointment books an appointment for serviceIDs at start
func CreateTestAppointment(t *testing.T, conn *sql.DB, f Fixture, personID string, start time.Time, serviceIDs ...string) string {
	t.Helper()
	id := auth.NewID()
	start = start.UTC()
	mustExec(t, conn, `INSERT INTO appointment (id, system_id, clinic_id, person_id, professional_user_id, start_time, end_time, start_date, estimated_duration_minutes, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 60, 'SCHEDULED', $9)`,
		id, f.SystemID, f.ClinicID, personID, f.UserID, start, start.Add(time.Hour), start.Format("2006-01-02"), time.Now().UTC())
	for i, s := range serviceIDs {
		mustExec(t, conn, `INSERT INTO appointment_service (id, appointment_id, service_id, status, created_at)
			VALUES ($1, $2, $3, 'SCHEDULED', $4)`, auth.NewID(), id, s, time.Now().UTC().Add(time.Duration(i)*time.Millisecond))
	}
	return id
}

// QueryString reads a single string column
func QueryString(t *testing.T, conn *sql.DB, query string, args ...any) string {
	t.Helper()
	var s sql.NullString
	if err := conn.QueryRowContext(context.Background(), query, args...).Scan(&s); err != nil {
		t.Fatalf("Query failed: %v\n%s", err, query)
	}
	return s.String
}

// QueryInt reads a single integer column
func QueryInt(t *testing.T, conn *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := conn.QueryRowContext(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("Query failed: %v\n%s", err, query)
	}
	return n
}

// MakeRequest creates an HTTP test request
func MakeRequest(method, path string, body interface{}, headers map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(jsonBody))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req
}

// MakeAuthedRequest creates a request already carrying the principal, as
// RequireAuth would leave it
func MakeAuthedRequest(p middleware.Principal, method, path string, body interface{}) *http.Request {
	req := MakeRequest(method, path, body, nil)
	return req.WithContext(middleware.WithPrincipal(req.Context(), p))
}

// AssertStatus checks that the response has the expected status code
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// AssertJSON decodes the response body into the provided struct
func AssertJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}
}
