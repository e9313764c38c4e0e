// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"database/sql"
	"fmt"
	"strings"
)

// CreateSchema creates all tables needed for the application.
// Safe to call multiple times - uses IF NOT EXISTS.
// Statements are executed one by one since not every driver accepts
// multi-statement Exec.
func CreateSchema(db *sql.DB) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Column conventions shared by both drivers:
//   - ids are TEXT uuids
//   - money is NUMERIC(14,2), written as decimal strings
//   - JSON payloads are TEXT
//   - "all clinics" is clinic_id = '' so unique keys never contain NULL
const schema = `
-- Tenancy
CREATE TABLE IF NOT EXISTS system (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    country_code TEXT NOT NULL DEFAULT 'ES',
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS app_user (
    id TEXT PRIMARY KEY,
    system_id TEXT NOT NULL REFERENCES system(id) ON DELETE CASCADE,
    email TEXT NOT NULL,
    name TEXT NOT NULL,
    role TEXT NOT NULL DEFAULT 'staff' CHECK (role IN ('admin', 'staff')),
    created_at TIMESTAMP NOT NULL,
    UNIQUE (system_id, email)
);

CREATE TABLE IF NOT EXISTS system_module (
    system_id TEXT NOT NULL REFERENCES system(id) ON DELETE CASCADE,
    code TEXT NOT NULL,
    active BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (system_id, code)
);

CREATE TABLE IF NOT EXISTS legal_entity (
    id TEXT PRIMARY KEY,
    system_id TEXT NOT NULL REFERENCES system(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    country_code TEXT NOT NULL,
    tax_id TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

-- Catalog
CREATE TABLE IF NOT EXISTS clinic (
    id TEXT PRIMARY KEY,
    system_id TEXT NOT NULL REFERENCES system(id) ON DELETE CASCADE,
    legal_entity_id TEXT REFERENCES legal_entity(id),
    name TEXT NOT NULL,
    prefix TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_clinic_legal_entity ON clinic(legal_entity_id);

CREATE TABLE IF NOT EXISTS cabin (
    id TEXT PRIMARY KEY,
    system_id TEXT NOT NULL REFERENCES system(id) ON DELETE CASCADE,
    clinic_id TEXT NOT NULL REFERENCES clinic(id) ON DELETE CASCADE,
    name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS person (
    id TEXT PRIMARY KEY,
    system_id TEXT NOT NULL REFERENCES system(id) ON DELETE CASCADE,
    first_name TEXT NOT NULL,
    last_name TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_person_email ON person(system_id, email);

CREATE TABLE IF NOT EXISTS category (
    id TEXT PRIMARY KEY,
    system_id TEXT NOT NULL REFERENCES system(id) ON DELETE CASCADE,
    name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS vat_type (
    id TEXT PRIMARY KEY,
    system_id TEXT NOT NULL REFERENCES system(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    rate NUMERIC(5,2) NOT NULL
);

CREATE TABLE IF NOT EXISTS service (
    id TEXT PRIMARY KEY,
    system_id TEXT NOT NULL REFERENCES system(id) ON DELETE CASCADE,
    category_id TEXT REFERENCES category(id),
    name TEXT NOT NULL,
    duration_minutes INTEGER NOT NULL,
    treatment_duration_minutes INTEGER NOT NULL DEFAULT 0,
    price NUMERIC(14,2) NOT NULL DEFAULT 0,
    vat_rate NUMERIC(5,2) NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS product (
    id TEXT PRIMARY KEY,
    system_id TEXT NOT NULL REFERENCES system(id) ON DELETE CASCADE,
    category_id TEXT REFERENCES category(id),
    name TEXT NOT NULL,
    price NUMERIC(14,2) NOT NULL DEFAULT 0,
    vat_rate NUMERIC(5,2) NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS promotion (
    id TEXT PRIMARY KEY,
    system_id TEXT NOT NULL REFERENCES system(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    code TEXT NOT NULL,
    discount_percent NUMERIC(5,2) NOT NULL,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (system_id, code)
);

-- Equipment
CREATE TABLE IF NOT EXISTS equipment (
    id TEXT PRIMARY KEY,
    system_id TEXT NOT NULL REFERENCES system(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    power_threshold DOUBLE PRECISION NOT NULL DEFAULT 10,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS service_equipment_requirement (
    service_id TEXT NOT NULL REFERENCES service(id) ON DELETE CASCADE,
    equipment_id TEXT NOT NULL REFERENCES equipment(id) ON DELETE CASCADE,
    PRIMARY KEY (service_id, equipment_id)
);

CREATE TABLE IF NOT EXISTS equipment_clinic_assignment (
    id TEXT PRIMARY KEY,
    system_id TEXT NOT NULL REFERENCES system(id) ON DELETE CASCADE,
    equipment_id TEXT NOT NULL REFERENCES equipment(id) ON DELETE CASCADE,
    clinic_id TEXT NOT NULL REFERENCES clinic(id) ON DELETE CASCADE,
    cabin_id TEXT REFERENCES cabin(id),
    serial_number TEXT NOT NULL,
    device_name TEXT NOT NULL DEFAULT '',
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (equipment_id, serial_number)
);

CREATE INDEX IF NOT EXISTS idx_assignment_clinic ON equipment_clinic_assignment(clinic_id, equipment_id);

-- Shelly
CREATE TABLE IF NOT EXISTS shelly_credential (
    id TEXT PRIMARY KEY,
    system_id TEXT NOT NULL REFERENCES system(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    email TEXT NOT NULL,
    api_host TEXT NOT NULL,
    access_token TEXT NOT NULL,
    refresh_token TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'connected',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS smart_plug_device (
    id TEXT PRIMARY KEY,
    system_id TEXT NOT NULL REFERENCES system(id) ON DELETE CASCADE,
    credential_id TEXT REFERENCES shelly_credential(id) ON DELETE SET NULL,
    equipment_clinic_assignment_id TEXT REFERENCES equipment_clinic_assignment(id) ON DELETE SET NULL,
    device_id TEXT NOT NULL,
    cloud_id TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL,
    online BOOLEAN NOT NULL DEFAULT FALSE,
    relay_on BOOLEAN NOT NULL DEFAULT FALSE,
    current_power DOUBLE PRECISION,
    voltage DOUBLE PRECISION,
    temperature DOUBLE PRECISION,
    total_energy DOUBLE PRECISION,
    last_seen_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    UNIQUE (system_id, device_id)
);

CREATE INDEX IF NOT EXISTS idx_plug_assignment ON smart_plug_device(equipment_clinic_assignment_id);
CREATE INDEX IF NOT EXISTS idx_plug_credential ON smart_plug_device(credential_id);

-- Appointments
CREATE TABLE IF NOT EXISTS appointment (
    id TEXT PRIMARY KEY,
    system_id TEXT NOT NULL REFERENCES system(id) ON DELETE CASCADE,
    clinic_id TEXT NOT NULL REFERENCES clinic(id),
    person_id TEXT NOT NULL REFERENCES person(id),
    professional_user_id TEXT REFERENCES app_user(id),
    cabin_id TEXT REFERENCES cabin(id),
    start_time TIMESTAMP NOT NULL,
    end_time TIMESTAMP NOT NULL,
    start_date TEXT NOT NULL,
    estimated_duration_minutes INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'SCHEDULED',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_appointment_calendar ON appointment(system_id, clinic_id, start_date);

CREATE TABLE IF NOT EXISTS appointment_service (
    id TEXT PRIMARY KEY,
    appointment_id TEXT NOT NULL REFERENCES appointment(id) ON DELETE CASCADE,
    service_id TEXT NOT NULL REFERENCES service(id),
    status TEXT NOT NULL DEFAULT 'SCHEDULED',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_appointment_service ON appointment_service(appointment_id);

CREATE TABLE IF NOT EXISTS appointment_device_usage (
    id TEXT PRIMARY KEY,
    system_id TEXT NOT NULL REFERENCES system(id) ON DELETE CASCADE,
    appointment_id TEXT NOT NULL REFERENCES appointment(id) ON DELETE CASCADE,
    equipment_id TEXT REFERENCES equipment(id),
    equipment_clinic_assignment_id TEXT REFERENCES equipment_clinic_assignment(id),
    device_id TEXT REFERENCES smart_plug_device(id),
    started_by_user_id TEXT,
    started_at TIMESTAMP NOT NULL,
    ended_at TIMESTAMP,
    paused_at TIMESTAMP,
    pause_intervals TEXT NOT NULL DEFAULT '[]',
    estimated_minutes INTEGER NOT NULL DEFAULT 0,
    actual_minutes DOUBLE PRECISION,
    energy_consumption DOUBLE PRECISION,
    current_status TEXT NOT NULL,
    end_reason TEXT NOT NULL DEFAULT '',
    service_ids TEXT NOT NULL DEFAULT '[]',
    device_data TEXT NOT NULL DEFAULT '{}',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_appointment ON appointment_device_usage(appointment_id, current_status);
CREATE INDEX IF NOT EXISTS idx_usage_device ON appointment_device_usage(device_id, current_status);

-- WebSocket registry
CREATE TABLE IF NOT EXISTS websocket_connection (
    id TEXT PRIMARY KEY,
    system_id TEXT NOT NULL REFERENCES system(id) ON DELETE CASCADE,
    type TEXT NOT NULL,
    reference_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'disconnected',
    auto_reconnect BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT NOT NULL DEFAULT '',
    last_ping_at TIMESTAMP,
    metadata TEXT NOT NULL DEFAULT '{}',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    UNIQUE (type, reference_id, system_id)
);

CREATE TABLE IF NOT EXISTS websocket_log (
    id TEXT PRIMARY KEY,
    connection_id TEXT NOT NULL REFERENCES websocket_connection(id) ON DELETE CASCADE,
    event_type TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    error_details TEXT NOT NULL DEFAULT '',
    response_time_ms INTEGER,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_websocket_log_connection ON websocket_log(connection_id, created_at);

-- Accounting
CREATE TABLE IF NOT EXISTS chart_of_account_entry (
    id TEXT PRIMARY KEY,
    system_id TEXT NOT NULL REFERENCES system(id) ON DELETE CASCADE,
    legal_entity_id TEXT NOT NULL REFERENCES legal_entity(id) ON DELETE CASCADE,
    account_number TEXT NOT NULL,
    name TEXT NOT NULL,
    type TEXT NOT NULL CHECK (type IN ('ASSET', 'LIABILITY', 'EQUITY', 'REVENUE', 'EXPENSE')),
    parent_account_id TEXT REFERENCES chart_of_account_entry(id),
    is_subaccount BOOLEAN NOT NULL DEFAULT FALSE,
    allows_direct_entry BOOLEAN NOT NULL DEFAULT TRUE,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (legal_entity_id, account_number)
);

CREATE TABLE IF NOT EXISTS service_account_mapping (
    id TEXT PRIMARY KEY,
    legal_entity_id TEXT NOT NULL REFERENCES legal_entity(id) ON DELETE CASCADE,
    service_id TEXT NOT NULL REFERENCES service(id) ON DELETE CASCADE,
    clinic_id TEXT NOT NULL DEFAULT '',
    account_id TEXT NOT NULL REFERENCES chart_of_account_entry(id),
    subaccount_pattern TEXT NOT NULL DEFAULT '',
    UNIQUE (legal_entity_id, service_id, clinic_id)
);

CREATE TABLE IF NOT EXISTS product_account_mapping (
    id TEXT PRIMARY KEY,
    legal_entity_id TEXT NOT NULL REFERENCES legal_entity(id) ON DELETE CASCADE,
    product_id TEXT NOT NULL REFERENCES product(id) ON DELETE CASCADE,
    clinic_id TEXT NOT NULL DEFAULT '',
    account_id TEXT NOT NULL REFERENCES chart_of_account_entry(id),
    subaccount_pattern TEXT NOT NULL DEFAULT '',
    UNIQUE (legal_entity_id, product_id, clinic_id)
);

CREATE TABLE IF NOT EXISTS category_account_mapping (
    id TEXT PRIMARY KEY,
    legal_entity_id TEXT NOT NULL REFERENCES legal_entity(id) ON DELETE CASCADE,
    category_id TEXT NOT NULL REFERENCES category(id) ON DELETE CASCADE,
    account_id TEXT NOT NULL REFERENCES chart_of_account_entry(id),
    UNIQUE (legal_entity_id, category_id)
);

CREATE TABLE IF NOT EXISTS discount_account_mapping (
    id TEXT PRIMARY KEY,
    legal_entity_id TEXT NOT NULL REFERENCES legal_entity(id) ON DELETE CASCADE,
    promotion_id TEXT NOT NULL REFERENCES promotion(id) ON DELETE CASCADE,
    clinic_id TEXT NOT NULL DEFAULT '',
    account_id TEXT NOT NULL REFERENCES chart_of_account_entry(id),
    UNIQUE (legal_entity_id, promotion_id, clinic_id)
);

CREATE TABLE IF NOT EXISTS payment_method (
    id TEXT PRIMARY KEY,
    system_id TEXT NOT NULL REFERENCES system(id) ON DELETE CASCADE,
    code TEXT NOT NULL,
    name TEXT NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    UNIQUE (system_id, code)
);

CREATE TABLE IF NOT EXISTS payment_method_account_mapping (
    id TEXT PRIMARY KEY,
    legal_entity_id TEXT NOT NULL REFERENCES legal_entity(id) ON DELETE CASCADE,
    payment_method_id TEXT NOT NULL REFERENCES payment_method(id) ON DELETE CASCADE,
    clinic_id TEXT NOT NULL DEFAULT '',
    account_id TEXT NOT NULL REFERENCES chart_of_account_entry(id),
    UNIQUE (legal_entity_id, payment_method_id, clinic_id)
);

CREATE TABLE IF NOT EXISTS vat_type_account_mapping (
    id TEXT PRIMARY KEY,
    legal_entity_id TEXT NOT NULL REFERENCES legal_entity(id) ON DELETE CASCADE,
    vat_type_id TEXT NOT NULL REFERENCES vat_type(id) ON DELETE CASCADE,
    output_account_id TEXT NOT NULL REFERENCES chart_of_account_entry(id),
    UNIQUE (legal_entity_id, vat_type_id)
);

CREATE TABLE IF NOT EXISTS document_sequence (
    scope TEXT NOT NULL,
    year INTEGER NOT NULL,
    last_number INTEGER NOT NULL,
    PRIMARY KEY (scope, year)
);

CREATE TABLE IF NOT EXISTS journal_entry (
    id TEXT PRIMARY KEY,
    system_id TEXT NOT NULL REFERENCES system(id) ON DELETE CASCADE,
    legal_entity_id TEXT NOT NULL REFERENCES legal_entity(id),
    entry_number TEXT NOT NULL,
    entry_date TIMESTAMP NOT NULL,
    description TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT 'MANUAL',
    reference_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'POSTED' CHECK (status IN ('POSTED', 'REVERSED')),
    reversal_of_id TEXT REFERENCES journal_entry(id),
    reversal_reason TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    UNIQUE (legal_entity_id, entry_number)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_journal_reversal ON journal_entry(reversal_of_id);

CREATE TABLE IF NOT EXISTS journal_entry_line (
    id TEXT PRIMARY KEY,
    journal_entry_id TEXT NOT NULL REFERENCES journal_entry(id) ON DELETE CASCADE,
    account_id TEXT NOT NULL REFERENCES chart_of_account_entry(id),
    debit NUMERIC(14,2) NOT NULL DEFAULT 0,
    credit NUMERIC(14,2) NOT NULL DEFAULT 0,
    description TEXT NOT NULL DEFAULT '',
    line_order INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_journal_line_entry ON journal_entry_line(journal_entry_id);

-- Billing
CREATE TABLE IF NOT EXISTS ticket (
    id TEXT PRIMARY KEY,
    system_id TEXT NOT NULL REFERENCES system(id) ON DELETE CASCADE,
    clinic_id TEXT NOT NULL REFERENCES clinic(id),
    person_id TEXT NOT NULL REFERENCES person(id),
    appointment_id TEXT REFERENCES appointment(id),
    status TEXT NOT NULL DEFAULT 'OPEN' CHECK (status IN ('OPEN', 'CLOSED', 'VOID')),
    subtotal NUMERIC(14,2) NOT NULL DEFAULT 0,
    discount_total NUMERIC(14,2) NOT NULL DEFAULT 0,
    vat_total NUMERIC(14,2) NOT NULL DEFAULT 0,
    total NUMERIC(14,2) NOT NULL DEFAULT 0,
    paid_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
    pending_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
    journal_entry_id TEXT REFERENCES journal_entry(id),
    closed_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS ticket_item (
    id TEXT PRIMARY KEY,
    ticket_id TEXT NOT NULL REFERENCES ticket(id) ON DELETE CASCADE,
    item_type TEXT NOT NULL CHECK (item_type IN ('SERVICE', 'PRODUCT')),
    item_id TEXT NOT NULL,
    description TEXT NOT NULL,
    quantity INTEGER NOT NULL,
    unit_price NUMERIC(14,2) NOT NULL,
    discount_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
    promotion_id TEXT REFERENCES promotion(id),
    vat_rate NUMERIC(5,2) NOT NULL DEFAULT 0,
    vat_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
    final_price NUMERIC(14,2) NOT NULL,
    line_order INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS payment (
    id TEXT PRIMARY KEY,
    ticket_id TEXT NOT NULL REFERENCES ticket(id) ON DELETE CASCADE,
    payment_method_id TEXT NOT NULL REFERENCES payment_method(id),
    amount NUMERIC(14,2) NOT NULL,
    journal_entry_id TEXT REFERENCES journal_entry(id),
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS invoice (
    id TEXT PRIMARY KEY,
    ticket_id TEXT NOT NULL UNIQUE REFERENCES ticket(id),
    legal_entity_id TEXT NOT NULL REFERENCES legal_entity(id),
    invoice_number TEXT NOT NULL,
    issued_at TIMESTAMP NOT NULL,
    total NUMERIC(14,2) NOT NULL,
    UNIQUE (legal_entity_id, invoice_number)
);

-- CRM
CREATE TABLE IF NOT EXISTS lead (
    id TEXT PRIMARY KEY,
    system_id TEXT NOT NULL REFERENCES system(id) ON DELETE CASCADE,
    first_name TEXT NOT NULL,
    last_name TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'NEW',
    person_id TEXT REFERENCES person(id),
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS opportunity (
    id TEXT PRIMARY KEY,
    system_id TEXT NOT NULL REFERENCES system(id) ON DELETE CASCADE,
    lead_id TEXT REFERENCES lead(id),
    person_id TEXT NOT NULL REFERENCES person(id),
    clinic_id TEXT REFERENCES clinic(id),
    name TEXT NOT NULL,
    stage TEXT NOT NULL DEFAULT 'PROSPECTING',
    estimated_value NUMERIC(14,2) NOT NULL DEFAULT 0,
    closed_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

-- Energy
CREATE TABLE IF NOT EXISTS service_energy_profile (
    id TEXT PRIMARY KEY,
    system_id TEXT NOT NULL REFERENCES system(id) ON DELETE CASCADE,
    equipment_id TEXT NOT NULL REFERENCES equipment(id) ON DELETE CASCADE,
    service_id TEXT NOT NULL REFERENCES service(id) ON DELETE CASCADE,
    sample_count INTEGER NOT NULL DEFAULT 0,
    avg_kwh_per_min DOUBLE PRECISION NOT NULL DEFAULT 0,
    m2_kwh_per_min DOUBLE PRECISION NOT NULL DEFAULT 0,
    std_dev_kwh_per_min DOUBLE PRECISION NOT NULL DEFAULT 0,
    avg_minutes DOUBLE PRECISION NOT NULL DEFAULT 0,
    m2_minutes DOUBLE PRECISION NOT NULL DEFAULT 0,
    std_dev_minutes DOUBLE PRECISION NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL,
    UNIQUE (system_id, equipment_id, service_id)
);

CREATE TABLE IF NOT EXISTS device_usage_insight (
    id TEXT PRIMARY KEY,
    system_id TEXT NOT NULL REFERENCES system(id) ON DELETE CASCADE,
    clinic_id TEXT NOT NULL REFERENCES clinic(id),
    appointment_id TEXT NOT NULL REFERENCES appointment(id) ON DELETE CASCADE,
    device_usage_id TEXT NOT NULL REFERENCES appointment_device_usage(id) ON DELETE CASCADE,
    client_id TEXT,
    insight_type TEXT NOT NULL,
    actual_value DOUBLE PRECISION NOT NULL,
    expected_value DOUBLE PRECISION NOT NULL,
    deviation_pct DOUBLE PRECISION NOT NULL,
    detail TEXT NOT NULL DEFAULT '{}',
    resolved BOOLEAN NOT NULL DEFAULT FALSE,
    resolved_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (device_usage_id, insight_type)
);

CREATE TABLE IF NOT EXISTS anomaly_score (
    id TEXT PRIMARY KEY,
    system_id TEXT NOT NULL REFERENCES system(id) ON DELETE CASCADE,
    clinic_id TEXT NOT NULL,
    kind TEXT NOT NULL CHECK (kind IN ('client', 'employee')),
    subject_id TEXT NOT NULL,
    total_services INTEGER NOT NULL DEFAULT 0,
    total_anomalies INTEGER NOT NULL DEFAULT 0,
    anomaly_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
    avg_deviation_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
    max_deviation_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
    avg_efficiency DOUBLE PRECISION NOT NULL DEFAULT 100,
    consistency_score DOUBLE PRECISION NOT NULL DEFAULT 100,
    patterns TEXT NOT NULL DEFAULT '{}',
    counterparts TEXT NOT NULL DEFAULT '{}',
    time_patterns TEXT NOT NULL DEFAULT '{}',
    fraud_indicators TEXT NOT NULL DEFAULT '{}',
    risk_score INTEGER NOT NULL DEFAULT 0,
    risk_level TEXT NOT NULL DEFAULT 'low',
    last_anomaly_at TIMESTAMP,
    updated_at TIMESTAMP NOT NULL,
    UNIQUE (system_id, kind, subject_id)
)
`
