// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import "time"

// Request types

type CreateEquipmentRequest struct {
	Name           string   `json:"name"`
	PowerThreshold *float64 `json:"power_threshold"`
}

type CreateAssignmentRequest struct {
	ClinicID     string `json:"clinic_id"`
	SerialNumber string `json:"serial_number"`
	CabinID      string `json:"cabin_id"`
	DeviceName   string `json:"device_name"`
}

type AddRequirementRequest struct {
	EquipmentID string `json:"equipment_id"`
}

type CreateCredentialRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	APIHost      string `json:"api_host"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type RegisterDeviceRequest struct {
	CredentialID                string `json:"credential_id"`
	DeviceID                    string `json:"device_id"`
	CloudID                     string `json:"cloud_id"`
	Name                        string `json:"name"`
	EquipmentClinicAssignmentID string `json:"equipment_clinic_assignment_id"`
}

type ControlDeviceRequest struct {
	Action string `json:"action"`
}

type RenameDeviceRequest struct {
	Name string `json:"name"`
}

// Response types

type ControlDeviceResponse struct {
	DeviceID string `json:"device_id"`
	Action   string `json:"action"`
	Status   string `json:"status"`
}

type DeviceSyncResult struct {
	ID           string   `json:"id"`
	DeviceID     string   `json:"device_id"`
	Online       bool     `json:"online"`
	RelayOn      bool     `json:"relay_on"`
	CurrentPower *float64 `json:"current_power,omitempty"`
	Error        string   `json:"error,omitempty"`
}

type SyncResponse struct {
	CredentialID string             `json:"credential_id"`
	Synced       int                `json:"synced"`
	Failed       int                `json:"failed"`
	Devices      []DeviceSyncResult `json:"devices"`
}

// Domain types

type Equipment struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	PowerThreshold float64               `json:"power_threshold"`
	Assignments    []EquipmentAssignment `json:"assignments,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

type EquipmentAssignment struct {
	ID           string    `json:"id"`
	EquipmentID  string    `json:"equipment_id"`
	ClinicID     string    `json:"clinic_id"`
	CabinID      *string   `json:"cabin_id,omitempty"`
	SerialNumber string    `json:"serial_number"`
	DeviceName   string    `json:"device_name"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

type ShellyCredential struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	APIHost          string    `json:"api_host"`
	Status           string    `json:"status"`
	ConnectionID     string    `json:"connection_id,omitempty"`
	ConnectionStatus string    `json:"connection_status,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

type SmartPlug struct {
	ID                          string     `json:"id"`
	CredentialID                *string    `json:"credential_id,omitempty"`
	EquipmentClinicAssignmentID *string    `json:"equipment_clinic_assignment_id,omitempty"`
	DeviceID                    string     `json:"device_id"`
	CloudID                     string     `json:"cloud_id"`
	Name                        string     `json:"name"`
	Online                      bool       `json:"online"`
	RelayOn                     bool       `json:"relay_on"`
	CurrentPower                *float64   `json:"current_power,omitempty"`
	Voltage                     *float64   `json:"voltage,omitempty"`
	Temperature                 *float64   `json:"temperature,omitempty"`
	TotalEnergy                 *float64   `json:"total_energy,omitempty"`
	LastSeenAt                  *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt                   time.Time  `json:"created_at"`
}
