// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import (
	"encoding/json"
	"time"

	"github.com/casblasvic/weekly-calendar-sub018/equipment"
	"github.com/casblasvic/weekly-calendar-sub018/timer"
)

// Webhook events sent by smart plugs
const (
	WebhookPowerOn      = "power_on"
	WebhookPowerOff     = "power_off"
	WebhookEnergyReport = "energy_report"
)

// Request types

type CreateAppointmentRequest struct {
	ClinicID           string    `json:"clinic_id"`
	PersonID           string    `json:"person_id"`
	ProfessionalUserID string    `json:"professional_user_id"`
	CabinID            string    `json:"cabin_id"`
	StartTime          time.Time `json:"start_time"`
	ServiceIDs         []string  `json:"service_ids"`
}

type StartAppointmentRequest struct {
	WithoutEquipment            bool   `json:"without_equipment"`
	EquipmentClinicAssignmentID string `json:"equipment_clinic_assignment_id"`
	EquipmentID                 string `json:"equipment_id"`
}

type AssignDeviceRequest struct {
	EquipmentClinicAssignmentID string          `json:"equipment_clinic_assignment_id"`
	DeviceID                    string          `json:"device_id"`
	TurnOnDevice                *bool           `json:"turn_on_device"`
	DeviceData                  json.RawMessage `json:"device_data"`
}

type FinishTimerRequest struct {
	Reason string `json:"reason"`
}

type WebhookRequest struct {
	Event         string     `json:"event"`
	DeviceID      string     `json:"device_id"`
	AppointmentID string     `json:"appointment_id"`
	Timestamp     *time.Time `json:"timestamp"`
	Power         *float64   `json:"power"`
	Energy        *float64   `json:"energy"`
	Voltage       *float64   `json:"voltage"`
	Temperature   *float64   `json:"temperature"`
}

// Response types

type StartAppointmentResponse struct {
	Error                      string             `json:"error,omitempty"`
	Started                    bool               `json:"started"`
	RequiresEquipmentSelection bool               `json:"requires_equipment_selection"`
	SelectedAssignmentID       *string            `json:"selected_assignment_id,omitempty"`
	Usage                      *DeviceUsage       `json:"usage,omitempty"`
	AvailableEquipment         []equipment.Option `json:"available_equipment,omitempty"`
}

type AssignDeviceResponse struct {
	Usage                DeviceUsage `json:"usage"`
	FinishedUsages       []string    `json:"finished_usages"`
	DeviceControlPending bool        `json:"device_control_pending"`
}

type TimerResponse struct {
	Usage            DeviceUsage `json:"usage"`
	ElapsedSeconds   int64       `json:"elapsed_seconds"`
	RemainingSeconds int64       `json:"remaining_seconds"`
	PausedSeconds    int64       `json:"paused_seconds"`
	Progress         float64     `json:"progress"`
	Overtime         bool        `json:"overtime"`
}

// TimerUpdate is the payload of appointment-timer-update events.
type TimerUpdate struct {
	Action        string      `json:"action"`
	AppointmentID string      `json:"appointment_id"`
	Usage         DeviceUsage `json:"usage"`
}

// DeviceControlUpdate is the payload of device-control-* events.
type DeviceControlUpdate struct {
	AppointmentID               string `json:"appointment_id"`
	DeviceID                    string `json:"device_id"`
	EquipmentClinicAssignmentID string `json:"equipment_clinic_assignment_id,omitempty"`
	DeviceTurnedOn              bool   `json:"device_turned_on"`
	Status                      string `json:"status,omitempty"`
	Error                       string `json:"error,omitempty"`
}

type WebhookResponse struct {
	Action        string   `json:"action"`
	UsageID       string   `json:"usage_id,omitempty"`
	ActualMinutes *float64 `json:"actual_minutes,omitempty"`
	Updated       int      `json:"updated"`
}

// Domain types

type Appointment struct {
	ID                       string               `json:"id"`
	ClinicID                 string               `json:"clinic_id"`
	PersonID                 string               `json:"person_id"`
	ProfessionalUserID       *string              `json:"professional_user_id,omitempty"`
	CabinID                  *string              `json:"cabin_id,omitempty"`
	StartTime                time.Time            `json:"start_time"`
	EndTime                  time.Time            `json:"end_time"`
	StartDate                string               `json:"start_date"`
	EstimatedDurationMinutes int                  `json:"estimated_duration_minutes"`
	Status                   string               `json:"status"`
	Services                 []AppointmentService `json:"services"`
	ActiveUsage              *DeviceUsage         `json:"active_usage,omitempty"`
	CreatedAt                time.Time            `json:"created_at"`
}

type AppointmentService struct {
	ID                       string `json:"id"`
	ServiceID                string `json:"service_id"`
	Name                     string `json:"name"`
	DurationMinutes          int    `json:"duration_minutes"`
	TreatmentDurationMinutes int    `json:"treatment_duration_minutes"`
	Status                   string `json:"status"`
}

type DeviceUsage struct {
	ID                          string                `json:"id"`
	AppointmentID               string                `json:"appointment_id"`
	EquipmentID                 *string               `json:"equipment_id,omitempty"`
	EquipmentClinicAssignmentID *string               `json:"equipment_clinic_assignment_id,omitempty"`
	DeviceID                    *string               `json:"device_id,omitempty"`
	StartedAt                   time.Time             `json:"started_at"`
	EndedAt                     *time.Time            `json:"ended_at,omitempty"`
	PausedAt                    *time.Time            `json:"paused_at,omitempty"`
	PauseIntervals              []timer.PauseInterval `json:"pause_intervals"`
	EstimatedMinutes            int                   `json:"estimated_minutes"`
	ActualMinutes               *float64              `json:"actual_minutes,omitempty"`
	EnergyConsumption           *float64              `json:"energy_consumption,omitempty"`
	CurrentStatus               string                `json:"current_status"`
	EndReason                   string                `json:"end_reason,omitempty"`
	ServiceIDs                  []string              `json:"service_ids"`
}

// Energy analysis

type EnergyInsight struct {
	ID            string          `json:"id"`
	ClinicID      string          `json:"clinic_id"`
	AppointmentID string          `json:"appointment_id"`
	DeviceUsageID string          `json:"device_usage_id"`
	ClientID      *string         `json:"client_id,omitempty"`
	InsightType   string          `json:"insight_type"`
	ActualValue   float64         `json:"actual_value"`
	ExpectedValue float64         `json:"expected_value"`
	DeviationPct  float64         `json:"deviation_pct"`
	Detail        json.RawMessage `json:"detail"`
	Resolved      bool            `json:"resolved"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type RecalculateResponse struct {
	Profiles int `json:"profiles"`
}
