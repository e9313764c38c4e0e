// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

// Appointment status constants
const (
	AppointmentScheduled  = "SCHEDULED"
	AppointmentInProgress = "IN_PROGRESS"
	AppointmentCompleted  = "COMPLETED"
	AppointmentCancelled  = "CANCELLED"
)

// Appointment service status constants
const (
	ServiceScheduled  = "SCHEDULED"
	ServiceInProgress = "IN_PROGRESS"
	ServiceCompleted  = "COMPLETED"
)

// Module codes
const (
	ModuleShelly = "SHELLY"
)

// Error response

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// MessageResponse acknowledges operations with no resource to return.
type MessageResponse struct {
	Message string `json:"message"`
}

// IDResponse returns the ID of a created resource.
type IDResponse struct {
	ID string `json:"id"`
}
