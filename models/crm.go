// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lead statuses
const (
	LeadNew       = "NEW"
	LeadContacted = "CONTACTED"
	LeadQualified = "QUALIFIED"
	LeadLost      = "LOST"
	LeadConverted = "CONVERTED"
)

// Opportunity stages
const (
	StageProspecting = "PROSPECTING"
	StageProposal    = "PROPOSAL"
	StageNegotiation = "NEGOTIATION"
	StageWon         = "WON"
	StageLost        = "LOST"
)

type CreateLeadRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Source    string `json:"source"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type ConvertLeadRequest struct {
	EstimatedValue decimal.Decimal `json:"estimated_value"`
	ClinicID       string          `json:"clinic_id"`
	Name           string          `json:"name"`
}

type UpdateStageRequest struct {
	Stage string `json:"stage"`
}

type Lead struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Source    string    `json:"source"`
	Status    string    `json:"status"`
	PersonID  *string   `json:"person_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Opportunity struct {
	ID             string          `json:"id"`
	LeadID         *string         `json:"lead_id,omitempty"`
	PersonID       string          `json:"person_id"`
	ClinicID       *string         `json:"clinic_id,omitempty"`
	Name           string          `json:"name"`
	Stage          string          `json:"stage"`
	EstimatedValue decimal.Decimal `json:"estimated_value"`
	ClosedAt       *time.Time      `json:"closed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type ConvertLeadResponse struct {
	Lead        Lead        `json:"lead"`
	Person      Person      `json:"person"`
	Opportunity Opportunity `json:"opportunity"`
	// PersonReused is set when an existing person matched the lead's email.
	PersonReused bool `json:"person_reused"`
}
