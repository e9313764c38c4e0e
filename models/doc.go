// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package models defines request, response, and domain types for the API.

JSON field names are snake_case throughout. Money travels as
decimal.Decimal and is encoded as a string.

# Files

  - tenancy.go: systems, users, modules
  - catalog.go: legal entities, clinics, cabins, persons, services,
    products, VAT types, promotions
  - equipment.go: equipment, clinic units, Shelly credentials and plugs
  - appointments.go: appointments, device usages, timers, webhooks,
    energy insights
  - billing.go: tickets, payments, invoices
  - accounting.go: accounts and journal entries
  - crm.go: leads and opportunities
  - websocket.go: connection registry views

# Constants

Appointment status:

	AppointmentScheduled  = "SCHEDULED"
	AppointmentInProgress = "IN_PROGRESS"
	AppointmentCompleted  = "COMPLETED"
	AppointmentCancelled  = "CANCELLED"

Opportunity stage:

	StageProspecting, StageProposal, StageNegotiation, StageWon, StageLost
*/
package models
