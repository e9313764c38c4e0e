// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticket statuses
const (
	TicketOpen   = "OPEN"
	TicketClosed = "CLOSED"
	TicketVoid   = "VOID"
)

// Ticket item types
const (
	ItemService = "SERVICE"
	ItemProduct = "PRODUCT"
)

// Request types

type TicketItemRequest struct {
	Type           string           `json:"type"`
	ItemID         string           `json:"item_id"`
	Quantity       int64            `json:"quantity"`
	UnitPrice      *decimal.Decimal `json:"unit_price"`
	DiscountAmount *decimal.Decimal `json:"discount_amount"`
	PromotionID    string           `json:"promotion_id"`
}

type CreateTicketRequest struct {
	ClinicID      string              `json:"clinic_id"`
	PersonID      string              `json:"person_id"`
	AppointmentID string              `json:"appointment_id"`
	Items         []TicketItemRequest `json:"items"`
}

type AddPaymentRequest struct {
	PaymentMethodCode string          `json:"payment_method_code"`
	Amount            decimal.Decimal `json:"amount"`
}

// Domain types

type Ticket struct {
	ID             string          `json:"id"`
	ClinicID       string          `json:"clinic_id"`
	PersonID       string          `json:"person_id"`
	AppointmentID  *string         `json:"appointment_id,omitempty"`
	Status         string          `json:"status"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountTotal  decimal.Decimal `json:"discount_total"`
	VATTotal       decimal.Decimal `json:"vat_total"`
	Total          decimal.Decimal `json:"total"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	PendingAmount  decimal.Decimal `json:"pending_amount"`
	JournalEntryID *string         `json:"journal_entry_id,omitempty"`
	ClosedAt       *time.Time      `json:"closed_at,omitempty"`
	Items          []TicketItem    `json:"items"`
	Payments       []Payment       `json:"payments"`
	Invoice        *Invoice        `json:"invoice,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type TicketItem struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	ItemID         string          `json:"item_id"`
	Description    string          `json:"description"`
	Quantity       int64           `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	PromotionID    *string         `json:"promotion_id,omitempty"`
	VATRate        decimal.Decimal `json:"vat_rate"`
	VATAmount      decimal.Decimal `json:"vat_amount"`
	FinalPrice     decimal.Decimal `json:"final_price"`
}

type Payment struct {
	ID                string          `json:"id"`
	PaymentMethodID   string          `json:"payment_method_id"`
	PaymentMethodCode string          `json:"payment_method_code"`
	Amount            decimal.Decimal `json:"amount"`
	JournalEntryID    *string         `json:"journal_entry_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

type Invoice struct {
	ID            string          `json:"id"`
	TicketID      string          `json:"ticket_id"`
	LegalEntityID string          `json:"legal_entity_id"`
	InvoiceNumber string          `json:"invoice_number"`
	IssuedAt      time.Time       `json:"issued_at"`
	Total         decimal.Decimal `json:"total"`
}
