// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Journal entry statuses
const (
	EntryPosted   = "POSTED"
	EntryReversed = "REVERSED"
)

// Request types

type QuickSetupRequest struct {
	LegalEntityID string `json:"legal_entity_id"`
}

type AutoMapRequest struct {
	LegalEntityID string `json:"legal_entity_id"`
	ClinicID      string `json:"clinic_id"`
	ForceRemap    bool   `json:"force_remap"`
}

type CreateAccountRequest struct {
	LegalEntityID   string `json:"legal_entity_id"`
	AccountNumber   string `json:"account_number"`
	Name            string `json:"name"`
	Type            string `json:"type"`
	ParentAccountID string `json:"parent_account_id"`
}

type JournalLineRequest struct {
	AccountID   string          `json:"account_id"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description"`
}

type CreateJournalEntryRequest struct {
	LegalEntityID string               `json:"legal_entity_id"`
	Date          *time.Time           `json:"date"`
	Description   string               `json:"description"`
	Lines         []JournalLineRequest `json:"lines"`
}

type ReverseEntryRequest struct {
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

// Response types

type MappingCounts struct {
	Services       int `json:"services"`
	Products       int `json:"products"`
	Categories     int `json:"categories"`
	PaymentMethods int `json:"payment_methods"`
	VATTypes       int `json:"vat_types"`
	Promotions     int `json:"promotions"`
}

type AutoMapResult struct {
	Mapped             MappingCounts `json:"mapped"`
	CreatedSubaccounts int           `json:"created_subaccounts"`
	Skipped            int           `json:"skipped"`
	Removed            int           `json:"removed"`
}

type QuickSetupResponse struct {
	Country               string        `json:"country"`
	AccountsCreated       int           `json:"accounts_created"`
	AccountsSkipped       int           `json:"accounts_skipped"`
	PaymentMethodsCreated int           `json:"payment_methods_created"`
	AutoMap               AutoMapResult `json:"auto_map"`
}

// Domain types

type Account struct {
	ID                string    `json:"id"`
	LegalEntityID     string    `json:"legal_entity_id"`
	AccountNumber     string    `json:"account_number"`
	Name              string    `json:"name"`
	Type              string    `json:"type"`
	ParentAccountID   *string   `json:"parent_account_id,omitempty"`
	IsSubaccount      bool      `json:"is_subaccount"`
	AllowsDirectEntry bool      `json:"allows_direct_entry"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
}

type JournalLine struct {
	AccountID     string          `json:"account_id"`
	AccountNumber string          `json:"account_number"`
	Debit         decimal.Decimal `json:"debit"`
	Credit        decimal.Decimal `json:"credit"`
	Description   string          `json:"description"`
}

type JournalEntry struct {
	ID             string        `json:"id"`
	LegalEntityID  string        `json:"legal_entity_id"`
	EntryNumber    string        `json:"entry_number"`
	EntryDate      time.Time     `json:"entry_date"`
	Description    string        `json:"description"`
	Source         string        `json:"source"`
	ReferenceID    string        `json:"reference_id,omitempty"`
	Status         string        `json:"status"`
	ReversalOfID   *string       `json:"reversal_of_id,omitempty"`
	ReversalReason string        `json:"reversal_reason,omitempty"`
	Lines          []JournalLine `json:"lines"`
	CreatedAt      time.Time     `json:"created_at"`
}
