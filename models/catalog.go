// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Request types

type CreateLegalEntityRequest struct {
	Name        string `json:"name"`
	CountryCode string `json:"country_code"`
	TaxID       string `json:"tax_id"`
}

type CreateClinicRequest struct {
	Name          string `json:"name"`
	Prefix        string `json:"prefix"`
	LegalEntityID string `json:"legal_entity_id"`
}

type CreateCabinRequest struct {
	Name string `json:"name"`
}

type CreatePersonRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

type CreateCategoryRequest struct {
	Name string `json:"name"`
}

type CreateServiceRequest struct {
	Name                     string          `json:"name"`
	CategoryID               string          `json:"category_id"`
	DurationMinutes          int             `json:"duration_minutes"`
	TreatmentDurationMinutes int             `json:"treatment_duration_minutes"`
	Price                    decimal.Decimal `json:"price"`
	VATRate                  decimal.Decimal `json:"vat_rate"`
}

type CreateProductRequest struct {
	Name       string          `json:"name"`
	CategoryID string          `json:"category_id"`
	Price      decimal.Decimal `json:"price"`
	VATRate    decimal.Decimal `json:"vat_rate"`
}

type CreateVATTypeRequest struct {
	Name string          `json:"name"`
	Rate decimal.Decimal `json:"rate"`
}

type CreatePromotionRequest struct {
	Name            string          `json:"name"`
	Code            string          `json:"code"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

// Domain types

type LegalEntity struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	CountryCode string    `json:"country_code"`
	TaxID       string    `json:"tax_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type Clinic struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Prefix        string    `json:"prefix"`
	LegalEntityID *string   `json:"legal_entity_id,omitempty"`
	Cabins        []Cabin   `json:"cabins,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type Cabin struct {
	ID       string `json:"id"`
	ClinicID string `json:"clinic_id"`
	Name     string `json:"name"`
}

type Person struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Service struct {
	ID                       string          `json:"id"`
	Name                     string          `json:"name"`
	CategoryID               *string         `json:"category_id,omitempty"`
	DurationMinutes          int             `json:"duration_minutes"`
	TreatmentDurationMinutes int             `json:"treatment_duration_minutes"`
	Price                    decimal.Decimal `json:"price"`
	VATRate                  decimal.Decimal `json:"vat_rate"`
	EquipmentIDs             []string        `json:"equipment_ids"`
	CreatedAt                time.Time       `json:"created_at"`
}

type Product struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	CategoryID *string         `json:"category_id,omitempty"`
	Price      decimal.Decimal `json:"price"`
	VATRate    decimal.Decimal `json:"vat_rate"`
	CreatedAt  time.Time       `json:"created_at"`
}

type VATType struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Rate decimal.Decimal `json:"rate"`
}

type Promotion struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Code            string          `json:"code"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	CreatedAt       time.Time       `json:"created_at"`
}
