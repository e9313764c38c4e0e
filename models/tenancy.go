// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import "time"

// Request types

type CreateSystemRequest struct {
	Name        string `json:"name"`
	AdminEmail  string `json:"admin_email"`
	AdminName   string `json:"admin_name"`
	CountryCode string `json:"country_code"`
}

type CreateUserRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

type SetModuleRequest struct {
	Active *bool `json:"active"`
}

// Response types

type CreateSystemResponse struct {
	SystemID      string `json:"system_id"`
	UserID        string `json:"user_id"`
	LegalEntityID string `json:"legal_entity_id"`
	Token         string `json:"token"`
	WebhookToken  string `json:"webhook_token"`
}

type CreateUserResponse struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

type User struct {
	ID        string    `json:"id"`
	SystemID  string    `json:"system_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type Module struct {
	Code   string `json:"code"`
	Active bool   `json:"active"`
}

type MeResponse struct {
	User    User     `json:"user"`
	Modules []Module `json:"modules"`
}
