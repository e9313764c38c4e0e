// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package shelly

import (
	"context"
	"errors"
	"time"

	"github.com/casblasvic/weekly-calendar-sub018/db"
)

var (
	ErrCredentialNotFound = errors.New("shelly credential not found")
	ErrDeviceNotFound     = errors.New("smart plug not found")
)

// Credential is a Shelly cloud account with its tokens in plain text.
type Credential struct {
	ID           string
	SystemID     string
	Name         string
	Email        string
	APIHost      string
	AccessToken  string
	RefreshToken string
}

// Device is the part of a smart plug row the manager needs.
type Device struct {
	ID           string
	SystemID     string
	CredentialID string
	DeviceID     string
	CloudID      string
	Name         string
	Online       bool
	RelayOn      bool
}

// Store persists everything the manager learns from the cloud.
type Store interface {
	Credential(ctx context.Context, id string) (Credential, error)
	SaveTokens(ctx context.Context, credentialID string, t Tokens) error
	SetCredentialStatus(ctx context.Context, credentialID, status string) error
	ModuleActive(ctx context.Context, systemID string) (bool, error)

	// FindDevice matches id against the device ID or cloud ID of the
	// credential's plugs.
	FindDevice(ctx context.Context, credentialID, id string) (Device, error)
	CredentialDevices(ctx context.Context, credentialID string) ([]Device, error)
	SetCloudID(ctx context.Context, deviceRowID, cloudID string) error
	ApplyStatus(ctx context.Context, deviceRowID string, st Status, at time.Time) error
	SetOnline(ctx context.Context, deviceRowID string, online bool, at time.Time) error

	Connection(ctx context.Context, credentialID, systemID string) (db.Connection, error)
	UpdateConnectionStatus(ctx context.Context, connectionID, status, errMsg string) error
	LogEvent(ctx context.Context, connectionID, eventType, message, details string) error

	// AutoStartCredentials lists credentials whose connection has
	// autoReconnect set and whose system has the SHELLY module active.
	AutoStartCredentials(ctx context.Context) ([]string, error)
	ConnectedConnections(ctx context.Context) ([]db.Connection, error)
}
