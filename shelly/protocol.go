// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package shelly

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Cloud websocket events
const (
	EventStatusOnChange  = "Shelly:StatusOnChange"
	EventOnline          = "Shelly:Online"
	EventCommandRequest  = "Shelly:CommandRequest"
	EventCommandResponse = "Shelly:CommandResponse"
)

// FlexString accepts a JSON string or number. Cloud IDs arrive as both.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("cloud id: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

// FlexBool accepts true/false or 1/0.
type FlexBool bool

func (f *FlexBool) UnmarshalJSON(b []byte) error {
	switch string(bytes.TrimSpace(b)) {
	case "true", "1":
		*f = true
	case "false", "0", "null":
		*f = false
	default:
		return fmt.Errorf("invalid boolean %s", b)
	}
	return nil
}

// DeviceRef identifies a device in cloud messages.
type DeviceRef struct {
	ID   FlexString `json:"id"`
	Code string     `json:"code,omitempty"`
	Gen  FlexString `json:"gen,omitempty"`
}

// CommandResult is the data of a command response.
type CommandResult struct {
	IsOK   bool            `json:"isok"`
	Errors json.RawMessage `json:"errors,omitempty"`
}

// Inbound is any message the cloud pushes. Fields are populated according
// to Event.
type Inbound struct {
	Event    string          `json:"event"`
	Device   *DeviceRef      `json:"device,omitempty"`
	Status   json.RawMessage `json:"status,omitempty"`
	Online   *FlexBool       `json:"online,omitempty"`
	DeviceID FlexString      `json:"deviceId,omitempty"`
	Trid     int64           `json:"trid,omitempty"`
	Data     *CommandResult  `json:"data,omitempty"`
}

// Status is the normalised state of a plug across device generations.
type Status struct {
	Online      bool     `json:"online"`
	RelayOn     bool     `json:"relay_on"`
	Power       *float64 `json:"current_power,omitempty"`
	Voltage     *float64 `json:"voltage,omitempty"`
	TotalEnergy *float64 `json:"total_energy,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

type channel struct {
	Output  *bool    `json:"output"`
	IsOn    *bool    `json:"ison"`
	APower  *float64 `json:"apower"`
	Power   *float64 `json:"power"`
	Voltage *float64 `json:"voltage"`
	AEnergy *struct {
		Total *float64 `json:"total"`
	} `json:"aenergy"`
	Temperature *struct {
		TC *float64 `json:"tC"`
	} `json:"temperature"`
}

type rawStatus struct {
	ID      FlexString `json:"id"`
	Switch0 *channel   `json:"switch:0"`
	Relay0  *channel   `json:"relay:0"`
	Relays  []struct {
		IsOn bool `json:"ison"`
	} `json:"relays"`
	Meters []struct {
		Power *float64 `json:"power"`
		Total *float64 `json:"total"`
	} `json:"meters"`
	Voltage     *float64        `json:"voltage"`
	Temperature json.RawMessage `json:"temperature"`
	Sys         *struct {
		Temperature *float64 `json:"temperature"`
	} `json:"sys"`
}

// ParseStatus normalises a gen1 or gen2 status document. It returns the
// device ID the status names, which may be empty.
func ParseStatus(raw json.RawMessage) (string, Status, error) {
	var rs rawStatus
	if err := json.Unmarshal(raw, &rs); err != nil {
		return "", Status{}, fmt.Errorf("invalid status: %w", err)
	}

	st := Status{Online: true}
	ch := rs.Switch0
	if ch == nil {
		ch = rs.Relay0
	}

	if ch != nil {
		switch {
		case ch.Output != nil:
			st.RelayOn = *ch.Output
		case ch.IsOn != nil:
			st.RelayOn = *ch.IsOn
		}
		st.Power = firstNonNil(ch.APower, ch.Power)
		st.Voltage = ch.Voltage
		if ch.AEnergy != nil {
			st.TotalEnergy = ch.AEnergy.Total
		}
		if ch.Temperature != nil {
			st.Temperature = ch.Temperature.TC
		}
	} else if len(rs.Relays) > 0 {
		st.RelayOn = rs.Relays[0].IsOn
	}

	if len(rs.Meters) > 0 {
		if st.Power == nil {
			st.Power = rs.Meters[0].Power
		}
		if st.TotalEnergy == nil {
			st.TotalEnergy = rs.Meters[0].Total
		}
	}
	if st.Voltage == nil {
		st.Voltage = rs.Voltage
	}
	if st.Temperature == nil {
		st.Temperature = topLevelTemperature(rs.Temperature)
	}
	if st.Temperature == nil && rs.Sys != nil {
		st.Temperature = rs.Sys.Temperature
	}

	return string(rs.ID), st, nil
}

// topLevelTemperature reads gen1's numeric "temperature" field and ignores
// the object form.
func topLevelTemperature(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return &v
}

func firstNonNil(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

// IsCloudID reports whether id looks like a numeric cloud identifier.
func IsCloudID(id string) bool {
	if id == "" {
		return false
	}
	_, err := strconv.ParseUint(id, 10, 64)
	return err == nil
}

// RelayParams switches channel ID on or off.
type RelayParams struct {
	ID   int    `json:"id"`
	Turn string `json:"turn"`
}

type CommandData struct {
	Cmd    string       `json:"cmd"`
	Params *RelayParams `json:"params,omitempty"`
	Name   string       `json:"name,omitempty"`
}

// Command is an outgoing Shelly:CommandRequest.
type Command struct {
	Event    string      `json:"event"`
	Trid     int64       `json:"trid"`
	DeviceID string      `json:"deviceId"`
	Data     CommandData `json:"data"`
}

// RelayCommand switches channel 0 of the device.
func RelayCommand(cloudID string, on bool, now time.Time) Command {
	turn := "off"
	if on {
		turn = "on"
	}
	return Command{
		Event:    EventCommandRequest,
		Trid:     now.UnixMilli(),
		DeviceID: cloudID,
		Data:     CommandData{Cmd: "relay", Params: &RelayParams{ID: 0, Turn: turn}},
	}
}

// RenameCommand sets the device name stored in the cloud.
func RenameCommand(cloudID, name string, now time.Time) Command {
	return Command{
		Event:    EventCommandRequest,
		Trid:     now.UnixMilli(),
		DeviceID: cloudID,
		Data:     CommandData{Cmd: "name", Name: name},
	}
}
