// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package equipment

// Availability is the state of one clinic assignment when an appointment
// is about to start.
type Availability string

const (
	NoSmartPlug Availability = "no_smart_plug"
	Offline     Availability = "offline"
	Occupied    Availability = "occupied"
	Available   Availability = "available"
)

// PlugState is the last known state of the smart plug wired to an
// assignment.
type PlugState struct {
	ID           string   `json:"id"`
	DeviceID     string   `json:"device_id"`
	Name         string   `json:"name"`
	Online       bool     `json:"online"`
	RelayOn      bool     `json:"relay_on"`
	CurrentPower *float64 `json:"current_power,omitempty"`
}

// Assignment is one physical unit of a required equipment in the
// appointment's clinic.
type Assignment struct {
	ID            string     `json:"id"`
	EquipmentID   string     `json:"equipment_id"`
	EquipmentName string     `json:"equipment_name"`
	SerialNumber  string     `json:"serial_number"`
	DeviceName    string     `json:"device_name,omitempty"`
	CabinID       *string    `json:"cabin_id,omitempty"`
	CabinName     string     `json:"cabin_name,omitempty"`
	Plug          *PlugState `json:"smart_plug,omitempty"`

	// InUse is set when another appointment holds an open usage on this
	// assignment or its plug.
	InUse bool `json:"in_use"`
}

// Status classifies the assignment. A missing plug wins over everything,
// then connectivity, then relay state.
func (a Assignment) Status() Availability {
	switch {
	case a.Plug == nil:
		if a.InUse {
			return Occupied
		}
		return NoSmartPlug
	case !a.Plug.Online:
		return Offline
	case a.Plug.RelayOn || a.InUse:
		return Occupied
	default:
		return Available
	}
}

// IsAvailable reports whether the assignment can be picked. An assignment
// without a plug cannot be observed, so it is available unless a running
// usage already holds it. A plug must be online with its relay off.
func (a Assignment) IsAvailable() bool {
	if a.InUse {
		return false
	}
	return a.Plug == nil || (a.Plug.Online && !a.Plug.RelayOn)
}

// Option is an assignment as presented to the user for selection.
type Option struct {
	Assignment
	Status    Availability `json:"status"`
	Available bool         `json:"is_available"`
}

// DecisionKind tells the start handler what to do next.
type DecisionKind int

const (
	// StartWithoutEquipment: nothing required, or nothing installed here.
	StartWithoutEquipment DecisionKind = iota
	// AutoSelect: exactly one unit is free.
	AutoSelect
	// RequiresSelection: several units are free and the user must pick.
	RequiresSelection
	// AllOccupied: every unit is busy.
	AllOccupied
)

func (k DecisionKind) String() string {
	switch k {
	case StartWithoutEquipment:
		return "start_without_equipment"
	case AutoSelect:
		return "auto_select"
	case RequiresSelection:
		return "requires_selection"
	case AllOccupied:
		return "all_occupied"
	}
	return "unknown"
}

type Decision struct {
	Kind     DecisionKind
	Selected *Assignment
	Options  []Option
}

// Options annotates every assignment with its status.
func Options(assignments []Assignment) []Option {
	opts := make([]Option, 0, len(assignments))
	for _, a := range assignments {
		opts = append(opts, Option{Assignment: a, Status: a.Status(), Available: a.IsAvailable()})
	}
	return opts
}

// Decide picks the start path for an appointment. requirements is the
// number of appointment services that declare at least one equipment.
func Decide(assignments []Assignment, requirements int) Decision {
	opts := Options(assignments)
	if requirements == 0 || len(assignments) == 0 {
		return Decision{Kind: StartWithoutEquipment, Options: opts}
	}

	var free []int
	for i, o := range opts {
		if o.Available {
			free = append(free, i)
		}
	}

	switch len(free) {
	case 0:
		return Decision{Kind: AllOccupied, Options: opts}
	case 1:
		selected := assignments[free[0]]
		return Decision{Kind: AutoSelect, Selected: &selected, Options: opts}
	default:
		return Decision{Kind: RequiresSelection, Options: opts}
	}
}

// Find returns the assignment with the given id, or the first assignment
// of the given equipment, whichever matches first.
func Find(assignments []Assignment, assignmentID, equipmentID string) (Assignment, bool) {
	for _, a := range assignments {
		if assignmentID != "" && a.ID == assignmentID {
			return a, true
		}
	}
	if equipmentID == "" {
		return Assignment{}, false
	}
	// Prefer a free unit of the equipment when several are installed.
	var fallback *Assignment
	for i, a := range assignments {
		if a.EquipmentID != equipmentID {
			continue
		}
		if a.IsAvailable() {
			return a, true
		}
		if fallback == nil {
			fallback = &assignments[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Assignment{}, false
}
