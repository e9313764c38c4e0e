// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package equipment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plug(online, relayOn bool) *PlugState {
	return &PlugState{ID: "p", DeviceID: "shelly-1", Online: online, RelayOn: relayOn}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name      string
		a         Assignment
		want      Availability
		available bool
	}{
		{"no plug", Assignment{}, NoSmartPlug, true},
		{"no plug but in use", Assignment{InUse: true}, Occupied, false},
		{"offline", Assignment{Plug: plug(false, false)}, Offline, false},
		{"offline relay on", Assignment{Plug: plug(false, true)}, Offline, false},
		{"relay on", Assignment{Plug: plug(true, true)}, Occupied, false},
		{"free", Assignment{Plug: plug(true, false)}, Available, true},
		{"free plug held by usage", Assignment{Plug: plug(true, false), InUse: true}, Occupied, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Status())
			assert.Equal(t, tt.available, tt.a.IsAvailable())
		})
	}
}

func TestDecide(t *testing.T) {
	free := Assignment{ID: "a1", EquipmentID: "e1", Plug: plug(true, false)}
	busy := Assignment{ID: "a2", EquipmentID: "e1", Plug: plug(true, true)}
	bare := Assignment{ID: "a3", EquipmentID: "e2"}

	tests := []struct {
		name         string
		assignments  []Assignment
		requirements int
		want         DecisionKind
		selected     string
	}{
		{"no requirements", []Assignment{free}, 0, StartWithoutEquipment, ""},
		{"nothing installed", nil, 2, StartWithoutEquipment, ""},
		{"single free", []Assignment{free, busy}, 1, AutoSelect, "a1"},
		{"bare unit counts as free", []Assignment{busy, bare}, 1, AutoSelect, "a3"},
		{"several free", []Assignment{free, bare}, 1, RequiresSelection, ""},
		{"all busy", []Assignment{busy}, 1, AllOccupied, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.assignments, tt.requirements)
			assert.Equal(t, tt.want, d.Kind, d.Kind.String())
			assert.Len(t, d.Options, len(tt.assignments))
			if tt.selected == "" {
				assert.Nil(t, d.Selected)
				return
			}
			require.NotNil(t, d.Selected)
			assert.Equal(t, tt.selected, d.Selected.ID)
		})
	}
}

func TestFind(t *testing.T) {
	busy := Assignment{ID: "a1", EquipmentID: "e1", Plug: plug(true, true)}
	free := Assignment{ID: "a2", EquipmentID: "e1", Plug: plug(true, false)}
	all := []Assignment{busy, free}

	got, ok := Find(all, "a1", "")
	require.True(t, ok)
	assert.Equal(t, "a1", got.ID)

	got, ok = Find(all, "", "e1")
	require.True(t, ok)
	assert.Equal(t, "a2", got.ID, "free unit preferred")

	got, ok = Find([]Assignment{busy}, "", "e1")
	require.True(t, ok)
	assert.Equal(t, "a1", got.ID)

	_, ok = Find(all, "missing", "")
	assert.False(t, ok)
	_, ok = Find(all, "", "e9")
	assert.False(t, ok)
}
