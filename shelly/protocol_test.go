// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package shelly

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(f float64) *float64 { return &f }

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		wantID string
		want   Status
	}{
		{
			name: "gen2 switch",
			raw: `{"id":"shellyplugs-b0b21c12dd94","switch:0":{"output":true,"apower":812.4,"voltage":229.8,
				"aenergy":{"total":1534.2},"temperature":{"tC":41.5}}}`,
			wantID: "shellyplugs-b0b21c12dd94",
			want: Status{Online: true, RelayOn: true, Power: ptr(812.4), Voltage: ptr(229.8),
				TotalEnergy: ptr(1534.2), Temperature: ptr(41.5)},
		},
		{
			name:   "gen2 relay channel with sys temperature",
			raw:    `{"relay:0":{"ison":false,"power":0},"sys":{"temperature":35}}`,
			wantID: "",
			want:   Status{Online: true, RelayOn: false, Power: ptr(0), Temperature: ptr(35)},
		},
		{
			name:   "gen1 relays and meters",
			raw:    `{"relays":[{"ison":true}],"meters":[{"power":55.5,"total":3000}],"voltage":231,"temperature":38.2}`,
			wantID: "",
			want: Status{Online: true, RelayOn: true, Power: ptr(55.5), Voltage: ptr(231),
				TotalEnergy: ptr(3000), Temperature: ptr(38.2)},
		},
		{
			name:   "numeric id",
			raw:    `{"id":194279021665684}`,
			wantID: "194279021665684",
			want:   Status{Online: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, st, err := ParseStatus(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.want, st)
		})
	}

	_, _, err := ParseStatus(json.RawMessage(`[1,2]`))
	assert.Error(t, err)
}

func TestInboundDecoding(t *testing.T) {
	var msg Inbound
	require.NoError(t, json.Unmarshal([]byte(`{"event":"Shelly:Online","device":{"id":194279021665684,"gen":2},"online":1}`), &msg))
	assert.Equal(t, EventOnline, msg.Event)
	assert.Equal(t, FlexString("194279021665684"), msg.Device.ID)
	require.NotNil(t, msg.Online)
	assert.True(t, bool(*msg.Online))

	msg = Inbound{}
	require.NoError(t, json.Unmarshal([]byte(`{"event":"Shelly:CommandResponse","trid":17,"deviceId":"42","data":{"isok":false,"errors":{"max_req":"limit"}}}`), &msg))
	assert.Equal(t, int64(17), msg.Trid)
	assert.Equal(t, FlexString("42"), msg.DeviceID)
	assert.False(t, msg.Data.IsOK)

	var b FlexBool
	assert.Error(t, json.Unmarshal([]byte(`"yes"`), &b))
}

func TestCommands(t *testing.T) {
	now := time.UnixMilli(1700000000123)

	data, err := json.Marshal(RelayCommand("1942790", true, now))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"Shelly:CommandRequest","trid":1700000000123,"deviceId":"1942790",
		"data":{"cmd":"relay","params":{"id":0,"turn":"on"}}}`, string(data))

	data, err = json.Marshal(RenameCommand("1942790", "Laser 2", now))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"Shelly:CommandRequest","trid":1700000000123,"deviceId":"1942790",
		"data":{"cmd":"name","name":"Laser 2"}}`, string(data))
}

func TestIsCloudID(t *testing.T) {
	assert.True(t, IsCloudID("194279021665684"))
	assert.False(t, IsCloudID("b0b21c12dd94"))
	assert.False(t, IsCloudID(""))
}
