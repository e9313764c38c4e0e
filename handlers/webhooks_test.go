// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/casblasvic/weekly-calendar-sub018/auth"
	"github.com/casblasvic/weekly-calendar-sub018/energy"
	"github.com/casblasvic/weekly-calendar-sub018/logging"
	"github.com/casblasvic/weekly-calendar-sub018/models"
	"github.com/casblasvic/weekly-calendar-sub018/testutil"
)

func ptr[T any](v T) *T { return &v }

func TestWebhookReceive(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	f := testutil.CreateTestSystem(t, conn, cfg, true)
	pub := &recorder{}
	h := NewWebhookHandler(conn, cfg, DeviceDeps{
		Energy: energy.NewService(conn, logging.NewNop()),
		Pub:    pub,
	})

	restore := clock
	t.Cleanup(func() { clock = restore })
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	clock = func() time.Time { return now }

	svc := testutil.CreateTestService(t, conn, f.SystemID, "", "Laser", 40, 25, "90.00")
	eq := testutil.CreateTestEquipment(t, conn, f.SystemID, "Laser X", svc)
	unit := testutil.CreateTestAssignment(t, conn, f.SystemID, eq, f.ClinicID, "LX-1")
	cred := testutil.CreateTestCredential(t, conn, f.SystemID, "https://shelly-1-eu.shelly.cloud")
	plug := testutil.CreateTestPlug(t, conn, f.SystemID, cred, unit, "c0ffee", true, false)
	person := testutil.CreateTestPerson(t, conn, f.SystemID, "Pilar")
	appt := testutil.CreateTestAppointment(t, conn, f, person, now, svc)
	token := auth.WebhookToken(f.SystemID, cfg.WebhookSecret)

	send := func(tok string, body models.WebhookRequest) *httptest.ResponseRecorder {
		req := testutil.MakeRequest("POST", "/api/webhooks/"+f.SystemID+"/"+tok, body, nil)
		req.SetPathValue("systemId", f.SystemID)
		req.SetPathValue("token", tok)
		w := httptest.NewRecorder()
		h.Receive(w, req)
		return w
	}
	action := func(w *httptest.ResponseRecorder) models.WebhookResponse {
		t.Helper()
		testutil.AssertStatus(t, w, http.StatusOK)
		var resp models.WebhookResponse
		testutil.AssertJSON(t, w, &resp)
		return resp
	}

	t.Run("rejects bad requests", func(t *testing.T) {
		testutil.AssertStatus(t, send("forged", models.WebhookRequest{Event: models.WebhookPowerOn, DeviceID: "c0ffee"}), http.StatusUnauthorized)
		testutil.AssertStatus(t, send(token, models.WebhookRequest{Event: "explode", DeviceID: "c0ffee"}), http.StatusBadRequest)
		testutil.AssertStatus(t, send(token, models.WebhookRequest{Event: models.WebhookPowerOn}), http.StatusBadRequest)
		testutil.AssertStatus(t, send(token, models.WebhookRequest{Event: models.WebhookPowerOn, DeviceID: "unknown"}), http.StatusNotFound)
	})

	t.Run("power on without appointment only updates the plug", func(t *testing.T) {
		resp := action(send(token, models.WebhookRequest{Event: models.WebhookPowerOn, DeviceID: "c0ffee", Power: ptr(120.0)}))
		if resp.Action != "device_updated" {
			t.Errorf("Expected device_updated, got %s", resp.Action)
		}
		if n := testutil.QueryInt(t, conn, "SELECT COUNT(*) FROM smart_plug_device WHERE id = $1 AND relay_on = $2", plug, true); n != 1 {
			t.Error("Expected the relay to be recorded as on")
		}
	})

	var usageID string
	t.Run("power on with appointment starts the timer", func(t *testing.T) {
		resp := action(send(token, models.WebhookRequest{Event: models.WebhookPowerOn, DeviceID: "1942c0ffee", AppointmentID: appt}))
		if resp.Action != "started" || resp.UsageID == "" {
			t.Fatalf("Expected a started usage, got %+v", resp)
		}
		usageID = resp.UsageID
		resp = action(send(token, models.WebhookRequest{Event: models.WebhookPowerOn, DeviceID: "c0ffee", AppointmentID: appt}))
		if resp.Action != "already_active" || resp.UsageID != usageID {
			t.Errorf("Expected already_active on %s, got %+v", usageID, resp)
		}
	})

	t.Run("energy report updates plug and usage", func(t *testing.T) {
		now = now.Add(5 * time.Minute)
		resp := action(send(token, models.WebhookRequest{Event: models.WebhookEnergyReport, DeviceID: plug, Energy: ptr(42.5), Voltage: ptr(230.0)}))
		if resp.Updated != 2 {
			t.Errorf("Expected plug and usage to be updated, got %d", resp.Updated)
		}
	})

	t.Run("power off stops the usage but not the appointment", func(t *testing.T) {
		now = now.Add(25 * time.Minute)
		resp := action(send(token, models.WebhookRequest{Event: models.WebhookPowerOff, DeviceID: "c0ffee", Energy: ptr(60.0)}))
		if resp.Action != "stopped" || resp.UsageID != usageID {
			t.Fatalf("Expected %s to stop, got %+v", usageID, resp)
		}
		if resp.ActualMinutes == nil || *resp.ActualMinutes != 30 {
			t.Errorf("Expected 30 actual minutes, got %v", resp.ActualMinutes)
		}
		status := testutil.QueryString(t, conn, "SELECT current_status FROM appointment_device_usage WHERE id = $1", usageID)
		if status != "AUTO_SHUTDOWN" {
			t.Errorf("Expected AUTO_SHUTDOWN, got %s", status)
		}
		if s := testutil.QueryString(t, conn, "SELECT status FROM appointment WHERE id = $1", appt); s != models.AppointmentInProgress {
			t.Errorf("Expected the appointment to stay IN_PROGRESS, got %s", s)
		}

		resp = action(send(token, models.WebhookRequest{Event: models.WebhookPowerOff, DeviceID: "c0ffee"}))
		if resp.Action != "no_active_usage" {
			t.Errorf("Expected no_active_usage, got %s", resp.Action)
		}
	})

	if len(pub.Types()) == 0 {
		t.Error("Expected device updates to be published")
	}
}

func TestWebhookResumesPausedUsage(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	f := testutil.CreateTestSystem(t, conn, cfg, true)
	appts := NewAppointmentHandler(conn, cfg, DeviceDeps{})
	hooks := NewWebhookHandler(conn, cfg, DeviceDeps{})

	svc := testutil.CreateTestService(t, conn, f.SystemID, "", "Laser", 40, 25, "90.00")
	eq := testutil.CreateTestEquipment(t, conn, f.SystemID, "Laser X", svc)
	unit := testutil.CreateTestAssignment(t, conn, f.SystemID, eq, f.ClinicID, "LX-1")
	testutil.CreateTestPlug(t, conn, f.SystemID, "", unit, "d00d", true, false)
	person := testutil.CreateTestPerson(t, conn, f.SystemID, "Rocio")
	appt := testutil.CreateTestAppointment(t, conn, f, person, time.Now(), svc)

	w := httptest.NewRecorder()
	appts.StartAppointment(w, startReq(f, appt, nil))
	testutil.AssertStatus(t, w, http.StatusOK)

	req := testutil.MakeAuthedRequest(f.Principal(), "POST", "/api/appointments/"+appt+"/timer/pause", nil)
	req.SetPathValue("id", appt)
	w = httptest.NewRecorder()
	appts.PauseTimer(w, req)
	testutil.AssertStatus(t, w, http.StatusOK)

	token := auth.WebhookToken(f.SystemID, cfg.WebhookSecret)
	req = testutil.MakeRequest("POST", "/api/webhooks/x/y", models.WebhookRequest{Event: models.WebhookPowerOn, DeviceID: "d00d"}, nil)
	req.SetPathValue("systemId", f.SystemID)
	req.SetPathValue("token", token)
	w = httptest.NewRecorder()
	hooks.Receive(w, req)
	testutil.AssertStatus(t, w, http.StatusOK)

	var resp models.WebhookResponse
	testutil.AssertJSON(t, w, &resp)
	if resp.Action != "resumed" {
		t.Errorf("Expected resumed, got %s", resp.Action)
	}
	status := testutil.QueryString(t, conn, "SELECT current_status FROM appointment_device_usage WHERE id = $1", resp.UsageID)
	if status != "ACTIVE" {
		t.Errorf("Expected ACTIVE, got %s", status)
	}
}
