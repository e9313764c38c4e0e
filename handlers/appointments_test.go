// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/casblasvic/weekly-calendar-sub018/auth"
	"github.com/casblasvic/weekly-calendar-sub018/models"
	"github.com/casblasvic/weekly-calendar-sub018/realtime"
	"github.com/casblasvic/weekly-calendar-sub018/shelly"
	"github.com/casblasvic/weekly-calendar-sub018/testutil"
)

func startReq(p testutil.Fixture, id string, body any) *http.Request {
	req := testutil.MakeAuthedRequest(p.Principal(), "POST", "/api/appointments/"+id+"/start", body)
	req.SetPathValue("id", id)
	return req
}

func TestCreateAppointment(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	f := testutil.CreateTestSystem(t, conn, cfg, false)
	h := NewAppointmentHandler(conn, cfg, DeviceDeps{})

	svcA := testutil.CreateTestService(t, conn, f.SystemID, "", "Cleansing", 30, 0, "30.00")
	svcB := testutil.CreateTestService(t, conn, f.SystemID, "", "Mask", 15, 0, "15.00")
	person := testutil.CreateTestPerson(t, conn, f.SystemID, "Nora")
	other := testutil.CreateTestClinic(t, conn, f, "Centro Sevilla", "SEV")
	cabin := auth.NewID()
	if _, err := conn.Exec("INSERT INTO cabin (id, system_id, clinic_id, name) VALUES ($1, $2, $3, 'Cabina 1')",
		cabin, f.SystemID, other); err != nil {
		t.Fatalf("Failed to create cabin: %v", err)
	}
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		body           models.CreateAppointmentRequest
		expectedStatus int
	}{
		{
			name:           "two services",
			body:           models.CreateAppointmentRequest{ClinicID: f.ClinicID, PersonID: person, StartTime: start, ServiceIDs: []string{svcA, svcB}},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "missing services",
			body:           models.CreateAppointmentRequest{ClinicID: f.ClinicID, PersonID: person, StartTime: start},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown service",
			body:           models.CreateAppointmentRequest{ClinicID: f.ClinicID, PersonID: person, StartTime: start, ServiceIDs: []string{"nope"}},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown person",
			body:           models.CreateAppointmentRequest{ClinicID: f.ClinicID, PersonID: "nope", StartTime: start, ServiceIDs: []string{svcA}},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "cabin of another clinic",
			body:           models.CreateAppointmentRequest{ClinicID: f.ClinicID, PersonID: person, CabinID: cabin, StartTime: start, ServiceIDs: []string{svcA}},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.CreateAppointment(w, testutil.MakeAuthedRequest(f.Principal(), "POST", "/api/appointments", tt.body))
			testutil.AssertStatus(t, w, tt.expectedStatus)
			if tt.expectedStatus != http.StatusCreated {
				return
			}
			var a models.Appointment
			testutil.AssertJSON(t, w, &a)
			if a.EstimatedDurationMinutes != 45 {
				t.Errorf("Expected 45 minutes, got %d", a.EstimatedDurationMinutes)
			}
			if !a.EndTime.Equal(start.Add(45 * time.Minute)) {
				t.Errorf("Expected end at %s, got %s", start.Add(45*time.Minute), a.EndTime)
			}
			if a.StartDate != "2026-03-02" || a.Status != models.AppointmentScheduled {
				t.Errorf("Unexpected date or status: %s %s", a.StartDate, a.Status)
			}
			if len(a.Services) != 2 || a.Services[0].ServiceID != svcA || a.Services[1].ServiceID != svcB {
				t.Errorf("Services out of order: %+v", a.Services)
			}
		})
	}
}

func TestWeekRange(t *testing.T) {
	wednesday := time.Date(2026, 10, 14, 15, 0, 0, 0, time.UTC)
	sunday := time.Date(2026, 10, 18, 23, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		from, to string
		now      time.Time
		wantFrom string
		wantTo   string
		wantErr  bool
	}{
		{name: "midweek", now: wednesday, wantFrom: "2026-10-12", wantTo: "2026-10-18"},
		{name: "sunday belongs to the week before", now: sunday, wantFrom: "2026-10-12", wantTo: "2026-10-18"},
		{name: "from only", from: "2026-01-01", now: wednesday, wantFrom: "2026-01-01", wantTo: "2026-01-07"},
		{name: "explicit", from: "2026-01-01", to: "2026-01-31", now: wednesday, wantFrom: "2026-01-01", wantTo: "2026-01-31"},
		{name: "reversed", from: "2026-02-01", to: "2026-01-01", now: wednesday, wantErr: true},
		{name: "malformed", from: "01/02/2026", now: wednesday, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to, err := weekRange(tt.from, tt.to, tt.now)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected an error, got %s..%s", from, to)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if from != tt.wantFrom || to != tt.wantTo {
				t.Errorf("Expected %s..%s, got %s..%s", tt.wantFrom, tt.wantTo, from, to)
			}
		})
	}
}

func TestListAppointments(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	f := testutil.CreateTestSystem(t, conn, cfg, false)
	h := NewAppointmentHandler(conn, cfg, DeviceDeps{})

	svc := testutil.CreateTestService(t, conn, f.SystemID, "", "Massage", 60, 0, "50.00")
	person := testutil.CreateTestPerson(t, conn, f.SystemID, "Julia")
	now := time.Now().UTC()
	thisWeek := testutil.CreateTestAppointment(t, conn, f, person, now, svc)
	testutil.CreateTestAppointment(t, conn, f, person, now.AddDate(0, 0, 21), svc)

	other := testutil.CreateTestSystem(t, conn, cfg, false)
	otherPerson := testutil.CreateTestPerson(t, conn, other.SystemID, "Ajena")
	testutil.CreateTestAppointment(t, conn, other, otherPerson, now, svc)

	list := func(query string) []models.Appointment {
		t.Helper()
		w := httptest.NewRecorder()
		h.ListAppointments(w, testutil.MakeAuthedRequest(f.Principal(), "GET", "/api/appointments"+query, nil))
		testutil.AssertStatus(t, w, http.StatusOK)
		var out []models.Appointment
		testutil.AssertJSON(t, w, &out)
		return out
	}

	got := list("")
	if len(got) != 1 || got[0].ID != thisWeek {
		t.Errorf("Expected only this week's appointment, got %d", len(got))
	}
	if len(got) == 1 && len(got[0].Services) != 1 {
		t.Errorf("Expected services to be loaded, got %+v", got[0].Services)
	}

	from := now.AddDate(0, 0, -1).Format(dateLayout)
	to := now.AddDate(0, 0, 30).Format(dateLayout)
	if got := list("?from=" + from + "&to=" + to); len(got) != 2 {
		t.Errorf("Expected 2 appointments in range, got %d", len(got))
	}
	if got := list("?from=" + from + "&to=" + to + "&clinic_id=elsewhere"); len(got) != 0 {
		t.Errorf("Expected clinic filter to exclude everything, got %d", len(got))
	}

	w := httptest.NewRecorder()
	h.ListAppointments(w, testutil.MakeAuthedRequest(f.Principal(), "GET", "/api/appointments?from="+to+"&to="+from, nil))
	testutil.AssertStatus(t, w, http.StatusBadRequest)
}

func TestCancelAppointment(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	f := testutil.CreateTestSystem(t, conn, cfg, false)
	h := NewAppointmentHandler(conn, cfg, DeviceDeps{})

	svc := testutil.CreateTestService(t, conn, f.SystemID, "", "Massage", 60, 0, "50.00")
	person := testutil.CreateTestPerson(t, conn, f.SystemID, "Julia")
	idle := testutil.CreateTestAppointment(t, conn, f, person, time.Now(), svc)
	running := testutil.CreateTestAppointment(t, conn, f, person, time.Now(), svc)

	w := httptest.NewRecorder()
	h.StartAppointment(w, startReq(f, running, nil))
	testutil.AssertStatus(t, w, http.StatusOK)

	cancel := func(id string) *httptest.ResponseRecorder {
		req := testutil.MakeAuthedRequest(f.Principal(), "DELETE", "/api/appointments/"+id, nil)
		req.SetPathValue("id", id)
		w := httptest.NewRecorder()
		h.CancelAppointment(w, req)
		return w
	}

	testutil.AssertStatus(t, cancel(idle), http.StatusOK)
	testutil.AssertStatus(t, cancel(idle), http.StatusConflict)
	testutil.AssertStatus(t, cancel(running), http.StatusConflict)
	testutil.AssertStatus(t, cancel("missing"), http.StatusNotFound)

	if s := testutil.QueryString(t, conn, "SELECT status FROM appointment WHERE id = $1", idle); s != models.AppointmentCancelled {
		t.Errorf("Expected CANCELLED, got %s", s)
	}
}

func TestStartAppointment(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	f := testutil.CreateTestSystem(t, conn, cfg, true)
	pub := &recorder{}
	h := NewAppointmentHandler(conn, cfg, DeviceDeps{Pub: pub})
	person := testutil.CreateTestPerson(t, conn, f.SystemID, "Sara")

	plain := testutil.CreateTestService(t, conn, f.SystemID, "", "Massage", 60, 0, "50.00")
	single := testutil.CreateTestService(t, conn, f.SystemID, "", "Laser", 40, 25, "90.00")
	double := testutil.CreateTestService(t, conn, f.SystemID, "", "Cryo", 30, 20, "70.00")
	busy := testutil.CreateTestService(t, conn, f.SystemID, "", "Pressotherapy", 30, 0, "40.00")

	laser := testutil.CreateTestEquipment(t, conn, f.SystemID, "Laser X", single)
	laserUnit := testutil.CreateTestAssignment(t, conn, f.SystemID, laser, f.ClinicID, "LX-1")

	cryo := testutil.CreateTestEquipment(t, conn, f.SystemID, "Cryo", double)
	testutil.CreateTestAssignment(t, conn, f.SystemID, cryo, f.ClinicID, "CR-1")
	cryoUnit := testutil.CreateTestAssignment(t, conn, f.SystemID, cryo, f.ClinicID, "CR-2")

	presso := testutil.CreateTestEquipment(t, conn, f.SystemID, "Presso", busy)
	pressoUnit := testutil.CreateTestAssignment(t, conn, f.SystemID, presso, f.ClinicID, "PR-1")
	cred := testutil.CreateTestCredential(t, conn, f.SystemID, "https://shelly-1-eu.shelly.cloud")
	testutil.CreateTestPlug(t, conn, f.SystemID, cred, pressoUnit, "aa01", true, true)

	completed := testutil.CreateTestAppointment(t, conn, f, person, time.Now(), plain)
	if _, err := conn.Exec("UPDATE appointment SET status = 'COMPLETED' WHERE id = $1", completed); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name           string
		service        string
		appointmentID  string
		body           *models.StartAppointmentRequest
		expectedStatus int
		check          func(t *testing.T, resp models.StartAppointmentResponse)
	}{
		{
			name:           "no equipment required",
			service:        plain,
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, resp models.StartAppointmentResponse) {
				if !resp.Started || resp.SelectedAssignmentID != nil {
					t.Errorf("Expected a plain start, got %+v", resp)
				}
				if resp.Usage.EstimatedMinutes != 60 {
					t.Errorf("Expected 60 estimated minutes, got %d", resp.Usage.EstimatedMinutes)
				}
			},
		},
		{
			name:           "single free unit is picked",
			service:        single,
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, resp models.StartAppointmentResponse) {
				if !resp.Started || resp.SelectedAssignmentID == nil || *resp.SelectedAssignmentID != laserUnit {
					t.Errorf("Expected %s to be selected, got %+v", laserUnit, resp)
				}
				if resp.Usage.EstimatedMinutes != 25 {
					t.Errorf("Expected treatment duration 25, got %d", resp.Usage.EstimatedMinutes)
				}
			},
		},
		{
			name:           "two free units need a choice",
			service:        double,
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, resp models.StartAppointmentResponse) {
				if resp.Started || !resp.RequiresEquipmentSelection || len(resp.AvailableEquipment) != 2 {
					t.Errorf("Expected a selection prompt, got %+v", resp)
				}
			},
		},
		{
			name:           "explicit unit",
			service:        double,
			body:           &models.StartAppointmentRequest{EquipmentClinicAssignmentID: cryoUnit},
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, resp models.StartAppointmentResponse) {
				if resp.SelectedAssignmentID == nil || *resp.SelectedAssignmentID != cryoUnit {
					t.Errorf("Expected %s, got %+v", cryoUnit, resp)
				}
			},
		},
		{
			name:           "unit of another equipment",
			service:        double,
			body:           &models.StartAppointmentRequest{EquipmentClinicAssignmentID: laserUnit},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "without equipment",
			service:        double,
			body:           &models.StartAppointmentRequest{WithoutEquipment: true},
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, resp models.StartAppointmentResponse) {
				if !resp.Started || resp.Usage.EquipmentID != nil {
					t.Errorf("Expected a start without equipment, got %+v", resp)
				}
			},
		},
		{
			name:           "plug already on",
			service:        busy,
			expectedStatus: http.StatusConflict,
			check: func(t *testing.T, resp models.StartAppointmentResponse) {
				if len(resp.AvailableEquipment) != 1 || resp.AvailableEquipment[0].Status != "occupied" {
					t.Errorf("Expected the occupied unit to be listed, got %+v", resp.AvailableEquipment)
				}
			},
		},
		{name: "completed appointment", appointmentID: completed, expectedStatus: http.StatusConflict},
		{name: "missing appointment", appointmentID: "missing", expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := tt.appointmentID
			if id == "" {
				id = testutil.CreateTestAppointment(t, conn, f, person, time.Now(), tt.service)
			}
			var body any
			if tt.body != nil {
				body = tt.body
			}
			w := httptest.NewRecorder()
			h.StartAppointment(w, startReq(f, id, body))
			testutil.AssertStatus(t, w, tt.expectedStatus)
			if tt.check == nil {
				return
			}
			var resp models.StartAppointmentResponse
			testutil.AssertJSON(t, w, &resp)
			tt.check(t, resp)
		})
	}

	if !slices.Contains(pub.Types(), realtime.EventTimerUpdate) {
		t.Error("Expected timer updates to be published")
	}
}

func TestStartAppointmentAllOccupied(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	f := testutil.CreateTestSystem(t, conn, cfg, false)
	h := NewAppointmentHandler(conn, cfg, DeviceDeps{})

	svc := testutil.CreateTestService(t, conn, f.SystemID, "", "Laser", 40, 25, "90.00")
	eq := testutil.CreateTestEquipment(t, conn, f.SystemID, "Laser X", svc)
	testutil.CreateTestAssignment(t, conn, f.SystemID, eq, f.ClinicID, "LX-1")
	person := testutil.CreateTestPerson(t, conn, f.SystemID, "Sara")

	first := testutil.CreateTestAppointment(t, conn, f, person, time.Now(), svc)
	second := testutil.CreateTestAppointment(t, conn, f, person, time.Now(), svc)

	w := httptest.NewRecorder()
	h.StartAppointment(w, startReq(f, first, nil))
	testutil.AssertStatus(t, w, http.StatusOK)

	w = httptest.NewRecorder()
	h.StartAppointment(w, startReq(f, first, nil))
	testutil.AssertStatus(t, w, http.StatusConflict)

	w = httptest.NewRecorder()
	h.StartAppointment(w, startReq(f, second, nil))
	testutil.AssertStatus(t, w, http.StatusConflict)
	var resp models.StartAppointmentResponse
	testutil.AssertJSON(t, w, &resp)
	if len(resp.AvailableEquipment) != 1 || resp.AvailableEquipment[0].Available || !resp.AvailableEquipment[0].InUse {
		t.Errorf("Expected the unit to be reported in use, got %+v", resp.AvailableEquipment)
	}
}

func TestAssignDevice(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	f := testutil.CreateTestSystem(t, conn, cfg, true)
	plugs := &fakePlugs{result: shelly.Sent}
	pub := &recorder{}
	h := NewAppointmentHandler(conn, cfg, DeviceDeps{
		Store: shelly.NewSQLStore(conn, testutil.TestSealer(t)),
		Plugs: plugs,
		Pub:   pub,
	})

	svc := testutil.CreateTestService(t, conn, f.SystemID, "", "Laser", 40, 25, "90.00")
	unrelated := testutil.CreateTestService(t, conn, f.SystemID, "", "Massage", 60, 0, "50.00")
	eq := testutil.CreateTestEquipment(t, conn, f.SystemID, "Laser X", svc)
	unit := testutil.CreateTestAssignment(t, conn, f.SystemID, eq, f.ClinicID, "LX-1")
	otherUnit := testutil.CreateTestAssignment(t, conn, f.SystemID, eq, f.ClinicID, "LX-2")
	cred := testutil.CreateTestCredential(t, conn, f.SystemID, "https://shelly-1-eu.shelly.cloud")
	plug := testutil.CreateTestPlug(t, conn, f.SystemID, cred, unit, "b0b0", true, false)
	person := testutil.CreateTestPerson(t, conn, f.SystemID, "Olga")

	assign := func(id string, body models.AssignDeviceRequest) *httptest.ResponseRecorder {
		req := testutil.MakeAuthedRequest(f.Principal(), "POST", "/api/appointments/"+id+"/assign-device", body)
		req.SetPathValue("id", id)
		w := httptest.NewRecorder()
		h.AssignDevice(w, req)
		return w
	}

	appt := testutil.CreateTestAppointment(t, conn, f, person, time.Now(), svc)
	w := httptest.NewRecorder()
	h.StartAppointment(w, startReq(f, appt, &models.StartAppointmentRequest{WithoutEquipment: true}))
	testutil.AssertStatus(t, w, http.StatusOK)

	t.Run("validation", func(t *testing.T) {
		testutil.AssertStatus(t, assign(appt, models.AssignDeviceRequest{DeviceID: plug}), http.StatusBadRequest)
		testutil.AssertStatus(t, assign(appt, models.AssignDeviceRequest{EquipmentClinicAssignmentID: "nope", DeviceID: plug}), http.StatusNotFound)
		testutil.AssertStatus(t, assign(appt, models.AssignDeviceRequest{EquipmentClinicAssignmentID: unit, DeviceID: "nope"}), http.StatusNotFound)
		testutil.AssertStatus(t, assign(appt, models.AssignDeviceRequest{EquipmentClinicAssignmentID: otherUnit, DeviceID: plug}), http.StatusBadRequest)
		testutil.AssertStatus(t, assign("missing", models.AssignDeviceRequest{EquipmentClinicAssignmentID: unit, DeviceID: plug}), http.StatusNotFound)

		massage := testutil.CreateTestAppointment(t, conn, f, person, time.Now(), unrelated)
		testutil.AssertStatus(t, assign(massage, models.AssignDeviceRequest{EquipmentClinicAssignmentID: unit, DeviceID: plug}), http.StatusBadRequest)
	})

	t.Run("reassigns the running usage", func(t *testing.T) {
		w := assign(appt, models.AssignDeviceRequest{EquipmentClinicAssignmentID: unit, DeviceID: plug})
		testutil.AssertStatus(t, w, http.StatusCreated)
		var resp models.AssignDeviceResponse
		testutil.AssertJSON(t, w, &resp)
		h.Wait()

		if len(resp.FinishedUsages) != 1 {
			t.Fatalf("Expected the plain usage to be finished, got %v", resp.FinishedUsages)
		}
		reason := testutil.QueryString(t, conn, "SELECT end_reason FROM appointment_device_usage WHERE id = $1", resp.FinishedUsages[0])
		if reason != "reassigned" {
			t.Errorf("Expected end reason reassigned, got %q", reason)
		}
		if resp.Usage.DeviceID == nil || *resp.Usage.DeviceID != plug || resp.Usage.EstimatedMinutes != 25 {
			t.Errorf("Unexpected usage: %+v", resp.Usage)
		}
		if !resp.DeviceControlPending {
			t.Error("Expected the plug to be switched on")
		}
		calls := plugs.Calls()
		if len(calls) != 1 || calls[0].DeviceID != plug || !calls[0].On {
			t.Errorf("Expected one on command for %s, got %+v", plug, calls)
		}
		if !slices.Contains(pub.Types(), realtime.EventDeviceControlCompleted) {
			t.Errorf("Expected a device-control-completed event, got %v", pub.Types())
		}
	})

	t.Run("plug busy elsewhere", func(t *testing.T) {
		next := testutil.CreateTestAppointment(t, conn, f, person, time.Now(), svc)
		off := false
		w := assign(next, models.AssignDeviceRequest{EquipmentClinicAssignmentID: unit, DeviceID: plug, TurnOnDevice: &off})
		testutil.AssertStatus(t, w, http.StatusConflict)
	})
}

func TestTimerTransitions(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	f := testutil.CreateTestSystem(t, conn, cfg, false)
	h := NewAppointmentHandler(conn, cfg, DeviceDeps{})

	restore := clock
	t.Cleanup(func() { clock = restore })
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	clock = func() time.Time { return now }

	svc := testutil.CreateTestService(t, conn, f.SystemID, "", "Laser", 40, 25, "90.00")
	person := testutil.CreateTestPerson(t, conn, f.SystemID, "Lola")
	appt := testutil.CreateTestAppointment(t, conn, f, person, now, svc)

	call := func(action string, fn func(http.ResponseWriter, *http.Request)) *httptest.ResponseRecorder {
		req := testutil.MakeAuthedRequest(f.Principal(), "POST", "/api/appointments/"+appt+"/timer/"+action, nil)
		req.SetPathValue("id", appt)
		w := httptest.NewRecorder()
		fn(w, req)
		return w
	}

	testutil.AssertStatus(t, call("pause", h.PauseTimer), http.StatusNotFound)
	testutil.AssertStatus(t, call("get", h.GetTimer), http.StatusNotFound)

	w := httptest.NewRecorder()
	h.StartAppointment(w, startReq(f, appt, nil))
	testutil.AssertStatus(t, w, http.StatusOK)

	now = now.Add(10 * time.Minute)
	testutil.AssertStatus(t, call("resume", h.ResumeTimer), http.StatusConflict)
	testutil.AssertStatus(t, call("pause", h.PauseTimer), http.StatusOK)
	testutil.AssertStatus(t, call("pause", h.PauseTimer), http.StatusConflict)

	now = now.Add(10 * time.Minute)
	w = call("get", h.GetTimer)
	testutil.AssertStatus(t, w, http.StatusOK)
	var state models.TimerResponse
	testutil.AssertJSON(t, w, &state)
	if state.ElapsedSeconds != 600 || state.PausedSeconds != 600 || state.RemainingSeconds != 900 {
		t.Errorf("Expected 600s elapsed, 600s paused and 900s remaining, got %+v", state)
	}

	testutil.AssertStatus(t, call("resume", h.ResumeTimer), http.StatusOK)
	now = now.Add(20 * time.Minute)
	w = call("get", h.GetTimer)
	testutil.AssertJSON(t, w, &state)
	if !state.Overtime {
		t.Errorf("Expected overtime after 30 active minutes of 25, got %+v", state)
	}

	w = call("finish", h.FinishTimer)
	testutil.AssertStatus(t, w, http.StatusOK)
	testutil.AssertJSON(t, w, &state)
	if state.Usage.EndReason != "manual" || state.Usage.CurrentStatus != "COMPLETED" {
		t.Errorf("Unexpected finished usage: %+v", state.Usage)
	}
	testutil.AssertStatus(t, call("finish", h.FinishTimer), http.StatusNotFound)

	// The finished usage stays readable.
	w = call("get", h.GetTimer)
	testutil.AssertStatus(t, w, http.StatusOK)
}
