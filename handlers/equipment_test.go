// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/casblasvic/weekly-calendar-sub018/models"
	"github.com/casblasvic/weekly-calendar-sub018/testutil"
)

func TestEquipmentHandler(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	f := testutil.CreateTestSystem(t, conn, cfg, false)
	p := f.Principal()
	h := NewEquipmentHandler(conn, cfg)
	catalog := NewCatalogHandler(conn, cfg)

	post := func(fn http.HandlerFunc, id string, body any) *httptest.ResponseRecorder {
		req := testutil.MakeAuthedRequest(p, "POST", "/api/equipment/"+id, body)
		if id != "" {
			req.SetPathValue("id", id)
		}
		w := httptest.NewRecorder()
		fn(w, req)
		return w
	}

	negative := -1.0
	testutil.AssertStatus(t, post(h.CreateEquipment, "", models.CreateEquipmentRequest{}), http.StatusBadRequest)
	testutil.AssertStatus(t, post(h.CreateEquipment, "", models.CreateEquipmentRequest{Name: "Laser", PowerThreshold: &negative}), http.StatusBadRequest)

	w := post(h.CreateEquipment, "", models.CreateEquipmentRequest{Name: "Laser Diodo"})
	testutil.AssertStatus(t, w, http.StatusCreated)
	var laser models.Equipment
	testutil.AssertJSON(t, w, &laser)
	if laser.PowerThreshold != defaultPowerThreshold {
		t.Errorf("Expected the default threshold, got %v", laser.PowerThreshold)
	}

	w = post(catalog.CreateCabin, f.ClinicID, models.CreateCabinRequest{Name: "Cabina Laser"})
	testutil.AssertStatus(t, w, http.StatusCreated)
	var cabin models.Cabin
	testutil.AssertJSON(t, w, &cabin)
	otherClinic := testutil.CreateTestClinic(t, conn, f, "Centro Sevilla", "SEV")

	t.Run("assignments", func(t *testing.T) {
		tests := []struct {
			name           string
			equipmentID    string
			req            models.CreateAssignmentRequest
			expectedStatus int
		}{
			{"in a cabin", laser.ID, models.CreateAssignmentRequest{ClinicID: f.ClinicID, SerialNumber: "LD-001", CabinID: cabin.ID}, http.StatusCreated},
			{"without cabin", laser.ID, models.CreateAssignmentRequest{ClinicID: otherClinic, SerialNumber: " LD-002 "}, http.StatusCreated},
			{"duplicate serial", laser.ID, models.CreateAssignmentRequest{ClinicID: otherClinic, SerialNumber: "LD-002"}, http.StatusConflict},
			{"cabin of another clinic", laser.ID, models.CreateAssignmentRequest{ClinicID: otherClinic, SerialNumber: "LD-003", CabinID: cabin.ID}, http.StatusBadRequest},
			{"unknown clinic", laser.ID, models.CreateAssignmentRequest{ClinicID: "missing", SerialNumber: "LD-004"}, http.StatusBadRequest},
			{"missing serial", laser.ID, models.CreateAssignmentRequest{ClinicID: f.ClinicID}, http.StatusBadRequest},
			{"unknown equipment", "missing", models.CreateAssignmentRequest{ClinicID: f.ClinicID, SerialNumber: "X"}, http.StatusNotFound},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				testutil.AssertStatus(t, post(h.CreateAssignment, tt.equipmentID, tt.req), tt.expectedStatus)
			})
		}
	})

	req := testutil.MakeAuthedRequest(p, "GET", "/api/equipment/"+laser.ID, nil)
	req.SetPathValue("id", laser.ID)
	w = httptest.NewRecorder()
	h.GetEquipment(w, req)
	testutil.AssertStatus(t, w, http.StatusOK)
	var loaded models.Equipment
	testutil.AssertJSON(t, w, &loaded)
	if len(loaded.Assignments) != 2 {
		t.Fatalf("Expected 2 assignments, got %d", len(loaded.Assignments))
	}
	if loaded.Assignments[0].CabinID == nil || *loaded.Assignments[0].CabinID != cabin.ID {
		t.Errorf("Expected the first unit in %s, got %+v", cabin.ID, loaded.Assignments[0])
	}
	if loaded.Assignments[1].SerialNumber != "LD-002" {
		t.Errorf("Expected a trimmed serial, got %q", loaded.Assignments[1].SerialNumber)
	}

	t.Run("requirements", func(t *testing.T) {
		svc := testutil.CreateTestService(t, conn, f.SystemID, "", "Depilacion", 30, 20, "45.00")

		for range 2 {
			w := post(h.AddRequirement, svc, models.AddRequirementRequest{EquipmentID: laser.ID})
			testutil.AssertStatus(t, w, http.StatusOK)
			var s models.Service
			testutil.AssertJSON(t, w, &s)
			if len(s.EquipmentIDs) != 1 || s.EquipmentIDs[0] != laser.ID {
				t.Errorf("Expected a single requirement, got %v", s.EquipmentIDs)
			}
		}

		testutil.AssertStatus(t, post(h.AddRequirement, svc, models.AddRequirementRequest{}), http.StatusBadRequest)
		testutil.AssertStatus(t, post(h.AddRequirement, svc, models.AddRequirementRequest{EquipmentID: "missing"}), http.StatusBadRequest)
		testutil.AssertStatus(t, post(h.AddRequirement, "missing", models.AddRequirementRequest{EquipmentID: laser.ID}), http.StatusNotFound)
	})
}
