// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casblasvic/weekly-calendar-sub018/auth"
	"github.com/casblasvic/weekly-calendar-sub018/energy"
	"github.com/casblasvic/weekly-calendar-sub018/logging"
	"github.com/casblasvic/weekly-calendar-sub018/models"
	"github.com/casblasvic/weekly-calendar-sub018/testutil"
)

// insertFinishedUsage records a completed usage of equipmentID for appt.
func insertFinishedUsage(t *testing.T, conn *sql.DB, systemID, appt, equipmentID string, estimated int, actual, kwh float64) string {
	t.Helper()
	id := auth.NewID()
	now := time.Now().UTC()
	_, err := conn.Exec(`
		INSERT INTO appointment_device_usage (id, system_id, appointment_id, equipment_id, started_at, ended_at,
			estimated_minutes, actual_minutes, energy_consumption, current_status, end_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'COMPLETED', 'manual', $6, $6)
	`, id, systemID, appt, equipmentID, now.Add(-time.Duration(actual)*time.Minute), now, estimated, actual, kwh)
	require.NoError(t, err)
	return id
}

func TestEnergyHandler(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	f := testutil.CreateTestSystem(t, conn, cfg, true)
	p := f.Principal()
	svc := energy.NewService(conn, logging.NewNop())
	h := NewEnergyHandler(conn, cfg, svc)

	service := testutil.CreateTestService(t, conn, f.SystemID, "", "Radiofrecuencia", 45, 30, "70.00")
	eq := testutil.CreateTestEquipment(t, conn, f.SystemID, "RF", service)
	person := testutil.CreateTestPerson(t, conn, f.SystemID, "Carmen")
	appt := testutil.CreateTestAppointment(t, conn, f, person, time.Now().Add(-time.Hour), service)

	usage := insertFinishedUsage(t, conn, f.SystemID, appt, eq, 30, 60, 0.9)
	res, err := svc.ProcessFinishedUsage(t.Context(), usage)
	require.NoError(t, err)
	require.Len(t, res.Insights, 1)
	assert.Equal(t, energy.OverDuration, res.Insights[0].Type)

	get := func(fn http.HandlerFunc, path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		fn(w, testutil.MakeAuthedRequest(p, "GET", path, nil))
		return w
	}

	t.Run("insights", func(t *testing.T) {
		w := get(h.ListInsights, "/api/energy/insights?resolved=false")
		testutil.AssertStatus(t, w, http.StatusOK)
		var insights []models.EnergyInsight
		testutil.AssertJSON(t, w, &insights)
		require.Len(t, insights, 1)
		in := insights[0]
		assert.Equal(t, usage, in.DeviceUsageID)
		assert.Equal(t, f.ClinicID, in.ClinicID)
		assert.InDelta(t, 100.0, in.DeviationPct, 0.01)
		assert.JSONEq(t, `{"signed_deviation_pct":100}`, string(in.Detail))

		testutil.AssertStatus(t, get(h.ListInsights, "/api/energy/insights?resolved=maybe"), http.StatusBadRequest)

		resolve := func(id string) *httptest.ResponseRecorder {
			req := testutil.MakeAuthedRequest(p, "POST", "/api/energy/insights/"+id+"/resolve", nil)
			req.SetPathValue("id", id)
			w := httptest.NewRecorder()
			h.ResolveInsight(w, req)
			return w
		}
		testutil.AssertStatus(t, resolve(in.ID), http.StatusOK)
		testutil.AssertStatus(t, resolve(in.ID), http.StatusOK)
		testutil.AssertStatus(t, resolve("missing"), http.StatusNotFound)

		w = get(h.ListInsights, "/api/energy/insights?resolved=true&clinic_id="+f.ClinicID)
		insights = nil
		testutil.AssertJSON(t, w, &insights)
		require.Len(t, insights, 1)
		assert.True(t, insights[0].Resolved)
		assert.NotNil(t, insights[0].ResolvedAt)
	})

	t.Run("anomaly scores", func(t *testing.T) {
		w := get(h.ListAnomalyScores, "/api/energy/anomaly-scores")
		testutil.AssertStatus(t, w, http.StatusOK)
		var scores []energy.Score
		testutil.AssertJSON(t, w, &scores)
		require.Len(t, scores, 1)
		assert.Equal(t, person, scores[0].SubjectID)
		assert.Equal(t, 1, scores[0].TotalAnomalies)

		w = get(h.ListAnomalyScores, "/api/energy/anomaly-scores?kind=employee")
		scores = nil
		testutil.AssertJSON(t, w, &scores)
		require.Len(t, scores, 1)
		assert.Equal(t, f.UserID, scores[0].SubjectID)

		testutil.AssertStatus(t, get(h.ListAnomalyScores, "/api/energy/anomaly-scores?kind=room"), http.StatusBadRequest)
	})

	t.Run("profiles", func(t *testing.T) {
		insertFinishedUsage(t, conn, f.SystemID, appt, eq, 30, 30, 0.45)

		w := httptest.NewRecorder()
		h.Recalculate(w, testutil.MakeAuthedRequest(p, "POST", "/api/energy/recalculate", nil))
		testutil.AssertStatus(t, w, http.StatusOK)
		var resp models.RecalculateResponse
		testutil.AssertJSON(t, w, &resp)
		assert.Equal(t, 1, resp.Profiles)

		w = get(h.ListProfiles, "/api/energy/profiles?equipment_id="+eq)
		testutil.AssertStatus(t, w, http.StatusOK)
		var profiles []energy.Profile
		testutil.AssertJSON(t, w, &profiles)
		require.Len(t, profiles, 1)
		assert.Equal(t, 2, profiles[0].SampleCount)
		assert.Equal(t, service, profiles[0].ServiceID)
	})
}

func TestEnergyHandlerRequiresModule(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	f := testutil.CreateTestSystem(t, conn, cfg, false)
	h := NewEnergyHandler(conn, cfg, energy.NewService(conn, logging.NewNop()))

	for _, fn := range []http.HandlerFunc{h.ListInsights, h.ListProfiles, h.ListAnomalyScores, h.Recalculate} {
		w := httptest.NewRecorder()
		fn(w, testutil.MakeAuthedRequest(f.Principal(), "GET", "/api/energy", nil))
		testutil.AssertStatus(t, w, http.StatusForbidden)
	}
}
