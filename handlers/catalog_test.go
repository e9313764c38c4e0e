// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/casblasvic/weekly-calendar-sub018/models"
	"github.com/casblasvic/weekly-calendar-sub018/testutil"
)

func TestCreateService(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	f := testutil.CreateTestSystem(t, conn, cfg, false)
	h := NewCatalogHandler(conn, cfg)
	cat := testutil.CreateTestCategory(t, conn, f.SystemID, "Face")

	price := decimal.RequireFromString("65.00")
	vat := decimal.NewFromInt(21)

	tests := []struct {
		name           string
		req            models.CreateServiceRequest
		expectedStatus int
	}{
		{"valid", models.CreateServiceRequest{Name: "Peeling", CategoryID: cat, DurationMinutes: 45, TreatmentDurationMinutes: 30, Price: price, VATRate: vat}, http.StatusCreated},
		{"no category", models.CreateServiceRequest{Name: "Consult", DurationMinutes: 15, Price: decimal.Zero, VATRate: vat}, http.StatusCreated},
		{"missing name", models.CreateServiceRequest{DurationMinutes: 45, Price: price, VATRate: vat}, http.StatusBadRequest},
		{"zero duration", models.CreateServiceRequest{Name: "Peeling", Price: price, VATRate: vat}, http.StatusBadRequest},
		{"negative treatment", models.CreateServiceRequest{Name: "Peeling", DurationMinutes: 45, TreatmentDurationMinutes: -1, Price: price, VATRate: vat}, http.StatusBadRequest},
		{"negative price", models.CreateServiceRequest{Name: "Peeling", DurationMinutes: 45, Price: price.Neg(), VATRate: vat}, http.StatusBadRequest},
		{"vat above 100", models.CreateServiceRequest{Name: "Peeling", DurationMinutes: 45, Price: price, VATRate: decimal.NewFromInt(101)}, http.StatusBadRequest},
		{"unknown category", models.CreateServiceRequest{Name: "Peeling", CategoryID: "missing", DurationMinutes: 45, Price: price, VATRate: vat}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.CreateService(w, testutil.MakeAuthedRequest(f.Principal(), "POST", "/api/services", tt.req))
			testutil.AssertStatus(t, w, tt.expectedStatus)
		})
	}

	w := httptest.NewRecorder()
	h.ListServices(w, testutil.MakeAuthedRequest(f.Principal(), "GET", "/api/services", nil))
	testutil.AssertStatus(t, w, http.StatusOK)
	var services []models.Service
	testutil.AssertJSON(t, w, &services)
	if len(services) != 2 {
		t.Fatalf("Expected 2 services, got %d", len(services))
	}
	if services[0].Name != "Consult" || services[1].Price.StringFixed(2) != "65.00" {
		t.Errorf("Unexpected services %+v", services)
	}

	eq := testutil.CreateTestEquipment(t, conn, f.SystemID, "Hydra", services[1].ID)
	req := testutil.MakeAuthedRequest(f.Principal(), "GET", "/api/services/"+services[1].ID, nil)
	req.SetPathValue("id", services[1].ID)
	w = httptest.NewRecorder()
	h.GetService(w, req)
	testutil.AssertStatus(t, w, http.StatusOK)
	var svc models.Service
	testutil.AssertJSON(t, w, &svc)
	if len(svc.EquipmentIDs) != 1 || svc.EquipmentIDs[0] != eq {
		t.Errorf("Expected the service to require %s, got %v", eq, svc.EquipmentIDs)
	}

	req = testutil.MakeAuthedRequest(f.Principal(), "GET", "/api/services/missing", nil)
	req.SetPathValue("id", "missing")
	w = httptest.NewRecorder()
	h.GetService(w, req)
	testutil.AssertStatus(t, w, http.StatusNotFound)
}

func TestCatalogChangesAreAutoMapped(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	f := testutil.CreateTestSystem(t, conn, cfg, false)
	p := f.Principal()
	h := NewCatalogHandler(conn, cfg)
	if _, err := quickSetup(t.Context(), conn, f.SystemID, f.LegalEntityID); err != nil {
		t.Fatalf("quick setup: %v", err)
	}

	w := httptest.NewRecorder()
	h.CreateService(w, testutil.MakeAuthedRequest(p, "POST", "/api/services", models.CreateServiceRequest{
		Name: "Pressotherapy", DurationMinutes: 30, Price: decimal.NewFromInt(40), VATRate: decimal.NewFromInt(21),
	}))
	testutil.AssertStatus(t, w, http.StatusCreated)
	var svc models.Service
	testutil.AssertJSON(t, w, &svc)

	if n := testutil.QueryInt(t, conn, "SELECT COUNT(*) FROM service_account_mapping WHERE service_id = $1 AND clinic_id = ''", svc.ID); n != 1 {
		t.Fatalf("Expected one flat mapping, got %d", n)
	}

	w = httptest.NewRecorder()
	h.CreatePromotion(w, testutil.MakeAuthedRequest(p, "POST", "/api/promotions",
		models.CreatePromotionRequest{Name: "Welcome", Code: "hello", DiscountPercent: decimal.NewFromInt(10)}))
	testutil.AssertStatus(t, w, http.StatusCreated)
	if n := testutil.QueryInt(t, conn, "SELECT COUNT(*) FROM discount_account_mapping WHERE legal_entity_id = $1", f.LegalEntityID); n != 1 {
		t.Errorf("Expected the promotion to be mapped, got %d", n)
	}

	w = httptest.NewRecorder()
	h.CreateClinic(w, testutil.MakeAuthedRequest(p, "POST", "/api/clinics",
		models.CreateClinicRequest{Name: "Centro Valencia", Prefix: "val", LegalEntityID: f.LegalEntityID}))
	testutil.AssertStatus(t, w, http.StatusCreated)
	var clinic models.Clinic
	testutil.AssertJSON(t, w, &clinic)
	if clinic.Prefix != "VAL" {
		t.Errorf("Expected an upper-cased prefix, got %s", clinic.Prefix)
	}

	if n := testutil.QueryInt(t, conn, "SELECT COUNT(*) FROM service_account_mapping WHERE service_id = $1 AND clinic_id <> ''", svc.ID); n != 2 {
		t.Errorf("Expected a mapping per clinic, got %d", n)
	}
	if n := testutil.QueryInt(t, conn, "SELECT COUNT(*) FROM chart_of_account_entry WHERE legal_entity_id = $1 AND is_subaccount = $2 AND name LIKE $3",
		f.LegalEntityID, true, "Pressotherapy%"); n != 2 {
		t.Errorf("Expected a subaccount per clinic, got %d", n)
	}
}

func TestCatalogReferenceData(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	f := testutil.CreateTestSystem(t, conn, cfg, false)
	p := f.Principal()
	h := NewCatalogHandler(conn, cfg)

	post := func(fn http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		fn(w, testutil.MakeAuthedRequest(p, "POST", path, body))
		return w
	}

	t.Run("promotions", func(t *testing.T) {
		testutil.AssertStatus(t, post(h.CreatePromotion, "/api/promotions", models.CreatePromotionRequest{Name: "A", Code: "x", DiscountPercent: decimal.NewFromInt(5)}), http.StatusCreated)
		testutil.AssertStatus(t, post(h.CreatePromotion, "/api/promotions", models.CreatePromotionRequest{Name: "B", Code: " X ", DiscountPercent: decimal.NewFromInt(5)}), http.StatusConflict)
		testutil.AssertStatus(t, post(h.CreatePromotion, "/api/promotions", models.CreatePromotionRequest{Name: "C", Code: "Y"}), http.StatusBadRequest)
		testutil.AssertStatus(t, post(h.CreatePromotion, "/api/promotions", models.CreatePromotionRequest{Name: "D", Code: "Z", DiscountPercent: decimal.NewFromInt(150)}), http.StatusBadRequest)
	})

	t.Run("vat types", func(t *testing.T) {
		testutil.AssertStatus(t, post(h.CreateVATType, "/api/vat-types", models.CreateVATTypeRequest{Name: "Reduced", Rate: decimal.NewFromInt(10)}), http.StatusCreated)
		testutil.AssertStatus(t, post(h.CreateVATType, "/api/vat-types", models.CreateVATTypeRequest{Name: "General", Rate: decimal.NewFromInt(21)}), http.StatusCreated)
		testutil.AssertStatus(t, post(h.CreateVATType, "/api/vat-types", models.CreateVATTypeRequest{Name: "Bad", Rate: decimal.NewFromInt(-1)}), http.StatusBadRequest)

		w := httptest.NewRecorder()
		h.ListVATTypes(w, testutil.MakeAuthedRequest(p, "GET", "/api/vat-types", nil))
		var types []models.VATType
		testutil.AssertJSON(t, w, &types)
		if len(types) != 2 || types[0].Name != "General" {
			t.Errorf("Expected rates in descending order, got %+v", types)
		}
	})

	t.Run("persons", func(t *testing.T) {
		testutil.AssertStatus(t, post(h.CreatePerson, "/api/persons", models.CreatePersonRequest{FirstName: "Sofia", LastName: "Ruiz", Email: "Sofia@Example.com"}), http.StatusCreated)
		testutil.AssertStatus(t, post(h.CreatePerson, "/api/persons", models.CreatePersonRequest{FirstName: "Pablo", LastName: "Soto"}), http.StatusCreated)
		testutil.AssertStatus(t, post(h.CreatePerson, "/api/persons", models.CreatePersonRequest{LastName: "Nobody"}), http.StatusBadRequest)

		w := httptest.NewRecorder()
		h.ListPersons(w, testutil.MakeAuthedRequest(p, "GET", "/api/persons?q=so", nil))
		var people []models.Person
		testutil.AssertJSON(t, w, &people)
		if len(people) != 2 {
			t.Errorf("Expected both names to match the prefix, got %d", len(people))
		}

		w = httptest.NewRecorder()
		h.ListPersons(w, testutil.MakeAuthedRequest(p, "GET", "/api/persons?q=sofia@", nil))
		people = nil
		testutil.AssertJSON(t, w, &people)
		if len(people) != 1 || people[0].Email != "sofia@example.com" {
			t.Errorf("Expected an email match, got %+v", people)
		}
	})

	t.Run("cabins", func(t *testing.T) {
		on := func(fn http.HandlerFunc, id string, body any) *httptest.ResponseRecorder {
			req := testutil.MakeAuthedRequest(p, "POST", "/api/clinics/"+id+"/cabins", body)
			req.SetPathValue("id", id)
			w := httptest.NewRecorder()
			fn(w, req)
			return w
		}
		testutil.AssertStatus(t, on(h.CreateCabin, f.ClinicID, models.CreateCabinRequest{Name: "Cabina 2"}), http.StatusCreated)
		testutil.AssertStatus(t, on(h.CreateCabin, f.ClinicID, models.CreateCabinRequest{Name: "Cabina 1"}), http.StatusCreated)
		testutil.AssertStatus(t, on(h.CreateCabin, f.ClinicID, models.CreateCabinRequest{}), http.StatusBadRequest)
		testutil.AssertStatus(t, on(h.CreateCabin, "missing", models.CreateCabinRequest{Name: "X"}), http.StatusNotFound)

		w := on(h.GetClinic, f.ClinicID, nil)
		testutil.AssertStatus(t, w, http.StatusOK)
		var clinic models.Clinic
		testutil.AssertJSON(t, w, &clinic)
		if len(clinic.Cabins) != 2 || clinic.Cabins[0].Name != "Cabina 1" {
			t.Errorf("Expected cabins sorted by name, got %+v", clinic.Cabins)
		}
	})
}
