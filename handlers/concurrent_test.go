// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/casblasvic/weekly-calendar-sub018/models"
	"github.com/casblasvic/weekly-calendar-sub018/testutil"
)

// TestConcurrentTimerFinish verifies that only one of several simultaneous
// finish requests closes the usage
func TestConcurrentTimerFinish(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	f := testutil.CreateTestSystem(t, conn, cfg, false)
	p := f.Principal()

	svc := testutil.CreateTestService(t, conn, f.SystemID, "", "Laser", 30, 20, "80.00")
	person := testutil.CreateTestPerson(t, conn, f.SystemID, "Ana")
	appt := testutil.CreateTestAppointment(t, conn, f, person, time.Now(), svc)
	h := NewAppointmentHandler(conn, cfg, DeviceDeps{})

	req := testutil.MakeAuthedRequest(p, "POST", "/api/appointments/"+appt+"/start", nil)
	req.SetPathValue("id", appt)
	w := httptest.NewRecorder()
	h.StartAppointment(w, req)
	testutil.AssertStatus(t, w, http.StatusOK)

	const workers = 8
	var finished, rejected atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := testutil.MakeAuthedRequest(p, "POST", "/api/appointments/"+appt+"/timer/finish", nil)
			req.SetPathValue("id", appt)
			w := httptest.NewRecorder()
			h.FinishTimer(w, req)
			switch w.Code {
			case http.StatusOK:
				finished.Add(1)
			case http.StatusNotFound, http.StatusConflict:
				rejected.Add(1)
			default:
				t.Errorf("Unexpected status %d: %s", w.Code, w.Body.String())
			}
		}()
	}
	wg.Wait()

	if finished.Load() != 1 {
		t.Errorf("Expected exactly 1 finish, got %d", finished.Load())
	}
	if rejected.Load() != workers-1 {
		t.Errorf("Expected %d rejections, got %d", workers-1, rejected.Load())
	}
	n := testutil.QueryInt(t, conn,
		"SELECT COUNT(*) FROM appointment_device_usage WHERE appointment_id = $1 AND current_status = 'COMPLETED'", appt)
	if n != 1 {
		t.Errorf("Expected 1 completed usage, got %d", n)
	}
}

// TestConcurrentStartCreatesOneUsage verifies that racing starts open a
// single timer
func TestConcurrentStartCreatesOneUsage(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	f := testutil.CreateTestSystem(t, conn, cfg, false)
	p := f.Principal()

	svc := testutil.CreateTestService(t, conn, f.SystemID, "", "Peeling", 30, 0, "40.00")
	person := testutil.CreateTestPerson(t, conn, f.SystemID, "Eva")
	appt := testutil.CreateTestAppointment(t, conn, f, person, time.Now(), svc)
	h := NewAppointmentHandler(conn, cfg, DeviceDeps{})

	var started atomic.Int32
	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := testutil.MakeAuthedRequest(p, "POST", "/api/appointments/"+appt+"/start", nil)
			req.SetPathValue("id", appt)
			w := httptest.NewRecorder()
			h.StartAppointment(w, req)
			if w.Code == http.StatusOK {
				started.Add(1)
			} else if w.Code != http.StatusConflict {
				t.Errorf("Unexpected status %d: %s", w.Code, w.Body.String())
			}
		}()
	}
	wg.Wait()

	if started.Load() != 1 {
		t.Errorf("Expected exactly 1 start, got %d", started.Load())
	}
	if n := testutil.QueryInt(t, conn, "SELECT COUNT(*) FROM appointment_device_usage WHERE appointment_id = $1", appt); n != 1 {
		t.Errorf("Expected 1 usage row, got %d", n)
	}
}

func createOpenTicket(t *testing.T, h *BillingHandler, f testutil.Fixture, personID, serviceID string) models.Ticket {
	t.Helper()
	w := httptest.NewRecorder()
	h.CreateTicket(w, testutil.MakeAuthedRequest(f.Principal(), "POST", "/api/tickets", models.CreateTicketRequest{
		ClinicID: f.ClinicID,
		PersonID: personID,
		Items:    []models.TicketItemRequest{{Type: models.ItemService, ItemID: serviceID, Quantity: 1}},
	}))
	if w.Code != http.StatusCreated {
		t.Fatalf("Create ticket failed: %d - %s", w.Code, w.Body.String())
	}
	var out models.Ticket
	testutil.AssertJSON(t, w, &out)
	return out
}

// TestConcurrentTicketClose verifies that a ticket closed from several
// requests posts a single journal entry
func TestConcurrentTicketClose(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	f := testutil.CreateTestSystem(t, conn, cfg, false)
	p := f.Principal()

	svc := testutil.CreateTestService(t, conn, f.SystemID, "", "Facial", 60, 0, "60.00")
	person := testutil.CreateTestPerson(t, conn, f.SystemID, "Rosa")
	if _, err := quickSetup(t.Context(), conn, f.SystemID, f.LegalEntityID); err != nil {
		t.Fatalf("Quick setup failed: %v", err)
	}
	h := NewBillingHandler(conn, cfg)
	ticket := createOpenTicket(t, h, f, person, svc)

	var closed atomic.Int32
	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := testutil.MakeAuthedRequest(p, "POST", "/api/tickets/"+ticket.ID+"/close", nil)
			req.SetPathValue("id", ticket.ID)
			w := httptest.NewRecorder()
			h.CloseTicket(w, req)
			if w.Code == http.StatusOK {
				closed.Add(1)
			} else if w.Code != http.StatusConflict {
				t.Errorf("Unexpected status %d: %s", w.Code, w.Body.String())
			}
		}()
	}
	wg.Wait()

	if closed.Load() != 1 {
		t.Errorf("Expected exactly 1 close, got %d", closed.Load())
	}
	n := testutil.QueryInt(t, conn, "SELECT COUNT(*) FROM journal_entry WHERE reference_id = $1", ticket.ID)
	if n != 1 {
		t.Errorf("Expected 1 journal entry, got %d", n)
	}
}

// TestConcurrentInvoiceNumbers verifies that invoices issued at the same
// time get distinct consecutive numbers
func TestConcurrentInvoiceNumbers(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	f := testutil.CreateTestSystem(t, conn, cfg, false)
	p := f.Principal()

	svc := testutil.CreateTestService(t, conn, f.SystemID, "", "Manicure", 30, 0, "25.00")
	person := testutil.CreateTestPerson(t, conn, f.SystemID, "Clara")
	h := NewBillingHandler(conn, cfg)

	const count = 10
	ids := make([]string, count)
	for i := range ids {
		ticket := createOpenTicket(t, h, f, person, svc)
		req := testutil.MakeAuthedRequest(p, "POST", "/api/tickets/"+ticket.ID+"/close", nil)
		req.SetPathValue("id", ticket.ID)
		w := httptest.NewRecorder()
		h.CloseTicket(w, req)
		testutil.AssertStatus(t, w, http.StatusOK)
		ids[i] = ticket.ID
	}

	var mu sync.Mutex
	numbers := map[string]bool{}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			req := testutil.MakeAuthedRequest(p, "POST", "/api/tickets/"+id+"/invoice", nil)
			req.SetPathValue("id", id)
			w := httptest.NewRecorder()
			h.IssueInvoice(w, req)
			if w.Code != http.StatusCreated {
				t.Errorf("Invoice failed: %d - %s", w.Code, w.Body.String())
				return
			}
			var inv models.Invoice
			testutil.AssertJSON(t, w, &inv)
			mu.Lock()
			numbers[inv.InvoiceNumber] = true
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	if len(numbers) != count {
		t.Fatalf("Expected %d distinct numbers, got %d", count, len(numbers))
	}
	last := testutil.QueryInt(t, conn,
		"SELECT last_number FROM document_sequence WHERE scope = $1", "INVOICE:"+f.LegalEntityID)
	if last != count {
		t.Errorf("Expected sequence at %d, got %d", count, last)
	}
}

// TestConcurrentPaymentsNeverOverpay verifies that racing payments cannot
// push the paid amount past the total
func TestConcurrentPaymentsNeverOverpay(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	f := testutil.CreateTestSystem(t, conn, cfg, false)
	p := f.Principal()

	svc := testutil.CreateTestService(t, conn, f.SystemID, "", "Pedicure", 30, 0, "100.00")
	person := testutil.CreateTestPerson(t, conn, f.SystemID, "Irene")
	if _, err := quickSetup(t.Context(), conn, f.SystemID, f.LegalEntityID); err != nil {
		t.Fatalf("Quick setup failed: %v", err)
	}
	h := NewBillingHandler(conn, cfg)
	ticket := createOpenTicket(t, h, f, person, svc)

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := testutil.MakeAuthedRequest(p, "POST", "/api/tickets/"+ticket.ID+"/payments",
				models.AddPaymentRequest{PaymentMethodCode: "CASH", Amount: decimal.RequireFromString("50")})
			req.SetPathValue("id", ticket.ID)
			w := httptest.NewRecorder()
			h.AddPayment(w, req)
			switch w.Code {
			case http.StatusCreated:
				accepted.Add(1)
			case http.StatusBadRequest:
			default:
				t.Errorf("Unexpected status %d: %s", w.Code, w.Body.String())
			}
		}()
	}
	wg.Wait()

	// 121.00 owed: two payments of 50 fit, a third would overpay.
	if accepted.Load() != 2 {
		t.Errorf("Expected 2 accepted payments, got %d", accepted.Load())
	}
	if n := testutil.QueryInt(t, conn, "SELECT COUNT(*) FROM payment WHERE ticket_id = $1", ticket.ID); n != 2 {
		t.Errorf("Expected 2 payment rows, got %d", n)
	}
	got, err := loadTicket(t.Context(), conn, f.SystemID, ticket.ID)
	if err != nil {
		t.Fatalf("Reload ticket failed: %v", err)
	}
	if want := decimal.NewFromInt(100); !got.PaidAmount.Equal(want) {
		t.Errorf("Expected paid %s, got %s", want, got.PaidAmount)
	}
	if want := ticket.Total.Sub(decimal.NewFromInt(100)); !got.PendingAmount.Equal(want) {
		t.Errorf("Expected pending %s, got %s", want, got.PendingAmount)
	}
}
