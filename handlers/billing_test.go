// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casblasvic/weekly-calendar-sub018/models"
	"github.com/casblasvic/weekly-calendar-sub018/testutil"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestCreateTicket(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	f := testutil.CreateTestSystem(t, conn, cfg, false)
	h := NewBillingHandler(conn, cfg)
	catalog := NewCatalogHandler(conn, cfg)

	svc := testutil.CreateTestService(t, conn, f.SystemID, "", "Facial", 60, 0, "80.00")
	product := testutil.CreateTestProduct(t, conn, f.SystemID, "", "Cream", "12.50")
	person := testutil.CreateTestPerson(t, conn, f.SystemID, "Elena")

	w := httptest.NewRecorder()
	catalog.CreatePromotion(w, testutil.MakeAuthedRequest(f.Principal(), "POST", "/api/promotions",
		models.CreatePromotionRequest{Name: "Spring", Code: "spring25", DiscountPercent: decimal.NewFromInt(25)}))
	testutil.AssertStatus(t, w, http.StatusCreated)
	var promo models.Promotion
	testutil.AssertJSON(t, w, &promo)
	assert.Equal(t, "SPRING25", promo.Code)

	tests := []struct {
		name           string
		items          []models.TicketItemRequest
		expectedStatus int
		total          string
		discount       string
	}{
		{
			name:           "catalog prices",
			items:          []models.TicketItemRequest{{Type: models.ItemService, ItemID: svc, Quantity: 1}, {Type: models.ItemProduct, ItemID: product, Quantity: 2}},
			expectedStatus: http.StatusCreated,
			total:          "127.05",
			discount:       "0.00",
		},
		{
			name:           "promotion",
			items:          []models.TicketItemRequest{{Type: models.ItemService, ItemID: svc, Quantity: 1, PromotionID: promo.ID}},
			expectedStatus: http.StatusCreated,
			total:          "72.60",
			discount:       "20.00",
		},
		{
			name:           "price override and explicit discount",
			items:          []models.TicketItemRequest{{Type: models.ItemService, ItemID: svc, Quantity: 1, UnitPrice: dec("100"), DiscountAmount: dec("10")}},
			expectedStatus: http.StatusCreated,
			total:          "108.90",
			discount:       "10.00",
		},
		{
			name:           "unknown type",
			items:          []models.TicketItemRequest{{Type: "VOUCHER", ItemID: svc, Quantity: 1}},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown item",
			items:          []models.TicketItemRequest{{Type: models.ItemProduct, ItemID: svc, Quantity: 1}},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "zero quantity",
			items:          []models.TicketItemRequest{{Type: models.ItemService, ItemID: svc}},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "discount above line",
			items:          []models.TicketItemRequest{{Type: models.ItemService, ItemID: svc, Quantity: 1, DiscountAmount: dec("81")}},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown promotion",
			items:          []models.TicketItemRequest{{Type: models.ItemService, ItemID: svc, Quantity: 1, PromotionID: "nope"}},
			expectedStatus: http.StatusBadRequest,
		},
		{name: "no items", expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.CreateTicket(w, testutil.MakeAuthedRequest(f.Principal(), "POST", "/api/tickets", models.CreateTicketRequest{
				ClinicID: f.ClinicID,
				PersonID: person,
				Items:    tt.items,
			}))
			testutil.AssertStatus(t, w, tt.expectedStatus)
			if tt.expectedStatus != http.StatusCreated {
				return
			}
			var ticket models.Ticket
			testutil.AssertJSON(t, w, &ticket)
			assert.Equal(t, models.TicketOpen, ticket.Status)
			assert.Equal(t, tt.total, ticket.Total.StringFixed(2))
			assert.Equal(t, tt.discount, ticket.DiscountTotal.StringFixed(2))
			assert.Equal(t, tt.total, ticket.PendingAmount.StringFixed(2))
		})
	}

	w = httptest.NewRecorder()
	h.ListTickets(w, testutil.MakeAuthedRequest(f.Principal(), "GET", "/api/tickets?status=open", nil))
	testutil.AssertStatus(t, w, http.StatusOK)
	var tickets []models.Ticket
	testutil.AssertJSON(t, w, &tickets)
	assert.Len(t, tickets, 3)
}

func TestTicketLifecycleErrors(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	f := testutil.CreateTestSystem(t, conn, cfg, false)
	p := f.Principal()
	h := NewBillingHandler(conn, cfg)
	_, err := quickSetup(t.Context(), conn, f.SystemID, f.LegalEntityID)
	require.NoError(t, err)

	svc := testutil.CreateTestService(t, conn, f.SystemID, "", "Facial", 60, 0, "10.00")
	person := testutil.CreateTestPerson(t, conn, f.SystemID, "Elena")
	ticket := createOpenTicket(t, h, f, person, svc)

	on := func(fn http.HandlerFunc, path, id string, body any) *httptest.ResponseRecorder {
		req := testutil.MakeAuthedRequest(p, "POST", path, body)
		req.SetPathValue("id", id)
		w := httptest.NewRecorder()
		fn(w, req)
		return w
	}

	testutil.AssertStatus(t, on(h.IssueInvoice, "/invoice", ticket.ID, nil), http.StatusConflict)
	testutil.AssertStatus(t, on(h.AddPayment, "/payments", ticket.ID, models.AddPaymentRequest{Amount: decimal.NewFromInt(1)}), http.StatusBadRequest)
	testutil.AssertStatus(t, on(h.AddPayment, "/payments", ticket.ID,
		models.AddPaymentRequest{PaymentMethodCode: "CHECK", Amount: decimal.NewFromInt(1)}), http.StatusBadRequest)
	testutil.AssertStatus(t, on(h.AddPayment, "/payments", ticket.ID,
		models.AddPaymentRequest{PaymentMethodCode: "CASH", Amount: decimal.NewFromInt(-1)}), http.StatusBadRequest)
	testutil.AssertStatus(t, on(h.AddPayment, "/payments", ticket.ID,
		models.AddPaymentRequest{PaymentMethodCode: "CASH", Amount: decimal.RequireFromString("12.11")}), http.StatusBadRequest)
	testutil.AssertStatus(t, on(h.AddPayment, "/payments", "missing",
		models.AddPaymentRequest{PaymentMethodCode: "CASH", Amount: decimal.NewFromInt(1)}), http.StatusNotFound)

	w := on(h.AddPayment, "/payments", ticket.ID, models.AddPaymentRequest{PaymentMethodCode: "cash", Amount: decimal.RequireFromString("12.10")})
	testutil.AssertStatus(t, w, http.StatusCreated)
	var paid models.Ticket
	testutil.AssertJSON(t, w, &paid)
	assert.True(t, paid.PendingAmount.IsZero())
	require.Len(t, paid.Payments, 1)
	assert.Nil(t, paid.Payments[0].JournalEntryID, "payments on open tickets post with the close")

	testutil.AssertStatus(t, on(h.CloseTicket, "/close", ticket.ID, nil), http.StatusOK)
	testutil.AssertStatus(t, on(h.CloseTicket, "/close", ticket.ID, nil), http.StatusConflict)
	testutil.AssertStatus(t, on(h.CloseTicket, "/close", "missing", nil), http.StatusNotFound)

	req := testutil.MakeAuthedRequest(p, "GET", "/api/tickets/"+ticket.ID, nil)
	req.SetPathValue("id", ticket.ID)
	w = httptest.NewRecorder()
	h.GetTicket(w, req)
	testutil.AssertStatus(t, w, http.StatusOK)
	var closed models.Ticket
	testutil.AssertJSON(t, w, &closed)
	assert.Equal(t, models.TicketClosed, closed.Status)
	require.NotNil(t, closed.JournalEntryID)
	require.NotNil(t, closed.ClosedAt)
}
