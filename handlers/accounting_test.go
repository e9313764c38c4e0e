// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casblasvic/weekly-calendar-sub018/models"
	"github.com/casblasvic/weekly-calendar-sub018/testutil"
)

func TestQuickSetupIsIdempotent(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	f := testutil.CreateTestSystem(t, conn, cfg, false)
	h := NewAccountingHandler(conn, cfg)

	cat := testutil.CreateTestCategory(t, conn, f.SystemID, "Body")
	testutil.CreateTestService(t, conn, f.SystemID, cat, "Massage", 60, 0, "50.00")
	testutil.CreateTestProduct(t, conn, f.SystemID, cat, "Oil", "9.00")

	setup := func(le string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		h.QuickSetup(w, testutil.MakeAuthedRequest(f.Principal(), "POST", "/api/accounting/quick-setup",
			models.QuickSetupRequest{LegalEntityID: le}))
		return w
	}

	w := setup(f.LegalEntityID)
	testutil.AssertStatus(t, w, http.StatusOK)
	var first models.QuickSetupResponse
	testutil.AssertJSON(t, w, &first)
	assert.Equal(t, "ES", first.Country)
	assert.Positive(t, first.AccountsCreated)
	assert.Zero(t, first.AccountsSkipped)
	assert.Equal(t, 8, first.PaymentMethodsCreated)
	assert.Equal(t, 1, first.AutoMap.Mapped.Services)
	assert.Equal(t, 1, first.AutoMap.Mapped.Products)

	w = setup(f.LegalEntityID)
	testutil.AssertStatus(t, w, http.StatusOK)
	var second models.QuickSetupResponse
	testutil.AssertJSON(t, w, &second)
	assert.Zero(t, second.AccountsCreated)
	assert.Equal(t, first.AccountsCreated, second.AccountsSkipped)
	assert.Zero(t, second.PaymentMethodsCreated)

	testutil.AssertStatus(t, setup(""), http.StatusBadRequest)
	testutil.AssertStatus(t, setup("missing"), http.StatusNotFound)

	w = httptest.NewRecorder()
	h.ListAccounts(w, testutil.MakeAuthedRequest(f.Principal(), "GET", "/api/accounting/accounts?legal_entity_id="+f.LegalEntityID, nil))
	testutil.AssertStatus(t, w, http.StatusOK)
	var accounts []models.Account
	testutil.AssertJSON(t, w, &accounts)
	assert.Len(t, accounts, first.AccountsCreated)
	for i := 1; i < len(accounts); i++ {
		assert.LessOrEqual(t, accounts[i-1].AccountNumber, accounts[i].AccountNumber)
	}
}

func TestManualJournalEntries(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	f := testutil.CreateTestSystem(t, conn, cfg, false)
	p := f.Principal()
	h := NewAccountingHandler(conn, cfg)

	createAccount := func(req models.CreateAccountRequest) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		h.CreateAccount(w, testutil.MakeAuthedRequest(p, "POST", "/api/accounting/accounts", req))
		return w
	}

	w := createAccount(models.CreateAccountRequest{LegalEntityID: f.LegalEntityID, AccountNumber: "5709999", Name: "Petty cash", Type: "asset"})
	testutil.AssertStatus(t, w, http.StatusCreated)
	var cash models.Account
	testutil.AssertJSON(t, w, &cash)
	assert.Equal(t, "ASSET", cash.Type)

	w = createAccount(models.CreateAccountRequest{LegalEntityID: f.LegalEntityID, AccountNumber: "7059999", Name: "Other income", Type: "REVENUE"})
	testutil.AssertStatus(t, w, http.StatusCreated)
	var income models.Account
	testutil.AssertJSON(t, w, &income)

	testutil.AssertStatus(t, createAccount(models.CreateAccountRequest{LegalEntityID: f.LegalEntityID, AccountNumber: "5709999", Name: "Dup", Type: "ASSET"}), http.StatusConflict)
	testutil.AssertStatus(t, createAccount(models.CreateAccountRequest{LegalEntityID: f.LegalEntityID, AccountNumber: "1", Name: "Bad", Type: "STOCK"}), http.StatusBadRequest)
	testutil.AssertStatus(t, createAccount(models.CreateAccountRequest{LegalEntityID: "missing", AccountNumber: "1", Name: "Bad", Type: "ASSET"}), http.StatusNotFound)
	testutil.AssertStatus(t, createAccount(models.CreateAccountRequest{LegalEntityID: f.LegalEntityID, AccountNumber: "57099991", Name: "Child", Type: "ASSET", ParentAccountID: "missing"}), http.StatusBadRequest)

	post := func(lines ...models.JournalLineRequest) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		h.CreateJournalEntry(w, testutil.MakeAuthedRequest(p, "POST", "/api/accounting/journal-entries", models.CreateJournalEntryRequest{
			LegalEntityID: f.LegalEntityID,
			Description:   "Cash sale",
			Lines:         lines,
		}))
		return w
	}
	amount := decimal.RequireFromString("30.00")

	testutil.AssertStatus(t, post(
		models.JournalLineRequest{AccountID: cash.ID, Debit: amount},
		models.JournalLineRequest{AccountID: income.ID, Credit: decimal.RequireFromString("29.99")},
	), http.StatusBadRequest)
	testutil.AssertStatus(t, post(
		models.JournalLineRequest{AccountID: cash.ID, Debit: amount},
		models.JournalLineRequest{AccountID: "missing", Credit: amount},
	), http.StatusBadRequest)

	w = post(
		models.JournalLineRequest{AccountID: cash.ID, Debit: amount},
		models.JournalLineRequest{AccountID: income.ID, Credit: amount},
	)
	testutil.AssertStatus(t, w, http.StatusCreated)
	var entry models.JournalEntry
	testutil.AssertJSON(t, w, &entry)
	assert.Equal(t, models.EntryPosted, entry.Status)
	assert.True(t, strings.HasPrefix(entry.EntryNumber, strconv.Itoa(time.Now().UTC().Year())+"/"), entry.EntryNumber)
	require.Len(t, entry.Lines, 2)
	assertBalanced(t, entry)

	reverse := func(id string, body models.ReverseEntryRequest) *httptest.ResponseRecorder {
		req := testutil.MakeAuthedRequest(p, "POST", "/api/accounting/journal-entries/"+id+"/reverse", body)
		req.SetPathValue("id", id)
		w := httptest.NewRecorder()
		h.ReverseJournalEntry(w, req)
		return w
	}

	testutil.AssertStatus(t, reverse(entry.ID, models.ReverseEntryRequest{Reason: "whim"}), http.StatusBadRequest)
	w = reverse(entry.ID, models.ReverseEntryRequest{Reason: "error"})
	testutil.AssertStatus(t, w, http.StatusCreated)
	var reversal models.JournalEntry
	testutil.AssertJSON(t, w, &reversal)
	require.NotNil(t, reversal.ReversalOfID)
	assert.Equal(t, entry.ID, *reversal.ReversalOfID)
	assert.Equal(t, "ERROR", reversal.ReversalReason)
	assert.Equal(t, "Reversal of "+entry.EntryNumber, reversal.Description)
	require.Len(t, reversal.Lines, 2)
	assert.True(t, reversal.Lines[0].Credit.Equal(entry.Lines[0].Debit))
	assertBalanced(t, reversal)

	testutil.AssertStatus(t, reverse(entry.ID, models.ReverseEntryRequest{Reason: "ERROR"}), http.StatusConflict)
	testutil.AssertStatus(t, reverse(reversal.ID, models.ReverseEntryRequest{Reason: "ERROR"}), http.StatusConflict)
	testutil.AssertStatus(t, reverse("missing", models.ReverseEntryRequest{Reason: "ERROR"}), http.StatusNotFound)

	w = httptest.NewRecorder()
	h.ListJournalEntries(w, testutil.MakeAuthedRequest(p, "GET", "/api/accounting/journal-entries?legal_entity_id="+f.LegalEntityID, nil))
	testutil.AssertStatus(t, w, http.StatusOK)
	var entries []models.JournalEntry
	testutil.AssertJSON(t, w, &entries)
	assert.Len(t, entries, 2)

	w = httptest.NewRecorder()
	h.ListJournalEntries(w, testutil.MakeAuthedRequest(p, "GET", "/api/accounting/journal-entries?legal_entity_id="+f.LegalEntityID+"&limit=0", nil))
	testutil.AssertStatus(t, w, http.StatusBadRequest)

	req := testutil.MakeAuthedRequest(p, "GET", "/api/accounting/journal-entries/"+entry.ID, nil)
	req.SetPathValue("id", entry.ID)
	w = httptest.NewRecorder()
	h.GetJournalEntry(w, req)
	testutil.AssertStatus(t, w, http.StatusOK)
	var reloaded models.JournalEntry
	testutil.AssertJSON(t, w, &reloaded)
	assert.Equal(t, models.EntryReversed, reloaded.Status)
}
