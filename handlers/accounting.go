// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/casblasvic/weekly-calendar-sub018/accounting"
	"github.com/casblasvic/weekly-calendar-sub018/auth"
	"github.com/casblasvic/weekly-calendar-sub018/cliparse"
	"github.com/casblasvic/weekly-calendar-sub018/db"
	"github.com/casblasvic/weekly-calendar-sub018/logging"
	"github.com/casblasvic/weekly-calendar-sub018/middleware"
	"github.com/casblasvic/weekly-calendar-sub018/models"
)

type AccountingHandler struct {
	db  *sql.DB
	cfg cliparse.Config
}

func NewAccountingHandler(db *sql.DB, cfg cliparse.Config) *AccountingHandler {
	return &AccountingHandler{db: db, cfg: cfg}
}

// ledgerError maps chart lookup failures to client errors.
func ledgerError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	switch {
	case errors.Is(err, errLegalEntityNotFound):
		middleware.ErrorResponse(w, http.StatusNotFound, "Legal entity not found")
	case errors.Is(err, errClinicNotInEntity):
		middleware.ErrorResponse(w, http.StatusBadRequest, "Clinic does not belong to the legal entity")
	case errors.Is(err, errNoChart):
		middleware.ErrorResponse(w, http.StatusConflict, "Chart of accounts is not set up")
	default:
		dbError(w, r, msg, err)
	}
}

// QuickSetup handles POST /api/accounting/quick-setup (admin only)
// Creates the country chart, the default payment methods and all mappings.
// Running it again only fills what is missing.
func (h *AccountingHandler) QuickSetup(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.QuickSetupRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil || req.LegalEntityID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "legal_entity_id is required")
		return
	}

	ctx := r.Context()
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		dbError(w, r, "failed to begin transaction", err)
		return
	}
	defer tx.Rollback()

	resp, err := quickSetup(ctx, tx, p.SystemID, req.LegalEntityID)
	if err != nil {
		ledgerError(w, r, "quick setup failed", err)
		return
	}
	if err := tx.Commit(); err != nil {
		dbError(w, r, "failed to commit quick setup", err)
		return
	}

	logging.FromContext(ctx).Info(ctx, "chart of accounts set up",
		zap.String("legal_entity_id", req.LegalEntityID),
		zap.String("country", resp.Country),
		zap.Int("accounts_created", resp.AccountsCreated))

	middleware.JSONResponse(w, http.StatusOK, resp)
}

// AutoMap handles POST /api/accounting/auto-map (admin only)
func (h *AccountingHandler) AutoMap(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.AutoMapRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil || req.LegalEntityID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "legal_entity_id is required")
		return
	}

	ctx := r.Context()
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		dbError(w, r, "failed to begin transaction", err)
		return
	}
	defer tx.Rollback()

	res, err := autoMap(ctx, tx, p.SystemID, req.LegalEntityID, req.ClinicID, req.ForceRemap)
	if err != nil {
		ledgerError(w, r, "auto-mapping failed", err)
		return
	}
	if err := tx.Commit(); err != nil {
		dbError(w, r, "failed to commit mappings", err)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, res)
}

// ListAccounts handles GET /api/accounting/accounts?legal_entity_id=
func (h *AccountingHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	le := r.URL.Query().Get("legal_entity_id")
	if le == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "legal_entity_id is required")
		return
	}

	rows, err := h.db.QueryContext(r.Context(), `
		SELECT id, legal_entity_id, account_number, name, type, parent_account_id,
			is_subaccount, allows_direct_entry, is_active, created_at
		FROM chart_of_account_entry
		WHERE system_id = $1 AND legal_entity_id = $2
		ORDER BY account_number
	`, p.SystemID, le)
	if err != nil {
		dbError(w, r, "failed to list accounts", err)
		return
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		var a models.Account
		var parent sql.NullString
		if err := rows.Scan(&a.ID, &a.LegalEntityID, &a.AccountNumber, &a.Name, &a.Type, &parent,
			&a.IsSubaccount, &a.AllowsDirectEntry, &a.IsActive, &a.CreatedAt); err != nil {
			dbError(w, r, "failed to scan account", err)
			return
		}
		a.ParentAccountID = nullString(parent)
		accounts = append(accounts, a)
	}

	middleware.JSONResponse(w, http.StatusOK, accounts)
}

// CreateAccount handles POST /api/accounting/accounts (admin only)
func (h *AccountingHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.CreateAccountRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	req.AccountNumber = strings.TrimSpace(req.AccountNumber)
	if req.LegalEntityID == "" || req.AccountNumber == "" || req.Name == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "legal_entity_id, account_number and name are required")
		return
	}
	typ := accounting.AccountType(strings.ToUpper(req.Type))
	if !typ.Valid() {
		middleware.ErrorResponse(w, http.StatusBadRequest, "type must be ASSET, LIABILITY, EQUITY, REVENUE or EXPENSE")
		return
	}

	ctx := r.Context()
	ok, err := exists(ctx, h.db, "legal_entity", req.LegalEntityID, p.SystemID)
	if err != nil {
		dbError(w, r, "failed to check legal entity", err)
		return
	}
	if !ok {
		middleware.ErrorResponse(w, http.StatusNotFound, "Legal entity not found")
		return
	}
	if req.ParentAccountID != "" {
		var parentLE string
		err := h.db.QueryRowContext(ctx,
			"SELECT legal_entity_id FROM chart_of_account_entry WHERE id = $1", req.ParentAccountID).Scan(&parentLE)
		if errors.Is(err, sql.ErrNoRows) || parentLE != req.LegalEntityID {
			middleware.ErrorResponse(w, http.StatusBadRequest, "Parent account not found in this legal entity")
			return
		}
		if err != nil {
			dbError(w, r, "failed to load parent account", err)
			return
		}
	}

	a := models.Account{
		ID:                auth.NewID(),
		LegalEntityID:     req.LegalEntityID,
		AccountNumber:     req.AccountNumber,
		Name:              req.Name,
		Type:              string(typ),
		IsSubaccount:      req.ParentAccountID != "",
		AllowsDirectEntry: true,
		IsActive:          true,
		CreatedAt:         time.Now().UTC(),
	}
	if req.ParentAccountID != "" {
		a.ParentAccountID = &req.ParentAccountID
	}
	_, err = h.db.ExecContext(ctx, `
		INSERT INTO chart_of_account_entry (id, system_id, legal_entity_id, account_number, name, type,
			parent_account_id, is_subaccount, allows_direct_entry, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, a.ID, p.SystemID, a.LegalEntityID, a.AccountNumber, a.Name, a.Type, nullable(req.ParentAccountID),
		a.IsSubaccount, a.AllowsDirectEntry, a.IsActive, a.CreatedAt)
	if db.IsUniqueViolation(err) {
		middleware.ErrorResponse(w, http.StatusConflict, "Account number already exists")
		return
	}
	if err != nil {
		dbError(w, r, "failed to insert account", err)
		return
	}

	middleware.JSONResponse(w, http.StatusCreated, a)
}

// CreateJournalEntry handles POST /api/accounting/journal-entries
func (h *AccountingHandler) CreateJournalEntry(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.CreateJournalEntryRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.LegalEntityID == "" || req.Description == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "legal_entity_id and description are required")
		return
	}
	date := time.Now().UTC()
	if req.Date != nil {
		date = req.Date.UTC()
	}

	lines := make([]accounting.Line, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = accounting.Line{AccountID: l.AccountID, Debit: l.Debit, Credit: l.Credit, Description: l.Description}
	}
	if err := accounting.ValidateLines(lines); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		dbError(w, r, "failed to begin transaction", err)
		return
	}
	defer tx.Rollback()

	ok, err = exists(ctx, tx, "legal_entity", req.LegalEntityID, p.SystemID)
	if err != nil {
		dbError(w, r, "failed to check legal entity", err)
		return
	}
	if !ok {
		middleware.ErrorResponse(w, http.StatusNotFound, "Legal entity not found")
		return
	}
	for _, l := range lines {
		var direct bool
		err := tx.QueryRowContext(ctx,
			"SELECT allows_direct_entry FROM chart_of_account_entry WHERE id = $1 AND legal_entity_id = $2 AND is_active = $3",
			l.AccountID, req.LegalEntityID, true).Scan(&direct)
		if errors.Is(err, sql.ErrNoRows) {
			middleware.ErrorResponse(w, http.StatusBadRequest, "Account "+l.AccountID+" not found in this legal entity")
			return
		}
		if err != nil {
			dbError(w, r, "failed to check account", err)
			return
		}
		if !direct {
			middleware.ErrorResponse(w, http.StatusBadRequest, "Account "+l.AccountID+" does not allow direct entries")
			return
		}
	}

	id, _, err := postEntry(ctx, tx, p.SystemID, req.LegalEntityID, date, req.Description, accounting.SourceManual, "", lines)
	if err != nil {
		dbError(w, r, "failed to post journal entry", err)
		return
	}
	entry, err := loadEntry(ctx, tx, p.SystemID, id)
	if err != nil {
		dbError(w, r, "failed to load journal entry", err)
		return
	}
	if err := tx.Commit(); err != nil {
		dbError(w, r, "failed to commit journal entry", err)
		return
	}

	middleware.JSONResponse(w, http.StatusCreated, entry)
}

// ListJournalEntries handles GET /api/accounting/journal-entries?legal_entity_id=&limit=
func (h *AccountingHandler) ListJournalEntries(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	le := r.URL.Query().Get("legal_entity_id")
	if le == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "legal_entity_id is required")
		return
	}
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 1000 {
			middleware.ErrorResponse(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	ctx := r.Context()
	ids, err := queryIDs(ctx, h.db, `
		SELECT id FROM journal_entry
		WHERE system_id = $1 AND legal_entity_id = $2
		ORDER BY entry_date DESC, entry_number DESC
		LIMIT $3
	`, p.SystemID, le, limit)
	if err != nil {
		dbError(w, r, "failed to list journal entries", err)
		return
	}

	entries := make([]models.JournalEntry, 0, len(ids))
	for _, id := range ids {
		e, err := loadEntry(ctx, h.db, p.SystemID, id)
		if err != nil {
			dbError(w, r, "failed to load journal entry", err)
			return
		}
		entries = append(entries, e)
	}

	middleware.JSONResponse(w, http.StatusOK, entries)
}

// GetJournalEntry handles GET /api/accounting/journal-entries/{id}
func (h *AccountingHandler) GetJournalEntry(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	e, err := loadEntry(r.Context(), h.db, p.SystemID, r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Journal entry not found")
		return
	}
	if err != nil {
		dbError(w, r, "failed to load journal entry", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, e)
}

// ReverseJournalEntry handles POST /api/accounting/journal-entries/{id}/reverse (admin only)
// Posts a mirror entry and marks the original REVERSED. An entry can be
// reversed once; reversals themselves cannot be reversed.
func (h *AccountingHandler) ReverseJournalEntry(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.ReverseEntryRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	reason := accounting.ReversalReason(strings.ToUpper(req.Reason))
	if !reason.Valid() {
		middleware.ErrorResponse(w, http.StatusBadRequest, "reason must be ERROR, DUPLICATE, CANCELLATION, ADJUSTMENT or OTHER")
		return
	}

	ctx := r.Context()
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		dbError(w, r, "failed to begin transaction", err)
		return
	}
	defer tx.Rollback()

	orig, err := loadEntry(ctx, tx, p.SystemID, r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Journal entry not found")
		return
	}
	if err != nil {
		dbError(w, r, "failed to load journal entry", err)
		return
	}
	if orig.ReversalOfID != nil {
		middleware.ErrorResponse(w, http.StatusConflict, "A reversal cannot be reversed")
		return
	}

	// Claim the original first so concurrent reversals lose cleanly.
	res, err := tx.ExecContext(ctx,
		"UPDATE journal_entry SET status = $1 WHERE id = $2 AND status = $3",
		models.EntryReversed, orig.ID, models.EntryPosted)
	if err != nil {
		dbError(w, r, "failed to mark entry reversed", err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "Journal entry is already reversed")
		return
	}

	desc := req.Description
	if desc == "" {
		desc = "Reversal of " + orig.EntryNumber
	}
	lines := make([]accounting.Line, len(orig.Lines))
	for i, l := range orig.Lines {
		lines[i] = accounting.Line{AccountID: l.AccountID, Debit: l.Debit, Credit: l.Credit}
	}
	id, _, err := postEntry(ctx, tx, p.SystemID, orig.LegalEntityID, time.Now().UTC(), desc,
		accounting.SourceReversal, orig.ID, accounting.Reverse(lines, desc))
	if err != nil {
		dbError(w, r, "failed to post reversal", err)
		return
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE journal_entry SET reversal_of_id = $1, reversal_reason = $2 WHERE id = $3",
		orig.ID, string(reason), id); err != nil {
		if db.IsUniqueViolation(err) {
			middleware.ErrorResponse(w, http.StatusConflict, "Journal entry is already reversed")
			return
		}
		dbError(w, r, "failed to link reversal", err)
		return
	}
	reversal, err := loadEntry(ctx, tx, p.SystemID, id)
	if err != nil {
		dbError(w, r, "failed to load reversal", err)
		return
	}
	if err := tx.Commit(); err != nil {
		dbError(w, r, "failed to commit reversal", err)
		return
	}

	logging.FromContext(ctx).Info(ctx, "journal entry reversed",
		zap.String("entry", orig.EntryNumber),
		zap.String("reversal", reversal.EntryNumber),
		zap.String("reason", string(reason)))

	middleware.JSONResponse(w, http.StatusCreated, reversal)
}

// loadEntry reads an entry with its lines. It returns sql.ErrNoRows when
// the entry does not exist in the system.
func loadEntry(ctx context.Context, q db.Querier, systemID, id string) (models.JournalEntry, error) {
	var e models.JournalEntry
	var reversalOf sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT id, legal_entity_id, entry_number, entry_date, description, source, reference_id,
			status, reversal_of_id, reversal_reason, created_at
		FROM journal_entry WHERE id = $1 AND system_id = $2
	`, id, systemID).Scan(&e.ID, &e.LegalEntityID, &e.EntryNumber, &e.EntryDate, &e.Description, &e.Source,
		&e.ReferenceID, &e.Status, &reversalOf, &e.ReversalReason, &e.CreatedAt)
	if err != nil {
		return e, err
	}
	e.ReversalOfID = nullString(reversalOf)

	rows, err := q.QueryContext(ctx, `
		SELECT l.account_id, a.account_number, l.debit, l.credit, l.description
		FROM journal_entry_line l JOIN chart_of_account_entry a ON a.id = l.account_id
		WHERE l.journal_entry_id = $1
		ORDER BY l.line_order
	`, id)
	if err != nil {
		return e, err
	}
	defer rows.Close()

	e.Lines = []models.JournalLine{}
	for rows.Next() {
		var l models.JournalLine
		if err := rows.Scan(&l.AccountID, &l.AccountNumber, &l.Debit, &l.Credit, &l.Description); err != nil {
			return e, err
		}
		l.Debit, l.Credit = l.Debit.Round(2), l.Credit.Round(2)
		e.Lines = append(e.Lines, l)
	}
	return e, rows.Err()
}
