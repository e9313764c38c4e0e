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

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/casblasvic/weekly-calendar-sub018/accounting"
	"github.com/casblasvic/weekly-calendar-sub018/auth"
	"github.com/casblasvic/weekly-calendar-sub018/billing"
	"github.com/casblasvic/weekly-calendar-sub018/cliparse"
	"github.com/casblasvic/weekly-calendar-sub018/db"
	"github.com/casblasvic/weekly-calendar-sub018/logging"
	"github.com/casblasvic/weekly-calendar-sub018/middleware"
	"github.com/casblasvic/weekly-calendar-sub018/models"
)

// defaultInvoicePrefix is used for clinics without a prefix.
const defaultInvoicePrefix = "F"

type BillingHandler struct {
	db  *sql.DB
	cfg cliparse.Config
}

func NewBillingHandler(db *sql.DB, cfg cliparse.Config) *BillingHandler {
	return &BillingHandler{db: db, cfg: cfg}
}

// catalogItem is the price source of a ticket line.
type catalogItem struct {
	Name    string
	Price   decimal.Decimal
	VATRate decimal.Decimal
}

func loadCatalogItem(ctx context.Context, q db.Querier, systemID, itemType, id string) (catalogItem, error) {
	table := "service"
	if itemType == models.ItemProduct {
		table = "product"
	}
	var it catalogItem
	err := q.QueryRowContext(ctx,
		"SELECT name, price, vat_rate FROM "+table+" WHERE id = $1 AND system_id = $2",
		id, systemID).Scan(&it.Name, &it.Price, &it.VATRate)
	it.Price, it.VATRate = it.Price.Round(2), it.VATRate.Round(2)
	return it, err
}

// priceItems turns requested lines into priced ticket items. Catalog
// prices apply unless the line overrides them; a promotion without an
// explicit discount gives its percentage off.
func priceItems(ctx context.Context, q db.Querier, systemID string, reqs []models.TicketItemRequest) ([]models.TicketItem, []billing.Priced, string, error) {
	items := make([]models.TicketItem, 0, len(reqs))
	priced := make([]billing.Priced, 0, len(reqs))
	for i, req := range reqs {
		if req.Type != models.ItemService && req.Type != models.ItemProduct {
			return nil, nil, "items[" + strconv.Itoa(i) + "].type must be SERVICE or PRODUCT", nil
		}
		cat, err := loadCatalogItem(ctx, q, systemID, req.Type, req.ItemID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, strings.ToLower(req.Type) + " " + req.ItemID + " not found", nil
		}
		if err != nil {
			return nil, nil, "", err
		}

		in := billing.Item{Quantity: req.Quantity, UnitPrice: cat.Price, VATRate: cat.VATRate}
		if req.UnitPrice != nil {
			in.UnitPrice = *req.UnitPrice
		}
		var promo *string
		if req.PromotionID != "" {
			var percent decimal.Decimal
			err := q.QueryRowContext(ctx,
				"SELECT discount_percent FROM promotion WHERE id = $1 AND system_id = $2",
				req.PromotionID, systemID).Scan(&percent)
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil, "promotion " + req.PromotionID + " not found", nil
			}
			if err != nil {
				return nil, nil, "", err
			}
			in.Discount = billing.PercentDiscount(req.Quantity, in.UnitPrice, percent)
			promo = &req.PromotionID
		}
		if req.DiscountAmount != nil {
			in.Discount = *req.DiscountAmount
		}

		p, err := billing.Price(in)
		if err != nil {
			return nil, nil, "items[" + strconv.Itoa(i) + "]: " + err.Error(), nil
		}
		priced = append(priced, p)
		items = append(items, models.TicketItem{
			ID:             auth.NewID(),
			Type:           req.Type,
			ItemID:         req.ItemID,
			Description:    cat.Name,
			Quantity:       p.Quantity,
			UnitPrice:      p.UnitPrice.Round(2),
			DiscountAmount: p.Discount.Round(2),
			PromotionID:    promo,
			VATRate:        p.VATRate,
			VATAmount:      p.VAT,
			FinalPrice:     p.Final,
		})
	}
	return items, priced, "", nil
}

// CreateTicket handles POST /api/tickets
func (h *BillingHandler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.CreateTicketRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.ClinicID == "" || req.PersonID == "" || len(req.Items) == 0 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "clinic_id, person_id and items are required")
		return
	}
	if !checkRef(w, r, h.db, "clinic", req.ClinicID, p.SystemID, "Clinic") ||
		!checkRef(w, r, h.db, "person", req.PersonID, p.SystemID, "Person") ||
		!checkRef(w, r, h.db, "appointment", req.AppointmentID, p.SystemID, "Appointment") {
		return
	}
	ctx := r.Context()

	items, priced, msg, err := priceItems(ctx, h.db, p.SystemID, req.Items)
	if err != nil {
		dbError(w, r, "failed to price items", err)
		return
	}
	if msg != "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, msg)
		return
	}
	totals := billing.Sum(priced)

	t := models.Ticket{
		ID:            auth.NewID(),
		ClinicID:      req.ClinicID,
		PersonID:      req.PersonID,
		Status:        models.TicketOpen,
		Subtotal:      totals.Subtotal,
		DiscountTotal: totals.Discount,
		VATTotal:      totals.VAT,
		Total:         totals.Total,
		PaidAmount:    decimal.Zero,
		PendingAmount: totals.Total,
		Items:         items,
		Payments:      []models.Payment{},
		CreatedAt:     time.Now().UTC(),
	}
	if req.AppointmentID != "" {
		t.AppointmentID = &req.AppointmentID
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		dbError(w, r, "failed to begin transaction", err)
		return
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ticket (id, system_id, clinic_id, person_id, appointment_id, status, subtotal, discount_total,
			vat_total, total, paid_amount, pending_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, t.ID, p.SystemID, t.ClinicID, t.PersonID, nullable(req.AppointmentID), t.Status,
		t.Subtotal.StringFixed(2), t.DiscountTotal.StringFixed(2), t.VATTotal.StringFixed(2), t.Total.StringFixed(2),
		t.PaidAmount.StringFixed(2), t.PendingAmount.StringFixed(2), t.CreatedAt)
	if err != nil {
		dbError(w, r, "failed to insert ticket", err)
		return
	}
	for i, it := range items {
		var promo any
		if it.PromotionID != nil {
			promo = *it.PromotionID
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ticket_item (id, ticket_id, item_type, item_id, description, quantity, unit_price, discount_amount,
				promotion_id, vat_rate, vat_amount, final_price, line_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, it.ID, t.ID, it.Type, it.ItemID, it.Description, it.Quantity, it.UnitPrice.StringFixed(2),
			it.DiscountAmount.StringFixed(2), promo, it.VATRate.StringFixed(2), it.VATAmount.StringFixed(2),
			it.FinalPrice.StringFixed(2), i+1); err != nil {
			dbError(w, r, "failed to insert ticket item", err)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		dbError(w, r, "failed to commit ticket", err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, t)
}

// loadTicket reads a ticket with its items, payments and invoice.
func loadTicket(ctx context.Context, q db.Querier, systemID, id string) (models.Ticket, error) {
	var t models.Ticket
	var appt, journal sql.NullString
	var closed sql.NullTime
	err := q.QueryRowContext(ctx, `
		SELECT id, clinic_id, person_id, appointment_id, status, subtotal, discount_total, vat_total, total,
			paid_amount, pending_amount, journal_entry_id, closed_at, created_at
		FROM ticket WHERE id = $1 AND system_id = $2
	`, id, systemID).Scan(&t.ID, &t.ClinicID, &t.PersonID, &appt, &t.Status, &t.Subtotal, &t.DiscountTotal,
		&t.VATTotal, &t.Total, &t.PaidAmount, &t.PendingAmount, &journal, &closed, &t.CreatedAt)
	if err != nil {
		return t, err
	}
	t.AppointmentID, t.JournalEntryID, t.ClosedAt = nullString(appt), nullString(journal), utcTime(closed)
	for _, d := range []*decimal.Decimal{&t.Subtotal, &t.DiscountTotal, &t.VATTotal, &t.Total, &t.PaidAmount, &t.PendingAmount} {
		*d = d.Round(2)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, item_type, item_id, description, quantity, unit_price, discount_amount, promotion_id,
			vat_rate, vat_amount, final_price
		FROM ticket_item WHERE ticket_id = $1 ORDER BY line_order
	`, t.ID)
	if err != nil {
		return t, err
	}
	t.Items = []models.TicketItem{}
	for rows.Next() {
		var it models.TicketItem
		var promo sql.NullString
		if err := rows.Scan(&it.ID, &it.Type, &it.ItemID, &it.Description, &it.Quantity, &it.UnitPrice,
			&it.DiscountAmount, &promo, &it.VATRate, &it.VATAmount, &it.FinalPrice); err != nil {
			rows.Close()
			return t, err
		}
		it.PromotionID = nullString(promo)
		it.UnitPrice, it.DiscountAmount, it.VATRate = it.UnitPrice.Round(2), it.DiscountAmount.Round(2), it.VATRate.Round(2)
		it.VATAmount, it.FinalPrice = it.VATAmount.Round(2), it.FinalPrice.Round(2)
		t.Items = append(t.Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return t, err
	}

	rows, err = q.QueryContext(ctx, `
		SELECT p.id, p.payment_method_id, m.code, p.amount, p.journal_entry_id, p.created_at
		FROM payment p JOIN payment_method m ON m.id = p.payment_method_id
		WHERE p.ticket_id = $1 ORDER BY p.created_at, p.id
	`, t.ID)
	if err != nil {
		return t, err
	}
	t.Payments = []models.Payment{}
	for rows.Next() {
		var pm models.Payment
		var entry sql.NullString
		if err := rows.Scan(&pm.ID, &pm.PaymentMethodID, &pm.PaymentMethodCode, &pm.Amount, &entry, &pm.CreatedAt); err != nil {
			rows.Close()
			return t, err
		}
		pm.Amount, pm.JournalEntryID = pm.Amount.Round(2), nullString(entry)
		t.Payments = append(t.Payments, pm)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return t, err
	}

	var inv models.Invoice
	err = q.QueryRowContext(ctx,
		"SELECT id, ticket_id, legal_entity_id, invoice_number, issued_at, total FROM invoice WHERE ticket_id = $1",
		t.ID).Scan(&inv.ID, &inv.TicketID, &inv.LegalEntityID, &inv.InvoiceNumber, &inv.IssuedAt, &inv.Total)
	switch {
	case err == nil:
		inv.Total = inv.Total.Round(2)
		t.Invoice = &inv
	case !errors.Is(err, sql.ErrNoRows):
		return t, err
	}
	return t, nil
}

// GetTicket handles GET /api/tickets/{id}
func (h *BillingHandler) GetTicket(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	t, err := loadTicket(r.Context(), h.db, p.SystemID, r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Ticket not found")
		return
	}
	if err != nil {
		dbError(w, r, "failed to load ticket", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, t)
}

// ListTickets handles GET /api/tickets?clinic_id=&status=
func (h *BillingHandler) ListTickets(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	query := "SELECT id FROM ticket WHERE system_id = $1"
	args := []any{p.SystemID}
	if v := r.URL.Query().Get("clinic_id"); v != "" {
		args = append(args, v)
		query += " AND clinic_id = $" + strconv.Itoa(len(args))
	}
	if v := r.URL.Query().Get("status"); v != "" {
		args = append(args, strings.ToUpper(v))
		query += " AND status = $" + strconv.Itoa(len(args))
	}
	query += " ORDER BY created_at DESC, id"

	ctx := r.Context()
	ids, err := queryIDs(ctx, h.db, query, args...)
	if err != nil {
		dbError(w, r, "failed to list tickets", err)
		return
	}
	out := make([]models.Ticket, 0, len(ids))
	for _, id := range ids {
		t, err := loadTicket(ctx, h.db, p.SystemID, id)
		if err != nil {
			dbError(w, r, "failed to load ticket", err)
			return
		}
		out = append(out, t)
	}
	middleware.JSONResponse(w, http.StatusOK, out)
}

// AddPayment handles POST /api/tickets/{id}/payments
// Payments on a closed ticket settle its debt and post their own entry.
func (h *BillingHandler) AddPayment(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.AddPaymentRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	code := strings.ToUpper(strings.TrimSpace(req.PaymentMethodCode))
	if code == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "payment_method_code is required")
		return
	}
	ctx := r.Context()

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		dbError(w, r, "failed to begin transaction", err)
		return
	}
	defer tx.Rollback()

	t, err := loadTicket(ctx, tx, p.SystemID, r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Ticket not found")
		return
	}
	if err != nil {
		dbError(w, r, "failed to load ticket", err)
		return
	}
	if t.Status == models.TicketVoid {
		middleware.ErrorResponse(w, http.StatusConflict, "Ticket is void")
		return
	}

	var methodID string
	var active bool
	err = tx.QueryRowContext(ctx,
		"SELECT id, is_active FROM payment_method WHERE system_id = $1 AND code = $2",
		p.SystemID, code).Scan(&methodID, &active)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !active) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Payment method "+code+" is not available")
		return
	}
	if err != nil {
		dbError(w, r, "failed to load payment method", err)
		return
	}
	if err := billing.CheckPayment(req.Amount, t.Total, t.PaidAmount); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	pay := models.Payment{
		ID:                auth.NewID(),
		PaymentMethodID:   methodID,
		PaymentMethodCode: code,
		Amount:            req.Amount.Round(2),
		CreatedAt:         time.Now().UTC(),
	}
	// Guarded against the stored row; concurrent payments never pass the
	// total. The slack covers SQLite's float NUMERIC.
	res, err := tx.ExecContext(ctx, `
		UPDATE ticket SET paid_amount = paid_amount + $1, pending_amount = total - (paid_amount + $1)
		WHERE id = $2 AND paid_amount + $1 <= total + 0.001
	`, pay.Amount.StringFixed(2), t.ID)
	if err != nil {
		dbError(w, r, "failed to update ticket", err)
		return
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		middleware.ErrorResponse(w, http.StatusBadRequest, billing.ErrOverpayment.Error())
		return
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO payment (id, ticket_id, payment_method_id, amount, created_at) VALUES ($1, $2, $3, $4, $5)
	`, pay.ID, t.ID, pay.PaymentMethodID, pay.Amount.StringFixed(2), pay.CreatedAt); err != nil {
		dbError(w, r, "failed to insert payment", err)
		return
	}

	if t.Status == models.TicketClosed {
		c, err := clinicLedger(ctx, tx, p.SystemID, t.ClinicID)
		if err != nil {
			ledgerError(w, r, "failed to load ledger", err)
			return
		}
		if c != nil {
			entryID, err := postDebtPayment(ctx, tx, p.SystemID, c, t, pay)
			if err != nil {
				ledgerError(w, r, "failed to post debt payment", err)
				return
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE payment SET journal_entry_id = $1 WHERE id = $2", entryID, pay.ID); err != nil {
				dbError(w, r, "failed to link payment entry", err)
				return
			}
		}
	}

	out, err := loadTicket(ctx, tx, p.SystemID, t.ID)
	if err != nil {
		dbError(w, r, "failed to reload ticket", err)
		return
	}
	if err := tx.Commit(); err != nil {
		dbError(w, r, "failed to commit payment", err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, out)
}

// CloseTicket handles POST /api/tickets/{id}/close
// Whatever is unpaid becomes client debt. When the clinic's legal entity
// keeps books the closing entry is posted in the same transaction.
func (h *BillingHandler) CloseTicket(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		dbError(w, r, "failed to begin transaction", err)
		return
	}
	defer tx.Rollback()

	t, err := loadTicket(ctx, tx, p.SystemID, r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Ticket not found")
		return
	}
	if err != nil {
		dbError(w, r, "failed to load ticket", err)
		return
	}
	if t.Status != models.TicketOpen {
		middleware.ErrorResponse(w, http.StatusConflict, "Ticket is "+t.Status)
		return
	}

	now := time.Now().UTC()
	t.PendingAmount = billing.Pending(t.Total, t.PaidAmount)
	res, err := tx.ExecContext(ctx,
		"UPDATE ticket SET status = $1, pending_amount = $2, closed_at = $3 WHERE id = $4 AND status = $5",
		models.TicketClosed, t.PendingAmount.StringFixed(2), now, t.ID, models.TicketOpen)
	if err != nil {
		dbError(w, r, "failed to close ticket", err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "Ticket was closed concurrently")
		return
	}

	if t.Total.IsPositive() {
		c, err := clinicLedger(ctx, tx, p.SystemID, t.ClinicID)
		if err != nil {
			ledgerError(w, r, "failed to load ledger", err)
			return
		}
		if c == nil {
			logging.FromContext(ctx).Info(ctx, "ticket closed without journal entry",
				zap.String("ticket_id", t.ID),
				zap.String("clinic_id", t.ClinicID))
		} else {
			entryID, err := postTicket(ctx, tx, p.SystemID, c, t, now)
			if errors.Is(err, accounting.ErrUnbalanced) {
				middleware.ErrorResponse(w, http.StatusConflict, err.Error())
				return
			}
			if err != nil {
				ledgerError(w, r, "failed to post ticket", err)
				return
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE ticket SET journal_entry_id = $1 WHERE id = $2", entryID, t.ID); err != nil {
				dbError(w, r, "failed to link ticket entry", err)
				return
			}
		}
	}

	out, err := loadTicket(ctx, tx, p.SystemID, t.ID)
	if err != nil {
		dbError(w, r, "failed to reload ticket", err)
		return
	}
	if err := tx.Commit(); err != nil {
		dbError(w, r, "failed to commit close", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, out)
}

// IssueInvoice handles POST /api/tickets/{id}/invoice
// Numbers are consecutive per legal entity and year.
func (h *BillingHandler) IssueInvoice(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		dbError(w, r, "failed to begin transaction", err)
		return
	}
	defer tx.Rollback()

	t, err := loadTicket(ctx, tx, p.SystemID, r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Ticket not found")
		return
	}
	if err != nil {
		dbError(w, r, "failed to load ticket", err)
		return
	}
	if t.Status != models.TicketClosed {
		middleware.ErrorResponse(w, http.StatusConflict, "Only closed tickets can be invoiced")
		return
	}
	if t.Invoice != nil {
		middleware.ErrorResponse(w, http.StatusConflict, "Ticket already invoiced as "+t.Invoice.InvoiceNumber)
		return
	}

	var le sql.NullString
	var prefix string
	if err := tx.QueryRowContext(ctx, "SELECT legal_entity_id, prefix FROM clinic WHERE id = $1", t.ClinicID).
		Scan(&le, &prefix); err != nil {
		dbError(w, r, "failed to load clinic", err)
		return
	}
	if !le.Valid {
		middleware.ErrorResponse(w, http.StatusConflict, "Clinic has no legal entity")
		return
	}
	if prefix == "" {
		prefix = defaultInvoicePrefix
	}

	issued := time.Now().UTC()
	n, err := db.NextSequence(ctx, tx, "INVOICE:"+le.String, issued.Year())
	if err != nil {
		dbError(w, r, "failed to number invoice", err)
		return
	}
	inv := models.Invoice{
		ID:            auth.NewID(),
		TicketID:      t.ID,
		LegalEntityID: le.String,
		InvoiceNumber: accounting.FormatInvoiceNumber(prefix, issued.Year(), n),
		IssuedAt:      issued,
		Total:         t.Total,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoice (id, ticket_id, legal_entity_id, invoice_number, issued_at, total)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, inv.ID, inv.TicketID, inv.LegalEntityID, inv.InvoiceNumber, inv.IssuedAt, inv.Total.StringFixed(2))
	if db.IsUniqueViolation(err) {
		middleware.ErrorResponse(w, http.StatusConflict, "Ticket already invoiced")
		return
	}
	if err != nil {
		dbError(w, r, "failed to insert invoice", err)
		return
	}
	if err := tx.Commit(); err != nil {
		dbError(w, r, "failed to commit invoice", err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, inv)
}
