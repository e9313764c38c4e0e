// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/casblasvic/weekly-calendar-sub018/accounting"
	"github.com/casblasvic/weekly-calendar-sub018/db"
	"github.com/casblasvic/weekly-calendar-sub018/models"
)

// clinicLedger returns the chart the clinic posts to, or nil when the
// clinic has no legal entity or the entity has no accounts yet.
func clinicLedger(ctx context.Context, q db.Querier, systemID, clinicID string) (*chart, error) {
	var le sql.NullString
	err := q.QueryRowContext(ctx,
		"SELECT legal_entity_id FROM clinic WHERE id = $1 AND system_id = $2", clinicID, systemID).Scan(&le)
	if err != nil {
		return nil, fmt.Errorf("failed to load clinic: %w", err)
	}
	if !le.Valid {
		return nil, nil
	}
	c, err := loadChart(ctx, q, systemID, le.String)
	if err != nil {
		return nil, err
	}
	if len(c.byNumber) == 0 {
		return nil, nil
	}
	return c, nil
}

// mappedAccount returns the first account id the query yields, or "".
func mappedAccount(ctx context.Context, q db.Querier, query string, args ...any) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

// revenueAccount resolves where an item's sale is credited: the clinic
// mapping, then the all-clinics mapping, then its category, then the
// template default for its type.
func (c *chart) revenueAccount(ctx context.Context, q db.Querier, itemType, itemID, clinicID string) (string, error) {
	table, column, catalog, fallback := "service_account_mapping", "service_id", "service", c.template.Defaults.Services
	if itemType == models.ItemProduct {
		table, column, catalog, fallback = "product_account_mapping", "product_id", "product", c.template.Defaults.Products
	}

	// clinic_id '' sorts last, so the clinic's own mapping wins.
	id, err := mappedAccount(ctx, q, `
		SELECT account_id FROM `+table+`
		WHERE legal_entity_id = $1 AND `+column+` = $2 AND clinic_id IN ($3, '')
		ORDER BY clinic_id DESC LIMIT 1
	`, c.legalEntityID, itemID, clinicID)
	if err != nil || id != "" {
		return id, err
	}
	id, err = mappedAccount(ctx, q, `
		SELECT m.account_id FROM category_account_mapping m
		JOIN `+catalog+` i ON i.category_id = m.category_id
		WHERE m.legal_entity_id = $1 AND i.id = $2
	`, c.legalEntityID, itemID)
	if err != nil || id != "" {
		return id, err
	}
	return c.account(fallback)
}

// collectionAccount resolves the account a payment method debits.
func (c *chart) collectionAccount(ctx context.Context, q db.Querier, methodID, methodCode, clinicID string) (string, error) {
	id, err := mappedAccount(ctx, q, `
		SELECT account_id FROM payment_method_account_mapping
		WHERE legal_entity_id = $1 AND payment_method_id = $2 AND clinic_id IN ($3, '')
		ORDER BY clinic_id DESC LIMIT 1
	`, c.legalEntityID, methodID, clinicID)
	if err != nil || id != "" {
		return id, err
	}
	return c.account(c.template.PaymentAccount(methodCode))
}

// vatAccount uses the VAT type mapping when every taxed item shares one
// rate, else the template's VAT output account.
func (c *chart) vatAccount(ctx context.Context, q db.Querier, systemID string, items []models.TicketItem) (string, error) {
	var rate *decimal.Decimal
	for _, it := range items {
		if !it.VATAmount.IsPositive() {
			continue
		}
		if rate != nil && !rate.Equal(it.VATRate) {
			rate = nil
			break
		}
		r := it.VATRate
		rate = &r
	}
	if rate != nil {
		rows, err := q.QueryContext(ctx, `
			SELECT v.rate, m.output_account_id FROM vat_type_account_mapping m
			JOIN vat_type v ON v.id = m.vat_type_id
			WHERE m.legal_entity_id = $1 AND v.system_id = $2
		`, c.legalEntityID, systemID)
		if err != nil {
			return "", err
		}
		defer rows.Close()
		for rows.Next() {
			var vr decimal.Decimal
			var id string
			if err := rows.Scan(&vr, &id); err != nil {
				return "", err
			}
			if vr.Equal(*rate) {
				return id, nil
			}
		}
		if err := rows.Err(); err != nil {
			return "", err
		}
	}
	return c.account(c.template.Defaults.VATOutput)
}

// postTicket writes the closing entry of a ticket and returns its id.
func postTicket(ctx context.Context, q db.Querier, systemID string, c *chart, t models.Ticket, at time.Time) (string, error) {
	posting := accounting.TicketPosting{Reference: t.ID, Pending: t.PendingAmount}

	for _, it := range t.Items {
		acct, err := c.revenueAccount(ctx, q, it.Type, it.ItemID, t.ClinicID)
		if err != nil {
			return "", err
		}
		net := it.FinalPrice.Sub(it.VATAmount)
		posting.Sales = append(posting.Sales, accounting.Sale{AccountID: acct, Net: net, VAT: it.VATAmount})
	}
	if t.VATTotal.IsPositive() {
		acct, err := c.vatAccount(ctx, q, systemID, t.Items)
		if err != nil {
			return "", err
		}
		posting.VATAccountID = acct
	}
	for _, p := range t.Payments {
		acct, err := c.collectionAccount(ctx, q, p.PaymentMethodID, p.PaymentMethodCode, t.ClinicID)
		if err != nil {
			return "", err
		}
		posting.Collections = append(posting.Collections, accounting.Collection{AccountID: acct, Amount: p.Amount})
	}
	if t.PendingAmount.IsPositive() {
		acct, err := c.account(c.template.Defaults.Clients)
		if err != nil {
			return "", err
		}
		posting.ClientsAccountID = acct
	}

	lines, err := accounting.TicketLines(posting)
	if err != nil {
		return "", err
	}
	id, _, err := postEntry(ctx, q, systemID, c.legalEntityID, at, "Ticket "+t.ID, accounting.SourceTicket, t.ID, lines)
	return id, err
}

// postDebtPayment records money received against a closed ticket's debt.
func postDebtPayment(ctx context.Context, q db.Querier, systemID string, c *chart, t models.Ticket, p models.Payment) (string, error) {
	collect, err := c.collectionAccount(ctx, q, p.PaymentMethodID, p.PaymentMethodCode, t.ClinicID)
	if err != nil {
		return "", err
	}
	clients, err := c.account(c.template.Defaults.Clients)
	if err != nil {
		return "", err
	}
	lines, err := accounting.DebtPaymentLines(t.ID, collect, clients, p.Amount)
	if err != nil {
		return "", err
	}
	id, _, err := postEntry(ctx, q, systemID, c.legalEntityID, p.CreatedAt, "Debt payment "+t.ID,
		accounting.SourceDebtPayment, p.ID, lines)
	return id, err
}
