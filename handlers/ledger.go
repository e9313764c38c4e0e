// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/casblasvic/weekly-calendar-sub018/accounting"
	"github.com/casblasvic/weekly-calendar-sub018/auth"
	"github.com/casblasvic/weekly-calendar-sub018/db"
	"github.com/casblasvic/weekly-calendar-sub018/logging"
	"github.com/casblasvic/weekly-calendar-sub018/metrics"
	"github.com/casblasvic/weekly-calendar-sub018/models"
)

var (
	errLegalEntityNotFound = errors.New("legal entity not found")
	errNoChart             = errors.New("legal entity has no chart of accounts")
)

// chart is the chart of accounts of one legal entity, indexed by number.
type chart struct {
	legalEntityID string
	template      accounting.Template
	byNumber      map[string]string
}

// loadChart reads the legal entity's accounts and its country template.
func loadChart(ctx context.Context, q db.Querier, systemID, legalEntityID string) (*chart, error) {
	var country string
	err := q.QueryRowContext(ctx,
		"SELECT country_code FROM legal_entity WHERE id = $1 AND system_id = $2",
		legalEntityID, systemID).Scan(&country)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errLegalEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load legal entity: %w", err)
	}

	tmpl, err := accounting.LoadTemplate(country)
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx,
		"SELECT id, account_number FROM chart_of_account_entry WHERE legal_entity_id = $1", legalEntityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	defer rows.Close()

	c := &chart{legalEntityID: legalEntityID, template: tmpl, byNumber: map[string]string{}}
	for rows.Next() {
		var id, number string
		if err := rows.Scan(&id, &number); err != nil {
			return nil, err
		}
		c.byNumber[number] = id
	}
	return c, rows.Err()
}

// account resolves an account number, failing when the chart lacks it.
func (c *chart) account(number string) (string, error) {
	id, ok := c.byNumber[number]
	if !ok {
		return "", fmt.Errorf("%w: account %s missing", errNoChart, number)
	}
	return id, nil
}

type newAccount struct {
	Number      string
	Name        string
	Type        accounting.AccountType
	ParentID    string
	Subaccount  bool
	DirectEntry bool
}

func (c *chart) create(ctx context.Context, q db.Querier, systemID string, a newAccount) (string, error) {
	id := auth.NewID()
	_, err := q.ExecContext(ctx, `
		INSERT INTO chart_of_account_entry (id, system_id, legal_entity_id, account_number, name, type,
			parent_account_id, is_subaccount, allows_direct_entry, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, id, systemID, c.legalEntityID, a.Number, a.Name, string(a.Type), nullable(a.ParentID),
		a.Subaccount, a.DirectEntry, true, time.Now().UTC())
	if err != nil {
		return "", err
	}
	c.byNumber[a.Number] = id
	return id, nil
}

// quickSetup creates the template accounts and the default payment
// methods, then maps everything.
func quickSetup(ctx context.Context, q db.Querier, systemID, legalEntityID string) (models.QuickSetupResponse, error) {
	c, err := loadChart(ctx, q, systemID, legalEntityID)
	if err != nil {
		return models.QuickSetupResponse{}, err
	}
	resp := models.QuickSetupResponse{Country: c.template.Country}

	for _, a := range c.template.Ordered() {
		if _, ok := c.byNumber[a.Number]; ok {
			resp.AccountsSkipped++
			continue
		}
		parentID := ""
		if a.Parent != "" {
			parentID = c.byNumber[a.Parent]
		}
		if _, err := c.create(ctx, q, systemID, newAccount{
			Number: a.Number, Name: a.Name, Type: a.Type, ParentID: parentID,
			Subaccount: a.Parent != "", DirectEntry: a.AllowsDirectEntry(),
		}); err != nil {
			return resp, fmt.Errorf("failed to create account %s: %w", a.Number, err)
		}
		resp.AccountsCreated++
	}

	for _, pm := range accounting.DefaultPaymentMethods {
		res, err := q.ExecContext(ctx, `
			INSERT INTO payment_method (id, system_id, code, name, is_active)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (system_id, code) DO NOTHING
		`, auth.NewID(), systemID, pm.Code, pm.Name, pm.Active)
		if err != nil {
			return resp, fmt.Errorf("failed to create payment method %s: %w", pm.Code, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			resp.PaymentMethodsCreated++
		}
	}

	resp.AutoMap, err = autoMapChart(ctx, q, systemID, c, "", false)
	return resp, err
}

type mapClinic struct {
	ID   string
	Code string
	Name string
}

type mapItem struct {
	ID           string
	Name         string
	CategoryName string
}

// autoMap maps the catalog of a system onto a legal entity's chart.
// With several clinics, or an explicit one, every item gets a subaccount
// per clinic; otherwise items map to the default account directly.
func autoMap(ctx context.Context, q db.Querier, systemID, legalEntityID, clinicID string, force bool) (models.AutoMapResult, error) {
	c, err := loadChart(ctx, q, systemID, legalEntityID)
	if err != nil {
		return models.AutoMapResult{}, err
	}
	return autoMapChart(ctx, q, systemID, c, clinicID, force)
}

func autoMapChart(ctx context.Context, q db.Querier, systemID string, c *chart, clinicID string, force bool) (models.AutoMapResult, error) {
	var res models.AutoMapResult
	if len(c.byNumber) == 0 {
		return res, errNoChart
	}
	d := c.template.Defaults

	clinics, err := mapClinics(ctx, q, c.legalEntityID, clinicID)
	if err != nil {
		return res, err
	}
	perClinic := clinicID != "" || len(clinics) > 1
	scopes := []mapClinic{{}}
	if perClinic {
		scopes = clinics
	}

	items := []struct {
		table, mappingTable, column, defaultNumber, itemType, pattern string
		counter                                                        *int
	}{
		{"service", "service_account_mapping", "service_id", d.Services, "", accounting.ServicePattern, &res.Mapped.Services},
		{"product", "product_account_mapping", "product_id", d.Products, accounting.ItemTypeSale, accounting.ProductPattern, &res.Mapped.Products},
	}
	for _, it := range items {
		baseID, err := c.account(it.defaultNumber)
		if err != nil {
			return res, err
		}
		catalog, err := mapItems(ctx, q, it.table, systemID)
		if err != nil {
			return res, err
		}
		for _, item := range catalog {
			for _, cl := range scopes {
				if force {
					n, err := execCount(ctx, q, "DELETE FROM "+it.mappingTable+" WHERE legal_entity_id = $1 AND "+it.column+" = $2 AND clinic_id = $3",
						c.legalEntityID, item.ID, cl.ID)
					if err != nil {
						return res, err
					}
					res.Removed += n
				}
				if ok, err := rowExists(ctx, q, "SELECT 1 FROM "+it.mappingTable+" WHERE legal_entity_id = $1 AND "+it.column+" = $2 AND clinic_id = $3",
					c.legalEntityID, item.ID, cl.ID); err != nil {
					return res, err
				} else if ok {
					res.Skipped++
					continue
				}

				accountID, pattern := baseID, ""
				if perClinic {
					number := accounting.GenerateSubaccountCode(accounting.SubaccountParts{
						Base:     it.defaultNumber,
						Clinic:   cl.Code,
						Category: accounting.ItemCode(item.CategoryName),
						Item:     accounting.ItemCode(item.Name),
						ItemType: it.itemType,
					})
					pattern = it.pattern
					if id, ok := c.byNumber[number]; ok {
						accountID = id
					} else {
						accountID, err = c.create(ctx, q, systemID, newAccount{
							Number: number, Name: accounting.SubaccountName(item.Name, item.CategoryName, cl.Name),
							Type: accounting.Revenue, ParentID: baseID, Subaccount: true, DirectEntry: true,
						})
						if err != nil {
							return res, fmt.Errorf("failed to create subaccount %s: %w", number, err)
						}
						res.CreatedSubaccounts++
					}
				}

				if _, err := q.ExecContext(ctx,
					"INSERT INTO "+it.mappingTable+" (id, legal_entity_id, "+it.column+", clinic_id, account_id, subaccount_pattern) VALUES ($1, $2, $3, $4, $5, $6)",
					auth.NewID(), c.legalEntityID, item.ID, cl.ID, accountID, pattern); err != nil {
					return res, fmt.Errorf("failed to map %s %s: %w", it.table, item.ID, err)
				}
				*it.counter++
			}
		}
	}

	// Flat mappings: one row per source, no clinic split.
	flat := []struct {
		source, mappingTable, column, accountColumn, number string
		counter                                             *int
	}{
		{"SELECT id FROM category WHERE system_id = $1", "category_account_mapping", "category_id", "account_id", d.Services, &res.Mapped.Categories},
		{"SELECT id FROM vat_type WHERE system_id = $1", "vat_type_account_mapping", "vat_type_id", "output_account_id", d.VATOutput, &res.Mapped.VATTypes},
		{"SELECT id FROM promotion WHERE system_id = $1", "discount_account_mapping", "promotion_id", "account_id", d.Discounts, &res.Mapped.Promotions},
	}
	for _, f := range flat {
		accountID, err := c.account(f.number)
		if err != nil {
			return res, err
		}
		ids, err := queryIDs(ctx, q, f.source, systemID)
		if err != nil {
			return res, err
		}
		for _, id := range ids {
			n, err := mapFlat(ctx, q, f.mappingTable, f.column, f.accountColumn, c.legalEntityID, id, accountID, force)
			if err != nil {
				return res, err
			}
			*f.counter += n
			res.Skipped += 1 - n
		}
	}

	methods, err := q.QueryContext(ctx, "SELECT id, code FROM payment_method WHERE system_id = $1", systemID)
	if err != nil {
		return res, fmt.Errorf("failed to list payment methods: %w", err)
	}
	type pm struct{ id, code string }
	var pms []pm
	for methods.Next() {
		var p pm
		if err := methods.Scan(&p.id, &p.code); err != nil {
			methods.Close()
			return res, err
		}
		pms = append(pms, p)
	}
	methods.Close()
	for _, p := range pms {
		accountID, err := c.account(c.template.PaymentAccount(p.code))
		if err != nil {
			return res, err
		}
		n, err := mapFlat(ctx, q, "payment_method_account_mapping", "payment_method_id", "account_id", c.legalEntityID, p.id, accountID, force)
		if err != nil {
			return res, err
		}
		res.Mapped.PaymentMethods += n
		res.Skipped += 1 - n
	}

	return res, nil
}

// mapFlat inserts a mapping unless one exists. It returns 1 when a row
// was written.
func mapFlat(ctx context.Context, q db.Querier, table, column, accountColumn, legalEntityID, sourceID, accountID string, force bool) (int, error) {
	if force {
		if _, err := q.ExecContext(ctx, "DELETE FROM "+table+" WHERE legal_entity_id = $1 AND "+column+" = $2", legalEntityID, sourceID); err != nil {
			return 0, fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	hasClinic := table == "payment_method_account_mapping" || table == "discount_account_mapping"
	query := "INSERT INTO " + table + " (id, legal_entity_id, " + column + ", " + accountColumn + ") VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING"
	if hasClinic {
		query = "INSERT INTO " + table + " (id, legal_entity_id, " + column + ", clinic_id, " + accountColumn + ") VALUES ($1, $2, $3, '', $4) ON CONFLICT DO NOTHING"
	}
	return execCount(ctx, q, query, auth.NewID(), legalEntityID, sourceID, accountID)
}

func mapClinics(ctx context.Context, q db.Querier, legalEntityID, clinicID string) ([]mapClinic, error) {
	query := "SELECT id, prefix, name FROM clinic WHERE legal_entity_id = $1 ORDER BY created_at"
	args := []any{legalEntityID}
	if clinicID != "" {
		query = "SELECT id, prefix, name FROM clinic WHERE legal_entity_id = $1 AND id = $2"
		args = append(args, clinicID)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list clinics: %w", err)
	}
	defer rows.Close()

	var out []mapClinic
	for rows.Next() {
		var c mapClinic
		var prefix string
		if err := rows.Scan(&c.ID, &prefix, &c.Name); err != nil {
			return nil, err
		}
		c.Code = accounting.ClinicCode(prefix, c.Name)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if clinicID != "" && len(out) == 0 {
		return nil, errClinicNotInEntity
	}
	return out, nil
}

var errClinicNotInEntity = errors.New("clinic does not belong to the legal entity")

func mapItems(ctx context.Context, q db.Querier, table, systemID string) ([]mapItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT i.id, i.name, COALESCE(c.name, '')
		FROM `+table+` i LEFT JOIN category c ON c.id = i.category_id
		WHERE i.system_id = $1 ORDER BY i.created_at
	`, systemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	var out []mapItem
	for rows.Next() {
		var it mapItem
		if err := rows.Scan(&it.ID, &it.Name, &it.CategoryName); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func queryIDs(ctx context.Context, q db.Querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func rowExists(ctx context.Context, q db.Querier, query string, args ...any) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func execCount(ctx context.Context, q db.Querier, query string, args ...any) (int, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// autoMapAll maps new catalog items for every legal entity of the system
// that already has a chart. Errors are logged, never returned, so catalog
// writes do not depend on accounting.
func autoMapAll(ctx context.Context, conn *sql.DB, systemID, trigger string) {
	log := logging.FromContext(ctx)
	ids, err := queryIDs(ctx, conn, `
		SELECT le.id FROM legal_entity le
		WHERE le.system_id = $1 AND EXISTS (SELECT 1 FROM chart_of_account_entry a WHERE a.legal_entity_id = le.id)
	`, systemID)
	if err != nil {
		log.Warn(ctx, "auto-mapping skipped", zap.String("trigger", trigger), zap.Error(err))
		return
	}
	for _, le := range ids {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			log.Warn(ctx, "auto-mapping skipped", zap.String("trigger", trigger), zap.Error(err))
			return
		}
		res, err := autoMap(ctx, tx, systemID, le, "", false)
		if err == nil {
			err = tx.Commit()
		} else {
			tx.Rollback()
		}
		if err != nil {
			log.Warn(ctx, "auto-mapping failed",
				zap.String("trigger", trigger),
				zap.String("legal_entity_id", le),
				zap.Error(err))
			continue
		}
		log.Debug(ctx, "auto-mapping done",
			zap.String("trigger", trigger),
			zap.String("legal_entity_id", le),
			zap.Int("created_subaccounts", res.CreatedSubaccounts))
	}
}

// postEntry writes a balanced journal entry numbered YYYY/NNNNNN per legal
// entity and year. It must run inside a transaction.
func postEntry(ctx context.Context, q db.Querier, systemID, legalEntityID string, date time.Time, description, source, reference string, lines []accounting.Line) (string, string, error) {
	if err := accounting.ValidateLines(lines); err != nil {
		return "", "", err
	}
	year := date.UTC().Year()
	n, err := db.NextSequence(ctx, q, "JOURNAL:"+legalEntityID, year)
	if err != nil {
		return "", "", err
	}
	id, number := auth.NewID(), accounting.FormatEntryNumber(year, n)

	_, err = q.ExecContext(ctx, `
		INSERT INTO journal_entry (id, system_id, legal_entity_id, entry_number, entry_date, description, source, reference_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, id, systemID, legalEntityID, number, date.UTC(), description, source, reference, models.EntryPosted, time.Now().UTC())
	if err != nil {
		return "", "", fmt.Errorf("failed to insert journal entry: %w", err)
	}
	for i, l := range lines {
		_, err := q.ExecContext(ctx, `
			INSERT INTO journal_entry_line (id, journal_entry_id, account_id, debit, credit, description, line_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, auth.NewID(), id, l.AccountID, l.Debit.StringFixed(2), l.Credit.StringFixed(2), l.Description, i+1)
		if err != nil {
			return "", "", fmt.Errorf("failed to insert journal line: %w", err)
		}
	}
	metrics.JournalEntries.WithLabelValues(source).Inc()
	return id, number, nil
}
