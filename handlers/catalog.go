// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/casblasvic/weekly-calendar-sub018/accounting"
	"github.com/casblasvic/weekly-calendar-sub018/auth"
	"github.com/casblasvic/weekly-calendar-sub018/cliparse"
	"github.com/casblasvic/weekly-calendar-sub018/db"
	"github.com/casblasvic/weekly-calendar-sub018/middleware"
	"github.com/casblasvic/weekly-calendar-sub018/models"
)

var hundred = decimal.NewFromInt(100)

type CatalogHandler struct {
	db  *sql.DB
	cfg cliparse.Config
}

func NewCatalogHandler(db *sql.DB, cfg cliparse.Config) *CatalogHandler {
	return &CatalogHandler{db: db, cfg: cfg}
}

// checkRef validates an optional reference to a row of the same system.
// It writes the error response and returns false when the check fails.
func checkRef(w http.ResponseWriter, r *http.Request, q db.Querier, table, id, systemID, label string) bool {
	if id == "" {
		return true
	}
	ok, err := exists(r.Context(), q, table, id, systemID)
	if err != nil {
		dbError(w, r, "failed to check "+table, err)
		return false
	}
	if !ok {
		middleware.ErrorResponse(w, http.StatusBadRequest, label+" not found")
		return false
	}
	return true
}

func validRate(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(hundred)
}

// CreateLegalEntity handles POST /api/legal-entities (admin only)
func (h *CatalogHandler) CreateLegalEntity(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.CreateLegalEntityRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "name is required")
		return
	}
	country := strings.ToUpper(strings.TrimSpace(req.CountryCode))
	if country == "" {
		country = accounting.DefaultCountry
	}

	le := models.LegalEntity{
		ID:          auth.NewID(),
		Name:        req.Name,
		CountryCode: country,
		TaxID:       req.TaxID,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := h.db.ExecContext(r.Context(), `
		INSERT INTO legal_entity (id, system_id, name, country_code, tax_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, le.ID, p.SystemID, le.Name, le.CountryCode, le.TaxID, le.CreatedAt)
	if err != nil {
		dbError(w, r, "failed to insert legal entity", err)
		return
	}

	middleware.JSONResponse(w, http.StatusCreated, le)
}

// ListLegalEntities handles GET /api/legal-entities
func (h *CatalogHandler) ListLegalEntities(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	rows, err := h.db.QueryContext(r.Context(),
		"SELECT id, name, country_code, tax_id, created_at FROM legal_entity WHERE system_id = $1 ORDER BY created_at",
		p.SystemID)
	if err != nil {
		dbError(w, r, "failed to list legal entities", err)
		return
	}
	defer rows.Close()

	out := []models.LegalEntity{}
	for rows.Next() {
		var le models.LegalEntity
		if err := rows.Scan(&le.ID, &le.Name, &le.CountryCode, &le.TaxID, &le.CreatedAt); err != nil {
			dbError(w, r, "failed to scan legal entity", err)
			return
		}
		out = append(out, le)
	}
	middleware.JSONResponse(w, http.StatusOK, out)
}

// GetLegalEntity handles GET /api/legal-entities/{id}
func (h *CatalogHandler) GetLegalEntity(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var le models.LegalEntity
	err := h.db.QueryRowContext(r.Context(),
		"SELECT id, name, country_code, tax_id, created_at FROM legal_entity WHERE id = $1 AND system_id = $2",
		r.PathValue("id"), p.SystemID).Scan(&le.ID, &le.Name, &le.CountryCode, &le.TaxID, &le.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Legal entity not found")
		return
	}
	if err != nil {
		dbError(w, r, "failed to load legal entity", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, le)
}

// CreateClinic handles POST /api/clinics (admin only)
// A new clinic changes the per-clinic mapping scope, so auto-mapping runs
// afterwards.
func (h *CatalogHandler) CreateClinic(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.CreateClinicRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "name is required")
		return
	}
	if !checkRef(w, r, h.db, "legal_entity", req.LegalEntityID, p.SystemID, "Legal entity") {
		return
	}

	c := models.Clinic{
		ID:        auth.NewID(),
		Name:      req.Name,
		Prefix:    strings.ToUpper(strings.TrimSpace(req.Prefix)),
		CreatedAt: time.Now().UTC(),
	}
	if req.LegalEntityID != "" {
		c.LegalEntityID = &req.LegalEntityID
	}
	ctx := r.Context()
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO clinic (id, system_id, legal_entity_id, name, prefix, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, p.SystemID, nullable(req.LegalEntityID), c.Name, c.Prefix, c.CreatedAt)
	if err != nil {
		dbError(w, r, "failed to insert clinic", err)
		return
	}
	autoMapAll(ctx, h.db, p.SystemID, "clinic")

	middleware.JSONResponse(w, http.StatusCreated, c)
}

// ListClinics handles GET /api/clinics
func (h *CatalogHandler) ListClinics(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	rows, err := h.db.QueryContext(r.Context(),
		"SELECT id, name, prefix, legal_entity_id, created_at FROM clinic WHERE system_id = $1 ORDER BY name",
		p.SystemID)
	if err != nil {
		dbError(w, r, "failed to list clinics", err)
		return
	}
	defer rows.Close()

	out := []models.Clinic{}
	for rows.Next() {
		c, err := scanClinic(rows)
		if err != nil {
			dbError(w, r, "failed to scan clinic", err)
			return
		}
		out = append(out, c)
	}
	middleware.JSONResponse(w, http.StatusOK, out)
}

func scanClinic(s interface{ Scan(...any) error }) (models.Clinic, error) {
	var c models.Clinic
	var le sql.NullString
	err := s.Scan(&c.ID, &c.Name, &c.Prefix, &le, &c.CreatedAt)
	c.LegalEntityID = nullString(le)
	return c, err
}

// GetClinic handles GET /api/clinics/{id}
// The response includes the clinic's cabins.
func (h *CatalogHandler) GetClinic(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	c, err := scanClinic(h.db.QueryRowContext(ctx,
		"SELECT id, name, prefix, legal_entity_id, created_at FROM clinic WHERE id = $1 AND system_id = $2",
		r.PathValue("id"), p.SystemID))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Clinic not found")
		return
	}
	if err != nil {
		dbError(w, r, "failed to load clinic", err)
		return
	}

	rows, err := h.db.QueryContext(ctx, "SELECT id, clinic_id, name FROM cabin WHERE clinic_id = $1 ORDER BY name", c.ID)
	if err != nil {
		dbError(w, r, "failed to list cabins", err)
		return
	}
	defer rows.Close()
	c.Cabins = []models.Cabin{}
	for rows.Next() {
		var cb models.Cabin
		if err := rows.Scan(&cb.ID, &cb.ClinicID, &cb.Name); err != nil {
			dbError(w, r, "failed to scan cabin", err)
			return
		}
		c.Cabins = append(c.Cabins, cb)
	}
	middleware.JSONResponse(w, http.StatusOK, c)
}

// CreateCabin handles POST /api/clinics/{id}/cabins (admin only)
func (h *CatalogHandler) CreateCabin(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	clinicID := r.PathValue("id")
	var req models.CreateCabinRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "name is required")
		return
	}
	ok, err := exists(r.Context(), h.db, "clinic", clinicID, p.SystemID)
	if err != nil {
		dbError(w, r, "failed to check clinic", err)
		return
	}
	if !ok {
		middleware.ErrorResponse(w, http.StatusNotFound, "Clinic not found")
		return
	}

	cb := models.Cabin{ID: auth.NewID(), ClinicID: clinicID, Name: req.Name}
	if _, err := h.db.ExecContext(r.Context(),
		"INSERT INTO cabin (id, system_id, clinic_id, name) VALUES ($1, $2, $3, $4)",
		cb.ID, p.SystemID, cb.ClinicID, cb.Name); err != nil {
		dbError(w, r, "failed to insert cabin", err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, cb)
}

// CreatePerson handles POST /api/persons
func (h *CatalogHandler) CreatePerson(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.CreatePersonRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if strings.TrimSpace(req.FirstName) == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "first_name is required")
		return
	}

	person, err := insertPerson(r.Context(), h.db, p.SystemID, req)
	if err != nil {
		dbError(w, r, "failed to insert person", err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, person)
}

// insertPerson is shared with lead conversion.
func insertPerson(ctx context.Context, q db.Querier, systemID string, req models.CreatePersonRequest) (models.Person, error) {
	person := models.Person{
		ID:        auth.NewID(),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:     req.Phone,
		CreatedAt: time.Now().UTC(),
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO person (id, system_id, first_name, last_name, email, phone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, person.ID, systemID, person.FirstName, person.LastName, person.Email, person.Phone, person.CreatedAt)
	return person, err
}

// ListPersons handles GET /api/persons?q=
// q filters by name or email prefix.
func (h *CatalogHandler) ListPersons(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	query := `SELECT id, first_name, last_name, email, phone, created_at FROM person WHERE system_id = $1`
	args := []any{p.SystemID}
	if q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q"))); q != "" {
		query += ` AND (LOWER(first_name) LIKE $2 OR LOWER(last_name) LIKE $2 OR email LIKE $2)`
		args = append(args, q+"%")
	}
	query += ` ORDER BY first_name, last_name`

	rows, err := h.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		dbError(w, r, "failed to list persons", err)
		return
	}
	defer rows.Close()

	out := []models.Person{}
	for rows.Next() {
		var person models.Person
		if err := rows.Scan(&person.ID, &person.FirstName, &person.LastName, &person.Email, &person.Phone, &person.CreatedAt); err != nil {
			dbError(w, r, "failed to scan person", err)
			return
		}
		out = append(out, person)
	}
	middleware.JSONResponse(w, http.StatusOK, out)
}

// GetPerson handles GET /api/persons/{id}
func (h *CatalogHandler) GetPerson(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var person models.Person
	err := h.db.QueryRowContext(r.Context(),
		"SELECT id, first_name, last_name, email, phone, created_at FROM person WHERE id = $1 AND system_id = $2",
		r.PathValue("id"), p.SystemID,
	).Scan(&person.ID, &person.FirstName, &person.LastName, &person.Email, &person.Phone, &person.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Person not found")
		return
	}
	if err != nil {
		dbError(w, r, "failed to load person", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, person)
}

// CreateCategory handles POST /api/categories (admin only)
func (h *CatalogHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.CreateCategoryRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "name is required")
		return
	}

	c := models.Category{ID: auth.NewID(), Name: req.Name}
	ctx := r.Context()
	if _, err := h.db.ExecContext(ctx,
		"INSERT INTO category (id, system_id, name) VALUES ($1, $2, $3)", c.ID, p.SystemID, c.Name); err != nil {
		dbError(w, r, "failed to insert category", err)
		return
	}
	autoMapAll(ctx, h.db, p.SystemID, "category")

	middleware.JSONResponse(w, http.StatusCreated, c)
}

// ListCategories handles GET /api/categories
func (h *CatalogHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	rows, err := h.db.QueryContext(r.Context(),
		"SELECT id, name FROM category WHERE system_id = $1 ORDER BY name", p.SystemID)
	if err != nil {
		dbError(w, r, "failed to list categories", err)
		return
	}
	defer rows.Close()

	out := []models.Category{}
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			dbError(w, r, "failed to scan category", err)
			return
		}
		out = append(out, c)
	}
	middleware.JSONResponse(w, http.StatusOK, out)
}

// CreateService handles POST /api/services (admin only)
func (h *CatalogHandler) CreateService(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.CreateServiceRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	switch {
	case strings.TrimSpace(req.Name) == "":
		middleware.ErrorResponse(w, http.StatusBadRequest, "name is required")
		return
	case req.DurationMinutes <= 0:
		middleware.ErrorResponse(w, http.StatusBadRequest, "duration_minutes must be positive")
		return
	case req.TreatmentDurationMinutes < 0:
		middleware.ErrorResponse(w, http.StatusBadRequest, "treatment_duration_minutes cannot be negative")
		return
	case req.Price.IsNegative():
		middleware.ErrorResponse(w, http.StatusBadRequest, "price cannot be negative")
		return
	case !validRate(req.VATRate):
		middleware.ErrorResponse(w, http.StatusBadRequest, "vat_rate must be between 0 and 100")
		return
	}
	if !checkRef(w, r, h.db, "category", req.CategoryID, p.SystemID, "Category") {
		return
	}

	s := models.Service{
		ID:                       auth.NewID(),
		Name:                     req.Name,
		DurationMinutes:          req.DurationMinutes,
		TreatmentDurationMinutes: req.TreatmentDurationMinutes,
		Price:                    req.Price,
		VATRate:                  req.VATRate,
		EquipmentIDs:             []string{},
		CreatedAt:                time.Now().UTC(),
	}
	if req.CategoryID != "" {
		s.CategoryID = &req.CategoryID
	}
	ctx := r.Context()
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO service (id, system_id, category_id, name, duration_minutes, treatment_duration_minutes, price, vat_rate, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, s.ID, p.SystemID, nullable(req.CategoryID), s.Name, s.DurationMinutes, s.TreatmentDurationMinutes,
		s.Price.StringFixed(2), s.VATRate.StringFixed(2), s.CreatedAt)
	if err != nil {
		dbError(w, r, "failed to insert service", err)
		return
	}
	autoMapAll(ctx, h.db, p.SystemID, "service")

	middleware.JSONResponse(w, http.StatusCreated, s)
}

// ListServices handles GET /api/services
func (h *CatalogHandler) ListServices(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	ids, err := queryIDs(ctx, h.db, "SELECT id FROM service WHERE system_id = $1 ORDER BY name", p.SystemID)
	if err != nil {
		dbError(w, r, "failed to list services", err)
		return
	}
	out := make([]models.Service, 0, len(ids))
	for _, id := range ids {
		s, err := loadService(ctx, h.db, p.SystemID, id)
		if err != nil {
			dbError(w, r, "failed to load service", err)
			return
		}
		out = append(out, s)
	}
	middleware.JSONResponse(w, http.StatusOK, out)
}

// GetService handles GET /api/services/{id}
func (h *CatalogHandler) GetService(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	s, err := loadService(r.Context(), h.db, p.SystemID, r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Service not found")
		return
	}
	if err != nil {
		dbError(w, r, "failed to load service", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, s)
}

// loadService reads a service with the equipment it requires.
func loadService(ctx context.Context, q db.Querier, systemID, id string) (models.Service, error) {
	var s models.Service
	var category sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT id, name, category_id, duration_minutes, treatment_duration_minutes, price, vat_rate, created_at
		FROM service WHERE id = $1 AND system_id = $2
	`, id, systemID).Scan(&s.ID, &s.Name, &category, &s.DurationMinutes, &s.TreatmentDurationMinutes,
		&s.Price, &s.VATRate, &s.CreatedAt)
	if err != nil {
		return s, err
	}
	s.CategoryID = nullString(category)
	s.Price, s.VATRate = s.Price.Round(2), s.VATRate.Round(2)

	s.EquipmentIDs, err = queryIDs(ctx, q,
		"SELECT equipment_id FROM service_equipment_requirement WHERE service_id = $1 ORDER BY equipment_id", id)
	if s.EquipmentIDs == nil {
		s.EquipmentIDs = []string{}
	}
	return s, err
}

// CreateProduct handles POST /api/products (admin only)
func (h *CatalogHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.CreateProductRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	switch {
	case strings.TrimSpace(req.Name) == "":
		middleware.ErrorResponse(w, http.StatusBadRequest, "name is required")
		return
	case req.Price.IsNegative():
		middleware.ErrorResponse(w, http.StatusBadRequest, "price cannot be negative")
		return
	case !validRate(req.VATRate):
		middleware.ErrorResponse(w, http.StatusBadRequest, "vat_rate must be between 0 and 100")
		return
	}
	if !checkRef(w, r, h.db, "category", req.CategoryID, p.SystemID, "Category") {
		return
	}

	pr := models.Product{
		ID:        auth.NewID(),
		Name:      req.Name,
		Price:     req.Price,
		VATRate:   req.VATRate,
		CreatedAt: time.Now().UTC(),
	}
	if req.CategoryID != "" {
		pr.CategoryID = &req.CategoryID
	}
	ctx := r.Context()
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO product (id, system_id, category_id, name, price, vat_rate, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, pr.ID, p.SystemID, nullable(req.CategoryID), pr.Name, pr.Price.StringFixed(2), pr.VATRate.StringFixed(2), pr.CreatedAt)
	if err != nil {
		dbError(w, r, "failed to insert product", err)
		return
	}
	autoMapAll(ctx, h.db, p.SystemID, "product")

	middleware.JSONResponse(w, http.StatusCreated, pr)
}

// ListProducts handles GET /api/products
func (h *CatalogHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	rows, err := h.db.QueryContext(r.Context(),
		"SELECT id, name, category_id, price, vat_rate, created_at FROM product WHERE system_id = $1 ORDER BY name",
		p.SystemID)
	if err != nil {
		dbError(w, r, "failed to list products", err)
		return
	}
	defer rows.Close()

	out := []models.Product{}
	for rows.Next() {
		var pr models.Product
		var category sql.NullString
		if err := rows.Scan(&pr.ID, &pr.Name, &category, &pr.Price, &pr.VATRate, &pr.CreatedAt); err != nil {
			dbError(w, r, "failed to scan product", err)
			return
		}
		pr.CategoryID = nullString(category)
		pr.Price, pr.VATRate = pr.Price.Round(2), pr.VATRate.Round(2)
		out = append(out, pr)
	}
	middleware.JSONResponse(w, http.StatusOK, out)
}

// CreateVATType handles POST /api/vat-types (admin only)
func (h *CatalogHandler) CreateVATType(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.CreateVATTypeRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if strings.TrimSpace(req.Name) == "" || !validRate(req.Rate) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "name and a rate between 0 and 100 are required")
		return
	}

	v := models.VATType{ID: auth.NewID(), Name: req.Name, Rate: req.Rate}
	ctx := r.Context()
	if _, err := h.db.ExecContext(ctx,
		"INSERT INTO vat_type (id, system_id, name, rate) VALUES ($1, $2, $3, $4)",
		v.ID, p.SystemID, v.Name, v.Rate.StringFixed(2)); err != nil {
		dbError(w, r, "failed to insert vat type", err)
		return
	}
	autoMapAll(ctx, h.db, p.SystemID, "vat_type")

	middleware.JSONResponse(w, http.StatusCreated, v)
}

// ListVATTypes handles GET /api/vat-types
func (h *CatalogHandler) ListVATTypes(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	rows, err := h.db.QueryContext(r.Context(),
		"SELECT id, name, rate FROM vat_type WHERE system_id = $1 ORDER BY rate DESC", p.SystemID)
	if err != nil {
		dbError(w, r, "failed to list vat types", err)
		return
	}
	defer rows.Close()

	out := []models.VATType{}
	for rows.Next() {
		var v models.VATType
		if err := rows.Scan(&v.ID, &v.Name, &v.Rate); err != nil {
			dbError(w, r, "failed to scan vat type", err)
			return
		}
		v.Rate = v.Rate.Round(2)
		out = append(out, v)
	}
	middleware.JSONResponse(w, http.StatusOK, out)
}

// CreatePromotion handles POST /api/promotions (admin only)
func (h *CatalogHandler) CreatePromotion(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req models.CreatePromotionRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	if req.Name == "" || req.Code == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "name and code are required")
		return
	}
	if !req.DiscountPercent.IsPositive() || req.DiscountPercent.GreaterThan(hundred) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "discount_percent must be between 0 and 100")
		return
	}

	pr := models.Promotion{
		ID:              auth.NewID(),
		Name:            req.Name,
		Code:            req.Code,
		DiscountPercent: req.DiscountPercent,
		CreatedAt:       time.Now().UTC(),
	}
	ctx := r.Context()
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO promotion (id, system_id, name, code, discount_percent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, pr.ID, p.SystemID, pr.Name, pr.Code, pr.DiscountPercent.StringFixed(2), pr.CreatedAt)
	if db.IsUniqueViolation(err) {
		middleware.ErrorResponse(w, http.StatusConflict, "A promotion with this code already exists")
		return
	}
	if err != nil {
		dbError(w, r, "failed to insert promotion", err)
		return
	}
	autoMapAll(ctx, h.db, p.SystemID, "promotion")

	middleware.JSONResponse(w, http.StatusCreated, pr)
}

// ListPromotions handles GET /api/promotions
func (h *CatalogHandler) ListPromotions(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	rows, err := h.db.QueryContext(r.Context(),
		"SELECT id, name, code, discount_percent, created_at FROM promotion WHERE system_id = $1 ORDER BY code",
		p.SystemID)
	if err != nil {
		dbError(w, r, "failed to list promotions", err)
		return
	}
	defer rows.Close()

	out := []models.Promotion{}
	for rows.Next() {
		var pr models.Promotion
		if err := rows.Scan(&pr.ID, &pr.Name, &pr.Code, &pr.DiscountPercent, &pr.CreatedAt); err != nil {
			dbError(w, r, "failed to scan promotion", err)
			return
		}
		pr.DiscountPercent = pr.DiscountPercent.Round(2)
		out = append(out, pr)
	}
	middleware.JSONResponse(w, http.StatusOK, out)
}
