package internal

import (
	"fmt"
	"net/http"
	"strings"

	"fieldsales-api/internal/auth"
	"fieldsales-api/internal/models"
)

const productColumns = `id, org_id, sku, name, unit, unit_price, is_active, created_at, updated_at`

func scanProduct(row rowScanner) (models.Product, error) {
	var p models.Product
	err := row.Scan(&p.ID, &p.OrgID, &p.SKU, &p.Name, &p.Unit, &p.UnitPrice, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	params := parseListParams(r)

	var wb whereBuilder
	wb.add("org_id = $%d", auth.OrgIDFromContext(r.Context()))
	if params.q != "" {
		wb.add("(name ILIKE $%d OR sku ILIKE $%d)", "%"+params.q+"%")
	}
	switch r.URL.Query().Get("active") {
	case "":
	case "true":
		wb.add("is_active = $%d", true)
	case "false":
		wb.add("is_active = $%d", false)
	default:
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "active must be true or false")
		return
	}

	db := dbFrom(r.Context(), s.DB)
	var total int
	if err := db.QueryRowContext(r.Context(), "SELECT COUNT(*) FROM products"+wb.sql(), wb.args...).Scan(&total); err != nil {
		s.dbError(w, r, err)
		return
	}

	orderBy := buildOrderBy(params.sort, map[string]string{
		"id": "id", "sku": "sku", "name": "name", "unit_price": "unit_price",
	})
	query := fmt.Sprintf("SELECT %s FROM products%s%s LIMIT %d OFFSET %d",
		productColumns, wb.sql(), orderBy, params.limit, params.offset)

	rows, err := db.QueryContext(r.Context(), query, wb.args...)
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			s.dbError(w, r, err)
			return
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		s.dbError(w, r, err)
		return
	}

	sendListResponse(w, products, total, params)
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := scanProduct(dbFrom(r.Context(), s.DB).QueryRowContext(r.Context(),
		"SELECT "+productColumns+" FROM products WHERE id = $1 AND org_id = $2",
		id, auth.OrgIDFromContext(r.Context())))
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	var req models.ProductRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	switch {
	case req.SKU == nil || strings.TrimSpace(*req.SKU) == "":
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "sku is required")
		return
	case req.Name == nil || strings.TrimSpace(*req.Name) == "":
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "name is required")
		return
	case req.UnitPrice == nil || req.UnitPrice.IsNegative():
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "unit_price must be zero or more")
		return
	}

	unit := "pcs"
	if req.Unit != nil && strings.TrimSpace(*req.Unit) != "" {
		unit = strings.TrimSpace(*req.Unit)
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	p, err := scanProduct(dbFrom(r.Context(), s.DB).QueryRowContext(r.Context(), `
		INSERT INTO products (org_id, sku, name, unit, unit_price, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+productColumns,
		auth.OrgIDFromContext(r.Context()), strings.TrimSpace(*req.SKU), strings.TrimSpace(*req.Name),
		unit, req.UnitPrice.Round(2), active))
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.ProductRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	set := []string{}
	args := []interface{}{}
	add := func(col string, val interface{}) {
		args = append(args, val)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	for _, f := range []struct {
		col string
		val *string
	}{{"sku", req.SKU}, {"name", req.Name}, {"unit", req.Unit}} {
		if f.val == nil {
			continue
		}
		if strings.TrimSpace(*f.val) == "" {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", f.col+" must not be empty")
			return
		}
		add(f.col, strings.TrimSpace(*f.val))
	}
	if req.UnitPrice != nil {
		if req.UnitPrice.IsNegative() {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "unit_price must be zero or more")
			return
		}
		add("unit_price", req.UnitPrice.Round(2))
	}
	if req.IsActive != nil {
		add("is_active", *req.IsActive)
	}
	if len(set) == 0 {
		writeError(w, http.StatusBadRequest, "NO_FIELDS", "no fields to update")
		return
	}

	args = append(args, id, auth.OrgIDFromContext(r.Context()))
	query := fmt.Sprintf(`UPDATE products SET %s, updated_at = now()
		WHERE id = $%d AND org_id = $%d
		RETURNING %s`, strings.Join(set, ", "), len(args)-1, len(args), productColumns)

	p, err := scanProduct(dbFrom(r.Context(), s.DB).QueryRowContext(r.Context(), query, args...))
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// deleteProduct removes an unused product. Products already on orders or
// deliveries are deactivated instead so history keeps resolving.
func (s *Server) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	orgID := auth.OrgIDFromContext(r.Context())
	db := dbFrom(r.Context(), s.DB)

	res, err := db.ExecContext(r.Context(), "DELETE FROM products WHERE id = $1 AND org_id = $2", id, orgID)
	if isForeignKeyViolation(err) {
		res, err = db.ExecContext(r.Context(),
			"UPDATE products SET is_active = false, updated_at = now() WHERE id = $1 AND org_id = $2", id, orgID)
	}
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "product not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
