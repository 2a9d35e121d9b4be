package internal

import (
	"database/sql"
	"fmt"
	"net/http"
	"strings"

	"fieldsales-api/internal/auth"
	"fieldsales-api/internal/geo"
	"fieldsales-api/internal/models"
)

const retailerColumns = `id, org_id, code, name, owner_name, phone, address, route,
	latitude, longitude, created_at, updated_at`

func scanRetailer(row rowScanner) (models.Retailer, error) {
	var rt models.Retailer
	var owner, phone, address, route sql.NullString
	var lat, lon sql.NullFloat64
	err := row.Scan(&rt.ID, &rt.OrgID, &rt.Code, &rt.Name, &owner, &phone, &address, &route,
		&lat, &lon, &rt.CreatedAt, &rt.UpdatedAt)
	if err != nil {
		return rt, err
	}
	rt.OwnerName = stringPtr(owner)
	rt.Phone = stringPtr(phone)
	rt.Address = stringPtr(address)
	rt.Route = stringPtr(route)
	rt.Latitude = floatPtr(lat)
	rt.Longitude = floatPtr(lon)
	return rt, nil
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	return &nf.Float64
}

// validateRetailerCoords requires latitude and longitude to be sent
// together and to form a usable fix.
func validateRetailerCoords(lat, lon *float64) error {
	if (lat == nil) != (lon == nil) {
		return fmt.Errorf("latitude and longitude must be provided together")
	}
	if lat == nil {
		return nil
	}
	if !(geo.Point{Lat: *lat, Lon: *lon}).Valid() {
		return fmt.Errorf("latitude/longitude out of range")
	}
	return nil
}

func (s *Server) listRetailers(w http.ResponseWriter, r *http.Request) {
	params := parseListParams(r)

	var wb whereBuilder
	wb.add("org_id = $%d", auth.OrgIDFromContext(r.Context()))
	if params.q != "" {
		wb.add("(name ILIKE $%d OR code ILIKE $%d OR owner_name ILIKE $%d)", "%"+params.q+"%")
	}
	if route := strings.TrimSpace(r.URL.Query().Get("route")); route != "" {
		wb.add("route = $%d", route)
	}

	db := dbFrom(r.Context(), s.DB)
	var total int
	if err := db.QueryRowContext(r.Context(), "SELECT COUNT(*) FROM retailers"+wb.sql(), wb.args...).Scan(&total); err != nil {
		s.dbError(w, r, err)
		return
	}

	orderBy := buildOrderBy(params.sort, map[string]string{
		"id": "id", "code": "code", "name": "name", "route": "route", "updated_at": "updated_at",
	})
	query := fmt.Sprintf("SELECT %s FROM retailers%s%s LIMIT %d OFFSET %d",
		retailerColumns, wb.sql(), orderBy, params.limit, params.offset)

	rows, err := db.QueryContext(r.Context(), query, wb.args...)
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	defer rows.Close()

	retailers := []models.Retailer{}
	for rows.Next() {
		rt, err := scanRetailer(rows)
		if err != nil {
			s.dbError(w, r, err)
			return
		}
		retailers = append(retailers, rt)
	}
	if err := rows.Err(); err != nil {
		s.dbError(w, r, err)
		return
	}

	sendListResponse(w, retailers, total, params)
}

func (s *Server) getRetailer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	row := dbFrom(r.Context(), s.DB).QueryRowContext(r.Context(),
		"SELECT "+retailerColumns+" FROM retailers WHERE id = $1 AND org_id = $2",
		id, auth.OrgIDFromContext(r.Context()))
	rt, err := scanRetailer(row)
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (s *Server) createRetailer(w http.ResponseWriter, r *http.Request) {
	var req models.RetailerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Code == nil || strings.TrimSpace(*req.Code) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "code is required")
		return
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "name is required")
		return
	}
	if err := validateRetailerCoords(req.Latitude, req.Longitude); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return
	}

	row := dbFrom(r.Context(), s.DB).QueryRowContext(r.Context(), `
		INSERT INTO retailers (org_id, code, name, owner_name, phone, address, route, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+retailerColumns,
		auth.OrgIDFromContext(r.Context()), strings.TrimSpace(*req.Code), strings.TrimSpace(*req.Name),
		nullIfEmpty(req.OwnerName), nullIfEmpty(req.Phone), nullIfEmpty(req.Address), nullIfEmpty(req.Route),
		req.Latitude, req.Longitude)

	rt, err := scanRetailer(row)
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rt)
}

// updateRetailer applies a partial update. Moving a retailer's master
// coordinates changes how later summaries reconcile earlier visits, while
// each visit's stored snapshot stays as it was logged.
func (s *Server) updateRetailer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.RetailerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validateRetailerCoords(req.Latitude, req.Longitude); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return
	}

	set := []string{}
	args := []interface{}{}
	add := func(col string, val interface{}) {
		args = append(args, val)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	for _, f := range []struct {
		col      string
		val      *string
		required bool
	}{
		{"code", req.Code, true},
		{"name", req.Name, true},
		{"owner_name", req.OwnerName, false},
		{"phone", req.Phone, false},
		{"address", req.Address, false},
		{"route", req.Route, false},
	} {
		if f.val == nil {
			continue
		}
		if f.required && strings.TrimSpace(*f.val) == "" {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", f.col+" must not be empty")
			return
		}
		add(f.col, nullIfEmpty(f.val))
	}
	if req.Latitude != nil {
		add("latitude", *req.Latitude)
		add("longitude", *req.Longitude)
	}
	if len(set) == 0 {
		writeError(w, http.StatusBadRequest, "NO_FIELDS", "no fields to update")
		return
	}

	args = append(args, id, auth.OrgIDFromContext(r.Context()))
	query := fmt.Sprintf(`UPDATE retailers SET %s, updated_at = now()
		WHERE id = $%d AND org_id = $%d
		RETURNING %s`, strings.Join(set, ", "), len(args)-1, len(args), retailerColumns)

	rt, err := scanRetailer(dbFrom(r.Context(), s.DB).QueryRowContext(r.Context(), query, args...))
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (s *Server) deleteRetailer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	res, err := dbFrom(r.Context(), s.DB).ExecContext(r.Context(),
		"DELETE FROM retailers WHERE id = $1 AND org_id = $2", id, auth.OrgIDFromContext(r.Context()))
	if err != nil {
		if isForeignKeyViolation(err) {
			writeError(w, http.StatusConflict, "RETAILER_IN_USE", "retailer has orders, deliveries or receipts")
			return
		}
		s.dbError(w, r, err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "retailer not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
