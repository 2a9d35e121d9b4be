package internal

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fieldsales-api/internal/auth"
	"fieldsales-api/internal/geo"
	"fieldsales-api/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxClockSkew is how far into the future a device timestamp may be.
const maxClockSkew = 5 * time.Minute

const visitColumns = `id, org_id, client_ref, user_id, retailer_id, latitude, longitude,
	visited_at, purpose, remarks, distance_km, within_range, created_at`

func scanVisit(row rowScanner) (models.VisitLog, error) {
	var v models.VisitLog
	var lat, lon, dist sql.NullFloat64
	var purpose, remarks sql.NullString
	var within sql.NullBool
	err := row.Scan(&v.ID, &v.OrgID, &v.ClientRef, &v.UserID, &v.RetailerID, &lat, &lon,
		&v.VisitedAt, &purpose, &remarks, &dist, &within, &v.CreatedAt)
	if err != nil {
		return v, err
	}
	v.Latitude = floatPtr(lat)
	v.Longitude = floatPtr(lon)
	v.Purpose = stringPtr(purpose)
	v.Remarks = stringPtr(remarks)
	v.DistanceKm = floatPtr(dist)
	if within.Valid {
		v.WithinRange = &within.Bool
	}
	return v, nil
}

// validateVisitRequest checks a visit before any lookup. A missing or (0,0)
// fix is accepted and reconciles as unknown; out-of-range values are not.
func validateVisitRequest(req *models.CreateVisitRequest, now time.Time) error {
	if req.ClientRef == uuid.Nil {
		return errors.New("client_ref is required")
	}
	if req.RetailerID <= 0 {
		return errors.New("retailer_id is required")
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		return errors.New("latitude and longitude must be provided together")
	}
	if req.Latitude != nil {
		p := geo.Point{Lat: *req.Latitude, Lon: *req.Longitude}
		if !p.Valid() && !(p.Lat == 0 && p.Lon == 0) {
			return fmt.Errorf("%w: %v,%v", geo.ErrInvalidPoint, p.Lat, p.Lon)
		}
	}
	if req.VisitedAt != nil && req.VisitedAt.After(now.Add(maxClockSkew)) {
		return errors.New("visited_at is in the future")
	}
	return nil
}

// createVisit logs a visit and snapshots its distance from the retailer.
// Resubmitting the same client_ref returns the stored visit with 200.
func (s *Server) createVisit(w http.ResponseWriter, r *http.Request) {
	var req models.CreateVisitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	now := s.now()
	if err := validateVisitRequest(&req, now); err != nil {
		code := "VALIDATION_ERROR"
		if errors.Is(err, geo.ErrInvalidPoint) {
			code = "INVALID_LOCATION"
		}
		writeError(w, http.StatusBadRequest, code, err.Error())
		return
	}

	ctx := r.Context()
	orgID := auth.OrgIDFromContext(ctx)
	userID := auth.UserIDFromContext(ctx)
	db := dbFrom(ctx, s.DB)

	var rLat, rLon sql.NullFloat64
	err := db.QueryRowContext(ctx,
		"SELECT latitude, longitude FROM retailers WHERE id = $1 AND org_id = $2",
		req.RetailerID, orgID).Scan(&rLat, &rLon)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusUnprocessableEntity, "UNKNOWN_RETAILER", "retailer not found")
		return
	}
	if err != nil {
		s.dbError(w, r, err)
		return
	}

	result := s.Fence.CheckNullable(req.Latitude, req.Longitude, floatPtr(rLat), floatPtr(rLon))

	visitedAt := now
	if req.VisitedAt != nil {
		visitedAt = *req.VisitedAt
	}

	visit, err := scanVisit(db.QueryRowContext(ctx, `
		INSERT INTO visit_logs (org_id, client_ref, user_id, retailer_id, latitude, longitude,
		                        visited_at, purpose, remarks, distance_km, within_range)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (org_id, client_ref) DO NOTHING
		RETURNING `+visitColumns,
		orgID, req.ClientRef, userID, req.RetailerID, req.Latitude, req.Longitude,
		visitedAt, nullIfEmpty(req.Purpose), nullIfEmpty(req.Remarks), result.DistanceKm, result.WithinRange))

	if errors.Is(err, sql.ErrNoRows) {
		// Retry of a visit that already landed
		existing, err := scanVisit(db.QueryRowContext(ctx,
			"SELECT "+visitColumns+" FROM visit_logs WHERE org_id = $1 AND client_ref = $2",
			orgID, req.ClientRef))
		if err != nil {
			s.dbError(w, r, err)
			return
		}
		if existing.UserID != userID {
			writeError(w, http.StatusConflict, "CLIENT_REF_IN_USE", "client_ref belongs to another user")
			return
		}
		writeJSON(w, http.StatusOK, existing)
		return
	}
	if err != nil {
		s.dbError(w, r, err)
		return
	}

	s.Metrics.ObserveVisit(result.Status)
	s.Logger.Debug("visit logged",
		zap.Int64("visit_id", visit.ID),
		zap.Int64("retailer_id", visit.RetailerID),
		zap.String("status", string(result.Status)))

	writeJSON(w, http.StatusCreated, visit)
}

// visitFilters builds the WHERE clause shared by the visit list and summary.
func (s *Server) visitFilters(r *http.Request, wb *whereBuilder, column func(string) string) error {
	ctx := r.Context()
	wb.add(column("org_id")+" = $%d", auth.OrgIDFromContext(ctx))

	requested, err := queryInt64(r, "user_id")
	if err != nil {
		return err
	}
	if uid := auth.ScopeUserID(ctx, requested); uid != 0 {
		wb.add(column("user_id")+" = $%d", uid)
	}

	retailerID, err := queryInt64(r, "retailer_id")
	if err != nil {
		return err
	}
	if retailerID != 0 {
		wb.add(column("retailer_id")+" = $%d", retailerID)
	}
	return nil
}

func (s *Server) listVisits(w http.ResponseWriter, r *http.Request) {
	params := parseListParams(r)

	var wb whereBuilder
	if err := s.visitFilters(r, &wb, func(c string) string { return c }); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FILTER", err.Error())
		return
	}
	q := r.URL.Query()
	if q.Get("date") != "" || q.Get("from") != "" || q.Get("to") != "" {
		start, end, err := dateRange(r, s.Loc, s.now(), 1, 366)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_DATE", err.Error())
			return
		}
		wb.add("visited_at >= $%d", start)
		wb.add("visited_at < $%d", end)
	}
	switch q.Get("within_range") {
	case "":
	case "true", "false":
		wb.add("within_range = $%d", q.Get("within_range") == "true")
	case "unknown":
		wb.clauses = append(wb.clauses, "within_range IS NULL")
	default:
		writeError(w, http.StatusBadRequest, "INVALID_FILTER", "within_range must be true, false or unknown")
		return
	}

	db := dbFrom(r.Context(), s.DB)
	var total int
	if err := db.QueryRowContext(r.Context(), "SELECT COUNT(*) FROM visit_logs"+wb.sql(), wb.args...).Scan(&total); err != nil {
		s.dbError(w, r, err)
		return
	}

	orderBy := " ORDER BY visited_at DESC, id DESC"
	if params.sort != "" {
		orderBy = buildOrderBy(params.sort, map[string]string{
			"id": "id", "visited_at": "visited_at", "distance_km": "distance_km",
		})
	}
	query := fmt.Sprintf("SELECT %s FROM visit_logs%s%s LIMIT %d OFFSET %d",
		visitColumns, wb.sql(), orderBy, params.limit, params.offset)

	rows, err := db.QueryContext(r.Context(), query, wb.args...)
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	defer rows.Close()

	visits := []models.VisitLog{}
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			s.dbError(w, r, err)
			return
		}
		visits = append(visits, v)
	}
	if err := rows.Err(); err != nil {
		s.dbError(w, r, err)
		return
	}

	sendListResponse(w, visits, total, params)
}

func (s *Server) getVisit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	visit, err := scanVisit(dbFrom(ctx, s.DB).QueryRowContext(ctx,
		"SELECT "+visitColumns+" FROM visit_logs WHERE id = $1 AND org_id = $2",
		id, auth.OrgIDFromContext(ctx)))
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	if uid := auth.ScopeUserID(ctx, visit.UserID); uid != visit.UserID {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "not found")
		return
	}
	writeJSON(w, http.StatusOK, visit)
}

// summaryFence returns the configured fence, optionally overridden by the
// radius_km and method query parameters.
func (s *Server) summaryFence(r *http.Request) (geo.Fence, error) {
	fence := s.Fence
	q := r.URL.Query()
	if v := strings.TrimSpace(q.Get("radius_km")); v != "" {
		radius, err := strconv.ParseFloat(v, 64)
		if err != nil || !(radius > 0) {
			return fence, errors.New("radius_km must be a positive number")
		}
		fence.RadiusKm = radius
	}
	if v := q.Get("method"); v != "" {
		m, err := geo.ParseMethod(v)
		if err != nil {
			return fence, err
		}
		fence.Method = m
	}
	return fence, nil
}

// visitSummary reconciles each visit in the window against the retailer's
// current master coordinates and tallies the outcomes.
func (s *Server) visitSummary(w http.ResponseWriter, r *http.Request) {
	fence, err := s.summaryFence(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FENCE", err.Error())
		return
	}
	start, end, err := dateRange(r, s.Loc, s.now(), 1, 31)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DATE", err.Error())
		return
	}

	var wb whereBuilder
	if err := s.visitFilters(r, &wb, func(c string) string { return "v." + c }); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FILTER", err.Error())
		return
	}
	wb.add("v.visited_at >= $%d", start)
	wb.add("v.visited_at < $%d", end)

	ctx := r.Context()
	rows, err := dbFrom(ctx, s.DB).QueryContext(ctx, `
		SELECT v.id, v.user_id, u.full_name, v.retailer_id, rt.name, v.visited_at,
		       v.latitude, v.longitude, rt.latitude, rt.longitude
		FROM visit_logs v
		JOIN users u ON u.id = v.user_id
		JOIN retailers rt ON rt.id = v.retailer_id`+wb.sql()+`
		ORDER BY v.visited_at, v.id`, wb.args...)
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	defer rows.Close()

	summary := models.VisitSummary{
		RadiusKm: fence.RadiusKm,
		Method:   fence.Method,
		Visits:   []models.VisitSummaryRow{},
	}
	if summary.Method == "" {
		summary.Method = geo.MethodPlanar
	}
	for rows.Next() {
		var row models.VisitSummaryRow
		var vLat, vLon, rLat, rLon sql.NullFloat64
		if err := rows.Scan(&row.VisitID, &row.UserID, &row.RepName, &row.RetailerID, &row.RetailerName,
			&row.VisitedAt, &vLat, &vLon, &rLat, &rLon); err != nil {
			s.dbError(w, r, err)
			return
		}
		row.VisitedOn = row.VisitedAt.In(s.Loc).Format(dayLayout)
		if p, ok := geo.PointFrom(floatPtr(vLat), floatPtr(vLon)); ok {
			row.Visit = &p
		}
		if p, ok := geo.PointFrom(floatPtr(rLat), floatPtr(rLon)); ok {
			row.Retailer = &p
		}
		row.Result = fence.CheckNullable(floatPtr(vLat), floatPtr(vLon), floatPtr(rLat), floatPtr(rLon))
		summary.Totals.Add(row.Result)
		summary.Visits = append(summary.Visits, row)
	}
	if err := rows.Err(); err != nil {
		s.dbError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
