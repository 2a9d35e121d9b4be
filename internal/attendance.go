package internal

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"fieldsales-api/internal/auth"
	"fieldsales-api/internal/geo"
	"fieldsales-api/internal/models"
)

const attendanceColumns = `id, org_id, user_id, work_date, check_in_at, check_in_lat, check_in_lon,
	check_out_at, check_out_lat, check_out_lon`

func scanAttendance(row rowScanner) (models.Attendance, error) {
	var a models.Attendance
	var workDate time.Time
	var inLat, inLon, outLat, outLon sql.NullFloat64
	var outAt sql.NullTime
	err := row.Scan(&a.ID, &a.OrgID, &a.UserID, &workDate, &a.CheckInAt, &inLat, &inLon,
		&outAt, &outLat, &outLon)
	if err != nil {
		return a, err
	}
	a.WorkDate = workDate.Format(dayLayout)
	a.CheckInLat = floatPtr(inLat)
	a.CheckInLon = floatPtr(inLon)
	a.CheckOutLat = floatPtr(outLat)
	a.CheckOutLon = floatPtr(outLon)
	if outAt.Valid {
		a.CheckOutAt = &outAt.Time
		hours := math.Round(outAt.Time.Sub(a.CheckInAt).Hours()*100) / 100
		a.HoursWorked = &hours
	}
	return a, nil
}

// decodePunch reads an optional check-in/out location. An empty body is
// a punch without a fix.
func decodePunch(w http.ResponseWriter, r *http.Request) (models.AttendancePunch, bool) {
	var p models.AttendancePunch
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &p) {
			return p, false
		}
	}
	if err := validatePunch(&p); err != nil {
		code := "VALIDATION_ERROR"
		if errors.Is(err, geo.ErrInvalidPoint) {
			code = "INVALID_LOCATION"
		}
		writeError(w, http.StatusBadRequest, code, err.Error())
		return p, false
	}
	return p, true
}

// validatePunch applies the visit location rules to a punch. The (0,0)
// no-fix sentinel is cleared so the row stores NULL coordinates.
func validatePunch(p *models.AttendancePunch) error {
	if (p.Latitude == nil) != (p.Longitude == nil) {
		return errors.New("latitude and longitude must be provided together")
	}
	if p.Latitude == nil {
		return nil
	}
	pt := geo.Point{Lat: *p.Latitude, Lon: *p.Longitude}
	if pt.Lat == 0 && pt.Lon == 0 {
		p.Latitude, p.Longitude = nil, nil
		return nil
	}
	if !pt.Valid() {
		return fmt.Errorf("%w: %v,%v", geo.ErrInvalidPoint, pt.Lat, pt.Lon)
	}
	return nil
}

// checkIn opens the caller's working day. A second check-in on the same
// day is a conflict.
func (s *Server) checkIn(w http.ResponseWriter, r *http.Request) {
	punch, ok := decodePunch(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	now := s.now()

	a, err := scanAttendance(dbFrom(ctx, s.DB).QueryRowContext(ctx, `
		INSERT INTO attendance (org_id, user_id, work_date, check_in_at, check_in_lat, check_in_lon)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+attendanceColumns,
		auth.OrgIDFromContext(ctx), auth.UserIDFromContext(ctx), now.In(s.Loc).Format(dayLayout), now,
		punch.Latitude, punch.Longitude))
	if isUniqueViolation(err) {
		writeError(w, http.StatusConflict, "ALREADY_CHECKED_IN", "already checked in today")
		return
	}
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// checkOut closes the caller's most recent open working day, so a shift
// that runs past midnight can still be closed.
func (s *Server) checkOut(w http.ResponseWriter, r *http.Request) {
	punch, ok := decodePunch(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	now := s.now()
	orgID := auth.OrgIDFromContext(ctx)
	userID := auth.UserIDFromContext(ctx)
	db := dbFrom(ctx, s.DB)

	a, err := scanAttendance(db.QueryRowContext(ctx, `
		UPDATE attendance
		SET check_out_at = $1, check_out_lat = $2, check_out_lon = $3
		WHERE id = (
			SELECT id FROM attendance
			WHERE org_id = $4 AND user_id = $5 AND check_out_at IS NULL
			ORDER BY check_in_at DESC
			LIMIT 1)
		RETURNING `+attendanceColumns,
		now, punch.Latitude, punch.Longitude, orgID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		err = db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM attendance WHERE org_id = $1 AND user_id = $2 AND work_date = $3)`,
			orgID, userID, now.In(s.Loc).Format(dayLayout)).Scan(&exists)
		switch {
		case err != nil:
			s.dbError(w, r, err)
		case exists:
			writeError(w, http.StatusConflict, "ALREADY_CHECKED_OUT", "already checked out today")
		default:
			writeError(w, http.StatusConflict, "NOT_CHECKED_IN", "no open check-in")
		}
		return
	}
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// listAttendance lists working days in a from/to window, the last seven
// days by default.
func (s *Server) listAttendance(w http.ResponseWriter, r *http.Request) {
	params := parseListParams(r)
	ctx := r.Context()

	start, end, err := dateRange(r, s.Loc, s.now(), 7, 93)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DATE", err.Error())
		return
	}

	var wb whereBuilder
	wb.add("org_id = $%d", auth.OrgIDFromContext(ctx))
	requested, err := queryInt64(r, "user_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FILTER", err.Error())
		return
	}
	if uid := auth.ScopeUserID(ctx, requested); uid != 0 {
		wb.add("user_id = $%d", uid)
	}
	wb.add("work_date >= $%d::date", start.Format(dayLayout))
	wb.add("work_date < $%d::date", end.Format(dayLayout))

	db := dbFrom(ctx, s.DB)
	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM attendance"+wb.sql(), wb.args...).Scan(&total); err != nil {
		s.dbError(w, r, err)
		return
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM attendance%s ORDER BY work_date DESC, user_id LIMIT %d OFFSET %d",
		attendanceColumns, wb.sql(), params.limit, params.offset), wb.args...)
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	defer rows.Close()

	days := []models.Attendance{}
	for rows.Next() {
		a, err := scanAttendance(rows)
		if err != nil {
			s.dbError(w, r, err)
			return
		}
		days = append(days, a)
	}
	if err := rows.Err(); err != nil {
		s.dbError(w, r, err)
		return
	}

	sendListResponse(w, days, total, params)
}
