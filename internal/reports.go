package internal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"fieldsales-api/internal/auth"
	"fieldsales-api/internal/models"

	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx/v3"
	"go.uber.org/zap"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// dashboard aggregates one day of activity. The counters are independent
// queries and run concurrently unless the request holds a pinned connection.
func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	day := r.URL.Query().Get("date")
	if day == "" {
		day = s.now().In(s.Loc).Format(dayLayout)
	}
	start, end, err := parseDay(day, s.Loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DATE", err.Error())
		return
	}

	ctx := r.Context()
	orgID := auth.OrgIDFromContext(ctx)
	db := dbFrom(ctx, s.DB)
	day = start.Format(dayLayout)

	d := models.Dashboard{Date: day}
	g, gctx := newQueryGroup(ctx)
	count := func(dst *int, query string, args ...any) {
		g.Go(func() error {
			return db.QueryRowContext(gctx, query, args...).Scan(dst)
		})
	}

	count(&d.Retailers, `SELECT COUNT(*) FROM retailers WHERE org_id = $1`, orgID)
	count(&d.VisitsToday,
		`SELECT COUNT(*) FROM visit_logs WHERE org_id = $1 AND visited_at >= $2 AND visited_at < $3`,
		orgID, start, end)
	count(&d.RepsCheckedIn,
		`SELECT COUNT(*) FROM attendance WHERE org_id = $1 AND work_date = $2::date`, orgID, day)
	count(&d.PendingDeliveries,
		`SELECT COUNT(*) FROM delivery_orders WHERE org_id = $1 AND delivery_status IN ('pending', 'dispatched')`, orgID)
	count(&d.UnpaidDeliveries,
		`SELECT COUNT(*) FROM delivery_orders
		 WHERE org_id = $1 AND payment_status <> 'paid' AND delivery_status = 'delivered'`, orgID)
	g.Go(func() error {
		return db.QueryRowContext(gctx, `
			SELECT COUNT(*), COALESCE(SUM(total_amount), 0) FROM sales_orders
			WHERE org_id = $1 AND status <> 'cancelled' AND created_at >= $2 AND created_at < $3`,
			orgID, start, end).Scan(&d.OrdersToday, &d.OrderValueToday)
	})
	g.Go(func() error {
		return db.QueryRowContext(gctx, `
			SELECT COALESCE(SUM(amount), 0) FROM receipts
			WHERE org_id = $1 AND received_at >= $2 AND received_at < $3`,
			orgID, start, end).Scan(&d.CollectionsToday)
	})

	if err := g.Wait(); err != nil {
		s.dbError(w, r, fmt.Errorf("dashboard: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// salesReportFor computes daily totals over [start, end). Days without
// activity are included with zero totals.
func (s *Server) salesReportFor(ctx context.Context, userID int64, start, end time.Time) (models.SalesReport, error) {
	report := models.SalesReport{
		From:        start.Format(dayLayout),
		To:          end.AddDate(0, 0, -1).Format(dayLayout),
		Days:        []models.DailySales{},
		OrderTotal:  decimal.Zero,
		Collections: decimal.Zero,
	}

	rows, err := dbFrom(ctx, s.DB).QueryContext(ctx, `
		WITH days AS (
			SELECT d::date AS day
			FROM generate_series($2::date, $3::date - 1, interval '1 day') d
		), o AS (
			SELECT (created_at AT TIME ZONE $6)::date AS day, COUNT(*) AS n, SUM(total_amount) AS amount
			FROM sales_orders
			WHERE org_id = $1 AND status <> 'cancelled' AND created_at >= $4 AND created_at < $5
			  AND ($7 = 0 OR user_id = $7)
			GROUP BY 1
		), rc AS (
			SELECT (received_at AT TIME ZONE $6)::date AS day, COUNT(*) AS n, SUM(amount) AS amount
			FROM receipts
			WHERE org_id = $1 AND received_at >= $4 AND received_at < $5
			  AND ($7 = 0 OR user_id = $7)
			GROUP BY 1
		)
		SELECT days.day, COALESCE(o.n, 0), COALESCE(o.amount, 0), COALESCE(rc.n, 0), COALESCE(rc.amount, 0)
		FROM days
		LEFT JOIN o USING (day)
		LEFT JOIN rc USING (day)
		ORDER BY days.day`,
		auth.OrgIDFromContext(ctx), start.Format(dayLayout), end.Format(dayLayout),
		start, end, s.Loc.String(), userID)
	if err != nil {
		return report, err
	}
	defer rows.Close()

	for rows.Next() {
		var ds models.DailySales
		var day time.Time
		if err := rows.Scan(&day, &ds.Orders, &ds.OrderTotal, &ds.Receipts, &ds.Collections); err != nil {
			return report, err
		}
		ds.Day = day.Format(dayLayout)
		report.Days = append(report.Days, ds)
		report.Orders += ds.Orders
		report.OrderTotal = report.OrderTotal.Add(ds.OrderTotal)
		report.Receipts += ds.Receipts
		report.Collections = report.Collections.Add(ds.Collections)
	}
	return report, rows.Err()
}

// visitReportFor counts visits per active sales rep over [start, end),
// split by the geofence snapshot stored on each visit.
func (s *Server) visitReportFor(ctx context.Context, start, end time.Time) (models.VisitReport, error) {
	report := models.VisitReport{
		From: start.Format(dayLayout),
		To:   end.AddDate(0, 0, -1).Format(dayLayout),
		Reps: []models.RepVisits{},
	}

	rows, err := dbFrom(ctx, s.DB).QueryContext(ctx, `
		SELECT u.id, u.full_name,
		       COUNT(v.id),
		       COUNT(DISTINCT v.retailer_id),
		       COUNT(v.id) FILTER (WHERE v.within_range),
		       COUNT(v.id) FILTER (WHERE NOT v.within_range),
		       COUNT(v.id) FILTER (WHERE v.within_range IS NULL)
		FROM users u
		LEFT JOIN visit_logs v ON v.user_id = u.id AND v.visited_at >= $2 AND v.visited_at < $3
		WHERE u.org_id = $1 AND u.is_active AND $4 = ANY(u.roles)
		GROUP BY u.id, u.full_name
		ORDER BY u.full_name, u.id`,
		auth.OrgIDFromContext(ctx), start, end, auth.RoleSalesRep)
	if err != nil {
		return report, err
	}
	defer rows.Close()

	for rows.Next() {
		var rv models.RepVisits
		if err := rows.Scan(&rv.UserID, &rv.RepName, &rv.Visits, &rv.Retailers,
			&rv.Within, &rv.Outside, &rv.Unknown); err != nil {
			return report, err
		}
		report.Reps = append(report.Reps, rv)
	}
	return report, rows.Err()
}

func (s *Server) salesReport(w http.ResponseWriter, r *http.Request) {
	start, end, err := dateRange(r, s.Loc, s.now(), 7, 93)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DATE", err.Error())
		return
	}
	userID, err := queryInt64(r, "user_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FILTER", err.Error())
		return
	}
	report, err := s.salesReportFor(r.Context(), userID, start, end)
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) visitReport(w http.ResponseWriter, r *http.Request) {
	start, end, err := dateRange(r, s.Loc, s.now(), 7, 93)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DATE", err.Error())
		return
	}
	report, err := s.visitReportFor(r.Context(), start, end)
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// salesReportXLSX exports the sales and visit reports as a workbook.
func (s *Server) salesReportXLSX(w http.ResponseWriter, r *http.Request) {
	start, end, err := dateRange(r, s.Loc, s.now(), 7, 93)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DATE", err.Error())
		return
	}
	userID, err := queryInt64(r, "user_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FILTER", err.Error())
		return
	}

	ctx := r.Context()
	var sales models.SalesReport
	var visits models.VisitReport
	g, gctx := newQueryGroup(ctx)
	g.Go(func() (err error) {
		sales, err = s.salesReportFor(gctx, userID, start, end)
		return err
	})
	g.Go(func() (err error) {
		visits, err = s.visitReportFor(gctx, start, end)
		return err
	})
	if err := g.Wait(); err != nil {
		s.dbError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="sales_%s_%s.xlsx"`, sales.From, sales.To))
	if err := writeSalesWorkbook(w, sales, visits); err != nil {
		// Headers are already out; all that is left is to log
		s.Logger.Error("write sales workbook", zap.Error(err))
	}
}

// writeSalesWorkbook renders a Sales sheet with one row per day plus a
// totals row, and a Visits sheet with one row per rep.
func writeSalesWorkbook(out io.Writer, sales models.SalesReport, visits models.VisitReport) error {
	file := xlsx.NewFile()

	sheet, err := file.AddSheet("Sales")
	if err != nil {
		return fmt.Errorf("add sales sheet: %w", err)
	}
	addHeader(sheet, "Day", "Orders", "Order total", "Receipts", "Collections")
	for _, d := range sales.Days {
		row := sheet.AddRow()
		row.AddCell().SetString(d.Day)
		row.AddCell().SetInt(d.Orders)
		row.AddCell().SetFloat(d.OrderTotal.InexactFloat64())
		row.AddCell().SetInt(d.Receipts)
		row.AddCell().SetFloat(d.Collections.InexactFloat64())
	}
	total := sheet.AddRow()
	total.AddCell().SetString("Total")
	total.AddCell().SetInt(sales.Orders)
	total.AddCell().SetFloat(sales.OrderTotal.InexactFloat64())
	total.AddCell().SetInt(sales.Receipts)
	total.AddCell().SetFloat(sales.Collections.InexactFloat64())

	sheet, err = file.AddSheet("Visits")
	if err != nil {
		return fmt.Errorf("add visits sheet: %w", err)
	}
	addHeader(sheet, "Rep", "Visits", "Retailers", "Within", "Outside", "Unknown")
	for _, rv := range visits.Reps {
		row := sheet.AddRow()
		row.AddCell().SetString(rv.RepName)
		row.AddCell().SetInt(rv.Visits)
		row.AddCell().SetInt(rv.Retailers)
		row.AddCell().SetInt(rv.Within)
		row.AddCell().SetInt(rv.Outside)
		row.AddCell().SetInt(rv.Unknown)
	}

	return file.Write(out)
}

func addHeader(sheet *xlsx.Sheet, names ...string) {
	row := sheet.AddRow()
	for _, n := range names {
		row.AddCell().SetString(n)
	}
}
