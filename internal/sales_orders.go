package internal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fieldsales-api/internal/auth"
	"fieldsales-api/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// newDocumentNo returns a human-readable, collision-resistant document
// number such as SO-20240131-9F2C41AB.
func newDocumentNo(prefix string, now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return fmt.Sprintf("%s-%s-%s", prefix, now.Format("20060102"), suffix)
}

var orderTransitions = map[string][]string{
	models.OrderPlaced:    {models.OrderConfirmed, models.OrderCancelled},
	models.OrderConfirmed: {models.OrderCancelled},
}

const salesOrderColumns = `o.id, o.org_id, o.order_no, o.retailer_id, rt.name, o.user_id, o.status,
	o.total_amount, o.notes, o.created_at, o.updated_at`

const salesOrderFrom = ` FROM sales_orders o JOIN retailers rt ON rt.id = o.retailer_id`

func scanSalesOrder(row rowScanner) (models.SalesOrder, error) {
	var o models.SalesOrder
	var notes sql.NullString
	err := row.Scan(&o.ID, &o.OrgID, &o.OrderNo, &o.RetailerID, &o.RetailerName, &o.UserID, &o.Status,
		&o.TotalAmount, &notes, &o.CreatedAt, &o.UpdatedAt)
	o.Notes = stringPtr(notes)
	return o, err
}

func validateCreateSalesOrder(req *models.CreateSalesOrderRequest) error {
	if req.RetailerID <= 0 {
		return errors.New("retailer_id is required")
	}
	if len(req.Lines) == 0 {
		return errors.New("at least one line is required")
	}
	seen := map[int64]bool{}
	for _, l := range req.Lines {
		if l.ProductID <= 0 || l.Quantity <= 0 {
			return errors.New("each line needs a product_id and a positive quantity")
		}
		if seen[l.ProductID] {
			return fmt.Errorf("product %d appears more than once", l.ProductID)
		}
		seen[l.ProductID] = true
	}
	return nil
}

// orderTotal sums quantity times unit price over lines and fills LineTotal.
func orderTotal(lines []models.SalesOrderLine) decimal.Decimal {
	total := decimal.Zero
	for i := range lines {
		lines[i].LineTotal = lines[i].UnitPrice.Mul(decimal.NewFromInt(int64(lines[i].Quantity)))
		total = total.Add(lines[i].LineTotal)
	}
	return total
}

// createSalesOrder prices each line from the product catalog at the time
// of ordering; client-supplied prices are not accepted.
func (s *Server) createSalesOrder(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSalesOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validateCreateSalesOrder(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	ctx := r.Context()
	orgID := auth.OrgIDFromContext(ctx)

	tx, err := beginTx(ctx, s.DB)
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	defer tx.Rollback()

	if err := retailerRef(ctx, tx, req.RetailerID); err != nil {
		s.writeTxError(w, r, err)
		return
	}

	lines := make([]models.SalesOrderLine, 0, len(req.Lines))
	var unknown []int64
	for _, l := range req.Lines {
		line := models.SalesOrderLine{ProductID: l.ProductID, Quantity: l.Quantity}
		err := tx.QueryRowContext(ctx,
			`SELECT name, unit_price FROM products WHERE id = $1 AND org_id = $2 AND is_active`,
			l.ProductID, orgID).Scan(&line.ProductName, &line.UnitPrice)
		if errors.Is(err, sql.ErrNoRows) {
			unknown = append(unknown, l.ProductID)
			continue
		}
		if err != nil {
			s.dbError(w, r, err)
			return
		}
		lines = append(lines, line)
	}
	if len(unknown) > 0 {
		s.writeTxError(w, r, unknownProducts(unknown))
		return
	}
	total := orderTotal(lines)

	order, err := scanSalesOrder(tx.QueryRowContext(ctx, `
		WITH o AS (
			INSERT INTO sales_orders (org_id, order_no, retailer_id, user_id, total_amount, notes)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING *
		)
		SELECT `+salesOrderColumns+` FROM o JOIN retailers rt ON rt.id = o.retailer_id`,
		orgID, newDocumentNo("SO", s.now().In(s.Loc)), req.RetailerID, auth.UserIDFromContext(ctx),
		total, nullIfEmpty(req.Notes)))
	if err != nil {
		s.dbError(w, r, err)
		return
	}

	for _, l := range lines {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sales_order_lines (sales_order_id, product_id, quantity, unit_price) VALUES ($1, $2, $3, $4)`,
			order.ID, l.ProductID, l.Quantity, l.UnitPrice); err != nil {
			s.dbError(w, r, err)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		s.dbError(w, r, err)
		return
	}

	order.Lines = lines
	s.Logger.Info("sales order placed",
		zap.Int64("order_id", order.ID),
		zap.String("order_no", order.OrderNo),
		zap.String("total", total.StringFixed(2)))
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) listSalesOrders(w http.ResponseWriter, r *http.Request) {
	params := parseListParams(r)
	ctx := r.Context()
	q := r.URL.Query()

	var wb whereBuilder
	wb.add("o.org_id = $%d", auth.OrgIDFromContext(ctx))
	requested, err := queryInt64(r, "user_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FILTER", err.Error())
		return
	}
	if uid := auth.ScopeUserID(ctx, requested); uid != 0 {
		wb.add("o.user_id = $%d", uid)
	}
	retailerID, err := queryInt64(r, "retailer_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FILTER", err.Error())
		return
	}
	if retailerID != 0 {
		wb.add("o.retailer_id = $%d", retailerID)
	}
	if st := q.Get("status"); st != "" {
		if !contains(models.OrderStatuses, st) {
			writeError(w, http.StatusBadRequest, "INVALID_STATUS", "status must be one of "+strings.Join(models.OrderStatuses, ", "))
			return
		}
		wb.add("o.status = $%d", st)
	}
	if q.Get("date") != "" || q.Get("from") != "" || q.Get("to") != "" {
		start, end, err := dateRange(r, s.Loc, s.now(), 1, 366)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_DATE", err.Error())
			return
		}
		wb.add("o.created_at >= $%d", start)
		wb.add("o.created_at < $%d", end)
	}
	if params.q != "" {
		wb.add("(o.order_no ILIKE $%d OR rt.name ILIKE $%d)", "%"+params.q+"%")
	}

	db := dbFrom(ctx, s.DB)
	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*)"+salesOrderFrom+wb.sql(), wb.args...).Scan(&total); err != nil {
		s.dbError(w, r, err)
		return
	}

	orderBy := " ORDER BY o.created_at DESC, o.id DESC"
	if params.sort != "" {
		orderBy = buildOrderBy(params.sort, map[string]string{
			"id": "o.id", "order_no": "o.order_no", "total_amount": "o.total_amount", "created_at": "o.created_at",
		})
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT %s%s%s%s LIMIT %d OFFSET %d",
		salesOrderColumns, salesOrderFrom, wb.sql(), orderBy, params.limit, params.offset), wb.args...)
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	defer rows.Close()

	orders := []models.SalesOrder{}
	for rows.Next() {
		o, err := scanSalesOrder(rows)
		if err != nil {
			s.dbError(w, r, err)
			return
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		s.dbError(w, r, err)
		return
	}

	sendListResponse(w, orders, total, params)
}

func (s *Server) loadSalesOrder(ctx context.Context, id int64) (models.SalesOrder, error) {
	db := dbFrom(ctx, s.DB)
	o, err := scanSalesOrder(db.QueryRowContext(ctx,
		"SELECT "+salesOrderColumns+salesOrderFrom+" WHERE o.id = $1 AND o.org_id = $2",
		id, auth.OrgIDFromContext(ctx)))
	if err != nil {
		return o, err
	}
	if auth.ScopeUserID(ctx, o.UserID) != o.UserID {
		return o, sql.ErrNoRows
	}

	rows, err := db.QueryContext(ctx, `
		SELECT l.product_id, p.name, l.quantity, l.unit_price
		FROM sales_order_lines l JOIN products p ON p.id = l.product_id
		WHERE l.sales_order_id = $1
		ORDER BY p.name, l.product_id`, id)
	if err != nil {
		return o, err
	}
	defer rows.Close()

	for rows.Next() {
		var l models.SalesOrderLine
		if err := rows.Scan(&l.ProductID, &l.ProductName, &l.Quantity, &l.UnitPrice); err != nil {
			return o, err
		}
		o.Lines = append(o.Lines, l)
	}
	orderTotal(o.Lines)
	return o, rows.Err()
}

func (s *Server) getSalesOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	o, err := s.loadSalesOrder(r.Context(), id)
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// updateSalesOrderStatus confirms or cancels an order. Only supervisors and
// admins confirm; a rep may cancel an order they placed while it is still
// unconfirmed.
func (s *Server) updateSalesOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.UpdateOrderStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !contains(models.OrderStatuses, req.Status) {
		writeError(w, http.StatusBadRequest, "INVALID_STATUS", "status must be one of "+strings.Join(models.OrderStatuses, ", "))
		return
	}

	ctx := r.Context()
	claims := auth.ClaimsFromContext(ctx)
	if req.Status == models.OrderConfirmed && (claims == nil || !claims.CanSeeOrg()) {
		writeError(w, http.StatusForbidden, "INSUFFICIENT_PERMISSIONS", "only supervisors and admins confirm orders")
		return
	}

	tx, err := beginTx(ctx, s.DB)
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	defer tx.Rollback()

	var current string
	var ownerID int64
	err = tx.QueryRowContext(ctx,
		`SELECT status, user_id FROM sales_orders WHERE id = $1 AND org_id = $2 FOR UPDATE`,
		id, auth.OrgIDFromContext(ctx)).Scan(&current, &ownerID)
	if err == nil && auth.ScopeUserID(ctx, ownerID) != ownerID {
		err = sql.ErrNoRows
	}
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	if current == req.Status {
		tx.Rollback()
		s.getSalesOrder(w, r)
		return
	}
	if !contains(orderTransitions[current], req.Status) {
		writeError(w, http.StatusConflict, "INVALID_TRANSITION",
			fmt.Sprintf("cannot move order from %s to %s", current, req.Status))
		return
	}
	if !claims.CanSeeOrg() && current != models.OrderPlaced {
		writeError(w, http.StatusForbidden, "INSUFFICIENT_PERMISSIONS", "confirmed orders can only be cancelled by a supervisor")
		return
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sales_orders SET status = $1, updated_at = now() WHERE id = $2`, req.Status, id); err != nil {
		s.dbError(w, r, err)
		return
	}
	if err := tx.Commit(); err != nil {
		s.dbError(w, r, err)
		return
	}
	s.getSalesOrder(w, r)
}
