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
	"fieldsales-api/internal/reconcile"

	"go.uber.org/zap"
)

const deliveryColumns = `d.id, d.org_id, d.order_no, d.retailer_id, rt.name, d.assigned_to,
	d.delivery_status, d.payment_status, d.scheduled_for, d.delivered_at, d.created_at, d.updated_at`

const deliveryFrom = ` FROM delivery_orders d JOIN retailers rt ON rt.id = d.retailer_id`

// deliveryTransitions lists the statuses each delivery status may move to.
var deliveryTransitions = map[string][]string{
	models.DeliveryPending:    {models.DeliveryDispatched, models.DeliveryDelivered, models.DeliveryCancelled},
	models.DeliveryDispatched: {models.DeliveryDelivered, models.DeliveryCancelled},
}

func deliveryLocked(status string) bool {
	return status == models.DeliveryDelivered || status == models.DeliveryCancelled
}

func scanDelivery(row rowScanner) (models.DeliveryOrder, error) {
	var d models.DeliveryOrder
	var assigned sql.NullInt64
	var scheduled, delivered sql.NullTime
	err := row.Scan(&d.ID, &d.OrgID, &d.OrderNo, &d.RetailerID, &d.RetailerName, &assigned,
		&d.DeliveryStatus, &d.PaymentStatus, &scheduled, &delivered, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return d, err
	}
	if assigned.Valid {
		d.AssignedTo = &assigned.Int64
	}
	if scheduled.Valid {
		d.ScheduledFor = &scheduled.Time
	}
	if delivered.Valid {
		d.DeliveredAt = &delivered.Time
	}
	return d, nil
}

func (s *Server) listDeliveries(w http.ResponseWriter, r *http.Request) {
	params := parseListParams(r)
	ctx := r.Context()
	q := r.URL.Query()

	var wb whereBuilder
	wb.add("d.org_id = $%d", auth.OrgIDFromContext(ctx))

	if st := q.Get("status"); st != "" {
		if !contains(models.DeliveryStatuses, st) {
			writeError(w, http.StatusBadRequest, "INVALID_STATUS", "status must be one of "+strings.Join(models.DeliveryStatuses, ", "))
			return
		}
		wb.add("d.delivery_status = $%d", st)
	}
	if ps := q.Get("payment_status"); ps != "" {
		if !contains(models.PaymentStatuses, ps) {
			writeError(w, http.StatusBadRequest, "INVALID_STATUS", "payment_status must be one of "+strings.Join(models.PaymentStatuses, ", "))
			return
		}
		wb.add("d.payment_status = $%d", ps)
	}
	retailerID, err := queryInt64(r, "retailer_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FILTER", err.Error())
		return
	}
	if retailerID != 0 {
		wb.add("d.retailer_id = $%d", retailerID)
	}
	requested, err := queryInt64(r, "assigned_to")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FILTER", err.Error())
		return
	}
	if uid := auth.ScopeUserID(ctx, requested); uid != 0 {
		wb.add("d.assigned_to = $%d", uid)
	}
	if params.q != "" {
		wb.add("(d.order_no ILIKE $%d OR rt.name ILIKE $%d)", "%"+params.q+"%")
	}

	db := dbFrom(ctx, s.DB)
	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*)"+deliveryFrom+wb.sql(), wb.args...).Scan(&total); err != nil {
		s.dbError(w, r, err)
		return
	}

	orderBy := buildOrderBy(params.sort, map[string]string{
		"id": "d.id", "order_no": "d.order_no", "scheduled_for": "d.scheduled_for",
		"status": "d.delivery_status", "created_at": "d.created_at",
	})
	query := fmt.Sprintf("SELECT %s%s%s%s LIMIT %d OFFSET %d",
		deliveryColumns, deliveryFrom, wb.sql(), orderBy, params.limit, params.offset)

	rows, err := db.QueryContext(ctx, query, wb.args...)
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	defer rows.Close()

	deliveries := []models.DeliveryOrder{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			s.dbError(w, r, err)
			return
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		s.dbError(w, r, err)
		return
	}

	sendListResponse(w, deliveries, total, params)
}

// loadDelivery fetches a delivery visible to the caller, with its lines.
func (s *Server) loadDelivery(ctx context.Context, id int64) (models.DeliveryOrder, error) {
	db := dbFrom(ctx, s.DB)
	d, err := scanDelivery(db.QueryRowContext(ctx,
		"SELECT "+deliveryColumns+deliveryFrom+" WHERE d.id = $1 AND d.org_id = $2",
		id, auth.OrgIDFromContext(ctx)))
	if err != nil {
		return d, err
	}
	if !canTouchDelivery(ctx, d.AssignedTo) {
		return d, sql.ErrNoRows
	}

	rows, err := db.QueryContext(ctx, `
		SELECT l.product_id, p.name, l.quantity
		FROM delivery_order_lines l JOIN products p ON p.id = l.product_id
		WHERE l.delivery_order_id = $1
		ORDER BY p.name, l.product_id`, id)
	if err != nil {
		return d, err
	}
	defer rows.Close()

	d.Lines = []models.DeliveryLine{}
	for rows.Next() {
		var l models.DeliveryLine
		if err := rows.Scan(&l.ProductID, &l.ProductName, &l.Quantity); err != nil {
			return d, err
		}
		d.Lines = append(d.Lines, l)
	}
	return d, rows.Err()
}

// canTouchDelivery reports whether the caller may see a delivery. Reps
// only see deliveries assigned to them.
func canTouchDelivery(ctx context.Context, assignedTo *int64) bool {
	uid := auth.ScopeUserID(ctx, 0)
	if uid == 0 {
		return true
	}
	return assignedTo != nil && *assignedTo == uid
}

func (s *Server) getDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	d, err := s.loadDelivery(r.Context(), id)
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// validateCreateDelivery checks a delivery before it touches the database.
func validateCreateDelivery(req *models.CreateDeliveryRequest, loc *time.Location) (*time.Time, error) {
	if req.RetailerID <= 0 {
		return nil, errors.New("retailer_id is required")
	}
	if req.AssignedTo != nil && *req.AssignedTo <= 0 {
		return nil, errors.New("assigned_to must be a positive integer")
	}
	if len(req.Lines) == 0 {
		return nil, errors.New("at least one line is required")
	}
	seen := map[int64]bool{}
	for _, l := range req.Lines {
		if l.ProductID <= 0 || l.Quantity <= 0 {
			return nil, errors.New("each line needs a product_id and a positive quantity")
		}
		if seen[l.ProductID] {
			return nil, fmt.Errorf("product %d appears more than once", l.ProductID)
		}
		seen[l.ProductID] = true
	}
	if req.ScheduledFor == nil || *req.ScheduledFor == "" {
		return nil, nil
	}
	day, _, err := parseDay(*req.ScheduledFor, loc)
	if err != nil {
		return nil, err
	}
	return &day, nil
}

// createDelivery schedules a delivery with its initial product lines.
func (s *Server) createDelivery(w http.ResponseWriter, r *http.Request) {
	var req models.CreateDeliveryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	scheduled, err := validateCreateDelivery(&req, s.Loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	orderNo := strings.TrimSpace(req.OrderNo)
	if orderNo == "" {
		orderNo = newDocumentNo("DO", s.now().In(s.Loc))
	}

	ctx := r.Context()
	orgID := auth.OrgIDFromContext(ctx)

	tx, err := beginTx(ctx, s.DB)
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO delivery_orders (org_id, order_no, retailer_id, assigned_to, scheduled_for)
		SELECT $1, $2, rt.id, $4, $5 FROM retailers rt WHERE rt.id = $3 AND rt.org_id = $1
		RETURNING id`,
		orgID, orderNo, req.RetailerID, req.AssignedTo, scheduled).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusUnprocessableEntity, "UNKNOWN_RETAILER", "retailer not found")
		return
	}
	if err != nil {
		s.dbError(w, r, err)
		return
	}

	for _, l := range req.Lines {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO delivery_order_lines (delivery_order_id, product_id, quantity)
			SELECT $1, p.id, $3 FROM products p WHERE p.id = $2 AND p.org_id = $4`,
			id, l.ProductID, l.Quantity, orgID)
		if err != nil {
			s.dbError(w, r, err)
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			s.writeTxError(w, r, unknownProducts([]int64{l.ProductID}))
			return
		}
	}
	if err := tx.Commit(); err != nil {
		s.dbError(w, r, err)
		return
	}

	d, err := s.loadDelivery(ctx, id)
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// updateDeliveryStatus moves a delivery along its lifecycle and records
// the payment status.
func (s *Server) updateDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.UpdateDeliveryStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.DeliveryStatus == nil && req.PaymentStatus == nil {
		writeError(w, http.StatusBadRequest, "NO_FIELDS", "delivery_status or payment_status is required")
		return
	}
	if req.DeliveryStatus != nil && !contains(models.DeliveryStatuses, *req.DeliveryStatus) {
		writeError(w, http.StatusBadRequest, "INVALID_STATUS", "delivery_status must be one of "+strings.Join(models.DeliveryStatuses, ", "))
		return
	}
	if req.PaymentStatus != nil && !contains(models.PaymentStatuses, *req.PaymentStatus) {
		writeError(w, http.StatusBadRequest, "INVALID_STATUS", "payment_status must be one of "+strings.Join(models.PaymentStatuses, ", "))
		return
	}

	ctx := r.Context()
	tx, err := beginTx(ctx, s.DB)
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	defer tx.Rollback()

	current, err := lockDelivery(ctx, tx, id)
	if err != nil {
		s.writeTxError(w, r, err)
		return
	}

	if req.DeliveryStatus != nil && *req.DeliveryStatus != current {
		if !contains(deliveryTransitions[current], *req.DeliveryStatus) {
			writeError(w, http.StatusConflict, "INVALID_TRANSITION",
				fmt.Sprintf("cannot move delivery from %s to %s", current, *req.DeliveryStatus))
			return
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE delivery_orders
			SET delivery_status = $1,
			    delivered_at = CASE WHEN $1 = 'delivered' THEN now() ELSE delivered_at END,
			    updated_at = now()
			WHERE id = $2`, *req.DeliveryStatus, id); err != nil {
			s.dbError(w, r, err)
			return
		}
	}
	if req.PaymentStatus != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE delivery_orders SET payment_status = $1, updated_at = now() WHERE id = $2`,
			*req.PaymentStatus, id); err != nil {
			s.dbError(w, r, err)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		s.dbError(w, r, err)
		return
	}

	d, err := s.loadDelivery(ctx, id)
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	s.Logger.Info("delivery status updated",
		zap.Int64("delivery_id", id),
		zap.String("delivery_status", d.DeliveryStatus),
		zap.String("payment_status", d.PaymentStatus))
	writeJSON(w, http.StatusOK, d)
}

// lockDelivery row-locks a delivery the caller may edit and returns its status.
func lockDelivery(ctx context.Context, tx *sql.Tx, id int64) (string, error) {
	var status string
	var assigned sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT delivery_status, assigned_to FROM delivery_orders WHERE id = $1 AND org_id = $2 FOR UPDATE`,
		id, auth.OrgIDFromContext(ctx)).Scan(&status, &assigned)
	if err != nil {
		return "", err
	}
	var assignedTo *int64
	if assigned.Valid {
		assignedTo = &assigned.Int64
	}
	if !canTouchDelivery(ctx, assignedTo) {
		return "", sql.ErrNoRows
	}
	return status, nil
}

func lockOpenDelivery(id int64) func(ctx context.Context, tx *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		status, err := lockDelivery(ctx, tx, id)
		if err != nil {
			return err
		}
		if deliveryLocked(status) {
			return &apiError{http.StatusConflict, "DELIVERY_CLOSED", "delivery is " + status + " and can no longer be edited"}
		}
		return nil
	}
}

// updateDeliveryProducts writes only the delivery lines whose quantity
// differs from what is stored.
func (s *Server) updateDeliveryProducts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	s.applyLineItems(w, r, lineItemEdit{
		kind: "delivery",
		lock: lockOpenDelivery(id),
		load: func(ctx context.Context, tx *sql.Tx) ([]reconcile.LineItem, error) {
			return queryLineItems(ctx, tx,
				`SELECT product_id, quantity FROM delivery_order_lines WHERE delivery_order_id = $1 ORDER BY product_id`, id)
		},
		write: func(ctx context.Context, tx *sql.Tx, it reconcile.LineItem) error {
			_, err := tx.ExecContext(ctx,
				`UPDATE delivery_order_lines SET quantity = $1 WHERE delivery_order_id = $2 AND product_id = $3`,
				it.Quantity, id, it.ProductID)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `UPDATE delivery_orders SET updated_at = now() WHERE id = $1`, id)
			return err
		},
	})
}

// deleteDeliveryProduct removes one product line from an open delivery.
func (s *Server) deleteDeliveryProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}

	ctx := r.Context()
	tx, err := beginTx(ctx, s.DB)
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	defer tx.Rollback()

	if err := lockOpenDelivery(id)(ctx, tx); err != nil {
		s.writeTxError(w, r, err)
		return
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM delivery_order_lines WHERE delivery_order_id = $1 AND product_id = $2`, id, productID)
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "product is not on this delivery")
		return
	}
	if err := tx.Commit(); err != nil {
		s.dbError(w, r, err)
		return
	}
	s.Metrics.ObserveLineUpdates("delivery_delete", 1)
	w.WriteHeader(http.StatusNoContent)
}

func queryLineItems(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]reconcile.LineItem, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []reconcile.LineItem
	for rows.Next() {
		var it reconcile.LineItem
		if err := rows.Scan(&it.ProductID, &it.Quantity); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
