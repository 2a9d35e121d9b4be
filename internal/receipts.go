package internal

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fieldsales-api/internal/auth"
	"fieldsales-api/internal/models"

	"go.uber.org/zap"
)

const receiptColumns = `rc.id, rc.org_id, rc.receipt_no, rc.retailer_id, rt.name, rc.user_id,
	rc.delivery_order_id, rc.amount, rc.payment_mode, rc.reference, rc.received_at, rc.created_at`

const receiptFrom = ` FROM receipts rc JOIN retailers rt ON rt.id = rc.retailer_id`

func scanReceipt(row rowScanner) (models.Receipt, error) {
	var rc models.Receipt
	var deliveryID sql.NullInt64
	var reference sql.NullString
	err := row.Scan(&rc.ID, &rc.OrgID, &rc.ReceiptNo, &rc.RetailerID, &rc.RetailerName, &rc.UserID,
		&deliveryID, &rc.Amount, &rc.PaymentMode, &reference, &rc.ReceivedAt, &rc.CreatedAt)
	if deliveryID.Valid {
		rc.DeliveryOrderID = &deliveryID.Int64
	}
	rc.Reference = stringPtr(reference)
	return rc, err
}

func validateCreateReceipt(req *models.CreateReceiptRequest, now time.Time) error {
	if req.RetailerID <= 0 {
		return errors.New("retailer_id is required")
	}
	if !req.Amount.IsPositive() {
		return errors.New("amount must be greater than zero")
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return errors.New("amount must have at most two decimal places")
	}
	if !contains(models.PaymentModes, req.PaymentMode) {
		return fmt.Errorf("payment_mode must be one of %s", strings.Join(models.PaymentModes, ", "))
	}
	if req.PaymentMode == "cheque" && (req.Reference == nil || strings.TrimSpace(*req.Reference) == "") {
		return errors.New("reference is required for cheque payments")
	}
	if req.DeliveryOrderID != nil && *req.DeliveryOrderID <= 0 {
		return errors.New("delivery_order_id must be a positive integer")
	}
	if req.ReceivedAt != nil && req.ReceivedAt.After(now.Add(maxClockSkew)) {
		return errors.New("received_at is in the future")
	}
	return nil
}

// createReceipt records a payment collected from a retailer, optionally
// against one of its deliveries.
func (s *Server) createReceipt(w http.ResponseWriter, r *http.Request) {
	var req models.CreateReceiptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	now := s.now()
	if err := validateCreateReceipt(&req, now); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	ctx := r.Context()
	orgID := auth.OrgIDFromContext(ctx)
	db := dbFrom(ctx, s.DB)

	if err := retailerRef(ctx, db, req.RetailerID); err != nil {
		s.writeTxError(w, r, err)
		return
	}
	if req.DeliveryOrderID != nil {
		var retailerID int64
		err := db.QueryRowContext(ctx, `SELECT retailer_id FROM delivery_orders WHERE id = $1 AND org_id = $2`,
			*req.DeliveryOrderID, orgID).Scan(&retailerID)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && retailerID != req.RetailerID) {
			writeError(w, http.StatusUnprocessableEntity, "INVALID_REFERENCE", "delivery does not belong to this retailer")
			return
		}
		if err != nil {
			s.dbError(w, r, err)
			return
		}
	}

	receivedAt := now
	if req.ReceivedAt != nil {
		receivedAt = *req.ReceivedAt
	}

	rc, err := scanReceipt(db.QueryRowContext(ctx, `
		WITH rc AS (
			INSERT INTO receipts (org_id, receipt_no, retailer_id, user_id, delivery_order_id,
			                      amount, payment_mode, reference, received_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING *
		)
		SELECT `+receiptColumns+` FROM rc JOIN retailers rt ON rt.id = rc.retailer_id`,
		orgID, newDocumentNo("RC", now.In(s.Loc)), req.RetailerID, auth.UserIDFromContext(ctx),
		req.DeliveryOrderID, req.Amount.Round(2), req.PaymentMode, nullIfEmpty(req.Reference), receivedAt))
	if err != nil {
		s.dbError(w, r, err)
		return
	}

	s.Logger.Info("receipt recorded",
		zap.String("receipt_no", rc.ReceiptNo),
		zap.Int64("retailer_id", rc.RetailerID),
		zap.String("amount", rc.Amount.StringFixed(2)),
		zap.String("payment_mode", rc.PaymentMode))
	writeJSON(w, http.StatusCreated, rc)
}

func (s *Server) listReceipts(w http.ResponseWriter, r *http.Request) {
	params := parseListParams(r)
	ctx := r.Context()
	q := r.URL.Query()

	var wb whereBuilder
	wb.add("rc.org_id = $%d", auth.OrgIDFromContext(ctx))
	requested, err := queryInt64(r, "user_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FILTER", err.Error())
		return
	}
	if uid := auth.ScopeUserID(ctx, requested); uid != 0 {
		wb.add("rc.user_id = $%d", uid)
	}
	retailerID, err := queryInt64(r, "retailer_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FILTER", err.Error())
		return
	}
	if retailerID != 0 {
		wb.add("rc.retailer_id = $%d", retailerID)
	}
	if mode := q.Get("payment_mode"); mode != "" {
		if !contains(models.PaymentModes, mode) {
			writeError(w, http.StatusBadRequest, "INVALID_FILTER", "payment_mode must be one of "+strings.Join(models.PaymentModes, ", "))
			return
		}
		wb.add("rc.payment_mode = $%d", mode)
	}
	if q.Get("date") != "" || q.Get("from") != "" || q.Get("to") != "" {
		start, end, err := dateRange(r, s.Loc, s.now(), 1, 366)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_DATE", err.Error())
			return
		}
		wb.add("rc.received_at >= $%d", start)
		wb.add("rc.received_at < $%d", end)
	}
	if params.q != "" {
		wb.add("(rc.receipt_no ILIKE $%d OR rc.reference ILIKE $%d OR rt.name ILIKE $%d)", "%"+params.q+"%")
	}

	db := dbFrom(ctx, s.DB)
	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*)"+receiptFrom+wb.sql(), wb.args...).Scan(&total); err != nil {
		s.dbError(w, r, err)
		return
	}

	orderBy := " ORDER BY rc.received_at DESC, rc.id DESC"
	if params.sort != "" {
		orderBy = buildOrderBy(params.sort, map[string]string{
			"id": "rc.id", "amount": "rc.amount", "received_at": "rc.received_at",
		})
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT %s%s%s%s LIMIT %d OFFSET %d",
		receiptColumns, receiptFrom, wb.sql(), orderBy, params.limit, params.offset), wb.args...)
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	defer rows.Close()

	receipts := []models.Receipt{}
	for rows.Next() {
		rc, err := scanReceipt(rows)
		if err != nil {
			s.dbError(w, r, err)
			return
		}
		receipts = append(receipts, rc)
	}
	if err := rows.Err(); err != nil {
		s.dbError(w, r, err)
		return
	}

	sendListResponse(w, receipts, total, params)
}

func (s *Server) getReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	rc, err := scanReceipt(dbFrom(ctx, s.DB).QueryRowContext(ctx,
		"SELECT "+receiptColumns+receiptFrom+" WHERE rc.id = $1 AND rc.org_id = $2",
		id, auth.OrgIDFromContext(ctx)))
	if err == nil && auth.ScopeUserID(ctx, rc.UserID) != rc.UserID {
		err = sql.ErrNoRows
	}
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rc)
}
