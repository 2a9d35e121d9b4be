package internal

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"fieldsales-api/internal/auth"
	"fieldsales-api/internal/models"
	"fieldsales-api/internal/reconcile"
)

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// requireRetailer fails with 404 unless the retailer belongs to the caller's org.
func requireRetailer(ctx context.Context, q rowQuerier, retailerID int64) error {
	return retailerRow(ctx, q, retailerID, "")
}

// lockRetailer is requireRetailer holding the retailer row until the
// transaction ends, so concurrent stock counts for one retailer serialize.
func lockRetailer(ctx context.Context, tx *sql.Tx, retailerID int64) error {
	return retailerRow(ctx, tx, retailerID, " FOR UPDATE")
}

func retailerRow(ctx context.Context, q rowQuerier, retailerID int64, suffix string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM retailers WHERE id = $1 AND org_id = $2`+suffix,
		retailerID, auth.OrgIDFromContext(ctx)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return &apiError{http.StatusNotFound, "NOT_FOUND", "retailer not found"}
	}
	return err
}

// retailerRef is requireRetailer for a retailer named in a request body.
func retailerRef(ctx context.Context, q rowQuerier, retailerID int64) error {
	err := requireRetailer(ctx, q, retailerID)
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return &apiError{http.StatusUnprocessableEntity, "UNKNOWN_RETAILER", apiErr.msg}
	}
	return err
}

// getClosingStock lists every active product with the retailer's last
// counted quantity. Products never counted show zero and no timestamp.
func (s *Server) getClosingStock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	db := dbFrom(ctx, s.DB)
	if err := requireRetailer(ctx, db, id); err != nil {
		s.writeTxError(w, r, err)
		return
	}

	rows, err := db.QueryContext(ctx, `
		SELECT p.id, p.name, p.sku, COALESCE(cs.quantity, 0), cs.updated_at
		FROM products p
		LEFT JOIN closing_stock cs ON cs.product_id = p.id AND cs.retailer_id = $1
		WHERE p.org_id = $2 AND (p.is_active OR cs.product_id IS NOT NULL)
		ORDER BY p.name, p.id`, id, auth.OrgIDFromContext(ctx))
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	defer rows.Close()

	stock := []models.ClosingStockRow{}
	for rows.Next() {
		var row models.ClosingStockRow
		var updatedAt sql.NullTime
		if err := rows.Scan(&row.ProductID, &row.ProductName, &row.SKU, &row.Quantity, &updatedAt); err != nil {
			s.dbError(w, r, err)
			return
		}
		if updatedAt.Valid {
			row.UpdatedAt = &updatedAt.Time
		}
		stock = append(stock, row)
	}
	if err := rows.Err(); err != nil {
		s.dbError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stock)
}

// updateClosingStock diffs the submitted counts against the same snapshot
// getClosingStock returns and upserts only the changed rows.
func (s *Server) updateClosingStock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	s.applyLineItems(w, r, lineItemEdit{
		kind: "closing_stock",
		lock: func(ctx context.Context, tx *sql.Tx) error {
			return lockRetailer(ctx, tx, id)
		},
		load: func(ctx context.Context, tx *sql.Tx) ([]reconcile.LineItem, error) {
			return queryLineItems(ctx, tx, `
				SELECT p.id, COALESCE(cs.quantity, 0)
				FROM products p
				LEFT JOIN closing_stock cs ON cs.product_id = p.id AND cs.retailer_id = $1
				WHERE p.org_id = $2 AND (p.is_active OR cs.product_id IS NOT NULL)
				FOR UPDATE OF p`, id, auth.OrgIDFromContext(ctx))
		},
		write: func(ctx context.Context, tx *sql.Tx, it reconcile.LineItem) error {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO closing_stock (org_id, retailer_id, product_id, quantity, updated_by)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (retailer_id, product_id)
				DO UPDATE SET quantity = EXCLUDED.quantity, updated_by = EXCLUDED.updated_by, updated_at = now()`,
				auth.OrgIDFromContext(ctx), id, it.ProductID, it.Quantity, auth.UserIDFromContext(ctx))
			return err
		},
	})
}

// deleteClosingStockRow forgets a retailer's count for one product.
func (s *Server) deleteClosingStockRow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}
	ctx := r.Context()
	res, err := dbFrom(ctx, s.DB).ExecContext(ctx,
		`DELETE FROM closing_stock WHERE retailer_id = $1 AND product_id = $2 AND org_id = $3`,
		id, productID, auth.OrgIDFromContext(ctx))
	if err != nil {
		s.dbError(w, r, err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no closing stock recorded for this product")
		return
	}
	s.Metrics.ObserveLineUpdates("closing_stock_delete", 1)
	w.WriteHeader(http.StatusNoContent)
}
