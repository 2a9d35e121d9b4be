package models

import (
	"time"

	"fieldsales-api/internal/reconcile"
)

// ClosingStockRow is a retailer's on-hand quantity of one product. UpdatedAt
// is nil for products that were never counted.
type ClosingStockRow struct {
	ProductID   int64      `json:"product_id"`
	ProductName string     `json:"product_name"`
	SKU         string     `json:"sku"`
	Quantity    int        `json:"quantity"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// LineItemsUpdate is the body of the diff-based update endpoints.
type LineItemsUpdate struct {
	Items []reconcile.LineItem `json:"items"`
}

// LineItemsResult reports what a diff-based update actually wrote.
type LineItemsResult struct {
	Updated int                    `json:"updated"`
	Changes []reconcile.ChangeView `json:"changes"`
}
