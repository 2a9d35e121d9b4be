package models

import (
	"time"

	"fieldsales-api/internal/reconcile"

	"github.com/shopspring/decimal"
)

const (
	OrderPlaced    = "placed"
	OrderConfirmed = "confirmed"
	OrderCancelled = "cancelled"
)

var OrderStatuses = []string{OrderPlaced, OrderConfirmed, OrderCancelled}

type SalesOrder struct {
	ID           int64            `json:"id"`
	OrgID        int64            `json:"org_id"`
	OrderNo      string           `json:"order_no"`
	RetailerID   int64            `json:"retailer_id"`
	RetailerName string           `json:"retailer_name,omitempty"`
	UserID       int64            `json:"user_id"`
	Status       string           `json:"status"`
	TotalAmount  decimal.Decimal  `json:"total_amount"`
	Notes        *string          `json:"notes,omitempty"`
	Lines        []SalesOrderLine `json:"lines,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

type SalesOrderLine struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type CreateSalesOrderRequest struct {
	RetailerID int64                `json:"retailer_id"`
	Notes      *string              `json:"notes,omitempty"`
	Lines      []reconcile.LineItem `json:"lines"`
}

type UpdateOrderStatusRequest struct {
	Status string `json:"status"`
}
