package models

import (
	"time"

	"github.com/shopspring/decimal"
)

var PaymentModes = []string{"cash", "cheque", "upi", "bank_transfer"}

// Receipt is a payment collected from a retailer.
type Receipt struct {
	ID              int64           `json:"id"`
	OrgID           int64           `json:"org_id"`
	ReceiptNo       string          `json:"receipt_no"`
	RetailerID      int64           `json:"retailer_id"`
	RetailerName    string          `json:"retailer_name,omitempty"`
	UserID          int64           `json:"user_id"`
	DeliveryOrderID *int64          `json:"delivery_order_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentMode     string          `json:"payment_mode"`
	Reference       *string         `json:"reference,omitempty"`
	ReceivedAt      time.Time       `json:"received_at"`
	CreatedAt       time.Time       `json:"created_at"`
}

type CreateReceiptRequest struct {
	RetailerID      int64           `json:"retailer_id"`
	DeliveryOrderID *int64          `json:"delivery_order_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentMode     string          `json:"payment_mode"`
	Reference       *string         `json:"reference,omitempty"`
	ReceivedAt      *time.Time      `json:"received_at,omitempty"`
}
