package models

import (
	"time"

	"fieldsales-api/internal/reconcile"
)

const (
	DeliveryPending    = "pending"
	DeliveryDispatched = "dispatched"
	DeliveryDelivered  = "delivered"
	DeliveryCancelled  = "cancelled"

	PaymentUnpaid  = "unpaid"
	PaymentPartial = "partial"
	PaymentPaid    = "paid"
)

var DeliveryStatuses = []string{DeliveryPending, DeliveryDispatched, DeliveryDelivered, DeliveryCancelled}

var PaymentStatuses = []string{PaymentUnpaid, PaymentPartial, PaymentPaid}

// DeliveryOrder is goods dispatched to a retailer.
type DeliveryOrder struct {
	ID             int64          `json:"id"`
	OrgID          int64          `json:"org_id"`
	OrderNo        string         `json:"order_no"`
	RetailerID     int64          `json:"retailer_id"`
	RetailerName   string         `json:"retailer_name,omitempty"`
	AssignedTo     *int64         `json:"assigned_to,omitempty"`
	DeliveryStatus string         `json:"delivery_status"`
	PaymentStatus  string         `json:"payment_status"`
	ScheduledFor   *time.Time     `json:"scheduled_for,omitempty"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	Lines          []DeliveryLine `json:"lines,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type DeliveryLine struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
}

type UpdateDeliveryStatusRequest struct {
	DeliveryStatus *string `json:"delivery_status,omitempty"`
	PaymentStatus  *string `json:"payment_status,omitempty"`
}

// CreateDeliveryRequest schedules a delivery. OrderNo is generated when empty.
type CreateDeliveryRequest struct {
	OrderNo      string               `json:"order_no,omitempty"`
	RetailerID   int64                `json:"retailer_id"`
	AssignedTo   *int64               `json:"assigned_to,omitempty"`
	ScheduledFor *string              `json:"scheduled_for,omitempty"`
	Lines        []reconcile.LineItem `json:"lines"`
}
