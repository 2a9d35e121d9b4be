package models

import "github.com/shopspring/decimal"

type DailySales struct {
	Day         string          `json:"day"`
	Orders      int             `json:"orders"`
	OrderTotal  decimal.Decimal `json:"order_total"`
	Receipts    int             `json:"receipts"`
	Collections decimal.Decimal `json:"collections"`
}

type RepVisits struct {
	UserID    int64  `json:"user_id"`
	RepName   string `json:"rep_name"`
	Visits    int    `json:"visits"`
	Retailers int    `json:"retailers"`
	Within    int    `json:"within"`
	Outside   int    `json:"outside"`
	Unknown   int    `json:"unknown"`
}

type Dashboard struct {
	Date              string          `json:"date"`
	Retailers         int             `json:"retailers"`
	VisitsToday       int             `json:"visits_today"`
	RepsCheckedIn     int             `json:"reps_checked_in"`
	OrdersToday       int             `json:"orders_today"`
	OrderValueToday   decimal.Decimal `json:"order_value_today"`
	CollectionsToday  decimal.Decimal `json:"collections_today"`
	PendingDeliveries int             `json:"pending_deliveries"`
	UnpaidDeliveries  int             `json:"unpaid_deliveries"`
}

// SalesReport is daily order and collection totals over an inclusive
// From..To day range.
type SalesReport struct {
	From        string          `json:"from"`
	To          string          `json:"to"`
	Days        []DailySales    `json:"days"`
	Orders      int             `json:"orders"`
	OrderTotal  decimal.Decimal `json:"order_total"`
	Receipts    int             `json:"receipts"`
	Collections decimal.Decimal `json:"collections"`
}

type VisitReport struct {
	From string      `json:"from"`
	To   string      `json:"to"`
	Reps []RepVisits `json:"reps"`
}
