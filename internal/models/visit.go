package models

import (
	"time"

	"fieldsales-api/internal/geo"

	"github.com/google/uuid"
)

// VisitLog is a GPS-stamped check-in at a retailer. DistanceKm and
// WithinRange are the snapshot taken when the visit was logged.
type VisitLog struct {
	ID          int64     `json:"id"`
	OrgID       int64     `json:"org_id"`
	ClientRef   uuid.UUID `json:"client_ref"`
	UserID      int64     `json:"user_id"`
	RetailerID  int64     `json:"retailer_id"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	VisitedAt   time.Time `json:"visited_at"`
	Purpose     *string   `json:"purpose,omitempty"`
	Remarks     *string   `json:"remarks,omitempty"`
	DistanceKm  *float64  `json:"distance_km,omitempty"`
	WithinRange *bool     `json:"within_range,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type CreateVisitRequest struct {
	ClientRef  uuid.UUID  `json:"client_ref"`
	RetailerID int64      `json:"retailer_id"`
	Latitude   *float64   `json:"latitude"`
	Longitude  *float64   `json:"longitude"`
	VisitedAt  *time.Time `json:"visited_at,omitempty"`
	Purpose    *string    `json:"purpose,omitempty"`
	Remarks    *string    `json:"remarks,omitempty"`
}

// VisitSummaryRow is a visit reconciled against the retailer's current
// master coordinates.
type VisitSummaryRow struct {
	VisitID      int64              `json:"visit_id"`
	UserID       int64              `json:"user_id"`
	RepName      string             `json:"rep_name"`
	RetailerID   int64              `json:"retailer_id"`
	RetailerName string             `json:"retailer_name"`
	VisitedAt    time.Time          `json:"visited_at"`
	VisitedOn    string             `json:"visited_on"`
	Visit        *geo.Point         `json:"visit_location,omitempty"`
	Retailer     *geo.Point         `json:"retailer_location,omitempty"`
	Result       geo.Reconciliation `json:"reconciliation"`
}

type VisitSummary struct {
	RadiusKm float64           `json:"radius_km"`
	Method   geo.Method        `json:"method"`
	Totals   geo.Tally         `json:"totals"`
	Visits   []VisitSummaryRow `json:"visits"`
}
