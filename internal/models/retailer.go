package models

import "time"

// Retailer is a shop on a rep's route. Latitude and Longitude are the
// master-record coordinates visits are reconciled against.
type Retailer struct {
	ID        int64     `json:"id"`
	OrgID     int64     `json:"org_id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	OwnerName *string   `json:"owner_name,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	Address   *string   `json:"address,omitempty"`
	Route     *string   `json:"route,omitempty"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RetailerRequest struct {
	Code      *string  `json:"code,omitempty"`
	Name      *string  `json:"name,omitempty"`
	OwnerName *string  `json:"owner_name,omitempty"`
	Phone     *string  `json:"phone,omitempty"`
	Address   *string  `json:"address,omitempty"`
	Route     *string  `json:"route,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}
