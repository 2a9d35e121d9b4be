package models

import "time"

// Organization is a distributor. Every other record belongs to exactly one.
type Organization struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Users     int       `json:"users"`
	Retailers int       `json:"retailers"`
	Products  int       `json:"products"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type UpdateOrganizationRequest struct {
	Name *string `json:"name,omitempty"`
}
