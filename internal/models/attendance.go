package models

import "time"

// Attendance is one rep's working day.
type Attendance struct {
	ID          int64      `json:"id"`
	OrgID       int64      `json:"org_id"`
	UserID      int64      `json:"user_id"`
	WorkDate    string     `json:"work_date"`
	CheckInAt   time.Time  `json:"check_in_at"`
	CheckInLat  *float64   `json:"check_in_lat,omitempty"`
	CheckInLon  *float64   `json:"check_in_lon,omitempty"`
	CheckOutAt  *time.Time `json:"check_out_at,omitempty"`
	CheckOutLat *float64   `json:"check_out_lat,omitempty"`
	CheckOutLon *float64   `json:"check_out_lon,omitempty"`
	HoursWorked *float64   `json:"hours_worked,omitempty"`
}

type AttendancePunch struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}
