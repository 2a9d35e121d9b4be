package geo

import "math"

// Status is the outcome of a fence check.
type Status string

const (
	StatusWithin  Status = "within"
	StatusOutside Status = "outside"
	StatusUnknown Status = "unknown"
)

// boundaryEpsilonKm absorbs float error in the degree subtraction so a fix
// exactly on the radius stays within. It is a micrometre, not a tolerance.
const boundaryEpsilonKm = 1e-9

// Fence decides whether a visit happened close enough to the retailer.
type Fence struct {
	RadiusKm float64
	Method   Method
}

// Reconciliation is the result of comparing a visit fix with a retailer fix.
// DistanceKm and WithinRange are nil when the status is unknown.
type Reconciliation struct {
	DistanceKm  *float64 `json:"distance_km"`
	WithinRange *bool    `json:"within_range"`
	Status      Status   `json:"status"`
}

// Check compares the visit location with the retailer location. A distance
// equal to the radius counts as within.
func (f Fence) Check(visit, retailer Point) Reconciliation {
	d, err := Distance(f.Method, visit, retailer)
	if err != nil {
		return Reconciliation{Status: StatusUnknown}
	}
	within := d <= f.RadiusKm+boundaryEpsilonKm
	d = math.Round(d*1000) / 1000
	status := StatusOutside
	if within {
		status = StatusWithin
	}
	return Reconciliation{DistanceKm: &d, WithinRange: &within, Status: status}
}

// CheckNullable is Check for nullable column values.
func (f Fence) CheckNullable(visitLat, visitLon, retailerLat, retailerLon *float64) Reconciliation {
	v, ok := PointFrom(visitLat, visitLon)
	if !ok {
		return Reconciliation{Status: StatusUnknown}
	}
	r, ok := PointFrom(retailerLat, retailerLon)
	if !ok {
		return Reconciliation{Status: StatusUnknown}
	}
	return f.Check(v, r)
}

// Tally counts reconciliations by status.
type Tally struct {
	Within  int `json:"within"`
	Outside int `json:"outside"`
	Unknown int `json:"unknown"`
}

// Add records one reconciliation.
func (t *Tally) Add(r Reconciliation) {
	switch r.Status {
	case StatusWithin:
		t.Within++
	case StatusOutside:
		t.Outside++
	default:
		t.Unknown++
	}
}
