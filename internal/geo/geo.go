// Package geo reconciles a logged visit location against a retailer's
// master-record coordinates.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// KmPerDegree is the flat scaling factor used by the planar approximation.
const KmPerDegree = 111.0

// EarthRadiusKm is the mean earth radius used by HaversineKm.
const EarthRadiusKm = 6371.0

// ErrInvalidPoint is returned when a coordinate pair is missing or out of range.
var ErrInvalidPoint = errors.New("invalid coordinates")

// Point is a latitude/longitude pair in decimal degrees.
type Point struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// Valid reports whether p is a usable fix. The client sends 0,0 when it
// could not obtain a location, so that pair is treated as missing.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return false
	}
	return !(p.Lat == 0 && p.Lon == 0)
}

// PointFrom builds a Point from nullable columns. ok is false if either
// value is nil or the pair is not Valid.
func PointFrom(lat, lon *float64) (Point, bool) {
	if lat == nil || lon == nil {
		return Point{}, false
	}
	p := Point{Lat: *lat, Lon: *lon}
	return p, p.Valid()
}

// PlanarDistanceKm scales both degree deltas by KmPerDegree and applies
// Pythagoras. The longitude term is not corrected for latitude, so the
// result overstates east-west distances away from the equator. Only
// meaningful for short distances.
func PlanarDistanceKm(a, b Point) float64 {
	dLat := (a.Lat - b.Lat) * KmPerDegree
	dLon := (a.Lon - b.Lon) * KmPerDegree
	return math.Sqrt(dLat*dLat + dLon*dLon)
}

// HaversineKm returns the great-circle distance between a and b.
func HaversineKm(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Method selects the distance formula.
type Method string

const (
	MethodPlanar    Method = "planar"
	MethodHaversine Method = "haversine"
)

// ParseMethod parses a method name, case-insensitively. Empty means planar.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(MethodPlanar):
		return MethodPlanar, nil
	case string(MethodHaversine):
		return MethodHaversine, nil
	}
	return "", fmt.Errorf("unknown distance method %q", s)
}

// Distance computes the distance between a and b in kilometers using m.
func Distance(m Method, a, b Point) (float64, error) {
	if !a.Valid() || !b.Valid() {
		return 0, ErrInvalidPoint
	}
	if m == MethodHaversine {
		return HaversineKm(a, b), nil
	}
	return PlanarDistanceKm(a, b), nil
}
