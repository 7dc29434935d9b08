// Package geo validates device-reported positions against an event geofence.
package geo

import "math"

const (
	// EarthRadiusMeters is the IUGG mean Earth radius.
	EarthRadiusMeters = 6371008.8
	// MinRadiusMeters is the floor applied to degenerate fence radii.
	MinRadiusMeters = 1.0
)

// Coordinate is a WGS84 latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// IsValid reports whether the coordinate is finite and within range.
func (c Coordinate) IsValid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Geofence is a circular area around an event venue.
type Geofence struct {
	Center       Coordinate `json:"center" yaml:"center"`
	RadiusMeters float64    `json:"radius_meters" yaml:"radius_meters"`
}

// EffectiveRadius returns the radius used for validation.
func (g Geofence) EffectiveRadius() float64 {
	r := g.RadiusMeters
	if math.IsNaN(r) || math.IsInf(r, 0) || r <= 0 {
		return MinRadiusMeters
	}
	return r
}

// Result is the outcome of a single validation. When Unavailable is true,
// Within is false and DistanceMeters is zero.
type Result struct {
	Within         bool    `json:"within"`
	DistanceMeters float64 `json:"distance_meters"`
	Unavailable    bool    `json:"unavailable"`
}

// Validate checks reported against fence. A nil or malformed position yields
// an Unavailable result so the caller can fall back to a manual override.
func Validate(fence Geofence, reported *Coordinate) Result {
	if reported == nil || !reported.IsValid() || !fence.Center.IsValid() {
		return Result{Unavailable: true}
	}
	d := Distance(fence.Center, *reported)
	return Result{
		Within:         d <= fence.EffectiveRadius(),
		DistanceMeters: d,
	}
}

// Distance returns the great-circle distance in meters using the haversine
// formula.
func Distance(a, b Coordinate) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := lat2 - lat1
	dLng := radians(b.Lng - a.Lng)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	// guard against rounding pushing h above 1 for antipodal points
	h = math.Min(1, math.Max(0, h))
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
