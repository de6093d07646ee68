// Package geo holds the flat-earth approximations used for cache lookups and
// zone sizing. One degree is taken as 111 km.
package geo

import (
	"math"

	"github.com/lead-scanner/internal/types"
)

// KmPerDegree is the approximation used for every degree/km conversion
const KmPerDegree = 111.0

const earthRadiusKm = 6371.0

// Bounds is an axis-aligned lat/lon rectangle
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Valid reports whether the rectangle is well-formed and on the globe
func (b Bounds) Valid() bool {
	return b.South < b.North && b.West < b.East &&
		b.South >= -90 && b.North <= 90 && b.West >= -180 && b.East <= 180
}

// Contains reports whether p lies inside b, edges included
func (b Bounds) Contains(p types.Coordinates) bool {
	return p.Lat >= b.South && p.Lat <= b.North && p.Lon >= b.West && p.Lon <= b.East
}

// LatSpan is North-South in degrees
func (b Bounds) LatSpan() float64 { return b.North - b.South }

// LonSpan is East-West in degrees
func (b Bounds) LonSpan() float64 { return b.East - b.West }

// AreaKm2 is Δlat × Δlon × 111²
func (b Bounds) AreaKm2() float64 {
	return b.LatSpan() * b.LonSpan() * KmPerDegree * KmPerDegree
}

// SideMetres returns the north-south and east-west side lengths in metres
func (b Bounds) SideMetres() (latMetres, lonMetres float64) {
	return b.LatSpan() * KmPerDegree * 1000, b.LonSpan() * KmPerDegree * 1000
}

// Center returns the midpoint of b
func (b Bounds) Center() types.Coordinates {
	return types.Coordinates{Lat: (b.South + b.North) / 2, Lon: (b.West + b.East) / 2}
}

// BoundingBox returns the square around center whose half side is radiusKm.
// The longitude half-span is widened by 1/cos(lat) and clamped to the globe.
func BoundingBox(center types.Coordinates, radiusKm float64) Bounds {
	dLat := radiusKm / KmPerDegree
	cos := math.Cos(center.Lat * math.Pi / 180)
	dLon := dLat
	if cos > 0.01 {
		dLon = dLat / cos
	}
	return Bounds{
		South: math.Max(center.Lat-dLat, -90),
		North: math.Min(center.Lat+dLat, 90),
		West:  math.Max(center.Lon-dLon, -180),
		East:  math.Min(center.Lon+dLon, 180),
	}
}

// HaversineKm is the great-circle distance between two points
func HaversineKm(a, b types.Coordinates) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// ValidCoordinates reports whether p is a real WGS84 position
func ValidCoordinates(p types.Coordinates) bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180 &&
		!math.IsNaN(p.Lat) && !math.IsNaN(p.Lon)
}
