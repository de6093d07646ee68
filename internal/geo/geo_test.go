package geo

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/lead-scanner/internal/types"
)

func TestBoundingBox_Equator(t *testing.T) {
	b := BoundingBox(types.Coordinates{Lat: 0, Lon: 0}, 111)

	assert.InDelta(t, -1.0, b.South, 1e-9)
	assert.InDelta(t, 1.0, b.North, 1e-9)
	assert.InDelta(t, -1.0, b.West, 1e-9)
	assert.InDelta(t, 1.0, b.East, 1e-9)
}

func TestBoundingBox_WidensLongitudeAwayFromEquator(t *testing.T) {
	paris := types.Coordinates{Lat: 48.8566, Lon: 2.3522}
	b := BoundingBox(paris, 5)

	assert.Greater(t, b.LonSpan(), b.LatSpan())
	assert.True(t, b.Contains(paris))
}

func TestBoundingBox_ClampsAtPole(t *testing.T) {
	b := BoundingBox(types.Coordinates{Lat: 89.9, Lon: 179.9}, 50)

	assert.Equal(t, 90.0, b.North)
	assert.Equal(t, 180.0, b.East)
}

func TestBounds_AreaAndSides(t *testing.T) {
	b := Bounds{South: 48.80, West: 2.30, North: 48.90, East: 2.40}

	assert.InDelta(t, 0.1*0.1*111*111, b.AreaKm2(), 1e-6)
	lat, lon := b.SideMetres()
	assert.InDelta(t, 11100, lat, 1e-6)
	assert.InDelta(t, 11100, lon, 1e-6)
	assert.True(t, b.Valid())
	assert.False(t, Bounds{South: 1, North: 0, West: 0, East: 1}.Valid())
}

func TestHaversineKm(t *testing.T) {
	paris := types.Coordinates{Lat: 48.8566, Lon: 2.3522}
	lyon := types.Coordinates{Lat: 45.7640, Lon: 4.8357}

	assert.InDelta(t, 392, HaversineKm(paris, lyon), 5)
	assert.Equal(t, 0.0, HaversineKm(paris, paris))
}

func TestBoundingBoxProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("center and radius-distant points lie inside the box", prop.ForAll(
		func(lat, lon, radius float64) bool {
			c := types.Coordinates{Lat: lat, Lon: lon}
			b := BoundingBox(c, radius)
			north := types.Coordinates{Lat: math.Min(lat+radius/KmPerDegree*0.99, 90), Lon: lon}
			return b.Contains(c) && b.Contains(north)
		},
		gen.Float64Range(-80, 80),
		gen.Float64Range(-170, 170),
		gen.Float64Range(0.1, 50),
	))

	properties.TestingRun(t)
}
