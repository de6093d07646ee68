package zone

import (
	"math"

	"github.com/lead-scanner/internal/geo"
)

// stepEpsilon absorbs float error so an exact multiple of the step does not
// produce a sliver tile
const stepEpsilon = 1e-9

// Steps returns how many steps of size step cover span
func Steps(span, step float64) int {
	if span <= 0 || step <= 0 {
		return 0
	}
	return int(math.Ceil(span/step - stepEpsilon))
}

// TileCount returns the number of tiles Chunk would produce
func TileCount(b geo.Bounds, step float64) int {
	return Steps(b.LatSpan(), step) * Steps(b.LonSpan(), step)
}

// Chunk partitions b into tiles of step degrees, latitude rows first then
// longitude columns. The last row and column are clamped to b.
func Chunk(b geo.Bounds, step float64) []geo.Bounds {
	latSteps := Steps(b.LatSpan(), step)
	lonSteps := Steps(b.LonSpan(), step)
	tiles := make([]geo.Bounds, 0, latSteps*lonSteps)

	for i := 0; i < latSteps; i++ {
		south := b.South + float64(i)*step
		north := math.Min(south+step, b.North)
		if i == latSteps-1 {
			north = b.North
		}
		for j := 0; j < lonSteps; j++ {
			west := b.West + float64(j)*step
			east := math.Min(west+step, b.East)
			if j == lonSteps-1 {
				east = b.East
			}
			tiles = append(tiles, geo.Bounds{South: south, West: west, North: north, East: east})
		}
	}
	return tiles
}
