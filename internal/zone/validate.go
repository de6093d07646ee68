// Package zone splits user-drawn areas into tiles and retrieves open geo-data
// for them across redundant endpoints.
package zone

import (
	"fmt"

	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/geo"
)

// Risk grades how much load an area puts on the shared endpoints
type Risk string

const (
	RiskOK       Risk = "ok"
	RiskLarge    Risk = "large"
	RiskTooLarge Risk = "too_large"
)

// Limits bounds acceptable areas
type Limits struct {
	ChunkDegrees  float64
	MinSideMetres float64
	WarnAreaKm2   float64
	MaxAreaKm2    float64
}

// DefaultLimits matches the stock zone configuration
func DefaultLimits() Limits {
	return Limits{
		ChunkDegrees:  0.018,
		MinSideMetres: 100,
		WarnAreaKm2:   25,
		MaxAreaKm2:    400,
	}
}

// Assessment describes an area before retrieval
type Assessment struct {
	AreaKm2  float64  `json:"areaKm2"`
	Risk     Risk     `json:"risk"`
	Tiles    int      `json:"tiles"`
	Warnings []string `json:"warnings,omitempty"`
}

// Validate rejects malformed or too-small areas and grades the rest.
// Areas above MaxAreaKm2 are graded too_large rather than rejected so callers
// can show the assessment; Retriever refuses to run them.
func Validate(b geo.Bounds, limits Limits) (*Assessment, error) {
	if !b.Valid() {
		return nil, apperrors.NewInvalidAreaError("bounds must satisfy south < north and west < east on the globe", map[string]interface{}{
			"bounds": b,
		})
	}

	latM, lonM := b.SideMetres()
	if latM < limits.MinSideMetres || lonM < limits.MinSideMetres {
		return nil, apperrors.NewInvalidAreaError(fmt.Sprintf("each side must be at least %.0f m", limits.MinSideMetres), map[string]interface{}{
			"northSouthMetres": latM,
			"eastWestMetres":   lonM,
		})
	}

	a := &Assessment{
		AreaKm2: b.AreaKm2(),
		Risk:    RiskOK,
		Tiles:   TileCount(b, limits.ChunkDegrees),
	}
	switch {
	case limits.MaxAreaKm2 > 0 && a.AreaKm2 > limits.MaxAreaKm2:
		a.Risk = RiskTooLarge
		a.Warnings = append(a.Warnings, fmt.Sprintf("area of %.1f km² exceeds the %.0f km² maximum; draw a smaller zone", a.AreaKm2, limits.MaxAreaKm2))
	case limits.WarnAreaKm2 > 0 && a.AreaKm2 > limits.WarnAreaKm2:
		a.Risk = RiskLarge
		a.Warnings = append(a.Warnings, fmt.Sprintf("area of %.1f km² is large; tiles will be fetched one at a time", a.AreaKm2))
	}
	return a, nil
}
