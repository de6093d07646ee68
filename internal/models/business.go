// Package models provides data models for the lead scanner system.
package models

import (
	"time"

	"github.com/lead-scanner/internal/geo"
	"github.com/lead-scanner/internal/types"
)

// CachedBusiness is a globally shared listing keyed by the provider's place id
type CachedBusiness struct {
	PlaceID       string    `json:"placeId" db:"place_id"`
	Name          string    `json:"name" db:"name"`
	Address       string    `json:"address,omitempty" db:"address"`
	City          string    `json:"city,omitempty" db:"city"`
	Phone         string    `json:"phone,omitempty" db:"phone"`
	Website       string    `json:"website,omitempty" db:"website"`
	Email         string    `json:"email,omitempty" db:"email"`
	Lat           float64   `json:"lat" db:"lat"`
	Lon           float64   `json:"lon" db:"lon"`
	Rating        *float64  `json:"rating,omitempty" db:"rating"`
	ReviewCount   *int      `json:"reviewCount,omitempty" db:"review_count"`
	Category      string    `json:"category,omitempty" db:"category"`
	Types         []string  `json:"types,omitempty" db:"types"`
	OpeningHours  []string  `json:"openingHours,omitempty" db:"opening_hours"`
	PhotoRefs     []string  `json:"photoRefs,omitempty" db:"photo_refs"`
	EmailEnriched bool      `json:"emailEnriched" db:"email_enriched"`
	AIEnriched    bool      `json:"aiEnriched" db:"ai_enriched"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt" db:"last_updated_at"`
}

// Location returns the business position
func (b *CachedBusiness) Location() types.Coordinates {
	return types.Coordinates{Lat: b.Lat, Lon: b.Lon}
}

// Merge folds incoming into b. Empty incoming fields never overwrite stored
// values and enrichment flags only move forward. The Postgres upsert applies
// the same rules with COALESCE/NULLIF.
func (b *CachedBusiness) Merge(incoming *CachedBusiness, now time.Time) {
	mergeString(&b.Name, incoming.Name)
	mergeString(&b.Address, incoming.Address)
	mergeString(&b.City, incoming.City)
	mergeString(&b.Phone, incoming.Phone)
	mergeString(&b.Website, incoming.Website)
	mergeString(&b.Email, incoming.Email)
	mergeString(&b.Category, incoming.Category)
	if incoming.Lat != 0 || incoming.Lon != 0 {
		b.Lat, b.Lon = incoming.Lat, incoming.Lon
	}
	if incoming.Rating != nil {
		r := *incoming.Rating
		b.Rating = &r
	}
	if incoming.ReviewCount != nil {
		n := *incoming.ReviewCount
		b.ReviewCount = &n
	}
	mergeSlice(&b.Types, incoming.Types)
	mergeSlice(&b.OpeningHours, incoming.OpeningHours)
	mergeSlice(&b.PhotoRefs, incoming.PhotoRefs)
	b.EmailEnriched = b.EmailEnriched || incoming.EmailEnriched
	b.AIEnriched = b.AIEnriched || incoming.AIEnriched
	b.LastUpdatedAt = now
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeSlice(dst *[]string, v []string) {
	if len(v) > 0 {
		*dst = append([]string(nil), v...)
	}
}

// BusinessQuery selects cached rows inside a rectangle
type BusinessQuery struct {
	Bounds        geo.Bounds
	Category      string   // canonical category; empty matches all
	ProviderTypes []string // provider tags that also count as the category
	Keyword       string   // substring of name or address; empty matches all
	Limit         int
}

// CacheStats aggregates every row matched by a BusinessQuery
type CacheStats struct {
	Count  int
	AvgAge time.Duration
}
