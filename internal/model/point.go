package model

import (
	"math"
)

// Diagnostic codes attached to results that could not be resolved normally.
const (
	DiagMalformedCoordinate = "malformed_coordinate"
	DiagOutOfBounds         = "out_of_bounds"
	DiagInternalError       = "internal_error"
)

// Point is one input record to be resolved against the raster.
type Point struct {
	EntityID  string   `json:"entity_id"`
	Longitude float64  `json:"longitude"`
	Latitude  float64  `json:"latitude"`
	Extra     []string `json:"extra,omitempty"` // pass-through columns in input order

	// Diagnostic is set by the reader when the record's coordinates could not be parsed.
	Diagnostic string `json:"diagnostic,omitempty"`
}

// Malformed reports whether the point carries unusable coordinates.
func (p Point) Malformed() bool {
	if p.Diagnostic == DiagMalformedCoordinate {
		return true
	}
	return !finite(p.Longitude) || !finite(p.Latitude)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// GridRef addresses a raster cell by row and column.
type GridRef struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Valid reports whether the reference lies inside a grid of the given size.
func (g GridRef) Valid(width, height int) bool {
	return g.Row >= 0 && g.Row < height && g.Col >= 0 && g.Col < width
}
