package model

// Result is the resolution outcome for exactly one input point.
type Result struct {
	Point Point `json:"point"`

	// Category is the raster value assigned to the point. Meaningful only when Resolved.
	Category int32 `json:"category"`
	Resolved bool  `json:"resolved"`

	// Approximate is true when Category came from a neighbouring cell.
	Approximate  bool    `json:"approximate"`
	RefLongitude float64 `json:"reference_longitude"`
	RefLatitude  float64 `json:"reference_latitude"`

	Diagnostic string `json:"diagnostic,omitempty"`
}

// Exact builds a result whose category was read at the point itself.
func Exact(p Point, category int32) Result {
	return Result{
		Point:        p,
		Category:     category,
		Resolved:     true,
		RefLongitude: p.Longitude,
		RefLatitude:  p.Latitude,
	}
}

// Approx builds a result whose category came from the cell centred at (refLon, refLat).
func Approx(p Point, category int32, refLon, refLat float64) Result {
	return Result{
		Point:        p,
		Category:     category,
		Resolved:     true,
		Approximate:  true,
		RefLongitude: refLon,
		RefLatitude:  refLat,
	}
}

// Unresolved builds a result with no category.
func Unresolved(p Point, diagnostic string) Result {
	if diagnostic == "" {
		diagnostic = p.Diagnostic
	}
	return Result{
		Point:        p,
		RefLongitude: p.Longitude,
		RefLatitude:  p.Latitude,
		Diagnostic:   diagnostic,
	}
}

// Stats counts outcomes. Values are combined with Add and never mutated in place
// by more than one goroutine.
type Stats struct {
	Exact       uint64 `json:"exact"`
	Approximate uint64 `json:"approximate"`
	Unresolved  uint64 `json:"unresolved"`
}

// Add returns the element-wise sum of s and o.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Exact:       s.Exact + o.Exact,
		Approximate: s.Approximate + o.Approximate,
		Unresolved:  s.Unresolved + o.Unresolved,
	}
}

// Total returns the number of results counted.
func (s Stats) Total() uint64 {
	return s.Exact + s.Approximate + s.Unresolved
}

// Count returns the stats for a single result.
func Count(r Result) Stats {
	switch {
	case !r.Resolved:
		return Stats{Unresolved: 1}
	case r.Approximate:
		return Stats{Approximate: 1}
	default:
		return Stats{Exact: 1}
	}
}

// Tally folds the stats for a slice of results.
func Tally(results []Result) Stats {
	var s Stats
	for _, r := range results {
		s = s.Add(Count(r))
	}
	return s
}
