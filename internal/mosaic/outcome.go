package mosaic

import (
	"github.com/forest-guardian/forest-health-mosaic/internal/raster"
	"github.com/paulmach/orb"
)

// Status tags how a tile contributed to the mosaic.
type Status int

const (
	// Fetched tiles carry decoded data.
	Fetched Status = iota
	// NonIntersecting tiles lie outside the AOI and were never requested.
	NonIntersecting
	// Failed tiles were requested but produced no usable data.
	Failed
)

func (s Status) String() string {
	switch s {
	case Fetched:
		return "fetched"
	case NonIntersecting:
		return "non_intersecting"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// TileOutcome is the result for grid cell (Row, Col). Absent tiles
// (NonIntersecting, Failed) are zero filled at Width x Height.
type TileOutcome struct {
	Row    int
	Col    int
	BBox   orb.Bound
	Width  int
	Height int
	Status Status
	Err    error
	Cube   *raster.Cube
	Cached bool
}

// Result is one assembled interval. Outcomes are in traversal order:
// northernmost row first, west to east within a row.
type Result struct {
	Cube     *raster.Cube
	Bands    int
	Outcomes []TileOutcome
}

func (r *Result) Counts() (fetched, skipped, failed int) {
	for _, o := range r.Outcomes {
		switch o.Status {
		case Fetched:
			fetched++
		case NonIntersecting:
			skipped++
		case Failed:
			failed++
		}
	}
	return
}
