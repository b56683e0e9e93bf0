package geometry

import (
	"fmt"
	"math"

	"github.com/forest-guardian/forest-health-mosaic/internal/log"
	"github.com/paulmach/orb"
	"go.uber.org/zap"
)

const (
	DefaultResolution = 20.0
	DefaultMaxTilePx  = 2500
)

// Grid holds the tile corners in Web Mercator. Corners[i][j] is the point
// (x_j, y_i); row 0 is the southern edge and column 0 the western edge.
type Grid struct {
	Rows    int
	Cols    int
	Corners [][]orb.Point
}

// Tiler splits an AOI into a rectangular grid whose cells stay within the
// per-request pixel limit at the given resolution.
type Tiler struct {
	bound      orb.Bound
	resolution float64
	maxTilePx  int
	grid       Grid
	// hits[i][j] is true when cell (i, j) touches the AOI
	hits   [][]bool
	logTag string
}

// NewTiler reprojects the AOI to EPSG:3857 once, builds the grid and tests
// every cell against the AOI.
func NewTiler(aoi *AOI, resolution float64, maxTilePx int, r Reprojector) (*Tiler, error) {
	if aoi == nil {
		return nil, fmt.Errorf("%w: nil aoi", ErrGeometry)
	}
	if resolution <= 0 {
		return nil, fmt.Errorf("%w: resolution must be positive, got %v", ErrGeometry, resolution)
	}
	if maxTilePx <= 0 {
		return nil, fmt.Errorf("%w: max tile size must be positive, got %d", ErrGeometry, maxTilePx)
	}
	if r == nil {
		r = NewReprojector()
	}
	working, err := r.Reproject(aoi.geom, aoi.crs, WebMercator)
	if err != nil {
		return nil, err
	}
	bound := working.Bound()
	if bound.Max[0]-bound.Min[0] <= 0 || bound.Max[1]-bound.Min[1] <= 0 {
		return nil, fmt.Errorf("%w: aoi has zero extent", ErrGeometry)
	}

	t := &Tiler{
		bound:      bound,
		resolution: resolution,
		maxTilePx:  maxTilePx,
		logTag:     log.TagGeometryToolkit,
	}
	t.grid = buildGrid(bound, resolution, maxTilePx)
	if t.hits, err = t.intersections(working); err != nil {
		return nil, err
	}
	log.Info(t.logTag+"built tile grid",
		zap.Int("rows", t.grid.Rows), zap.Int("cols", t.grid.Cols),
		zap.Float64("resolution", resolution), zap.Int("maxTilePx", maxTilePx))
	return t, nil
}

func (t *Tiler) intersections(working orb.Geometry) ([][]bool, error) {
	fp, err := newFootprint(working)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	hits := make([][]bool, t.grid.Rows)
	for i := range hits {
		hits[i] = make([]bool, t.grid.Cols)
		for j := range hits[i] {
			if hits[i][j], err = fp.intersects(t.BBox(i, j)); err != nil {
				return nil, fmt.Errorf("cell %d_%d: %w", i, j, err)
			}
		}
	}
	return hits, nil
}

func buildGrid(b orb.Bound, resolution float64, maxTilePx int) Grid {
	widthPx := (b.Max[0] - b.Min[0]) / resolution
	heightPx := (b.Max[1] - b.Min[1]) / resolution
	cols := int(math.Ceil(widthPx / float64(maxTilePx)))
	rows := int(math.Ceil(heightPx / float64(maxTilePx)))
	step := float64(maxTilePx) * resolution

	xs := axis(b.Min[0], b.Max[0], step, cols)
	ys := axis(b.Min[1], b.Max[1], step, rows)

	corners := make([][]orb.Point, rows+1)
	for i, y := range ys {
		corners[i] = make([]orb.Point, cols+1)
		for j, x := range xs {
			corners[i][j] = orb.Point{x, y}
		}
	}
	return Grid{Rows: rows, Cols: cols, Corners: corners}
}

// axis returns n+1 breakpoints from lo, clamped to hi. The last one is
// always hi.
func axis(lo, hi, step float64, n int) []float64 {
	out := make([]float64, n+1)
	for k := 0; k <= n; k++ {
		out[k] = math.Min(lo+float64(k)*step, hi)
	}
	out[n] = hi
	return out
}

func (t *Tiler) Grid() Grid { return t.grid }

func (t *Tiler) Rows() int { return t.grid.Rows }

func (t *Tiler) Cols() int { return t.grid.Cols }

// Bound is the AOI extent in EPSG:3857.
func (t *Tiler) Bound() orb.Bound { return t.bound }

func (t *Tiler) Resolution() float64 { return t.resolution }

// BBox is the min/max over the four corners of cell (i, j).
func (t *Tiler) BBox(i, j int) orb.Bound {
	c := t.grid.Corners
	b := orb.Bound{Min: c[i][j], Max: c[i][j]}
	for _, p := range []orb.Point{c[i+1][j], c[i][j+1], c[i+1][j+1]} {
		b = b.Extend(p)
	}
	return b
}

// Intersects reports whether cell (i, j) touches the AOI. Boundary contact
// counts as intersecting.
func (t *Tiler) Intersects(i, j int) bool {
	return t.hits[i][j]
}

// PixelSize converts a bbox to whole pixels, truncating partial pixels.
func PixelSize(b orb.Bound, resolution float64) (width, height int) {
	return int((b.Max[0] - b.Min[0]) / resolution), int((b.Max[1] - b.Min[1]) / resolution)
}
