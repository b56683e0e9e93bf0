package geometry

import (
	"fmt"

	"github.com/airbusgeo/godal"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// footprint is a polygonal geometry handed to GDAL once so that many boxes
// can be tested against it. Close releases the OGR handle.
type footprint struct {
	bound orb.Bound
	geom  *godal.Geometry
}

func newFootprint(g orb.Geometry) (*footprint, error) {
	ogr, err := toOGR(g)
	if err != nil {
		return nil, err
	}
	return &footprint{bound: g.Bound(), geom: ogr}, nil
}

// intersects is true when b and the footprint share at least one point,
// boundary contact included.
func (f *footprint) intersects(b orb.Bound) (bool, error) {
	if !b.Intersects(f.bound) {
		return false, nil
	}
	box, err := toOGR(b.ToPolygon())
	if err != nil {
		return false, err
	}
	defer box.Close()
	ok, err := f.geom.Intersects(box)
	if err != nil {
		return false, fmt.Errorf("%w: intersects: %v", ErrGeometry, err)
	}
	return ok, nil
}

func (f *footprint) Close() { f.geom.Close() }

func toOGR(g orb.Geometry) (*godal.Geometry, error) {
	data, err := wkb.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("%w: wkb: %v", ErrGeometry, err)
	}
	ogr, err := godal.NewGeometryFromWKB(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: wkb: %v", ErrGeometry, err)
	}
	return ogr, nil
}

// BoundIntersects reports whether b and a polygonal geometry share at least
// one point.
func BoundIntersects(b orb.Bound, g orb.Geometry) (bool, error) {
	if g == nil {
		return false, nil
	}
	f, err := newFootprint(g)
	if err != nil {
		return false, err
	}
	defer f.Close()
	return f.intersects(b)
}
