package geometry

import (
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// AOI is an area of interest: a polygonal geometry and its declared CRS.
type AOI struct {
	geom orb.Geometry
	crs  CRS
}

func NewAOI(g orb.Geometry, crs CRS) (*AOI, error) {
	switch t := g.(type) {
	case orb.Polygon:
		if len(t) == 0 || len(t[0]) == 0 {
			return nil, fmt.Errorf("%w: empty polygon", ErrGeometry)
		}
	case orb.MultiPolygon:
		if len(t) == 0 {
			return nil, fmt.Errorf("%w: empty multipolygon", ErrGeometry)
		}
		for _, p := range t {
			if len(p) == 0 || len(p[0]) == 0 {
				return nil, fmt.Errorf("%w: empty polygon in multipolygon", ErrGeometry)
			}
		}
	case nil:
		return nil, fmt.Errorf("%w: missing geometry", ErrGeometry)
	default:
		return nil, fmt.Errorf("%w: %s is not polygonal", ErrGeometry, g.GeoJSONType())
	}
	if _, err := crs.EPSG(); err != nil {
		return nil, err
	}
	return &AOI{geom: orb.Clone(g), crs: crs}, nil
}

// Geometry returns a copy of the AOI geometry.
func (a *AOI) Geometry() orb.Geometry { return orb.Clone(a.geom) }

func (a *AOI) CRS() CRS { return a.crs }

// Centroid is the area-weighted centroid in the AOI's own CRS.
func (a *AOI) Centroid() (orb.Point, error) {
	c, area := planar.CentroidArea(a.geom)
	if area <= 0 {
		return orb.Point{}, fmt.Errorf("%w: zero area", ErrGeometry)
	}
	return c, nil
}

// ReadAOI loads the first feature of a GeoJSON document. A bare Feature or
// Geometry object is accepted as well.
func ReadAOI(path string, crs CRS) (*AOI, error) {
	return readAOI(path, crs, func(*geojson.Feature) bool { return true })
}

// ReadAOIByProperty loads the first feature whose property key renders as value.
func ReadAOIByProperty(path string, crs CRS, key, value string) (*AOI, error) {
	return readAOI(path, crs, func(f *geojson.Feature) bool {
		v, ok := f.Properties[key]
		return ok && fmt.Sprint(v) == value
	})
}

func readAOI(path string, crs CRS, match func(*geojson.Feature) bool) (*AOI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read geojson: %w", err)
	}
	features, err := decodeFeatures(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrGeometry, path, err)
	}
	for _, f := range features {
		if match(f) {
			return NewAOI(f.Geometry, crs)
		}
	}
	return nil, fmt.Errorf("%w: no matching feature in %s", ErrGeometry, path)
}

func decodeFeatures(data []byte) ([]*geojson.Feature, error) {
	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil && len(fc.Features) > 0 {
		return fc.Features, nil
	}
	if f, err := geojson.UnmarshalFeature(data); err == nil && f.Geometry != nil {
		return []*geojson.Feature{f}, nil
	}
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, err
	}
	if g.Coordinates == nil {
		return nil, fmt.Errorf("document has no geometry")
	}
	return []*geojson.Feature{geojson.NewFeature(g.Coordinates)}, nil
}

// FeatureValues lists the value of property key for every feature that has
// it, in document order.
func FeatureValues(path, key string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read geojson: %w", err)
	}
	features, err := decodeFeatures(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrGeometry, path, err)
	}
	var values []string
	for _, f := range features {
		if v, ok := f.Properties[key]; ok && v != nil {
			values = append(values, fmt.Sprint(v))
		}
	}
	return values, nil
}
