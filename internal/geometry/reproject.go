package geometry

import (
	"errors"
	"fmt"

	"github.com/airbusgeo/godal"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// Reprojector converts points and polygonal geometries between CRSs.
type Reprojector interface {
	Reproject(g orb.Geometry, from, to CRS) (orb.Geometry, error)
}

var errUnsupportedPair = errors.New("unsupported crs pair")

// SphericalReprojector handles WGS84/CRS84 <-> Web Mercator in pure Go.
type SphericalReprojector struct{}

func (SphericalReprojector) Reproject(g orb.Geometry, from, to CRS) (orb.Geometry, error) {
	switch {
	case from == to, from.Geographic() && to.Geographic():
		return orb.Clone(g), nil
	case from.Geographic() && to == WebMercator:
		return project.Geometry(orb.Clone(g), project.WGS84.ToMercator), nil
	case from == WebMercator && to.Geographic():
		return project.Geometry(orb.Clone(g), project.Mercator.ToWGS84), nil
	}
	return nil, fmt.Errorf("%w: %s -> %s: %w", ErrGeometry, from, to, errUnsupportedPair)
}

// GDALReprojector uses OSR coordinate transformations, so any EPSG code
// known to the local PROJ database works. godal spatial references use the
// traditional GIS axis order, so x is always longitude.
type GDALReprojector struct{}

func (r GDALReprojector) Reproject(g orb.Geometry, from, to CRS) (orb.Geometry, error) {
	if p, ok := g.(orb.Point); ok {
		out, err := r.Reproject(orb.Ring{p}, from, to)
		if err != nil {
			return nil, err
		}
		return out.(orb.Ring)[0], nil
	}
	srcCode, err := from.EPSG()
	if err != nil {
		return nil, err
	}
	dstCode, err := to.EPSG()
	if err != nil {
		return nil, err
	}
	src, err := godal.NewSpatialRefFromEPSG(srcCode)
	if err != nil {
		return nil, fmt.Errorf("%w: epsg %d: %v", ErrGeometry, srcCode, err)
	}
	defer src.Close()
	dst, err := godal.NewSpatialRefFromEPSG(dstCode)
	if err != nil {
		return nil, fmt.Errorf("%w: epsg %d: %v", ErrGeometry, dstCode, err)
	}
	defer dst.Close()
	tr, err := godal.NewTransform(src, dst)
	if err != nil {
		return nil, fmt.Errorf("%w: transform %s -> %s: %v", ErrGeometry, from, to, err)
	}
	defer tr.Close()

	out := orb.Clone(g)
	var xs, ys []float64
	forEachPoint(out, func(p *orb.Point) {
		xs = append(xs, p[0])
		ys = append(ys, p[1])
	})
	if err := tr.TransformEx(xs, ys, nil, nil); err != nil {
		return nil, fmt.Errorf("%w: transform %s -> %s: %v", ErrGeometry, from, to, err)
	}
	k := 0
	forEachPoint(out, func(p *orb.Point) {
		p[0], p[1] = xs[k], ys[k]
		k++
	})
	return out, nil
}

// AutoReprojector tries the spherical path first and falls back to GDAL.
type AutoReprojector struct {
	Fallback Reprojector
}

func NewReprojector() *AutoReprojector {
	return &AutoReprojector{Fallback: GDALReprojector{}}
}

func (a *AutoReprojector) Reproject(g orb.Geometry, from, to CRS) (orb.Geometry, error) {
	out, err := SphericalReprojector{}.Reproject(g, from, to)
	if err == nil || !errors.Is(err, errUnsupportedPair) || a.Fallback == nil {
		return out, err
	}
	return a.Fallback.Reproject(g, from, to)
}

func forEachPoint(g orb.Geometry, fn func(*orb.Point)) {
	switch t := g.(type) {
	case orb.Polygon:
		for _, r := range t {
			for i := range r {
				fn(&r[i])
			}
		}
	case orb.MultiPolygon:
		for _, p := range t {
			forEachPoint(p, fn)
		}
	case orb.Ring:
		for i := range t {
			fn(&t[i])
		}
	}
}
