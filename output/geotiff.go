// Package output writes run artefacts: GeoTIFF mosaics, PNG quicklooks and
// timelapses.
package output

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/airbusgeo/godal"
	"github.com/forest-guardian/forest-health-mosaic/internal/log"
	"github.com/forest-guardian/forest-health-mosaic/internal/raster"
	"github.com/paulmach/orb"
	"go.uber.org/zap"
)

const mercatorEPSG = 3857

// GeoTransform anchors the mosaic's top-left pixel at the north-west corner
// of bound, with square pixels of the given resolution.
func GeoTransform(bound orb.Bound, resolution float64) [6]float64 {
	return [6]float64{bound.Min[0], resolution, 0, bound.Max[1], 0, -resolution}
}

// WriteGeoTIFF saves cube as a float32 EPSG:3857 GeoTIFF, one raster band
// per cube band. godal.RegisterAll must have been called.
func WriteGeoTIFF(path string, cube *raster.Cube, bound orb.Bound, resolution float64) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}
	ds, err := godal.Create(godal.GTiff, path, cube.Bands, godal.Float32, cube.Width, cube.Height,
		godal.CreationOption("COMPRESS=DEFLATE", "TILED=YES"))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := writeDataset(ds, cube, bound, resolution); err != nil {
		_ = ds.Close()
		return err
	}
	if err := ds.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	log.Info(log.TagOutput+"geotiff written",
		zap.String("path", path),
		zap.Int("bands", cube.Bands),
		zap.Int("width", cube.Width),
		zap.Int("height", cube.Height))
	return nil
}

func writeDataset(ds *godal.Dataset, cube *raster.Cube, bound orb.Bound, resolution float64) error {
	if err := ds.SetGeoTransform(GeoTransform(bound, resolution)); err != nil {
		return fmt.Errorf("failed to set geotransform: %w", err)
	}
	sr, err := godal.NewSpatialRefFromEPSG(mercatorEPSG)
	if err != nil {
		return fmt.Errorf("failed to build EPSG:%d: %w", mercatorEPSG, err)
	}
	defer sr.Close()
	if err := ds.SetSpatialRef(sr); err != nil {
		return fmt.Errorf("failed to set spatial reference: %w", err)
	}
	for b, band := range ds.Bands() {
		if err := band.Write(0, 0, cube.Band(b), cube.Width, cube.Height); err != nil {
			return fmt.Errorf("failed to write band %d: %w", b+1, err)
		}
	}
	return nil
}
