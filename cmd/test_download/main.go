// Command test_download fetches a single tile for one day and prints what
// came back. It checks credentials and the AOI before a full run.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/airbusgeo/godal"
	"github.com/forest-guardian/forest-health-mosaic/internal/geometry"
	"github.com/forest-guardian/forest-health-mosaic/internal/interval"
	"github.com/forest-guardian/forest-health-mosaic/internal/log"
	"github.com/forest-guardian/forest-health-mosaic/internal/profile"
	"github.com/forest-guardian/forest-health-mosaic/internal/raster"
	"github.com/forest-guardian/forest-health-mosaic/internal/sentinel"
	"github.com/forest-guardian/forest-health-mosaic/output"
	"github.com/joho/godotenv"
)

var (
	geometryFile = flag.String("geometry", "aoi.geojson", "GeoJSON file with the AOI")
	crsName      = flag.String("crs", "EPSG:4326", "CRS of the AOI coordinates")
	modeName     = flag.String("mode", "RGB", "request profile")
	day          = flag.String("date", "now", "day to request, YYYY-MM-DD or now")
	outDir       = flag.String("out", "test_download", "output folder")
)

func main() {
	flag.Parse()

	if err := godotenv.Load("../../.env"); err != nil {
		fmt.Printf("Warning: Error loading .env file: %v\n", err)
		fmt.Println("Make sure you have set the required environment variables:")
		fmt.Println("- SENTINELHUB_CLIENT_ID")
		fmt.Println("- SENTINELHUB_CLIENT_SECRET")
		fmt.Println()
	}
	_ = log.Init("debug", false)
	godal.RegisterAll()

	if err := probe(context.Background()); err != nil {
		fmt.Printf("\n✗ Test failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\n✓ Test completed successfully!")
}

func probe(ctx context.Context) error {
	crs, err := geometry.ParseCRS(*crsName)
	if err != nil {
		return err
	}
	aoi, err := geometry.ReadAOI(*geometryFile, crs)
	if err != nil {
		return err
	}
	fmt.Println("✓ Geometry loaded successfully")

	date, err := interval.ParseDate(*day)
	if err != nil {
		return err
	}
	tiler, err := geometry.NewTiler(aoi, geometry.DefaultResolution, geometry.DefaultMaxTilePx, nil)
	if err != nil {
		return err
	}
	fmt.Printf("Grid: %d rows x %d cols\n", tiler.Rows(), tiler.Cols())

	creds, err := sentinel.CredentialsFromEnv()
	if err != nil {
		return err
	}
	registry := profile.Default()
	mode := profile.ParseMode(*modeName)
	prof, err := registry.Lookup(mode)
	if err != nil {
		return err
	}
	client, err := sentinel.NewClient(creds, sentinel.Options{
		ProcessURL: sentinel.ProcessURLFromEnv(),
		Registry:   registry,
	})
	if err != nil {
		return err
	}

	i, j, ok := firstIntersecting(tiler)
	if !ok {
		return fmt.Errorf("no tile intersects the AOI")
	}
	b := tiler.BBox(i, j)
	w, h := geometry.PixelSize(b, tiler.Resolution())
	fmt.Printf("Requesting tile %d_%d (%dx%d px) for %s...\n", i, j, w, h, date.Format(time.DateOnly))

	req, err := client.BuildRequest(sentinel.RequestParams{
		Mode: mode, Start: date, End: date, BBox: &b, CRS: geometry.WebMercator, Width: w, Height: h,
	})
	if err != nil {
		return err
	}
	resp, err := client.Send(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("Response: %d %s, %d bytes\n", resp.StatusCode, resp.ContentType, len(resp.Body))

	if err := os.MkdirAll(*outDir, os.ModePerm); err != nil {
		return err
	}
	raw := filepath.Join(*outDir, fmt.Sprintf("tile_%d_%d.bin", i, j))
	if err := os.WriteFile(raw, resp.Body, 0o644); err != nil {
		return err
	}
	if err := sentinel.ValidateContent(resp); err != nil {
		return fmt.Errorf("%w (body saved to %s)", err, raw)
	}

	cube, err := raster.GDALDecoder{}.Decode(resp.Body, resp.ContentType, prof)
	if err != nil {
		return err
	}
	fmt.Printf("Decoded: %d bands, %dx%d\n", cube.Bands, cube.Width, cube.Height)
	return output.WriteGeoTIFF(filepath.Join(*outDir, fmt.Sprintf("tile_%d_%d.tif", i, j)), cube, b, tiler.Resolution())
}

// firstIntersecting walks the grid in assembly order.
func firstIntersecting(t *geometry.Tiler) (int, int, bool) {
	for i := t.Rows() - 1; i >= 0; i-- {
		for j := 0; j < t.Cols(); j++ {
			if t.Intersects(i, j) {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}
