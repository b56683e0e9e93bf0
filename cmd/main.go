package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/airbusgeo/godal"
	"github.com/common-nighthawk/go-figure"
	bannercolor "github.com/fatih/color"
	"github.com/forest-guardian/forest-health-mosaic/internal/cache"
	"github.com/forest-guardian/forest-health-mosaic/internal/geometry"
	"github.com/forest-guardian/forest-health-mosaic/internal/handoff"
	"github.com/forest-guardian/forest-health-mosaic/internal/interval"
	"github.com/forest-guardian/forest-health-mosaic/internal/log"
	"github.com/forest-guardian/forest-health-mosaic/internal/mosaic"
	"github.com/forest-guardian/forest-health-mosaic/internal/notification"
	"github.com/forest-guardian/forest-health-mosaic/internal/pipeline"
	"github.com/forest-guardian/forest-health-mosaic/internal/profile"
	"github.com/forest-guardian/forest-health-mosaic/internal/properties"
	"github.com/forest-guardian/forest-health-mosaic/internal/raster"
	"github.com/forest-guardian/forest-health-mosaic/internal/sentinel"
	"github.com/forest-guardian/forest-health-mosaic/output"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/paulmach/orb"
	"go.uber.org/zap"
)

func printBanner() {
	figure1 := figure.NewFigure("Forest", "isometric1", true)
	figure2 := figure.NewFigure("Mosaic", "isometric1", true)
	bannercolor.Cyan(figure1.String())
	bannercolor.Cyan(figure2.String())
	fmt.Println()
}

// cliOptions are the flags that are not part of properties.Settings.
type cliOptions struct {
	clusteringAddr string
	listKey        string
	noBanner       bool
	notify         bool
}

func parseFlags(args []string, s *properties.Settings) (cliOptions, error) {
	opts := cliOptions{clusteringAddr: properties.ClusteringServiceAddr()}
	fs := flag.NewFlagSet("forest-health-mosaic", flag.ContinueOnError)

	fs.StringVar(&s.GeometryFile, "geometry", s.GeometryFile, "GeoJSON file with the AOI (looked up in data/geojsons when not found)")
	fs.StringVar(&s.FeatureKey, "feature-key", s.FeatureKey, "property used to select the AOI feature")
	fs.StringVar(&s.FeatureValue, "feature-value", s.FeatureValue, "value of -feature-key identifying the AOI feature")
	fs.StringVar(&s.CRS, "crs", s.CRS, "CRS of the AOI coordinates")
	fs.StringVar(&s.Mode, "mode", s.Mode, "request profile: RGB, ALL or INDICES")
	fs.StringVar(&s.StartDate, "start", s.StartDate, "first day, YYYY-MM-DD or now")
	fs.StringVar(&s.EndDate, "end", s.EndDate, "last day, YYYY-MM-DD or now")
	fs.StringVar(&s.Intervals, "intervals", s.Intervals, "interval kind: monthly, july or days:<n>")
	fs.Float64Var(&s.Resolution, "resolution", s.Resolution, "pixel size in metres")
	fs.IntVar(&s.MaxTilePixels, "max-tile-px", s.MaxTilePixels, "maximum tile width and height in pixels")
	fs.DurationVar(&s.Pacing, "pacing", s.Pacing, "minimum delay between provider requests")
	fs.IntVar(&s.MaxRetries, "max-retries", s.MaxRetries, "attempts per tile request")
	fs.DurationVar(&s.Timeout, "timeout", s.Timeout, "timeout of each HTTP call")
	fs.IntVar(&s.TileWorkers, "tile-workers", s.TileWorkers, "concurrent tile requests per interval")
	fs.IntVar(&s.MonthWorkers, "interval-workers", s.MonthWorkers, "intervals assembled concurrently")
	fs.StringVar(&s.OutputDir, "out", s.OutputDir, "output folder")
	fs.DurationVar(&s.CacheMaxAge, "cache-max-age", s.CacheMaxAge, "reuse cached tiles younger than this, 0 disables the cache")
	fs.BoolVar(&s.Timelapse, "timelapse", s.Timelapse, "write an AVI of the quicklooks")
	fs.StringVar(&s.LogLevel, "log-level", s.LogLevel, "debug, info, warn or error")
	fs.BoolVar(&s.LogJSON, "log-json", s.LogJSON, "log as JSON")
	fs.StringVar(&opts.clusteringAddr, "clustering-addr", opts.clusteringAddr, "clustering service address, empty skips the handoff")
	fs.StringVar(&opts.listKey, "list", "", "print the values of this property for every feature of -geometry and exit")
	fs.BoolVar(&opts.noBanner, "no-banner", false, "do not print the banner")
	fs.BoolVar(&opts.notify, "notify", true, "send Discord notifications when webhooks are configured")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if (s.FeatureKey == "") != (s.FeatureValue == "") {
		return opts, errors.New("-feature-key and -feature-value must be given together")
	}
	return opts, nil
}

// resolveGeometryPath returns path when it exists, otherwise the file of
// the same name under data/geojsons.
func resolveGeometryPath(path string) string {
	if _, err := os.Stat(path); err == nil || filepath.IsAbs(path) {
		return path
	}
	alt := properties.DataPath("geojsons", path)
	if _, err := os.Stat(alt); err == nil {
		return alt
	}
	return path
}

func listFeatures(path, key string) error {
	values, err := geometry.FeatureValues(path, key)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return fmt.Errorf("no feature of %s has a %q property", path, key)
	}
	bannercolor.Green("Available %s values in %s:", key, path)
	for _, v := range values {
		bannercolor.Green("- %s", v)
	}
	return nil
}

func loadEnv() {
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			return
		}
	}
}

func main() {
	loadEnv()

	settings, err := properties.SettingsFromEnv()
	if err != nil {
		bannercolor.Red("Invalid environment: %s", err)
		os.Exit(2)
	}
	opts, err := parseFlags(os.Args[1:], &settings)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		bannercolor.Red("%s", err)
		os.Exit(2)
	}
	if err := log.Init(settings.LogLevel, settings.LogJSON); err != nil {
		bannercolor.Red("Invalid log level: %s", err)
		os.Exit(2)
	}
	defer log.Sync()

	if !opts.noBanner {
		printBanner()
	}
	if opts.listKey != "" {
		if err := listFeatures(resolveGeometryPath(settings.GeometryFile), opts.listKey); err != nil {
			bannercolor.Red("%s", err)
			os.Exit(1)
		}
		return
	}
	godal.RegisterAll()

	notifier := notification.FromEnv()
	if !opts.notify {
		notifier = &notification.Notifier{}
	}
	runID := uuid.NewString()

	defer func() {
		if r := recover(); r != nil {
			bannercolor.Red("PANIC: %v", r)
			msg := fmt.Errorf("panic: %v\n\nStack trace:\n%s", r, debug.Stack())
			if err := notifier.SendError(context.Background(), runID, msg); err != nil {
				bannercolor.Red("Failed to send notification: %s", err)
			}
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := run(ctx, runID, settings, opts)
	if err != nil {
		log.Error(log.TagCore+"run failed", zap.String("run_id", runID), zap.Error(err))
		bannercolor.Red("\nRun %s failed: %s", runID, err)
		if nerr := notifier.SendError(ctx, runID, err); nerr != nil {
			bannercolor.Red("Failed to send notification: %s", nerr)
		}
		stop()
		log.Sync()
		os.Exit(1)
	}
	bannercolor.Green("\nRun %s finished, outputs in %s", runID, filepath.Join(settings.OutputDir, runID))
	if err := notifier.SendSuccess(ctx, summary); err != nil {
		bannercolor.Red("Failed to send notification: %s", err)
	}
}

func run(ctx context.Context, runID string, s properties.Settings, opts cliOptions) (notification.RunSummary, error) {
	started := time.Now()
	summary := notification.RunSummary{RunID: runID, Mode: s.Mode}

	crs, err := geometry.ParseCRS(s.CRS)
	if err != nil {
		return summary, err
	}
	path := resolveGeometryPath(s.GeometryFile)
	var aoi *geometry.AOI
	if s.FeatureKey != "" {
		aoi, err = geometry.ReadAOIByProperty(path, crs, s.FeatureKey, s.FeatureValue)
	} else {
		aoi, err = geometry.ReadAOI(path, crs)
	}
	if err != nil {
		return summary, err
	}
	reprojector := geometry.NewReprojector()
	if c, err := aoi.Centroid(); err == nil {
		if g, err := reprojector.Reproject(c, crs, geometry.WGS84); err == nil {
			if p, ok := g.(orb.Point); ok {
				summary.Longitude, summary.Latitude = p[0], p[1]
			}
		}
	}

	mode := profile.ParseMode(s.Mode)
	registry := profile.Default()
	prof, err := registry.Lookup(mode)
	if err != nil {
		return summary, err
	}
	summary.Mode = string(mode)

	start, err := interval.ParseDate(s.StartDate)
	if err != nil {
		return summary, err
	}
	end, err := interval.ParseDate(s.EndDate)
	if err != nil {
		return summary, err
	}
	summary.Start, summary.End = start, end
	intervals, err := interval.ParseGenerator(s.Intervals)
	if err != nil {
		return summary, err
	}

	creds, err := sentinel.CredentialsFromEnv()
	if err != nil {
		return summary, err
	}
	client, err := sentinel.NewClient(creds, sentinel.Options{
		ProcessURL: sentinel.ProcessURLFromEnv(),
		Registry:   registry,
		MaxRetries: s.MaxRetries,
		Timeout:    s.Timeout,
		Limiter:    sentinel.NewLimiter(s.Pacing),
	})
	if err != nil {
		return summary, err
	}

	runDir := filepath.Join(s.OutputDir, runID)
	assemblerOpts := mosaic.Options{
		Workers:  s.TileWorkers,
		DebugDir: filepath.Join(runDir, "debug"),
		Progress: true,
	}
	if s.CacheMaxAge > 0 {
		assemblerOpts.Cache = cache.NewFileCache[mosaic.CachedTile]("tiles", s.CacheMaxAge)
	}
	assembler := mosaic.NewAssembler(client, raster.GDALDecoder{}, assemblerOpts)

	pipe := pipeline.New(assembler, pipeline.Config{
		Resolution:      s.Resolution,
		MaxTilePx:       s.MaxTilePixels,
		Reprojector:     reprojector,
		Intervals:       intervals,
		IntervalWorkers: s.MonthWorkers,
	})

	log.Info(log.TagCore+"run started",
		zap.String("run_id", runID),
		zap.String("geometry", path),
		zap.String("mode", string(mode)),
		zap.String("start", start.Format(time.DateOnly)),
		zap.String("end", end.Format(time.DateOnly)))

	obs, err := pipe.Run(ctx, aoi, start, end, mode)
	if err != nil {
		return summary, err
	}
	summary.Intervals = len(obs.Intervals)
	summary.Shape = obs.Tensor.Shape()

	if err := writeOutputs(runDir, runID, obs, prof, s.Timelapse, &summary); err != nil {
		return summary, err
	}

	if opts.clusteringAddr != "" {
		if err := submit(ctx, opts.clusteringAddr, runDir, obs); err != nil {
			return summary, err
		}
	}
	summary.Elapsed = time.Since(started)
	return summary, nil
}

func writeOutputs(runDir, runID string, obs *pipeline.Observation, prof profile.Profile, timelapse bool, summary *notification.RunSummary) error {
	var (
		rows   []mosaic.ManifestRow
		frames []image.Image
		bands  = output.QuicklookBands(prof)
	)
	for i, iv := range obs.Intervals {
		label := iv.Label()
		cube := obs.Tensor.Cube(i)
		if err := output.WriteGeoTIFF(filepath.Join(runDir, label+".tif"), cube, obs.Bound, obs.Resolution); err != nil {
			return err
		}
		frame, err := output.WriteQuicklook(filepath.Join(runDir, "quicklook", label+".png"), cube, bands, label)
		if err != nil {
			log.Warn(log.TagOutput+"quicklook skipped", zap.String("interval", label), zap.Error(err))
		} else {
			frames = append(frames, frame)
		}

		result := obs.Results[i]
		fetched, skipped, failed := result.Counts()
		summary.Fetched += fetched
		summary.Skipped += skipped
		summary.Failed += failed
		rows = append(rows, mosaic.ManifestRows(runID, label, result.Outcomes)...)
	}
	if err := mosaic.WriteManifest(filepath.Join(runDir, "tiles.csv"), rows); err != nil {
		return err
	}
	if timelapse && len(frames) > 1 {
		if _, err := output.WriteTimelapse(filepath.Join(runDir, "timelapse.avi"), frames, 2); err != nil {
			return err
		}
	}
	return nil
}

// submit hands the tensor to the clustering service and stores the labels
// as a single band GeoTIFF.
func submit(ctx context.Context, addr, runDir string, obs *pipeline.Observation) error {
	client, err := handoff.NewClusteringClient(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	labels, err := client.Submit(ctx, obs)
	if err != nil {
		return err
	}
	cube := raster.NewCube(1, labels.Height, labels.Width)
	for i, v := range labels.Values {
		cube.Data[i] = float32(v)
	}
	return output.WriteGeoTIFF(filepath.Join(runDir, "clusters.tif"), cube, obs.Bound, obs.Resolution)
}
