// Package mosaic fetches every tile of a grid for one time interval and
// stitches the results into a single cube.
package mosaic

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/forest-guardian/forest-health-mosaic/internal/cache"
	"github.com/forest-guardian/forest-health-mosaic/internal/geometry"
	"github.com/forest-guardian/forest-health-mosaic/internal/log"
	"github.com/forest-guardian/forest-health-mosaic/internal/profile"
	"github.com/forest-guardian/forest-health-mosaic/internal/raster"
	"github.com/forest-guardian/forest-health-mosaic/internal/sentinel"
	"github.com/gammazero/workerpool"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	ErrNoData = errors.New("no valid tiles found")

	errEmptyTile = errors.New("tile is smaller than one pixel")
)

// Fetcher builds and sends provider requests. *sentinel.Client implements it
// and paces every attempt it makes.
type Fetcher interface {
	BuildRequest(p sentinel.RequestParams) (*sentinel.Request, error)
	Send(ctx context.Context, r *sentinel.Request) (*sentinel.Response, error)
}

// Decoder turns a validated body into a cube.
type Decoder interface {
	Decode(body []byte, contentType string, p profile.Profile) (*raster.Cube, error)
}

// CachedTile is a validated provider body.
type CachedTile struct {
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

type Options struct {
	// Workers bounds concurrent tile requests. Values below 2 fetch
	// sequentially.
	Workers int
	Cache   cache.CacheService[CachedTile]
	// DebugDir receives bodies that passed validation but failed to decode.
	DebugDir string
	Progress bool
}

type Assembler struct {
	fetcher Fetcher
	decoder Decoder
	opts    Options
	logTag  string
}

func NewAssembler(f Fetcher, d Decoder, opts Options) *Assembler {
	if d == nil {
		d = raster.GDALDecoder{}
	}
	return &Assembler{fetcher: f, decoder: d, opts: opts, logTag: log.TagDataDownload}
}

type job struct {
	index int
	req   *sentinel.Request
}

// Assemble requests every intersecting tile for [start, end] and stitches
// the grid. Request construction errors abort; per-tile failures are zero
// filled. ErrNoData is returned when no tile yields data.
func (a *Assembler) Assemble(ctx context.Context, t *geometry.Tiler, mode profile.Mode, start, end time.Time) (*Result, error) {
	rows, cols := t.Rows(), t.Cols()
	outcomes := make([]TileOutcome, 0, rows*cols)
	var jobs []job

	for i := rows - 1; i >= 0; i-- {
		for j := 0; j < cols; j++ {
			b := t.BBox(i, j)
			w, h := geometry.PixelSize(b, t.Resolution())
			o := TileOutcome{Row: i, Col: j, BBox: b, Width: w, Height: h}
			switch {
			case !t.Intersects(i, j):
				o.Status = NonIntersecting
			case w == 0 || h == 0:
				o.Status, o.Err = Failed, errEmptyTile
			default:
				bb := b
				req, err := a.fetcher.BuildRequest(sentinel.RequestParams{
					Mode:   mode,
					Start:  start,
					End:    end,
					BBox:   &bb,
					CRS:    geometry.WebMercator,
					Width:  w,
					Height: h,
				})
				if err != nil {
					return nil, fmt.Errorf("tile %d_%d: %w", i, j, err)
				}
				jobs = append(jobs, job{index: len(outcomes), req: req})
			}
			outcomes = append(outcomes, o)
		}
	}

	log.Info(a.logTag+"assembling interval",
		zap.String("mode", string(mode)),
		zap.String("start", start.Format(time.DateOnly)),
		zap.String("end", end.Format(time.DateOnly)),
		zap.Int("tiles", len(outcomes)),
		zap.Int("requests", len(jobs)))

	var bar *progressbar.ProgressBar
	desc := fmt.Sprintf("Tiles %s", start.Format("2006-01"))
	if a.opts.Progress {
		bar = progressbar.Default(int64(len(jobs)), desc)
	} else {
		bar = progressbar.DefaultSilent(int64(len(jobs)), desc)
	}

	run := func(jb job) {
		o := &outcomes[jb.index]
		a.fetchTile(ctx, o, jb.req, mode, start, end)
		bar.Add(1)
	}
	if a.opts.Workers > 1 {
		wp := workerpool.New(a.opts.Workers)
		for _, jb := range jobs {
			wp.Submit(func() { run(jb) })
		}
		wp.StopWait()
	} else {
		for _, jb := range jobs {
			run(jb)
		}
	}
	bar.Finish()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return a.stitch(outcomes, rows, cols)
}

func (a *Assembler) fetchTile(ctx context.Context, o *TileOutcome, req *sentinel.Request, mode profile.Mode, start, end time.Time) {
	fail := func(err error) {
		o.Status, o.Err = Failed, err
		log.Warn(a.logTag+"tile failed", zap.Int("row", o.Row), zap.Int("col", o.Col), zap.Error(err))
	}
	if err := ctx.Err(); err != nil {
		fail(err)
		return
	}

	var key string
	var body CachedTile
	hit := false
	if a.opts.Cache != nil {
		key = a.opts.Cache.GenerateKey(mode, o.BBox.Min[0], o.BBox.Min[1], o.BBox.Max[0], o.BBox.Max[1], o.Width, o.Height,
			start.Format(time.DateOnly), end.Format(time.DateOnly))
		body, hit = a.opts.Cache.Get(key)
	}

	if !hit {
		resp, err := a.fetcher.Send(ctx, req)
		if err != nil {
			fail(err)
			return
		}
		if err := sentinel.ValidateContent(resp); err != nil {
			fail(err)
			return
		}
		body = CachedTile{ContentType: resp.ContentType, Body: resp.Body}
		if a.opts.Cache != nil {
			if err := a.opts.Cache.Set(key, body); err != nil {
				log.Warn(a.logTag+"failed to cache tile", zap.Error(err))
			}
		}
	}
	o.Cached = hit

	cube, err := a.decoder.Decode(body.Body, body.ContentType, req.Profile)
	if err != nil {
		a.dump(o, body.Body)
		fail(err)
		return
	}
	if cube.Height != o.Height || cube.Width != o.Width {
		fail(fmt.Errorf("%w: decoded %dx%d, requested %dx%d", raster.ErrShape, cube.Width, cube.Height, o.Width, o.Height))
		return
	}
	o.Status, o.Cube = Fetched, cube
	log.Debug(a.logTag+"tile fetched", zap.Int("row", o.Row), zap.Int("col", o.Col), zap.Int("bands", cube.Bands), zap.Bool("cached", hit))
}

func (a *Assembler) dump(o *TileOutcome, body []byte) {
	if a.opts.DebugDir == "" {
		return
	}
	if err := os.MkdirAll(a.opts.DebugDir, 0755); err != nil {
		log.Warn(a.logTag+"failed to create debug dir", zap.Error(err))
		return
	}
	path := filepath.Join(a.opts.DebugDir, fmt.Sprintf("debug_response_tile_%d_%d.bin", o.Row, o.Col))
	if err := os.WriteFile(path, body, 0644); err != nil {
		log.Warn(a.logTag+"failed to write debug tile", zap.Error(err))
		return
	}
	log.Info(a.logTag+"saved undecodable tile", zap.String("path", path))
}

// stitch zero fills absent tiles with the band count of the first fetched
// tile, joins each row along width and then the rows along height.
func (a *Assembler) stitch(outcomes []TileOutcome, rows, cols int) (*Result, error) {
	bands := 0
	var reasons error
	for k := range outcomes {
		o := &outcomes[k]
		if o.Status == Failed {
			reasons = multierr.Append(reasons, fmt.Errorf("tile %d_%d: %w", o.Row, o.Col, o.Err))
		}
		if o.Status != Fetched {
			continue
		}
		if bands == 0 {
			bands = o.Cube.Bands
			continue
		}
		if o.Cube.Bands != bands {
			o.Err = fmt.Errorf("%w: tile has %d bands, mosaic has %d", raster.ErrShape, o.Cube.Bands, bands)
			o.Status, o.Cube = Failed, nil
			log.Warn(a.logTag+"tile failed", zap.Int("row", o.Row), zap.Int("col", o.Col), zap.Error(o.Err))
		}
	}
	if bands == 0 {
		if reasons == nil {
			return nil, ErrNoData
		}
		return nil, fmt.Errorf("%w: %w", ErrNoData, reasons)
	}

	rowCubes := make([]*raster.Cube, 0, rows)
	for r := 0; r < rows; r++ {
		parts := make([]*raster.Cube, 0, cols)
		for _, o := range outcomes[r*cols : (r+1)*cols] {
			if o.Status == Fetched {
				parts = append(parts, o.Cube)
			} else {
				parts = append(parts, raster.NewCube(bands, o.Height, o.Width))
			}
		}
		row, err := raster.ConcatWidth(parts...)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", outcomes[r*cols].Row, err)
		}
		rowCubes = append(rowCubes, row)
	}
	cube, err := raster.ConcatHeight(rowCubes...)
	if err != nil {
		return nil, err
	}

	res := &Result{Cube: cube, Bands: bands, Outcomes: outcomes}
	fetched, skipped, failed := res.Counts()
	shape := cube.Shape()
	log.Info(a.logTag+"interval assembled",
		zap.Int("fetched", fetched), zap.Int("nonIntersecting", skipped), zap.Int("failed", failed),
		zap.Ints("shape", shape[:]))
	return res, nil
}
