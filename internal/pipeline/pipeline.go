// Package pipeline runs the assembler over every interval of a date range
// and stacks the monthly mosaics into one observation tensor.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/forest-guardian/forest-health-mosaic/internal/geometry"
	"github.com/forest-guardian/forest-health-mosaic/internal/interval"
	"github.com/forest-guardian/forest-health-mosaic/internal/log"
	"github.com/forest-guardian/forest-health-mosaic/internal/mosaic"
	"github.com/forest-guardian/forest-health-mosaic/internal/profile"
	"github.com/forest-guardian/forest-health-mosaic/internal/raster"
	"github.com/paulmach/orb"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Assembler produces one mosaic per interval. *mosaic.Assembler implements it.
type Assembler interface {
	Assemble(ctx context.Context, t *geometry.Tiler, mode profile.Mode, start, end time.Time) (*mosaic.Result, error)
}

type Config struct {
	Resolution  float64
	MaxTilePx   int
	Reprojector geometry.Reprojector
	// Intervals splits the run range. Defaults to calendar months.
	Intervals interval.Generator
	// IntervalWorkers bounds how many intervals are assembled at once.
	// Values below 2 run intervals one after another.
	IntervalWorkers int
}

// Observation is the output of a run. Tensor interval i covers Intervals[i].
type Observation struct {
	Mode       profile.Mode
	Tensor     *raster.Tensor
	Intervals  []interval.Interval
	Results    []*mosaic.Result
	Bound      orb.Bound
	Resolution float64
}

type Pipeline struct {
	assembler Assembler
	cfg       Config
	logTag    string
}

func New(a Assembler, cfg Config) *Pipeline {
	if cfg.Resolution <= 0 {
		cfg.Resolution = geometry.DefaultResolution
	}
	if cfg.MaxTilePx <= 0 {
		cfg.MaxTilePx = geometry.DefaultMaxTilePx
	}
	if cfg.Reprojector == nil {
		cfg.Reprojector = geometry.NewReprojector()
	}
	if cfg.Intervals == nil {
		cfg.Intervals = interval.Monthly
	}
	return &Pipeline{assembler: a, cfg: cfg, logTag: log.TagCore}
}

// Run tiles the AOI once and assembles every interval of [start, end].
// Any interval failure aborts the run and no tensor is returned.
func (p *Pipeline) Run(ctx context.Context, aoi *geometry.AOI, start, end time.Time, mode profile.Mode) (*Observation, error) {
	intervals, err := p.cfg.Intervals(start, end)
	if err != nil {
		return nil, err
	}
	if len(intervals) == 0 {
		return nil, fmt.Errorf("%w: no intervals between %s and %s",
			interval.ErrRange, start.Format(time.DateOnly), end.Format(time.DateOnly))
	}

	tiler, err := geometry.NewTiler(aoi, p.cfg.Resolution, p.cfg.MaxTilePx, p.cfg.Reprojector)
	if err != nil {
		return nil, err
	}
	log.Info(p.logTag+"starting download pipeline",
		zap.String("mode", string(mode)),
		zap.Int("intervals", len(intervals)),
		zap.Int("rows", tiler.Rows()),
		zap.Int("cols", tiler.Cols()),
		zap.Float64("resolution", p.cfg.Resolution))

	results := make([]*mosaic.Result, len(intervals))
	if p.cfg.IntervalWorkers > 1 {
		err = p.runConcurrent(ctx, tiler, mode, intervals, results)
	} else {
		err = p.runSequential(ctx, tiler, mode, intervals, results)
	}
	if err != nil {
		return nil, err
	}

	cubes := make([]*raster.Cube, len(results))
	for i, r := range results {
		cubes[i] = r.Cube
	}
	tensor, err := raster.Stack(cubes)
	if err != nil {
		return nil, err
	}
	shape := tensor.Shape()
	log.Info(p.logTag+"download pipeline finished", zap.Ints("shape", shape[:]))

	return &Observation{
		Mode:       mode,
		Tensor:     tensor,
		Intervals:  intervals,
		Results:    results,
		Bound:      tiler.Bound(),
		Resolution: p.cfg.Resolution,
	}, nil
}

func (p *Pipeline) runSequential(ctx context.Context, t *geometry.Tiler, mode profile.Mode, intervals []interval.Interval, results []*mosaic.Result) error {
	for i, iv := range intervals {
		r, err := p.assemble(ctx, t, mode, iv)
		if err != nil {
			return err
		}
		results[i] = r
	}
	return nil
}

func (p *Pipeline) runConcurrent(ctx context.Context, t *geometry.Tiler, mode profile.Mode, intervals []interval.Interval, results []*mosaic.Result) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.IntervalWorkers)
	for i, iv := range intervals {
		g.Go(func() error {
			r, err := p.assemble(ctx, t, mode, iv)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	return g.Wait()
}

func (p *Pipeline) assemble(ctx context.Context, t *geometry.Tiler, mode profile.Mode, iv interval.Interval) (*mosaic.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := p.assembler.Assemble(ctx, t, mode, iv.Start, iv.End)
	if err != nil {
		log.Error(p.logTag+"interval failed", zap.String("interval", iv.Label()), zap.Error(err))
		return nil, fmt.Errorf("interval %s: %w", iv.Label(), err)
	}
	fetched, skipped, failed := r.Counts()
	log.Info(p.logTag+"interval assembled",
		zap.String("interval", iv.Label()),
		zap.Int("fetched", fetched),
		zap.Int("non_intersecting", skipped),
		zap.Int("failed", failed))
	return r, nil
}
