package mosaic

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/forest-guardian/forest-health-mosaic/internal/cache"
	"github.com/forest-guardian/forest-health-mosaic/internal/geometry"
	"github.com/forest-guardian/forest-health-mosaic/internal/profile"
	"github.com/forest-guardian/forest-health-mosaic/internal/raster"
	"github.com/forest-guardian/forest-health-mosaic/internal/sentinel"
	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	jan    = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	janEnd = time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
)

// fakeFetcher builds real payloads and answers with synthetic tiles whose
// value depends on the tile's south-west corner.
type fakeFetcher struct {
	*sentinel.RequestBuilder
	bands   int
	respond func(b orb.Bound, req *sentinel.Request) (*sentinel.Response, error)

	mu   sync.Mutex
	sent []orb.Bound
}

func newFakeFetcher(bands int) *fakeFetcher {
	return &fakeFetcher{RequestBuilder: sentinel.NewRequestBuilder(profile.Default(), ""), bands: bands}
}

func (f *fakeFetcher) Send(ctx context.Context, req *sentinel.Request) (*sentinel.Response, error) {
	bb := req.Input.Bounds.BBox
	b := orb.Bound{Min: orb.Point{bb[0], bb[1]}, Max: orb.Point{bb[2], bb[3]}}
	f.mu.Lock()
	f.sent = append(f.sent, b)
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(b, req)
	}
	return tileResponse(f.bands, req.Output.Height, req.Output.Width, tileValue(b)), nil
}

func (f *fakeFetcher) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func tileValue(b orb.Bound) float32 {
	return float32(b.Min[0]/1000 + b.Min[1]/100 + 1)
}

func tileResponse(bands, height, width int, v float32) *sentinel.Response {
	header := fmt.Sprintf("%d %d %d %g\n", bands, height, width, v)
	return &sentinel.Response{
		StatusCode:  200,
		ContentType: "image/tiff",
		Body:        []byte(header + strings.Repeat(" ", sentinel.MinTileBytes)),
	}
}

type fakeDecoder struct{}

func (fakeDecoder) Decode(body []byte, contentType string, p profile.Profile) (*raster.Cube, error) {
	var (
		bands, h, w int
		v           float32
	)
	if _, err := fmt.Sscanf(string(body), "%d %d %d %g", &bands, &h, &w, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", raster.ErrDecode, err)
	}
	c := raster.NewCube(bands, h, w)
	for i := range c.Data {
		c.Data[i] = v
	}
	return c, nil
}

func filledCube(bands, h, w int, v float32) *raster.Cube {
	c := raster.NewCube(bands, h, w)
	for i := range c.Data {
		c.Data[i] = v
	}
	return c
}

func rect(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{{{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY}}}
}

// splitTiler is one row of three tiles (50, 50 and 10 px wide, 50 px high)
// whose middle tile lies outside the AOI.
func splitTiler(t *testing.T) *geometry.Tiler {
	t.Helper()
	aoi, err := geometry.NewAOI(orb.MultiPolygon{rect(0, 0, 49000, 50000), rect(100500, 0, 110000, 10000)}, geometry.WebMercator)
	require.NoError(t, err)
	tiler, err := geometry.NewTiler(aoi, 1000, 50, geometry.SphericalReprojector{})
	require.NoError(t, err)
	require.Equal(t, 1, tiler.Rows())
	require.Equal(t, 3, tiler.Cols())
	return tiler
}

func newTestAssembler(f Fetcher, opts Options) *Assembler {
	return NewAssembler(f, fakeDecoder{}, opts)
}

func statuses(res *Result) []Status {
	out := make([]Status, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		out = append(out, o.Status)
	}
	return out
}

func TestAssemble_ZeroFillsNonIntersectingTile(t *testing.T) {
	tiler := splitTiler(t)
	f := newFakeFetcher(9)

	res, err := newTestAssembler(f, Options{}).Assemble(context.Background(), tiler, profile.ALL, jan, janEnd)
	require.NoError(t, err)

	assert.Equal(t, []Status{Fetched, NonIntersecting, Fetched}, statuses(res))
	require.Equal(t, 2, f.sentCount())
	for _, b := range f.sent {
		assert.NotEqual(t, tiler.BBox(0, 1), b)
	}

	w01 := res.Outcomes[1].Width
	want, err := raster.ConcatWidth(
		filledCube(9, 50, 50, 1),
		raster.NewCube(9, 50, w01),
		filledCube(9, 50, 10, 101),
	)
	require.NoError(t, err)
	assert.Equal(t, [3]int{9, 50, 110}, res.Cube.Shape())
	assert.Equal(t, 9, res.Bands)
	if diff := cmp.Diff(want, res.Cube); diff != "" {
		t.Errorf("unexpected mosaic (-want +got):\n%s", diff)
	}
}

func TestAssemble_NorthernRowFirst(t *testing.T) {
	aoi, err := geometry.NewAOI(rect(0, 0, 100000, 100000), geometry.WebMercator)
	require.NoError(t, err)
	tiler, err := geometry.NewTiler(aoi, 1000, 50, geometry.SphericalReprojector{})
	require.NoError(t, err)
	f := newFakeFetcher(2)

	res, err := newTestAssembler(f, Options{}).Assemble(context.Background(), tiler, profile.INDICES, jan, janEnd)
	require.NoError(t, err)

	require.Len(t, f.sent, 4)
	assert.Equal(t, tiler.BBox(1, 0), f.sent[0])
	assert.Equal(t, tiler.BBox(0, 1), f.sent[3])
	assert.Equal(t, [2]int{1, 0}, [2]int{res.Outcomes[0].Row, res.Outcomes[0].Col})

	assert.Equal(t, float32(501), res.Cube.At(0, 0, 0))
	assert.Equal(t, float32(551), res.Cube.At(1, 0, 99))
	assert.Equal(t, float32(1), res.Cube.At(0, 99, 0))
	assert.Equal(t, float32(51), res.Cube.At(1, 99, 99))
}

func TestAssemble_Deterministic(t *testing.T) {
	tiler := splitTiler(t)

	first, err := newTestAssembler(newFakeFetcher(9), Options{}).Assemble(context.Background(), tiler, profile.ALL, jan, janEnd)
	require.NoError(t, err)
	second, err := newTestAssembler(newFakeFetcher(9), Options{}).Assemble(context.Background(), tiler, profile.ALL, jan, janEnd)
	require.NoError(t, err)
	parallel, err := newTestAssembler(newFakeFetcher(9), Options{Workers: 4}).Assemble(context.Background(), tiler, profile.ALL, jan, janEnd)
	require.NoError(t, err)

	if diff := cmp.Diff(first.Cube, second.Cube); diff != "" {
		t.Errorf("repeated run differs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.Cube, parallel.Cube); diff != "" {
		t.Errorf("parallel run differs (-sequential +parallel):\n%s", diff)
	}
	assert.Equal(t, statuses(first), statuses(parallel))
}

func TestAssemble_FailedTileIsZeroFilled(t *testing.T) {
	tiler := splitTiler(t)
	f := newFakeFetcher(9)
	f.respond = func(b orb.Bound, req *sentinel.Request) (*sentinel.Response, error) {
		if b.Min[0] == 0 {
			return &sentinel.Response{StatusCode: 200, ContentType: "application/json", Body: []byte(`{"error":{"message":"quota"}}`)}, nil
		}
		return tileResponse(9, req.Output.Height, req.Output.Width, 7), nil
	}

	res, err := newTestAssembler(f, Options{}).Assemble(context.Background(), tiler, profile.ALL, jan, janEnd)
	require.NoError(t, err)
	assert.Equal(t, []Status{Failed, NonIntersecting, Fetched}, statuses(res))
	assert.ErrorIs(t, res.Outcomes[0].Err, sentinel.ErrInvalidTileContent)
	assert.Equal(t, float32(0), res.Cube.At(8, 10, 10))
	assert.Equal(t, float32(7), res.Cube.At(8, 10, 105))
}

func TestAssemble_BandMismatchIsZeroFilled(t *testing.T) {
	tiler := splitTiler(t)
	f := newFakeFetcher(9)
	f.respond = func(b orb.Bound, req *sentinel.Request) (*sentinel.Response, error) {
		bands := 9
		if b.Min[0] > 0 {
			bands = 3
		}
		return tileResponse(bands, req.Output.Height, req.Output.Width, 5), nil
	}

	res, err := newTestAssembler(f, Options{}).Assemble(context.Background(), tiler, profile.ALL, jan, janEnd)
	require.NoError(t, err)
	assert.Equal(t, []Status{Fetched, NonIntersecting, Failed}, statuses(res))
	assert.ErrorIs(t, res.Outcomes[2].Err, raster.ErrShape)
	assert.Equal(t, 9, res.Cube.Bands)
	assert.Equal(t, float32(0), res.Cube.At(0, 0, 105))
}

func TestAssemble_NoData(t *testing.T) {
	tiler := splitTiler(t)
	f := newFakeFetcher(9)
	f.respond = func(orb.Bound, *sentinel.Request) (*sentinel.Response, error) {
		return nil, &sentinel.RetryExhaustedError{Attempts: 3, LastStatus: 503}
	}

	_, err := newTestAssembler(f, Options{}).Assemble(context.Background(), tiler, profile.ALL, jan, janEnd)
	require.ErrorIs(t, err, ErrNoData)
	assert.ErrorIs(t, err, sentinel.ErrRetryExhausted)
	assert.Equal(t, 2, f.sentCount())
}

func TestAssemble_BuildErrorsAreFatal(t *testing.T) {
	f := newFakeFetcher(9)
	_, err := newTestAssembler(f, Options{}).Assemble(context.Background(), splitTiler(t), "NDVI", jan, janEnd)
	require.ErrorIs(t, err, profile.ErrUnsupportedMode)
	assert.Zero(t, f.sentCount())
}

func TestAssemble_DumpsUndecodableTile(t *testing.T) {
	dir := t.TempDir()
	f := newFakeFetcher(9)
	f.respond = func(b orb.Bound, req *sentinel.Request) (*sentinel.Response, error) {
		if b.Min[0] == 0 {
			return &sentinel.Response{StatusCode: 200, ContentType: "image/tiff", Body: []byte(strings.Repeat("garbage ", 200))}, nil
		}
		return tileResponse(9, req.Output.Height, req.Output.Width, 1), nil
	}

	res, err := newTestAssembler(f, Options{DebugDir: dir}).Assemble(context.Background(), splitTiler(t), profile.ALL, jan, janEnd)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Outcomes[0].Err, raster.ErrDecode)

	dumped, err := os.ReadFile(filepath.Join(dir, "debug_response_tile_0_0.bin"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(dumped), "garbage"))
}

func TestAssemble_UsesCache(t *testing.T) {
	tiler := splitTiler(t)
	tiles := cache.NewFileCacheAt[CachedTile](t.TempDir(), 0)

	f := newFakeFetcher(9)
	first, err := newTestAssembler(f, Options{Cache: tiles}).Assemble(context.Background(), tiler, profile.ALL, jan, janEnd)
	require.NoError(t, err)
	assert.Equal(t, 2, f.sentCount())

	again := newFakeFetcher(9)
	second, err := newTestAssembler(again, Options{Cache: tiles}).Assemble(context.Background(), tiler, profile.ALL, jan, janEnd)
	require.NoError(t, err)
	assert.Zero(t, again.sentCount())
	assert.True(t, second.Outcomes[0].Cached)
	assert.Equal(t, first.Cube, second.Cube)
}

func TestAssemble_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := newFakeFetcher(9)

	_, err := newTestAssembler(f, Options{}).Assemble(ctx, splitTiler(t), profile.ALL, jan, janEnd)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, f.sentCount())
}

func TestManifest(t *testing.T) {
	res, err := newTestAssembler(newFakeFetcher(9), Options{}).Assemble(context.Background(), splitTiler(t), profile.ALL, jan, janEnd)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "manifests", "tiles.csv")
	rows := ManifestRows("run-1", "2025-01", res.Outcomes)
	require.NoError(t, WriteManifest(path, rows))

	got, err := ReadManifest(path)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "non_intersecting", got[1].Status)
	assert.Equal(t, 50000.0, got[1].MinX)
	assert.Equal(t, 10, got[2].Width)
	assert.Equal(t, rows, got)
}
