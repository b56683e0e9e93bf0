package output

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fogleman/gg"
	"github.com/forest-guardian/forest-health-mosaic/internal/log"
	"github.com/forest-guardian/forest-health-mosaic/internal/profile"
	"github.com/forest-guardian/forest-health-mosaic/internal/raster"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

var ErrNoValidPixels = errors.New("no valid pixels to stretch")

// Percentiles used to clip the contrast stretch.
const (
	StretchLow  = 0.02
	StretchHigh = 0.98
)

// Stretch returns the low and high quantiles of the valid values. Zero and
// NaN values are gaps in the mosaic and are ignored.
func Stretch(values []float32, low, high float64) (lo, hi float64, err error) {
	valid := make([]float64, 0, len(values))
	for _, v := range values {
		if v == 0 || math.IsNaN(float64(v)) {
			continue
		}
		valid = append(valid, float64(v))
	}
	if len(valid) == 0 {
		return 0, 0, ErrNoValidPixels
	}
	sort.Float64s(valid)
	return stat.Quantile(low, stat.Empirical, valid, nil), stat.Quantile(high, stat.Empirical, valid, nil), nil
}

func normalize(value, min, max float64) float64 {
	if max == min {
		return 0
	}
	norm := (value - min) / (max - min)
	if norm < 0 {
		return 0
	}
	if norm > 1 {
		return 1
	}
	return norm
}

// valueToColor maps [0,1] onto a blue-green-red ramp.
func valueToColor(norm float64) color.RGBA {
	var r, g, b uint8
	if norm <= 0.5 {
		ratio := norm / 0.5
		g = uint8(255 * ratio)
		b = uint8(255 * (1 - ratio))
	} else {
		ratio := (norm - 0.5) / 0.5
		r = uint8(255 * ratio)
		g = uint8(255 * (1 - ratio))
	}
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// QuicklookBands picks the bands to render for a profile: a true colour
// composite when red, green and blue are available, otherwise ndvi, otherwise
// the first band.
func QuicklookBands(p profile.Profile) []int {
	find := func(names ...string) int {
		for i, n := range p.BandNames {
			for _, want := range names {
				if strings.EqualFold(n, want) {
					return i
				}
			}
		}
		return -1
	}
	r, g, b := find("red", "B04"), find("green", "B03"), find("blue", "B02")
	if r >= 0 && g >= 0 && b >= 0 {
		return []int{r, g, b}
	}
	if i := find("ndvi"); i >= 0 {
		return []int{i}
	}
	return []int{0}
}

// Quicklook renders one band through the colour ramp or three bands as RGB,
// each stretched between its 2nd and 98th percentile. Gaps are black.
func Quicklook(cube *raster.Cube, bands []int) (image.Image, error) {
	if len(bands) != 1 && len(bands) != 3 {
		return nil, fmt.Errorf("quicklook needs 1 or 3 bands, got %d", len(bands))
	}
	type scale struct{ lo, hi float64 }
	scales := make([]scale, len(bands))
	for i, b := range bands {
		if b < 0 || b >= cube.Bands {
			return nil, fmt.Errorf("band %d out of range [0,%d)", b, cube.Bands)
		}
		lo, hi, err := Stretch(cube.Band(b), StretchLow, StretchHigh)
		if err != nil {
			return nil, fmt.Errorf("band %d: %w", b, err)
		}
		scales[i] = scale{lo, hi}
	}

	img := image.NewRGBA(image.Rect(0, 0, cube.Width, cube.Height))
	for y := 0; y < cube.Height; y++ {
		for x := 0; x < cube.Width; x++ {
			if len(bands) == 1 {
				v := float64(cube.At(bands[0], y, x))
				if v == 0 || math.IsNaN(v) {
					img.SetRGBA(x, y, color.RGBA{A: 255})
					continue
				}
				img.SetRGBA(x, y, valueToColor(normalize(v, scales[0].lo, scales[0].hi)))
				continue
			}
			var px [3]uint8
			for i, b := range bands {
				v := float64(cube.At(b, y, x))
				if math.IsNaN(v) {
					v = 0
				}
				px[i] = uint8(255 * normalize(v, scales[i].lo, scales[i].hi))
			}
			img.SetRGBA(x, y, color.RGBA{R: px[0], G: px[1], B: px[2], A: 255})
		}
	}
	return img, nil
}

// WriteQuicklook renders cube and saves it as a PNG with caption drawn in
// the top-left corner.
func WriteQuicklook(path string, cube *raster.Cube, bands []int, caption string) (image.Image, error) {
	img, err := Quicklook(cube, bands)
	if err != nil {
		return nil, err
	}
	dc := gg.NewContext(cube.Width, cube.Height)
	dc.DrawImage(img, 0, 0)
	if caption != "" {
		dc.SetRGB(1, 1, 1)
		dc.DrawStringAnchored(caption, 4, 4, 0, 1)
	}
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create output folder: %w", err)
	}
	if err := dc.SavePNG(path); err != nil {
		return nil, fmt.Errorf("failed to save quicklook: %w", err)
	}
	log.Info(log.TagOutput+"quicklook written", zap.String("path", path), zap.Ints("bands", bands))
	return dc.Image(), nil
}
