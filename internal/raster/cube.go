// Package raster holds band-major float32 arrays: Cube for one interval
// (band, row, column) and Tensor for a stack of intervals
// (interval, band, row, column).
package raster

import (
	"errors"
	"fmt"
)

var ErrShape = errors.New("shape mismatch")

type Cube struct {
	Bands  int
	Height int
	Width  int
	Data   []float32
}

// NewCube returns a zero-filled cube.
func NewCube(bands, height, width int) *Cube {
	return &Cube{Bands: bands, Height: height, Width: width, Data: make([]float32, bands*height*width)}
}

func (c *Cube) Shape() [3]int { return [3]int{c.Bands, c.Height, c.Width} }

func (c *Cube) index(b, y, x int) int { return (b*c.Height+y)*c.Width + x }

func (c *Cube) At(b, y, x int) float32 { return c.Data[c.index(b, y, x)] }

func (c *Cube) Set(b, y, x int, v float32) { c.Data[c.index(b, y, x)] = v }

// Band returns the backing slice of band b.
func (c *Cube) Band(b int) []float32 {
	n := c.Height * c.Width
	return c.Data[b*n : (b+1)*n]
}

// ConcatWidth joins cubes left to right. Bands and height must agree.
func ConcatWidth(cubes ...*Cube) (*Cube, error) {
	if len(cubes) == 0 {
		return nil, fmt.Errorf("%w: nothing to concatenate", ErrShape)
	}
	bands, height, width := cubes[0].Bands, cubes[0].Height, 0
	for _, c := range cubes {
		if c.Bands != bands || c.Height != height {
			return nil, fmt.Errorf("%w: cannot join %v to bands=%d height=%d along width", ErrShape, c.Shape(), bands, height)
		}
		width += c.Width
	}
	out := NewCube(bands, height, width)
	for b := 0; b < bands; b++ {
		for y := 0; y < height; y++ {
			off := out.index(b, y, 0)
			for _, c := range cubes {
				row := c.index(b, y, 0)
				off += copy(out.Data[off:off+c.Width], c.Data[row:row+c.Width])
			}
		}
	}
	return out, nil
}

// ConcatHeight joins cubes top to bottom. Bands and width must agree.
func ConcatHeight(cubes ...*Cube) (*Cube, error) {
	if len(cubes) == 0 {
		return nil, fmt.Errorf("%w: nothing to concatenate", ErrShape)
	}
	bands, width, height := cubes[0].Bands, cubes[0].Width, 0
	for _, c := range cubes {
		if c.Bands != bands || c.Width != width {
			return nil, fmt.Errorf("%w: cannot join %v to bands=%d width=%d along height", ErrShape, c.Shape(), bands, width)
		}
		height += c.Height
	}
	out := NewCube(bands, height, width)
	for b := 0; b < bands; b++ {
		off := out.index(b, 0, 0)
		for _, c := range cubes {
			off += copy(out.Data[off:], c.Band(b))
		}
	}
	return out, nil
}

// ConcatBands appends the bands of each cube in order. Height and width
// must agree.
func ConcatBands(cubes ...*Cube) (*Cube, error) {
	if len(cubes) == 0 {
		return nil, fmt.Errorf("%w: nothing to concatenate", ErrShape)
	}
	height, width, bands := cubes[0].Height, cubes[0].Width, 0
	for _, c := range cubes {
		if c.Height != height || c.Width != width {
			return nil, fmt.Errorf("%w: cannot stack %v onto %dx%d", ErrShape, c.Shape(), height, width)
		}
		bands += c.Bands
	}
	out := &Cube{Bands: bands, Height: height, Width: width, Data: make([]float32, 0, bands*height*width)}
	for _, c := range cubes {
		out.Data = append(out.Data, c.Data...)
	}
	return out, nil
}
