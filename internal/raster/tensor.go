package raster

import "fmt"

// Tensor is a chronological stack of equally shaped cubes.
type Tensor struct {
	Intervals int
	Bands     int
	Height    int
	Width     int
	Data      []float32
}

func Stack(cubes []*Cube) (*Tensor, error) {
	if len(cubes) == 0 {
		return nil, fmt.Errorf("%w: nothing to stack", ErrShape)
	}
	first := cubes[0].Shape()
	t := &Tensor{
		Intervals: len(cubes),
		Bands:     first[0],
		Height:    first[1],
		Width:     first[2],
		Data:      make([]float32, 0, len(cubes)*len(cubes[0].Data)),
	}
	for i, c := range cubes {
		if c.Shape() != first {
			return nil, fmt.Errorf("%w: interval %d has shape %v, expected %v", ErrShape, i, c.Shape(), first)
		}
		t.Data = append(t.Data, c.Data...)
	}
	return t, nil
}

func (t *Tensor) Shape() [4]int { return [4]int{t.Intervals, t.Bands, t.Height, t.Width} }

// Cube returns interval i as a cube sharing the tensor's memory.
func (t *Tensor) Cube(i int) *Cube {
	n := t.Bands * t.Height * t.Width
	return &Cube{Bands: t.Bands, Height: t.Height, Width: t.Width, Data: t.Data[i*n : (i+1)*n]}
}

func (t *Tensor) At(i, b, y, x int) float32 {
	return t.Data[((i*t.Bands+b)*t.Height+y)*t.Width+x]
}
