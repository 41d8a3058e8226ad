package grid

import (
	"errors"
	"fmt"
)

// MaxDimension bounds each side of a board. Every per-cell scan is
// proportional to Width*Height, so callers cannot size a board past it.
const MaxDimension = 256

var ErrInvalidDimensions = errors.New("invalid grid dimensions")
var ErrOutOfBounds = errors.New("position out of bounds")

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Grid is the bounded board [0,Width) x [0,Height).
type Grid struct {
	Width  int
	Height int
}

func New(width, height int) (Grid, error) {
	if width <= 0 || height <= 0 || width > MaxDimension || height > MaxDimension {
		return Grid{}, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	return Grid{Width: width, Height: height}, nil
}

func (g Grid) Contains(p Position) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < g.Width && p.Y < g.Height
}

func (g Grid) Check(p Position) error {
	if !g.Contains(p) {
		return fmt.Errorf("%w: %s on %dx%d", ErrOutOfBounds, p, g.Width, g.Height)
	}
	return nil
}

// CheckSquare fails unless the size x size square anchored at origin lies
// inside the grid. It never enumerates the square.
func (g Grid) CheckSquare(origin Position, size int) error {
	if err := g.Check(origin); err != nil {
		return err
	}
	if size < 1 || size > g.Width-origin.X || size > g.Height-origin.Y {
		return fmt.Errorf("%w: %dx%d square at %s on %dx%d", ErrOutOfBounds, size, size, origin, g.Width, g.Height)
	}
	return nil
}

// Cells returns every cell in row-major order.
func (g Grid) Cells() []Position {
	out := make([]Position, 0, g.Width*g.Height)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			out = append(out, Position{X: x, Y: y})
		}
	}
	return out
}

// Chebyshev is the 8-directional grid distance max(|dx|, |dy|).
func Chebyshev(a, b Position) int {
	return max(abs(a.X-b.X), abs(a.Y-b.Y))
}

// Square returns the size x size footprint anchored at origin, row-major.
func Square(origin Position, size int) []Position {
	if size < 1 {
		size = 1
	}
	out := make([]Position, 0, size*size)
	for dy := 0; dy < size; dy++ {
		for dx := 0; dx < size; dx++ {
			out = append(out, Position{X: origin.X + dx, Y: origin.Y + dy})
		}
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
