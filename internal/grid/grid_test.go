package grid

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsNonPositiveDimensions(t *testing.T) {
	cases := []struct {
		name          string
		width, height int
	}{
		{name: "zero width", width: 0, height: 5},
		{name: "negative height", width: 5, height: -1},
		{name: "too wide", width: MaxDimension + 1, height: 5},
		{name: "overflowing area", width: 1 << 40, height: 1 << 40},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.width, tc.height)
			if !errors.Is(err, ErrInvalidDimensions) {
				t.Fatalf("want ErrInvalidDimensions, got %v", err)
			}
		})
	}
}

func TestGrid_Check(t *testing.T) {
	g, err := New(10, 10)
	require.NoError(t, err)

	assert.NoError(t, g.Check(Position{X: 0, Y: 0}))
	assert.NoError(t, g.Check(Position{X: 9, Y: 9}))
	assert.ErrorIs(t, g.Check(Position{X: 10, Y: 0}), ErrOutOfBounds)
	assert.ErrorIs(t, g.Check(Position{X: 0, Y: -1}), ErrOutOfBounds)
}

func TestNew_AcceptsMaxDimension(t *testing.T) {
	g, err := New(MaxDimension, MaxDimension)
	require.NoError(t, err)
	assert.Len(t, g.Cells(), MaxDimension*MaxDimension)
}

func TestGrid_CheckSquare(t *testing.T) {
	g, err := New(10, 10)
	require.NoError(t, err)

	cases := []struct {
		name   string
		origin Position
		size   int
		ok     bool
	}{
		{name: "single cell", origin: Position{X: 9, Y: 9}, size: 1, ok: true},
		{name: "fills board", origin: Position{X: 0, Y: 0}, size: 10, ok: true},
		{name: "spills right", origin: Position{X: 9, Y: 0}, size: 2},
		{name: "spills down", origin: Position{X: 0, Y: 9}, size: 2},
		{name: "origin outside", origin: Position{X: -1, Y: 0}, size: 1},
		{name: "zero size", origin: Position{X: 0, Y: 0}, size: 0},
		{name: "huge size", origin: Position{X: 0, Y: 0}, size: 1 << 40},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := g.CheckSquare(tc.origin, tc.size)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrOutOfBounds)
		})
	}
}

func TestChebyshev(t *testing.T) {
	cases := []struct {
		a, b Position
		want int
	}{
		{Position{2, 2}, Position{2, 2}, 0},
		{Position{2, 2}, Position{5, 2}, 3},
		{Position{0, 0}, Position{3, 3}, 3},
		{Position{0, 0}, Position{1, 4}, 4},
		{Position{4, 1}, Position{0, 3}, 4},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Chebyshev(tc.a, tc.b), "%s -> %s", tc.a, tc.b)
	}
}

func TestSquare(t *testing.T) {
	got := Square(Position{X: 3, Y: 4}, 2)
	assert.Equal(t, []Position{{3, 4}, {4, 4}, {3, 5}, {4, 5}}, got)
	assert.Equal(t, []Position{{1, 1}}, Square(Position{X: 1, Y: 1}, 0))
}

func TestSightLine(t *testing.T) {
	cases := []struct {
		name     string
		from, to Position
		want     []Position
	}{
		{name: "same cell", from: Position{2, 2}, to: Position{2, 2}, want: []Position{}},
		{name: "adjacent", from: Position{2, 2}, to: Position{3, 2}, want: []Position{}},
		{name: "horizontal", from: Position{2, 2}, to: Position{5, 2}, want: []Position{{3, 2}, {4, 2}}},
		{name: "vertical up", from: Position{1, 4}, to: Position{1, 1}, want: []Position{{1, 3}, {1, 2}}},
		{name: "pure diagonal", from: Position{0, 0}, to: Position{3, 3}, want: []Position{{1, 1}, {2, 2}}},
		{name: "knight", from: Position{0, 0}, to: Position{2, 1}, want: []Position{{1, 0}, {1, 1}}},
		{name: "shallow", from: Position{0, 0}, to: Position{4, 1}, want: []Position{{1, 0}, {2, 0}, {2, 1}, {3, 1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SightLine(tc.from, tc.to))
		})
	}
}

func TestSightLine_Symmetric(t *testing.T) {
	g, err := New(7, 7)
	require.NoError(t, err)
	origin := Position{X: 3, Y: 3}
	for _, target := range g.Cells() {
		fwd := SightLine(origin, target)
		back := SightLine(target, origin)
		assert.ElementsMatch(t, fwd, back, "%s <-> %s", origin, target)
	}
}

func TestSightLine_LengthMatchesSupercover(t *testing.T) {
	// Every step moves one axis or crosses a corner, so the line never skips
	// a cell and never exceeds |dx|+|dy|-1 intermediate cells.
	from := Position{X: 1, Y: 2}
	to := Position{X: 8, Y: 5}
	line := SightLine(from, to)
	require.NotEmpty(t, line)
	prev := from
	for _, p := range line {
		assert.LessOrEqual(t, Chebyshev(prev, p), 1)
		prev = p
	}
	assert.LessOrEqual(t, Chebyshev(prev, to), 1)
	assert.LessOrEqual(t, len(line), 7+3-1)
}
