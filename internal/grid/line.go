package grid

// SightLine returns the cells strictly between from and to that a ray cast
// from the center of from to the center of to passes through. Endpoints are
// excluded.
//
// The walk is the tile-center DDA done in integer arithmetic: the k-th
// vertical boundary is crossed at t = (2k+1)/(2|dx|) and the k-th horizontal
// one at t = (2k+1)/(2|dy|), so comparing (2kx+1)*|dy| against (2ky+1)*|dx|
// orders crossings exactly. A ray passing exactly through a corner steps
// diagonally and touches neither side cell. The result is symmetric:
// SightLine(a, b) holds the same cells as SightLine(b, a).
func SightLine(from, to Position) []Position {
	nx, ny := abs(to.X-from.X), abs(to.Y-from.Y)
	sx, sy := sign(to.X-from.X), sign(to.Y-from.Y)

	out := make([]Position, 0, nx+ny)
	x, y := from.X, from.Y
	ix, iy := 0, 0
	for ix < nx || iy < ny {
		lhs := (2*ix + 1) * ny
		rhs := (2*iy + 1) * nx
		switch {
		case lhs == rhs:
			x += sx
			y += sy
			ix++
			iy++
		case lhs < rhs:
			x += sx
			ix++
		default:
			y += sy
			iy++
		}
		p := Position{X: x, Y: y}
		if p == to {
			break
		}
		out = append(out, p)
	}
	return out
}
