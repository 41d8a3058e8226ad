package vision

import (
	"errors"
	"slices"

	"github.com/DoyleJ11/battle-sync/internal/grid"
)

var ErrInvalidSnapshot = errors.New("invalid visibility snapshot")
var ErrUnknownUnit = errors.New("unknown unit")

const (
	// BaseSightRadius is the radius of a unit with zero focus.
	BaseSightRadius = 1
	// FocusPerTile is how much focus buys one extra tile of sight.
	FocusPerTile = 2
	// BlockingSize is the smallest footprint that occludes sight for others.
	BlockingSize = 2
)

type Unit struct {
	ID       string        `json:"id"`
	PlayerID string        `json:"playerId"`
	Position grid.Position `json:"position"`
	Alive    bool          `json:"alive"`
	Size     int           `json:"size"`
	Focus    int           `json:"focus"`
}

func (u Unit) SightRadius() int {
	return SightRadius(u.Focus)
}

func (u Unit) Footprint() []grid.Position {
	return grid.Square(u.Position, u.Size)
}

// Occupies reports whether p lies inside the unit's footprint.
func (u Unit) Occupies(p grid.Position) bool {
	size := max(u.Size, 1)
	return p.X >= u.Position.X && p.X < u.Position.X+size &&
		p.Y >= u.Position.Y && p.Y < u.Position.Y+size
}

func (u Unit) blocks() bool {
	return u.Alive && u.Size >= BlockingSize
}

func SightRadius(focus int) int {
	if focus < 0 {
		focus = 0
	}
	return BaseSightRadius + focus/FocusPerTile
}

type Obstacle struct {
	Position  grid.Position `json:"position"`
	Destroyed bool          `json:"destroyed"`
}

type Mode int

const (
	// RadiusOnly ignores every blocker; range is the only test.
	RadiusOnly Mode = iota
	// LineOfSight requires a clear sight line through obstacles and large units.
	LineOfSight
)

func (m Mode) String() string {
	if m == LineOfSight {
		return "line_of_sight"
	}
	return "radius_only"
}

// Terrain is the obstacle context for one visibility query. The zero value
// is radius-only mode, used by callers that have no obstacle context.
type Terrain struct {
	Mode      Mode
	Obstacles []Obstacle
}

func WithObstacles(obstacles []Obstacle) Terrain {
	return Terrain{Mode: LineOfSight, Obstacles: obstacles}
}

func NoObstacles() Terrain {
	return Terrain{Mode: RadiusOnly}
}

// PlayerSet is a set of player ids.
type PlayerSet map[string]struct{}

func (s PlayerSet) Has(playerID string) bool {
	_, ok := s[playerID]
	return ok
}

func (s PlayerSet) add(playerID string) {
	s[playerID] = struct{}{}
}

// Sorted returns the members in ascending order.
func (s PlayerSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
