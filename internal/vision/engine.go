package vision

import (
	"fmt"

	"github.com/DoyleJ11/battle-sync/internal/grid"
)

// Engine answers fog-of-war questions for one board. It keeps no state
// between calls; every query is computed from the snapshot it is given.
type Engine struct {
	grid grid.Grid
}

func NewEngine(width, height int) (*Engine, error) {
	g, err := grid.New(width, height)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	return &Engine{grid: g}, nil
}

func (e *Engine) Grid() grid.Grid { return e.grid }

// VisiblePlayers returns every player with at least one living unit that can
// see target.
func (e *Engine) VisiblePlayers(units []Unit, target grid.Position, terrain Terrain) (PlayerSet, error) {
	return e.VisibleAtAny(units, []grid.Position{target}, terrain)
}

// VisibleAtAny returns every player that can see at least one of positions.
// It equals the union of VisiblePlayers over the positions.
func (e *Engine) VisibleAtAny(units []Unit, positions []grid.Position, terrain Terrain) (PlayerSet, error) {
	sc, err := e.prepare(units, terrain)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		if err := e.checkTarget(p); err != nil {
			return nil, err
		}
	}

	players := PlayerSet{}
	for _, u := range sc.units {
		if players.Has(u.PlayerID) {
			continue
		}
		for _, p := range positions {
			if sc.sees(u, p) {
				players.add(u.PlayerID)
				break
			}
		}
	}
	return players, nil
}

// HasVisionAt reports whether any living unit of playerID sees target.
func (e *Engine) HasVisionAt(units []Unit, playerID string, target grid.Position, terrain Terrain) (bool, error) {
	sc, err := e.prepare(units, terrain)
	if err != nil {
		return false, err
	}
	if err := e.checkTarget(target); err != nil {
		return false, err
	}
	return sc.playerSees(playerID, target), nil
}

// UnitSees reports whether the unit observerID sees target.
func (e *Engine) UnitSees(units []Unit, observerID string, target grid.Position, terrain Terrain) (bool, error) {
	sc, err := e.prepare(units, terrain)
	if err != nil {
		return false, err
	}
	if err := e.checkTarget(target); err != nil {
		return false, err
	}
	u, ok := sc.byID[observerID]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownUnit, observerID)
	}
	return sc.sees(u, target), nil
}

// VisibleCells returns the cells playerID currently sees, row-major.
func (e *Engine) VisibleCells(units []Unit, playerID string, terrain Terrain) ([]grid.Position, error) {
	sc, err := e.prepare(units, terrain)
	if err != nil {
		return nil, err
	}
	out := []grid.Position{}
	for _, cell := range e.grid.Cells() {
		if sc.playerSees(playerID, cell) {
			out = append(out, cell)
		}
	}
	return out, nil
}

// VisibleUnits filters a snapshot down to what playerID may be shown: all of
// their own units plus any other unit with a footprint cell in sight.
func (e *Engine) VisibleUnits(units []Unit, playerID string, terrain Terrain) ([]Unit, error) {
	sc, err := e.prepare(units, terrain)
	if err != nil {
		return nil, err
	}
	out := make([]Unit, 0, len(units))
	for _, u := range sc.units {
		if u.PlayerID == playerID {
			out = append(out, u)
			continue
		}
		for _, cell := range u.Footprint() {
			if sc.playerSees(playerID, cell) {
				out = append(out, u)
				break
			}
		}
	}
	return out, nil
}

func (e *Engine) checkTarget(p grid.Position) error {
	if err := e.grid.Check(p); err != nil {
		return fmt.Errorf("%w: target: %w", ErrInvalidSnapshot, err)
	}
	return nil
}

// prepare validates the snapshot at the call boundary and indexes its
// blockers for this query only.
func (e *Engine) prepare(units []Unit, terrain Terrain) (*scene, error) {
	sc := &scene{
		units:     units,
		mode:      terrain.Mode,
		byID:      make(map[string]Unit, len(units)),
		obstacles: map[grid.Position]struct{}{},
	}

	for i, u := range units {
		if u.ID == "" {
			return nil, fmt.Errorf("%w: unit %d has no id", ErrInvalidSnapshot, i)
		}
		if _, dup := sc.byID[u.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate unit id %q", ErrInvalidSnapshot, u.ID)
		}
		if u.Size < 1 {
			return nil, fmt.Errorf("%w: unit %q has size %d", ErrInvalidSnapshot, u.ID, u.Size)
		}
		if u.Focus < 0 {
			return nil, fmt.Errorf("%w: unit %q has focus %d", ErrInvalidSnapshot, u.ID, u.Focus)
		}
		if err := e.grid.CheckSquare(u.Position, u.Size); err != nil {
			return nil, fmt.Errorf("%w: unit %q: %w", ErrInvalidSnapshot, u.ID, err)
		}
		sc.byID[u.ID] = u
	}

	if terrain.Mode != LineOfSight {
		return sc, nil
	}

	for _, o := range terrain.Obstacles {
		if err := e.grid.Check(o.Position); err != nil {
			return nil, fmt.Errorf("%w: obstacle: %w", ErrInvalidSnapshot, err)
		}
		if o.Destroyed {
			continue
		}
		sc.obstacles[o.Position] = struct{}{}
	}
	for _, u := range units {
		if u.blocks() {
			sc.blockers = append(sc.blockers, u)
		}
	}
	return sc, nil
}

type scene struct {
	units     []Unit
	mode      Mode
	byID      map[string]Unit
	obstacles map[grid.Position]struct{}
	blockers  []Unit
}

func (sc *scene) playerSees(playerID string, target grid.Position) bool {
	for _, u := range sc.units {
		if u.PlayerID == playerID && sc.sees(u, target) {
			return true
		}
	}
	return false
}

func (sc *scene) sees(u Unit, target grid.Position) bool {
	if !u.Alive {
		return false
	}
	if u.Occupies(target) {
		return true
	}
	origin := nearestCell(u, target)
	if grid.Chebyshev(origin, target) > u.SightRadius() {
		return false
	}
	if sc.mode != LineOfSight {
		return true
	}
	for _, cell := range grid.SightLine(origin, target) {
		if u.Occupies(cell) {
			continue
		}
		if _, ok := sc.obstacles[cell]; ok {
			return false
		}
		for _, b := range sc.blockers {
			if b.ID != u.ID && b.Occupies(cell) {
				return false
			}
		}
	}
	return true
}

// nearestCell picks the footprint cell closest to target; ties go to the
// first cell in row-major order.
func nearestCell(u Unit, target grid.Position) grid.Position {
	size := max(u.Size, 1)
	clamped := grid.Position{
		X: min(max(target.X, u.Position.X), u.Position.X+size-1),
		Y: min(max(target.Y, u.Position.Y), u.Position.Y+size-1),
	}
	d := grid.Chebyshev(clamped, target)
	// Cells within d of target form a rectangle; its top-left corner is the
	// first of them in row-major order.
	return grid.Position{
		X: max(u.Position.X, target.X-d),
		Y: max(u.Position.Y, target.Y-d),
	}
}
