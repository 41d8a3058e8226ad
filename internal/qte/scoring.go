package qte

import (
	"fmt"
	"math"

	"github.com/DoyleJ11/battle-sync/pkg/types"
)

var difficultyBands = map[types.Difficulty]types.Bands{
	types.DifficultyEasy:   {Center: 0.5, CritRadius: 0.08, HitRadius: 0.30},
	types.DifficultyNormal: {Center: 0.5, CritRadius: 0.05, HitRadius: 0.20},
	types.DifficultyHard:   {Center: 0.5, CritRadius: 0.03, HitRadius: 0.12},
}

// BandsFor returns the preset bands for a difficulty.
func BandsFor(d types.Difficulty) (types.Bands, bool) {
	b, ok := difficultyBands[d]
	return b, ok
}

func validateBands(b types.Bands) error {
	switch {
	case math.IsNaN(b.Center) || b.Center < 0 || b.Center > 1:
		return fmt.Errorf("%w: band center %v outside [0,1]", ErrInvalidSpec, b.Center)
	case math.IsNaN(b.CritRadius) || math.IsNaN(b.HitRadius) || b.CritRadius < 0 || b.HitRadius < b.CritRadius:
		return fmt.Errorf("%w: band radii crit=%v hit=%v", ErrInvalidSpec, b.CritRadius, b.HitRadius)
	}
	return nil
}

// Score maps a hit position onto its band. It performs no I/O and depends
// only on its arguments.
func Score(hitPosition float64, b types.Bands) types.Outcome {
	d := math.Abs(hitPosition - b.Center)
	switch {
	case d <= b.CritRadius:
		return types.OutcomeCrit
	case d <= b.HitRadius:
		return types.OutcomeHit
	default:
		return types.OutcomeMiss
	}
}

func validHitPosition(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
