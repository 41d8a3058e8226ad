package qte

import (
	"fmt"
	"slices"
	"time"

	"github.com/DoyleJ11/battle-sync/pkg/types"
)

// MaxResponders bounds a session to single-party or attacker/defender events.
const MaxResponders = 2

// Spec is what the turn controller asks for; the controller turns it into an
// immutable QTEConfig stamped with server times.
type Spec struct {
	ResponderUnitID string            `json:"responderUnitId"`
	Responders      []types.Responder `json:"responders"`
	LeadMs          int64             `json:"leadMs,omitempty"`
	DurationMs      int64             `json:"durationMs,omitempty"`
	GraceMs         *int64            `json:"graceMs,omitempty"`
	Difficulty      types.Difficulty  `json:"difficulty,omitempty"`
	Bands           *types.Bands      `json:"bands,omitempty"`
	DefaultOutcome  types.Outcome     `json:"defaultOutcome,omitempty"`
	Cascade         *Cascade          `json:"cascade,omitempty"`
}

// Cascade chains a resolved session into Next when its outcome is one of On.
type Cascade struct {
	On   []types.Outcome `json:"on"`
	Next Spec            `json:"next"`
}

func (c *Cascade) Matches(o types.Outcome) bool {
	return c != nil && slices.Contains(c.On, o)
}

// Defaults fill in what a Spec leaves out.
type Defaults struct {
	Lead     time.Duration
	Duration time.Duration
	Grace    time.Duration
}

func DefaultDefaults() Defaults {
	return Defaults{
		Lead:     300 * time.Millisecond,
		Duration: 1200 * time.Millisecond,
		Grace:    150 * time.Millisecond,
	}
}

// Config stamps a Spec into a QTEConfig created at createdAt (server ms).
func (s Spec) Config(battleID, qteID string, createdAt int64, d Defaults) (types.QTEConfig, error) {
	if battleID == "" || qteID == "" {
		return types.QTEConfig{}, fmt.Errorf("%w: missing battle or qte id", ErrInvalidSpec)
	}

	responders := slices.Clone(s.Responders)
	unitID := s.ResponderUnitID
	if unitID == "" && len(responders) > 0 {
		unitID = responders[0].UnitID
	}

	lead := s.LeadMs
	if lead == 0 {
		lead = d.Lead.Milliseconds()
	}
	duration := s.DurationMs
	if duration == 0 {
		duration = d.Duration.Milliseconds()
	}
	grace := d.Grace.Milliseconds()
	if s.GraceMs != nil {
		grace = *s.GraceMs
	}

	difficulty := s.Difficulty
	if difficulty == "" {
		difficulty = types.DifficultyNormal
	}
	var bands types.Bands
	if s.Bands != nil {
		bands = *s.Bands
	} else {
		preset, ok := BandsFor(difficulty)
		if !ok {
			return types.QTEConfig{}, fmt.Errorf("%w: unknown difficulty %q", ErrInvalidSpec, difficulty)
		}
		bands = preset
	}

	fallback := s.DefaultOutcome
	if fallback == "" {
		fallback = types.OutcomeTimeout
	}

	cfg := types.QTEConfig{
		QteID:           qteID,
		BattleID:        battleID,
		ResponderUnitID: unitID,
		Responders:      responders,
		CreatedAt:       createdAt,
		ServerStartTime: createdAt + lead,
		DurationMs:      duration,
		GraceMs:         grace,
		Difficulty:      difficulty,
		Bands:           bands,
		DefaultOutcome:  fallback,
	}
	if err := ValidateConfig(cfg); err != nil {
		return types.QTEConfig{}, err
	}
	if s.Cascade != nil && len(s.Cascade.On) == 0 {
		return types.QTEConfig{}, fmt.Errorf("%w: cascade without trigger outcomes", ErrInvalidSpec)
	}
	return cfg, nil
}

// Validate stamps the spec and every cascade step it chains into without
// keeping the result, so a bad Next is refused when the chain is opened
// rather than when it fires.
func (s Spec) Validate(d Defaults) error {
	step := s
	for depth := 0; ; depth++ {
		if _, err := step.Config("check", "check", 0, d); err != nil {
			if depth > 0 {
				return fmt.Errorf("cascade step %d: %w", depth, err)
			}
			return err
		}
		if step.Cascade == nil {
			return nil
		}
		step = step.Cascade.Next
	}
}

// ValidateConfig checks the invariants every session relies on.
func ValidateConfig(c types.QTEConfig) error {
	switch {
	case c.QteID == "" || c.BattleID == "":
		return fmt.Errorf("%w: missing qte or battle id", ErrInvalidSpec)
	case c.ResponderUnitID == "":
		return fmt.Errorf("%w: missing responder unit", ErrInvalidSpec)
	case len(c.Responders) == 0 || len(c.Responders) > MaxResponders:
		return fmt.Errorf("%w: %d responders", ErrInvalidSpec, len(c.Responders))
	case c.ServerStartTime < c.CreatedAt:
		return fmt.Errorf("%w: start %d before creation %d", ErrInvalidSpec, c.ServerStartTime, c.CreatedAt)
	case c.DurationMs <= 0:
		return fmt.Errorf("%w: duration %dms", ErrInvalidSpec, c.DurationMs)
	case c.GraceMs < 0:
		return fmt.Errorf("%w: grace %dms", ErrInvalidSpec, c.GraceMs)
	}

	seen := map[types.Responder]bool{}
	primary := false
	for _, r := range c.Responders {
		if r.PlayerID == "" || r.UnitID == "" {
			return fmt.Errorf("%w: responder needs player and unit", ErrInvalidSpec)
		}
		if seen[r] {
			return fmt.Errorf("%w: duplicate responder %s/%s", ErrInvalidSpec, r.PlayerID, r.UnitID)
		}
		seen[r] = true
		if r.UnitID == c.ResponderUnitID {
			primary = true
		}
	}
	if !primary {
		return fmt.Errorf("%w: responder unit %q not among responders", ErrInvalidSpec, c.ResponderUnitID)
	}
	return validateBands(c.Bands)
}
