package history

import (
	"context"
	"errors"
	"sync"

	"github.com/DoyleJ11/battle-sync/pkg/types"
)

var ErrDuplicateResult = errors.New("result already recorded")

// Ledger is the per-battle append-only log of terminal QTE results.
type Ledger interface {
	Append(ctx context.Context, res types.QTEResult) error
	List(ctx context.Context, battleID string) ([]types.QTEResult, error)
}

// Memory keeps results in process. Entries are copied in and out so callers
// can never mutate a written result.
type Memory struct {
	mu      sync.RWMutex
	battles map[string][]types.QTEResult
	seen    map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		battles: make(map[string][]types.QTEResult),
		seen:    make(map[string]bool),
	}
}

func (m *Memory) Append(_ context.Context, res types.QTEResult) error {
	key := res.BattleID + "/" + res.QteID
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[key] {
		return ErrDuplicateResult
	}
	m.seen[key] = true
	m.battles[res.BattleID] = append(m.battles[res.BattleID], res.Clone())
	return nil
}

func (m *Memory) List(_ context.Context, battleID string) ([]types.QTEResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.battles[battleID]
	out := make([]types.QTEResult, 0, len(src))
	for _, r := range src {
		out = append(out, r.Clone())
	}
	return out, nil
}
