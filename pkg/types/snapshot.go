package types

// BattleView is the introspection payload for one battle:
//   battleId: string
//   version: number            // bumps on every broadcast event
//   clients: number
//   live: QTEConfig + state for every non-terminal session
//   history: QTEResult[]       // append-only, oldest first
type BattleView struct {
	BattleID string        `json:"battleId"`
	Version  int           `json:"version"`
	Clients  int           `json:"clients"`
	Live     []LiveSession `json:"live"`
	History  []QTEResult   `json:"history"`
}

type LiveSession struct {
	Config QTEConfig `json:"config"`
	State  string    `json:"state"`
}
