package types

import (
	"encoding/json"
	"fmt"
)

// Envelope types. Client -> Server: qte:response, clock:ping.
// Server -> Client: qte:start, qte:resolved, qte:expired, qte:cascade,
// clock:pong, battle:ended, error.
const (
	EventQTEStart    = "qte:start"
	EventQTEResponse = "qte:response"
	EventQTEResolved = "qte:resolved"
	EventQTEExpired  = "qte:expired"
	EventQTECascade  = "qte:cascade"
	EventClockPing   = "clock:ping"
	EventClockPong   = "clock:pong"
	EventBattleEnded = "battle:ended"
	EventError       = "error"
)

type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEnvelope(eventType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", eventType, err)
	}
	return Envelope{Type: eventType, Payload: raw}, nil
}

func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	return nil
}

type Outcome string

const (
	OutcomeCrit    Outcome = "CRIT"
	OutcomeHit     Outcome = "HIT"
	OutcomeMiss    Outcome = "MISS"
	OutcomeTimeout Outcome = "TIMEOUT"
)

// Rank orders outcomes from worst (0) to best.
func (o Outcome) Rank() int {
	switch o {
	case OutcomeCrit:
		return 3
	case OutcomeHit:
		return 2
	case OutcomeMiss:
		return 1
	default:
		return 0
	}
}

type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyNormal Difficulty = "NORMAL"
	DifficultyHard   Difficulty = "HARD"
)

// Bands map a hit position in [0,1] onto an outcome by its distance from
// Center.
type Bands struct {
	Center     float64 `json:"center"`
	CritRadius float64 `json:"critRadius"`
	HitRadius  float64 `json:"hitRadius"`
}

type Responder struct {
	PlayerID string `json:"playerId"`
	UnitID   string `json:"unitId"`
}

// QTEConfig is immutable once announced. All times are ms since epoch on
// the server clock.
type QTEConfig struct {
	QteID           string      `json:"qteId"`
	BattleID        string      `json:"battleId"`
	ResponderUnitID string      `json:"responderUnitId"`
	Responders      []Responder `json:"responders"`
	CreatedAt       int64       `json:"createdAt"`
	ServerStartTime int64       `json:"serverStartTime"`
	DurationMs      int64       `json:"durationMs"`
	GraceMs         int64       `json:"graceMs"`
	Difficulty      Difficulty  `json:"difficulty"`
	Bands           Bands       `json:"bands"`
	DefaultOutcome  Outcome     `json:"defaultOutcome"`
	PreviousQteID   string      `json:"previousQteId,omitempty"`
}

// WindowEnd is the last server instant at which a response is accepted.
func (c QTEConfig) WindowEnd() int64 {
	return c.ServerStartTime + c.DurationMs + c.GraceMs
}

// QTEResponse is what a client submits. ServerTimestamp is the client's own
// estimate of server time and is only ever echoed back for display.
type QTEResponse struct {
	QteID            string  `json:"qteId"`
	BattleID         string  `json:"battleId"`
	PlayerID         string  `json:"playerId"`
	UnitID           string  `json:"unitId"`
	Input            string  `json:"input"`
	HitPosition      float64 `json:"hitPosition"`
	ServerTimestamp  int64   `json:"serverTimestamp"`
	RespondedAtLocal int64   `json:"respondedAtLocal"`
}

type Score struct {
	PlayerID           string  `json:"playerId"`
	UnitID             string  `json:"unitId"`
	Responded          bool    `json:"responded"`
	Outcome            Outcome `json:"outcome"`
	HitPosition        float64 `json:"hitPosition,omitempty"`
	ReceivedAt         int64   `json:"receivedAt,omitempty"`
	ReportedServerTime int64   `json:"reportedServerTime,omitempty"`
}

type QTEResult struct {
	QteID           string     `json:"qteId"`
	BattleID        string     `json:"battleId"`
	ResponderUnitID string     `json:"responderUnitId"`
	Outcome         Outcome    `json:"outcome"`
	ResolvedAt      int64      `json:"resolvedAt"`
	Expired         bool       `json:"expired"`
	Cancelled       bool       `json:"cancelled,omitempty"`
	Winner          *Responder `json:"winner,omitempty"`
	Scores          []Score    `json:"scores"`
	PreviousQteID   string     `json:"previousQteId,omitempty"`
}

// Clone returns a deep copy so history readers never share slices with the
// writer.
func (r QTEResult) Clone() QTEResult {
	out := r
	out.Scores = append([]Score(nil), r.Scores...)
	if r.Winner != nil {
		w := *r.Winner
		out.Winner = &w
	}
	return out
}

type QTEExpired struct {
	QteID  string    `json:"qteId"`
	Result QTEResult `json:"result"`
}

type QTECascade struct {
	PreviousQteID string    `json:"previousQteId"`
	NewConfig     QTEConfig `json:"newConfig"`
}

type ClockPing struct {
	ClientSentAt int64 `json:"clientSentAt"`
}

type ClockPong struct {
	ClientSentAt int64 `json:"clientSentAt"`
	ServerTime   int64 `json:"serverTime"`
}

type BattleEnded struct {
	BattleID string `json:"battleId"`
	Reason   string `json:"reason"`
}

type ErrorMessage struct {
	Error string `json:"error"`
}
