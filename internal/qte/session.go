package qte

import (
	"errors"
	"slices"

	"github.com/DoyleJ11/battle-sync/pkg/types"
)

var ErrInvalidSpec = errors.New("invalid qte spec")

// Rejections. The battle layer drops these silently toward the sender.
var ErrSessionTerminal = errors.New("session already terminal")
var ErrWrongSession = errors.New("response addressed to another session")
var ErrTooEarly = errors.New("response before server start time")
var ErrWindowClosed = errors.New("response after window close")
var ErrNotResponder = errors.New("not an expected responder")
var ErrDuplicateResponse = errors.New("responder already answered")
var ErrMalformedResponse = errors.New("malformed response")

var ErrWindowOpen = errors.New("window still open")

type State string

const (
	StateScheduled         State = "SCHEDULED"
	StateActive            State = "ACTIVE"
	StateAwaitingResponses State = "AWAITING_RESPONSES"
	StateResolved          State = "RESOLVED"
	StateExpired           State = "EXPIRED"
)

func (s State) Terminal() bool {
	return s == StateResolved || s == StateExpired
}

type receipt struct {
	resp       types.QTEResponse
	receivedAt int64
	seq        uint64
}

// Session is the state machine of one timed reaction. It is not safe for
// concurrent use; the battle actor is its single writer. Every transition
// takes the server time explicitly so outcomes never depend on when a timer
// happened to be dispatched.
type Session struct {
	cfg      types.QTEConfig
	state    State
	receipts []receipt
	seq      uint64
	result   *types.QTEResult
}

func NewSession(cfg types.QTEConfig) (*Session, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	cfg.Responders = slices.Clone(cfg.Responders)
	if cfg.DefaultOutcome == "" {
		cfg.DefaultOutcome = types.OutcomeTimeout
	}
	return &Session{cfg: cfg, state: StateScheduled}, nil
}

func (s *Session) Config() types.QTEConfig {
	cfg := s.cfg
	cfg.Responders = slices.Clone(s.cfg.Responders)
	return cfg
}

func (s *Session) State() State { return s.state }

func (s *Session) Terminal() bool { return s.state.Terminal() }

// Result returns the terminal result, if any.
func (s *Session) Result() (types.QTEResult, bool) {
	if s.result == nil {
		return types.QTEResult{}, false
	}
	return s.result.Clone(), true
}

// Activate opens the window once now has reached the start time.
func (s *Session) Activate(now int64) bool {
	if s.state != StateScheduled || now < s.cfg.ServerStartTime {
		return false
	}
	s.state = StateActive
	return true
}

// Submit validates a response stamped with its server receipt time. It
// reports whether the session resolved as a result.
func (s *Session) Submit(resp types.QTEResponse, receivedAt int64) (bool, error) {
	if s.Terminal() {
		return false, ErrSessionTerminal
	}
	if resp.QteID != s.cfg.QteID || resp.BattleID != s.cfg.BattleID {
		return false, ErrWrongSession
	}
	if receivedAt < s.cfg.ServerStartTime {
		return false, ErrTooEarly
	}
	if receivedAt > s.cfg.WindowEnd() {
		return false, ErrWindowClosed
	}
	// The start timer may not have been dispatched yet; the clock decides.
	s.Activate(receivedAt)

	responder := types.Responder{PlayerID: resp.PlayerID, UnitID: resp.UnitID}
	if !slices.Contains(s.cfg.Responders, responder) {
		return false, ErrNotResponder
	}
	if s.answered(responder) {
		return false, ErrDuplicateResponse
	}
	if !validHitPosition(resp.HitPosition) {
		return false, ErrMalformedResponse
	}

	s.seq++
	s.receipts = append(s.receipts, receipt{resp: resp, receivedAt: receivedAt, seq: s.seq})

	if len(s.receipts) < len(s.cfg.Responders) {
		s.state = StateAwaitingResponses
		return false, nil
	}
	s.finish(receivedAt, false)
	return true, nil
}

// Close ends the window. It is valid from WindowEnd()+1 on, since the last
// millisecond of the window still accepts responses. Responders who never
// answered receive the default outcome; with no valid response at all the
// session expires.
func (s *Session) Close(now int64) (types.QTEResult, error) {
	if s.Terminal() {
		return types.QTEResult{}, ErrSessionTerminal
	}
	if now <= s.cfg.WindowEnd() {
		return types.QTEResult{}, ErrWindowOpen
	}
	s.finish(now, false)
	return s.result.Clone(), nil
}

// Cancel force-expires the session, e.g. when the battle ends. The result
// is flagged so the turn controller applies no penalty.
func (s *Session) Cancel(now int64) (types.QTEResult, error) {
	if s.Terminal() {
		return types.QTEResult{}, ErrSessionTerminal
	}
	s.receipts = nil
	s.finish(now, true)
	return s.result.Clone(), nil
}

func (s *Session) answered(r types.Responder) bool {
	for _, rc := range s.receipts {
		if rc.resp.PlayerID == r.PlayerID && rc.resp.UnitID == r.UnitID {
			return true
		}
	}
	return false
}

// finish scores in server receipt order. Client-reported timestamps are
// carried for display only.
func (s *Session) finish(now int64, cancelled bool) {
	ordered := slices.Clone(s.receipts)
	slices.SortStableFunc(ordered, func(a, b receipt) int {
		if a.receivedAt != b.receivedAt {
			if a.receivedAt < b.receivedAt {
				return -1
			}
			return 1
		}
		if a.seq < b.seq {
			return -1
		}
		if a.seq > b.seq {
			return 1
		}
		return 0
	})

	res := types.QTEResult{
		QteID:           s.cfg.QteID,
		BattleID:        s.cfg.BattleID,
		ResponderUnitID: s.cfg.ResponderUnitID,
		Outcome:         s.cfg.DefaultOutcome,
		ResolvedAt:      now,
		Cancelled:       cancelled,
		PreviousQteID:   s.cfg.PreviousQteID,
		Scores:          make([]types.Score, 0, len(s.cfg.Responders)),
	}

	best := -1
	for _, rc := range ordered {
		sc := types.Score{
			PlayerID:           rc.resp.PlayerID,
			UnitID:             rc.resp.UnitID,
			Responded:          true,
			Outcome:            Score(rc.resp.HitPosition, s.cfg.Bands),
			HitPosition:        rc.resp.HitPosition,
			ReceivedAt:         rc.receivedAt,
			ReportedServerTime: rc.resp.ServerTimestamp,
		}
		res.Scores = append(res.Scores, sc)
		// Strictly greater keeps the earliest receipt on ties.
		if best < 0 || sc.Outcome.Rank() > res.Scores[best].Outcome.Rank() {
			best = len(res.Scores) - 1
		}
	}
	for _, r := range s.cfg.Responders {
		if s.answered(r) {
			continue
		}
		res.Scores = append(res.Scores, types.Score{
			PlayerID: r.PlayerID,
			UnitID:   r.UnitID,
			Outcome:  s.cfg.DefaultOutcome,
		})
	}

	if best >= 0 {
		win := res.Scores[best]
		res.Outcome = win.Outcome
		res.Winner = &types.Responder{PlayerID: win.PlayerID, UnitID: win.UnitID}
		s.state = StateResolved
	} else {
		res.Expired = true
		s.state = StateExpired
	}
	s.result = &res
}
