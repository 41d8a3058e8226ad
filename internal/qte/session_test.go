package qte

import (
	"errors"
	"math"
	"testing"

	"github.com/DoyleJ11/battle-sync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	attacker = types.Responder{PlayerID: "p1", UnitID: "u1"}
	defender = types.Responder{PlayerID: "p2", UnitID: "u2"}
)

// baseConfig is createdAt=1000, serverStartTime=1300, durationMs=400,
// grace 0.
func baseConfig(responders ...types.Responder) types.QTEConfig {
	if len(responders) == 0 {
		responders = []types.Responder{attacker}
	}
	bands, _ := BandsFor(types.DifficultyNormal)
	return types.QTEConfig{
		QteID:           "q1",
		BattleID:        "b1",
		ResponderUnitID: responders[0].UnitID,
		Responders:      responders,
		CreatedAt:       1000,
		ServerStartTime: 1300,
		DurationMs:      400,
		GraceMs:         0,
		Difficulty:      types.DifficultyNormal,
		Bands:           bands,
		DefaultOutcome:  types.OutcomeTimeout,
	}
}

func response(r types.Responder, hit float64) types.QTEResponse {
	return types.QTEResponse{QteID: "q1", BattleID: "b1", PlayerID: r.PlayerID, UnitID: r.UnitID, Input: "tap", HitPosition: hit}
}

func newSession(t *testing.T, cfg types.QTEConfig) *Session {
	t.Helper()
	s, err := NewSession(cfg)
	require.NoError(t, err)
	return s
}

func TestSubmit_TimingWindow(t *testing.T) {
	cases := []struct {
		name       string
		receivedAt int64
		wantErr    error
	}{
		{name: "before start", receivedAt: 1250, wantErr: ErrTooEarly},
		{name: "one ms before start", receivedAt: 1299, wantErr: ErrTooEarly},
		{name: "at start", receivedAt: 1300},
		{name: "inside window", receivedAt: 1500},
		{name: "last ms of window", receivedAt: 1700},
		{name: "after window", receivedAt: 1800, wantErr: ErrWindowClosed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newSession(t, baseConfig())
			resolved, err := s.Submit(response(attacker, 0.5), tc.receivedAt)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("want %v, got %v", tc.wantErr, err)
				}
				if resolved || s.Terminal() {
					t.Fatalf("rejected response must not resolve the session")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if !resolved || s.State() != StateResolved {
				t.Fatalf("single-party session should resolve on first valid response, state=%s", s.State())
			}
		})
	}
}

func TestSubmit_GraceExtendsLateEdgeOnly(t *testing.T) {
	cfg := baseConfig()
	cfg.GraceMs = 150

	s := newSession(t, cfg)
	_, err := s.Submit(response(attacker, 0.5), 1299)
	assert.ErrorIs(t, err, ErrTooEarly)

	resolved, err := s.Submit(response(attacker, 0.5), 1850)
	require.NoError(t, err)
	assert.True(t, resolved)

	s = newSession(t, cfg)
	_, err = s.Submit(response(attacker, 0.5), 1851)
	assert.ErrorIs(t, err, ErrWindowClosed)
}

func TestClose_NoResponsesExpiresWithDefault(t *testing.T) {
	s := newSession(t, baseConfig())

	_, err := s.Submit(response(attacker, 0.5), 1800)
	require.ErrorIs(t, err, ErrWindowClosed)

	_, err = s.Close(1700)
	require.ErrorIs(t, err, ErrWindowOpen)

	res, err := s.Close(1701)
	require.NoError(t, err)
	assert.Equal(t, StateExpired, s.State())
	assert.True(t, res.Expired)
	assert.Equal(t, types.OutcomeTimeout, res.Outcome)
	assert.Nil(t, res.Winner)
	require.Len(t, res.Scores, 1)
	assert.False(t, res.Scores[0].Responded)

	_, err = s.Close(1800)
	assert.ErrorIs(t, err, ErrSessionTerminal)
}

func TestClose_ConfiguredDefaultOutcome(t *testing.T) {
	cfg := baseConfig()
	cfg.DefaultOutcome = types.OutcomeMiss
	s := newSession(t, cfg)

	res, err := s.Close(2000)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeMiss, res.Outcome)
}

func TestSubmit_ProtocolViolations(t *testing.T) {
	cases := []struct {
		name    string
		resp    types.QTEResponse
		wantErr error
	}{
		{name: "wrong responder", resp: response(defender, 0.5), wantErr: ErrNotResponder},
		{name: "player/unit mismatch", resp: response(types.Responder{PlayerID: "p1", UnitID: "u2"}, 0.5), wantErr: ErrNotResponder},
		{name: "other session", resp: func() types.QTEResponse { r := response(attacker, 0.5); r.QteID = "q0"; return r }(), wantErr: ErrWrongSession},
		{name: "other battle", resp: func() types.QTEResponse { r := response(attacker, 0.5); r.BattleID = "b9"; return r }(), wantErr: ErrWrongSession},
		{name: "hit above range", resp: response(attacker, 1.5), wantErr: ErrMalformedResponse},
		{name: "hit NaN", resp: response(attacker, math.NaN()), wantErr: ErrMalformedResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newSession(t, baseConfig())
			_, err := s.Submit(tc.resp, 1400)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v, got %v", tc.wantErr, err)
			}
			// The player keeps their chance while the window is open.
			resolved, err := s.Submit(response(attacker, 0.5), 1450)
			require.NoError(t, err)
			assert.True(t, resolved)
		})
	}
}

func TestSubmit_AfterResolutionIsTerminal(t *testing.T) {
	s := newSession(t, baseConfig())
	_, err := s.Submit(response(attacker, 0.5), 1400)
	require.NoError(t, err)

	_, err = s.Submit(response(attacker, 0.5), 1401)
	assert.ErrorIs(t, err, ErrSessionTerminal)
}

func TestSubmit_CatchesUpScheduledSession(t *testing.T) {
	s := newSession(t, baseConfig(attacker, defender))
	require.Equal(t, StateScheduled, s.State())

	resolved, err := s.Submit(response(attacker, 0.5), 1301)
	require.NoError(t, err)
	assert.False(t, resolved)
	assert.Equal(t, StateAwaitingResponses, s.State())
}

func TestTwoParty_DuplicateDroppedAndReceiptOrderWins(t *testing.T) {
	s := newSession(t, baseConfig(attacker, defender))

	first := response(defender, 0.5)
	first.ServerTimestamp = 9999 // claims to be late; ignored
	_, err := s.Submit(first, 1400)
	require.NoError(t, err)

	_, err = s.Submit(response(defender, 0.1), 1410)
	require.ErrorIs(t, err, ErrDuplicateResponse)

	second := response(attacker, 0.5)
	second.ServerTimestamp = 1 // claims to be early; ignored
	resolved, err := s.Submit(second, 1420)
	require.NoError(t, err)
	require.True(t, resolved)

	res, ok := s.Result()
	require.True(t, ok)
	assert.Equal(t, types.OutcomeCrit, res.Outcome)
	require.NotNil(t, res.Winner)
	assert.Equal(t, defender, *res.Winner, "equal outcomes go to the earliest server receipt")
	require.Len(t, res.Scores, 2)
	assert.Equal(t, "p2", res.Scores[0].PlayerID)
	assert.Equal(t, int64(9999), res.Scores[0].ReportedServerTime)
	assert.Equal(t, int64(1420), res.ResolvedAt)
}

func TestTwoParty_BetterOutcomeBeatsEarlierReceipt(t *testing.T) {
	s := newSession(t, baseConfig(attacker, defender))
	_, err := s.Submit(response(attacker, 0.65), 1400) // HIT
	require.NoError(t, err)
	_, err = s.Submit(response(defender, 0.51), 1500) // CRIT
	require.NoError(t, err)

	res, _ := s.Result()
	assert.Equal(t, types.OutcomeCrit, res.Outcome)
	assert.Equal(t, defender, *res.Winner)
}

func TestTwoParty_NonResponderGetsDefaultAtClose(t *testing.T) {
	s := newSession(t, baseConfig(attacker, defender))
	_, err := s.Submit(response(attacker, 0.9), 1400)
	require.NoError(t, err)

	res, err := s.Close(1701)
	require.NoError(t, err)
	assert.Equal(t, StateResolved, s.State())
	assert.False(t, res.Expired)
	assert.Equal(t, types.OutcomeMiss, res.Outcome)
	require.Len(t, res.Scores, 2)
	assert.True(t, res.Scores[0].Responded)
	assert.False(t, res.Scores[1].Responded)
	assert.Equal(t, types.OutcomeTimeout, res.Scores[1].Outcome)
}

func TestCancel_ForcesExpiredWithoutPenalty(t *testing.T) {
	s := newSession(t, baseConfig(attacker, defender))
	_, err := s.Submit(response(attacker, 0.5), 1400)
	require.NoError(t, err)

	res, err := s.Cancel(1450)
	require.NoError(t, err)
	assert.Equal(t, StateExpired, s.State())
	assert.True(t, res.Expired)
	assert.True(t, res.Cancelled)

	_, err = s.Cancel(1460)
	assert.ErrorIs(t, err, ErrSessionTerminal)
}

func TestActivate(t *testing.T) {
	s := newSession(t, baseConfig())
	assert.False(t, s.Activate(1299))
	assert.True(t, s.Activate(1300))
	assert.False(t, s.Activate(1301), "already active")
	assert.Equal(t, StateActive, s.State())
}

func TestResult_IsACopy(t *testing.T) {
	s := newSession(t, baseConfig())
	_, err := s.Submit(response(attacker, 0.5), 1400)
	require.NoError(t, err)

	res, _ := s.Result()
	res.Scores[0].Outcome = types.OutcomeMiss
	res.Winner.PlayerID = "mallory"

	again, _ := s.Result()
	assert.Equal(t, types.OutcomeCrit, again.Scores[0].Outcome)
	assert.Equal(t, "p1", again.Winner.PlayerID)
}

func TestNewSession_RejectsBadConfig(t *testing.T) {
	mutate := []struct {
		name string
		fn   func(*types.QTEConfig)
	}{
		{"start before creation", func(c *types.QTEConfig) { c.ServerStartTime = 999 }},
		{"zero duration", func(c *types.QTEConfig) { c.DurationMs = 0 }},
		{"negative grace", func(c *types.QTEConfig) { c.GraceMs = -1 }},
		{"no responders", func(c *types.QTEConfig) { c.Responders = nil }},
		{"three responders", func(c *types.QTEConfig) {
			c.Responders = []types.Responder{attacker, defender, {PlayerID: "p3", UnitID: "u3"}}
		}},
		{"primary not a responder", func(c *types.QTEConfig) { c.ResponderUnitID = "u9" }},
		{"duplicate responder", func(c *types.QTEConfig) { c.Responders = []types.Responder{attacker, attacker} }},
		{"inverted bands", func(c *types.QTEConfig) { c.Bands = types.Bands{Center: 0.5, CritRadius: 0.3, HitRadius: 0.1} }},
	}
	for _, tc := range mutate {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			tc.fn(&cfg)
			_, err := NewSession(cfg)
			assert.ErrorIs(t, err, ErrInvalidSpec)
		})
	}
}
