// Package client is the participant side of the battle protocol: it keeps a
// clock estimate per connection and fires QTE cues at the local instant
// that matches each session's server start time.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DoyleJ11/battle-sync/pkg/clocksync"
	"github.com/DoyleJ11/battle-sync/pkg/types"
	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("client closed")

type Options struct {
	Clock      clockwork.Clock
	Logger     *zap.Logger
	AssumedRTT time.Duration
	BufferSize int
}

// Cue is a QTE whose server start time has been reached on the local clock.
type Cue struct {
	Config       types.QTEConfig
	FiredAtLocal int64
}

type Client struct {
	conn   *websocket.Conn
	est    *clocksync.Estimator
	clock  clockwork.Clock
	log    *zap.Logger
	player string

	events chan types.Envelope
	cues   chan Cue

	mu     sync.Mutex
	timers map[string]*pending // qteId -> pending cue
	pinged atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type pending struct {
	timer clockwork.Timer
}

// Dial connects player to the battle code at serverURL (http or ws scheme).
func Dial(ctx context.Context, serverURL, code, player string, opts Options) (*Client, error) {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.AssumedRTT == 0 {
		opts.AssumedRTT = clocksync.DefaultAssumedRTT
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64
	}

	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"code": {code}, "player": {player}}.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:   conn,
		est:    clocksync.NewWithRTT(opts.AssumedRTT),
		clock:  opts.Clock,
		log:    opts.Logger.With(zap.String("battle_id", code), zap.String("player_id", player)),
		player: player,
		events: make(chan types.Envelope, opts.BufferSize),
		cues:   make(chan Cue, opts.BufferSize),
		timers: make(map[string]*pending),
		ctx:    cctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events carries every server event in arrival order. It is closed when the
// connection ends.
func (c *Client) Events() <-chan types.Envelope { return c.events }

// Cues fire at the local instant estimated to match serverStartTime.
func (c *Client) Cues() <-chan Cue { return c.cues }

func (c *Client) Estimator() *clocksync.Estimator { return c.est }

func (c *Client) localNow() int64 { return c.clock.Now().UnixMilli() }

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)
	defer c.cancelAll()

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			c.log.Debug("read ended", zap.Error(err))
			return
		}
		local := c.localNow()

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Debug("bad server message", zap.Error(err))
			continue
		}
		c.handle(env, local)

		select {
		case c.events <- env:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) handle(env types.Envelope, local int64) {
	switch env.Type {
	case types.EventQTEStart:
		var cfg types.QTEConfig
		if env.Decode(&cfg) == nil {
			c.observe(cfg.CreatedAt, local)
			c.schedule(cfg, local)
		}

	case types.EventQTECascade:
		var cas types.QTECascade
		if env.Decode(&cas) == nil {
			c.cancelCue(cas.PreviousQteID)
			c.observe(cas.NewConfig.CreatedAt, local)
			c.schedule(cas.NewConfig, local)
		}

	case types.EventQTEResolved:
		var res types.QTEResult
		if env.Decode(&res) == nil {
			c.cancelCue(res.QteID)
		}

	case types.EventQTEExpired:
		var exp types.QTEExpired
		if env.Decode(&exp) == nil {
			c.cancelCue(exp.QteID)
		}

	case types.EventClockPong:
		var pong types.ClockPong
		if env.Decode(&pong) == nil {
			c.est.ObservePing(pong.ClientSentAt, pong.ServerTime, local)
			c.pinged.Store(true)
		}

	case types.EventBattleEnded:
		c.cancelAll()
	}
}

// observe takes the heuristic sample from a server-stamped event unless a
// measured ping has already been taken.
func (c *Client) observe(serverMs, local int64) {
	if !c.pinged.Load() {
		c.est.Observe(serverMs, local)
	}
}

func (c *Client) schedule(cfg types.QTEConfig, local int64) {
	delay := c.est.FireDelay(cfg.ServerStartTime, local)
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.timers[cfg.QteID]; ok {
		p.timer.Stop()
	}
	p := &pending{}
	c.timers[cfg.QteID] = p
	p.timer = c.clock.AfterFunc(delay, func() {
		// A cancel that lost the race with Stop leaves this cue unregistered.
		c.mu.Lock()
		if c.timers[cfg.QteID] != p {
			c.mu.Unlock()
			return
		}
		delete(c.timers, cfg.QteID)
		c.mu.Unlock()
		select {
		case c.cues <- Cue{Config: cfg, FiredAtLocal: c.localNow()}:
		case <-c.ctx.Done():
		}
	})
}

func (c *Client) cancelCue(qteID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.timers[qteID]; ok {
		p.timer.Stop()
		delete(c.timers, qteID)
	}
}

func (c *Client) cancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, p := range c.timers {
		p.timer.Stop()
		delete(c.timers, id)
	}
}

func (c *Client) write(ctx context.Context, eventType string, payload any) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	env, err := types.NewEnvelope(eventType, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Respond answers cfg for unitID. The server timestamp sent along is this
// client's estimate and is only echoed back for display.
func (c *Client) Respond(ctx context.Context, cfg types.QTEConfig, unitID, input string, hitPosition float64) error {
	local := c.localNow()
	return c.write(ctx, types.EventQTEResponse, types.QTEResponse{
		QteID:            cfg.QteID,
		BattleID:         cfg.BattleID,
		PlayerID:         c.player,
		UnitID:           unitID,
		Input:            input,
		HitPosition:      hitPosition,
		ServerTimestamp:  c.est.ServerNow(local),
		RespondedAtLocal: local,
	})
}

// Ping asks for a measured clock sample; the pong updates the estimator.
func (c *Client) Ping(ctx context.Context) error {
	return c.write(ctx, types.EventClockPing, types.ClockPing{ClientSentAt: c.localNow()})
}

func (c *Client) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "bye")
	c.cancel()
	<-c.done
	return err
}
