package battle

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/DoyleJ11/battle-sync/internal/history"
	"github.com/DoyleJ11/battle-sync/internal/publish"
	"github.com/DoyleJ11/battle-sync/internal/qte"
	"github.com/DoyleJ11/battle-sync/pkg/types"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var ErrSessionActive = errors.New("unit already has a live qte")
var ErrBattleEnded = errors.New("battle has ended")
var ErrUnknownSession = errors.New("no live qte with that id")

const sideEffectTimeout = 2 * time.Second

type Msg interface{ isBattleMsg() }

// Open schedules a new QTE. The reply carries the announced config.
type Open struct {
	Spec  qte.Spec
	Reply chan OpenResult
}

func (Open) isBattleMsg() {}

type OpenResult struct {
	Config types.QTEConfig
	Err    error
}

// Submit carries a response stamped with its server receipt time at the
// transport edge.
type Submit struct {
	Response   types.QTEResponse
	ReceivedAt int64
}

func (Submit) isBattleMsg() {}

type Join struct {
	ClientID string
	PlayerID string
	Outbox   chan types.Envelope // where this client wants to receive events
}

func (Join) isBattleMsg() {}

type Leave struct{ ClientID string }

func (Leave) isBattleMsg() {}

// Terminate cancels every live QTE, announces battle:ended and stops the
// actor. Done, if set, is closed once the cancellations are recorded.
type Terminate struct {
	Reason string
	Done   chan struct{}
}

func (Terminate) isBattleMsg() {}

type Shutdown struct{}

func (Shutdown) isBattleMsg() {}

type GetState struct {
	Reply chan types.BattleView
}

func (GetState) isBattleMsg() {}

type GetHistory struct {
	Reply chan []types.QTEResult
}

func (GetHistory) isBattleMsg() {}

type timerKind int

const (
	timerStart timerKind = iota
	timerExpire
)

type timerFired struct {
	qteID string
	kind  timerKind
	gen   uint64
}

func (timerFired) isBattleMsg() {}

// DefaultExpiryDrain is how long past a window's end the actor waits
// before closing it.
const DefaultExpiryDrain = 250 * time.Millisecond

type Options struct {
	Clock     clockwork.Clock
	Ledger    history.Ledger
	Publisher publish.Publisher
	Logger    *zap.Logger
	Metrics   *Metrics
	Defaults  qte.Defaults
	InboxSize int
	// ExpiryDrain delays the close so responses stamped inside the window
	// but still queued behind the transport reach the session first.
	ExpiryDrain time.Duration
	NewID       func() string
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Ledger == nil {
		o.Ledger = history.NewMemory()
	}
	if o.Publisher == nil {
		o.Publisher = publish.Nop{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Defaults == (qte.Defaults{}) {
		o.Defaults = qte.DefaultDefaults()
	}
	if o.InboxSize <= 0 {
		o.InboxSize = 64
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.ExpiryDrain <= 0 {
		o.ExpiryDrain = DefaultExpiryDrain
	}
	return o
}

type client struct {
	playerID string
	outbox   chan types.Envelope
}

type live struct {
	session *qte.Session
	spec    qte.Spec
	gen     uint64
	start   clockwork.Timer
	expire  clockwork.Timer
}

type Battle struct {
	id       string
	inbox    chan Msg
	clock    clockwork.Clock
	ledger   history.Ledger
	pub      publish.Publisher
	log      *zap.Logger
	metrics  *Metrics
	defaults qte.Defaults
	drain    int64 // ms
	newID    func() string

	sessions map[string]*live  // qteId -> live session
	byUnit   map[string]string // responderUnitId -> qteId
	results  []types.QTEResult
	clients  map[string]client
	version  int
	gen      uint64
	ended    bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(parent context.Context, id string, opts Options) *Battle {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(parent)

	metrics := opts.Metrics
	if metrics == nil {
		var err error
		if metrics, err = NewMetrics(); err != nil {
			opts.Logger.Warn("battle metrics unavailable", zap.Error(err))
		}
	}

	b := &Battle{
		id:       id,
		inbox:    make(chan Msg, opts.InboxSize),
		clock:    opts.Clock,
		ledger:   opts.Ledger,
		pub:      opts.Publisher,
		log:      opts.Logger.With(zap.String("battle_id", id)),
		metrics:  metrics,
		defaults: opts.Defaults,
		drain:    opts.ExpiryDrain.Milliseconds(),
		newID:    opts.NewID,
		sessions: make(map[string]*live),
		byUnit:   make(map[string]string),
		clients:  make(map[string]client),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go b.loop()
	return b
}

func (b *Battle) ID() string { return b.id }

// Inbox exposes the actor's mailbox to the transport and the hub.
func (b *Battle) Inbox() chan<- Msg { return b.inbox }

// Done is closed once the actor has stopped.
func (b *Battle) Done() <-chan struct{} { return b.done }

func (b *Battle) now() int64 { return b.clock.Now().UnixMilli() }

func (b *Battle) loop() {
	defer close(b.done)
	for {
		select {
		case <-b.ctx.Done():
			b.shutdown()
			return

		case m := <-b.inbox:
			switch msg := m.(type) {
			case Open:
				cfg, err := b.open(msg.Spec, b.now(), "")
				msg.Reply <- OpenResult{Config: cfg, Err: err}

			case Submit:
				b.submit(msg)

			case timerFired:
				b.fire(msg)

			case Join:
				b.clients[msg.ClientID] = client{playerID: msg.PlayerID, outbox: msg.Outbox}
				// Late joiners still need every cue that has not fired.
				for _, l := range b.liveOrdered() {
					env, err := types.NewEnvelope(types.EventQTEStart, l.session.Config())
					if err == nil {
						b.deliver(msg.ClientID, env)
					}
				}

			case Leave:
				delete(b.clients, msg.ClientID)

			case GetState:
				msg.Reply <- b.view()

			case GetHistory:
				msg.Reply <- b.history()

			case Terminate:
				b.terminate(msg.Reason)
				if msg.Done != nil {
					close(msg.Done)
				}
				b.shutdown()
				return

			case Shutdown:
				b.shutdown()
				return
			}
		}
	}
}

// open stamps spec at now and arms its timers. previous links a cascade.
func (b *Battle) open(spec qte.Spec, now int64, previous string) (types.QTEConfig, error) {
	if b.ended {
		return types.QTEConfig{}, ErrBattleEnded
	}
	if err := spec.Validate(b.defaults); err != nil {
		return types.QTEConfig{}, err
	}

	cfg, err := spec.Config(b.id, b.newID(), now, b.defaults)
	if err != nil {
		return types.QTEConfig{}, err
	}
	if _, busy := b.byUnit[cfg.ResponderUnitID]; busy {
		return types.QTEConfig{}, ErrSessionActive
	}
	if previous != "" {
		cfg.PreviousQteID = previous
		// A cascade always starts strictly after its predecessor resolved.
		if cfg.ServerStartTime <= now {
			cfg.ServerStartTime = now + 1
		}
	}

	session, err := qte.NewSession(cfg)
	if err != nil {
		return types.QTEConfig{}, err
	}

	b.gen++
	l := &live{session: session, spec: spec, gen: b.gen}
	b.sessions[cfg.QteID] = l
	b.byUnit[cfg.ResponderUnitID] = cfg.QteID
	l.start = b.after(cfg.ServerStartTime, timerFired{qteID: cfg.QteID, kind: timerStart, gen: l.gen})
	l.expire = b.after(b.closeAt(cfg), timerFired{qteID: cfg.QteID, kind: timerExpire, gen: l.gen})

	b.version++
	if b.metrics != nil {
		b.metrics.sessionOpened()
	}
	b.log.Info("qte scheduled",
		zap.String("qte_id", cfg.QteID),
		zap.String("unit_id", cfg.ResponderUnitID),
		zap.Int64("server_start", cfg.ServerStartTime),
		zap.Int64("window_end", cfg.WindowEnd()),
		zap.String("previous_qte_id", cfg.PreviousQteID),
	)

	if previous == "" {
		b.emit(types.EventQTEStart, session.Config())
	}
	return session.Config(), nil
}

// closeAt is when the expire timer fires. The last millisecond of the window
// still accepts responses, and the drain lets a response stamped there clear
// the inbox. Acceptance is decided by receivedAt, never by this time.
func (b *Battle) closeAt(cfg types.QTEConfig) int64 {
	return cfg.WindowEnd() + 1 + b.drain
}

// after arms a timer for the absolute server time at. Fires re-enter the
// inbox; the loop decides whether they are still current.
func (b *Battle) after(at int64, fired timerFired) clockwork.Timer {
	delay := time.Duration(at-b.now()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	return b.clock.AfterFunc(delay, func() {
		select {
		case b.inbox <- fired:
		case <-b.ctx.Done():
		}
	})
}

func (b *Battle) fire(msg timerFired) {
	l, ok := b.sessions[msg.qteID]
	if !ok || l.gen != msg.gen {
		b.log.Debug("stale timer dropped", zap.String("qte_id", msg.qteID))
		return
	}
	now := b.now()

	switch msg.kind {
	case timerStart:
		if l.session.Activate(now) {
			b.log.Debug("qte window open", zap.String("qte_id", msg.qteID))
		}

	case timerExpire:
		res, err := l.session.Close(now)
		if errors.Is(err, qte.ErrWindowOpen) {
			l.expire = b.after(b.closeAt(l.session.Config()), msg)
			return
		}
		if err != nil {
			b.log.Warn("close qte", zap.String("qte_id", msg.qteID), zap.Error(err))
			return
		}
		b.settle(l, res)
	}
}

func (b *Battle) submit(msg Submit) {
	resp := msg.Response
	l, ok := b.sessions[resp.QteID]
	if !ok {
		b.reject(resp, ErrUnknownSession)
		return
	}
	resolved, err := l.session.Submit(resp, msg.ReceivedAt)
	if err != nil {
		b.reject(resp, err)
		return
	}
	b.log.Debug("qte response accepted",
		zap.String("qte_id", resp.QteID),
		zap.String("player_id", resp.PlayerID),
		zap.Int64("received_at", msg.ReceivedAt),
	)
	if !resolved {
		return
	}
	res, _ := l.session.Result()
	b.settle(l, res)
}

// reject drops a response. The sender is never told why.
func (b *Battle) reject(resp types.QTEResponse, err error) {
	reason := rejectReason(err)
	if b.metrics != nil {
		b.metrics.responseRejected(reason)
	}
	b.log.Debug("qte response rejected",
		zap.String("qte_id", resp.QteID),
		zap.String("player_id", resp.PlayerID),
		zap.String("unit_id", resp.UnitID),
		zap.String("reason", reason),
	)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownSession):
		return "unknown_session"
	case errors.Is(err, qte.ErrSessionTerminal):
		return "terminal"
	case errors.Is(err, qte.ErrWrongSession):
		return "wrong_session"
	case errors.Is(err, qte.ErrTooEarly):
		return "too_early"
	case errors.Is(err, qte.ErrWindowClosed):
		return "window_closed"
	case errors.Is(err, qte.ErrNotResponder):
		return "not_responder"
	case errors.Is(err, qte.ErrDuplicateResponse):
		return "duplicate"
	case errors.Is(err, qte.ErrMalformedResponse):
		return "malformed"
	default:
		return "other"
	}
}

// settle retires a terminal session, records its result and either chains
// the cascade or announces the result.
func (b *Battle) settle(l *live, res types.QTEResult) {
	b.retire(l)
	b.record(res)

	if !res.Expired && !b.ended && l.spec.Cascade.Matches(res.Outcome) {
		base := max(res.ResolvedAt, b.now())
		next, err := b.open(l.spec.Cascade.Next, base, res.QteID)
		if err == nil {
			b.emit(types.EventQTECascade, types.QTECascade{PreviousQteID: res.QteID, NewConfig: next})
			return
		}
		b.log.Error("cascade not opened", zap.String("qte_id", res.QteID), zap.Error(err))
	}

	if res.Expired {
		b.emit(types.EventQTEExpired, types.QTEExpired{QteID: res.QteID, Result: res})
	} else {
		b.emit(types.EventQTEResolved, res)
	}
}

func (b *Battle) retire(l *live) {
	cfg := l.session.Config()
	l.start.Stop()
	l.expire.Stop()
	delete(b.sessions, cfg.QteID)
	if b.byUnit[cfg.ResponderUnitID] == cfg.QteID {
		delete(b.byUnit, cfg.ResponderUnitID)
	}
}

// record appends to the in-memory history first; the ledger is the durable
// copy and a write failure there never rewrites what was adjudicated.
func (b *Battle) record(res types.QTEResult) {
	b.results = append(b.results, res.Clone())
	b.version++

	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := b.ledger.Append(ctx, res); err != nil {
		b.log.Error("append qte result", zap.String("qte_id", res.QteID), zap.Error(err))
	}

	if b.metrics != nil {
		b.metrics.sessionTerminal(string(res.Outcome))
	}
	b.log.Info("qte settled",
		zap.String("qte_id", res.QteID),
		zap.String("outcome", string(res.Outcome)),
		zap.Bool("expired", res.Expired),
		zap.Bool("cancelled", res.Cancelled),
		zap.Int64("resolved_at", res.ResolvedAt),
	)
}

func (b *Battle) terminate(reason string) {
	if b.ended {
		return
	}
	b.ended = true
	now := b.now()
	for _, l := range b.liveOrdered() {
		res, err := l.session.Cancel(now)
		if err != nil {
			continue
		}
		b.settle(l, res)
	}
	b.emit(types.EventBattleEnded, types.BattleEnded{BattleID: b.id, Reason: reason})
	b.log.Info("battle ended", zap.String("reason", reason))
}

// emit broadcasts to every connected client and publishes for the turn
// controller.
func (b *Battle) emit(eventType string, payload any) {
	env, err := types.NewEnvelope(eventType, payload)
	if err != nil {
		b.log.Error("encode event", zap.String("type", eventType), zap.Error(err))
		return
	}
	b.broadcast(env)

	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := b.pub.Publish(ctx, b.id, env); err != nil {
		b.log.Warn("publish event", zap.String("type", eventType), zap.Error(err))
	}
}

func (b *Battle) broadcast(env types.Envelope) {
	for id := range b.clients {
		b.deliver(id, env)
	}
}

func (b *Battle) deliver(id string, env types.Envelope) {
	c, ok := b.clients[id]
	if !ok {
		return
	}
	select {
	case c.outbox <- env:
	default:
		// Client is slow/full - drop them.
		close(c.outbox)
		delete(b.clients, id)
		b.log.Warn("slow client dropped", zap.String("client_id", id), zap.String("player_id", c.playerID))
	}
}

func (b *Battle) shutdown() {
	for _, l := range b.sessions {
		l.start.Stop()
		l.expire.Stop()
	}
	for id, c := range b.clients {
		close(c.outbox) // Tell client no more events
		delete(b.clients, id)
	}
	b.cancel()
}

func (b *Battle) liveOrdered() []*live {
	out := make([]*live, 0, len(b.sessions))
	for _, l := range b.sessions {
		out = append(out, l)
	}
	slices.SortFunc(out, func(x, y *live) int {
		cx, cy := x.session.Config(), y.session.Config()
		if cx.ServerStartTime != cy.ServerStartTime {
			if cx.ServerStartTime < cy.ServerStartTime {
				return -1
			}
			return 1
		}
		if cx.QteID < cy.QteID {
			return -1
		}
		if cx.QteID > cy.QteID {
			return 1
		}
		return 0
	})
	return out
}

func (b *Battle) history() []types.QTEResult {
	out := make([]types.QTEResult, 0, len(b.results))
	for _, r := range b.results {
		out = append(out, r.Clone())
	}
	return out
}

func (b *Battle) view() types.BattleView {
	v := types.BattleView{
		BattleID: b.id,
		Version:  b.version,
		Clients:  len(b.clients),
		Live:     []types.LiveSession{},
		History:  b.history(),
	}
	for _, l := range b.liveOrdered() {
		v.Live = append(v.Live, types.LiveSession{Config: l.session.Config(), State: string(l.session.State())})
	}
	return v
}

func (b *Battle) send(ctx context.Context, m Msg) error {
	select {
	case b.inbox <- m:
		return nil
	case <-b.done:
		return ErrBattleEnded
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, b *Battle, reply chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-b.done:
		return zero, ErrBattleEnded
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// OpenQTE sends Open and waits for the announced config.
func (b *Battle) OpenQTE(ctx context.Context, spec qte.Spec) (types.QTEConfig, error) {
	reply := make(chan OpenResult, 1)
	if err := b.send(ctx, Open{Spec: spec, Reply: reply}); err != nil {
		return types.QTEConfig{}, err
	}
	res, err := await(ctx, b, reply)
	if err != nil {
		return types.QTEConfig{}, err
	}
	return res.Config, res.Err
}

func (b *Battle) State(ctx context.Context) (types.BattleView, error) {
	reply := make(chan types.BattleView, 1)
	if err := b.send(ctx, GetState{Reply: reply}); err != nil {
		return types.BattleView{}, err
	}
	return await(ctx, b, reply)
}

func (b *Battle) History(ctx context.Context) ([]types.QTEResult, error) {
	reply := make(chan []types.QTEResult, 1)
	if err := b.send(ctx, GetHistory{Reply: reply}); err != nil {
		return nil, err
	}
	return await(ctx, b, reply)
}

// End terminates the battle and waits until its cancellations are recorded.
func (b *Battle) End(ctx context.Context, reason string) error {
	done := make(chan struct{})
	if err := b.send(ctx, Terminate{Reason: reason, Done: done}); err != nil {
		return err
	}
	_, err := await(ctx, b, done)
	if errors.Is(err, ErrBattleEnded) {
		return nil
	}
	return err
}
