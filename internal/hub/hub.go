package hub

import (
	"context"
	"sync/atomic"

	"github.com/DoyleJ11/battle-sync/internal/battle"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

type HubMsg interface{ isHubMsg() }

// CreateBattle replies with nil if the code is taken.
type CreateBattle struct {
	Code  string
	Reply chan *battle.Battle
}

type GetBattle struct {
	Code  string
	Reply chan *battle.Battle
}

type EnsureBattle struct {
	Code  string
	Reply chan *battle.Battle
}

// RemoveBattle ends the battle with Reason. Done, if set, is closed once the
// battle has recorded its cancellations.
type RemoveBattle struct {
	Code   string
	Reason string
	Done   chan struct{}
}

type ShutdownHub struct{}

func (CreateBattle) isHubMsg() {}
func (GetBattle) isHubMsg()    {}
func (EnsureBattle) isHubMsg() {}
func (RemoveBattle) isHubMsg() {}
func (ShutdownHub) isHubMsg()  {}

type Hub struct {
	inbox   chan HubMsg
	battles map[string]*battle.Battle
	opts    battle.Options
	log     *zap.Logger
	live    atomic.Int64
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHub starts the registry. Every battle it creates shares opts.
func NewHub(parent context.Context, opts battle.Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		battles: make(map[string]*battle.Battle),
		opts:    opts,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	h.registerGauge()
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once the registry has stopped.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Live is the number of registered battles.
func (h *Hub) Live() int { return int(h.live.Load()) }

func (h *Hub) registerGauge() {
	m := otel.Meter("github.com/DoyleJ11/battle-sync/internal/hub")
	gauge, err := m.Int64ObservableGauge(
		"battles.live",
		metric.WithDescription("Battles currently registered"),
	)
	if err != nil {
		h.log.Warn("creating live battles gauge", zap.Error(err))
		return
	}
	_, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, h.live.Load())
		return nil
	}, gauge)
	if err != nil {
		h.log.Warn("registering live battles callback", zap.Error(err))
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateBattle:
				if h.battles[msg.Code] != nil {
					msg.Reply <- nil
					break
				}
				msg.Reply <- h.start(msg.Code)

			case GetBattle:
				msg.Reply <- h.battles[msg.Code] // May be nil

			case EnsureBattle:
				if b := h.battles[msg.Code]; b != nil {
					msg.Reply <- b
					break
				}
				msg.Reply <- h.start(msg.Code)

			case RemoveBattle:
				b := h.battles[msg.Code]
				if b == nil {
					if msg.Done != nil {
						close(msg.Done)
					}
					break
				}
				delete(h.battles, msg.Code)
				h.live.Store(int64(len(h.battles)))
				b.Inbox() <- battle.Terminate{Reason: msg.Reason, Done: msg.Done}
				h.log.Info("battle removed", zap.String("battle_id", msg.Code), zap.String("reason", msg.Reason))

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) start(code string) *battle.Battle {
	b := battle.New(h.ctx, code, h.opts)
	h.battles[code] = b
	h.live.Store(int64(len(h.battles)))
	h.log.Info("battle created", zap.String("battle_id", code))
	return b
}

func (h *Hub) shutdown() {
	for _, b := range h.battles {
		b.Inbox() <- battle.Shutdown{}
	}
	clear(h.battles)
	h.live.Store(0)
	h.cancel()
}

func (h *Hub) ask(ctx context.Context, m HubMsg, reply chan *battle.Battle) *battle.Battle {
	select {
	case h.inbox <- m:
	case <-h.done:
		return nil
	case <-ctx.Done():
		return nil
	}
	select {
	case b := <-reply:
		return b
	case <-h.done:
		return nil
	case <-ctx.Done():
		return nil
	}
}

// Get returns the battle registered under code, or nil.
func (h *Hub) Get(ctx context.Context, code string) *battle.Battle {
	reply := make(chan *battle.Battle, 1)
	return h.ask(ctx, GetBattle{Code: code, Reply: reply}, reply)
}

// Create registers a new battle, or returns nil if code is taken.
func (h *Hub) Create(ctx context.Context, code string) *battle.Battle {
	reply := make(chan *battle.Battle, 1)
	return h.ask(ctx, CreateBattle{Code: code, Reply: reply}, reply)
}

// Remove ends the battle under code and waits for it to settle. It reports
// whether such a battle existed.
func (h *Hub) Remove(ctx context.Context, code, reason string) bool {
	if h.Get(ctx, code) == nil {
		return false
	}
	done := make(chan struct{})
	select {
	case h.inbox <- RemoveBattle{Code: code, Reason: reason, Done: done}:
	case <-ctx.Done():
		return false
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
	return true
}
