package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/DoyleJ11/battle-sync/internal/battle"
	"github.com/DoyleJ11/battle-sync/internal/hub"
	"github.com/DoyleJ11/battle-sync/pkg/types"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	writeTimeout = 3 * time.Second
	idleTimeout  = 5 * time.Minute
	outboxSize   = 32
)

type Options struct {
	// Clock stamps server receipt times. It must be the battles' clock.
	Clock  clockwork.Clock
	Logger *zap.Logger
	// OriginPatterns loosens the same-origin check, e.g. for local dev.
	OriginPatterns []string
}

func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		player := r.URL.Query().Get("player")
		if code == "" || player == "" {
			http.Error(w, "missing code or player", http.StatusBadRequest)
			return
		}

		b := h.Get(r.Context(), code)
		if b == nil {
			http.Error(w, "battle not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := uuid.NewString()
		log := opts.Logger.With(
			zap.String("battle_id", code),
			zap.String("player_id", player),
			zap.String("client_id", clientID),
		)
		s := &session{b: b, conn: conn, clock: opts.Clock, log: log, player: player}

		out := make(chan types.Envelope, outboxSize)
		if !s.send(r.Context(), battle.Join{ClientID: clientID, PlayerID: player, Outbox: out}) {
			return
		}
		defer s.send(context.Background(), battle.Leave{ClientID: clientID})
		log.Debug("client joined")

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for {
				select {
				case env, ok := <-out:
					if !ok {
						// The battle closed our outbox: it ended or we were too slow.
						conn.Close(websocket.StatusGoingAway, "battle closed")
						return
					}
					if err := s.write(writeCtx, env); err != nil {
						log.Debug("write failed", zap.Error(err))
					}
				case <-writeCtx.Done():
					return
				}
			}
		}()

		// Reader loop
		for {
			ctx, cancel := context.WithTimeout(r.Context(), idleTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("read ended", zap.Error(err))
				}
				return
			}
			receivedAt := s.clock.Now().UnixMilli()

			var env types.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				s.writeError(r.Context(), "bad json")
				continue
			}
			s.handle(r.Context(), env, receivedAt)
		}
	}
}

type session struct {
	b      *battle.Battle
	conn   *websocket.Conn
	clock  clockwork.Clock
	log    *zap.Logger
	player string
}

func (s *session) handle(ctx context.Context, env types.Envelope, receivedAt int64) {
	switch env.Type {
	case types.EventQTEResponse:
		var resp types.QTEResponse
		if err := env.Decode(&resp); err != nil {
			s.writeError(ctx, "bad payload")
			return
		}
		// A connection only ever answers for its own player.
		if resp.PlayerID != s.player {
			s.log.Debug("response for another player dropped", zap.String("claimed", resp.PlayerID))
			return
		}
		s.send(ctx, battle.Submit{Response: resp, ReceivedAt: receivedAt})

	case types.EventClockPing:
		var ping types.ClockPing
		if err := env.Decode(&ping); err != nil {
			s.writeError(ctx, "bad payload")
			return
		}
		pong, err := types.NewEnvelope(types.EventClockPong, types.ClockPong{
			ClientSentAt: ping.ClientSentAt,
			ServerTime:   s.clock.Now().UnixMilli(),
		})
		if err == nil {
			_ = s.write(ctx, pong)
		}

	default:
		s.writeError(ctx, "unknown type")
	}
}

func (s *session) send(ctx context.Context, m battle.Msg) bool {
	select {
	case s.b.Inbox() <- m:
		return true
	case <-s.b.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *session) write(ctx context.Context, env types.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, payload)
}

func (s *session) writeError(ctx context.Context, msg string) {
	env, err := types.NewEnvelope(types.EventError, types.ErrorMessage{Error: msg})
	if err == nil {
		_ = s.write(ctx, env)
	}
}
