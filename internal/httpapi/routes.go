package httpapi

import (
	"net/http"

	"github.com/DoyleJ11/battle-sync/internal/history"
	"github.com/DoyleJ11/battle-sync/internal/hub"
	"github.com/DoyleJ11/battle-sync/internal/ratelimit"
	"github.com/DoyleJ11/battle-sync/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type Deps struct {
	Hub     *hub.Hub
	Ledger  history.Ledger
	Limiter *ratelimit.Limiter
	Clock   clockwork.Clock
	Logger  *zap.Logger
	// OriginPatterns is passed to the WebSocket accept check.
	OriginPatterns []string
}

// API holds what the turn controller's endpoints need.
type API struct {
	hub     *hub.Hub
	ledger  history.Ledger
	limiter *ratelimit.Limiter
	log     *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Ledger == nil {
		d.Ledger = history.NewMemory()
	}
	if d.Limiter == nil {
		d.Limiter = ratelimit.New(ratelimit.DefaultConfig(), d.Clock)
	}
	a := &API{hub: d.Hub, ledger: d.Ledger, limiter: d.Limiter, log: d.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(d.Hub, ws.Options{
		Clock:          d.Clock,
		Logger:         d.Logger,
		OriginPatterns: d.OriginPatterns,
	}))

	// Turn controller
	r.Route("/battles", func(r chi.Router) {
		r.Post("/", a.CreateBattle)
		r.Route("/{code}", func(r chi.Router) {
			r.Delete("/", a.EndBattle)
			r.Post("/qte", a.OpenQTE)
			r.Get("/history", a.History)
			r.Post("/visibility", a.Visibility)
		})
	})
	return r
}
