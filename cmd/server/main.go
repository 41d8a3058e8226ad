package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DoyleJ11/battle-sync/internal/battle"
	"github.com/DoyleJ11/battle-sync/internal/config"
	"github.com/DoyleJ11/battle-sync/internal/history"
	"github.com/DoyleJ11/battle-sync/internal/httpapi"
	"github.com/DoyleJ11/battle-sync/internal/hub"
	"github.com/DoyleJ11/battle-sync/internal/logging"
	"github.com/DoyleJ11/battle-sync/internal/publish"
	"github.com/DoyleJ11/battle-sync/internal/qte"
	"github.com/DoyleJ11/battle-sync/internal/ratelimit"
	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configFile := flag.String("config", "", "optional config file (yaml, json or toml)")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configFile string) (err error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ledger, closeLedger, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeLedger()) }()

	pub, err := openPublisher(cfg, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, pub.Close()) }()

	metrics, err := battle.NewMetrics()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	h := hub.NewHub(ctx, battle.Options{
		Clock:     clock,
		Ledger:    ledger,
		Publisher: pub,
		Logger:    log,
		Metrics:   metrics,
		Defaults: qte.Defaults{
			Lead:     cfg.QTELead,
			Duration: cfg.QTEDuration,
			Grace:    cfg.QTEGrace,
		},
		InboxSize:   cfg.BattleInboxSize,
		ExpiryDrain: cfg.BattleExpiryDrain,
	})

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Hub:    h,
			Ledger: ledger,
			Limiter: ratelimit.New(ratelimit.Config{
				Window:      cfg.RateLimitWindow,
				MaxAttempts: cfg.RateLimitMaxAttempts,
				Lockout:     cfg.RateLimitLockout,
			}, clock),
			Clock:  clock,
			Logger: log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		h.Inbox() <- hub.ShutdownHub{}
		select {
		case <-h.Done():
		case <-sctx.Done():
		}
		return err
	})
	return g.Wait()
}

func openLedger(cfg config.Config) (history.Ledger, func() error, error) {
	if cfg.StoreDriver == history.DriverMemory {
		return history.NewMemory(), func() error { return nil }, nil
	}
	db, err := history.Open(cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		return nil, nil, err
	}
	store, err := history.NewStore(db)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func openPublisher(cfg config.Config, log *zap.Logger) (publish.Publisher, error) {
	if cfg.NATSURL == "" {
		log.Info("nats disabled; events stay on websockets")
		return publish.Nop{}, nil
	}
	nc := publish.DefaultNATSConfig()
	nc.URL = cfg.NATSURL
	nc.SubjectPrefix = cfg.NATSSubjectPrefix
	p, err := publish.NewNATS(nc, log)
	if err != nil {
		return nil, err
	}
	return p, nil
}
