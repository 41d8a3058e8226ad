package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/DoyleJ11/battle-sync/pkg/types"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher fans battle events out to the turn controller.
type Publisher interface {
	Publish(ctx context.Context, battleID string, env types.Envelope) error
	Close() error
}

type Nop struct{}

func (Nop) Publish(context.Context, string, types.Envelope) error { return nil }
func (Nop) Close() error                                         { return nil }

type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "battle.events",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

type NATS struct {
	nc     *nats.Conn
	prefix string
}

func NewNATS(cfg NATSConfig, log *zap.Logger) (*NATS, error) {
	opts := []nats.Option{
		nats.Name("battle-sync"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error("nats error", zap.Error(err))
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATS{nc: nc, prefix: cfg.SubjectPrefix}, nil
}

// Subject is <prefix>.<battleId>.<event>, with the event's colon turned
// into a token separator so consumers can filter on qte.> or qte.resolved.
func Subject(prefix, battleID, eventType string) string {
	return strings.Join([]string{prefix, battleID, strings.ReplaceAll(eventType, ":", ".")}, ".")
}

func (p *NATS) Publish(ctx context.Context, battleID string, env types.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", env.Type, err)
	}
	subject := Subject(p.prefix, battleID, env.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (p *NATS) Close() error {
	return p.nc.Drain()
}
