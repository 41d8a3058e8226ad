package battle

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func meter() metric.Meter {
	return otel.Meter("github.com/DoyleJ11/battle-sync/internal/battle")
}

// Metrics are shared by every battle in the process. They go to the global
// OTel provider, which is a no-op unless one is installed.
type Metrics struct {
	opened   metric.Int64Counter
	terminal metric.Int64Counter
	rejected metric.Int64Counter
}

func NewMetrics() (*Metrics, error) {
	m := meter()
	var (
		out Metrics
		err error
	)

	out.opened, err = m.Int64Counter(
		"qte.sessions.opened",
		metric.WithDescription("QTE sessions scheduled, cascades included"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating opened counter: %w", err)
	}

	out.terminal, err = m.Int64Counter(
		"qte.sessions.terminal",
		metric.WithDescription("QTE sessions that resolved or expired"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating terminal counter: %w", err)
	}

	out.rejected, err = m.Int64Counter(
		"qte.responses.rejected",
		metric.WithDescription("Responses dropped by validation"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating rejected counter: %w", err)
	}

	return &out, nil
}

func (m *Metrics) sessionOpened() {
	m.opened.Add(context.Background(), 1)
}

func (m *Metrics) sessionTerminal(outcome string) {
	m.terminal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) responseRejected(reason string) {
	m.rejected.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}
