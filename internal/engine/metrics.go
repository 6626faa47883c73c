package engine

import (
	"context"
	"fmt"

	"github.com/fieldctf/engine/pkg/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fieldctf/engine/internal/engine"

type metrics struct {
	flagsCaptured  metric.Int64Counter
	battlesCreated metric.Int64Counter
	gamesEnded     metric.Int64Counter
	conflicts      metric.Int64Counter
}

func newMetrics() (*metrics, error) {
	m := otel.Meter(instrumentationName)
	var (
		out metrics
		err error
	)

	out.flagsCaptured, err = m.Int64Counter("ctf.flags.captured",
		metric.WithDescription("Flags captured"))
	if err != nil {
		return nil, fmt.Errorf("creating flags counter: %w", err)
	}
	out.battlesCreated, err = m.Int64Counter("ctf.battles.created",
		metric.WithDescription("Battles started between opposing players"))
	if err != nil {
		return nil, fmt.Errorf("creating battles counter: %w", err)
	}
	out.gamesEnded, err = m.Int64Counter("ctf.games.ended",
		metric.WithDescription("Games that reached the Ended state"))
	if err != nil {
		return nil, fmt.Errorf("creating games counter: %w", err)
	}
	out.conflicts, err = m.Int64Counter("ctf.write.conflicts",
		metric.WithDescription("Conditional game writes retried after a concurrent change"))
	if err != nil {
		return nil, fmt.Errorf("creating conflicts counter: %w", err)
	}
	return &out, nil
}

func teamAttr(team core.Team) metric.AddOption {
	return metric.WithAttributes(attribute.String("team", string(team)))
}

func (m *metrics) flagCaptured(ctx context.Context, team core.Team) {
	m.flagsCaptured.Add(ctx, 1, teamAttr(team))
}

func (m *metrics) gameEnded(ctx context.Context, winners core.Team) {
	m.gamesEnded.Add(ctx, 1, teamAttr(winners))
}
