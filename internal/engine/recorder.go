package engine

import (
	"context"

	"github.com/fieldctf/engine/pkg/core"
)

// EventRecorder receives game events for telemetry or audit.
type EventRecorder interface {
	Record(ctx context.Context, e core.GameEvent) error
}

// record fans e out to every recorder. Failures are logged, never returned.
func (e *Engine) record(ctx context.Context, kind string, team core.Team, fields map[string]any) {
	if len(e.deps.Recorders) == 0 {
		return
	}
	ev := core.GameEvent{
		Kind:     kind,
		GameID:   e.gameIDLocked(),
		PlayerID: e.playerID,
		Team:     team,
		Time:     e.deps.Now().UTC(),
		Fields:   fields,
	}
	for _, r := range e.deps.Recorders {
		if err := r.Record(ctx, ev); err != nil {
			e.log.Warn("failed to record game event", "kind", kind, "error", err)
		}
	}
}
