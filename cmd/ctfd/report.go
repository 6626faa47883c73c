package main

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fieldctf/engine/internal/api"
	"github.com/fieldctf/engine/internal/config"
	"github.com/fieldctf/engine/internal/engine"
	"github.com/fieldctf/engine/internal/queue"
	"github.com/fieldctf/engine/pkg/core"
)

// eventLogLimit caps the events kept for the next match report.
const eventLogLimit = 10_000

// eventLog keeps the session's game events until a report takes them.
type eventLog struct {
	q *queue.Queue[core.GameEvent]
}

func newEventLog(limit int) *eventLog {
	return &eventLog{q: queue.NewBounded[core.GameEvent](limit)}
}

// Record implements engine.EventRecorder.
func (l *eventLog) Record(_ context.Context, e core.GameEvent) error {
	l.q.Push(e)
	return nil
}

// take removes and returns the events of gameID, keeping the rest.
func (l *eventLog) take(gameID string) []core.GameEvent {
	var mine, rest []core.GameEvent
	for _, e := range l.q.GetAndEmpty() {
		if e.GameID == gameID {
			mine = append(mine, e)
		} else {
			rest = append(rest, e)
		}
	}
	l.q.Requeue(rest)
	return mine
}

// reporter writes a match report when the session's game ends and
// optionally uploads it.
type reporter struct {
	cfg    config.APIConfig
	events *eventLog
	client *api.Client
	logger *slog.Logger
	now    func() time.Time

	done map[string]bool
}

func newReporter(cfg config.APIConfig, events *eventLog, logger *slog.Logger) *reporter {
	return &reporter{
		cfg:    cfg,
		events: events,
		logger: logger,
		now:    time.Now,
		done:   make(map[string]bool),
	}
}

// Follow exports one report per finished game seen on views.
func (r *reporter) Follow(ctx context.Context, views <-chan engine.View) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v, ok := <-views:
			if !ok {
				return nil
			}
			if !v.EnterGameOverScreen || v.Game == nil || r.done[v.Game.GameID] {
				continue
			}
			r.done[v.Game.GameID] = true
			if _, err := r.export(ctx, *v.Game); err != nil {
				r.logger.Error("Failed to export match report", "game", v.Game.GameID, "error", err)
			}
		}
	}
}

// export writes the gzipped JSON report of g and uploads it when a client
// is configured. It returns the report path.
func (r *reporter) export(ctx context.Context, g core.Game) (string, error) {
	now := r.now()
	report := core.NewMatchReport(g, r.events.take(g.GameID), now)

	if err := os.MkdirAll(r.cfg.ReportsDir, 0o755); err != nil {
		return "", fmt.Errorf("create reports dir: %w", err)
	}
	path := filepath.Join(r.cfg.ReportsDir, fmt.Sprintf("%s_%s.json.gz", g.GameID, now.UTC().Format("20060102_150405")))
	if err := writeReport(path, report); err != nil {
		return "", err
	}
	r.logger.Info("Match report written", "game", g.GameID, "path", path, "events", len(report.Events))

	if r.client == nil {
		return path, nil
	}
	if err := r.client.UploadReport(ctx, path, report, r.cfg.Tag); err != nil {
		return path, fmt.Errorf("upload report: %w", err)
	}
	r.logger.Info("Match report uploaded", "game", g.GameID, "server", r.cfg.ServerURL)
	return path, nil
}

func writeReport(path string, report core.MatchReport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("compress report: %w", err)
	}
	return f.Close()
}
