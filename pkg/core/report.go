// pkg/core/report.go
package core

import "time"

// MatchReport is the exported record of a finished game.
type MatchReport struct {
	GameID      string      `json:"gameID"`
	Title       string      `json:"title"`
	Winners     Team        `json:"winners"`
	Duration    float64     `json:"duration"` // seconds between first and last event
	Game        Game        `json:"game"`
	Events      []GameEvent `json:"events"`
	GeneratedAt time.Time   `json:"generatedAt"`
}

// NewMatchReport builds a report for g from the events recorded for it.
func NewMatchReport(g Game, events []GameEvent, now time.Time) MatchReport {
	r := MatchReport{
		GameID:      g.GameID,
		Title:       g.Title,
		Winners:     g.GameState.Winners,
		Game:        g,
		GeneratedAt: now.UTC(),
	}
	for _, e := range events {
		if e.GameID == g.GameID {
			r.Events = append(r.Events, e)
		}
	}
	if n := len(r.Events); n > 1 {
		r.Duration = r.Events[n-1].Time.Sub(r.Events[0].Time).Seconds()
	}
	return r
}
