// Package convert maps between core domain types and GORM rows.
package convert

import (
	"encoding/json"
	"fmt"

	"github.com/fieldctf/engine/internal/geo"
	"github.com/fieldctf/engine/internal/model"
	"github.com/fieldctf/engine/pkg/core"
	"gorm.io/datatypes"
)

// GameToModel converts a core.Game to its row form.
func GameToModel(g *core.Game) (model.Game, error) {
	doc, err := json.Marshal(g)
	if err != nil {
		return model.Game{}, fmt.Errorf("marshal game %s: %w", g.GameID, err)
	}
	return model.Game{
		GameID:            g.GameID,
		Title:             g.Title,
		State:             g.GameState.State.String(),
		Version:           g.Version,
		Winners:           string(g.GameState.Winners),
		SafehouseLocation: geo.Point3857(g.GameState.Safehouse.Position),
		Document:          datatypes.JSON(doc),
		UpdatedAt:         g.UpdatedAt,
	}, nil
}

// GameToCore decodes the document column. Version and UpdatedAt come from
// the row so they reflect the last committed write.
func GameToCore(m model.Game) (*core.Game, error) {
	var g core.Game
	if err := json.Unmarshal(m.Document, &g); err != nil {
		return nil, fmt.Errorf("unmarshal game %s: %w", m.GameID, err)
	}
	g.GameID = m.GameID
	g.Version = m.Version
	g.UpdatedAt = m.UpdatedAt
	return &g, nil
}

// PlayerToModel converts a core.Player to its row form.
func PlayerToModel(p *core.Player) (model.Player, error) {
	doc, err := json.Marshal(p)
	if err != nil {
		return model.Player{}, fmt.Errorf("marshal player %s: %w", p.UserID, err)
	}
	return model.Player{
		UserID:   p.UserID,
		Username: p.Details.Username,
		Status:   string(p.Status),
		GameID:   p.GameID(),
		Document: datatypes.JSON(doc),
	}, nil
}

// PlayerToCore decodes the document column.
func PlayerToCore(m model.Player) (*core.Player, error) {
	var p core.Player
	if err := json.Unmarshal(m.Document, &p); err != nil {
		return nil, fmt.Errorf("unmarshal player %s: %w", m.UserID, err)
	}
	p.UserID = m.UserID
	return &p, nil
}

// GamePlayerToModel converts a live position to its row form.
func GamePlayerToModel(gameID string, p core.GamePlayer) model.GamePlayer {
	return model.GamePlayer{
		GameID:    gameID,
		PlayerID:  p.ID,
		Username:  p.Username,
		Team:      string(p.Team),
		Latitude:  p.Position.Lat,
		Longitude: p.Position.Lng,
		Location:  geo.Point3857(p.Position),
	}
}

// GamePlayerToCore converts a row to a live position. The WGS84 columns are
// authoritative; Location is only there for spatial queries.
func GamePlayerToCore(m model.GamePlayer) core.GamePlayer {
	return core.GamePlayer{
		ID:       m.PlayerID,
		Username: m.Username,
		Team:     core.Team(m.Team),
		Position: core.Coordinate{Lat: m.Latitude, Lng: m.Longitude},
	}
}

// GameEventToModel converts an engine event to a log row.
func GameEventToModel(e core.GameEvent) (model.GameEvent, error) {
	var fields datatypes.JSON
	if len(e.Fields) > 0 {
		b, err := json.Marshal(e.Fields)
		if err != nil {
			return model.GameEvent{}, fmt.Errorf("marshal event fields: %w", err)
		}
		fields = b
	}
	return model.GameEvent{
		GameID:   e.GameID,
		Kind:     e.Kind,
		PlayerID: e.PlayerID,
		Team:     string(e.Team),
		Time:     e.Time,
		Fields:   fields,
	}, nil
}

// GameEventToCore converts a log row back to an engine event.
func GameEventToCore(m model.GameEvent) (core.GameEvent, error) {
	e := core.GameEvent{
		Kind:     m.Kind,
		GameID:   m.GameID,
		PlayerID: m.PlayerID,
		Team:     core.Team(m.Team),
		Time:     m.Time,
	}
	if len(m.Fields) > 0 {
		if err := json.Unmarshal(m.Fields, &e.Fields); err != nil {
			return core.GameEvent{}, fmt.Errorf("unmarshal event fields: %w", err)
		}
	}
	return e, nil
}
