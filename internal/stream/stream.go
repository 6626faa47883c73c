// Package stream publishes a player's session view and game events to a
// remote viewer over a WebSocket.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fieldctf/engine/internal/config"
	"github.com/fieldctf/engine/internal/engine"
	"github.com/fieldctf/engine/pkg/core"
	"github.com/fieldctf/engine/pkg/streaming"
)

var (
	// ErrDisabled is returned by Connect when streaming is switched off.
	ErrDisabled = errors.New("stream publisher disabled")
	// ErrNotConnected is returned when publishing before Connect.
	ErrNotConnected = errors.New("stream publisher not connected")
)

// Publisher forwards views and events to the viewer.
type Publisher struct {
	cfg config.StreamConfig
	log *slog.Logger

	mu       sync.Mutex
	conn     *connection
	playerID string
}

// New creates a publisher. It does not dial until Connect.
func New(cfg config.StreamConfig, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{cfg: cfg, log: logger.With("component", "stream")}
}

// Connect dials the viewer and announces the session. It blocks until the
// viewer acknowledges start_session.
func (p *Publisher) Connect(ctx context.Context, playerID, username string) error {
	if !p.cfg.Enabled {
		return ErrDisabled
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	hello, err := encode(streaming.TypeStartSession, streaming.StartSessionPayload{
		PlayerID: playerID,
		Username: username,
	})
	if err != nil {
		return err
	}

	conn := newConnection(p.log)
	if err := conn.dial(p.cfg.URL, p.cfg.Secret); err != nil {
		return err
	}
	conn.mu.Lock()
	conn.hello = hello
	conn.mu.Unlock()

	if err := conn.sendAndWait(hello, streaming.TypeStartSession, ackTimeout); err != nil {
		_ = conn.close()
		return fmt.Errorf("start session: %w", err)
	}

	p.mu.Lock()
	p.conn = conn
	p.playerID = playerID
	p.mu.Unlock()

	p.log.Info("Stream session started", "url", p.cfg.URL, "player", playerID)
	return nil
}

// PublishView sends v. It never blocks: a full send buffer drops the view.
func (p *Publisher) PublishView(v engine.View) error {
	return p.send(streaming.TypeView, v)
}

// Record forwards a game event, so a Publisher can serve as an engine
// event recorder.
func (p *Publisher) Record(_ context.Context, e core.GameEvent) error {
	return p.send(streaming.TypeGameEvent, streaming.GameEventPayload{
		Kind:     e.Kind,
		GameID:   e.GameID,
		PlayerID: e.PlayerID,
		Team:     string(e.Team),
		Time:     e.Time.UnixMilli(),
		Fields:   e.Fields,
	})
}

// Follow publishes every view received on views until the channel closes
// or ctx ends.
func (p *Publisher) Follow(ctx context.Context, views <-chan engine.View) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v, ok := <-views:
			if !ok {
				return nil
			}
			if err := p.PublishView(v); err != nil {
				p.log.Warn("Failed to publish view", "error", err)
			}
		}
	}
}

// Close announces end_session and shuts the connection down.
func (p *Publisher) Close() error {
	p.mu.Lock()
	conn := p.conn
	playerID := p.playerID
	p.conn = nil
	p.mu.Unlock()

	if conn == nil {
		return nil
	}
	bye, err := encode(streaming.TypeEndSession, streaming.EndSessionPayload{PlayerID: playerID})
	if err == nil {
		if err := conn.sendAndWait(bye, streaming.TypeEndSession, ackTimeout); err != nil {
			p.log.Warn("end_session not acknowledged", "error", err)
		}
	}
	return conn.close()
}

func (p *Publisher) send(msgType string, payload any) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := encode(msgType, payload)
	if err != nil {
		return err
	}
	if !conn.send(data) {
		return fmt.Errorf("%s: send buffer full", msgType)
	}
	return nil
}

func encode(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return json.Marshal(streaming.Envelope{Type: msgType, Payload: raw})
}
