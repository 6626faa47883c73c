package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fieldctf/engine/internal/cache"
	"github.com/fieldctf/engine/internal/engine"
	"github.com/fieldctf/engine/internal/logging"
)

// StatusFileName is written into Dependencies.StatusDir on every tick.
const StatusFileName = "status.json"

// ViewSource is satisfied by *engine.Engine.
type ViewSource interface {
	PlayerID() string
	View() engine.View
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	LogManager  *logging.SlogManager
	Session     ViewSource
	PlayerCache *cache.PlayerCache
	StatusDir   string
	Interval    time.Duration
}

// Status is the snapshot written to the status file.
type Status struct {
	Time         time.Time `json:"time"`
	PlayerID     string    `json:"playerID"`
	GameID       string    `json:"gameID,omitempty"`
	State        string    `json:"state"`
	Team         string    `json:"team,omitempty"`
	RedPlayers   int       `json:"redPlayers"`
	GreenPlayers int       `json:"greenPlayers"`
	Visible      int       `json:"visiblePlayers"`
	Zones        int       `json:"zones"`
	OutOfBounds  bool      `json:"outOfBounds"`
	CacheHits    int       `json:"cacheHits"`
	CacheMisses  int       `json:"cacheMisses"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetStatus returns the current session status.
func (s *Service) GetStatus() Status {
	v := s.deps.Session.View()
	st := Status{
		Time:        time.Now().UTC(),
		PlayerID:    s.deps.Session.PlayerID(),
		State:       v.State().String(),
		Visible:     len(v.OtherPlayers),
		Zones:       len(v.Zones),
		OutOfBounds: v.OutOfBounds,
	}
	if v.Game != nil {
		st.GameID = v.Game.GameID
		st.RedPlayers = len(v.Game.RedPlayers)
		st.GreenPlayers = len(v.Game.GreenPlayers)
	}
	if v.Player != nil {
		st.Team = string(v.Player.Team())
	}
	if s.deps.PlayerCache != nil {
		st.CacheHits, st.CacheMisses = s.deps.PlayerCache.Stats()
	}
	return st
}

// WriteStatus replaces the status file with the current status.
func (s *Service) WriteStatus() error {
	data, err := json.MarshalIndent(s.GetStatus(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	path := filepath.Join(s.deps.StatusDir, StatusFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if s.deps.Session == nil {
		s.mu.Unlock()
		return fmt.Errorf("monitor: no session to watch")
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger := s.deps.LogManager.Logger()
		logger.Debug("Starting status monitor goroutine", "dir", s.deps.StatusDir)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := s.WriteStatus(); err != nil {
					logger.Error("Error writing status file", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for the goroutine to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}
