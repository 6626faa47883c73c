// internal/storage/memory/snapshot.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/fieldctf/engine/pkg/core"
)

const snapshotBaseName = "ctf_state.json"

// Snapshot is the on-disk form of the memory store. Live positions are
// ephemeral and not saved.
type Snapshot struct {
	Games   []core.Game   `json:"games"`
	Players []core.Player `json:"players"`
}

func (b *Backend) snapshotPath() string {
	name := snapshotBaseName
	if b.cfg.CompressOutput {
		name += ".gz"
	}
	return filepath.Join(b.cfg.OutputDir, name)
}

func (b *Backend) writeSnapshot() error {
	b.mu.RLock()
	snap := Snapshot{
		Games:   make([]core.Game, 0, len(b.games)),
		Players: make([]core.Player, 0, len(b.players)),
	}
	for _, g := range b.games {
		snap.Games = append(snap.Games, *g.Clone())
	}
	for _, p := range b.players {
		snap.Players = append(snap.Players, *p.Clone())
	}
	b.mu.RUnlock()

	sort.Slice(snap.Games, func(i, j int) bool { return snap.Games[i].GameID < snap.Games[j].GameID })
	sort.Slice(snap.Players, func(i, j int) bool { return snap.Players[i].UserID < snap.Players[j].UserID })

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	f, err := os.Create(b.snapshotPath())
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer f.Close()

	var w io.Writer = f
	if b.cfg.CompressOutput {
		gz := gzip.NewWriter(f)
		defer gz.Close()
		w = gz
	}

	if err := json.NewEncoder(w).Encode(snap); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return nil
}

func (b *Backend) loadSnapshot() error {
	f, err := os.Open(b.snapshotPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if b.cfg.CompressOutput {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to read compressed snapshot: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range snap.Games {
		g := snap.Games[i]
		b.games[g.GameID] = g.Clone()
	}
	for i := range snap.Players {
		p := snap.Players[i]
		b.players[p.UserID] = p.Clone()
	}
	return nil
}
