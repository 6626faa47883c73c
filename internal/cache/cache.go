package cache

import (
	"sync"

	"github.com/fieldctf/engine/pkg/core"
)

// PlayerCache keeps player records read from the store so repeated lookups
// during a session avoid a round trip. Values are copied in and out.
type PlayerCache struct {
	m       sync.Mutex
	Players map[string]core.Player
	hits    SafeCounter
	misses  SafeCounter
}

func NewPlayerCache() *PlayerCache {
	return &PlayerCache{
		Players: make(map[string]core.Player),
	}
}

func (c *PlayerCache) Reset() {
	c.m.Lock()
	defer c.m.Unlock()
	c.Players = make(map[string]core.Player)
}

func (c *PlayerCache) Get(id string) (*core.Player, bool) {
	c.m.Lock()
	p, ok := c.Players[id]
	c.m.Unlock()
	if !ok {
		c.misses.Inc()
		return nil, false
	}
	c.hits.Inc()
	return p.Clone(), true
}

func (c *PlayerCache) Put(p *core.Player) {
	if p == nil {
		return
	}
	c.m.Lock()
	defer c.m.Unlock()
	c.Players[p.UserID] = *p.Clone()
}

func (c *PlayerCache) Evict(id string) {
	c.m.Lock()
	defer c.m.Unlock()
	delete(c.Players, id)
}

// Stats returns the hit and miss counts since creation.
func (c *PlayerCache) Stats() (hits, misses int) {
	return c.hits.Value(), c.misses.Value()
}

// SafeCounter is a thread-safe counter
type SafeCounter struct {
	mu sync.Mutex
	v  int
}

func (c *SafeCounter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

func (c *SafeCounter) Inc() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.v++
}
