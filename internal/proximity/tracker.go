package proximity

import (
	"context"
	"sort"
	"sync"

	"github.com/fieldctf/engine/internal/geo"
	"github.com/fieldctf/engine/internal/queue"
	"github.com/fieldctf/engine/internal/watch"
	"github.com/fieldctf/engine/pkg/core"
)

// Tracker is an in-process Source. Positions are pushed with Feed and
// transitions are computed against the registered zones.
type Tracker struct {
	mu     sync.Mutex
	zones  map[string]Zone
	inside map[string]bool
	last   core.Coordinate
	hasFix bool

	// transitions are queued so registering a zone never blocks the caller
	pending *queue.Queue[Transition]
	wake    chan struct{}
	out     chan Transition

	positions *watch.Hub[struct{}, core.Coordinate]
	posSub    *watch.Subscription[core.Coordinate]

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Source = (*Tracker)(nil)

// NewTracker starts a tracker. Call Close to release it.
func NewTracker() *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		zones:     make(map[string]Zone),
		inside:    make(map[string]bool),
		pending:   queue.New[Transition](),
		wake:      make(chan struct{}, 1),
		out:       make(chan Transition),
		positions: watch.NewHub[struct{}, core.Coordinate](),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	t.posSub = t.positions.Subscribe(ctx, struct{}{})
	go t.pump()
	return t
}

// Positions implements Source.
func (t *Tracker) Positions() <-chan core.Coordinate {
	return t.posSub.C()
}

// Transitions implements Source.
func (t *Tracker) Transitions() <-chan Transition {
	return t.out
}

// Feed records a new fix and queues the resulting zone crossings.
func (t *Tracker) Feed(pos core.Coordinate) error {
	if !geo.Valid(pos) {
		return geo.ErrInvalidCoordinates
	}

	t.mu.Lock()
	t.last = pos
	t.hasFix = true
	for _, id := range t.sortedIDs() {
		now := t.zones[id].Contains(pos)
		if now == t.inside[id] {
			continue
		}
		t.inside[id] = now
		kind := Exit
		if now {
			kind = Enter
		}
		t.pending.Push(Transition{ZoneID: id, Kind: kind})
	}
	// Publish never blocks; holding mu keeps fixes in Feed order
	t.positions.Publish(struct{}{}, pos)
	t.mu.Unlock()

	t.notify()
	return nil
}

// RegisterZone implements Source.
func (t *Tracker) RegisterZone(ctx context.Context, z Zone) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	t.zones[z.ID] = z
	in := t.hasFix && z.Contains(t.last)
	t.inside[z.ID] = in
	if in {
		t.pending.Push(Transition{ZoneID: z.ID, Kind: Enter})
	}
	t.mu.Unlock()

	t.notify()
	return nil
}

// UnregisterAllZones implements Source. No Exit transitions are emitted.
func (t *Tracker) UnregisterAllZones(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.zones)
	clear(t.inside)
	return nil
}

// Zones returns the registered zones ordered by ID.
func (t *Tracker) Zones() []Zone {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Zone, 0, len(t.zones))
	for _, id := range t.sortedIDs() {
		out = append(out, t.zones[id])
	}
	return out
}

// Inside reports whether the last fix is inside zone id.
func (t *Tracker) Inside(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inside[id]
}

// Close stops delivery and closes both streams.
func (t *Tracker) Close() {
	t.cancel()
	<-t.done
	t.positions.CloseAll()
}

func (t *Tracker) sortedIDs() []string {
	ids := make([]string, 0, len(t.zones))
	for id := range t.zones {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (t *Tracker) notify() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// pump moves queued transitions to the output channel in order.
func (t *Tracker) pump() {
	defer close(t.done)
	defer close(t.out)

	for {
		item, ok := t.pending.Pop()
		if !ok {
			select {
			case <-t.wake:
				continue
			case <-t.ctx.Done():
				return
			}
		}
		select {
		case t.out <- item:
		case <-t.ctx.Done():
			return
		}
	}
}
