// ABOUTME: Replay guard remembering recently processed webhook deliveries
// ABOUTME: TTL plus size-bounded, oldest-first eviction, with a background sweeper

package dedupe

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// DefaultSweepInterval is how often expired keys are removed.
const DefaultSweepInterval = time.Minute

type seenKey struct {
	at      time.Time
	element *list.Element
}

// Guard reports whether a delivery key was already processed within its TTL.
// It is safe for concurrent use.
type Guard struct {
	mu      sync.Mutex
	seen    map[string]*seenKey
	order   *list.List // oldest at front
	ttl     time.Duration
	maxKeys int
	now     func() time.Time

	done   chan struct{}
	closed bool
}

// New creates a Guard and starts its sweeper. Call Close to stop it.
func New(ttl time.Duration, maxKeys int) *Guard {
	g := &Guard{
		seen:    make(map[string]*seenKey),
		order:   list.New(),
		ttl:     ttl,
		maxKeys: maxKeys,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go g.sweepLoop(DefaultSweepInterval)
	return g
}

// Key derives a replay key from a delivery's event id, falling back to a
// digest of the raw body when the sender supplied no id.
func Key(eventID string, body []byte) string {
	if eventID != "" {
		return "id:" + eventID
	}
	sum := sha256.Sum256(body)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Seen atomically checks key and marks it. It returns true for a replay.
func (g *Guard) Seen(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if k, ok := g.seen[key]; ok {
		if now.Sub(k.at) < g.ttl {
			return true
		}
		g.order.Remove(k.element)
		delete(g.seen, key)
	}

	if len(g.seen) >= g.maxKeys {
		g.evictOldestLocked()
	}
	g.seen[key] = &seenKey{at: now, element: g.order.PushBack(key)}
	return false
}

// Forget drops key so a delivery that failed downstream can be retried.
func (g *Guard) Forget(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if k, ok := g.seen[key]; ok {
		g.order.Remove(k.element)
		delete(g.seen, key)
	}
}

// Len returns the number of remembered keys, expired or not.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

func (g *Guard) evictOldestLocked() {
	front := g.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	g.order.Remove(front)
	delete(g.seen, key)
}

func (g *Guard) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.sweep()
		case <-g.done:
			return
		}
	}
}

// sweep removes expired keys. Keys are ordered by first sighting, so it
// stops at the first live one.
func (g *Guard) sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for e := g.order.Front(); e != nil; {
		key, _ := e.Value.(string)
		k := g.seen[key]
		if now.Sub(k.at) < g.ttl {
			return
		}
		next := e.Next()
		g.order.Remove(e)
		delete(g.seen, key)
		e = next
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.closed {
		close(g.done)
		g.closed = true
	}
}
