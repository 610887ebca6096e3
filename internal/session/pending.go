// ABOUTME: Thread-safe TTL store for authorization requests awaiting their callback
// ABOUTME: Entries are keyed by OAuth state, taken exactly once and evicted oldest-first when full

package session

import (
	"container/list"
	"sync"
	"time"

	"github.com/2389/platform-engine/internal/identity"
)

// PendingTTL is how long a redirect may take before its callback is rejected.
const PendingTTL = 10 * time.Minute

// Pending is the per-attempt data kept between redirect and callback.
type Pending struct {
	State      string
	Nonce      string
	Verifier   string
	ReturnPath string
	Action     identity.Action
	Created    time.Time
}

// pendingEntry stores a pending authorization and its list element.
type pendingEntry struct {
	pending Pending
	element *list.Element
}

// PendingStore holds pending authorizations in memory. Uses a doubly-linked
// list to maintain insertion order for O(1) eviction.
type PendingStore struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
	order   *list.List // states in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// NewPendingStore creates a store with the given TTL and maximum size.
// A background goroutine periodically removes expired entries.
func NewPendingStore(ttl time.Duration, maxSize int) *PendingStore {
	p := &PendingStore{
		entries: make(map[string]*pendingEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go p.cleanup()
	return p
}

// Put records a pending authorization under its state. If the store is at
// capacity, the oldest entry is evicted to make room.
func (p *PendingStore) Put(pa Pending) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pa.Created.IsZero() {
		pa.Created = p.now()
	}

	if entry, exists := p.entries[pa.State]; exists {
		entry.pending = pa
		p.order.MoveToBack(entry.element)
		return
	}

	if len(p.entries) >= p.maxSize {
		p.evictOldest()
	}

	elem := p.order.PushBack(pa.State)
	p.entries[pa.State] = &pendingEntry{pending: pa, element: elem}
}

// Take removes and returns the pending authorization for state. It returns
// false if the state is unknown, already used or expired.
func (p *PendingStore) Take(state string) (Pending, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[state]
	if !ok {
		return Pending{}, false
	}
	p.order.Remove(entry.element)
	delete(p.entries, state)

	if p.now().Sub(entry.pending.Created) > p.ttl {
		return Pending{}, false
	}
	return entry.pending, true
}

// Len returns the number of stored entries, expired or not.
func (p *PendingStore) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (p *PendingStore) evictOldest() {
	front := p.order.Front()
	if front == nil {
		return
	}

	state, _ := front.Value.(string)
	p.order.Remove(front)
	delete(p.entries, state)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (p *PendingStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.runCleanup()
		case <-p.done:
			return
		}
	}
}

// runCleanup removes all expired entries.
func (p *PendingStore) runCleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for state, entry := range p.entries {
		if now.Sub(entry.pending.Created) > p.ttl {
			p.order.Remove(entry.element)
			delete(p.entries, state)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (p *PendingStore) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		close(p.done)
		p.closed = true
	}
}
