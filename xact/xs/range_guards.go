package xs

import (
	"sync"

	"github.com/shardkit/migrate/meta"
)

// RangeGuards implements the two per-namespace registries the query router
// consults (spec.md §4.7): donated-outgoing (donor side, added at commit,
// removed at cleanup) and pending-incoming (recipient side, added before
// CLONE, removed at DONE or on failure).
type RangeGuards struct {
	mu       sync.RWMutex
	outgoing map[string]*meta.Range // ns -> donated-outgoing range
	incoming map[string]incomingMark
}

type incomingMark struct {
	rng   *meta.Range
	epoch string
}

func NewRangeGuards() *RangeGuards {
	return &RangeGuards{
		outgoing: make(map[string]*meta.Range),
		incoming: make(map[string]incomingMark),
	}
}

// NotePending marks ns's [min,max) as pending-incoming: logically owned by
// the recipient but not yet servable to user queries (spec.md §4.7).
func (g *RangeGuards) NotePending(ns string, rng *meta.Range, epoch string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.incoming[ns] = incomingMark{rng: rng, epoch: epoch}
}

// ForgetPending clears a pending-incoming mark, on DONE or on any recipient
// failure (spec.md §4.5 step 1, §8 invariant 5).
func (g *RangeGuards) ForgetPending(ns string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.incoming, ns)
}

func (g *RangeGuards) IsPendingIncoming(ns string) (rng *meta.Range, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m, ok := g.incoming[ns]
	if !ok {
		return nil, false
	}
	return m.rng, true
}

// DonateOutgoing marks ns's range as donated-outgoing: the donor must
// refuse to serve it until cleanup completes (spec.md §4.4 step 5.4, §4.7).
func (g *RangeGuards) DonateOutgoing(ns string, rng *meta.Range) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outgoing[ns] = rng
}

// ForgetOutgoing clears a donated-outgoing mark once cleanup has run (or a
// rollback restores the range locally).
func (g *RangeGuards) ForgetOutgoing(ns string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.outgoing, ns)
}

func (g *RangeGuards) IsDonatedOutgoing(ns string) (rng *meta.Range, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.outgoing[ns]
	return r, ok
}

// MayServe reports whether ns/doc may be returned to a client query: false
// if donated-outgoing (donor) or still pending-incoming (recipient) for the
// doc's key (spec.md D5 "disjoint ownership").
func (g *RangeGuards) MayServe(ns string, key meta.Key) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if r, ok := g.outgoing[ns]; ok && r.KeyInRange(key) {
		return false
	}
	if m, ok := g.incoming[ns]; ok && m.rng.KeyInRange(key) {
		return false
	}
	return true
}
