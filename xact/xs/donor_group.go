package xs

import (
	"context"
	"sync"

	"github.com/shardkit/migrate/cluster"
	"github.com/shardkit/migrate/meta"
	"github.com/shardkit/migrate/xact/xreg"
)

// DonorGroup aggregates the Donor Sessions of one migration's linked
// namespaces (spec.md §4.2). Exactly one DonorGroup may be active against a
// given *xreg.Registry at a time (D1); Design Note 9 replaces the
// teacher's package-level singleton with this explicit, constructible type
// so tests can run several groups, each against its own registry, side by
// side.
type DonorGroup struct {
	registry *xreg.Registry
	accessor cluster.RecordAccessor

	mu       sync.RWMutex
	migID    meta.MigrationId
	sessions map[string]*DonorSession
	generic  *DonorSession // sentinel no-op receiver (Design Note 9)
}

func NewDonorGroup(registry *xreg.Registry, accessor cluster.RecordAccessor) *DonorGroup {
	return &DonorGroup{
		registry: registry,
		accessor: accessor,
		generic:  NewDonorSession("", accessor),
	}
}

func (g *DonorGroup) UUID() string { return string(g.migID) }
func (g *DonorGroup) Kind() string { return "donor-group" }

// Start creates one Donor Session per namespace and activates all of them
// under a single migration id (spec.md §4.2). namespaces[0] is the primary;
// the rest are its linked collections, sharing rng per spec.md §9's "linked
// range equality" precondition.
func (g *DonorGroup) Start(migID meta.MigrationId, namespaces []string, rng *meta.Range, pattern meta.ShardKeyPattern) error {
	if _, busy := g.registry.TryActivate(stubRenewable{migID, "donor-group"}); busy {
		return xreg.ErrBusy(stubRenewable{migID, "donor-group"})
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.migID = migID
	g.sessions = make(map[string]*DonorSession, len(namespaces))
	for _, ns := range namespaces {
		s := NewDonorSession(ns, g.accessor)
		if err := s.Start(migID, rng, pattern); err != nil {
			for _, started := range g.sessions {
				started.Done()
			}
			g.registry.Clear(string(migID))
			return err
		}
		g.sessions[ns] = s
	}
	return nil
}

type stubRenewable struct {
	id   meta.MigrationId
	kind string
}

func (s stubRenewable) UUID() string { return string(s.id) }
func (s stubRenewable) Kind() string { return s.kind }

// Session returns the namespace's session, or the sentinel generic session
// if ns is not part of the active migration - the no-op receiver pattern
// from Design Note 9's "sentinel genericMS", so the mod-capture hook can
// always call through without a nil check.
func (g *DonorGroup) Session(ns string) *DonorSession {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if s, ok := g.sessions[ns]; ok {
		return s
	}
	return g.generic
}

func (g *DonorGroup) Namespaces() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ns := make([]string, 0, len(g.sessions))
	for n := range g.sessions {
		ns = append(ns, n)
	}
	return ns
}

// LogMod and AboutToDelete are the Donor Group ends of the mod-capture
// hook's two entry points (spec.md §4.3): always safe to call, dispatching
// to the generic sentinel when ns isn't under migration.
func (g *DonorGroup) LogMod(kind cluster.OpKind, ns string, obj meta.Document, idPattern meta.Key, notInActiveChunk bool) {
	g.Session(ns).LogMod(kind, obj, idPattern, notInActiveChunk)
}

func (g *DonorGroup) AboutToDelete(ns string, loc cluster.RecordLocator) {
	g.Session(ns).AboutToDelete(loc)
}

// StoreCurrentLocs fans out to every namespace's session, short-circuiting
// on the first one reported too big.
func (g *DonorGroup) StoreCurrentLocs(ctx context.Context, maxChunkBytes int64) (tooBigNS string, estimatedChunkSize int64, err error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for ns, s := range g.sessions {
		tooBig, est, serr := s.StoreCurrentLocs(ctx, maxChunkBytes)
		if serr != nil {
			return "", 0, serr
		}
		if tooBig {
			return ns, est, nil
		}
	}
	return "", 0, nil
}

func (g *DonorGroup) CloneLocsRemaining() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	total := 0
	for _, s := range g.sessions {
		total += s.CloneLocsRemaining()
	}
	return total
}

func (g *DonorGroup) MBUsed() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var total int64
	for _, s := range g.sessions {
		total += s.MemoryUsed()
	}
	return float64(total) / (1024 * 1024)
}

func (g *DonorGroup) SetInCriticalSection(b bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, s := range g.sessions {
		s.SetInCriticalSection(b)
	}
}

// WaitTillNotInCriticalSection waits on every session, AND-combining the
// results (spec.md §4.2 aggregate operations).
func (g *DonorGroup) WaitTillNotInCriticalSection(ctx context.Context) bool {
	g.mu.RLock()
	sessions := make([]*DonorSession, 0, len(g.sessions))
	for _, s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.RUnlock()

	ok := true
	for _, s := range sessions {
		if !s.WaitTillNotInCriticalSection(ctx) {
			ok = false
		}
	}
	return ok
}

// Done clears every session and vacates the registry slot (spec.md §4.1
// done, §4.7's "global write lock, briefly").
func (g *DonorGroup) Done() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.sessions {
		s.Done()
	}
	g.registry.Clear(string(g.migID))
	g.sessions = nil
}
