package xs

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shardkit/migrate/meta"
	"github.com/shardkit/migrate/rpc"
	"github.com/shardkit/migrate/xact/xreg"
)

// RecipientGroup aggregates the Recipient Sessions of one migration's
// linked namespaces (spec.md §4.6), mirroring DonorGroup on the other
// side: one *xreg.Registry slot per migration id, one background Run
// goroutine per namespace.
type RecipientGroup struct {
	registry *xreg.Registry

	mu       sync.RWMutex
	migID    meta.MigrationId
	from     string
	primary  string
	sessions map[string]*RecipientSession
	// runCtx is the parent every session's context derives from, stored once
	// in Start so later StartOne calls don't lose the caller's deadline and
	// cancellation by falling back to context.Background().
	runCtx  context.Context
	cancels []context.CancelFunc
}

func NewRecipientGroup(registry *xreg.Registry) *RecipientGroup {
	return &RecipientGroup{registry: registry}
}

func (g *RecipientGroup) UUID() string { return string(g.migID) }
func (g *RecipientGroup) Kind() string { return "recipient-group" }

// SessionFactory builds one namespace's RecipientSession, letting the
// group stay agnostic of the concrete collaborator wiring (tests and
// cmd/migrated each supply their own).
type SessionFactory func(ns string, rng *meta.Range, pattern meta.ShardKeyPattern) *RecipientSession

// Start primes the primary namespace and activates the group under migID
// (spec.md §4.6 _recvChunkStart). Additional linked namespaces join via
// StartOne.
func (g *RecipientGroup) Start(
	ctx context.Context, migID meta.MigrationId, from, ns string, rng *meta.Range, pattern meta.ShardKeyPattern, factory SessionFactory,
) error {
	if _, busy := g.registry.TryActivate(stubRenewable{migID, "recipient-group"}); busy {
		return xreg.ErrBusy(stubRenewable{migID, "recipient-group"})
	}

	runCtx, cancel := context.WithCancel(ctx)
	g.mu.Lock()
	g.migID = migID
	g.from = from
	g.primary = ns
	g.sessions = make(map[string]*RecipientSession, 1)
	g.runCtx = runCtx
	g.cancels = []context.CancelFunc{cancel}
	s := factory(ns, rng, pattern)
	g.sessions[ns] = s
	g.mu.Unlock()

	go s.Run(runCtx)
	return nil
}

// StartOne adds one more linked namespace to an already-active group
// (spec.md §4.6 _recvChunkStartOne), deriving its session context from the
// group's original parent context rather than a fresh background one, and
// keeping its cancel func alongside every earlier session's so Abort cancels
// all of them, not just the most recently joined.
func (g *RecipientGroup) StartOne(ns string, rng *meta.Range, pattern meta.ShardKeyPattern, factory SessionFactory) error {
	g.mu.Lock()
	if g.sessions == nil {
		g.mu.Unlock()
		return fmt.Errorf("recipient group: startOne(%s) before start", ns)
	}
	if _, ok := g.sessions[ns]; ok {
		g.mu.Unlock()
		return nil // already joined, idempotent retry from the donor side
	}
	s := factory(ns, rng, pattern)
	g.sessions[ns] = s

	sessCtx, cancel := context.WithCancel(g.runCtx)
	g.cancels = append(g.cancels, cancel)
	g.mu.Unlock()

	go s.Run(sessCtx)
	return nil
}

func (g *RecipientGroup) Session(ns string) (*RecipientSession, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.sessions[ns]
	return s, ok
}

// Primary returns the namespace _recvChunkStart was first called with.
func (g *RecipientGroup) Primary() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.primary
}

func (g *RecipientGroup) Namespaces() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.sessions))
	for ns := range g.sessions {
		out = append(out, ns)
	}
	return out
}

// state precedence orders RState from least- to most-advanced, except that
// FAIL/ABORT always dominate regardless of position (spec.md §4.6
// "aggregate state = minimum of all member states, with FAIL/ABORT
// dominating").
var statePrecedence = map[RState]int{
	StReady:       0,
	StClone:       1,
	StCatchup:     2,
	StSteady:      3,
	StCommitStart: 4,
	StDone:        5,
}

// AggregateState reduces every member session's state to one group state
// (spec.md §4.6).
func (g *RecipientGroup) AggregateState() RState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.sessions) == 0 {
		return StReady
	}
	min := StDone
	for _, s := range g.sessions {
		st := s.State()
		if st == StFail || st == StAbort {
			return st
		}
		if statePrecedence[st] < statePrecedence[min] {
			min = st
		}
	}
	return min
}

// StartCommit fans StartCommit out to every member session concurrently,
// returning the first error encountered (spec.md §4.6 _recvChunkCommit).
func (g *RecipientGroup) StartCommit(ctx context.Context) error {
	g.mu.RLock()
	sessions := make([]*RecipientSession, 0, len(g.sessions))
	for _, s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.RUnlock()

	eg, egCtx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		s := s
		eg.Go(func() error { return s.StartCommit(egCtx) })
	}
	return eg.Wait()
}

// Abort fans abort out to every member session and vacates the registry
// slot (spec.md §4.6 _recvChunkAbort).
func (g *RecipientGroup) Abort() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.sessions {
		s.Abort()
	}
	for _, cancel := range g.cancels {
		cancel()
	}
	g.registry.Clear(string(g.migID))
}

// Status reports one namespace's status for _recvChunkStatus (spec.md
// §4.6/§6).
func (g *RecipientGroup) Status(ns string) (rpc.RecvChunkStatusResp, bool) {
	s, ok := g.Session(ns)
	if !ok {
		return rpc.RecvChunkStatusResp{}, false
	}
	resp := rpc.RecvChunkStatusResp{
		Active: true,
		NS:     s.ns,
		From:   s.from,
		Min:    s.rng.Min,
		Max:    s.rng.Max,
		Pattern: s.pattern,
		State:  string(s.State()),
		Counts: s.Counts(),
	}
	if err := s.Err(); err != nil {
		resp.Errmsg = err.Error()
	}
	return resp, true
}

// Done releases the group's registry slot once every member session has
// reached DONE (spec.md §4.6 cleanup).
func (g *RecipientGroup) Done() {
	g.mu.RLock()
	done := true
	for _, s := range g.sessions {
		if s.State() != StDone {
			done = false
			break
		}
	}
	g.mu.RUnlock()
	if !done {
		return
	}
	g.registry.Clear(string(g.migID))
}
