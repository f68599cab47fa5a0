package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/shardkit/migrate/cluster"
	"github.com/shardkit/migrate/meta"
)

// DistLock is a single-process in-memory stand-in for the cluster-wide
// distributed lock (cluster.DistLock).
type DistLock struct {
	mu     sync.Mutex
	holder string
}

func NewDistLock() *DistLock { return &DistLock{} }

func (d *DistLock) Acquire(ctx context.Context, name string, timeout time.Duration) (release func(), ok bool, holder string, err error) {
	deadline := time.Now().Add(timeout)
	for {
		d.mu.Lock()
		if d.holder == "" {
			d.holder = name
			d.mu.Unlock()
			return func() {
				d.mu.Lock()
				if d.holder == name {
					d.holder = ""
				}
				d.mu.Unlock()
			}, true, "", nil
		}
		cur := d.holder
		d.mu.Unlock()

		if !time.Now().Before(deadline) {
			return nil, false, cur, nil
		}
		select {
		case <-time.After(5 * time.Millisecond):
		case <-ctx.Done():
			return nil, false, cur, ctx.Err()
		}
	}
}

// NSLocks is an in-memory per-namespace reader/writer lock set, plus a
// single global write lock (cluster.NSLocks).
type NSLocks struct {
	globalMu sync.Mutex
	mu       sync.Mutex
	locks    map[string]*sync.RWMutex
}

func NewNSLocks() *NSLocks { return &NSLocks{locks: make(map[string]*sync.RWMutex)} }

func (n *NSLocks) nsLock(ns string) *sync.RWMutex {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.locks[ns]
	if !ok {
		l = &sync.RWMutex{}
		n.locks[ns] = l
	}
	return l
}

func (n *NSLocks) GlobalWrite(_ context.Context) (func(), error) {
	n.globalMu.Lock()
	return n.globalMu.Unlock, nil
}

func (n *NSLocks) NSWrite(_ context.Context, ns string) (func(), error) {
	l := n.nsLock(ns)
	l.Lock()
	return l.Unlock, nil
}

func (n *NSLocks) NSRead(_ context.Context, ns string) (func(), error) {
	l := n.nsLock(ns)
	l.RLock()
	return l.RUnlock, nil
}

// RangeDeleter records and synchronously performs every requested deletion
// against a backing RecordAccessor.
type RangeDeleter struct {
	accessor *RecordAccessor

	mu       sync.Mutex
	requests []rangeDelReq
}

type rangeDelReq struct {
	NS       string
	Min, Max meta.Key
}

func NewRangeDeleter(accessor *RecordAccessor) *RangeDeleter {
	return &RangeDeleter{accessor: accessor}
}

func (d *RangeDeleter) Delete(_ context.Context, ns string, min, max meta.Key, wait bool) error {
	d.mu.Lock()
	d.requests = append(d.requests, rangeDelReq{NS: ns, Min: min, Max: max})
	d.mu.Unlock()
	// the fake always executes inline; `wait` only affects a real queued
	// worker's scheduling, which this module doesn't model.
	return d.accessor.deleteRange(ns, min, max)
}

func (d *RangeDeleter) Requests() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

// Interrupt is a manually-settable cancellation flag (cluster.Interrupt).
type Interrupt struct {
	mu          sync.Mutex
	interrupted bool
}

func (i *Interrupt) Interrupted() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.interrupted
}

func (i *Interrupt) Set(b bool) {
	i.mu.Lock()
	i.interrupted = b
	i.mu.Unlock()
}

// ReplicationGate always reports caught-up unless told otherwise, so tests
// default to the happy path and opt into lag simulation explicitly.
type ReplicationGate struct {
	mu       sync.Mutex
	lagged   bool
	drainOK  bool
}

func NewReplicationGate() *ReplicationGate { return &ReplicationGate{drainOK: true} }

func (g *ReplicationGate) SetLagged(b bool) {
	g.mu.Lock()
	g.lagged = b
	g.mu.Unlock()
}

func (g *ReplicationGate) SetDrainOK(b bool) {
	g.mu.Lock()
	g.drainOK = b
	g.mu.Unlock()
}

func (g *ReplicationGate) OpReplicatedEnough(_ context.Context, _ int, _ time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.lagged
}

func (g *ReplicationGate) FlushPendingWrites(_ context.Context, _ time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.drainOK
}

// NamespaceProvisioner tracks which namespaces have been "created" in the
// fake accessor.
type NamespaceProvisioner struct {
	accessor *RecordAccessor
}

func NewNamespaceProvisioner(accessor *RecordAccessor) *NamespaceProvisioner {
	return &NamespaceProvisioner{accessor: accessor}
}

func (p *NamespaceProvisioner) NamespaceExists(_ context.Context, ns string) (bool, error) {
	return p.accessor.namespaceExists(ns), nil
}

func (p *NamespaceProvisioner) CreateLike(_ context.Context, ns, _ string) error {
	p.accessor.createNamespace(ns)
	return nil
}

// Mutator writes directly into a RecordAccessor's backing store.
type Mutator struct {
	accessor *RecordAccessor
}

func NewMutator(accessor *RecordAccessor) *Mutator { return &Mutator{accessor: accessor} }

func (m *Mutator) Upsert(ns string, doc meta.Document) error {
	return m.accessor.upsert(ns, doc)
}

func (m *Mutator) DeleteByID(ns string, id cluster.DocumentId) error {
	return m.accessor.deleteByID(ns, id)
}
