// Package xs holds the two donor/recipient state machines at the heart of
// the migration core (spec.md §4.1-§4.6), named after the teacher's
// xact/xs package of concrete "xactions" (XactTCB, XactTCObjs) that this
// module's DonorSession/RecipientSession are directly modeled on: the same
// factory-builds-a-long-lived-worker shape, the same typed atomics, the
// same String() reporting surface.
/*
 * Copyright (c) 2018-2026 The ShardKit Authors.
 */
package xs

import (
	"context"
	"fmt"
	"sync"

	"github.com/shardkit/migrate/cluster"
	"github.com/shardkit/migrate/cmn/atomic"
	"github.com/shardkit/migrate/cmn/config"
	"github.com/shardkit/migrate/cmn/debug"
	"github.com/shardkit/migrate/cmn/nlog"
	"github.com/shardkit/migrate/meta"
)

// DonorSession is the per-namespace donor-side state of one migration
// (spec.md §4.1 "Donor Session"). It is not itself goroutine-scheduled -
// unlike the recipient side, the donor is driven synchronously by RPC
// handlers and by the mod-capture hook.
type DonorSession struct {
	ns       string
	accessor cluster.RecordAccessor

	active atomic.Bool

	// critMu/critCond/inCrit implement the condition-variable gate of
	// spec.md §4.1 setInCriticalSection/waitTillNotInCriticalSection - lock
	// hierarchy level 5.
	critMu   sync.Mutex
	critCond *sync.Cond
	inCrit   bool

	// bufMu protects cloneLocs/deleted/reload - lock hierarchy level 6, a
	// short-critical-section spinlock in the teacher; a plain mutex here
	// since this module doesn't hand-roll spinlocks.
	bufMu      sync.Mutex
	rng        *meta.Range
	pattern    meta.ShardKeyPattern
	cloneLocs  []cluster.RecordLocator
	locIndex   map[cluster.RecordLocator]int
	cloneCur   int
	reload     []cluster.DocumentId
	deleted    []cluster.DocumentId
	memoryUsed atomic.Int64

	migID meta.MigrationId
}

// NewDonorSession constructs an idle session bound to one namespace.
func NewDonorSession(ns string, accessor cluster.RecordAccessor) *DonorSession {
	d := &DonorSession{ns: ns, accessor: accessor}
	d.critCond = sync.NewCond(&d.critMu)
	return d
}

func (d *DonorSession) UUID() string { return string(d.migID) }
func (d *DonorSession) Kind() string { return "donor-session" }
func (d *DonorSession) NS() string   { return d.ns }
func (d *DonorSession) IsActive() bool { return d.active.Load() }
func (d *DonorSession) Range() *meta.Range { return d.rng }

// Start resets all capture buffers and marks the session active (spec.md
// §4.1 start). Callers hold the per-namespace write lock.
func (d *DonorSession) Start(migID meta.MigrationId, rng *meta.Range, pattern meta.ShardKeyPattern) error {
	if !d.active.CAS(false, true) {
		return fmt.Errorf("donor session %s: busy", d.ns)
	}
	d.bufMu.Lock()
	d.migID = migID
	d.rng = rng
	d.pattern = pattern
	d.cloneLocs = nil
	d.locIndex = make(map[cluster.RecordLocator]int)
	d.cloneCur = 0
	d.reload = nil
	d.deleted = nil
	d.bufMu.Unlock()
	d.memoryUsed.Store(0)
	return nil
}

// idValue pulls the identifying value out of idPattern, the way the
// original's logOp uses the update's o2 (the `{_id: ...}` filter) to find
// the document it should look up (spec.md §4.1 logMod "update").
func idValue(idPattern meta.Key) cluster.DocumentId {
	if len(idPattern) == 0 {
		return cluster.DocumentId{}
	}
	return cluster.NewDocumentId(idPattern[0])
}

func docCost(id cluster.DocumentId) int64 { return int64(len(id.Key)) + 16 }

// LogMod is called under the write lock for every data mutation touching
// this namespace (spec.md §4.1 logMod).
func (d *DonorSession) LogMod(kind cluster.OpKind, obj meta.Document, idPattern meta.Key, notInActiveChunk bool) {
	if !d.active.Load() {
		return
	}
	switch kind {
	case cluster.OpNoop:
		return
	case cluster.OpDelete:
		if notInActiveChunk {
			// belongs to cleanup of an older migration, not user data (D2).
			return
		}
		id := idValue(idPattern)
		d.bufMu.Lock()
		d.deleted = append(d.deleted, id)
		d.bufMu.Unlock()
		d.memoryUsed.Add(docCost(id))
	case cluster.OpInsert:
		if d.rng == nil || !d.rng.IsInRange(obj) {
			return
		}
		id := idValue(idPattern)
		d.bufMu.Lock()
		d.reload = append(d.reload, id)
		d.bufMu.Unlock()
		d.memoryUsed.Add(docCost(id))
	case cluster.OpUpdate:
		id := idValue(idPattern)
		post, ok, err := d.accessor.LoadByID(d.ns, id)
		if err != nil {
			nlog.Warnf("donor %s: logMod update: load post-image for %v: %v", d.ns, id.Raw, err)
			return
		}
		if !ok {
			// the update may have deleted-then-inserted out of range;
			// spec.md §4.1 explicitly calls this "a warning", not an error.
			nlog.Warnf("donor %s: logMod update: post-image for %v not found", d.ns, id.Raw)
			return
		}
		if d.rng == nil || !d.rng.IsInRange(post) {
			return
		}
		d.bufMu.Lock()
		d.reload = append(d.reload, id)
		d.bufMu.Unlock()
		d.memoryUsed.Add(docCost(id))
	}
}

// AboutToDelete removes loc from cloneLocs before a delete can physically
// happen (spec.md §4.1 aboutToDelete; ordering guarantee in spec.md §5).
func (d *DonorSession) AboutToDelete(loc cluster.RecordLocator) {
	if !d.active.Load() {
		return
	}
	d.bufMu.Lock()
	defer d.bufMu.Unlock()
	i, ok := d.locIndex[loc]
	if !ok {
		return
	}
	copy(d.cloneLocs[i:], d.cloneLocs[i+1:])
	d.cloneLocs = d.cloneLocs[:len(d.cloneLocs)-1]
	for j := i; j < len(d.cloneLocs); j++ {
		d.locIndex[d.cloneLocs[j]] = j
	}
	delete(d.locIndex, loc)
	if i < d.cloneCur {
		d.cloneCur--
	}
}

// StoreCurrentLocs plans the clone: an index scan over [min,max), bounded
// by the maxChunkBytes/avgObjSize budget (spec.md §4.1). Callers hold the
// per-namespace read lock.
func (d *DonorSession) StoreCurrentLocs(ctx context.Context, maxChunkBytes int64) (tooBig bool, estimatedChunkSize int64, err error) {
	it, err := d.accessor.ScanRange(ctx, d.ns, d.rng.Min, d.rng.Max, d.pattern)
	if err != nil {
		return false, 0, err
	}
	avgSize, _ := d.accessor.AvgObjSize(d.ns)
	if avgSize <= 0 {
		avgSize = 1
	}
	maxRecs := int64(float64(maxChunkBytes) / float64(avgSize) * meta.TooBigSlack)
	if maxRecs > meta.DefaultMaxObjectPerChunk+1 {
		maxRecs = meta.DefaultMaxObjectPerChunk + 1
	}

	var recCount int64
	d.bufMu.Lock()
	for {
		loc, ok := it.Next()
		if !ok {
			break
		}
		recCount++
		// keep counting past maxRecs purely to report the true size
		// (spec.md §4.1); stop appending once the budget is spent.
		if recCount <= maxRecs {
			d.locIndex[loc] = len(d.cloneLocs)
			d.cloneLocs = append(d.cloneLocs, loc)
		}
	}
	d.bufMu.Unlock()

	if recCount > maxRecs {
		return true, recCount * avgSize, nil
	}
	return false, 0, nil
}

func (d *DonorSession) CloneLocsRemaining() int {
	d.bufMu.Lock()
	defer d.bufMu.Unlock()
	return len(d.cloneLocs) - d.cloneCur
}

// Clone pulls locators in plan order, serializing documents into a batch
// bounded by maxBatchBytes; it always returns at least one document unless
// the plan is exhausted (spec.md §4.1 clone).
func (d *DonorSession) Clone(ctx context.Context, maxBatchBytes int64) ([]meta.Document, error) {
	var (
		out  []meta.Document
		size int64
	)
	for {
		d.bufMu.Lock()
		if d.cloneCur >= len(d.cloneLocs) {
			d.bufMu.Unlock()
			return out, nil // empty (or final partial) batch signals completion
		}
		loc := d.cloneLocs[d.cloneCur]
		d.bufMu.Unlock()

		if !d.accessor.Resident(loc) {
			// release, prefetch, retry - amortizes the page fault outside
			// any lock (spec.md §4.1 clone, §5 suspension points).
			if err := d.accessor.Touch(loc); err != nil {
				return out, err
			}
			continue
		}

		doc, ok, err := d.accessor.LoadAt(d.ns, loc)
		if err != nil {
			return out, err
		}
		d.bufMu.Lock()
		d.cloneCur++
		d.bufMu.Unlock()
		if !ok {
			// deleted out from under the plan despite aboutToDelete (D3
			// best-effort); simply skip it.
			continue
		}

		out = append(out, doc)
		size += docSize(doc)
		if size >= maxBatchBytes {
			return out, nil
		}
	}
}

func docSize(doc meta.Document) int64 {
	n := int64(0)
	for k, v := range doc {
		n += int64(len(k)) + int64(len(fmt.Sprint(v))) + 4
	}
	if n == 0 {
		return 1
	}
	return n
}

// TransferMods drains deleted/reload into the two arrays of one
// _transferMods response, stopping once their combined size reaches a soft
// byte cap (spec.md §4.1). Callers hold the per-namespace read lock.
func (d *DonorSession) TransferMods(ctx context.Context) (deleted []cluster.DocumentId, reload []meta.Document, size int64) {
	softCap := config.GCO.Get().TransferModsSoftCap

	d.bufMu.Lock()
	defer d.bufMu.Unlock()

	i := 0
	for ; i < len(d.deleted) && size < softCap; i++ {
		id := d.deleted[i]
		deleted = append(deleted, id)
		size += docCost(id)
	}
	d.deleted = d.deleted[i:]

	j := 0
	for ; j < len(d.reload) && size < softCap; j++ {
		doc, ok, err := d.accessor.LoadByID(d.ns, d.reload[j])
		if err != nil || !ok {
			continue
		}
		reload = append(reload, doc)
		size += docSize(doc)
	}
	d.reload = d.reload[j:]

	return
}

func (d *DonorSession) MemoryUsed() int64 { return d.memoryUsed.Load() }

func (d *DonorSession) SetInCriticalSection(b bool) {
	d.critMu.Lock()
	d.inCrit = b
	d.critMu.Unlock()
	d.critCond.Broadcast()
}

func (d *DonorSession) GetInCriticalSection() bool {
	d.critMu.Lock()
	defer d.critMu.Unlock()
	return d.inCrit
}

// WaitTillNotInCriticalSection blocks up to ctx's deadline for the critical
// section to end, the write-fence query routing waits on (spec.md §4.1,
// §5 "condition variable timed wait with caller-supplied deadline").
func (d *DonorSession) WaitTillNotInCriticalSection(ctx context.Context) (notInCrit bool) {
	done := make(chan struct{})
	stopWatch := make(chan struct{})
	defer close(stopWatch)

	// sync.Cond has no context awareness; a watcher goroutine broadcasts on
	// cancellation so the waiter below can re-check and exit instead of
	// blocking past the caller-supplied deadline.
	go func() {
		select {
		case <-ctx.Done():
			d.critCond.Broadcast()
		case <-stopWatch:
		}
	}()

	go func() {
		d.critMu.Lock()
		for d.inCrit && ctx.Err() == nil {
			d.critCond.Wait()
		}
		notDone := !d.inCrit
		d.critMu.Unlock()
		if notDone {
			close(done)
		}
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Done clears buffers and active, broadcasting the critical-section
// condition so any waiter unblocks (spec.md §4.1 done).
func (d *DonorSession) Done() {
	debug.Assert(d.active.Load(), "donor session done() on an inactive session")
	d.bufMu.Lock()
	d.cloneLocs = nil
	d.locIndex = nil
	d.cloneCur = 0
	d.reload = nil
	d.deleted = nil
	d.bufMu.Unlock()
	d.memoryUsed.Store(0)
	d.active.Store(false)
	d.SetInCriticalSection(false)
}

func (d *DonorSession) String() string {
	rngS := "<none>"
	if d.rng != nil {
		rngS = d.rng.String()
	}
	return fmt.Sprintf("donor[%s]-%s active=%v", d.migID, rngS, d.active.Load())
}
