// Package cluster defines the contracts this module expects from its
// out-of-scope collaborators (spec.md §1): the distributed lock and cluster
// metadata store, the storage engine's index-scan/record access, the
// range-deletion background worker, and the mod-capture listener interface.
// Nothing in this package talks to a network or a disk; production wiring
// supplies real implementations, tests use the fakes in storetest/.
/*
 * Copyright (c) 2018-2026 The ShardKit Authors.
 */
package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/shardkit/migrate/meta"
)

// RecordLocator is an opaque storage address, the Go analogue of a DiskLoc:
// stable only for the lifetime of the clone plan that captured it.
type RecordLocator struct {
	Extent uint32
	Offset uint64
}

func (l RecordLocator) String() string { return fmt.Sprintf("%d:%d", l.Extent, l.Offset) }

// DocumentId wraps a document's _id. Ids may be any comparable BSON-like
// scalar; Key is the canonical string form used for set/map membership.
type DocumentId struct {
	Raw interface{}
	Key string
}

func NewDocumentId(raw interface{}) DocumentId {
	return DocumentId{Raw: raw, Key: fmt.Sprint(raw)}
}

// OpKind classifies a captured write (spec.md §4.1 logMod).
type OpKind int

const (
	OpNoop OpKind = iota
	OpInsert
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "noop"
	}
}

// RecordIterator walks locators produced by a RecordAccessor.ScanRange call,
// in the scan's natural (disk-seek-reducing) order.
type RecordIterator interface {
	Next() (RecordLocator, bool)
}

// RecordAccessor is the storage engine's index-scan and record-access
// surface (spec.md §1 "Index scanning and storage-record access").
type RecordAccessor interface {
	// ScanRange plans an index scan over [min,max) using the single-key
	// index aligned with pattern (spec.md §4.1 storeCurrentLocs).
	ScanRange(ctx context.Context, ns string, min, max meta.Key, pattern meta.ShardKeyPattern) (RecordIterator, error)
	// Resident reports whether the record at loc is already page-resident;
	// false means the caller should release locks, Touch, and retry
	// (spec.md §4.1 clone's prefetch amortization).
	Resident(loc RecordLocator) bool
	// Touch prefetches loc into the page cache. Called outside any lock.
	Touch(loc RecordLocator) error
	// LoadAt returns the document currently at loc, or ok=false if the
	// locator has since been deleted/relocated.
	LoadAt(ns string, loc RecordLocator) (meta.Document, bool, error)
	// LoadByID returns the current full document for id, or ok=false if it
	// no longer exists (spec.md §4.1 transferMods "explodes each id").
	LoadByID(ns string, id DocumentId) (meta.Document, bool, error)
	// AvgObjSize supports storeCurrentLocs's maxRecs estimate.
	AvgObjSize(ns string) (avgSize int64, numRecords int64)
}

// NSLocks is the per-namespace / global lock surface (spec.md §5 lock
// hierarchy, levels 2-4). Each Lock call returns an unlock func so call
// sites read as `defer unlock()`.
type NSLocks interface {
	GlobalWrite(ctx context.Context) (unlock func(), err error)
	NSWrite(ctx context.Context, ns string) (unlock func(), err error)
	NSRead(ctx context.Context, ns string) (unlock func(), err error)
}

// DistLock is the cluster-wide distributed lock (spec.md §1, §4.4 step 2).
type DistLock interface {
	// Acquire blocks up to timeout. On failure it reports the current
	// holder's identity so the caller can surface it (§6 moveChunk "locked"
	// result: {who}).
	Acquire(ctx context.Context, name string, timeout time.Duration) (release func(), ok bool, holder string, err error)
}

// ChunkRecord is one row of the metadata authority's chunk collection.
type ChunkRecord struct {
	NS      string
	Min     meta.Key
	Max     meta.Key
	Owner   string
	Version meta.ChunkVersion
}

// ChunkUpdate describes one chunk's new owner/version in an ApplyOpsBatch.
type ChunkUpdate struct {
	NS      string
	Min     meta.Key
	Max     meta.Key
	Owner   string
	Version meta.ChunkVersion
}

// ApplyOpsBatch is the conditional multi-document update submitted to the
// metadata authority in donor step 5.6 (spec.md §4.4, §6 "applyOps batch").
type ApplyOpsBatch struct {
	Moved ChunkUpdate
	// Bump, if non-nil, advances one remaining donor-side chunk's minor
	// version so stale routers can detect the donor's own version changed
	// (spec.md §4.4 step 5.6(b)).
	Bump *ChunkUpdate
	// Precondition must equal the namespace's highest stored lastmod
	// immediately before this batch applies, or the store rejects it.
	Precondition meta.ChunkVersion
}

// CommitOutcome is the three-way result of a conditional metadata commit
// (spec.md §4.4 step 5.7).
type CommitOutcome int

const (
	CommitOK CommitOutcome = iota
	CommitPrepareConfigsFailed
	CommitUnknown
)

// ChangeLogEntry records one config-server change-log-style timing event
// (spec.md §6 "moveChunk.start/commit/from").
type ChangeLogEntry struct {
	Action string
	NS     string
	Detail map[string]interface{}
	At     time.Time
}

// MetadataStore is the cluster metadata authority (spec.md §1, §6).
type MetadataStore interface {
	ChunkByOwner(ctx context.Context, ns, owner string) (ChunkRecord, error)
	HighestVersionChunk(ctx context.Context, ns string) (ChunkRecord, error)
	LinkedNamespaces(ctx context.Context, ns string) ([]string, error)
	// RemainingChunk reports another chunk ns still has under owner, distinct
	// from the [excludeMin, excludeMax) range about to move, so step 5.6(b)
	// can bump its minor version alongside the commit. ok is false if owner
	// keeps no other chunk in ns.
	RemainingChunk(ctx context.Context, ns, owner string, excludeMin, excludeMax meta.Key) (rec ChunkRecord, ok bool, err error)

	// DonateChunk is the donor-local bookkeeping of step 5.4: "forgets" the
	// range under the new major version, ahead of the cluster-wide commit.
	DonateChunk(ctx context.Context, ns string, min, max meta.Key, newVersion meta.ChunkVersion) error
	// UndoDonateChunk restores the version recorded before DonateChunk
	// (spec.md §4.4 step 5.5 rollback, D4).
	UndoDonateChunk(ctx context.Context, ns string, priorVersion meta.ChunkVersion) error

	// CommitMove submits the conditional applyOps-style batch (step 5.6).
	CommitMove(ctx context.Context, batch ApplyOpsBatch) (CommitOutcome, error)

	AppendChangeLog(ctx context.Context, entry ChangeLogEntry) error
}

// RangeDeleter is the background range-deletion worker (spec.md §1).
type RangeDeleter interface {
	// Delete schedules removal of [min,max) on ns. If wait is set the call
	// blocks until the deletion has run (spec.md §4.4 step 6 waitForDelete).
	Delete(ctx context.Context, ns string, min, max meta.Key, wait bool) error
}

// ModListener is the registered-listener replacement for the teacher's
// inline mod-capture hook (spec.md §9 Design Note: "a rewrite should
// express it as a registered listener interface"). The storage engine
// calls these two methods under its own write lock, synchronously with
// every mutation, so capture is always consistent with durable state.
type ModListener interface {
	OnMod(kind OpKind, ns string, obj meta.Document, idPattern meta.Key, notInActiveChunk bool)
	OnAboutToDelete(ns string, loc RecordLocator)
}

// Interrupt exposes the process-wide cancellation flag the donor
// coordinator polls (spec.md §5 "Cancellation").
type Interrupt interface {
	Interrupted() bool
}

// Mutator is the recipient-side local write surface (spec.md §4.5 CLONE
// and apply semantics): upsert-by-document, delete-by-id.
type Mutator interface {
	Upsert(ns string, doc meta.Document) error
	DeleteByID(ns string, id DocumentId) error
}

// NamespaceProvisioner creates a namespace and its indexes to match the
// donor's, the recipient's step 0 (spec.md §4.5).
type NamespaceProvisioner interface {
	NamespaceExists(ctx context.Context, ns string) (bool, error)
	CreateLike(ctx context.Context, ns, donorAddr string) error
}

// ReplicationGate is the out-of-scope "replication log / write-ahead
// replication to secondaries" collaborator (spec.md §1), consulted by the
// recipient's secondary-throttle, catchup and replication-drain steps.
type ReplicationGate interface {
	// OpReplicatedEnough reports whether the most recently applied op has
	// reached `majority` replicas within timeout.
	OpReplicatedEnough(ctx context.Context, majority int, timeout time.Duration) bool
	// FlushPendingWrites reports whether replication (and, if durability is
	// enabled, the journal) has caught up within timeout (spec.md §4.5
	// step 4).
	FlushPendingWrites(ctx context.Context, timeout time.Duration) bool
}
