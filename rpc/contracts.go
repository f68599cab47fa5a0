// Package rpc defines the wire contracts of spec.md §6: the eight admin
// commands exchanged between client, donor and recipient. Command dispatch,
// authorization and the transport itself are out of scope (spec.md §1); this
// package gives that boundary concrete Go types and two small client
// interfaces so the donor coordinator and recipient session can be built,
// tested and wired without a real network.
/*
 * Copyright (c) 2018-2026 The ShardKit Authors.
 */
package rpc

import (
	"context"

	"github.com/shardkit/migrate/cluster"
	"github.com/shardkit/migrate/meta"
)

// MoveChunkReq is the client -> donor payload (spec.md §6).
type MoveChunkReq struct {
	NS                string
	From              string
	To                string
	Min               meta.Key
	Max               meta.Key
	Pattern           meta.ShardKeyPattern
	MaxChunkSizeBytes int64
	SecondaryThrottle bool
	WaitForDelete     bool
	ConfigDB          string
}

// MoveChunkResp is the union of the four result shapes spec.md §6 lists for
// moveChunk: plain ok, too-big, stale, or locked.
type MoveChunkResp struct {
	OK bool

	ChunkTooBig       bool
	EstimatedChunkSize int64

	Stale      bool
	CurrMin    meta.Key
	CurrMax    meta.Key
	ReqMin     meta.Key
	ReqMax     meta.Key

	Locked bool
	Holder string

	Split bool // hint to the balancer, spec.md §4.4 step 4 "memory cap exceeded"

	Errmsg string
}

// RecvChunkStartReq primes the recipient for the primary namespace of a
// (possibly linked) migration.
type RecvChunkStartReq struct {
	NS                string
	From              string
	Min               meta.Key
	Max               meta.Key
	Pattern           meta.ShardKeyPattern
	ConfigServer      string
	SecondaryThrottle bool
	MigrateID         meta.MigrationId
}

// RecvChunkStartOneReq adds one more linked namespace to an already-started
// Recipient Group (spec.md §4.6).
type RecvChunkStartOneReq struct {
	NS        string
	MigrateID meta.MigrationId
}

type RecvChunkStartResp struct {
	Started bool
	Errmsg  string
}

// MigrateCloneReq/Resp is the recipient -> donor bulk-copy pull.
type MigrateCloneReq struct{ NS string }

type MigrateCloneResp struct {
	Objects []meta.Document // empty slice signals completion
}

// TransferModsReq/Resp is the recipient -> donor incremental-delta pull.
type TransferModsReq struct{ NS string }

type TransferModsResp struct {
	Deleted []cluster.DocumentId
	Reload  []meta.Document
	Size    int64
}

// Counts mirrors the Recipient Session counters exposed in status replies.
// numCatchup/numSteady are incremented at apply-batch boundaries (resolving
// spec.md §9's open question: the source never increments them although it
// exposes them; this rewrite does).
type Counts struct {
	Cloned      int64
	ClonedBytes int64
	Catchup     int64
	Steady      int64
}

// RecvChunkStatusResp is shared by _recvChunkStatus, _recvChunkCommit and
// _recvChunkAbort (spec.md §6).
type RecvChunkStatusResp struct {
	Active  bool
	NS      string
	From    string
	Min     meta.Key
	Max     meta.Key
	Pattern meta.ShardKeyPattern
	State   string
	Counts  Counts
	Errmsg  string
}

// DonorClient is the recipient's view of the donor (the two pull RPCs).
type DonorClient interface {
	MigrateClone(ctx context.Context, ns string) (MigrateCloneResp, error)
	TransferMods(ctx context.Context, ns string) (TransferModsResp, error)
}

// RecipientClient is the donor's view of the recipient (prime, poll,
// commit, abort).
type RecipientClient interface {
	RecvChunkStart(ctx context.Context, req RecvChunkStartReq) (RecvChunkStartResp, error)
	RecvChunkStartOne(ctx context.Context, req RecvChunkStartOneReq) (RecvChunkStartResp, error)
	RecvChunkStatus(ctx context.Context, migID meta.MigrationId) (RecvChunkStatusResp, error)
	RecvChunkCommit(ctx context.Context, migID meta.MigrationId) (RecvChunkStatusResp, error)
	RecvChunkAbort(ctx context.Context, migID meta.MigrationId) (RecvChunkStatusResp, error)
}
