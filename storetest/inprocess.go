package storetest

import (
	"context"
	"fmt"

	"github.com/shardkit/migrate/cmn/config"
	"github.com/shardkit/migrate/meta"
	"github.com/shardkit/migrate/rpc"
	"github.com/shardkit/migrate/xact/xs"
)

// InProcessDonorClient adapts a *xs.DonorGroup to rpc.DonorClient without a
// network hop, for tests and the cmd/migrated demo where donor and
// recipient run in the same process.
type InProcessDonorClient struct {
	Group         *xs.DonorGroup
	MaxBatchBytes int64
}

func (c *InProcessDonorClient) MigrateClone(ctx context.Context, ns string) (rpc.MigrateCloneResp, error) {
	maxBatch := c.MaxBatchBytes
	if maxBatch <= 0 {
		maxBatch = config.GCO.Get().TransferModsSoftCap
	}
	docs, err := c.Group.Session(ns).Clone(ctx, maxBatch)
	if err != nil {
		return rpc.MigrateCloneResp{}, err
	}
	return rpc.MigrateCloneResp{Objects: docs}, nil
}

func (c *InProcessDonorClient) TransferMods(ctx context.Context, ns string) (rpc.TransferModsResp, error) {
	deleted, reload, size := c.Group.Session(ns).TransferMods(ctx)
	return rpc.TransferModsResp{Deleted: deleted, Reload: reload, Size: size}, nil
}

// InProcessRecipientClient adapts a *xs.RecipientGroup to
// rpc.RecipientClient, constructing one RecipientSession per namespace via
// Factory on demand.
type InProcessRecipientClient struct {
	Group   *xs.RecipientGroup
	Factory func(ns string, rng *meta.Range, pattern meta.ShardKeyPattern) *xs.RecipientSession

	rng     *meta.Range
	pattern meta.ShardKeyPattern
}

func (c *InProcessRecipientClient) RecvChunkStart(ctx context.Context, req rpc.RecvChunkStartReq) (rpc.RecvChunkStartResp, error) {
	rng := &meta.Range{NS: req.NS, Min: req.Min, Max: req.Max, Pattern: req.Pattern}
	c.rng, c.pattern = rng, req.Pattern
	err := c.Group.Start(ctx, req.MigrateID, req.From, req.NS, rng, req.Pattern, c.Factory)
	if err != nil {
		return rpc.RecvChunkStartResp{Started: false, Errmsg: err.Error()}, nil
	}
	return rpc.RecvChunkStartResp{Started: true}, nil
}

// RecvChunkStartOne joins a linked namespace, sharing the primary's range
// and pattern (spec.md §9 "linked range equality" precondition).
func (c *InProcessRecipientClient) RecvChunkStartOne(_ context.Context, req rpc.RecvChunkStartOneReq) (rpc.RecvChunkStartResp, error) {
	linkedRng := &meta.Range{NS: req.NS, Min: c.rng.Min, Max: c.rng.Max, Pattern: c.pattern}
	err := c.Group.StartOne(req.NS, linkedRng, c.pattern, c.Factory)
	if err != nil {
		return rpc.RecvChunkStartResp{Started: false, Errmsg: err.Error()}, nil
	}
	return rpc.RecvChunkStartResp{Started: true}, nil
}

func (c *InProcessRecipientClient) RecvChunkStatus(_ context.Context, migID meta.MigrationId) (rpc.RecvChunkStatusResp, error) {
	resp, ok := c.Group.Status(c.Group.Primary())
	if !ok {
		return rpc.RecvChunkStatusResp{}, fmt.Errorf("storetest: no active recipient session for migration %s", migID)
	}
	resp.State = string(c.Group.AggregateState())
	return resp, nil
}

func (c *InProcessRecipientClient) RecvChunkCommit(ctx context.Context, _ meta.MigrationId) (rpc.RecvChunkStatusResp, error) {
	if err := c.Group.StartCommit(ctx); err != nil {
		return rpc.RecvChunkStatusResp{Errmsg: err.Error()}, err
	}
	return rpc.RecvChunkStatusResp{State: string(xs.StDone)}, nil
}

func (c *InProcessRecipientClient) RecvChunkAbort(_ context.Context, _ meta.MigrationId) (rpc.RecvChunkStatusResp, error) {
	c.Group.Abort()
	return rpc.RecvChunkStatusResp{State: string(xs.StAbort)}, nil
}

