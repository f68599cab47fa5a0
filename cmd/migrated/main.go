// Command migrated is a single-process demo harness: it wires a donor
// Coordinator and a recipient Group against the storetest fakes and drives
// one moveChunk through urfave/cli subcommands, for manual exploration of
// the state machine without a real cluster.
/*
 * Copyright (c) 2018-2026 The ShardKit Authors.
 */
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/urfave/cli"

	"github.com/shardkit/migrate/cluster"
	"github.com/shardkit/migrate/cmn/config"
	"github.com/shardkit/migrate/cmn/nlog"
	"github.com/shardkit/migrate/donor"
	"github.com/shardkit/migrate/meta"
	"github.com/shardkit/migrate/rpc"
	"github.com/shardkit/migrate/storetest"
	"github.com/shardkit/migrate/xact/xreg"
	"github.com/shardkit/migrate/xact/xs"
)

func main() {
	app := cli.NewApp()
	app.Name = "migrated"
	app.Usage = "drive a chunk migration against an in-memory demo cluster"
	app.Version = "0.1.0"
	app.Commands = []cli.Command{
		demoCommand,
	}
	if err := app.Run(os.Args); err != nil {
		nlog.Errorf("migrated: %v", err)
		os.Exit(1)
	}
}

var demoCommand = cli.Command{
	Name:  "demo",
	Usage: "populate a namespace on a fake donor shard and migrate its one chunk to a fake recipient shard",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "ns", Value: "demo.people"},
		cli.IntFlag{Name: "docs", Value: 1000, Usage: "documents to seed, with ascending integer _id/shardKey"},
	},
	Action: runDemo,
}

func runDemo(c *cli.Context) error {
	ns := c.String("ns")
	numDocs := c.Int("docs")

	if err := config.GCO.LoadFile(os.Getenv("MIGRATED_CONFIG")); err != nil {
		return err
	}

	pattern := meta.ShardKeyPattern{{Path: "shardKey", Dir: meta.Ascending}}
	accessor := storetest.NewRecordAccessor()
	accessor.SetPattern(ns, pattern)
	for i := 0; i < numDocs; i++ {
		accessor.Seed(ns, meta.Document{"_id": i, "shardKey": i, "name": "doc-" + strconv.Itoa(i)})
	}

	store, err := storetest.NewMetadataStore()
	if err != nil {
		return err
	}
	defer store.Close()

	const (
		fromShard = "shard0"
		toShard   = "shard1"
	)
	min, max := meta.Key{int64(0)}, meta.Key{int64(numDocs)}
	if err := store.PutChunk(cluster.ChunkRecord{
		NS: ns, Min: min, Max: max, Owner: fromShard,
		Version: meta.ChunkVersion{Epoch: "epoch-1", Major: 1, Minor: 0},
	}); err != nil {
		return err
	}

	distLock := storetest.NewDistLock()
	nsLocks := storetest.NewNSLocks()
	rangeDel := storetest.NewRangeDeleter(accessor)
	interrupt := &storetest.Interrupt{}
	repl := storetest.NewReplicationGate()
	recipientAcc := storetest.NewRecordAccessor()
	recipientAcc.SetPattern(ns, pattern)
	recipientDel := storetest.NewRangeDeleter(recipientAcc)
	ns0 := storetest.NewNamespaceProvisioner(recipientAcc)
	mutator := storetest.NewMutator(recipientAcc)
	guards := xs.NewRangeGuards()
	metrics := rpc.NewMetrics()

	donorRegistry := xreg.New()
	donorGroup := xs.NewDonorGroup(donorRegistry, accessor)
	accessor.SetModListener(xs.NewModCaptureListener(donorGroup))
	recipientRegistry := xreg.New()
	recipientGroup := xs.NewRecipientGroup(recipientRegistry)

	donorClient := &storetest.InProcessDonorClient{Group: donorGroup}
	recipientClient := &storetest.InProcessRecipientClient{
		Group: recipientGroup,
		Factory: func(sessNS string, rng *meta.Range, sessPattern meta.ShardKeyPattern) *xs.RecipientSession {
			return xs.NewRecipientSession(
				sessNS, fromShard, meta.NewMigrationId(), rng, sessPattern, "epoch-1", false,
				donorClient, ns0, mutator, recipientAcc, repl, recipientDel, guards, metrics, 1,
			)
		},
	}

	coord := donor.NewCoordinator(nsLocks, distLock, store, rangeDel, interrupt, accessor, guards, metrics)

	opts := donor.Options{
		NS: ns, From: fromShard, To: toShard,
		Min: min, Max: max, ShardId: fromShard, Pattern: pattern,
		MaxChunkSizeBytes: 64 * 1024 * 1024,
	}

	fmt.Printf("moving %s[%v,%v) from %s to %s (%d seeded docs)...\n", ns, min, max, fromShard, toShard, numDocs)
	res, err := coord.Move(context.Background(), opts, donorGroup, recipientClient)
	if err != nil {
		return fmt.Errorf("moveChunk failed: %w (result=%+v)", err, res)
	}
	fmt.Printf("moveChunk complete: %+v\n", res)
	for _, entry := range store.ChangeLog() {
		fmt.Printf("  changelog: %s %s %v\n", entry.Action, entry.NS, entry.Detail)
	}
	return nil
}
