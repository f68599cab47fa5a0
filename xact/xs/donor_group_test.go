package xs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardkit/migrate/cluster"
	"github.com/shardkit/migrate/meta"
	"github.com/shardkit/migrate/storetest"
	"github.com/shardkit/migrate/xact/xreg"
)

func TestDonorGroupSingleActiveInvariant(t *testing.T) {
	// spec.md D1: at most one active Donor Group per registry.
	accessor := storetest.NewRecordAccessor()
	registry := xreg.New()
	g := NewDonorGroup(registry, accessor)

	rng := testRange(0, 10)
	require.NoError(t, g.Start("mig-1", []string{"db.coll"}, rng, testPattern()))
	err := g.Start("mig-2", []string{"db.other"}, rng, testPattern())
	require.Error(t, err)
}

func TestDonorGroupLinkedNamespacesGetOwnSessions(t *testing.T) {
	accessor := storetest.NewRecordAccessor()
	registry := xreg.New()
	g := NewDonorGroup(registry, accessor)

	rng := testRange(0, 10)
	require.NoError(t, g.Start("mig-1", []string{"db.orders", "db.orders_audit"}, rng, testPattern()))

	require.ElementsMatch(t, []string{"db.orders", "db.orders_audit"}, g.Namespaces())

	g.LogMod(cluster.OpDelete, "db.orders", nil, meta.Key{int64(1)}, false)
	g.LogMod(cluster.OpDelete, "db.orders_audit", nil, meta.Key{int64(2)}, false)

	deletedOrders, _, _ := g.Session("db.orders").TransferMods(context.Background())
	deletedAudit, _, _ := g.Session("db.orders_audit").TransferMods(context.Background())
	require.Len(t, deletedOrders, 1)
	require.Len(t, deletedAudit, 1)
}

func TestDonorGroupGenericSentinelForUnknownNamespace(t *testing.T) {
	// spec.md §4.2/Design Note "sentinel genericMS": LogMod against a
	// namespace not under migration must never panic or block.
	accessor := storetest.NewRecordAccessor()
	registry := xreg.New()
	g := NewDonorGroup(registry, accessor)
	require.NoError(t, g.Start("mig-1", []string{"db.coll"}, testRange(0, 10), testPattern()))

	require.NotPanics(t, func() {
		g.LogMod(cluster.OpDelete, "db.unrelated", nil, meta.Key{int64(1)}, false)
		g.AboutToDelete("db.unrelated", cluster.RecordLocator{})
	})
}

func TestDonorGroupDoneVacatesRegistry(t *testing.T) {
	accessor := storetest.NewRecordAccessor()
	registry := xreg.New()
	g := NewDonorGroup(registry, accessor)
	require.NoError(t, g.Start("mig-1", []string{"db.coll"}, testRange(0, 10), testPattern()))

	g.Done()

	_, busy := registry.Active()
	require.False(t, busy, "done() must free the registry slot for the next migration")

	// A fresh group can now start on the same registry.
	g2 := NewDonorGroup(registry, accessor)
	require.NoError(t, g2.Start("mig-2", []string{"db.coll"}, testRange(0, 10), testPattern()))
}

func TestDonorGroupMBUsedAggregatesSessions(t *testing.T) {
	accessor := storetest.NewRecordAccessor()
	registry := xreg.New()
	g := NewDonorGroup(registry, accessor)
	require.NoError(t, g.Start("mig-1", []string{"db.a", "db.b"}, testRange(0, 10), testPattern()))

	g.LogMod(cluster.OpDelete, "db.a", nil, meta.Key{int64(1)}, false)
	g.LogMod(cluster.OpDelete, "db.b", nil, meta.Key{int64(2)}, false)

	require.Greater(t, g.MBUsed(), 0.0)
}

func TestDonorGroupCriticalSectionFansOutAndWaits(t *testing.T) {
	accessor := storetest.NewRecordAccessor()
	registry := xreg.New()
	g := NewDonorGroup(registry, accessor)
	require.NoError(t, g.Start("mig-1", []string{"db.a", "db.b"}, testRange(0, 10), testPattern()))

	g.SetInCriticalSection(true)
	for _, ns := range g.Namespaces() {
		require.True(t, g.Session(ns).GetInCriticalSection())
	}
	g.SetInCriticalSection(false)

	ok := g.WaitTillNotInCriticalSection(context.Background())
	require.True(t, ok)
}
