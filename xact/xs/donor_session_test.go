package xs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shardkit/migrate/cluster"
	"github.com/shardkit/migrate/meta"
	"github.com/shardkit/migrate/storetest"
)

func testPattern() meta.ShardKeyPattern {
	return meta.ShardKeyPattern{{Path: "x", Dir: meta.Ascending}}
}

func testRange(min, max int64) *meta.Range {
	return &meta.Range{NS: "db.coll", Min: meta.Key{min}, Max: meta.Key{max}, Pattern: testPattern()}
}

func TestDonorSessionStartRejectsWhenBusy(t *testing.T) {
	accessor := storetest.NewRecordAccessor()
	s := NewDonorSession("db.coll", accessor)

	require.NoError(t, s.Start("mig-1", testRange(0, 10), testPattern()))
	err := s.Start("mig-2", testRange(0, 10), testPattern())
	require.Error(t, err, "a second start while active must fail with busy")
}

func TestDonorSessionLogModInsertInRange(t *testing.T) {
	accessor := storetest.NewRecordAccessor()
	s := NewDonorSession("db.coll", accessor)
	require.NoError(t, s.Start("mig-1", testRange(0, 10), testPattern()))

	s.LogMod(cluster.OpInsert, meta.Document{"_id": int64(1), "x": int64(3)}, meta.Key{int64(1)}, false)
	s.LogMod(cluster.OpInsert, meta.Document{"_id": int64(2), "x": int64(99)}, meta.Key{int64(2)}, false)

	deleted, reload, _ := s.TransferMods(context.Background())
	require.Empty(t, deleted)
	require.Len(t, reload, 0, "insert capture only appends the id; LogMod itself doesn't seed the accessor")
}

func TestDonorSessionLogModUpdatePostImageInRange(t *testing.T) {
	accessor := storetest.NewRecordAccessor()
	accessor.SetPattern("db.coll", testPattern())
	accessor.Seed("db.coll", meta.Document{"_id": int64(1), "x": int64(5)})

	s := NewDonorSession("db.coll", accessor)
	require.NoError(t, s.Start("mig-1", testRange(0, 10), testPattern()))

	s.LogMod(cluster.OpUpdate, nil, meta.Key{int64(1)}, false)

	_, reload, _ := s.TransferMods(context.Background())
	require.Len(t, reload, 1)
	require.Equal(t, int64(1), reload[0]["_id"])
}

func TestDonorSessionLogModUpdatePostImageOutOfRangeNotCaptured(t *testing.T) {
	// spec.md §9 open question: post-image out of range -> not captured,
	// and that's correct (the recipient never receives it, which is fine
	// since the donor still has it).
	accessor := storetest.NewRecordAccessor()
	accessor.SetPattern("db.coll", testPattern())
	accessor.Seed("db.coll", meta.Document{"_id": int64(1), "x": int64(500)})

	s := NewDonorSession("db.coll", accessor)
	require.NoError(t, s.Start("mig-1", testRange(0, 10), testPattern()))

	s.LogMod(cluster.OpUpdate, nil, meta.Key{int64(1)}, false)

	_, reload, _ := s.TransferMods(context.Background())
	require.Empty(t, reload)
}

func TestDonorSessionLogModDeleteNotInActiveChunkIgnored(t *testing.T) {
	// spec.md D2: notInActiveChunk deletes belong to cleanup of an older
	// migration, not user data, and must not be captured.
	accessor := storetest.NewRecordAccessor()
	s := NewDonorSession("db.coll", accessor)
	require.NoError(t, s.Start("mig-1", testRange(0, 10), testPattern()))

	s.LogMod(cluster.OpDelete, nil, meta.Key{int64(1)}, true)

	deleted, _, _ := s.TransferMods(context.Background())
	require.Empty(t, deleted)
}

func TestDonorSessionLogModDeleteCaptured(t *testing.T) {
	accessor := storetest.NewRecordAccessor()
	s := NewDonorSession("db.coll", accessor)
	require.NoError(t, s.Start("mig-1", testRange(0, 10), testPattern()))

	s.LogMod(cluster.OpDelete, nil, meta.Key{int64(7)}, false)

	deleted, _, _ := s.TransferMods(context.Background())
	require.Len(t, deleted, 1)
	require.Equal(t, int64(7), deleted[0].Raw)
}

func TestDonorSessionLogModIgnoredWhenInactive(t *testing.T) {
	accessor := storetest.NewRecordAccessor()
	s := NewDonorSession("db.coll", accessor)
	// never started
	s.LogMod(cluster.OpDelete, nil, meta.Key{int64(7)}, false)
	deleted, reload, _ := s.TransferMods(context.Background())
	require.Empty(t, deleted)
	require.Empty(t, reload)
}

func TestDonorSessionAboutToDeleteRemovesFromCloneLocs(t *testing.T) {
	accessor := storetest.NewRecordAccessor()
	accessor.SetPattern("db.coll", testPattern())
	accessor.Seed("db.coll",
		meta.Document{"_id": int64(1), "x": int64(1)},
		meta.Document{"_id": int64(2), "x": int64(2)},
		meta.Document{"_id": int64(3), "x": int64(3)},
	)

	s := NewDonorSession("db.coll", accessor)
	require.NoError(t, s.Start("mig-1", testRange(0, 10), testPattern()))

	tooBig, _, err := s.StoreCurrentLocs(context.Background(), 1<<20)
	require.NoError(t, err)
	require.False(t, tooBig)
	require.Equal(t, 3, s.CloneLocsRemaining())

	// Remove the locator behind _id=2 before clone gets to it (spec.md §4.1
	// aboutToDelete, ordering guarantee in §5).
	var target cluster.RecordLocator
	for l := range s.locIndex {
		doc, ok, _ := accessor.LoadAt("db.coll", l)
		if ok && doc["_id"] == int64(2) {
			target = l
		}
	}
	s.AboutToDelete(target)
	require.Equal(t, 2, s.CloneLocsRemaining())

	docs, err := s.Clone(context.Background(), 1<<20)
	require.NoError(t, err)
	ids := make([]interface{}, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d["_id"])
	}
	require.NotContains(t, ids, int64(2), "a deleted-before-clone locator must never be served")
}

func TestDonorSessionStoreCurrentLocsTooBig(t *testing.T) {
	accessor := storetest.NewRecordAccessor()
	accessor.SetPattern("db.coll", testPattern())
	for i := int64(0); i < 10; i++ {
		accessor.Seed("db.coll", meta.Document{"_id": i, "x": i, "payload": "0123456789"})
	}

	s := NewDonorSession("db.coll", accessor)
	require.NoError(t, s.Start("mig-1", testRange(0, 10), testPattern()))

	tooBig, estSize, err := s.StoreCurrentLocs(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, tooBig, "a 1-byte budget against 10 real documents must report tooBig")
	require.Greater(t, estSize, int64(0))
}

func TestDonorSessionCloneAlwaysReturnsAtLeastOneDoc(t *testing.T) {
	accessor := storetest.NewRecordAccessor()
	accessor.SetPattern("db.coll", testPattern())
	accessor.Seed("db.coll", meta.Document{"_id": int64(1), "x": int64(1), "payload": "this-is-a-long-payload-value"})

	s := NewDonorSession("db.coll", accessor)
	require.NoError(t, s.Start("mig-1", testRange(0, 10), testPattern()))
	_, _, err := s.StoreCurrentLocs(context.Background(), 1<<20)
	require.NoError(t, err)

	// maxBatchBytes smaller than one document's size: clone must still
	// return that one document rather than an empty batch (spec.md §4.1
	// clone "always appends at least one document per call").
	docs, err := s.Clone(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	// A second call against the now-exhausted plan returns empty,
	// signalling completion.
	docs, err = s.Clone(context.Background(), 1<<20)
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestDonorSessionEmptyChunkClonesEmpty(t *testing.T) {
	accessor := storetest.NewRecordAccessor()
	s := NewDonorSession("db.coll", accessor)
	require.NoError(t, s.Start("mig-1", testRange(0, 10), testPattern()))

	tooBig, _, err := s.StoreCurrentLocs(context.Background(), 1<<20)
	require.NoError(t, err)
	require.False(t, tooBig)

	docs, err := s.Clone(context.Background(), 1<<20)
	require.NoError(t, err)
	require.Empty(t, docs, "an empty chunk completes with one clone round returning no objects")
}

func TestDonorSessionCriticalSectionGate(t *testing.T) {
	accessor := storetest.NewRecordAccessor()
	s := NewDonorSession("db.coll", accessor)
	require.NoError(t, s.Start("mig-1", testRange(0, 10), testPattern()))

	require.False(t, s.GetInCriticalSection())

	released := make(chan bool, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		released <- s.WaitTillNotInCriticalSection(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	s.SetInCriticalSection(true)
	require.True(t, s.GetInCriticalSection())
	time.Sleep(10 * time.Millisecond)
	s.SetInCriticalSection(false)

	require.True(t, <-released)
}

func TestDonorSessionWaitTillNotInCriticalSectionRespectsDeadline(t *testing.T) {
	accessor := storetest.NewRecordAccessor()
	s := NewDonorSession("db.coll", accessor)
	require.NoError(t, s.Start("mig-1", testRange(0, 10), testPattern()))
	s.SetInCriticalSection(true)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	notInCrit := s.WaitTillNotInCriticalSection(ctx)
	require.False(t, notInCrit, "a still-active critical section must not falsely report cleared")
}

func TestDonorSessionDoneClearsEverything(t *testing.T) {
	accessor := storetest.NewRecordAccessor()
	accessor.Seed("db.coll", meta.Document{"_id": int64(1), "x": int64(1)})
	s := NewDonorSession("db.coll", accessor)
	require.NoError(t, s.Start("mig-1", testRange(0, 10), testPattern()))

	s.LogMod(cluster.OpDelete, nil, meta.Key{int64(99)}, false)
	_, _, err := s.StoreCurrentLocs(context.Background(), 1<<20)
	require.NoError(t, err)

	s.Done()

	require.False(t, s.IsActive())
	require.Equal(t, 0, s.CloneLocsRemaining())
	require.Equal(t, int64(0), s.MemoryUsed())
	deleted, reload, _ := s.TransferMods(context.Background())
	require.Empty(t, deleted)
	require.Empty(t, reload)
}
