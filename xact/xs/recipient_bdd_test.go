package xs

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/shardkit/migrate/cluster"
	"github.com/shardkit/migrate/meta"
	"github.com/shardkit/migrate/rpc"
	"github.com/shardkit/migrate/storetest"
	"github.com/shardkit/migrate/xact/xreg"
)

// harness wires a DonorGroup (as the pull target) and a RecipientSession
// against independent in-memory accessors, the way a real migration wires a
// donor shard and a recipient shard as two separate processes.
type harness struct {
	donorAccessor     *storetest.RecordAccessor
	recipientAccessor *storetest.RecordAccessor
	donorGroup        *DonorGroup
	recipientGuards   *RangeGuards
	recipientDeleter  *storetest.RangeDeleter
	repl              *storetest.ReplicationGate
	session           *RecipientSession
}

func newHarness(ns string, rng *meta.Range, pattern meta.ShardKeyPattern, seed ...meta.Document) *harness {
	donorAccessor := storetest.NewRecordAccessor()
	donorAccessor.SetPattern(ns, pattern)
	donorAccessor.Seed(ns, seed...)

	donorGroup := NewDonorGroup(xreg.New(), donorAccessor)
	Expect(donorGroup.Start("mig-1", []string{ns}, rng, pattern)).To(Succeed())
	_, _, err := donorGroup.StoreCurrentLocs(context.Background(), 1<<20)
	Expect(err).NotTo(HaveOccurred())

	donorClient := &storetest.InProcessDonorClient{Group: donorGroup}

	recipientAccessor := storetest.NewRecordAccessor()
	recipientAccessor.SetPattern(ns, pattern)
	ns0 := storetest.NewNamespaceProvisioner(recipientAccessor)
	ns0.CreateLike(context.Background(), ns, "shard0")
	mutator := storetest.NewMutator(recipientAccessor)
	rangeDel := storetest.NewRangeDeleter(recipientAccessor)
	repl := storetest.NewReplicationGate()
	guards := NewRangeGuards()
	metrics := rpc.NewMetrics()

	session := NewRecipientSession(
		ns, "shard0", "mig-1", rng, pattern, "epoch-1", false,
		donorClient, ns0, mutator, recipientAccessor, repl, rangeDel, guards, metrics, 1,
	)

	return &harness{
		donorAccessor: donorAccessor, recipientAccessor: recipientAccessor,
		donorGroup: donorGroup, recipientGuards: guards, recipientDeleter: rangeDel,
		repl: repl, session: session,
	}
}

func (h *harness) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	go func() {
		defer cancel()
		h.session.Run(ctx)
	}()
}

var _ = Describe("RecipientSession", func() {
	pattern := meta.ShardKeyPattern{{Path: "x", Dir: meta.Ascending}}
	rng := &meta.Range{NS: "db.people", Min: meta.Key{int64(1)}, Max: meta.Key{int64(5)}, Pattern: pattern}

	Context("happy path, small chunk (spec.md §8 scenario 1)", func() {
		It("clones every document and reaches DONE", func() {
			h := newHarness("db.people", rng, pattern,
				meta.Document{"_id": int64(1), "x": int64(1)},
				meta.Document{"_id": int64(2), "x": int64(2)},
				meta.Document{"_id": int64(3), "x": int64(3)},
			)
			h.run()

			Eventually(h.session.State, time.Second).Should(Equal(StSteady))
			Expect(h.session.Counts().Cloned).To(Equal(int64(3)))

			doc, ok, err := h.recipientAccessor.LoadByID("db.people", cluster.NewDocumentId(int64(1)))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(doc["x"]).To(Equal(int64(1)))
		})
	})

	Context("concurrent insert in range during the copy (spec.md §8 scenario 2)", func() {
		It("delivers the inserted document through catchup", func() {
			h := newHarness("db.people", rng, pattern,
				meta.Document{"_id": int64(1), "x": int64(1)},
			)
			// Simulate a write landing on the donor after the clone plan was
			// captured but before CATCHUP drains it.
			h.donorAccessor.Seed("db.people", meta.Document{"_id": int64(2), "x": int64(3)})
			h.donorGroup.LogMod(cluster.OpInsert, meta.Document{"_id": int64(2), "x": int64(3)}, meta.Key{int64(2)}, false)

			h.run()
			Eventually(h.session.State, time.Second).Should(Equal(StSteady))

			doc, ok, err := h.recipientAccessor.LoadByID("db.people", cluster.NewDocumentId(int64(2)))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(doc["x"]).To(Equal(int64(3)))
		})
	})

	Context("commit handshake (spec.md §4.5 step 5)", func() {
		It("guarantees at least one more transferMods round after startCommit and reaches DONE", func() {
			h := newHarness("db.people", rng, pattern, meta.Document{"_id": int64(1), "x": int64(1)})
			h.run()
			Eventually(h.session.State, time.Second).Should(Equal(StSteady))

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			Expect(h.session.StartCommit(ctx)).To(Succeed())
			Expect(h.session.State()).To(Equal(StDone))
		})
	})

	Context("abort", func() {
		It("discards partially-cloned data and clears the pending-incoming marker", func() {
			h := newHarness("db.people", rng, pattern,
				meta.Document{"_id": int64(1), "x": int64(1)},
				meta.Document{"_id": int64(2), "x": int64(2)},
			)
			h.session.Abort()
			h.run()

			Eventually(func() RState { return h.session.State() }, time.Second).Should(Equal(StAbort))
			_, pending := h.recipientGuards.IsPendingIncoming("db.people")
			Expect(pending).To(BeFalse())
		})
	})

	Context("recipient failure (spec.md §8 scenario 5)", func() {
		It("FAILs when replication never catches up during the drain step", func() {
			h := newHarness("db.people", rng, pattern, meta.Document{"_id": int64(1), "x": int64(1)})
			h.repl.SetDrainOK(false)
			h.run()

			Eventually(h.session.State, time.Second).Should(Equal(StFail))
			Expect(h.session.Err()).To(HaveOccurred())
		})
	})
})
