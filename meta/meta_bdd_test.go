package meta_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/shardkit/migrate/meta"
)

var _ = Describe("Range", func() {
	pattern := meta.ShardKeyPattern{{Path: "x", Dir: meta.Ascending}}
	rng := &meta.Range{NS: "db.coll", Min: meta.Key{int64(1)}, Max: meta.Key{int64(5)}, Pattern: pattern}

	Context("membership at the boundaries", func() {
		It("includes min", func() {
			Expect(rng.IsInRange(meta.Document{"x": int64(1)})).To(BeTrue())
		})
		It("excludes max", func() {
			Expect(rng.IsInRange(meta.Document{"x": int64(5)})).To(BeFalse())
		})
		It("excludes anything below min", func() {
			Expect(rng.IsInRange(meta.Document{"x": int64(0)})).To(BeFalse())
		})
	})

	Context("an empty chunk's range", func() {
		empty := &meta.Range{NS: "db.coll", Min: meta.Key{int64(3)}, Max: meta.Key{int64(3)}, Pattern: pattern}
		It("admits nothing, since min==max", func() {
			Expect(empty.IsInRange(meta.Document{"x": int64(3)})).To(BeFalse())
		})
	})

	Context("a chunk equal in range to a single _id", func() {
		idPattern := meta.ShardKeyPattern{{Path: "_id", Dir: meta.Ascending}}
		single := &meta.Range{NS: "db.coll", Min: meta.Key{int64(42)}, Max: meta.Key{int64(43)}, Pattern: idPattern}
		It("admits exactly that id", func() {
			Expect(single.IsInRange(meta.Document{"_id": int64(42)})).To(BeTrue())
			Expect(single.IsInRange(meta.Document{"_id": int64(43)})).To(BeFalse())
			Expect(single.IsInRange(meta.Document{"_id": int64(41)})).To(BeFalse())
		})
	})
})

var _ = Describe("ChunkVersion", func() {
	Context("ordering within the same epoch", func() {
		It("orders by major first, then minor", func() {
			v1 := meta.ChunkVersion{Epoch: "e", Major: 1, Minor: 9}
			v2 := meta.ChunkVersion{Epoch: "e", Major: 2, Minor: 0}
			Expect(v1.Less(v2)).To(BeTrue())
		})
	})

	Context("across different epochs", func() {
		It("is never Less in either direction", func() {
			v1 := meta.ChunkVersion{Epoch: "old", Major: 99, Minor: 99}
			v2 := meta.ChunkVersion{Epoch: "new", Major: 0, Minor: 0}
			Expect(v1.Less(v2)).To(BeFalse())
			Expect(v2.Less(v1)).To(BeFalse())
		})
	})

	Context("migration commit monotonicity", func() {
		It("strictly increases major and resets minor on IncMajor", func() {
			v := meta.ChunkVersion{Epoch: "e", Major: 5, Minor: 3}
			next := v.IncMajor()
			Expect(next.Major).To(Equal(int64(6)))
			Expect(next.Minor).To(Equal(int64(0)))
			Expect(v.Less(next)).To(BeTrue())
		})
	})
})
