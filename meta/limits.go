package meta

// Named ceilings used by the donor's clone-plan budget (spec.md §4.1,
// "storeCurrentLocs"), grounded on the original's inline
// too-many-documents-in-chunk guard (original_source/src/mongo/s/d_migrate.cpp).
const (
	// DefaultMaxObjectPerChunk bounds maxRecs regardless of the byte budget:
	// a chunk with an enormous number of tiny documents is still "too big".
	DefaultMaxObjectPerChunk = 250_000

	// TooBigSlack is the 30% slack applied when deriving maxRecs from
	// maxChunkBytes/avgObjSize, so a chunk whose estimate lands exactly at
	// the byte budget isn't spuriously rejected (spec.md §8 boundary case).
	TooBigSlack = 1.3
)
