package meta

import "fmt"

// ChunkVersion is (epoch, major, minor): major increments on ownership
// change (migration commit), minor on same-shard mutation such as bumping
// a sibling chunk during another migration's commit (spec.md §3).
type ChunkVersion struct {
	Epoch string
	Major int64
	Minor int64
}

// SameEpoch reports whether two versions are comparable at all; different
// epochs are incomparable except that a newer epoch always wins as "current
// truth" (spec.md §3); this package has no helper for that rule.
func (v ChunkVersion) SameEpoch(o ChunkVersion) bool { return v.Epoch == o.Epoch }

// Compare orders two same-epoch versions lexicographically on
// (major, minor). Callers must check SameEpoch first.
func (v ChunkVersion) Compare(o ChunkVersion) int {
	if v.Major != o.Major {
		if v.Major < o.Major {
			return -1
		}
		return 1
	}
	switch {
	case v.Minor < o.Minor:
		return -1
	case v.Minor > o.Minor:
		return 1
	default:
		return 0
	}
}

// Less is a convenience wrapper used by monotonicity checks (D4): v < o
// within the same epoch.
func (v ChunkVersion) Less(o ChunkVersion) bool {
	return v.SameEpoch(o) && v.Compare(o) < 0
}

func (v ChunkVersion) IncMajor() ChunkVersion {
	return ChunkVersion{Epoch: v.Epoch, Major: v.Major + 1, Minor: 0}
}

func (v ChunkVersion) IncMinor() ChunkVersion {
	return ChunkVersion{Epoch: v.Epoch, Major: v.Major, Minor: v.Minor + 1}
}

func (v ChunkVersion) IsZero() bool { return v.Major == 0 && v.Minor == 0 && v.Epoch == "" }

func (v ChunkVersion) String() string {
	return fmt.Sprintf("%s-v%d.%d", v.Epoch, v.Major, v.Minor)
}
