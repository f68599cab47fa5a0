package meta

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyCompare(t *testing.T) {
	cases := []struct {
		name string
		a, b Key
		want int
	}{
		{"equal ints", Key{int64(5)}, Key{int64(5)}, 0},
		{"less int", Key{int64(1)}, Key{int64(2)}, -1},
		{"greater int", Key{int64(3)}, Key{int64(2)}, 1},
		{"minkey below anything", Key{MinKey}, Key{int64(-100)}, -1},
		{"maxkey above anything", Key{MaxKey}, Key{int64(1 << 40)}, 1},
		{"minkey below maxkey", Key{MinKey}, Key{MaxKey}, -1},
		{"strings", Key{"a"}, Key{"b"}, -1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, c.a.Compare(c.b))
		})
	}
}

func TestRangeIsInRange(t *testing.T) {
	pattern := ShardKeyPattern{{Path: "x", Dir: Ascending}}
	rng := &Range{NS: "db.coll", Min: Key{int64(1)}, Max: Key{int64(5)}, Pattern: pattern}

	require.True(t, rng.IsInRange(Document{"x": int64(1)}), "min is inclusive")
	require.False(t, rng.IsInRange(Document{"x": int64(5)}), "max is exclusive")
	require.True(t, rng.IsInRange(Document{"x": int64(3)}))
	require.False(t, rng.IsInRange(Document{"x": int64(0)}))
	require.False(t, rng.IsInRange(Document{"x": int64(10)}))
}

func TestRangeIsInRangeTotal(t *testing.T) {
	// isInRange must be total: every key compares to exactly one of
	// {in, below, above} (spec.md §8 "isInRange ... is total").
	pattern := ShardKeyPattern{{Path: "x", Dir: Ascending}}
	rng := &Range{NS: "db.coll", Min: Key{int64(0)}, Max: Key{int64(10)}, Pattern: pattern}
	for x := int64(-5); x <= 15; x++ {
		got := rng.IsInRange(Document{"x": x})
		want := x >= 0 && x < 10
		require.Equal(t, want, got, "x=%d", x)
	}
}

func TestHashedShardKeyPattern(t *testing.T) {
	// Hashed fields must be hashed before comparison (spec.md §8 "Hashed
	// shard key").
	pattern := ShardKeyPattern{{Path: "x", Dir: Hashed}}
	k1 := pattern.ExtractKey(Document{"x": "alice"})
	k2 := pattern.ExtractKey(Document{"x": "alice"})
	k3 := pattern.ExtractKey(Document{"x": "bob"})

	require.Equal(t, 0, k1.Compare(k2), "hashing is deterministic")
	require.NotEqual(t, 0, k1.Compare(k3))
	_, isString := k1[0].(string)
	require.False(t, isString, "hashed field must not compare as the raw string")
}

func TestShardKeyPatternPad(t *testing.T) {
	pattern := ShardKeyPattern{{Path: "a"}, {Path: "b"}, {Path: "c"}}
	low := pattern.Pad(Key{int64(1)}, true)
	require.Equal(t, Key{int64(1), MinKey, MinKey}, low)

	high := pattern.Pad(Key{int64(1)}, false)
	require.Equal(t, Key{int64(1), MaxKey, MaxKey}, high)
}

func TestRangeEqual(t *testing.T) {
	pattern := ShardKeyPattern{{Path: "x"}}
	a := &Range{NS: "db.coll", Min: Key{int64(1)}, Max: Key{int64(5)}, Pattern: pattern}
	b := &Range{NS: "db.coll", Min: Key{int64(1)}, Max: Key{int64(5)}, Pattern: pattern}
	c := &Range{NS: "db.coll", Min: Key{int64(1)}, Max: Key{int64(6)}, Pattern: pattern}

	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}
