// Package meta implements the chunk migration data model: shard key
// patterns, half-open ranges, chunk versions and migration identifiers
// (spec.md §3).
/*
 * Copyright (c) 2018-2026 The ShardKit Authors.
 */
package meta

import (
	"fmt"

	"github.com/OneOfOne/xxhash"
)

// Document is the abstract stand-in for a BSON-like document; the storage
// engine (out of scope, §1) is the real source of these.
type Document map[string]interface{}

// FieldDir is a shard-key-pattern field's ordering.
type FieldDir int

const (
	Ascending FieldDir = iota
	Hashed
)

type KeyField struct {
	Path string
	Dir  FieldDir
}

// ShardKeyPattern is the ordered field list used to partition a collection.
type ShardKeyPattern []KeyField

// MinKey and MaxKey are sentinels used to pad key bounds the way BSON's
// MinKey/MaxKey do when storeCurrentLocs extends a partial bound to full
// key-pattern width (spec.md §4.1).
type minKeyT struct{}
type maxKeyT struct{}

var (
	MinKey = minKeyT{}
	MaxKey = maxKeyT{}
)

// Key is an extracted shard-key tuple, one value per pattern field, in
// pattern order.
type Key []interface{}

// ExtractKey projects doc onto pattern, hashing fields marked Hashed.
func (p ShardKeyPattern) ExtractKey(doc Document) Key {
	key := make(Key, len(p))
	for i, f := range p {
		v := doc[f.Path]
		if f.Dir == Hashed {
			key[i] = hashValue(v)
		} else {
			key[i] = v
		}
	}
	return key
}

// Pad extends a caller-supplied partial key to the pattern's full width
// using MinKey (low) or MaxKey (high) padding, as storeCurrentLocs does
// when it extends [min,max) to an index-scan bound (spec.md §4.1).
func (p ShardKeyPattern) Pad(partial Key, low bool) Key {
	full := make(Key, len(p))
	copy(full, partial)
	for i := len(partial); i < len(p); i++ {
		if low {
			full[i] = MinKey
		} else {
			full[i] = MaxKey
		}
	}
	return full
}

func hashValue(v interface{}) int64 {
	h := xxhash.New64()
	fmt.Fprintf(h, "%v", v)
	return int64(h.Sum64())
}

// compareValue orders two key-component values; MinKey/MaxKey sentinels
// always compare as less-than/greater-than any real value.
func compareValue(a, b interface{}) int {
	if _, ok := a.(minKeyT); ok {
		if _, ok2 := b.(minKeyT); ok2 {
			return 0
		}
		return -1
	}
	if _, ok := b.(minKeyT); ok {
		return 1
	}
	if _, ok := a.(maxKeyT); ok {
		if _, ok2 := b.(maxKeyT); ok2 {
			return 0
		}
		return 1
	}
	if _, ok := b.(maxKeyT); ok {
		return -1
	}
	switch av := a.(type) {
	case int64:
		bv := toInt64(b)
		return cmpI64(av, bv)
	case int:
		return cmpI64(int64(av), toInt64(b))
	case float64:
		bv := toFloat64(b)
		return cmpF64(av, bv)
	case string:
		bv, _ := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	default:
		as, bs := fmt.Sprint(a), fmt.Sprint(b)
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	}
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

func cmpI64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpF64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Compare orders two keys lexicographically, field by field.
func (k Key) Compare(other Key) int {
	n := len(k)
	if len(other) < n {
		n = len(other)
	}
	for i := 0; i < n; i++ {
		if c := compareValue(k[i], other[i]); c != 0 {
			return c
		}
	}
	return cmpI64(int64(len(k)), int64(len(other)))
}

// Range is a half-open shard-key range [Min, Max) over a namespace.
type Range struct {
	NS      string
	Min     Key
	Max     Key
	Pattern ShardKeyPattern
}

// IsInRange reports whether doc's extracted key lies in [Min, Max).
// min is inclusive, max is exclusive (spec.md §3).
func (r *Range) IsInRange(doc Document) bool {
	return r.KeyInRange(r.Pattern.ExtractKey(doc))
}

func (r *Range) KeyInRange(key Key) bool {
	return key.Compare(r.Min) >= 0 && key.Compare(r.Max) < 0
}

func (r *Range) String() string {
	return fmt.Sprintf("%s[%v, %v)", r.NS, r.Min, r.Max)
}

// Equal compares namespace and bounds only (patterns are assumed to match
// within a namespace).
func (r *Range) Equal(o *Range) bool {
	return r.NS == o.NS && r.Min.Compare(o.Min) == 0 && r.Max.Compare(o.Max) == 0
}
