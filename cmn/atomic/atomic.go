// Package atomic provides typed wrappers over sync/atomic, mirroring the
// teacher's cmn/atomic so call sites read as `x.Load()`/`x.Store(v)` rather
// than bare `atomic.LoadInt64(&x)`.
/*
 * Copyright (c) 2018-2026 The ShardKit Authors.
 */
package atomic

import "sync/atomic"

type Int64 struct{ v int64 }

func (x *Int64) Load() int64          { return atomic.LoadInt64(&x.v) }
func (x *Int64) Store(n int64)        { atomic.StoreInt64(&x.v, n) }
func (x *Int64) Add(n int64) int64    { return atomic.AddInt64(&x.v, n) }
func (x *Int64) Dec() int64           { return atomic.AddInt64(&x.v, -1) }
func (x *Int64) CAS(old, n int64) bool { return atomic.CompareAndSwapInt64(&x.v, old, n) }

type Int32 struct{ v int32 }

func (x *Int32) Load() int32       { return atomic.LoadInt32(&x.v) }
func (x *Int32) Store(n int32)     { atomic.StoreInt32(&x.v, n) }
func (x *Int32) Add(n int32) int32 { return atomic.AddInt32(&x.v, n) }
func (x *Int32) Dec() int32        { return atomic.AddInt32(&x.v, -1) }

type Bool struct{ v int32 }

func (x *Bool) Load() bool { return atomic.LoadInt32(&x.v) != 0 }
func (x *Bool) Store(b bool) {
	if b {
		atomic.StoreInt32(&x.v, 1)
	} else {
		atomic.StoreInt32(&x.v, 0)
	}
}

// CAS performs an atomic compare-and-swap from `old` to `new`.
func (x *Bool) CAS(old, new bool) bool {
	var o, n int32
	if old {
		o = 1
	}
	if new {
		n = 1
	}
	return atomic.CompareAndSwapInt32(&x.v, o, n)
}
