// Package debug provides assertions that compile out of non-debug builds.
/*
 * Copyright (c) 2018-2026 The ShardKit Authors.
 */
package debug

// Enabled is flipped by the "debug" build tag (see debug_on.go / debug_off.go).
const Enabled = enabled

// Assert panics with msg (or a generic message) when cond is false and the
// module was built with the "debug" tag; it is a no-op otherwise. The
// migration core uses it for two internal consistency checks (no clone
// locators left when the donor enters its critical section, and Done on an
// active DonorSession) rather than ordinary `if`/`return err`, matching the
// teacher's use of cmn/debug.
func Assert(cond bool, msg ...interface{}) {
	if !enabled || cond {
		return
	}
	if len(msg) == 0 {
		panic("assertion failed")
	}
	panic(msg[0])
}

// Assertf is Assert with a format string.
func Assertf(cond bool, format string, args ...interface{}) {
	if !enabled || cond {
		return
	}
	panic(sprintf(format, args...))
}
