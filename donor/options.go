// Package donor implements the moveChunk Donor Coordinator (spec.md §4.4):
// the seven-step protocol that locks a range, primes a recipient, waits for
// it to catch up, and commits ownership under a brief critical section.
/*
 * Copyright (c) 2018-2026 The ShardKit Authors.
 */
package donor

import (
	"github.com/shardkit/migrate/meta"
)

// Options is moveChunk's request shape (spec.md §4.4 step 1).
type Options struct {
	NS      string
	From    string
	To      string
	Min     meta.Key
	Max     meta.Key
	ShardId string
	Pattern meta.ShardKeyPattern

	MaxChunkSizeBytes int64

	// SecondaryThrottle is disabled automatically unless the caller already
	// confirmed a replica set of majority >= 2 exists (spec.md §4.4 step 1).
	SecondaryThrottle bool
	WaitForDelete     bool
	ConfigDB          string

	// LinkedNamespaces, if non-empty, names additional namespaces sharing
	// this migration's range (spec.md §4.2).
	LinkedNamespaces []string

	Majority int
}

// EffectiveThrottle applies the step-1 majority gate.
func (o Options) EffectiveThrottle() bool {
	return o.SecondaryThrottle && o.Majority >= 2
}

// Result is the union of the four moveChunk reply shapes (spec.md §4.4,
// §6).
type Result struct {
	OK bool

	ChunkTooBig        bool
	EstimatedChunkSize int64

	Stale   bool
	CurrMin meta.Key
	CurrMax meta.Key

	Locked bool
	Holder string

	Split bool

	Errmsg string
}
