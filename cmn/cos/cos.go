// Package cos holds small constants and helpers shared across the migration
// core, mirroring the teacher's cmn/cos grab-bag package.
/*
 * Copyright (c) 2018-2026 The ShardKit Authors.
 */
package cos

const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
)
