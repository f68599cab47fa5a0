// Package config holds the process-wide, atomically-swapped configuration
// object, the same "one struct behind an atomic pointer" shape as the
// teacher's cmn.GCO ("Global Config Owner").
/*
 * Copyright (c) 2018-2026 The ShardKit Authors.
 */
package config

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/shardkit/migrate/cmn/cos"
)

// Timeout groups every hard and soft deadline named in spec.md §5.
type Timeout struct {
	DistLock          time.Duration `toml:"dist_lock"`           // 30s: distributed lock acquire
	RecvChunkPoll     time.Duration `toml:"recv_chunk_poll_max"` // cap on the 2^min(i,10)ms backoff
	CatchupWindow     time.Duration `toml:"catchup_window"`      // 3600*50*20ms replication-lag window
	CommitWait        time.Duration `toml:"commit_wait"`         // 30s startCommit -> DONE
	ReplicationDrain  time.Duration `toml:"replication_drain"`   // 600min flushPendingWrites
	SecondaryThrottle time.Duration `toml:"secondary_throttle"`  // 60s per-batch replication wait
	CommitReconfirm   time.Duration `toml:"commit_reconfirm"`    // pause before reconfirming a CommitUnknown outcome
}

// Config is the full, reloadable process configuration.
type Config struct {
	Timeout Timeout `toml:"timeout"`

	MaxChunkSizeBytesDefault int64 `toml:"max_chunk_size_bytes_default"`
	MaxObjectPerChunk        int   `toml:"max_object_per_chunk"`
	TooBigSlack              float64 `toml:"too_big_slack"` // 1.3

	CaptureMemoryCapBytes int64 `toml:"capture_memory_cap_bytes"` // 500 MiB advisory cap (D-memory policy)
	TransferModsSoftCap   int64 `toml:"transfer_mods_soft_cap"`   // 1 MiB per transferMods batch

	SecondaryThrottleMinReplicas int `toml:"secondary_throttle_min_replicas"` // disabled unless majority >= 2

	RecvChunkStatusMaxPolls int `toml:"recv_chunk_status_max_polls"` // 86400 iterations, spec.md §4.4 step 4

	LogLevel string `toml:"log_level"`
}

func defaultConfig() *Config {
	return &Config{
		Timeout: Timeout{
			DistLock:          30 * time.Second,
			RecvChunkPoll:     1024 * time.Millisecond,
			CatchupWindow:     3600 * 50 * 20 * time.Millisecond,
			CommitWait:        30 * time.Second,
			ReplicationDrain:  600 * time.Minute,
			SecondaryThrottle: 60 * time.Second,
			CommitReconfirm:   10 * time.Second,
		},
		MaxChunkSizeBytesDefault:     64 * cos.MiB,
		MaxObjectPerChunk:            250_000,
		TooBigSlack:                  1.3,
		CaptureMemoryCapBytes:        500 * cos.MiB,
		TransferModsSoftCap:          1 * cos.MiB,
		SecondaryThrottleMinReplicas: 2,
		RecvChunkStatusMaxPolls:      86400,
		LogLevel:                     "info",
	}
}

// owner is the Global Config Owner: an atomically-swapped pointer to the
// current *Config, exactly as the teacher's cmn.GCO works.
type owner struct{ p atomic.Value }

var GCO = &owner{}

func init() { GCO.Put(defaultConfig()) }

func (o *owner) Get() *Config { return o.p.Load().(*Config) }

func (o *owner) Put(c *Config) { o.p.Store(c) }

// LoadFile merges a TOML config file on top of the defaults and installs
// the result, the way the teacher's config loader layers a file over
// built-in defaults.
func (o *owner) LoadFile(path string) error {
	c := defaultConfig()
	if _, err := os.Stat(path); err != nil {
		o.Put(c)
		return nil
	}
	if _, err := toml.DecodeFile(path, c); err != nil {
		return err
	}
	o.Put(c)
	return nil
}
