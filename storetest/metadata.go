// Package storetest provides in-memory fakes for every collaborator
// interface in cluster/contracts.go, for tests and the cmd/migrated demo.
// None of it is meant for production; it exists so the donor coordinator
// and recipient sessions can run end to end without a real cluster.
/*
 * Copyright (c) 2018-2026 The ShardKit Authors.
 */
package storetest

import (
	"context"
	"fmt"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/buntdb"

	"github.com/shardkit/migrate/cluster"
	"github.com/shardkit/migrate/meta"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// wireChunk is ChunkRecord's JSON-stable encoding for buntdb storage; Key
// isn't directly JSON-friendly (it can hold MinKey/MaxKey sentinels), so the
// fake only supports the comparable scalar key values tests actually use.
type wireChunk struct {
	NS      string        `json:"ns"`
	Min     []interface{} `json:"min"`
	Max     []interface{} `json:"max"`
	Owner   string        `json:"owner"`
	Epoch   string        `json:"epoch"`
	Major   int64         `json:"major"`
	Minor   int64         `json:"minor"`
}

func toWire(c cluster.ChunkRecord) wireChunk {
	return wireChunk{
		NS: c.NS, Min: []interface{}(c.Min), Max: []interface{}(c.Max),
		Owner: c.Owner, Epoch: c.Version.Epoch, Major: c.Version.Major, Minor: c.Version.Minor,
	}
}

func fromWire(w wireChunk) cluster.ChunkRecord {
	return cluster.ChunkRecord{
		NS: w.NS, Min: meta.Key(w.Min), Max: meta.Key(w.Max), Owner: w.Owner,
		Version: meta.ChunkVersion{Epoch: w.Epoch, Major: w.Major, Minor: w.Minor},
	}
}

// MetadataStore is a buntdb-backed cluster.MetadataStore: one key per
// (ns, owner, min) chunk record, plus a change log list kept in memory.
type MetadataStore struct {
	db *buntdb.DB

	mu      sync.Mutex
	linked  map[string][]string
	changes []cluster.ChangeLogEntry
}

// NewMetadataStore opens an in-memory buntdb database, the same ":memory:"
// mode the teacher's test helpers use for throwaway state.
func NewMetadataStore() (*MetadataStore, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, err
	}
	return &MetadataStore{db: db, linked: make(map[string][]string)}, nil
}

// chunkKey is keyed by (ns, owner, min) rather than just (ns, owner) so a
// shard that owns more than one chunk in the same namespace - the case
// RemainingChunk exists to find - doesn't collide on a single record.
func chunkKey(ns, owner string, min meta.Key) string {
	return fmt.Sprintf("chunk/%s/%s/%v", ns, owner, []interface{}(min))
}

// PutChunk seeds a chunk record; tests use this to arrange starting state.
func (s *MetadataStore) PutChunk(c cluster.ChunkRecord) error {
	buf, err := jsonAPI.Marshal(toWire(c))
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(chunkKey(c.NS, c.Owner, c.Min), string(buf), nil)
		return err
	})
}

// SetLinkedNamespaces seeds the (fixed, test-only) linked-namespace table.
func (s *MetadataStore) SetLinkedNamespaces(ns string, linked []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linked[ns] = linked
}

// ChunkByOwner returns owner's chunk in ns. If owner keeps more than one
// chunk there it deterministically picks the one with the lowest Min;
// donor/coordinator.go's step 2 version check compares that record with the
// caller's own [min,max) and reports the move stale when they differ.
func (s *MetadataStore) ChunkByOwner(_ context.Context, ns, owner string) (cluster.ChunkRecord, error) {
	var (
		best  cluster.ChunkRecord
		found bool
	)
	err := s.db.View(func(tx *buntdb.Tx) error {
		prefix := fmt.Sprintf("chunk/%s/%s/", ns, owner)
		return tx.AscendKeys(prefix+"*", func(_, val string) bool {
			var w wireChunk
			if jsonAPI.UnmarshalFromString(val, &w) != nil {
				return true
			}
			c := fromWire(w)
			if !found || c.Min.Compare(best.Min) < 0 {
				best, found = c, true
			}
			return true
		})
	})
	if err != nil {
		return cluster.ChunkRecord{}, fmt.Errorf("storetest: chunk %s/%s: %w", ns, owner, err)
	}
	if !found {
		return cluster.ChunkRecord{}, fmt.Errorf("storetest: chunk %s/%s: not found", ns, owner)
	}
	return best, nil
}

// RemainingChunk reports another chunk owner keeps in ns, distinct from
// [excludeMin, excludeMax) - the donor-side lookup behind step 5.6(b)'s
// minor-version bump.
func (s *MetadataStore) RemainingChunk(_ context.Context, ns, owner string, excludeMin, excludeMax meta.Key) (cluster.ChunkRecord, bool, error) {
	var (
		out   cluster.ChunkRecord
		found bool
	)
	err := s.db.View(func(tx *buntdb.Tx) error {
		prefix := fmt.Sprintf("chunk/%s/%s/", ns, owner)
		return tx.AscendKeys(prefix+"*", func(_, val string) bool {
			var w wireChunk
			if jsonAPI.UnmarshalFromString(val, &w) != nil {
				return true
			}
			c := fromWire(w)
			if c.Min.Compare(excludeMin) == 0 && c.Max.Compare(excludeMax) == 0 {
				return true
			}
			out, found = c, true
			return false
		})
	})
	if err != nil {
		return cluster.ChunkRecord{}, false, err
	}
	return out, found, nil
}

// HighestVersionChunk scans every chunk record for ns and returns the one
// with the greatest (major, minor), the fake's stand-in for a real
// lastmod-sorted index.
func (s *MetadataStore) HighestVersionChunk(_ context.Context, ns string) (cluster.ChunkRecord, error) {
	var (
		best  cluster.ChunkRecord
		found bool
	)
	err := s.db.View(func(tx *buntdb.Tx) error {
		prefix := "chunk/" + ns + "/"
		return tx.AscendKeys(prefix+"*", func(key, val string) bool {
			var w wireChunk
			if err := jsonAPI.UnmarshalFromString(val, &w); err != nil {
				return true
			}
			c := fromWire(w)
			if !found || best.Version.Compare(c.Version) < 0 {
				best, found = c, true
			}
			return true
		})
	})
	if err != nil {
		return cluster.ChunkRecord{}, err
	}
	if !found {
		return cluster.ChunkRecord{}, fmt.Errorf("storetest: no chunks for ns %s", ns)
	}
	return best, nil
}

func (s *MetadataStore) LinkedNamespaces(_ context.Context, ns string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linked[ns], nil
}

func (s *MetadataStore) DonateChunk(_ context.Context, ns string, min, max meta.Key, newVersion meta.ChunkVersion) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		prefix := "chunk/" + ns + "/"
		var ownerKey string
		_ = tx.AscendKeys(prefix+"*", func(key, val string) bool {
			var w wireChunk
			if jsonAPI.UnmarshalFromString(val, &w) == nil && meta.Key(w.Min).Compare(min) == 0 && meta.Key(w.Max).Compare(max) == 0 {
				ownerKey = key
				return false
			}
			return true
		})
		if ownerKey == "" {
			return fmt.Errorf("storetest: donateChunk: no matching chunk in %s", ns)
		}
		val, err := tx.Get(ownerKey)
		if err != nil {
			return err
		}
		var w wireChunk
		if err := jsonAPI.UnmarshalFromString(val, &w); err != nil {
			return err
		}
		w.Major, w.Minor, w.Epoch = newVersion.Major, newVersion.Minor, newVersion.Epoch
		buf, err := jsonAPI.Marshal(w)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(ownerKey, string(buf), nil)
		return err
	})
}

// UndoDonateChunk is DonateChunk's rollback: it reinstalls priorVersion on
// the namespace's highest-version record, which is the one DonateChunk last
// advanced to the new major version as long as no other mutation of ns
// intervened.
func (s *MetadataStore) UndoDonateChunk(ctx context.Context, ns string, priorVersion meta.ChunkVersion) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		prefix := "chunk/" + ns + "/"
		var (
			key  string
			best meta.ChunkVersion
		)
		_ = tx.AscendKeys(prefix+"*", func(k, val string) bool {
			var w wireChunk
			if jsonAPI.UnmarshalFromString(val, &w) != nil {
				return true
			}
			if v := fromWire(w).Version; key == "" || best.Compare(v) < 0 {
				key, best = k, v
			}
			return true
		})
		if key == "" {
			return fmt.Errorf("storetest: undoDonateChunk: no chunk in %s", ns)
		}
		val, err := tx.Get(key)
		if err != nil {
			return err
		}
		var w wireChunk
		if err := jsonAPI.UnmarshalFromString(val, &w); err != nil {
			return err
		}
		w.Major, w.Minor, w.Epoch = priorVersion.Major, priorVersion.Minor, priorVersion.Epoch
		buf, err := jsonAPI.Marshal(w)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(key, string(buf), nil)
		return err
	})
}

// CommitMove applies batch.Moved after checking the precondition against
// the namespace's current highest version (spec.md §4.4 step 5.6).
func (s *MetadataStore) CommitMove(ctx context.Context, batch cluster.ApplyOpsBatch) (cluster.CommitOutcome, error) {
	highest, err := s.HighestVersionChunk(ctx, batch.Moved.NS)
	if err != nil {
		return cluster.CommitPrepareConfigsFailed, err
	}
	if highest.Version.Compare(batch.Precondition) != 0 {
		return cluster.CommitPrepareConfigsFailed, fmt.Errorf("storetest: commitMove precondition mismatch")
	}
	err = s.db.Update(func(tx *buntdb.Tx) error {
		buf, err := jsonAPI.Marshal(toWire(cluster.ChunkRecord{
			NS: batch.Moved.NS, Min: batch.Moved.Min, Max: batch.Moved.Max,
			Owner: batch.Moved.Owner, Version: batch.Moved.Version,
		}))
		if err != nil {
			return err
		}
		_, _, err = tx.Set(chunkKey(batch.Moved.NS, batch.Moved.Owner, batch.Moved.Min), string(buf), nil)
		if err != nil {
			return err
		}
		if batch.Bump != nil {
			bbuf, err := jsonAPI.Marshal(toWire(cluster.ChunkRecord{
				NS: batch.Bump.NS, Min: batch.Bump.Min, Max: batch.Bump.Max,
				Owner: batch.Bump.Owner, Version: batch.Bump.Version,
			}))
			if err != nil {
				return err
			}
			_, _, err = tx.Set(chunkKey(batch.Bump.NS, batch.Bump.Owner, batch.Bump.Min), string(bbuf), nil)
			return err
		}
		return nil
	})
	if err != nil {
		return cluster.CommitUnknown, err
	}
	return cluster.CommitOK, nil
}

func (s *MetadataStore) AppendChangeLog(_ context.Context, entry cluster.ChangeLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, entry)
	return nil
}

// ChangeLog returns every recorded entry, newest last - tests assert on
// moveChunk.start/commit/from ordering this way.
func (s *MetadataStore) ChangeLog() []cluster.ChangeLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]cluster.ChangeLogEntry, len(s.changes))
	copy(out, s.changes)
	return out
}

func (s *MetadataStore) Close() error { return s.db.Close() }
