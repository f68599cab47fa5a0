package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shardkit/migrate/cluster"
	"github.com/shardkit/migrate/meta"
)

// RecordAccessor is an in-memory cluster.RecordAccessor: one ordered slice
// of documents per namespace, addressed by a synthetic RecordLocator
// (namespace index, slot). Resident always reports true - the fake has no
// page cache to miss.
type RecordAccessor struct {
	mu          sync.Mutex
	nss         map[string]*nsData
	nsID        map[string]uint32
	next        uint32
	modListener cluster.ModListener
}

// SetModListener registers the mod-capture listener a real storage engine's
// logOpForSharding/aboutToDeleteForSharding hooks would call; upsert and
// deleteByID invoke it the same way.
func (a *RecordAccessor) SetModListener(l cluster.ModListener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.modListener = l
}

type nsData struct {
	docs    []meta.Document // slot -> doc, nil once deleted
	byID    map[string]int  // id key -> slot
	pattern meta.ShardKeyPattern
}

var identityByID = meta.ShardKeyPattern{{Path: "_id"}}

func NewRecordAccessor() *RecordAccessor {
	return &RecordAccessor{nss: make(map[string]*nsData), nsID: make(map[string]uint32)}
}

func (a *RecordAccessor) nsOf(ns string) *nsData {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nsUnlocked(ns)
}

func (a *RecordAccessor) nsUnlocked(ns string) *nsData {
	d, ok := a.nss[ns]
	if !ok {
		d = &nsData{byID: make(map[string]int)}
		a.nss[ns] = d
		a.next++
		a.nsID[ns] = a.next
	}
	return d
}

func (a *RecordAccessor) namespaceExists(ns string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.nss[ns]
	return ok
}

func (a *RecordAccessor) createNamespace(ns string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nsUnlocked(ns)
}

// Seed inserts docs directly, bypassing any locking/capture - used to
// arrange a donor's starting data in tests.
func (a *RecordAccessor) Seed(ns string, docs ...meta.Document) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.nsUnlocked(ns)
	for _, doc := range docs {
		a.insertLocked(d, doc)
	}
}

func (a *RecordAccessor) insertLocked(d *nsData, doc meta.Document) {
	id := cluster.NewDocumentId(doc["_id"])
	if slot, ok := d.byID[id.Key]; ok {
		d.docs[slot] = doc
		return
	}
	d.docs = append(d.docs, doc)
	d.byID[id.Key] = len(d.docs) - 1
}

func (a *RecordAccessor) upsert(ns string, doc meta.Document) error {
	a.mu.Lock()
	d := a.nsUnlocked(ns)
	_, existed := d.byID[cluster.NewDocumentId(doc["_id"]).Key]
	a.insertLocked(d, doc)
	l := a.modListener
	a.mu.Unlock()
	// called after a.mu is released: an update's listener looks the
	// post-image up through LoadByID, which takes a.mu itself.
	if l != nil {
		kind := cluster.OpInsert
		if existed {
			kind = cluster.OpUpdate
		}
		l.OnMod(kind, ns, doc, meta.Key{doc["_id"]}, false)
	}
	return nil
}

func (a *RecordAccessor) deleteByID(ns string, id cluster.DocumentId) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.nsUnlocked(ns)
	slot, ok := d.byID[id.Key]
	if !ok {
		return nil
	}
	if a.modListener != nil {
		a.modListener.OnAboutToDelete(ns, cluster.RecordLocator{Extent: a.nsID[ns], Offset: uint64(slot)})
	}
	d.docs[slot] = nil
	delete(d.byID, id.Key)
	if a.modListener != nil {
		a.modListener.OnMod(cluster.OpDelete, ns, nil, meta.Key{id.Raw}, false)
	}
	return nil
}

// SetPattern records the shard key pattern a namespace scans by; tests
// arrange this once alongside Seed. Namespaces left unset default to
// ordering by a bare "_id" field.
func (a *RecordAccessor) SetPattern(ns string, pattern meta.ShardKeyPattern) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nsUnlocked(ns).pattern = pattern
}

// deleteRange models the background range-deletion worker's cleanup, not a
// live user mutation, so unlike deleteByID it never notifies a ModListener
// (the same "cleanup, not user data" distinction donor_session.go's LogMod
// draws for notInActiveChunk deletes).
func (a *RecordAccessor) deleteRange(ns string, min, max meta.Key) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.nsUnlocked(ns)
	pattern := d.pattern
	if pattern == nil {
		pattern = identityByID
	}
	rng := &meta.Range{NS: ns, Min: min, Max: max, Pattern: pattern}
	for slot, doc := range d.docs {
		if doc == nil {
			continue
		}
		if rng.IsInRange(doc) {
			d.docs[slot] = nil
			id := cluster.NewDocumentId(doc["_id"])
			delete(d.byID, id.Key)
		}
	}
	return nil
}

// ScanRange plans an index scan over [min,max) under pattern, returning
// slots in ascending extracted-key order (cluster.RecordAccessor).
func (a *RecordAccessor) ScanRange(_ context.Context, ns string, min, max meta.Key, pattern meta.ShardKeyPattern) (cluster.RecordIterator, error) {
	a.mu.Lock()
	d := a.nsUnlocked(ns)
	d.pattern = pattern
	nsIdx := a.nsID[ns]
	type row struct {
		slot int
		key  meta.Key
	}
	rows := make([]row, 0, len(d.docs))
	for slot, doc := range d.docs {
		if doc == nil {
			continue
		}
		k := pattern.ExtractKey(doc)
		if k.Compare(min) >= 0 && k.Compare(max) < 0 {
			rows = append(rows, row{slot: slot, key: k})
		}
	}
	a.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i].key.Compare(rows[j].key) < 0 })

	locs := make([]cluster.RecordLocator, len(rows))
	for i, r := range rows {
		locs[i] = cluster.RecordLocator{Extent: nsIdx, Offset: uint64(r.slot)}
	}
	return &sliceIterator{locs: locs}, nil
}

type sliceIterator struct {
	locs []cluster.RecordLocator
	i    int
}

func (it *sliceIterator) Next() (cluster.RecordLocator, bool) {
	if it.i >= len(it.locs) {
		return cluster.RecordLocator{}, false
	}
	loc := it.locs[it.i]
	it.i++
	return loc, true
}

func (a *RecordAccessor) Resident(cluster.RecordLocator) bool { return true }

func (a *RecordAccessor) Touch(cluster.RecordLocator) error { return nil }

func (a *RecordAccessor) LoadAt(ns string, loc cluster.RecordLocator) (meta.Document, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	want, ok := a.nsID[ns]
	if !ok || want != loc.Extent {
		return nil, false, fmt.Errorf("storetest: loadAt: locator namespace mismatch for %s", ns)
	}
	d := a.nsUnlocked(ns)
	if int(loc.Offset) >= len(d.docs) {
		return nil, false, nil
	}
	doc := d.docs[loc.Offset]
	if doc == nil {
		return nil, false, nil
	}
	return doc, true, nil
}

func (a *RecordAccessor) LoadByID(ns string, id cluster.DocumentId) (meta.Document, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.nsUnlocked(ns)
	slot, ok := d.byID[id.Key]
	if !ok {
		return nil, false, nil
	}
	doc := d.docs[slot]
	if doc == nil {
		return nil, false, nil
	}
	return doc, true, nil
}

func (a *RecordAccessor) AvgObjSize(ns string) (avgSize int64, numRecords int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.nsUnlocked(ns)
	var total int64
	for _, doc := range d.docs {
		if doc == nil {
			continue
		}
		numRecords++
		for k, v := range doc {
			total += int64(len(k)) + int64(len(fmt.Sprint(v))) + 4
		}
	}
	if numRecords == 0 {
		return 0, 0
	}
	return total / numRecords, numRecords
}
