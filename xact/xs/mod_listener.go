package xs

import (
	"github.com/shardkit/migrate/cluster"
	"github.com/shardkit/migrate/meta"
)

// ModCaptureListener adapts a DonorGroup to cluster.ModListener, the
// registered-listener replacement for the teacher's inline mod-capture hook
// (spec.md §9 Design Note). A storage engine holds one of these - not a
// *DonorGroup directly - so capture dispatch never depends on the donor
// package's concrete type.
type ModCaptureListener struct {
	group *DonorGroup
}

// NewModCaptureListener wraps group as a cluster.ModListener.
func NewModCaptureListener(group *DonorGroup) *ModCaptureListener {
	return &ModCaptureListener{group: group}
}

var _ cluster.ModListener = (*ModCaptureListener)(nil)

func (l *ModCaptureListener) OnMod(kind cluster.OpKind, ns string, obj meta.Document, idPattern meta.Key, notInActiveChunk bool) {
	l.group.LogMod(kind, ns, obj, idPattern, notInActiveChunk)
}

func (l *ModCaptureListener) OnAboutToDelete(ns string, loc cluster.RecordLocator) {
	l.group.AboutToDelete(ns, loc)
}
