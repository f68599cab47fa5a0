// Package xreg is the single-active-instance registry the donor and
// recipient groups renew themselves against. The teacher (aistore's
// xact/xreg) keeps this as a process-wide global; spec.md §9 Design Note
// "Global donor singleton" asks for exactly the opposite — an explicit,
// injectable collaborator so unit tests can run multiple donor/recipient
// instances side by side without fighting over package-level state. Every
// *Registry here is a plain value a test can construct fresh.
/*
 * Copyright (c) 2018-2026 The ShardKit Authors.
 */
package xreg

import (
	"fmt"
	"sync"
)

// Renewable is anything that can occupy a Registry's single active slot.
type Renewable interface {
	UUID() string
	Kind() string
}

// Registry enforces "at most one active Renewable at a time" (spec.md §3
// invariant D1, "single active donor"). It is intentionally tiny: donor and
// recipient groups each own one.
type Registry struct {
	mu     sync.Mutex
	active Renewable
}

// New constructs a fresh, empty registry.
func New() *Registry { return &Registry{} }

// TryActivate installs rn as the active entry, or refuses with the entry
// already occupying the slot.
func (r *Registry) TryActivate(rn Renewable) (prev Renewable, busy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return r.active, true
	}
	r.active = rn
	return nil, false
}

// Active returns the current occupant, if any.
func (r *Registry) Active() (Renewable, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.active != nil
}

// Clear vacates the slot, provided uuid matches the current occupant (a
// stale done() call from an already-superseded session is a no-op).
func (r *Registry) Clear(uuid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil && r.active.UUID() == uuid {
		r.active = nil
	}
}

// ErrBusy is returned by callers that surface TryActivate's refusal as an
// error (spec.md §6 moveChunk contention taxonomy).
func ErrBusy(rn Renewable) error {
	return fmt.Errorf("migration %s (%s) already active", rn.UUID(), rn.Kind())
}
