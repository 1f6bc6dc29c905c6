// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tracker keeps the in-flight optimistic changes for one
// mutation coordinator.
//
// A Tracker instance is injected into its coordinator and lives exactly
// as long as it does; nothing here is process-global or persisted.
// Entries appear at optimistic-apply time and disappear at finalize or
// rollback.
//
// # Thread Safety
//
// Tracker is safe for concurrent use.
package tracker

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/hexcache/services/mapcache/tile"
)

// ChangeType classifies an optimistic change.
type ChangeType string

const (
	// ChangeCreate is an optimistic create (a temporary tile exists).
	ChangeCreate ChangeType = "create"

	// ChangeUpdate is an optimistic in-place edit.
	ChangeUpdate ChangeType = "update"

	// ChangeDelete is an optimistic removal.
	ChangeDelete ChangeType = "delete"
)

// Change is one tracked optimistic change.
type Change struct {
	// ID is the unique change token, from NewChangeID.
	ID string

	// Type classifies the change.
	Type ChangeType

	// CoordID is the primary coordinate the change applies to.
	CoordID string

	// Previous is the pre-mutation snapshot, when one exists. Nil for
	// creates, which have nothing to restore.
	Previous *tile.Tile

	// TrackedAt is when the optimistic apply happened.
	TrackedAt time.Time
}

// Tracker is a keyed store of in-flight changes.
type Tracker struct {
	mu      sync.RWMutex
	changes map[string]Change
	order   []string
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{changes: make(map[string]Change)}
}

// NewChangeID returns a token unique for the process lifetime.
func (t *Tracker) NewChangeID() string {
	return uuid.NewString()
}

// Track records a change under its id, overwriting any previous entry
// with the same id. At most one entry exists per id.
func (t *Tracker) Track(c Change) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c.TrackedAt.IsZero() {
		c.TrackedAt = time.Now()
	}
	if _, exists := t.changes[c.ID]; !exists {
		t.order = append(t.order, c.ID)
	}
	t.changes[c.ID] = c
}

// Get returns the change for id.
func (t *Tracker) Get(id string) (Change, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.changes[id]
	return c, ok
}

// Remove drops the change for id. Unknown ids are a no-op.
func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.changes[id]; !ok {
		return
	}
	delete(t.changes, id)
	for i, existing := range t.order {
		if existing == id {
			t.order = append(t.order[:i:i], t.order[i+1:]...)
			break
		}
	}
}

// All returns the tracked changes in apply order. The pending-changes
// indicator in the UI feeds from this.
func (t *Tracker) All() []Change {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Change, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.changes[id])
	}
	return out
}

// Len returns the number of in-flight changes.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.changes)
}
