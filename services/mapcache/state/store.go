// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package state implements the normalized cache store for map tiles.
//
// The store is the single serialization point for the cache: every
// write goes through Dispatch as one of a closed set of Action variants
// and is applied under one mutex, so concurrent writers can clobber each
// other's values (last write wins) but can never interleave at the
// data-structure level.
//
// Alongside the flat tile map the store maintains two incremental
// indexes: stable id -> coordinate id, and parent -> direct children.
// The children index keeps swap relocation from scanning the whole map.
//
// # Thread Safety
//
// Store is safe for concurrent use. Read accessors return copies;
// callers never observe a partially applied action.
package state

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/hexcache/services/mapcache/coord"
	"github.com/AleutianAI/hexcache/services/mapcache/tile"
)

// Config are the cache tuning knobs.
type Config struct {
	// MaxAge is how long region metadata stays fresh. A region older
	// than this is refetched on the next load.
	MaxAge time.Duration

	// MaxDepth is the default fetch depth for region loads.
	MaxDepth int

	// BackgroundRefreshInterval drives the optional warm-up loop in the
	// service layer. Zero disables it.
	BackgroundRefreshInterval time.Duration
}

// DefaultConfig returns the production cache configuration.
func DefaultConfig() Config {
	return Config{
		MaxAge:                    5 * time.Minute,
		MaxDepth:                  3,
		BackgroundRefreshInterval: 30 * time.Second,
	}
}

// RegionMeta records when and how deep a region was last fetched.
type RegionMeta struct {
	LoadedAt time.Time
	MaxDepth int
}

// Store is the normalized cache state.
type Store struct {
	mu       sync.RWMutex
	items    map[string]tile.Tile
	regions  map[string]RegionMeta
	byDB     map[string]string              // stable id -> coordinate id
	children map[string]map[string]struct{} // parent coord id -> child coord ids
	center   string
	expanded []string // stable ids, insertion-ordered
	loading  bool
	err      error
	cfg      Config
	now      func() time.Time
}

// Option customizes a Store at construction time.
type Option func(*Store)

// WithClock overrides the store's time source. Tests use this to pin
// region freshness.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store with the given configuration.
func New(cfg Config, opts ...Option) *Store {
	s := &Store{
		items:    make(map[string]tile.Tile),
		regions:  make(map[string]RegionMeta),
		byDB:     make(map[string]string),
		children: make(map[string]map[string]struct{}),
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dispatch applies one action under the store lock.
//
// This is the only write path into the store; loaders, the navigation
// coordinator and the mutation coordinator all merge through it.
func (s *Store) Dispatch(a Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(a)
}

// DispatchAll applies several actions atomically with respect to
// readers, i.e. under one lock acquisition.
func (s *Store) DispatchAll(actions ...Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range actions {
		s.apply(a)
	}
}

// apply is the single reduction function over the closed action set.
func (s *Store) apply(a Action) {
	switch act := a.(type) {
	case MergeTiles:
		for _, t := range act.Tiles {
			s.merge(t)
		}
	case RemoveTiles:
		for _, id := range act.CoordIDs {
			s.remove(id)
		}
	case SetCenter:
		s.center = act.CoordID
	case SetExpanded:
		s.expanded = append([]string(nil), act.DBIDs...)
	case ToggleExpanded:
		s.toggleExpanded(act.DBID)
	case SetLoading:
		s.loading = act.Loading
	case SetError:
		s.err = act.Err
	case MarkRegionLoaded:
		s.regions[act.CenterID] = RegionMeta{LoadedAt: s.now(), MaxDepth: act.MaxDepth}
	case InvalidateRegion:
		s.invalidateRegion(act.CoordID)
	default:
		// Unreachable without deliberate misuse; the action set is
		// sealed to this package.
		panic(fmt.Sprintf("state: architectural error: unknown action type %T", a))
	}
}

func (s *Store) merge(t tile.Tile) {
	key := t.Metadata.CoordID
	if key == "" {
		return
	}
	if prev, ok := s.items[key]; ok && prev.Metadata.DBID != t.Metadata.DBID {
		if s.byDB[prev.Metadata.DBID] == key {
			delete(s.byDB, prev.Metadata.DBID)
		}
	}
	s.items[key] = t
	s.byDB[t.Metadata.DBID] = key
	if parent, ok := coord.ParentID(key); ok {
		kids := s.children[parent]
		if kids == nil {
			kids = make(map[string]struct{})
			s.children[parent] = kids
		}
		kids[key] = struct{}{}
	}
}

func (s *Store) remove(key string) {
	t, ok := s.items[key]
	if !ok {
		return
	}
	delete(s.items, key)
	if s.byDB[t.Metadata.DBID] == key {
		delete(s.byDB, t.Metadata.DBID)
	}
	if parent, ok := coord.ParentID(key); ok {
		if kids := s.children[parent]; kids != nil {
			delete(kids, key)
			if len(kids) == 0 {
				delete(s.children, parent)
			}
		}
	}
}

func (s *Store) toggleExpanded(dbID string) {
	for i, id := range s.expanded {
		if id == dbID {
			s.expanded = append(s.expanded[:i:i], s.expanded[i+1:]...)
			return
		}
	}
	s.expanded = append(s.expanded, dbID)
}

func (s *Store) invalidateRegion(coordID string) {
	delete(s.regions, coordID)
	for center := range s.regions {
		if coord.IsAncestorID(center, coordID) {
			delete(s.regions, center)
		}
	}
}

// -----------------------------------------------------------------------------
// Read accessors
// -----------------------------------------------------------------------------

// Item returns the tile stored at the given coordinate id.
func (s *Store) Item(coordID string) (tile.Tile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.items[coordID]
	return t, ok
}

// ItemByDBID returns the tile with the given stable id, wherever it is
// currently addressed.
func (s *Store) ItemByDBID(dbID string) (tile.Tile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byDB[dbID]
	if !ok {
		return tile.Tile{}, false
	}
	t, ok := s.items[key]
	return t, ok
}

// Has reports whether a tile exists at the coordinate id.
func (s *Store) Has(coordID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[coordID]
	return ok
}

// Items returns a copy of every cached tile, in no particular order.
func (s *Store) Items() []tile.Tile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tile.Tile, 0, len(s.items))
	for _, t := range s.items {
		out = append(out, t)
	}
	return out
}

// Len returns the number of cached tiles.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// ChildIDs returns the coordinate ids of the direct children of the
// given coordinate, sorted for deterministic iteration.
func (s *Store) ChildIDs(coordID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kids := s.children[coordID]
	out := make([]string, 0, len(kids))
	for id := range kids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// DescendantIDs returns the coordinate ids of every cached descendant
// of the given coordinate, walking the children index breadth-first.
func (s *Store) DescendantIDs(coordID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	queue := []string{coordID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		kids := s.children[cur]
		ids := make([]string, 0, len(kids))
		for id := range kids {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out = append(out, ids...)
		queue = append(queue, ids...)
	}
	return out
}

// Region returns the freshness metadata for a center coordinate.
func (s *Store) Region(centerID string) (RegionMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.regions[centerID]
	return m, ok
}

// NeedsFetch applies the staleness rule for a region load: fetch when
// no metadata exists, the metadata has aged out, or the previous load
// was shallower than requested.
func (s *Store) NeedsFetch(centerID string, maxDepth int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.regions[centerID]
	if !ok {
		return true
	}
	if s.now().Sub(m.LoadedAt) > s.cfg.MaxAge {
		return true
	}
	return m.MaxDepth < maxDepth
}

// Center returns the current center coordinate id, empty when unset.
func (s *Store) Center() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.center
}

// Expanded returns a copy of the expanded stable-id set in insertion
// order.
func (s *Store) Expanded() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.expanded...)
}

// IsLoading reports the store-wide loading flag.
func (s *Store) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Err returns the last store-level error, nil when healthy.
func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Config returns the cache configuration.
func (s *Store) Config() Config {
	return s.cfg
}
