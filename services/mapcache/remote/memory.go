// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package remote

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/AleutianAI/hexcache/services/mapcache/coord"
	"github.com/AleutianAI/hexcache/services/mapcache/tile"
)

// Memory is an in-memory implementation of API.
//
// # Description
//
// Memory models the upstream data service authoritatively: it owns a
// flat tile table keyed by coordinate and performs full-subtree
// relocation on moves and swaps. The CLI demo mode runs against it, and
// tests use it as a deterministic upstream with failure injection.
//
// # Thread Safety
//
// Safe for concurrent use.
type Memory struct {
	mu         sync.Mutex
	items      map[string]tile.Tile
	fetchCalls int
	failNext   error
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]tile.Tile)}
}

// Seed inserts tiles directly, bypassing the API. Tiles without a
// stable id get one assigned.
func (m *Memory) Seed(tiles ...tile.Tile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tiles {
		if t.Metadata.DBID == "" {
			t.Metadata.DBID = uuid.NewString()
		}
		m.items[t.Metadata.CoordID] = t
	}
}

// FailNextCall makes the next API call return err, then clears.
func (m *Memory) FailNextCall(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

// FetchCalls returns how many region fetches were served.
func (m *Memory) FetchCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCalls
}

// takeFailure consumes the injected failure, if any. Caller holds mu.
func (m *Memory) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

// FetchItemsForCoordinate implements Source.
func (m *Memory) FetchItemsForCoordinate(_ context.Context, req FetchRequest) ([]tile.Tile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	m.fetchCalls++

	center, err := coord.Parse(req.CenterCoordID)
	if err != nil {
		return nil, err
	}
	var out []tile.Tile
	for _, t := range m.items {
		if t.Metadata.CoordID == req.CenterCoordID {
			out = append(out, t)
			continue
		}
		if coord.IsDescendant(t.Metadata.Coord, center) &&
			t.Metadata.Depth-center.Depth() <= req.MaxDepth {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetItemByCoordinate implements Source.
func (m *Memory) GetItemByCoordinate(_ context.Context, coordID string) (*tile.Tile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	if t, ok := m.items[coordID]; ok {
		return &t, nil
	}
	return nil, nil
}

// GetRootItemByID implements Source.
func (m *Memory) GetRootItemByID(_ context.Context, dbID string) (*tile.Tile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	if t, ok := m.lookupByDBID(dbID); ok {
		return &t, nil
	}
	return nil, nil
}

// GetDescendants implements Source.
func (m *Memory) GetDescendants(_ context.Context, dbID string) ([]tile.Tile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	root, ok := m.lookupByDBID(dbID)
	if !ok {
		return nil, nil
	}
	var out []tile.Tile
	for _, t := range m.items {
		if coord.IsDescendant(t.Metadata.Coord, root.Metadata.Coord) {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetAncestors implements Source.
func (m *Memory) GetAncestors(_ context.Context, dbID string) ([]tile.Tile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	t, ok := m.lookupByDBID(dbID)
	if !ok {
		return nil, nil
	}
	var out []tile.Tile
	c := t.Metadata.Coord
	for {
		parent, hasParent := c.Parent()
		if !hasParent {
			break
		}
		if p, exists := m.items[parent.ID()]; exists {
			out = append(out, p)
		}
		c = parent
	}
	return out, nil
}

// CreateItem implements Mutator.
func (m *Memory) CreateItem(_ context.Context, req CreateRequest) (*tile.Tile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	c, err := coord.Parse(req.CoordID)
	if err != nil {
		return nil, err
	}
	var data tile.Data
	req.Fields.Apply(&data)
	t := tile.New(c, uuid.NewString(), data)
	t.Metadata.ParentDBID = req.ParentDBID
	if t.Metadata.ParentDBID == "" {
		if parent, ok := c.Parent(); ok {
			if p, exists := m.items[parent.ID()]; exists {
				t.Metadata.ParentDBID = p.Metadata.DBID
			}
		}
	}
	m.items[t.Metadata.CoordID] = t
	return &t, nil
}

// UpdateItem implements Mutator.
func (m *Memory) UpdateItem(_ context.Context, coordID string, fields Fields) (*tile.Tile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	t, ok := m.items[coordID]
	if !ok {
		return nil, ErrNotFound
	}
	fields.Apply(&t.Data)
	m.items[coordID] = t
	return &t, nil
}

// DeleteItem implements Mutator. The subtree below the tile goes with
// it, matching upstream cascade semantics.
func (m *Memory) DeleteItem(_ context.Context, coordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	t, ok := m.items[coordID]
	if !ok {
		return ErrNotFound
	}
	delete(m.items, coordID)
	for key, other := range m.items {
		if coord.IsDescendant(other.Metadata.Coord, t.Metadata.Coord) {
			delete(m.items, key)
		}
	}
	return nil
}

// MoveItem implements Mutator.
//
// The server relocates whole subtrees: on a swap both subtrees trade
// places down to every descendant, unlike the cache's optimistic
// one-generation relocation. The returned MoveResult is the
// authoritative set the cache merges on success.
func (m *Memory) MoveItem(_ context.Context, req MoveRequest) (MoveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return MoveResult{}, err
	}
	source, ok := m.items[req.SourceCoordID]
	if !ok {
		return MoveResult{}, ErrNotFound
	}
	sourceCoord := source.Metadata.Coord
	targetCoord, err := coord.Parse(req.TargetCoordID)
	if err != nil {
		return MoveResult{}, err
	}

	_, isSwap := m.items[req.TargetCoordID]

	sourceTree := m.takeSubtree(sourceCoord)
	var targetTree []tile.Tile
	if isSwap {
		targetTree = m.takeSubtree(targetCoord)
	}

	var modified []tile.Tile
	modified = append(modified, m.placeSubtree(sourceTree, sourceCoord, targetCoord)...)
	if isSwap {
		modified = append(modified, m.placeSubtree(targetTree, targetCoord, sourceCoord)...)
	}
	return MoveResult{ModifiedTiles: modified}, nil
}

// lookupByDBID scans for a tile by stable id. Caller holds mu.
func (m *Memory) lookupByDBID(dbID string) (tile.Tile, bool) {
	for _, t := range m.items {
		if t.Metadata.DBID == dbID {
			return t, true
		}
	}
	return tile.Tile{}, false
}

// takeSubtree removes and returns the tile at root plus all its
// descendants. Caller holds mu.
func (m *Memory) takeSubtree(root coord.Coord) []tile.Tile {
	var out []tile.Tile
	for key, t := range m.items {
		if t.Metadata.CoordID == root.ID() || coord.IsDescendant(t.Metadata.Coord, root) {
			out = append(out, t)
			delete(m.items, key)
		}
	}
	return out
}

// placeSubtree re-addresses a removed subtree from oldRoot to newRoot
// and reinserts it. Caller holds mu.
func (m *Memory) placeSubtree(tiles []tile.Tile, oldRoot, newRoot coord.Coord) []tile.Tile {
	var out []tile.Tile
	for _, t := range tiles {
		suffix := t.Metadata.Coord.Path[len(oldRoot.Path):]
		c := newRoot
		for _, d := range suffix {
			c = c.Child(d)
		}
		moved := t.Relocate(c)
		m.items[moved.Metadata.CoordID] = moved
		out = append(out, moved)
	}
	return out
}
