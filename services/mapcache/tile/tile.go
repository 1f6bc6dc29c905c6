// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tile defines the tile data model shared by the map cache
// components.
//
// A tile is the unit stored in the cache: user-visible content plus
// addressing metadata plus transient UI state. The coordinate id is the
// cache key and changes when a tile moves; the database id is stable
// for the lifetime of the tile and survives moves and swaps.
package tile

import (
	"github.com/AleutianAI/hexcache/services/mapcache/coord"
)

// Data is the user-editable content of a tile.
type Data struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Preview string `json:"preview"`
	Link    string `json:"link"`
	Color   string `json:"color"`
}

// Metadata is the addressing and provenance information for a tile.
type Metadata struct {
	// CoordID is the current coordinate address. It is the cache key
	// and MUST equal Coord.ID() at all times.
	CoordID string `json:"coord_id"`

	// DBID is the stable database identifier. It never changes, even
	// when the tile is relocated by a move or swap.
	DBID string `json:"db_id"`

	// Depth is len(Coord.Path), cached for cheap window checks.
	Depth int `json:"depth"`

	// ParentDBID is the stable id of the parent tile, empty for roots.
	ParentDBID string `json:"parent_db_id,omitempty"`

	// Coord is the parsed coordinate.
	Coord coord.Coord `json:"coord"`

	// OwnerID identifies the map owner.
	OwnerID int `json:"owner_id"`
}

// State is transient UI state. It is never persisted and is preserved
// across authoritative merges only when the server copy carries none.
type State struct {
	IsSelected bool `json:"is_selected,omitempty"`
	IsExpanded bool `json:"is_expanded,omitempty"`
	IsHovered  bool `json:"is_hovered,omitempty"`
}

// Tile is one cached map tile.
type Tile struct {
	Data     Data     `json:"data"`
	Metadata Metadata `json:"metadata"`
	State    State    `json:"state"`
}

// New builds a tile addressed at c with the given stable id and content.
//
// Depth, CoordID and OwnerID are derived from c; ParentDBID is left for
// the caller, which knows whether the parent is cached.
func New(c coord.Coord, dbID string, data Data) Tile {
	return Tile{
		Data: data,
		Metadata: Metadata{
			CoordID: c.ID(),
			DBID:    dbID,
			Depth:   c.Depth(),
			Coord:   c,
			OwnerID: c.OwnerID,
		},
	}
}

// Relocate returns a copy of t re-addressed at c.
//
// Data, State, DBID and ParentDBID are carried over unchanged; every
// coordinate-derived field is recomputed. The receiver is not modified.
func (t Tile) Relocate(c coord.Coord) Tile {
	moved := t
	moved.Metadata.CoordID = c.ID()
	moved.Metadata.Depth = c.Depth()
	moved.Metadata.Coord = c
	moved.Metadata.OwnerID = c.OwnerID
	return moved
}

// CoordID returns the tile's current coordinate id.
func (t Tile) CoordID() string {
	return t.Metadata.CoordID
}

// DBID returns the tile's stable database id.
func (t Tile) DBID() string {
	return t.Metadata.DBID
}
