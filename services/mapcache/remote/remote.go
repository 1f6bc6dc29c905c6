// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package remote defines the remote data collaborator consumed by the
// map cache, plus two implementations: an HTTP JSON client for the real
// upstream and an in-memory backend for demos and tests.
//
// Retries and timeouts are the collaborator's concern. The cache core
// calls these interfaces once per operation and treats any returned
// error as a load or mutation failure.
package remote

import (
	"context"

	"github.com/AleutianAI/hexcache/services/mapcache/tile"
)

// FetchRequest asks for the neighborhood of a center coordinate.
type FetchRequest struct {
	// CenterCoordID is the coordinate at the middle of the region.
	CenterCoordID string `json:"center_coord_id"`

	// MaxDepth bounds how many generations below the center to return.
	MaxDepth int `json:"max_depth"`
}

// Fields is a partial tile-content update. Nil pointers leave the
// corresponding field untouched.
type Fields struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
	Preview *string `json:"preview,omitempty"`
	Link    *string `json:"link,omitempty"`
	Color   *string `json:"color,omitempty"`
}

// Apply overlays the set fields onto d.
func (f Fields) Apply(d *tile.Data) {
	if f.Title != nil {
		d.Title = *f.Title
	}
	if f.Content != nil {
		d.Content = *f.Content
	}
	if f.Preview != nil {
		d.Preview = *f.Preview
	}
	if f.Link != nil {
		d.Link = *f.Link
	}
	if f.Color != nil {
		d.Color = *f.Color
	}
}

// CreateRequest describes a new tile.
type CreateRequest struct {
	// CoordID is the coordinate the tile is placed at.
	CoordID string `json:"coord_id"`

	// ParentDBID is the stable id of the parent tile, empty for roots.
	ParentDBID string `json:"parent_db_id,omitempty"`

	// Fields is the initial content.
	Fields Fields `json:"fields"`
}

// MoveRequest relocates (or swaps) a tile.
type MoveRequest struct {
	SourceCoordID string `json:"source_coord_id"`
	TargetCoordID string `json:"target_coord_id"`
}

// MoveResult is the authoritative outcome of a move or swap: every
// tile the server relocated, re-addressed at its new coordinate.
type MoveResult struct {
	ModifiedTiles []tile.Tile `json:"modified_tiles"`
}

// Source is the read side of the remote collaborator.
//
// Lookups that find nothing return (nil, nil); errors are reserved for
// transport and server failures.
type Source interface {
	// FetchItemsForCoordinate returns the region around a center, the
	// center tile included, down to the requested depth.
	FetchItemsForCoordinate(ctx context.Context, req FetchRequest) ([]tile.Tile, error)

	// GetItemByCoordinate returns the tile currently addressed at the
	// coordinate, or nil when the slot is empty.
	GetItemByCoordinate(ctx context.Context, coordID string) (*tile.Tile, error)

	// GetRootItemByID resolves a tile by stable id. The id-based
	// lookup is what navigation uses, since coordinates are not
	// permanent across moves.
	GetRootItemByID(ctx context.Context, dbID string) (*tile.Tile, error)

	// GetDescendants returns every descendant of the tile with the
	// given stable id.
	GetDescendants(ctx context.Context, dbID string) ([]tile.Tile, error)

	// GetAncestors returns the parent chain of the tile with the given
	// stable id, nearest parent first.
	GetAncestors(ctx context.Context, dbID string) ([]tile.Tile, error)
}

// Mutator is the write side of the remote collaborator.
type Mutator interface {
	// CreateItem persists a new tile and returns the authoritative
	// copy, stable id assigned.
	CreateItem(ctx context.Context, req CreateRequest) (*tile.Tile, error)

	// UpdateItem applies a partial content update and returns the
	// authoritative tile.
	UpdateItem(ctx context.Context, coordID string, fields Fields) (*tile.Tile, error)

	// DeleteItem removes the tile at the coordinate.
	DeleteItem(ctx context.Context, coordID string) error

	// MoveItem relocates source to target, swapping when target is
	// occupied, and returns every tile the server re-addressed.
	MoveItem(ctx context.Context, req MoveRequest) (MoveResult, error)
}

// API is the full remote collaborator surface.
type API interface {
	Source
	Mutator
}
