// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package state

import (
	"github.com/AleutianAI/hexcache/services/mapcache/tile"
)

// Action is the closed set of store mutations.
//
// The unexported marker method seals the set to this package's variants,
// so the reducer can match exhaustively. Dispatching anything else is an
// architectural error and panics; it can only happen through type
// embedding abuse inside this module.
type Action interface {
	isAction()
}

// MergeTiles upserts tiles keyed by their own coordinate id
// (replace-by-key semantics, last write wins).
type MergeTiles struct {
	Tiles []tile.Tile
}

// RemoveTiles deletes the entries at the given coordinate ids.
// Missing keys are ignored.
type RemoveTiles struct {
	CoordIDs []string
}

// SetCenter moves the current center to the given coordinate id.
type SetCenter struct {
	CoordID string
}

// SetExpanded replaces the expanded-item set wholesale.
type SetExpanded struct {
	DBIDs []string
}

// ToggleExpanded flips one stable id in the expanded-item set.
type ToggleExpanded struct {
	DBID string
}

// SetLoading sets or clears the store-wide loading flag.
type SetLoading struct {
	Loading bool
}

// SetError records a store-level error. A nil Err clears it.
type SetError struct {
	Err error
}

// MarkRegionLoaded records region freshness for a center coordinate.
// LoadedAt is stamped by the store's clock at apply time.
type MarkRegionLoaded struct {
	CenterID string
	MaxDepth int
}

// InvalidateRegion drops the region metadata covering the given
// coordinate: the entry keyed by the coordinate itself plus every entry
// whose center is an ancestor of it. The next load refetches.
type InvalidateRegion struct {
	CoordID string
}

func (MergeTiles) isAction()       {}
func (RemoveTiles) isAction()      {}
func (SetCenter) isAction()        {}
func (SetExpanded) isAction()      {}
func (ToggleExpanded) isAction()   {}
func (SetLoading) isAction()       {}
func (SetError) isAction()         {}
func (MarkRegionLoaded) isAction() {}
func (InvalidateRegion) isAction() {}
