// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package loader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/hexcache/services/mapcache/coord"
	"github.com/AleutianAI/hexcache/services/mapcache/remote"
	"github.com/AleutianAI/hexcache/services/mapcache/state"
	"github.com/AleutianAI/hexcache/services/mapcache/telemetry"
	"github.com/AleutianAI/hexcache/services/mapcache/tile"
)

// AncestorCheck reports which parent-chain entries are missing for a
// coordinate.
type AncestorCheck struct {
	// HasAllAncestors is true when every level up to the root is
	// present. Roots trivially have all ancestors.
	HasAllAncestors bool

	// MissingLevels lists the absent ancestor coordinate ids, nearest
	// parent first.
	MissingLevels []string
}

// CheckAncestors walks the parent chain of coordID and tests each level
// against has. A malformed or root coordinate trivially has all
// ancestors.
func CheckAncestors(coordID string, has func(coordID string) bool) AncestorCheck {
	var missing []string
	cur := coordID
	for {
		parent, ok := coord.ParentID(cur)
		if !ok {
			break
		}
		if !has(parent) {
			missing = append(missing, parent)
		}
		cur = parent
	}
	return AncestorCheck{HasAllAncestors: len(missing) == 0, MissingLevels: missing}
}

// HasInTiles adapts a tile slice to the membership test CheckAncestors
// expects. Used when the candidate set is a fetch result rather than
// the store.
func HasInTiles(tiles []tile.Tile) func(coordID string) bool {
	keys := make(map[string]struct{}, len(tiles))
	for _, t := range tiles {
		keys[t.Metadata.CoordID] = struct{}{}
	}
	return func(coordID string) bool {
		_, ok := keys[coordID]
		return ok
	}
}

// AncestorLoader backfills missing parent-chain tiles.
//
// Chains are fetched by stable id, not coordinate: coordinates are not
// permanent across moves, stable ids are.
type AncestorLoader struct {
	store   *state.Store
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// NewAncestorLoader creates a loader. Logger may be nil; metrics may be
// nil.
func NewAncestorLoader(store *state.Store, logger *slog.Logger, metrics *telemetry.Metrics) *AncestorLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &AncestorLoader{store: store, logger: logger, metrics: metrics}
}

// LoadAncestorsForItem fetches the ancestor chain of the tile with the
// given stable id and merges it into the store in one batch.
//
// Backfill never fails the operation that triggered it; callers run
// this through the background spawner, which logs the returned error.
// sourceName labels the triggering component in logs.
func (l *AncestorLoader) LoadAncestorsForItem(ctx context.Context, dbID string, source remote.Source, sourceName string) error {
	ancestors, err := source.GetAncestors(ctx, dbID)
	if err != nil {
		return fmt.Errorf("ancestor backfill for %s (via %s): %w", dbID, sourceName, err)
	}
	if len(ancestors) == 0 {
		return nil
	}

	l.store.Dispatch(state.MergeTiles{Tiles: ancestors})
	if l.metrics != nil {
		l.metrics.TilesMerged.WithLabelValues("ancestor").Add(float64(len(ancestors)))
	}
	l.logger.Debug("ancestors backfilled", "db_id", dbID, "levels", len(ancestors), "source", sourceName)
	return nil
}
