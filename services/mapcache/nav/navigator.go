// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package nav implements the navigation coordinator: resolving a stable
// id to a coordinate, pruning the expansion window, updating center and
// URL, and kicking off background prefetch and ancestor backfill.
package nav

import (
	"context"
	"log/slog"
	"slices"

	"github.com/AleutianAI/hexcache/services/mapcache/coord"
	"github.com/AleutianAI/hexcache/services/mapcache/events"
	"github.com/AleutianAI/hexcache/services/mapcache/loader"
	"github.com/AleutianAI/hexcache/services/mapcache/remote"
	"github.com/AleutianAI/hexcache/services/mapcache/state"
	"github.com/AleutianAI/hexcache/services/mapcache/task"
	"github.com/AleutianAI/hexcache/services/mapcache/telemetry"
	"github.com/AleutianAI/hexcache/services/mapcache/tile"
)

// Options control a navigation.
type Options struct {
	// PushToHistory selects a history push over a replace for the URL
	// write.
	PushToHistory bool
}

// DefaultOptions pushes to history.
func DefaultOptions() Options {
	return Options{PushToHistory: true}
}

// Result is the accumulated outcome of a navigation.
type Result struct {
	Success       bool
	CenterUpdated bool
	URLUpdated    bool
	Err           error
}

// Navigator coordinates navigation against the cache store.
//
// # Description
//
// NavigateToItem runs the navigation state machine: resolve the target
// by stable id (falling back to a remote lookup when configured), prune
// the expansion window, move the center, write the URL, emit the
// navigation event, and spawn background prefetch and ancestor backfill
// as needed. Background work is fire-and-forget; its failures are
// logged by the spawner and never surface here.
//
// # Thread Safety
//
// Safe for concurrent use; all state lives in the injected store.
type Navigator struct {
	store     *state.Store
	regions   *loader.RegionLoader
	ancestors *loader.AncestorLoader
	source    remote.Source // optional remote-lookup collaborator
	bus       *events.Bus
	history   History
	tasks     *task.Spawner
	logger    *slog.Logger
	metrics   *telemetry.Metrics
}

// NavigatorConfig bundles the collaborators for NewNavigator.
type NavigatorConfig struct {
	Store     *state.Store
	Regions   *loader.RegionLoader
	Ancestors *loader.AncestorLoader
	Source    remote.Source // may be nil: navigation then resolves cached items only
	Bus       *events.Bus
	History   History
	Tasks     *task.Spawner
	Logger    *slog.Logger
	Metrics   *telemetry.Metrics
}

// NewNavigator creates a navigator. Logger may be nil.
func NewNavigator(cfg NavigatorConfig) *Navigator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Navigator{
		store:     cfg.Store,
		regions:   cfg.Regions,
		ancestors: cfg.Ancestors,
		source:    cfg.Source,
		bus:       cfg.Bus,
		history:   cfg.History,
		tasks:     cfg.Tasks,
		logger:    logger,
		metrics:   cfg.Metrics,
	}
}

// NavigateToItem navigates to the tile with the given stable id.
//
// # Inputs
//
//   - ctx: Context for the synchronous resolution step. Background
//     work detaches from its cancellation.
//   - itemID: Stable id of the target tile.
//   - opts: History behavior; use DefaultOptions() for a push.
//
// # Outputs
//
//   - Result: Success=false leaves center, URL and expansion untouched.
func (n *Navigator) NavigateToItem(ctx context.Context, itemID string, opts Options) Result {
	target, ok := n.store.ItemByDBID(itemID)
	if !ok {
		target, ok = n.resolveRemote(ctx, itemID)
	}
	if !ok {
		n.countNavigation("not_found")
		n.logger.Debug("navigation target not resolvable", "item_id", itemID)
		return Result{Success: false}
	}

	coordID := target.Metadata.CoordID
	from := n.store.Center()

	n.pruneExpansion(target)
	n.store.Dispatch(state.SetCenter{CoordID: coordID})
	n.writeURL(opts.PushToHistory)

	if from != coordID {
		n.publish(events.Event{
			Type:   events.TypeNavigation,
			Source: "navigation",
			Payload: events.NavigationPayload{
				FromCenterID: from,
				ToCenterID:   coordID,
				ToCenterName: target.Data.Title,
			},
		})
	}

	// Warm the region and backfill ancestors off the request path. The
	// background context detaches so an abandoned caller does not
	// cancel the warm-up.
	bg := context.WithoutCancel(ctx)
	if _, loaded := n.store.Region(coordID); !loaded {
		n.tasks.Spawn(bg, "region_prefetch", func(ctx context.Context) error {
			n.regions.PrefetchRegion(ctx, coordID)
			return nil
		})
	}
	if target.Metadata.Depth > 0 && n.source != nil {
		if check := loader.CheckAncestors(coordID, n.store.Has); !check.HasAllAncestors {
			n.tasks.Spawn(bg, "ancestor_backfill", func(ctx context.Context) error {
				return n.ancestors.LoadAncestorsForItem(ctx, itemID, n.source, "navigation")
			})
		}
	}

	n.countNavigation("ok")
	return Result{Success: true, CenterUpdated: true, URLUpdated: true}
}

// resolveRemote looks the item up by stable id at the upstream and
// merges the result. Lookup failures resolve to "not found"; the
// navigation as a whole then fails without mutating anything.
func (n *Navigator) resolveRemote(ctx context.Context, itemID string) (tile.Tile, bool) {
	if n.source == nil {
		return tile.Tile{}, false
	}
	fetched, err := n.source.GetRootItemByID(ctx, itemID)
	if err != nil {
		n.logger.Warn("remote item lookup failed", "item_id", itemID, "error", err)
		return tile.Tile{}, false
	}
	if fetched == nil {
		return tile.Tile{}, false
	}
	n.store.Dispatch(state.MergeTiles{Tiles: []tile.Tile{*fetched}})
	if n.metrics != nil {
		n.metrics.TilesMerged.WithLabelValues("navigation").Inc()
	}
	return *fetched, true
}

// pruneExpansion drops every expanded id outside the new center's
// window: the center itself, its direct (one generation) descendants,
// and its ancestors at any distance. The store is only touched when the
// set actually changed.
func (n *Navigator) pruneExpansion(center tile.Tile) {
	current := n.store.Expanded()
	centerCoord := center.Metadata.Coord

	keep := make([]string, 0, len(current))
	for _, dbID := range current {
		if dbID == center.Metadata.DBID {
			keep = append(keep, dbID)
			continue
		}
		item, ok := n.store.ItemByDBID(dbID)
		if !ok {
			continue
		}
		c := item.Metadata.Coord
		if coord.IsDescendant(c, centerCoord) && c.Depth() == centerCoord.Depth()+1 {
			keep = append(keep, dbID)
			continue
		}
		if coord.IsAncestor(c, centerCoord) {
			keep = append(keep, dbID)
		}
	}

	if !slices.Equal(keep, current) {
		n.store.Dispatch(state.SetExpanded{DBIDs: keep})
	}
}

// UpdateCenter sets the center directly, with no pruning, URL write or
// background work.
func (n *Navigator) UpdateCenter(coordID string) {
	n.store.Dispatch(state.SetCenter{CoordID: coordID})
}

// NavigateWithoutURL loads the region around a coordinate and sets the
// center, skipping the URL write entirely.
func (n *Navigator) NavigateWithoutURL(ctx context.Context, coordID string) Result {
	res := n.regions.LoadRegion(ctx, coordID, 0)
	if !res.Success {
		n.countNavigation("not_found")
		return Result{Success: false, Err: res.Err}
	}
	n.store.Dispatch(state.SetCenter{CoordID: coordID})
	n.countNavigation("ok")
	return Result{Success: true, CenterUpdated: true}
}

// ToggleItemExpansionWithURL flips one stable id in the expansion set
// and rewrites the URL in place.
func (n *Navigator) ToggleItemExpansionWithURL(dbID string) {
	n.store.Dispatch(state.ToggleExpanded{DBID: dbID})
	n.writeURL(false)
}

// SyncURLWithState rewrites the URL from the current center and
// expansion set without changing any state.
func (n *Navigator) SyncURLWithState() {
	n.writeURL(false)
}

func (n *Navigator) writeURL(push bool) {
	u := EncodeURL(n.store.Center(), n.store.Expanded())
	if push {
		n.history.Push(u)
	} else {
		n.history.Replace(u)
	}
}

func (n *Navigator) publish(e events.Event) {
	if n.bus == nil {
		return
	}
	n.bus.Publish(e)
	if n.metrics != nil {
		n.metrics.EventsPublished.WithLabelValues(string(e.Type)).Inc()
	}
}

func (n *Navigator) countNavigation(status string) {
	if n.metrics != nil {
		n.metrics.NavigationsTotal.WithLabelValues(status).Inc()
	}
}
