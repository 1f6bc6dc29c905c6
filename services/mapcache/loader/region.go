// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package loader brings remote tile data into the cache store: region
// loads with staleness control and ancestor backfill.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/hexcache/services/mapcache/events"
	"github.com/AleutianAI/hexcache/services/mapcache/remote"
	"github.com/AleutianAI/hexcache/services/mapcache/state"
	"github.com/AleutianAI/hexcache/services/mapcache/telemetry"
)

// defaultChildrenDepth is the fetch depth for subtree loads.
const defaultChildrenDepth = 2

// LoadResult is the outcome of a region load.
type LoadResult struct {
	// Success is true when the region is usable after the call,
	// including the no-op case where it was already fresh.
	Success bool

	// ItemsLoaded is how many tiles the upstream returned; zero when
	// no fetch was needed.
	ItemsLoaded int

	// Err carries the failure when Success is false.
	Err error
}

// RegionLoader decides whether a neighborhood needs fetching and merges
// fetched tiles into the store.
//
// # Description
//
// The staleness rule: a fetch is required iff no region metadata exists
// for the center, the metadata has outlived Config.MaxAge, or the
// previous load was shallower than requested. Fresh regions are served
// without I/O. Concurrent identical loads are collapsed into one
// upstream fetch via singleflight, so the idempotence guarantee holds
// under concurrency too.
//
// # Thread Safety
//
// Safe for concurrent use.
type RegionLoader struct {
	store   *state.Store
	source  remote.Source
	logger  *slog.Logger
	metrics *telemetry.Metrics
	bus     *events.Bus
	flight  singleflight.Group
}

// NewRegionLoader creates a loader. Logger may be nil (falls back to
// slog.Default()); metrics may be nil (no instrumentation).
func NewRegionLoader(store *state.Store, source remote.Source, logger *slog.Logger, metrics *telemetry.Metrics) *RegionLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegionLoader{store: store, source: source, logger: logger, metrics: metrics}
}

// WithBus attaches an event bus; every completed upstream fetch then
// broadcasts a region_loaded event. Returns the loader for chaining.
func (l *RegionLoader) WithBus(bus *events.Bus) *RegionLoader {
	l.bus = bus
	return l
}

// LoadRegion loads the neighborhood around a center coordinate.
//
// # Inputs
//
//   - ctx: Context for the upstream fetch.
//   - centerCoordID: Center of the region.
//   - maxDepth: Fetch depth; <= 0 uses the configured default.
//
// # Outputs
//
//   - LoadResult: Success with ItemsLoaded == 0 when the region was
//     already fresh (no I/O); failure with the store error set when the
//     upstream fetch failed.
func (l *RegionLoader) LoadRegion(ctx context.Context, centerCoordID string, maxDepth int) LoadResult {
	return l.load(ctx, "load", centerCoordID, maxDepth, true)
}

// LoadItemChildren loads the subtree below a parent coordinate. Same
// mechanism as LoadRegion, scoped to the subtree, default depth 2.
func (l *RegionLoader) LoadItemChildren(ctx context.Context, parentCoordID string, maxDepth int) LoadResult {
	if maxDepth <= 0 {
		maxDepth = defaultChildrenDepth
	}
	return l.load(ctx, "children", parentCoordID, maxDepth, true)
}

// PrefetchRegion warms the region without touching the loading flag and
// without propagating failure: errors are logged and reported as an
// unsuccessful result only. This is the one loader operation meant to
// run unattended.
func (l *RegionLoader) PrefetchRegion(ctx context.Context, centerCoordID string) LoadResult {
	res := l.load(ctx, "prefetch", centerCoordID, 0, false)
	if res.Err != nil {
		l.logger.Warn("region prefetch failed", "center", centerCoordID, "error", res.Err)
	}
	return res
}

func (l *RegionLoader) load(ctx context.Context, kind, centerCoordID string, maxDepth int, attended bool) LoadResult {
	if maxDepth <= 0 {
		maxDepth = l.store.Config().MaxDepth
	}
	if !l.store.NeedsFetch(centerCoordID, maxDepth) {
		l.count(kind, "hit")
		return LoadResult{Success: true}
	}

	key := fmt.Sprintf("%s|%d", centerCoordID, maxDepth)
	v, err, _ := l.flight.Do(key, func() (any, error) {
		// Re-check inside the flight: a concurrent call may have
		// refreshed the region while this one queued.
		if !l.store.NeedsFetch(centerCoordID, maxDepth) {
			return 0, nil
		}
		return l.fetch(ctx, centerCoordID, maxDepth, attended)
	})
	if err != nil {
		l.count(kind, "error")
		return LoadResult{Success: false, Err: err}
	}
	l.count(kind, "fetched")
	return LoadResult{Success: true, ItemsLoaded: v.(int)}
}

// fetch performs the upstream call and merge. When attended, the
// store-wide loading flag is held for the duration and released on
// every exit path.
func (l *RegionLoader) fetch(ctx context.Context, centerCoordID string, maxDepth int, attended bool) (int, error) {
	if attended {
		l.store.Dispatch(state.SetLoading{Loading: true})
		defer l.store.Dispatch(state.SetLoading{Loading: false})
	}

	start := time.Now()
	tiles, err := l.source.FetchItemsForCoordinate(ctx, remote.FetchRequest{
		CenterCoordID: centerCoordID,
		MaxDepth:      maxDepth,
	})
	if l.metrics != nil {
		l.metrics.RegionLoadDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if attended {
			l.store.Dispatch(state.SetError{Err: err})
		}
		return 0, fmt.Errorf("load region %s: %w", centerCoordID, err)
	}

	l.store.DispatchAll(
		state.MergeTiles{Tiles: tiles},
		state.MarkRegionLoaded{CenterID: centerCoordID, MaxDepth: maxDepth},
		state.SetError{Err: nil},
	)
	if l.metrics != nil {
		l.metrics.TilesMerged.WithLabelValues("region").Add(float64(len(tiles)))
	}
	if l.bus != nil {
		l.bus.Publish(events.Event{
			Type:   events.TypeRegionLoaded,
			Source: "loader",
			Payload: events.RegionPayload{
				CenterCoordID: centerCoordID,
				MaxDepth:      maxDepth,
				ItemsLoaded:   len(tiles),
			},
		})
	}
	l.logger.Debug("region loaded", "center", centerCoordID, "max_depth", maxDepth, "items", len(tiles))
	return len(tiles), nil
}

func (l *RegionLoader) count(kind, status string) {
	if l.metrics != nil {
		l.metrics.RegionLoadsTotal.WithLabelValues(kind, status).Inc()
	}
}
