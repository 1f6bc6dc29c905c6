// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mutation orchestrates optimistic tile writes.
//
// Every mutation follows the same protocol: apply the change to the
// local store first, call the remote mutation API, then finalize on
// success or roll the store back to its pre-apply snapshots on failure.
// In-flight changes are tracked by change id in an injected tracker so
// callers can observe and undo pending work.
//
// # Thread Safety
//
// The coordinator itself is stateless between calls; all shared state
// lives in the store and tracker, both safe for concurrent use.
// Mutations on the same coordinate are not locked against each other:
// the last write to the store wins.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/hexcache/services/mapcache/coord"
	"github.com/AleutianAI/hexcache/services/mapcache/events"
	"github.com/AleutianAI/hexcache/services/mapcache/remote"
	"github.com/AleutianAI/hexcache/services/mapcache/state"
	"github.com/AleutianAI/hexcache/services/mapcache/telemetry"
	"github.com/AleutianAI/hexcache/services/mapcache/tile"
	"github.com/AleutianAI/hexcache/services/mapcache/tracker"
)

// ErrNotCached is returned when a mutation targets a coordinate with no
// cached tile. The caller must load the region first.
var ErrNotCached = errors.New("no tile cached at coordinate")

// Persister is the durable side-cache the coordinator writes finalized
// tiles through. Persistence failures are logged, never rolled back:
// the remote call already succeeded, so the server remains the source
// of truth.
type Persister interface {
	SaveTile(ctx context.Context, t tile.Tile) error
	RemoveTile(ctx context.Context, coordID string) error
}

// Coordinator runs the optimistic mutation protocol against the store,
// a remote mutation API and an injected change tracker.
type Coordinator struct {
	store   *state.Store
	api     remote.API
	tracker *tracker.Tracker
	persist Persister // optional
	bus     *events.Bus
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// CoordinatorConfig bundles the collaborators for NewCoordinator.
// Persist, Bus, Logger and Metrics are optional.
type CoordinatorConfig struct {
	Store   *state.Store
	API     remote.API
	Tracker *tracker.Tracker
	Persist Persister
	Bus     *events.Bus
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:   cfg.Store,
		api:     cfg.API,
		tracker: cfg.Tracker,
		persist: cfg.Persist,
		bus:     cfg.Bus,
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

// CreateItem creates a tile at coordID.
//
// # Description
//
// A temporary tile (stable id "pending-<changeId>") is merged
// immediately so the new tile renders before the server confirms.
// ParentDBID may be empty: the parent's stable id is then inferred from
// the cached tile at the parent coordinate, when there is one. On
// success the authoritative tile replaces the temporary one; on failure
// the temporary tile is removed and the error returned. A create over
// an already-occupied coordinate snapshots the occupant first, so a
// failure restores it rather than leaving the slot empty.
func (c *Coordinator) CreateItem(ctx context.Context, coordID, parentDBID string, fields remote.Fields) (tile.Tile, error) {
	target, err := coord.Parse(coordID)
	if err != nil {
		c.countMutation("create", "invalid")
		return tile.Tile{}, fmt.Errorf("create item: %w", err)
	}
	if parentDBID == "" {
		if parentCoord, ok := target.Parent(); ok {
			if parent, cached := c.store.Item(parentCoord.ID()); cached {
				parentDBID = parent.Metadata.DBID
			}
		}
	}

	changeID := c.tracker.NewChangeID()
	var data tile.Data
	fields.Apply(&data)
	temp := tile.New(target, "pending-"+changeID, data)
	temp.Metadata.ParentDBID = parentDBID

	prev, occupied := c.store.Item(coordID)
	change := tracker.Change{ID: changeID, Type: tracker.ChangeCreate, CoordID: coordID}
	if occupied {
		change.Previous = &prev
	}
	c.track(change)
	c.store.Dispatch(state.MergeTiles{Tiles: []tile.Tile{temp}})

	created, err := c.api.CreateItem(ctx, remote.CreateRequest{
		CoordID:    coordID,
		ParentDBID: parentDBID,
		Fields:     fields,
	})
	if err != nil {
		if occupied {
			c.store.Dispatch(state.MergeTiles{Tiles: []tile.Tile{prev}})
		} else {
			c.store.Dispatch(state.RemoveTiles{CoordIDs: []string{coordID}})
		}
		c.clear(changeID)
		c.countMutation("create", "rolled_back")
		return tile.Tile{}, fmt.Errorf("create item at %s: %w", coordID, err)
	}

	c.store.Dispatch(state.MergeTiles{Tiles: []tile.Tile{*created}})
	c.persistSave(ctx, *created)
	c.clear(changeID)
	c.countMutation("create", "ok")
	c.publish(events.Event{
		Type:   events.TypeTileCreated,
		Source: "mutation",
		Payload: events.TilePayload{
			CoordID: created.Metadata.CoordID,
			DBID:    created.Metadata.DBID,
			Title:   created.Data.Title,
		},
	})
	return *created, nil
}

// UpdateItem applies a partial content update to the tile at coordID.
// The optimistic copy is visible immediately; a failed remote call
// restores the pre-mutation snapshot.
func (c *Coordinator) UpdateItem(ctx context.Context, coordID string, fields remote.Fields) (tile.Tile, error) {
	prev, ok := c.store.Item(coordID)
	if !ok {
		c.countMutation("update", "invalid")
		return tile.Tile{}, fmt.Errorf("update item at %s: %w", coordID, ErrNotCached)
	}

	changeID := c.tracker.NewChangeID()
	optimistic := prev
	fields.Apply(&optimistic.Data)

	c.track(tracker.Change{
		ID:       changeID,
		Type:     tracker.ChangeUpdate,
		CoordID:  coordID,
		Previous: &prev,
	})
	c.store.Dispatch(state.MergeTiles{Tiles: []tile.Tile{optimistic}})

	updated, err := c.api.UpdateItem(ctx, coordID, fields)
	if err != nil {
		c.store.Dispatch(state.MergeTiles{Tiles: []tile.Tile{prev}})
		c.clear(changeID)
		c.countMutation("update", "rolled_back")
		return tile.Tile{}, fmt.Errorf("update item at %s: %w", coordID, err)
	}

	c.store.Dispatch(state.MergeTiles{Tiles: []tile.Tile{*updated}})
	c.persistSave(ctx, *updated)
	c.clear(changeID)
	c.countMutation("update", "ok")
	c.publish(events.Event{
		Type:   events.TypeTileUpdated,
		Source: "mutation",
		Payload: events.TilePayload{
			CoordID: updated.Metadata.CoordID,
			DBID:    updated.Metadata.DBID,
			Title:   updated.Data.Title,
		},
	})
	return *updated, nil
}

// DeleteItem removes the tile at coordID. The removal is visible
// immediately; a failed remote call re-merges the snapshot.
func (c *Coordinator) DeleteItem(ctx context.Context, coordID string) error {
	prev, ok := c.store.Item(coordID)
	if !ok {
		c.countMutation("delete", "invalid")
		return fmt.Errorf("delete item at %s: %w", coordID, ErrNotCached)
	}

	changeID := c.tracker.NewChangeID()
	c.track(tracker.Change{
		ID:       changeID,
		Type:     tracker.ChangeDelete,
		CoordID:  coordID,
		Previous: &prev,
	})
	c.store.Dispatch(state.RemoveTiles{CoordIDs: []string{coordID}})

	if err := c.api.DeleteItem(ctx, coordID); err != nil {
		c.store.Dispatch(state.MergeTiles{Tiles: []tile.Tile{prev}})
		c.clear(changeID)
		c.countMutation("delete", "rolled_back")
		return fmt.Errorf("delete item at %s: %w", coordID, err)
	}

	c.persistRemove(ctx, coordID)
	c.clear(changeID)
	c.countMutation("delete", "ok")
	c.publish(events.Event{
		Type:   events.TypeTileDeleted,
		Source: "mutation",
		Payload: events.TilePayload{
			CoordID: coordID,
			DBID:    prev.Metadata.DBID,
			Title:   prev.Data.Title,
		},
	})
	return nil
}

// snapshot is one pre-apply cache entry keyed by coordinate. A nil tile
// records that the key did not exist, so rollback removes it.
type snapshot struct {
	coordID string
	tile    *tile.Tile
}

// MoveItem relocates the tile at sourceCoordID to targetCoordID.
//
// # Description
//
// When the target coordinate is occupied the operation is a swap: both
// tiles trade coordinates, each tile's direct children are rewritten
// under the new parent by their trailing path segment, and any deeper
// cached descendants of either subtree are dropped, to be refetched.
// When the target is empty it is a plain move of the source tile.
//
// Only the source tile's prior snapshot is tracked for later undo via
// RollbackChange; an immediate remote failure restores every touched
// key from locally captured snapshots.
func (c *Coordinator) MoveItem(ctx context.Context, sourceCoordID, targetCoordID string) error {
	src, ok := c.store.Item(sourceCoordID)
	if !ok {
		c.countMutation("move", "invalid")
		return fmt.Errorf("move item at %s: %w", sourceCoordID, ErrNotCached)
	}
	srcCoord, err := coord.Parse(sourceCoordID)
	if err != nil {
		c.countMutation("move", "invalid")
		return fmt.Errorf("move item: %w", err)
	}
	tgtCoord, err := coord.Parse(targetCoordID)
	if err != nil {
		c.countMutation("move", "invalid")
		return fmt.Errorf("move item: %w", err)
	}

	tgt, isSwap := c.store.Item(targetCoordID)
	kind := "move"
	if isSwap {
		kind = "swap"
	}

	var (
		merged  []tile.Tile
		removed []string
		snaps   []snapshot
	)
	captured := make(map[string]bool)
	capture := func(coordID string) {
		if captured[coordID] {
			return
		}
		captured[coordID] = true
		if existing, ok := c.store.Item(coordID); ok {
			c.appendSnapshot(&snaps, coordID, &existing)
			return
		}
		c.appendSnapshot(&snaps, coordID, nil)
	}

	capture(sourceCoordID)
	capture(targetCoordID)

	if isSwap {
		merged = append(merged, src.Relocate(tgtCoord), tgt.Relocate(srcCoord))
		merged = append(merged, c.relocateChildren(sourceCoordID, tgtCoord, capture, &removed)...)
		merged = append(merged, c.relocateChildren(targetCoordID, srcCoord, capture, &removed)...)
		removed = append(removed, c.deeperDescendants(sourceCoordID, targetCoordID, capture)...)
	} else {
		merged = append(merged, src.Relocate(tgtCoord))
		removed = append(removed, sourceCoordID)
	}

	changeID := c.tracker.NewChangeID()
	c.track(tracker.Change{
		ID:       changeID,
		Type:     tracker.ChangeUpdate,
		CoordID:  sourceCoordID,
		Previous: &src,
	})
	c.store.DispatchAll(
		state.RemoveTiles{CoordIDs: removed},
		state.MergeTiles{Tiles: merged},
	)

	if isSwap {
		c.publish(events.Event{
			Type:   events.TypeTilesSwapped,
			Source: "mutation",
			Payload: events.SwapPayload{
				FirstCoordID:  sourceCoordID,
				SecondCoordID: targetCoordID,
				FirstDBID:     src.Metadata.DBID,
				SecondDBID:    tgt.Metadata.DBID,
			},
		})
	} else {
		c.publish(events.Event{
			Type:   events.TypeTileMoved,
			Source: "mutation",
			Payload: events.MovePayload{
				FromCoordID: sourceCoordID,
				ToCoordID:   targetCoordID,
				DBID:        src.Metadata.DBID,
			},
		})
	}

	result, err := c.api.MoveItem(ctx, remote.MoveRequest{
		SourceCoordID: sourceCoordID,
		TargetCoordID: targetCoordID,
	})
	if err != nil {
		c.restore(snaps)
		c.clear(changeID)
		c.countMutation(kind, "rolled_back")
		if c.metrics != nil {
			c.metrics.RollbacksTotal.Inc()
		}
		return fmt.Errorf("move item %s -> %s: %w", sourceCoordID, targetCoordID, err)
	}

	if len(result.ModifiedTiles) > 0 {
		c.store.Dispatch(state.MergeTiles{Tiles: result.ModifiedTiles})
		for _, t := range result.ModifiedTiles {
			c.persistSave(ctx, t)
		}
	}
	c.clear(changeID)
	c.countMutation(kind, "ok")
	return nil
}

// relocateChildren rewrites the direct children of oldParentCoordID
// under newParent, keeping each child's trailing path segment. Old
// child keys are captured and scheduled for removal.
func (c *Coordinator) relocateChildren(oldParentCoordID string, newParent coord.Coord, capture func(string), removed *[]string) []tile.Tile {
	var out []tile.Tile
	for _, childID := range c.store.ChildIDs(oldParentCoordID) {
		child, ok := c.store.Item(childID)
		if !ok {
			continue
		}
		dir, ok := child.Metadata.Coord.Direction()
		if !ok {
			continue
		}
		capture(childID)
		*removed = append(*removed, childID)
		newCoord := newParent.Child(dir)
		capture(newCoord.ID())
		out = append(out, child.Relocate(newCoord))
	}
	return out
}

// deeperDescendants returns every cached descendant of either swap
// participant that is more than one generation down. Those entries
// cannot be rewritten locally and must be refetched.
func (c *Coordinator) deeperDescendants(firstCoordID, secondCoordID string, capture func(string)) []string {
	var out []string
	for _, rootID := range []string{firstCoordID, secondCoordID} {
		children := make(map[string]bool)
		for _, id := range c.store.ChildIDs(rootID) {
			children[id] = true
		}
		for _, id := range c.store.DescendantIDs(rootID) {
			if children[id] {
				continue
			}
			capture(id)
			out = append(out, id)
		}
	}
	return out
}

func (c *Coordinator) appendSnapshot(snaps *[]snapshot, coordID string, t *tile.Tile) {
	if t != nil {
		copied := *t
		*snaps = append(*snaps, snapshot{coordID: coordID, tile: &copied})
		return
	}
	*snaps = append(*snaps, snapshot{coordID: coordID})
}

// restore puts every captured key back to its pre-apply value in one
// batch: keys that existed re-merge, keys that did not are removed.
func (c *Coordinator) restore(snaps []snapshot) {
	var (
		merged  []tile.Tile
		removed []string
	)
	for _, s := range snaps {
		if s.tile != nil {
			merged = append(merged, *s.tile)
			continue
		}
		removed = append(removed, s.coordID)
	}
	c.store.DispatchAll(
		state.RemoveTiles{CoordIDs: removed},
		state.MergeTiles{Tiles: merged},
	)
}

// RollbackChange undoes one tracked change by id.
//
// Creates restore the prior occupant when one was snapshotted, and
// otherwise invalidate the affected region (the temporary tile is
// removed and the region is marked stale so the next load refetches);
// updates and deletes re-merge the prior snapshot when one was
// captured.
// Tracking is cleared regardless of outcome; unknown ids are a no-op.
func (c *Coordinator) RollbackChange(changeID string) {
	change, ok := c.tracker.Get(changeID)
	if !ok {
		return
	}
	switch change.Type {
	case tracker.ChangeCreate:
		if change.Previous != nil {
			c.store.Dispatch(state.MergeTiles{Tiles: []tile.Tile{*change.Previous}})
			break
		}
		c.store.DispatchAll(
			state.RemoveTiles{CoordIDs: []string{change.CoordID}},
			state.InvalidateRegion{CoordID: change.CoordID},
		)
	case tracker.ChangeUpdate, tracker.ChangeDelete:
		if change.Previous != nil {
			c.store.Dispatch(state.MergeTiles{Tiles: []tile.Tile{*change.Previous}})
		}
	}
	c.clear(changeID)
	if c.metrics != nil {
		c.metrics.RollbacksTotal.Inc()
	}
	c.logger.Info("change rolled back",
		"change_id", changeID, "type", change.Type, "coord_id", change.CoordID)
	c.publish(events.Event{
		Type:   events.TypeChangeRolledBack,
		Source: "mutation",
		Payload: events.RollbackPayload{
			ChangeID: changeID,
			Kind:     string(change.Type),
			CoordID:  change.CoordID,
		},
	})
}

// RollbackAll undoes every tracked change, oldest first.
func (c *Coordinator) RollbackAll() {
	for _, change := range c.tracker.All() {
		c.RollbackChange(change.ID)
	}
}

// PendingChanges returns the in-flight changes in apply order.
func (c *Coordinator) PendingChanges() []tracker.Change {
	return c.tracker.All()
}

// -----------------------------------------------------------------------------
// Internals
// -----------------------------------------------------------------------------

func (c *Coordinator) track(change tracker.Change) {
	c.tracker.Track(change)
	c.gaugePending()
}

func (c *Coordinator) clear(changeID string) {
	c.tracker.Remove(changeID)
	c.gaugePending()
}

func (c *Coordinator) gaugePending() {
	if c.metrics != nil {
		c.metrics.PendingChanges.Set(float64(c.tracker.Len()))
	}
}

func (c *Coordinator) persistSave(ctx context.Context, t tile.Tile) {
	if c.persist == nil {
		return
	}
	if err := c.persist.SaveTile(ctx, t); err != nil {
		c.logger.Warn("persisting tile failed",
			"coord_id", t.Metadata.CoordID, "error", err)
	}
}

func (c *Coordinator) persistRemove(ctx context.Context, coordID string) {
	if c.persist == nil {
		return
	}
	if err := c.persist.RemoveTile(ctx, coordID); err != nil {
		c.logger.Warn("removing persisted tile failed",
			"coord_id", coordID, "error", err)
	}
}

func (c *Coordinator) publish(e events.Event) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(e)
	if c.metrics != nil {
		c.metrics.EventsPublished.WithLabelValues(string(e.Type)).Inc()
	}
}

func (c *Coordinator) countMutation(kind, status string) {
	if c.metrics != nil {
		c.metrics.MutationsTotal.WithLabelValues(kind, status).Inc()
	}
}
