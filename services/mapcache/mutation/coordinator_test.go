// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mutation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/hexcache/services/mapcache/coord"
	"github.com/AleutianAI/hexcache/services/mapcache/events"
	"github.com/AleutianAI/hexcache/services/mapcache/remote"
	"github.com/AleutianAI/hexcache/services/mapcache/state"
	"github.com/AleutianAI/hexcache/services/mapcache/tile"
	"github.com/AleutianAI/hexcache/services/mapcache/tracker"
)

// fakePersist records SaveTile/RemoveTile calls and can fail on demand.
type fakePersist struct {
	mu      sync.Mutex
	saved   []string
	removed []string
	err     error
}

func (p *fakePersist) SaveTile(_ context.Context, t tile.Tile) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.saved = append(p.saved, t.Metadata.CoordID)
	return nil
}

func (p *fakePersist) RemoveTile(_ context.Context, coordID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.removed = append(p.removed, coordID)
	return nil
}

func (p *fakePersist) savedCoords() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.saved...)
}

func (p *fakePersist) removedCoords() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.removed...)
}

type fixture struct {
	store   *state.Store
	backend *remote.Memory
	trk     *tracker.Tracker
	bus     *events.Bus
	persist *fakePersist
	coord   *Coordinator
}

// newFixture seeds backend and store with the same tree:
//
//	1,0:       db-root
//	1,0:1      db-1
//	1,0:1,3    db-13
//	1,0:1,3,5  db-135
//	1,0:2      db-2
//	1,0:2,2    db-22
func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	backend := remote.NewMemory()
	backend.Seed(
		tile.New(coord.MustParse("1,0:"), "db-root", tile.Data{Title: "root"}),
		tile.New(coord.MustParse("1,0:1"), "db-1", tile.Data{Title: "one"}),
		tile.New(coord.MustParse("1,0:1,3"), "db-13", tile.Data{Title: "one-three"}),
		tile.New(coord.MustParse("1,0:1,3,5"), "db-135", tile.Data{Title: "deep"}),
		tile.New(coord.MustParse("1,0:2"), "db-2", tile.Data{Title: "two"}),
		tile.New(coord.MustParse("1,0:2,2"), "db-22", tile.Data{Title: "two-two"}),
	)

	store := state.New(state.DefaultConfig())
	tiles, err := backend.FetchItemsForCoordinate(context.Background(), remote.FetchRequest{
		CenterCoordID: "1,0:",
		MaxDepth:      10,
	})
	require.NoError(t, err)
	store.Dispatch(state.MergeTiles{Tiles: tiles})

	f := &fixture{
		store:   store,
		backend: backend,
		trk:     tracker.New(),
		bus:     events.NewBus(logger),
		persist: &fakePersist{},
	}
	f.coord = NewCoordinator(CoordinatorConfig{
		Store:   store,
		API:     backend,
		Tracker: f.trk,
		Persist: f.persist,
		Bus:     f.bus,
		Logger:  logger,
	})
	return f
}

func (f *fixture) snapshotItems() map[string]tile.Tile {
	out := make(map[string]tile.Tile)
	for _, t := range f.store.Items() {
		out[t.Metadata.CoordID] = t
	}
	return out
}

func drain(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func strPtr(s string) *string { return &s }

func TestCreateItemFinalizesAuthoritativeTile(t *testing.T) {
	f := newFixture(t)
	ch, cancel := f.bus.Subscribe()
	defer cancel()

	created, err := f.coord.CreateItem(context.Background(), "1,0:3", "",
		remote.Fields{Title: strPtr("fresh")})
	require.NoError(t, err)

	assert.Equal(t, "fresh", created.Data.Title)
	assert.NotEmpty(t, created.Metadata.DBID)
	assert.False(t, strings.HasPrefix(created.Metadata.DBID, "pending-"),
		"authoritative tile replaces the temporary one")
	assert.Equal(t, "db-root", created.Metadata.ParentDBID,
		"parent stable id inferred from the cached parent")

	cached, ok := f.store.Item("1,0:3")
	require.True(t, ok)
	assert.Equal(t, created.Metadata.DBID, cached.Metadata.DBID)
	assert.Zero(t, f.trk.Len(), "tracking cleared on finalize")
	assert.Equal(t, []string{"1,0:3"}, f.persist.savedCoords())

	got := drain(ch)
	require.Len(t, got, 1)
	assert.Equal(t, events.TypeTileCreated, got[0].Type)
}

func TestCreateItemFailureRemovesTemporaryTile(t *testing.T) {
	f := newFixture(t)
	f.backend.FailNextCall(remote.ErrNetwork)

	_, err := f.coord.CreateItem(context.Background(), "1,0:3", "",
		remote.Fields{Title: strPtr("fresh")})
	require.ErrorIs(t, err, remote.ErrNetwork)

	assert.False(t, f.store.Has("1,0:3"), "temporary tile removed")
	assert.Zero(t, f.trk.Len())
	assert.Empty(t, f.persist.savedCoords())
}

func TestCreateItemFailureRestoresOccupant(t *testing.T) {
	f := newFixture(t)
	occupant, ok := f.store.Item("1,0:1")
	require.True(t, ok)
	f.backend.FailNextCall(remote.ErrNetwork)

	_, err := f.coord.CreateItem(context.Background(), "1,0:1", "",
		remote.Fields{Title: strPtr("usurper")})
	require.ErrorIs(t, err, remote.ErrNetwork)

	restored, ok := f.store.Item("1,0:1")
	require.True(t, ok, "pre-existing tile survives the failed create")
	assert.Equal(t, occupant, restored)

	byDB, ok := f.store.ItemByDBID("db-1")
	require.True(t, ok)
	assert.Equal(t, "1,0:1", byDB.Metadata.CoordID)
	assert.Zero(t, f.trk.Len())
}

func TestRollbackChangeCreateRestoresOccupant(t *testing.T) {
	f := newFixture(t)
	occupant, ok := f.store.Item("1,0:1")
	require.True(t, ok)

	changeID := f.trk.NewChangeID()
	f.trk.Track(tracker.Change{
		ID:       changeID,
		Type:     tracker.ChangeCreate,
		CoordID:  "1,0:1",
		Previous: &occupant,
	})
	f.store.Dispatch(state.MergeTiles{Tiles: []tile.Tile{
		tile.New(coord.MustParse("1,0:1"), "pending-"+changeID, tile.Data{Title: "usurper"}),
	}})

	f.coord.RollbackChange(changeID)

	restored, ok := f.store.Item("1,0:1")
	require.True(t, ok)
	assert.Equal(t, occupant, restored)
	assert.Zero(t, f.trk.Len())
}

func TestCreateItemInvalidCoordinate(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.CreateItem(context.Background(), "garbage", "", remote.Fields{})
	assert.ErrorIs(t, err, coord.ErrInvalidCoordinate)
}

func TestUpdateItemMergesAuthoritativeResult(t *testing.T) {
	f := newFixture(t)

	updated, err := f.coord.UpdateItem(context.Background(), "1,0:1",
		remote.Fields{Title: strPtr("renamed"), Color: strPtr("#ff0000")})
	require.NoError(t, err)

	assert.Equal(t, "renamed", updated.Data.Title)
	assert.Equal(t, "#ff0000", updated.Data.Color)
	cached, ok := f.store.Item("1,0:1")
	require.True(t, ok)
	assert.Equal(t, "renamed", cached.Data.Title)
	assert.Equal(t, "db-1", cached.Metadata.DBID, "stable id untouched")
	assert.Zero(t, f.trk.Len())
	assert.Equal(t, []string{"1,0:1"}, f.persist.savedCoords())
}

func TestUpdateItemFailureRestoresSnapshot(t *testing.T) {
	f := newFixture(t)
	before, ok := f.store.Item("1,0:1")
	require.True(t, ok)

	f.backend.FailNextCall(remote.ErrTimeout)
	_, err := f.coord.UpdateItem(context.Background(), "1,0:1",
		remote.Fields{Title: strPtr("doomed")})
	require.ErrorIs(t, err, remote.ErrTimeout)

	after, ok := f.store.Item("1,0:1")
	require.True(t, ok)
	assert.Equal(t, before, after, "store state equals the pre-mutation snapshot")
	assert.Zero(t, f.trk.Len())
}

func TestUpdateItemNotCached(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.UpdateItem(context.Background(), "1,0:6", remote.Fields{})
	assert.ErrorIs(t, err, ErrNotCached)
}

func TestDeleteItemRemovesAndPersists(t *testing.T) {
	f := newFixture(t)
	ch, cancel := f.bus.Subscribe()
	defer cancel()

	require.NoError(t, f.coord.DeleteItem(context.Background(), "1,0:2,2"))

	assert.False(t, f.store.Has("1,0:2,2"))
	assert.Equal(t, []string{"1,0:2,2"}, f.persist.removedCoords())
	assert.Zero(t, f.trk.Len())

	got := drain(ch)
	require.Len(t, got, 1)
	assert.Equal(t, events.TypeTileDeleted, got[0].Type)
	payload, ok := got[0].Payload.(events.TilePayload)
	require.True(t, ok)
	assert.Equal(t, "db-22", payload.DBID)
}

func TestDeleteItemFailureRestoresSnapshot(t *testing.T) {
	f := newFixture(t)
	before, ok := f.store.Item("1,0:2,2")
	require.True(t, ok)

	f.backend.FailNextCall(remote.ErrNetwork)
	err := f.coord.DeleteItem(context.Background(), "1,0:2,2")
	require.ErrorIs(t, err, remote.ErrNetwork)

	after, ok := f.store.Item("1,0:2,2")
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Empty(t, f.persist.removedCoords())
}

func TestMoveItemToEmptyTarget(t *testing.T) {
	f := newFixture(t)
	ch, cancel := f.bus.Subscribe()
	defer cancel()

	require.NoError(t, f.coord.MoveItem(context.Background(), "1,0:1,3", "1,0:4"))

	moved, ok := f.store.Item("1,0:4")
	require.True(t, ok)
	assert.Equal(t, "db-13", moved.Metadata.DBID)
	assert.False(t, f.store.Has("1,0:1,3"), "old entry removed")
	// The server relocates the whole subtree and echoes it back.
	relocatedChild, ok := f.store.Item("1,0:4,5")
	require.True(t, ok)
	assert.Equal(t, "db-135", relocatedChild.Metadata.DBID)
	assert.Zero(t, f.trk.Len())

	got := drain(ch)
	require.Len(t, got, 1)
	assert.Equal(t, events.TypeTileMoved, got[0].Type)
	payload, ok := got[0].Payload.(events.MovePayload)
	require.True(t, ok)
	assert.Equal(t, "1,0:1,3", payload.FromCoordID)
	assert.Equal(t, "1,0:4", payload.ToCoordID)
}

// quietMoveAPI confirms moves without echoing modified tiles, exposing
// the optimistic swap state the cache itself computes.
type quietMoveAPI struct {
	*remote.Memory
}

func (q quietMoveAPI) MoveItem(ctx context.Context, req remote.MoveRequest) (remote.MoveResult, error) {
	if _, err := q.Memory.MoveItem(ctx, req); err != nil {
		return remote.MoveResult{}, err
	}
	return remote.MoveResult{}, nil
}

func TestSwapRelocatesParentsAndDirectChildren(t *testing.T) {
	f := newFixture(t)
	f.coord.api = quietMoveAPI{f.backend}
	ch, cancel := f.bus.Subscribe()
	defer cancel()

	require.NoError(t, f.coord.MoveItem(context.Background(), "1,0:1", "1,0:2"))

	atTarget, ok := f.store.Item("1,0:2")
	require.True(t, ok)
	assert.Equal(t, "db-1", atTarget.Metadata.DBID, "former source addressable at target")
	atSource, ok := f.store.Item("1,0:1")
	require.True(t, ok)
	assert.Equal(t, "db-2", atSource.Metadata.DBID, "former target addressable at source")

	childOfOne, ok := f.store.Item("1,0:2,3")
	require.True(t, ok)
	assert.Equal(t, "db-13", childOfOne.Metadata.DBID,
		"direct child rewritten under the new parent")
	childOfTwo, ok := f.store.Item("1,0:1,2")
	require.True(t, ok)
	assert.Equal(t, "db-22", childOfTwo.Metadata.DBID)

	assert.False(t, f.store.Has("1,0:1,3,5"), "deeper descendant dropped")
	_, stillCached := f.store.ItemByDBID("db-135")
	assert.False(t, stillCached, "deeper descendants must be refetched")

	got := drain(ch)
	require.Len(t, got, 1)
	assert.Equal(t, events.TypeTilesSwapped, got[0].Type)
	payload, ok := got[0].Payload.(events.SwapPayload)
	require.True(t, ok)
	assert.Equal(t, "db-1", payload.FirstDBID)
	assert.Equal(t, "db-2", payload.SecondDBID)
}

func TestMoveItemFailureRestoresEveryTouchedKey(t *testing.T) {
	f := newFixture(t)
	before := f.snapshotItems()

	f.backend.FailNextCall(remote.ErrNetwork)
	err := f.coord.MoveItem(context.Background(), "1,0:1", "1,0:2")
	require.ErrorIs(t, err, remote.ErrNetwork)

	assert.Equal(t, before, f.snapshotItems(),
		"failed swap leaves the store exactly as it was")
	assert.Zero(t, f.trk.Len())
}

func TestMoveItemSourceNotCached(t *testing.T) {
	f := newFixture(t)
	err := f.coord.MoveItem(context.Background(), "1,0:6", "1,0:4")
	assert.ErrorIs(t, err, ErrNotCached)
}

func TestRollbackChangeCreateInvalidatesRegion(t *testing.T) {
	f := newFixture(t)
	f.store.Dispatch(state.MarkRegionLoaded{CenterID: "1,0:", MaxDepth: 2})

	changeID := f.trk.NewChangeID()
	f.trk.Track(tracker.Change{ID: changeID, Type: tracker.ChangeCreate, CoordID: "1,0:3"})
	f.store.Dispatch(state.MergeTiles{Tiles: []tile.Tile{
		tile.New(coord.MustParse("1,0:3"), "pending-"+changeID, tile.Data{Title: "temp"}),
	}})

	f.coord.RollbackChange(changeID)

	assert.False(t, f.store.Has("1,0:3"), "temporary tile removed")
	_, loaded := f.store.Region("1,0:")
	assert.False(t, loaded, "enclosing region forced stale")
	assert.Zero(t, f.trk.Len())
}

func TestRollbackChangeUpdateRestoresPrevious(t *testing.T) {
	f := newFixture(t)
	prev, ok := f.store.Item("1,0:1")
	require.True(t, ok)

	changeID := f.trk.NewChangeID()
	f.trk.Track(tracker.Change{
		ID: changeID, Type: tracker.ChangeUpdate, CoordID: "1,0:1", Previous: &prev,
	})
	edited := prev
	edited.Data.Title = "dirty"
	f.store.Dispatch(state.MergeTiles{Tiles: []tile.Tile{edited}})

	f.coord.RollbackChange(changeID)

	after, ok := f.store.Item("1,0:1")
	require.True(t, ok)
	assert.Equal(t, prev, after)
	assert.Zero(t, f.trk.Len())
}

func TestRollbackChangeBroadcastsEvent(t *testing.T) {
	f := newFixture(t)
	prev, ok := f.store.Item("1,0:1")
	require.True(t, ok)

	changeID := f.trk.NewChangeID()
	f.trk.Track(tracker.Change{
		ID: changeID, Type: tracker.ChangeUpdate, CoordID: "1,0:1", Previous: &prev,
	})

	ch, cancel := f.bus.Subscribe()
	defer cancel()
	f.coord.RollbackChange(changeID)

	got := drain(ch)
	require.Len(t, got, 1)
	assert.Equal(t, events.TypeChangeRolledBack, got[0].Type)
	payload, ok := got[0].Payload.(events.RollbackPayload)
	require.True(t, ok)
	assert.Equal(t, changeID, payload.ChangeID)
	assert.Equal(t, string(tracker.ChangeUpdate), payload.Kind)
	assert.Equal(t, "1,0:1", payload.CoordID)
}

func TestRollbackChangeUnknownIDIsNoop(t *testing.T) {
	f := newFixture(t)
	before := f.snapshotItems()
	f.coord.RollbackChange("no-such-change")
	assert.Equal(t, before, f.snapshotItems())
}

func TestRollbackAll(t *testing.T) {
	f := newFixture(t)
	prevOne, _ := f.store.Item("1,0:1")
	prevTwo, _ := f.store.Item("1,0:2")

	idOne := f.trk.NewChangeID()
	idTwo := f.trk.NewChangeID()
	f.trk.Track(tracker.Change{ID: idOne, Type: tracker.ChangeUpdate, CoordID: "1,0:1", Previous: &prevOne})
	f.trk.Track(tracker.Change{ID: idTwo, Type: tracker.ChangeDelete, CoordID: "1,0:2", Previous: &prevTwo})
	f.store.Dispatch(state.RemoveTiles{CoordIDs: []string{"1,0:2"}})

	f.coord.RollbackAll()

	assert.Zero(t, f.trk.Len())
	restored, ok := f.store.Item("1,0:2")
	require.True(t, ok)
	assert.Equal(t, prevTwo, restored)
}

func TestPersistFailureDoesNotFailMutation(t *testing.T) {
	f := newFixture(t)
	f.persist.err = errors.New("disk full")

	_, err := f.coord.UpdateItem(context.Background(), "1,0:1",
		remote.Fields{Title: strPtr("still fine")})
	require.NoError(t, err, "persistence is best-effort once the server confirmed")

	cached, ok := f.store.Item("1,0:1")
	require.True(t, ok)
	assert.Equal(t, "still fine", cached.Data.Title)
}

func TestPendingChangesOrdered(t *testing.T) {
	f := newFixture(t)
	idOne := f.trk.NewChangeID()
	idTwo := f.trk.NewChangeID()
	f.trk.Track(tracker.Change{ID: idOne, Type: tracker.ChangeUpdate, CoordID: "1,0:1"})
	f.trk.Track(tracker.Change{ID: idTwo, Type: tracker.ChangeDelete, CoordID: "1,0:2"})

	pending := f.coord.PendingChanges()
	require.Len(t, pending, 2)
	assert.Equal(t, idOne, pending[0].ID)
	assert.Equal(t, idTwo, pending[1].ID)
}
