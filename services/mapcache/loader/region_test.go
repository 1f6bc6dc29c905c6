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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/hexcache/services/mapcache/coord"
	"github.com/AleutianAI/hexcache/services/mapcache/events"
	"github.com/AleutianAI/hexcache/services/mapcache/remote"
	"github.com/AleutianAI/hexcache/services/mapcache/state"
	"github.com/AleutianAI/hexcache/services/mapcache/tile"
)

func testBackend(t *testing.T) *remote.Memory {
	t.Helper()
	m := remote.NewMemory()
	m.Seed(
		tile.New(coord.MustParse("1,0:"), "db-root", tile.Data{Title: "root"}),
		tile.New(coord.MustParse("1,0:1"), "db-1", tile.Data{Title: "one"}),
		tile.New(coord.MustParse("1,0:1,3"), "db-13", tile.Data{Title: "deep"}),
	)
	return m
}

func TestLoadRegionMergesAndMarks(t *testing.T) {
	store := state.New(state.DefaultConfig())
	backend := testBackend(t)
	l := NewRegionLoader(store, backend, nil, nil)

	res := l.LoadRegion(context.Background(), "1,0:", 0)
	require.True(t, res.Success)
	assert.Equal(t, 3, res.ItemsLoaded)
	assert.True(t, store.Has("1,0:1,3"))

	meta, ok := store.Region("1,0:")
	require.True(t, ok)
	assert.Equal(t, state.DefaultConfig().MaxDepth, meta.MaxDepth)
	assert.False(t, store.IsLoading(), "loading flag released")
	assert.NoError(t, store.Err())
}

func TestLoadRegionBroadcastsEventOnFetchOnly(t *testing.T) {
	store := state.New(state.DefaultConfig())
	backend := testBackend(t)
	bus := events.NewBus(nil)
	ch, cancel := bus.Subscribe()
	defer cancel()
	l := NewRegionLoader(store, backend, nil, nil).WithBus(bus)

	res := l.LoadRegion(context.Background(), "1,0:", 2)
	require.True(t, res.Success)
	fresh := l.LoadRegion(context.Background(), "1,0:", 2)
	require.True(t, fresh.Success)

	var got []events.Event
	for {
		select {
		case e := <-ch:
			got = append(got, e)
			continue
		default:
		}
		break
	}
	require.Len(t, got, 1, "fresh-region no-op emits nothing")
	assert.Equal(t, events.TypeRegionLoaded, got[0].Type)
	payload, ok := got[0].Payload.(events.RegionPayload)
	require.True(t, ok)
	assert.Equal(t, "1,0:", payload.CenterCoordID)
	assert.Equal(t, 2, payload.MaxDepth)
	assert.Equal(t, 3, payload.ItemsLoaded)
}

func TestLoadRegionStalenessIdempotence(t *testing.T) {
	store := state.New(state.DefaultConfig())
	backend := testBackend(t)
	l := NewRegionLoader(store, backend, nil, nil)

	first := l.LoadRegion(context.Background(), "1,0:", 2)
	require.True(t, first.Success)
	second := l.LoadRegion(context.Background(), "1,0:", 2)
	require.True(t, second.Success)
	assert.Zero(t, second.ItemsLoaded, "fresh region is a no-op")
	assert.Equal(t, 1, backend.FetchCalls(), "exactly one upstream fetch")
}

func TestLoadRegionDeeperRequestRefetches(t *testing.T) {
	store := state.New(state.DefaultConfig())
	backend := testBackend(t)
	l := NewRegionLoader(store, backend, nil, nil)

	l.LoadRegion(context.Background(), "1,0:", 1)
	l.LoadRegion(context.Background(), "1,0:", 2)
	assert.Equal(t, 2, backend.FetchCalls())

	// Shallower request rides the deeper load.
	l.LoadRegion(context.Background(), "1,0:", 1)
	assert.Equal(t, 2, backend.FetchCalls())
}

func TestLoadRegionAgedRegionRefetches(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := state.New(state.Config{MaxAge: time.Minute, MaxDepth: 2},
		state.WithClock(func() time.Time { return clock }))
	backend := testBackend(t)
	l := NewRegionLoader(store, backend, nil, nil)

	l.LoadRegion(context.Background(), "1,0:", 0)
	clock = clock.Add(2 * time.Minute)
	l.LoadRegion(context.Background(), "1,0:", 0)
	assert.Equal(t, 2, backend.FetchCalls())
}

func TestLoadRegionFailure(t *testing.T) {
	store := state.New(state.DefaultConfig())
	backend := testBackend(t)
	l := NewRegionLoader(store, backend, nil, nil)

	boom := errors.New("upstream down")
	backend.FailNextCall(boom)

	res := l.LoadRegion(context.Background(), "1,0:", 0)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, boom)
	assert.ErrorIs(t, store.Err(), boom)
	assert.False(t, store.IsLoading(), "loading flag released on failure")

	_, ok := store.Region("1,0:")
	assert.False(t, ok, "failed load leaves no freshness record")
}

func TestLoadRegionClearsPreviousError(t *testing.T) {
	store := state.New(state.DefaultConfig())
	backend := testBackend(t)
	l := NewRegionLoader(store, backend, nil, nil)

	backend.FailNextCall(errors.New("transient"))
	l.LoadRegion(context.Background(), "1,0:", 0)
	require.Error(t, store.Err())

	res := l.LoadRegion(context.Background(), "1,0:", 0)
	require.True(t, res.Success)
	assert.NoError(t, store.Err())
}

func TestLoadItemChildrenDefaultDepth(t *testing.T) {
	store := state.New(state.DefaultConfig())
	backend := testBackend(t)
	l := NewRegionLoader(store, backend, nil, nil)

	res := l.LoadItemChildren(context.Background(), "1,0:1", 0)
	require.True(t, res.Success)

	meta, ok := store.Region("1,0:1")
	require.True(t, ok)
	assert.Equal(t, defaultChildrenDepth, meta.MaxDepth)
	assert.True(t, store.Has("1,0:1,3"))
}

func TestPrefetchSwallowsFailure(t *testing.T) {
	store := state.New(state.DefaultConfig())
	backend := testBackend(t)
	l := NewRegionLoader(store, backend, nil, nil)

	backend.FailNextCall(errors.New("upstream down"))
	res := l.PrefetchRegion(context.Background(), "1,0:")

	assert.False(t, res.Success)
	assert.NoError(t, store.Err(), "prefetch never sets store error")
	assert.False(t, store.IsLoading(), "prefetch never toggles loading")
}

func TestPrefetchMerges(t *testing.T) {
	store := state.New(state.DefaultConfig())
	backend := testBackend(t)
	l := NewRegionLoader(store, backend, nil, nil)

	res := l.PrefetchRegion(context.Background(), "1,0:")
	require.True(t, res.Success)
	assert.True(t, store.Has("1,0:1"))
	_, ok := store.Region("1,0:")
	assert.True(t, ok)
}
