// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events broadcasts map cache domain events to passive
// subscribers.
//
// Publishers never block on slow subscribers: each subscription has a
// bounded channel and events that do not fit are dropped and counted.
// Subscribers that need a complete record belong on the server side of
// the remote collaborator, not here.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type tags a domain event.
type Type string

const (
	TypeNavigation       Type = "navigation"
	TypeRegionLoaded     Type = "region_loaded"
	TypeTileCreated      Type = "tile_created"
	TypeTileUpdated      Type = "tile_updated"
	TypeTileDeleted      Type = "tile_deleted"
	TypeTileMoved        Type = "tile_moved"
	TypeTilesSwapped     Type = "tiles_swapped"
	TypeChangeRolledBack Type = "change_rolled_back"
)

// Event is one broadcast domain event.
type Event struct {
	// ID is unique per event.
	ID string `json:"id"`

	// Type tags the payload shape.
	Type Type `json:"type"`

	// Source names the component that emitted the event.
	Source string `json:"source"`

	// At is the emission time.
	At time.Time `json:"at"`

	// Payload is one of the payload structs below, matching Type.
	Payload any `json:"payload"`
}

// NavigationPayload accompanies TypeNavigation.
type NavigationPayload struct {
	FromCenterID string `json:"from_center_id"`
	ToCenterID   string `json:"to_center_id"`
	ToCenterName string `json:"to_center_name"`
}

// TilePayload accompanies the created/updated/deleted event types.
type TilePayload struct {
	CoordID string `json:"coord_id"`
	DBID    string `json:"db_id"`
	Title   string `json:"title,omitempty"`
}

// MovePayload accompanies TypeTileMoved.
type MovePayload struct {
	FromCoordID string `json:"from_coord_id"`
	ToCoordID   string `json:"to_coord_id"`
	DBID        string `json:"db_id"`
}

// RegionPayload accompanies TypeRegionLoaded. Emitted only when an
// upstream fetch actually ran, never for a fresh-region no-op.
type RegionPayload struct {
	CenterCoordID string `json:"center_coord_id"`
	MaxDepth      int    `json:"max_depth"`
	ItemsLoaded   int    `json:"items_loaded"`
}

// RollbackPayload accompanies TypeChangeRolledBack.
type RollbackPayload struct {
	ChangeID string `json:"change_id"`
	Kind     string `json:"kind"`
	CoordID  string `json:"coord_id"`
}

// SwapPayload accompanies TypeTilesSwapped.
type SwapPayload struct {
	FirstCoordID  string `json:"first_coord_id"`
	SecondCoordID string `json:"second_coord_id"`
	FirstDBID     string `json:"first_db_id"`
	SecondDBID    string `json:"second_db_id"`
}

// subscriberBuffer is the per-subscription channel capacity.
const subscriberBuffer = 64

// Bus fans events out to subscribers.
//
// # Thread Safety
//
// Safe for concurrent use.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	nextSub int
	dropped int64
	logger  *slog.Logger
}

// NewBus creates a bus. A nil logger falls back to slog.Default().
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subs: make(map[int]chan Event), logger: logger}
}

// Subscribe registers a subscriber. The returned cancel function must
// be called to release the subscription; after cancel the channel is
// closed.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

// Publish stamps and broadcasts an event. Missing ID and At fields are
// filled in. Slow subscribers lose the event; the drop is logged and
// counted, never blocks the publisher.
func (b *Bus) Publish(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped++
			b.logger.Warn("event dropped for slow subscriber",
				"subscriber", id, "event_type", string(e.Type), "event_id", e.ID)
		}
	}
	return e
}

// Dropped returns how many events were dropped across all subscribers.
func (b *Bus) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
