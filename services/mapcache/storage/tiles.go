// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/hexcache/services/mapcache/tile"
)

// tilePrefix namespaces tile records so the database can later hold
// other record kinds without key collisions.
const tilePrefix = "tile/"

// TileStore reads and writes tiles keyed by coordinate id.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions provide isolation.
type TileStore struct {
	db     *DB
	logger *slog.Logger
}

// NewTileStore creates a tile store over an open database. Logger may
// be nil.
func NewTileStore(db *DB, logger *slog.Logger) *TileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TileStore{db: db, logger: logger}
}

// SaveTile upserts one tile. Transient UI state is stripped before the
// write; it is meaningless across restarts.
func (s *TileStore) SaveTile(ctx context.Context, t tile.Tile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.State = tile.State{}
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode tile %s: %w", t.Metadata.CoordID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(tilePrefix+t.Metadata.CoordID), raw)
	})
	if err != nil {
		return fmt.Errorf("save tile %s: %w", t.Metadata.CoordID, err)
	}
	return nil
}

// RemoveTile deletes the tile at coordID. Missing keys are a no-op.
func (s *TileStore) RemoveTile(ctx context.Context, coordID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(tilePrefix + coordID))
	})
	if err != nil {
		return fmt.Errorf("remove tile %s: %w", coordID, err)
	}
	return nil
}

// GetTile reads one tile back. The second return is false when no tile
// is stored at the coordinate.
func (s *TileStore) GetTile(ctx context.Context, coordID string) (tile.Tile, bool, error) {
	if err := ctx.Err(); err != nil {
		return tile.Tile{}, false, err
	}
	var out tile.Tile
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(tilePrefix + coordID))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &out); err != nil {
				return fmt.Errorf("decode tile %s: %w", coordID, err)
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return tile.Tile{}, false, fmt.Errorf("get tile %s: %w", coordID, err)
	}
	return out, found, nil
}

// LoadAll returns every persisted tile. Used at startup to pre-warm
// the in-memory store; corrupt records are skipped with a warning
// instead of failing the whole load.
func (s *TileStore) LoadAll(ctx context.Context) ([]tile.Tile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []tile.Tile
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(tilePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var t tile.Tile
				if err := json.Unmarshal(val, &t); err != nil {
					s.logger.Warn("skipping corrupt tile record",
						"key", string(it.Item().Key()), "error", err)
					return nil
				}
				out = append(out, t)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load tiles: %w", err)
	}
	return out, nil
}

// Count returns the number of persisted tiles.
func (s *TileStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(tilePrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count tiles: %w", err)
	}
	return n, nil
}
