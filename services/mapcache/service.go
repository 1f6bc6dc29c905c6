// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mapcache assembles the hexagonal tile cache service: the
// normalized store, region loader, ancestor backfill, navigation,
// optimistic mutation coordination and the HTTP/WebSocket surface that
// exposes them.
package mapcache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/hexcache/services/mapcache/config"
	"github.com/AleutianAI/hexcache/services/mapcache/events"
	"github.com/AleutianAI/hexcache/services/mapcache/loader"
	"github.com/AleutianAI/hexcache/services/mapcache/mutation"
	"github.com/AleutianAI/hexcache/services/mapcache/nav"
	"github.com/AleutianAI/hexcache/services/mapcache/remote"
	"github.com/AleutianAI/hexcache/services/mapcache/state"
	"github.com/AleutianAI/hexcache/services/mapcache/storage"
	"github.com/AleutianAI/hexcache/services/mapcache/task"
	"github.com/AleutianAI/hexcache/services/mapcache/telemetry"
	"github.com/AleutianAI/hexcache/services/mapcache/tracker"
)

// ServiceVersion is the map cache service version.
const ServiceVersion = "0.1.0"

// ServiceConfig bundles construction inputs for NewService.
type ServiceConfig struct {
	// Config is the loaded service configuration.
	Config config.Config

	// Logger receives structured logs. Nil falls back to slog.Default.
	Logger *slog.Logger

	// Registry receives the service metrics. Nil uses the default
	// Prometheus registry.
	Registry prometheus.Registerer

	// API overrides the remote collaborator. Nil selects the HTTP
	// client for a configured upstream, or the in-memory backend when
	// none is configured.
	API remote.API
}

// Service owns the cache core and its collaborators.
//
// # Thread Safety
//
// Safe for concurrent use after NewService returns; all shared state
// lives behind the store's serialization point.
type Service struct {
	cfg       config.Config
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	store     *state.Store
	tracker   *tracker.Tracker
	api       remote.API
	regions   *loader.RegionLoader
	ancestors *loader.AncestorLoader
	navigator *nav.Navigator
	mutations *mutation.Coordinator
	bus       *events.Bus
	tasks     *task.Spawner
	history   *nav.MemoryHistory

	db    *storage.DB
	tiles *storage.TileStore

	stopRefresh chan struct{}
	doneRefresh chan struct{}
}

// NewService wires the service from configuration.
//
// The embedded tile database is opened, previously persisted tiles are
// merged into the store to pre-warm it, and the background refresh
// loop is started when configured. Call Close to release everything.
func NewService(sc ServiceConfig) (*Service, error) {
	logger := sc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := sc.Config

	api := sc.API
	if api == nil {
		if cfg.Upstream.BaseURL != "" {
			client, err := remote.NewHTTPClient(remote.HTTPConfig{
				BaseURL: cfg.Upstream.BaseURL,
				Timeout: cfg.Upstream.Timeout,
			})
			if err != nil {
				return nil, fmt.Errorf("configure upstream: %w", err)
			}
			api = client
		} else {
			logger.Info("no upstream configured, using in-memory backend")
			api = remote.NewMemory()
		}
	}

	db, err := storage.Open(storage.Config{
		Path:           cfg.Storage.Path,
		InMemory:       cfg.Storage.InMemory,
		SyncWrites:     cfg.Storage.SyncWrites,
		GCInterval:     cfg.Storage.GCInterval,
		GCDiscardRatio: 0.5,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open tile storage: %w", err)
	}
	tiles := storage.NewTileStore(db, logger)

	metrics := telemetry.NewMetrics(sc.Registry)
	store := state.New(state.Config{
		MaxAge:                    cfg.Cache.MaxAge,
		MaxDepth:                  cfg.Cache.MaxDepth,
		BackgroundRefreshInterval: cfg.Cache.BackgroundRefreshInterval,
	})
	bus := events.NewBus(logger)
	tasks := task.NewSpawner(logger)
	trk := tracker.New()
	history := nav.NewMemoryHistory()

	regions := loader.NewRegionLoader(store, api, logger, metrics).WithBus(bus)
	ancestors := loader.NewAncestorLoader(store, logger, metrics)

	s := &Service{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		store:     store,
		tracker:   trk,
		api:       api,
		regions:   regions,
		ancestors: ancestors,
		bus:       bus,
		tasks:     tasks,
		history:   history,
		db:        db,
		tiles:     tiles,
	}
	s.navigator = nav.NewNavigator(nav.NavigatorConfig{
		Store:     store,
		Regions:   regions,
		Ancestors: ancestors,
		Source:    api,
		Bus:       bus,
		History:   history,
		Tasks:     tasks,
		Logger:    logger,
		Metrics:   metrics,
	})
	s.mutations = mutation.NewCoordinator(mutation.CoordinatorConfig{
		Store:   store,
		API:     api,
		Tracker: trk,
		Persist: tiles,
		Bus:     bus,
		Logger:  logger,
		Metrics: metrics,
	})

	s.warmStore(context.Background())

	if cfg.Cache.BackgroundRefreshInterval > 0 {
		s.stopRefresh = make(chan struct{})
		s.doneRefresh = make(chan struct{})
		go s.refreshLoop(cfg.Cache.BackgroundRefreshInterval)
	}
	return s, nil
}

// warmStore merges previously persisted tiles into the empty store.
// Regions are deliberately not marked fresh: the warm tiles render
// immediately, and the first navigation still refetches them.
func (s *Service) warmStore(ctx context.Context) {
	warm, err := s.tiles.LoadAll(ctx)
	if err != nil {
		s.logger.Warn("pre-warming store failed", "error", err)
		return
	}
	if len(warm) == 0 {
		return
	}
	s.store.Dispatch(state.MergeTiles{Tiles: warm})
	s.logger.Info("store pre-warmed from storage", "tiles", len(warm))
}

// refreshLoop re-checks the current center's region on a fixed
// interval so a long-lived view does not go stale.
func (s *Service) refreshLoop(interval time.Duration) {
	defer close(s.doneRefresh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopRefresh:
			return
		case <-ticker.C:
			center := s.store.Center()
			if center == "" {
				continue
			}
			s.store.Dispatch(state.InvalidateRegion{CoordID: center})
			s.regions.PrefetchRegion(context.Background(), center)
		}
	}
}

// Close stops background work and releases the tile database. Safe to
// call once; in-flight background tasks are waited for.
func (s *Service) Close() error {
	if s.stopRefresh != nil {
		close(s.stopRefresh)
		<-s.doneRefresh
		s.stopRefresh = nil
	}
	s.tasks.Wait()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close tile storage: %w", err)
	}
	return nil
}

// Store exposes the cache store for read access.
func (s *Service) Store() *state.Store { return s.store }

// Bus exposes the domain event bus.
func (s *Service) Bus() *events.Bus { return s.bus }

// Navigator exposes the navigation coordinator.
func (s *Service) Navigator() *nav.Navigator { return s.navigator }

// Mutations exposes the mutation coordinator.
func (s *Service) Mutations() *mutation.Coordinator { return s.mutations }

// Regions exposes the region loader.
func (s *Service) Regions() *loader.RegionLoader { return s.regions }

// Tasks exposes the background task spawner. Tests use its Wait to
// make background completion deterministic.
func (s *Service) Tasks() *task.Spawner { return s.tasks }
