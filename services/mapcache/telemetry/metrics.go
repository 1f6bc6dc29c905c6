// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry defines the Prometheus metrics for the map cache
// service.
//
// All metrics use the "mapcache_" prefix. Metrics are registered
// against an injected registerer so tests can use isolated registries.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pre-registered collectors for the service.
//
// Thread Safety: safe for concurrent use after creation.
type Metrics struct {
	// RegionLoadsTotal counts region load attempts by kind
	// (load|children|prefetch) and status (hit|fetched|error).
	RegionLoadsTotal *prometheus.CounterVec

	// RegionLoadDuration records upstream fetch latency in seconds.
	RegionLoadDuration prometheus.Histogram

	// TilesMerged counts tiles merged into the store by source
	// (region|ancestor|mutation|navigation).
	TilesMerged *prometheus.CounterVec

	// NavigationsTotal counts navigations by status (ok|not_found).
	NavigationsTotal *prometheus.CounterVec

	// MutationsTotal counts mutations by type
	// (create|update|delete|move|swap) and status (ok|rolled_back).
	MutationsTotal *prometheus.CounterVec

	// RollbacksTotal counts explicit rollbackChange invocations.
	RollbacksTotal prometheus.Counter

	// PendingChanges tracks the number of in-flight optimistic changes.
	PendingChanges prometheus.Gauge

	// EventsPublished counts domain events by type.
	EventsPublished *prometheus.CounterVec
}

// NewMetrics registers all collectors against reg.
//
// A nil reg falls back to the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RegionLoadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mapcache_region_loads_total",
			Help: "Region load attempts by kind and status",
		}, []string{"kind", "status"}),
		RegionLoadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mapcache_region_load_duration_seconds",
			Help:    "Upstream region fetch latency",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		TilesMerged: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mapcache_tiles_merged_total",
			Help: "Tiles merged into the store by source",
		}, []string{"source"}),
		NavigationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mapcache_navigations_total",
			Help: "Navigations by status",
		}, []string{"status"}),
		MutationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mapcache_mutations_total",
			Help: "Optimistic mutations by type and status",
		}, []string{"type", "status"}),
		RollbacksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mapcache_rollbacks_total",
			Help: "Explicit rollback invocations",
		}),
		PendingChanges: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mapcache_pending_changes",
			Help: "In-flight optimistic changes",
		}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mapcache_events_published_total",
			Help: "Domain events published by type",
		}, []string{"type"}),
	}
}
