// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mapcache

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all map cache routes with the router group.
//
// Description:
//
//	Registers all /v1/mapcache/* endpoints with the given Gin router
//	group. The group should already have any required middleware.
//
// Endpoints:
//
//	POST   /v1/mapcache/navigate             - Navigate to a tile by stable id
//	POST   /v1/mapcache/region/load          - Load a region around a coordinate
//	GET    /v1/mapcache/tiles?coord_id=      - Get one cached tile
//	GET    /v1/mapcache/tiles/all            - List cached tiles
//	POST   /v1/mapcache/tiles                - Create a tile
//	PATCH  /v1/mapcache/tiles                - Update tile content
//	DELETE /v1/mapcache/tiles?coord_id=      - Delete a tile
//	POST   /v1/mapcache/tiles/move           - Move or swap tiles
//	GET    /v1/mapcache/changes              - List pending optimistic changes
//	POST   /v1/mapcache/changes/:id/rollback - Undo one pending change
//	POST   /v1/mapcache/changes/rollback_all - Undo every pending change
//	GET    /v1/mapcache/state                - Current view state
//	GET    /v1/mapcache/events/ws            - WebSocket domain event stream
//	GET    /v1/mapcache/health               - Health check
//	GET    /v1/mapcache/ready                - Readiness check
//
// Example:
//
//	svc, _ := mapcache.NewService(mapcache.ServiceConfig{Config: cfg})
//	handlers := mapcache.NewHandlers(svc)
//
//	v1 := router.Group("/v1")
//	mapcache.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	mc := rg.Group("/mapcache")
	{
		// Navigation and loading
		mc.POST("/navigate", handlers.HandleNavigate)
		mc.POST("/region/load", handlers.HandleLoadRegion)

		// Tiles
		mc.GET("/tiles", handlers.HandleGetTile)
		mc.GET("/tiles/all", handlers.HandleListTiles)
		mc.POST("/tiles", handlers.HandleCreateTile)
		mc.PATCH("/tiles", handlers.HandleUpdateTile)
		mc.DELETE("/tiles", handlers.HandleDeleteTile)
		mc.POST("/tiles/move", handlers.HandleMoveTile)

		// Pending changes
		mc.GET("/changes", handlers.HandleListChanges)
		mc.POST("/changes/:id/rollback", handlers.HandleRollbackChange)
		mc.POST("/changes/rollback_all", handlers.HandleRollbackAll)

		// View state and events
		mc.GET("/state", handlers.HandleGetState)
		mc.GET("/events/ws", handlers.HandleEventsWebSocket)

		// Health checks
		mc.GET("/health", handlers.HandleHealth)
		mc.GET("/ready", handlers.HandleReady)
	}
}
