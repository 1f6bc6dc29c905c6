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
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/hexcache/pkg/validation"
	"github.com/AleutianAI/hexcache/services/mapcache/coord"
	"github.com/AleutianAI/hexcache/services/mapcache/mutation"
	"github.com/AleutianAI/hexcache/services/mapcache/nav"
	"github.com/AleutianAI/hexcache/services/mapcache/remote"
)

// ErrorResponse is the JSON error shape for all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// NavigateRequest is the body of POST /v1/mapcache/navigate.
type NavigateRequest struct {
	ItemID        string `json:"item_id" binding:"required"`
	PushToHistory *bool  `json:"push_to_history,omitempty"`
}

// NavigateResponse reports the navigation outcome plus the view state
// the client should render.
type NavigateResponse struct {
	Success       bool     `json:"success"`
	CenterUpdated bool     `json:"center_updated"`
	URLUpdated    bool     `json:"url_updated"`
	CenterCoordID string   `json:"center_coord_id"`
	ExpandedDBIDs []string `json:"expanded_db_ids"`
	URL           string   `json:"url"`
}

// LoadRegionRequest is the body of POST /v1/mapcache/region/load.
type LoadRegionRequest struct {
	CenterCoordID string `json:"center_coord_id" binding:"required"`
	MaxDepth      int    `json:"max_depth,omitempty"`
}

// LoadRegionResponse reports a region load.
type LoadRegionResponse struct {
	Success     bool `json:"success"`
	ItemsLoaded int  `json:"items_loaded"`
	CachedTiles int  `json:"cached_tiles"`
}

// CreateTileRequest is the body of POST /v1/mapcache/tiles.
type CreateTileRequest struct {
	CoordID    string        `json:"coord_id" binding:"required"`
	ParentDBID string        `json:"parent_db_id,omitempty"`
	Fields     remote.Fields `json:"fields"`
}

// UpdateTileRequest is the body of PATCH /v1/mapcache/tiles.
type UpdateTileRequest struct {
	CoordID string        `json:"coord_id" binding:"required"`
	Fields  remote.Fields `json:"fields"`
}

// MoveTileRequest is the body of POST /v1/mapcache/tiles/move.
type MoveTileRequest struct {
	SourceCoordID string `json:"source_coord_id" binding:"required"`
	TargetCoordID string `json:"target_coord_id" binding:"required"`
}

// ChangeSummary is one pending optimistic change, as reported by
// GET /v1/mapcache/changes.
type ChangeSummary struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CoordID   string    `json:"coord_id"`
	TrackedAt time.Time `json:"tracked_at"`
}

// Handlers contains the HTTP handlers for the map cache service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleNavigate handles POST /v1/mapcache/navigate.
//
// Response:
//
//	200 OK: NavigateResponse (Success=false when the item could not be
//	        resolved; the view state is then unchanged)
//	400 Bad Request: Validation error
func (h *Handlers) HandleNavigate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.svc.logger.With("request_id", requestID, "handler", "HandleNavigate")

	var req NavigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	if err := validation.ValidateItemID(req.ItemID); err != nil {
		logger.Warn("invalid item id", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	opts := nav.DefaultOptions()
	if req.PushToHistory != nil {
		opts.PushToHistory = *req.PushToHistory
	}
	res := h.svc.navigator.NavigateToItem(c.Request.Context(), req.ItemID, opts)
	c.JSON(http.StatusOK, NavigateResponse{
		Success:       res.Success,
		CenterUpdated: res.CenterUpdated,
		URLUpdated:    res.URLUpdated,
		CenterCoordID: h.svc.store.Center(),
		ExpandedDBIDs: h.svc.store.Expanded(),
		URL:           h.svc.history.Current(),
	})
}

// HandleLoadRegion handles POST /v1/mapcache/region/load.
func (h *Handlers) HandleLoadRegion(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.svc.logger.With("request_id", requestID, "handler", "HandleLoadRegion")

	var req LoadRegionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	res := h.svc.regions.LoadRegion(c.Request.Context(), req.CenterCoordID, req.MaxDepth)
	if !res.Success {
		writeError(c, logger, "region load failed", res.Err)
		return
	}
	c.JSON(http.StatusOK, LoadRegionResponse{
		Success:     true,
		ItemsLoaded: res.ItemsLoaded,
		CachedTiles: h.svc.store.Len(),
	})
}

// HandleGetTile handles GET /v1/mapcache/tiles?coord_id=...
//
// Coordinate ids contain ',' and ':', so the id travels as a query
// parameter rather than a path segment.
func (h *Handlers) HandleGetTile(c *gin.Context) {
	coordID := c.Query("coord_id")
	if coordID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "coord_id is required", Code: "INVALID_REQUEST"})
		return
	}
	t, ok := h.svc.store.Item(coordID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no tile cached at coordinate", Code: "NOT_FOUND"})
		return
	}
	c.JSON(http.StatusOK, t)
}

// HandleListTiles handles GET /v1/mapcache/tiles/all.
func (h *Handlers) HandleListTiles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tiles": h.svc.store.Items(), "count": h.svc.store.Len()})
}

// HandleCreateTile handles POST /v1/mapcache/tiles.
func (h *Handlers) HandleCreateTile(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.svc.logger.With("request_id", requestID, "handler", "HandleCreateTile")

	var req CreateTileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	if req.ParentDBID != "" {
		if err := validation.ValidateItemID(req.ParentDBID); err != nil {
			logger.Warn("invalid parent id", "error", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
			return
		}
	}

	created, err := h.svc.mutations.CreateItem(c.Request.Context(), req.CoordID, req.ParentDBID, req.Fields)
	if err != nil {
		writeError(c, logger, "create failed", err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// HandleUpdateTile handles PATCH /v1/mapcache/tiles.
func (h *Handlers) HandleUpdateTile(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.svc.logger.With("request_id", requestID, "handler", "HandleUpdateTile")

	var req UpdateTileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	updated, err := h.svc.mutations.UpdateItem(c.Request.Context(), req.CoordID, req.Fields)
	if err != nil {
		writeError(c, logger, "update failed", err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// HandleDeleteTile handles DELETE /v1/mapcache/tiles?coord_id=...
func (h *Handlers) HandleDeleteTile(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.svc.logger.With("request_id", requestID, "handler", "HandleDeleteTile")

	coordID := c.Query("coord_id")
	if coordID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "coord_id is required", Code: "INVALID_REQUEST"})
		return
	}
	if err := h.svc.mutations.DeleteItem(c.Request.Context(), coordID); err != nil {
		writeError(c, logger, "delete failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleMoveTile handles POST /v1/mapcache/tiles/move.
func (h *Handlers) HandleMoveTile(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.svc.logger.With("request_id", requestID, "handler", "HandleMoveTile")

	var req MoveTileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
		return
	}
	if err := h.svc.mutations.MoveItem(c.Request.Context(), req.SourceCoordID, req.TargetCoordID); err != nil {
		writeError(c, logger, "move failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleListChanges handles GET /v1/mapcache/changes.
func (h *Handlers) HandleListChanges(c *gin.Context) {
	pending := h.svc.mutations.PendingChanges()
	out := make([]ChangeSummary, 0, len(pending))
	for _, change := range pending {
		out = append(out, ChangeSummary{
			ID:        change.ID,
			Type:      string(change.Type),
			CoordID:   change.CoordID,
			TrackedAt: change.TrackedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"changes": out, "count": len(out)})
}

// HandleRollbackChange handles POST /v1/mapcache/changes/:id/rollback.
func (h *Handlers) HandleRollbackChange(c *gin.Context) {
	h.svc.mutations.RollbackChange(c.Param("id"))
	c.Status(http.StatusNoContent)
}

// HandleRollbackAll handles POST /v1/mapcache/changes/rollback_all.
func (h *Handlers) HandleRollbackAll(c *gin.Context) {
	h.svc.mutations.RollbackAll()
	c.Status(http.StatusNoContent)
}

// HandleGetState handles GET /v1/mapcache/state: the current view
// state a client needs to render (center, expansion, cache size).
func (h *Handlers) HandleGetState(c *gin.Context) {
	store := h.svc.store
	var storeErr string
	if err := store.Err(); err != nil {
		storeErr = err.Error()
	}
	c.JSON(http.StatusOK, gin.H{
		"center_coord_id": store.Center(),
		"expanded_db_ids": store.Expanded(),
		"cached_tiles":    store.Len(),
		"is_loading":      store.IsLoading(),
		"error":           storeErr,
		"url":             h.svc.history.Current(),
	})
}

// HandleHealth handles GET /v1/mapcache/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": ServiceVersion,
	})
}

// HandleReady handles GET /v1/mapcache/ready. The service is ready
// once the tile database is open, which NewService guarantees.
func (h *Handlers) HandleReady(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

// writeError maps domain errors onto HTTP statuses.
func writeError(c *gin.Context, logger *slog.Logger, msg string, err error) {
	status := http.StatusBadGateway
	code := "UPSTREAM_ERROR"
	switch {
	case errors.Is(err, coord.ErrInvalidCoordinate):
		status = http.StatusBadRequest
		code = "INVALID_COORDINATE"
	case errors.Is(err, mutation.ErrNotCached):
		status = http.StatusConflict
		code = "NOT_CACHED"
	case errors.Is(err, remote.ErrNotFound):
		status = http.StatusNotFound
		code = "NOT_FOUND"
	case errors.Is(err, remote.ErrTimeout):
		status = http.StatusGatewayTimeout
		code = "UPSTREAM_TIMEOUT"
	}
	logger.Warn(msg, "error", err, "status", status)
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
