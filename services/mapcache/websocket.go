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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

const (
	// wsWriteWait bounds one event write to a slow client.
	wsWriteWait = 10 * time.Second

	// wsPingInterval keeps idle connections alive through proxies.
	wsPingInterval = 30 * time.Second
)

// HandleEventsWebSocket handles GET /v1/mapcache/events/ws.
//
// # Description
//
// Upgrades the connection and streams domain events (navigation, tile
// created/updated/deleted/moved, swaps) as JSON until the client
// disconnects. Subscribers are passive: a client that cannot keep up
// loses events rather than slowing publishers down.
func (h *Handlers) HandleEventsWebSocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.svc.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	events, cancel := h.svc.bus.Subscribe()
	defer cancel()
	h.svc.logger.Info("event stream client connected", "remote", ws.RemoteAddr().String())

	// Drain client frames so close/pong handling works; inbound data
	// is otherwise ignored.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteJSON(e); err != nil {
				h.svc.logger.Info("event stream client disconnected", "error", err)
				return
			}
		case <-ping.C:
			ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
