// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
)

// Streamer upgrades a request into a system's event stream.
// *realtime.Hub implements it.
type Streamer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, systemID string)
}

type RealtimeHandler struct {
	hub Streamer
}

func NewRealtimeHandler(hub Streamer) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

// Stream handles GET /api/realtime?token=
// Browsers cannot set headers on a websocket handshake, so RequireAuth
// reads the token from the query string.
func (h *RealtimeHandler) Stream(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	h.hub.ServeWS(w, r, p.SystemID)
}
