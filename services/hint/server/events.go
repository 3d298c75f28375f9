// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// subscriberBuffer is how far a subscriber may fall behind before it
	// starts missing events.
	subscriberBuffer = 32

	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// subscriber is one /v1/events connection. An empty unit receives every
// event.
type subscriber struct {
	events  chan Event
	unit    string
	dropped atomic.Int64
}

func (s *subscriber) wants(evt Event) bool {
	return s.unit == "" || s.unit == evt.Unit
}

// Hub fans pipeline events out to websocket subscribers.
//
// Thread Safety: Safe for concurrent use.
type Hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
	logger *slog.Logger
}

// NewHub creates a hub with no subscribers.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[*subscriber]struct{}), logger: logger}
}

// Publish hands evt to each interested subscriber. It never blocks: a
// subscriber with a full buffer misses the event and its drop count grows.
func (h *Hub) Publish(evt Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if !sub.wants(evt) {
			continue
		}
		select {
		case sub.events <- evt:
		default:
			n := sub.dropped.Add(1)
			h.logger.Warn("event dropped for slow subscriber",
				slog.String("unit", evt.Unit), slog.Int64("dropped", n))
		}
	}
}

// Subscribers is the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription and refuses new ones. Idempotent.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.events)
		delete(h.subs, sub)
	}
}

// subscribe registers a subscriber for unit, or for everything when unit
// is empty. It fails once the hub is closed.
func (h *Hub) subscribe(unit string) (*subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	sub := &subscriber{events: make(chan Event, subscriberBuffer), unit: unit}
	h.subs[sub] = struct{}{}
	return sub, true
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// handleEvents serves GET /v1/events[?unit=name]: a websocket of JSON
// events that lasts until the client leaves or the hub closes.
func (h *Hub) handleEvents(c *gin.Context) {
	sub, ok := h.subscribe(c.Query("unit"))
	if !ok {
		abort(c, http.StatusServiceUnavailable, "SHUTTING_DOWN", "server is shutting down")
		return
	}
	defer h.unsubscribe(sub)

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	log := h.logger.With(slog.String("remote", c.ClientIP()), slog.String("unit_filter", sub.unit))
	log.Debug("event subscriber connected")
	defer func() {
		log.Debug("event subscriber left", slog.Int64("dropped", sub.dropped.Load()))
	}()

	stream(c, ws, sub.events, log)
}

// stream copies events to ws. Incoming frames are read and discarded so
// the peer closing is noticed.
func stream(c *gin.Context, ws *websocket.Conn, events <-chan Event, log *slog.Logger) {
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	deadline := func() time.Time { return time.Now().Add(writeWait) }
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-gone:
			return
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline()); err != nil {
				return
			}
		case evt, open := <-events:
			if !open {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown")
				_ = ws.WriteControl(websocket.CloseMessage, msg, deadline())
				return
			}
			_ = ws.SetWriteDeadline(deadline())
			if err := ws.WriteJSON(evt); err != nil {
				log.Debug("event write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}
