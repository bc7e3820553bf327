package httpapi

import (
	"context"
	"net/http"
	"time"

	"smart-care/internal/calls"
	"smart-care/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval = 30 * time.Second
	eventWriteTimeout   = 10 * time.Second
)

// callEvent is one frame on the events stream.
type callEvent struct {
	Type string           `json:"type"`
	Call calls.CallRecord `json:"call"`
}

// Events streams every change to the authenticated user's calls over a
// websocket until either side closes it.
func (h Handlers) Events(c *gin.Context) {
	uid, _, ok := identity(c)
	if !ok {
		return
	}
	log := logger.FromGin(c).With("user_id", uid)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sub, err := h.Channel.Subscribe(ctx, uid)
	if err != nil {
		log.Error("event subscribe failed", "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "signal channel unavailable"})
		return
	}
	defer sub.Close()

	conn, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	log.Info("event stream connected")

	// Drain incoming frames so control messages are processed; any read error
	// means the client went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	interval := h.PingInterval
	if interval <= 0 {
		interval = defaultPingInterval
	}
	ping := time.NewTicker(interval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("event stream disconnected")
			return
		case <-ping.C:
			deadline := time.Now().Add(eventWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case rec, ok := <-sub.Events():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream ended"),
					time.Now().Add(eventWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(callEvent{Type: "call", Call: rec}); err != nil {
				log.Warn("event write failed", "call_id", rec.ID, "err", err)
				return
			}
		}
	}
}
