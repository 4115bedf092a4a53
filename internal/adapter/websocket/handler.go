package websocket

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"

	"github.com/pscheid92/racecontrol/internal/broadcast"
)

// Handler serves the /ws endpoint: each connection becomes a hub subscriber
// for session lifecycle events until it closes.
type Handler struct {
	hub      *broadcast.Hub
	clock    clockwork.Clock
	upgrader websocket.Upgrader
}

func NewHandler(hub *broadcast.Hub, clock clockwork.Clock, checkOrigin func(r *http.Request) bool) *Handler {
	return &Handler{
		hub:   hub,
		clock: clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

func (h *Handler) Serve(c echo.Context) error {
	// Upgrade writes its own error response.
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.DebugContext(c.Request().Context(), "WebSocket upgrade failed", "error", err)
		return nil
	}

	sub := newSubscriber(conn, h.clock)
	if err := h.hub.Connect(sub); err != nil {
		_ = sub.Close("server shutting down")
		return nil
	}
	slog.Debug("subscriber connected", "subscriber", sub.ID(), "remote_addr", c.RealIP())

	defer func() {
		h.hub.Disconnect(sub)
		_ = sub.Close("connection closed")
		slog.Debug("subscriber disconnected", "subscriber", sub.ID())
	}()

	go sub.pingLoop()
	sub.readLoop()
	return nil
}
