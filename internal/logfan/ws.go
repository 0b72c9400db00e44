package logfan

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WSHandler serves the websocket endpoints: one for worker log upload,
// one for viewers following a worker's stream.
type WSHandler struct {
	hub      *Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates the websocket handler pair around a hub.
func NewWSHandler(hub *Hub, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Viewers connect from the dashboard origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Worker accepts a worker's log upload socket. Each text frame is one
// log record, fanned out in arrival order.
func (h *WSHandler) Worker(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "hostname", hostname)
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("worker log socket closed", "error", err, "hostname", hostname)
			}
			return
		}
		h.hub.Publish(hostname, msg)
	}
}

// Viewer streams a worker's log records to a subscriber, starting with
// the bounded replay window.
func (h *WSHandler) Viewer(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "hostname", hostname)
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(hostname)
	defer sub.Close()

	// Drain client frames so close handshakes and pongs are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-sub.Ch():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, rec); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
