// Package ws streams graph mutations to visualization clients over
// websockets. Each connection gets the current active-context snapshot,
// then a live feed from the change notifier.
package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"knowledge-engine/backend/internal/engine"
	"knowledge-engine/backend/internal/notify"
	"knowledge-engine/backend/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Hub upgrades connections and fans the engine's event stream out to them
type Hub struct {
	engine   *engine.Engine
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewHub(eng *engine.Engine) *Hub {
	return &Hub{
		engine: eng,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the REST layer already applies CORS policy
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.Get(),
	}
}

// envelope is the wire format for every message pushed to a client
type envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Serve upgrades the request and runs the connection until the client leaves
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := h.engine.Subscribe()
	h.logger.Info("viewer connected", zap.String("subscription", sub.ID))

	go h.writePump(conn, sub, r)
	h.readPump(conn, sub)
}

// readPump discards client frames and tears the subscription down on close
func (h *Hub) readPump(conn *websocket.Conn, sub *notify.Subscription) {
	defer func() {
		sub.Cancel()
		conn.Close()
	}()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("viewer read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, sub *notify.Subscription, r *http.Request) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	if err := h.sendSnapshot(conn, r); err != nil {
		h.logger.Warn("initial snapshot failed", zap.Error(err))
		return
	}

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			msg := envelope{
				Type:      string(event.Type),
				Payload:   event.Payload,
				Timestamp: event.Timestamp,
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendSnapshot pushes the active context so a new viewer starts from the
// current in-view graph instead of an empty screen.
func (h *Hub) sendSnapshot(conn *websocket.Conn, r *http.Request) error {
	snapshot, err := h.engine.ContextSnapshot(r.Context())
	if err != nil {
		return err
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(envelope{
		Type:      "initial_data",
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}
