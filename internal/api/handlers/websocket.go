package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/event-reminders/backend/internal/api/middleware"
	"github.com/event-reminders/backend/internal/logger"
	ws "github.com/event-reminders/backend/internal/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 65536
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

var wsLog = logger.Named("websocket")

// WebSocketUpgrade returns a handler that upgrades HTTP connections to
// WebSocket. The connection receives the reminders of the authenticated
// user only.
func WebSocketUpgrade(hub *ws.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserID(r.Context())

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			wsLog.Warnw("WebSocket upgrade failed", "user_id", userID, "error", err)
			return
		}

		client := ws.NewClient(hub, userID)
		replies := make(chan []byte, 8)
		reply(replies, ws.TypeConnected, ws.ConnectedPayload{UserID: userID})

		hub.Register(client)

		go writePump(conn, client, replies)
		go readPump(conn, client, hub, replies)
	}
}

// reply queues a message for this connection only. Replies are dropped when
// the client is not reading.
func reply(replies chan<- []byte, msgType ws.MessageType, payload any) {
	data, err := ws.NewMessage(msgType, payload).JSON()
	if err != nil {
		return
	}
	select {
	case replies <- data:
	default:
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func writePump(conn *websocket.Conn, client *ws.Client, replies <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case message := <-replies:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client commands until the connection closes.
func readPump(conn *websocket.Conn, client *ws.Client, hub *ws.Hub, replies chan<- []byte) {
	defer func() {
		hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				wsLog.Warnw("WebSocket read error", "user_id", client.UserID(), "error", err)
			}
			break
		}
		handleClientMessage(message, replies)
	}
}

// handleClientMessage answers client commands. Only ping is understood.
func handleClientMessage(message []byte, replies chan<- []byte) {
	var msg ws.Message
	if err := json.Unmarshal(message, &msg); err != nil {
		reply(replies, ws.TypeError, ws.ErrorPayload{Code: "invalid_message", Message: "Message must be JSON"})
		return
	}
	switch msg.Type {
	case ws.TypePing:
		reply(replies, ws.TypePong, nil)
	default:
		reply(replies, ws.TypeError, ws.ErrorPayload{
			Code:         "unknown_type",
			Message:      "Unsupported message type",
			OriginalType: string(msg.Type),
		})
	}
}
