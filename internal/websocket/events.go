package websocket

import (
	"github.com/event-reminders/backend/internal/logger"
)

// Publisher encodes typed messages and hands them to the hub.
type Publisher struct {
	hub *Hub
	log *logger.Logger
}

// NewPublisher creates a new publisher.
func NewPublisher(hub *Hub) *Publisher {
	return &Publisher{hub: hub, log: logger.Named("websocket")}
}

// SendToUser delivers a message to every connection of the user. Encoding
// failures are logged and the message is dropped.
func (p *Publisher) SendToUser(userID string, msgType MessageType, payload any) {
	data, err := NewMessage(msgType, payload).JSON()
	if err != nil {
		p.log.Errorw("Failed to marshal WebSocket message", "type", msgType, "error", err)
		return
	}
	p.hub.SendToUser(userID, data)
}
