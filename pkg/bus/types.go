package bus

import "time"

type InboundMessage struct {
	Channel    string            `json:"channel"`
	MessageID  string            `json:"message_id,omitempty"`
	SenderID   string            `json:"sender_id"`
	ChatID     string            `json:"chat_id"`
	Phone      string            `json:"phone"`
	SenderName string            `json:"sender_name,omitempty"`
	Content    string            `json:"content"`
	IsGroup    bool              `json:"is_group"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ReplyTo is the address outbound replies go to.
func (m InboundMessage) ReplyTo() string {
	if m.ChatID != "" {
		return m.ChatID
	}
	return m.SenderID
}

type EventType string

const (
	EventStatus       EventType = "status"
	EventQRCode       EventType = "qrCode"
	EventReady        EventType = "ready"
	EventDisconnected EventType = "disconnected"
	EventInitFailed   EventType = "initFailed"
)

// Event is a session lifecycle notification for external observers such as
// the admin dashboard.
type Event struct {
	Type EventType `json:"type"`
	Data string    `json:"data,omitempty"`
	At   time.Time `json:"at"`
}
