package domain

import "time"

// MessageKind is the declared shape of an inbound message. It comes from the
// transport and may disagree with the actual bytes.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindDocument MessageKind = "document"
)

// InboundMessage is an immutable view of one received chat message.
type InboundMessage struct {
	ID             string
	Channel        string
	ConversationID string
	SenderID       string
	Kind           MessageKind
	Body           string
	Caption        string
	Filename       string
	MimeType       string // declared by the sender, never trusted
	MediaRef       string // transport-specific handle used by FetchMedia
	Timestamp      time.Time
}

// HasMedia reports whether the transport attached a fetchable payload.
func (m InboundMessage) HasMedia() bool {
	return m.MediaRef != ""
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of a conversation's chat history.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}
