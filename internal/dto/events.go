package dto

import "e2ee-relay/internal/domain"

// Event type discriminators on the persistent channel. Every frame is a JSON
// object carrying a "type" field plus the event's own payload fields.
const (
	EventAuthenticate   = "authenticate"
	EventAuthenticated  = "authenticated"
	EventError          = "error"
	EventUserStatus     = "user_status"
	EventPrivateMessage = "private_message"
	EventMessageSent    = "message_sent"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// AuthenticateEvent binds a connection to the identity the token proves.
type AuthenticateEvent struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// AuthenticatedEvent replays the identity's full conversation history on a
// successful handshake.
type AuthenticatedEvent struct {
	Type     string        `json:"type"`
	Username string        `json:"username"`
	Chats    []domain.Chat `json:"chats"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// UserStatusEvent is broadcast to every authenticated connection when an
// identity comes online or goes offline.
type UserStatusEvent struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Status   string `json:"status"`
}

// PrivateMessageEvent is the client's send request. Message carries optional
// plaintext, Envelope the sealed body; at least one must be present and
// plaintext alone is accepted only when the relay allows it.
type PrivateMessageEvent struct {
	Type     string           `json:"type"`
	To       string           `json:"to"`
	Message  string           `json:"message,omitempty"`
	Envelope *domain.Envelope `json:"encryptedEnvelope,omitempty"`
}

// MessageEvent forwards a stored message to the recipient's live connection.
type MessageEvent struct {
	Type string `json:"type"`
	domain.Message
}

// MessageSentEvent acknowledges a send to the sender, carrying the message as
// stored, whether or not the recipient was online.
type MessageSentEvent struct {
	Type    string         `json:"type"`
	Success bool           `json:"success"`
	Message domain.Message `json:"message"`
}
