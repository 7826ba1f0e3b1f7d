// Package event defines the wire protocol exchanged over a live connection:
// the frame envelope, inbound payloads, and outbound event payloads.
package event

import (
	"encoding/json"
	"time"

	"roomlink/domain"

	"github.com/google/uuid"
)

type Name string

// Inbound event names.
const (
	ChatSend   Name = "chat:send"
	ChatTyping Name = "chat:typing"
	ChatRead   Name = "chat:read"
	RoomJoin   Name = "room:join"
	RoomLeave  Name = "room:leave"
)

// Outbound event names.
const (
	MessageNew  Name = "message:new"
	MessageSent Name = "message:sent"
	MessageRead Name = "message:read"
	TypingStart Name = "typing:start"
	TypingStop  Name = "typing:stop"
	UserOnline  Name = "user:online"
	UserOffline Name = "user:offline"
	RoomJoined  Name = "room:joined"
	Error       Name = "error"
)

// Envelope is the single frame format in both directions. Inbound frames
// carry Data as raw JSON so the dispatcher can validate the shape against
// the event's own payload type before acting on it.
type Envelope struct {
	Event Name            `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound wraps an already-typed payload for delivery.
type Outbound struct {
	Event Name `json:"event"`
	Data  any  `json:"data,omitempty"`
}

// Inbound payloads. The validate tags are the event's shape contract.

type SendMessage struct {
	ConversationID string `json:"conversationId" validate:"required"`
	Content        string `json:"content" validate:"required"`
	Kind           string `json:"kind" validate:"required,oneof=text image location"`
}

type Typing struct {
	ConversationID string `json:"conversationId" validate:"required"`
	IsTyping       bool   `json:"isTyping"`
}

type Read struct {
	ConversationID string   `json:"conversationId" validate:"required"`
	MessageIDs     []string `json:"messageIds" validate:"required,min=1,dive,uuid"`
}

type JoinRoom struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

type LeaveRoom struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

// Outbound payloads.

type MessagePayload struct {
	Message domain.Message `json:"message"`
}

type ReadPayload struct {
	ConversationID string      `json:"conversationId"`
	ReaderID       string      `json:"readerId"`
	MessageIDs     []uuid.UUID `json:"messageIds"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

type PresencePayload struct {
	UserID string    `json:"userId"`
	At     time.Time `json:"at"`
}

type JoinedPayload struct {
	ConversationID string `json:"conversationId"`
}

// ErrorPayload carries a machine-readable code and, for rate limiting, a
// retry-after hint in seconds. Never includes internals.
type ErrorPayload struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}
