// Package domain contains core concepts of the messaging system.
// This file defines Message and the per-conversation aggregate.
package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindLocation MessageKind = "location"
)

// DeliveryState advances monotonically sent -> delivered -> read and never
// regresses.
type DeliveryState string

const (
	StateSent      DeliveryState = "sent"
	StateDelivered DeliveryState = "delivered"
	StateRead      DeliveryState = "read"
)

func (s DeliveryState) rank() int {
	switch s {
	case StateSent:
		return 0
	case StateDelivered:
		return 1
	case StateRead:
		return 2
	default:
		return -1
	}
}

// Advance returns the later of the two states, enforcing monotonicity.
func (s DeliveryState) Advance(to DeliveryState) DeliveryState {
	if to.rank() > s.rank() {
		return to
	}
	return s
}

// Message is immutable after creation except DeliveryState and ReadBy,
// which only grow.
type Message struct {
	ID             uuid.UUID      `json:"id"`
	ConversationID ConversationID `json:"conversationId"`
	SenderID       string         `json:"senderId"`
	Content        string         `json:"content"`
	Kind           MessageKind    `json:"kind"`
	DeliveryState  DeliveryState  `json:"deliveryState"`
	ReadBy         []string       `json:"readBy,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// WasReadBy reports whether the identity already appears in the read-by set.
func (m Message) WasReadBy(identity string) bool {
	for _, r := range m.ReadBy {
		if r == identity {
			return true
		}
	}
	return false
}

// ConversationAggregate is the per-conversation rollup: the last message
// pointer and one unread counter per participant.
type ConversationAggregate struct {
	ConversationID ConversationID `json:"conversationId"`
	LastMessageID  uuid.UUID      `json:"lastMessageId"`
	LastMessageAt  time.Time      `json:"lastMessageAt"`
	UnreadCount    map[string]int `json:"unreadCount"`
}

// Unread returns the unread counter for an identity, zero when absent.
func (a ConversationAggregate) Unread(identity string) int {
	return a.UnreadCount[identity]
}
