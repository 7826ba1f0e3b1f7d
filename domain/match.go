// Package domain contains core concepts of the messaging system.
// This file defines the match relationship that backs every conversation.
// No runtime, network, or UI logic should be added here.
package domain

import "time"

// ConversationID identifies a conversation. It is always the identifier of
// the underlying match record: a conversation exists exactly as long as the
// match does.
type ConversationID string

type MatchStatus string

const (
	MatchPending  MatchStatus = "pending"
	MatchAccepted MatchStatus = "accepted"
	MatchDeclined MatchStatus = "declined"
)

// Match is a relationship record between exactly two identities.
// Message exchange is only permitted while Status is accepted AND Mutual is
// true; this is re-checked on every privileged action, never cached.
type Match struct {
	ID        ConversationID
	PartyA    string
	PartyB    string
	Status    MatchStatus
	Mutual    bool
	CreatedAt time.Time
}

// Involves reports whether the identity is one of the two parties.
func (m Match) Involves(identity string) bool {
	return m.PartyA == identity || m.PartyB == identity
}

// OtherParty returns the counterpart of the given identity.
// The second return value is false when the identity is not a party at all.
func (m Match) OtherParty(identity string) (string, bool) {
	switch identity {
	case m.PartyA:
		return m.PartyB, true
	case m.PartyB:
		return m.PartyA, true
	default:
		return "", false
	}
}

// Conversable reports whether the match currently supports a conversation.
func (m Match) Conversable() bool {
	return m.Status == MatchAccepted && m.Mutual
}
