package realtime

import (
	"context"
	"errors"
	"log/slog"

	"roomlink/contract"
	"roomlink/domain"
	apperrors "roomlink/errors"
)

// Guard computes what an identity may act on from the current relationship
// state. Every privileged action re-queries the match store; the connect-time
// room set is only used for the initial presence broadcast, never as an
// authorization cache, because a relationship can end mid-session.
type Guard struct {
	matches contract.MatchStore
	log     *slog.Logger
}

func NewGuard(matches contract.MatchStore, log *slog.Logger) *Guard {
	return &Guard{matches: matches, log: log}
}

// RoomsFor returns the conversations the identity may currently join.
func (g *Guard) RoomsFor(ctx context.Context, identity string) ([]domain.ConversationID, error) {
	matches, err := g.matches.MatchesFor(ctx, identity)
	if err != nil {
		return nil, err
	}
	var rooms []domain.ConversationID
	for _, m := range matches {
		if m.Conversable() {
			rooms = append(rooms, m.ID)
		}
	}
	return rooms, nil
}

// CanAct reports whether the identity may act within the conversation right
// now.
func (g *Guard) CanAct(ctx context.Context, identity string,
	conversationID domain.ConversationID) (bool, error) {
	_, err := g.Authorize(ctx, identity, conversationID)
	var authz *apperrors.AuthorizationError
	if errors.As(err, &authz) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Authorize is CanAct plus the match record itself, so callers resolving
// the room's participants do not query twice. The rule: a match record must
// exist between the actor and exactly one other identity, with status
// accepted and the mutuality flag set. Anything else, including a missing
// record or a store failure, denies.
func (g *Guard) Authorize(ctx context.Context, identity string,
	conversationID domain.ConversationID) (domain.Match, error) {
	denied := &apperrors.AuthorizationError{
		Identity:       identity,
		ConversationID: string(conversationID),
	}

	match, err := g.matches.Match(ctx, conversationID)
	if errors.Is(err, apperrors.ErrMatchNotFound) {
		return domain.Match{}, denied
	}
	if err != nil {
		g.log.Error("match lookup failed, denying action",
			"identity", identity, "conversation_id", conversationID, "error", err)
		return domain.Match{}, denied
	}
	if !match.Involves(identity) || !match.Conversable() {
		return domain.Match{}, denied
	}
	return match, nil
}

// Partners returns the identities sharing a conversable match with the
// given identity, the audience of its presence transitions.
func (g *Guard) Partners(ctx context.Context, identity string) ([]string, error) {
	matches, err := g.matches.MatchesFor(ctx, identity)
	if err != nil {
		return nil, err
	}
	var partners []string
	for _, m := range matches {
		if !m.Conversable() {
			continue
		}
		if partner, ok := m.OtherParty(identity); ok {
			partners = append(partners, partner)
		}
	}
	return partners, nil
}
