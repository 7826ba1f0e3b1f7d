package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"roomlink/domain"
	"roomlink/domain/event"
	apperrors "roomlink/errors"
	"roomlink/moderation"
	"roomlink/ratelimit"
	"roomlink/repositories"
	"roomlink/services"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

// harness wires a dispatcher over real badger-backed stores, so the tests
// exercise the whole pipeline from inbound frame to persisted state.
type harness struct {
	t          *testing.T
	dispatcher *Dispatcher
	registry   *Registry
	messages   *repositories.MessageRepository
	matches    *repositories.MatchRepository
}

func generousBudgets() map[ratelimit.Class]ratelimit.Budget {
	return map[ratelimit.Class]ratelimit.Budget{
		ratelimit.ClassMessageSend: {Points: 100, Window: time.Minute, Cooldown: 30 * time.Second},
		ratelimit.ClassTyping:      {Points: 100, Window: time.Minute, Cooldown: 5 * time.Second},
		ratelimit.ClassRoomJoin:    {Points: 100, Window: time.Minute, Cooldown: 30 * time.Second},
		ratelimit.ClassGenericAPI:  {Points: 100, Window: time.Minute, Cooldown: 10 * time.Second},
	}
}

func newHarness(t *testing.T, budgets map[ratelimit.Class]ratelimit.Budget) *harness {
	t.Helper()
	log := slog.Default()

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).
		WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	messages := repositories.NewMessageRepository(db, log, nil)
	matches := repositories.NewMatchRepository(db, log)
	require.NoError(t, matches.Put(context.Background(), domain.Match{
		ID: "conv-1", PartyA: "alice", PartyB: "bob",
		Status: domain.MatchAccepted, Mutual: true,
	}))

	masker, err := moderation.NewMasker([]string{"venmo me"}, '*')
	require.NoError(t, err)

	limiter := ratelimit.New(ratelimit.NewMemoryStore(), budgets, log, time.Second)
	typingLimiter := ratelimit.New(ratelimit.NewMemoryStore(), budgets, log, time.Second)

	registry := NewRegistry()
	guard := NewGuard(matches, log)
	chat := services.NewChatService(messages, masker, log, 2*time.Second)

	return &harness{
		t:          t,
		dispatcher: NewDispatcher(log, limiter, typingLimiter, guard, registry, chat),
		registry:   registry,
		messages:   messages,
		matches:    matches,
	}
}

func (h *harness) connect(identity, connID string) (*Connection, *captureSink) {
	h.t.Helper()
	sink := &captureSink{}
	conn, _ := h.registry.Add(identity, connID, "phone", sink)
	return conn, sink
}

func (h *harness) dispatch(conn *Connection, name event.Name, payload any) {
	h.t.Helper()
	var raw json.RawMessage
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		require.NoError(h.t, err)
	}
	h.dispatcher.Dispatch(context.Background(), conn,
		event.Envelope{Event: name, Data: raw})
}

func errorCodes(sink *captureSink) []string {
	var codes []string
	for _, ev := range sink.named(event.Error) {
		codes = append(codes, ev.Data.(event.ErrorPayload).Code)
	}
	return codes
}

func TestDispatcher_Send_Persists_And_Fans_Out(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, generousBudgets())
	alice, aliceSink := h.connect("alice", "conn-a")
	_, bobSink := h.connect("bob", "conn-b")

	// When alice sends a message into the shared conversation
	h.dispatch(alice, event.ChatSend, event.SendMessage{
		ConversationID: "conv-1", Content: "hi, is the room still free?", Kind: "text",
	})

	// Then bob receives message:new
	newEvents := bobSink.named(event.MessageNew)
	req.Len(newEvents, 1)
	msg := newEvents[0].Data.(event.MessagePayload).Message
	req.Equal("hi, is the room still free?", msg.Content)
	req.Equal("alice", msg.SenderID)
	req.Equal(domain.StateSent, msg.DeliveryState)

	// alice receives the acknowledgment, not her own message:new
	req.Len(aliceSink.named(event.MessageSent), 1)
	req.Empty(aliceSink.named(event.MessageNew))

	// The message is persisted and bob's unread counter moved
	page, _, err := h.messages.Messages(context.Background(), "conv-1", nil)
	req.NoError(err)
	req.Len(page, 1)
	agg, err := h.messages.Aggregate(context.Background(), "conv-1")
	req.NoError(err)
	req.Equal(1, agg.Unread("bob"))
	req.Equal(0, agg.Unread("alice"))
}

func TestDispatcher_Send_Reaches_Senders_Other_Devices_Once(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, generousBudgets())
	alicePhone, phoneSink := h.connect("alice", "conn-a1")
	_, laptopSink := h.connect("alice", "conn-a2")
	_, bobSink := h.connect("bob", "conn-b")

	h.dispatch(alicePhone, event.ChatSend, event.SendMessage{
		ConversationID: "conv-1", Content: "hello", Kind: "text",
	})

	// Every interested device sees the message exactly once
	req.Len(bobSink.named(event.MessageNew), 1)
	req.Len(laptopSink.named(event.MessageNew), 1)
	req.Empty(laptopSink.named(event.MessageSent))
	req.Len(phoneSink.named(event.MessageSent), 1)
	req.Empty(phoneSink.named(event.MessageNew))
}

func TestDispatcher_Send_Masks_Blocked_Terms(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, generousBudgets())
	alice, _ := h.connect("alice", "conn-a")
	_, bobSink := h.connect("bob", "conn-b")

	h.dispatch(alice, event.ChatSend, event.SendMessage{
		ConversationID: "conv-1", Content: "just Venmo Me the deposit", Kind: "text",
	})

	newEvents := bobSink.named(event.MessageNew)
	req.Len(newEvents, 1)
	req.Equal("just ******** the deposit",
		newEvents[0].Data.(event.MessagePayload).Message.Content)
}

func TestDispatcher_Send_Over_Budget_Is_Rejected_And_Not_Persisted(t *testing.T) {
	req := require.New(t)
	budgets := generousBudgets()
	budgets[ratelimit.ClassMessageSend] = ratelimit.Budget{
		Points: 2, Window: time.Minute, Cooldown: 30 * time.Second,
	}
	h := newHarness(t, budgets)
	alice, aliceSink := h.connect("alice", "conn-a")
	_, bobSink := h.connect("bob", "conn-b")

	for i := 0; i < 3; i++ {
		h.dispatch(alice, event.ChatSend, event.SendMessage{
			ConversationID: "conv-1", Content: "spam", Kind: "text",
		})
	}

	// The third send bounced with a retry hint, only to the sender
	req.Equal([]string{apperrors.CodeRateLimitExceeded}, errorCodes(aliceSink))
	errEvents := aliceSink.named(event.Error)
	req.GreaterOrEqual(errEvents[0].Data.(event.ErrorPayload).RetryAfter, 1)
	req.Empty(bobSink.named(event.Error))

	// Exactly two messages made it to the store and to bob
	req.Len(bobSink.named(event.MessageNew), 2)
	page, _, err := h.messages.Messages(context.Background(), "conv-1", nil)
	req.NoError(err)
	req.Len(page, 2)
}

func TestDispatcher_Send_By_Outsider_Is_Rejected(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, generousBudgets())
	carol, carolSink := h.connect("carol", "conn-c")
	_, bobSink := h.connect("bob", "conn-b")

	h.dispatch(carol, event.ChatSend, event.SendMessage{
		ConversationID: "conv-1", Content: "let me in", Kind: "text",
	})

	req.Equal([]string{apperrors.CodeNotAuthorized}, errorCodes(carolSink))
	req.Empty(bobSink.all())

	page, _, err := h.messages.Messages(context.Background(), "conv-1", nil)
	req.NoError(err)
	req.Empty(page)
}

func TestDispatcher_Send_Is_Denied_After_Mutuality_Flip(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, generousBudgets())
	alice, aliceSink := h.connect("alice", "conn-a")

	// bob withdraws while alice is connected
	req.NoError(h.matches.Put(context.Background(), domain.Match{
		ID: "conv-1", PartyA: "alice", PartyB: "bob",
		Status: domain.MatchAccepted, Mutual: false,
	}))

	h.dispatch(alice, event.ChatSend, event.SendMessage{
		ConversationID: "conv-1", Content: "still there?", Kind: "text",
	})

	req.Equal([]string{apperrors.CodeNotAuthorized}, errorCodes(aliceSink))
}

func TestDispatcher_Malformed_Payloads_Are_Rejected(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, generousBudgets())
	alice, aliceSink := h.connect("alice", "conn-a")

	// missing payload
	h.dispatch(alice, event.ChatSend, nil)
	// wrong kind
	h.dispatch(alice, event.ChatSend, event.SendMessage{
		ConversationID: "conv-1", Content: "x", Kind: "carrier-pigeon",
	})
	// broken JSON
	h.dispatcher.Dispatch(context.Background(), alice, event.Envelope{
		Event: event.ChatSend, Data: json.RawMessage(`{"conversationId":`),
	})

	req.Equal([]string{
		apperrors.CodeValidationFailed,
		apperrors.CodeValidationFailed,
		apperrors.CodeValidationFailed,
	}, errorCodes(aliceSink))
}

func TestDispatcher_Unknown_Event_Is_Rejected(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, generousBudgets())
	alice, aliceSink := h.connect("alice", "conn-a")

	h.dispatcher.Dispatch(context.Background(), alice,
		event.Envelope{Event: "chat:teleport"})

	req.Equal([]string{apperrors.CodeUnknownEvent}, errorCodes(aliceSink))
}

func TestDispatcher_Typing_Reaches_Partner_Only(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, generousBudgets())
	alice, aliceSink := h.connect("alice", "conn-a")
	_, bobSink := h.connect("bob", "conn-b")

	h.dispatch(alice, event.ChatTyping, event.Typing{
		ConversationID: "conv-1", IsTyping: true,
	})
	h.dispatch(alice, event.ChatTyping, event.Typing{
		ConversationID: "conv-1", IsTyping: false,
	})

	starts := bobSink.named(event.TypingStart)
	req.Len(starts, 1)
	req.Equal("alice", starts[0].Data.(event.TypingPayload).UserID)
	req.Len(bobSink.named(event.TypingStop), 1)
	req.Empty(aliceSink.all())
}

func TestDispatcher_Typing_Over_Budget_Is_Dropped_Silently(t *testing.T) {
	req := require.New(t)
	budgets := generousBudgets()
	budgets[ratelimit.ClassTyping] = ratelimit.Budget{
		Points: 1, Window: time.Minute, Cooldown: 5 * time.Second,
	}
	h := newHarness(t, budgets)
	alice, aliceSink := h.connect("alice", "conn-a")
	_, bobSink := h.connect("bob", "conn-b")

	for i := 0; i < 5; i++ {
		h.dispatch(alice, event.ChatTyping, event.Typing{
			ConversationID: "conv-1", IsTyping: true,
		})
	}

	// One signal through, the rest vanish without error frames
	req.Len(bobSink.named(event.TypingStart), 1)
	req.Empty(aliceSink.named(event.Error))
}

func TestDispatcher_Read_Receipts_Fan_Out_Affected_Ids(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, generousBudgets())
	alice, aliceSink := h.connect("alice", "conn-a")
	bob, bobSink := h.connect("bob", "conn-b")

	h.dispatch(alice, event.ChatSend, event.SendMessage{
		ConversationID: "conv-1", Content: "hello", Kind: "text",
	})
	sent := bobSink.named(event.MessageNew)[0].Data.(event.MessagePayload).Message

	h.dispatch(bob, event.ChatRead, event.Read{
		ConversationID: "conv-1", MessageIDs: []string{sent.ID.String()},
	})

	// Both sides learn the receipt: alice to update her bubbles, bob's
	// other devices to clear their badges
	for _, sink := range []*captureSink{aliceSink, bobSink} {
		reads := sink.named(event.MessageRead)
		req.Len(reads, 1)
		payload := reads[0].Data.(event.ReadPayload)
		req.Equal("bob", payload.ReaderID)
		req.Equal([]string{sent.ID.String()}, func() []string {
			out := make([]string, len(payload.MessageIDs))
			for i, id := range payload.MessageIDs {
				out[i] = id.String()
			}
			return out
		}())
	}

	agg, err := h.messages.Aggregate(context.Background(), "conv-1")
	req.NoError(err)
	req.Equal(0, agg.Unread("bob"))
}

func TestDispatcher_Read_With_Invalid_Id_Is_Rejected(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, generousBudgets())
	bob, bobSink := h.connect("bob", "conn-b")

	h.dispatch(bob, event.ChatRead, event.Read{
		ConversationID: "conv-1", MessageIDs: []string{"not-a-uuid"},
	})

	req.Equal([]string{apperrors.CodeValidationFailed}, errorCodes(bobSink))
}

func TestDispatcher_Join_Acknowledges_To_Requester_Only(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, generousBudgets())
	alice, aliceSink := h.connect("alice", "conn-a")
	_, bobSink := h.connect("bob", "conn-b")

	h.dispatch(alice, event.RoomJoin, event.JoinRoom{ConversationID: "conv-1"})

	joined := aliceSink.named(event.RoomJoined)
	req.Len(joined, 1)
	req.Equal("conv-1", joined[0].Data.(event.JoinedPayload).ConversationID)
	req.Empty(bobSink.all())
}

func TestDispatcher_Leave_Is_Accepted_Silently(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, generousBudgets())
	alice, aliceSink := h.connect("alice", "conn-a")
	_, bobSink := h.connect("bob", "conn-b")

	h.dispatch(alice, event.RoomLeave, event.LeaveRoom{ConversationID: "conv-1"})

	req.Empty(aliceSink.all())
	req.Empty(bobSink.all())
}
