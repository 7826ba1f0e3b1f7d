// Package api is the HTTP surface of the messaging core: health, message
// history, and the websocket upgrade route. Everything else about the
// application (profiles, onboarding, matching) lives in other services.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"roomlink/contract"
	"roomlink/domain"
	"roomlink/ratelimit"
	"roomlink/realtime"
	"roomlink/services"

	"github.com/gorilla/mux"
	"github.com/samber/lo"
)

type contextKey string

const identityContextKey contextKey = "identity"

type Server struct {
	log      *slog.Logger
	verifier contract.IdentityVerifier
	guard    *realtime.Guard
	chat     services.IChatService
	limiter  *ratelimit.Limiter
}

func NewServer(log *slog.Logger, verifier contract.IdentityVerifier,
	guard *realtime.Guard, chat services.IChatService,
	limiter *ratelimit.Limiter) *Server {
	return &Server{
		log:      log,
		verifier: verifier,
		guard:    guard,
		chat:     chat,
		limiter:  limiter,
	}
}

// Router wires the routes. The websocket handler is passed in so the edge
// stays constructor-injected end to end.
func (s *Server) Router(ws http.HandlerFunc) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/conversations/{id}/messages",
		s.auth(http.HandlerFunc(s.handleHistory))).Methods(http.MethodGet)
	r.HandleFunc("/ws", ws)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// messageResponse is the wire shape of one history entry.
type messageResponse struct {
	ID            string   `json:"id"`
	SenderID      string   `json:"senderId"`
	Content       string   `json:"content"`
	Kind          string   `json:"kind"`
	DeliveryState string   `json:"deliveryState"`
	ReadBy        []string `json:"readBy,omitempty"`
	CreatedAt     string   `json:"createdAt"`
}

type historyResponse struct {
	Messages []messageResponse `json:"messages"`
	Cursor   *string           `json:"cursor,omitempty"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	identity := identityFrom(r)

	res := s.limiter.Consume(r.Context(), identity, ratelimit.ClassGenericAPI)
	if !res.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
		http.Error(w, `{"error": "rate limit exceeded"}`, http.StatusTooManyRequests)
		return
	}

	conversationID := domain.ConversationID(mux.Vars(r)["id"])
	allowed, err := s.guard.CanAct(r.Context(), identity, conversationID)
	if err != nil {
		http.Error(w, `{"error": "internal error"}`, http.StatusInternalServerError)
		return
	}
	if !allowed {
		http.Error(w, `{"error": "not authorized"}`, http.StatusForbidden)
		return
	}

	var cursor *string
	if c := r.URL.Query().Get("cursor"); c != "" {
		cursor = lo.ToPtr(c)
	}
	messages, next, err := s.chat.History(r.Context(), conversationID, cursor)
	if err != nil {
		s.log.Error("history load failed",
			"identity", identity, "conversation_id", conversationID, "error", err)
		http.Error(w, `{"error": "history unavailable"}`, http.StatusInternalServerError)
		return
	}

	_ = json.NewEncoder(w).Encode(historyResponse{
		Messages: lo.Map(messages, func(m domain.Message, _ int) messageResponse {
			return messageResponse{
				ID:            m.ID.String(),
				SenderID:      m.SenderID,
				Content:       m.Content,
				Kind:          string(m.Kind),
				DeliveryState: string(m.DeliveryState),
				ReadBy:        m.ReadBy,
				CreatedAt:     m.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
			}
		}),
		Cursor: next,
	})
}

// auth verifies the bearer token and stashes the subject in the request
// context.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		identity, err := s.verifier.Verify(token)
		if err != nil {
			http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), identityContextKey, identity.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFrom(r *http.Request) string {
	identity, _ := r.Context().Value(identityContextKey).(string)
	return identity
}
