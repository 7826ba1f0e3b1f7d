package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"roomlink/contract"
	"roomlink/domain/event"
	apperrors "roomlink/errors"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Server is the websocket edge: it authenticates the handshake, registers
// the connection, runs the read/write pumps, and tears everything down
// idempotently on disconnect.
type Server struct {
	log          *slog.Logger
	upgrader     websocket.Upgrader
	verifier     contract.IdentityVerifier
	registry     *Registry
	guard        *Guard
	presence     *Presence
	dispatcher   *Dispatcher
	sendBuffer   int
	writeTimeout time.Duration
}

func NewServer(log *slog.Logger, verifier contract.IdentityVerifier,
	registry *Registry, guard *Guard, presence *Presence,
	dispatcher *Dispatcher, sendBuffer int, writeTimeout time.Duration) *Server {
	return &Server{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		verifier:     verifier,
		registry:     registry,
		guard:        guard,
		presence:     presence,
		dispatcher:   dispatcher,
		sendBuffer:   sendBuffer,
		writeTimeout: writeTimeout,
	}
}

// HandleWS upgrades a client connection. The identity token must be valid
// before any event processing begins; a bad handshake terminates the
// attempt with 401 and never reaches the upgrade.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	identity, err := s.verifier.Verify(tokenFromRequest(r))
	if err != nil {
		s.log.Warn("handshake rejected", "remote", r.RemoteAddr, "error", err)
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer ws.Close()

	deviceID := identity.DeviceID
	if deviceID == "" {
		deviceID = r.URL.Query().Get("device")
	}

	// The connection outlives the HTTP handshake request, so its lifetime
	// is tied to a dedicated context, not r.Context().
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := NewSocketSink(s.log, s.sendBuffer)
	connID := uuid.NewString()
	conn, cameOnline := s.registry.Add(identity.Subject, connID, deviceID, sink)

	// Connect-time snapshot: decides the initial presence audience only,
	// never later authorization.
	rooms, err := s.guard.RoomsFor(ctx, identity.Subject)
	if err != nil {
		s.log.Error("room snapshot failed", "identity", identity.Subject, "error", err)
	}
	s.log.Info("connection established",
		"identity", identity.Subject, "connection_id", connID,
		"device_id", deviceID, "rooms", len(rooms))

	if cameOnline {
		s.presence.Online(ctx, identity.Subject)
	}

	go s.writePump(ctx, ws, sink)
	s.readPump(ctx, ws, conn)

	cancel()
	if _, wentOffline := s.registry.Remove(identity.Subject, connID); wentOffline {
		s.presence.Offline(context.Background(), identity.Subject)
	}
	s.log.Info("connection closed",
		"identity", identity.Subject, "connection_id", connID)
}

// readPump processes inbound frames in arrival order for this connection.
// Events from one connection are never reordered relative to each other; no
// guarantee is made across connections.
func (s *Server) readPump(ctx context.Context, ws *websocket.Conn, conn *Connection) {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("read failed", "identity", conn.Identity, "error", err)
			}
			return
		}

		var env event.Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			_ = conn.sink.Consume(ctx, event.Outbound{
				Event: event.Error,
				Data: event.ErrorPayload{
					Code:    apperrors.CodeValidationFailed,
					Message: "frame is not a valid event envelope",
				},
			})
			continue
		}
		s.dispatcher.Dispatch(ctx, conn, env)
	}
}

// writePump is the single writer for the socket; websocket writes must not
// be issued concurrently.
func (s *Server) writePump(ctx context.Context, ws *websocket.Conn, sink *SocketSink) {
	for {
		select {
		case ev := <-sink.Events():
			_ = ws.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := ws.WriteJSON(ev); err != nil {
				s.log.Debug("write failed, closing pump", "error", err)
				return
			}
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.writeTimeout))
			return
		}
	}
}

func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
