package relay

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"e2ee-relay/internal/dto"
	"e2ee-relay/internal/observability/metrics"
)

// State is the connection's position in the handshake lifecycle.
type State int32

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

// Wire is the minimal connection surface a session drives. The websocket
// transport implements it; tests substitute an in-memory pipe.
type Wire interface {
	// ReadMessage blocks for the next inbound text payload.
	ReadMessage() ([]byte, error)
	// WriteMessage writes one outbound text payload.
	WriteMessage(data []byte) error
	Close() error
}

const outboundBuffer = 64

// Session binds one raw connection to at most one verified identity. All
// inbound events are processed by a single reader loop, so events on one
// connection are handled to completion in arrival order; outbound traffic
// goes through a buffered channel drained by a dedicated writer, so a slow
// peer never stalls routing for anyone else.
type Session struct {
	id   uuid.UUID
	wire Wire
	hub  *Hub

	state    atomic.Int32
	username string // set once on successful authenticate

	out  chan any
	done chan struct{}
}

func NewSession(wire Wire, hub *Hub) *Session {
	return &Session{
		id:   uuid.New(),
		wire: wire,
		hub:  hub,
		out:  make(chan any, outboundBuffer),
		done: make(chan struct{}),
	}
}

func (s *Session) State() State        { return State(s.state.Load()) }
func (s *Session) Authenticated() bool { return s.State() == StateAuthenticated }

// Run drives the session until the connection closes.
func (s *Session) Run() {
	s.hub.add(s)
	go s.writeLoop()
	defer s.teardown()
	for {
		data, err := s.wire.ReadMessage()
		if err != nil {
			return
		}
		s.dispatch(data)
	}
}

func (s *Session) dispatch(data []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		s.sendError("malformed event")
		return
	}
	switch head.Type {
	case dto.EventAuthenticate:
		var ev dto.AuthenticateEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.sendError("malformed event")
			return
		}
		s.handleAuthenticate(ev)
	case dto.EventPrivateMessage:
		var ev dto.PrivateMessageEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.sendError("malformed event")
			return
		}
		s.handlePrivateMessage(ev)
	default:
		s.sendError("unknown event type")
	}
}

// handleAuthenticate verifies the token and, on success, takes over the
// presence entry for the identity. The connection stays open on failure so
// the caller may retry.
func (s *Session) handleAuthenticate(ev dto.AuthenticateEvent) {
	username, err := s.hub.tokens.Verify(ev.Token)
	if err != nil {
		metrics.ConnAuthTotal.WithLabelValues("failure").Inc()
		s.sendError("Authentication failed")
		return
	}
	if prevName := s.username; s.Authenticated() && prevName != username {
		// Re-authentication under a different identity releases the old entry.
		if s.hub.presence.Unbind(prevName, s) {
			s.hub.broadcastStatus(prevName, dto.StatusOffline)
		}
	}
	s.username = username
	s.state.Store(int32(StateAuthenticated))

	if prev := s.hub.presence.Bind(username, s); prev != nil {
		if old, ok := prev.(*Session); ok && old != s {
			old.kick("session superseded by a newer connection")
		}
	}
	metrics.ConnAuthTotal.WithLabelValues("success").Inc()

	s.hub.broadcastStatus(username, dto.StatusOnline)
	s.TrySend(dto.AuthenticatedEvent{
		Type:     dto.EventAuthenticated,
		Username: username,
		Chats:    s.hub.messages.ChatsFor(username),
	})
	slog.Info("connection authenticated", "username", username, "conn_id", s.id)
}

// handlePrivateMessage persists the message, then forwards it best-effort to
// the recipient's live connection, then always acks the sender. Persist and
// forward complete before the reader loop accepts the next event, which is
// the per-sender ordering guarantee.
func (s *Session) handlePrivateMessage(ev dto.PrivateMessageEvent) {
	if !s.Authenticated() {
		s.sendError("Not authenticated")
		return
	}
	msg, err := s.hub.messages.Record(s.username, ev.To, ev.Message, ev.Envelope)
	if err != nil {
		metrics.MessagesRoutedTotal.WithLabelValues("rejected").Inc()
		s.sendError(err.Error())
		return
	}

	result := "stored"
	if peer, ok := s.hub.presence.Lookup(ev.To); ok {
		if peer.TrySend(dto.MessageEvent{Type: dto.EventPrivateMessage, Message: msg}) {
			result = "delivered"
		}
	}
	metrics.MessagesRoutedTotal.WithLabelValues(result).Inc()

	s.TrySend(dto.MessageSentEvent{Type: dto.EventMessageSent, Success: true, Message: msg})
}

// TrySend queues v for delivery without blocking. A full buffer drops the
// event and counts it.
func (s *Session) TrySend(v any) bool {
	if s.State() == StateClosed {
		return false
	}
	select {
	case s.out <- v:
		return true
	default:
		metrics.EventsDroppedTotal.WithLabelValues().Inc()
		return false
	}
}

func (s *Session) sendError(message string) {
	s.TrySend(dto.ErrorEvent{Type: dto.EventError, Message: message})
}

// kick notifies a superseded session and closes its transport. Its presence
// entry has already been overwritten, so its teardown's compare-and-delete
// leaves the successor's entry alone.
func (s *Session) kick(reason string) {
	s.sendError(reason)
	_ = s.wire.Close()
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			// Flush whatever was queued before shutdown; writes race the
			// closing transport and may fail, which is fine.
			for {
				select {
				case v := <-s.out:
					if !s.writeOne(v) {
						return
					}
				default:
					return
				}
			}
		case v := <-s.out:
			if !s.writeOne(v) {
				return
			}
		}
	}
}

func (s *Session) writeOne(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("encode outbound event", "error", err, "conn_id", s.id)
		return true
	}
	if err := s.wire.WriteMessage(data); err != nil {
		_ = s.wire.Close()
		return false
	}
	return true
}

func (s *Session) teardown() {
	wasAuthenticated := State(s.state.Swap(int32(StateClosed))) == StateAuthenticated
	s.hub.remove(s)
	if wasAuthenticated && s.username != "" {
		if s.hub.presence.Unbind(s.username, s) {
			s.hub.broadcastStatus(s.username, dto.StatusOffline)
		}
	}
	close(s.done)
	_ = s.wire.Close()
	slog.Info("connection closed", "username", s.username, "conn_id", s.id)
}
