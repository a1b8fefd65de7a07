// Package relay drives the persistent-connection side of the system: one
// session per connection, an explicit authentication state machine, presence
// tracking and point-to-point message routing.
package relay

import (
	"sync"

	"e2ee-relay/internal/dto"
	"e2ee-relay/internal/observability/metrics"
	"e2ee-relay/internal/service"
	"e2ee-relay/internal/store"
)

// Hub tracks every live session and owns presence broadcast.
type Hub struct {
	presence *store.PresenceTable
	tokens   *service.TokenService
	messages *service.MessageService

	mu       sync.RWMutex
	sessions map[*Session]struct{}
}

func NewHub(presence *store.PresenceTable, tokens *service.TokenService, messages *service.MessageService) *Hub {
	return &Hub{
		presence: presence,
		tokens:   tokens,
		messages: messages,
		sessions: make(map[*Session]struct{}),
	}
}

func (h *Hub) add(s *Session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	metrics.ConnectionsActive.WithLabelValues().Inc()
}

func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
	metrics.ConnectionsActive.WithLabelValues().Dec()
}

// broadcastStatus fans a user_status event out to every authenticated
// session. Best-effort: a connection joining mid-broadcast may miss this step,
// and no ordering is promised across different recipients' views.
func (h *Hub) broadcastStatus(username, status string) {
	ev := dto.UserStatusEvent{Type: dto.EventUserStatus, Username: username, Status: status}
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	for _, s := range targets {
		if s.Authenticated() {
			s.TrySend(ev)
		}
	}
	metrics.PresenceBroadcastsTotal.WithLabelValues(status).Inc()
}
