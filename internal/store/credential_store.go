// Package store holds the relay's process-resident state: registered
// credentials, the presence table and the conversation logs. Nothing here
// survives a restart; losing state on restart is an accepted property of the
// design.
package store

import (
	"sync"

	"e2ee-relay/internal/domain"
)

// CredentialStore keeps one record per registered identity, keyed by the
// case-sensitive username.
type CredentialStore struct {
	mu    sync.RWMutex
	users map[string]*domain.User
}

func NewCredentialStore() *CredentialStore {
	return &CredentialStore{users: make(map[string]*domain.User)}
}

// Create inserts a new identity. The existence check and the insert happen
// under one lock, so two concurrent registrations of the same username leave
// exactly one record.
func (s *CredentialStore) Create(u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.Username]; ok {
		return domain.ErrUsernameTaken
	}
	cp := *u
	s.users[u.Username] = &cp
	return nil
}

func (s *CredentialStore) Get(username string) (*domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return nil, false
	}
	cp := *u
	return &cp, true
}

func (s *CredentialStore) Exists(username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[username]
	return ok
}

// All returns a copy of every record, in no particular order.
func (s *CredentialStore) All() []*domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		out = append(out, &cp)
	}
	return out
}
