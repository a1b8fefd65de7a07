package store

import (
	"hash/fnv"
	"sync"
)

// Conn is the live connection handle a presence entry points at. The relay's
// session type implements it; the store only needs identity comparison and
// best-effort delivery.
type Conn interface {
	// TrySend queues an event for delivery without blocking and reports false
	// if the event was dropped.
	TrySend(v any) bool
}

const presenceShards = 16

// PresenceTable maps an online identity to its active connection. Absence of
// an entry means "offline". The table is sharded by username so presence
// churn on one identity never contends with another.
type PresenceTable struct {
	shards [presenceShards]presenceShard
}

type presenceShard struct {
	mu      sync.RWMutex
	entries map[string]Conn
}

func NewPresenceTable() *PresenceTable {
	t := &PresenceTable{}
	for i := range t.shards {
		t.shards[i].entries = make(map[string]Conn)
	}
	return t
}

func (t *PresenceTable) shard(username string) *presenceShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(username))
	return &t.shards[h.Sum32()%presenceShards]
}

// Bind registers c as the live connection for username and returns the
// connection it superseded, if any. Last-connected-wins.
func (t *PresenceTable) Bind(username string, c Conn) Conn {
	sh := t.shard(username)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	prev := sh.entries[username]
	sh.entries[username] = c
	return prev
}

// Unbind removes the entry for username only if it still points at c and
// reports whether it did. A superseded session tearing down must not remove
// its successor's entry.
func (t *PresenceTable) Unbind(username string, c Conn) bool {
	sh := t.shard(username)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.entries[username] != c {
		return false
	}
	delete(sh.entries, username)
	return true
}

func (t *PresenceTable) Lookup(username string) (Conn, bool) {
	sh := t.shard(username)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	c, ok := sh.entries[username]
	return c, ok
}

// Online reports whether username has a live connection at this instant.
func (t *PresenceTable) Online(username string) bool {
	_, ok := t.Lookup(username)
	return ok
}
