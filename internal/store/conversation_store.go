package store

import (
	"hash/fnv"
	"sort"
	"sync"

	"e2ee-relay/internal/domain"
)

const conversationShards = 32

// pairKey is the unordered pair of participants, normalized so lo <= hi.
type pairKey struct {
	lo, hi string
}

func makePairKey(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

func (k pairKey) other(username string) string {
	if k.lo == username {
		return k.hi
	}
	return k.lo
}

// ConversationStore maps an unordered pair of identities to the ordered
// message log they share. Each pair has a single log guarded by its shard
// lock: both participants' views read the same sequence, so the two views can
// never diverge and an append is visible to both atomically. Traffic on
// unrelated pairs lands on independent shards and does not contend.
type ConversationStore struct {
	shards [conversationShards]convShard
}

type convShard struct {
	mu    sync.RWMutex
	pairs map[pairKey][]domain.Message // newest first
}

func NewConversationStore() *ConversationStore {
	s := &ConversationStore{}
	for i := range s.shards {
		s.shards[i].pairs = make(map[pairKey][]domain.Message)
	}
	return s
}

func (s *ConversationStore) shard(k pairKey) *convShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.lo))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(k.hi))
	return &s.shards[h.Sum32()%conversationShards]
}

// Append prepends msg to the log shared by msg.From and msg.To.
func (s *ConversationStore) Append(msg domain.Message) {
	k := makePairKey(msg.From, msg.To)
	sh := s.shard(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	log := sh.pairs[k]
	log = append(log, domain.Message{})
	copy(log[1:], log)
	log[0] = msg
	sh.pairs[k] = log
}

// MessagesBetween returns one participant's view of the conversation with the
// other, newest first. Both argument orders yield the identical sequence.
func (s *ConversationStore) MessagesBetween(a, b string) []domain.Message {
	k := makePairKey(a, b)
	sh := s.shard(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	log := sh.pairs[k]
	out := make([]domain.Message, len(log))
	copy(out, log)
	return out
}

// ChatsFor returns every conversation involving username, sorted by peer name,
// each log newest first.
func (s *ConversationStore) ChatsFor(username string) []domain.Chat {
	var chats []domain.Chat
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for k, log := range sh.pairs {
			if k.lo != username && k.hi != username {
				continue
			}
			msgs := make([]domain.Message, len(log))
			copy(msgs, log)
			chats = append(chats, domain.Chat{With: k.other(username), Messages: msgs})
		}
		sh.mu.RUnlock()
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].With < chats[j].With })
	return chats
}
