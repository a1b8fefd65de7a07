package store

import (
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/google/uuid"

	"e2ee-relay/internal/domain"
)

func msg(from, to, body string) domain.Message {
	return domain.Message{ID: uuid.New(), From: from, To: to, Body: body}
}

func TestBothViewsAreIdentical(t *testing.T) {
	s := NewConversationStore()
	s.Append(msg("alice", "bob", "one"))
	s.Append(msg("bob", "alice", "two"))
	s.Append(msg("alice", "bob", "three"))

	ab := s.MessagesBetween("alice", "bob")
	ba := s.MessagesBetween("bob", "alice")
	if !reflect.DeepEqual(ab, ba) {
		t.Fatal("the two participants see different sequences")
	}
}

func TestNewestFirstOrdering(t *testing.T) {
	s := NewConversationStore()
	s.Append(msg("alice", "bob", "first"))
	s.Append(msg("bob", "alice", "second"))
	s.Append(msg("alice", "bob", "third"))

	got := s.MessagesBetween("alice", "bob")
	if len(got) != 3 {
		t.Fatalf("log has %d messages, want 3", len(got))
	}
	for i, want := range []string{"third", "second", "first"} {
		if got[i].Body != want {
			t.Fatalf("log[%d].Body = %q, want %q", i, got[i].Body, want)
		}
	}
}

func TestChatsForCollectsAllPeers(t *testing.T) {
	s := NewConversationStore()
	s.Append(msg("alice", "bob", "hi bob"))
	s.Append(msg("carol", "alice", "hi alice"))
	s.Append(msg("bob", "carol", "not alice's business"))

	chats := s.ChatsFor("alice")
	if len(chats) != 2 {
		t.Fatalf("alice has %d chats, want 2", len(chats))
	}
	if chats[0].With != "bob" || chats[1].With != "carol" {
		t.Fatalf("chats not sorted by peer: %s, %s", chats[0].With, chats[1].With)
	}
	for _, c := range chats {
		for _, m := range c.Messages {
			if m.From != "alice" && m.To != "alice" {
				t.Fatalf("chat with %s contains foreign message %s -> %s", c.With, m.From, m.To)
			}
		}
	}
}

func TestMessagesBetweenReturnsCopy(t *testing.T) {
	s := NewConversationStore()
	s.Append(msg("alice", "bob", "original"))

	view := s.MessagesBetween("alice", "bob")
	view[0].Body = "mutated"

	if got := s.MessagesBetween("alice", "bob"); got[0].Body != "original" {
		t.Fatal("mutating a returned view changed the store")
	}
}

func TestConcurrentAppendsAcrossPairs(t *testing.T) {
	s := NewConversationStore()
	const pairs = 8
	const perPair = 50

	var wg sync.WaitGroup
	for i := 0; i < pairs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := fmt.Sprintf("user%d", i)
			b := fmt.Sprintf("peer%d", i)
			for j := 0; j < perPair; j++ {
				s.Append(msg(a, b, "x"))
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < pairs; i++ {
		a := fmt.Sprintf("user%d", i)
		b := fmt.Sprintf("peer%d", i)
		if n := len(s.MessagesBetween(a, b)); n != perPair {
			t.Fatalf("pair %d has %d messages, want %d", i, n, perPair)
		}
	}
}
