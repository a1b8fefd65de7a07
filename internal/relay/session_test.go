package relay

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"e2ee-relay/internal/domain"
	"e2ee-relay/internal/dto"
	"e2ee-relay/internal/observability/metrics"
	"e2ee-relay/internal/service"
	"e2ee-relay/internal/store"
)

func TestMain(m *testing.M) {
	metrics.MustRegister("test")
	os.Exit(m.Run())
}

// fakeWire is an in-memory connection: the test writes inbound frames to in
// and reads what the session emitted from out.
type fakeWire struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeWire() *fakeWire {
	return &fakeWire{
		in:     make(chan []byte, 8),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeWire) ReadMessage() ([]byte, error) {
	select {
	case data := <-f.in:
		return data, nil
	case <-f.closed:
		return nil, io.EOF
	}
}

// WriteMessage accepts frames even after Close so the test can observe
// best-effort notices flushed during shutdown.
func (f *fakeWire) WriteMessage(data []byte) error {
	select {
	case f.out <- data:
		return nil
	default:
		return errors.New("fake wire buffer full")
	}
}

func (f *fakeWire) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeWire) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

type rig struct {
	hub      *Hub
	tokens   *service.TokenService
	presence *store.PresenceTable
	messages *service.MessageService
}

func newRig(t *testing.T) *rig {
	t.Helper()
	creds := store.NewCredentialStore()
	for _, name := range []string{"alice", "bob", "carol"} {
		if err := creds.Create(&domain.User{Username: name}); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}
	tokens := service.NewTokenServiceHS256(service.TokenConfig{
		Issuer:     "relay-test",
		TTL:        time.Hour,
		SigningKey: []byte("test-signing-key"),
	})
	presence := store.NewPresenceTable()
	messages := service.NewMessageService(creds, store.NewConversationStore(), true)
	return &rig{
		hub:      NewHub(presence, tokens, messages),
		tokens:   tokens,
		presence: presence,
		messages: messages,
	}
}

func (r *rig) connect(t *testing.T) (*Session, *fakeWire) {
	t.Helper()
	wire := newFakeWire()
	sess := NewSession(wire, r.hub)
	go sess.Run()
	t.Cleanup(func() { _ = wire.Close() })
	return sess, wire
}

func (r *rig) token(t *testing.T, username string) string {
	t.Helper()
	token, err := r.tokens.Issue(username)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func send(t *testing.T, wire *fakeWire, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	select {
	case wire.in <- data:
	case <-time.After(time.Second):
		t.Fatal("session stopped reading")
	}
}

// nextEvent returns the next outbound event's type and raw payload.
func nextEvent(t *testing.T, wire *fakeWire) (string, []byte) {
	t.Helper()
	select {
	case data := <-wire.out:
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			t.Fatalf("undecodable event %q: %v", data, err)
		}
		return head.Type, data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
		return "", nil
	}
}

// waitFor skips events until one of the wanted type arrives.
func waitFor(t *testing.T, wire *fakeWire, eventType string) []byte {
	t.Helper()
	for i := 0; i < 16; i++ {
		typ, raw := nextEvent(t, wire)
		if typ == eventType {
			return raw
		}
	}
	t.Fatalf("no %s event within 16 events", eventType)
	return nil
}

func authenticate(t *testing.T, r *rig, wire *fakeWire, username string) dto.AuthenticatedEvent {
	t.Helper()
	send(t, wire, dto.AuthenticateEvent{Type: dto.EventAuthenticate, Token: r.token(t, username)})
	var ev dto.AuthenticatedEvent
	if err := json.Unmarshal(waitFor(t, wire, dto.EventAuthenticated), &ev); err != nil {
		t.Fatalf("decode authenticated: %v", err)
	}
	return ev
}

func TestAuthenticateSuccess(t *testing.T) {
	r := newRig(t)
	_, wire := r.connect(t)

	send(t, wire, dto.AuthenticateEvent{Type: dto.EventAuthenticate, Token: r.token(t, "alice")})

	// The online broadcast reaches the newly authenticated session itself
	// before its handshake reply is queued.
	typ, raw := nextEvent(t, wire)
	if typ != dto.EventUserStatus {
		t.Fatalf("first event = %s, want user_status", typ)
	}
	var status dto.UserStatusEvent
	if err := json.Unmarshal(raw, &status); err != nil {
		t.Fatalf("decode user_status: %v", err)
	}
	if status.Username != "alice" || status.Status != dto.StatusOnline {
		t.Fatalf("status = %+v", status)
	}

	typ, raw = nextEvent(t, wire)
	if typ != dto.EventAuthenticated {
		t.Fatalf("second event = %s, want authenticated", typ)
	}
	var authed dto.AuthenticatedEvent
	if err := json.Unmarshal(raw, &authed); err != nil {
		t.Fatalf("decode authenticated: %v", err)
	}
	if authed.Username != "alice" {
		t.Fatalf("authenticated username = %q", authed.Username)
	}
	if !r.presence.Online("alice") {
		t.Fatal("presence entry missing after handshake")
	}
}

func TestAuthenticateFailureAllowsRetry(t *testing.T) {
	r := newRig(t)
	_, wire := r.connect(t)

	send(t, wire, dto.AuthenticateEvent{Type: dto.EventAuthenticate, Token: "not-a-token"})
	var ev dto.ErrorEvent
	if err := json.Unmarshal(waitFor(t, wire, dto.EventError), &ev); err != nil {
		t.Fatalf("decode error event: %v", err)
	}
	if ev.Message != "Authentication failed" {
		t.Fatalf("error message = %q", ev.Message)
	}
	if r.presence.Online("alice") {
		t.Fatal("failed handshake created a presence entry")
	}
	if wire.isClosed() {
		t.Fatal("failed handshake closed the connection")
	}

	// Same connection retries with a valid token.
	authed := authenticate(t, r, wire, "alice")
	if authed.Username != "alice" {
		t.Fatalf("retry authenticated as %q", authed.Username)
	}
}

func TestSendRequiresAuthentication(t *testing.T) {
	r := newRig(t)
	_, wire := r.connect(t)

	send(t, wire, dto.PrivateMessageEvent{Type: dto.EventPrivateMessage, To: "bob", Message: "hi"})
	var ev dto.ErrorEvent
	if err := json.Unmarshal(waitFor(t, wire, dto.EventError), &ev); err != nil {
		t.Fatalf("decode error event: %v", err)
	}
	if ev.Message != "Not authenticated" {
		t.Fatalf("error message = %q", ev.Message)
	}
	if len(r.messages.ChatsFor("bob")) != 0 {
		t.Fatal("unauthenticated send reached the store")
	}
}

func TestSendToOfflineRecipientIsStoredAndAcked(t *testing.T) {
	r := newRig(t)
	_, wire := r.connect(t)
	authenticate(t, r, wire, "alice")

	send(t, wire, dto.PrivateMessageEvent{Type: dto.EventPrivateMessage, To: "bob", Message: "you there?"})
	var ack dto.MessageSentEvent
	if err := json.Unmarshal(waitFor(t, wire, dto.EventMessageSent), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if !ack.Success {
		t.Fatal("ack not successful")
	}
	if ack.Message.From != "alice" || ack.Message.To != "bob" {
		t.Fatalf("ack routing fields: %s -> %s", ack.Message.From, ack.Message.To)
	}

	chats := r.messages.ChatsFor("bob")
	if len(chats) != 1 || len(chats[0].Messages) != 1 {
		t.Fatal("offline message not stored for the recipient")
	}
}

func TestSendToUnknownRecipientRejected(t *testing.T) {
	r := newRig(t)
	_, wire := r.connect(t)
	authenticate(t, r, wire, "alice")

	send(t, wire, dto.PrivateMessageEvent{Type: dto.EventPrivateMessage, To: "mallory", Message: "hi"})
	var ev dto.ErrorEvent
	if err := json.Unmarshal(waitFor(t, wire, dto.EventError), &ev); err != nil {
		t.Fatalf("decode error event: %v", err)
	}
	if ev.Message != domain.ErrUnknownRecipient.Error() {
		t.Fatalf("error message = %q", ev.Message)
	}
}

func TestOnlineDelivery(t *testing.T) {
	r := newRig(t)
	_, aliceWire := r.connect(t)
	_, bobWire := r.connect(t)
	authenticate(t, r, aliceWire, "alice")
	authenticate(t, r, bobWire, "bob")

	send(t, aliceWire, dto.PrivateMessageEvent{Type: dto.EventPrivateMessage, To: "bob", Message: "ping"})

	var delivered dto.MessageEvent
	if err := json.Unmarshal(waitFor(t, bobWire, dto.EventPrivateMessage), &delivered); err != nil {
		t.Fatalf("decode delivery: %v", err)
	}
	if delivered.From != "alice" || delivered.Body != "ping" {
		t.Fatalf("delivered = %+v", delivered.Message)
	}

	var ack dto.MessageSentEvent
	if err := json.Unmarshal(waitFor(t, aliceWire, dto.EventMessageSent), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Message.ID != delivered.ID {
		t.Fatal("ack and delivery disagree on the message ID")
	}
}

func TestHistoryReplayOnHandshake(t *testing.T) {
	r := newRig(t)
	if _, err := r.messages.Record("bob", "alice", "while you were out", nil); err != nil {
		t.Fatalf("record: %v", err)
	}

	_, wire := r.connect(t)
	authed := authenticate(t, r, wire, "alice")
	if len(authed.Chats) != 1 || authed.Chats[0].With != "bob" {
		t.Fatalf("replayed chats = %+v", authed.Chats)
	}
	if authed.Chats[0].Messages[0].Body != "while you were out" {
		t.Fatal("replay missing the stored message")
	}
}

func TestReconnectSupersedesOldSession(t *testing.T) {
	r := newRig(t)
	_, firstWire := r.connect(t)
	authenticate(t, r, firstWire, "alice")

	_, observerWire := r.connect(t)
	authenticate(t, r, observerWire, "bob")

	second, secondWire := r.connect(t)
	authenticate(t, r, secondWire, "alice")

	// Old session is told why and closed.
	var ev dto.ErrorEvent
	if err := json.Unmarshal(waitFor(t, firstWire, dto.EventError), &ev); err != nil {
		t.Fatalf("decode kick: %v", err)
	}
	if ev.Message == "" {
		t.Fatal("kick carried no reason")
	}
	waitClosed(t, firstWire)

	// Presence follows the newest connection, and the superseded teardown
	// must not broadcast alice offline.
	if got, _ := r.presence.Lookup("alice"); got != store.Conn(second) {
		t.Fatal("presence does not point at the newest session")
	}
	drainStatuses(t, observerWire, func(s dto.UserStatusEvent) {
		if s.Username == "alice" && s.Status == dto.StatusOffline {
			t.Fatal("supersede broadcast alice offline")
		}
	})
}

func TestDisconnectBroadcastsOffline(t *testing.T) {
	r := newRig(t)
	_, aliceWire := r.connect(t)
	authenticate(t, r, aliceWire, "alice")
	_, bobWire := r.connect(t)
	authenticate(t, r, bobWire, "bob")

	_ = aliceWire.Close()

	var status dto.UserStatusEvent
	for {
		if err := json.Unmarshal(waitFor(t, bobWire, dto.EventUserStatus), &status); err != nil {
			t.Fatalf("decode user_status: %v", err)
		}
		if status.Username == "alice" && status.Status == dto.StatusOffline {
			break
		}
	}
	if r.presence.Online("alice") {
		t.Fatal("presence entry survived disconnect")
	}
}

func TestUnknownEventType(t *testing.T) {
	r := newRig(t)
	_, wire := r.connect(t)
	send(t, wire, map[string]string{"type": "subscribe_all"})
	var ev dto.ErrorEvent
	if err := json.Unmarshal(waitFor(t, wire, dto.EventError), &ev); err != nil {
		t.Fatalf("decode error event: %v", err)
	}
	if ev.Message != "unknown event type" {
		t.Fatalf("error message = %q", ev.Message)
	}
}

func waitClosed(t *testing.T, wire *fakeWire) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-wire.closed:
			return
		case <-wire.out:
			// drain anything queued before the close
		case <-deadline:
			t.Fatal("wire never closed")
		}
	}
}

// drainStatuses inspects every user_status event currently queued.
func drainStatuses(t *testing.T, wire *fakeWire, check func(dto.UserStatusEvent)) {
	t.Helper()
	for {
		select {
		case data := <-wire.out:
			var head struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(data, &head); err != nil {
				t.Fatalf("undecodable event: %v", err)
			}
			if head.Type != dto.EventUserStatus {
				continue
			}
			var s dto.UserStatusEvent
			if err := json.Unmarshal(data, &s); err != nil {
				t.Fatalf("decode user_status: %v", err)
			}
			check(s)
		case <-time.After(200 * time.Millisecond):
			return
		}
	}
}
