package service

import (
	"time"

	"github.com/google/uuid"

	"e2ee-relay/internal/domain"
	"e2ee-relay/internal/store"
)

// MessageService validates and persists messages; forwarding to live
// connections stays with the relay. Sealing is first-class: a send carrying
// only plaintext is rejected unless the relay was started with plaintext
// explicitly allowed, and plaintext shipped alongside an envelope is dropped
// before storage under the same rule.
type MessageService struct {
	creds          *store.CredentialStore
	convs          *store.ConversationStore
	allowPlaintext bool
	now            func() time.Time
}

func NewMessageService(creds *store.CredentialStore, convs *store.ConversationStore, allowPlaintext bool) *MessageService {
	return &MessageService{
		creds:          creds,
		convs:          convs,
		allowPlaintext: allowPlaintext,
		now:            time.Now,
	}
}

// Record builds and stores a message addressed from -> to. The recipient must
// be a registered identity; it need not be online. The append is atomic with
// respect to concurrent sends on the same pair.
func (s *MessageService) Record(from, to, body string, env *domain.Envelope) (domain.Message, error) {
	if to == "" || !s.creds.Exists(to) {
		return domain.Message{}, domain.ErrUnknownRecipient
	}
	if env == nil && !s.allowPlaintext {
		return domain.Message{}, domain.ErrPlaintextDisabled
	}
	if env != nil && !s.allowPlaintext {
		body = ""
	}

	msg := domain.Message{
		ID:        uuid.New(),
		From:      from,
		To:        to,
		Body:      body,
		Envelope:  env,
		Timestamp: s.now().UnixMilli(),
	}
	s.convs.Append(msg)
	return msg, nil
}

// ChatsFor returns username's full conversation history for handshake replay.
func (s *MessageService) ChatsFor(username string) []domain.Chat {
	return s.convs.ChatsFor(username)
}
