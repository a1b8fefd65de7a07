package domain

import "github.com/google/uuid"

// Envelope is the sealed form of a message body: nacl/box ciphertext plus
// the 24-byte nonce it was sealed under. JSON encoding is base64 on both
// fields.
type Envelope struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
}

// Message is immutable once stored. Timestamp is epoch milliseconds. Body is
// the plaintext form and is empty unless the relay runs with plaintext
// explicitly allowed.
type Message struct {
	ID        uuid.UUID `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Body      string    `json:"message,omitempty"`
	Envelope  *Envelope `json:"encryptedEnvelope,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// Chat is one participant's view of a conversation, newest message first.
type Chat struct {
	With     string    `json:"with"`
	Messages []Message `json:"messages"`
}
