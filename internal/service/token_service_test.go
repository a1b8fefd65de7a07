package service

import (
	"testing"
	"time"

	"e2ee-relay/internal/domain"
)

func newTestTokens() *TokenService {
	return NewTokenServiceHS256(TokenConfig{
		Issuer:     "relay-test",
		TTL:        time.Hour,
		SigningKey: []byte("test-signing-key"),
	})
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	ts := newTestTokens()
	token, err := ts.Issue("alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	sub, err := ts.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if sub != "alice" {
		t.Fatalf("subject = %q, want alice", sub)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	ts := newTestTokens()
	token, err := ts.Issue("alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	ts.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := ts.Verify(token); err != domain.ErrInvalidToken {
		t.Fatalf("verify after expiry = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	ts := newTestTokens()
	token, err := ts.Issue("alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	for i := 0; i < len(token); i++ {
		if token[i] == '.' {
			continue
		}
		flipped := []byte(token)
		flipped[i] ^= 0x01
		if sub, err := ts.Verify(string(flipped)); err == nil && sub == "alice" {
			t.Fatalf("verify accepted token with byte %d altered", i)
		}
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	ts := newTestTokens()
	other := NewTokenServiceHS256(TokenConfig{
		Issuer:     "relay-test",
		TTL:        time.Hour,
		SigningKey: []byte("a-different-key"),
	})
	token, err := other.Issue("alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := ts.Verify(token); err != domain.ErrInvalidToken {
		t.Fatalf("verify with wrong key = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	other := NewTokenServiceHS256(TokenConfig{
		Issuer:     "someone-else",
		TTL:        time.Hour,
		SigningKey: []byte("test-signing-key"),
	})
	token, err := other.Issue("alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := newTestTokens().Verify(token); err != domain.ErrInvalidToken {
		t.Fatalf("verify with wrong issuer = %v, want ErrInvalidToken", err)
	}
}
