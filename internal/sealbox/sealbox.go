// Package sealbox implements the key-exchange envelope contract: authenticated
// public-key encryption of message bodies via nacl/box (curve25519 +
// xsalsa20poly1305). The relay itself never opens envelopes; this package is
// shared with client tooling and tests.
package sealbox

import (
	"crypto/rand"
	"errors"
	"io"
	"sync"

	"golang.org/x/crypto/nacl/box"

	"e2ee-relay/internal/domain"
)

const (
	// KeySize is the byte length of both public and private keys.
	KeySize = 32
	// NonceSize is the byte length of the per-envelope nonce. A fresh random
	// nonce is drawn for every Seal call; reuse under the same key pair would
	// break the construction.
	NonceSize = 24
)

var ErrInvalidKey = errors.New("sealbox: invalid key length")

var (
	randMu        sync.RWMutex
	randomnessSrc io.Reader = rand.Reader
)

// UseDeterministicRandom swaps the randomness source for deterministic testing
// and returns a restore function that must be called when the test completes.
func UseDeterministicRandom(r io.Reader) func() {
	randMu.Lock()
	prev := randomnessSrc
	randomnessSrc = r
	randMu.Unlock()
	return func() {
		randMu.Lock()
		randomnessSrc = prev
		randMu.Unlock()
	}
}

// lockedReader routes reads through the current randomness source so the
// source can be swapped between calls.
type lockedReader struct{}

func (lockedReader) Read(p []byte) (int, error) {
	randMu.RLock()
	src := randomnessSrc
	randMu.RUnlock()
	return io.ReadFull(src, p)
}

// GenerateKeypair creates a fresh sealing keypair. The keypair is dedicated to
// message sealing and is unrelated to the session-token signing secret.
func GenerateKeypair() (pub, priv []byte, err error) {
	pk, sk, err := box.GenerateKey(lockedReader{})
	if err != nil {
		return nil, nil, err
	}
	return pk[:], sk[:], nil
}

// Seal encrypts plaintext from the sender to the recipient under a fresh
// random nonce and returns the envelope.
func Seal(plaintext, senderPriv, recipientPub []byte) (domain.Envelope, error) {
	sk, err := toKey(senderPriv)
	if err != nil {
		return domain.Envelope{}, err
	}
	pk, err := toKey(recipientPub)
	if err != nil {
		return domain.Envelope{}, err
	}
	var nonce [NonceSize]byte
	if _, err := (lockedReader{}).Read(nonce[:]); err != nil {
		return domain.Envelope{}, err
	}
	ciphertext := box.Seal(nil, plaintext, &nonce, pk, sk)
	return domain.Envelope{Ciphertext: ciphertext, Nonce: nonce[:]}, nil
}

// Open authenticates and decrypts an envelope. It returns nil on any failure
// (wrong key, tampered ciphertext, bad nonce); callers must treat nil as
// "undecryptable" and never as a reason to surface key material.
func Open(env domain.Envelope, senderPub, recipientPriv []byte) []byte {
	pk, err := toKey(senderPub)
	if err != nil {
		return nil
	}
	sk, err := toKey(recipientPriv)
	if err != nil {
		return nil
	}
	if len(env.Nonce) != NonceSize {
		return nil
	}
	var nonce [NonceSize]byte
	copy(nonce[:], env.Nonce)
	plaintext, ok := box.Open(nil, env.Ciphertext, &nonce, pk, sk)
	if !ok {
		return nil
	}
	return plaintext
}

func toKey(b []byte) (*[KeySize]byte, error) {
	if len(b) != KeySize {
		return nil, ErrInvalidKey
	}
	var key [KeySize]byte
	copy(key[:], b)
	return &key, nil
}
