package service

import (
	"context"
	"log/slog"
	"time"

	"e2ee-relay/internal/domain"
	"e2ee-relay/internal/dto"
	"e2ee-relay/internal/observability/metrics"
	"e2ee-relay/internal/sealbox"
	"e2ee-relay/internal/store"
)

// AccountService registers identities and verifies login credentials.
//
// Key custody: a sealing keypair is generated at registration and returned to
// the caller exactly once. The server retains the private half only when
// escrow is enabled; the default posture stores public keys only, so login
// responses carry no private key material unless escrow is on.
type AccountService struct {
	creds  *store.CredentialStore
	hasher *PasswordHasher
	tokens *TokenService
	escrow bool

	keygen func() (pub, priv []byte, err error)
	now    func() time.Time
}

func NewAccountService(creds *store.CredentialStore, hasher *PasswordHasher, tokens *TokenService, escrow bool) *AccountService {
	return &AccountService{
		creds:  creds,
		hasher: hasher,
		tokens: tokens,
		escrow: escrow,
		keygen: sealbox.GenerateKeypair,
		now:    time.Now,
	}
}

func (a *AccountService) Register(ctx context.Context, username, password string) (*dto.AuthResponse, error) {
	result := "success"
	defer func() {
		metrics.RegistrationsTotal.WithLabelValues(result).Inc()
	}()

	if username == "" || password == "" {
		result = "failure"
		return nil, domain.ErrEmptyCredential
	}

	hash, salt, paramsJSON, algo, ver, err := a.hasher.Hash(password)
	if err != nil {
		result = "failure"
		return nil, err
	}
	pub, priv, err := a.keygen()
	if err != nil {
		result = "failure"
		return nil, err
	}

	u := &domain.User{
		Username:    username,
		Algo:        algo,
		Hash:        hash,
		Salt:        salt,
		ParamsJSON:  paramsJSON,
		PasswordVer: ver,
		PublicKey:   pub,
		CreatedAt:   a.now().UTC(),
	}
	if a.escrow {
		u.PrivateKey = priv
	}
	if err := a.creds.Create(u); err != nil {
		result = "failure"
		return nil, err
	}

	token, err := a.tokens.Issue(username)
	if err != nil {
		result = "failure"
		return nil, err
	}

	slog.Info("identity registered", "username", username, "escrow", a.escrow)
	return &dto.AuthResponse{
		Token:              token,
		Username:           username,
		PublicKey:          pub,
		PrivateKeyMaterial: priv,
	}, nil
}

// Login fails with the same error whether the username is unknown or the
// password is wrong, so the endpoint cannot be used to enumerate usernames.
func (a *AccountService) Login(ctx context.Context, username, password string) (*dto.AuthResponse, error) {
	result := "success"
	defer func() {
		metrics.LoginsTotal.WithLabelValues(result).Inc()
	}()

	if username == "" || password == "" {
		result = "failure"
		return nil, domain.ErrInvalidCredentials
	}
	u, ok := a.creds.Get(username)
	if !ok {
		result = "failure"
		return nil, domain.ErrInvalidCredentials
	}
	if !a.hasher.Verify(password, u) {
		result = "failure"
		return nil, domain.ErrInvalidCredentials
	}

	token, err := a.tokens.Issue(username)
	if err != nil {
		result = "failure"
		return nil, err
	}

	resp := &dto.AuthResponse{
		Token:     token,
		Username:  username,
		PublicKey: u.PublicKey,
	}
	if a.escrow {
		resp.PrivateKeyMaterial = u.PrivateKey
	}
	slog.Info("login", "username", username)
	return resp, nil
}
