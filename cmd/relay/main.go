package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"e2ee-relay/internal/config"
	"e2ee-relay/internal/observability/logging"
	"e2ee-relay/internal/observability/metrics"
	"e2ee-relay/internal/relay"
	"e2ee-relay/internal/service"
	"e2ee-relay/internal/store"
	httpx "e2ee-relay/internal/transport/http"
)

func main() {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}

	logger := logging.NewLogger(logging.Config{
		ServiceName: "relay",
		Environment: env,
		Level:       os.Getenv("LOG_LEVEL"),
	})
	slog.SetDefault(logger)

	logger.Info("starting service")

	cfg := config.Load()
	metrics.MustRegister("relay")

	// 1) Stores. All state is process-resident; restart loses accounts,
	// history and presence together, so nothing can dangle.
	creds := store.NewCredentialStore()
	presence := store.NewPresenceTable()
	convs := store.NewConversationStore()

	// 2) Services
	hasher := service.NewPasswordHasherArgon2id()
	tokens := service.NewTokenServiceHS256(service.TokenConfig{
		Issuer:     cfg.Issuer,
		TTL:        cfg.TokenTTL,
		SigningKey: []byte(cfg.SigningKey),
	})
	accounts := service.NewAccountService(creds, hasher, tokens, cfg.KeyEscrow)
	directory := service.NewDirectoryService(creds, presence)
	messages := service.NewMessageService(creds, convs, cfg.AllowPlaintext)

	// 3) Relay hub + HTTP router
	hub := relay.NewHub(presence, tokens, messages)
	handler := httpx.NewRouter(&cfg, httpx.Deps{
		Accounts:  accounts,
		Directory: directory,
		Tokens:    tokens,
		Hub:       hub,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("relay listening", "addr", srv.Addr, "issuer", cfg.Issuer,
		"allow_plaintext", cfg.AllowPlaintext, "key_escrow", cfg.KeyEscrow)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
