package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Tokens / issuer
	Issuer     string
	TokenTTL   time.Duration
	SigningKey string // HS256 secret

	// HTTP
	Addr         string
	CORSOrigins  []string
	RateLimitRPM int

	// Messaging policy
	AllowPlaintext bool // accept sends that carry no sealed envelope
	KeyEscrow      bool // retain private key material server-side

	Environment string
	LogLevel    string
}

func Load() Config {
	// .env is a local-development convenience; absence is not an error.
	_ = godotenv.Load()

	return Config{
		Issuer:     getenv("ISSUER", "e2ee-relay"),
		TokenTTL:   getdur("TOKEN_TTL", 24*time.Hour),
		SigningKey: must("SIGNING_KEY"),

		Addr:         getenv("ADDR", ":5001"),
		CORSOrigins:  getlist("CORS_ORIGINS", []string{"*"}),
		RateLimitRPM: getint("RATE_LIMIT_RPM", 100),

		AllowPlaintext: getbool("ALLOW_PLAINTEXT", false),
		KeyEscrow:      getbool("KEY_ESCROW", false),

		Environment: getenv("ENVIRONMENT", "dev"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("invalid integer, using default", "key", k, "value", v, "default", def)
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		slog.Warn("invalid duration, using default", "key", k, "value", v, "default", def)
	}
	return def
}

func getlist(k string, def []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	out := make([]string, 0)
	for _, item := range strings.Split(v, ",") {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func must(k string) string {
	v := os.Getenv(k)
	if v == "" {
		slog.Error("missing required env", "key", k)
		os.Exit(1)
	}
	return v
}
