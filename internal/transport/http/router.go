// Package http exposes the relay's request/response surface: registration,
// login, the user directory, health and metrics, plus the websocket upgrade
// endpoint that hands connections to the relay.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"e2ee-relay/internal/authz"
	"e2ee-relay/internal/config"
	"e2ee-relay/internal/domain"
	"e2ee-relay/internal/dto"
	obsmw "e2ee-relay/internal/observability/middleware"
	"e2ee-relay/internal/relay"
	"e2ee-relay/internal/service"
	"e2ee-relay/internal/transport/ws"
)

type Deps struct {
	Accounts  *service.AccountService
	Directory *service.DirectoryService
	Tokens    *service.TokenService
	Hub       *relay.Hub
}

func NewRouter(cfg *config.Config, deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(obsmw.WithRequestAndTrace)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.Handler())

	// Credential endpoints get a timeout and per-IP rate limit; the upgrade
	// endpoint must not, since its connections are long-lived.
	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))
		r.Use(httprate.LimitByIP(cfg.RateLimitRPM, time.Minute))

		r.Post("/register", handleRegister(deps.Accounts))
		r.Post("/login", handleLogin(deps.Accounts))

		r.Group(func(r chi.Router) {
			r.Use(authz.RequireBearer(deps.Tokens))
			r.Get("/users", handleUsers(deps.Directory))
		})
	})

	r.Get("/ws", handleWebsocket(deps.Hub))

	return r
}

func handleRegister(accounts *service.AccountService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad request")
			return
		}
		res, err := accounts.Register(r.Context(), req.Username, req.Password)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrUsernameTaken):
				writeError(w, http.StatusBadRequest, "Username already taken")
			case errors.Is(err, domain.ErrEmptyCredential):
				writeError(w, http.StatusBadRequest, "Username and password are required")
			default:
				slog.Error("register failed", "error", err)
				writeError(w, http.StatusInternalServerError, "registration failed")
			}
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func handleLogin(accounts *service.AccountService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad request")
			return
		}
		res, err := accounts.Login(r.Context(), req.Username, req.Password)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidCredentials) {
				writeError(w, http.StatusUnauthorized, "Invalid username or password")
				return
			}
			slog.Error("login failed", "error", err)
			writeError(w, http.StatusInternalServerError, "login failed")
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleUsers(directory *service.DirectoryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, ok := authz.SubjectFrom(r.Context())
		if !ok || sub == "" {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		writeJSON(w, http.StatusOK, directory.ListOthers(sub))
	}
}

// handleWebsocket upgrades the connection and runs the session synchronously;
// the handler goroutine is the session's reader loop.
func handleWebsocket(hub *relay.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r)
		if err != nil {
			slog.Warn("websocket handshake failed", "error", err, "remote", r.RemoteAddr)
			return
		}
		relay.NewSession(conn, hub).Run()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, dto.ErrorResponse{Message: message})
}
