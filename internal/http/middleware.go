package httpx

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"

	"github.com/philipyoungg/ws-pubsub/internal/app"
	"github.com/philipyoungg/ws-pubsub/internal/ws"
	"github.com/philipyoungg/ws-pubsub/pkg/auth"
	"github.com/philipyoungg/ws-pubsub/pkg/ratelimit"
)

var ErrNoToken = errors.New("no token")

type Middleware struct {
	cors   *cors.Cors
	auth   *auth.JWT
	rlimit *ratelimit.Limiter
	mode   string
	log    *slog.Logger
}

// NewMiddleware builds the shared middleware stack from config
func NewMiddleware(cfg app.Config, logger *slog.Logger) *Middleware {
	return &Middleware{
		cors: cors.New(cors.Options{
			AllowedOrigins:   cfg.CORSAllow,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}),
		auth:   auth.New(cfg.JWTSecret),
		rlimit: ratelimit.New(cfg.HTTPRatePerMin, time.Minute),
		mode:   cfg.AuthMode,
		log:    logger,
	}
}

// Wrap applies CORS + rate limiting to a handler
func (m *Middleware) Wrap(h http.Handler) http.Handler {
	return m.cors.Handler(m.rlimit.Middleware(h))
}

// Auth enforces JWT auth and adds user ID to the request context
func (m *Middleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := r.Header.Get("Authorization")
		if !strings.HasPrefix(b, "Bearer ") {
			http.Error(w, "no token", http.StatusUnauthorized)
			return
		}
		tok := strings.TrimPrefix(b, "Bearer ")
		claims, err := m.auth.Verify(tok)
		if err != nil {
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}
		// Pass along the user ID for downstream handlers
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), claims.Subject)))
	})
}

// Admit resolves a websocket client's identity before the upgrade.
// Clients that can't be identified get 401 and never reach the hub.
func (m *Middleware) Admit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.identify(r)
		if err != nil {
			m.log.Info("ws.rejected", "remote", r.RemoteAddr, "err", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(ws.WithIdentity(r.Context(), id)))
	})
}

func (m *Middleware) identify(r *http.Request) (ws.Identity, error) {
	tok, proto := clientToken(r)
	if tok == "" {
		return ws.Identity{}, ErrNoToken
	}

	if m.mode == "jwt" {
		claims, err := m.auth.Verify(tok)
		if err != nil {
			return ws.Identity{}, err
		}
		room := claims.Room
		if room == "" {
			room = r.URL.Query().Get("room")
		}
		return ws.Identity{Subject: claims.Subject, Room: room, Subprotocol: proto}, nil
	}

	// token mode: the token names the room
	return ws.Identity{Subject: tok, Room: tok, Subprotocol: proto}, nil
}

// clientToken looks in Sec-WebSocket-Protocol, then Authorization, then ?token=.
// proto is set when the token came from the subprotocol header.
func clientToken(r *http.Request) (tok, proto string) {
	if h := r.Header.Get("Sec-WebSocket-Protocol"); h != "" {
		first, _, _ := strings.Cut(h, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first, first
		}
	}
	if b := r.Header.Get("Authorization"); strings.HasPrefix(b, "Bearer ") {
		return strings.TrimPrefix(b, "Bearer "), ""
	}
	return r.URL.Query().Get("token"), ""
}
