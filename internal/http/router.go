package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/philipyoungg/ws-pubsub/internal/app"
	"github.com/philipyoungg/ws-pubsub/internal/ws"
	"github.com/philipyoungg/ws-pubsub/pkg/auth"
	"github.com/philipyoungg/ws-pubsub/pkg/metrics"
)

// NewRouter wires up all HTTP routes, middleware, and handlers.
// users may be nil, in which case the account endpoints are not mounted.
func NewRouter(cfg app.Config, logger *slog.Logger, hub *ws.Hub, users UserStore) http.Handler {
	mw := NewMiddleware(cfg, logger)
	rooms := &RoomsAPI{Hub: hub}

	mux := http.NewServeMux()

	// Health / readiness / metrics
	mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))
	mux.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := hub.Ready(ctx); err != nil {
			logger.Warn("readyz", "err", err)
			http.Error(w, "backplane unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	mux.Handle("/metrics", metrics.Handler())

	// WebSocket endpoint, admission runs before the upgrade
	mux.Handle("/ws", mw.Admit(http.HandlerFunc(hub.ServeWS)))

	// Local room state
	mux.Handle("/stats", http.HandlerFunc(rooms.Stats))
	mux.Handle("/api/rooms", http.HandlerFunc(rooms.List))

	// Auth endpoints
	if users != nil {
		authAPI := &AuthAPI{DB: users, JWT: auth.New(cfg.JWTSecret)}
		mux.Handle("/api/auth/register", http.HandlerFunc(authAPI.Register))
		mux.Handle("/api/auth/login", http.HandlerFunc(authAPI.Login))
		mux.Handle("/api/auth/me", mw.Auth(http.HandlerFunc(authAPI.Me)))
	}

	// CORS + rate limit applied globally
	return mw.Wrap(mux)
}
