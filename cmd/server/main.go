package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	app "github.com/philipyoungg/ws-pubsub/internal/app"
	httpx "github.com/philipyoungg/ws-pubsub/internal/http"
	store "github.com/philipyoungg/ws-pubsub/internal/store"
	ws "github.com/philipyoungg/ws-pubsub/internal/ws"
)

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	logger := app.NewLogger(cfg.Env, cfg.LogLevel)

	// Cancel on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Optional Postgres for accounts; nil keeps /api/auth unmounted
	var users httpx.UserStore
	if cfg.PGURL != "" {
		pg, err := store.NewPostgres(ctx, cfg, logger)
		if err != nil {
			logger.Error("postgres connect", "err", err)
			log.Fatal(err)
		}
		defer pg.Close()
		if err := store.RunMigrations(ctx, pg, logger); err != nil {
			logger.Error("migrations", "err", err)
			log.Fatal(err)
		}
		users = pg
	}

	// Redis backplane, one client publishes and one subscribes
	bus, err := ws.NewRedisBus(ctx, cfg, logger)
	if err != nil {
		logger.Error("redis connect", "err", err)
		log.Fatal(err)
	}
	defer bus.Close()

	policy, err := ws.PolicyByName(cfg.Policy)
	if err != nil {
		log.Fatal(err)
	}

	hub := ws.NewHub(logger, ws.HubConfig{
		Namespace:         cfg.Namespace,
		HeartbeatInterval: cfg.HeartbeatInterval,
		SendBuffer:        cfg.SendBuffer,
		MessageRate:       rate.Limit(cfg.MessageRate),
		MessageBurst:      cfg.MessageBurst,
	}, bus, bus, policy)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpx.NewRouter(cfg, logger, hub, users),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		logger.Info("server.listening", "addr", cfg.HTTPAddr, "namespace", cfg.Namespace, "policy", cfg.Policy)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server.crash", "err", err)
			return err
		}
		return nil
	})

	// Wait for shutdown signal or a crash
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server.shutdown.start")

		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server.exit", "err", err)
	}
	logger.Info("server.shutdown.complete")
	_ = os.Stdout.Sync()
}
