package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"nst/gatekeeper/internal/clients"
	"nst/gatekeeper/internal/config"
	"nst/gatekeeper/internal/db"
	internalhttp "nst/gatekeeper/internal/http"
	"nst/gatekeeper/internal/jobs"
	"nst/gatekeeper/internal/operations"
	"nst/gatekeeper/internal/session"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		log.Fatalf("db migration failed: %v", err)
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection failed: %v", err)
	}
	defer pool.Close()
	store := db.NewStore(pool)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("redis ping failed: %v", err)
	}
	cancel()
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
	}()

	collaborators := clients.New(cfg)
	sessions := session.NewStore(redisClient, cfg.ReplyTimeout)
	roles := operations.RoleNames{Unverified: cfg.UnverifiedRole, Confirmed: cfg.ConfirmedRole}

	verification := operations.NewVerification(store, collaborators.Directory, collaborators.Notifier, roles, cfg.QueueChannel)
	batch := operations.NewBatch(store, collaborators.Directory, collaborators.Notifier, sessions, roles, cfg.ReplyTimeout)
	guard := operations.NewRoleLock(collaborators.Directory, collaborators.Notifier)

	server := internalhttp.NewServer(cfg, verification, batch, guard)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	jobs.StartSessionSweep(ctx, cfg.SweepInterval, sessions, collaborators.Notifier)

	go func() {
		log.Printf("gatekeeper http listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
