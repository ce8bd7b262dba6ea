package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	internalhttp "github.com/twinlink/broker/internal/api/http"
	"github.com/twinlink/broker/internal/db"
	"github.com/twinlink/broker/internal/devices"
	"github.com/twinlink/broker/internal/dispatch"
	"github.com/twinlink/broker/internal/fallback"
	"github.com/twinlink/broker/internal/hub"
	"github.com/twinlink/broker/internal/queue"
	"github.com/twinlink/broker/internal/relay"
	"github.com/twinlink/broker/internal/router"
	"github.com/twinlink/broker/internal/secure"
	"github.com/twinlink/broker/internal/store/memory"
	"github.com/twinlink/broker/internal/store/postgres"
)

var AppVersion string

const sweepInterval = time.Minute

// brokerStore is the full persistence surface the broker needs from one
// backing store.
type brokerStore interface {
	devices.Store
	relay.Store
	queue.Store
	PurgeExpired(ctx context.Context, olderThan time.Time) (int, error)
}

func main() {
	InitConfig()

	slog.Info("Twinlink Broker", "version", AppVersion)

	if config.Relay.Secret == "" {
		slog.Error("relay.secret is not configured; refusing to relay plaintext")
		os.Exit(1)
	}
	if config.Auth.JWTSecret == "" {
		slog.Error("auth.jwt_secret is not configured")
		os.Exit(1)
	}

	store, cleanup, err := openStore()
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	var presence devices.Presence
	if config.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		defer client.Close()
		presence = devices.NewRedisPresence(client)
		slog.Info("Using Redis presence cache", "addr", config.Redis.Addr)
	}

	registry := devices.NewRegistry(store, presence)
	wakeHub := hub.New()

	channelOpts := []relay.ChannelOption{relay.WithNotifier(wakeHub)}
	if config.Relay.PollInterval > 0 {
		channelOpts = append(channelOpts, relay.WithPollInterval(config.Relay.PollInterval))
	}
	channel := relay.NewChannel(store, secure.NewBox(config.Relay.Secret), channelOpts...)

	var queueOpts []queue.Option
	if config.Queue.MaxDepth > 0 {
		queueOpts = append(queueOpts, queue.WithMaxDepth(config.Queue.MaxDepth))
	}
	if config.Queue.TTL > 0 {
		queueOpts = append(queueOpts, queue.WithTTL(config.Queue.TTL))
	}
	offlineQueue := queue.New(store, queueOpts...)

	routerOpts := []router.Option{}
	if config.Relay.ConversationTimeout > 0 {
		routerOpts = append(routerOpts, router.WithDeviceTimeout(config.Relay.ConversationTimeout))
	}
	if config.Fallback.URL != "" {
		routerOpts = append(routerOpts, router.WithFallback(fallback.NewClient(config.Fallback).Respond))
		slog.Info("Fallback responder enabled", "model", config.Fallback.Model)
	}
	conversationRouter := router.New(registry, channel, offlineQueue, routerOpts...)

	dispatchOpts := []dispatch.Option{}
	if config.Relay.CommandTimeout > 0 {
		dispatchOpts = append(dispatchOpts, dispatch.WithTimeout(config.Relay.CommandTimeout))
	}
	dispatcher := dispatch.New(registry, channel, dispatchOpts...)

	services := &internalhttp.Services{
		Registry:   registry,
		Router:     conversationRouter,
		Dispatcher: dispatcher,
		Commands:   store,
		Queue:      offlineQueue,
		Hub:        wakeHub,
		JWTSecret:  config.Auth.JWTSecret,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"PUT", "PATCH", "GET", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Device-Token"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, services)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go runMaintenance(sweepCtx, store)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down server...")
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	slog.Info("Shutdown complete")
}

func openStore() (brokerStore, func(), error) {
	if config.Database.Url == "" {
		slog.Warn("No database configured, using in-memory store")
		return memory.New(), func() {}, nil
	}

	if err := db.RunMigrations(config.Database.Url, config.Database.Schema); err != nil {
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := db.InitDB(ctx, config.Database.Url, config.Database.Schema)
	if err != nil {
		return nil, nil, fmt.Errorf("init database: %w", err)
	}
	return postgres.NewStore(pool), pool.Close, nil
}

// runMaintenance expires overdue relay rows and drops old terminal queue
// rows. Both sweeps are safety nets: the relay polls and the queue drain
// already expire what they touch.
func runMaintenance(ctx context.Context, store brokerStore) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if n, err := store.ExpireOverdue(ctx, now); err != nil {
				slog.Warn("Relay expiry sweep failed", "error", err)
			} else if n > 0 {
				slog.Info("Expired overdue relay commands", "count", n)
			}
			if n, err := store.PurgeExpired(ctx, now.Add(-7*24*time.Hour)); err != nil {
				slog.Warn("Queue purge sweep failed", "error", err)
			} else if n > 0 {
				slog.Info("Purged old queued messages", "count", n)
			}
		}
	}
}
