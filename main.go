package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NomadCrew/presence-service/config"
	"github.com/NomadCrew/presence-service/db"
	"github.com/NomadCrew/presence-service/handlers"
	"github.com/NomadCrew/presence-service/internal/events"
	"github.com/NomadCrew/presence-service/internal/store/postgres"
	"github.com/NomadCrew/presence-service/internal/websocket"
	"github.com/NomadCrew/presence-service/logger"
	"github.com/NomadCrew/presence-service/router"
	"github.com/NomadCrew/presence-service/services"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger.InitLogger()
	log := logger.GetLogger()
	defer logger.Close()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.RunMigrations(cfg.Database.URL()); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	pool, err := db.ConnectPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	redisOptions := &redis.Options{
		Addr:         cfg.Redis.Address,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}
	if cfg.Redis.UseTLS {
		redisOptions.TLSConfig = &tls.Config{
			ServerName: cfg.Redis.Address,
			MinVersion: tls.VersionTLS12,
		}
	}
	redisClient := redis.NewClient(redisOptions)
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Warnw("Failed to close Redis client", "error", err)
		}
	}()

	eventPublisher := events.NewRedisPublisher(redisClient, events.Config{
		PublishTimeout:   time.Duration(cfg.EventService.PublishTimeoutSeconds) * time.Second,
		SubscribeTimeout: time.Duration(cfg.EventService.SubscribeTimeoutSeconds) * time.Second,
		EventBufferSize:  cfg.EventService.EventBufferSize,
	})

	locationStore := postgres.NewLocationStore(pool)
	locationService := services.NewLocationService(locationStore, eventPublisher)

	hub := websocket.NewHub(eventPublisher)
	wsHandler := websocket.NewHandler(hub, locationService, locationStore, cfg)
	locationHandler := handlers.NewLocationHandler(locationService, cfg.Location.StaleAfter())
	healthHandler := handlers.NewHealthHandler(pool, redisClient, cfg.Server.Version)

	r := router.SetupRouter(router.Dependencies{
		Config:          cfg,
		HealthHandler:   healthHandler,
		LocationHandler: locationHandler,
		WSHandler:       wsHandler,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infow("Presence service listening", "port", cfg.Server.Port, "environment", cfg.Server.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("HTTP server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	hub.Shutdown()
	if err := eventPublisher.Shutdown(shutdownCtx); err != nil {
		log.Warnw("Event publisher shutdown", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("HTTP server shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}
