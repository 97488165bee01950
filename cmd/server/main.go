package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/adi-253/fellowship/internal/config"
	"github.com/adi-253/fellowship/internal/handlers"
	"github.com/adi-253/fellowship/internal/logger"
	"github.com/adi-253/fellowship/internal/services"
	"github.com/adi-253/fellowship/internal/websocket"
)

func main() {
	// Load configuration from environment
	cfg, warnings, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("fellowship", cfg.LogLevel, cfg.Development)
	for _, w := range warnings {
		log.Warn().Msg(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Realtime hub, optionally bridged to other instances through Redis
	hubOpts := []websocket.HubOption{websocket.WithMetrics(websocket.NewMetrics(prometheus.DefaultRegisterer))}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid REDIS_URL")
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("Redis is unreachable")
		}
		hubOpts = append(hubOpts, websocket.WithBridge(websocket.NewRedisBridge(rdb, "", log)))
	}
	hub := websocket.NewHub(log, hubOpts...)

	// Initialize services
	messageService := services.NewMessageService(hub, log)
	membershipService := services.NewMembershipService(messageService, hub, log)
	commentService := services.NewCommentService(hub, log)
	messageService.SetAuthorizer(membershipService)

	hub.Configure(
		websocket.WithReadMarker(messageService),
		websocket.WithAuthorizer(services.NewRoomAccess(messageService, membershipService)),
	)
	go hub.Run(ctx)

	// Start background retention worker
	if cfg.MessageRetention > 0 {
		retention := services.NewRetentionService(messageService, cfg.RetentionInterval, cfg.MessageRetention, log)
		go retention.Start()
		defer retention.Stop()
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.UploadDir).Msg("Failed to create upload directory")
	}

	wsHandler := websocket.NewHandler(hub, cfg.SocketRateLimit, cfg.SocketRateBurst, cfg.CORSOrigins, log)
	router := handlers.NewRouter(handlers.Deps{
		Messages:      messageService,
		Comments:      commentService,
		Membership:    membershipService,
		Realtime:      wsHandler.ServeWS,
		Metrics:       promhttp.Handler(),
		Clients:       hub,
		CORSOrigins:   cfg.CORSOrigins,
		UploadDir:     cfg.UploadDir,
		MaxUploadSize: cfg.MaxUploadSize,
		BaseURL:       cfg.APIBaseURL,
		Log:           log,
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Strs("cors_origins", cfg.CORSOrigins).Msg("Fellowship backend starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}
