package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/manpreetbhatti/notecollab/backend/internal/api"
	"github.com/manpreetbhatti/notecollab/backend/internal/auth"
	"github.com/manpreetbhatti/notecollab/backend/internal/config"
	"github.com/manpreetbhatti/notecollab/backend/internal/db"
	"github.com/manpreetbhatti/notecollab/backend/internal/ratelimit"
	"github.com/manpreetbhatti/notecollab/backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		config.NewLogger(config.Default(), os.Stderr).Error("load config", "err", err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg, os.Stdout)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	database, err := db.New(cfg.DBPath, logger)
	if err != nil {
		logger.Error("initialize database", "err", err)
		os.Exit(1)
	}
	defer database.Close()

	opts := ws.Options{
		Logger:            logger,
		MaxRoomMembers:    cfg.WS.MaxRoomMembers,
		RequireKnownNote:  cfg.WS.RequireKnownNote,
		Notes:             database,
		MessagesPerSecond: cfg.WS.MessagesPerSecond,
		MessageBurst:      cfg.WS.MessageBurst,
		MaxMessageSize:    cfg.WS.MaxMessageSize,
	}

	// Redis is optional; without it every room is local to this process
	if cfg.Redis.Addr != "" {
		bus, err := ws.NewRedisBus(ctx, ws.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			logger.Error("redis connect", "err", err)
			os.Exit(1)
		}
		defer bus.Close()
		opts.Bus = bus
		logger.Info("redis relay enabled", "addr", cfg.Redis.Addr)
	}

	hub := ws.NewHub(opts)
	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()

	var limiter *ratelimit.ClientLimiters
	if cfg.HTTPRequestsPerMinute > 0 {
		limiter = ratelimit.NewClientLimiters(float64(cfg.HTTPRequestsPerMinute)/60, cfg.HTTPRequestsPerMinute)
		defer limiter.Stop()
	}

	handler := api.NewRouter(api.New(hub, database, logger), api.RouterOptions{
		CORSAllow: cfg.CORSAllow,
		JWT:       auth.New(cfg.JWTSecret),
		Limiter:   limiter,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", srv.Addr, "env", cfg.Env, "db", cfg.DBPath)
		logger.Info("endpoints",
			"websocket", "/ws/notes/{noteId}/, /rooms/{noteId}",
			"health", "GET /health",
			"stats", "GET /api/stats",
			"metrics", "GET /metrics",
			"rooms", "GET /api/rooms, GET /api/rooms/{noteId}",
			"notes", "GET/POST /api/notes, GET/PUT/DELETE /api/notes/{id}",
			"share", "POST /api/notes/{id}/share, GET/PUT /api/notes/share/{token}",
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", "err", err)
	}

	// Close frames go out from the session write pumps
	select {
	case <-hubDone:
	case <-shutdownCtx.Done():
		logger.Warn("hub drain", "err", shutdownCtx.Err())
	}

	logger.Info("server stopped")
}
