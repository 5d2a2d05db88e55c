package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dialer-service/internal/ami"
	"dialer-service/internal/auth"
	"dialer-service/internal/backend"
	"dialer-service/internal/config"
	"dialer-service/internal/counters"
	"dialer-service/internal/events"
	"dialer-service/internal/httpapi"
	"dialer-service/pkg/logger"
	"dialer-service/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// The switch session connects lazily on the first manual originate, so a
	// down switch does not block API startup.
	sw := ami.NewClient(ami.Config{
		Addr:           cfg.AMIAddr(),
		Username:       cfg.AMI.Username,
		Secret:         cfg.AMI.Secret,
		ConnectTimeout: cfg.AMI.ConnectTimeout,
		ReadTimeout:    cfg.AMI.ReadTimeout,
	})
	defer sw.Close()

	handlers := httpapi.Handlers{
		Store:    backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.RequestTimeout),
		Counters: counters.NewRedisStore(rdb),
		Switch:   sw,
		Publish: func(ctx context.Context, ev events.Event) error {
			return events.Publish(ctx, rdb, ev)
		},
		SwitchConnected: sw.Connected,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, handlers, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
