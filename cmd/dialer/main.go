package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"dialer-service/internal/ami"
	"dialer-service/internal/backend"
	"dialer-service/internal/config"
	"dialer-service/internal/counters"
	"dialer-service/internal/dialer"
	"dialer-service/internal/events"
	"dialer-service/pkg/logger"
	"dialer-service/pkg/utils"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
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

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	store := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.RequestTimeout)
	cnt := counters.NewRedisStore(rdb)

	sw := ami.NewClient(ami.Config{
		Addr:           cfg.AMIAddr(),
		Username:       cfg.AMI.Username,
		Secret:         cfg.AMI.Secret,
		ConnectTimeout: cfg.AMI.ConnectTimeout,
		ReadTimeout:    cfg.AMI.ReadTimeout,
	})
	defer sw.Close()

	// The session reconnects on demand, so a down switch at boot only
	// delays the first origination.
	if err := sw.Connect(rootCtx); err != nil {
		log.Warn("switch connect failed, will retry on first dial", "addr", cfg.AMIAddr(), "err", err)
	}

	svc := dialer.NewService(store, sw, cnt, log, dialer.Options{
		ContactBatchSize:  cfg.Dialer.ContactBatchSize,
		OriginateThrottle: cfg.Dialer.OriginateThrottle,
		CycleTimeout:      cfg.Dialer.CycleTimeout,
	})
	driver := dialer.NewDriver(svc, cnt, log, dialer.DriverOptions{
		DialInterval:   cfg.Dialer.DialInterval,
		RetryInterval:  cfg.Dialer.RetryInterval,
		StatsInterval:  cfg.Dialer.StatsInterval,
		WorkerPoolSize: cfg.Dialer.WorkerPoolSize,
	})

	// Agent-availability events trigger an immediate pacing cycle instead of
	// waiting out the current tick interval.
	trigger := func(ctx context.Context, campaignID string) {
		go func() {
			cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Dialer.CycleTimeout)
			defer cancel()
			res := svc.RunCycle(cycleCtx, campaignID)
			log.Debug("event-triggered cycle finished",
				"campaign_id", campaignID, "status", res.Status, "reason", res.Reason, "dialed", res.Dialed)
		}()
	}

	reactor := events.NewReactor(cnt, store, trigger, log)
	listener := events.NewListener(rdb, reactor, log)

	g, ctx := errgroup.WithContext(rootCtx)
	g.Go(func() error { return driver.Run(ctx) })
	g.Go(func() error { return listener.Run(ctx) })

	log.Info("dialer worker started",
		"dial_interval", cfg.Dialer.DialInterval,
		"retry_interval", cfg.Dialer.RetryInterval,
		"stats_interval", cfg.Dialer.StatsInterval,
		"pool_size", cfg.Dialer.WorkerPoolSize,
	)

	if err := g.Wait(); err != nil && rootCtx.Err() == nil {
		log.Error("dialer worker failed", "err", err)
		os.Exit(1)
	}
	log.Info("dialer worker stopped")
}
