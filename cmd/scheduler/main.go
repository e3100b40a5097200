package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"

	"document-retry-scheduler/internal/config"
	"document-retry-scheduler/internal/driver"
	"document-retry-scheduler/internal/policy"
	"document-retry-scheduler/internal/queue"
	"document-retry-scheduler/internal/ratelimit"
	"document-retry-scheduler/internal/registry"
	"document-retry-scheduler/internal/status"
	"document-retry-scheduler/internal/telemetry"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	}))
	slog.SetDefault(log)

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := status.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		log.Error("ensure schema", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	pol := policy.New(cfg)
	reg := registry.New(pol, st.IsInFlight,
		registry.WithStore(registry.NewRedisStore(rdb, cfg.CleanupAge)),
		registry.WithLogger(log))
	if err := reg.Restore(ctx); err != nil {
		log.Error("restore retry state", "error", err)
		os.Exit(1)
	}

	q := queue.NewSubmissionQueue(rdb)
	if err := q.Ping(ctx); err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	throttle := ratelimit.NewThrottle(rdb, cfg.ThrottleCapacity, cfg.ThrottleRefill, time.Hour)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Warn("metrics server stopped", "error", err)
		}
	}()

	d := driver.New(cfg, reg, st, q, throttle, log)
	log.Info("scheduler started",
		"cycle_interval", cfg.CycleInterval,
		"cleanup_age", cfg.CleanupAge,
		"base_delay", cfg.BaseDelay,
		"max_delay", cfg.MaxDelay)
	if err := d.Run(ctx); err != nil {
		log.Info("scheduler stopped", "reason", err)
	}
}
