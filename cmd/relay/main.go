package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"trustline/internal/config"
	"trustline/internal/logging"
	"trustline/internal/metrics"
	"trustline/internal/relay"
)

func main() {
	home := flag.String("home", "", "directory holding trustline.toml and .env")
	listen := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*home)
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}
	if *listen != "" {
		cfg.Relay.Listen = *listen
	}
	log, err := logging.New(logging.Config{Level: cfg.Client.LogLevel})
	if err != nil {
		zap.NewExample().Fatal("build logger", zap.Error(err))
	}
	defer func() { _ = log.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var backend relay.Backend = relay.NewMemoryBackend()
	if cfg.Relay.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Relay.RedisAddr})
		defer rdb.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Fatal("redis unreachable", zap.String("addr", cfg.Relay.RedisAddr), zap.Error(err))
		}
		backend = relay.NewRedisBackend(rdb, cfg.Relay.RedisPrefix, cfg.Relay.MailboxTTL)
		log.Info("using redis backend", zap.String("addr", cfg.Relay.RedisAddr))
	}

	opts := relay.ServerOptions{Log: log, Metrics: m, RateLimit: cfg.Relay.RateLimit}
	if cfg.Relay.Metrics {
		opts.Gatherer = reg
	}
	srv := &http.Server{
		Addr:              cfg.Relay.Listen,
		Handler:           relay.NewHandler(relay.NewService(backend, log, m), opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()

	log.Info("relay listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("serve", zap.Error(err))
	}
}
