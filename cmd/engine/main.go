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

	"github.com/tutorlink/chat-app/internal/clock"
	"github.com/tutorlink/chat-app/internal/config"
	"github.com/tutorlink/chat-app/internal/events"
	"github.com/tutorlink/chat-app/internal/messaging"
	"github.com/tutorlink/chat-app/internal/metrics"
	"github.com/tutorlink/chat-app/internal/store"
)

func main() {
	log.Println("Starting tutorlink chat engine...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	clk := clock.System{}

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to redis: %v", err)
	}
	cancel()
	defer rdb.Close()

	natsConfig := messaging.DefaultConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "tutorlink-engine"

	natsClient, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}
	defer natsClient.Close()

	pub := events.NewNATSPublisher(natsClient)

	deps, err := buildEngine(db, rdb, natsClient, pub, clk, cfg)
	if err != nil {
		log.Fatalf("failed to build engine: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Async auto-ban rechecks filed by the report service.
	if err := natsClient.SubscribeReportProcess(func(data []byte) {
		deps.reports.HandleProcessJob(ctx, data)
	}); err != nil {
		log.Fatalf("failed to subscribe to report jobs: %v", err)
	}

	go deps.controller.RunSweeper(ctx, cfg.SweepInterval)
	go pollGauges(ctx, deps)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics server: %v", err)
		}
	}()

	log.Printf("tutorlink chat engine running")
	log.Printf("  database:     %s", cfg.DatabaseURL)
	log.Printf("  redis_addr:   %s", cfg.RedisAddr)
	log.Printf("  nats_url:     %s", cfg.NATSURL)
	log.Printf("  metrics_addr: %s", cfg.MetricsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}

// pollGauges refreshes the pool and chat gauges on a fixed cadence.
func pollGauges(ctx context.Context, deps *engineDeps) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := deps.presence.CountWaiting(ctx); err == nil {
				metrics.WaitingPoolSize.Set(float64(n))
			}
			if chats, err := deps.chats.ListActive(ctx); err == nil {
				metrics.ActiveChats.Set(float64(len(chats)))
			}
		}
	}
}
