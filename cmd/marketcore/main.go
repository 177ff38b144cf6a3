package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"MarketCore/internal/aggregator"
	"MarketCore/internal/config"
	"MarketCore/internal/scheduler"
	"MarketCore/internal/server"
	"MarketCore/internal/store"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[INFO] MarketCore starting...")

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] config validation: %v", err)
	}

	// Open store
	st, err := store.Open(cfg.Database.Path, cfg.Timeouts.Op.Std())
	if err != nil {
		log.Fatalf("[FATAL] open store: %v", err)
	}
	defer st.Close()

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Continuous aggregator
	agg := aggregator.New(st,
		aggregator.Window{
			StartOffset: cfg.Rollup.Daily.StartOffset.Std(),
			EndOffset:   cfg.Rollup.Daily.EndOffset.Std(),
		},
		aggregator.Window{
			StartOffset: cfg.Rollup.Weekly.StartOffset.Std(),
			EndOffset:   cfg.Rollup.Weekly.EndOffset.Std(),
		})

	// Background tasks
	sched := scheduler.NewScheduler(ctx, st, agg, scheduler.Retention{
		Minute:    cfg.Retention.Minute.Std(),
		Hour:      cfg.Retention.Hour.Std(),
		Day:       cfg.Retention.Day.Std(),
		Snapshots: cfg.Retention.Snapshots.Std(),
	})
	if err := sched.RegisterAll(
		cfg.Schedule.DailyRollupCron,
		cfg.Schedule.WeeklyRollupCron,
		cfg.Schedule.CompressCron,
		cfg.Schedule.SnapshotRetentionCron,
	); err != nil {
		log.Fatalf("[FATAL] register cron tasks: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	// HTTP surface
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: server.New(st, agg)}
	go func() {
		log.Printf("[INFO] listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[FATAL] http server: %v", err)
		}
	}()

	log.Println("[INFO] MarketCore is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[INFO] shutdown signal received, stopping...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[ERROR] http shutdown: %v", err)
	}
	cancel()
	log.Println("[INFO] MarketCore stopped")
}
