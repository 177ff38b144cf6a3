package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"MarketCore/internal/aggregator"
	"MarketCore/internal/model"
	"MarketCore/internal/store"

	"github.com/robfig/cron/v3"
)

// Retention holds the age thresholds after which chunks are compressed.
type Retention struct {
	Minute    time.Duration
	Hour      time.Duration
	Day       time.Duration
	Snapshots time.Duration
}

func (r Retention) forGranularity(g model.Granularity) time.Duration {
	switch g {
	case model.GranularityMinute:
		return r.Minute
	case model.GranularityHour:
		return r.Hour
	default:
		return r.Day
	}
}

// Scheduler manages all cron tasks: rollup refreshes, chunk compression and
// snapshot retention.
type Scheduler struct {
	Cron       *cron.Cron
	Store      *store.Store
	Aggregator *aggregator.Aggregator
	Retention  Retention
	Ctx        context.Context
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, st *store.Store, agg *aggregator.Aggregator, ret Retention) *Scheduler {
	return &Scheduler{
		Cron:       cron.New(cron.WithSeconds()),
		Store:      st,
		Aggregator: agg,
		Retention:  ret,
		Ctx:        ctx,
	}
}

// RegisterAll registers the rollup, compression and retention tasks.
func (s *Scheduler) RegisterAll(dailyCron, weeklyCron, compressCron, snapshotCron string) error {
	if _, err := s.Cron.AddFunc(dailyCron, s.dailyRollupTask); err != nil {
		return fmt.Errorf("register daily rollup: %w", err)
	}
	if _, err := s.Cron.AddFunc(weeklyCron, s.weeklyRollupTask); err != nil {
		return fmt.Errorf("register weekly rollup: %w", err)
	}
	if _, err := s.Cron.AddFunc(compressCron, s.compressTask); err != nil {
		return fmt.Errorf("register compression: %w", err)
	}
	if _, err := s.Cron.AddFunc(snapshotCron, s.snapshotRetentionTask); err != nil {
		return fmt.Errorf("register snapshot retention: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("[INFO] scheduler started")
}

// Stop stops the cron scheduler gracefully.
func (s *Scheduler) Stop() {
	s.Cron.Stop()
	log.Println("[INFO] scheduler stopped")
}

func (s *Scheduler) dailyRollupTask() {
	if err := s.Aggregator.Refresh(s.Ctx, model.BucketDaily); err != nil {
		log.Printf("[ERROR] daily rollup refresh: %v", err)
	}
}

func (s *Scheduler) weeklyRollupTask() {
	if err := s.Aggregator.Refresh(s.Ctx, model.BucketWeekly); err != nil {
		log.Printf("[ERROR] weekly rollup refresh: %v", err)
	}
}

func (s *Scheduler) compressTask() {
	now := time.Now().UTC()
	for _, g := range model.Granularities {
		cutoff := now.Add(-s.Retention.forGranularity(g))
		if _, err := s.Store.CompressBarsOlderThan(s.Ctx, g, cutoff); err != nil {
			log.Printf("[ERROR] compress %s chunks: %v", g, err)
		}
	}
}

func (s *Scheduler) snapshotRetentionTask() {
	cutoff := time.Now().UTC().Add(-s.Retention.Snapshots)
	if _, err := s.Store.CompressSnapshotsOlderThan(s.Ctx, cutoff); err != nil {
		log.Printf("[ERROR] compress snapshot chunks: %v", err)
	}
}
