// Package aggregator maintains continuous rollups: daily buckets derived
// from minute bars and weekly buckets derived from day bars. Refreshes
// recompute whole buckets inside a bounded window; buckets outside the
// window are frozen and only an explicit RefreshRange revisits them.
package aggregator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"MarketCore/internal/model"
	"MarketCore/internal/store"

	"github.com/dustin/go-humanize"
)

// Window bounds a scheduled refresh: buckets overlapping
// [now - StartOffset, now - EndOffset] are recomputed.
type Window struct {
	StartOffset time.Duration
	EndOffset   time.Duration
}

// Aggregator incrementally maintains rollup buckets from finer-grained bars.
type Aggregator struct {
	store   *store.Store
	windows map[model.BucketWidth]Window

	mu      sync.Mutex
	running map[model.BucketWidth]bool
}

// New creates an Aggregator with per-width refresh windows.
func New(st *store.Store, daily, weekly Window) *Aggregator {
	return &Aggregator{
		store: st,
		windows: map[model.BucketWidth]Window{
			model.BucketDaily:  daily,
			model.BucketWeekly: weekly,
		},
		running: make(map[model.BucketWidth]bool),
	}
}

// Refresh recomputes the buckets inside the width's configured window,
// tolerating late-arriving source bars within it. Writes landing after a
// bucket's window has closed are not retroactively reflected.
func (a *Aggregator) Refresh(ctx context.Context, w model.BucketWidth) error {
	win, ok := a.windows[w]
	if !ok {
		return &model.ValidationError{Field: "bucket_width", Value: string(w), Reason: "unknown bucket width"}
	}
	now := time.Now().UTC()
	return a.RefreshRange(ctx, w, now.Add(-win.StartOffset), now.Add(-win.EndOffset))
}

// RefreshRange fully recomputes every bucket overlapping [from, to]. It is
// also the explicit re-aggregation hook after a decompress-and-correct
// write. At most one refresh per width runs at a time; an overlapping call
// is skipped.
func (a *Aggregator) RefreshRange(ctx context.Context, w model.BucketWidth, from, to time.Time) error {
	if !w.Valid() {
		return &model.ValidationError{Field: "bucket_width", Value: string(w), Reason: "unknown bucket width"}
	}
	if !from.Before(to) {
		return &model.ValidationError{
			Field:  "range",
			Value:  fmt.Sprintf("%s..%s", from.Format(time.RFC3339), to.Format(time.RFC3339)),
			Reason: "from must precede to",
		}
	}
	if !a.acquire(w) {
		log.Printf("[WARN] %s refresh already running, skipping", w)
		return nil
	}
	defer a.release(w)

	src := w.Source()
	start := w.Start(from)
	end := w.Next(w.Start(to))

	symbols, err := a.store.BarSymbols(ctx, src, start, end)
	if err != nil {
		return fmt.Errorf("list %s symbols: %w", src, err)
	}

	buckets := 0
	for _, symbol := range symbols {
		for bs := start; bs.Before(end); bs = w.Next(bs) {
			bars, err := a.store.QueryBars(ctx, symbol, src, bs, w.Next(bs))
			if err != nil {
				return fmt.Errorf("query %s bars for %s: %w", src, symbol, err)
			}
			if len(bars) == 0 {
				continue
			}
			if err := a.store.UpsertAggregate(ctx, fold(symbol, w, bs, bars)); err != nil {
				return fmt.Errorf("upsert %s bucket for %s: %w", w, symbol, err)
			}
			buckets++
		}
	}
	if buckets > 0 {
		log.Printf("[INFO] refreshed %s %s bucket(s) across %d symbol(s)",
			humanize.Comma(int64(buckets)), w, len(symbols))
	}
	return nil
}

// fold aggregates time-ascending bars into one bucket: open/close from the
// earliest/latest bar, high/low across all, volume summed. Bar Store key
// uniqueness guarantees no time ties.
func fold(symbol string, w model.BucketWidth, start time.Time, bars []model.Bar) model.AggregateBucket {
	b := model.AggregateBucket{
		Symbol:      symbol,
		BucketStart: start,
		BucketWidth: w,
		Open:        bars[0].Open,
		High:        bars[0].High,
		Low:         bars[0].Low,
		Close:       bars[len(bars)-1].Close,
	}
	for _, bar := range bars {
		b.High = max(b.High, bar.High)
		b.Low = min(b.Low, bar.Low)
		b.Volume += bar.Volume
	}
	return b
}

func (a *Aggregator) acquire(w model.BucketWidth) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running[w] {
		return false
	}
	a.running[w] = true
	return true
}

func (a *Aggregator) release(w model.BucketWidth) {
	a.mu.Lock()
	a.running[w] = false
	a.mu.Unlock()
}
