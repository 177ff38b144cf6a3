package store

import (
	"context"
	"time"

	"MarketCore/internal/model"
)

// UpsertAggregate replaces the rollup bucket at its key. Buckets are derived
// state and are only written by the aggregator.
func (s *Store) UpsertAggregate(ctx context.Context, b model.AggregateBucket) error {
	if !b.BucketWidth.Valid() {
		return &model.ValidationError{Field: "bucket_width", Value: string(b.BucketWidth), Reason: "unknown bucket width"}
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return s.withRetry(ctx, "upsert aggregate", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO aggregates (symbol, bucket_width, bucket_start, open, high, low, close, volume)
			 VALUES (?,?,?,?,?,?,?,?)
			 ON CONFLICT (symbol, bucket_width, bucket_start) DO UPDATE SET
			   open=excluded.open, high=excluded.high, low=excluded.low,
			   close=excluded.close, volume=excluded.volume`,
			b.Symbol, b.BucketWidth, b.BucketStart.UTC().Unix(),
			b.Open, b.High, b.Low, b.Close, b.Volume)
		return err
	})
}

// QueryAggregates returns buckets in [from, to) ordered by bucket start.
func (s *Store) QueryAggregates(ctx context.Context, symbol string, w model.BucketWidth, from, to time.Time) ([]model.AggregateBucket, error) {
	if !w.Valid() {
		return nil, &model.ValidationError{Field: "bucket_width", Value: string(w), Reason: "unknown bucket width"}
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var out []model.AggregateBucket
	err := s.withRetry(ctx, "query aggregates", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT symbol, bucket_start, open, high, low, close, volume
			 FROM aggregates
			 WHERE symbol=? AND bucket_width=? AND bucket_start>=? AND bucket_start<?
			 ORDER BY bucket_start ASC`,
			symbol, w, from.UTC().Unix(), to.UTC().Unix())
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			b := model.AggregateBucket{BucketWidth: w}
			var start int64
			if err := rows.Scan(&b.Symbol, &start, &b.Open, &b.High, &b.Low,
				&b.Close, &b.Volume); err != nil {
				return err
			}
			b.BucketStart = time.Unix(start, 0).UTC()
			out = append(out, b)
		}
		return rows.Err()
	})
	return out, err
}
