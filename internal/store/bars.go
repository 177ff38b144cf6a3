package store

import (
	"context"
	"database/sql"
	"log"
	"time"

	"MarketCore/internal/model"

	"github.com/dustin/go-humanize"
)

// UpsertBars stores a batch of bars for one granularity. Validation is
// all-or-nothing: a single malformed bar rejects the whole batch. Valid
// batches upsert key-conflict-replace on (symbol, time), so re-ingesting the
// same batch is idempotent; concurrent writes to the same key race
// last-write-wins by source value.
func (s *Store) UpsertBars(ctx context.Context, g model.Granularity, bars []model.Bar) error {
	if !g.Valid() {
		return &model.ValidationError{Field: "granularity", Value: string(g), Reason: "unknown granularity"}
	}
	for _, b := range bars {
		if err := b.Validate(); err != nil {
			return err
		}
	}
	if len(bars) == 0 {
		return nil
	}

	// Distinct chunks touched by this batch.
	chunks := make(map[int64]struct{})
	for _, b := range bars {
		chunks[g.ChunkStart(b.Time).Unix()] = struct{}{}
	}

	s.barMu.RLock()
	defer s.barMu.RUnlock()
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return s.withRetry(ctx, "upsert bars", func(ctx context.Context) error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			for start := range chunks {
				var compressed int
				err := tx.QueryRowContext(ctx,
					`SELECT compressed FROM bar_chunks WHERE granularity=? AND chunk_start=?`,
					g, start).Scan(&compressed)
				switch {
				case err == sql.ErrNoRows:
					if _, err := tx.ExecContext(ctx,
						`INSERT INTO bar_chunks (granularity, chunk_start, compressed) VALUES (?,?,0)`,
						g, start); err != nil {
						return err
					}
				case err != nil:
					return err
				case compressed != 0:
					return &model.ImmutableChunkError{
						Partition:  string(g),
						ChunkStart: time.Unix(start, 0).UTC(),
					}
				}
			}

			stmt, err := tx.PrepareContext(ctx,
				`INSERT INTO bars (granularity, symbol, time, open, high, low, close, volume, adj_close)
				 VALUES (?,?,?,?,?,?,?,?,?)
				 ON CONFLICT (granularity, symbol, time) DO UPDATE SET
				   open=excluded.open, high=excluded.high, low=excluded.low,
				   close=excluded.close, volume=excluded.volume, adj_close=excluded.adj_close`)
			if err != nil {
				return err
			}
			defer stmt.Close()

			for _, b := range bars {
				if _, err := stmt.ExecContext(ctx, g, b.Symbol, b.Time.UTC().Unix(),
					b.Open, b.High, b.Low, b.Close, b.Volume, b.AdjClose); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// QueryBars returns bars in [from, to) ordered time-ascending. No matching
// bars is an empty result, not an error.
func (s *Store) QueryBars(ctx context.Context, symbol string, g model.Granularity, from, to time.Time) ([]model.Bar, error) {
	if !g.Valid() {
		return nil, &model.ValidationError{Field: "granularity", Value: string(g), Reason: "unknown granularity"}
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var out []model.Bar
	err := s.withRetry(ctx, "query bars", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT symbol, time, open, high, low, close, volume, adj_close
			 FROM bars
			 WHERE granularity=? AND symbol=? AND time>=? AND time<?
			 ORDER BY time ASC`,
			g, symbol, from.UTC().Unix(), to.UTC().Unix())
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var b model.Bar
			var ts int64
			if err := rows.Scan(&b.Symbol, &ts, &b.Open, &b.High, &b.Low,
				&b.Close, &b.Volume, &b.AdjClose); err != nil {
				return err
			}
			b.Time = time.Unix(ts, 0).UTC()
			out = append(out, b)
		}
		return rows.Err()
	})
	return out, err
}

// BarSymbols returns the distinct symbols with bars in [from, to).
func (s *Store) BarSymbols(ctx context.Context, g model.Granularity, from, to time.Time) ([]string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var out []string
	err := s.withRetry(ctx, "list bar symbols", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT DISTINCT symbol FROM bars
			 WHERE granularity=? AND time>=? AND time<? ORDER BY symbol`,
			g, from.UTC().Unix(), to.UTC().Unix())
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var sym string
			if err := rows.Scan(&sym); err != nil {
				return err
			}
			out = append(out, sym)
		}
		return rows.Err()
	})
	return out, err
}

// LastClose returns the most recent day-bar close for a symbol, or false
// when none is stored.
func (s *Store) LastClose(ctx context.Context, symbol string) (float64, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var last float64
	found := false
	err := s.withRetry(ctx, "last close", func(ctx context.Context) error {
		err := s.db.QueryRowContext(ctx,
			`SELECT close FROM bars WHERE granularity=? AND symbol=?
			 ORDER BY time DESC LIMIT 1`,
			model.GranularityDay, symbol).Scan(&last)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return last, found, err
}

// CompressBarsOlderThan seals every chunk of the granularity that lies fully
// before the cutoff. Sealing excludes in-flight writers: it waits for open
// batches against the store to drain, then flips the chunks read-only in one
// statement. Returns the number of chunks sealed.
func (s *Store) CompressBarsOlderThan(ctx context.Context, g model.Granularity, cutoff time.Time) (int64, error) {
	if !g.Valid() {
		return 0, &model.ValidationError{Field: "granularity", Value: string(g), Reason: "unknown granularity"}
	}

	// Quiesce: exclusive lock drains writers holding the read side.
	s.barMu.Lock()
	defer s.barMu.Unlock()
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	// A chunk is sealed only when its entire span is older than the cutoff.
	latestStart := cutoff.UTC().Add(-g.ChunkWidth()).Unix()

	var sealed int64
	err := s.withRetry(ctx, "compress bar chunks", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE bar_chunks SET compressed=1
			 WHERE granularity=? AND compressed=0 AND chunk_start<=?`,
			g, latestStart)
		if err != nil {
			return err
		}
		sealed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	if sealed > 0 {
		log.Printf("[INFO] sealed %s %s chunk(s) older than %s",
			humanize.Comma(sealed), g, cutoff.UTC().Format(time.RFC3339))
	}
	return sealed, nil
}

// DecompressBarChunk reopens a sealed chunk for the explicit
// decompress-then-write correction path.
func (s *Store) DecompressBarChunk(ctx context.Context, g model.Granularity, chunkStart time.Time) error {
	if !g.Valid() {
		return &model.ValidationError{Field: "granularity", Value: string(g), Reason: "unknown granularity"}
	}
	s.barMu.Lock()
	defer s.barMu.Unlock()
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return s.withRetry(ctx, "decompress bar chunk", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE bar_chunks SET compressed=0 WHERE granularity=? AND chunk_start=?`,
			g, g.ChunkStart(chunkStart).Unix())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &model.NotFoundError{
				Entity: "bar chunk",
				Key:    string(g) + "@" + chunkStart.UTC().Format(time.RFC3339),
			}
		}
		return nil
	})
}
