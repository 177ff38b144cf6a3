package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"MarketCore/internal/model"

	"github.com/dustin/go-humanize"
)

// snapshotChunkWidth partitions the snapshot store by calendar day.
const snapshotChunkWidth = 24 * time.Hour

func snapshotChunkStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// WriteSnapshot upserts one fact at its (kind, symbol, time, screening_id)
// key. A later write at the same key replaces the payload: a correction, not
// a new fact. Screening payloads must be a valid criteria mapping.
func (s *Store) WriteSnapshot(ctx context.Context, snap model.Snapshot) error {
	if !snap.Kind.Valid() {
		return &model.ValidationError{Field: "kind", Value: string(snap.Kind), Reason: "unknown snapshot kind"}
	}
	if snap.Symbol == "" {
		return &model.ValidationError{Field: "symbol", Value: snap.Symbol, Reason: "must not be empty"}
	}
	if snap.Time.IsZero() {
		return &model.ValidationError{Field: "time", Value: snap.Time, Reason: "must be set"}
	}
	if len(snap.Payload) == 0 {
		return &model.ValidationError{Field: "payload", Value: nil, Reason: "must not be empty"}
	}
	if snap.Kind == model.SnapshotScreening {
		if snap.ScreeningID == "" {
			return &model.ValidationError{Field: "screening_id", Value: snap.ScreeningID, Reason: "required for screening snapshots"}
		}
		var criteria model.Criteria
		if err := json.Unmarshal(snap.Payload, &criteria); err != nil {
			return &model.ValidationError{Field: "payload", Value: string(snap.Payload), Reason: "not a criteria mapping"}
		}
		if err := criteria.Validate(); err != nil {
			return err
		}
	}

	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	chunkStart := snapshotChunkStart(snap.Time).Unix()

	return s.withRetry(ctx, "write snapshot", func(ctx context.Context) error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			var compressed int
			err := tx.QueryRowContext(ctx,
				`SELECT compressed FROM snapshot_chunks WHERE chunk_start=?`, chunkStart).Scan(&compressed)
			switch {
			case err == sql.ErrNoRows:
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO snapshot_chunks (chunk_start, compressed) VALUES (?,0)`, chunkStart); err != nil {
					return err
				}
			case err != nil:
				return err
			case compressed != 0:
				return &model.ImmutableChunkError{
					Partition:  "snapshot",
					ChunkStart: time.Unix(chunkStart, 0).UTC(),
				}
			}

			_, err = tx.ExecContext(ctx,
				`INSERT INTO snapshots (kind, symbol, time, screening_id, payload, created_at)
				 VALUES (?,?,?,?,?,?)
				 ON CONFLICT (kind, symbol, time, screening_id) DO UPDATE SET
				   payload=excluded.payload, created_at=excluded.created_at`,
				snap.Kind, snap.Symbol, snap.Time.UTC().Unix(), snap.ScreeningID,
				string(snap.Payload), time.Now().UTC().Unix())
			return err
		})
	})
}

// QuerySnapshots returns facts in [from, to) ordered time-ascending.
func (s *Store) QuerySnapshots(ctx context.Context, kind model.SnapshotKind, symbol string, from, to time.Time) ([]model.Snapshot, error) {
	if !kind.Valid() {
		return nil, &model.ValidationError{Field: "kind", Value: string(kind), Reason: "unknown snapshot kind"}
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var out []model.Snapshot
	err := s.withRetry(ctx, "query snapshots", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT kind, symbol, time, screening_id, payload, created_at
			 FROM snapshots
			 WHERE kind=? AND symbol=? AND time>=? AND time<?
			 ORDER BY time ASC, screening_id ASC`,
			kind, symbol, from.UTC().Unix(), to.UTC().Unix())
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var snap model.Snapshot
			var ts, created int64
			var payload string
			if err := rows.Scan(&snap.Kind, &snap.Symbol, &ts, &snap.ScreeningID,
				&payload, &created); err != nil {
				return err
			}
			snap.Time = time.Unix(ts, 0).UTC()
			snap.CreatedAt = time.Unix(created, 0).UTC()
			snap.Payload = json.RawMessage(payload)
			out = append(out, snap)
		}
		return rows.Err()
	})
	return out, err
}

// CompressSnapshotsOlderThan seals snapshot chunks fully older than the
// cutoff, after draining in-flight writers.
func (s *Store) CompressSnapshotsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	latestStart := cutoff.UTC().Add(-snapshotChunkWidth).Unix()

	var sealed int64
	err := s.withRetry(ctx, "compress snapshot chunks", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE snapshot_chunks SET compressed=1 WHERE compressed=0 AND chunk_start<=?`,
			latestStart)
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
		log.Printf("[INFO] sealed %s snapshot chunk(s) older than %s",
			humanize.Comma(sealed), cutoff.UTC().Format(time.RFC3339))
	}
	return sealed, nil
}

// DecompressSnapshotChunk reopens a sealed snapshot chunk for corrections.
func (s *Store) DecompressSnapshotChunk(ctx context.Context, chunkStart time.Time) error {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return s.withRetry(ctx, "decompress snapshot chunk", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE snapshot_chunks SET compressed=0 WHERE chunk_start=?`,
			snapshotChunkStart(chunkStart).Unix())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &model.NotFoundError{
				Entity: "snapshot chunk",
				Key:    chunkStart.UTC().Format(time.RFC3339),
			}
		}
		return nil
	})
}
