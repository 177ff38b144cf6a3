package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"MarketCore/internal/model"
)

func TestWriteSnapshot_UpsertByKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := testTime()

	first := model.Snapshot{
		Kind:    model.SnapshotTechnical,
		Symbol:  "ACME",
		Time:    at,
		Payload: json.RawMessage(`{"rsi": 42}`),
	}
	if err := s.WriteSnapshot(ctx, first); err != nil {
		t.Fatalf("first write: %v", err)
	}

	// Later write at the same key is a correction, not a new fact.
	second := first
	second.Payload = json.RawMessage(`{"rsi": 45}`)
	if err := s.WriteSnapshot(ctx, second); err != nil {
		t.Fatalf("second write: %v", err)
	}

	got, err := s.QuerySnapshots(ctx, model.SnapshotTechnical, "ACME", at, at.Add(time.Minute))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(got))
	}
	if string(got[0].Payload) != `{"rsi": 45}` {
		t.Errorf("expected corrected payload, got %s", got[0].Payload)
	}
}

func TestWriteSnapshot_OrderedQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := testTime()

	for _, offset := range []time.Duration{2 * time.Hour, 0, time.Hour} {
		snap := model.Snapshot{
			Kind:    model.SnapshotFundamental,
			Symbol:  "ACME",
			Time:    at.Add(offset),
			Payload: json.RawMessage(`{"pe": 12}`),
		}
		if err := s.WriteSnapshot(ctx, snap); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	got, err := s.QuerySnapshots(ctx, model.SnapshotFundamental, "ACME", at, at.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i].Time.After(got[i-1].Time) {
			t.Errorf("snapshots not time-ascending at index %d", i)
		}
	}
}

func TestWriteSnapshot_ScreeningCriteria(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := model.Snapshot{
		Kind:        model.SnapshotScreening,
		Symbol:      "ACME",
		Time:        testTime(),
		ScreeningID: "momentum-v1",
	}

	tests := []struct {
		name    string
		mutate  func(*model.Snapshot)
		wantErr bool
	}{
		{
			"valid criteria",
			func(s *model.Snapshot) {
				s.Payload = json.RawMessage(`{"rsi":{"type":"range","min":30,"max":70},"sector":{"type":"string","string":"tech"}}`)
			},
			false,
		},
		{
			"missing screening id",
			func(s *model.Snapshot) {
				s.ScreeningID = ""
				s.Payload = json.RawMessage(`{"rsi":{"type":"number","number":42}}`)
			},
			true,
		},
		{
			"inverted range",
			func(s *model.Snapshot) {
				s.Payload = json.RawMessage(`{"rsi":{"type":"range","min":70,"max":30}}`)
			},
			true,
		},
		{
			"unknown variant",
			func(s *model.Snapshot) {
				s.Payload = json.RawMessage(`{"rsi":{"type":"blob"}}`)
			},
			true,
		},
		{
			"opaque payload",
			func(s *model.Snapshot) {
				s.Payload = json.RawMessage(`"just a string"`)
			},
			true,
		},
	}
	for _, tt := range tests {
		snap := base
		tt.mutate(&snap)
		err := s.WriteSnapshot(ctx, snap)
		if tt.wantErr {
			var verr *model.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("%s: expected ValidationError, got %v", tt.name, err)
			}
		} else if err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
	}
}

func TestSnapshotCompression(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-60 * 24 * time.Hour)

	snap := model.Snapshot{
		Kind:    model.SnapshotEarning,
		Symbol:  "ACME",
		Time:    old,
		Payload: json.RawMessage(`{"eps": 1.2}`),
	}
	if err := s.WriteSnapshot(ctx, snap); err != nil {
		t.Fatalf("write: %v", err)
	}

	sealed, err := s.CompressSnapshotsOlderThan(ctx, time.Now().UTC().Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if sealed != 1 {
		t.Fatalf("expected 1 sealed chunk, got %d", sealed)
	}

	err = s.WriteSnapshot(ctx, snap)
	var immutable *model.ImmutableChunkError
	if !errors.As(err, &immutable) {
		t.Fatalf("expected ImmutableChunkError, got %v", err)
	}

	// Reads still served; explicit decompress reopens writes.
	got, err := s.QuerySnapshots(ctx, model.SnapshotEarning, "ACME", old.Add(-time.Hour), old.Add(time.Hour))
	if err != nil || len(got) != 1 {
		t.Fatalf("sealed snapshots should stay readable: %v (%d rows)", err, len(got))
	}
	if err := s.DecompressSnapshotChunk(ctx, old); err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if err := s.WriteSnapshot(ctx, snap); err != nil {
		t.Errorf("write after decompress: %v", err)
	}
}
