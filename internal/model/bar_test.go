package model

import (
	"testing"
	"time"
)

func TestBarValidate(t *testing.T) {
	at := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	valid := Bar{Symbol: "ACME", Time: at, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10}

	tests := []struct {
		name    string
		mutate  func(*Bar)
		wantErr bool
	}{
		{"valid", func(*Bar) {}, false},
		{"flat bar", func(b *Bar) { b.Open, b.High, b.Low, b.Close = 100, 100, 100, 100 }, false},
		{"zero volume", func(b *Bar) { b.Volume = 0 }, false},
		{"empty symbol", func(b *Bar) { b.Symbol = "" }, true},
		{"zero time", func(b *Bar) { b.Time = time.Time{} }, true},
		{"negative volume", func(b *Bar) { b.Volume = -1 }, true},
		{"low above open", func(b *Bar) { b.Low = 100.5; b.Close = 101 }, true},
		{"high below close", func(b *Bar) { b.Close = 102 }, true},
		{"high below open", func(b *Bar) { b.Open = 102 }, true},
	}
	for _, tt := range tests {
		b := valid
		tt.mutate(&b)
		err := b.Validate()
		if tt.wantErr && err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
	}
}

func TestGranularityChunking(t *testing.T) {
	// 2024-01-04 is a Thursday.
	thu := time.Date(2024, 1, 4, 15, 45, 0, 0, time.UTC)

	if got := GranularityMinute.ChunkStart(thu); !got.Equal(time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("minute chunk start: got %v", got)
	}
	if got := GranularityHour.ChunkStart(thu); !got.Equal(time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("hour chunk start: got %v", got)
	}
	// Day series partitions by week, weeks start on Monday.
	if got := GranularityDay.ChunkStart(thu); !got.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("day chunk start: got %v", got)
	}
	// A Sunday belongs to the preceding Monday's week.
	sun := time.Date(2024, 1, 7, 3, 0, 0, 0, time.UTC)
	if got := GranularityDay.ChunkStart(sun); !got.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("sunday chunk start: got %v", got)
	}
	// A Monday starts its own week.
	mon := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	if got := GranularityDay.ChunkStart(mon); !got.Equal(mon) {
		t.Errorf("monday chunk start: got %v", got)
	}

	if GranularityMinute.ChunkWidth() != 24*time.Hour || GranularityDay.ChunkWidth() != 7*24*time.Hour {
		t.Error("unexpected chunk widths")
	}
}

func TestBucketWidth(t *testing.T) {
	if BucketDaily.Source() != GranularityMinute {
		t.Errorf("daily source: got %s", BucketDaily.Source())
	}
	if BucketWeekly.Source() != GranularityDay {
		t.Errorf("weekly source: got %s", BucketWeekly.Source())
	}

	thu := time.Date(2024, 1, 4, 15, 45, 0, 0, time.UTC)
	day := BucketDaily.Start(thu)
	if !day.Equal(time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("daily bucket start: got %v", day)
	}
	if next := BucketDaily.Next(day); !next.Equal(day.AddDate(0, 0, 1)) {
		t.Errorf("daily bucket next: got %v", next)
	}

	week := BucketWeekly.Start(thu)
	if !week.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("weekly bucket start: got %v", week)
	}
	if next := BucketWeekly.Next(week); !next.Equal(week.AddDate(0, 0, 7)) {
		t.Errorf("weekly bucket next: got %v", next)
	}

	if BucketWidth("1y").Valid() {
		t.Error("unknown width should not validate")
	}
}
