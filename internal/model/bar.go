package model

import "time"

// Granularity is the sampling interval of a bar series.
type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
)

// Granularities lists every supported bar series.
var Granularities = []Granularity{GranularityMinute, GranularityHour, GranularityDay}

func (g Granularity) Valid() bool {
	switch g {
	case GranularityMinute, GranularityHour, GranularityDay:
		return true
	}
	return false
}

// ChunkWidth is the calendar span of one storage partition:
// minute and hour series partition by day, the day series by week.
func (g Granularity) ChunkWidth() time.Duration {
	if g == GranularityDay {
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}

// ChunkStart returns the start of the chunk containing t (UTC).
func (g Granularity) ChunkStart(t time.Time) time.Time {
	t = t.UTC()
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if g == GranularityDay {
		// Weeks start on Monday.
		return d.AddDate(0, 0, -((int(d.Weekday()) + 6) % 7))
	}
	return d
}

// Bar is one OHLCV observation for a symbol at a fixed granularity and time.
type Bar struct {
	Symbol   string    `json:"symbol"`
	Time     time.Time `json:"time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
	AdjClose float64   `json:"adj_close"`
}

// Validate checks the OHLC ordering and volume invariants.
func (b Bar) Validate() error {
	if b.Symbol == "" {
		return &ValidationError{Field: "symbol", Value: b.Symbol, Reason: "must not be empty"}
	}
	if b.Time.IsZero() {
		return &ValidationError{Field: "time", Value: b.Time, Reason: "must be set"}
	}
	if b.Volume < 0 {
		return &ValidationError{Field: "volume", Value: b.Volume, Reason: "must be non-negative"}
	}
	if b.Low > min(b.Open, b.Close) || max(b.Open, b.Close) > b.High {
		return &ValidationError{
			Field:  "ohlc",
			Value:  b.Symbol + "@" + b.Time.UTC().Format(time.RFC3339),
			Reason: "requires low <= open,close <= high",
		}
	}
	return nil
}

// BucketWidth identifies a continuous-aggregate rollup series.
type BucketWidth string

const (
	BucketDaily  BucketWidth = "1d"
	BucketWeekly BucketWidth = "1w"
)

func (w BucketWidth) Valid() bool {
	return w == BucketDaily || w == BucketWeekly
}

// Source is the granularity a rollup is derived from.
func (w BucketWidth) Source() Granularity {
	if w == BucketWeekly {
		return GranularityDay
	}
	return GranularityMinute
}

// Start returns the start of the bucket containing t (UTC).
func (w BucketWidth) Start(t time.Time) time.Time {
	t = t.UTC()
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if w == BucketWeekly {
		return d.AddDate(0, 0, -((int(d.Weekday()) + 6) % 7))
	}
	return d
}

// Next returns the start of the bucket following start.
func (w BucketWidth) Next(start time.Time) time.Time {
	if w == BucketWeekly {
		return start.AddDate(0, 0, 7)
	}
	return start.AddDate(0, 0, 1)
}

// AggregateBucket is a derived rollup over one bucket of finer-grained bars.
type AggregateBucket struct {
	Symbol      string      `json:"symbol"`
	BucketStart time.Time   `json:"bucket_start"`
	BucketWidth BucketWidth `json:"bucket_width"`
	Open        float64     `json:"open"`
	High        float64     `json:"high"`
	Low         float64     `json:"low"`
	Close       float64     `json:"close"`
	Volume      float64     `json:"volume"`
}
