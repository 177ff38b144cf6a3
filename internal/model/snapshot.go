package model

import (
	"encoding/json"
	"time"
)

// SnapshotKind partitions the fact store by payload type.
type SnapshotKind string

const (
	SnapshotTechnical   SnapshotKind = "technical"
	SnapshotFundamental SnapshotKind = "fundamental"
	SnapshotScreening   SnapshotKind = "screening"
	SnapshotEarning     SnapshotKind = "earning"
	SnapshotSetup       SnapshotKind = "setup"
	SnapshotBullFlag    SnapshotKind = "bull_flag"
)

func (k SnapshotKind) Valid() bool {
	switch k {
	case SnapshotTechnical, SnapshotFundamental, SnapshotScreening,
		SnapshotEarning, SnapshotSetup, SnapshotBullFlag:
		return true
	}
	return false
}

// Snapshot is one time-keyed fact. A later write at the same
// (kind, symbol, time, screening_id) key replaces the payload.
type Snapshot struct {
	Kind        SnapshotKind    `json:"kind"`
	Symbol      string          `json:"symbol"`
	Time        time.Time       `json:"time"`
	ScreeningID string          `json:"screening_id,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

// CriterionType is the closed set of screening criterion value variants.
type CriterionType string

const (
	CriterionString  CriterionType = "string"
	CriterionNumber  CriterionType = "number"
	CriterionBoolean CriterionType = "boolean"
	CriterionRange   CriterionType = "range"
)

// Criterion is one tagged screening criterion value.
type Criterion struct {
	Type    CriterionType `json:"type"`
	String  string        `json:"string,omitempty"`
	Number  float64       `json:"number,omitempty"`
	Boolean bool          `json:"boolean,omitempty"`
	Min     float64       `json:"min,omitempty"`
	Max     float64       `json:"max,omitempty"`
}

func (c Criterion) Validate(name string) error {
	switch c.Type {
	case CriterionString, CriterionNumber, CriterionBoolean:
		return nil
	case CriterionRange:
		if c.Min > c.Max {
			return &ValidationError{Field: name, Value: c.Min, Reason: "range min exceeds max"}
		}
		return nil
	}
	return &ValidationError{Field: name, Value: string(c.Type), Reason: "unknown criterion type"}
}

// Criteria is the screening snapshot payload: a named set of tagged values,
// validated at write time instead of stored as an opaque blob.
type Criteria map[string]Criterion

func (c Criteria) Validate() error {
	if len(c) == 0 {
		return &ValidationError{Field: "criteria", Value: nil, Reason: "must not be empty"}
	}
	for name, crit := range c {
		if err := crit.Validate(name); err != nil {
			return err
		}
	}
	return nil
}
