package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ValidationError reports malformed input. It is never retried automatically;
// the caller must correct the offending field.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Field, e.Value, e.Reason)
}

// ConflictError reports an identity collision on a create-only entity.
type ConflictError struct {
	Entity string
	Key    string
	Detail string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists: %s", e.Entity, e.Key, e.Detail)
}

// ImmutableChunkError reports a write targeting a sealed partition.
// The caller must decompress the chunk explicitly before rewriting.
type ImmutableChunkError struct {
	Partition  string // "minute", "hour", "day" or "snapshot"
	ChunkStart time.Time
}

func (e *ImmutableChunkError) Error() string {
	return fmt.Sprintf("%s chunk starting %s is compressed and read-only",
		e.Partition, e.ChunkStart.UTC().Format(time.RFC3339))
}

// OverfillError reports a fill that exceeds an order's remaining quantity.
type OverfillError struct {
	OrderID   string
	Remaining decimal.Decimal
	Requested decimal.Decimal
}

func (e *OverfillError) Error() string {
	return fmt.Sprintf("order %s: fill %s exceeds remaining quantity %s",
		e.OrderID, e.Requested, e.Remaining)
}

// InvalidOrderStateError reports an illegal order state transition.
type InvalidOrderStateError struct {
	OrderID string
	Status  OrderStatus
	Action  string
}

func (e *InvalidOrderStateError) Error() string {
	return fmt.Sprintf("order %s: cannot %s in state %s", e.OrderID, e.Action, e.Status)
}

// NegativeBalanceError reports a cash movement that would overdraw a portfolio.
type NegativeBalanceError struct {
	PortfolioID string
	Balance     decimal.Decimal
	Requested   decimal.Decimal
}

func (e *NegativeBalanceError) Error() string {
	return fmt.Sprintf("portfolio %s: balance %s cannot cover %s",
		e.PortfolioID, e.Balance, e.Requested)
}

// NotFoundError reports a point lookup miss by required key.
// Range queries return empty results instead.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

// TimeoutError wraps a deadline or cancellation failure.
// It is transient: the caller may retry with backoff.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("%s timed out: %v", e.Op, e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }
