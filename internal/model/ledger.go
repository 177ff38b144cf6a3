package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or transaction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// OrderType is the execution style requested for an order.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
	OrderStop   OrderType = "STOP"
)

func (t OrderType) Valid() bool {
	switch t {
	case OrderMarket, OrderLimit, OrderStop:
		return true
	}
	return false
}

// OrderStatus is the order state machine:
// PENDING -> (PARTIALLY_FILLED)* -> FILLED | CANCELLED | REJECTED.
type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderRejected        OrderStatus = "REJECTED"
)

// TradeStatus tracks an entry/exit pair: OPEN -> PARTIALLY_CLOSED -> CLOSED.
type TradeStatus string

const (
	TradeOpen            TradeStatus = "OPEN"
	TradePartiallyClosed TradeStatus = "PARTIALLY_CLOSED"
	TradeClosed          TradeStatus = "CLOSED"
)

// FundingType labels a cash movement outside of trading.
type FundingType string

const (
	FundingDeposit    FundingType = "DEPOSIT"
	FundingWithdrawal FundingType = "WITHDRAWAL"
	FundingDividend   FundingType = "DIVIDEND"
	FundingInterest   FundingType = "INTEREST"
)

func (t FundingType) Valid() bool {
	switch t {
	case FundingDeposit, FundingWithdrawal, FundingDividend, FundingInterest:
		return true
	}
	return false
}

// Portfolio is a ledger account. CashBalance is mutated only through
// transactions and funding events.
type Portfolio struct {
	ID             string          `json:"id"`
	Owner          string          `json:"owner"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	CashBalance    decimal.Decimal `json:"cash_balance"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Holding is the current position for one (portfolio, symbol) pair.
// Quantity always equals the net signed filled quantity of its transactions.
type Holding struct {
	PortfolioID  string          `json:"portfolio_id"`
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Transaction is the immutable record of one executed fill.
// It is the source of truth holdings and cash are derived from.
type Transaction struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	PortfolioID string          `json:"portfolio_id"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Commission  decimal.Decimal `json:"commission"`
	Tax         decimal.Decimal `json:"tax"`
	NetAmount   decimal.Decimal `json:"net_amount"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Order is a request to trade; FilledQuantity accumulates only via
// transactions.
type Order struct {
	ID             string          `json:"id"`
	PortfolioID    string          `json:"portfolio_id"`
	Symbol         string          `json:"symbol"`
	Side           Side            `json:"side"`
	Type           OrderType       `json:"type"`
	Quantity       decimal.Decimal `json:"quantity"`
	Price          decimal.Decimal `json:"price,omitempty"`
	StopPrice      decimal.Decimal `json:"stop_price,omitempty"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	Status         OrderStatus     `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Trade groups the entry and exit transactions for one symbol position and
// accumulates realized P&L as exits reduce the open quantity.
type Trade struct {
	ID           string          `json:"id"`
	PortfolioID  string          `json:"portfolio_id"`
	Symbol       string          `json:"symbol"`
	OpenQuantity decimal.Decimal `json:"open_quantity"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
	Status       TradeStatus     `json:"status"`
	OpenedAt     time.Time       `json:"opened_at"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty"`
}

// Funding is one deposit/withdrawal/dividend/interest event.
type Funding struct {
	ID          string          `json:"id"`
	PortfolioID string          `json:"portfolio_id"`
	Type        FundingType     `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	CreatedAt   time.Time       `json:"created_at"`
}

// PortfolioState is the composed read view of a portfolio.
// CurrentValue is derived by the query layer from latest closes and may be
// zero when no day bars exist for the held symbols.
type PortfolioState struct {
	Portfolio    Portfolio       `json:"portfolio"`
	Holdings     []Holding       `json:"holdings"`
	CurrentValue decimal.Decimal `json:"current_value"`
}
