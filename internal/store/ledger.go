package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"MarketCore/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderRequest carries the caller-supplied fields of a new order.
type OrderRequest struct {
	PortfolioID string
	Symbol      string
	Side        model.Side
	Type        model.OrderType
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	StopPrice   decimal.Decimal
}

// CreatePortfolio opens a ledger account funded with initial capital.
func (s *Store) CreatePortfolio(ctx context.Context, owner string, initialCapital decimal.Decimal) (model.Portfolio, error) {
	if owner == "" {
		return model.Portfolio{}, &model.ValidationError{Field: "owner", Value: owner, Reason: "must not be empty"}
	}
	if initialCapital.IsNegative() {
		return model.Portfolio{}, &model.ValidationError{Field: "initial_capital", Value: initialCapital.String(), Reason: "must be non-negative"}
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	now := time.Now().UTC()
	p := model.Portfolio{
		ID:             uuid.NewString(),
		Owner:          owner,
		InitialCapital: initialCapital,
		CashBalance:    initialCapital,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := s.withRetry(ctx, "create portfolio", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO portfolios (id, owner, initial_capital, cash_balance, active, created_at, updated_at)
			 VALUES (?,?,?,?,1,?,?)`,
			p.ID, p.Owner, p.InitialCapital.String(), p.CashBalance.String(),
			now.Unix(), now.Unix())
		return err
	})
	if err != nil {
		return model.Portfolio{}, err
	}
	return p, nil
}

// ClosePortfolio deactivates a portfolio. Rows are kept; history remains
// queryable.
func (s *Store) ClosePortfolio(ctx context.Context, id string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return s.withRetry(ctx, "close portfolio", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE portfolios SET active=0, updated_at=? WHERE id=?`,
			time.Now().UTC().Unix(), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &model.NotFoundError{Entity: "portfolio", Key: id}
		}
		return nil
	})
}

// Portfolio is a point lookup by id.
func (s *Store) Portfolio(ctx context.Context, id string) (model.Portfolio, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var out model.Portfolio
	err := s.withRetry(ctx, "get portfolio", func(ctx context.Context) error {
		p, err := getPortfolio(ctx, s.db, id)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// SubmitOrder validates and records a PENDING order. Sell orders may not
// exceed the currently held quantity (no margin or short support).
func (s *Store) SubmitOrder(ctx context.Context, req OrderRequest) (model.Order, error) {
	if !req.Side.Valid() {
		return model.Order{}, &model.ValidationError{Field: "side", Value: string(req.Side), Reason: "must be BUY or SELL"}
	}
	if !req.Type.Valid() {
		return model.Order{}, &model.ValidationError{Field: "type", Value: string(req.Type), Reason: "unknown order type"}
	}
	if !req.Quantity.IsPositive() {
		return model.Order{}, &model.ValidationError{Field: "quantity", Value: req.Quantity.String(), Reason: "must be positive"}
	}
	if req.Type == model.OrderLimit && !req.Price.IsPositive() {
		return model.Order{}, &model.ValidationError{Field: "price", Value: req.Price.String(), Reason: "required for limit orders"}
	}
	if req.Type == model.OrderStop && !req.StopPrice.IsPositive() {
		return model.Order{}, &model.ValidationError{Field: "stop_price", Value: req.StopPrice.String(), Reason: "required for stop orders"}
	}

	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var out model.Order
	err := s.withRetry(ctx, "submit order", func(ctx context.Context) error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			p, err := getPortfolio(ctx, tx, req.PortfolioID)
			if err != nil {
				return err
			}
			if !p.Active {
				return &model.ValidationError{Field: "portfolio_id", Value: req.PortfolioID, Reason: "portfolio is closed"}
			}
			if _, err := getSymbolIn(ctx, tx, req.Symbol); err != nil {
				return err
			}
			if req.Side == model.SideSell {
				h, ok, err := getHolding(ctx, tx, req.PortfolioID, req.Symbol)
				if err != nil {
					return err
				}
				if !ok || h.Quantity.LessThan(req.Quantity) {
					held := decimal.Zero
					if ok {
						held = h.Quantity
					}
					return &model.ValidationError{
						Field:  "quantity",
						Value:  req.Quantity.String(),
						Reason: fmt.Sprintf("sell exceeds held quantity %s of %s", held, req.Symbol),
					}
				}
			}

			now := time.Now().UTC()
			out = model.Order{
				ID:             uuid.NewString(),
				PortfolioID:    req.PortfolioID,
				Symbol:         req.Symbol,
				Side:           req.Side,
				Type:           req.Type,
				Quantity:       req.Quantity,
				Price:          req.Price,
				StopPrice:      req.StopPrice,
				FilledQuantity: decimal.Zero,
				Status:         model.OrderPending,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO orders (id, portfolio_id, symbol, side, type, quantity, price, stop_price, filled_quantity, status, created_at, updated_at)
				 VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
				out.ID, out.PortfolioID, out.Symbol, out.Side, out.Type,
				out.Quantity.String(), out.Price.String(), out.StopPrice.String(),
				"0", out.Status, now.Unix(), now.Unix())
			return err
		})
	})
	if err != nil {
		return model.Order{}, err
	}
	return out, nil
}

// Order is a point lookup by id.
func (s *Store) Order(ctx context.Context, id string) (model.Order, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var out model.Order
	err := s.withRetry(ctx, "get order", func(ctx context.Context) error {
		o, err := getOrder(ctx, s.db, id)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

// ApplyFill records an executed quantity against an order. In one atomic
// unit it creates the immutable transaction, moves the order state machine,
// recomputes the holding, updates the trade's realized P&L and adjusts cash.
// After any sequence of fills the holding quantity equals the net signed
// filled quantity and cash equals initial capital + funding + net trade cash
// flows.
func (s *Store) ApplyFill(ctx context.Context, orderID string, quantity, price, commission, tax decimal.Decimal) (model.Transaction, error) {
	if !quantity.IsPositive() {
		return model.Transaction{}, &model.ValidationError{Field: "quantity", Value: quantity.String(), Reason: "must be positive"}
	}
	if !price.IsPositive() {
		return model.Transaction{}, &model.ValidationError{Field: "price", Value: price.String(), Reason: "must be positive"}
	}
	if commission.IsNegative() || tax.IsNegative() {
		return model.Transaction{}, &model.ValidationError{Field: "costs", Value: commission.String() + "/" + tax.String(), Reason: "must be non-negative"}
	}

	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var out model.Transaction
	err := s.withRetry(ctx, "apply fill", func(ctx context.Context) error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			order, err := getOrder(ctx, tx, orderID)
			if err != nil {
				return err
			}
			if order.Status != model.OrderPending && order.Status != model.OrderPartiallyFilled {
				return &model.InvalidOrderStateError{OrderID: orderID, Status: order.Status, Action: "fill"}
			}
			remaining := order.Quantity.Sub(order.FilledQuantity)
			if quantity.GreaterThan(remaining) {
				return &model.OverfillError{OrderID: orderID, Remaining: remaining, Requested: quantity}
			}

			portfolio, err := getPortfolio(ctx, tx, order.PortfolioID)
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			gross := quantity.Mul(price)
			costs := commission.Add(tax)

			var net decimal.Decimal
			if order.Side == model.SideBuy {
				net = gross.Add(costs) // cash out
			} else {
				net = gross.Sub(costs) // cash in
			}

			// Cash movement.
			var newCash decimal.Decimal
			if order.Side == model.SideBuy {
				newCash = portfolio.CashBalance.Sub(net)
				if newCash.IsNegative() {
					return &model.NegativeBalanceError{
						PortfolioID: portfolio.ID,
						Balance:     portfolio.CashBalance,
						Requested:   net,
					}
				}
			} else {
				newCash = portfolio.CashBalance.Add(net)
			}

			// Holding recomputation.
			holding, hasHolding, err := getHolding(ctx, tx, order.PortfolioID, order.Symbol)
			if err != nil {
				return err
			}
			if order.Side == model.SideBuy {
				oldQty := decimal.Zero
				oldAvg := decimal.Zero
				if hasHolding {
					oldQty = holding.Quantity
					oldAvg = holding.AveragePrice
				}
				newQty := oldQty.Add(quantity)
				newAvg := oldQty.Mul(oldAvg).Add(quantity.Mul(price)).Div(newQty)
				if err := putHolding(ctx, tx, order.PortfolioID, order.Symbol, newQty, newAvg, now); err != nil {
					return err
				}
			} else {
				if !hasHolding || holding.Quantity.LessThan(quantity) {
					held := decimal.Zero
					if hasHolding {
						held = holding.Quantity
					}
					return &model.ValidationError{
						Field:  "quantity",
						Value:  quantity.String(),
						Reason: fmt.Sprintf("sell fill exceeds held quantity %s of %s", held, order.Symbol),
					}
				}
				newQty := holding.Quantity.Sub(quantity)
				if newQty.IsZero() {
					if err := deleteHolding(ctx, tx, order.PortfolioID, order.Symbol); err != nil {
						return err
					}
				} else {
					// Average price is unchanged by sells.
					if err := putHolding(ctx, tx, order.PortfolioID, order.Symbol, newQty, holding.AveragePrice, now); err != nil {
						return err
					}
				}
			}

			// Trade bookkeeping: buys extend the open trade, sells realize
			// P&L against the entry's average price.
			if order.Side == model.SideBuy {
				if err := extendTrade(ctx, tx, order.PortfolioID, order.Symbol, quantity, now); err != nil {
					return err
				}
			} else {
				realized := price.Sub(holding.AveragePrice).Mul(quantity).Sub(costs)
				if err := reduceTrade(ctx, tx, order.PortfolioID, order.Symbol, quantity, realized, now); err != nil {
					return err
				}
			}

			// Immutable transaction row.
			out = model.Transaction{
				ID:          uuid.NewString(),
				OrderID:     order.ID,
				PortfolioID: order.PortfolioID,
				Symbol:      order.Symbol,
				Side:        order.Side,
				Quantity:    quantity,
				Price:       price,
				Commission:  commission,
				Tax:         tax,
				NetAmount:   net,
				CreatedAt:   now,
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO transactions (id, order_id, portfolio_id, symbol, side, quantity, price, commission, tax, net_amount, created_at)
				 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
				out.ID, out.OrderID, out.PortfolioID, out.Symbol, out.Side,
				out.Quantity.String(), out.Price.String(), out.Commission.String(),
				out.Tax.String(), out.NetAmount.String(), now.Unix()); err != nil {
				return err
			}

			// Order state machine.
			newFilled := order.FilledQuantity.Add(quantity)
			newStatus := model.OrderPartiallyFilled
			if newFilled.Equal(order.Quantity) {
				newStatus = model.OrderFilled
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE orders SET filled_quantity=?, status=?, updated_at=? WHERE id=?`,
				newFilled.String(), newStatus, now.Unix(), order.ID); err != nil {
				return err
			}

			_, err = tx.ExecContext(ctx,
				`UPDATE portfolios SET cash_balance=?, updated_at=? WHERE id=?`,
				newCash.String(), now.Unix(), portfolio.ID)
			return err
		})
	})
	if err != nil {
		return model.Transaction{}, err
	}
	return out, nil
}

// CancelOrder is legal only from PENDING or PARTIALLY_FILLED.
func (s *Store) CancelOrder(ctx context.Context, id string) error {
	return s.transitionOrder(ctx, id, "cancel", model.OrderCancelled,
		model.OrderPending, model.OrderPartiallyFilled)
}

// RejectOrder is legal only from PENDING.
func (s *Store) RejectOrder(ctx context.Context, id string) error {
	return s.transitionOrder(ctx, id, "reject", model.OrderRejected, model.OrderPending)
}

func (s *Store) transitionOrder(ctx context.Context, id, action string, to model.OrderStatus, from ...model.OrderStatus) error {
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return s.withRetry(ctx, action+" order", func(ctx context.Context) error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			order, err := getOrder(ctx, tx, id)
			if err != nil {
				return err
			}
			legal := false
			for _, st := range from {
				if order.Status == st {
					legal = true
					break
				}
			}
			if !legal {
				return &model.InvalidOrderStateError{OrderID: id, Status: order.Status, Action: action}
			}
			_, err = tx.ExecContext(ctx,
				`UPDATE orders SET status=?, updated_at=? WHERE id=?`,
				to, time.Now().UTC().Unix(), id)
			return err
		})
	})
}

// ApplyFunding records a deposit/withdrawal/dividend/interest event and
// moves cash in the same atomic unit. A withdrawal that would overdraw the
// balance is rejected.
func (s *Store) ApplyFunding(ctx context.Context, portfolioID string, amount decimal.Decimal, ftype model.FundingType) (model.Funding, error) {
	if !ftype.Valid() {
		return model.Funding{}, &model.ValidationError{Field: "type", Value: string(ftype), Reason: "unknown funding type"}
	}
	if !amount.IsPositive() {
		return model.Funding{}, &model.ValidationError{Field: "amount", Value: amount.String(), Reason: "must be positive"}
	}

	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var out model.Funding
	err := s.withRetry(ctx, "apply funding", func(ctx context.Context) error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			p, err := getPortfolio(ctx, tx, portfolioID)
			if err != nil {
				return err
			}
			var newCash decimal.Decimal
			if ftype == model.FundingWithdrawal {
				newCash = p.CashBalance.Sub(amount)
				if newCash.IsNegative() {
					return &model.NegativeBalanceError{PortfolioID: portfolioID, Balance: p.CashBalance, Requested: amount}
				}
			} else {
				newCash = p.CashBalance.Add(amount)
			}

			now := time.Now().UTC()
			out = model.Funding{
				ID:          uuid.NewString(),
				PortfolioID: portfolioID,
				Type:        ftype,
				Amount:      amount,
				CreatedAt:   now,
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO funding (id, portfolio_id, type, amount, created_at) VALUES (?,?,?,?,?)`,
				out.ID, portfolioID, ftype, amount.String(), now.Unix()); err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx,
				`UPDATE portfolios SET cash_balance=?, updated_at=? WHERE id=?`,
				newCash.String(), now.Unix(), portfolioID)
			return err
		})
	})
	if err != nil {
		return model.Funding{}, err
	}
	return out, nil
}

// PortfolioState returns the portfolio with its holdings. CurrentValue is
// filled by the query layer, which knows latest prices.
func (s *Store) PortfolioState(ctx context.Context, id string) (model.PortfolioState, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var out model.PortfolioState
	err := s.withRetry(ctx, "portfolio state", func(ctx context.Context) error {
		p, err := getPortfolio(ctx, s.db, id)
		if err != nil {
			return err
		}
		rows, err := s.db.QueryContext(ctx,
			`SELECT portfolio_id, symbol, quantity, average_price, updated_at
			 FROM holdings WHERE portfolio_id=? ORDER BY symbol`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		var holdings []model.Holding
		for rows.Next() {
			var h model.Holding
			var qty, avg string
			var updated int64
			if err := rows.Scan(&h.PortfolioID, &h.Symbol, &qty, &avg, &updated); err != nil {
				return err
			}
			if h.Quantity, err = decimal.NewFromString(qty); err != nil {
				return err
			}
			if h.AveragePrice, err = decimal.NewFromString(avg); err != nil {
				return err
			}
			h.UpdatedAt = time.Unix(updated, 0).UTC()
			holdings = append(holdings, h)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		out = model.PortfolioState{Portfolio: p, Holdings: holdings}
		return nil
	})
	return out, err
}

// Transactions returns a portfolio's transaction history, oldest first.
func (s *Store) Transactions(ctx context.Context, portfolioID string) ([]model.Transaction, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var out []model.Transaction
	err := s.withRetry(ctx, "list transactions", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, order_id, portfolio_id, symbol, side, quantity, price, commission, tax, net_amount, created_at
			 FROM transactions WHERE portfolio_id=? ORDER BY created_at ASC, id ASC`, portfolioID)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var t model.Transaction
			var qty, price, commission, tax, net string
			var created int64
			if err := rows.Scan(&t.ID, &t.OrderID, &t.PortfolioID, &t.Symbol, &t.Side,
				&qty, &price, &commission, &tax, &net, &created); err != nil {
				return err
			}
			if t.Quantity, err = decimal.NewFromString(qty); err != nil {
				return err
			}
			if t.Price, err = decimal.NewFromString(price); err != nil {
				return err
			}
			if t.Commission, err = decimal.NewFromString(commission); err != nil {
				return err
			}
			if t.Tax, err = decimal.NewFromString(tax); err != nil {
				return err
			}
			if t.NetAmount, err = decimal.NewFromString(net); err != nil {
				return err
			}
			t.CreatedAt = time.Unix(created, 0).UTC()
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}

// Trades returns a portfolio's entry/exit pairs, oldest first.
func (s *Store) Trades(ctx context.Context, portfolioID string) ([]model.Trade, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var out []model.Trade
	err := s.withRetry(ctx, "list trades", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, portfolio_id, symbol, open_quantity, realized_pnl, status, opened_at, closed_at
			 FROM trades WHERE portfolio_id=? ORDER BY opened_at ASC, id ASC`, portfolioID)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var t model.Trade
			var qty, pnl string
			var opened int64
			var closed sql.NullInt64
			if err := rows.Scan(&t.ID, &t.PortfolioID, &t.Symbol, &qty, &pnl,
				&t.Status, &opened, &closed); err != nil {
				return err
			}
			if t.OpenQuantity, err = decimal.NewFromString(qty); err != nil {
				return err
			}
			if t.RealizedPnL, err = decimal.NewFromString(pnl); err != nil {
				return err
			}
			t.OpenedAt = time.Unix(opened, 0).UTC()
			if closed.Valid {
				at := time.Unix(closed.Int64, 0).UTC()
				t.ClosedAt = &at
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getPortfolio(ctx context.Context, q querier, id string) (model.Portfolio, error) {
	var p model.Portfolio
	var initial, cash string
	var active int
	var created, updated int64
	err := q.QueryRowContext(ctx,
		`SELECT id, owner, initial_capital, cash_balance, active, created_at, updated_at
		 FROM portfolios WHERE id=?`, id).
		Scan(&p.ID, &p.Owner, &initial, &cash, &active, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Portfolio{}, &model.NotFoundError{Entity: "portfolio", Key: id}
	}
	if err != nil {
		return model.Portfolio{}, err
	}
	if p.InitialCapital, err = decimal.NewFromString(initial); err != nil {
		return model.Portfolio{}, err
	}
	if p.CashBalance, err = decimal.NewFromString(cash); err != nil {
		return model.Portfolio{}, err
	}
	p.Active = active != 0
	p.CreatedAt = time.Unix(created, 0).UTC()
	p.UpdatedAt = time.Unix(updated, 0).UTC()
	return p, nil
}

func getOrder(ctx context.Context, q querier, id string) (model.Order, error) {
	var o model.Order
	var qty, price, stop, filled string
	var created, updated int64
	err := q.QueryRowContext(ctx,
		`SELECT id, portfolio_id, symbol, side, type, quantity, price, stop_price, filled_quantity, status, created_at, updated_at
		 FROM orders WHERE id=?`, id).
		Scan(&o.ID, &o.PortfolioID, &o.Symbol, &o.Side, &o.Type, &qty, &price,
			&stop, &filled, &o.Status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, &model.NotFoundError{Entity: "order", Key: id}
	}
	if err != nil {
		return model.Order{}, err
	}
	if o.Quantity, err = decimal.NewFromString(qty); err != nil {
		return model.Order{}, err
	}
	if o.Price, err = decimal.NewFromString(price); err != nil {
		return model.Order{}, err
	}
	if o.StopPrice, err = decimal.NewFromString(stop); err != nil {
		return model.Order{}, err
	}
	if o.FilledQuantity, err = decimal.NewFromString(filled); err != nil {
		return model.Order{}, err
	}
	o.CreatedAt = time.Unix(created, 0).UTC()
	o.UpdatedAt = time.Unix(updated, 0).UTC()
	return o, nil
}

func getSymbolIn(ctx context.Context, q querier, symbol string) (string, error) {
	var status string
	err := q.QueryRowContext(ctx, `SELECT status FROM symbols WHERE symbol=?`, symbol).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &model.NotFoundError{Entity: "symbol", Key: symbol}
	}
	return status, err
}

func getHolding(ctx context.Context, q querier, portfolioID, symbol string) (model.Holding, bool, error) {
	var h model.Holding
	var qty, avg string
	var updated int64
	err := q.QueryRowContext(ctx,
		`SELECT portfolio_id, symbol, quantity, average_price, updated_at
		 FROM holdings WHERE portfolio_id=? AND symbol=?`, portfolioID, symbol).
		Scan(&h.PortfolioID, &h.Symbol, &qty, &avg, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Holding{}, false, nil
	}
	if err != nil {
		return model.Holding{}, false, err
	}
	if h.Quantity, err = decimal.NewFromString(qty); err != nil {
		return model.Holding{}, false, err
	}
	if h.AveragePrice, err = decimal.NewFromString(avg); err != nil {
		return model.Holding{}, false, err
	}
	h.UpdatedAt = time.Unix(updated, 0).UTC()
	return h, true, nil
}

func putHolding(ctx context.Context, q querier, portfolioID, symbol string, qty, avg decimal.Decimal, now time.Time) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO holdings (portfolio_id, symbol, quantity, average_price, updated_at)
		 VALUES (?,?,?,?,?)
		 ON CONFLICT (portfolio_id, symbol) DO UPDATE SET
		   quantity=excluded.quantity, average_price=excluded.average_price, updated_at=excluded.updated_at`,
		portfolioID, symbol, qty.String(), avg.String(), now.Unix())
	return err
}

func deleteHolding(ctx context.Context, q querier, portfolioID, symbol string) error {
	_, err := q.ExecContext(ctx,
		`DELETE FROM holdings WHERE portfolio_id=? AND symbol=?`, portfolioID, symbol)
	return err
}

func openTrade(ctx context.Context, q querier, portfolioID, symbol string) (model.Trade, bool, error) {
	var t model.Trade
	var qty, pnl string
	var opened int64
	err := q.QueryRowContext(ctx,
		`SELECT id, portfolio_id, symbol, open_quantity, realized_pnl, status, opened_at
		 FROM trades
		 WHERE portfolio_id=? AND symbol=? AND status IN (?,?)
		 ORDER BY opened_at ASC LIMIT 1`,
		portfolioID, symbol, model.TradeOpen, model.TradePartiallyClosed).
		Scan(&t.ID, &t.PortfolioID, &t.Symbol, &qty, &pnl, &t.Status, &opened)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Trade{}, false, nil
	}
	if err != nil {
		return model.Trade{}, false, err
	}
	if t.OpenQuantity, err = decimal.NewFromString(qty); err != nil {
		return model.Trade{}, false, err
	}
	if t.RealizedPnL, err = decimal.NewFromString(pnl); err != nil {
		return model.Trade{}, false, err
	}
	t.OpenedAt = time.Unix(opened, 0).UTC()
	return t, true, nil
}

func extendTrade(ctx context.Context, q querier, portfolioID, symbol string, qty decimal.Decimal, now time.Time) error {
	t, ok, err := openTrade(ctx, q, portfolioID, symbol)
	if err != nil {
		return err
	}
	if !ok {
		_, err := q.ExecContext(ctx,
			`INSERT INTO trades (id, portfolio_id, symbol, open_quantity, realized_pnl, status, opened_at)
			 VALUES (?,?,?,?,?,?,?)`,
			uuid.NewString(), portfolioID, symbol, qty.String(), "0",
			model.TradeOpen, now.Unix())
		return err
	}
	_, err = q.ExecContext(ctx,
		`UPDATE trades SET open_quantity=? WHERE id=?`,
		t.OpenQuantity.Add(qty).String(), t.ID)
	return err
}

func reduceTrade(ctx context.Context, q querier, portfolioID, symbol string, qty, realized decimal.Decimal, now time.Time) error {
	t, ok, err := openTrade(ctx, q, portfolioID, symbol)
	if err != nil {
		return err
	}
	if !ok {
		// Holdings only exist when an entry opened a trade.
		return &model.NotFoundError{Entity: "trade", Key: portfolioID + "/" + symbol}
	}
	newQty := t.OpenQuantity.Sub(qty)
	newPnL := t.RealizedPnL.Add(realized)
	if newQty.IsZero() {
		_, err = q.ExecContext(ctx,
			`UPDATE trades SET open_quantity=?, realized_pnl=?, status=?, closed_at=? WHERE id=?`,
			newQty.String(), newPnL.String(), model.TradeClosed, now.Unix(), t.ID)
		return err
	}
	_, err = q.ExecContext(ctx,
		`UPDATE trades SET open_quantity=?, realized_pnl=?, status=? WHERE id=?`,
		newQty.String(), newPnL.String(), model.TradePartiallyClosed, t.ID)
	return err
}
