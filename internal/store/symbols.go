package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"MarketCore/internal/model"
)

// Register creates a symbol, or is a no-op when the same identity already
// exists. A different market or asset type under the same identifier is a
// ConflictError.
func (s *Store) Register(ctx context.Context, sym model.Symbol) (model.Symbol, error) {
	if sym.Symbol == "" {
		return model.Symbol{}, &model.ValidationError{Field: "symbol", Value: sym.Symbol, Reason: "must not be empty"}
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var out model.Symbol
	err := s.withRetry(ctx, "register symbol", func(ctx context.Context) error {
		existing, err := s.getSymbol(ctx, sym.Symbol)
		switch {
		case err == nil:
			if existing.Market != sym.Market || existing.AssetType != sym.AssetType {
				return &model.ConflictError{
					Entity: "symbol",
					Key:    sym.Symbol,
					Detail: "market/asset_type differ from registered metadata",
				}
			}
			out = existing
			return nil
		case !isNotFound(err):
			return err
		}

		now := time.Now().UTC()
		sym.Status = model.SymbolActive
		sym.CreatedAt = now
		sym.UpdatedAt = now
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO symbols (symbol, name, market, asset_type, status, created_at, updated_at)
			 VALUES (?,?,?,?,?,?,?)`,
			sym.Symbol, sym.Name, sym.Market, sym.AssetType, sym.Status, now.Unix(), now.Unix())
		if err != nil {
			return err
		}
		out = sym
		s.emit(model.ChangeEvent{Symbol: sym.Symbol, Kind: model.ChangeRegistered, At: now})
		return nil
	})
	return out, err
}

// UpdateMetadata applies a partial metadata patch. It is idempotent.
func (s *Store) UpdateMetadata(ctx context.Context, symbol string, patch model.SymbolPatch) (model.Symbol, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var out model.Symbol
	err := s.withRetry(ctx, "update symbol metadata", func(ctx context.Context) error {
		existing, err := s.getSymbol(ctx, symbol)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			existing.Name = *patch.Name
		}
		if patch.Market != nil {
			existing.Market = *patch.Market
		}
		if patch.AssetType != nil {
			existing.AssetType = *patch.AssetType
		}
		existing.UpdatedAt = time.Now().UTC()
		_, err = s.db.ExecContext(ctx,
			`UPDATE symbols SET name=?, market=?, asset_type=?, updated_at=? WHERE symbol=?`,
			existing.Name, existing.Market, existing.AssetType, existing.UpdatedAt.Unix(), symbol)
		if err != nil {
			return err
		}
		out = existing
		s.emit(model.ChangeEvent{Symbol: symbol, Kind: model.ChangeUpdated, At: existing.UpdatedAt})
		return nil
	})
	return out, err
}

// Deactivate marks a symbol delisted. Dependent bars, snapshots and ledger
// rows are untouched.
func (s *Store) Deactivate(ctx context.Context, symbol string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return s.withRetry(ctx, "deactivate symbol", func(ctx context.Context) error {
		now := time.Now().UTC()
		res, err := s.db.ExecContext(ctx,
			`UPDATE symbols SET status=?, updated_at=? WHERE symbol=?`,
			model.SymbolDelisted, now.Unix(), symbol)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &model.NotFoundError{Entity: "symbol", Key: symbol}
		}
		s.emit(model.ChangeEvent{Symbol: symbol, Kind: model.ChangeDeactivated, At: now})
		return nil
	})
}

// GetSymbol is a point lookup; a miss is a NotFoundError.
func (s *Store) GetSymbol(ctx context.Context, symbol string) (model.Symbol, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var out model.Symbol
	err := s.withRetry(ctx, "get symbol", func(ctx context.Context) error {
		sym, err := s.getSymbol(ctx, symbol)
		if err != nil {
			return err
		}
		out = sym
		return nil
	})
	return out, err
}

// ListSymbols returns all registered symbols ordered by identifier.
func (s *Store) ListSymbols(ctx context.Context) ([]model.Symbol, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var out []model.Symbol
	err := s.withRetry(ctx, "list symbols", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT symbol, name, market, asset_type, status, created_at, updated_at
			 FROM symbols ORDER BY symbol`)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			sym, err := scanSymbol(rows)
			if err != nil {
				return err
			}
			out = append(out, sym)
		}
		return rows.Err()
	})
	return out, err
}

// Events exposes registry change events. The channel is buffered; events are
// dropped when no one drains it.
func (s *Store) Events() <-chan model.ChangeEvent { return s.events }

func (s *Store) emit(evt model.ChangeEvent) {
	select {
	case s.events <- evt:
	default:
		// no subscriber draining, drop
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSymbol(row rowScanner) (model.Symbol, error) {
	var sym model.Symbol
	var created, updated int64
	if err := row.Scan(&sym.Symbol, &sym.Name, &sym.Market, &sym.AssetType,
		&sym.Status, &created, &updated); err != nil {
		return model.Symbol{}, err
	}
	sym.CreatedAt = time.Unix(created, 0).UTC()
	sym.UpdatedAt = time.Unix(updated, 0).UTC()
	return sym, nil
}

func (s *Store) getSymbol(ctx context.Context, symbol string) (model.Symbol, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT symbol, name, market, asset_type, status, created_at, updated_at
		 FROM symbols WHERE symbol=?`, symbol)
	sym, err := scanSymbol(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Symbol{}, &model.NotFoundError{Entity: "symbol", Key: symbol}
	}
	return sym, err
}

func isNotFound(err error) bool {
	var nf *model.NotFoundError
	return errors.As(err, &nf)
}
