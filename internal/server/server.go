// Package server is the JSON-over-HTTP adapter composing the stores for
// downstream consumers. It owns no domain logic beyond request decoding and
// the derivation of portfolio current value from latest closes.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"MarketCore/internal/aggregator"
	"MarketCore/internal/model"
	"MarketCore/internal/store"

	"github.com/shopspring/decimal"
)

type Server struct {
	store *store.Store
	agg   *aggregator.Aggregator
	mux   *http.ServeMux
}

func New(st *store.Store, agg *aggregator.Aggregator) *Server {
	s := &Server{store: st, agg: agg, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/symbols", s.handleSymbols)
	s.mux.HandleFunc("/symbols/", s.handleSymbolsSub)
	s.mux.HandleFunc("/bars", s.handleBarsQuery)
	s.mux.HandleFunc("/bars/", s.handleBarsPut)
	s.mux.HandleFunc("/aggregates", s.handleAggregatesQuery)
	s.mux.HandleFunc("/aggregates/refresh", s.handleAggregatesRefresh)
	s.mux.HandleFunc("/portfolios", s.handlePortfolios)
	s.mux.HandleFunc("/portfolios/", s.handlePortfoliosSub)
	s.mux.HandleFunc("/orders", s.handleOrders)
	s.mux.HandleFunc("/orders/", s.handleOrdersSub)
	s.mux.HandleFunc("/snapshots/", s.handleSnapshots)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.mux.ServeHTTP(w, r)
}

/* ======= Symbols ======= */

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		defer r.Body.Close()
		var sym model.Symbol
		if err := json.NewDecoder(r.Body).Decode(&sym); err != nil {
			httpError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
			return
		}
		out, err := s.store.Register(r.Context(), sym)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	case http.MethodGet:
		out, err := s.store.ListSymbols(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	default:
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSymbolsSub(w http.ResponseWriter, r *http.Request) {
	parts := subPath(r.URL.Path, "/symbols/")
	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			out, err := s.store.GetSymbol(r.Context(), parts[0])
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, out)
		case http.MethodPatch:
			defer r.Body.Close()
			var patch model.SymbolPatch
			if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
				httpError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
				return
			}
			out, err := s.store.UpdateMetadata(r.Context(), parts[0], patch)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, out)
		default:
			httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case len(parts) == 2 && parts[1] == "deactivate" && r.Method == http.MethodPost:
		if err := s.store.Deactivate(r.Context(), parts[0]); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
	default:
		http.NotFound(w, r)
	}
}

/* ======= Bars ======= */

// POST /bars/{granularity} with a JSON array of bars.
func (s *Server) handleBarsPut(w http.ResponseWriter, r *http.Request) {
	parts := subPath(r.URL.Path, "/bars/")
	if len(parts) != 1 || r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	defer r.Body.Close()
	var bars []model.Bar
	if err := json.NewDecoder(r.Body).Decode(&bars); err != nil {
		httpError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}
	if err := s.store.UpsertBars(r.Context(), model.Granularity(parts[0]), bars); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"upserted": len(bars)})
}

// GET /bars?symbol=&granularity=&from=&to=
func (s *Server) handleBarsQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	from, to, err := parseRange(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.store.QueryBars(r.Context(), r.URL.Query().Get("symbol"),
		model.Granularity(r.URL.Query().Get("granularity")), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

/* ======= Aggregates ======= */

// GET /aggregates?symbol=&width=&from=&to=
func (s *Server) handleAggregatesQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	from, to, err := parseRange(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.store.QueryAggregates(r.Context(), r.URL.Query().Get("symbol"),
		model.BucketWidth(r.URL.Query().Get("width")), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// POST /aggregates/refresh — explicit full-range re-aggregation.
func (s *Server) handleAggregatesRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	defer r.Body.Close()
	var req struct {
		Width model.BucketWidth `json:"width"`
		From  time.Time         `json:"from"`
		To    time.Time         `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}
	if err := s.agg.RefreshRange(r.Context(), req.Width, req.From, req.To); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

/* ======= Portfolios ======= */

func (s *Server) handlePortfolios(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	defer r.Body.Close()
	var req struct {
		Owner          string          `json:"owner"`
		InitialCapital decimal.Decimal `json:"initial_capital"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}
	out, err := s.store.CreatePortfolio(r.Context(), req.Owner, req.InitialCapital)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handlePortfoliosSub(w http.ResponseWriter, r *http.Request) {
	parts := subPath(r.URL.Path, "/portfolios/")
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		state, err := s.portfolioState(r, parts[0])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	case len(parts) == 2 && parts[1] == "close" && r.Method == http.MethodPost:
		if err := s.store.ClosePortfolio(r.Context(), parts[0]); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
	case len(parts) == 2 && parts[1] == "funding" && r.Method == http.MethodPost:
		defer r.Body.Close()
		var req struct {
			Amount decimal.Decimal   `json:"amount"`
			Type   model.FundingType `json:"type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
			return
		}
		out, err := s.store.ApplyFunding(r.Context(), parts[0], req.Amount, req.Type)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	case len(parts) == 2 && parts[1] == "transactions" && r.Method == http.MethodGet:
		out, err := s.store.Transactions(r.Context(), parts[0])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	case len(parts) == 2 && parts[1] == "trades" && r.Method == http.MethodGet:
		out, err := s.store.Trades(r.Context(), parts[0])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	default:
		http.NotFound(w, r)
	}
}

// portfolioState composes ledger state with latest day-bar closes to derive
// the portfolio's current value.
func (s *Server) portfolioState(r *http.Request, id string) (model.PortfolioState, error) {
	state, err := s.store.PortfolioState(r.Context(), id)
	if err != nil {
		return model.PortfolioState{}, err
	}
	value := state.Portfolio.CashBalance
	for _, h := range state.Holdings {
		last, ok, err := s.store.LastClose(r.Context(), h.Symbol)
		if err != nil {
			return model.PortfolioState{}, err
		}
		if ok {
			value = value.Add(h.Quantity.Mul(decimal.NewFromFloat(last)))
		}
	}
	state.CurrentValue = value
	return state, nil
}

/* ======= Orders ======= */

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	defer r.Body.Close()
	var req struct {
		PortfolioID string          `json:"portfolio_id"`
		Symbol      string          `json:"symbol"`
		Side        model.Side      `json:"side"`
		Type        model.OrderType `json:"type"`
		Quantity    decimal.Decimal `json:"quantity"`
		Price       decimal.Decimal `json:"price"`
		StopPrice   decimal.Decimal `json:"stop_price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}
	out, err := s.store.SubmitOrder(r.Context(), store.OrderRequest{
		PortfolioID: req.PortfolioID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        req.Type,
		Quantity:    req.Quantity,
		Price:       req.Price,
		StopPrice:   req.StopPrice,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleOrdersSub(w http.ResponseWriter, r *http.Request) {
	parts := subPath(r.URL.Path, "/orders/")
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		out, err := s.store.Order(r.Context(), parts[0])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	case len(parts) == 2 && parts[1] == "fills" && r.Method == http.MethodPost:
		defer r.Body.Close()
		var req struct {
			Quantity   decimal.Decimal `json:"quantity"`
			Price      decimal.Decimal `json:"price"`
			Commission decimal.Decimal `json:"commission"`
			Tax        decimal.Decimal `json:"tax"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
			return
		}
		out, err := s.store.ApplyFill(r.Context(), parts[0], req.Quantity, req.Price, req.Commission, req.Tax)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	case len(parts) == 2 && parts[1] == "cancel" && r.Method == http.MethodPost:
		if err := s.store.CancelOrder(r.Context(), parts[0]); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	case len(parts) == 2 && parts[1] == "reject" && r.Method == http.MethodPost:
		if err := s.store.RejectOrder(r.Context(), parts[0]); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
	default:
		http.NotFound(w, r)
	}
}

/* ======= Snapshots ======= */

// POST /snapshots/{kind} or GET /snapshots/{kind}?symbol=&from=&to=
func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	parts := subPath(r.URL.Path, "/snapshots/")
	if len(parts) != 1 {
		http.NotFound(w, r)
		return
	}
	kind := model.SnapshotKind(parts[0])
	switch r.Method {
	case http.MethodPost:
		defer r.Body.Close()
		var snap model.Snapshot
		if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
			httpError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
			return
		}
		snap.Kind = kind
		if err := s.store.WriteSnapshot(r.Context(), snap); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "written"})
	case http.MethodGet:
		from, to, err := parseRange(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, err.Error())
			return
		}
		out, err := s.store.QuerySnapshots(r.Context(), kind, r.URL.Query().Get("symbol"), from, to)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	default:
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

/* ======= Helpers ======= */

func subPath(path, prefix string) []string {
	rest := strings.TrimSuffix(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func parseRange(r *http.Request) (time.Time, time.Time, error) {
	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("from must be RFC3339")
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("to must be RFC3339")
	}
	return from, to, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps the domain error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var (
		validation *model.ValidationError
		conflict   *model.ConflictError
		immutable  *model.ImmutableChunkError
		overfill   *model.OverfillError
		orderState *model.InvalidOrderStateError
		negative   *model.NegativeBalanceError
		notFound   *model.NotFoundError
		timeout    *model.TimeoutError
	)
	switch {
	case errors.As(err, &validation):
		httpError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &conflict), errors.As(err, &immutable):
		httpError(w, http.StatusConflict, err.Error())
	case errors.As(err, &overfill), errors.As(err, &orderState), errors.As(err, &negative):
		httpError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &notFound):
		httpError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &timeout):
		httpError(w, http.StatusGatewayTimeout, err.Error())
	default:
		httpError(w, http.StatusInternalServerError, err.Error())
	}
}
