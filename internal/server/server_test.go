package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"MarketCore/internal/aggregator"
	"MarketCore/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	agg := aggregator.New(st,
		aggregator.Window{StartOffset: 24 * time.Hour, EndOffset: time.Hour},
		aggregator.Window{StartOffset: 7 * 24 * time.Hour, EndOffset: time.Hour})
	ts := httptest.NewServer(New(st, agg))
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestServer_SymbolAndBarFlow(t *testing.T) {
	ts := newTestServer(t)

	code, _ := doJSON(t, http.MethodPost, ts.URL+"/symbols",
		`{"symbol":"ACME","name":"Acme Corp","market":"NYSE","asset_type":"stock"}`)
	if code != http.StatusCreated {
		t.Fatalf("register symbol: status %d", code)
	}

	bars := `[
		{"symbol":"ACME","time":"2024-01-02T09:30:00Z","open":100,"high":101,"low":99,"close":100.5,"volume":1000,"adj_close":100.5},
		{"symbol":"ACME","time":"2024-01-02T09:31:00Z","open":100.5,"high":102,"low":100,"close":101,"volume":1500,"adj_close":101}
	]`
	code, body := doJSON(t, http.MethodPost, ts.URL+"/bars/minute", bars)
	if code != http.StatusOK {
		t.Fatalf("ingest bars: status %d body %v", code, body)
	}

	resp, err := http.Get(ts.URL + "/bars?symbol=ACME&granularity=minute&from=2024-01-02T09:00:00Z&to=2024-01-02T10:00:00Z")
	if err != nil {
		t.Fatalf("query bars: %v", err)
	}
	defer resp.Body.Close()
	var got []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode bars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(got))
	}

	// Malformed OHLC maps to 400.
	code, _ = doJSON(t, http.MethodPost, ts.URL+"/bars/minute",
		`[{"symbol":"ACME","time":"2024-01-02T09:32:00Z","open":100,"high":99,"low":99,"close":100,"volume":1,"adj_close":100}]`)
	if code != http.StatusBadRequest {
		t.Errorf("invalid bar: expected 400, got %d", code)
	}
}

func TestServer_AggregateRefreshFlow(t *testing.T) {
	ts := newTestServer(t)

	doJSON(t, http.MethodPost, ts.URL+"/symbols", `{"symbol":"ACME","market":"NYSE","asset_type":"stock"}`)
	doJSON(t, http.MethodPost, ts.URL+"/bars/minute", `[
		{"symbol":"ACME","time":"2024-01-02T09:30:00Z","open":100,"high":101,"low":99,"close":100.5,"volume":1000,"adj_close":100.5},
		{"symbol":"ACME","time":"2024-01-02T09:31:00Z","open":100.5,"high":102,"low":100,"close":101,"volume":1500,"adj_close":101}
	]`)

	code, body := doJSON(t, http.MethodPost, ts.URL+"/aggregates/refresh",
		`{"width":"1d","from":"2024-01-02T00:00:00Z","to":"2024-01-02T23:00:00Z"}`)
	if code != http.StatusOK {
		t.Fatalf("refresh: status %d body %v", code, body)
	}

	resp, err := http.Get(ts.URL + "/aggregates?symbol=ACME&width=1d&from=2024-01-01T00:00:00Z&to=2024-01-05T00:00:00Z")
	if err != nil {
		t.Fatalf("query aggregates: %v", err)
	}
	defer resp.Body.Close()
	var got []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode aggregates: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(got))
	}
	if got[0]["high"].(float64) != 102 || got[0]["volume"].(float64) != 2500 {
		t.Errorf("unexpected bucket: %v", got[0])
	}
}

func TestServer_LedgerFlow(t *testing.T) {
	ts := newTestServer(t)

	doJSON(t, http.MethodPost, ts.URL+"/symbols", `{"symbol":"ACME","market":"NYSE","asset_type":"stock"}`)
	// Day bar so current value can price the holding.
	doJSON(t, http.MethodPost, ts.URL+"/bars/day",
		`[{"symbol":"ACME","time":"2024-01-02T00:00:00Z","open":100,"high":110,"low":95,"close":105,"volume":10000,"adj_close":105}]`)

	code, portfolio := doJSON(t, http.MethodPost, ts.URL+"/portfolios",
		`{"owner":"tester","initial_capital":"10000"}`)
	if code != http.StatusCreated {
		t.Fatalf("create portfolio: status %d", code)
	}
	pid := portfolio["id"].(string)

	code, order := doJSON(t, http.MethodPost, ts.URL+"/orders",
		fmt.Sprintf(`{"portfolio_id":%q,"symbol":"ACME","side":"BUY","type":"MARKET","quantity":"10"}`, pid))
	if code != http.StatusCreated {
		t.Fatalf("submit order: status %d body %v", code, order)
	}
	oid := order["id"].(string)

	code, fill := doJSON(t, http.MethodPost, ts.URL+"/orders/"+oid+"/fills",
		`{"quantity":"10","price":"100","commission":"1","tax":"0"}`)
	if code != http.StatusCreated {
		t.Fatalf("apply fill: status %d body %v", code, fill)
	}

	code, state := doJSON(t, http.MethodGet, ts.URL+"/portfolios/"+pid, "")
	if code != http.StatusOK {
		t.Fatalf("portfolio state: status %d", code)
	}
	if state["portfolio"].(map[string]any)["cash_balance"].(string) != "8999" {
		t.Errorf("cash: got %v", state["portfolio"].(map[string]any)["cash_balance"])
	}
	// current value = 8999 cash + 10 * 105 latest close
	if state["current_value"].(string) != "10049" {
		t.Errorf("current value: got %v", state["current_value"])
	}

	// Filled order refuses a cancel: 422.
	code, _ = doJSON(t, http.MethodPost, ts.URL+"/orders/"+oid+"/cancel", "")
	if code != http.StatusUnprocessableEntity {
		t.Errorf("cancel filled: expected 422, got %d", code)
	}
}

func TestServer_ErrorMapping(t *testing.T) {
	ts := newTestServer(t)

	if code, _ := doJSON(t, http.MethodGet, ts.URL+"/symbols/GHOST", ""); code != http.StatusNotFound {
		t.Errorf("unknown symbol: expected 404, got %d", code)
	}
	if code, _ := doJSON(t, http.MethodGet, ts.URL+"/portfolios/nope", ""); code != http.StatusNotFound {
		t.Errorf("unknown portfolio: expected 404, got %d", code)
	}

	doJSON(t, http.MethodPost, ts.URL+"/symbols", `{"symbol":"ACME","market":"NYSE","asset_type":"stock"}`)
	if code, _ := doJSON(t, http.MethodPost, ts.URL+"/symbols",
		`{"symbol":"ACME","market":"NASDAQ","asset_type":"stock"}`); code != http.StatusConflict {
		t.Errorf("conflicting re-register: expected 409, got %d", code)
	}

	if code, _ := doJSON(t, http.MethodGet, ts.URL+"/bars?symbol=ACME&granularity=minute&from=bad&to=2024-01-02T10:00:00Z", ""); code != http.StatusBadRequest {
		t.Errorf("bad range: expected 400, got %d", code)
	}
}
