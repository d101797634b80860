package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"quantdesk/internal/backtest"
	"quantdesk/internal/broker"
	"quantdesk/internal/config"
	"quantdesk/internal/domain"
	"quantdesk/internal/engine"
	"quantdesk/internal/store"
	"quantdesk/internal/strategy"
	"quantdesk/internal/tradeparams"
)

// fixtureLoader serves a canned price series regardless of range.
type fixtureLoader struct {
	prices domain.PriceSeries
}

func (l *fixtureLoader) LoadPriceSeries(ctx context.Context, symbols []string, start, end string, field domain.PriceField) (domain.PriceSeries, error) {
	out := domain.PriceSeries{}
	for _, sym := range symbols {
		if series, ok := l.prices[sym]; ok {
			out[sym] = series
		} else {
			out[sym] = map[string]float64{}
		}
	}
	return out, nil
}

func fixtureSeries() domain.PriceSeries {
	dates := []string{"2024-01-02", "2024-01-03", "2024-01-04"}
	aaa := map[string]float64{}
	bbb := map[string]float64{}
	for i, d := range dates {
		aaa[d] = 100 * math.Pow(1.1, float64(i))
		bbb[d] = 100
	}
	return domain.PriceSeries{"AAA": aaa, "BBB": bbb}
}

func newTestServer(t *testing.T) (*Server, *broker.SimulatorBroker) {
	t.Helper()
	dir := t.TempDir()
	sqlite, err := store.NewSQLiteStore(filepath.Join(dir, "quantdesk.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	reg := strategy.NewRegistry()
	reg.Register("hold_aaa", func(params map[string]any) (strategy.Strategy, error) {
		return &holdStrategy{weights: map[string]float64{"AAA": 1}}, nil
	})

	sim := broker.NewSimulatorBroker(100000)
	sim.SetPrice("AAPL", 100)
	eng := engine.NewEngine(sim, engine.NewRiskManager(0.10, 0.05),
		func(ctx context.Context, symbol string) (float64, error) { return 100, nil }, nil)

	runner := backtest.NewRunner(nil)
	srv := NewServer(Deps{
		Loader:     &fixtureLoader{prices: fixtureSeries()},
		Bars:       store.NewParquetBarStore(dir),
		Runs:       sqlite,
		Strategies: sqlite,
		Runner:     runner,
		Preview:    runner,
		Registry:   reg,
		Engine:     eng,
		Params:     tradeparams.NewStore(filepath.Join(dir, "tradeparams.json"), slog.Default()),
		Defaults: config.BacktestConfig{
			InitialCash: 10000,
			Rebalance:   "daily",
		},
	})
	return srv, sim
}

type holdStrategy struct {
	weights map[string]float64
}

func (s *holdStrategy) Name() string { return "hold_aaa" }

func (s *holdStrategy) TargetWeights(m *domain.PriceMatrix, ctx *strategy.Context, universe []string, date string) (map[string]float64, error) {
	return s.weights, nil
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestRunBacktestAndRetrieve(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, "POST", "/api/backtests", BacktestRequestJSON{
		Kind:     backtest.KindBuiltin,
		UserID:   "u1",
		Strategy: "hold_aaa",
		Universe: []string{"AAA", "BBB"},
		Start:    "2024-01-01",
		End:      "2024-01-31",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/backtests = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[BacktestResponse](t, rec)
	if resp.ID == "" {
		t.Error("response missing run ID")
	}
	final := resp.Result.EquityCurve[len(resp.Result.EquityCurve)-1].Equity
	if math.Abs(final-12100) > 1e-6 {
		t.Errorf("final equity = %v, want 12100", final)
	}

	// Retrieve by ID.
	rec = doJSON(t, h, "GET", "/api/backtests/"+resp.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET run = %d: %s", rec.Code, rec.Body.String())
	}
	detail := decodeBody[RunDetailJSON](t, rec)
	if detail.Status != string(store.RunStatusCompleted) {
		t.Errorf("status = %s, want completed", detail.Status)
	}
	if len(detail.Result) == 0 {
		t.Error("persisted result missing")
	}

	// List for the user.
	rec = doJSON(t, h, "GET", "/api/backtests?user_id=u1", nil)
	runs := decodeBody[RunsResponse](t, rec)
	if len(runs.Runs) != 1 || runs.Runs[0].ID != resp.ID {
		t.Errorf("runs = %+v, want the one run", runs.Runs)
	}
}

func TestRunBacktestValidationErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	cases := []struct {
		name string
		req  BacktestRequestJSON
		code int
	}{
		{"missing universe", BacktestRequestJSON{Kind: "builtin", Strategy: "hold_aaa", Start: "2024-01-01", End: "2024-02-01"}, http.StatusBadRequest},
		{"missing range", BacktestRequestJSON{Kind: "builtin", Strategy: "hold_aaa", Universe: []string{"AAA"}}, http.StatusBadRequest},
		{"unknown kind", BacktestRequestJSON{Kind: "quantum", Universe: []string{"AAA"}, Start: "2024-01-01", End: "2024-02-01"}, http.StatusBadRequest},
		{"bad field", BacktestRequestJSON{Kind: "builtin", Strategy: "hold_aaa", Universe: []string{"AAA"}, Start: "2024-01-01", End: "2024-02-01", Field: "vwap"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		rec := doJSON(t, h, "POST", "/api/backtests", tc.req)
		if rec.Code != tc.code {
			t.Errorf("%s: code = %d, want %d (%s)", tc.name, rec.Code, tc.code, rec.Body.String())
		}
	}
}

func TestRunBacktestInvalidSandboxSource(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, "POST", "/api/backtests", BacktestRequestJSON{
		Kind:       backtest.KindSandbox,
		Source:     "func target(universe, date) { return import }",
		Entrypoint: "target",
		Universe:   []string{"AAA"},
		Start:      "2024-01-01",
		End:        "2024-02-01",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("code = %d, want 422: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Error   string `json:"error"`
		Timeout bool   `json:"timeout"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error == "" || body.Timeout {
		t.Errorf("body = %+v, want non-timeout sandbox error", body)
	}

	// The failed run is persisted with its error.
	rec = doJSON(t, h, "GET", "/api/backtests", nil)
	runs := decodeBody[RunsResponse](t, rec)
	if len(runs.Runs) != 1 || runs.Runs[0].Status != string(store.RunStatusFailed) {
		t.Errorf("runs = %+v, want one failed run", runs.Runs)
	}
}

func TestStrategyCRUD(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, "POST", "/api/strategies", StrategyJSON{
		UserID: "u1",
		Name:   "my momentum",
		Kind:   "momentum_top_n",
		Params: map[string]any{"lookback_days": 20.0, "top_n": 2.0},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST = %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[StrategyJSON](t, rec)
	if created.ID == "" || created.CodeVersion != 1 {
		t.Errorf("created = %+v, want ID and version 1", created)
	}

	rec = doJSON(t, h, "GET", "/api/strategies/"+created.ID, nil)
	got := decodeBody[StrategyJSON](t, rec)
	if got.Name != "my momentum" || got.Params["top_n"] != 2.0 {
		t.Errorf("got = %+v", got)
	}

	rec = doJSON(t, h, "GET", "/api/strategies?user_id=u1", nil)
	list := decodeBody[StrategiesResponse](t, rec)
	if len(list.Strategies) != 1 {
		t.Errorf("list = %+v, want one strategy", list.Strategies)
	}

	rec = doJSON(t, h, "DELETE", "/api/strategies/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("DELETE = %d", rec.Code)
	}
	rec = doJSON(t, h, "GET", "/api/strategies/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET after delete = %d, want 404", rec.Code)
	}
}

func TestSaveStrategyRejectsBannedSource(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), "POST", "/api/strategies", StrategyJSON{
		UserID:     "u1",
		Name:       "evil",
		Kind:       "sandbox",
		Source:     "func target(universe, date) { let x = import }",
		Entrypoint: "target",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("code = %d, want 422: %s", rec.Code, rec.Body.String())
	}
}

func TestValidateEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"lookback_days": {"type": "integer", "minimum": 1}},
		"required": ["lookback_days"]
	}`)

	rec := doJSON(t, h, "POST", "/api/strategies/validate", ValidateRequest{
		Source:     "func target(universe, date) {\n  return equal_weights(universe)\n}",
		Entrypoint: "target",
		Params:     map[string]any{"lookback_days": 20.0},
		Schema:     schema,
	})
	resp := decodeBody[ValidateResponse](t, rec)
	if !resp.Valid {
		t.Errorf("valid source rejected: %+v", resp)
	}

	rec = doJSON(t, h, "POST", "/api/strategies/validate", ValidateRequest{
		Source:     "func target(universe, date) { return exec }",
		Entrypoint: "target",
		Params:     map[string]any{},
		Schema:     schema,
	})
	resp = decodeBody[ValidateResponse](t, rec)
	if resp.Valid {
		t.Error("banned source accepted")
	}
	if resp.Error == "" {
		t.Error("missing sandbox error message")
	}
	if len(resp.Issues) != 1 || resp.Issues[0].Field != "lookback_days" {
		t.Errorf("issues = %+v, want missing lookback_days", resp.Issues)
	}
}

func TestBrokerEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, "GET", "/api/broker/account", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("account = %d", rec.Code)
	}
	acct := decodeBody[domain.Account](t, rec)
	if acct.Cash != 100000 {
		t.Errorf("cash = %v, want 100000", acct.Cash)
	}

	rec = doJSON(t, h, "POST", "/api/broker/orders", OrderRequest{Symbol: "aapl", Side: "buy", Qty: 10})
	if rec.Code != http.StatusOK {
		t.Fatalf("order = %d: %s", rec.Code, rec.Body.String())
	}
	order := decodeBody[domain.Order](t, rec)
	if order.Symbol != "AAPL" || order.Status != domain.OrderStatusFilled {
		t.Errorf("order = %+v", order)
	}

	rec = doJSON(t, h, "GET", "/api/broker/positions", nil)
	positions := decodeBody[[]domain.Position](t, rec)
	if len(positions) != 1 || positions[0].Qty != 10 {
		t.Errorf("positions = %+v", positions)
	}

	rec = doJSON(t, h, "GET", "/api/broker/orders", nil)
	orders := decodeBody[[]domain.Order](t, rec)
	if len(orders) != 1 {
		t.Errorf("orders = %+v", orders)
	}

	rec = doJSON(t, h, "GET", "/api/broker/portfolio-history", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("portfolio history = %d", rec.Code)
	}
}

func TestBrokerOrderRiskRejection(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	// 200 shares at 100 = 20000, over the 10% position cap.
	rec := doJSON(t, h, "POST", "/api/broker/orders", OrderRequest{Symbol: "AAPL", Side: "buy", Qty: 200})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("code = %d, want 422: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Rule string `json:"rule"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Rule != "max_position" {
		t.Errorf("rule = %q, want max_position", body.Rule)
	}
}

func TestBrokerUnconfigured(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.deps.Engine = nil
	rec := doJSON(t, srv.Handler(), "GET", "/api/broker/account", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
}

func TestSymbolsAndPrices(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	day := time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC)
	bars := []domain.Bar{
		{Symbol: "AAA", Timestamp: day, Open: 99, High: 101, Low: 98, Close: 100, Volume: 1000},
		{Symbol: "AAA", Timestamp: day.AddDate(0, 0, 1), Open: 100, High: 111, Low: 100, Close: 110, Volume: 1200},
	}
	if err := srv.deps.Bars.WriteBars(context.Background(), bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	rec := doJSON(t, h, "GET", "/api/symbols", nil)
	symbols := decodeBody[SymbolsResponse](t, rec)
	if len(symbols.Symbols) != 1 || symbols.Symbols[0] != "AAA" {
		t.Errorf("symbols = %+v", symbols)
	}

	rec = doJSON(t, h, "GET", "/api/prices/AAA?start=2024-01-01&end=2024-01-31", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("prices = %d: %s", rec.Code, rec.Body.String())
	}
	prices := decodeBody[PricesResponse](t, rec)
	if len(prices.Bars) != 2 || prices.Bars[1].Close != 110 {
		t.Errorf("bars = %+v", prices.Bars)
	}

	rec = doJSON(t, h, "GET", "/api/prices/ZZZ?start=2024-01-01&end=2024-01-31", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing symbol = %d, want 404", rec.Code)
	}
	rec = doJSON(t, h, "GET", "/api/prices/AAA", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing range = %d, want 400", rec.Code)
	}
}

func TestTradeParamsEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, "PUT", "/api/tradeparams/strat-1/stop_loss",
		map[string]float64{"value": 0.95})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("PUT = %d", rec.Code)
	}

	rec = doJSON(t, h, "GET", "/api/tradeparams", nil)
	snapshot := decodeBody[map[string]map[string]float64](t, rec)
	if snapshot["strat-1"]["stop_loss"] != 0.95 {
		t.Errorf("snapshot = %+v", snapshot)
	}

	rec = doJSON(t, h, "DELETE", "/api/tradeparams/strat-1/stop_loss", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE = %d", rec.Code)
	}
	rec = doJSON(t, h, "GET", "/api/tradeparams", nil)
	snapshot = decodeBody[map[string]map[string]float64](t, rec)
	if len(snapshot) != 0 {
		t.Errorf("snapshot after delete = %+v", snapshot)
	}
}

func TestRunSavedStrategyByID(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	created := decodeBody[StrategyJSON](t, doJSON(t, h, "POST", "/api/strategies", StrategyJSON{
		UserID: "u1",
		Name:   "hold",
		Kind:   "hold_aaa",
	}))

	rec := doJSON(t, h, "POST", "/api/backtests", BacktestRequestJSON{
		UserID:     "u1",
		StrategyID: created.ID,
		Universe:   []string{"AAA", "BBB"},
		Start:      "2024-01-01",
		End:        "2024-01-31",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("run by id = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, "POST", "/api/backtests", BacktestRequestJSON{
		StrategyID: "missing",
		Universe:   []string{"AAA"},
		Start:      "2024-01-01",
		End:        "2024-01-31",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing strategy = %d, want 404: %s", rec.Code, rec.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest("OPTIONS", "/api/backtests", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("OPTIONS = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin = %q", got)
	}
}
