package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quantdesk/internal/backtest"
	"quantdesk/internal/config"
	"quantdesk/internal/domain"
	"quantdesk/internal/engine"
	"quantdesk/internal/paramschema"
	"quantdesk/internal/pricedata"
	"quantdesk/internal/sandbox"
	"quantdesk/internal/store"
	"quantdesk/internal/strategy"
	"quantdesk/internal/tradeparams"
)

// Deps wires the server's collaborators. Engine may be nil when no
// broker is configured; the broker endpoints then return 503.
type Deps struct {
	Loader     pricedata.Loader
	Bars       store.BarStore
	Runs       store.BacktestStore
	Strategies store.StrategyStore
	Runner     *backtest.Runner
	Preview    *backtest.Runner
	Registry   *strategy.Registry
	Engine     *engine.Engine
	Params     *tradeparams.Store
	Defaults   config.BacktestConfig
	Log        *slog.Logger
}

// Server serves the QuantDesk HTTP API.
type Server struct {
	deps Deps
	log  *slog.Logger
}

// NewServer creates a new API server.
func NewServer(deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{deps: deps, log: log}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/backtests", s.handleRunBacktest)
	mux.HandleFunc("GET /api/backtests", s.handleListRuns)
	mux.HandleFunc("GET /api/backtests/{id}", s.handleGetRun)

	mux.HandleFunc("GET /api/strategies", s.handleListStrategies)
	mux.HandleFunc("POST /api/strategies", s.handleSaveStrategy)
	mux.HandleFunc("GET /api/strategies/{id}", s.handleGetStrategy)
	mux.HandleFunc("DELETE /api/strategies/{id}", s.handleDeleteStrategy)
	mux.HandleFunc("POST /api/strategies/validate", s.handleValidateStrategy)
	mux.HandleFunc("POST /api/strategies/preview", s.handlePreview)

	mux.HandleFunc("GET /api/broker/account", s.handleAccount)
	mux.HandleFunc("GET /api/broker/positions", s.handlePositions)
	mux.HandleFunc("GET /api/broker/orders", s.handleListOrders)
	mux.HandleFunc("POST /api/broker/orders", s.handleSubmitOrder)
	mux.HandleFunc("DELETE /api/broker/orders/{id}", s.handleCancelOrder)
	mux.HandleFunc("GET /api/broker/portfolio-history", s.handlePortfolioHistory)

	mux.HandleFunc("GET /api/symbols", s.handleSymbols)
	mux.HandleFunc("GET /api/prices/{symbol}", s.handlePrices)

	mux.HandleFunc("GET /api/tradeparams", s.handleTradeParams)
	mux.HandleFunc("PUT /api/tradeparams/{strategy}/{key}", s.handleSetTradeParam)
	mux.HandleFunc("DELETE /api/tradeparams/{strategy}/{key}", s.handleDeleteTradeParam)
	mux.HandleFunc("GET /api/tradeparams/stream", s.handleTradeParamsStream)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeRunError maps backtest failures onto the API's status codes:
// weight validation and sandbox failures are the caller's problem (422),
// missing data is 422 with the data message, anything else is a plain
// bad request.
func writeRunError(w http.ResponseWriter, err error) {
	var verr *strategy.ValidationError
	if errors.As(err, &verr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{
			"error": err.Error(), "field": verr.Field, "reason": verr.Reason,
		})
		return
	}
	var serr *sandbox.Error
	if errors.As(err, &serr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{
			"error": serr.Msg, "trace": serr.Trace, "timeout": serr.Timeout,
		})
		return
	}
	if errors.Is(err, backtest.ErrNoData) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func newID() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// ---------------------------------------------------------------------------
// Backtests
// ---------------------------------------------------------------------------

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequestJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := s.resolveSavedStrategy(r, &req); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	runReq, prices, err := s.prepare(r, &req)
	if err != nil {
		writeRunError(w, err)
		return
	}

	run := &store.BacktestRun{
		ID:         newID(),
		UserID:     req.UserID,
		StrategyID: req.StrategyID,
		Kind:       runReq.Kind,
		Status:     store.RunStatusRunning,
		CreatedAt:  time.Now().UTC(),
	}
	if reqJSON, err := json.Marshal(req); err == nil {
		run.RequestJSON = string(reqJSON)
	}

	// User code is statically checked before a worker ever spawns; a
	// banned construct rejects without costing a subprocess.
	var result *backtest.Result
	var runErr error
	if runReq.Kind == backtest.KindSandbox {
		runErr = sandbox.Validate(runReq.Sandbox.Source, runReq.Sandbox.Entrypoint, runReq.Sandbox.Mode)
	}
	if runErr == nil {
		result, runErr = s.deps.Runner.Run(r.Context(), prices, s.deps.Registry, runReq)
	}
	run.CompletedAt = time.Now().UTC()
	if runErr != nil {
		run.Status = store.RunStatusFailed
		run.Error = runErr.Error()
	} else {
		run.Status = store.RunStatusCompleted
		if resJSON, err := json.Marshal(result); err == nil {
			run.ResultJSON = string(resJSON)
		}
	}

	if err := s.deps.Runs.SaveRun(r.Context(), run); err != nil {
		s.log.Error("saving backtest run", "id", run.ID, "error", err)
	}
	if runErr != nil {
		writeRunError(w, runErr)
		return
	}

	s.log.Info("backtest completed", "id", run.ID, "kind", run.Kind,
		"days", len(result.EquityCurve))
	writeJSON(w, BacktestResponse{ID: run.ID, Result: result})
}

// resolveSavedStrategy fills the request from a stored strategy record
// when strategy_id is set and the inline fields are empty.
func (s *Server) resolveSavedStrategy(r *http.Request, req *BacktestRequestJSON) error {
	if req.StrategyID == "" || req.Kind != "" {
		return nil
	}
	rec, err := s.deps.Strategies.GetStrategy(r.Context(), req.StrategyID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("strategy %s not found", req.StrategyID)
	}
	if rec.Source != "" {
		req.Kind = backtest.KindSandbox
		req.Source = rec.Source
		req.Entrypoint = rec.Entrypoint
	} else {
		req.Kind = backtest.KindBuiltin
		req.Strategy = rec.Kind
	}
	if req.Params == nil && rec.ParamsJSON != "" {
		_ = json.Unmarshal([]byte(rec.ParamsJSON), &req.Params)
	}
	return nil
}

// prepare validates the request shape, applies server defaults, loads
// the price series, and builds the runner request.
func (s *Server) prepare(r *http.Request, req *BacktestRequestJSON) (*backtest.Request, domain.PriceSeries, error) {
	if len(req.Universe) == 0 {
		return nil, nil, fmt.Errorf("universe is required")
	}
	if req.Start == "" || req.End == "" {
		return nil, nil, fmt.Errorf("start and end dates are required")
	}

	d := s.deps.Defaults
	cfg := backtest.RunConfig{
		Universe:          req.Universe,
		InitialCash:       req.InitialCash,
		FeeBps:            req.FeeBps,
		SlippageBps:       req.SlippageBps,
		Rebalance:         req.Rebalance,
		Benchmark:         req.Benchmark,
		LongOnly:          req.LongOnly,
		CashBufferPct:     req.CashBufferPct,
		MaxWeightPerAsset: req.MaxWeightPerAsset,
	}
	if cfg.InitialCash <= 0 {
		cfg.InitialCash = d.InitialCash
	}
	if cfg.FeeBps == 0 {
		cfg.FeeBps = d.FeeBps
	}
	if cfg.SlippageBps == 0 {
		cfg.SlippageBps = d.SlippageBps
	}
	if cfg.Rebalance == "" {
		cfg.Rebalance = d.Rebalance
	}
	if cfg.Benchmark == "" {
		cfg.Benchmark = d.Benchmark
	}
	if cfg.CashBufferPct == 0 {
		cfg.CashBufferPct = d.CashBufferPct
	}

	field := domain.PriceField(req.Field)
	switch field {
	case "":
		field = domain.PriceFieldClose
	case domain.PriceFieldClose, domain.PriceFieldAdjClose:
	default:
		return nil, nil, fmt.Errorf("unknown price field %q", req.Field)
	}

	symbols := req.Universe
	if cfg.Benchmark != "" && !contains(symbols, cfg.Benchmark) {
		symbols = append(append([]string{}, symbols...), cfg.Benchmark)
	}
	prices, err := s.deps.Loader.LoadPriceSeries(r.Context(), symbols, req.Start, req.End, field)
	if err != nil {
		return nil, nil, fmt.Errorf("loading prices: %w", err)
	}

	runReq := &backtest.Request{
		Kind:        req.Kind,
		Strategy:    req.Strategy,
		Params:      req.Params,
		Members:     req.Members,
		Constraints: req.Constraints,
		StrategyID:  req.StrategyID,
		UserID:      req.UserID,
		Config:      cfg,
	}
	if req.Kind == backtest.KindSandbox {
		runReq.Sandbox = &backtest.SandboxJob{
			Source:     req.Source,
			Entrypoint: req.Entrypoint,
			Mode:       sandbox.Mode(req.Mode),
			Params:     req.Params,
		}
		if runReq.Sandbox.Mode == "" {
			runReq.Sandbox.Mode = sandbox.ModeWeights
		}
	}
	return runReq, prices, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	runs, err := s.deps.Runs.ListRuns(r.Context(), userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	out := make([]RunSummaryJSON, 0, len(runs))
	for i := range runs {
		out = append(out, convertRunSummary(&runs[i]))
	}
	writeJSON(w, RunsResponse{Runs: out})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Runs.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	detail := RunDetailJSON{RunSummaryJSON: convertRunSummary(run)}
	if run.RequestJSON != "" {
		detail.Request = json.RawMessage(run.RequestJSON)
	}
	if run.ResultJSON != "" {
		detail.Result = json.RawMessage(run.ResultJSON)
	}
	writeJSON(w, detail)
}

// ---------------------------------------------------------------------------
// Strategies
// ---------------------------------------------------------------------------

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	recs, err := s.deps.Strategies.ListStrategies(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list strategies")
		return
	}
	out := make([]StrategyJSON, 0, len(recs))
	for i := range recs {
		out = append(out, convertStrategy(&recs[i]))
	}
	writeJSON(w, StrategiesResponse{Strategies: out})
}

func (s *Server) handleSaveStrategy(w http.ResponseWriter, r *http.Request) {
	var req StrategyJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Source != "" {
		if err := sandbox.Validate(req.Source, req.Entrypoint, sandbox.ModeWeights); err != nil {
			writeRunError(w, err)
			return
		}
	}

	rec := &store.StrategyRecord{
		ID:         req.ID,
		UserID:     req.UserID,
		Name:       req.Name,
		Kind:       req.Kind,
		Source:     req.Source,
		Entrypoint: req.Entrypoint,
	}
	if rec.ID == "" {
		rec.ID = newID()
	}
	if req.Params != nil {
		paramsJSON, err := json.Marshal(req.Params)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid params")
			return
		}
		rec.ParamsJSON = string(paramsJSON)
	}
	if err := s.deps.Strategies.SaveStrategy(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save strategy")
		return
	}
	writeJSON(w, convertStrategy(rec))
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Strategies.GetStrategy(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load strategy")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "strategy not found")
		return
	}
	writeJSON(w, convertStrategy(rec))
}

func (s *Server) handleDeleteStrategy(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Strategies.DeleteStrategy(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete strategy")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleValidateStrategy(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	mode := sandbox.Mode(req.Mode)
	if mode == "" {
		mode = sandbox.ModeWeights
	}

	resp := ValidateResponse{Valid: true}
	if err := sandbox.Validate(req.Source, req.Entrypoint, mode); err != nil {
		resp.Valid = false
		resp.Error = err.Error()
	}
	if len(req.Schema) > 0 {
		var schema paramschema.Schema
		if err := json.Unmarshal(req.Schema, &schema); err != nil {
			writeError(w, http.StatusBadRequest, "invalid schema: "+err.Error())
			return
		}
		for _, issue := range paramschema.Validate(&schema, req.Params) {
			resp.Valid = false
			resp.Issues = append(resp.Issues, IssueJSON{Field: issue.Field, Reason: issue.Reason})
		}
	}
	writeJSON(w, resp)
}

// handlePreview runs a sandboxed strategy against the requested range
// without persisting anything. The preview runner carries the short
// sandbox timeout.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequestJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := s.resolveSavedStrategy(r, &req); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if req.Kind == "" {
		req.Kind = backtest.KindSandbox
	}
	if req.Kind != backtest.KindSandbox {
		writeError(w, http.StatusBadRequest, "preview only supports sandboxed strategies")
		return
	}

	runReq, prices, err := s.prepare(r, &req)
	if err != nil {
		writeRunError(w, err)
		return
	}
	result, err := s.deps.Preview.Run(r.Context(), prices, s.deps.Registry, runReq)
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, BacktestResponse{Result: result})
}

// ---------------------------------------------------------------------------
// Broker proxy
// ---------------------------------------------------------------------------

func (s *Server) brokerEngine(w http.ResponseWriter) *engine.Engine {
	if s.deps.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "broker not configured")
		return nil
	}
	return s.deps.Engine
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	eng := s.brokerEngine(w)
	if eng == nil {
		return
	}
	acct, err := eng.GetAccount(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, acct)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	eng := s.brokerEngine(w)
	if eng == nil {
		return
	}
	positions, err := eng.GetPositions(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, positions)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	eng := s.brokerEngine(w)
	if eng == nil {
		return
	}
	openOnly := r.URL.Query().Get("open") == "true"
	orders, err := eng.GetOrders(r.Context(), openOnly)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, orders)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	eng := s.brokerEngine(w)
	if eng == nil {
		return
	}
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	side := domain.OrderSide(strings.ToLower(req.Side))
	if side != domain.OrderSideBuy && side != domain.OrderSideSell {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown order side %q", req.Side))
		return
	}
	if req.Symbol == "" || req.Qty <= 0 {
		writeError(w, http.StatusBadRequest, "symbol and positive qty are required")
		return
	}

	order, err := eng.SubmitMarketOrder(r.Context(), strings.ToUpper(req.Symbol), side, req.Qty)
	if err != nil {
		var rerr *engine.RiskError
		if errors.As(err, &rerr) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]string{"error": rerr.Msg, "rule": rerr.Rule})
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, order)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	eng := s.brokerEngine(w)
	if eng == nil {
		return
	}
	if err := eng.CancelOrder(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePortfolioHistory(w http.ResponseWriter, r *http.Request) {
	eng := s.brokerEngine(w)
	if eng == nil {
		return
	}
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "1M"
	}
	hist, err := eng.GetPortfolioHistory(r.Context(), period)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, hist)
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := s.deps.Bars.ListSymbols(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list symbols")
		return
	}
	if symbols == nil {
		symbols = []string{}
	}
	writeJSON(w, SymbolsResponse{Symbols: symbols})
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	start, end, err := parseDateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bars, err := s.deps.Bars.ReadBars(r.Context(), symbol, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read bars")
		return
	}
	if len(bars) == 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no bars for %s in range", symbol))
		return
	}
	out := make([]BarJSON, 0, len(bars))
	for _, b := range bars {
		out = append(out, convertBar(b))
	}
	writeJSON(w, PricesResponse{Symbol: symbol, Bars: out})
}

func parseDateRange(r *http.Request) (time.Time, time.Time, error) {
	const layout = "2006-01-02"
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")
	if startStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("start and end query params are required")
	}
	start, err := time.Parse(layout, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q", startStr)
	}
	end, err := time.Parse(layout, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q", endStr)
	}
	// Inclusive end of day.
	return start, end.Add(24*time.Hour - time.Nanosecond), nil
}

// ---------------------------------------------------------------------------
// Live trade parameters
// ---------------------------------------------------------------------------

func (s *Server) handleTradeParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.deps.Params.Snapshot())
}

func (s *Server) handleSetTradeParam(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value float64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	s.deps.Params.Set(r.PathValue("strategy"), r.PathValue("key"), body.Value)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteTradeParam(w http.ResponseWriter, r *http.Request) {
	s.deps.Params.Delete(r.PathValue("strategy"), r.PathValue("key"))
	w.WriteHeader(http.StatusNoContent)
}

// handleTradeParamsStream pushes parameter changes over SSE, starting
// with a full snapshot.
func (s *Server) handleTradeParamsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id, ch := s.deps.Params.Subscribe(16)
	defer s.deps.Params.Unsubscribe(id)

	writeSSE(w, tradeparams.Event{Type: "snapshot", Data: s.deps.Params.Snapshot()})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, e)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, e tradeparams.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
