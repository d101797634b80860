package sandbox

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"quantdesk/internal/domain"
)

// fixturePrices builds a small close-price series: AAA trends up, BBB
// trends down, CCC is flat.
func fixturePrices() (domain.PriceSeries, []string) {
	dates := []string{
		"2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05", "2024-01-08",
	}
	prices := domain.PriceSeries{}
	series := map[string][]float64{
		"AAA": {100, 102, 104, 106, 110},
		"BBB": {50, 49, 48, 47, 45},
		"CCC": {20, 20, 20, 20, 20},
	}
	for sym, closes := range series {
		prices[sym] = map[string]float64{}
		for i, d := range dates {
			prices[sym][d] = closes[i]
		}
	}
	return prices, dates
}

func runWorkerRequest(t *testing.T, req *Request) Response {
	t.Helper()
	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	var out bytes.Buffer
	if err := RunWorker(bytes.NewReader(payload), &out); err != nil {
		t.Fatalf("RunWorker: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func TestWorkerWeightsMode(t *testing.T) {
	prices, dates := fixturePrices()
	req := &Request{
		Mode: ModeWeights,
		Source: `
func pick(universe, date) {
	let scores = {}
	for sym in universe {
		let m = momentum(sym, date, 3)
		if m != nil {
			scores = set(scores, sym, m)
		}
	}
	let n = param("top_n", 2)
	return equal_weights(top_n(scores, n, true))
}
`,
		Entrypoint:     "pick",
		Universe:       []string{"AAA", "BBB", "CCC"},
		Prices:         prices,
		Params:         map[string]any{"top_n": 2.0},
		RebalanceDates: []string{dates[3], dates[4]},
	}
	resp := runWorkerRequest(t, req)
	if !resp.OK {
		t.Fatalf("worker error: %s", resp.Error)
	}
	if len(resp.Signals) != 2 {
		t.Fatalf("signals = %d, want 2", len(resp.Signals))
	}
	for _, sig := range resp.Signals {
		// Momentum ranks AAA first and CCC (flat, 0) above BBB (negative).
		if len(sig.TargetWeights) != 2 {
			t.Fatalf("%s: weights = %v, want 2 entries", sig.Date, sig.TargetWeights)
		}
		for _, sym := range []string{"AAA", "CCC"} {
			if w := sig.TargetWeights[sym]; math.Abs(w-0.5) > 1e-12 {
				t.Fatalf("%s: weight[%s] = %v, want 0.5", sig.Date, sym, w)
			}
		}
	}
}

func TestWorkerSignalsMode(t *testing.T) {
	prices, dates := fixturePrices()
	req := &Request{
		Mode: ModeSignals,
		Source: `
func gen(universe) {
	let out = []
	for d in dates() {
		out = push(out, signal(d, equal_weights(universe)))
	}
	return out
}
`,
		Entrypoint:     "gen",
		Universe:       []string{"AAA", "BBB"},
		Prices:         prices,
		RebalanceDates: []string{dates[0], dates[2], dates[4]},
	}
	resp := runWorkerRequest(t, req)
	if !resp.OK {
		t.Fatalf("worker error: %s", resp.Error)
	}
	if len(resp.Signals) != 3 {
		t.Fatalf("signals = %d, want 3", len(resp.Signals))
	}
	for i, want := range []string{dates[0], dates[2], dates[4]} {
		if resp.Signals[i].Date != want {
			t.Fatalf("signal %d date = %s, want %s", i, resp.Signals[i].Date, want)
		}
		if w := resp.Signals[i].TargetWeights["AAA"]; w != 0.5 {
			t.Fatalf("signal %d weight = %v, want 0.5", i, w)
		}
	}
}

func TestWorkerSignalsDateMapShape(t *testing.T) {
	prices, dates := fixturePrices()
	req := &Request{
		Mode: ModeSignals,
		Source: `
func gen(universe) {
	let out = {}
	for d in dates() {
		out = set(out, d, equal_weights(universe))
	}
	return out
}
`,
		Entrypoint:     "gen",
		Universe:       []string{"AAA"},
		Prices:         prices,
		RebalanceDates: []string{dates[2], dates[0]},
	}
	resp := runWorkerRequest(t, req)
	if !resp.OK {
		t.Fatalf("worker error: %s", resp.Error)
	}
	if len(resp.Signals) != 2 {
		t.Fatalf("signals = %d, want 2", len(resp.Signals))
	}
	// Date-map output comes back date-sorted regardless of emit order.
	if resp.Signals[0].Date != dates[0] || resp.Signals[1].Date != dates[2] {
		t.Fatalf("signals not sorted: %s, %s", resp.Signals[0].Date, resp.Signals[1].Date)
	}
}

func TestWorkerNilWeightsMeanCash(t *testing.T) {
	prices, dates := fixturePrices()
	req := &Request{
		Mode: ModeWeights,
		Source: `
func pick(universe, date) {
	return nil
}
`,
		Entrypoint:     "pick",
		Universe:       []string{"AAA"},
		Prices:         prices,
		RebalanceDates: []string{dates[0]},
	}
	resp := runWorkerRequest(t, req)
	if !resp.OK {
		t.Fatalf("worker error: %s", resp.Error)
	}
	if len(resp.Signals) != 1 || len(resp.Signals[0].TargetWeights) != 0 {
		t.Fatalf("signals = %+v, want one empty-weight signal", resp.Signals)
	}
}

func TestWorkerRuntimeError(t *testing.T) {
	prices, dates := fixturePrices()
	req := &Request{
		Mode: ModeWeights,
		Source: `
func pick(universe, date) {
	let x = 1 / 0
	return {}
}
`,
		Entrypoint:     "pick",
		Universe:       []string{"AAA"},
		Prices:         prices,
		RebalanceDates: []string{dates[0]},
	}
	resp := runWorkerRequest(t, req)
	if resp.OK {
		t.Fatal("expected a runtime error")
	}
	if !strings.Contains(resp.Error, "division by zero") {
		t.Fatalf("error = %q, want division by zero", resp.Error)
	}
}

func TestWorkerCallDepthLimit(t *testing.T) {
	prices, dates := fixturePrices()
	req := &Request{
		Mode: ModeWeights,
		Source: `
func spin(n) {
	return spin(n + 1)
}

func pick(universe, date) {
	return spin(0)
}
`,
		Entrypoint:     "pick",
		Universe:       []string{"AAA"},
		Prices:         prices,
		RebalanceDates: []string{dates[0]},
	}
	resp := runWorkerRequest(t, req)
	if resp.OK {
		t.Fatal("expected a depth-limit error")
	}
	if !strings.Contains(resp.Error, "call depth exceeded") {
		t.Fatalf("error = %q, want call depth exceeded", resp.Error)
	}
}

func TestWorkerRejectsInvalidSourceBeforeRunning(t *testing.T) {
	prices, dates := fixturePrices()
	req := &Request{
		Mode:           ModeWeights,
		Source:         "func pick(universe, date) {\n\timport os\n\treturn {}\n}",
		Entrypoint:     "pick",
		Universe:       []string{"AAA"},
		Prices:         prices,
		RebalanceDates: []string{dates[0]},
	}
	resp := runWorkerRequest(t, req)
	if resp.OK {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(resp.Error, "banned name") {
		t.Fatalf("error = %q, want banned name", resp.Error)
	}
}

func TestWorkerIndicatorBuiltins(t *testing.T) {
	prices, dates := fixturePrices()
	req := &Request{
		Mode: ModeWeights,
		Source: `
func pick(universe, date) {
	let p = price("AAA", date)
	let s = sma("AAA", date, 3)
	let w = {}
	if p != nil && s != nil && p > s {
		w = set(w, "AAA", 1)
	}
	return w
}
`,
		Entrypoint:     "pick",
		Universe:       []string{"AAA"},
		Prices:         prices,
		RebalanceDates: []string{dates[4]},
	}
	resp := runWorkerRequest(t, req)
	if !resp.OK {
		t.Fatalf("worker error: %s", resp.Error)
	}
	// Last close 110 is above the 3-day SMA (104+106+110)/3.
	if w := resp.Signals[0].TargetWeights["AAA"]; w != 1 {
		t.Fatalf("weight = %v, want 1", w)
	}
}
