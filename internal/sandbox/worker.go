package sandbox

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"quantdesk/internal/domain"
)

// Request is the job the parent process sends the worker over stdin.
type Request struct {
	Mode           Mode               `json:"mode"`
	Source         string             `json:"source"`
	Entrypoint     string             `json:"entrypoint"`
	Universe       []string           `json:"universe"`
	Prices         domain.PriceSeries `json:"prices"`
	Params         map[string]any     `json:"params"`
	RebalanceDates []string           `json:"rebalance_dates"`
}

// Response is what the worker writes back over stdout. Exactly one of
// Signals and Error is meaningful, selected by OK.
type Response struct {
	OK      bool            `json:"ok"`
	Signals []domain.Signal `json:"signals,omitempty"`
	Error   string          `json:"error,omitempty"`
	Trace   string          `json:"trace,omitempty"`
}

// RunWorker executes one sandbox job: read a Request from r, run the user
// script, write a Response to w. It always writes a response; the returned
// error covers only I/O failures on w. Intended to be the entire body of
// the worker subprocess.
func RunWorker(r io.Reader, w io.Writer) error {
	var req Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return writeResponse(w, Response{OK: false, Error: fmt.Sprintf("decode request: %v", err)})
	}

	signals, err := run(&req)
	if err != nil {
		resp := Response{OK: false, Error: err.Error()}
		if serr, ok := err.(*Error); ok {
			// Ship the bare message; the parent re-wraps it.
			resp.Error = serr.Msg
			resp.Trace = serr.Trace
		}
		return writeResponse(w, resp)
	}
	return writeResponse(w, Response{OK: true, Signals: signals})
}

func writeResponse(w io.Writer, resp Response) error {
	return json.NewEncoder(w).Encode(resp)
}

func run(req *Request) ([]domain.Signal, error) {
	if err := Validate(req.Source, req.Entrypoint, req.Mode); err != nil {
		return nil, err
	}
	prog, err := parse(req.Source)
	if err != nil {
		return nil, err
	}

	e := &env{
		prog:     prog,
		matrix:   domain.NewPriceMatrix(req.Prices, req.Universe),
		universe: req.Universe,
		params:   toParams(req.Params),
		dates:    req.RebalanceDates,
	}
	fn := prog.funcs[req.Entrypoint]

	switch req.Mode {
	case ModeSignals:
		ret, err := e.callFunction(fn, []value{stringList(req.Universe)})
		if err != nil {
			return nil, err
		}
		return normalizeSignals(ret)

	case ModeWeights:
		var signals []domain.Signal
		for _, date := range req.RebalanceDates {
			ret, err := e.callFunction(fn, []value{stringList(req.Universe), date})
			if err != nil {
				return nil, prefixErr("date "+date, err)
			}
			weights, err := normalizeWeights(ret)
			if err != nil {
				return nil, prefixErr("date "+date, err)
			}
			signals = append(signals, domain.Signal{Date: date, TargetWeights: weights})
		}
		return signals, nil
	}
	return nil, errf("unknown mode %q", req.Mode)
}

func toParams(in map[string]any) map[string]value {
	out := make(map[string]value, len(in))
	for k, v := range in {
		out[k] = toValue(v)
	}
	return out
}

// toValue maps decoded JSON onto the interpreter's value types.
func toValue(v any) value {
	switch v := v.(type) {
	case []any:
		out := make([]value, len(v))
		for i, el := range v {
			out[i] = toValue(el)
		}
		return out
	case map[string]any:
		out := make(map[string]value, len(v))
		for k, el := range v {
			out[k] = toValue(el)
		}
		return out
	default:
		// float64, string, bool and nil pass through unchanged.
		return v
	}
}

func stringList(ss []string) value {
	out := make([]value, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// normalizeSignals accepts the shapes a signals-mode entrypoint may return:
//
//  1. a list of {"date": "...", "weights": {...}} maps (the signal builtin)
//  2. a map of date -> weight map
//  3. nil, meaning no signals
//
// Output is sorted by date.
func normalizeSignals(ret value) ([]domain.Signal, error) {
	switch ret := ret.(type) {
	case nil:
		return nil, nil

	case []value:
		signals := make([]domain.Signal, 0, len(ret))
		for i, item := range ret {
			m, ok := item.(map[string]value)
			if !ok {
				return nil, errf("signal %d: expected a map, got %s", i, typeName(item))
			}
			date, ok := m["date"].(string)
			if !ok || date == "" {
				return nil, errf("signal %d: missing date", i)
			}
			weights, err := normalizeWeights(m["weights"])
			if err != nil {
				return nil, prefixErr(fmt.Sprintf("signal %d (%s)", i, date), err)
			}
			signals = append(signals, domain.Signal{Date: date, TargetWeights: weights})
		}
		sortSignals(signals)
		return signals, nil

	case map[string]value:
		signals := make([]domain.Signal, 0, len(ret))
		for date, wv := range ret {
			weights, err := normalizeWeights(wv)
			if err != nil {
				return nil, prefixErr("signal "+date, err)
			}
			signals = append(signals, domain.Signal{Date: date, TargetWeights: weights})
		}
		sortSignals(signals)
		return signals, nil
	}
	return nil, errf("entrypoint returned %s, expected a signal list or date map", typeName(ret))
}

// normalizeWeights converts an interpreter value into a weight map. nil
// becomes an empty map (all cash); anything non-numeric is an error.
func normalizeWeights(v value) (map[string]float64, error) {
	if v == nil {
		return map[string]float64{}, nil
	}
	m, ok := v.(map[string]value)
	if !ok {
		return nil, errf("expected a weight map, got %s", typeName(v))
	}
	out := make(map[string]float64, len(m))
	for sym, wv := range m {
		w, ok := wv.(float64)
		if !ok {
			return nil, errf("weight for %q is %s, expected a number", sym, typeName(wv))
		}
		out[sym] = w
	}
	return out, nil
}

func sortSignals(signals []domain.Signal) {
	sort.Slice(signals, func(i, j int) bool { return signals[i].Date < signals[j].Date })
}

// prefixErr prepends context to a sandbox error's message without stacking
// the "strategy sandbox:" prefix.
func prefixErr(prefix string, err error) *Error {
	if serr, ok := err.(*Error); ok {
		return &Error{Msg: prefix + ": " + serr.Msg, Trace: serr.Trace, Timeout: serr.Timeout}
	}
	return errf("%s: %v", prefix, err)
}
