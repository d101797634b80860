package sandbox

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"quantdesk/internal/domain"
	"quantdesk/internal/indicators"
)

// Execution budgets. A script that exhausts either one fails with *Error;
// the hard wall-clock timeout lives in the parent process, not here.
const (
	maxSteps     = 2_000_000
	maxCallDepth = 64
)

// value is any of: float64, string, bool, nil, []value, map[string]value.
type value any

// env holds the state for a single script run. The price matrix and params
// are fixed for the lifetime of the run; only interpreter bookkeeping
// mutates.
type env struct {
	prog     *program
	matrix   *domain.PriceMatrix
	universe []string
	params   map[string]value
	dates    []string // rebalance dates exposed to signals-mode scripts

	steps int
	depth int
}

// scope is one function activation's local bindings.
type scope map[string]value

// control-flow signal carried up through statement execution.
type flow int

const (
	flowNone flow = iota
	flowReturn
)

func (e *env) step(line int) error {
	e.steps++
	if e.steps > maxSteps {
		return errf("line %d: step budget exceeded", line)
	}
	return nil
}

// callFunction runs a user-defined function with the given arguments.
func (e *env) callFunction(fn *funcDef, args []value) (value, error) {
	if len(args) != len(fn.params) {
		return nil, errf("line %d: %q takes %d arguments, got %d", fn.line, fn.name, len(fn.params), len(args))
	}
	e.depth++
	if e.depth > maxCallDepth {
		return nil, errf("line %d: call depth exceeded in %q", fn.line, fn.name)
	}
	defer func() { e.depth-- }()

	sc := make(scope, len(fn.params))
	for i, p := range fn.params {
		sc[p] = args[i]
	}
	ret, fl, err := e.execBlock(sc, fn.body)
	if err != nil {
		return nil, err
	}
	if fl != flowReturn {
		return nil, nil
	}
	return ret, nil
}

func (e *env) execBlock(sc scope, stmts []stmt) (value, flow, error) {
	for _, s := range stmts {
		ret, fl, err := e.execStmt(sc, s)
		if err != nil {
			return nil, flowNone, err
		}
		if fl == flowReturn {
			return ret, fl, nil
		}
	}
	return nil, flowNone, nil
}

func (e *env) execStmt(sc scope, s stmt) (value, flow, error) {
	switch s := s.(type) {
	case *letStmt:
		if err := e.step(s.line); err != nil {
			return nil, flowNone, err
		}
		v, err := e.eval(sc, s.expr)
		if err != nil {
			return nil, flowNone, err
		}
		sc[s.name] = v
		return nil, flowNone, nil

	case *assignStmt:
		if err := e.step(s.line); err != nil {
			return nil, flowNone, err
		}
		v, err := e.eval(sc, s.expr)
		if err != nil {
			return nil, flowNone, err
		}
		sc[s.name] = v
		return nil, flowNone, nil

	case *ifStmt:
		if err := e.step(s.line); err != nil {
			return nil, flowNone, err
		}
		cond, err := e.eval(sc, s.cond)
		if err != nil {
			return nil, flowNone, err
		}
		if truthy(cond) {
			return e.execBlock(sc, s.then)
		}
		if s.els != nil {
			return e.execBlock(sc, s.els)
		}
		return nil, flowNone, nil

	case *forStmt:
		iter, err := e.eval(sc, s.iter)
		if err != nil {
			return nil, flowNone, err
		}
		list, ok := iter.([]value)
		if !ok {
			return nil, flowNone, errf("line %d: for expects a list, got %s", s.line, typeName(iter))
		}
		for _, item := range list {
			if err := e.step(s.line); err != nil {
				return nil, flowNone, err
			}
			sc[s.varName] = item
			ret, fl, err := e.execBlock(sc, s.body)
			if err != nil {
				return nil, flowNone, err
			}
			if fl == flowReturn {
				return ret, fl, nil
			}
		}
		return nil, flowNone, nil

	case *returnStmt:
		if err := e.step(s.line); err != nil {
			return nil, flowNone, err
		}
		v, err := e.eval(sc, s.expr)
		if err != nil {
			return nil, flowNone, err
		}
		return v, flowReturn, nil

	case *exprStmt:
		if err := e.step(s.line); err != nil {
			return nil, flowNone, err
		}
		_, err := e.eval(sc, s.expr)
		return nil, flowNone, err

	default:
		return nil, flowNone, errf("unhandled statement %T", s)
	}
}

func (e *env) eval(sc scope, ex expr) (value, error) {
	switch ex := ex.(type) {
	case *numberLit:
		return ex.value, nil
	case *stringLit:
		return ex.value, nil
	case *boolLit:
		return ex.value, nil
	case *nilLit:
		return nil, nil

	case *identExpr:
		v, ok := sc[ex.name]
		if !ok {
			return nil, errf("line %d: unknown identifier %q", ex.line, ex.name)
		}
		return v, nil

	case *listLit:
		out := make([]value, 0, len(ex.elems))
		for _, el := range ex.elems {
			v, err := e.eval(sc, el)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case *mapLit:
		out := make(map[string]value, len(ex.keys))
		for i := range ex.keys {
			kv, err := e.eval(sc, ex.keys[i])
			if err != nil {
				return nil, err
			}
			key, ok := kv.(string)
			if !ok {
				return nil, errf("map keys must be strings, got %s", typeName(kv))
			}
			vv, err := e.eval(sc, ex.values[i])
			if err != nil {
				return nil, err
			}
			out[key] = vv
		}
		return out, nil

	case *unaryExpr:
		v, err := e.eval(sc, ex.expr)
		if err != nil {
			return nil, err
		}
		switch ex.op {
		case "-":
			n, ok := v.(float64)
			if !ok {
				return nil, errf("line %d: unary - expects a number, got %s", ex.line, typeName(v))
			}
			return -n, nil
		case "!":
			return !truthy(v), nil
		}
		return nil, errf("line %d: unknown unary operator %q", ex.line, ex.op)

	case *binaryExpr:
		return e.evalBinary(sc, ex)

	case *indexExpr:
		target, err := e.eval(sc, ex.target)
		if err != nil {
			return nil, err
		}
		idx, err := e.eval(sc, ex.index)
		if err != nil {
			return nil, err
		}
		switch t := target.(type) {
		case []value:
			n, ok := idx.(float64)
			if !ok {
				return nil, errf("line %d: list index must be a number", ex.line)
			}
			i := int(n)
			if i < 0 || i >= len(t) {
				return nil, errf("line %d: index %d out of range (len %d)", ex.line, i, len(t))
			}
			return t[i], nil
		case map[string]value:
			k, ok := idx.(string)
			if !ok {
				return nil, errf("line %d: map key must be a string", ex.line)
			}
			return t[k], nil
		default:
			return nil, errf("line %d: cannot index %s", ex.line, typeName(target))
		}

	case *callExpr:
		return e.call(sc, ex)

	default:
		return nil, errf("unhandled expression %T", ex)
	}
}

func (e *env) evalBinary(sc scope, ex *binaryExpr) (value, error) {
	// Short-circuit logic first.
	if ex.op == "&&" || ex.op == "||" {
		left, err := e.eval(sc, ex.left)
		if err != nil {
			return nil, err
		}
		if ex.op == "&&" && !truthy(left) {
			return false, nil
		}
		if ex.op == "||" && truthy(left) {
			return true, nil
		}
		right, err := e.eval(sc, ex.right)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	}

	left, err := e.eval(sc, ex.left)
	if err != nil {
		return nil, err
	}
	right, err := e.eval(sc, ex.right)
	if err != nil {
		return nil, err
	}

	switch ex.op {
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	}

	// String concatenation.
	if ex.op == "+" {
		if ls, ok := left.(string); ok {
			rs, ok := right.(string)
			if !ok {
				return nil, errf("line %d: cannot add string and %s", ex.line, typeName(right))
			}
			return ls + rs, nil
		}
	}

	ln, lok := left.(float64)
	rn, rok := right.(float64)
	if !lok || !rok {
		// String ordering for date comparisons.
		ls, lsok := left.(string)
		rs, rsok := right.(string)
		if lsok && rsok {
			switch ex.op {
			case "<":
				return ls < rs, nil
			case "<=":
				return ls <= rs, nil
			case ">":
				return ls > rs, nil
			case ">=":
				return ls >= rs, nil
			}
		}
		return nil, errf("line %d: operator %q expects numbers, got %s and %s",
			ex.line, ex.op, typeName(left), typeName(right))
	}

	switch ex.op {
	case "+":
		return ln + rn, nil
	case "-":
		return ln - rn, nil
	case "*":
		return ln * rn, nil
	case "/":
		if rn == 0 {
			return nil, errf("line %d: division by zero", ex.line)
		}
		return ln / rn, nil
	case "%":
		if rn == 0 {
			return nil, errf("line %d: division by zero", ex.line)
		}
		return math.Mod(ln, rn), nil
	case "<":
		return ln < rn, nil
	case "<=":
		return ln <= rn, nil
	case ">":
		return ln > rn, nil
	case ">=":
		return ln >= rn, nil
	}
	return nil, errf("line %d: unknown operator %q", ex.line, ex.op)
}

func truthy(v value) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	case []value:
		return len(v) > 0
	case map[string]value:
		return len(v) > 0
	}
	return true
}

func looseEqual(a, b value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

func typeName(v value) string {
	switch v.(type) {
	case nil:
		return "nil"
	case float64:
		return "number"
	case string:
		return "string"
	case bool:
		return "bool"
	case []value:
		return "list"
	case map[string]value:
		return "map"
	}
	return fmt.Sprintf("%T", v)
}

// ---------------------------------------------------------------------------
// Builtins
// ---------------------------------------------------------------------------

// builtinArity maps builtin names to their parameter count; -1 means
// variadic. Validation uses the key set as the call allow-list.
var builtinArity = map[string]int{
	"universe":      0,
	"dates":         0,
	"param":         2,
	"price":         2,
	"prices":        3,
	"momentum":      3,
	"volatility":    3,
	"rsi":           3,
	"sma":           3,
	"top_n":         3,
	"bottom_n":      3,
	"equal_weights": 1,
	"normalize":     1,
	"merge":         2,
	"keys":          1,
	"len":           1,
	"abs":           1,
	"min":           -1,
	"max":           -1,
	"floor":         1,
	"ceil":          1,
	"round":         1,
	"sqrt":          1,
	"push":          2,
	"set":           3,
	"signal":        2,
	"contains":      2,
	"str":           1,
	"num":           1,
}

func (e *env) call(sc scope, ex *callExpr) (value, error) {
	if err := e.step(ex.line); err != nil {
		return nil, err
	}

	if fn, ok := e.prog.funcs[ex.name]; ok {
		args := make([]value, 0, len(ex.args))
		for _, a := range ex.args {
			v, err := e.eval(sc, a)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
		return e.callFunction(fn, args)
	}

	want, ok := builtinArity[ex.name]
	if !ok {
		return nil, errf("line %d: call to unknown function %q", ex.line, ex.name)
	}
	if want >= 0 && len(ex.args) != want {
		return nil, errf("line %d: %s takes %d arguments, got %d", ex.line, ex.name, want, len(ex.args))
	}
	args := make([]value, 0, len(ex.args))
	for _, a := range ex.args {
		v, err := e.eval(sc, a)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return e.callBuiltin(ex.name, args, ex.line)
}

func (e *env) callBuiltin(name string, args []value, line int) (value, error) {
	switch name {
	case "universe":
		out := make([]value, len(e.universe))
		for i, s := range e.universe {
			out[i] = s
		}
		return out, nil

	case "dates":
		out := make([]value, len(e.dates))
		for i, d := range e.dates {
			out[i] = d
		}
		return out, nil

	case "param":
		key, err := wantString(name, args[0], line)
		if err != nil {
			return nil, err
		}
		if v, ok := e.params[key]; ok {
			return v, nil
		}
		return args[1], nil

	case "price":
		sym, err := wantString(name, args[0], line)
		if err != nil {
			return nil, err
		}
		date, err := wantString(name, args[1], line)
		if err != nil {
			return nil, err
		}
		idx := e.matrix.DateIndex(date)
		if idx < 0 {
			return nil, nil
		}
		return numOrNil(e.matrix.Price(sym, idx)), nil

	case "prices":
		return e.priceWindow(args, line)

	case "momentum":
		series, err := e.seriesEndingAt(name, args, line)
		if err != nil || series == nil {
			return nil, err
		}
		v := indicators.TotalReturn(series)
		return numOrNil(v), nil

	case "volatility":
		sym, err := wantString(name, args[0], line)
		if err != nil {
			return nil, err
		}
		date, err := wantString(name, args[1], line)
		if err != nil {
			return nil, err
		}
		window, err := wantInt(name, args[2], line)
		if err != nil {
			return nil, err
		}
		if window <= 0 {
			return nil, errf("line %d: volatility window must be positive", line)
		}
		idx := e.matrix.DateIndex(date)
		if idx < 0 {
			return nil, nil
		}
		col := e.matrix.Column(sym)
		if col == nil {
			return nil, nil
		}
		rets := indicators.Returns(col[:idx+1], 1)
		vols := indicators.Volatility(rets, window)
		if len(vols) == 0 {
			return nil, nil
		}
		return numOrNil(vols[len(vols)-1]), nil

	case "rsi":
		sym, err := wantString(name, args[0], line)
		if err != nil {
			return nil, err
		}
		date, err := wantString(name, args[1], line)
		if err != nil {
			return nil, err
		}
		window, err := wantInt(name, args[2], line)
		if err != nil {
			return nil, err
		}
		if window <= 0 {
			return nil, errf("line %d: rsi window must be positive", line)
		}
		idx := e.matrix.DateIndex(date)
		if idx < 0 {
			return nil, nil
		}
		col := e.matrix.Column(sym)
		if col == nil {
			return nil, nil
		}
		series := indicators.RSI(col[:idx+1], window, indicators.RSIWilder)
		if len(series) == 0 {
			return nil, nil
		}
		return numOrNil(series[len(series)-1]), nil

	case "sma":
		series, err := e.seriesEndingAt(name, args, line)
		if err != nil || series == nil {
			return nil, err
		}
		out := indicators.SMA(series, len(series))
		if len(out) == 0 {
			return nil, nil
		}
		return numOrNil(out[len(out)-1]), nil

	case "top_n", "bottom_n":
		return rankBuiltin(name, args, line)

	case "equal_weights":
		list, ok := args[0].([]value)
		if !ok {
			return nil, errf("line %d: equal_weights expects a list, got %s", line, typeName(args[0]))
		}
		out := make(map[string]value, len(list))
		if len(list) == 0 {
			return out, nil
		}
		w := 1.0 / float64(len(list))
		for _, item := range list {
			sym, ok := item.(string)
			if !ok {
				return nil, errf("line %d: equal_weights expects a list of symbols", line)
			}
			out[sym] = w
		}
		return out, nil

	case "normalize":
		m, ok := args[0].(map[string]value)
		if !ok {
			return nil, errf("line %d: normalize expects a map, got %s", line, typeName(args[0]))
		}
		var total float64
		for _, v := range m {
			n, ok := v.(float64)
			if !ok {
				return nil, errf("line %d: normalize expects numeric weights", line)
			}
			total += math.Abs(n)
		}
		out := make(map[string]value, len(m))
		if total == 0 {
			return out, nil
		}
		for k, v := range m {
			out[k] = v.(float64) / total
		}
		return out, nil

	case "merge":
		a, aok := args[0].(map[string]value)
		b, bok := args[1].(map[string]value)
		if !aok || !bok {
			return nil, errf("line %d: merge expects two maps", line)
		}
		out := make(map[string]value, len(a)+len(b))
		for k, v := range a {
			out[k] = v
		}
		for k, v := range b {
			out[k] = v
		}
		return out, nil

	case "keys":
		m, ok := args[0].(map[string]value)
		if !ok {
			return nil, errf("line %d: keys expects a map, got %s", line, typeName(args[0]))
		}
		ks := make([]string, 0, len(m))
		for k := range m {
			ks = append(ks, k)
		}
		sort.Strings(ks)
		out := make([]value, len(ks))
		for i, k := range ks {
			out[i] = k
		}
		return out, nil

	case "len":
		switch v := args[0].(type) {
		case []value:
			return float64(len(v)), nil
		case map[string]value:
			return float64(len(v)), nil
		case string:
			return float64(len(v)), nil
		}
		return nil, errf("line %d: len expects a list, map or string, got %s", line, typeName(args[0]))

	case "abs":
		n, err := wantNumber(name, args[0], line)
		if err != nil {
			return nil, err
		}
		return math.Abs(n), nil

	case "min", "max":
		if len(args) < 1 {
			return nil, errf("line %d: %s needs at least one argument", line, name)
		}
		best, err := wantNumber(name, args[0], line)
		if err != nil {
			return nil, err
		}
		for _, a := range args[1:] {
			n, err := wantNumber(name, a, line)
			if err != nil {
				return nil, err
			}
			if (name == "min" && n < best) || (name == "max" && n > best) {
				best = n
			}
		}
		return best, nil

	case "floor":
		n, err := wantNumber(name, args[0], line)
		if err != nil {
			return nil, err
		}
		return math.Floor(n), nil
	case "ceil":
		n, err := wantNumber(name, args[0], line)
		if err != nil {
			return nil, err
		}
		return math.Ceil(n), nil
	case "round":
		n, err := wantNumber(name, args[0], line)
		if err != nil {
			return nil, err
		}
		return math.Round(n), nil
	case "sqrt":
		n, err := wantNumber(name, args[0], line)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, errf("line %d: sqrt of negative number", line)
		}
		return math.Sqrt(n), nil

	case "push":
		list, ok := args[0].([]value)
		if !ok {
			return nil, errf("line %d: push expects a list, got %s", line, typeName(args[0]))
		}
		return append(append([]value{}, list...), args[1]), nil

	case "set":
		m, ok := args[0].(map[string]value)
		if !ok {
			return nil, errf("line %d: set expects a map, got %s", line, typeName(args[0]))
		}
		key, err := wantString(name, args[1], line)
		if err != nil {
			return nil, err
		}
		out := make(map[string]value, len(m)+1)
		for k, v := range m {
			out[k] = v
		}
		out[key] = args[2]
		return out, nil

	case "signal":
		date, err := wantString(name, args[0], line)
		if err != nil {
			return nil, err
		}
		weights, ok := args[1].(map[string]value)
		if !ok {
			return nil, errf("line %d: signal expects a weight map, got %s", line, typeName(args[1]))
		}
		return map[string]value{"date": date, "weights": weights}, nil

	case "contains":
		switch c := args[0].(type) {
		case []value:
			for _, item := range c {
				if looseEqual(item, args[1]) {
					return true, nil
				}
			}
			return false, nil
		case map[string]value:
			k, ok := args[1].(string)
			if !ok {
				return false, nil
			}
			_, found := c[k]
			return found, nil
		case string:
			sub, ok := args[1].(string)
			if !ok {
				return false, nil
			}
			return strings.Contains(c, sub), nil
		}
		return nil, errf("line %d: contains expects a list, map or string", line)

	case "str":
		switch v := args[0].(type) {
		case string:
			return v, nil
		case float64:
			return strconv.FormatFloat(v, 'g', -1, 64), nil
		case bool:
			return strconv.FormatBool(v), nil
		case nil:
			return "", nil
		}
		return nil, errf("line %d: cannot convert %s to string", line, typeName(args[0]))

	case "num":
		switch v := args[0].(type) {
		case float64:
			return v, nil
		case string:
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, errf("line %d: cannot parse %q as a number", line, v)
			}
			return n, nil
		case bool:
			if v {
				return 1.0, nil
			}
			return 0.0, nil
		}
		return nil, errf("line %d: cannot convert %s to number", line, typeName(args[0]))
	}
	return nil, errf("line %d: unknown builtin %q", line, name)
}

// seriesEndingAt extracts the (symbol, date, window) close-price window
// shared by momentum and sma. nil series with nil error means "not enough
// data", which the builtin surfaces as a nil value.
func (e *env) seriesEndingAt(name string, args []value, line int) ([]float64, error) {
	sym, err := wantString(name, args[0], line)
	if err != nil {
		return nil, err
	}
	date, err := wantString(name, args[1], line)
	if err != nil {
		return nil, err
	}
	window, err := wantInt(name, args[2], line)
	if err != nil {
		return nil, err
	}
	if window <= 0 {
		return nil, errf("line %d: %s window must be positive", line, name)
	}
	idx := e.matrix.DateIndex(date)
	if idx < 0 || idx+1 < window {
		return nil, nil
	}
	col := e.matrix.Column(sym)
	if col == nil {
		return nil, nil
	}
	series := col[idx+1-window : idx+1]
	for _, p := range series {
		if math.IsNaN(p) {
			return nil, nil
		}
	}
	return series, nil
}

func (e *env) priceWindow(args []value, line int) (value, error) {
	series, err := e.seriesEndingAt("prices", args, line)
	if err != nil {
		return nil, err
	}
	if series == nil {
		return []value{}, nil
	}
	out := make([]value, len(series))
	for i, p := range series {
		out[i] = p
	}
	return out, nil
}

// rankBuiltin implements top_n / bottom_n over a {symbol: score} map.
// Ties break on symbol so output never depends on map iteration order.
func rankBuiltin(name string, args []value, line int) (value, error) {
	m, ok := args[0].(map[string]value)
	if !ok {
		return nil, errf("line %d: %s expects a score map, got %s", line, name, typeName(args[0]))
	}
	n, err := wantInt(name, args[1], line)
	if err != nil {
		return nil, err
	}
	// args[2] toggles skipping nil scores; kept for symmetry with the
	// indicator builtins that can return nil.
	skipNil := truthy(args[2])

	type entry struct {
		sym   string
		score float64
	}
	entries := make([]entry, 0, len(m))
	for sym, v := range m {
		score, ok := v.(float64)
		if !ok {
			if skipNil && v == nil {
				continue
			}
			return nil, errf("line %d: %s expects numeric scores", line, name)
		}
		entries = append(entries, entry{sym, score})
	}
	desc := name == "top_n"
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			if desc {
				return entries[i].score > entries[j].score
			}
			return entries[i].score < entries[j].score
		}
		return entries[i].sym < entries[j].sym
	})
	if n < 0 {
		n = 0
	}
	if n > len(entries) {
		n = len(entries)
	}
	out := make([]value, n)
	for i := 0; i < n; i++ {
		out[i] = entries[i].sym
	}
	return out, nil
}

func wantString(name string, v value, line int) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", errf("line %d: %s expects a string, got %s", line, name, typeName(v))
	}
	return s, nil
}

func wantNumber(name string, v value, line int) (float64, error) {
	n, ok := v.(float64)
	if !ok {
		return 0, errf("line %d: %s expects a number, got %s", line, name, typeName(v))
	}
	return n, nil
}

func wantInt(name string, v value, line int) (int, error) {
	n, err := wantNumber(name, v, line)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func numOrNil(v float64) value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
