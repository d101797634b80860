package sandbox

import "strings"

// MaxSourceLen is the size cap applied before any parsing.
const MaxSourceLen = 200000

// Mode selects how the worker drives the entrypoint.
type Mode string

const (
	// ModeSignals calls the entrypoint once; it returns the full list of
	// rebalance signals.
	ModeSignals Mode = "signals"
	// ModeWeights calls the entrypoint once per rebalance date; each call
	// returns a weight map.
	ModeWeights Mode = "weights"
)

// bannedNames are rejected at the token level so that attempts to use host
// or reflection facilities fail with a clear message before parsing. The
// grammar has no import or while constructs anyway; the denylist exists to
// give those attempts a deterministic rejection.
var bannedNames = map[string]bool{
	"import": true, "while": true, "eval": true, "exec": true,
	"open": true, "compile": true, "input": true, "getattr": true,
	"setattr": true, "delattr": true, "globals": true, "locals": true,
	"os": true, "sys": true, "subprocess": true, "socket": true,
	"file": true, "exit": true, "quit": true,
}

// Validate statically checks user source against the sandbox language
// rules without executing anything:
//
//   - source must not exceed MaxSourceLen characters
//   - no banned or dunder-style identifiers anywhere
//   - the source must parse; only top-level func definitions exist
//   - the entrypoint must be defined at top level with the arity the mode
//     requires (signals: universe; weights: universe, date)
//   - every identifier must resolve to a builtin, a defined function, a
//     function parameter, or a local binding
//
// All failures return *Error.
func Validate(source, entrypoint string, mode Mode) error {
	if len(source) > MaxSourceLen {
		return errf("source exceeds %d characters", MaxSourceLen)
	}

	tokens, err := lex(source)
	if err != nil {
		return err
	}
	for _, t := range tokens {
		if t.kind != tokIdent && t.kind != tokKeyword {
			continue
		}
		if bannedNames[t.text] {
			return errf("line %d: use of banned name %q", t.line, t.text)
		}
		if strings.Contains(t.text, "__") {
			return errf("line %d: identifier %q is not allowed", t.line, t.text)
		}
	}

	prog, err := parse(source)
	if err != nil {
		return err
	}

	fn, ok := prog.funcs[entrypoint]
	if !ok {
		return errf("entrypoint %q is not defined at top level", entrypoint)
	}
	wantArity := 1
	if mode == ModeWeights {
		wantArity = 2
	}
	if len(fn.params) != wantArity {
		return errf("entrypoint %q takes %d parameters, want %d for %s mode",
			entrypoint, len(fn.params), wantArity, mode)
	}

	for _, name := range prog.order {
		if err := checkFunc(prog, prog.funcs[name]); err != nil {
			return err
		}
	}
	return nil
}

// checkFunc resolves every identifier and call target in a function body.
func checkFunc(prog *program, fn *funcDef) error {
	scope := make(map[string]bool, len(fn.params))
	for _, p := range fn.params {
		scope[p] = true
	}
	return checkStmts(prog, fn, scope, fn.body)
}

func checkStmts(prog *program, fn *funcDef, scope map[string]bool, stmts []stmt) error {
	for _, s := range stmts {
		switch s := s.(type) {
		case *letStmt:
			if err := checkExpr(prog, fn, scope, s.expr); err != nil {
				return err
			}
			scope[s.name] = true
		case *assignStmt:
			if !scope[s.name] {
				return errf("line %d: assignment to undeclared variable %q in %q", s.line, s.name, fn.name)
			}
			if err := checkExpr(prog, fn, scope, s.expr); err != nil {
				return err
			}
		case *ifStmt:
			if err := checkExpr(prog, fn, scope, s.cond); err != nil {
				return err
			}
			if err := checkStmts(prog, fn, childScope(scope), s.then); err != nil {
				return err
			}
			if s.els != nil {
				if err := checkStmts(prog, fn, childScope(scope), s.els); err != nil {
					return err
				}
			}
		case *forStmt:
			if err := checkExpr(prog, fn, scope, s.iter); err != nil {
				return err
			}
			body := childScope(scope)
			body[s.varName] = true
			if err := checkStmts(prog, fn, body, s.body); err != nil {
				return err
			}
		case *returnStmt:
			if err := checkExpr(prog, fn, scope, s.expr); err != nil {
				return err
			}
		case *exprStmt:
			if err := checkExpr(prog, fn, scope, s.expr); err != nil {
				return err
			}
		}
	}
	return nil
}

// childScope copies a scope so sibling blocks cannot see each other's
// bindings. Assignments to outer variables still work because the copy
// carries the outer names.
func childScope(scope map[string]bool) map[string]bool {
	child := make(map[string]bool, len(scope))
	for k := range scope {
		child[k] = true
	}
	return child
}

func checkExpr(prog *program, fn *funcDef, scope map[string]bool, e expr) error {
	switch e := e.(type) {
	case *identExpr:
		if !scope[e.name] {
			return errf("line %d: unknown identifier %q in %q", e.line, e.name, fn.name)
		}
	case *unaryExpr:
		return checkExpr(prog, fn, scope, e.expr)
	case *binaryExpr:
		if err := checkExpr(prog, fn, scope, e.left); err != nil {
			return err
		}
		return checkExpr(prog, fn, scope, e.right)
	case *callExpr:
		if _, builtin := builtinArity[e.name]; !builtin {
			if _, defined := prog.funcs[e.name]; !defined {
				return errf("line %d: call to unknown function %q", e.line, e.name)
			}
		}
		for _, arg := range e.args {
			if err := checkExpr(prog, fn, scope, arg); err != nil {
				return err
			}
		}
	case *indexExpr:
		if err := checkExpr(prog, fn, scope, e.target); err != nil {
			return err
		}
		return checkExpr(prog, fn, scope, e.index)
	case *listLit:
		for _, el := range e.elems {
			if err := checkExpr(prog, fn, scope, el); err != nil {
				return err
			}
		}
	case *mapLit:
		for i := range e.keys {
			if err := checkExpr(prog, fn, scope, e.keys[i]); err != nil {
				return err
			}
			if err := checkExpr(prog, fn, scope, e.values[i]); err != nil {
				return err
			}
		}
	}
	return nil
}
