// Package strategy defines the weight-generating strategy contract and a
// registry of built-in strategy constructors, plus the validation and
// ensemble-mixing logic applied to the weight maps strategies produce.
package strategy

import (
	"fmt"
	"sort"

	"quantdesk/internal/domain"
)

// Strategy is the canonical per-date interface: given the pivoted price
// history, produce the target allocation for one rebalance date. Returning
// an empty map means fully in cash for that rebalance; insufficient history
// is a skip (empty map), never an error.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// TargetWeights computes the symbol -> weight allocation for date.
	// The matrix is precomputed once per run and must be treated read-only.
	TargetWeights(m *domain.PriceMatrix, ctx *Context, universe []string, date string) (map[string]float64, error)
}

// SignalGenerator is the optional multi-date interface for strategies that
// emit a full rebalance schedule in one pass. The runner adapts these to the
// per-date shape; call sites never probe beyond this type assertion.
type SignalGenerator interface {
	GenerateSignals(m *domain.PriceMatrix, ctx *Context, universe []string) ([]domain.Signal, error)
}

// Context carries the immutable identity of one strategy invocation plus its
// parameters. A Context is created per run and never shared across
// concurrent runs.
type Context struct {
	StrategyID  string
	UserID      string
	CodeVersion string
	Params      map[string]any
}

// Factory constructs a strategy from its JSON-shaped parameters.
type Factory func(params map[string]any) (Strategy, error)

// Registry maps stable strategy kind identifiers to constructors. The set of
// built-in kinds is fixed at wiring time; sandboxed strategies are handled
// by the backtest runner, not the registry.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under the given kind identifier.
func (r *Registry) Register(kind string, f Factory) {
	r.factories[kind] = f
}

// New constructs a strategy of the given kind with the given parameters.
func (r *Registry) New(kind string, params map[string]any) (Strategy, error) {
	f, ok := r.factories[kind]
	if !ok {
		return nil, fmt.Errorf("unknown strategy kind %q", kind)
	}
	return f(params)
}

// Kinds returns a sorted slice of all registered kind identifiers.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// ---------------------------------------------------------------------------
// Parameter helpers
// ---------------------------------------------------------------------------

// IntParam reads an integer parameter, accepting JSON numbers (float64) and
// ints, falling back to def when absent.
func IntParam(params map[string]any, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}

// FloatParam reads a float parameter, falling back to def when absent.
func FloatParam(params map[string]any, key string, def float64) float64 {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return def
}

// StringParam reads a string parameter, falling back to def when absent.
func StringParam(params map[string]any, key, def string) string {
	if s, ok := params[key].(string); ok && s != "" {
		return s
	}
	return def
}
