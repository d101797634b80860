package backtest

import (
	"context"
	"fmt"

	"quantdesk/internal/domain"
	"quantdesk/internal/sandbox"
	"quantdesk/internal/strategy"
)

// Strategy kinds a Request can carry.
const (
	KindBuiltin  = "builtin"
	KindEnsemble = "ensemble"
	KindSandbox  = "sandbox"
)

// MemberSpec names one ensemble component: a registered strategy kind,
// its parameters, and its mixing coefficient.
type MemberSpec struct {
	Strategy string         `json:"strategy"`
	Params   map[string]any `json:"params,omitempty"`
	Weight   float64        `json:"weight"`
}

// Request is the tagged union over the three strategy kinds. Exactly the
// fields for the named kind are consulted; the rest are ignored.
type Request struct {
	Kind string `json:"kind"`

	// builtin
	Strategy string         `json:"strategy,omitempty"`
	Params   map[string]any `json:"params,omitempty"`

	// ensemble
	Members     []MemberSpec        `json:"members,omitempty"`
	Constraints *domain.Constraints `json:"constraints,omitempty"`

	// sandbox
	Sandbox *SandboxJob `json:"sandbox,omitempty"`

	// identity, carried into the strategy context
	StrategyID  string `json:"strategy_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	CodeVersion string `json:"code_version,omitempty"`

	Config RunConfig `json:"config"`
}

// Run dispatches a tagged request to the matching entry point.
func (r *Runner) Run(ctx context.Context, prices domain.PriceSeries, reg *strategy.Registry, req *Request) (*Result, error) {
	switch req.Kind {
	case KindBuiltin:
		strat, err := reg.New(req.Strategy, req.Params)
		if err != nil {
			return nil, err
		}
		return r.RunSingle(prices, strat, r.contextFor(req, req.Params), req.Config)

	case KindEnsemble:
		if len(req.Members) == 0 {
			return nil, fmt.Errorf("ensemble has no members")
		}
		members := make([]EnsembleMember, 0, len(req.Members))
		for _, spec := range req.Members {
			strat, err := reg.New(spec.Strategy, spec.Params)
			if err != nil {
				return nil, err
			}
			members = append(members, EnsembleMember{
				Strategy: strat,
				Ctx:      r.contextFor(req, spec.Params),
				Weight:   spec.Weight,
			})
		}
		return r.RunEnsemble(prices, members, req.Constraints, req.Config)

	case KindSandbox:
		if req.Sandbox == nil {
			return nil, fmt.Errorf("sandbox request has no job")
		}
		job := *req.Sandbox
		if job.Mode == "" {
			job.Mode = sandbox.ModeWeights
		}
		return r.RunSandbox(ctx, prices, job, req.Config)

	default:
		return nil, fmt.Errorf("unknown backtest kind %q", req.Kind)
	}
}

func (r *Runner) contextFor(req *Request, params map[string]any) *strategy.Context {
	return &strategy.Context{
		StrategyID:  req.StrategyID,
		UserID:      req.UserID,
		CodeVersion: req.CodeVersion,
		Params:      params,
	}
}
