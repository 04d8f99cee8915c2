// Package celpolicy provides a policy whose install parameter is a CEL
// expression evaluated against the request attributes. The expression must
// produce a bool; true approves.
//
// Variables: account (string), ledger (uint), context (map), rule (map),
// signers (list of signer strings authenticated for the rule).
//
//	context.function == "transfer" && context.args[2] <= 1000
package celpolicy

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/xraph/latch/id"
	"github.com/xraph/latch/policy"
	"github.com/xraph/latch/rule"
)

// DefaultCostLimit bounds the evaluation cost of a single expression.
const DefaultCostLimit = 10000

var (
	_ policy.Policy    = (*Policy)(nil)
	_ policy.Installer = (*Policy)(nil)
)

// Policy evaluates CEL expressions with a compiled-program cache.
type Policy struct {
	env       *cel.Env
	costLimit uint64

	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

// Option configures a Policy.
type Option func(*Policy)

// WithCostLimit overrides DefaultCostLimit.
func WithCostLimit(limit uint64) Option {
	return func(p *Policy) { p.costLimit = limit }
}

// New creates a CEL policy.
func New(opts ...Option) (*Policy, error) {
	env, err := cel.NewEnv(
		cel.Variable("account", cel.StringType),
		cel.Variable("ledger", cel.UintType),
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("rule", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("signers", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("celpolicy: create environment: %w", err)
	}

	p := &Policy{
		env:       env,
		costLimit: DefaultCostLimit,
		prgCache:  make(map[string]cel.Program),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Install compiles the expression so that a broken rule is refused at
// attach time rather than denying every request later.
func (p *Policy) Install(_ context.Context, _ id.AccountID, _ *rule.Rule, param []byte) error {
	if _, err := p.program(string(param)); err != nil {
		return fmt.Errorf("%w: %v", policy.ErrInvalidParam, err)
	}
	return nil
}

// Check implements policy.Policy.
func (p *Policy) Check(_ context.Context, req *policy.Request, param []byte) error {
	expr := string(param)
	prg, err := p.program(expr)
	if err != nil {
		return fmt.Errorf("%w: %v", policy.ErrInvalidParam, err)
	}

	out, _, err := prg.Eval(req.Attributes())
	if err != nil {
		return fmt.Errorf("%w: eval %q: %v", policy.ErrDenied, expr, err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return fmt.Errorf("%w: %q did not produce a bool", policy.ErrDenied, expr)
	}
	if !allowed {
		return fmt.Errorf("%w: %q is false", policy.ErrDenied, expr)
	}
	return nil
}

func (p *Policy) program(expr string) (cel.Program, error) {
	if expr == "" {
		return nil, fmt.Errorf("empty expression")
	}

	p.mu.RLock()
	prg, hit := p.prgCache[expr]
	p.mu.RUnlock()
	if hit {
		return prg, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if prg, hit = p.prgCache[expr]; hit {
		return prg, nil
	}

	ast, issues := p.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression yields %s, want bool", out)
	}
	prg, err := p.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(p.costLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	p.prgCache[expr] = prg
	return prg, nil
}
