// Package screening provides the CEL-Go based post-scoring rule engine.
// Businesses configure rules over scored transactions; outcomes can force a
// rejection or route a transaction to manual review.
package screening

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/vocilia/verify/internal/domain"
)

// RuleLoader fetches a business's screening rules for lazy loading.
// Satisfied by domain.Repository.ListScreeningRules.
type RuleLoader func(ctx context.Context, businessID string) ([]*domain.ScreeningRule, error)

// Engine is the CEL-based screening rule engine. Rules are compiled once and
// cached per business.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]map[string]*CompiledRule // businessID -> ruleID -> rule
	loader   RuleLoader
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.ScreeningRule
	Program cel.Program
}

// NewEngine creates a screening engine. The loader may be nil, in which case
// rules must be loaded explicitly via LoadRules.
func NewEngine(loader RuleLoader) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("tx", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("amount_delta", cel.DoubleType),
		cel.Variable("time_delta_minutes", cel.DoubleType),
		cel.Variable("composite", cel.DoubleType),
		cel.Variable("context_score", cel.DoubleType),
		cel.Variable("keyword_score", cel.DoubleType),
		cel.Variable("behavioral_score", cel.DoubleType),
		cel.Variable("transaction_score", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		compiled: make(map[string]map[string]*CompiledRule),
		loader:   loader,
	}, nil
}

// ValidateRule compiles a rule without loading it into the engine.
func (e *Engine) ValidateRule(cfg *domain.ScreeningRule) error {
	if cfg == nil {
		return fmt.Errorf("%w: rule config is required", domain.ErrValidation)
	}
	_, err := e.compileRule(cfg)
	return err
}

// LoadRules compiles and installs a business's rule set, replacing any
// previously loaded set for that business.
func (e *Engine) LoadRules(businessID string, configs []*domain.ScreeningRule) error {
	rules := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		rules[cfg.ID] = compiled
	}

	e.mu.Lock()
	e.compiled[businessID] = rules
	e.mu.Unlock()
	return nil
}

// Invalidate drops a business's loaded rules so the next evaluation reloads
// them through the loader.
func (e *Engine) Invalidate(businessID string) {
	e.mu.Lock()
	delete(e.compiled, businessID)
	e.mu.Unlock()
}

// Input holds the scored transaction data for rule evaluation.
type Input struct {
	TxID             string
	Amount           float64
	AmountDelta      float64
	TimeDeltaMinutes float64
	Composite        float64
	ContextScore     float64
	KeywordScore     float64
	BehavioralScore  float64
	TransactionScore float64
}

// Evaluate runs all of a business's rules against the input and returns the
// individual results plus the decisive (worst) outcome. With no rules loaded
// the outcome is approve.
func (e *Engine) Evaluate(ctx context.Context, businessID string, input *Input) ([]domain.ScreeningResult, string, error) {
	rules, err := e.rulesFor(ctx, businessID)
	if err != nil {
		return nil, "", err
	}
	if len(rules) == 0 {
		return nil, domain.OutcomeApprove, nil
	}

	activation := map[string]any{
		"tx": map[string]any{
			"id":     input.TxID,
			"amount": input.Amount,
		},
		"amount":             input.Amount,
		"amount_delta":       input.AmountDelta,
		"time_delta_minutes": input.TimeDeltaMinutes,
		"composite":          input.Composite,
		"context_score":      input.ContextScore,
		"keyword_score":      input.KeywordScore,
		"behavioral_score":   input.BehavioralScore,
		"transaction_score":  input.TransactionScore,
	}

	results := make([]domain.ScreeningResult, 0, len(rules))
	decisive := domain.OutcomeApprove

	for _, rule := range rules {
		result := domain.ScreeningResult{
			RuleID:     rule.Config.ID,
			BusinessID: businessID,
			TxID:       input.TxID,
		}

		out, _, err := rule.Program.Eval(activation)
		if err != nil {
			result.Outcome = domain.OutcomeError
			result.Reason = fmt.Sprintf("evaluation error: %v", err)
			results = append(results, result)
			continue
		}

		result.Value = toValue(out)
		result.Outcome, result.Reason = matchBand(result.Value, rule.Config.Bands)
		results = append(results, result)

		if worse(result.Outcome, decisive) {
			decisive = result.Outcome
		}
	}

	return results, decisive, nil
}

// rulesFor returns the compiled set for a business, loading it through the
// loader on first use.
func (e *Engine) rulesFor(ctx context.Context, businessID string) ([]*CompiledRule, error) {
	e.mu.RLock()
	set, ok := e.compiled[businessID]
	e.mu.RUnlock()

	if !ok && e.loader != nil {
		configs, err := e.loader(ctx, businessID)
		if err != nil {
			return nil, fmt.Errorf("failed to load screening rules: %w", err)
		}
		if err := e.LoadRules(businessID, configs); err != nil {
			return nil, err
		}
		e.mu.RLock()
		set = e.compiled[businessID]
		e.mu.RUnlock()
	}

	rules := make([]*CompiledRule, 0, len(set))
	for _, r := range set {
		rules = append(rules, r)
	}
	return rules, nil
}

// RulesCount returns the number of loaded rules for a business.
func (e *Engine) RulesCount(businessID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled[businessID])
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]map[string]*CompiledRule)
	return nil
}

// worse reports whether outcome a takes precedence over b.
// Precedence: reject > review > approve. Errors never escalate.
func worse(a, b string) bool {
	rank := func(o string) int {
		switch o {
		case domain.OutcomeReject:
			return 2
		case domain.OutcomeReview:
			return 1
		default:
			return 0
		}
	}
	return rank(a) > rank(b)
}

// toValue converts a CEL value to a numeric result.
func toValue(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// matchBand finds the matching band for a value. Bands are evaluated in
// order: lower inclusive, upper exclusive, a nil upper meaning unbounded.
func matchBand(value float64, bands []domain.RuleBand) (string, string) {
	for _, band := range bands {
		lower := 0.0
		if band.LowerLimit != nil {
			lower = *band.LowerLimit
		}
		if value < lower {
			continue
		}
		if band.UpperLimit == nil || value < *band.UpperLimit {
			return band.Outcome, band.Reason
		}
	}

	// Default to approve if no band matches
	return domain.OutcomeApprove, "no matching band"
}

func (e *Engine) compileRule(cfg *domain.ScreeningRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: failed to compile rule %s: %v", domain.ErrValidation, cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("%w: rule %s must return bool, int, or double, got %s", domain.ErrValidation, cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
