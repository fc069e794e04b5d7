package scoring

import (
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/fraudlab/harrier/internal/domain"
)

// CompiledRule holds a pre-compiled CEL program for a custom rule.
type CompiledRule struct {
	Config  *domain.CustomRule
	Program cel.Program
}

// newCELEnv creates the CEL environment custom rules are compiled against.
// The variables mirror the Transaction fields the builtin rules see.
func newCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("tx", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("merchant", cel.StringType),
		cel.Variable("location", cel.StringType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("card_last4", cel.StringType),
		cel.Variable("timestamp", cel.StringType),
	)
}

// ValidateRule compiles a rule without mutating the loaded rule set.
func (e *Engine) ValidateRule(cfg *domain.CustomRule) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}
	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a custom rule into the engine.
func (e *Engine) LoadRule(cfg *domain.CustomRule) error {
	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.customRules[cfg.ID] = compiled
	e.rebuildOrder()

	return nil
}

// LoadRules compiles and loads multiple custom rules, skipping disabled ones.
func (e *Engine) LoadRules(configs []*domain.CustomRule) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules replaces all loaded custom rules with the given set.
// This enables hot-reloading of rules from the repository.
func (e *Engine) ReloadRules(configs []*domain.CustomRule) error {
	newRules := make(map[string]*CompiledRule)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.customRules = newRules
	e.rebuildOrder()

	return nil
}

// CustomRuleCount returns the number of loaded custom rules.
func (e *Engine) CustomRuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.customRules)
}

// LoadedRules returns the currently loaded custom rule configurations in
// evaluation order.
func (e *Engine) LoadedRules() []*domain.CustomRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.CustomRule, 0, len(e.ruleOrder))
	for _, id := range e.ruleOrder {
		rules = append(rules, e.customRules[id].Config)
	}
	return rules
}

// Close clears the loaded custom rules.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.customRules = make(map[string]*CompiledRule)
	e.ruleOrder = nil
	return nil
}

// evaluateCustomRules runs the loaded custom rules against a transaction.
// Rules fire in sorted-ID order so reasons stay deterministic across runs.
// A rule that errors at runtime contributes nothing; scoring stays total.
func (e *Engine) evaluateCustomRules(txn domain.Transaction) (float64, []string) {
	e.mu.RLock()
	compiled := make([]*CompiledRule, 0, len(e.ruleOrder))
	for _, id := range e.ruleOrder {
		compiled = append(compiled, e.customRules[id])
	}
	e.mu.RUnlock()

	if len(compiled) == 0 {
		return 0, nil
	}

	activation := map[string]any{
		"tx": map[string]any{
			"id":         txn.TransactionID,
			"user_id":    txn.UserID,
			"amount":     txn.Amount,
			"merchant":   txn.Merchant,
			"location":   txn.Location,
			"timestamp":  txn.Timestamp,
			"card_last4": txn.CardLast4,
		},
		"amount":     txn.Amount,
		"merchant":   txn.Merchant,
		"location":   txn.Location,
		"user_id":    txn.UserID,
		"card_last4": txn.CardLast4,
		"timestamp":  txn.Timestamp,
	}

	var points float64
	var reasons []string

	for _, rule := range compiled {
		out, _, err := rule.Program.Eval(activation)
		if err != nil {
			continue
		}
		if fired, ok := out.(types.Bool); ok && bool(fired) {
			points += rule.Config.Points
			reasons = append(reasons, rule.Config.Reason)
		}
	}

	return points, reasons
}

// rebuildOrder recomputes the fixed evaluation order. Callers hold e.mu.
func (e *Engine) rebuildOrder() {
	order := make([]string, 0, len(e.customRules))
	for id := range e.customRules {
		order = append(order, id)
	}
	sort.Strings(order)
	e.ruleOrder = order
}

func (e *Engine) compileRule(cfg *domain.CustomRule) (*CompiledRule, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("rule id is required")
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
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
