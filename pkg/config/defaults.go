package config

import "github.com/toolboxlabs/planner/pkg/models"

// Defaults holds system-wide default values applied when a submission
// omits them.
type Defaults struct {
	// Budget axes applied when the caller's budget omits them. Explicit
	// zeros here disable the axis for every run by default.
	Budget *BudgetDefaults `yaml:"budget,omitempty"`

	// LLMProvider names the provider used when a submission does not
	// pick one.
	LLMProvider string `yaml:"llm_provider,omitempty"`
}

// BudgetDefaults mirrors models.BudgetSpec with YAML tags. Nil fields
// fall back to the documented built-in defaults (10 / 30 / 5 / $0.50).
type BudgetDefaults struct {
	MaxSteps      *int     `yaml:"max_steps,omitempty"`
	MaxToolCalls  *int     `yaml:"max_tool_calls,omitempty"`
	MaxCodeRuns   *int     `yaml:"max_code_runs,omitempty"`
	MaxLLMCostUSD *float64 `yaml:"max_llm_cost_usd,omitempty"`
}

// Spec converts the YAML defaults to a models.BudgetSpec.
func (b *BudgetDefaults) Spec() *models.BudgetSpec {
	if b == nil {
		return nil
	}
	return &models.BudgetSpec{
		MaxSteps:      b.MaxSteps,
		MaxToolCalls:  b.MaxToolCalls,
		MaxCodeRuns:   b.MaxCodeRuns,
		MaxLLMCostUSD: b.MaxLLMCostUSD,
	}
}

// ResolveBudget returns the effective default budget for this
// configuration.
func (d *Defaults) ResolveBudget() models.Budget {
	if d == nil {
		return models.DefaultBudget()
	}
	return d.Budget.Spec().Resolve()
}
