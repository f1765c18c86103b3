// Package core orchestrates one workflow run: validation, axiom
// registration, inference and plugin dispatch, with the results merged
// into the run's symbol table.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"geneforge/internal/axiom"
	"geneforge/internal/config"
	"geneforge/internal/logging"
	"geneforge/internal/plugin"
	"geneforge/internal/types"
	"geneforge/internal/validator"
)

// axiomEligible lists node kinds whose target argument registers as a
// candidate axiom.
var axiomEligible = map[string]bool{
	"simulate": true,
}

// RunReport is the outcome of one session run.
type RunReport struct {
	ID          string              `json:"id"`
	Payload     string              `json:"payload"`
	Result      string              `json:"result"`
	Annotations []plugin.Annotation `json:"annotations"`
	Inferred    []string            `json:"inferred"`
	Axioms      []string            `json:"axioms"`
	Symbols     map[string]any      `json:"symbols"`
	StartedAt   time.Time           `json:"started_at"`
	Duration    time.Duration       `json:"duration"`
}

// Runner executes sessions against a shared plugin registry. The
// registry persists across runs; every session owns its axiom store
// and symbol table, so independent runs may execute concurrently.
type Runner struct {
	rules      validator.RuleSet
	dispatcher *plugin.Dispatcher
	inference  config.InferenceConfig

	// inferenceRules seed each session's axiom store.
	inferenceRules []axiom.Rule
}

// NewRunner creates a runner over the given rule set and dispatcher.
func NewRunner(rules validator.RuleSet, dispatcher *plugin.Dispatcher, inference config.InferenceConfig) *Runner {
	return &Runner{
		rules:      rules,
		dispatcher: dispatcher,
		inference:  inference,
	}
}

// WithInferenceRules seeds every session with the given rules.
func (r *Runner) WithInferenceRules(rules []axiom.Rule) *Runner {
	r.inferenceRules = rules
	return r
}

// Validate checks the AST without running anything else. A
// *validator.ValidationError is terminal for the whole workflow.
func (r *Runner) Validate(ast []types.OperationNode) error {
	return validator.Validate(ast, r.rules)
}

// Run executes the full control flow for one session: validate,
// register axiom-eligible nodes, infer, dispatch the payload through
// the active pipeline, merge everything into a fresh symbol table.
func (r *Runner) Run(ctx context.Context, ast []types.OperationNode, payload string) (*RunReport, error) {
	start := time.Now()
	log := logging.For(logging.CategoryCore)
	report := &RunReport{
		ID:        uuid.NewString(),
		Payload:   payload,
		StartedAt: start,
	}

	// Validation rejects the run before any plugin executes.
	if err := validator.Validate(ast, r.rules); err != nil {
		return nil, err
	}

	// Per-session state.
	store := axiom.NewStore()
	symbols := types.NewSymbolTable()

	for _, rule := range r.inferenceRules {
		store.AddRule(rule.Premise, rule.Conclusion)
	}
	for _, node := range ast {
		if !axiomEligible[node.Operation] {
			continue
		}
		if target, ok := node.StringArg("target"); ok {
			store.AddAxiom(target)
		}
	}

	inferred, err := store.Infer(r.inference.MaxPasses)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	if r.inference.CrossCheck {
		check, err := store.CrossCheck(ctx)
		if err != nil {
			return nil, fmt.Errorf("inference cross-check failed: %w", err)
		}
		if !check.Agree() {
			return nil, fmt.Errorf("inference cross-check diverged: naive-only %v, datalog-only %v",
				check.NaiveOnly, check.DatalogOnly)
		}
	}

	result, annotations := r.dispatcher.Run(ctx, payload)

	symbols.Set("run.id", report.ID)
	symbols.Set("pipeline.result", result)
	for _, a := range inferred.Added {
		symbols.Set("axiom."+a, true)
	}
	for _, ann := range annotations {
		if ann.Failed {
			symbols.Set("plugin."+ann.Plugin+".error", ann.Reason)
		}
	}

	axioms, _ := store.Explain()
	report.Result = result
	report.Annotations = annotations
	report.Inferred = inferred.Added
	report.Axioms = axioms
	report.Symbols = symbols.Snapshot()
	report.Duration = time.Since(start)

	log.Debug("session complete",
		zap.String("run", report.ID),
		zap.Int("nodes", len(ast)),
		zap.Int("inferred", len(report.Inferred)),
		zap.Int("annotations", len(report.Annotations)),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// Call routes one method invocation through the shared dispatcher with
// a session-scoped symbol table, returning the result and the symbols
// the plugin wrote.
func (r *Runner) Call(ctx context.Context, pluginName, method string, params map[string]any) (any, map[string]any, error) {
	symbols := types.NewSymbolTable()
	result, err := r.dispatcher.Call(ctx, pluginName, method, params, symbols)
	if err != nil {
		return nil, nil, err
	}
	return result, symbols.Snapshot(), nil
}
