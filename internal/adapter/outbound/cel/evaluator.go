// Package cel provides a CEL-based evaluator for custom policy
// expressions attached to authority conditions.
package cel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"

	"github.com/ostiary-ai/ostiary/internal/domain/authority"
)

// maxExpressionLength is the maximum allowed length for CEL expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit to prevent cost-exhaustion.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout is the maximum time allowed for a single CEL evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context
// cancellation is checked.
const interruptCheckFreq = 100

// maxCachedPrograms bounds the compiled-program cache.
const maxCachedPrograms = 256

// Evaluator compiles and evaluates CEL expressions against authority
// contexts. Compiled programs are cached by expression hash since the
// same policy is evaluated for every matching request.
type Evaluator struct {
	env *cel.Env

	mu    sync.Mutex
	cache map[uint64]cel.Program
}

// NewEvaluator creates an evaluator whose environment exposes the
// authority context: sender_domain, is_vip, importance, current_time and
// the free-form fields map.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("sender_domain", cel.StringType),
		cel.Variable("is_vip", cel.BoolType),
		cel.Variable("importance", cel.DoubleType),
		cel.Variable("current_time", cel.StringType),
		cel.Variable("fields", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy environment: %w", err)
	}
	return &Evaluator{
		env:   env,
		cache: make(map[uint64]cel.Program),
	}, nil
}

// Compile parses and type-checks a CEL expression, returning a compiled
// program with runtime safety limits applied.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}
	return prg, nil
}

// ValidateExpression checks that an expression is syntactically valid and
// within the safety limits (length, nesting depth). Called when a setting
// carrying an expression is saved, so bad policies are rejected up front.
func (e *Evaluator) ValidateExpression(expr string) error {
	if expr == "" {
		return errors.New("expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return err
	}
	if _, err := e.program(expr); err != nil {
		return fmt.Errorf("invalid expression: %w", err)
	}
	return nil
}

// validateNesting checks that the expression does not exceed the maximum
// allowed nesting depth for parentheses, brackets, and braces.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// program returns the compiled program for an expression, compiling and
// caching on first use.
func (e *Evaluator) program(expression string) (cel.Program, error) {
	key := xxhash.Sum64String(expression)

	e.mu.Lock()
	prg, ok := e.cache[key]
	e.mu.Unlock()
	if ok {
		return prg, nil
	}

	prg, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if len(e.cache) >= maxCachedPrograms {
		// Full reset is cheaper than LRU bookkeeping at this size.
		e.cache = make(map[uint64]cel.Program)
	}
	e.cache[key] = prg
	e.mu.Unlock()
	return prg, nil
}

// EvaluateExpression runs the expression against the context. Returns the
// boolean result, or an error when the expression is invalid, times out,
// or does not produce a boolean.
func (e *Evaluator) EvaluateExpression(expression string, evalCtx *authority.Context) (bool, error) {
	if len(expression) > maxExpressionLength {
		return false, fmt.Errorf("expression too long: %d characters (max %d)", len(expression), maxExpressionLength)
	}
	if err := validateNesting(expression); err != nil {
		return false, err
	}

	prg, err := e.program(expression)
	if err != nil {
		return false, err
	}

	activation := buildActivation(evalCtx)

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}

	b, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not evaluate to a boolean, got %T", result.Value())
	}
	return b, nil
}

// buildActivation maps the authority context onto CEL variables. Absent
// optional fields get zero values so expressions never see missing
// variables.
func buildActivation(evalCtx *authority.Context) map[string]any {
	activation := map[string]any{
		"sender_domain": "",
		"is_vip":        false,
		"importance":    float64(0),
		"current_time":  "",
		"fields":        map[string]any{},
	}
	if evalCtx == nil {
		return activation
	}
	activation["sender_domain"] = evalCtx.SenderDomain
	activation["current_time"] = evalCtx.CurrentTime
	if evalCtx.VIP != nil {
		activation["is_vip"] = *evalCtx.VIP
	}
	if evalCtx.ImportanceScore != nil {
		activation["importance"] = *evalCtx.ImportanceScore
	}
	if evalCtx.CustomFields != nil {
		activation["fields"] = evalCtx.CustomFields
	}
	return activation
}

// Compile-time check that Evaluator implements the domain port.
var _ authority.ExpressionEvaluator = (*Evaluator)(nil)
