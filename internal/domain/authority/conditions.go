package authority

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Context carries the runtime facts a conditional policy is checked against.
// Every field is optional; an absent field generally causes the matching
// constraint to be skipped rather than failed.
type Context struct {
	// Now is the wall-clock time of the request. Zero means unknown.
	Now time.Time `json:"-"`
	// CurrentTime is the local time formatted "HH:MM". Empty means unknown.
	CurrentTime string `json:"current_time,omitempty"`
	// SenderDomain is the domain of the counterparty (e.g. "acme.com").
	SenderDomain string `json:"sender_domain,omitempty"`
	// VIP indicates whether the counterparty is flagged as a VIP.
	// Nil means unknown.
	VIP *bool `json:"is_vip,omitempty"`
	// ImportanceScore is the confidence/importance of the triggering
	// signal on a 0..100 scale. Nil means unknown.
	ImportanceScore *float64 `json:"importance_score,omitempty"`
	// CustomFields holds arbitrary fields for custom rule checks.
	CustomFields map[string]any `json:"custom_fields,omitempty"`
}

// ConditionResult is the outcome of a condition evaluation.
type ConditionResult struct {
	// Met is true when every applicable constraint passed.
	Met bool `json:"met"`
	// Check names the first failing constraint (e.g. "time_window",
	// "vip_only"). Empty when Met.
	Check string `json:"check,omitempty"`
	// Reason explains the first failing constraint. Empty when Met.
	Reason string `json:"reason,omitempty"`
}

// ExpressionEvaluator evaluates a custom policy expression against a
// context. Implemented by the CEL adapter; kept as a port so the domain
// stays free of evaluator machinery.
type ExpressionEvaluator interface {
	EvaluateExpression(expression string, evalCtx *Context) (bool, error)
}

// Evaluator checks conditional policies against runtime contexts.
// The zero value evaluates all built-in constraints; Expr is only needed
// when policies carry custom expressions.
type Evaluator struct {
	// Expr evaluates Conditions.Expression. When nil, policies with an
	// expression fail closed.
	Expr ExpressionEvaluator
}

// Evaluate checks the conditions against the context. Constraints are
// checked in a fixed order and evaluation stops at the first failure so
// the reported reason is deterministic: time window, allowed domains,
// blocked domains, VIP flag, confidence floor, custom rules, expression.
// No conditions or no context means the policy is satisfied: conditions
// are opt-in policy, not default-deny.
func (e Evaluator) Evaluate(conds *Conditions, evalCtx *Context) ConditionResult {
	if conds.Empty() || evalCtx == nil {
		return ConditionResult{Met: true}
	}

	if r := checkTimeWindow(conds.TimeWindow, evalCtx); !r.Met {
		return r
	}
	if r := checkAllowedDomains(conds.AllowedDomains, evalCtx.SenderDomain); !r.Met {
		return r
	}
	if r := checkBlockedDomains(conds.BlockedDomains, evalCtx.SenderDomain); !r.Met {
		return r
	}
	if conds.VIPOnly && (evalCtx.VIP == nil || !*evalCtx.VIP) {
		return ConditionResult{Met: false, Check: "vip_only", Reason: "sender is not a VIP"}
	}
	if r := checkMinConfidence(conds.MinConfidence, evalCtx.ImportanceScore); !r.Met {
		return r
	}
	for _, rule := range conds.CustomRules {
		if r := checkCustomRule(rule, evalCtx.CustomFields); !r.Met {
			return r
		}
	}
	if conds.Expression != "" {
		return e.checkExpression(conds.Expression, evalCtx)
	}
	return ConditionResult{Met: true}
}

// localClock returns the "HH:MM" clock reading for the window's timezone.
// Falls back to the pre-formatted CurrentTime when Now is unset or the
// timezone cannot be loaded.
func localClock(tw *TimeWindow, evalCtx *Context) string {
	if tw.Timezone != "" && !evalCtx.Now.IsZero() {
		if loc, err := time.LoadLocation(tw.Timezone); err == nil {
			return evalCtx.Now.In(loc).Format("15:04")
		}
	}
	return evalCtx.CurrentTime
}

func checkTimeWindow(tw *TimeWindow, evalCtx *Context) ConditionResult {
	if tw == nil {
		return ConditionResult{Met: true}
	}
	clock := localClock(tw, evalCtx)
	if clock == "" {
		// Unknown current time: constraint is skipped.
		return ConditionResult{Met: true}
	}
	if clock < tw.Start || clock > tw.End {
		return ConditionResult{
			Met:    false,
			Check:  "time_window",
			Reason: fmt.Sprintf("current time %s is outside window %s-%s", clock, tw.Start, tw.End),
		}
	}
	return ConditionResult{Met: true}
}

func checkAllowedDomains(allowed []string, senderDomain string) ConditionResult {
	if len(allowed) == 0 || senderDomain == "" {
		return ConditionResult{Met: true}
	}
	sender := strings.ToLower(senderDomain)
	for _, d := range allowed {
		if strings.Contains(sender, strings.ToLower(d)) {
			return ConditionResult{Met: true}
		}
	}
	return ConditionResult{
		Met:    false,
		Check:  "allowed_domains",
		Reason: fmt.Sprintf("sender domain %s is not in the allowed list", senderDomain),
	}
}

func checkBlockedDomains(blocked []string, senderDomain string) ConditionResult {
	if len(blocked) == 0 || senderDomain == "" {
		return ConditionResult{Met: true}
	}
	sender := strings.ToLower(senderDomain)
	for _, d := range blocked {
		if d != "" && strings.Contains(sender, strings.ToLower(d)) {
			return ConditionResult{
				Met:    false,
				Check:  "blocked_domains",
				Reason: fmt.Sprintf("sender domain %s is blocked (%s)", senderDomain, d),
			}
		}
	}
	return ConditionResult{Met: true}
}

func checkMinConfidence(min *float64, importance *float64) ConditionResult {
	if min == nil || importance == nil {
		// A floor with no score to compare against is skipped, not failed.
		return ConditionResult{Met: true}
	}
	floor := *min * 100
	if *importance < floor {
		return ConditionResult{
			Met:    false,
			Check:  "min_confidence",
			Reason: fmt.Sprintf("importance %.0f is below the required %.0f", *importance, floor),
		}
	}
	return ConditionResult{Met: true}
}

func checkCustomRule(rule CustomRule, fields map[string]any) ConditionResult {
	value, ok := fields[rule.Field]
	if !ok {
		// A rule whose field is absent from the context is skipped.
		return ConditionResult{Met: true}
	}

	pass := false
	switch rule.Operator {
	case OpEquals:
		pass = stringify(value) == stringify(rule.Value)
	case OpContains:
		pass = strings.Contains(stringify(value), stringify(rule.Value))
	case OpMatches:
		re, err := regexp.Compile(stringify(rule.Value))
		if err != nil {
			return ConditionResult{
				Met:    false,
				Check:  "custom_rules",
				Reason: fmt.Sprintf("custom rule on %q has an invalid pattern: %v", rule.Field, err),
			}
		}
		pass = re.MatchString(stringify(value))
	case OpGreater:
		a, aok := toFloat(value)
		b, bok := toFloat(rule.Value)
		pass = aok && bok && a > b
	case OpLess:
		a, aok := toFloat(value)
		b, bok := toFloat(rule.Value)
		pass = aok && bok && a < b
	default:
		return ConditionResult{
			Met:    false,
			Check:  "custom_rules",
			Reason: fmt.Sprintf("custom rule on %q uses unknown operator %q", rule.Field, rule.Operator),
		}
	}

	if !pass {
		return ConditionResult{
			Met:    false,
			Check:  "custom_rules",
			Reason: fmt.Sprintf("custom rule failed: %s %s %v", rule.Field, rule.Operator, rule.Value),
		}
	}
	return ConditionResult{Met: true}
}

func (e Evaluator) checkExpression(expression string, evalCtx *Context) ConditionResult {
	if e.Expr == nil {
		return ConditionResult{Met: false, Check: "expression", Reason: "policy expression present but no evaluator is configured"}
	}
	ok, err := e.Expr.EvaluateExpression(expression, evalCtx)
	if err != nil {
		return ConditionResult{Met: false, Check: "expression", Reason: fmt.Sprintf("policy expression error: %v", err)}
	}
	if !ok {
		return ConditionResult{Met: false, Check: "expression", Reason: "policy expression evaluated to false"}
	}
	return ConditionResult{Met: true}
}

// stringify renders a rule or context value for string comparison.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// toFloat coerces numbers and numeric strings to float64.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
