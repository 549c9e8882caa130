package authority

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

// stubExpr is a canned ExpressionEvaluator for testing.
type stubExpr struct {
	result bool
	err    error
}

func (s stubExpr) EvaluateExpression(expression string, evalCtx *Context) (bool, error) {
	return s.result, s.err
}

func boolPtr(b bool) *bool       { return &b }
func floatPtr(f float64) *float64 { return &f }

func TestEvaluateEmptyConditions(t *testing.T) {
	var e Evaluator

	tests := []struct {
		name    string
		conds   *Conditions
		evalCtx *Context
	}{
		{name: "nil conditions", conds: nil, evalCtx: &Context{}},
		{name: "zero conditions", conds: &Conditions{}, evalCtx: &Context{}},
		{name: "nil context", conds: &Conditions{VIPOnly: true}, evalCtx: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := e.Evaluate(tt.conds, tt.evalCtx)
			if !r.Met {
				t.Errorf("Evaluate() = %+v, want met", r)
			}
		})
	}
}

func TestEvaluateTimeWindow(t *testing.T) {
	var e Evaluator

	tests := []struct {
		name    string
		window  TimeWindow
		evalCtx Context
		wantMet bool
	}{
		{
			name:    "inside window",
			window:  TimeWindow{Start: "09:00", End: "17:00"},
			evalCtx: Context{CurrentTime: "10:30"},
			wantMet: true,
		},
		{
			name:    "before window",
			window:  TimeWindow{Start: "09:00", End: "17:00"},
			evalCtx: Context{CurrentTime: "08:59"},
			wantMet: false,
		},
		{
			name:    "after window",
			window:  TimeWindow{Start: "09:00", End: "17:00"},
			evalCtx: Context{CurrentTime: "17:01"},
			wantMet: false,
		},
		{
			name:    "boundary start",
			window:  TimeWindow{Start: "09:00", End: "17:00"},
			evalCtx: Context{CurrentTime: "09:00"},
			wantMet: true,
		},
		{
			name:    "boundary end",
			window:  TimeWindow{Start: "09:00", End: "17:00"},
			evalCtx: Context{CurrentTime: "17:00"},
			wantMet: true,
		},
		{
			name:    "unknown current time skips the check",
			window:  TimeWindow{Start: "09:00", End: "17:00"},
			evalCtx: Context{},
			wantMet: true,
		},
		{
			name:   "timezone converts the wall clock",
			window: TimeWindow{Start: "09:00", End: "17:00", Timezone: "UTC"},
			evalCtx: Context{
				// 12:00 UTC regardless of what CurrentTime claims.
				Now:         time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
				CurrentTime: "03:00",
			},
			wantMet: true,
		},
		{
			name:   "bad timezone falls back to current time",
			window: TimeWindow{Start: "09:00", End: "17:00", Timezone: "Not/AZone"},
			evalCtx: Context{
				Now:         time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
				CurrentTime: "03:00",
			},
			wantMet: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conds := &Conditions{TimeWindow: &tt.window}
			r := e.Evaluate(conds, &tt.evalCtx)
			if r.Met != tt.wantMet {
				t.Errorf("Evaluate() met = %v (reason %q), want %v", r.Met, r.Reason, tt.wantMet)
			}
		})
	}
}

func TestEvaluateDomains(t *testing.T) {
	var e Evaluator

	tests := []struct {
		name    string
		conds   Conditions
		sender  string
		wantMet bool
	}{
		{
			name:    "allowed domain matches",
			conds:   Conditions{AllowedDomains: []string{"acme.com"}},
			sender:  "mail.acme.com",
			wantMet: true,
		},
		{
			name:    "allowed domain match is case-insensitive",
			conds:   Conditions{AllowedDomains: []string{"ACME.com"}},
			sender:  "Mail.Acme.Com",
			wantMet: true,
		},
		{
			name:    "allowed domain does not match",
			conds:   Conditions{AllowedDomains: []string{"acme.com"}},
			sender:  "other.org",
			wantMet: false,
		},
		{
			name:    "unknown sender skips the allow list",
			conds:   Conditions{AllowedDomains: []string{"acme.com"}},
			sender:  "",
			wantMet: true,
		},
		{
			name:    "blocked domain matches",
			conds:   Conditions{BlockedDomains: []string{"spam.example"}},
			sender:  "mail.spam.example",
			wantMet: false,
		},
		{
			name:    "blocked domain does not match",
			conds:   Conditions{BlockedDomains: []string{"spam.example"}},
			sender:  "acme.com",
			wantMet: true,
		},
		{
			name:    "unknown sender skips the block list",
			conds:   Conditions{BlockedDomains: []string{"spam.example"}},
			sender:  "",
			wantMet: true,
		},
		{
			name: "block list wins after allow list passes",
			conds: Conditions{
				AllowedDomains: []string{"acme.com"},
				BlockedDomains: []string{"evil.acme.com"},
			},
			sender:  "evil.acme.com",
			wantMet: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := e.Evaluate(&tt.conds, &Context{SenderDomain: tt.sender})
			if r.Met != tt.wantMet {
				t.Errorf("Evaluate() met = %v (reason %q), want %v", r.Met, r.Reason, tt.wantMet)
			}
		})
	}
}

func TestEvaluateVIPOnly(t *testing.T) {
	var e Evaluator
	conds := &Conditions{VIPOnly: true}

	tests := []struct {
		name    string
		vip     *bool
		wantMet bool
	}{
		{name: "vip", vip: boolPtr(true), wantMet: true},
		{name: "not vip", vip: boolPtr(false), wantMet: false},
		{name: "unknown vip status fails", vip: nil, wantMet: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := e.Evaluate(conds, &Context{VIP: tt.vip})
			if r.Met != tt.wantMet {
				t.Errorf("Evaluate() met = %v, want %v", r.Met, tt.wantMet)
			}
		})
	}
}

func TestEvaluateMinConfidence(t *testing.T) {
	var e Evaluator

	tests := []struct {
		name       string
		min        *float64
		importance *float64
		wantMet    bool
	}{
		{name: "above floor", min: floatPtr(0.8), importance: floatPtr(90), wantMet: true},
		{name: "at floor", min: floatPtr(0.8), importance: floatPtr(80), wantMet: true},
		{name: "below floor", min: floatPtr(0.8), importance: floatPtr(79), wantMet: false},
		{name: "no importance skips the floor", min: floatPtr(0.8), importance: nil, wantMet: true},
		{name: "no floor", min: nil, importance: floatPtr(1), wantMet: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conds := &Conditions{MinConfidence: tt.min}
			r := e.Evaluate(conds, &Context{ImportanceScore: tt.importance})
			if r.Met != tt.wantMet {
				t.Errorf("Evaluate() met = %v (reason %q), want %v", r.Met, r.Reason, tt.wantMet)
			}
		})
	}
}

func TestEvaluateCustomRules(t *testing.T) {
	var e Evaluator

	tests := []struct {
		name    string
		rule    CustomRule
		fields  map[string]any
		wantMet bool
	}{
		{
			name:    "equals pass",
			rule:    CustomRule{Field: "label", Operator: OpEquals, Value: "urgent"},
			fields:  map[string]any{"label": "urgent"},
			wantMet: true,
		},
		{
			name:    "equals fail",
			rule:    CustomRule{Field: "label", Operator: OpEquals, Value: "urgent"},
			fields:  map[string]any{"label": "routine"},
			wantMet: false,
		},
		{
			name:    "equals coerces numbers to strings",
			rule:    CustomRule{Field: "count", Operator: OpEquals, Value: 3},
			fields:  map[string]any{"count": 3},
			wantMet: true,
		},
		{
			name:    "contains pass",
			rule:    CustomRule{Field: "subject", Operator: OpContains, Value: "invoice"},
			fields:  map[string]any{"subject": "Re: invoice #42"},
			wantMet: true,
		},
		{
			name:    "matches pass",
			rule:    CustomRule{Field: "subject", Operator: OpMatches, Value: `^Re:`},
			fields:  map[string]any{"subject": "Re: hello"},
			wantMet: true,
		},
		{
			name:    "matches with invalid pattern fails",
			rule:    CustomRule{Field: "subject", Operator: OpMatches, Value: `([`},
			fields:  map[string]any{"subject": "anything"},
			wantMet: false,
		},
		{
			name:    "gt pass",
			rule:    CustomRule{Field: "attachments", Operator: OpGreater, Value: 2},
			fields:  map[string]any{"attachments": 3},
			wantMet: true,
		},
		{
			name:    "lt fail",
			rule:    CustomRule{Field: "attachments", Operator: OpLess, Value: 2},
			fields:  map[string]any{"attachments": 3},
			wantMet: false,
		},
		{
			name:    "numeric comparison on non-numbers fails",
			rule:    CustomRule{Field: "attachments", Operator: OpGreater, Value: 2},
			fields:  map[string]any{"attachments": "lots"},
			wantMet: false,
		},
		{
			name:    "absent field skips the rule",
			rule:    CustomRule{Field: "missing", Operator: OpEquals, Value: "x"},
			fields:  map[string]any{"label": "urgent"},
			wantMet: true,
		},
		{
			name:    "unknown operator fails",
			rule:    CustomRule{Field: "label", Operator: "between", Value: "x"},
			fields:  map[string]any{"label": "urgent"},
			wantMet: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conds := &Conditions{CustomRules: []CustomRule{tt.rule}}
			r := e.Evaluate(conds, &Context{CustomFields: tt.fields})
			if r.Met != tt.wantMet {
				t.Errorf("Evaluate() met = %v (reason %q), want %v", r.Met, r.Reason, tt.wantMet)
			}
		})
	}
}

func TestEvaluateExpression(t *testing.T) {
	conds := &Conditions{Expression: "is_vip"}
	evalCtx := &Context{VIP: boolPtr(true)}

	t.Run("no evaluator fails closed", func(t *testing.T) {
		var e Evaluator
		r := e.Evaluate(conds, evalCtx)
		if r.Met {
			t.Fatal("Evaluate() met with no expression evaluator, want fail closed")
		}
	})

	t.Run("expression true", func(t *testing.T) {
		e := Evaluator{Expr: stubExpr{result: true}}
		if r := e.Evaluate(conds, evalCtx); !r.Met {
			t.Errorf("Evaluate() = %+v, want met", r)
		}
	})

	t.Run("expression false", func(t *testing.T) {
		e := Evaluator{Expr: stubExpr{result: false}}
		if r := e.Evaluate(conds, evalCtx); r.Met {
			t.Error("Evaluate() met, want not met")
		}
	})

	t.Run("expression error fails closed", func(t *testing.T) {
		e := Evaluator{Expr: stubExpr{err: errBoom}}
		r := e.Evaluate(conds, evalCtx)
		if r.Met {
			t.Fatal("Evaluate() met despite expression error")
		}
		if !strings.Contains(r.Reason, "boom") {
			t.Errorf("Reason = %q, want the underlying error mentioned", r.Reason)
		}
	})
}

// TestEvaluateOrder checks that the first failing constraint in the fixed
// order supplies the reason, so callers see deterministic explanations.
func TestEvaluateOrder(t *testing.T) {
	var e Evaluator
	conds := &Conditions{
		TimeWindow:     &TimeWindow{Start: "09:00", End: "17:00"},
		AllowedDomains: []string{"acme.com"},
		VIPOnly:        true,
	}
	evalCtx := &Context{
		CurrentTime:  "22:00",
		SenderDomain: "other.org",
		VIP:          boolPtr(false),
	}

	r := e.Evaluate(conds, evalCtx)
	if r.Met {
		t.Fatal("Evaluate() met, want not met")
	}
	if !strings.Contains(r.Reason, "outside window") {
		t.Errorf("Reason = %q, want the time window failure reported first", r.Reason)
	}
}

func TestConditionsEmpty(t *testing.T) {
	tests := []struct {
		name  string
		conds *Conditions
		want  bool
	}{
		{name: "nil", conds: nil, want: true},
		{name: "zero value", conds: &Conditions{}, want: true},
		{name: "vip only", conds: &Conditions{VIPOnly: true}, want: false},
		{name: "expression", conds: &Conditions{Expression: "true"}, want: false},
		{name: "min confidence", conds: &Conditions{MinConfidence: floatPtr(0.5)}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.conds.Empty(); got != tt.want {
				t.Errorf("Empty() = %v, want %v", got, tt.want)
			}
		})
	}
}
