// Package authority contains domain types for action authority resolution:
// the catalog of automatable action types, per-user authority settings, and
// the conditional policies attached to them.
package authority

import "time"

// Level is the autonomy granted for an action type.
type Level string

const (
	// LevelFullAuto executes without human review.
	LevelFullAuto Level = "full_auto"
	// LevelDraftApprove prepares the action; a human confirms before execution.
	LevelDraftApprove Level = "draft_approve"
	// LevelAskFirst asks the user before preparing anything.
	LevelAskFirst Level = "ask_first"
	// LevelDisabled never performs the action.
	LevelDisabled Level = "disabled"
)

// Valid reports whether l is a known authority level.
func (l Level) Valid() bool {
	switch l {
	case LevelFullAuto, LevelDraftApprove, LevelAskFirst, LevelDisabled:
		return true
	}
	return false
}

// RiskLevel classifies how much damage a mis-fired action can do.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Category groups action types by the surface they act on.
type Category string

const (
	CategoryCalendar     Category = "calendar"
	CategoryEmail        Category = "email"
	CategoryTask         Category = "task"
	CategoryNotification Category = "notification"
)

// ActionType is an immutable catalog entry describing one kind of
// automatable action. Seeded once at bootstrap, never mutated, never
// deleted while referenced by an action log.
type ActionType struct {
	// ID is the unique identifier for this type.
	ID string `json:"id"`
	// Name is the unique key used by callers (e.g. "send_email_reply").
	Name string `json:"name"`
	// Category groups the type by surface (calendar, email, task, notification).
	Category Category `json:"category"`
	// RiskLevel is the intrinsic risk of performing this action.
	RiskLevel RiskLevel `json:"risk_level"`
	// DefaultAuthorityLevel applies when the user has no override.
	DefaultAuthorityLevel Level `json:"default_authority_level"`
	// Reversible indicates whether an executed action can be undone.
	Reversible bool `json:"reversible"`
	// CreatedAt is when the type was seeded (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// Setting is a per-(user, action type) authority override.
// At most one setting exists per pair; absence means "use the type default".
type Setting struct {
	// ID is the unique identifier for this setting.
	ID string `json:"id"`
	// UserID owns the setting. No cross-user visibility.
	UserID string `json:"user_id"`
	// ActionTypeID references the overridden ActionType.
	ActionTypeID string `json:"action_type_id"`
	// AuthorityLevel is the level granted by the user.
	AuthorityLevel Level `json:"authority_level"`
	// Conditions optionally constrain when AuthorityLevel applies as-is.
	Conditions *Conditions `json:"conditions,omitempty"`
	// CreatedAt is when the setting was first created (UTC).
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the setting was last modified (UTC).
	UpdatedAt time.Time `json:"updated_at"`
}

// TimeWindow restricts a policy to a daily time range. Start and End are
// "HH:MM" strings compared lexicographically.
type TimeWindow struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone,omitempty"`
}

// RuleOperator is the comparison applied by a custom field rule.
type RuleOperator string

const (
	OpEquals   RuleOperator = "equals"
	OpContains RuleOperator = "contains"
	OpMatches  RuleOperator = "matches"
	OpGreater  RuleOperator = "gt"
	OpLess     RuleOperator = "lt"
)

// CustomRule checks one context field against a value.
type CustomRule struct {
	Field    string       `json:"field"`
	Operator RuleOperator `json:"operator"`
	Value    any          `json:"value"`
}

// Conditions is the optional policy payload attached to a Setting.
// Every field is optional; an absent field imposes no constraint from
// that dimension.
type Conditions struct {
	// TimeWindow restricts the policy to a daily time range.
	TimeWindow *TimeWindow `json:"time_window,omitempty"`
	// AllowedDomains requires the sender domain to match at least one entry.
	AllowedDomains []string `json:"allowed_domains,omitempty"`
	// BlockedDomains rejects any matching sender domain.
	BlockedDomains []string `json:"blocked_domains,omitempty"`
	// VIPOnly requires the counterparty to be flagged as a VIP.
	VIPOnly bool `json:"vip_only,omitempty"`
	// MinConfidence is the minimum confidence (0..1) required of the
	// triggering signal. Nil means no floor.
	MinConfidence *float64 `json:"min_confidence,omitempty"`
	// CustomRules are additional per-field checks.
	CustomRules []CustomRule `json:"custom_rules,omitempty"`
	// Expression is an optional CEL expression evaluated against the
	// context after all built-in checks. Empty means no expression.
	Expression string `json:"expression,omitempty"`
}

// Empty reports whether the conditions impose no constraint at all.
func (c *Conditions) Empty() bool {
	if c == nil {
		return true
	}
	return c.TimeWindow == nil &&
		len(c.AllowedDomains) == 0 &&
		len(c.BlockedDomains) == 0 &&
		!c.VIPOnly &&
		c.MinConfidence == nil &&
		len(c.CustomRules) == 0 &&
		c.Expression == ""
}

// Effective is the resolved authority for a (user, action type) pair.
type Effective struct {
	// Level is the authority level that applies.
	Level Level `json:"level"`
	// IsUserOverride is true when Level comes from a user setting rather
	// than the type default.
	IsUserOverride bool `json:"is_user_override"`
	// Conditions is the policy attached to the user setting, nil when the
	// type default applies.
	Conditions *Conditions `json:"conditions,omitempty"`
}
