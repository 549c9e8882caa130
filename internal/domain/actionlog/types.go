// Package actionlog contains domain types for the persisted action audit
// trail and its lifecycle state machine.
package actionlog

import (
	"time"

	"github.com/ostiary-ai/ostiary/internal/domain/authority"
)

// Status is the lifecycle state of a logged action.
type Status string

const (
	// StatusPendingApproval awaits a human decision.
	StatusPendingApproval Status = "pending_approval"
	// StatusApproved is cleared for execution. Full-auto actions are
	// created directly in this state and never pass through
	// pending_approval.
	StatusApproved Status = "approved"
	// StatusRejected was declined by the user. Terminal.
	StatusRejected Status = "rejected"
	// StatusExecuted completed successfully. Terminal except for reversal.
	StatusExecuted Status = "executed"
	// StatusFailed is an execution that reported an error. Terminal.
	StatusFailed Status = "failed"
	// StatusReversed is an executed action that was undone. Terminal.
	StatusReversed Status = "reversed"
)

// Terminal reports whether no further transition is possible from s,
// other than executed -> reversed.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusFailed, StatusReversed:
		return true
	}
	return false
}

// transitions is the legal state transition table. pending_approval ->
// executed is deliberately absent: execution always requires the approved
// predecessor state.
var transitions = map[Status][]Status{
	StatusPendingApproval: {StatusApproved, StatusRejected},
	StatusApproved:        {StatusExecuted, StatusFailed},
	StatusExecuted:        {StatusReversed},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TargetType identifies what kind of entity an action operates on.
type TargetType string

const (
	TargetEmail         TargetType = "email"
	TargetCalendarEvent TargetType = "calendar_event"
	TargetCommitment    TargetType = "commitment"
	TargetPerson        TargetType = "person"
)

// Feedback is the user's verdict on how the engine handled an action.
// Purely advisory: the engine never retunes authority settings from it.
type Feedback string

const (
	// FeedbackCorrect confirms the engine did the right thing.
	FeedbackCorrect Feedback = "correct"
	// FeedbackShouldAsk means the action should have required approval.
	FeedbackShouldAsk Feedback = "should_ask"
	// FeedbackShouldAuto means the approval step was unnecessary.
	FeedbackShouldAuto Feedback = "should_auto"
	// FeedbackWrong means the action itself was wrong.
	FeedbackWrong Feedback = "wrong"
)

// Valid reports whether f is a known feedback value.
func (f Feedback) Valid() bool {
	switch f {
	case FeedbackCorrect, FeedbackShouldAsk, FeedbackShouldAuto, FeedbackWrong:
		return true
	}
	return false
}

// ReversedBy identifies who initiated a reversal.
type ReversedBy string

const (
	ReversedByUser   ReversedBy = "user"
	ReversedBySystem ReversedBy = "system"
)

// Metadata is the side information attached to an action log. A closed
// set of known fields rather than a free-form map so the state machine's
// bookkeeping stays self-documenting.
type Metadata struct {
	// TriggeredBy records what initiated the action ("auto", "user", ...).
	TriggeredBy string `json:"triggered_by,omitempty"`
	// DraftContent is the generated draft shown to the user.
	DraftContent string `json:"draft_content,omitempty"`
	// EditedContent is the user-edited draft recorded at approval time.
	EditedContent string `json:"edited_content,omitempty"`
	// RejectionReason is stored when the user rejects the action.
	RejectionReason string `json:"rejection_reason,omitempty"`
	// FailureReason is the executor error captured on failure.
	FailureReason string `json:"failure_reason,omitempty"`
	// ReversedAt, ReversedBy and ReversalReason record a reversal.
	ReversedAt     *time.Time `json:"reversed_at,omitempty"`
	ReversedBy     ReversedBy `json:"reversed_by,omitempty"`
	ReversalReason string     `json:"reversal_reason,omitempty"`
	// ConfidenceFactors is the per-factor breakdown behind ConfidenceScore.
	ConfidenceFactors map[string]float64 `json:"confidence_factors,omitempty"`
}

// ActionLog is one row of the audit trail: a candidate or executed action
// and its lifecycle state. Rows are never deleted; failed and rejected
// actions stay visible forever.
type ActionLog struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	// ActionTypeID references the catalog entry; ActionTypeName is
	// denormalized for audit readability and per-type statistics.
	ActionTypeID   string `json:"action_type_id"`
	ActionTypeName string `json:"action_type_name"`
	// AuthorityLevel is the level actually applied, after any
	// condition fallback. Not necessarily the configured level.
	AuthorityLevel authority.Level `json:"authority_level"`
	Status         Status          `json:"status"`
	TargetType     TargetType      `json:"target_type"`
	TargetID       string          `json:"target_id"`
	Description    string          `json:"description"`
	// Payload holds the opaque action parameters for the executor.
	Payload map[string]any `json:"payload,omitempty"`
	// ConfidenceScore is 0..100, nil when the trigger had no score.
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`
	// UserFeedback is the advisory verdict, empty until submitted.
	UserFeedback Feedback   `json:"user_feedback,omitempty"`
	Metadata     Metadata   `json:"metadata"`
	CreatedAt    time.Time  `json:"created_at"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	RejectedAt   *time.Time `json:"rejected_at,omitempty"`
	ExecutedAt   *time.Time `json:"executed_at,omitempty"`
}
