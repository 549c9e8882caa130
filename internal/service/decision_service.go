package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ostiary-ai/ostiary/internal/domain/actionlog"
	"github.com/ostiary-ai/ostiary/internal/domain/authority"
)

// ActionRequest is one candidate automated action submitted to the
// decision pipeline.
type ActionRequest struct {
	ActionTypeName string               `json:"action_type_name"`
	TargetType     actionlog.TargetType `json:"target_type"`
	TargetID       string               `json:"target_id"`
	Description    string               `json:"description"`
	Payload        map[string]any       `json:"payload,omitempty"`
	// ConfidenceScore is 0..100, nil when the trigger had no score.
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`
	// Metadata seeds the log's side information (draft content,
	// confidence factor breakdown). TriggeredBy is always overwritten
	// with "auto" by the pipeline.
	Metadata actionlog.Metadata `json:"metadata"`
}

// ActionDecision is the pipeline's verdict on a request.
type ActionDecision struct {
	// ShouldExecute is true when the caller may invoke execution
	// immediately, without surfacing the log for human review.
	ShouldExecute bool `json:"should_execute"`
	// AuthorityLevel is the level actually applied, post-fallback.
	AuthorityLevel authority.Level `json:"authority_level"`
	// RequiresApproval is true when the log sits in the approval queue.
	RequiresApproval bool `json:"requires_approval"`
	// ActionLog is the persisted audit record. Nil for unknown or
	// disabled action types, which leave no audit noise.
	ActionLog *actionlog.ActionLog `json:"action_log,omitempty"`
	// FailedCondition names the constraint that forced a fallback.
	// Empty when conditions were met.
	FailedCondition string `json:"failed_condition,omitempty"`
	// Reason explains the decision.
	Reason string `json:"reason"`
}

// AuthorityCheck is the result of a direct authority query with a
// caller-supplied context.
type AuthorityCheck struct {
	Allowed          bool                      `json:"allowed"`
	Level            authority.Level           `json:"level"`
	IsUserOverride   bool                      `json:"is_user_override"`
	RequiresApproval bool                      `json:"requires_approval"`
	Conditions       authority.ConditionResult `json:"conditions"`
}

// DecisionService is the decision pipeline: it resolves authority,
// evaluates conditions, picks the initial lifecycle state, and persists
// the audit record.
type DecisionService struct {
	types     authority.TypeStore
	resolver  *AuthorityService
	logs      actionlog.Store
	evaluator authority.Evaluator
	logger    *slog.Logger
}

// NewDecisionService creates a DecisionService. expr may be nil when no
// custom expression support is wanted.
func NewDecisionService(types authority.TypeStore, resolver *AuthorityService, logs actionlog.Store, expr authority.ExpressionEvaluator, logger *slog.Logger) *DecisionService {
	return &DecisionService{
		types:     types,
		resolver:  resolver,
		logs:      logs,
		evaluator: authority.Evaluator{Expr: expr},
		logger:    logger,
	}
}

// ProcessActionRequest runs the full pipeline for one candidate action.
// Unknown types and disabled levels return a negative decision without
// creating a log; everything else persists an ActionLog whose status
// depends on the applied authority level.
func (s *DecisionService) ProcessActionRequest(ctx context.Context, userID string, req ActionRequest) (*ActionDecision, error) {
	actionType, err := s.types.TypeByName(ctx, req.ActionTypeName)
	if err != nil {
		return nil, fmt.Errorf("looking up action type: %w", err)
	}
	if actionType == nil {
		return &ActionDecision{
			ShouldExecute:  false,
			AuthorityLevel: authority.LevelDisabled,
			Reason:         fmt.Sprintf("Unknown action type %q", req.ActionTypeName),
		}, nil
	}

	effective, err := s.resolver.EffectiveAuthority(ctx, userID, actionType.ID)
	if err != nil {
		return nil, fmt.Errorf("resolving authority: %w", err)
	}

	if effective.Level == authority.LevelDisabled {
		// No execution, no approval path, no log: a disabled type
		// leaves no audit noise.
		return &ActionDecision{
			ShouldExecute:  false,
			AuthorityLevel: authority.LevelDisabled,
			Reason:         fmt.Sprintf("Action type %s is disabled for this user", actionType.Name),
		}, nil
	}

	// The pipeline only knows the current time; callers holding richer
	// context (sender, VIP flag, importance) use CheckAuthority directly.
	now := time.Now()
	evalCtx := &authority.Context{
		Now:         now,
		CurrentTime: now.Format("15:04"),
	}
	if req.ConfidenceScore != nil {
		score := *req.ConfidenceScore
		evalCtx.ImportanceScore = &score
	}

	applied := effective.Level
	reason := fmt.Sprintf("Authority level %s applies", applied)
	failedCondition := ""
	condResult := s.evaluator.Evaluate(effective.Conditions, evalCtx)
	if !condResult.Met {
		failedCondition = condResult.Check
		// Safety fallback: a policy violation never relaxes autonomy,
		// it only tightens it.
		applied = authority.LevelAskFirst
		reason = fmt.Sprintf("Conditions not met (%s); falling back to %s", condResult.Reason, applied)
	}

	status := actionlog.StatusPendingApproval
	shouldExecute := false
	if applied == authority.LevelFullAuto {
		// Full-auto logs are pre-approved and never enter the human
		// approval queue. The caller still must call execute.
		status = actionlog.StatusApproved
		shouldExecute = true
	}

	metadata := req.Metadata
	metadata.TriggeredBy = "auto"

	now = now.UTC()
	log := &actionlog.ActionLog{
		ID:              uuid.New().String(),
		UserID:          userID,
		ActionTypeID:    actionType.ID,
		ActionTypeName:  actionType.Name,
		AuthorityLevel:  applied,
		Status:          status,
		TargetType:      req.TargetType,
		TargetID:        req.TargetID,
		Description:     req.Description,
		Payload:         req.Payload,
		ConfidenceScore: req.ConfidenceScore,
		Metadata:        metadata,
		CreatedAt:       now,
	}
	if status == actionlog.StatusApproved {
		log.ApprovedAt = &now
	}

	if err := s.logs.Create(ctx, log); err != nil {
		return nil, fmt.Errorf("persisting action log: %w", err)
	}

	s.logger.Info("action request processed",
		"user_id", userID,
		"action_type", actionType.Name,
		"applied_level", applied,
		"status", status,
		"conditions_met", condResult.Met,
	)

	return &ActionDecision{
		ShouldExecute:    shouldExecute,
		AuthorityLevel:   applied,
		RequiresApproval: status == actionlog.StatusPendingApproval,
		ActionLog:        log,
		FailedCondition:  failedCondition,
		Reason:           reason,
	}, nil
}

// CheckAuthority resolves the effective authority for an action type name
// and evaluates its conditions against the caller-supplied context. No
// log is created; this is the query callers use when they hold richer
// context than the pipeline's default.
func (s *DecisionService) CheckAuthority(ctx context.Context, userID, actionTypeName string, evalCtx *authority.Context) (*AuthorityCheck, error) {
	actionType, err := s.types.TypeByName(ctx, actionTypeName)
	if err != nil {
		return nil, fmt.Errorf("looking up action type: %w", err)
	}
	if actionType == nil {
		return nil, fmt.Errorf("%w: %s", authority.ErrUnknownActionType, actionTypeName)
	}

	effective, err := s.resolver.EffectiveAuthority(ctx, userID, actionType.ID)
	if err != nil {
		return nil, fmt.Errorf("resolving authority: %w", err)
	}

	if evalCtx == nil {
		now := time.Now()
		evalCtx = &authority.Context{Now: now, CurrentTime: now.Format("15:04")}
	}

	check := &AuthorityCheck{
		Level:          effective.Level,
		IsUserOverride: effective.IsUserOverride,
		Conditions:     s.evaluator.Evaluate(effective.Conditions, evalCtx),
	}
	if effective.Level == authority.LevelDisabled {
		return check, nil
	}

	applied := effective.Level
	if !check.Conditions.Met {
		applied = authority.LevelAskFirst
		check.Level = applied
	}
	check.Allowed = true
	check.RequiresApproval = applied != authority.LevelFullAuto
	return check, nil
}
