package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ostiary-ai/ostiary/internal/domain/actionlog"
	"github.com/ostiary-ai/ostiary/internal/domain/authority"
)

// Executor performs the side effect of an approved action. The engine
// never knows how an email is sent or an event created, only whether the
// executor succeeded. Timeout and cancellation of the underlying side
// effect are the executor's own responsibility.
type Executor func(ctx context.Context, log *actionlog.ActionLog) error

// ExecuteResult reports the outcome of an execution attempt.
type ExecuteResult struct {
	Success   bool                 `json:"success"`
	ActionLog *actionlog.ActionLog `json:"action_log"`
	Error     string               `json:"error,omitempty"`
}

// BatchResult reports how many items of a batch actually succeeded.
type BatchResult struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// LifecycleService owns the action log state machine: approval,
// rejection, execution, reversal, and feedback capture.
type LifecycleService struct {
	logs   actionlog.Store
	types  authority.TypeStore
	logger *slog.Logger
}

// NewLifecycleService creates a LifecycleService.
func NewLifecycleService(logs actionlog.Store, types authority.TypeStore, logger *slog.Logger) *LifecycleService {
	return &LifecycleService{logs: logs, types: types, logger: logger}
}

// Approve moves a pending action to approved. editedContent, when
// non-empty, records the user's edits to the draft. Approving a
// non-pending log is an error, never a silent success.
func (s *LifecycleService) Approve(ctx context.Context, id, editedContent string) (*actionlog.ActionLog, error) {
	log, err := s.logs.Transition(ctx, id,
		[]actionlog.Status{actionlog.StatusPendingApproval},
		func(l *actionlog.ActionLog) {
			now := time.Now().UTC()
			l.Status = actionlog.StatusApproved
			l.ApprovedAt = &now
			if editedContent != "" {
				l.Metadata.EditedContent = editedContent
			}
		})
	if err != nil {
		return nil, err
	}

	s.logger.Info("action approved", "action_id", id, "edited", editedContent != "")
	return log, nil
}

// Reject moves a pending action to rejected, storing the reason.
func (s *LifecycleService) Reject(ctx context.Context, id, reason string) (*actionlog.ActionLog, error) {
	log, err := s.logs.Transition(ctx, id,
		[]actionlog.Status{actionlog.StatusPendingApproval},
		func(l *actionlog.ActionLog) {
			now := time.Now().UTC()
			l.Status = actionlog.StatusRejected
			l.RejectedAt = &now
			if reason != "" {
				l.Metadata.RejectionReason = reason
			}
		})
	if err != nil {
		return nil, err
	}

	s.logger.Info("action rejected", "action_id", id, "reason", reason)
	return log, nil
}

// executableStatuses are the states Execute accepts. pending_approval is
// tolerated defensively for callers that skipped the approval step, but
// the formal transition table only legalizes approved -> executed.
var executableStatuses = []actionlog.Status{
	actionlog.StatusApproved,
	actionlog.StatusPendingApproval,
}

// Execute invokes the caller-supplied executor exactly once and records
// the outcome. Success transitions the log to executed; an executor error
// transitions it to failed with the message preserved. Failures are never
// retried here; retry policy belongs to the caller.
func (s *LifecycleService) Execute(ctx context.Context, id string, exec Executor) (*ExecuteResult, error) {
	log, err := s.logs.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !statusIn(log.Status, executableStatuses) {
		return nil, fmt.Errorf("action %s is %s, not executable: %w",
			id, log.Status, actionlog.ErrInvalidTransition)
	}
	sourceStatus := log.Status

	execErr := runExecutor(ctx, exec, log)

	if execErr != nil {
		failed, terr := s.logs.Transition(ctx, id,
			[]actionlog.Status{sourceStatus},
			func(l *actionlog.ActionLog) {
				l.Status = actionlog.StatusFailed
				l.Metadata.FailureReason = execErr.Error()
			})
		if terr != nil {
			return nil, fmt.Errorf("recording execution failure: %w", terr)
		}

		s.logger.Error("action execution failed", "action_id", id, "error", execErr)
		return &ExecuteResult{
			Success:   false,
			ActionLog: failed,
			Error:     execErr.Error(),
		}, fmt.Errorf("%w: %s", actionlog.ErrExecutionFailed, execErr)
	}

	executed, err := s.logs.Transition(ctx, id,
		[]actionlog.Status{sourceStatus},
		func(l *actionlog.ActionLog) {
			now := time.Now().UTC()
			l.Status = actionlog.StatusExecuted
			l.ExecutedAt = &now
		})
	if err != nil {
		return nil, fmt.Errorf("recording execution: %w", err)
	}

	s.logger.Info("action executed", "action_id", id, "action_type", executed.ActionTypeName)
	return &ExecuteResult{Success: true, ActionLog: executed}, nil
}

// runExecutor isolates executor panics into ordinary errors so a
// misbehaving side effect still lands the log in failed.
func runExecutor(ctx context.Context, exec Executor, log *actionlog.ActionLog) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panicked: %v", r)
		}
	}()
	return exec(ctx, log)
}

// Reverse undoes an executed action. Legal only from executed, and only
// for action types marked reversible.
func (s *LifecycleService) Reverse(ctx context.Context, id string, by actionlog.ReversedBy, reason string) (*actionlog.ActionLog, error) {
	log, err := s.logs.ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	actionType, err := s.types.TypeByID(ctx, log.ActionTypeID)
	if err != nil {
		return nil, fmt.Errorf("loading action type: %w", err)
	}
	if actionType == nil {
		return nil, fmt.Errorf("%w: id %s", authority.ErrUnknownActionType, log.ActionTypeID)
	}
	if !actionType.Reversible {
		return nil, fmt.Errorf("%s cannot be reversed: %w", actionType.Name, actionlog.ErrIrreversible)
	}

	reversed, err := s.logs.Transition(ctx, id,
		[]actionlog.Status{actionlog.StatusExecuted},
		func(l *actionlog.ActionLog) {
			now := time.Now().UTC()
			l.Status = actionlog.StatusReversed
			l.Metadata.ReversedAt = &now
			l.Metadata.ReversedBy = by
			l.Metadata.ReversalReason = reason
		})
	if err != nil {
		return nil, err
	}

	s.logger.Info("action reversed", "action_id", id, "by", by, "reason", reason)
	return reversed, nil
}

// AddFeedback attaches the user's verdict to a log in any state. Purely
// advisory: the engine never retunes authority settings from feedback.
func (s *LifecycleService) AddFeedback(ctx context.Context, id string, feedback actionlog.Feedback) (*actionlog.ActionLog, error) {
	if !feedback.Valid() {
		return nil, fmt.Errorf("invalid feedback %q", feedback)
	}
	return s.logs.Transition(ctx, id, nil, func(l *actionlog.ActionLog) {
		l.UserFeedback = feedback
	})
}

// BatchApprove approves each id independently. One id's failure (already
// terminal, missing) never aborts the rest; the result counts what
// actually succeeded.
func (s *LifecycleService) BatchApprove(ctx context.Context, ids []string) (*BatchResult, error) {
	result := &BatchResult{}
	for _, id := range ids {
		if _, err := s.Approve(ctx, id, ""); err != nil {
			result.Failed++
			s.logger.Warn("batch approve item failed", "action_id", id, "error", err)
			continue
		}
		result.Succeeded++
	}
	return result, nil
}

// BatchReject rejects each id independently with the shared reason.
func (s *LifecycleService) BatchReject(ctx context.Context, ids []string, reason string) (*BatchResult, error) {
	result := &BatchResult{}
	for _, id := range ids {
		if _, err := s.Reject(ctx, id, reason); err != nil {
			result.Failed++
			s.logger.Warn("batch reject item failed", "action_id", id, "error", err)
			continue
		}
		result.Succeeded++
	}
	return result, nil
}

// PendingApprovals returns the user's approval backlog, oldest first.
func (s *LifecycleService) PendingApprovals(ctx context.Context, userID string, limit int) ([]actionlog.ActionLog, error) {
	return s.logs.List(ctx, actionlog.Filter{
		UserID:   userID,
		Statuses: []actionlog.Status{actionlog.StatusPendingApproval},
		Limit:    limit,
	})
}

// PendingCount returns the size of the user's approval backlog.
func (s *LifecycleService) PendingCount(ctx context.Context, userID string) (int, error) {
	return s.logs.Count(ctx, actionlog.Filter{
		UserID:   userID,
		Statuses: []actionlog.Status{actionlog.StatusPendingApproval},
	})
}

// Stats aggregates the user's action history. A zero since means all time.
func (s *LifecycleService) Stats(ctx context.Context, userID string, since time.Time) (*actionlog.Stats, error) {
	return s.logs.Stats(ctx, userID, since)
}

// Get returns a log by ID.
func (s *LifecycleService) Get(ctx context.Context, id string) (*actionlog.ActionLog, error) {
	return s.logs.ByID(ctx, id)
}

func statusIn(s actionlog.Status, set []actionlog.Status) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

// ErrNoExecutor is returned by ExecutorRegistry.For when no executor is
// registered for the action type.
var ErrNoExecutor = errors.New("no executor registered for action type")

// ExecutorRegistry maps action type names to executors so transports can
// trigger execution without knowing side-effect mechanics.
type ExecutorRegistry struct {
	executors map[string]Executor
}

// NewExecutorRegistry creates an empty registry.
func NewExecutorRegistry() *ExecutorRegistry {
	return &ExecutorRegistry{executors: make(map[string]Executor)}
}

// Register binds an executor to an action type name. Registration happens
// at boot, before any requests; the registry is read-only afterwards.
func (r *ExecutorRegistry) Register(actionTypeName string, exec Executor) {
	r.executors[actionTypeName] = exec
}

// For returns the executor for an action type name.
func (r *ExecutorRegistry) For(actionTypeName string) (Executor, error) {
	exec, ok := r.executors[actionTypeName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoExecutor, actionTypeName)
	}
	return exec, nil
}
