package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ostiary-ai/ostiary/internal/domain/authority"
)

// ExpressionValidator checks a custom policy expression before it is
// persisted. Implemented by the CEL adapter.
type ExpressionValidator interface {
	ValidateExpression(expr string) error
}

// AuthorityService resolves effective authority levels and manages
// per-user authority settings.
type AuthorityService struct {
	types     authority.TypeStore
	settings  authority.SettingStore
	validator ExpressionValidator
	logger    *slog.Logger
}

// NewAuthorityService creates an AuthorityService. validator may be nil,
// in which case custom expressions are accepted unchecked and fail closed
// at evaluation time instead.
func NewAuthorityService(types authority.TypeStore, settings authority.SettingStore, validator ExpressionValidator, logger *slog.Logger) *AuthorityService {
	return &AuthorityService{
		types:     types,
		settings:  settings,
		validator: validator,
		logger:    logger,
	}
}

// EffectiveAuthority computes the authority that applies for the pair:
// the user's setting when one exists, otherwise the type default with no
// conditions. Safe to call concurrently for different users.
func (s *AuthorityService) EffectiveAuthority(ctx context.Context, userID, actionTypeID string) (*authority.Effective, error) {
	setting, err := s.settings.SettingFor(ctx, userID, actionTypeID)
	if err != nil {
		return nil, fmt.Errorf("loading authority setting: %w", err)
	}
	if setting != nil {
		return &authority.Effective{
			Level:          setting.AuthorityLevel,
			IsUserOverride: true,
			Conditions:     setting.Conditions,
		}, nil
	}

	t, err := s.types.TypeByID(ctx, actionTypeID)
	if err != nil {
		return nil, fmt.Errorf("loading action type: %w", err)
	}
	if t == nil {
		return nil, fmt.Errorf("%w: id %s", authority.ErrUnknownActionType, actionTypeID)
	}
	return &authority.Effective{
		Level:          t.DefaultAuthorityLevel,
		IsUserOverride: false,
	}, nil
}

// InitializeForUser creates one default-mirroring setting per known
// action type. Types added to the catalog later do not inherit until the
// user is initialized again; callers must re-sync after catalog changes.
func (s *AuthorityService) InitializeForUser(ctx context.Context, userID string) (int, error) {
	types, err := s.types.AllTypes(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading catalog: %w", err)
	}

	created := 0
	for _, t := range types {
		existing, err := s.settings.SettingFor(ctx, userID, t.ID)
		if err != nil {
			return created, fmt.Errorf("loading setting for %s: %w", t.Name, err)
		}
		if existing != nil {
			continue
		}
		if err := s.upsert(ctx, userID, t.ID, t.DefaultAuthorityLevel, nil); err != nil {
			return created, fmt.Errorf("initializing %s: %w", t.Name, err)
		}
		created++
	}

	s.logger.Info("authority settings initialized",
		"user_id", userID,
		"created", created,
	)
	return created, nil
}

// SetLevel upserts the user's authority level (and optional conditions)
// for one action type.
func (s *AuthorityService) SetLevel(ctx context.Context, userID, actionTypeID string, level authority.Level, conditions *authority.Conditions) (*authority.Setting, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("invalid authority level %q", level)
	}
	t, err := s.types.TypeByID(ctx, actionTypeID)
	if err != nil {
		return nil, fmt.Errorf("loading action type: %w", err)
	}
	if t == nil {
		return nil, fmt.Errorf("%w: id %s", authority.ErrUnknownActionType, actionTypeID)
	}
	if conditions != nil && conditions.Expression != "" && s.validator != nil {
		if err := s.validator.ValidateExpression(conditions.Expression); err != nil {
			return nil, fmt.Errorf("rejecting policy expression: %w", err)
		}
	}

	if err := s.upsert(ctx, userID, actionTypeID, level, conditions); err != nil {
		return nil, err
	}
	setting, err := s.settings.SettingFor(ctx, userID, actionTypeID)
	if err != nil {
		return nil, fmt.Errorf("reloading setting: %w", err)
	}

	s.logger.Info("authority level updated",
		"user_id", userID,
		"action_type", t.Name,
		"level", level,
		"has_conditions", !conditions.Empty(),
	)
	return setting, nil
}

// SettingsForUser returns the user's stored overrides. Types without an
// override are absent; callers wanting the full picture should join
// against the catalog.
func (s *AuthorityService) SettingsForUser(ctx context.Context, userID string) ([]authority.Setting, error) {
	settings, err := s.settings.SettingsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading settings for user %s: %w", userID, err)
	}
	return settings, nil
}

// DisableAll forces every action type to disabled for the user: the
// emergency stop. Idempotent, last-write-wins.
func (s *AuthorityService) DisableAll(ctx context.Context, userID string) (int, error) {
	types, err := s.types.AllTypes(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading catalog: %w", err)
	}

	updated := 0
	var errs []error
	for _, t := range types {
		if err := s.upsert(ctx, userID, t.ID, authority.LevelDisabled, nil); err != nil {
			errs = append(errs, fmt.Errorf("disabling %s: %w", t.Name, err))
			continue
		}
		updated++
	}

	s.logger.Warn("all automation disabled",
		"user_id", userID,
		"updated", updated,
	)
	return updated, errors.Join(errs...)
}

// EnableConservativeDefaults resets the user to conservative levels:
// ask_first for high-risk types, draft_approve for medium-risk, and the
// type's own default for low-risk. Overwrites any prior customization,
// including conditions.
func (s *AuthorityService) EnableConservativeDefaults(ctx context.Context, userID string) (int, error) {
	types, err := s.types.AllTypes(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading catalog: %w", err)
	}

	updated := 0
	var errs []error
	for _, t := range types {
		level := conservativeLevel(t)
		if err := s.upsert(ctx, userID, t.ID, level, nil); err != nil {
			errs = append(errs, fmt.Errorf("resetting %s: %w", t.Name, err))
			continue
		}
		updated++
	}

	s.logger.Info("conservative authority defaults applied",
		"user_id", userID,
		"updated", updated,
	)
	return updated, errors.Join(errs...)
}

// conservativeLevel maps a type's risk to its conservative level.
func conservativeLevel(t authority.ActionType) authority.Level {
	switch t.RiskLevel {
	case authority.RiskHigh:
		return authority.LevelAskFirst
	case authority.RiskMedium:
		return authority.LevelDraftApprove
	default:
		return t.DefaultAuthorityLevel
	}
}

func (s *AuthorityService) upsert(ctx context.Context, userID, actionTypeID string, level authority.Level, conditions *authority.Conditions) error {
	now := time.Now().UTC()
	return s.settings.UpsertSetting(ctx, &authority.Setting{
		ID:             uuid.New().String(),
		UserID:         userID,
		ActionTypeID:   actionTypeID,
		AuthorityLevel: level,
		Conditions:     conditions,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
}
