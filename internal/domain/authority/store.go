package authority

import "context"

// TypeStore persists the action type catalog.
// Interface owned by the domain per hexagonal architecture; implemented by
// the memory and sqlite adapters.
type TypeStore interface {
	// CreateType inserts a new action type.
	CreateType(ctx context.Context, t *ActionType) error
	// TypeByID returns a type by ID, or (nil, nil) when absent.
	// A miss is a normal empty result, not an error.
	TypeByID(ctx context.Context, id string) (*ActionType, error)
	// TypeByName returns a type by its unique name, or (nil, nil) when absent.
	TypeByName(ctx context.Context, name string) (*ActionType, error)
	// AllTypes returns every catalog entry.
	AllTypes(ctx context.Context) ([]ActionType, error)
	// TypesByCategory returns all types in the given category.
	TypesByCategory(ctx context.Context, category Category) ([]ActionType, error)
}

// SettingStore persists per-user authority settings.
type SettingStore interface {
	// SettingFor returns the user's setting for an action type, or
	// (nil, nil) when the user has no override.
	SettingFor(ctx context.Context, userID, actionTypeID string) (*Setting, error)
	// UpsertSetting creates or replaces the setting for
	// (s.UserID, s.ActionTypeID). At most one row per pair.
	UpsertSetting(ctx context.Context, s *Setting) error
	// SettingsForUser returns all settings owned by the user.
	SettingsForUser(ctx context.Context, userID string) ([]Setting, error)
}
