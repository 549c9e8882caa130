package memory

import (
	"context"
	"sync"

	"github.com/ostiary-ai/ostiary/internal/domain/authority"
)

// settingKey identifies the unique (user, action type) pair.
type settingKey struct {
	userID       string
	actionTypeID string
}

// SettingStore implements authority.SettingStore with an in-memory map.
type SettingStore struct {
	mu       sync.RWMutex
	settings map[settingKey]*authority.Setting
}

// NewSettingStore creates an empty in-memory setting store.
func NewSettingStore() *SettingStore {
	return &SettingStore{
		settings: make(map[settingKey]*authority.Setting),
	}
}

// SettingFor returns the user's setting for an action type, or (nil, nil).
func (s *SettingStore) SettingFor(ctx context.Context, userID, actionTypeID string) (*authority.Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	setting, ok := s.settings[settingKey{userID, actionTypeID}]
	if !ok {
		return nil, nil
	}
	return copySetting(setting), nil
}

// UpsertSetting creates or replaces the setting for (UserID, ActionTypeID).
func (s *SettingStore) UpsertSetting(ctx context.Context, setting *authority.Setting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := settingKey{setting.UserID, setting.ActionTypeID}
	stored := copySetting(setting)
	if existing, ok := s.settings[key]; ok {
		// Preserve identity and creation time across upserts.
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	}
	s.settings[key] = stored
	return nil
}

// SettingsForUser returns all settings owned by the user.
func (s *SettingStore) SettingsForUser(ctx context.Context, userID string) ([]authority.Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []authority.Setting
	for key, setting := range s.settings {
		if key.userID == userID {
			result = append(result, *copySetting(setting))
		}
	}
	return result, nil
}

// copySetting deep-copies a setting to prevent external mutation.
func copySetting(s *authority.Setting) *authority.Setting {
	cp := *s
	if s.Conditions != nil {
		conds := *s.Conditions
		if s.Conditions.TimeWindow != nil {
			tw := *s.Conditions.TimeWindow
			conds.TimeWindow = &tw
		}
		conds.AllowedDomains = append([]string(nil), s.Conditions.AllowedDomains...)
		conds.BlockedDomains = append([]string(nil), s.Conditions.BlockedDomains...)
		conds.CustomRules = append([]authority.CustomRule(nil), s.Conditions.CustomRules...)
		if s.Conditions.MinConfidence != nil {
			min := *s.Conditions.MinConfidence
			conds.MinConfidence = &min
		}
		cp.Conditions = &conds
	}
	return &cp
}

// Compile-time interface verification.
var _ authority.SettingStore = (*SettingStore)(nil)
