package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ostiary-ai/ostiary/internal/domain/authority"
)

// SettingStore implements authority.SettingStore on SQLite.
type SettingStore struct {
	db *DB
}

// NewSettingStore creates a SettingStore backed by the given database.
func NewSettingStore(db *DB) *SettingStore {
	return &SettingStore{db: db}
}

const settingColumns = `id, user_id, action_type_id, authority_level, conditions, created_at, updated_at`

// SettingFor returns the user's setting for an action type, or (nil, nil).
func (s *SettingStore) SettingFor(ctx context.Context, userID, actionTypeID string) (*authority.Setting, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+settingColumns+` FROM authority_settings
		WHERE user_id = ? AND action_type_id = ?`,
		userID, actionTypeID)

	setting, err := scanSettingFrom(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return setting, err
}

// UpsertSetting creates or replaces the setting for (UserID, ActionTypeID).
// The UNIQUE(user_id, action_type_id) constraint enforces at most one row
// per pair; conflicts update the existing row in place.
func (s *SettingStore) UpsertSetting(ctx context.Context, setting *authority.Setting) error {
	var conditions sql.NullString
	if !setting.Conditions.Empty() {
		encoded, err := json.Marshal(setting.Conditions)
		if err != nil {
			return fmt.Errorf("marshalling conditions: %w", err)
		}
		conditions = sql.NullString{String: string(encoded), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO authority_settings (`+settingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, action_type_id) DO UPDATE SET
			authority_level = excluded.authority_level,
			conditions = excluded.conditions,
			updated_at = excluded.updated_at`,
		setting.ID,
		setting.UserID,
		setting.ActionTypeID,
		string(setting.AuthorityLevel),
		conditions,
		setting.CreatedAt.UTC().Format(time.RFC3339Nano),
		setting.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upserting authority setting: %w", err)
	}
	return nil
}

// SettingsForUser returns all settings owned by the user.
func (s *SettingStore) SettingsForUser(ctx context.Context, userID string) ([]authority.Setting, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+settingColumns+` FROM authority_settings
		WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying authority settings: %w", err)
	}
	defer rows.Close()

	var result []authority.Setting
	for rows.Next() {
		setting, err := scanSettingFrom(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *setting)
	}
	return result, rows.Err()
}

func scanSettingFrom(scan func(...any) error) (*authority.Setting, error) {
	var setting authority.Setting
	var level, createdAt, updatedAt string
	var conditions sql.NullString
	if err := scan(&setting.ID, &setting.UserID, &setting.ActionTypeID,
		&level, &conditions, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	setting.AuthorityLevel = authority.Level(level)

	if conditions.Valid {
		var c authority.Conditions
		if err := json.Unmarshal([]byte(conditions.String), &c); err != nil {
			return nil, fmt.Errorf("unmarshalling conditions: %w", err)
		}
		setting.Conditions = &c
	}

	var err error
	if setting.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if setting.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &setting, nil
}

// Compile-time interface verification.
var _ authority.SettingStore = (*SettingStore)(nil)
