package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ostiary-ai/ostiary/internal/domain/authority"
)

// TypeStore implements authority.TypeStore on SQLite.
type TypeStore struct {
	db *DB
}

// NewTypeStore creates a TypeStore backed by the given database.
func NewTypeStore(db *DB) *TypeStore {
	return &TypeStore{db: db}
}

const typeColumns = `id, name, category, risk_level, default_authority_level, reversible, created_at`

// CreateType inserts a new action type.
func (s *TypeStore) CreateType(ctx context.Context, t *authority.ActionType) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_types (`+typeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.Name,
		string(t.Category),
		string(t.RiskLevel),
		string(t.DefaultAuthorityLevel),
		boolToInt(t.Reversible),
		t.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting action type: %w", err)
	}
	return nil
}

// TypeByID returns a type by ID, or (nil, nil) when absent.
func (s *TypeStore) TypeByID(ctx context.Context, id string) (*authority.ActionType, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+typeColumns+` FROM action_types WHERE id = ?`, id)
	return scanType(row)
}

// TypeByName returns a type by its unique name, or (nil, nil) when absent.
func (s *TypeStore) TypeByName(ctx context.Context, name string) (*authority.ActionType, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+typeColumns+` FROM action_types WHERE name = ?`, name)
	return scanType(row)
}

// AllTypes returns every catalog entry ordered by name.
func (s *TypeStore) AllTypes(ctx context.Context) ([]authority.ActionType, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+typeColumns+` FROM action_types ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying action types: %w", err)
	}
	defer rows.Close()
	return collectTypes(rows)
}

// TypesByCategory returns all types in the given category ordered by name.
func (s *TypeStore) TypesByCategory(ctx context.Context, category authority.Category) ([]authority.ActionType, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+typeColumns+` FROM action_types WHERE category = ? ORDER BY name`,
		string(category))
	if err != nil {
		return nil, fmt.Errorf("querying action types: %w", err)
	}
	defer rows.Close()
	return collectTypes(rows)
}

func collectTypes(rows *sql.Rows) ([]authority.ActionType, error) {
	var result []authority.ActionType
	for rows.Next() {
		t, err := scanTypeFrom(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

func scanType(row *sql.Row) (*authority.ActionType, error) {
	t, err := scanTypeFrom(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func scanTypeFrom(scan func(...any) error) (*authority.ActionType, error) {
	var t authority.ActionType
	var category, risk, level, createdAt string
	var reversible int
	if err := scan(&t.ID, &t.Name, &category, &risk, &level, &reversible, &createdAt); err != nil {
		return nil, err
	}
	t.Category = authority.Category(category)
	t.RiskLevel = authority.RiskLevel(risk)
	t.DefaultAuthorityLevel = authority.Level(level)
	t.Reversible = reversible != 0

	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	t.CreatedAt = ts
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Compile-time interface verification.
var _ authority.TypeStore = (*TypeStore)(nil)
