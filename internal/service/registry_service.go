// Package service contains application services.
package service

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ostiary-ai/ostiary/internal/domain/authority"
)

//go:embed catalog.yaml
var builtinCatalog []byte

// catalogEntry is one row of the embedded built-in catalog file.
type catalogEntry struct {
	Name                  string `yaml:"name"`
	Category              string `yaml:"category"`
	RiskLevel             string `yaml:"risk_level"`
	DefaultAuthorityLevel string `yaml:"default_authority_level"`
	Reversible            bool   `yaml:"reversible"`
}

// RegistryService owns the action type catalog: seeding the built-in
// types and serving lookups.
type RegistryService struct {
	types  authority.TypeStore
	logger *slog.Logger
}

// NewRegistryService creates a RegistryService.
func NewRegistryService(types authority.TypeStore, logger *slog.Logger) *RegistryService {
	return &RegistryService{types: types, logger: logger}
}

// Seed idempotently inserts the built-in action types. Running it twice
// never duplicates: existing names are counted and left untouched.
func (s *RegistryService) Seed(ctx context.Context) (created, existing int, err error) {
	var entries []catalogEntry
	if err := yaml.Unmarshal(builtinCatalog, &entries); err != nil {
		return 0, 0, fmt.Errorf("parsing built-in catalog: %w", err)
	}

	for _, entry := range entries {
		current, err := s.types.TypeByName(ctx, entry.Name)
		if err != nil {
			return created, existing, fmt.Errorf("looking up %s: %w", entry.Name, err)
		}
		if current != nil {
			existing++
			continue
		}

		t := &authority.ActionType{
			ID:                    uuid.New().String(),
			Name:                  entry.Name,
			Category:              authority.Category(entry.Category),
			RiskLevel:             authority.RiskLevel(entry.RiskLevel),
			DefaultAuthorityLevel: authority.Level(entry.DefaultAuthorityLevel),
			Reversible:            entry.Reversible,
			CreatedAt:             time.Now().UTC(),
		}
		if err := s.types.CreateType(ctx, t); err != nil {
			return created, existing, fmt.Errorf("creating %s: %w", entry.Name, err)
		}
		created++
	}

	s.logger.Info("action type catalog seeded",
		"created", created,
		"existing", existing,
	)
	return created, existing, nil
}

// ByName returns a type by its unique name, or (nil, nil) when absent.
func (s *RegistryService) ByName(ctx context.Context, name string) (*authority.ActionType, error) {
	return s.types.TypeByName(ctx, name)
}

// ByID returns a type by ID, or (nil, nil) when absent.
func (s *RegistryService) ByID(ctx context.Context, id string) (*authority.ActionType, error) {
	return s.types.TypeByID(ctx, id)
}

// All returns every catalog entry.
func (s *RegistryService) All(ctx context.Context) ([]authority.ActionType, error) {
	return s.types.AllTypes(ctx)
}

// ByCategory returns all types in the given category.
func (s *RegistryService) ByCategory(ctx context.Context, category authority.Category) ([]authority.ActionType, error) {
	return s.types.TypesByCategory(ctx, category)
}
