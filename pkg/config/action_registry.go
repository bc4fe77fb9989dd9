package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"
)

// ActionDefinition describes one action_type entry in the registry seed file.
type ActionDefinition struct {
	ActionType           string                 `yaml:"action_type"`
	Reversible           bool                   `yaml:"reversible"`
	ZoneRequired         string                 `yaml:"zone_required,omitempty"`
	RequiresPreApproval  bool                   `yaml:"requires_pre_approval"`
	PostReviewRequired   bool                   `yaml:"post_review_required"`
	Metadata             map[string]interface{} `yaml:"metadata,omitempty"`
}

// ActionRegistryFile is the top-level shape of config/action_registry.yaml.
type ActionRegistryFile struct {
	Actions []ActionDefinition `yaml:"actions"`
}

// LoadActionRegistry reads and parses the action registry seed file used to
// populate the action_registry table on boot.
func LoadActionRegistry(path string) (*ActionRegistryFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read action registry file %s: %w", path, err)
	}

	var file ActionRegistryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse action registry file %s: %w", path, err)
	}

	for _, a := range file.Actions {
		if a.ActionType == "" {
			return nil, fmt.Errorf("action registry file %s: entry with empty action_type", path)
		}
	}

	return &file, nil
}

// SeedActionRegistry upserts every action_type in the file into the
// action_registry table. Safe to call on every boot: existing rows are
// overwritten with the file's current definition rather than skipped, so
// editing config/action_registry.yaml and restarting is enough to change
// policy-gate behavior.
func SeedActionRegistry(ctx context.Context, pool *pgxpool.Pool, file *ActionRegistryFile) error {
	for _, a := range file.Actions {
		metadataJSON, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for action_type %s: %w", a.ActionType, err)
		}
		var zoneRequired interface{}
		if a.ZoneRequired != "" {
			zoneRequired = a.ZoneRequired
		}
		if _, err := pool.Exec(ctx, `
			INSERT INTO action_registry (action_type, reversible, zone_required, requires_pre_approval, post_review_required, metadata)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (action_type) DO UPDATE
			SET reversible = $2, zone_required = $3, requires_pre_approval = $4, post_review_required = $5, metadata = $6`,
			a.ActionType, a.Reversible, zoneRequired, a.RequiresPreApproval, a.PostReviewRequired, metadataJSON); err != nil {
			return fmt.Errorf("seed action_registry row %s: %w", a.ActionType, err)
		}
	}
	return nil
}
