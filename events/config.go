package events

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/tidemark/keel/errs"
	"github.com/tidemark/keel/store"
)

// Config holds a tenant's notification fan-out switches, consulted at event
// emission time. A tenant without a stored row gets DefaultConfig.
type Config struct {
	TransferRequested bool `json:"transferRequested"`
	TransferApproved  bool `json:"transferApproved"`
	TransferRejected  bool `json:"transferRejected"`
	TransferCompleted bool `json:"transferCompleted"`
	MovementCompleted bool `json:"movementCompleted"`
}

// DefaultConfig fans out everything.
func DefaultConfig() Config {
	return Config{
		TransferRequested: true,
		TransferApproved:  true,
		TransferRejected:  true,
		TransferCompleted: true,
		MovementCompleted: true,
	}
}

// ConfigStore persists per-tenant notification configs.
type ConfigStore struct {
	db *store.DB
}

// NewConfigStore returns a ConfigStore over |db|.
func NewConfigStore(db *store.DB) *ConfigStore { return &ConfigStore{db: db} }

// Get returns the tenant's Config, or DefaultConfig when none is stored.
func (s *ConfigStore) Get(ctx context.Context, orgID string) (Config, error) {
	var raw string
	var err = s.db.GetContext(ctx, &raw,
		s.db.Rebind(`SELECT config FROM notification_configs WHERE organization_id = ?`), orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultConfig(), nil
	} else if err != nil {
		return Config{}, fmt.Errorf("loading notification config: %w", err)
	}

	var config Config
	if err = json.Unmarshal([]byte(raw), &config); err != nil {
		return Config{}, fmt.Errorf("decoding notification config: %w", err)
	}
	return config, nil
}

// Patch applies an RFC 7396 merge patch to the tenant's stored Config and
// returns the result. Unknown fields are a validation error.
func (s *ConfigStore) Patch(ctx context.Context, orgID string, patch []byte) (Config, error) {
	var current, err = s.Get(ctx, orgID)
	if err != nil {
		return Config{}, err
	}
	currentRaw, err := json.Marshal(current)
	if err != nil {
		return Config{}, fmt.Errorf("encoding notification config: %w", err)
	}

	merged, err := jsonpatch.MergePatch(currentRaw, patch)
	if err != nil {
		return Config{}, errs.Validation("INVALID_PATCH", "config",
			"body is not a valid merge patch").WithCause(err)
	}

	var next Config
	var dec = json.NewDecoder(bytes.NewReader(merged))
	dec.DisallowUnknownFields()
	if err = dec.Decode(&next); err != nil {
		return Config{}, errs.Validation("INVALID_PATCH", "config",
			"patch sets unknown or mistyped fields").WithCause(err)
	}

	nextRaw, err := json.Marshal(next)
	if err != nil {
		return Config{}, fmt.Errorf("encoding notification config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO notification_configs (organization_id, config, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (organization_id)
		DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at`),
		orgID, string(nextRaw), time.Now().UTC())
	if err != nil {
		return Config{}, fmt.Errorf("storing notification config: %w", err)
	}
	return next, nil
}
