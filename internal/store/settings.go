package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/storelink/dpdbridge/pkg/dpdconnect"
)

// accessTokenKey is the settings row holding the carrier JWT.
const accessTokenKey = "dpd_access_token"

// SettingsStore is a key-value store for runtime settings that must
// survive restarts, such as the carrier access token.
type SettingsStore struct {
	db *sqlx.DB
}

// NewSettingsStore creates a settings store on the given pool.
func NewSettingsStore(db *sqlx.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

var _ dpdconnect.TokenStore = (*SettingsStore)(nil)

// GetValue reads one setting, empty when absent.
func (s *SettingsStore) GetValue(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value,
		`SELECT value FROM dpd_settings WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("selecting setting %s: %w", key, err)
	}
	return value, nil
}

// SetValue upserts one setting.
func (s *SettingsStore) SetValue(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO dpd_settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value); err != nil {
		return fmt.Errorf("upserting setting %s: %w", key, err)
	}
	return nil
}

// Get implements dpdconnect.TokenStore.
func (s *SettingsStore) Get(ctx context.Context) (string, error) {
	return s.GetValue(ctx, accessTokenKey)
}

// Set implements dpdconnect.TokenStore.
func (s *SettingsStore) Set(ctx context.Context, token string) error {
	return s.SetValue(ctx, accessTokenKey, token)
}
