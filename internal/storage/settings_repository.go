package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// SettingsRepository stores free-form key/value operator settings, used for
// runtime toggles that should survive a restart without a schema change.
type SettingsRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSettingsRepository constructs a SettingsRepository.
func NewSettingsRepository(db *sql.DB, log zerolog.Logger) *SettingsRepository {
	return &SettingsRepository{db: db, log: log.With().Str("repository", "settings").Logger()}
}

// Get returns the stored value for key, or nil if unset.
func (r *SettingsRepository) Get(key string) (*string, error) {
	var value string
	err := r.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get setting %s: %w", key, err)
	}
	return &value, nil
}

// Set upserts a setting value.
func (r *SettingsRepository) Set(key, value string) error {
	_, err := r.db.Exec(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// GetFloat returns the value for key parsed as float64, or defaultValue.
func (r *SettingsRepository) GetFloat(key string, defaultValue float64) float64 {
	value, err := r.Get(key)
	if err != nil || value == nil {
		return defaultValue
	}
	f, err := strconv.ParseFloat(*value, 64)
	if err != nil {
		r.log.Warn().Err(err).Str("key", key).Str("value", *value).Msg("failed to parse float setting")
		return defaultValue
	}
	return f
}

// SetFloat stores value as a setting.
func (r *SettingsRepository) SetFloat(key string, value float64) error {
	return r.Set(key, strconv.FormatFloat(value, 'f', -1, 64))
}

// GetInt returns the value for key parsed as int, or defaultValue.
func (r *SettingsRepository) GetInt(key string, defaultValue int) int {
	value, err := r.Get(key)
	if err != nil || value == nil {
		return defaultValue
	}
	n, err := strconv.Atoi(*value)
	if err != nil {
		r.log.Warn().Err(err).Str("key", key).Str("value", *value).Msg("failed to parse int setting")
		return defaultValue
	}
	return n
}

// SetInt stores value as a setting.
func (r *SettingsRepository) SetInt(key string, value int) error {
	return r.Set(key, strconv.Itoa(value))
}

// GetBool returns the value for key parsed as bool, or defaultValue.
func (r *SettingsRepository) GetBool(key string, defaultValue bool) bool {
	value, err := r.Get(key)
	if err != nil || value == nil {
		return defaultValue
	}
	b, err := strconv.ParseBool(*value)
	if err != nil {
		r.log.Warn().Err(err).Str("key", key).Str("value", *value).Msg("failed to parse bool setting")
		return defaultValue
	}
	return b
}

// SetBool stores value as a setting.
func (r *SettingsRepository) SetBool(key string, value bool) error {
	return r.Set(key, strconv.FormatBool(value))
}

// Delete removes a setting.
func (r *SettingsRepository) Delete(key string) error {
	if _, err := r.db.Exec("DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete setting %s: %w", key, err)
	}
	return nil
}
