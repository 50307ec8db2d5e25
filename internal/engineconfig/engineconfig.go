// Package engineconfig decodes the host-supplied bootstrap configuration a
// vaultsync engine needs before it can do anything: provider OAuth client
// credentials, redirect URIs for the PKCE-based adapters, the storage
// backend to open, and the app version stamped into every envelope. It
// follows a mapstructure-driven decode pattern (similar to
// FDOServerConfig) rather than viper's own struct-tag unmarshaling, since
// hosts may assemble this config from sources other than a viper instance
// (tests, embedders with their own config layer).
package engineconfig

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// ProviderCredentials holds one provider's OAuth client registration.
type ProviderCredentials struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURI  string `mapstructure:"redirect_uri"`
}

// StorageConfig selects the SecretStore backend.
type StorageConfig struct {
	// Backend is "memory" or "gorm".
	Backend string `mapstructure:"backend"`
	// DBType and DSN are only used when Backend is "gorm".
	DBType string `mapstructure:"db_type"`
	DSN    string `mapstructure:"dsn"`
}

// Config is the engine's full bootstrap configuration.
type Config struct {
	AppVersion string `mapstructure:"app_version"`
	DeviceName string `mapstructure:"device_name"`

	Storage StorageConfig `mapstructure:"storage"`

	Providers struct {
		Gist   ProviderCredentials `mapstructure:"gist"`
		DriveA ProviderCredentials `mapstructure:"drive_a"`
		DriveB ProviderCredentials `mapstructure:"drive_b"`
	} `mapstructure:"providers"`

	// AutoSyncIntervalMinutes seeds the engine's auto-sync timer; 0 means
	// auto-sync starts disabled unless configured.
	AutoSyncIntervalMinutes int `mapstructure:"auto_sync_interval_minutes"`

	// KDFIterations is decoded from the config but not applied: new
	// envelopes are encrypted with crypto.DefaultIterations regardless.
	KDFIterations int `mapstructure:"kdf_iterations"`
}

// Decode builds a Config from an arbitrary host-supplied map, e.g. the
// result of viper.AllSettings().
func Decode(raw map[string]any) (*Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("engineconfig: building decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("engineconfig: decoding config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.AppVersion == "" {
		return fmt.Errorf("engineconfig: app_version is required")
	}
	switch c.Storage.Backend {
	case "", "memory":
		c.Storage.Backend = "memory"
	case "gorm":
		if c.Storage.DSN == "" {
			return fmt.Errorf("engineconfig: storage.dsn is required for the gorm backend")
		}
		if c.Storage.DBType != "sqlite" && c.Storage.DBType != "postgres" {
			return fmt.Errorf("engineconfig: storage.db_type must be sqlite or postgres, got %q", c.Storage.DBType)
		}
	default:
		return fmt.Errorf("engineconfig: unsupported storage backend %q", c.Storage.Backend)
	}
	if c.AutoSyncIntervalMinutes < 0 {
		return fmt.Errorf("engineconfig: auto_sync_interval_minutes must not be negative")
	}
	return nil
}
