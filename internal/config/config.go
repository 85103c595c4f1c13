// Package config loads unity configuration from ~/.unity/config.json and the
// environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/unity-portal/unity/internal/retry"
)

const (
	ConfigDirName   = ".unity"
	ConfigFileName  = "config.json"
	DefaultLogLevel = "info"
	EnvPrefix       = "UNITY"
)

// Config holds everything the portal client needs at runtime.
type Config struct {
	// APIRoot is the orchestration API endpoint.
	APIRoot string `mapstructure:"api_root" json:"api_root"`

	// Project is the billing project the portal service account works in.
	Project string `mapstructure:"project" json:"project"`

	// ServiceAccountKey is the path to the portal service-account JSON key.
	// Empty means application-default credentials.
	ServiceAccountKey string `mapstructure:"service_account_key" json:"service_account_key"`

	// OAuth client used to exchange user refresh tokens.
	OAuthClientID     string `mapstructure:"oauth_client_id" json:"oauth_client_id"`
	OAuthClientSecret string `mapstructure:"oauth_client_secret" json:"oauth_client_secret,omitempty"`
	TokenURL          string `mapstructure:"token_url" json:"token_url,omitempty"`

	// SecretKeyBase seals refresh tokens at rest. Never written to disk.
	SecretKeyBase string `mapstructure:"secret_key_base" json:"-"`

	DataDir   string `mapstructure:"data_dir" json:"data_dir"`
	LogLevel  string `mapstructure:"log_level" json:"log_level"`
	LogFormat string `mapstructure:"log_format" json:"log_format"` // console | json

	// MaxAttempts bounds API and storage calls independently.
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts"`
	// Backoff is "none" or "exponential".
	Backoff string `mapstructure:"backoff" json:"backoff"`

	// Namespaces restricts the billing projects unity operates on.
	Namespaces []string `mapstructure:"namespaces" json:"namespaces,omitempty"`

	ACLWorkers     int           `mapstructure:"acl_workers" json:"acl_workers"`
	HealthServices []string      `mapstructure:"health_services" json:"health_services"`
	SignedURLTTL   time.Duration `mapstructure:"signed_url_ttl" json:"signed_url_ttl"`
	HTTPTimeout    time.Duration `mapstructure:"http_timeout" json:"http_timeout"`
}

// legacyEnv maps config keys to environment names used by older deployments.
var legacyEnv = map[string]string{
	"service_account_key": "SERVICE_ACCOUNT_KEY",
	"oauth_client_id":     "OAUTH_CLIENT_ID",
	"oauth_client_secret": "OAUTH_CLIENT_SECRET",
	"secret_key_base":     "SECRET_KEY_BASE",
}

// ConfigDir returns the unity config directory.
func ConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ConfigDirName)
}

// DefaultPath returns ~/.unity/config.json.
func DefaultPath() string {
	return filepath.Join(ConfigDir(), ConfigFileName)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_root", "https://api.firecloud.org")
	v.SetDefault("project", "single-cell-portal")
	v.SetDefault("data_dir", ConfigDir())
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_format", "console")
	v.SetDefault("max_attempts", retry.DefaultMaxAttempts)
	v.SetDefault("backoff", "none")
	v.SetDefault("namespaces", []string{})
	v.SetDefault("acl_workers", 3)
	v.SetDefault("health_services", []string{"Rawls", "Sam", "Agora", "Thurloe"})
	v.SetDefault("signed_url_ttl", 15*time.Minute)
	v.SetDefault("http_timeout", 60*time.Second)
}

// Load reads path (DefaultPath when empty) and applies UNITY_* and legacy
// environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(key), legacy); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks bounds and enumerations.
func (c *Config) Validate() error {
	if c.APIRoot == "" {
		return errors.New("api_root is required")
	}
	if c.MaxAttempts < 1 {
		return errors.New("max_attempts must be at least 1")
	}
	if c.ACLWorkers < 1 {
		return errors.New("acl_workers must be at least 1")
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log_format must be console or json, got %q", c.LogFormat)
	}
	switch c.Backoff {
	case "none", "exponential":
	default:
		return fmt.Errorf("backoff must be none or exponential, got %q", c.Backoff)
	}
	return nil
}

// RetryPolicy builds the per-call retry policy.
func (c *Config) RetryPolicy() retry.Policy {
	if c.Backoff == "exponential" {
		return retry.Exponential(c.MaxAttempts)
	}
	return retry.Policy{MaxAttempts: c.MaxAttempts}
}

// ReadServiceAccountKey returns the key file contents, or nil when no key is
// configured.
func (c *Config) ReadServiceAccountKey() ([]byte, error) {
	if c.ServiceAccountKey == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.ServiceAccountKey)
	if err != nil {
		return nil, fmt.Errorf("reading service account key: %w", err)
	}
	return data, nil
}

// Save persists cfg as JSON at path (DefaultPath when empty).
// SecretKeyBase is never written.
func Save(path string, cfg *Config) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// settableKeys are the keys Set accepts. secret_key_base is environment-only.
var settableKeys = []string{
	"api_root", "project", "service_account_key",
	"oauth_client_id", "oauth_client_secret", "token_url",
	"data_dir", "log_level", "log_format",
	"max_attempts", "backoff", "namespaces", "acl_workers",
	"health_services", "signed_url_ttl", "http_timeout",
}

// Set writes one key into the file at path. Only the file and defaults are
// consulted, so environment overrides are never persisted. List keys take a
// comma-separated value and durations use Go syntax such as "30m".
func Set(path, key, value string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	key = strings.ToLower(key)
	if !slices.Contains(settableKeys, key) {
		return nil, fmt.Errorf("unknown or read-only config key %q", key)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	v.Set(key, value)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("setting %s: %w", key, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, Save(path, &cfg)
}
