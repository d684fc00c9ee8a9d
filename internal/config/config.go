package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	SchemaVersion       = 1
	DefaultPath         = "/etc/toonbridge/config.yaml"
	DefaultHTTPAddr     = "0.0.0.0:8080"
	DefaultDashboardDir = "/var/lib/toonbridge/dashboards"
	DefaultOAuthPrefix  = "toonbridge/oauth"
	DefaultTopicPrefix  = "toonbridge"

	DefaultOAuthRefreshIntervalSeconds = 600
)

// Config is the daemon configuration, loaded from YAML at startup.
type Config struct {
	SchemaVersion int          `yaml:"schema_version"`
	Core          *CoreConfig  `yaml:"core"`
	OAuth         *OAuthConfig `yaml:"oauth"`
	MQTT          *MQTTConfig  `yaml:"mqtt"`
	Toon          *ToonConfig  `yaml:"toon"`
}

type CoreConfig struct {
	HTTPAddr     string `yaml:"http_addr"`
	DashboardDir string `yaml:"dashboard_dir"`
}

type OAuthConfig struct {
	BlobEndpoint           string `yaml:"blob_endpoint"`
	BlobBucket             string `yaml:"blob_bucket"`
	BlobPrefix             string `yaml:"blob_prefix"`
	BlobRegion             string `yaml:"blob_region"`
	BlobAccessKeyFile      string `yaml:"blob_access_key_file"`
	BlobSecretKeyFile      string `yaml:"blob_secret_key_file"`
	RefreshEnabled         *bool  `yaml:"refresh_enabled"`
	RefreshIntervalSeconds int    `yaml:"refresh_interval_seconds"`
}

type MQTTConfig struct {
	BrokerURL    string `yaml:"broker_url"`
	Username     string `yaml:"username"`
	PasswordFile string `yaml:"password_file"`
	TopicPrefix  string `yaml:"topic_prefix"`
}

// ToonConfig enables the Toon plugin. Presence of the section enables it.
type ToonConfig struct {
	BaseURL             string `yaml:"base_url"`
	BootstrapFile       string `yaml:"bootstrap_file"`
	StatePath           string `yaml:"state_path"`
	AgreementID         string `yaml:"agreement_id"`
	DisplayCommonName   string `yaml:"display_common_name"`
	WebhookCallbackURL  string `yaml:"webhook_callback_url"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	DebounceWindowMS    int    `yaml:"debounce_window_ms"`
}

// Load parses the YAML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Core == nil {
		cfg.Core = &CoreConfig{}
	}
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Core.DashboardDir == "" {
		cfg.Core.DashboardDir = DefaultDashboardDir
	}

	if cfg.OAuth == nil {
		cfg.OAuth = &OAuthConfig{}
	}
	if cfg.OAuth.BlobPrefix == "" {
		cfg.OAuth.BlobPrefix = DefaultOAuthPrefix
	}
	if cfg.OAuth.RefreshEnabled == nil {
		enabled := true
		cfg.OAuth.RefreshEnabled = &enabled
	}
	if cfg.OAuth.RefreshIntervalSeconds == 0 {
		cfg.OAuth.RefreshIntervalSeconds = DefaultOAuthRefreshIntervalSeconds
	}

	if cfg.MQTT != nil && cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = DefaultTopicPrefix
	}
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}

	if cfg.Core == nil || cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}

	if cfg.OAuth == nil {
		return fmt.Errorf("oauth config is required")
	}
	if cfg.OAuth.BlobEndpoint == "" {
		return fmt.Errorf("oauth.blob_endpoint is required")
	}
	if cfg.OAuth.BlobBucket == "" {
		return fmt.Errorf("oauth.blob_bucket is required")
	}
	if cfg.OAuth.BlobAccessKeyFile == "" {
		return fmt.Errorf("oauth.blob_access_key_file is required")
	}
	if cfg.OAuth.BlobSecretKeyFile == "" {
		return fmt.Errorf("oauth.blob_secret_key_file is required")
	}

	if cfg.MQTT != nil && cfg.MQTT.BrokerURL == "" {
		return fmt.Errorf("mqtt.broker_url is required")
	}

	if cfg.Toon != nil {
		if cfg.Toon.BootstrapFile == "" {
			return fmt.Errorf("toon.bootstrap_file is required")
		}
		if cfg.Toon.StatePath == "" {
			return fmt.Errorf("toon.state_path is required")
		}
	}

	return nil
}

// RefreshInterval returns the background OAuth refresh cadence; zero disables
// the refresh loop.
func RefreshInterval(cfg *OAuthConfig) time.Duration {
	if cfg == nil {
		return time.Duration(DefaultOAuthRefreshIntervalSeconds) * time.Second
	}
	if cfg.RefreshEnabled != nil && !*cfg.RefreshEnabled {
		return 0
	}
	if cfg.RefreshIntervalSeconds > 0 {
		return time.Duration(cfg.RefreshIntervalSeconds) * time.Second
	}
	return time.Duration(DefaultOAuthRefreshIntervalSeconds) * time.Second
}

// EnabledPlugins maps enabled plugin IDs based on config presence.
func EnabledPlugins(cfg *Config) map[string]bool {
	enabled := make(map[string]bool)
	if cfg == nil {
		return enabled
	}
	if cfg.Toon != nil {
		enabled["toon"] = true
	}
	return enabled
}
