package toon

import (
	"fmt"
	"strings"
	"time"

	"github.com/mklaassen/toonbridge/internal/config"
)

const (
	defaultBaseURL      = "https://api.toon.eu/toon/v3"
	defaultTokenURL     = "https://api.toon.eu/token"
	defaultAuthorizeURL = "https://api.toon.eu/authorize"

	defaultPollInterval   = 5 * time.Minute
	defaultDebounceWindow = 2 * time.Second

	defaultRetryAttempts = 3
	defaultRetryDelay    = 10 * time.Second
)

// Config defines runtime configuration for the Toon client.
type Config struct {
	BaseURL            string
	BootstrapFile      string
	StatePath          string
	AgreementID        string
	DisplayCommonName  string
	WebhookCallbackURL string
	PollInterval       time.Duration
	DebounceWindow     time.Duration
}

// FromDaemonConfig translates the daemon YAML section into plugin config.
func FromDaemonConfig(cfg *config.ToonConfig) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("toon config is required")
	}
	if cfg.BootstrapFile == "" {
		return Config{}, fmt.Errorf("toon bootstrap_file is required")
	}
	if cfg.StatePath == "" {
		return Config{}, fmt.Errorf("toon state_path is required")
	}

	out := Config{
		BaseURL:            strings.TrimSpace(cfg.BaseURL),
		BootstrapFile:      cfg.BootstrapFile,
		StatePath:          cfg.StatePath,
		AgreementID:        strings.TrimSpace(cfg.AgreementID),
		DisplayCommonName:  strings.TrimSpace(cfg.DisplayCommonName),
		WebhookCallbackURL: strings.TrimSpace(cfg.WebhookCallbackURL),
		PollInterval:       defaultPollInterval,
		DebounceWindow:     defaultDebounceWindow,
	}
	if out.BaseURL == "" {
		out.BaseURL = defaultBaseURL
	}
	if cfg.PollIntervalSeconds > 0 {
		out.PollInterval = time.Duration(cfg.PollIntervalSeconds) * time.Second
	}
	if cfg.DebounceWindowMS > 0 {
		out.DebounceWindow = time.Duration(cfg.DebounceWindowMS) * time.Millisecond
	}
	return out, nil
}
