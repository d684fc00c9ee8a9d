package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
schema_version: 1
core:
  http_addr: "127.0.0.1:8080"
oauth:
  blob_endpoint: "https://s3.example.com"
  blob_bucket: "tokens"
  blob_access_key_file: "/run/secrets/s3-access"
  blob_secret_key_file: "/run/secrets/s3-secret"
mqtt:
  broker_url: "tcp://localhost:1883"
toon:
  bootstrap_file: "/etc/toonbridge/toon-bootstrap.json"
  state_path: "/var/lib/toonbridge/oauth/toon.json"
  webhook_callback_url: "https://bridge.example.com/webhooks/toon"
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Core.DashboardDir != DefaultDashboardDir {
		t.Fatalf("unexpected dashboard dir: %s", cfg.Core.DashboardDir)
	}
	if cfg.OAuth.BlobPrefix != DefaultOAuthPrefix {
		t.Fatalf("unexpected blob prefix: %s", cfg.OAuth.BlobPrefix)
	}
	if cfg.MQTT.TopicPrefix != DefaultTopicPrefix {
		t.Fatalf("unexpected topic prefix: %s", cfg.MQTT.TopicPrefix)
	}
	if got := RefreshInterval(cfg.OAuth); got != 600*time.Second {
		t.Fatalf("unexpected refresh interval: %s", got)
	}

	enabled := EnabledPlugins(cfg)
	if !enabled["toon"] {
		t.Fatalf("expected toon plugin enabled, got %v", enabled)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"wrong schema", "schema_version: 2\n"},
		{"missing oauth blob", `
schema_version: 1
oauth:
  blob_bucket: "tokens"
`},
		{"toon without bootstrap", `
schema_version: 1
oauth:
  blob_endpoint: "https://s3.example.com"
  blob_bucket: "tokens"
  blob_access_key_file: "/a"
  blob_secret_key_file: "/b"
toon:
  state_path: "/var/lib/toonbridge/oauth/toon.json"
`},
		{"mqtt without broker", `
schema_version: 1
oauth:
  blob_endpoint: "https://s3.example.com"
  blob_bucket: "tokens"
  blob_access_key_file: "/a"
  blob_secret_key_file: "/b"
mqtt:
  username: "bridge"
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.content)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestRefreshIntervalDisabled(t *testing.T) {
	disabled := false
	cfg := &OAuthConfig{RefreshEnabled: &disabled, RefreshIntervalSeconds: 60}
	if got := RefreshInterval(cfg); got != 0 {
		t.Fatalf("expected disabled refresh, got %s", got)
	}
}
