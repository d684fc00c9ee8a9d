package core

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mklaassen/toonbridge/internal/oauth"
)

type stubPlugin struct {
	id            string
	name          string
	version       string
	endpoints     []string
	dashboards    []Dashboard
	health        HealthStatus
	healthMessage string
}

func (s stubPlugin) ID() string { return s.id }

func (s stubPlugin) Manifest() Manifest {
	return Manifest{
		PluginID:    s.id,
		DisplayName: s.name,
		Version:     s.version,
		Endpoints:   s.endpoints,
	}
}

func (s stubPlugin) OAuthDeclaration() oauth.Declaration { return oauth.Declaration{} }

func (s stubPlugin) Dashboards() []Dashboard { return s.dashboards }

func (s stubPlugin) Collectors() []prometheus.Collector { return nil }

func (s stubPlugin) Health() HealthStatus { return s.health }

func (s stubPlugin) HealthMessage() string { return s.healthMessage }

func newStubPlugin(id string) stubPlugin {
	return stubPlugin{
		id:         id,
		name:       "Demo",
		version:    "0.1.0",
		endpoints:  []string{"/api/v1/demo/status"},
		health:     HealthHealthy,
		dashboards: []Dashboard{{Name: "demo", JSON: []byte("{}")}},
	}
}

func registryMux(plugins ...Plugin) *http.ServeMux {
	mux := http.NewServeMux()
	NewRegistryService(plugins).RegisterHTTP(mux)
	return mux
}

func TestRegistryListPlugins(t *testing.T) {
	mux := registryMux(newStubPlugin("demo"))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/plugins", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var summaries []PluginSummary
	if err := json.NewDecoder(rec.Body).Decode(&summaries); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 plugin, got %d", len(summaries))
	}
	got := summaries[0]
	if got.PluginID != "demo" || got.DisplayName != "Demo" || got.Version != "0.1.0" {
		t.Fatalf("unexpected plugin summary: %+v", got)
	}
	if got.Status != string(HealthHealthy) {
		t.Fatalf("unexpected health status: %s", got.Status)
	}
}

func TestRegistryDescribePlugin(t *testing.T) {
	mux := registryMux(newStubPlugin("demo"))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/plugins/demo", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var descriptor PluginDescriptor
	if err := json.NewDecoder(rec.Body).Decode(&descriptor); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if descriptor.PluginID != "demo" {
		t.Fatalf("unexpected plugin id: %s", descriptor.PluginID)
	}
	if len(descriptor.Dashboards) != 1 || descriptor.Dashboards[0] != "/dashboards/demo/demo.json" {
		t.Fatalf("unexpected dashboards: %v", descriptor.Dashboards)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/plugins/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown plugin, got %d", rec.Code)
	}
}

func TestFilterPlugins(t *testing.T) {
	compiled := []Plugin{newStubPlugin("demo"), newStubPlugin("extra")}

	active := FilterPlugins(compiled, map[string]bool{"demo": true}, false)
	if len(active) != 1 || active[0].ID() != "demo" {
		t.Fatalf("unexpected active plugins: %v", active)
	}

	active = FilterPlugins(compiled, map[string]bool{}, true)
	if len(active) != 2 {
		t.Fatalf("expected all plugins, got %d", len(active))
	}
}

func TestValidateEnabledPlugins(t *testing.T) {
	compiled := []Plugin{newStubPlugin("demo")}

	if err := ValidateEnabledPlugins(compiled, map[string]bool{"demo": true}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := ValidateEnabledPlugins(compiled, map[string]bool{"missing": true}, false); err == nil {
		t.Fatalf("expected error for missing plugin")
	}
}

func TestValidatePlugins(t *testing.T) {
	if err := ValidatePlugins([]Plugin{newStubPlugin("demo"), newStubPlugin("demo")}); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	if err := ValidatePlugins([]Plugin{newStubPlugin("Bad-ID")}); err == nil {
		t.Fatalf("expected invalid id error")
	}
}
