package core

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

type collectorPlugin struct {
	stubPlugin
	collectors []prometheus.Collector
}

func (c collectorPlugin) Collectors() []prometheus.Collector { return c.collectors }

func TestDashboardsMapKeysByURLPath(t *testing.T) {
	dashboards := DashboardsMap([]Plugin{newStubPlugin("demo")})

	content, ok := dashboards["/dashboards/demo/demo.json"]
	if !ok {
		t.Fatalf("missing dashboard path, got %v", dashboards)
	}
	if !bytes.Equal(content, []byte("{}")) {
		t.Fatalf("unexpected dashboard content: %s", content)
	}
}

func TestWriteDashboards(t *testing.T) {
	dir := t.TempDir()

	if err := WriteDashboards(dir, []Plugin{newStubPlugin("demo")}); err != nil {
		t.Fatalf("WriteDashboards: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, "demo", "demo.json"))
	if err != nil {
		t.Fatalf("read dashboard: %v", err)
	}
	if !bytes.Equal(content, []byte("{}")) {
		t.Fatalf("unexpected dashboard content: %s", content)
	}

	// An empty dir disables provisioning.
	if err := WriteDashboards("", []Plugin{newStubPlugin("demo")}); err != nil {
		t.Fatalf("WriteDashboards with empty dir: %v", err)
	}
}

func TestMetricsRegistryGathersPluginCollectors(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "demo_events_total",
		Help: "Demo events",
	})
	counter.Inc()

	plugin := collectorPlugin{
		stubPlugin: newStubPlugin("demo"),
		collectors: []prometheus.Collector{counter},
	}

	registry := MetricsRegistry([]Plugin{plugin})
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() == "demo_events_total" {
			return
		}
	}
	t.Fatalf("plugin collector not registered: %v", families)
}
