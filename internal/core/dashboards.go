package core

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
)

// DashboardsMap keys each plugin's embedded dashboard JSON by the URL path
// it is served under.
func DashboardsMap(plugins []Plugin) map[string][]byte {
	out := make(map[string][]byte)
	for _, plugin := range plugins {
		id := plugin.Manifest().PluginID
		for _, dash := range plugin.Dashboards() {
			out[path.Join("/dashboards", id, dash.Name+".json")] = dash.JSON
		}
	}
	return out
}

// WriteDashboards materializes dashboards under dir for Grafana file
// provisioning, one subdirectory per plugin. An empty dir disables
// provisioning.
func WriteDashboards(dir string, plugins []Plugin) error {
	if dir == "" {
		return nil
	}

	for _, plugin := range plugins {
		id := plugin.Manifest().PluginID
		dashboards := plugin.Dashboards()
		if len(dashboards) == 0 {
			continue
		}
		if err := os.MkdirAll(filepath.Join(dir, id), 0o755); err != nil {
			return fmt.Errorf("dashboard dir for %s: %w", id, err)
		}
		for _, dash := range dashboards {
			target := filepath.Join(dir, id, dash.Name+".json")
			if err := os.WriteFile(target, dash.JSON, 0o644); err != nil {
				return fmt.Errorf("write dashboard %s: %w", target, err)
			}
		}
	}

	return nil
}
