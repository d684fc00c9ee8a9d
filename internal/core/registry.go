package core

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
)

// RegistryService provides plugin discovery to clients over HTTP.
type RegistryService struct {
	plugins []Plugin
	mu      sync.RWMutex
}

func NewRegistryService(plugins []Plugin) *RegistryService {
	return &RegistryService{plugins: plugins}
}

// PluginSummary is the wire shape for plugin listings.
type PluginSummary struct {
	PluginID    string `json:"plugin_id"`
	DisplayName string `json:"display_name"`
	Version     string `json:"version"`
	Status      string `json:"status"`
}

// PluginDescriptor is the wire shape for a single plugin description.
type PluginDescriptor struct {
	PluginSummary
	Endpoints     []string `json:"endpoints,omitempty"`
	Dashboards    []string `json:"dashboards,omitempty"`
	HealthMessage string   `json:"health_message,omitempty"`
}

// RegisterHTTP mounts /api/v1/plugins and /api/v1/plugins/{id}.
func (r *RegistryService) RegisterHTTP(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/plugins", r.handleList)
	mux.HandleFunc("/api/v1/plugins/", r.handleDescribe)
}

func (r *RegistryService) handleList(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PluginSummary, 0, len(r.plugins))
	for _, p := range r.plugins {
		manifest := p.Manifest()
		out = append(out, PluginSummary{
			PluginID:    manifest.PluginID,
			DisplayName: manifest.DisplayName,
			Version:     manifest.Version,
			Status:      string(p.Health()),
		})
	}

	writeJSON(w, http.StatusOK, out)
}

func (r *RegistryService) handleDescribe(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(req.URL.Path, "/api/v1/plugins/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, req)
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		manifest := p.Manifest()
		if manifest.PluginID != id {
			continue
		}

		descriptor := PluginDescriptor{
			PluginSummary: PluginSummary{
				PluginID:    manifest.PluginID,
				DisplayName: manifest.DisplayName,
				Version:     manifest.Version,
				Status:      string(p.Health()),
			},
			Endpoints:     manifest.Endpoints,
			HealthMessage: p.HealthMessage(),
		}
		for _, d := range p.Dashboards() {
			descriptor.Dashboards = append(descriptor.Dashboards, "/dashboards/"+manifest.PluginID+"/"+d.Name+".json")
		}

		writeJSON(w, http.StatusOK, descriptor)
		return
	}

	http.NotFound(w, req)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
