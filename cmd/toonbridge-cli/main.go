package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultAddr = "http://127.0.0.1:8080"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	client := &apiClient{
		base: resolveAddr(),
		http: &http.Client{Timeout: 30 * time.Second},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "plugins":
		pluginsCmd(ctx, client, os.Args[2:])
	case "toon":
		toonCmd(ctx, client, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Println("toonbridge-cli <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  plugins list")
	fmt.Println("  plugins describe <id>")
	fmt.Println("  toon status")
	fmt.Println("  toon agreements")
	fmt.Println("  toon set-temp <celsius>")
	fmt.Println("  toon set-state <comfort|home|sleep|away|holiday>")
	fmt.Println("  toon resume")
	fmt.Println("  toon flows <gas|electricity>")
	fmt.Println("  toon unpair")
	fmt.Println("")
	fmt.Printf("Daemon address comes from TOONBRIDGE_ADDR (default %s)\n", defaultAddr)
}

func resolveAddr() string {
	if addr := os.Getenv("TOONBRIDGE_ADDR"); addr != "" {
		if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
			return "http://" + addr
		}
		return strings.TrimSuffix(addr, "/")
	}
	return defaultAddr
}

type apiClient struct {
	base string
	http *http.Client
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *apiClient) post(ctx context.Context, path string, payload any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, nil)
}

func (c *apiClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func pluginsCmd(ctx context.Context, client *apiClient, args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	switch args[0] {
	case "list":
		var plugins []struct {
			PluginID    string `json:"plugin_id"`
			DisplayName string `json:"display_name"`
			Version     string `json:"version"`
			Status      string `json:"status"`
		}
		if err := client.get(ctx, "/api/v1/plugins", &plugins); err != nil {
			fatal("list plugins", err)
		}
		for _, plugin := range plugins {
			fmt.Printf("%s\t%s\t%s\t%s\n", plugin.PluginID, plugin.DisplayName, plugin.Version, plugin.Status)
		}
	case "describe":
		if len(args) < 2 {
			fatal("describe", fmt.Errorf("missing plugin id"))
		}
		var plugin struct {
			PluginID      string   `json:"plugin_id"`
			DisplayName   string   `json:"display_name"`
			Version       string   `json:"version"`
			Status        string   `json:"status"`
			Endpoints     []string `json:"endpoints"`
			Dashboards    []string `json:"dashboards"`
			HealthMessage string   `json:"health_message"`
		}
		if err := client.get(ctx, "/api/v1/plugins/"+args[1], &plugin); err != nil {
			fatal("describe plugin", err)
		}
		fmt.Printf("id: %s\n", plugin.PluginID)
		fmt.Printf("name: %s\n", plugin.DisplayName)
		fmt.Printf("version: %s\n", plugin.Version)
		fmt.Printf("status: %s\n", plugin.Status)
		if plugin.HealthMessage != "" {
			fmt.Printf("health: %s\n", plugin.HealthMessage)
		}
		fmt.Println("endpoints:")
		for _, endpoint := range plugin.Endpoints {
			fmt.Printf("  - %s\n", endpoint)
		}
		fmt.Println("dashboards:")
		for _, dash := range plugin.Dashboards {
			fmt.Printf("  - %s\n", dash)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func toonCmd(ctx context.Context, client *apiClient, args []string) {
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	switch args[0] {
	case "status":
		var readings map[string]any
		if err := client.get(ctx, "/api/v1/toon/status", &readings); err != nil {
			fatal("toon status", err)
		}
		printJSON(readings)
	case "agreements":
		var agreements []struct {
			AgreementID       string `json:"agreementId"`
			DisplayCommonName string `json:"displayCommonName"`
			HeatingType       string `json:"heatingType"`
		}
		if err := client.get(ctx, "/api/v1/toon/agreements", &agreements); err != nil {
			fatal("toon agreements", err)
		}
		for _, agreement := range agreements {
			fmt.Printf("%s\t%s\t%s\n", agreement.AgreementID, agreement.DisplayCommonName, agreement.HeatingType)
		}
	case "set-temp":
		if len(args) < 2 {
			fatal("toon set-temp", fmt.Errorf("usage: toonbridge-cli toon set-temp <celsius>"))
		}
		celsius, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			fatal("toon set-temp", fmt.Errorf("invalid temperature %q", args[1]))
		}
		payload := map[string]float64{"celsius": celsius}
		if err := client.post(ctx, "/api/v1/toon/temperature", payload); err != nil {
			fatal("toon set-temp", err)
		}
		fmt.Printf("setpoint %.1f°C requested\n", celsius)
	case "set-state":
		if len(args) < 2 {
			fatal("toon set-state", fmt.Errorf("usage: toonbridge-cli toon set-state <state>"))
		}
		payload := map[string]string{"state": args[1]}
		if err := client.post(ctx, "/api/v1/toon/state", payload); err != nil {
			fatal("toon set-state", err)
		}
		fmt.Printf("state %s requested\n", args[1])
	case "resume":
		if err := client.post(ctx, "/api/v1/toon/resume", nil); err != nil {
			fatal("toon resume", err)
		}
		fmt.Println("program resumed")
	case "unpair":
		if err := client.post(ctx, "/api/v1/toon/unpair", nil); err != nil {
			fatal("toon unpair", err)
		}
		fmt.Println("unpaired")
	case "flows":
		if len(args) < 2 || (args[1] != "gas" && args[1] != "electricity") {
			fatal("toon flows", fmt.Errorf("usage: toonbridge-cli toon flows <gas|electricity>"))
		}
		var samples []struct {
			Timestamp int64    `json:"timestamp"`
			Value     *float64 `json:"value"`
		}
		if err := client.get(ctx, "/api/v1/toon/consumption/"+args[1], &samples); err != nil {
			fatal("toon flows", err)
		}
		for _, sample := range samples {
			if sample.Value == nil {
				continue
			}
			fmt.Printf("%s\t%.3f\n", time.UnixMilli(sample.Timestamp).Format(time.RFC3339), *sample.Value)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal("encode", err)
	}
	fmt.Println(string(data))
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
