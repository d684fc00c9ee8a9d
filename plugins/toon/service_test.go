package toon

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newCommandService(t *testing.T) (*Service, *string) {
	t.Helper()

	var tokenRequests int
	var putBody string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			tokenEndpoint(&tokenRequests)(w, r)
		case "/agreements":
			if r.Method == http.MethodPost {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(agreementsJSON))
		case "/1/thermostat":
			if r.Method == http.MethodPut {
				body, _ := io.ReadAll(r.Body)
				putBody = string(body)
				w.WriteHeader(http.StatusOK)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"currentDisplayTemp":2050,"currentSetpoint":1800,"activeState":1,"programState":1}`))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	t.Cleanup(server.Close)

	client := newTestClient(t, server.URL)
	return NewService(client, &recordingPublisher{}, nil), &putBody
}

func serveMux(service *Service) *http.ServeMux {
	mux := http.NewServeMux()
	service.RegisterHTTP(mux)
	return mux
}

func TestCommandAPISetTemperature(t *testing.T) {
	service, putBody := newCommandService(t)
	mux := serveMux(service)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/toon/temperature", strings.NewReader(`{"celsius":21.5}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(*putBody, `"currentSetpoint":2150`) {
		t.Fatalf("setpoint not written: %s", *putBody)
	}
}

func TestCommandAPIRejectsInvalidTemperature(t *testing.T) {
	service, putBody := newCommandService(t)
	mux := serveMux(service)

	cases := []string{
		`{}`,
		`{"celsius":null}`,
		`{"celsius":45}`,
		`{"celsius":1}`,
		`not json`,
	}
	for _, body := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/toon/temperature", strings.NewReader(body))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
	if *putBody != "" {
		t.Fatalf("invalid input reached the vendor: %s", *putBody)
	}
}

func TestCommandAPISetState(t *testing.T) {
	service, putBody := newCommandService(t)
	mux := serveMux(service)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/toon/state", strings.NewReader(`{"state":"away"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(*putBody, `"activeState":3`) {
		t.Fatalf("state not written: %s", *putBody)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/toon/state", strings.NewReader(`{"state":"tropical"}`))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown state, got %d", rec.Code)
	}
}

func TestCommandAPIResume(t *testing.T) {
	service, putBody := newCommandService(t)
	mux := serveMux(service)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/toon/resume", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(*putBody, `"programState":1`) {
		t.Fatalf("resume not written: %s", *putBody)
	}
}

func TestCommandAPIConsumptionFlows(t *testing.T) {
	var tokenRequests int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/token":
			tokenEndpoint(&tokenRequests)(w, r)
		case r.URL.Path == "/agreements":
			if r.Method == http.MethodPost {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(agreementsJSON))
		case strings.HasPrefix(r.URL.Path, "/1/consumption/gas/flows"):
			if r.URL.Query().Get("fromTime") == "" || r.URL.Query().Get("toTime") == "" {
				t.Errorf("missing window params: %s", r.URL.RawQuery)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"hours":[{"timestamp":1700000000000,"value":12.5}]}`))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	t.Cleanup(server.Close)

	service := NewService(newTestClient(t, server.URL), &recordingPublisher{}, nil)
	mux := serveMux(service)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/toon/consumption/gas", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	var samples []FlowSample
	if err := json.NewDecoder(rec.Body).Decode(&samples); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(samples) != 1 || samples[0].Value == nil || *samples[0].Value != 12.5 {
		t.Fatalf("unexpected samples: %+v", samples)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/toon/consumption/water", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown resource, got %d", rec.Code)
	}
}

func TestCommandAPIUnpair(t *testing.T) {
	var tokenRequests int
	var webhookDeleted bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/token":
			tokenEndpoint(&tokenRequests)(w, r)
		case r.URL.Path == "/agreements":
			if r.Method == http.MethodPost {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(agreementsJSON))
		case r.Method == http.MethodDelete && r.URL.Path == "/1/webhooks/client-id":
			webhookDeleted = true
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected call: %s %s", r.Method, r.URL.Path)
		}
	}))
	t.Cleanup(server.Close)

	client := newTestClient(t, server.URL)
	client.cfg.WebhookCallbackURL = "https://bridge.example/api/v1/toon/webhook"
	service := NewService(client, &recordingPublisher{}, nil)

	temp := 20.5
	service.mirror.mu.Lock()
	service.mirror.readings.DisplayTemperature = &temp
	service.mirror.mu.Unlock()

	mux := serveMux(service)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/toon/unpair", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	if !webhookDeleted {
		t.Fatalf("expected webhook unregistration")
	}
	if _, ok := service.client.CachedAgreement(); ok {
		t.Fatalf("agreement still cached after unpair")
	}
	if service.Mirror().Snapshot().DisplayTemperature != nil {
		t.Fatalf("mirror not reset after unpair")
	}
}

func TestCommandAPIStatusServesMirror(t *testing.T) {
	service, _ := newCommandService(t)
	mux := serveMux(service)

	temp := 20.5
	service.mirror.mu.Lock()
	service.mirror.readings.DisplayTemperature = &temp
	service.mirror.mu.Unlock()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/toon/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var readings Readings
	if err := json.NewDecoder(rec.Body).Decode(&readings); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if readings.DisplayTemperature == nil || *readings.DisplayTemperature != 20.5 {
		t.Fatalf("unexpected readings: %+v", readings)
	}
}
