package toon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestService(t *testing.T) (*Service, *recordingPublisher) {
	t.Helper()

	var tokenRequests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			tokenEndpoint(&tokenRequests)(w, r)
			return
		}
		t.Errorf("unexpected vendor call: %s", r.URL.Path)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	client := newTestClient(t, server.URL)
	publisher := &recordingPublisher{}
	return NewService(client, publisher, nil), publisher
}

const pushJSON = `{
  "appId": "client-id",
  "commonName": "eneco-001",
  "timestamp": 1700000000000,
  "updateDataSet": {
    "thermostatInfo": {
      "currentDisplayTemp": 2050,
      "currentSetpoint": 1900,
      "activeState": 1,
      "programState": 1
    }
  }
}`

func postWebhook(t *testing.T, service *Service, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/toon/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	service.handleWebhook(rec, req)
	return rec
}

func TestWebhookAppliesPush(t *testing.T) {
	service, publisher := newTestService(t)

	rec := postWebhook(t, service, pushJSON)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	readings := service.Mirror().Snapshot()
	if readings.DisplayTemperature == nil || *readings.DisplayTemperature != 20.5 {
		t.Fatalf("unexpected display temperature: %v", readings.DisplayTemperature)
	}
	if readings.TargetTemperature == nil || *readings.TargetTemperature != 19.0 {
		t.Fatalf("unexpected target temperature: %v", readings.TargetTemperature)
	}
	if readings.TemperatureState == nil || *readings.TemperatureState != StateHome {
		t.Fatalf("unexpected state: %v", readings.TemperatureState)
	}
	if publisher.count() != 4 {
		t.Fatalf("expected 4 capability events, got %d", publisher.count())
	}
}

func TestWebhookDuplicateInWindowEmitsNothing(t *testing.T) {
	service, publisher := newTestService(t)

	postWebhook(t, service, pushJSON)
	before := publisher.count()

	rec := postWebhook(t, service, pushJSON)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status for duplicate: %d", rec.Code)
	}
	if publisher.count() != before {
		t.Fatalf("duplicate push emitted events: %d -> %d", before, publisher.count())
	}
}

func TestWebhookNewTimestampPasses(t *testing.T) {
	service, publisher := newTestService(t)

	postWebhook(t, service, pushJSON)
	before := publisher.count()

	// Same display, later timestamp, changed value.
	next := strings.Replace(pushJSON, "1700000000000", "1700000005000", 1)
	next = strings.Replace(next, `"currentDisplayTemp": 2050`, `"currentDisplayTemp": 2100`, 1)
	postWebhook(t, service, next)

	if publisher.count() != before+1 {
		t.Fatalf("expected one new event, got %d -> %d", before, publisher.count())
	}
	readings := service.Mirror().Snapshot()
	if readings.DisplayTemperature == nil || *readings.DisplayTemperature != 21.0 {
		t.Fatalf("unexpected display temperature: %v", readings.DisplayTemperature)
	}
}

func TestWebhookDistinctBlocksShareTimestamp(t *testing.T) {
	service, publisher := newTestService(t)

	postWebhook(t, service, pushJSON)
	before := publisher.count()

	// Same envelope timestamp, different data block: not a duplicate.
	power := `{
	  "commonName": "eneco-001",
	  "timestamp": 1700000000000,
	  "updateDataSet": {
	    "powerUsage": {
	      "value": 356,
	      "meterReading": 9876543
	    }
	  }
	}`
	rec := postWebhook(t, service, power)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if publisher.count() <= before {
		t.Fatalf("power push sharing the envelope timestamp was dropped: %d -> %d", before, publisher.count())
	}

	readings := service.Mirror().Snapshot()
	if readings.PowerWatts == nil || *readings.PowerWatts != 356 {
		t.Fatalf("unexpected power reading: %v", readings.PowerWatts)
	}
}

func TestWebhookExpiredWindowPassesAgain(t *testing.T) {
	service, publisher := newTestService(t)

	base := time.Now()
	service.debounce.now = func() time.Time { return base }
	postWebhook(t, service, pushJSON)
	before := publisher.count()

	// Outside the window the same envelope is processed again; identical
	// values still emit nothing because the mirror did not change.
	service.debounce.now = func() time.Time { return base.Add(3 * time.Second) }
	rec := postWebhook(t, service, pushJSON)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if publisher.count() != before {
		t.Fatalf("identical values emitted events: %d -> %d", before, publisher.count())
	}
}

func TestWebhookForeignDisplayIgnored(t *testing.T) {
	service, publisher := newTestService(t)

	agreement := Agreement{AgreementID: "1", DisplayCommonName: "eneco-001"}
	service.client.mu.Lock()
	service.client.agreement = &agreement
	service.client.mu.Unlock()

	foreign := strings.Replace(pushJSON, "eneco-001", "eneco-999", 1)
	rec := postWebhook(t, service, foreign)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if publisher.count() != 0 {
		t.Fatalf("foreign push emitted events: %d", publisher.count())
	}
	if !service.Mirror().Snapshot().UpdatedAt.IsZero() {
		t.Fatalf("foreign push touched the mirror")
	}
}

func TestWebhookRejectsBadPayload(t *testing.T) {
	service, _ := newTestService(t)

	rec := postWebhook(t, service, "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad payload, got %d", rec.Code)
	}
}

func TestWebhookRejectsWrongMethod(t *testing.T) {
	service, _ := newTestService(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/toon/webhook", nil)
	rec := httptest.NewRecorder()
	service.handleWebhook(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestWebhookEmptyDataSetIsNoop(t *testing.T) {
	service, publisher := newTestService(t)

	rec := postWebhook(t, service, `{"commonName":"eneco-001","timestamp":1}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if publisher.count() != 0 {
		t.Fatalf("empty data set emitted events: %d", publisher.count())
	}
}

func TestRegisterWebhookRetriesOn500(t *testing.T) {
	var tokenRequests, attempts int

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
		case "/1/webhooks":
			attempts++
			if attempts < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	t.Cleanup(server.Close)

	client := newTestClient(t, server.URL)
	client.cfg.WebhookCallbackURL = "https://bridge.example/api/v1/toon/webhook"

	if err := client.RegisterWebhook(context.Background()); err != nil {
		t.Fatalf("RegisterWebhook: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 registration attempts, got %d", attempts)
	}
}

func TestDebouncerPrunesOldEntries(t *testing.T) {
	d := newDebouncer(2 * time.Second)
	base := time.Now()
	d.now = func() time.Time { return base }

	if d.duplicate("a/1") {
		t.Fatalf("first sight flagged as duplicate")
	}
	if !d.duplicate("a/1") {
		t.Fatalf("second sight inside window not flagged")
	}

	d.now = func() time.Time { return base.Add(5 * time.Second) }
	if d.duplicate("a/1") {
		t.Fatalf("expired entry still flagged as duplicate")
	}
	if len(d.seen) != 1 {
		t.Fatalf("expected pruned map with 1 entry, got %d", len(d.seen))
	}
}
