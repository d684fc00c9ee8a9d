package oauth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type memoryBlobStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memoryBlobStore) Load(_ context.Context, provider string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if data, ok := m.data[provider]; ok {
		return data, nil
	}
	return nil, ErrBlobNotFound
}

func (m *memoryBlobStore) Save(_ context.Context, provider string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[provider] = data
	return nil
}

func newTestManager(t *testing.T, tokenURL string) *Manager {
	t.Helper()
	statePath := filepath.Join(t.TempDir(), "state.json")
	bootstrap := Bootstrap{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RefreshToken: "refresh-token",
		Scope:        "thermostat",
	}
	decl := Declaration{
		Provider:  "toon",
		TokenURL:  tokenURL,
		Scope:     "thermostat",
		StatePath: statePath,
	}
	m, err := NewManagerFromBootstrap(decl, bootstrap, &memoryBlobStore{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestRefreshSingleFlight(t *testing.T) {
	var tokenRequests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenRequests.Add(1)
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok","refresh_token":"next","expires_in":3600,"token_type":"Bearer"}`)
	}))
	defer server.Close()

	m := newTestManager(t, server.URL)

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.Refresh(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("refresh: %v", err)
		}
	}
	if got := tokenRequests.Load(); got != 1 {
		t.Fatalf("expected a single token request, got %d", got)
	}

	token, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if token != "tok" {
		t.Fatalf("unexpected token: %q", token)
	}
}

func TestRefreshFailureRejectsAllWaiters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(20 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
	}))
	defer server.Close()

	m := newTestManager(t, server.URL)

	const callers = 4
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.Refresh(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err == nil {
			t.Fatal("expected refresh error for every waiter")
		}
	}
}

func TestTokenRefreshesOnDemand(t *testing.T) {
	var tokenRequests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		tokenRequests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok","expires_in":3600,"token_type":"Bearer"}`)
	}))
	defer server.Close()

	m := newTestManager(t, server.URL)

	if _, err := m.AccessToken(context.Background()); err == nil {
		t.Fatal("expected no cached token before refresh")
	}

	for i := 0; i < 3; i++ {
		token, err := m.Token(context.Background())
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		if token != "tok" {
			t.Fatalf("unexpected token: %q", token)
		}
	}
	if got := tokenRequests.Load(); got != 1 {
		t.Fatalf("expected one refresh for repeated Token calls, got %d", got)
	}
}

func TestScopeMismatchRejected(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	state := State{
		SchemaVersion: SchemaVersion,
		ClientID:      "client-id",
		ClientSecret:  "client-secret",
		RefreshToken:  "refresh-token",
		Scope:         "other-scope",
	}
	if err := WriteState(statePath, state); err != nil {
		t.Fatalf("write state: %v", err)
	}

	decl := Declaration{
		Provider:  "toon",
		TokenURL:  "https://example.invalid/token",
		Scope:     "thermostat",
		StatePath: statePath,
	}
	bootstrap := Bootstrap{ClientID: "client-id", ClientSecret: "client-secret"}
	if _, err := NewManagerFromBootstrap(decl, bootstrap, &memoryBlobStore{}); !errors.Is(err, ErrScopeMismatch) {
		t.Fatalf("expected ErrScopeMismatch, got %v", err)
	}
}
