package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/oauth2"
)

const DefaultRefreshInterval = 10 * time.Minute

// expirySlack is how close to expiry a cached access token is still handed out.
const expirySlack = 30 * time.Second

var ErrScopeMismatch = errors.New("oauth scope mismatch")

// attempt is one refresh round-trip. Every caller that joins while it is in
// flight observes the same outcome: err is written before done is closed.
type attempt struct {
	done chan struct{}
	err  error
}

// Manager owns the refresh token for one provider and hands out cached access
// tokens. Refreshes are single-flight: concurrent callers queue on the
// in-flight attempt and are resolved or rejected together.
type Manager struct {
	decl       Declaration
	blobStore  BlobStore
	httpClient *http.Client

	mu           sync.Mutex
	accessToken  string
	expiresAt    time.Time
	refreshToken string
	scope        string
	clientID     string
	clientSecret string
	inflight     *attempt
	config       *oauth2.Config
}

func NewManager(decl Declaration, bootstrapPath string, blobStore BlobStore) (*Manager, error) {
	if bootstrapPath == "" {
		return nil, fmt.Errorf("bootstrap path is required")
	}
	bootstrap, err := LoadBootstrap(bootstrapPath)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return NewManagerFromBootstrap(decl, bootstrap, blobStore)
}

// NewManagerFromBootstrap creates an OAuth manager from an inline Bootstrap.
func NewManagerFromBootstrap(decl Declaration, bootstrap Bootstrap, blobStore BlobStore) (*Manager, error) {
	if decl.Provider == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if decl.Scope == "" {
		return nil, fmt.Errorf("scope is required")
	}
	if decl.TokenURL == "" {
		return nil, fmt.Errorf("tokenURL is required")
	}
	if decl.StatePath == "" {
		return nil, fmt.Errorf("statePath is required")
	}
	if !filepath.IsAbs(decl.StatePath) {
		return nil, fmt.Errorf("statePath must be absolute")
	}
	if blobStore == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if err := bootstrap.Validate(); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	m := &Manager{
		decl:         decl,
		blobStore:    blobStore,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		clientID:     bootstrap.ClientID,
		clientSecret: bootstrap.ClientSecret,
		config: &oauth2.Config{
			ClientID:     bootstrap.ClientID,
			ClientSecret: bootstrap.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  decl.AuthorizeURL,
				TokenURL: decl.TokenURL,
			},
			Scopes: strings.Fields(decl.Scope),
		},
	}

	state, err := m.loadInitialState(bootstrap)
	if err != nil {
		return nil, err
	}

	m.refreshToken = state.RefreshToken
	m.scope = state.Scope

	return m, nil
}

// Start launches the background refresh loop that keeps the cached access
// token warm ahead of expiry.
func (m *Manager) Start(ctx context.Context) {
	m.StartWithInterval(ctx, DefaultRefreshInterval)
}

func (m *Manager) StartWithInterval(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	threshold := interval
	if threshold < 30*time.Second {
		threshold = 30 * time.Second
	}
	m.refreshIfNeeded(ctx, threshold)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.refreshIfNeeded(ctx, threshold)
			}
		}
	}()
}

// ClientID returns the OAuth client id; vendors reuse it as the webhook
// application id.
func (m *Manager) ClientID() string {
	return m.clientID
}

// AccessToken returns the cached access token without refreshing.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	_ = ctx
	if token, ok := m.cachedToken(); ok {
		return token, nil
	}
	tokenValid.WithLabelValues(m.decl.Provider).Set(0)
	return "", fmt.Errorf("oauth token unavailable")
}

// Token returns a usable access token, refreshing on demand when the cache is
// empty or near expiry.
func (m *Manager) Token(ctx context.Context) (string, error) {
	if token, ok := m.cachedToken(); ok {
		return token, nil
	}
	if err := m.Refresh(ctx); err != nil {
		return "", err
	}
	token, ok := m.cachedToken()
	if !ok {
		return "", fmt.Errorf("oauth token unavailable after refresh")
	}
	return token, nil
}

// Refresh performs a token refresh, joining the in-flight attempt if one
// exists. All waiters receive the outcome of the attempt they joined.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if current := m.inflight; current != nil {
		m.mu.Unlock()
		select {
		case <-current.done:
			return current.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	current := &attempt{done: make(chan struct{})}
	m.inflight = current
	m.mu.Unlock()

	// The refresh itself runs on a background context: a caller giving up
	// must not cancel the attempt its peers are queued on.
	current.err = m.refresh(context.Background())

	m.mu.Lock()
	m.inflight = nil
	m.mu.Unlock()
	close(current.done)

	return current.err
}

func (m *Manager) cachedToken() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.accessToken != "" && time.Until(m.expiresAt) > expirySlack {
		return m.accessToken, true
	}
	return "", false
}

func (m *Manager) refreshIfNeeded(ctx context.Context, threshold time.Duration) {
	m.mu.Lock()
	need := m.accessToken == "" || time.Until(m.expiresAt) <= threshold
	m.mu.Unlock()
	if !need {
		return
	}
	_ = m.Refresh(ctx)
}

func (m *Manager) refresh(ctx context.Context) error {
	m.mu.Lock()
	refreshToken := m.refreshToken
	m.mu.Unlock()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	source := m.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		refreshFailure.WithLabelValues(m.decl.Provider).Inc()
		tokenValid.WithLabelValues(m.decl.Provider).Set(0)
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			body := strings.TrimSpace(string(retrieveErr.Body))
			return fmt.Errorf("token refresh failed %d: %s", retrieveErr.Response.StatusCode, body)
		}
		return err
	}

	m.mu.Lock()
	m.accessToken = token.AccessToken
	m.expiresAt = token.Expiry
	if token.RefreshToken != "" {
		m.refreshToken = token.RefreshToken
	}
	state := State{
		SchemaVersion: SchemaVersion,
		ClientID:      m.clientID,
		ClientSecret:  m.clientSecret,
		RefreshToken:  m.refreshToken,
		Scope:         m.scope,
	}
	m.mu.Unlock()

	if err := WriteState(m.decl.StatePath, state); err != nil {
		refreshFailure.WithLabelValues(m.decl.Provider).Inc()
		return fmt.Errorf("persist state: %w", err)
	}
	if err := m.persistBlob(ctx, state); err != nil {
		remotePersistOK.WithLabelValues(m.decl.Provider).Set(0)
	} else {
		remotePersistOK.WithLabelValues(m.decl.Provider).Set(1)
	}

	refreshSuccess.WithLabelValues(m.decl.Provider).Inc()
	tokenValid.WithLabelValues(m.decl.Provider).Set(1)
	return nil
}

// loadInitialState resolves the refresh token at startup: local state file,
// then blob mirror, then the bootstrap seed.
func (m *Manager) loadInitialState(bootstrap Bootstrap) (State, error) {
	local, localErr := LoadState(m.decl.StatePath)
	if localErr == nil {
		if err := checkStateFile(m.decl.StatePath); err != nil {
			return State{}, err
		}
		return m.pinScopeAndMirror(local, bootstrap)
	}

	blob, blobErr := m.loadFromBlob(context.Background())
	if blobErr == nil {
		state, err := m.pinScopeAndMirror(blob, bootstrap)
		if err != nil {
			return State{}, err
		}
		if err := WriteState(m.decl.StatePath, state); err != nil {
			return State{}, err
		}
		return state, nil
	}

	if !errors.Is(blobErr, ErrBlobNotFound) {
		if !errors.Is(localErr, ErrStateNotFound) {
			return State{}, localErr
		}
		return State{}, blobErr
	}

	if bootstrap.RefreshToken == "" {
		return State{}, fmt.Errorf("bootstrap missing refresh_token; run the oauth runner first")
	}

	state := State{
		SchemaVersion: SchemaVersion,
		ClientID:      bootstrap.ClientID,
		ClientSecret:  bootstrap.ClientSecret,
		RefreshToken:  bootstrap.RefreshToken,
		Scope:         bootstrap.Scope,
	}
	state, err := m.pinScopeAndMirror(state, bootstrap)
	if err != nil {
		return State{}, err
	}
	if err := WriteState(m.decl.StatePath, state); err != nil {
		return State{}, err
	}
	return state, nil
}

func (m *Manager) pinScopeAndMirror(state State, bootstrap Bootstrap) (State, error) {
	if state.Scope != "" && state.Scope != m.decl.Scope {
		scopeMismatch.WithLabelValues(m.decl.Provider).Inc()
		return State{}, ErrScopeMismatch
	}
	if state.Scope == "" {
		state.Scope = m.decl.Scope
	}
	state.ClientID = bootstrap.ClientID
	state.ClientSecret = bootstrap.ClientSecret
	if err := m.persistBlob(context.Background(), state); err != nil {
		remotePersistOK.WithLabelValues(m.decl.Provider).Set(0)
	} else {
		remotePersistOK.WithLabelValues(m.decl.Provider).Set(1)
	}
	return state, nil
}

func (m *Manager) loadFromBlob(ctx context.Context) (State, error) {
	data, err := m.blobStore.Load(ctx, m.decl.Provider)
	if err != nil {
		return State{}, err
	}
	return DecodeState(data)
}

func (m *Manager) persistBlob(ctx context.Context, state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return m.blobStore.Save(ctx, m.decl.Provider, data)
}

func checkStateFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm() != 0o600 {
		return fmt.Errorf("state file %s must have 0600 permissions", path)
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if int(stat.Uid) != os.Geteuid() {
			return fmt.Errorf("state file %s must be owned by uid %d", path, os.Geteuid())
		}
	}
	return nil
}
