package toon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mklaassen/toonbridge/internal/oauth"
	"github.com/mklaassen/toonbridge/internal/rate"
)

var (
	ErrNoAgreement        = errors.New("toon: no agreement available")
	ErrAgreementAmbiguous = errors.New("toon: multiple agreements; set agreement_id or display_common_name")
	ErrAgreementNotFound  = errors.New("toon: configured agreement not found")
)

// HTTPStatusError is a vendor API error carrying the raw response body.
type HTTPStatusError struct {
	Status int
	Body   string
}

func (e HTTPStatusError) Error() string {
	return fmt.Sprintf("toon api error %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// Client talks to the Toon REST API. All agreement-scoped calls re-register
// the agreement and retry once when the vendor answers 500, and refresh the
// access token and replay once on 401.
type Client struct {
	baseURL    string
	cfg        Config
	oauth      *oauth.Manager
	httpClient *http.Client
	log        *logrus.Entry

	// Fixed-delay retry loop used by agreement and webhook registration.
	retryAttempts int
	retryDelay    time.Duration

	mu        sync.Mutex
	agreement *Agreement
}

func NewClient(cfg Config, decl oauth.Declaration, blobStore oauth.BlobStore, log *logrus.Entry) (*Client, error) {
	if blobStore == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	manager, err := oauth.NewManager(decl, cfg.BootstrapFile, blobStore)
	if err != nil {
		return nil, err
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	guard := rate.Provider("toon").
		MaxRequestsPer(rate.Minute, 30).
		MaxRequestsPer(rate.Hour, 300).
		BudgetFloor(rate.Hour, 5)

	return &Client{
		baseURL:       baseURL,
		cfg:           cfg,
		oauth:         manager,
		httpClient:    rate.WrapHTTP(guard, &http.Client{Timeout: 15 * time.Second}),
		log:           log.WithField("plugin", "toon"),
		retryAttempts: defaultRetryAttempts,
		retryDelay:    defaultRetryDelay,
	}, nil
}

// OAuth exposes the token manager for the background refresh loop.
func (c *Client) OAuth() *oauth.Manager {
	return c.oauth
}

// ApplicationID identifies this integration in webhook registrations.
func (c *Client) ApplicationID() string {
	return c.oauth.ClientID()
}

// Agreements lists all displays registered to the authenticated account.
func (c *Client) Agreements(ctx context.Context) ([]Agreement, error) {
	var agreements []Agreement
	if err := c.getJSON(ctx, "/agreements", &agreements); err != nil {
		return nil, err
	}
	return agreements, nil
}

// SetAgreement registers the agreement with the vendor so scoped calls work.
// The vendor requires this after pairing and again when an agreement goes
// cold on their side.
func (c *Client) SetAgreement(ctx context.Context, agreement Agreement) error {
	if agreement.AgreementID == "" {
		return ErrNoAgreement
	}
	payload := map[string]string{
		"agreementId":         agreement.AgreementID,
		"agreementIdChecksum": agreement.AgreementIDChecksum,
	}
	if err := c.postJSON(ctx, "/agreements", payload, nil); err != nil {
		return fmt.Errorf("set agreement: %w", err)
	}
	c.log.WithField("agreement", agreement.AgreementID).Info("agreement registered")
	return nil
}

// ResolveAgreement picks the configured agreement, registers it (with the
// fixed-delay retry loop; the vendor 500s intermittently right after
// pairing), and caches it for subsequent calls.
func (c *Client) ResolveAgreement(ctx context.Context) (Agreement, error) {
	c.mu.Lock()
	if c.agreement != nil {
		agreement := *c.agreement
		c.mu.Unlock()
		return agreement, nil
	}
	c.mu.Unlock()

	agreements, err := c.Agreements(ctx)
	if err != nil {
		return Agreement{}, err
	}
	if len(agreements) == 0 {
		return Agreement{}, ErrNoAgreement
	}

	selected, err := selectAgreement(agreements, c.cfg.AgreementID, c.cfg.DisplayCommonName)
	if err != nil {
		return Agreement{}, err
	}

	if err := c.RegisterAgreementWithRetry(ctx, selected); err != nil {
		return Agreement{}, err
	}

	c.mu.Lock()
	if c.agreement == nil {
		c.agreement = &selected
	}
	c.mu.Unlock()
	return selected, nil
}

// CachedAgreement returns the resolved agreement, if any.
func (c *Client) CachedAgreement() (Agreement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.agreement == nil {
		return Agreement{}, false
	}
	return *c.agreement, true
}

// ForgetAgreement drops the cached agreement; used on unpair.
func (c *Client) ForgetAgreement() {
	c.mu.Lock()
	c.agreement = nil
	c.mu.Unlock()
}

func selectAgreement(agreements []Agreement, wantID, wantName string) (Agreement, error) {
	if wantID != "" {
		for _, agreement := range agreements {
			if agreement.AgreementID == wantID {
				return agreement, nil
			}
		}
		return Agreement{}, fmt.Errorf("%w: agreement_id %s", ErrAgreementNotFound, wantID)
	}
	if wantName != "" {
		for _, agreement := range agreements {
			if strings.EqualFold(agreement.DisplayCommonName, wantName) {
				return agreement, nil
			}
		}
		return Agreement{}, fmt.Errorf("%w: display_common_name %s", ErrAgreementNotFound, wantName)
	}
	if len(agreements) > 1 {
		return Agreement{}, ErrAgreementAmbiguous
	}
	return agreements[0], nil
}

// Status fetches the full device state for the resolved agreement.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var status Status
	if err := c.agreementGet(ctx, "/status", &status); err != nil {
		return Status{}, err
	}
	return status, nil
}

// Thermostat fetches the current thermostat block; commands mutate it and
// write it back whole, as the vendor requires.
func (c *Client) Thermostat(ctx context.Context) (ThermostatInfo, error) {
	var info ThermostatInfo
	if err := c.agreementGet(ctx, "/thermostat", &info); err != nil {
		return ThermostatInfo{}, err
	}
	return info, nil
}

func (c *Client) PutThermostat(ctx context.Context, info ThermostatInfo) error {
	return c.agreementPut(ctx, "/thermostat", info)
}

// ConsumptionFlows returns a flow series for "gas" or "electricity".
func (c *Client) ConsumptionFlows(ctx context.Context, resource string, from, to time.Time) ([]FlowSample, error) {
	switch resource {
	case "gas", "electricity":
	default:
		return nil, fmt.Errorf("unknown consumption resource %q", resource)
	}
	path := fmt.Sprintf("/consumption/%s/flows?fromTime=%d&toTime=%d", resource, from.UnixMilli(), to.UnixMilli())
	var series flowSeries
	if err := c.agreementGet(ctx, path, &series); err != nil {
		return nil, err
	}
	return series.Hours, nil
}

// agreementGet scopes a GET to the resolved agreement, re-registering and
// retrying once on a vendor 500.
func (c *Client) agreementGet(ctx context.Context, path string, out any) error {
	return c.agreementCall(ctx, func(agreementID string) error {
		return c.getJSON(ctx, "/"+agreementID+path, out)
	})
}

func (c *Client) agreementPut(ctx context.Context, path string, payload any) error {
	return c.agreementCall(ctx, func(agreementID string) error {
		return c.putJSON(ctx, "/"+agreementID+path, payload)
	})
}

func (c *Client) agreementCall(ctx context.Context, call func(agreementID string) error) error {
	agreement, err := c.ResolveAgreement(ctx)
	if err != nil {
		return err
	}

	err = call(agreement.AgreementID)
	var statusErr HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusInternalServerError {
		return err
	}

	// A 500 from the vendor usually means the agreement went cold; one
	// re-registration, one retry.
	c.log.WithField("agreement", agreement.AgreementID).Warn("vendor returned 500; re-registering agreement")
	if regErr := c.SetAgreement(ctx, agreement); regErr != nil {
		return err
	}
	return call(agreement.AgreementID)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return HTTPStatusError{Status: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) putJSON(ctx context.Context, path string, payload any) error {
	return c.writeJSON(ctx, http.MethodPut, path, payload, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	return c.writeJSON(ctx, http.MethodPost, path, payload, out)
}

func (c *Client) deleteJSON(ctx context.Context, path string) error {
	resp, err := c.doRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return HTTPStatusError{Status: resp.StatusCode, Body: string(body)}
	}
	return nil
}

func (c *Client) writeJSON(ctx context.Context, method, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return HTTPStatusError{Status: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// doRequest sends one bearer-authenticated request. On 401 it refreshes the
// token (single-flight; concurrent callers queue on the same attempt) and
// replays the request once.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	c.log.Debug("vendor returned 401; refreshing token and replaying")
	if err := c.oauth.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("reauthenticate: %w", err)
	}

	resp, err = c.send(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, HTTPStatusError{Status: resp.StatusCode, Body: string(data)}
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	token, err := c.oauth.Token(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}
