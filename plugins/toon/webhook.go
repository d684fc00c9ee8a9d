package toon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Actions the vendor pushes to the callback URL.
var webhookActions = []string{"Thermostat", "PowerUsage", "GasUsage"}

type webhookRegistration struct {
	ApplicationID     string   `json:"applicationId"`
	CallbackURL       string   `json:"callbackUrl"`
	SubscribedActions []string `json:"subscribedActions"`
}

// RegisterWebhook subscribes the callback URL to state pushes for the
// resolved agreement. Registration shares the fixed-delay retry loop with
// agreement registration; the vendor 500s both in the same way.
func (c *Client) RegisterWebhook(ctx context.Context) error {
	if c.cfg.WebhookCallbackURL == "" {
		return fmt.Errorf("toon: webhook_callback_url is not configured")
	}
	agreement, err := c.ResolveAgreement(ctx)
	if err != nil {
		return err
	}

	payload := webhookRegistration{
		ApplicationID:     c.ApplicationID(),
		CallbackURL:       c.cfg.WebhookCallbackURL,
		SubscribedActions: webhookActions,
	}

	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		err = c.postJSON(ctx, "/"+agreement.AgreementID+"/webhooks", payload, nil)
		if err == nil {
			c.log.WithField("callback", c.cfg.WebhookCallbackURL).Info("webhook registered")
			return nil
		}
		var statusErr HTTPStatusError
		if !errors.As(err, &statusErr) || statusErr.Status != http.StatusInternalServerError {
			return fmt.Errorf("register webhook: %w", err)
		}
		if attempt == c.retryAttempts {
			break
		}
		c.log.WithField("attempt", attempt).Warn("webhook registration failed; retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
	return fmt.Errorf("register webhook: %w", err)
}

// UnregisterWebhook removes this application's subscription; used on unpair
// and shutdown.
func (c *Client) UnregisterWebhook(ctx context.Context) error {
	agreement, err := c.ResolveAgreement(ctx)
	if err != nil {
		return err
	}
	if err := c.deleteJSON(ctx, "/"+agreement.AgreementID+"/webhooks/"+c.ApplicationID()); err != nil {
		return fmt.Errorf("unregister webhook: %w", err)
	}
	c.log.Info("webhook unregistered")
	return nil
}

// debouncer drops pushes already seen inside the window. The vendor resends
// the same envelope to every live subscription, sometimes twice in a burst.
type debouncer struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	seen   map[string]time.Time
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{
		window: window,
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

// duplicate reports whether key was already recorded inside the window and
// records it otherwise.
func (d *debouncer) duplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, at := range d.seen {
		if now.Sub(at) > d.window {
			delete(d.seen, k)
		}
	}
	if at, ok := d.seen[key]; ok && now.Sub(at) <= d.window {
		return true
	}
	d.seen[key] = now
	return false
}

// pushKey identifies one push for dedupe: sender, envelope timestamp, and
// which data blocks the push carries. The vendor stamps pushes for different
// blocks in the same burst with one envelope timestamp, so the timestamp
// alone is not enough.
func pushKey(push webhookPush) string {
	var blocks strings.Builder
	if data := push.UpdateDataSet; data != nil {
		if data.ThermostatInfo != nil {
			blocks.WriteByte('t')
		}
		if data.PowerUsage != nil {
			blocks.WriteByte('p')
		}
		if data.GasUsage != nil {
			blocks.WriteByte('g')
		}
	}
	return fmt.Sprintf("%s/%d/%s", strings.ToLower(push.CommonName), push.Timestamp, blocks.String())
}

// handleWebhook ingests one vendor push: validate the sender, drop
// duplicates inside the debounce window, fold the payload into the mirror,
// and publish whatever changed. Duplicates emit nothing.
func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var push webhookPush
	if err := json.NewDecoder(r.Body).Decode(&push); err != nil {
		webhookRejected.Inc()
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	webhookReceived.Inc()

	if agreement, ok := s.client.CachedAgreement(); ok && push.CommonName != "" &&
		!strings.EqualFold(push.CommonName, agreement.DisplayCommonName) {
		s.log.WithField("common_name", push.CommonName).Debug("ignoring push for foreign display")
		webhookIgnored.Inc()
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if push.UpdateDataSet == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if s.debounce.duplicate(pushKey(push)) {
		webhookDuplicate.Inc()
		w.WriteHeader(http.StatusNoContent)
		return
	}

	updates := s.mirror.Apply(*push.UpdateDataSet)
	s.publishUpdates(updates)
	w.WriteHeader(http.StatusNoContent)
}
