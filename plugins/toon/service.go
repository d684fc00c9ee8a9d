package toon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mklaassen/toonbridge/internal/realtime"
)

// Service ties the vendor client, the state mirror, and the realtime surface
// together, and serves the command API and the webhook receiver.
type Service struct {
	client    *Client
	mirror    *Mirror
	publisher realtime.Publisher
	debounce  *debouncer
	log       *logrus.Entry
}

func NewService(client *Client, publisher realtime.Publisher, log *logrus.Entry) *Service {
	if publisher == nil {
		publisher = realtime.NopPublisher{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		client:    client,
		mirror:    NewMirror(),
		publisher: publisher,
		debounce:  newDebouncer(client.cfg.DebounceWindow),
		log:       log.WithField("plugin", "toon"),
	}
}

// Mirror exposes the state mirror for collectors.
func (s *Service) Mirror() *Mirror {
	return s.mirror
}

// RegisterHTTP mounts the command API and the webhook receiver.
func (s *Service) RegisterHTTP(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/toon/webhook", s.handleWebhook)
	mux.HandleFunc("/api/v1/toon/status", s.handleStatus)
	mux.HandleFunc("/api/v1/toon/agreements", s.handleAgreements)
	mux.HandleFunc("/api/v1/toon/temperature", s.handleSetTemperature)
	mux.HandleFunc("/api/v1/toon/state", s.handleSetState)
	mux.HandleFunc("/api/v1/toon/resume", s.handleResume)
	mux.HandleFunc("/api/v1/toon/consumption/", s.handleConsumption)
	mux.HandleFunc("/api/v1/toon/unpair", s.handleUnpair)
}

// handleUnpair tears down the vendor binding: webhook subscription, cached
// agreement, and the state mirror.
func (s *Service) handleUnpair(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.client.cfg.WebhookCallbackURL != "" {
		if err := s.client.UnregisterWebhook(r.Context()); err != nil {
			s.log.WithError(err).Warn("webhook unregistration failed during unpair")
		}
	}
	s.client.ForgetAgreement()
	s.mirror.Reset()
	s.log.Info("unpaired")
	w.WriteHeader(http.StatusNoContent)
}

// handleConsumption serves hourly flow series for gas or electricity. The
// window defaults to the trailing 24 hours.
func (s *Service) handleConsumption(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resource := strings.TrimPrefix(r.URL.Path, "/api/v1/toon/consumption/")
	if resource != "gas" && resource != "electricity" {
		http.NotFound(w, r)
		return
	}

	to := time.Now()
	from := to.Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "bad from timestamp", http.StatusBadRequest)
			return
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "bad to timestamp", http.StatusBadRequest)
			return
		}
		to = parsed
	}

	samples, err := s.client.ConsumptionFlows(r.Context(), resource, from, to)
	if err != nil {
		s.commandError(w, "consumption flows", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, samples)
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, s.mirror.Snapshot())
}

func (s *Service) handleAgreements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	agreements, err := s.client.Agreements(r.Context())
	if err != nil {
		s.log.WithError(err).Error("list agreements failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSONResponse(w, http.StatusOK, agreements)
}

type setTemperatureRequest struct {
	Celsius *float64 `json:"celsius"`
}

func (s *Service) handleSetTemperature(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req setTemperatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	if req.Celsius == nil {
		http.Error(w, ErrMissingSetpoint.Error(), http.StatusBadRequest)
		return
	}

	if err := s.client.SetTemperature(r.Context(), *req.Celsius); err != nil {
		s.commandError(w, "set temperature", err)
		return
	}
	s.refreshMirror(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

type setStateRequest struct {
	State string `json:"state"`
}

func (s *Service) handleSetState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req setStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	state, err := ParseActiveState(req.State)
	if err != nil || state == StateNone {
		http.Error(w, "unknown state", http.StatusBadRequest)
		return
	}

	if err := s.client.SetState(r.Context(), state); err != nil {
		s.commandError(w, "set state", err)
		return
	}
	s.refreshMirror(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.client.ResumeProgram(r.Context()); err != nil {
		s.commandError(w, "resume program", err)
		return
	}
	s.refreshMirror(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) commandError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrMissingSetpoint), errors.Is(err, ErrSetpointOutOfRange):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNoAgreement), errors.Is(err, ErrAgreementNotFound), errors.Is(err, ErrAgreementAmbiguous):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.log.WithError(err).Errorf("%s failed", op)
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

// refreshMirror folds the post-command thermostat block back into the mirror
// so the command's effect is visible without waiting for the next poll.
func (s *Service) refreshMirror(ctx context.Context) {
	info, err := s.client.Thermostat(ctx)
	if err != nil {
		s.log.WithError(err).Debug("post-command refresh failed")
		return
	}
	updates := s.mirror.Apply(Status{ThermostatInfo: &info})
	s.publishUpdates(updates)
}

func (s *Service) publishUpdates(updates []CapabilityUpdate) {
	if len(updates) == 0 {
		return
	}
	device := "display"
	if agreement, ok := s.client.CachedAgreement(); ok && agreement.DisplayCommonName != "" {
		device = agreement.DisplayCommonName
	}
	for _, update := range updates {
		if err := s.publisher.PublishCapability("toon", device, update.Capability, update.Value); err != nil {
			s.log.WithError(err).WithField("capability", update.Capability).Warn("publish failed")
		}
	}
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.WithError(err).Debug("encode response failed")
	}
}
