package toon

import (
	"context"
	"math/rand"
	"time"
)

// Run polls the vendor status endpoint until stop is closed. Webhooks carry
// most updates; the poll is the safety net when pushes stop arriving.
func (s *Service) Run(stop <-chan struct{}) {
	interval := s.client.cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	// Jitter the first poll so restarts across a fleet do not align.
	if jitter := interval / 10; jitter > 0 {
		select {
		case <-stop:
			return
		case <-time.After(time.Duration(rand.Int63n(int64(jitter)))):
		}
	}

	s.pollOnce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.pollOnce()
		}
	}
}

func (s *Service) pollOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	status, err := s.client.Status(ctx)
	if err != nil {
		pollFailure.Inc()
		s.log.WithError(err).Warn("status poll failed")
		return
	}
	pollSuccess.Inc()

	updates := s.mirror.Apply(status)
	s.publishUpdates(updates)
}
